// Copyright (C) 2014 Nippon Telegraph and Telephone Corporation.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"strings"

	"github.com/zebra-rs/bgpd/parser"
	"github.com/zebra-rs/bgpd/yang"
)

// Mode names the two parser entry points spec §4.4 lists: "exec" for
// show commands, "configure" for set/delete candidate-tree edits.
// Each owns its own schema root and function map.
type Mode string

const (
	ModeExec      Mode = "exec"
	ModeConfigure Mode = "configure"
)

// ShowFunc renders the output lines for one resolved exec-mode
// command (e.g. "show bgp summary"); registered by whatever owns the
// live state the command reports on (the BGP instance), since the
// config package itself only owns configuration.
type ShowFunc func(paths []parser.CommandPath) []string

// ExecResult is one completed Execute call: the terminal code, any
// output/completion lines, the completion entries behind them (for
// RPC-layer marker rendering) and the resolved paths (for RedirectShow
// handoff).
type ExecResult struct {
	Code        parser.ExecCode
	Lines       []string
	Completions []parser.Completion
	Paths       []parser.CommandPath
}

// Execute parses line against mode's schema root and, on success,
// either mutates the candidate tree (set/delete) or invokes the
// matching registered show function. The work runs on ConfigManager's
// own goroutine (spec §5: the configuration trees are owned
// exclusively by ConfigManager), so callers from other goroutines
// (CommandService) go through the mailbox.
func (m *ConfigManager) Execute(mode Mode, line string) (ExecResult, error) {
	return m.run(mode, line, true)
}

// Complete parses line exactly the way Execute does but never runs
// the command, the entry point behind the CLI's tab-completion
// request types.
func (m *ConfigManager) Complete(mode Mode, line string) (ExecResult, error) {
	return m.run(mode, line, false)
}

func (m *ConfigManager) run(mode Mode, line string, apply bool) (ExecResult, error) {
	resultCh := make(chan ExecResult, 1)
	errCh := make(chan error, 1)
	done := make(chan error, 1)
	m.mailbox <- command{
		kind: cmdExecute,
		execute: func(store *Store) {
			var r ExecResult
			var err error
			if apply {
				r, err = runExecute(store, mode, line, m.showFuncs, m.links)
			} else {
				r, err = runParse(store, mode, line, m.links)
			}
			resultCh <- r
			errCh <- err
		},
		result: done,
	}
	<-done
	return <-resultCh, <-errCh
}

// RegisterShowFunc binds dottedPath (the "."-joined keyword trail of
// a command, e.g. "bgp.summary") to fn. Show commands reach their
// function through the Show service's RedirectShow lookup
// (ShowFuncFor); non-show exec verbs are invoked directly by Execute.
// Must be called before the path can be requested.
func (m *ConfigManager) RegisterShowFunc(dottedPath string, fn ShowFunc) {
	if m.showFuncs == nil {
		m.showFuncs = make(map[string]ShowFunc)
	}
	m.showFuncs[dottedPath] = fn
}

// ShowFuncFor resolves a registered show function by its dotted path,
// the lookup the Show RPC uses after a RedirectShow handoff.
func (m *ConfigManager) ShowFuncFor(dottedPath string) ShowFunc {
	return m.showFuncs[dottedPath]
}

func modeRoot(mode Mode) (*yang.Entry, error) {
	switch mode {
	case ModeExec:
		return yang.ExecTree(), nil
	case ModeConfigure:
		return yang.ConfigureTree(), nil
	}
	return nil, fmt.Errorf("config: unknown mode %q", mode)
}

func runParse(store *Store, mode Mode, line string, links []string) (ExecResult, error) {
	root, err := modeRoot(mode)
	if err != nil {
		return ExecResult{}, err
	}
	code, comps, state := parser.Parse(line, root, parser.State{Config: store.Candidate, Links: links})
	return ExecResult{Code: code, Lines: comps, Completions: state.LastCompletions, Paths: state.Paths}, nil
}

func runExecute(store *Store, mode Mode, line string, showFuncs map[string]ShowFunc, links []string) (ExecResult, error) {
	root, err := modeRoot(mode)
	if err != nil {
		return ExecResult{}, err
	}

	code, comps, state := parser.Parse(line, root, parser.State{Config: store.Candidate, Links: links})

	switch code {
	case parser.ExecNomatch, parser.ExecAmbiguous, parser.ExecIncomplete:
		return ExecResult{Code: code, Lines: comps, Completions: state.LastCompletions, Paths: state.Paths}, nil
	}

	// code == ExecSuccess from here.
	switch {
	case state.Set:
		store.Candidate.Set(segsFromPaths(state.Paths))
		return ExecResult{Code: parser.ExecShow, Paths: state.Paths}, nil
	case state.Delete:
		if !store.Candidate.Delete(segsFromPaths(state.Paths)) {
			return ExecResult{Code: parser.ExecNomatch, Paths: state.Paths}, nil
		}
		return ExecResult{Code: parser.ExecShow, Paths: state.Paths}, nil
	case state.Show:
		// Every show command beyond the bare verb hands off to the
		// streaming Show service. The verb is itself a path element, so
		// "show bgp" already qualifies; a successful parse of a bare
		// "show" cannot happen in this schema, but the gate mirrors the
		// ">= 2 path elements" rule all the same.
		if len(state.Paths) > 1 {
			return ExecResult{Code: parser.ExecRedirectShow, Lines: []string{dottedKeyPath(state.Paths)}, Paths: state.Paths}, nil
		}
		return ExecResult{Code: code, Lines: comps, Paths: state.Paths}, nil
	}
	// Non-show exec verbs resolve through the mode's function map.
	if fn := showFuncs[dottedKeyPath(state.Paths)]; fn != nil {
		return ExecResult{Code: parser.ExecShow, Lines: fn(state.Paths), Paths: state.Paths}, nil
	}
	return ExecResult{Code: code, Lines: comps, Paths: state.Paths}, nil
}

// segsFromPaths turns a resolved CommandPath trail into the tree path
// a set/delete mutates: the leading verb is dropped, every other
// element contributes its canonical name, and keyed-list entries and
// leaf-list values are marked Multi so Set appends instead of
// replacing.
func segsFromPaths(paths []parser.CommandPath) []Seg {
	var segs []Seg
	for i, p := range paths {
		if i == 0 && (p.Name == "set" || p.Name == "delete") {
			continue
		}
		segs = append(segs, Seg{
			Name:  p.Name,
			Key:   p.Key,
			Multi: p.Match == parser.YMKeyMatched || p.Match == parser.YMLeafListMatched,
		})
	}
	return segs
}

// dottedKeyPath joins the keyword segments of a resolved CommandPath
// trail into the function-map lookup key ("show bgp summary" ->
// "bgp.summary"). Typed values (a neighbor address, an ASN) are
// arguments, not part of the key; they are recognizable because their
// Name is the literal token while Key names the schema leaf that
// matched it.
func dottedKeyPath(paths []parser.CommandPath) string {
	var parts []string
	for _, p := range paths {
		switch p.Name {
		case "set", "delete", "show":
			continue
		}
		if p.Key == "" || p.Key == p.Name {
			parts = append(parts, p.Name)
		}
	}
	return strings.Join(parts, ".")
}

