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
	"os"
	"path/filepath"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// diffContextRadius is large enough that a full-tree diff always
// renders as one hunk instead of being split around a small window.
const diffContextRadius = 65535

// Store holds the running configuration tree (what the daemon is
// actually doing) and the candidate tree (what "configure" mode is
// editing). Commit deep-copies candidate onto running and returns the
// unified diff that was just applied; Discard resets candidate back
// to a deep copy of running.
type Store struct {
	Running   *Node
	Candidate *Node
}

func NewStore() *Store {
	return &Store{Running: NewRoot(), Candidate: NewRoot()}
}

// Diff renders the unified diff between running and candidate without
// committing anything; Commit uses it to produce the applied diff.
func (s *Store) Diff() (string, error) {
	return unifiedDiff(s.Running.Lines(), s.Candidate.Lines())
}

// Commit promotes candidate to running and returns the diff that was
// just applied (empty string, nil error if nothing changed). Running
// becomes a deep-copy snapshot of candidate at commit time, so later
// candidate edits never alias into running.
func (s *Store) Commit() (string, error) {
	d, err := s.Diff()
	if err != nil {
		return "", err
	}
	s.Running = s.Candidate.Copy()
	return d, nil
}

// Discard drops candidate edits, resetting it to a deep copy of
// running.
func (s *Store) Discard() {
	s.Candidate = s.Running.Copy()
}

func unifiedDiff(a, b []string) (string, error) {
	ud := difflib.UnifiedDiff{
		A:        a,
		B:        b,
		FromFile: "running",
		ToFile:   "candidate",
		Context:  diffContextRadius,
	}
	return difflib.GetUnifiedDiffString(ud)
}

// DiffLines strips diff bookkeeping down to the line-per-command form
// subscribers consume: hunk headers and file headers are dropped and
// the leading +/-/space marker is removed from each remaining line.
func DiffLines(diff string) []string {
	var out []string
	for _, line := range strings.Split(diff, "\n") {
		if line == "" ||
			strings.HasPrefix(line, "---") ||
			strings.HasPrefix(line, "+++") ||
			strings.HasPrefix(line, "@@") {
			continue
		}
		out = append(out, line[1:])
	}
	return out
}

// DefaultConfigPath is where Save/Load persist the running
// configuration, matching the original implementation's on-disk
// layout.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".zebra", "etc", "zebra.conf")
}

// DefaultYangPath is where the YANG schema files live on disk. The
// schema loader itself is an external collaborator; this daemon only
// needs the location for its startup flags.
func DefaultYangPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".zebra", "yang")
}

// Save writes the running tree to path (DefaultConfigPath if empty)
// as the same one-command-per-line text the commit diff is made of,
// so a saved file replays through the configure-mode parser on load.
func (s *Store) Save(path string) error {
	if path == "" {
		path = DefaultConfigPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(s.Running.String()), 0o644)
}

// ReadLines reads a persisted configuration back as its command
// lines; the ConfigManager replays each through the configure-mode
// parser and commits (spec §4.3 load).
func ReadLines(path string) ([]string, error) {
	if path == "" {
		path = DefaultConfigPath()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines, nil
}
