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
	"net"

	log "github.com/sirupsen/logrus"

	"github.com/zebra-rs/bgpd/parser"
)

// Subscriber receives one diff line at a time after a commit, with
// the leading +/-/space marker already stripped, the shape the
// BgpInstance mailbox consumes (spec §2: CLI -> ConfigManager -> diff
// lines -> BgpInstance).
type Subscriber func(line string)

// SnapshotSubscriber receives the full typed snapshot of the running
// tree after each commit. The diff lines tell a consumer what just
// changed; the snapshot tells it what the world now is, which is what
// peer reconciliation actually wants.
type SnapshotSubscriber func(set BgpConfigSet)

// commandKind is the ConfigManager mailbox's own small command set;
// it mirrors the CLI's configure-mode verbs directly so CommandService
// can post to it without knowing about Store internals.
type commandKind int

const (
	cmdCommit commandKind = iota
	cmdDiscard
	cmdSave
	cmdLoad
	cmdSnapshot
	cmdExecute
)

type command struct {
	kind     commandKind
	path     string // Save/Load file path
	snapshot BgpConfigSet
	execute  func(*Store)
	result   chan error
}

// ConfigManager is the single-writer owner of Store; every mutation
// goes through its mailbox so concurrent CLI sessions never race on
// the candidate tree.
type ConfigManager struct {
	store        *Store
	mailbox      chan command
	subscribers  []Subscriber
	snapshotSubs []SnapshotSubscriber
	showFuncs    map[string]ShowFunc
	links        []string
	quit         chan struct{}
}

func NewConfigManager() *ConfigManager {
	return &ConfigManager{
		store:   NewStore(),
		mailbox: make(chan command, 256),
		links:   localLinks(),
		quit:    make(chan struct{}),
	}
}

// localLinks seeds the parser's completion set for the reserved leaf
// name "interface" from the host's actual devices.
func localLinks() []string {
	ifs, err := net.Interfaces()
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(ifs))
	for _, ifc := range ifs {
		names = append(names, ifc.Name)
	}
	return names
}

// Subscribe registers a callback invoked with each line of a commit
// diff, in order. Must be called before Run starts.
func (m *ConfigManager) Subscribe(s Subscriber) {
	m.subscribers = append(m.subscribers, s)
}

// SubscribeSnapshot registers a callback invoked with the materialized
// running snapshot after each commit. Must be called before Run
// starts.
func (m *ConfigManager) SubscribeSnapshot(s SnapshotSubscriber) {
	m.snapshotSubs = append(m.snapshotSubs, s)
}

func (m *ConfigManager) Run() {
	for {
		select {
		case cmd := <-m.mailbox:
			cmd.result <- m.apply(cmd)
		case <-m.quit:
			return
		}
	}
}

func (m *ConfigManager) Stop() { close(m.quit) }

func (m *ConfigManager) apply(cmd command) error {
	switch cmd.kind {
	case cmdExecute:
		cmd.execute(m.store)
		return nil
	case cmdCommit:
		return m.commit()
	case cmdDiscard:
		m.store.Discard()
		return nil
	case cmdSave:
		return m.store.Save(cmd.path)
	case cmdLoad:
		return m.load(cmd.path)
	case cmdSnapshot:
		return m.applySnapshot(cmd.snapshot)
	}
	return nil
}

// commit promotes candidate to running, then fans the change out: the
// marker-stripped diff lines to line subscribers, the whole new
// running snapshot to snapshot subscribers.
func (m *ConfigManager) commit() error {
	diff, err := m.store.Commit()
	if err != nil {
		return err
	}
	if diff != "" {
		for _, line := range DiffLines(diff) {
			for _, sub := range m.subscribers {
				sub(line)
			}
		}
	}
	set := FromTree(m.store.Running)
	for _, sub := range m.snapshotSubs {
		sub(set)
	}
	return nil
}

// load reads the persisted text and replays each line through the
// configure-mode parser against the candidate tree, then commits
// (spec §4.3 load); save(load(C)) is the identity on well-formed C.
func (m *ConfigManager) load(path string) error {
	lines, err := ReadLines(path)
	if err != nil {
		return err
	}
	m.store.Candidate = NewRoot()
	for _, line := range lines {
		if err := m.runLine(line); err != nil {
			return err
		}
	}
	return m.commit()
}

// applySnapshot rebuilds the candidate tree from a full snapshot (an
// etcd write or a bootstrap file) and commits it, so push-based config
// sources flow through the same parser and diff path the CLI uses.
func (m *ConfigManager) applySnapshot(set BgpConfigSet) error {
	m.store.Candidate = NewRoot()
	for _, line := range set.Lines() {
		if err := m.runLine(line); err != nil {
			return err
		}
	}
	return m.commit()
}

func (m *ConfigManager) runLine(line string) error {
	result, err := runExecute(m.store, ModeConfigure, "set "+line, m.showFuncs, m.links)
	if err != nil {
		return err
	}
	if result.Code != parser.ExecShow {
		log.WithFields(log.Fields{
			"Topic": "Config",
			"line":  line,
			"code":  result.Code.String(),
		}).Warn("config line rejected")
	}
	return nil
}

func (m *ConfigManager) do(cmd command) error {
	cmd.result = make(chan error, 1)
	m.mailbox <- cmd
	return <-cmd.result
}

func (m *ConfigManager) Commit() error          { return m.do(command{kind: cmdCommit}) }
func (m *ConfigManager) Discard() error         { return m.do(command{kind: cmdDiscard}) }
func (m *ConfigManager) Save(path string) error { return m.do(command{kind: cmdSave, path: path}) }
func (m *ConfigManager) Load(path string) error { return m.do(command{kind: cmdLoad, path: path}) }

// ApplySnapshot replaces the candidate with the given snapshot and
// commits, from any goroutine.
func (m *ConfigManager) ApplySnapshot(set BgpConfigSet) error {
	return m.do(command{kind: cmdSnapshot, snapshot: set})
}
