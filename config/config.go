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

// Package config holds the dual running/candidate configuration trees,
// their commit/discard/save/load lifecycle and the line-oriented diff
// between them, plus the typed snapshot (BgpConfigSet) the BGP
// subsystem consumes after each commit.
package config

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Global is the bgp global { } container: local ASN and router-id.
type Global struct {
	AS       uint32 `mapstructure:"as" yaml:"as"`
	RouterID string `mapstructure:"router-id" yaml:"router-id"`
}

// Neighbor is one configured BGP peer.
type Neighbor struct {
	Address  string `mapstructure:"address" yaml:"address"`
	PeerAS   uint32 `mapstructure:"peer-as" yaml:"peer-as"`
	Passive  bool   `mapstructure:"passive" yaml:"passive"`
	Shutdown bool   `mapstructure:"shutdown" yaml:"shutdown"`
}

// Bgp is the whole configuration tree rooted at the bgp instance.
type Bgp struct {
	Global    Global     `mapstructure:"global" yaml:"global"`
	Neighbors []Neighbor `mapstructure:"neighbors" yaml:"neighbors"`
}

// RoutingPolicy is reserved for the prefix-list/route-map tree; no
// policy evaluation is implemented (Non-goal), but the snapshot still
// carries the section so bootstrap files round-trip unmodified.
type RoutingPolicy struct {
	DefinedSets map[string][]string `mapstructure:"defined-sets" yaml:"defined-sets"`
}

// BgpConfigSet is one complete, self-consistent configuration
// snapshot, the unit pushed to the BGP subsystem after commit and the
// unit WatchEtcd decodes from a cluster write.
type BgpConfigSet struct {
	Bgp    Bgp
	Policy RoutingPolicy
}

// Lines renders a BgpConfigSet as the configure-command lines that
// would reproduce it, sorted stably. Snapshots arriving from etcd or a
// bootstrap file are replayed through these lines so every config
// source flows through the same parser path.
func (c BgpConfigSet) Lines() []string {
	var lines []string
	if c.Bgp.Global.AS != 0 {
		lines = append(lines, fmt.Sprintf("bgp global as %d", c.Bgp.Global.AS))
	}
	if c.Bgp.Global.RouterID != "" {
		lines = append(lines, fmt.Sprintf("bgp global router-id %s", c.Bgp.Global.RouterID))
	}
	neighbors := append([]Neighbor(nil), c.Bgp.Neighbors...)
	sort.Slice(neighbors, func(i, j int) bool { return neighbors[i].Address < neighbors[j].Address })
	for _, n := range neighbors {
		if n.PeerAS != 0 {
			lines = append(lines, fmt.Sprintf("bgp neighbor %s peer-as %d", n.Address, n.PeerAS))
		}
		if n.Passive {
			lines = append(lines, fmt.Sprintf("bgp neighbor %s passive", n.Address))
		}
		if n.Shutdown {
			lines = append(lines, fmt.Sprintf("bgp neighbor %s shutdown", n.Address))
		}
	}
	return lines
}

// FromTree materializes the typed snapshot out of a committed
// configuration tree; unknown subtrees are ignored rather than
// rejected so the BGP materialization keeps working as the schema
// grows.
func FromTree(root *Node) BgpConfigSet {
	var set BgpConfigSet
	bgp := root.Lookup("bgp")
	if bgp == nil {
		return set
	}
	if global := bgp.Lookup("global"); global != nil {
		if as := firstChild(global.Lookup("as")); as != "" {
			if v, err := strconv.ParseUint(as, 10, 32); err == nil {
				set.Bgp.Global.AS = uint32(v)
			}
		}
		set.Bgp.Global.RouterID = firstChild(global.Lookup("router-id"))
	}
	if list := bgp.Lookup("neighbor"); list != nil {
		for _, entry := range list.Children {
			n := Neighbor{Address: entry.Name}
			if pa := firstChild(entry.Lookup("peer-as")); pa != "" {
				if v, err := strconv.ParseUint(pa, 10, 32); err == nil {
					n.PeerAS = uint32(v)
				}
			}
			n.Passive = entry.Lookup("passive") != nil
			n.Shutdown = entry.Lookup("shutdown") != nil
			set.Bgp.Neighbors = append(set.Bgp.Neighbors, n)
		}
	}
	return set
}

func firstChild(n *Node) string {
	if n == nil || len(n.Children) == 0 {
		return ""
	}
	return n.Children[0].Name
}

// DecodeFile reads a structured bootstrap configuration (the YAML/TOML
// formats viper understands) into a snapshot, the startup-time
// counterpart of the etcd watch path.
func DecodeFile(path string) (BgpConfigSet, error) {
	v := viper.New()
	v.SetConfigFile(path)
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" {
		ext = "yaml"
	}
	v.SetConfigType(ext)
	if err := v.ReadInConfig(); err != nil {
		return BgpConfigSet{}, err
	}
	var set BgpConfigSet
	if err := v.Unmarshal(&set); err != nil {
		return BgpConfigSet{}, err
	}
	return set, nil
}
