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
	"strings"

	"github.com/zebra-rs/bgpd/parser"
)

// Node is one node of a configuration tree: a name, an optional key
// (the schema leaf a list-entry value was matched by, e.g. "address"
// on a neighbor's "2.2.2.2" node), and ordered children. Two trees
// exist per Store, running and candidate; editing always targets
// candidate.
type Node struct {
	Name     string
	Key      string
	Children []*Node
}

// Seg is one path element of a Set/Delete walk, derived from a parsed
// CommandPath: the canonical node name, the key leaf it satisfied
// (empty for plain directories), and whether the value may repeat
// (keyed-list entries and leaf-list values accumulate; a plain leaf
// value replaces its predecessor).
type Seg struct {
	Name  string
	Key   string
	Multi bool
}

func NewRoot() *Node {
	return &Node{}
}

// Copy deep-copies the subtree, the snapshot primitive behind commit
// and discard.
func (n *Node) Copy() *Node {
	if n == nil {
		return nil
	}
	c := &Node{Name: n.Name, Key: n.Key}
	for _, child := range n.Children {
		c.Children = append(c.Children, child.Copy())
	}
	return c
}

func (n *Node) child(name string) *Node {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Set walks the tree creating missing children along path, so that
// after the call the full path exists. Setting a new value under a
// single-valued leaf replaces the old value node (e.g. "bgp global as
// 65002" over an existing 65001); Multi segments accumulate instead.
func (n *Node) Set(path []Seg) {
	cur := n
	for _, seg := range path {
		next := cur.child(seg.Name)
		if next == nil {
			// A value node lands under the leaf node named after its
			// key; replacing applies there only, never to the leaves
			// that happen to share a list entry.
			if seg.Key == cur.Name && seg.Key != "" && !seg.Multi {
				cur.Children = nil
			}
			next = &Node{Name: seg.Name, Key: seg.Key}
			cur.Children = append(cur.Children, next)
		}
		cur = next
	}
}

// Delete resolves path and removes the subtree at its end. Ancestors
// left with no children are pruned too, so deleting the sole key match
// of a list entry removes the entry itself (spec §4.3 delete).
func (n *Node) Delete(path []Seg) bool {
	if len(path) == 0 {
		return false
	}
	trail := make([]*Node, 0, len(path))
	cur := n
	for _, seg := range path {
		next := cur.child(seg.Name)
		if next == nil {
			return false
		}
		trail = append(trail, cur)
		cur = next
	}
	name := path[len(path)-1].Name
	for i := len(trail) - 1; i >= 0; i-- {
		trail[i].remove(name)
		if len(trail[i].Children) > 0 || i == 0 {
			break
		}
		name = path[i-1].Name
	}
	return true
}

func (n *Node) remove(name string) {
	for i, c := range n.Children {
		if c.Name == name {
			n.Children = append(n.Children[:i], n.Children[i+1:]...)
			return
		}
	}
}

// Lookup descends by names, nil if the path does not resolve.
func (n *Node) Lookup(names ...string) *Node {
	cur := n
	for _, name := range names {
		cur = cur.child(name)
		if cur == nil {
			return nil
		}
	}
	return cur
}

// Lines renders the tree as one full-path command per line, the
// line-oriented form the commit diff and the persisted config file
// share: every leaf (and every childless presence node) becomes one
// space-joined line from the root.
func (n *Node) Lines() []string {
	var lines []string
	var walk func(node *Node, prefix []string)
	walk = func(node *Node, prefix []string) {
		path := prefix
		if node.Name != "" {
			path = append(append([]string(nil), prefix...), node.Name)
		}
		if len(node.Children) == 0 {
			if len(path) > 0 {
				lines = append(lines, strings.Join(path, " "))
			}
			return
		}
		for _, c := range node.Children {
			walk(c, path)
		}
	}
	walk(n, nil)
	return lines
}

// String formats the whole tree as the persisted text: one command
// per line, newline-terminated.
func (n *Node) String() string {
	lines := n.Lines()
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

// ConfigChildren and ConfigChild implement parser.ConfigRef so the
// command parser can walk the candidate tree while matching a
// set/delete line (spec §4.4 step 1).
func (n *Node) ConfigChildren() []string {
	names := make([]string, 0, len(n.Children))
	for _, c := range n.Children {
		names = append(names, c.Name)
	}
	return names
}

func (n *Node) ConfigChild(name string) parser.ConfigRef {
	c := n.child(name)
	if c == nil {
		return nil
	}
	return c
}

// Equal reports deep equality of two subtrees, used by tests for the
// commit/discard and save/load round-trip properties.
func (n *Node) Equal(o *Node) bool {
	if n == nil || o == nil {
		return n == o
	}
	if n.Name != o.Name || n.Key != o.Key || len(n.Children) != len(o.Children) {
		return false
	}
	for i := range n.Children {
		if !n.Children[i].Equal(o.Children[i]) {
			return false
		}
	}
	return true
}
