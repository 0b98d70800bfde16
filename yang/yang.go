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

// Package yang is the hand-built schema model the command parser walks:
// a tree of Entry nodes (directories, keyed lists and leaves), each
// leaf typed by a YangType. A generic .yang file loader is an
// out-of-scope collaborator; the exec/configure trees this daemon
// needs are built directly in Go.
package yang

// YangType is the leaf value kind a TypeNode constrains.
type YangType int

const (
	TypeNone YangType = iota
	TypeString
	TypeBoolean
	TypeInt8
	TypeInt16
	TypeInt32
	TypeInt64
	TypeUint8
	TypeUint16
	TypeUint32
	TypeUint64
	TypeEnumeration
	TypeIpv4Addr
	TypeIpv4Prefix
	TypeIpv6Addr
	TypeIpv6Prefix
)

// Typedef names the small set of inet:* aliases spec §4.4 item 3
// requires to override a leaf's declared base kind.
type Typedef string

const (
	TypedefNone          Typedef = ""
	TypedefInetIpv4Addr   Typedef = "inet:ipv4-address"
	TypedefInetIpv4Prefix Typedef = "inet:ipv4-prefix"
	TypedefInetIpv6Addr   Typedef = "inet:ipv6-address"
	TypedefInetIpv6Prefix Typedef = "inet:ipv6-prefix"
)

func (td Typedef) resolvedKind() (YangType, bool) {
	switch td {
	case TypedefInetIpv4Addr:
		return TypeIpv4Addr, true
	case TypedefInetIpv4Prefix:
		return TypeIpv4Prefix, true
	case TypedefInetIpv6Addr:
		return TypeIpv6Addr, true
	case TypedefInetIpv6Prefix:
		return TypeIpv6Prefix, true
	}
	return TypeNone, false
}

// TypeNode constrains a leaf Entry's acceptable values: an optional
// regexp pattern, an optional [Min,Max] range, or an enumeration's
// member names. Typedef, when set, overrides Kind (spec §4.4 item 3).
type TypeNode struct {
	Kind     YangType
	Typedef  Typedef
	Pattern  string
	Min      int64
	Max      int64
	HasRange bool
	Enum     []string
}

// ResolvedKind returns the effective YangType after applying any
// typedef override.
func (n *TypeNode) ResolvedKind() YangType {
	if n == nil {
		return TypeNone
	}
	if k, ok := n.Typedef.resolvedKind(); ok {
		return k
	}
	return n.Kind
}

// EntryKind distinguishes the four shapes a schema node takes: a
// directory of further commands, a keyed list entry (e.g. one
// neighbor), a terminal leaf, or a leaf-list whose value may repeat.
type EntryKind int

const (
	EntryDir EntryKind = iota
	EntryKey
	EntryLeaf
	EntryLeafList
)

// Entry is one schema node. Dir holds subcommands for EntryDir/EntryKey
// nodes; Key names the ordered list of key leaves for EntryKey nodes
// (e.g. a neighbor list keyed by address); Type constrains EntryLeaf
// nodes. Presence marks a container that is itself a valid, complete
// command with no further mandatory children (e.g. "summary" under
// "show bgp"). EmptyLeaf marks a leaf that takes no value token
// (spec §4.4 item 5's fixups).
type Entry struct {
	Name      string
	Kind      EntryKind
	Help      string
	Dir       []*Entry
	Key       []string
	Type      *TypeNode
	Presence  bool
	EmptyLeaf bool
}

func NewDir(name, help string, children ...*Entry) *Entry {
	return &Entry{Name: name, Kind: EntryDir, Help: help, Dir: children}
}

func NewKeyedList(name, help string, key []string, children ...*Entry) *Entry {
	return &Entry{Name: name, Kind: EntryKey, Help: help, Key: key, Dir: children}
}

func NewLeaf(name, help string, t *TypeNode) *Entry {
	return &Entry{Name: name, Kind: EntryLeaf, Help: help, Type: t}
}

// NewEmptyLeaf declares a value-less leaf, e.g. a "shutdown" toggle
// that is complete the moment its keyword matches.
func NewEmptyLeaf(name, help string) *Entry {
	return &Entry{Name: name, Kind: EntryLeaf, Help: help, EmptyLeaf: true}
}

// NewPresenceDir declares a container that is a complete command on
// its own once matched, with no mandatory children below it.
func NewPresenceDir(name, help string, children ...*Entry) *Entry {
	return &Entry{Name: name, Kind: EntryDir, Help: help, Dir: children, Presence: true}
}

// NewLeafList declares a leaf whose value may repeat (e.g. a list of
// community values), matched the same way a leaf is but tagged
// EntryLeafList so the parser enters YMLeafList instead of YMLeaf.
func NewLeafList(name, help string, t *TypeNode) *Entry {
	return &Entry{Name: name, Kind: EntryLeafList, Help: help, Type: t}
}

func StringType(pattern string) *TypeNode {
	return &TypeNode{Kind: TypeString, Pattern: pattern}
}

func BooleanType() *TypeNode { return &TypeNode{Kind: TypeBoolean} }

func RangeType(kind YangType, min, max int64) *TypeNode {
	return &TypeNode{Kind: kind, Min: min, Max: max, HasRange: true}
}

func EnumType(values ...string) *TypeNode {
	return &TypeNode{Kind: TypeEnumeration, Enum: values}
}

func Ipv4AddrType() *TypeNode   { return &TypeNode{Kind: TypeIpv4Addr} }
func Ipv4PrefixType() *TypeNode { return &TypeNode{Kind: TypeIpv4Prefix} }
func Ipv6AddrType() *TypeNode   { return &TypeNode{Kind: TypeIpv6Addr} }
func Ipv6PrefixType() *TypeNode { return &TypeNode{Kind: TypeIpv6Prefix} }

// TypedefType declares a leaf by typedef alias alone (spec §4.4 item
// 3): the base Kind is whatever the typedef resolves to, recorded
// here too so a node with an unrecognized typedef still falls back
// sanely.
func TypedefType(td Typedef) *TypeNode {
	n := &TypeNode{Typedef: td}
	n.Kind = n.ResolvedKind()
	return n
}

// Child looks up an immediate child by name.
func (e *Entry) Child(name string) *Entry {
	for _, c := range e.Dir {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// KeyEntry returns the schema entry for the key at position index
// (e.g. index 0 of a neighbor list is its "address" leaf).
func (e *Entry) KeyEntry(index int) *Entry {
	if index >= len(e.Key) {
		return nil
	}
	return e.Child(e.Key[index])
}

// NonKeyChildren returns the children that are not part of e's key,
// i.e. the leaves available once a keyed list entry is selected.
func (e *Entry) NonKeyChildren() []*Entry {
	var out []*Entry
	for _, c := range e.Dir {
		if !isKey(c.Name, e.Key) {
			out = append(out, c)
		}
	}
	return out
}

func isKey(name string, keys []string) bool {
	for _, k := range keys {
		if k == name {
			return true
		}
	}
	return false
}
