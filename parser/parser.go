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

// Package parser walks a yang.Entry schema tree against one input
// line, token by token, producing either a completion set or a fully
// resolved CommandPath list for exec/set/delete dispatch. When a
// candidate-config subtree is attached to the State, the same walk
// simultaneously matches each token against the existing configuration
// so delete only accepts paths that exist and completion can offer
// configured values.
package parser

import (
	"net"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/zebra-rs/bgpd/yang"
)

// MatchType ranks how well one input token matched a candidate, worst
// to best; Match.process records the winner and tie count at the best
// rank seen so far, while every non-None candidate is still listed as
// a completion.
type MatchType int

const (
	MatchNone MatchType = iota
	MatchIncomplete
	MatchPartial
	MatchExact
)

// YangMatch is the parser's position within one schema node: first
// look for a keyword/value match against it (Dir/Key/Leaf/LeafList),
// then record that it matched (the *Matched variants) before moving
// on to its children on the next input token.
type YangMatch int

const (
	YMDir YangMatch = iota
	YMDirMatched
	YMKey
	YMKeyMatched
	YMLeaf
	YMLeafMatched
	YMLeafList
	YMLeafListMatched
)

func ymatchComplete(y YangMatch) bool {
	switch y {
	case YMDirMatched, YMKeyMatched, YMLeafMatched, YMLeafListMatched:
		return true
	}
	return false
}

// ExecCode is the outcome of one Parse call, matching the CLI's
// execution result codes.
type ExecCode int

const (
	ExecSuccess ExecCode = iota
	ExecIncomplete
	ExecNomatch
	ExecAmbiguous
	// ExecShow and ExecRedirectShow are not produced by Parse itself;
	// the exec runner promotes an ExecSuccess result to one of these
	// once it knows whether the parsed line was set/delete (Show, no
	// further action) or a show command with >=2 path elements
	// (RedirectShow, hand off to the show pipeline) per spec §4.4
	// item 8.
	ExecShow
	ExecRedirectShow
)

func (c ExecCode) String() string {
	switch c {
	case ExecSuccess:
		return "Success"
	case ExecIncomplete:
		return "Incomplete"
	case ExecNomatch:
		return "Nomatch"
	case ExecAmbiguous:
		return "Ambiguous"
	case ExecShow:
		return "Show"
	case ExecRedirectShow:
		return "RedirectShow"
	}
	return "Unknown"
}

// CommandPath is one resolved (or resolving) segment of the input,
// emitted in order as State.Paths; Exec/RPC handlers walk these to
// build the final command.
type CommandPath struct {
	Name  string
	Match YangMatch
	Key   string
}

// ConfigRef is the read-only view of one candidate-configuration node
// the parser descends while set/delete is active. The config package
// implements it on its tree nodes; the parser itself never mutates
// configuration.
type ConfigRef interface {
	// ConfigChildren lists the child node names in tree order.
	ConfigChildren() []string
	// ConfigChild descends into the named child, nil if absent.
	ConfigChild(name string) ConfigRef
}

// State threads the parser's position through the recursive descent:
// which yang match phase it is in, which key index within a keyed
// list, the set/delete/show mode flags the CLI keywords toggle, and
// the CommandPath trail built up so far.
type State struct {
	Ymatch YangMatch
	Index  int
	Set    bool
	Delete bool
	Show   bool
	Paths  []CommandPath

	// Config is the candidate-configuration node the walk has descended
	// to so far; nil once a token diverged from the configured tree (or
	// when the caller attached no tree at all).
	Config ConfigRef

	// Links carries interface names seeded from the environment so the
	// reserved leaf name "interface" completes against real devices.
	Links []string

	// LastCompletions carries the richer (text, entry) candidates for
	// whichever call (Parse's own terminal result or the
	// whitespace-triggered regeneration) most recently produced a
	// completion list, so RPC formatting can render the Key/Dir/other
	// marker of spec §6 without re-walking the schema.
	LastCompletions []Completion
}

// Completion is one candidate offered at the parser's current
// position: the literal text to offer and the schema entry it resolves
// to (nil for candidates taken from the config tree), whose Help field
// supplies the help text.
type Completion struct {
	Text  string
	Entry *yang.Entry
}

// Match accumulates the candidates for one input token against one
// schema level: the best MatchType seen, how many entries tied at
// that rank, and the completion names offered.
type Match struct {
	Pos          int
	Count        int
	Comps        []string
	Completions  []Completion
	MatchedEntry *yang.Entry
	MatchedType  MatchType
	MatchedComp  string
	// MatchedLiteral records whether the winning candidate was a
	// literal keyword (directory name, empty leaf, boolean, enum case)
	// rather than a free-form typed value, so CommandPath emission can
	// canonicalize a partially typed keyword to its full spelling.
	MatchedLiteral bool
}

func (m *Match) process(entry *yang.Entry, mt MatchType, pos int, comp string, literal bool) {
	if mt == MatchNone {
		return
	}
	if mt > m.MatchedType {
		m.Count = 1
		m.Pos = pos
		m.MatchedType = mt
		m.MatchedEntry = entry
		m.MatchedComp = comp
		m.MatchedLiteral = literal
	} else if mt == m.MatchedType {
		m.Count++
	}
	m.Comps = append(m.Comps, comp)
	m.Completions = append(m.Completions, Completion{Text: comp, Entry: entry})
}

func (m *Match) matchKeyword(entry *yang.Entry, input, keyword string) {
	mt, pos := matchKeyword(input, keyword)
	m.process(entry, mt, pos, keyword, true)
}

func (m *Match) sortCompletions() {
	sort.Strings(m.Comps)
	sort.Slice(m.Completions, func(i, j int) bool { return m.Completions[i].Text < m.Completions[j].Text })
}

func longestMatch(src, dst string) int {
	n := 0
	for n < len(src) && n < len(dst) && src[n] == dst[n] {
		n++
	}
	return n
}

func isDelimiter(s string, pos int) bool {
	return pos >= len(s) || s[pos] == ' '
}

// matchKeyword compares an input token against a literal keyword: an
// exact match requires both sides to end at the same position, a
// shorter input that is a strict prefix of the keyword is Partial
// (still typing it), anything else is None.
func matchKeyword(input, keyword string) (MatchType, int) {
	pos := longestMatch(input, keyword)
	if !isDelimiter(input, pos) {
		return MatchNone, pos
	}
	if isDelimiter(keyword, pos) {
		return MatchExact, pos
	}
	return MatchPartial, pos
}

func matchWord(s string) (MatchType, int) {
	if s == "" || s[0] == ' ' {
		return MatchIncomplete, 0
	}
	pos := 0
	for pos < len(s) && s[pos] != ' ' {
		pos++
	}
	return MatchPartial, pos
}

func matchString(s string, node *yang.TypeNode) (MatchType, int) {
	if node != nil && node.Pattern != "" {
		tok := firstToken(s)
		if tok == "" {
			return MatchIncomplete, 0
		}
		re, err := regexp.Compile(node.Pattern)
		if err != nil || !re.MatchString(tok) {
			return MatchNone, 0
		}
		return MatchExact, len(tok)
	}
	return matchWord(s)
}

func firstToken(s string) string {
	if i := strings.IndexByte(s, ' '); i >= 0 {
		return s[:i]
	}
	return s
}

func matchRange(input string, node *yang.TypeNode) (MatchType, int) {
	tok := firstToken(input)
	if tok == "" {
		return MatchIncomplete, 0
	}
	v, err := strconv.ParseInt(tok, 10, 64)
	if err != nil {
		return MatchNone, 0
	}
	if node.HasRange && (v < node.Min || v > node.Max) {
		return MatchNone, 0
	}
	return MatchExact, len(tok)
}

// matchIPAddr validates tok against the address or prefix family kind
// resolves to. Prefix kinds additionally require a "/<len>" suffix.
func matchIPAddr(input string, kind yang.YangType) (MatchType, int) {
	tok := firstToken(input)
	if tok == "" {
		return MatchIncomplete, 0
	}
	host := tok
	isPrefix := kind == yang.TypeIpv4Prefix || kind == yang.TypeIpv6Prefix
	if isPrefix {
		slash := strings.IndexByte(tok, '/')
		if slash < 0 {
			return MatchNone, 0
		}
		host = tok[:slash]
		plen, err := strconv.Atoi(tok[slash+1:])
		if err != nil {
			return MatchNone, 0
		}
		max := 32
		if kind == yang.TypeIpv6Prefix {
			max = 128
		}
		if plen < 0 || plen > max {
			return MatchNone, 0
		}
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return MatchNone, 0
	}
	wantV4 := kind == yang.TypeIpv4Addr || kind == yang.TypeIpv4Prefix
	if wantV4 && ip.To4() == nil {
		return MatchNone, 0
	}
	if !wantV4 && ip.To4() != nil {
		return MatchNone, 0
	}
	return MatchExact, len(tok)
}

func typePlaceholder(kind yang.YangType, entry *yang.Entry) string {
	switch kind {
	case yang.TypeIpv4Addr:
		return "A.B.C.D"
	case yang.TypeIpv4Prefix:
		return "A.B.C.D/M"
	case yang.TypeIpv6Addr:
		return "X:X::X:X"
	case yang.TypeIpv6Prefix:
		return "X:X::X:X/M"
	}
	return entry.Name
}

// entryMatchType matches a single input token against a typed leaf
// entry, dispatching on its resolved YangType (a typedef, when set,
// overrides the declared kind per spec §4.4 item 3).
func entryMatchType(entry *yang.Entry, input string, m *Match, s *State) {
	node := entry.Type
	if node == nil {
		return
	}
	switch node.ResolvedKind() {
	case yang.TypeBoolean:
		mt, pos := matchKeyword(input, "true")
		m.process(entry, mt, pos, "true", true)
		mt, pos = matchKeyword(input, "false")
		m.process(entry, mt, pos, "false", true)
	case yang.TypeInt8, yang.TypeInt16, yang.TypeInt32, yang.TypeInt64,
		yang.TypeUint8, yang.TypeUint16, yang.TypeUint32, yang.TypeUint64:
		mt, pos := matchRange(input, node)
		m.process(entry, mt, pos, entry.Name, false)
	case yang.TypeIpv4Addr, yang.TypeIpv4Prefix, yang.TypeIpv6Addr, yang.TypeIpv6Prefix:
		mt, pos := matchIPAddr(input, node.ResolvedKind())
		m.process(entry, mt, pos, typePlaceholder(node.ResolvedKind(), entry), false)
	case yang.TypeEnumeration:
		for _, v := range node.Enum {
			mt, pos := matchKeyword(input, v)
			m.process(entry, mt, pos, v, true)
		}
	case yang.TypeString:
		if entry.Name == "interface" && s != nil {
			for _, link := range s.Links {
				mt, pos := matchKeyword(input, link)
				m.process(entry, mt, pos, link, true)
			}
			if m.Count > 0 {
				return
			}
		}
		mt, pos := matchString(input, node)
		m.process(entry, mt, pos, entry.Name, false)
	}
}

func entryMatchDir(entry *yang.Entry, input string, m *Match) {
	for _, child := range entry.Dir {
		m.matchKeyword(child, input, child.Name)
	}
}

func entryMatchKey(entry *yang.Entry, input string, m *Match, s *State) {
	key := entry.KeyEntry(s.Index)
	if key != nil {
		entryMatchType(key, input, m, s)
	}
}

func entryMatchKeyMatched(entry *yang.Entry, input string, m *Match, s *State) {
	for _, child := range entry.NonKeyChildren() {
		m.matchKeyword(child, input, child.Name)
	}
}

func ymatchNext(entry *yang.Entry, current YangMatch) YangMatch {
	switch current {
	case YMDir, YMDirMatched, YMKeyMatched:
		switch entry.Kind {
		case yang.EntryDir:
			return YMDir
		case yang.EntryKey:
			return YMKey
		case yang.EntryLeafList:
			return YMLeafList
		default:
			return YMLeaf
		}
	case YMKey:
		return YMKeyMatched
	case YMLeaf:
		return YMLeafMatched
	case YMLeafList:
		return YMLeafListMatched
	default:
		return current
	}
}

// matchConfig matches one token against the children of the current
// candidate-config node (spec §4.4 step 1), active only while set or
// delete is in force.
func matchConfig(ref ConfigRef, input string) Match {
	var m Match
	for _, name := range ref.ConfigChildren() {
		mt, pos := matchKeyword(input, name)
		m.process(nil, mt, pos, name, true)
	}
	return m
}

// Parse walks one input line against entry's schema tree, recursing
// one token at a time. It returns the terminal ExecCode, the
// completion candidates for the position it stopped at, and the
// updated State (its Paths field lists every resolved segment).
func Parse(input string, entry *yang.Entry, s State) (ExecCode, []string, State) {
	// Step 1: config matching. Delete must resolve against exactly one
	// existing child; set merely tracks the descent so completion can
	// offer configured values later.
	if (s.Set || s.Delete) && s.Config != nil {
		cm := matchConfig(s.Config, input)
		if s.Delete {
			if cm.Count == 0 {
				s.Config = nil
				s.LastCompletions = cm.Completions
				return ExecNomatch, cm.Comps, s
			}
			if cm.Count > 1 {
				cm.sortCompletions()
				s.LastCompletions = cm.Completions
				return ExecAmbiguous, cm.Comps, s
			}
		}
		if cm.Count == 1 {
			s.Config = s.Config.ConfigChild(cm.MatchedComp)
		} else {
			s.Config = nil
		}
	}

	var mx Match
	switch s.Ymatch {
	case YMDir, YMDirMatched:
		entryMatchDir(entry, input, &mx)
	case YMKey:
		entryMatchKey(entry, input, &mx, &s)
	case YMKeyMatched:
		entryMatchKeyMatched(entry, input, &mx, &s)
	case YMLeaf, YMLeafList, YMLeafListMatched:
		entryMatchType(entry, input, &mx, &s)
	case YMLeafMatched:
		// nothing to do; leaf already resolved
	}

	if mx.Count == 0 {
		s.LastCompletions = mx.Completions
		return ExecNomatch, mx.Comps, s
	}
	if mx.Count > 1 {
		mx.sortCompletions()
		s.LastCompletions = mx.Completions
		return ExecAmbiguous, mx.Comps, s
	}

	next := entry
	switch s.Ymatch {
	case YMDir, YMDirMatched, YMKeyMatched:
		next = mx.MatchedEntry
		s.Ymatch = ymatchNext(mx.MatchedEntry, s.Ymatch)
		if s.Ymatch == YMKey {
			s.Index = 0
		}
	case YMKey:
		s.Index++
		if s.Index >= len(entry.Key) {
			s.Ymatch = YMKeyMatched
		}
	case YMLeaf:
		s.Ymatch = YMLeafMatched
	case YMLeafList:
		s.Ymatch = YMLeafListMatched
	}

	// Step 5 fixups: an empty leaf or a presence directory is complete
	// the instant it matches, with no value/child token required.
	if s.Ymatch == YMLeaf && mx.MatchedEntry.EmptyLeaf {
		s.Ymatch = YMLeafMatched
	}
	if s.Ymatch == YMDir && mx.MatchedEntry.Presence {
		s.Ymatch = YMDirMatched
	}

	path := CommandPath{Name: mx.MatchedEntry.Name, Match: s.Ymatch}
	if ymatchComplete(s.Ymatch) {
		// A literal keyword canonicalizes to its full spelling so a
		// partially typed "neigh" round-trips as "neighbor"; a typed
		// value keeps exactly what was entered.
		if mx.MatchedLiteral {
			path.Name = mx.MatchedComp
		} else {
			path.Name = input[:mx.Pos]
		}
		path.Key = mx.MatchedEntry.Name
	}
	switch path.Name {
	case "set":
		s.Set = true
	case "delete":
		s.Delete = true
	case "show":
		s.Show = true
	}
	s.Paths = append(s.Paths, path)

	pos := mx.Pos
	sawSpace := false
	for pos < len(input) && input[pos] == ' ' {
		pos++
		sawSpace = true
	}
	remain := input[pos:]

	if remain == "" {
		// Step 7: trailing whitespace after a resolved token
		// regenerates the completion list for the position about to be
		// typed, rather than re-offering the token just consumed (P8:
		// every regenerated candidate extends the (now-empty) next
		// token, i.e. prefix closure is trivially satisfied).
		comps := mx.Comps
		completions := mx.Completions
		if sawSpace {
			completions = nextCandidates(next, s)
			comps = completionTexts(completions)
		}
		s.LastCompletions = completions
		if !ymatchComplete(s.Ymatch) {
			return ExecIncomplete, comps, s
		}
		if mx.MatchedType == MatchIncomplete {
			return ExecIncomplete, comps, s
		}
		return ExecSuccess, comps, s
	}
	return Parse(remain, next, s)
}

// nextCandidates lists the completions available at the position just
// past a resolved, space-terminated token. Under delete they come from
// the candidate-config subtree alone; under set, configured values the
// schema would not volunteer (key values of existing list entries) are
// merged in after the schema's own candidates (spec §4.4 step 7).
func nextCandidates(next *yang.Entry, s State) []Completion {
	if s.Delete {
		if s.Config == nil {
			return nil
		}
		var out []Completion
		for _, name := range s.Config.ConfigChildren() {
			out = append(out, Completion{Text: name})
		}
		return out
	}
	var mx Match
	switch s.Ymatch {
	case YMDir, YMDirMatched:
		entryMatchDir(next, "", &mx)
	case YMKey:
		entryMatchKey(next, "", &mx, &s)
	case YMKeyMatched:
		entryMatchKeyMatched(next, "", &mx, &s)
	case YMLeaf, YMLeafList, YMLeafListMatched:
		entryMatchType(next, "", &mx, &s)
	}
	comps := mx.Completions
	if s.Set && s.Config != nil {
		seen := make(map[string]bool, len(comps))
		for _, c := range comps {
			seen[c.Text] = true
		}
		for _, name := range s.Config.ConfigChildren() {
			if !seen[name] {
				comps = append(comps, Completion{Text: name})
			}
		}
	}
	return comps
}

func completionTexts(cs []Completion) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Text
	}
	return out
}
