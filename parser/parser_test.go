package parser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zebra-rs/bgpd/yang"
)

// testConfig is a minimal in-memory config tree implementing
// ConfigRef, mirroring what the config package's candidate tree
// provides.
type testConfig struct {
	name     string
	children []*testConfig
}

func (c *testConfig) ConfigChildren() []string {
	names := make([]string, 0, len(c.children))
	for _, child := range c.children {
		names = append(names, child.name)
	}
	return names
}

func (c *testConfig) ConfigChild(name string) ConfigRef {
	for _, child := range c.children {
		if child.name == name {
			return child
		}
	}
	return nil
}

func cfg(name string, children ...*testConfig) *testConfig {
	return &testConfig{name: name, children: children}
}

func parseConfigure(t *testing.T, input string, config ConfigRef) (ExecCode, []string, State) {
	t.Helper()
	return Parse(input, yang.ConfigureTree(), State{Config: config})
}

func TestSetFullCommandSucceeds(t *testing.T) {
	code, _, state := parseConfigure(t, "set bgp neighbor 2.2.2.2 peer-as 65002", nil)
	assert.Equal(t, ExecSuccess, code)
	assert.True(t, state.Set)
	require.Len(t, state.Paths, 6)
	assert.Equal(t, "2.2.2.2", state.Paths[3].Name)
	assert.Equal(t, "address", state.Paths[3].Key)
	assert.Equal(t, "65002", state.Paths[5].Name)
	assert.Equal(t, "peer-as", state.Paths[5].Key)
}

func TestAbbreviatedKeywordsResolveCanonically(t *testing.T) {
	code, _, state := parseConfigure(t, "set bgp neigh 2.2.2.2 peer-as 65002", nil)
	assert.Equal(t, ExecSuccess, code)
	assert.Equal(t, "neighbor", state.Paths[2].Name)
}

func TestEmptyLeafCompletesWithoutValue(t *testing.T) {
	code, _, state := parseConfigure(t, "set bgp neighbor 2.2.2.2 shutdown", nil)
	assert.Equal(t, ExecSuccess, code)
	last := state.Paths[len(state.Paths)-1]
	assert.Equal(t, "shutdown", last.Name)
	assert.Equal(t, YMLeafMatched, last.Match)
}

func TestOutOfRangeValueIsNomatch(t *testing.T) {
	code, _, _ := parseConfigure(t, "set bgp global as 0", nil)
	assert.Equal(t, ExecNomatch, code)
}

func TestBadAddressIsNomatch(t *testing.T) {
	code, _, _ := parseConfigure(t, "set bgp neighbor 2.2.2.299 peer-as 1", nil)
	assert.Equal(t, ExecNomatch, code)
}

func TestTrailingSpaceRegeneratesCompletions(t *testing.T) {
	code, comps, state := parseConfigure(t, "set bgp global ", nil)
	assert.Equal(t, ExecIncomplete, code)
	assert.Contains(t, comps, "as")
	assert.Contains(t, comps, "router-id")
	// The schema entries travel with the completions so the RPC layer
	// can render the Dir/Key markers.
	require.NotEmpty(t, state.LastCompletions)
	for _, c := range state.LastCompletions {
		assert.NotNil(t, c.Entry)
	}
}

// Prefix closure: every completion offered for an incomplete token
// extends what was already typed.
func TestCompletionPrefixClosure(t *testing.T) {
	for _, input := range []string{"set bgp g", "set bgp n", "s", "set bgp neighbor 2.2.2.2 p"} {
		_, comps, _ := Parse(input, yang.ConfigureTree(), State{})
		last := input[strings.LastIndexByte(input, ' ')+1:]
		require.NotEmpty(t, comps, "input %q", input)
		for _, comp := range comps {
			assert.Truef(t, strings.HasPrefix(comp, last),
				"completion %q does not extend %q", comp, last)
		}
	}
}

// Round trip: re-serializing a successful parse's CommandPaths and
// re-parsing yields the same CommandPaths.
func TestCommandPathRoundTrip(t *testing.T) {
	inputs := []string{
		"set bgp global as 65001",
		"set bgp global router-id 1.1.1.1",
		"set bgp neighbor 2.2.2.2 peer-as 65002",
		"set bgp neighbor 2.2.2.2 passive",
	}
	for _, input := range inputs {
		code, _, state := parseConfigure(t, input, nil)
		require.Equal(t, ExecSuccess, code, "input %q", input)

		names := make([]string, 0, len(state.Paths))
		for _, p := range state.Paths {
			names = append(names, p.Name)
		}
		code2, _, state2 := parseConfigure(t, strings.Join(names, " "), nil)
		require.Equal(t, ExecSuccess, code2)
		assert.Equal(t, state.Paths, state2.Paths)
	}
}

func TestDeleteRequiresExistingConfig(t *testing.T) {
	candidate := cfg("",
		cfg("bgp",
			cfg("global", cfg("as", cfg("65001"))),
		),
	)
	code, _, _ := parseConfigure(t, "delete bgp neighbor 2.2.2.2 peer-as 65002", candidate)
	assert.Equal(t, ExecNomatch, code)

	code, _, _ = parseConfigure(t, "delete bgp global as 65001", candidate)
	assert.Equal(t, ExecSuccess, code)
}

func TestDeleteAmbiguousConfigMatch(t *testing.T) {
	candidate := cfg("",
		cfg("bgp",
			cfg("neighbor",
				cfg("2.2.2.2", cfg("peer-as", cfg("65002"))),
				cfg("2.2.2.3", cfg("peer-as", cfg("65003"))),
			),
		),
	)
	code, comps, _ := parseConfigure(t, "delete bgp neighbor 2.2.2.", candidate)
	assert.Equal(t, ExecAmbiguous, code)
	assert.ElementsMatch(t, []string{"2.2.2.2", "2.2.2.3"}, comps)
}

func TestDeleteCompletionComesFromConfig(t *testing.T) {
	candidate := cfg("",
		cfg("bgp",
			cfg("global", cfg("as", cfg("65001"))),
			cfg("neighbor", cfg("2.2.2.2", cfg("peer-as", cfg("65002")))),
		),
	)
	code, comps, _ := parseConfigure(t, "delete bgp ", candidate)
	assert.Equal(t, ExecIncomplete, code)
	assert.ElementsMatch(t, []string{"global", "neighbor"}, comps)
}

func TestSetCompletionMergesConfiguredValues(t *testing.T) {
	candidate := cfg("",
		cfg("bgp",
			cfg("neighbor", cfg("2.2.2.2", cfg("peer-as", cfg("65002")))),
		),
	)
	_, comps, _ := parseConfigure(t, "set bgp neighbor ", candidate)
	assert.Contains(t, comps, "2.2.2.2")
}

func TestShowFlagAndIncomplete(t *testing.T) {
	code, _, state := Parse("show bgp summary", yang.ExecTree(), State{})
	assert.Equal(t, ExecSuccess, code)
	assert.True(t, state.Show)

	code, _, _ = Parse("show", yang.ExecTree(), State{})
	assert.Equal(t, ExecIncomplete, code)
}

func TestUnknownTokenIsNomatch(t *testing.T) {
	code, _, _ := Parse("frobnicate", yang.ConfigureTree(), State{})
	assert.Equal(t, ExecNomatch, code)
}

func TestAbbreviatedVerbStillSetsFlag(t *testing.T) {
	code, comps, state := Parse("de", yang.ConfigureTree(), State{})
	assert.Equal(t, ExecIncomplete, code)
	assert.Equal(t, []string{"delete"}, comps)
	assert.True(t, state.Delete)
}
