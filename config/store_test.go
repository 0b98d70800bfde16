package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setLine(t *testing.T, m *ConfigManager, line string) {
	t.Helper()
	result, err := m.Execute(ModeConfigure, "set "+line)
	require.NoError(t, err)
	require.Equal(t, "Show", result.Code.String(), "set %q", line)
}

func newRunningManager(t *testing.T) *ConfigManager {
	t.Helper()
	m := NewConfigManager()
	go m.Run()
	t.Cleanup(m.Stop)
	return m
}

func TestCommitEmitsStrippedDiffLines(t *testing.T) {
	m := NewConfigManager()
	var got []string
	m.Subscribe(func(line string) { got = append(got, line) })
	go m.Run()
	t.Cleanup(m.Stop)

	setLine(t, m, "bgp global as 65001")
	require.NoError(t, m.Commit())

	assert.Equal(t, []string{"bgp global as 65001"}, got)
	assert.True(t, m.store.Running.Equal(m.store.Candidate))

	// Discard after a clean commit is a no-op.
	require.NoError(t, m.Discard())
	assert.True(t, m.store.Running.Equal(m.store.Candidate))

	// A second commit with no edits emits nothing.
	got = nil
	require.NoError(t, m.Commit())
	assert.Empty(t, got)
}

func TestCommitThenDiscardTreesAgree(t *testing.T) {
	m := newRunningManager(t)
	setLine(t, m, "bgp global as 65001")
	setLine(t, m, "bgp neighbor 2.2.2.2 peer-as 65002")
	require.NoError(t, m.Commit())
	require.NoError(t, m.Discard())
	assert.True(t, m.store.Running.Equal(m.store.Candidate))
}

func TestDiscardDropsCandidateEdits(t *testing.T) {
	m := newRunningManager(t)
	setLine(t, m, "bgp global as 65001")
	require.NoError(t, m.Commit())

	setLine(t, m, "bgp global as 65099")
	require.NoError(t, m.Discard())
	as := m.store.Candidate.Lookup("bgp", "global", "as")
	require.NotNil(t, as)
	require.Len(t, as.Children, 1)
	assert.Equal(t, "65001", as.Children[0].Name)
}

func TestSetReplacesLeafValue(t *testing.T) {
	m := newRunningManager(t)
	setLine(t, m, "bgp global as 65001")
	setLine(t, m, "bgp global as 65002")
	as := m.store.Candidate.Lookup("bgp", "global", "as")
	require.NotNil(t, as)
	require.Len(t, as.Children, 1)
	assert.Equal(t, "65002", as.Children[0].Name)
}

func TestSetAccumulatesListEntries(t *testing.T) {
	m := newRunningManager(t)
	setLine(t, m, "bgp neighbor 2.2.2.2 peer-as 65002")
	setLine(t, m, "bgp neighbor 3.3.3.3 peer-as 65003")
	list := m.store.Candidate.Lookup("bgp", "neighbor")
	require.NotNil(t, list)
	assert.Len(t, list.Children, 2)
}

func TestDeletePrunesEmptyAncestors(t *testing.T) {
	m := newRunningManager(t)
	setLine(t, m, "bgp neighbor 2.2.2.2 peer-as 65002")

	result, err := m.Execute(ModeConfigure, "delete bgp neighbor 2.2.2.2")
	require.NoError(t, err)
	require.Equal(t, "Show", result.Code.String())

	assert.Nil(t, m.store.Candidate.Lookup("bgp"))
}

func TestDeleteUnknownPathIsNomatch(t *testing.T) {
	m := newRunningManager(t)
	setLine(t, m, "bgp global as 65001")
	result, err := m.Execute(ModeConfigure, "delete bgp neighbor 2.2.2.2")
	require.NoError(t, err)
	assert.Equal(t, "Nomatch", result.Code.String())
}

// Any show command past the bare verb redirects to the show pipeline;
// the Lines payload carries the dotted function-map key.
func TestShowCommandsRedirectToShowPipeline(t *testing.T) {
	m := newRunningManager(t)

	result, err := m.Execute(ModeExec, "show bgp summary")
	require.NoError(t, err)
	assert.Equal(t, "RedirectShow", result.Code.String())
	assert.Equal(t, []string{"bgp.summary"}, result.Lines)

	result, err = m.Execute(ModeExec, "show bgp neighbor 2.2.2.2")
	require.NoError(t, err)
	assert.Equal(t, "RedirectShow", result.Code.String())
	assert.Equal(t, []string{"bgp.neighbor"}, result.Lines)

	// An unfinished show line never reaches the redirect gate.
	result, err = m.Execute(ModeExec, "show")
	require.NoError(t, err)
	assert.Equal(t, "Incomplete", result.Code.String())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	m := newRunningManager(t)
	setLine(t, m, "bgp global as 65001")
	setLine(t, m, "bgp global router-id 1.1.1.1")
	setLine(t, m, "bgp neighbor 2.2.2.2 peer-as 65002")
	setLine(t, m, "bgp neighbor 2.2.2.2 passive")
	require.NoError(t, m.Commit())

	path := filepath.Join(t.TempDir(), "zebra.conf")
	require.NoError(t, m.Save(path))

	loaded := newRunningManager(t)
	require.NoError(t, loaded.Load(path))
	assert.Equal(t, m.store.Running.Lines(), loaded.store.Running.Lines())
}

func TestFromTreeMaterialization(t *testing.T) {
	m := NewConfigManager()
	var got BgpConfigSet
	m.SubscribeSnapshot(func(set BgpConfigSet) { got = set })
	go m.Run()
	t.Cleanup(m.Stop)

	setLine(t, m, "bgp global as 65001")
	setLine(t, m, "bgp global router-id 1.1.1.1")
	setLine(t, m, "bgp neighbor 2.2.2.2 peer-as 65002")
	setLine(t, m, "bgp neighbor 2.2.2.2 shutdown")
	require.NoError(t, m.Commit())

	assert.EqualValues(t, 65001, got.Bgp.Global.AS)
	assert.Equal(t, "1.1.1.1", got.Bgp.Global.RouterID)
	require.Len(t, got.Bgp.Neighbors, 1)
	n := got.Bgp.Neighbors[0]
	assert.Equal(t, "2.2.2.2", n.Address)
	assert.EqualValues(t, 65002, n.PeerAS)
	assert.True(t, n.Shutdown)
	assert.False(t, n.Passive)
}

func TestApplySnapshotReplaysThroughParser(t *testing.T) {
	m := newRunningManager(t)
	set := BgpConfigSet{}
	set.Bgp.Global = Global{AS: 65001, RouterID: "1.1.1.1"}
	set.Bgp.Neighbors = []Neighbor{{Address: "2.2.2.2", PeerAS: 65002, Passive: true}}

	require.NoError(t, m.ApplySnapshot(set))

	assert.Equal(t, set, FromTree(m.store.Running))
}
