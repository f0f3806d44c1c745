package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapWith(entries map[string]SnapshotEntry) *Snapshot {
	return &Snapshot{Entries: entries, LastSyncTime: time.Now()}
}

func entry(sorHash, gridHash string) SnapshotEntry {
	return SnapshotEntry{SorHash: sorHash, GridHash: gridHash}
}

func changeByKey(changes []Change, key string) (Change, bool) {
	for _, c := range changes {
		if c.Key == key {
			return c, true
		}
	}

	return Change{}, false
}

func TestDetectChangesStates(t *testing.T) {
	snap := snapWith(map[string]SnapshotEntry{
		"unchanged":  entry("s1", "g1"),
		"sor-only":   entry("s1", "g1"),
		"grid-only":  entry("s1", "g1"),
		"both":       entry("s1", "g1"),
		"gone-grid":  entry("s1", "g1"),
		"gone-sor":   entry("s1", "g1"),
		"gone-both":  entry("s1", "g1"),
		"del-vs-edit": entry("s1", "g1"),
	})

	sorHashes := map[string]string{
		"unchanged":  "s1",
		"sor-only":   "s2",
		"grid-only":  "s1",
		"both":       "s2",
		"gone-grid":  "s1",
		"new-sor":    "s9",
		"del-vs-edit": "s2",
	}

	gridHashes := map[string]string{
		"unchanged": "g1",
		"sor-only":  "g1",
		"grid-only": "g2",
		"both":      "g2",
		"gone-sor":  "g1",
		"new-grid":  "g9",
	}

	changes := detectChanges(sorHashes, gridHashes, snap)

	expect := map[string]struct {
		state    ChangeState
		conflict bool
	}{
		"unchanged":  {StateUnchanged, false},
		"sor-only":   {StateSorOnlyChange, false},
		"grid-only":  {StateGridOnlyChange, false},
		"both":       {StateBothModified, true},
		"gone-grid":  {StateDeletedInGrid, false},
		"gone-sor":   {StateDeletedInSor, false},
		"gone-both":  {StateUnchanged, false},
		"new-sor":    {StateNewInSor, false},
		"new-grid":   {StateNewInGrid, false},
		"del-vs-edit": {StateDeletedInGrid, true},
	}

	require.Len(t, changes, len(expect))

	for key, want := range expect {
		got, ok := changeByKey(changes, key)
		require.True(t, ok, "missing change for %s", key)
		assert.Equal(t, want.state, got.State, key)
		assert.Equal(t, want.conflict, got.Conflict, key)
	}
}

func TestDetectChangesDeleteVsEditOnGridSide(t *testing.T) {
	snap := snapWith(map[string]SnapshotEntry{"k": entry("s1", "g1")})

	changes := detectChanges(nil, map[string]string{"k": "g2"}, snap)

	got, ok := changeByKey(changes, "k")
	require.True(t, ok)
	assert.Equal(t, StateDeletedInSor, got.State)
	assert.True(t, got.Conflict, "record deleted while its row was edited")
}

func TestDetectChangesFirstSync(t *testing.T) {
	sorHashes := map[string]string{"rec1": "s1", "shared": "s2"}
	gridHashes := map[string]string{"shared": "g2", "rowX": "g9"}

	for _, snap := range []*Snapshot{nil, NewSnapshot()} {
		changes := detectChanges(sorHashes, gridHashes, snap)

		got, ok := changeByKey(changes, "rec1")
		require.True(t, ok)
		assert.Equal(t, StateNewInSor, got.State)

		got, ok = changeByKey(changes, "shared")
		require.True(t, ok)
		assert.Equal(t, StateSorOnlyChange, got.State, "linked keys push SOR values on first sync")

		got, ok = changeByKey(changes, "rowX")
		require.True(t, ok)
		assert.Equal(t, StateNewInGrid, got.State)

		for _, c := range changes {
			assert.False(t, c.Conflict, "first sync never raises conflicts")
		}
	}
}
