package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentHashStability(t *testing.T) {
	base := contentHash(map[string]any{"Name": "Ada", "Age": 34.0, "Tags": []any{"a", "b"}})

	t.Run("key order does not matter", func(t *testing.T) {
		assert.Equal(t, base, contentHash(map[string]any{"Tags": []any{"a", "b"}, "Age": 34.0, "Name": "Ada"}))
	})

	t.Run("surrounding whitespace is ignored", func(t *testing.T) {
		assert.Equal(t, base, contentHash(map[string]any{"Name": "  Ada ", "Age": 34.0, "Tags": []any{"a", "b"}}))
	})

	t.Run("array order does not matter", func(t *testing.T) {
		assert.Equal(t, base, contentHash(map[string]any{"Name": "Ada", "Age": 34.0, "Tags": []any{"b", "a"}}))
	})

	t.Run("int and float of the same value match", func(t *testing.T) {
		assert.Equal(t, base, contentHash(map[string]any{"Name": "Ada", "Age": 34, "Tags": []any{"a", "b"}}))
	})

	t.Run("value changes change the hash", func(t *testing.T) {
		assert.NotEqual(t, base, contentHash(map[string]any{"Name": "Bob", "Age": 34.0, "Tags": []any{"a", "b"}}))
	})
}

func TestContentHashNumericPrecision(t *testing.T) {
	a := contentHash(map[string]any{"x": 0.1 + 0.2})
	b := contentHash(map[string]any{"x": 0.3})

	assert.Equal(t, a, b, "float noise below the rounding precision is equal")
}

func TestContentHashLinkedObjects(t *testing.T) {
	a := contentHash(map[string]any{"Link": []any{map[string]any{"id": "rec1", "name": "Ada"}}})
	b := contentHash(map[string]any{"Link": []any{map[string]any{"id": "rec1", "name": "Renamed"}}})

	assert.Equal(t, a, b, "linked objects hash by ID only")
}

func TestSnapshotRoundTrip(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	snap := NewSnapshot()
	snap.LastSyncTime = now
	snap.Entries["rec1"] = SnapshotEntry{SorHash: "aa", GridHash: "bb", CapturedAt: now}

	data, err := snap.encode()
	require.NoError(t, err)

	decoded, err := decodeSnapshot(data)
	require.NoError(t, err)
	assert.Equal(t, snap.Entries, decoded.Entries)
	assert.True(t, snap.LastSyncTime.Equal(decoded.LastSyncTime))
}

func TestDecodeSnapshotRejectsGarbage(t *testing.T) {
	_, err := decodeSnapshot("{not json")
	require.Error(t, err)
}
