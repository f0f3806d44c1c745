package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"
	"sort"
	"strings"
	"time"
)

// numericPrecision rounds floats before hashing so representation
// noise (42.0000001 vs 42) does not register as a change.
const numericPrecision = 1e6

// contentHash computes the SHA-256 of a normalized, key-sorted JSON
// encoding of a record's mapped fields. Two values that differ only in
// string whitespace, float noise, or array ordering hash identically.
func contentHash(fields map[string]any) string {
	normalized := make(map[string]any, len(fields))
	for k, v := range fields {
		normalized[k] = normalizeValue(v)
	}

	// encoding/json sorts map keys, which gives the canonical form.
	b, err := json.Marshal(normalized)
	if err != nil {
		// Fields come from JSON APIs; re-encoding cannot fail for them.
		b = []byte("{}")
	}

	sum := sha256.Sum256(b)

	return hex.EncodeToString(sum[:])
}

// normalizeValue canonicalizes one field value: trimmed strings,
// rounded numbers, recursively normalized and sorted arrays, and
// linked-record objects reduced to their IDs.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		return strings.TrimSpace(val)
	case float64:
		return math.Round(val*numericPrecision) / numericPrecision
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case bool:
		return val
	case []string:
		items := make([]any, len(val))
		for i, s := range val {
			items[i] = strings.TrimSpace(s)
		}

		return sortedArray(items)
	case []any:
		items := make([]any, len(val))
		for i, item := range val {
			items[i] = normalizeValue(item)
		}

		return sortedArray(items)
	case map[string]any:
		// Related-record objects reduce to their ID when present.
		if id, ok := val["id"].(string); ok {
			return id
		}

		m := make(map[string]any, len(val))
		for k, item := range val {
			m[k] = normalizeValue(item)
		}

		return m
	default:
		return val
	}
}

// sortedArray orders items by their JSON encoding so hashing is
// invariant under array reordering.
func sortedArray(items []any) []any {
	sort.SliceStable(items, func(i, j int) bool {
		a, _ := json.Marshal(items[i])
		b, _ := json.Marshal(items[j])

		return string(a) < string(b)
	})

	return items
}

// SnapshotEntry captures both sides' content hashes for one record key
// at the moment a run completed.
type SnapshotEntry struct {
	SorHash    string    `json:"sorHash,omitempty"`
	GridHash   string    `json:"gridHash,omitempty"`
	CapturedAt time.Time `json:"capturedAt"`
}

// Snapshot is the per-config hash state that change detection diffs
// against. It is persisted as JSON so restarts do not force a
// first-sync pass.
type Snapshot struct {
	Entries      map[string]SnapshotEntry `json:"entries"`
	LastSyncTime time.Time                `json:"lastSyncTime"`
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{Entries: make(map[string]SnapshotEntry)}
}

// decodeSnapshot parses persisted snapshot JSON.
func decodeSnapshot(data string) (*Snapshot, error) {
	snap := NewSnapshot()
	if err := json.Unmarshal([]byte(data), snap); err != nil {
		return nil, err
	}

	if snap.Entries == nil {
		snap.Entries = make(map[string]SnapshotEntry)
	}

	return snap, nil
}

// encode renders the snapshot for persistence.
func (s *Snapshot) encode() (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", err
	}

	return string(b), nil
}
