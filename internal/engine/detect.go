package engine

// ChangeState classifies one record key relative to the last snapshot.
type ChangeState string

// Change states. The three conflict states carry Conflict = true on
// the Change.
const (
	StateUnchanged      ChangeState = "UNCHANGED"
	StateNewInSor       ChangeState = "NEW_IN_SOR"
	StateNewInGrid      ChangeState = "NEW_IN_GRID"
	StateSorOnlyChange  ChangeState = "SOR_ONLY_CHANGE"
	StateGridOnlyChange ChangeState = "GRID_ONLY_CHANGE"
	StateBothModified   ChangeState = "BOTH_MODIFIED"
	StateDeletedInSor   ChangeState = "DELETED_IN_SOR"
	StateDeletedInGrid  ChangeState = "DELETED_IN_GRID"
)

// Change is one record key's classification for this run.
type Change struct {
	Key      string
	State    ChangeState
	Conflict bool
}

// detectChanges diffs both sides' current hashes against the snapshot.
// A nil snapshot takes the first-sync path: everything present is new
// on its side and no conflicts are raised.
func detectChanges(sorHashes, gridHashes map[string]string, snap *Snapshot) []Change {
	if snap == nil || len(snap.Entries) == 0 {
		return firstSyncChanges(sorHashes, gridHashes)
	}

	keys := make(map[string]struct{}, len(sorHashes)+len(gridHashes)+len(snap.Entries))
	for k := range sorHashes {
		keys[k] = struct{}{}
	}

	for k := range gridHashes {
		keys[k] = struct{}{}
	}

	for k := range snap.Entries {
		keys[k] = struct{}{}
	}

	changes := make([]Change, 0, len(keys))

	for key := range keys {
		sorHash, inSor := sorHashes[key]
		gridHash, inGrid := gridHashes[key]
		entry, inSnap := snap.Entries[key]

		changes = append(changes, classify(key, sorHash, gridHash, entry, inSor, inGrid, inSnap))
	}

	return changes
}

func classify(key, sorHash, gridHash string, entry SnapshotEntry, inSor, inGrid, inSnap bool) Change {
	sorChanged := inSor && (!inSnap || sorHash != entry.SorHash)
	gridChanged := inGrid && (!inSnap || gridHash != entry.GridHash)

	switch {
	case inSor && inGrid:
		switch {
		case sorChanged && gridChanged:
			return Change{Key: key, State: StateBothModified, Conflict: true}
		case sorChanged:
			return Change{Key: key, State: StateSorOnlyChange}
		case gridChanged:
			return Change{Key: key, State: StateGridOnlyChange}
		default:
			return Change{Key: key, State: StateUnchanged}
		}

	case inSor && !inGrid:
		if !inSnap {
			return Change{Key: key, State: StateNewInSor}
		}

		// Row vanished from the grid. If SOR also changed since the
		// snapshot, the delete collides with an edit.
		return Change{Key: key, State: StateDeletedInGrid, Conflict: sorChanged}

	case !inSor && inGrid:
		if !inSnap {
			return Change{Key: key, State: StateNewInGrid}
		}

		return Change{Key: key, State: StateDeletedInSor, Conflict: gridChanged}

	default:
		// Gone from both sides; nothing to do beyond dropping the
		// snapshot entry.
		return Change{Key: key, State: StateUnchanged}
	}
}

// firstSyncChanges handles the no-snapshot case: no conflicts, every
// SOR record is new on the SOR side, every grid-only key is new on the
// grid side. Keys present on both sides are treated as already linked.
func firstSyncChanges(sorHashes, gridHashes map[string]string) []Change {
	changes := make([]Change, 0, len(sorHashes)+len(gridHashes))

	for key := range sorHashes {
		if _, linked := gridHashes[key]; linked {
			changes = append(changes, Change{Key: key, State: StateSorOnlyChange})
			continue
		}

		changes = append(changes, Change{Key: key, State: StateNewInSor})
	}

	for key := range gridHashes {
		if _, linked := sorHashes[key]; !linked {
			changes = append(changes, Change{Key: key, State: StateNewInGrid})
		}
	}

	return changes
}
