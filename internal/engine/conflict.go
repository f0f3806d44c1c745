package engine

import "github.com/gridsync/gridsync/internal/store"

// Action is what the engine does about one conflicted record.
type Action string

// Conflict actions.
const (
	ActionUseSor  Action = "USE_SOR"
	ActionUseGrid Action = "USE_GRID"
	ActionDelete  Action = "DELETE"
	ActionSkip    Action = "SKIP"
)

// Decision pairs a conflicted record with its resolution and a
// human-readable reason surfaced in the run report.
type Decision struct {
	Key    string
	State  ChangeState
	Action Action
	Reason string
}

// resolveConflicts maps each conflict to a decision under the given
// strategy. Unknown strategies skip every conflict rather than guess.
func resolveConflicts(conflicts []Change, strategy store.ConflictStrategy) []Decision {
	decisions := make([]Decision, 0, len(conflicts))

	for _, c := range conflicts {
		decisions = append(decisions, resolveOne(c, strategy))
	}

	return decisions
}

func resolveOne(c Change, strategy store.ConflictStrategy) Decision {
	d := Decision{Key: c.Key, State: c.State}

	switch strategy {
	case store.StrategySorWins:
		switch c.State {
		case StateBothModified:
			d.Action, d.Reason = ActionUseSor, "both sides modified; SOR wins"
		case StateDeletedInGrid:
			d.Action, d.Reason = ActionUseSor, "row deleted on grid; SOR wins, row restored"
		case StateDeletedInSor:
			d.Action, d.Reason = ActionDelete, "record deleted in SOR; SOR wins, grid row removed"
		default:
			d.Action, d.Reason = ActionSkip, "not a conflict state"
		}

	case store.StrategyGridWins:
		switch c.State {
		case StateBothModified:
			d.Action, d.Reason = ActionUseGrid, "both sides modified; grid wins"
		case StateDeletedInSor:
			d.Action, d.Reason = ActionUseGrid, "record deleted in SOR; grid wins, record restored"
		case StateDeletedInGrid:
			d.Action, d.Reason = ActionDelete, "row deleted on grid; grid wins, SOR record removed"
		default:
			d.Action, d.Reason = ActionSkip, "not a conflict state"
		}

	case store.StrategyNewestWins:
		switch c.State {
		case StateBothModified:
			// Neither side exposes cell-level timestamps, so this
			// strategy cannot actually compare recency here.
			d.Action = ActionUseSor
			d.Reason = "both sides modified; no reliable timestamps, fallback to SOR"
		case StateDeletedInGrid, StateDeletedInSor:
			d.Action, d.Reason = ActionDelete, "deletion wins over concurrent edit"
		default:
			d.Action, d.Reason = ActionSkip, "not a conflict state"
		}

	default:
		d.Action, d.Reason = ActionSkip, "no conflict strategy configured"
	}

	return d
}
