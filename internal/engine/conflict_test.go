package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gridsync/gridsync/internal/store"
)

func TestResolveConflicts(t *testing.T) {
	tests := []struct {
		name     string
		strategy store.ConflictStrategy
		state    ChangeState
		action   Action
	}{
		{"sor wins both modified", store.StrategySorWins, StateBothModified, ActionUseSor},
		{"sor wins grid deletion restored", store.StrategySorWins, StateDeletedInGrid, ActionUseSor},
		{"sor wins sor deletion removes row", store.StrategySorWins, StateDeletedInSor, ActionDelete},
		{"grid wins both modified", store.StrategyGridWins, StateBothModified, ActionUseGrid},
		{"grid wins sor deletion restored", store.StrategyGridWins, StateDeletedInSor, ActionUseGrid},
		{"grid wins grid deletion removes record", store.StrategyGridWins, StateDeletedInGrid, ActionDelete},
		{"newest wins falls back to sor", store.StrategyNewestWins, StateBothModified, ActionUseSor},
		{"newest wins deletion beats edit in grid", store.StrategyNewestWins, StateDeletedInGrid, ActionDelete},
		{"newest wins deletion beats edit in sor", store.StrategyNewestWins, StateDeletedInSor, ActionDelete},
		{"unknown strategy skips", "", StateBothModified, ActionSkip},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decisions := resolveConflicts([]Change{{Key: "k", State: tt.state, Conflict: true}}, tt.strategy)

			assert.Len(t, decisions, 1)
			assert.Equal(t, tt.action, decisions[0].Action)
			assert.NotEmpty(t, decisions[0].Reason)
		})
	}
}

func TestNewestWinsFallbackReasonIsVisible(t *testing.T) {
	decisions := resolveConflicts([]Change{{Key: "k", State: StateBothModified, Conflict: true}}, store.StrategyNewestWins)

	assert.Contains(t, decisions[0].Reason, "fallback to SOR")
}

func TestNewestWinsDeletionReason(t *testing.T) {
	decisions := resolveConflicts([]Change{{Key: "k", State: StateDeletedInSor, Conflict: true}}, store.StrategyNewestWins)

	assert.Equal(t, "deletion wins over concurrent edit", decisions[0].Reason)
}
