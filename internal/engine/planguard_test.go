package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/gridsync/gridsync/internal/store"
)

func TestSubscriptionState(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	future := now.Add(7 * 24 * time.Hour)
	past := now.Add(-24 * time.Hour)

	tests := []struct {
		name  string
		user  store.User
		state SubscriptionState
		pause bool
	}{
		{"active subscription", store.User{SubscriptionStatus: "active"}, StateSubscribed, false},
		{"cancelling but not lapsed", store.User{SubscriptionStatus: "cancel_at_period_end"}, StateSubscribed, false},
		{"past due", store.User{SubscriptionStatus: "past_due"}, StateSubscriptionInactive, true},
		{"deleted", store.User{SubscriptionStatus: "deleted"}, StateSubscriptionInactive, true},
		{"trial running", store.User{TrialEndsAt: &future}, StateTrialActive, false},
		{"trial over", store.User{TrialEndsAt: &past}, StateTrialExpired, true},
		{"no trial no subscription", store.User{}, StateTrialExpired, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := subscriptionState(&tt.user, now)
			assert.Equal(t, tt.state, state)
			assert.Equal(t, tt.pause, shouldPauseSyncs(state))
		})
	}
}

func TestCheckRecordCap(t *testing.T) {
	tests := []struct {
		name      string
		requested int
		max       int
		allowed   int
		nearLimit bool
	}{
		{"uncapped", 5000, 0, 5000, false},
		{"well under", 10, 100, 10, false},
		{"at eighty percent", 80, 100, 80, true},
		{"over the cap", 150, 100, 100, true},
		{"just under the warning", 79, 100, 79, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			allowed, nearLimit := checkRecordCap(tt.requested, tt.max)
			assert.Equal(t, tt.allowed, allowed)
			assert.Equal(t, tt.nearLimit, nearLimit)
		})
	}
}
