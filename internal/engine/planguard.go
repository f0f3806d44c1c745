package engine

import (
	"time"

	"github.com/gridsync/gridsync/internal/store"
)

// SubscriptionState summarizes whether a user's plan currently allows
// syncs to run.
type SubscriptionState string

// Subscription states.
const (
	StateTrialActive          SubscriptionState = "trial_active"
	StateTrialExpired         SubscriptionState = "trial_expired"
	StateSubscribed           SubscriptionState = "subscribed"
	StateSubscriptionInactive SubscriptionState = "subscription_inactive"
)

// approachingLimitFraction triggers the approaching_limit warning when
// a run writes this fraction of the plan's per-run cap.
const approachingLimitFraction = 0.8

// subscriptionState derives a user's state from their plan fields.
func subscriptionState(u *store.User, now time.Time) SubscriptionState {
	switch u.SubscriptionStatus {
	case "active", "cancel_at_period_end":
		// cancel_at_period_end stays usable until the period lapses;
		// billing flips the status to deleted when it does.
		return StateSubscribed
	case "past_due", "deleted":
		return StateSubscriptionInactive
	}

	if u.TrialEndsAt != nil {
		if now.Before(*u.TrialEndsAt) {
			return StateTrialActive
		}

		return StateTrialExpired
	}

	// No subscription and no trial on record: treat as an expired
	// trial so the user is prompted to subscribe rather than silently
	// synced for free.
	return StateTrialExpired
}

// shouldPauseSyncs reports whether the plan guard blocks runs.
func shouldPauseSyncs(state SubscriptionState) bool {
	return state == StateTrialExpired || state == StateSubscriptionInactive
}

// checkRecordCap enforces the plan's per-run record ceiling.
// maxRecords 0 disables the cap. Returns the allowed count and whether
// the approaching-limit warning applies.
func checkRecordCap(requested, maxRecords int) (allowed int, nearLimit bool) {
	if maxRecords <= 0 {
		return requested, false
	}

	allowed = min(requested, maxRecords)
	nearLimit = float64(allowed) >= approachingLimitFraction*float64(maxRecords)

	return allowed, nearLimit
}
