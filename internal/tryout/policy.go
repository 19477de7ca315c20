package tryout

import "time"

// priorAttempt is the most recent non-deleted attempt of a (user, exam) pair.
type priorAttempt struct {
	Status   Status
	Deadline time.Time
}

type startPlan struct {
	Outcome Outcome
	// SettleLatest asks for the prior attempt to be graded before anything
	// else happens in the transaction.
	SettleLatest bool
	// Ordinal of the attempt to create; zero when resuming.
	Ordinal int
}

// decideStart applies the start state machine. usedOrdinal is the highest
// ordinal ever issued for the pair, soft-deleted attempts included, so
// ordinals are never reused. When the limit is reached the returned plan still
// carries SettleLatest so an expired attempt gets graded.
func decideStart(prior *priorAttempt, usedOrdinal, maxAttempts int, now time.Time) (startPlan, error) {
	var plan startPlan

	switch {
	case prior == nil:
		plan.Outcome = OutcomeCreated
	case prior.Status == StatusOngoing && !now.After(prior.Deadline):
		return startPlan{Outcome: OutcomeResumed}, nil
	case prior.Status == StatusOngoing:
		plan.Outcome = OutcomeCreatedAfterExpiry
		plan.SettleLatest = true
	case prior.Status == StatusTimeUp:
		plan.Outcome = OutcomeCreatedAfterCompletion
		plan.SettleLatest = true
	default:
		plan.Outcome = OutcomeCreatedAfterCompletion
	}

	next := usedOrdinal + 1
	if next > maxAttempts {
		return startPlan{SettleLatest: plan.SettleLatest}, ErrAttemptLimitExceeded
	}
	plan.Ordinal = next
	return plan, nil
}

// remainingSeconds is zero for anything but a live ongoing attempt.
func remainingSeconds(status Status, deadline, now time.Time) int64 {
	if status != StatusOngoing {
		return 0
	}
	remaining := deadline.Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int64(remaining.Seconds())
}
