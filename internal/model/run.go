package model

import "time"

// RunStatus is a run's lifecycle state. A run is created Attempting and
// transitions exactly once to a terminal state.
type RunStatus string

const (
	RunAttempting RunStatus = "Attempting"
	RunSucceeded  RunStatus = "Succeeded"
	RunFailed     RunStatus = "Failed"
)

// Run is one firing attempt-sequence of a trigger.
type Run struct {
	ID              string
	TriggerID       string
	ProjectID       string
	CreatedAt       time.Time
	Action          Action  // snapshot at dispatch time
	Payload         *Payload // snapshot at dispatch time
	Status          RunStatus
	LatestAttemptID string
}

// RunSummary is a run joined with its latest attempt, so listings can
// show a delivery summary without a second round-trip. LatestAttempt is
// nil when no attempt has been made yet.
type RunSummary struct {
	Run
	LatestAttempt *Attempt
}

// AttemptStatus is one HTTP delivery try's outcome.
type AttemptStatus string

const (
	AttemptSucceeded AttemptStatus = "Succeeded"
	AttemptFailed    AttemptStatus = "Failed"
)

// AttemptDetails carries the observable outcome of one delivery try.
type AttemptDetails struct {
	ResponseCode    *int
	ResponseLatency time.Duration
	ErrorMessage    *string
}

// Attempt is one HTTP delivery try inside a Run. Append-only: every
// attempt is persisted even on eventual success.
type Attempt struct {
	ID         string
	RunID      string
	TriggerID  string
	ProjectID  string
	Status     AttemptStatus
	Details    AttemptDetails
	AttemptNum int // 1-based
	CreatedAt  time.Time
}
