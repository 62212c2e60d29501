// Package model holds the domain types shared across every scheduling and
// dispatch component: Trigger, Schedule, Action, Payload, RetryPolicy, Run
// and Attempt.
package model

import "time"

// Status is a trigger's lifecycle state.
type Status string

const (
	StatusScheduled Status = "Scheduled"
	StatusPaused    Status = "Paused"
	StatusOnDemand  Status = "OnDemand"
	StatusCancelled Status = "Cancelled"
	StatusExpired   Status = "Expired"
)

// Alive reports whether a status belongs in the Active Trigger Map.
func (s Status) Alive() bool {
	return s == StatusScheduled || s == StatusPaused
}

// Terminal reports whether a status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusExpired
}

// ScheduleKind discriminates the Schedule tagged variant.
type ScheduleKind string

const (
	ScheduleRecurring ScheduleKind = "Recurring"
	ScheduleRunAt     ScheduleKind = "RunAt"
)

// Schedule is a tagged union: either a cron recurrence or an explicit list
// of timepoints. Exactly one of the two payload fields is meaningful,
// selected by Kind.
type Schedule struct {
	Kind ScheduleKind

	// Recurring fields.
	Cron      string
	Timezone  string // IANA zone name; empty means UTC
	Limit     *int   // total runs allowed, nil = unbounded

	// RunAt fields.
	Timepoints []time.Time // 1..5000 distinct, second precision

	// Remaining is scheduler-owned: the number of future firings left.
	// For Recurring it mirrors Limit until consumed; for RunAt it starts
	// as len(Timepoints) minus any already-past ones.
	Remaining *int
}

// ActionKind discriminates the Action tagged variant. Webhook is the only
// variant today.
type ActionKind string

const ActionWebhook ActionKind = "Webhook"

// HTTPMethod restricts Action.Method to the methods a webhook may use.
type HTTPMethod string

const (
	MethodGET    HTTPMethod = "GET"
	MethodPOST   HTTPMethod = "POST"
	MethodPUT    HTTPMethod = "PUT"
	MethodDELETE HTTPMethod = "DELETE"
	MethodPATCH  HTTPMethod = "PATCH"
	MethodHEAD   HTTPMethod = "HEAD"
)

// RetryKind discriminates the RetryPolicy tagged variant.
type RetryKind string

const (
	RetryNone    RetryKind = "None"
	RetrySimple  RetryKind = "Simple"
	RetryExpBack RetryKind = "ExponentialBackoff"
)

// RetryPolicy controls how many times, and with what delay, a webhook
// dispatch job retries a failing run.
type RetryPolicy struct {
	Kind            RetryKind
	MaxNumAttempts  int           // Simple, ExponentialBackoff
	Delay           time.Duration // Simple: fixed delay. ExponentialBackoff: base delay.
	MaxDelay        time.Duration // ExponentialBackoff only: cap
}

// Action is the tagged Action variant. Only Webhook exists today; Kind is
// kept so a future variant does not require restructuring callers.
type Action struct {
	Kind    ActionKind
	URL     string
	Method  HTTPMethod
	Timeout time.Duration // validated in [1s, 30s]
	Retry   RetryPolicy
}

// Payload is the optional request body attached to a trigger's action.
type Payload struct {
	ContentType string
	Headers     map[string]string // at most 30 entries
	Body        []byte            // at most 1 MiB
}

// Trigger is the scheduled unit: a tenant-owned schedule+action.
type Trigger struct {
	ID          string
	ProjectID   string
	Name        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   *time.Time

	Action  Action
	Payload *Payload

	// Schedule is nil for OnDemand triggers.
	Schedule *Schedule

	Status Status

	// LastRanAt is scheduler-owned and never accepted from clients.
	LastRanAt *time.Time
}

// DerivedStatus returns the initial status implied by the presence of a
// schedule: Scheduled if one is set, OnDemand otherwise.
func DerivedStatus(schedule *Schedule) Status {
	if schedule != nil {
		return StatusScheduled
	}
	return StatusOnDemand
}
