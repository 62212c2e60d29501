// Package runstore implements durable persistence of runs (one per
// firing) and attempts (one per delivery try), with pagination by
// trigger and project.
package runstore

import (
	"context"

	"github.com/dhima/cronback-scheduler/internal/model"
)

// RunStore persists runs and their terminal status.
type RunStore interface {
	// StoreRun persists a run. Storing a run whose id is already present
	// does not fail (the MySQL store keeps the existing snapshot and
	// updates its status and latest attempt id); startup recovery
	// resubmits runs that are already stored.
	StoreRun(ctx context.Context, run *model.Run) error

	// UpdateRun is tenant-guarded like triggerstore.Update: fails with
	// core.NotFoundError if no row matches (project, id).
	UpdateRun(ctx context.Context, run *model.Run) error

	GetRun(ctx context.Context, projectID, runID string) (*model.Run, error)

	// ListRunsByTrigger joins each run with its latest attempt so a
	// listing can show a delivery summary without a second round-trip.
	ListRunsByTrigger(ctx context.Context, projectID string, query model.ListRunsQuery) (model.Page[*model.RunSummary], error)

	// ListRunsByStatus is startup-recovery-only; it is not tenant-scoped
	// since recovery runs before any project context exists.
	ListRunsByStatus(ctx context.Context, status model.RunStatus) ([]*model.Run, error)
}

// AttemptStore persists delivery attempts.
type AttemptStore interface {
	// LogAttempt is insert-only; attempts are never updated or deleted.
	LogAttempt(ctx context.Context, attempt *model.Attempt) error

	ListAttemptsForRun(ctx context.Context, projectID string, query model.ListAttemptsQuery) (model.Page[*model.Attempt], error)
}
