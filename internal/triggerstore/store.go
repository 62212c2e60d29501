// Package triggerstore implements durable persistence of triggers keyed
// by (project, id), with a secondary lookup by (project, name),
// paginated listing, and a status filter.
package triggerstore

import (
	"context"

	"github.com/dhima/cronback-scheduler/internal/model"
)

// Store persists triggers.
type Store interface {
	// Insert fails with core.AlreadyExistsError on (project, name) or id
	// collision.
	Insert(ctx context.Context, trigger *model.Trigger) error

	// Update replaces the row matched by (project, id). Fails with
	// core.NotFoundError if no row matches both, enforcing tenant
	// isolation in the WHERE clause rather than leaking cross-tenant
	// existence.
	Update(ctx context.Context, trigger *model.Trigger) error

	Delete(ctx context.Context, projectID, id string) error
	DeleteAllByProject(ctx context.Context, projectID string) error

	GetByName(ctx context.Context, projectID, name string) (*model.Trigger, error)
	FindIDByName(ctx context.Context, projectID, name string) (string, error)
	GetStatus(ctx context.Context, projectID, name string) (model.Status, error)

	// ListAlive returns every trigger whose status is Scheduled or
	// Paused, across all projects. Used exactly once, at startup.
	ListAlive(ctx context.Context) ([]*model.Trigger, error)

	ListByProject(ctx context.Context, projectID string, query model.ListTriggersQuery) (model.Page[*model.Trigger], error)
}
