package core

import "github.com/google/uuid"

// Ids carry a type tag, the owning project as the shard component, and a
// time-ordered UUIDv7 suffix. Within one shard the suffix is
// monotonically increasing, so lexicographic order of ids matches
// insertion order; cursor pagination (id < cursor, ORDER BY id DESC)
// depends on this.

func newID(tag, projectID string) string {
	return tag + "_" + projectID + "_" + uuid.Must(uuid.NewV7()).String()
}

// NewTriggerID returns a fresh trigger id in projectID's shard.
func NewTriggerID(projectID string) string { return newID("trig", projectID) }

// NewRunID returns a fresh run id in projectID's shard.
func NewRunID(projectID string) string { return newID("run", projectID) }

// NewAttemptID returns a fresh attempt id in projectID's shard.
func NewAttemptID(projectID string) string { return newID("att", projectID) }
