package model

// Pagination is cursor-based: Cursor is the last-seen id from the previous
// page, and rows are ordered by id descending ("newer first"). NextCursor
// is empty when no further page exists.
type Pagination struct {
	Cursor string
	Limit  int
}

// Page wraps a result page plus its continuation cursor.
type Page[T any] struct {
	Items      []T
	NextCursor string
}

// ListTriggersQuery filters a Trigger Store list_by_project call.
type ListTriggersQuery struct {
	Pagination   Pagination
	StatusFilter *Status
}

// ListRunsQuery filters a Run Store list_runs_by_trigger call.
type ListRunsQuery struct {
	Pagination Pagination
	TriggerID  string
}

// ListAttemptsQuery filters an Attempt Store list_attempts_for_run call.
type ListAttemptsQuery struct {
	Pagination Pagination
	RunID      string
}
