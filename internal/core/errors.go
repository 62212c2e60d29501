// Package core holds the error taxonomy and id scheme shared by every
// scheduling and dispatch component.
package core

import "fmt"

// NotFoundError means the requested trigger/run/attempt does not exist for
// this project. Also returned for tenant mismatches so the caller cannot
// distinguish "no such row" from "row belongs to another project".
type NotFoundError struct {
	Kind string // "trigger", "run", "attempt"
	Ref  string // name or id
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Ref)
}

// NotFound constructs a NotFoundError.
func NotFound(kind, ref string) error {
	return &NotFoundError{Kind: kind, Ref: ref}
}

// AlreadyExistsError means a unique-name violation on create.
type AlreadyExistsError struct {
	Name string
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("already exists: %s", e.Name)
}

// AlreadyExists constructs an AlreadyExistsError.
func AlreadyExists(name string) error {
	return &AlreadyExistsError{Name: name}
}

// InvalidStatusError means a state-machine transition was refused.
type InvalidStatusError struct {
	Op      string
	Current string
}

func (e *InvalidStatusError) Error() string {
	return fmt.Sprintf("invalid_status: cannot %s while status is %s", e.Op, e.Current)
}

// InvalidStatus constructs an InvalidStatusError.
func InvalidStatus(op, current string) error {
	return &InvalidStatusError{Op: op, Current: current}
}

// InvalidArgumentError means a cron/timezone/timepoints/URL/timeout
// validation failure.
type InvalidArgumentError struct {
	Message string
}

func (e *InvalidArgumentError) Error() string {
	return e.Message
}

// InvalidArgument constructs an InvalidArgumentError.
func InvalidArgument(format string, args ...interface{}) error {
	return &InvalidArgumentError{Message: fmt.Sprintf(format, args...)}
}

// StoreError wraps an underlying persistence failure. Always retried by the
// checkpoint loop; surfaced to external callers as Internal.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store error during %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Store wraps err as a StoreError, or returns nil if err is nil.
func Store(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// DispatchErrorT means a run could not be submitted before any attempt was
// made. Surfaced only to synchronous run_trigger callers.
type DispatchErrorT struct {
	Message string
}

func (e *DispatchErrorT) Error() string { return e.Message }

// DispatchError constructs a DispatchErrorT.
func DispatchError(format string, args ...interface{}) error {
	return &DispatchErrorT{Message: fmt.Sprintf(format, args...)}
}
