package schedule

import (
	"errors"
	"fmt"
)

// ErrInvalidDocument is the base error for structurally invalid schedules
var ErrInvalidDocument = errors.New("invalid schedule document")

// ImportCycleError indicates a schedule import chain loops back on itself.
type ImportCycleError struct {
	Path string
}

// Error implements the error interface
func (e *ImportCycleError) Error() string {
	return fmt.Sprintf("import cycle detected at %s", e.Path)
}

// UnknownCollectionError indicates a content definition references a
// collection the resolver does not know, and no usable fallback was given.
type UnknownCollectionError struct {
	ContentKey string
	Collection string
	Cause      error
}

// Error implements the error interface
func (e *UnknownCollectionError) Error() string {
	return fmt.Sprintf("content %q: unknown collection %q", e.ContentKey, e.Collection)
}

// Unwrap implements error unwrapping for errors.Is and errors.As
func (e *UnknownCollectionError) Unwrap() error {
	return e.Cause
}

// SequenceRecursionError indicates sequence references nest past the
// recursion limit, which in practice means they are cyclic.
type SequenceRecursionError struct {
	Sequence string
	Depth    int
}

// Error implements the error interface
func (e *SequenceRecursionError) Error() string {
	return fmt.Sprintf("sequence %q exceeds recursion limit (depth %d)", e.Sequence, e.Depth)
}
