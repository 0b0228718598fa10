package domain

import "errors"

var (
	// ErrNotFound indicates that the item does not exist within the caller's
	// owner scope.
	ErrNotFound = errors.New("not found")

	// ErrInvalidOrder indicates a requested position below the first slot.
	ErrInvalidOrder = errors.New("order must be 1 or greater")

	// ErrConflictingUpdate indicates that a single patch touched more than one
	// update group.
	ErrConflictingUpdate = errors.New("only one type of update is allowed per request")

	// ErrDuplicateNote indicates that a note already exists for the date.
	ErrDuplicateNote = errors.New("note already exists for this date")

	// ErrConcurrencyConflict indicates that the underlying storage rejected a
	// write because another request modified the same entities first.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)
