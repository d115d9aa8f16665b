package domain

import "errors"

var (
	// ErrTaskNotFound signals a missing or already reclaimed task.
	ErrTaskNotFound = errors.New("task not found")
	// ErrInvalidMatrix signals a search matrix that cannot be executed.
	ErrInvalidMatrix = errors.New("invalid search matrix")
	// ErrNoSuchElement signals iteration past the end of a result set.
	ErrNoSuchElement = errors.New("no such element")
	// ErrNoResults signals a task that has no result set attached.
	ErrNoResults = errors.New("no results available")
	// ErrResultsUnavailable signals a result set whose backing file cannot be opened.
	ErrResultsUnavailable = errors.New("results unavailable")
	// ErrUnknownIDFormat signals a match identifier in none of the known encodings.
	ErrUnknownIDFormat = errors.New("unknown match identifier format")
	// ErrStoreExhausted signals that no pooled graph store could be checked out.
	ErrStoreExhausted = errors.New("graph store pool exhausted")
)
