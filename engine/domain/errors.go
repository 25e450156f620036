package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Sentinel errors.
var (
	ErrNotFound           = errors.New("not found")
	ErrUnroutableCategory = errors.New("category has no collection")
	ErrRunInProgress      = errors.New("run already in progress")
	ErrAllChunksFailed    = errors.New("every scoring chunk failed")
	ErrEmptyContent       = errors.New("no usable content")
	ErrInvalidPosting     = errors.New("invalid posting")
	ErrInvalidRequest     = errors.New("invalid match request")
)

// ValidationError wraps a sentinel with context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}

// FetchError is a permanent fetch failure: the retry budget was spent or the
// source answered with a non-retryable status.
type FetchError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: failed after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ExtractionError reports that raw content could not be turned into
// structured fields.
type ExtractionError struct {
	Source string
	Err    error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Source, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// IndexError reports a failed step of the delete-then-insert sequence.
type IndexError struct {
	Collection string
	PostingID  uuid.UUID
	Op         string
	Err        error
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("index %s/%s: %s: %v", e.Collection, e.PostingID, e.Op, e.Err)
}

func (e *IndexError) Unwrap() error { return e.Err }

// ScoringError reports a failed or malformed scoring call for one chunk.
type ScoringError struct {
	Chunk int
	Err   error
}

func (e *ScoringError) Error() string {
	return fmt.Sprintf("score chunk %d: %v", e.Chunk, e.Err)
}

func (e *ScoringError) Unwrap() error { return e.Err }
