package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kalambet/genius/internal/archetype"
	"github.com/kalambet/genius/internal/synth"
)

// InvalidInputError rejects a request before any processing starts.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid input: %s: %s", e.Field, e.Reason)
}

// LayerProcessingError reports a layer (or a chunk of layers) that failed
// after its retries.
type LayerProcessingError struct {
	Layer int
	Err   error
}

func (e *LayerProcessingError) Error() string {
	return fmt.Sprintf("processing layer %d: %v", e.Layer, e.Err)
}

func (e *LayerProcessingError) Unwrap() error { return e.Err }

// TimeoutMessage is shown to callers whose direct run timed out.
const TimeoutMessage = "processing taking longer than expected, try lower depth"

// TimeoutError is returned when a direct run exceeds its deadline.
type TimeoutError struct {
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s (timed out after %s)", TimeoutMessage, e.After)
}

// Error categories shown to callers.
const (
	CategoryInvalidInput    = "invalid_input"
	CategoryTimeout         = "timeout"
	CategoryProcessingError = "processing_error"
)

// Category maps err to one of the three user-visible buckets.
func Category(err error) string {
	var inv *InvalidInputError
	var to *TimeoutError
	switch {
	case errors.As(err, &inv), errors.Is(err, archetype.ErrInvalid), errors.Is(err, synth.ErrNoContributions):
		return CategoryInvalidInput
	case errors.As(err, &to), errors.Is(err, context.DeadlineExceeded):
		return CategoryTimeout
	default:
		return CategoryProcessingError
	}
}
