package llm

import (
	"context"
	"errors"
	"fmt"
)

// Request is a single text-completion call: a system prompt, a user prompt,
// and sampling limits.
type Request struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float64
}

// Completer is the opaque text-completion capability the pipeline depends on.
// Implementations must return a *CompletionError for provider failures
// (non-success status, transport error, empty content).
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// CompleterFunc adapts a function to the Completer interface.
type CompleterFunc func(ctx context.Context, req Request) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// ErrEmptyContent is wrapped when a provider answers with no usable text.
var ErrEmptyContent = errors.New("empty completion content")

// CompletionError reports a failed or unusable completion call. It is
// retryable unless Permanent is set.
type CompletionError struct {
	Provider  string
	Permanent bool
	Err       error
}

func (e *CompletionError) Error() string {
	return fmt.Sprintf("%s completion failed: %v", e.Provider, e.Err)
}

func (e *CompletionError) Unwrap() error { return e.Err }

// IsCompletionError reports whether err is or wraps a *CompletionError.
func IsCompletionError(err error) bool {
	var ce *CompletionError
	return errors.As(err, &ce)
}
