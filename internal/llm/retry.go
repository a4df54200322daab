package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Retry wraps next so that retryable completion errors are retried up to
// maxAttempts times with exponential backoff starting at baseDelay.
// Permanent errors and context cancellation stop immediately.
func Retry(next Completer, maxAttempts int, baseDelay time.Duration) Completer {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = 300 * time.Millisecond
	}
	return &retrying{next: next, max: maxAttempts, base: baseDelay}
}

type retrying struct {
	next Completer
	max  int
	base time.Duration
}

func (r *retrying) Complete(ctx context.Context, req Request) (string, error) {
	var last error
	for i := 0; i < r.max; i++ {
		out, err := r.next.Complete(ctx, req)
		if err == nil {
			return out, nil
		}
		var ce *CompletionError
		if errors.As(err, &ce) && ce.Permanent {
			return "", err
		}
		last = err
		if i == r.max-1 {
			break
		}
		slog.Debug("completion failed, retrying", "attempt", i+1, "error", err)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(r.base * time.Duration(1<<i)):
		}
	}
	return "", last
}
