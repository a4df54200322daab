package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/genius/internal/proxy"
)

func TestOpenRouter_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"  an answer  "}}]}`)
	}))
	defer srv.Close()

	c := NewOpenRouter(proxy.NewClientWithBaseURL("k", srv.URL), "test/model")
	got, err := c.Complete(context.Background(), Request{System: "sys", User: "hi", MaxTokens: 50, Temperature: 0.5})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "an answer" {
		t.Errorf("got %q, want %q", got, "an answer")
	}
}

func TestOpenRouter_EmptyContent(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"no choices", `{"choices":[]}`},
		{"blank content", `{"choices":[{"message":{"content":"   "}}]}`},
		{"malformed", `not json`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			c := NewOpenRouter(proxy.NewClientWithBaseURL("k", srv.URL), "m")
			_, err := c.Complete(context.Background(), Request{User: "hi"})
			if !IsCompletionError(err) {
				t.Fatalf("err = %v, want *CompletionError", err)
			}
		})
	}
}

func TestOpenRouter_UnauthorizedIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewOpenRouter(proxy.NewClientWithBaseURL("k", srv.URL), "m")
	_, err := c.Complete(context.Background(), Request{User: "hi"})
	var ce *CompletionError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want *CompletionError", err)
	}
	if !ce.Permanent {
		t.Error("401 should be permanent")
	}
}

func TestRetry_RetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	inner := CompleterFunc(func(ctx context.Context, req Request) (string, error) {
		if calls.Add(1) < 3 {
			return "", &CompletionError{Provider: "fake", Err: errors.New("boom")}
		}
		return "ok", nil
	})

	got, err := Retry(inner, 3, time.Millisecond).Complete(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "ok" || calls.Load() != 3 {
		t.Errorf("got %q after %d calls, want ok after 3", got, calls.Load())
	}
}

func TestRetry_StopsOnPermanent(t *testing.T) {
	var calls atomic.Int32
	inner := CompleterFunc(func(ctx context.Context, req Request) (string, error) {
		calls.Add(1)
		return "", &CompletionError{Provider: "fake", Permanent: true, Err: errors.New("bad key")}
	})

	_, err := Retry(inner, 5, time.Millisecond).Complete(context.Background(), Request{})
	if !IsCompletionError(err) {
		t.Fatalf("err = %v, want *CompletionError", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestRetry_Exhausted(t *testing.T) {
	var calls atomic.Int32
	inner := CompleterFunc(func(ctx context.Context, req Request) (string, error) {
		calls.Add(1)
		return "", &CompletionError{Provider: "fake", Err: ErrEmptyContent}
	})

	_, err := Retry(inner, 2, time.Millisecond).Complete(context.Background(), Request{})
	if !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("err = %v, want ErrEmptyContent", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	inner := CompleterFunc(func(ctx context.Context, req Request) (string, error) {
		cancel()
		return "", &CompletionError{Provider: "fake", Err: errors.New("boom")}
	})

	_, err := Retry(inner, 3, time.Hour).Complete(ctx, Request{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
