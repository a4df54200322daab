// Package events fans job events out to in-process watchers.
package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/kalambet/genius/internal/jobs"
)

const watcherBuffer = 16

// Hub is an in-process jobs.Publisher and jobs.Watcher. A slow watcher
// loses events rather than blocking the publisher.
type Hub struct {
	mu       sync.Mutex
	watchers map[string]map[*watcher]struct{}
}

type watcher struct {
	ch   chan jobs.Event
	once sync.Once
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{watchers: make(map[string]map[*watcher]struct{})}
}

// Publish delivers ev to every watcher of ev.JobID.
func (h *Hub) Publish(_ context.Context, ev jobs.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for w := range h.watchers[ev.JobID] {
		select {
		case w.ch <- ev:
		default:
			slog.Warn("dropping job event for slow watcher", "job_id", ev.JobID, "type", ev.Type)
		}
	}
}

// Watch registers a watcher for jobID. The channel is closed when cancel is
// called or ctx is done.
func (h *Hub) Watch(ctx context.Context, jobID string) (<-chan jobs.Event, func(), error) {
	w := &watcher{ch: make(chan jobs.Event, watcherBuffer)}

	h.mu.Lock()
	if h.watchers[jobID] == nil {
		h.watchers[jobID] = make(map[*watcher]struct{})
	}
	h.watchers[jobID][w] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		w.once.Do(func() {
			h.mu.Lock()
			delete(h.watchers[jobID], w)
			if len(h.watchers[jobID]) == 0 {
				delete(h.watchers, jobID)
			}
			h.mu.Unlock()
			close(w.ch)
		})
	}
	stop := context.AfterFunc(ctx, cancel)

	return w.ch, func() {
		stop()
		cancel()
	}, nil
}

// Watchers returns the number of active watchers for jobID.
func (h *Hub) Watchers(jobID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.watchers[jobID])
}

var (
	_ jobs.Publisher = (*Hub)(nil)
	_ jobs.Watcher   = (*Hub)(nil)
)
