package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/kalambet/genius/internal/jobs"
)

const eventBuffer = 16

// Publish sends ev to the job's events channel. Delivery is at most once;
// failures are logged and dropped.
func (s *Store) Publish(ctx context.Context, ev jobs.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		slog.Warn("marshaling job event failed", "job_id", ev.JobID, "error", err)
		return
	}
	if err := s.rdb.Publish(ctx, eventsChannel(ev.JobID), payload).Err(); err != nil {
		slog.Warn("publishing job event failed", "job_id", ev.JobID, "type", ev.Type, "error", err)
	}
}

// Watch subscribes to jobID's events. The subscription is confirmed before
// Watch returns, so events published afterwards are not missed. The events
// channel is closed after cancel is called or ctx is done.
func (s *Store) Watch(ctx context.Context, jobID string) (<-chan jobs.Event, func(), error) {
	pubsub := s.rdb.Subscribe(ctx, eventsChannel(jobID))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, nil, fmt.Errorf("subscribing to job %s events: %w", jobID, err)
	}

	out := make(chan jobs.Event, eventBuffer)
	subCtx, cancel := context.WithCancel(ctx)

	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev jobs.Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					slog.Warn("dropping malformed job event", "job_id", jobID, "error", err)
					continue
				}
				select {
				case out <- ev:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return out, cancel, nil
}

var (
	_ jobs.Publisher = (*Store)(nil)
	_ jobs.Watcher   = (*Store)(nil)
)
