package jobs

import (
	"context"
	"time"

	"github.com/kalambet/genius/internal/pipeline"
)

// Notifying wraps a Queue so that every successful write is also published.
type Notifying struct {
	Queue
	pub Publisher
}

// WithEvents returns q with writes published to pub.
func WithEvents(q Queue, pub Publisher) *Notifying {
	return &Notifying{Queue: q, pub: pub}
}

func (n *Notifying) UpdateProgress(ctx context.Context, id string, p Progress) error {
	if err := n.Queue.UpdateProgress(ctx, id, p); err != nil {
		return err
	}
	n.pub.Publish(ctx, Event{JobID: id, Type: EventProgress, Status: StatusProcessing, Progress: &p, At: time.Now()})
	return nil
}

func (n *Notifying) AppendResults(ctx context.Context, id, label string, layers []pipeline.Layer) error {
	if err := n.Queue.AppendResults(ctx, id, label, layers); err != nil {
		return err
	}
	n.pub.Publish(ctx, Event{JobID: id, Type: EventResults, Label: label, Layers: len(layers), At: time.Now()})
	return nil
}

func (n *Notifying) CompleteJob(ctx context.Context, id string, res *pipeline.Result) error {
	if err := n.Queue.CompleteJob(ctx, id, res); err != nil {
		return err
	}
	n.pub.Publish(ctx, Event{JobID: id, Type: EventCompleted, Status: StatusCompleted, Layers: len(res.Layers), At: time.Now()})
	return nil
}

func (n *Notifying) FailJob(ctx context.Context, id, msg string) error {
	if err := n.Queue.FailJob(ctx, id, msg); err != nil {
		return err
	}
	n.pub.Publish(ctx, Event{JobID: id, Type: EventFailed, Status: StatusFailed, Error: msg, At: time.Now()})
	return nil
}

func (n *Notifying) CancelJob(ctx context.Context, id string) error {
	if err := n.Queue.CancelJob(ctx, id); err != nil {
		return err
	}
	n.pub.Publish(ctx, Event{JobID: id, Type: EventCancelled, Status: StatusCancelled, At: time.Now()})
	return nil
}
