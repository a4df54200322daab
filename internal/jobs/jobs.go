// Package jobs defines the job store contract used by chunked runs.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kalambet/genius/internal/pipeline"
)

// Status is a job lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

var (
	// ErrNotFound is returned for unknown job ids.
	ErrNotFound = errors.New("job not found")
	// ErrFinished is returned when writing to a job that already reached a
	// terminal state, for example one cancelled while it was running.
	ErrFinished = errors.New("job already finished")
)

// StoreError wraps a failure of the job store itself. The runner treats it
// as fatal for the run.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("job store %s: %v", e.Op, e.Err) }

func (e *StoreError) Unwrap() error { return e.Err }

// ChunkProgress describes progress through the chunks of a run.
type ChunkProgress struct {
	Current               int     `json:"currentChunk"`
	Total                 int     `json:"totalChunks"`
	BreakthroughPotential int     `json:"breakthroughPotential"`
	TensionLevel          float64 `json:"tensionLevel"`
}

// Progress is the job's latest progress report.
type Progress struct {
	CurrentLayer int           `json:"currentLayer"`
	TotalLayers  int           `json:"totalLayers"`
	Phase        string        `json:"phase"`
	Chunk        ChunkProgress `json:"chunkProgress"`
}

// ChunkResult is one batch of layers appended by the runner.
type ChunkResult struct {
	Label  string           `json:"label"`
	Layers []pipeline.Layer `json:"layers"`
}

// Job is the store's view of a chunked run.
type Job struct {
	ID              string               `json:"id"`
	Status          Status               `json:"status"`
	Question        string               `json:"question"`
	ProcessingDepth int                  `json:"processingDepth"`
	CircuitType     pipeline.CircuitType `json:"circuitType"`
	EnhancedMode    bool                 `json:"enhancedMode"`
	Request         pipeline.Request     `json:"request"`
	Progress        Progress             `json:"progress"`
	Results         []ChunkResult        `json:"results,omitempty"`
	FinalResults    *pipeline.Result     `json:"finalResults,omitempty"`
	Error           string               `json:"error,omitempty"`
	CreatedAt       time.Time            `json:"createdAt"`
	UpdatedAt       time.Time            `json:"updatedAt"`
}

// Store is the job sink a chunked run writes into.
type Store interface {
	CreateJob(ctx context.Context, req pipeline.Request) (string, error)
	// UpdateProgress records progress and moves a pending job to processing.
	UpdateProgress(ctx context.Context, id string, p Progress) error
	AppendResults(ctx context.Context, id, label string, layers []pipeline.Layer) error
	CompleteJob(ctx context.Context, id string, res *pipeline.Result) error
	FailJob(ctx context.Context, id, msg string) error
	GetJob(ctx context.Context, id string) (*Job, error)
}

// Queue is a Store that hands pending jobs to workers.
type Queue interface {
	Store
	// ClaimNext marks the oldest pending job processing and returns it, or
	// returns nil when none is pending.
	ClaimNext(ctx context.Context) (*Job, error)
	CancelJob(ctx context.Context, id string) error
}

// Event is a job change delivered to watchers.
type Event struct {
	JobID    string    `json:"jobId"`
	Type     string    `json:"type"`
	Status   Status    `json:"status,omitempty"`
	Progress *Progress `json:"progress,omitempty"`
	Label    string    `json:"label,omitempty"`
	Layers   int       `json:"layers,omitempty"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

// Event types.
const (
	EventProgress  = "progress"
	EventResults   = "results"
	EventCompleted = "completed"
	EventFailed    = "failed"
	EventCancelled = "cancelled"
)

// Publisher delivers events to watchers.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// Watcher streams a job's events until cancel is called.
type Watcher interface {
	Watch(ctx context.Context, jobID string) (events <-chan Event, cancel func(), err error)
}
