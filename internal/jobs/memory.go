package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/genius/internal/pipeline"
)

// Memory is an in-process Queue for local runs and tests.
type Memory struct {
	mu    sync.Mutex
	jobs  map[string]*Job
	order []string
}

// NewMemory creates an empty in-memory queue.
func NewMemory() *Memory {
	return &Memory{jobs: make(map[string]*Job)}
}

func (m *Memory) CreateJob(_ context.Context, req pipeline.Request) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	id := uuid.New().String()
	m.jobs[id] = &Job{
		ID:              id,
		Status:          StatusPending,
		Question:        req.Question,
		ProcessingDepth: req.ProcessingDepth,
		CircuitType:     req.CircuitType,
		EnhancedMode:    req.EnhancedMode,
		Request:         req,
		Progress:        Progress{TotalLayers: req.ProcessingDepth, Phase: "queued"},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	m.order = append(m.order, id)
	return id, nil
}

// active returns the job if it exists and is not terminal.
func (m *Memory) active(id string) (*Job, error) {
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if j.Status.Terminal() {
		return nil, ErrFinished
	}
	return j, nil
}

func (m *Memory) UpdateProgress(_ context.Context, id string, p Progress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, err := m.active(id)
	if err != nil {
		return err
	}
	j.Status = StatusProcessing
	j.Progress = p
	j.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) AppendResults(_ context.Context, id, label string, layers []pipeline.Layer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, err := m.active(id)
	if err != nil {
		return err
	}
	j.Results = append(j.Results, ChunkResult{Label: label, Layers: append([]pipeline.Layer(nil), layers...)})
	j.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) CompleteJob(_ context.Context, id string, res *pipeline.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, err := m.active(id)
	if err != nil {
		return err
	}
	j.Status = StatusCompleted
	j.FinalResults = res
	j.Progress.Phase = "completed"
	j.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) FailJob(_ context.Context, id, msg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, err := m.active(id)
	if err != nil {
		return err
	}
	j.Status = StatusFailed
	j.Error = msg
	j.Progress.Phase = "failed"
	j.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) CancelJob(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, err := m.active(id)
	if err != nil {
		return err
	}
	j.Status = StatusCancelled
	j.Progress.Phase = "cancelled"
	j.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) GetJob(_ context.Context, id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *j
	cp.Results = append([]ChunkResult(nil), j.Results...)
	return &cp, nil
}

func (m *Memory) ClaimNext(_ context.Context) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.order {
		j := m.jobs[id]
		if j.Status != StatusPending {
			continue
		}
		j.Status = StatusProcessing
		j.Progress.Phase = "claimed"
		j.UpdatedAt = time.Now().UTC()
		cp := *j
		return &cp, nil
	}
	return nil, nil
}
