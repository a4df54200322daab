// Package redisstore implements the job queue and job events on Redis so that
// API servers and workers on different hosts share one view of chunked runs.
//
// Each job is a hash at genius:job:{id}; its chunk results are a list at
// genius:job:{id}:results. Pending ids wait on genius:jobs:pending and events
// are published to genius:job:{id}:events.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/kalambet/genius/internal/jobs"
	"github.com/kalambet/genius/internal/pipeline"
)

const (
	pendingKey = "genius:jobs:pending"
	txRetries  = 5
)

func jobKey(id string) string     { return "genius:job:" + id }
func resultsKey(id string) string { return "genius:job:" + id + ":results" }
func eventsChannel(id string) string {
	return "genius:job:" + id + ":events"
}

// Store is a Redis-backed jobs.Queue.
// It is safe for concurrent use.
type Store struct {
	rdb *redis.Client
}

// New connects to Redis with opts.
func New(opts *redis.Options) *Store {
	return &Store{rdb: redis.NewClient(opts)}
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// Ping verifies Redis connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) CreateJob(ctx context.Context, req pipeline.Request) (string, error) {
	reqJSON, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}
	progressJSON, err := json.Marshal(jobs.Progress{TotalLayers: req.ProcessingDepth, Phase: "queued"})
	if err != nil {
		return "", fmt.Errorf("marshaling progress: %w", err)
	}

	id := uuid.New().String()
	now := timestamp()
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, jobKey(id), map[string]any{
			"id":               id,
			"question":         req.Question,
			"processing_depth": req.ProcessingDepth,
			"circuit_type":     string(req.CircuitType),
			"enhanced_mode":    strconv.FormatBool(req.EnhancedMode),
			"request":          string(reqJSON),
			"status":           string(jobs.StatusPending),
			"progress":         string(progressJSON),
			"created_at":       now,
			"updated_at":       now,
		})
		pipe.LPush(ctx, pendingKey, id)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("writing job to Redis: %w", err)
	}
	return id, nil
}

func (s *Store) UpdateProgress(ctx context.Context, id string, p jobs.Progress) error {
	progressJSON, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshaling progress: %w", err)
	}
	return s.guarded(ctx, id, func(pipe redis.Pipeliner) {
		pipe.HSet(ctx, jobKey(id),
			"status", string(jobs.StatusProcessing),
			"progress", string(progressJSON),
			"updated_at", timestamp())
	})
}

func (s *Store) AppendResults(ctx context.Context, id, label string, layers []pipeline.Layer) error {
	resJSON, err := json.Marshal(jobs.ChunkResult{Label: label, Layers: layers})
	if err != nil {
		return fmt.Errorf("marshaling results: %w", err)
	}
	return s.guarded(ctx, id, func(pipe redis.Pipeliner) {
		pipe.RPush(ctx, resultsKey(id), string(resJSON))
		pipe.HSet(ctx, jobKey(id), "updated_at", timestamp())
	})
}

func (s *Store) CompleteJob(ctx context.Context, id string, res *pipeline.Result) error {
	resJSON, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshaling final results: %w", err)
	}
	return s.terminate(ctx, id, jobs.StatusCompleted, "final", string(resJSON))
}

func (s *Store) FailJob(ctx context.Context, id, msg string) error {
	return s.terminate(ctx, id, jobs.StatusFailed, "error", msg)
}

func (s *Store) CancelJob(ctx context.Context, id string) error {
	return s.terminate(ctx, id, jobs.StatusCancelled, "", "")
}

func (s *Store) terminate(ctx context.Context, id string, status jobs.Status, field, value string) error {
	return s.guarded(ctx, id, func(pipe redis.Pipeliner) {
		vals := []any{"status", string(status), "updated_at", timestamp()}
		if field != "" {
			vals = append(vals, field, value)
		}
		pipe.HSet(ctx, jobKey(id), vals...)
		pipe.LRem(ctx, pendingKey, 0, id)
	})
}

// guarded applies write in a transaction only while the job is still active.
// It returns jobs.ErrNotFound or jobs.ErrFinished otherwise.
func (s *Store) guarded(ctx context.Context, id string, write func(redis.Pipeliner)) error {
	key := jobKey(id)
	txf := func(tx *redis.Tx) error {
		status, err := tx.HGet(ctx, key, "status").Result()
		if errors.Is(err, redis.Nil) {
			return jobs.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("reading job status: %w", err)
		}
		if jobs.Status(status).Terminal() {
			return jobs.ErrFinished
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			write(pipe)
			return nil
		})
		return err
	}

	for range txRetries {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("updating job %s: %w", id, redis.TxFailedErr)
}

func (s *Store) GetJob(ctx context.Context, id string) (*jobs.Job, error) {
	h, err := s.rdb.HGetAll(ctx, jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading job from Redis: %w", err)
	}
	if len(h) == 0 {
		return nil, jobs.ErrNotFound
	}
	j, err := hashToJob(h)
	if err != nil {
		return nil, err
	}

	raw, err := s.rdb.LRange(ctx, resultsKey(id), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading results from Redis: %w", err)
	}
	for _, r := range raw {
		var cr jobs.ChunkResult
		if err := json.Unmarshal([]byte(r), &cr); err != nil {
			return nil, fmt.Errorf("decoding results for job %s: %w", id, err)
		}
		j.Results = append(j.Results, cr)
	}
	return j, nil
}

// ClaimNext pops pending ids oldest first until one can be moved from
// pending to processing. Ids of jobs cancelled while queued are dropped; an
// id whose claim fails with an error is pushed back.
func (s *Store) ClaimNext(ctx context.Context) (*jobs.Job, error) {
	for {
		id, err := s.rdb.RPop(ctx, pendingKey).Result()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("popping pending job: %w", err)
		}

		claimed := false
		key := jobKey(id)
		err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			status, err := tx.HGet(ctx, key, "status").Result()
			if errors.Is(err, redis.Nil) {
				return nil
			}
			if err != nil {
				return err
			}
			if jobs.Status(status) != jobs.StatusPending {
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, key, "status", string(jobs.StatusProcessing), "updated_at", timestamp())
				return nil
			})
			claimed = err == nil
			return err
		}, key)
		if err != nil {
			// Requeue at the pop end so the job stays claimable.
			if perr := s.rdb.RPush(context.WithoutCancel(ctx), pendingKey, id).Err(); perr != nil {
				return nil, fmt.Errorf("claiming job %s: %w (requeue failed: %v)", id, err, perr)
			}
			return nil, fmt.Errorf("claiming job %s: %w", id, err)
		}
		if claimed {
			return s.GetJob(ctx, id)
		}
	}
}

func hashToJob(h map[string]string) (*jobs.Job, error) {
	j := &jobs.Job{
		ID:          h["id"],
		Question:    h["question"],
		CircuitType: pipeline.CircuitType(h["circuit_type"]),
		Status:      jobs.Status(h["status"]),
		Error:       h["error"],
	}
	var err error
	if j.ProcessingDepth, err = strconv.Atoi(h["processing_depth"]); err != nil {
		return nil, fmt.Errorf("parsing processing_depth for job %s: %w", j.ID, err)
	}
	j.EnhancedMode, _ = strconv.ParseBool(h["enhanced_mode"])
	if err := json.Unmarshal([]byte(h["request"]), &j.Request); err != nil {
		return nil, fmt.Errorf("decoding request for job %s: %w", j.ID, err)
	}
	if p := h["progress"]; p != "" {
		if err := json.Unmarshal([]byte(p), &j.Progress); err != nil {
			return nil, fmt.Errorf("decoding progress for job %s: %w", j.ID, err)
		}
	}
	if f := h["final"]; f != "" {
		j.FinalResults = &pipeline.Result{}
		if err := json.Unmarshal([]byte(f), j.FinalResults); err != nil {
			return nil, fmt.Errorf("decoding final results for job %s: %w", j.ID, err)
		}
	}
	if j.CreatedAt, err = time.Parse(time.RFC3339Nano, h["created_at"]); err != nil {
		return nil, fmt.Errorf("parsing created_at for job %s: %w", j.ID, err)
	}
	if j.UpdatedAt, err = time.Parse(time.RFC3339Nano, h["updated_at"]); err != nil {
		return nil, fmt.Errorf("parsing updated_at for job %s: %w", j.ID, err)
	}
	return j, nil
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

var _ jobs.Queue = (*Store)(nil)
