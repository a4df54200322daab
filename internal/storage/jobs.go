package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/genius/internal/jobs"
	"github.com/kalambet/genius/internal/pipeline"
)

const activeStatuses = `('pending', 'processing')`

const jobColumns = `id, question, processing_depth, circuit_type, enhanced_mode, request_json, status,
	current_layer, total_layers, phase, chunk_progress_json, final_results_json, error_message, created_at, updated_at`

func (s *Store) CreateJob(ctx context.Context, req pipeline.Request) (string, error) {
	reqJSON, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}
	id := uuid.New().String()
	now := timestamp()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO genius_jobs (id, question, processing_depth, circuit_type, enhanced_mode, request_json,
			status, total_layers, phase, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 'pending', ?, 'queued', ?, ?)`,
		id, req.Question, req.ProcessingDepth, string(req.CircuitType), req.EnhancedMode, string(reqJSON),
		req.ProcessingDepth, now, now,
	)
	if err != nil {
		return "", fmt.Errorf("inserting job: %w", err)
	}
	return id, nil
}

func (s *Store) UpdateProgress(ctx context.Context, id string, p jobs.Progress) error {
	chunkJSON, err := json.Marshal(p.Chunk)
	if err != nil {
		return fmt.Errorf("marshaling chunk progress: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE genius_jobs
		SET status = 'processing', current_layer = ?, total_layers = ?, phase = ?, chunk_progress_json = ?, updated_at = ?
		WHERE id = ? AND status IN `+activeStatuses,
		p.CurrentLayer, p.TotalLayers, p.Phase, string(chunkJSON), timestamp(), id,
	)
	if err != nil {
		return fmt.Errorf("updating progress: %w", err)
	}
	return s.checkActiveWrite(ctx, res, id)
}

func (s *Store) AppendResults(ctx context.Context, id, label string, layers []pipeline.Layer) error {
	layersJSON, err := json.Marshal(layers)
	if err != nil {
		return fmt.Errorf("marshaling layers: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning append transaction: %w", err)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM genius_jobs WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("reading job status: %w", err)
	}
	if jobs.Status(status).Terminal() {
		return jobs.ErrFinished
	}

	now := timestamp()
	if _, err := tx.ExecContext(ctx, `INSERT INTO job_results (job_id, chunk_label, layers_json, created_at) VALUES (?, ?, ?, ?)`,
		id, label, string(layersJSON), now); err != nil {
		return fmt.Errorf("inserting results: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE genius_jobs SET updated_at = ? WHERE id = ?`, now, id); err != nil {
		return fmt.Errorf("touching job: %w", err)
	}
	return tx.Commit()
}

func (s *Store) CompleteJob(ctx context.Context, id string, res *pipeline.Result) error {
	resJSON, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshaling final results: %w", err)
	}
	r, err := s.db.ExecContext(ctx, `
		UPDATE genius_jobs SET status = 'completed', phase = 'completed', final_results_json = ?, updated_at = ?
		WHERE id = ? AND status IN `+activeStatuses,
		string(resJSON), timestamp(), id,
	)
	if err != nil {
		return fmt.Errorf("completing job: %w", err)
	}
	return s.checkActiveWrite(ctx, r, id)
}

func (s *Store) FailJob(ctx context.Context, id, msg string) error {
	r, err := s.db.ExecContext(ctx, `
		UPDATE genius_jobs SET status = 'failed', phase = 'failed', error_message = ?, updated_at = ?
		WHERE id = ? AND status IN `+activeStatuses,
		msg, timestamp(), id,
	)
	if err != nil {
		return fmt.Errorf("failing job: %w", err)
	}
	return s.checkActiveWrite(ctx, r, id)
}

func (s *Store) CancelJob(ctx context.Context, id string) error {
	r, err := s.db.ExecContext(ctx, `
		UPDATE genius_jobs SET status = 'cancelled', phase = 'cancelled', updated_at = ?
		WHERE id = ? AND status IN `+activeStatuses,
		timestamp(), id,
	)
	if err != nil {
		return fmt.Errorf("cancelling job: %w", err)
	}
	return s.checkActiveWrite(ctx, r, id)
}

// checkActiveWrite distinguishes a missing job from a finished one when a
// guarded update touched no rows.
func (s *Store) checkActiveWrite(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking updated rows: %w", err)
	}
	if n > 0 {
		return nil
	}
	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM genius_jobs WHERE id = ?`, id).Scan(&exists); err != nil {
		return fmt.Errorf("checking job %s: %w", id, err)
	}
	if exists == 0 {
		return ErrNotFound
	}
	return jobs.ErrFinished
}

func (s *Store) GetJob(ctx context.Context, id string) (*jobs.Job, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM genius_jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT chunk_label, layers_json FROM job_results WHERE job_id = ? ORDER BY id ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("querying results: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var cr jobs.ChunkResult
		var layersJSON string
		if err := rows.Scan(&cr.Label, &layersJSON); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(layersJSON), &cr.Layers); err != nil {
			return nil, fmt.Errorf("decoding layers for %s: %w", cr.Label, err)
		}
		j.Results = append(j.Results, cr)
	}
	return j, rows.Err()
}

// ClaimNext atomically moves the oldest pending job to processing.
func (s *Store) ClaimNext(ctx context.Context) (*jobs.Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}
	defer tx.Rollback()

	j, err := scanJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM genius_jobs
		WHERE status = 'pending' ORDER BY created_at ASC, rowid ASC LIMIT 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("selecting next job: %w", err)
	}

	now := timestamp()
	res, err := tx.ExecContext(ctx, `UPDATE genius_jobs SET status = 'processing', phase = 'claimed', updated_at = ?
		WHERE id = ? AND status = 'pending'`, now, j.ID)
	if err != nil {
		return nil, fmt.Errorf("updating job status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking updated job rows: %w", err)
	}
	if n != 1 {
		return nil, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	j.Status = jobs.StatusProcessing
	j.Progress.Phase = "claimed"
	j.UpdatedAt, _ = time.Parse(time.RFC3339Nano, now)
	return j, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*jobs.Job, error) {
	var (
		j                                   jobs.Job
		circuit, reqJSON, status, chunkJSON string
		createdAt, updatedAt                string
		finalJSON, errMsg                   sql.NullString
	)
	err := row.Scan(&j.ID, &j.Question, &j.ProcessingDepth, &circuit, &j.EnhancedMode, &reqJSON, &status,
		&j.Progress.CurrentLayer, &j.Progress.TotalLayers, &j.Progress.Phase, &chunkJSON, &finalJSON, &errMsg,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	j.CircuitType = pipeline.CircuitType(circuit)
	j.Status = jobs.Status(status)
	j.Error = errMsg.String
	if err := json.Unmarshal([]byte(reqJSON), &j.Request); err != nil {
		return nil, fmt.Errorf("decoding request for job %s: %w", j.ID, err)
	}
	if err := json.Unmarshal([]byte(chunkJSON), &j.Progress.Chunk); err != nil {
		return nil, fmt.Errorf("decoding chunk progress for job %s: %w", j.ID, err)
	}
	if finalJSON.Valid && finalJSON.String != "" {
		j.FinalResults = &pipeline.Result{}
		if err := json.Unmarshal([]byte(finalJSON.String), j.FinalResults); err != nil {
			return nil, fmt.Errorf("decoding final results for job %s: %w", j.ID, err)
		}
	}
	if j.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at for job %s: %w", j.ID, err)
	}
	if j.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at for job %s: %w", j.ID, err)
	}
	return &j, nil
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

var _ jobs.Queue = (*Store)(nil)
