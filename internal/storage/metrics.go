package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kalambet/genius/internal/advisor"
	"github.com/kalambet/genius/internal/pipeline"
)

const (
	similarCandidates = 500
	similarMinScore   = 0.2
)

// RecordRun inserts one finished run's metrics.
func (s *Store) RecordRun(ctx context.Context, r advisor.RunRecord) error {
	created := r.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO run_metrics (id, question, question_type, depth, circuit, enhanced, confidence, tension, novelty, emergence, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Question, r.QuestionType, r.Depth, string(r.Circuit), r.Enhanced,
		r.Confidence, r.Tension, r.Novelty, r.Emergence, created.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting run metrics: %w", err)
	}
	return nil
}

// FindSimilar ranks the most recent runs by word overlap with question.
func (s *Store) FindSimilar(ctx context.Context, question string, limit int) ([]advisor.RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, question, question_type, depth, circuit, enhanced, confidence, tension, novelty, emergence, created_at
		FROM run_metrics ORDER BY created_at DESC LIMIT ?`, similarCandidates)
	if err != nil {
		return nil, fmt.Errorf("querying run metrics: %w", err)
	}
	defer rows.Close()

	var runs []advisor.RunRecord
	for rows.Next() {
		var (
			r                advisor.RunRecord
			circuit, created string
		)
		if err := rows.Scan(&r.ID, &r.Question, &r.QuestionType, &r.Depth, &circuit, &r.Enhanced,
			&r.Confidence, &r.Tension, &r.Novelty, &r.Emergence, &created); err != nil {
			return nil, fmt.Errorf("scanning run metrics: %w", err)
		}
		r.Circuit = pipeline.CircuitType(circuit)
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return advisor.RankSimilar(question, runs, similarMinScore, limit), nil
}

// BestConfigFor returns the configuration with the highest average
// confidence for questionType. Emergent runs count a 0.1 bonus.
func (s *Store) BestConfigFor(ctx context.Context, questionType string) (*advisor.Config, error) {
	var (
		c       advisor.Config
		circuit string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT depth, circuit, enhanced, AVG(confidence), COUNT(*)
		FROM run_metrics
		WHERE question_type = ?
		GROUP BY depth, circuit, enhanced
		ORDER BY AVG(confidence + 0.1 * emergence) DESC, COUNT(*) DESC
		LIMIT 1`, questionType,
	).Scan(&c.Depth, &circuit, &c.Enhanced, &c.AvgConfidence, &c.Runs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying best config: %w", err)
	}
	c.Circuit = pipeline.CircuitType(circuit)
	return &c, nil
}

var _ advisor.MetricsStore = (*Store)(nil)
