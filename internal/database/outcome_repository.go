package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/STRATINT/eventfeed/internal/models"
)

// OutcomeRepository handles stage outcome storage and retrieval.
type OutcomeRepository struct {
	db *DB
}

// NewOutcomeRepository creates a new outcome repository.
func NewOutcomeRepository(db *DB) *OutcomeRepository {
	return &OutcomeRepository{db: db}
}

// Record stores one outcome, filling in its ID and timestamp when unset.
func (r *OutcomeRepository) Record(ctx context.Context, outcome models.StageOutcome) error {
	if outcome.ID == "" {
		outcome.ID = uuid.New().String()
	}
	if outcome.CreatedAt.IsZero() {
		outcome.CreatedAt = time.Now().UTC()
	}

	query := r.db.Rebind(`
		INSERT INTO stage_outcomes (id, run_id, handle, shortcode, stage, status, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := r.db.ExecContext(ctx, query,
		outcome.ID,
		outcome.RunID,
		outcome.Handle,
		outcome.ShortCode,
		outcome.Stage,
		outcome.Status,
		outcome.Reason,
		outcome.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store outcome: %w", err)
	}
	return nil
}

// OutcomeFilter narrows List. Empty fields match everything.
type OutcomeFilter struct {
	RunID  string
	Stage  string
	Status string
	Limit  int
}

// List returns outcomes newest first.
func (r *OutcomeRepository) List(ctx context.Context, filter OutcomeFilter) ([]models.StageOutcome, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	query := `
		SELECT id, run_id, handle, shortcode, stage, status, reason, created_at
		FROM stage_outcomes
		WHERE 1=1
	`
	var args []any
	if filter.RunID != "" {
		query += " AND run_id = ?"
		args = append(args, filter.RunID)
	}
	if filter.Stage != "" {
		query += " AND stage = ?"
		args = append(args, filter.Stage)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	query += " ORDER BY created_at DESC, id LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []models.StageOutcome
	for rows.Next() {
		var o models.StageOutcome
		if err := rows.Scan(&o.ID, &o.RunID, &o.Handle, &o.ShortCode, &o.Stage, &o.Status, &o.Reason, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		outcomes = append(outcomes, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read outcomes: %w", err)
	}
	return outcomes, nil
}

// CountByStatus returns the number of outcomes per status for one stage.
func (r *OutcomeRepository) CountByStatus(ctx context.Context, stage string) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx,
		r.db.Rebind("SELECT status, COUNT(*) FROM stage_outcomes WHERE stage = ? GROUP BY status"),
		stage,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count outcomes: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan outcome count: %w", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read outcome counts: %w", err)
	}
	return counts, nil
}
