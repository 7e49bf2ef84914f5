package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kbcore/ingest-pipeline/internal/core/domain"
)

type PipelineRepository struct {
	db *sql.DB
}

func NewPipelineRepository(db *sql.DB) *PipelineRepository {
	return &PipelineRepository{db: db}
}

func (r *PipelineRepository) Save(ctx context.Context, state *domain.PipelineState) error {
	steps, err := json.Marshal(state.Steps)
	if err != nil {
		return fmt.Errorf("marshal pipeline steps: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO pipeline_states (document_id, status, steps, started_at, completed_at)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (document_id) DO UPDATE
SET status = EXCLUDED.status, steps = EXCLUDED.steps, started_at = EXCLUDED.started_at, completed_at = EXCLUDED.completed_at
`, state.DocumentID, string(state.Status), steps, state.StartedAt, state.CompletedAt)
	if err != nil {
		return fmt.Errorf("save pipeline state: %w", err)
	}
	return nil
}

func (r *PipelineRepository) GetByDocumentID(ctx context.Context, documentID string) (*domain.PipelineState, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT document_id, status, steps, started_at, completed_at
FROM pipeline_states
WHERE document_id = $1
`, documentID)
	return scanPipelineState(row, documentID)
}

// Update re-reads the row under FOR UPDATE, applies the mutation and
// writes the result back in the same transaction. Concurrent step
// reports for one document serialize on the row lock instead of losing
// each other's JSONB writes.
func (r *PipelineRepository) Update(ctx context.Context, documentID string, mutate func(*domain.PipelineState) error) (*domain.PipelineState, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin pipeline tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	row := tx.QueryRowContext(ctx, `
SELECT document_id, status, steps, started_at, completed_at
FROM pipeline_states
WHERE document_id = $1
FOR UPDATE
`, documentID)

	state, err := scanPipelineState(row, documentID)
	if err != nil {
		return nil, err
	}

	if err := mutate(state); err != nil {
		return nil, err
	}

	steps, err := json.Marshal(state.Steps)
	if err != nil {
		return nil, fmt.Errorf("marshal pipeline steps: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
UPDATE pipeline_states
SET status = $2, steps = $3, started_at = $4, completed_at = $5
WHERE document_id = $1
`, state.DocumentID, string(state.Status), steps, state.StartedAt, state.CompletedAt)
	if err != nil {
		return nil, fmt.Errorf("write pipeline state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit pipeline tx: %w", err)
	}
	return state, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPipelineState(row rowScanner, documentID string) (*domain.PipelineState, error) {
	var state domain.PipelineState
	var status string
	var stepsRaw []byte

	err := row.Scan(&state.DocumentID, &status, &stepsRaw, &state.StartedAt, &state.CompletedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrPipelineNotFound, "get pipeline state for "+documentID, err)
		}
		return nil, fmt.Errorf("scan pipeline state: %w", err)
	}

	if err := json.Unmarshal(stepsRaw, &state.Steps); err != nil {
		return nil, fmt.Errorf("unmarshal pipeline steps: %w", err)
	}
	state.Status = domain.PipelineStatus(status)
	return &state, nil
}
