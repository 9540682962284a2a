package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arbor-trading/arbrisk/internal/domain"
)

// ExecutionStore implements domain.ExecutionStore using PostgreSQL. Order
// requests, results, and rollbacks are kept as JSONB documents; the engine
// never queries into individual legs.
type ExecutionStore struct {
	pool *pgxpool.Pool
}

// NewExecutionStore creates an ExecutionStore backed by the given pool.
func NewExecutionStore(pool *pgxpool.Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

const executionSelectCols = `id, opportunity_id, position_id, strategy,
	requests, results, rollbacks, status,
	total_profit, total_fees, started_at, completed_at, error`

func scanExecutionRow(row pgx.Row) (domain.Execution, error) {
	var e domain.Execution
	var strategy, status string
	var requests, results, rollbacks []byte

	err := row.Scan(
		&e.ID, &e.OpportunityID, &e.PositionID, &strategy,
		&requests, &results, &rollbacks, &status,
		&e.TotalProfit, &e.TotalFees, &e.StartedAt, &e.CompletedAt, &e.Error,
	)
	if err != nil {
		return domain.Execution{}, err
	}
	e.Strategy = domain.ExecutionStrategy(strategy)
	e.Status = domain.ExecutionStatus(status)
	if err := json.Unmarshal(requests, &e.Requests); err != nil {
		return domain.Execution{}, fmt.Errorf("decode requests: %w", err)
	}
	if err := json.Unmarshal(results, &e.Results); err != nil {
		return domain.Execution{}, fmt.Errorf("decode results: %w", err)
	}
	if err := json.Unmarshal(rollbacks, &e.Rollbacks); err != nil {
		return domain.Execution{}, fmt.Errorf("decode rollbacks: %w", err)
	}
	return e, nil
}

func scanExecutionRows(rows pgx.Rows) ([]domain.Execution, error) {
	var executions []domain.Execution
	for rows.Next() {
		e, err := scanExecutionRow(rows)
		if err != nil {
			return nil, err
		}
		executions = append(executions, e)
	}
	return executions, rows.Err()
}

// Insert stores a finished execution.
func (s *ExecutionStore) Insert(ctx context.Context, e domain.Execution) error {
	requests, err := json.Marshal(e.Requests)
	if err != nil {
		return fmt.Errorf("postgres: marshal requests for %s: %w", e.ID, err)
	}
	results, err := json.Marshal(e.Results)
	if err != nil {
		return fmt.Errorf("postgres: marshal results for %s: %w", e.ID, err)
	}
	rollbacks, err := json.Marshal(e.Rollbacks)
	if err != nil {
		return fmt.Errorf("postgres: marshal rollbacks for %s: %w", e.ID, err)
	}

	const query = `
		INSERT INTO executions (
			id, opportunity_id, position_id, strategy,
			requests, results, rollbacks, status,
			total_profit, total_fees, started_at, completed_at, error
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10, $11, $12, $13
		)
		ON CONFLICT (id) DO UPDATE SET
			results      = EXCLUDED.results,
			rollbacks    = EXCLUDED.rollbacks,
			status       = EXCLUDED.status,
			total_profit = EXCLUDED.total_profit,
			total_fees   = EXCLUDED.total_fees,
			completed_at = EXCLUDED.completed_at,
			error        = EXCLUDED.error`

	_, err = s.pool.Exec(ctx, query,
		e.ID, e.OpportunityID, e.PositionID, string(e.Strategy),
		requests, results, rollbacks, string(e.Status),
		e.TotalProfit, e.TotalFees, e.StartedAt, e.CompletedAt, e.Error,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert execution %s: %w", e.ID, err)
	}
	return nil
}

// GetByID retrieves a single execution.
func (s *ExecutionStore) GetByID(ctx context.Context, id string) (domain.Execution, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+executionSelectCols+` FROM executions WHERE id = $1`, id)

	e, err := scanExecutionRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Execution{}, domain.ErrNotFound
		}
		return domain.Execution{}, fmt.Errorf("postgres: get execution %s: %w", id, err)
	}
	return e, nil
}

// ListRecent returns the most recently started executions, newest first.
func (s *ExecutionStore) ListRecent(ctx context.Context, limit int) ([]domain.Execution, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+executionSelectCols+` FROM executions
		 ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent executions: %w", err)
	}
	defer rows.Close()

	executions, err := scanExecutionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan recent executions: %w", err)
	}
	return executions, nil
}

// ListBefore returns executions started before the cutoff, oldest first.
func (s *ExecutionStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Execution, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+executionSelectCols+` FROM executions
		 WHERE started_at < $1 ORDER BY started_at ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions before %s: %w", before, err)
	}
	defer rows.Close()

	executions, err := scanExecutionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan executions before %s: %w", before, err)
	}
	return executions, nil
}

// DeleteBefore removes executions started before the cutoff and returns the
// number of rows deleted.
func (s *ExecutionStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM executions WHERE started_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete executions before %s: %w", before, err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.ExecutionStore = (*ExecutionStore)(nil)
