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

// PositionStore implements domain.PositionStore using PostgreSQL. Only closed
// positions reach the store; live positions are owned by the risk controller.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a PositionStore backed by the given pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, opportunity_id, execution_id, strategy,
	pairs, exchanges, required_capital, current_value,
	unrealized_pnl, realized_pnl, stop_loss_price, metrics,
	status, opened_at, closed_at`

func scanPositionRow(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var status string
	var metrics []byte

	err := row.Scan(
		&p.ID, &p.OpportunityID, &p.ExecutionID, &p.Strategy,
		&p.Pairs, &p.Exchanges, &p.RequiredCapital, &p.CurrentValue,
		&p.UnrealizedPnL, &p.RealizedPnL, &p.StopLossPrice, &metrics,
		&status, &p.OpenedAt, &p.ClosedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Status = domain.PositionStatus(status)
	if err := json.Unmarshal(metrics, &p.Metrics); err != nil {
		return domain.Position{}, fmt.Errorf("decode metrics: %w", err)
	}
	return p, nil
}

func scanPositionRows(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPositionRow(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Insert stores a closed position.
func (s *PositionStore) Insert(ctx context.Context, p domain.Position) error {
	metrics, err := json.Marshal(p.Metrics)
	if err != nil {
		return fmt.Errorf("postgres: marshal metrics for %s: %w", p.ID, err)
	}

	const query = `
		INSERT INTO positions (
			id, opportunity_id, execution_id, strategy,
			pairs, exchanges, required_capital, current_value,
			unrealized_pnl, realized_pnl, stop_loss_price, metrics,
			status, opened_at, closed_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10, $11, $12,
			$13, $14, $15
		)
		ON CONFLICT (id) DO UPDATE SET
			current_value  = EXCLUDED.current_value,
			unrealized_pnl = EXCLUDED.unrealized_pnl,
			realized_pnl   = EXCLUDED.realized_pnl,
			status         = EXCLUDED.status,
			closed_at      = EXCLUDED.closed_at`

	_, err = s.pool.Exec(ctx, query,
		p.ID, p.OpportunityID, p.ExecutionID, string(p.Strategy),
		p.Pairs, p.Exchanges, p.RequiredCapital, p.CurrentValue,
		p.UnrealizedPnL, p.RealizedPnL, p.StopLossPrice, metrics,
		string(p.Status), p.OpenedAt, p.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert position %s: %w", p.ID, err)
	}
	return nil
}

// GetByID retrieves a single position.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id)

	p, err := scanPositionRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// ListRecent returns the most recently opened positions, newest first.
func (s *PositionStore) ListRecent(ctx context.Context, limit int) ([]domain.Position, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 ORDER BY opened_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan recent positions: %w", err)
	}
	return positions, nil
}

// ListBefore returns positions opened before the cutoff, oldest first.
func (s *PositionStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE opened_at < $1 ORDER BY opened_at ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions before %s: %w", before, err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions before %s: %w", before, err)
	}
	return positions, nil
}

// DeleteBefore removes positions opened before the cutoff and returns the
// number of rows deleted.
func (s *PositionStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM positions WHERE opened_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete positions before %s: %w", before, err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)
