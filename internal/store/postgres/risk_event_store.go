package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arbor-trading/arbrisk/internal/domain"
)

// RiskEventStore implements domain.RiskEventStore using PostgreSQL. The table
// is append-only; events are never updated.
type RiskEventStore struct {
	pool *pgxpool.Pool
}

// NewRiskEventStore creates a RiskEventStore backed by the given pool.
func NewRiskEventStore(pool *pgxpool.Pool) *RiskEventStore {
	return &RiskEventStore{pool: pool}
}

const riskEventSelectCols = `id, kind, details, created_at`

func scanRiskEventRows(rows pgx.Rows) ([]domain.RiskEvent, error) {
	var events []domain.RiskEvent
	for rows.Next() {
		var e domain.RiskEvent
		var details []byte
		if err := rows.Scan(&e.ID, &e.Kind, &details, &e.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(details, &e.Details); err != nil {
			return nil, fmt.Errorf("decode details: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Log appends one event.
func (s *RiskEventStore) Log(ctx context.Context, kind string, details map[string]any) error {
	data, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("postgres: marshal event details: %w", err)
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO risk_events (kind, details) VALUES ($1, $2)`,
		kind, data,
	); err != nil {
		return fmt.Errorf("postgres: log risk event %s: %w", kind, err)
	}
	return nil
}

// ListRecent returns the newest events first.
func (s *RiskEventStore) ListRecent(ctx context.Context, limit int) ([]domain.RiskEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+riskEventSelectCols+` FROM risk_events
		 ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent risk events: %w", err)
	}
	defer rows.Close()

	events, err := scanRiskEventRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan recent risk events: %w", err)
	}
	return events, nil
}

// ListBefore returns events created before the cutoff, oldest first.
func (s *RiskEventStore) ListBefore(ctx context.Context, before time.Time) ([]domain.RiskEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+riskEventSelectCols+` FROM risk_events
		 WHERE created_at < $1 ORDER BY created_at ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list risk events before %s: %w", before, err)
	}
	defer rows.Close()

	events, err := scanRiskEventRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan risk events before %s: %w", before, err)
	}
	return events, nil
}

// DeleteBefore removes events created before the cutoff and returns the
// number of rows deleted.
func (s *RiskEventStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM risk_events WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete risk events before %s: %w", before, err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.RiskEventStore = (*RiskEventStore)(nil)
