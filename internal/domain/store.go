package domain

import (
	"context"
	"time"
)

// ExecutionStore persists finished executions for history queries and
// archival. In-flight executions live only in the engine's memory.
type ExecutionStore interface {
	Insert(ctx context.Context, exec Execution) error
	GetByID(ctx context.Context, id string) (Execution, error)
	ListRecent(ctx context.Context, limit int) ([]Execution, error)
	ListBefore(ctx context.Context, before time.Time) ([]Execution, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// PositionStore persists closed positions.
type PositionStore interface {
	Insert(ctx context.Context, p Position) error
	GetByID(ctx context.Context, id string) (Position, error)
	ListRecent(ctx context.Context, limit int) ([]Position, error)
	ListBefore(ctx context.Context, before time.Time) ([]Position, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// RiskEventStore is the append-only audit log of denials, alerts, stop-loss
// triggers and emergency actions.
type RiskEventStore interface {
	Log(ctx context.Context, kind string, details map[string]any) error
	ListRecent(ctx context.Context, limit int) ([]RiskEvent, error)
	ListBefore(ctx context.Context, before time.Time) ([]RiskEvent, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}
