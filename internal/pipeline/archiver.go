// Package pipeline contains the background retention sweep that moves old
// executions, positions, and risk events from the database into S3 cold
// storage and deletes them from the primary store afterwards.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/arbor-trading/arbrisk/internal/domain"
)

// Archiver runs the retention sweep. Rows are deleted from the database only
// after the corresponding archive upload succeeded.
type Archiver struct {
	blobArchiver  domain.Archiver
	executions    domain.ExecutionStore
	positions     domain.PositionStore
	events        domain.RiskEventStore
	retentionDays int
	logger        *slog.Logger
}

// NewArchiver creates a new Archiver.
func NewArchiver(
	blobArchiver domain.Archiver,
	executions domain.ExecutionStore,
	positions domain.PositionStore,
	events domain.RiskEventStore,
	retentionDays int,
	logger *slog.Logger,
) *Archiver {
	return &Archiver{
		blobArchiver:  blobArchiver,
		executions:    executions,
		positions:     positions,
		events:        events,
		retentionDays: retentionDays,
		logger:        logger.With(slog.String("component", "archiver")),
	}
}

// Run executes a single sweep. It calculates the cutoff from retentionDays,
// archives executions, positions, and risk events older than the cutoff, and
// deletes each batch once its upload succeeded.
func (a *Archiver) Run(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-time.Duration(a.retentionDays) * 24 * time.Hour)
	a.logger.InfoContext(ctx, "starting archive sweep",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	execArchived, err := a.blobArchiver.ArchiveExecutions(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("pipeline: archiving executions before %v: %w", cutoff, err)
	}
	if execArchived > 0 {
		if _, err := a.executions.DeleteBefore(ctx, cutoff); err != nil {
			return fmt.Errorf("pipeline: deleting archived executions: %w", err)
		}
	}

	posArchived, err := a.blobArchiver.ArchivePositions(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("pipeline: archiving positions before %v: %w", cutoff, err)
	}
	if posArchived > 0 {
		if _, err := a.positions.DeleteBefore(ctx, cutoff); err != nil {
			return fmt.Errorf("pipeline: deleting archived positions: %w", err)
		}
	}

	eventsArchived, err := a.blobArchiver.ArchiveRiskEvents(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("pipeline: archiving risk events before %v: %w", cutoff, err)
	}
	if eventsArchived > 0 {
		if _, err := a.events.DeleteBefore(ctx, cutoff); err != nil {
			return fmt.Errorf("pipeline: deleting archived risk events: %w", err)
		}
	}

	a.logger.InfoContext(ctx, "archive sweep complete",
		slog.Int64("executions_archived", execArchived),
		slog.Int64("positions_archived", posArchived),
		slog.Int64("events_archived", eventsArchived),
	)
	return nil
}

// RunInterval runs the sweep on a fixed interval until the context is
// cancelled. A failed sweep is logged and retried at the next tick.
func (a *Archiver) RunInterval(ctx context.Context, interval time.Duration) error {
	a.logger.InfoContext(ctx, "archiver started", slog.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("archiver stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := a.Run(ctx); err != nil {
				a.logger.ErrorContext(ctx, "archive sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}
