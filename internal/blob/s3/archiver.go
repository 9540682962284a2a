package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/arbor-trading/arbrisk/internal/domain"
)

// multipartThreshold is the serialized batch size above which uploads switch
// to the concurrent multipart path.
const multipartThreshold int64 = 8 * 1024 * 1024

// Narrow store interfaces: the archiver only needs the time-ranged query
// methods it actually calls, not the full domain store interfaces. The
// Postgres stores satisfy these implicitly.

// ExecutionArchiveSource provides read access to executions for archival.
type ExecutionArchiveSource interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.Execution, error)
}

// PositionArchiveSource provides read access to closed positions for archival.
type PositionArchiveSource interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.Position, error)
}

// RiskEventArchiveSource provides read access to risk events for archival.
type RiskEventArchiveSource interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.RiskEvent, error)
	Log(ctx context.Context, kind string, details map[string]any) error
}

// ArchiveImpl implements domain.Archiver by querying the stores for records
// older than the cutoff, serializing them to JSONL, and uploading the result
// to S3.
//
// Deletion of the archived rows from the primary store is intentionally NOT
// performed here; the retention sweep deletes only after the archive upload
// has succeeded.
type ArchiveImpl struct {
	writer     domain.BlobWriter
	executions ExecutionArchiveSource
	positions  PositionArchiveSource
	events     RiskEventArchiveSource
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(
	writer domain.BlobWriter,
	executions ExecutionArchiveSource,
	positions PositionArchiveSource,
	events RiskEventArchiveSource,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:     writer,
		executions: executions,
		positions:  positions,
		events:     events,
	}
}

// ArchiveExecutions uploads all executions started before the cutoff to
// archive/executions/YYYY-MM.jsonl and returns the record count. The archival
// is recorded in the risk event log.
func (a *ArchiveImpl) ArchiveExecutions(ctx context.Context, before time.Time) (int64, error) {
	executions, err := a.executions.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive executions query: %w", err)
	}
	return archiveRecords(ctx, a, "executions", executions, before)
}

// ArchivePositions uploads all closed positions opened before the cutoff to
// archive/positions/YYYY-MM.jsonl and returns the record count.
func (a *ArchiveImpl) ArchivePositions(ctx context.Context, before time.Time) (int64, error) {
	positions, err := a.positions.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive positions query: %w", err)
	}
	return archiveRecords(ctx, a, "positions", positions, before)
}

// ArchiveRiskEvents uploads all risk events created before the cutoff to
// archive/risk_events/YYYY-MM.jsonl and returns the record count.
func (a *ArchiveImpl) ArchiveRiskEvents(ctx context.Context, before time.Time) (int64, error) {
	events, err := a.events.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive risk events query: %w", err)
	}
	return archiveRecords(ctx, a, "risk_events", events, before)
}

// archiveRecords serializes one batch to JSONL, uploads it, and logs the
// archival as an audit event. Batches over multipartThreshold go through the
// multipart uploader.
func archiveRecords[T any](ctx context.Context, a *ArchiveImpl, kind string, records []T, before time.Time) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}

	path := archivePath(kind, before)
	if int64(len(buf)) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), multipartThreshold)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	count := int64(len(records))
	if err := a.events.Log(ctx, "archive."+kind, map[string]any{
		"path":   path,
		"count":  count,
		"bytes":  len(buf),
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
	}
	return count, nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/executions/2025-01.jsonl
//	archive/positions/2025-01.jsonl
//	archive/risk_events/2025-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON. Each
// element is one compact JSON line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
