package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/lphedger/internal/domain"
)

// Archiver pages aged rebalance audit rows out of the primary store into
// object storage. Rows older than the cutoff are serialized to JSONL, grouped
// by the month they were executed in, uploaded, and only then deleted from
// Postgres. A failed upload leaves the rows in place so the next run retries
// them.
type Archiver struct {
	writer domain.BlobWriter
	audit  domain.RebalanceAuditStore
	logger *slog.Logger
}

// NewArchiver creates an Archiver that uploads via writer and reads/trims the
// given audit store.
func NewArchiver(writer domain.BlobWriter, audit domain.RebalanceAuditStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: writer,
		audit:  audit,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveRebalances moves every rebalance executed strictly before the cutoff
// into object storage and removes the archived rows from the primary store.
// It returns the number of rows deleted. When no rows qualify it is a no-op.
func (a *Archiver) ArchiveRebalances(ctx context.Context, before time.Time) (int64, error) {
	records, err := a.audit.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive rebalances query: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	for month, batch := range groupByMonth(records) {
		buf, err := marshalJSONL(batch)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive rebalances marshal %s: %w", month, err)
		}

		path := archivePath(month, before)
		if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
			return 0, fmt.Errorf("s3blob: archive rebalances upload %s: %w", path, err)
		}

		a.logger.InfoContext(ctx, "archive batch uploaded",
			slog.String("path", path),
			slog.Int("records", len(batch)),
		)
	}

	deleted, err := a.audit.DeleteBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive rebalances trim: %w", err)
	}

	a.logger.InfoContext(ctx, "rebalance history archived",
		slog.Time("before", before),
		slog.Int64("deleted", deleted),
	)
	return deleted, nil
}

// groupByMonth buckets records by the calendar month they were executed in,
// so archive objects line up with how operators browse history.
func groupByMonth(records []domain.RebalanceRecord) map[string][]domain.RebalanceRecord {
	groups := make(map[string][]domain.RebalanceRecord)
	for _, rec := range records {
		month := rec.ExecutedAt.UTC().Format("2006-01")
		groups[month] = append(groups[month], rec)
	}
	return groups
}

// archivePath builds the S3 key for one monthly batch. The cutoff timestamp
// is part of the name so successive runs against the same month never
// overwrite an earlier archive.
//
//	archive/rebalances/2025-06/cutoff-1756684800.jsonl
func archivePath(month string, before time.Time) string {
	return fmt.Sprintf("archive/rebalances/%s/cutoff-%d.jsonl", month, before.Unix())
}

// marshalJSONL serialises a slice of values as newline-delimited JSON. Each
// element becomes a single compact JSON line.
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
