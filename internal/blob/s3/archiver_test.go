package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/lphedger/internal/domain"
)

type fakeWriter struct {
	objects map[string][]byte
	err     error
}

func (w *fakeWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if w.err != nil {
		return w.err
	}
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	if w.objects == nil {
		w.objects = make(map[string][]byte)
	}
	w.objects[path] = buf
	return nil
}

type fakeAuditStore struct {
	records []domain.RebalanceRecord
	listErr error
}

func (s *fakeAuditStore) Insert(_ context.Context, rec domain.RebalanceRecord) error {
	s.records = append(s.records, rec)
	return nil
}

func (s *fakeAuditStore) ListRecent(_ context.Context, positionID string, limit int) ([]domain.RebalanceRecord, error) {
	return nil, nil
}

func (s *fakeAuditStore) ListBefore(_ context.Context, before time.Time) ([]domain.RebalanceRecord, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []domain.RebalanceRecord
	for _, rec := range s.records {
		if rec.ExecutedAt.Before(before) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *fakeAuditStore) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	var kept []domain.RebalanceRecord
	var deleted int64
	for _, rec := range s.records {
		if rec.ExecutedAt.Before(before) {
			deleted++
			continue
		}
		kept = append(kept, rec)
	}
	s.records = kept
	return deleted, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func record(id string, executedAt time.Time) domain.RebalanceRecord {
	return domain.RebalanceRecord{
		ID:          id,
		PositionID:  "pos-1",
		Trigger:     "scheduled_timer",
		Price:       2_000,
		RealizedUSD: -12.5,
		ExecutedAt:  executedAt,
	}
}

func TestArchiveRebalancesMovesOldRows(t *testing.T) {
	writer := &fakeWriter{}
	store := &fakeAuditStore{records: []domain.RebalanceRecord{
		record("r1", time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)),
		record("r2", time.Date(2025, 6, 20, 12, 0, 0, 0, time.UTC)),
		record("r3", time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)),
	}}
	a := NewArchiver(writer, store, discardLogger())

	cutoff := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	deleted, err := a.ArchiveRebalances(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	require.Len(t, writer.objects, 1)
	path := archivePath("2025-06", cutoff)
	body, ok := writer.objects[path]
	require.True(t, ok, "expected object at %s, got %v", path, writer.objects)

	// Two JSONL lines, decodable back into records.
	var ids []string
	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		var rec domain.RebalanceRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		ids = append(ids, rec.ID)
	}
	assert.Equal(t, []string{"r1", "r2"}, ids)

	// The recent row survives in the primary store.
	require.Len(t, store.records, 1)
	assert.Equal(t, "r3", store.records[0].ID)
}

func TestArchiveRebalancesGroupsByMonth(t *testing.T) {
	writer := &fakeWriter{}
	store := &fakeAuditStore{records: []domain.RebalanceRecord{
		record("may", time.Date(2025, 5, 2, 0, 0, 0, 0, time.UTC)),
		record("jun", time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)),
	}}
	a := NewArchiver(writer, store, discardLogger())

	cutoff := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	deleted, err := a.ArchiveRebalances(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	require.Len(t, writer.objects, 2)
	for path := range writer.objects {
		assert.True(t,
			strings.HasPrefix(path, "archive/rebalances/2025-05/") ||
				strings.HasPrefix(path, "archive/rebalances/2025-06/"),
			"unexpected archive key %s", path)
	}
}

func TestArchiveRebalancesNoEligibleRows(t *testing.T) {
	writer := &fakeWriter{}
	store := &fakeAuditStore{records: []domain.RebalanceRecord{
		record("recent", time.Now().UTC()),
	}}
	a := NewArchiver(writer, store, discardLogger())

	deleted, err := a.ArchiveRebalances(context.Background(), time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, deleted)
	assert.Empty(t, writer.objects)
	assert.Len(t, store.records, 1)
}

func TestArchiveRebalancesUploadFailureKeepsRows(t *testing.T) {
	writer := &fakeWriter{err: errors.New("bucket unavailable")}
	store := &fakeAuditStore{records: []domain.RebalanceRecord{
		record("r1", time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)),
	}}
	a := NewArchiver(writer, store, discardLogger())

	_, err := a.ArchiveRebalances(context.Background(), time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC))
	require.Error(t, err)
	assert.Len(t, store.records, 1, "rows must not be deleted when the upload fails")
}

func TestArchiveRebalancesQueryFailure(t *testing.T) {
	store := &fakeAuditStore{listErr: errors.New("db down")}
	a := NewArchiver(&fakeWriter{}, store, discardLogger())

	_, err := a.ArchiveRebalances(context.Background(), time.Now())
	assert.Error(t, err)
}
