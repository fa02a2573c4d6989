package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/lphedger/internal/domain"
)

// RebalanceStore implements domain.RebalanceAuditStore with an append-only
// rebalances table. The PnL snapshot rides along as JSONB so the audit row
// captures the accounting exactly as it stood at execution.
type RebalanceStore struct {
	pool *pgxpool.Pool
}

var _ domain.RebalanceAuditStore = (*RebalanceStore)(nil)

// NewRebalanceStore creates a RebalanceStore backed by the given pool.
func NewRebalanceStore(pool *pgxpool.Pool) *RebalanceStore {
	return &RebalanceStore{pool: pool}
}

// Insert appends one executed rebalance.
func (s *RebalanceStore) Insert(ctx context.Context, rec domain.RebalanceRecord) error {
	pnlJSON, err := json.Marshal(rec.PnL)
	if err != nil {
		return fmt.Errorf("postgres: marshal rebalance pnl: %w", err)
	}

	const query = `
		INSERT INTO rebalances (
			id, position_id, trigger_kind, reason, emergency,
			before_size, after_size, before_notional, after_notional,
			price, realized_usd, pnl, executed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err = s.pool.Exec(ctx, query,
		rec.ID, rec.PositionID, rec.Trigger, rec.Reason, rec.Emergency,
		rec.BeforeSize, rec.AfterSize, rec.BeforeNotional, rec.AfterNotional,
		rec.Price, rec.RealizedUSD, pnlJSON, rec.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert rebalance %s: %w", rec.ID, err)
	}
	return nil
}

// ListRecent returns the most recent rebalances for a position, newest first.
func (s *RebalanceStore) ListRecent(ctx context.Context, positionID string, limit int) ([]domain.RebalanceRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = selectColumns + `
		WHERE position_id = $1
		ORDER BY executed_at DESC
		LIMIT $2`
	return s.list(ctx, query, positionID, limit)
}

// ListBefore returns every rebalance executed before the given time, oldest
// first. Used by the archiver to page out history.
func (s *RebalanceStore) ListBefore(ctx context.Context, before time.Time) ([]domain.RebalanceRecord, error) {
	const query = selectColumns + `
		WHERE executed_at < $1
		ORDER BY executed_at ASC`
	return s.list(ctx, query, before)
}

// DeleteBefore removes every rebalance executed before the given time and
// reports how many rows were removed.
func (s *RebalanceStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	const query = `DELETE FROM rebalances WHERE executed_at < $1`
	tag, err := s.pool.Exec(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete rebalances before %s: %w", before, err)
	}
	return tag.RowsAffected(), nil
}

const selectColumns = `
	SELECT id, position_id, trigger_kind, reason, emergency,
	       before_size, after_size, before_notional, after_notional,
	       price, realized_usd, pnl, executed_at
	FROM rebalances`

func (s *RebalanceStore) list(ctx context.Context, query string, args ...any) ([]domain.RebalanceRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list rebalances: %w", err)
	}
	defer rows.Close()

	var out []domain.RebalanceRecord
	for rows.Next() {
		var rec domain.RebalanceRecord
		var pnlJSON []byte
		if err := rows.Scan(
			&rec.ID, &rec.PositionID, &rec.Trigger, &rec.Reason, &rec.Emergency,
			&rec.BeforeSize, &rec.AfterSize, &rec.BeforeNotional, &rec.AfterNotional,
			&rec.Price, &rec.RealizedUSD, &pnlJSON, &rec.ExecutedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan rebalance: %w", err)
		}
		if pnlJSON != nil {
			if err := json.Unmarshal(pnlJSON, &rec.PnL); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal rebalance pnl: %w", err)
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list rebalances rows: %w", err)
	}
	return out, nil
}
