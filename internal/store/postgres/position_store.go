package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/lphedger/internal/domain"
)

// PositionStore implements domain.PositionStateStore. Each tracked position
// is one JSONB document: fields added by newer versions simply unmarshal to
// zero values when older rows are loaded.
type PositionStore struct {
	pool *pgxpool.Pool
}

var _ domain.PositionStateStore = (*PositionStore)(nil)

// NewPositionStore creates a PositionStore backed by the given pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// Save upserts the full position document.
func (s *PositionStore) Save(ctx context.Context, pos domain.TrackedPosition) error {
	doc, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("postgres: marshal position %s: %w", pos.Config.PositionID, err)
	}

	const query = `
		INSERT INTO hedged_positions (position_id, state, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (position_id)
		DO UPDATE SET state = EXCLUDED.state, updated_at = NOW()`
	if _, err := s.pool.Exec(ctx, query, pos.Config.PositionID, doc); err != nil {
		return fmt.Errorf("postgres: save position %s: %w", pos.Config.PositionID, err)
	}
	return nil
}

// Delete removes a position's persisted state.
func (s *PositionStore) Delete(ctx context.Context, positionID string) error {
	const query = `DELETE FROM hedged_positions WHERE position_id = $1`
	if _, err := s.pool.Exec(ctx, query, positionID); err != nil {
		return fmt.Errorf("postgres: delete position %s: %w", positionID, err)
	}
	return nil
}

// Load returns one position document.
func (s *PositionStore) Load(ctx context.Context, positionID string) (domain.TrackedPosition, error) {
	const query = `SELECT state FROM hedged_positions WHERE position_id = $1`

	var doc []byte
	err := s.pool.QueryRow(ctx, query, positionID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.TrackedPosition{}, fmt.Errorf("postgres: position %s: %w", positionID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.TrackedPosition{}, fmt.Errorf("postgres: load position %s: %w", positionID, err)
	}

	var pos domain.TrackedPosition
	if err := json.Unmarshal(doc, &pos); err != nil {
		return domain.TrackedPosition{}, fmt.Errorf("postgres: unmarshal position %s: %w", positionID, err)
	}
	return pos, nil
}

// LoadAll returns every persisted position.
func (s *PositionStore) LoadAll(ctx context.Context) ([]domain.TrackedPosition, error) {
	const query = `SELECT state FROM hedged_positions ORDER BY position_id`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: load positions: %w", err)
	}
	defer rows.Close()

	var out []domain.TrackedPosition
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		var pos domain.TrackedPosition
		if err := json.Unmarshal(doc, &pos); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal position: %w", err)
		}
		out = append(out, pos)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: load positions rows: %w", err)
	}
	return out, nil
}
