package domain

import (
	"context"
	"time"
)

// PositionStateStore persists the whole tracked-position set keyed by
// position identifier. Save is called synchronously after every mutating
// outcome so a crash loses at most the in-flight cycle.
type PositionStateStore interface {
	Save(ctx context.Context, pos TrackedPosition) error
	Delete(ctx context.Context, positionID string) error
	Load(ctx context.Context, positionID string) (TrackedPosition, error)
	LoadAll(ctx context.Context) ([]TrackedPosition, error)
}

// RebalanceAuditStore is the append-only audit log of executed rebalances.
type RebalanceAuditStore interface {
	Insert(ctx context.Context, rec RebalanceRecord) error
	ListRecent(ctx context.Context, positionID string, limit int) ([]RebalanceRecord, error)
	ListBefore(ctx context.Context, before time.Time) ([]RebalanceRecord, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}
