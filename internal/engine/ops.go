package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/alanyoungcy/lphedger/internal/domain"
)

// Activate starts tracking a position under the given config. The accounting
// baseline is captured from the current LP value and venue equity; when
// either read fails the tracker stays disabled and PnL reports all-zero
// until an explicit reset supplies a baseline.
func (e *Engine) Activate(ctx context.Context, cfg domain.PositionConfig) error {
	if err := validateConfig(&cfg); err != nil {
		return err
	}
	if cfg.ActivatedAt.IsZero() {
		cfg.ActivatedAt = e.now()
	}

	e.mu.Lock()
	if _, exists := e.positions[cfg.PositionID]; exists {
		e.mu.Unlock()
		return fmt.Errorf("engine: activate %s: %w", cfg.PositionID, domain.ErrAlreadyTracked)
	}
	e.mu.Unlock()

	tracker := NewTracker(e.cfg.TakerFeeRate)

	snap, lpErr := e.lp.ReadPosition(ctx, cfg.Pool, cfg.LPTokenID)
	equity, eqErr := e.venue.GetAccountEquity(ctx)
	if lpErr == nil && eqErr == nil {
		tracker.Reinitialize(snap.ValueUSD(), equity, snap.FeesUSD(), cfg.ActivatedAt)
	} else {
		e.logger.WarnContext(ctx, "activating without accounting baseline",
			slog.String("position_id", cfg.PositionID),
			slog.Any("lp_error", lpErr),
			slog.Any("equity_error", eqErr),
		)
	}

	rec := &domain.TrackedPosition{
		Config: cfg,
		PnL:    tracker.State(),
	}
	if lpErr == nil {
		rec.LastPrice = snap.Price
	}

	e.mu.Lock()
	if _, exists := e.positions[cfg.PositionID]; exists {
		e.mu.Unlock()
		return fmt.Errorf("engine: activate %s: %w", cfg.PositionID, domain.ErrAlreadyTracked)
	}
	e.positions[cfg.PositionID] = &trackedState{rec: rec, tracker: tracker}
	recCopy := copyRecord(rec)
	e.mu.Unlock()

	if err := e.store.Save(ctx, recCopy); err != nil {
		return fmt.Errorf("engine: persist activation %s: %w", cfg.PositionID, err)
	}

	e.logger.InfoContext(ctx, "position activated",
		slog.String("position_id", cfg.PositionID),
		slog.String("hedge_symbol", cfg.HedgeSymbol),
		slog.Float64("hedge_ratio", cfg.HedgeRatio),
		slog.Bool("accounting", tracker.Enabled()),
	)
	if e.alerter != nil {
		_ = e.alerter.Notify(ctx, "activation", "Position activated",
			fmt.Sprintf("%s hedging %s via %s", cfg.PositionID, cfg.HedgedAsset, cfg.HedgeSymbol))
	}
	e.publish(ctx, "positions", map[string]any{
		"event":       "activated",
		"position_id": cfg.PositionID,
	})
	return nil
}

// Deactivate stops tracking a position and closes its live hedge. The
// position is removed from the tracked set before the venue close is issued,
// so a concurrently running cycle cannot re-evaluate and re-trade a position
// that is being torn down.
func (e *Engine) Deactivate(ctx context.Context, positionID string) error {
	e.mu.Lock()
	st, ok := e.positions[positionID]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("engine: deactivate %s: %w", positionID, domain.ErrNotTracked)
	}
	delete(e.positions, positionID)
	symbol := st.rec.Config.HedgeSymbol
	e.mu.Unlock()

	if _, err := e.venue.ClosePosition(ctx, symbol); err != nil {
		// The position is already untracked; the stale hedge needs manual
		// attention, so surface it loudly.
		e.logger.ErrorContext(ctx, "failed to close venue hedge on deactivation",
			slog.String("position_id", positionID),
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
	}

	if err := e.store.Delete(ctx, positionID); err != nil {
		e.logger.ErrorContext(ctx, "failed to delete persisted position state",
			slog.String("position_id", positionID),
			slog.String("error", err.Error()),
		)
	}

	e.logger.InfoContext(ctx, "position deactivated", slog.String("position_id", positionID))
	if e.alerter != nil {
		_ = e.alerter.Notify(ctx, "deactivation", "Position deactivated", positionID)
	}
	e.publish(ctx, "positions", map[string]any{
		"event":       "deactivated",
		"position_id": positionID,
	})
	return nil
}

// ConfigUpdate carries the editable subset of a position config. Nil fields
// are left unchanged.
type ConfigUpdate struct {
	HedgeRatio         *float64 `json:"hedge_ratio"`
	RebalanceThreshold *float64 `json:"rebalance_threshold"`
	EmergencyThreshold *float64 `json:"emergency_threshold"`
}

// UpdateConfig applies a partial config edit and persists the result.
func (e *Engine) UpdateConfig(ctx context.Context, positionID string, update ConfigUpdate) error {
	e.mu.Lock()
	st, ok := e.positions[positionID]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("engine: update config %s: %w", positionID, domain.ErrNotTracked)
	}

	cfg := &st.rec.Config
	if update.HedgeRatio != nil {
		cfg.HedgeRatio = *update.HedgeRatio
	}
	if update.RebalanceThreshold != nil {
		cfg.RebalanceThreshold = *update.RebalanceThreshold
	}
	if update.EmergencyThreshold != nil {
		cfg.EmergencyThreshold = *update.EmergencyThreshold
	}
	if err := validateConfig(cfg); err != nil {
		e.mu.Unlock()
		return err
	}
	recCopy := copyRecord(st.rec)
	e.mu.Unlock()

	if err := e.store.Save(ctx, recCopy); err != nil {
		return fmt.Errorf("engine: persist config update %s: %w", positionID, err)
	}

	e.logger.InfoContext(ctx, "position config updated", slog.String("position_id", positionID))
	return nil
}

// ResetAccounting re-baselines the virtual accounting tracker with the
// supplied LP value and venue equity, zeroing the ledger.
func (e *Engine) ResetAccounting(ctx context.Context, positionID string, lpUSD, venueUSD, lpFeesUSD float64) error {
	if lpUSD <= 0 || venueUSD <= 0 {
		return fmt.Errorf("engine: reset accounting %s: %w", positionID, domain.ErrNoBaseline)
	}

	e.mu.Lock()
	st, ok := e.positions[positionID]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("engine: reset accounting %s: %w", positionID, domain.ErrNotTracked)
	}
	st.tracker.Reinitialize(lpUSD, venueUSD, lpFeesUSD, e.now())
	st.rec.PnL = st.tracker.State()
	recCopy := copyRecord(st.rec)
	e.mu.Unlock()

	if err := e.store.Save(ctx, recCopy); err != nil {
		return fmt.Errorf("engine: persist accounting reset %s: %w", positionID, err)
	}

	e.logger.InfoContext(ctx, "accounting baseline reset",
		slog.String("position_id", positionID),
		slog.Float64("lp_usd", lpUSD),
		slog.Float64("venue_usd", venueUSD),
	)
	return nil
}

// ListPositions returns value copies of every tracked position, ordered by
// identifier for stable output.
func (e *Engine) ListPositions() []domain.TrackedPosition {
	e.mu.Lock()
	out := make([]domain.TrackedPosition, 0, len(e.positions))
	for _, st := range e.positions {
		out = append(out, copyRecord(st.rec))
	}
	e.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Config.PositionID < out[j].Config.PositionID
	})
	return out
}

// TrackedCount returns the number of currently tracked positions.
func (e *Engine) TrackedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.positions)
}

// GetPosition returns a value copy of one tracked position.
func (e *Engine) GetPosition(positionID string) (domain.TrackedPosition, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.positions[positionID]
	if !ok {
		return domain.TrackedPosition{}, domain.ErrNotTracked
	}
	return copyRecord(st.rec), nil
}

// validateConfig checks the fields the engine depends on and fills
// threshold defaults.
func validateConfig(cfg *domain.PositionConfig) error {
	if strings.TrimSpace(cfg.PositionID) == "" {
		return fmt.Errorf("engine: position id is required")
	}
	if strings.TrimSpace(cfg.HedgeSymbol) == "" {
		return fmt.Errorf("engine: hedge symbol is required")
	}
	if cfg.HedgedAsset != domain.AssetToken0 && cfg.HedgedAsset != domain.AssetToken1 {
		return fmt.Errorf("engine: hedged asset must be %q or %q", domain.AssetToken0, domain.AssetToken1)
	}
	if cfg.HedgeRatio <= 0 || cfg.HedgeRatio > 1 {
		return fmt.Errorf("engine: hedge ratio must be in (0, 1], got %v", cfg.HedgeRatio)
	}
	if cfg.RebalanceThreshold <= 0 {
		cfg.RebalanceThreshold = 0.05
	}
	if cfg.EmergencyThreshold <= 0 {
		cfg.EmergencyThreshold = 0.15
	}
	if cfg.EmergencyThreshold <= cfg.RebalanceThreshold {
		return fmt.Errorf("engine: emergency threshold %v must exceed rebalance threshold %v",
			cfg.EmergencyThreshold, cfg.RebalanceThreshold)
	}
	return nil
}
