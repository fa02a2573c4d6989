package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/lphedger/internal/domain"
)

// LPReader reads the current on-chain state of a liquidity position. Errors
// wrap domain.ErrTransient or domain.ErrPermanent so the engine can tell a
// retryable feed hiccup from a deterministic failure.
type LPReader interface {
	ReadPosition(ctx context.Context, pool string, tokenID uint64) (domain.LPSnapshot, error)
}

// Venue is the hedge venue capability interface. Callers depend only on this
// interface; the live and simulated adapters are selected at wire time.
type Venue interface {
	GetPosition(ctx context.Context, symbol string) (domain.HedgeState, error)
	SetPosition(ctx context.Context, symbol string, size, notionalUSD float64) (*domain.FillResult, error)
	ClosePosition(ctx context.Context, symbol string) (*domain.FillResult, error)
	GetFundingRate(ctx context.Context, symbol string) (float64, error)
	GetAccountEquity(ctx context.Context) (float64, error)
}

// Alerter delivers best-effort operator notifications; failures are logged
// and never fail a cycle.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// trackedState pairs the persisted record with its live tracker.
type trackedState struct {
	rec     *domain.TrackedPosition
	tracker *Tracker
}

// Engine is the per-cycle orchestrator. All mutable per-position state lives
// in an explicit map keyed by position identifier and every mutation is
// routed through the public operations, so asynchronous control-surface
// requests serialize safely against the polling driver.
type Engine struct {
	mu        sync.Mutex
	positions map[string]*trackedState

	lp       LPReader
	venue    Venue
	store    domain.PositionStateStore
	audit    domain.RebalanceAuditStore
	alerter  Alerter
	bus      domain.SignalBus
	prices   domain.PriceCache
	cfg      Config
	logger   *slog.Logger

	now func() time.Time
}

// New creates an Engine. The alerter, bus, and prices dependencies are
// optional; pass nil to disable the corresponding side channel.
func New(
	lp LPReader,
	venue Venue,
	store domain.PositionStateStore,
	audit domain.RebalanceAuditStore,
	alerter Alerter,
	bus domain.SignalBus,
	prices domain.PriceCache,
	cfg Config,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		positions: make(map[string]*trackedState),
		lp:        lp,
		venue:     venue,
		store:     store,
		audit:     audit,
		alerter:   alerter,
		bus:       bus,
		prices:    prices,
		cfg:       cfg.Normalized(),
		logger:    logger.With(slog.String("component", "engine")),
		now:       time.Now,
	}
}

// Restore loads all persisted tracked positions into the engine. Records
// written by an older schema version load with missing fields at their zero
// values; an absent reference price is zero, which keeps the price triggers
// disabled until the next executed rebalance.
func (e *Engine) Restore(ctx context.Context) error {
	records, err := e.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("engine: restore positions: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, rec := range records {
		rec := rec
		e.positions[rec.Config.PositionID] = &trackedState{
			rec:     &rec,
			tracker: NewTrackerFromState(rec.PnL, e.cfg.TakerFeeRate),
		}
	}

	e.logger.InfoContext(ctx, "restored tracked positions", slog.Int("count", len(records)))
	return nil
}

// RunCycle processes every tracked position once, sequentially. A failure in
// one position's cycle is logged and never affects another position's cycle
// in the same pass.
func (e *Engine) RunCycle(ctx context.Context) {
	e.mu.Lock()
	ids := make([]string, 0, len(e.positions))
	for id := range e.positions {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		if err := e.runPosition(ctx, id); err != nil {
			e.logger.ErrorContext(ctx, "position cycle failed",
				slog.String("position_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
}

// runPosition executes one full decision cycle for a single position.
func (e *Engine) runPosition(ctx context.Context, id string) error {
	e.mu.Lock()
	st, ok := e.positions[id]
	if !ok {
		e.mu.Unlock()
		return nil
	}
	cfg := st.rec.Config
	e.mu.Unlock()

	snap, err := e.lp.ReadPosition(ctx, cfg.Pool, cfg.LPTokenID)
	if err != nil {
		if errors.Is(err, domain.ErrPermanent) {
			e.logger.ErrorContext(ctx, "deterministic LP read failure, skipping cycle",
				slog.String("position_id", id),
				slog.String("error", err.Error()),
			)
		}
		return fmt.Errorf("engine: read lp position %s: %w", id, err)
	}

	price := snap.Price
	if price < e.cfg.PriceSanityFloor {
		// Fail safe: a reading this low is a probable unit error upstream.
		// Abort before any trigger evaluation or side effect.
		return fmt.Errorf("engine: position %s price %.8f: %w", id, price, domain.ErrPriceSanity)
	}

	venueState, err := e.venue.GetPosition(ctx, cfg.HedgeSymbol)
	if err != nil {
		return fmt.Errorf("engine: venue position %s: %w", cfg.HedgeSymbol, err)
	}

	funding, err := e.venue.GetFundingRate(ctx, cfg.HedgeSymbol)
	if err != nil {
		return fmt.Errorf("engine: funding rate %s: %w", cfg.HedgeSymbol, err)
	}

	target := ComputeTarget(snap, funding, cfg.HedgedAsset,
		cfg.HedgeRatio, e.cfg.HedgeRatioFloor, e.cfg.FundingCutoff)

	now := e.now()

	e.mu.Lock()
	st, ok = e.positions[id]
	if !ok {
		// Deactivated while we were reading externals.
		e.mu.Unlock()
		return nil
	}

	st.tracker.AccrueFunding(funding, venueState.NotionalUSD, now)

	trig := evaluateTriggers(triggerContext{
		pos:    st.rec,
		target: target,
		venue:  venueState,
		price:  price,
		now:    now,
		cfg:    e.cfg,
	})
	if trig == nil {
		st.rec.LastPrice = price
		st.rec.PnL = st.tracker.State()
		e.mu.Unlock()
		e.publishPrice(ctx, cfg.HedgeSymbol, price, now)
		return nil
	}

	targetSize := target.Size
	if targetSize < 0 {
		targetSize = 0
	}
	targetNotional := target.NotionalUSD
	if targetNotional < 0 {
		targetNotional = 0
	}
	deltaNotional := targetNotional - venueState.NotionalUSD
	if deltaNotional < 0 {
		deltaNotional = -deltaNotional
	}

	verdict := checkGates(gateContext{
		pos:            st.rec,
		trigger:        *trig,
		deltaNotional:  deltaNotional,
		targetNotional: targetNotional,
		targetSize:     targetSize,
		venueSize:      venueState.Size,
		now:            now,
		cfg:            e.cfg,
	})
	if !verdict.Allowed {
		st.rec.LastPrice = price
		st.rec.PnL = st.tracker.State()
		e.mu.Unlock()
		// A denial is a normal, logged outcome, not an error.
		e.logger.InfoContext(ctx, "rebalance skipped by safety gate",
			slog.String("position_id", id),
			slog.String("trigger", string(trig.Kind)),
			slog.String("gate", verdict.Gate),
			slog.String("reason", verdict.Reason),
		)
		e.publishPrice(ctx, cfg.HedgeSymbol, price, now)
		return nil
	}
	e.mu.Unlock()

	fill, err := e.executeAdjustment(ctx, cfg.HedgeSymbol, *trig, targetSize, targetNotional)
	if err != nil {
		// Counters and reference fields are untouched, so the same trigger
		// re-evaluates on the next cycle.
		return fmt.Errorf("engine: execute adjustment %s: %w", id, err)
	}

	equity, err := e.venue.GetAccountEquity(ctx)
	if err != nil {
		e.logger.WarnContext(ctx, "venue equity unavailable for pnl snapshot",
			slog.String("position_id", id),
			slog.String("error", err.Error()),
		)
		equity = 0
	}

	execPrice := price
	if fill != nil && fill.AvgPrice > 0 {
		execPrice = fill.AvgPrice
	}

	rec := e.commitRebalance(ctx, id, commitInput{
		trigger:       *trig,
		snap:          snap,
		venueBefore:   venueState,
		targetSize:    targetSize,
		targetNotionl: targetNotional,
		price:         price,
		execPrice:     execPrice,
		deltaNotional: deltaNotional,
		equity:        equity,
		now:           now,
	})
	if rec == nil {
		// Position was deactivated while the order was in flight.
		e.logger.WarnContext(ctx, "rebalance executed for position deactivated mid-flight",
			slog.String("position_id", id),
		)
		return nil
	}

	e.emitRebalance(ctx, *rec)
	e.publishPrice(ctx, cfg.HedgeSymbol, price, now)
	return nil
}

// executeAdjustment moves the venue position to the target, closing it
// entirely when the target is zero.
func (e *Engine) executeAdjustment(ctx context.Context, symbol string, trig Trigger, size, notional float64) (*domain.FillResult, error) {
	if trig.Kind == TriggerForcedClose || size <= 0 {
		return e.venue.ClosePosition(ctx, symbol)
	}
	return e.venue.SetPosition(ctx, symbol, size, notional)
}

type commitInput struct {
	trigger       Trigger
	snap          domain.LPSnapshot
	venueBefore   domain.HedgeState
	targetSize    float64
	targetNotionl float64
	price         float64
	execPrice     float64
	deltaNotional float64
	equity        float64
	now           time.Time
}

// commitRebalance applies all post-execution state mutations under the lock
// and persists the record. It returns nil when the position is no longer
// tracked.
func (e *Engine) commitRebalance(ctx context.Context, id string, in commitInput) *domain.RebalanceRecord {
	e.mu.Lock()
	st, ok := e.positions[id]
	if !ok {
		e.mu.Unlock()
		return nil
	}

	sizeDelta := in.targetSize - in.venueBefore.Size
	if st.tracker.Overshoot(sizeDelta) {
		e.logger.WarnContext(ctx, "virtual ledger size drifted from venue holdings",
			slog.String("position_id", id),
			slog.Float64("virtual_size", st.tracker.State().VirtualSize),
			slog.Float64("venue_size", in.venueBefore.Size),
		)
	}
	realized := st.tracker.RecordTrade(sizeDelta, in.execPrice)
	st.tracker.RecordTradeFee(in.deltaNotional)

	pnlSnap := st.tracker.Snapshot(in.snap.ValueUSD(), in.equity, in.snap.FeesUSD(), in.price, in.now)

	rec := st.rec
	side := domain.HedgeSideShort
	if in.targetSize == 0 {
		side = domain.HedgeSideFlat
	}
	rec.LastHedge = domain.HedgeState{
		Symbol:      rec.Config.HedgeSymbol,
		Size:        in.targetSize,
		NotionalUSD: in.targetNotionl,
		Side:        side,
	}
	rec.LastPrice = in.price
	rec.LastRebalancePrice = in.price
	rec.LastRebalanceAt = in.now
	bumpCounters(rec, in.now)
	rec.PnL = st.tracker.State()

	entry := domain.RebalanceRecord{
		ID:             uuid.New().String(),
		PositionID:     id,
		Trigger:        string(in.trigger.Kind),
		Reason:         in.trigger.Reason,
		Emergency:      in.trigger.Emergency,
		BeforeSize:     in.venueBefore.Size,
		AfterSize:      in.targetSize,
		BeforeNotional: in.venueBefore.NotionalUSD,
		AfterNotional:  in.targetNotionl,
		Price:          in.execPrice,
		RealizedUSD:    realized,
		PnL:            pnlSnap,
		ExecutedAt:     in.now,
	}
	rec.Rebalances = append(rec.Rebalances, entry)
	if len(rec.Rebalances) > e.cfg.HistoryLimit {
		rec.Rebalances = rec.Rebalances[len(rec.Rebalances)-e.cfg.HistoryLimit:]
	}

	recCopy := copyRecord(rec)
	e.mu.Unlock()

	// Persist synchronously; on failure the in-memory state stays
	// authoritative until the next successful write.
	if err := e.store.Save(ctx, recCopy); err != nil {
		e.logger.ErrorContext(ctx, "failed to persist position state",
			slog.String("position_id", id),
			slog.String("error", err.Error()),
		)
	}

	e.logger.InfoContext(ctx, "rebalance executed",
		slog.String("position_id", id),
		slog.String("trigger", string(in.trigger.Kind)),
		slog.Bool("emergency", in.trigger.Emergency),
		slog.Float64("before_size", in.venueBefore.Size),
		slog.Float64("after_size", in.targetSize),
		slog.Float64("price", in.execPrice),
		slog.Float64("realized_usd", realized),
	)

	return &entry
}

// bumpCounters advances the daily and hourly rate counters, resetting them
// across calendar-day and rolling-hour boundaries.
func bumpCounters(rec *domain.TrackedPosition, now time.Time) {
	day := dayKey(now)
	if rec.DailyResetDate != day {
		rec.DailyResetDate = day
		rec.DailyCount = 0
	}
	rec.DailyCount++

	if rec.HourlyResetAt.IsZero() || now.Sub(rec.HourlyResetAt) >= time.Hour {
		rec.HourlyResetAt = now
		rec.HourlyCount = 0
	}
	rec.HourlyCount++
}

// emitRebalance delivers the audit record with bounded retries and fans the
// event out to the notifier and dashboard bus. All delivery is best-effort.
func (e *Engine) emitRebalance(ctx context.Context, rec domain.RebalanceRecord) {
	if e.audit != nil {
		var err error
		for attempt := 0; attempt < e.cfg.AuditRetries; attempt++ {
			if err = e.audit.Insert(ctx, rec); err == nil {
				break
			}
			select {
			case <-ctx.Done():
				attempt = e.cfg.AuditRetries
			case <-time.After(time.Duration(attempt+1) * 500 * time.Millisecond):
			}
		}
		if err != nil {
			e.logger.ErrorContext(ctx, "audit sink delivery failed",
				slog.String("rebalance_id", rec.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if e.alerter != nil {
		event := "rebalance_executed"
		title := "Hedge rebalanced"
		switch {
		case rec.Trigger == string(TriggerForcedClose):
			event = "forced_close"
			title = "Hedge force-closed"
		case rec.Emergency:
			event = "emergency"
			title = "Emergency rebalance"
		}
		msg := fmt.Sprintf("%s: %.6f -> %.6f @ %.4f (%s)",
			rec.PositionID, rec.BeforeSize, rec.AfterSize, rec.Price, rec.Reason)
		if err := e.alerter.Notify(ctx, event, title, msg); err != nil {
			e.logger.WarnContext(ctx, "notifier delivery failed",
				slog.String("error", err.Error()),
			)
		}
	}

	e.publish(ctx, "rebalances", rec)
}

// publishPrice mirrors the latest observed price into the cache and
// dashboard channel.
func (e *Engine) publishPrice(ctx context.Context, symbol string, price float64, ts time.Time) {
	if e.prices != nil {
		if err := e.prices.SetPrice(ctx, symbol, price, ts); err != nil {
			e.logger.DebugContext(ctx, "price cache write failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
		}
	}
	e.publish(ctx, "prices", map[string]any{
		"symbol":    symbol,
		"price":     price,
		"timestamp": ts.UTC().Format(time.RFC3339),
	})
}

// publish marshals v and sends it on the dashboard bus channel.
func (e *Engine) publish(ctx context.Context, channel string, v any) {
	if e.bus == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := e.bus.Publish(ctx, channel, payload); err != nil {
		e.logger.DebugContext(ctx, "bus publish failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}

// copyRecord returns a value copy of rec safe to use outside the lock.
func copyRecord(rec *domain.TrackedPosition) domain.TrackedPosition {
	out := *rec
	out.Rebalances = make([]domain.RebalanceRecord, len(rec.Rebalances))
	copy(out.Rebalances, rec.Rebalances)
	return out
}
