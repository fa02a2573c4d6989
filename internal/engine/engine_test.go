package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/lphedger/internal/domain"
)

// --- fakes -----------------------------------------------------------------

type fakeLP struct {
	mu   sync.Mutex
	snap domain.LPSnapshot
	err  error
}

func (f *fakeLP) ReadPosition(context.Context, string, uint64) (domain.LPSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap, f.err
}

func (f *fakeLP) set(snap domain.LPSnapshot) {
	f.mu.Lock()
	f.snap = snap
	f.mu.Unlock()
}

type fakeVenue struct {
	mu      sync.Mutex
	pos     domain.HedgeState
	funding float64
	equity  float64

	setErr   error
	setCalls int
	closes   int
}

func (f *fakeVenue) GetPosition(context.Context, string) (domain.HedgeState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pos, nil
}

func (f *fakeVenue) SetPosition(_ context.Context, symbol string, size, notionalUSD float64) (*domain.FillResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setCalls++
	if f.setErr != nil {
		return nil, f.setErr
	}
	action := domain.FillActionIncreased
	if size < f.pos.Size {
		action = domain.FillActionReduced
	}
	if f.pos.Size == 0 {
		action = domain.FillActionOpened
	}
	filled := size - f.pos.Size
	f.pos = domain.HedgeState{Symbol: symbol, Size: size, NotionalUSD: notionalUSD, Side: domain.HedgeSideShort}
	var avg float64
	if size != 0 {
		avg = notionalUSD / size
	}
	return &domain.FillResult{Action: action, FilledSize: filled, AvgPrice: avg}, nil
}

func (f *fakeVenue) ClosePosition(_ context.Context, symbol string) (*domain.FillResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	closed := f.pos.Size
	var avg float64
	if f.pos.Size != 0 {
		avg = f.pos.NotionalUSD / f.pos.Size
	}
	f.pos = domain.HedgeState{Symbol: symbol, Side: domain.HedgeSideFlat}
	return &domain.FillResult{Action: domain.FillActionClosed, FilledSize: closed, AvgPrice: avg}, nil
}

func (f *fakeVenue) GetFundingRate(context.Context, string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.funding, nil
}

func (f *fakeVenue) GetAccountEquity(context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.equity, nil
}

type memStateStore struct {
	mu   sync.Mutex
	rows map[string]domain.TrackedPosition
}

func newMemStateStore() *memStateStore {
	return &memStateStore{rows: make(map[string]domain.TrackedPosition)}
}

func (s *memStateStore) Save(_ context.Context, pos domain.TrackedPosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[pos.Config.PositionID] = pos
	return nil
}

func (s *memStateStore) Delete(_ context.Context, positionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, positionID)
	return nil
}

func (s *memStateStore) Load(_ context.Context, positionID string) (domain.TrackedPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.rows[positionID]
	if !ok {
		return domain.TrackedPosition{}, domain.ErrNotFound
	}
	return pos, nil
}

func (s *memStateStore) LoadAll(context.Context) ([]domain.TrackedPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.TrackedPosition, 0, len(s.rows))
	for _, pos := range s.rows {
		out = append(out, pos)
	}
	return out, nil
}

type memAuditStore struct {
	mu   sync.Mutex
	rows []domain.RebalanceRecord
}

func (s *memAuditStore) Insert(_ context.Context, rec domain.RebalanceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, rec)
	return nil
}

func (s *memAuditStore) ListRecent(_ context.Context, positionID string, limit int) ([]domain.RebalanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.RebalanceRecord
	for i := len(s.rows) - 1; i >= 0 && len(out) < limit; i-- {
		if s.rows[i].PositionID == positionID {
			out = append(out, s.rows[i])
		}
	}
	return out, nil
}

func (s *memAuditStore) ListBefore(_ context.Context, before time.Time) ([]domain.RebalanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.RebalanceRecord
	for _, rec := range s.rows {
		if rec.ExecutedAt.Before(before) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *memAuditStore) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.rows[:0]
	var removed int64
	for _, rec := range s.rows {
		if rec.ExecutedAt.Before(before) {
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	s.rows = kept
	return removed, nil
}

func (s *memAuditStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// --- harness ---------------------------------------------------------------

type harness struct {
	engine *Engine
	lp     *fakeLP
	venue  *fakeVenue
	store  *memStateStore
	audit  *memAuditStore
	clock  time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		lp: &fakeLP{snap: domain.LPSnapshot{
			PositionID: "pos-1",
			Pool:       "0xpool",
			Amount0:    10,
			Amount1:    20_000,
			Price:      2_000,
			Range:      domain.RangeStatusIn,
		}},
		venue: &fakeVenue{funding: 0.0001, equity: 25_000},
		store: newMemStateStore(),
		audit: &memAuditStore{},
		clock: time.Date(2025, time.June, 2, 10, 0, 0, 0, time.UTC),
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.engine = New(h.lp, h.venue, h.store, h.audit, nil, nil, nil, Config{AuditRetries: 1}, logger)
	h.engine.now = func() time.Time { return h.clock }
	return h
}

func (h *harness) activate(t *testing.T) {
	t.Helper()
	err := h.engine.Activate(context.Background(), domain.PositionConfig{
		PositionID:  "pos-1",
		Pool:        "0xpool",
		LPTokenID:   42,
		HedgeSymbol: "ETH",
		HedgedAsset: domain.AssetToken0,
		HedgeRatio:  1.0,
		ActivatedAt: h.clock,
	})
	require.NoError(t, err)
}

func (h *harness) advance(d time.Duration) {
	h.clock = h.clock.Add(d)
}

func (h *harness) position(t *testing.T) domain.TrackedPosition {
	t.Helper()
	pos, err := h.engine.GetPosition("pos-1")
	require.NoError(t, err)
	return pos
}

// --- tests -----------------------------------------------------------------

func TestActivateRejectsDuplicateAndBadConfig(t *testing.T) {
	h := newHarness(t)
	h.activate(t)

	err := h.engine.Activate(context.Background(), domain.PositionConfig{
		PositionID:  "pos-1",
		HedgeSymbol: "ETH",
		HedgedAsset: domain.AssetToken0,
		HedgeRatio:  1.0,
	})
	assert.ErrorIs(t, err, domain.ErrAlreadyTracked)

	err = h.engine.Activate(context.Background(), domain.PositionConfig{
		PositionID:  "pos-2",
		HedgeSymbol: "ETH",
		HedgedAsset: domain.AssetToken0,
		HedgeRatio:  1.5,
	})
	assert.Error(t, err)
}

func TestActivateCapturesAccountingBaseline(t *testing.T) {
	h := newHarness(t)
	h.activate(t)

	pos := h.position(t)
	assert.True(t, pos.PnL.Initialized)
	assert.InDelta(t, 10*2_000.0+20_000, pos.PnL.InitialLPUSD, 1e-9)
	assert.InDelta(t, 25_000, pos.PnL.InitialVenueUSD, 1e-9)
	assert.False(t, pos.HasReferencePrice(), "activation must not set a reference price")

	// Activation persists immediately.
	_, err := h.store.Load(context.Background(), "pos-1")
	assert.NoError(t, err)
}

func TestActivateWithFailingLPReadDisablesAccounting(t *testing.T) {
	h := newHarness(t)
	h.lp.err = domain.ErrTransient

	err := h.engine.Activate(context.Background(), domain.PositionConfig{
		PositionID:  "pos-1",
		Pool:        "0xpool",
		HedgeSymbol: "ETH",
		HedgedAsset: domain.AssetToken0,
		HedgeRatio:  1.0,
		ActivatedAt: h.clock,
	})
	require.NoError(t, err, "activation must succeed without a baseline")

	pos := h.position(t)
	assert.False(t, pos.PnL.Initialized)
}

func TestFirstCycleDoesNothingBeforeTimer(t *testing.T) {
	h := newHarness(t)
	h.activate(t)

	h.advance(10 * time.Minute)
	h.engine.RunCycle(context.Background())

	assert.Zero(t, h.venue.setCalls)
	assert.Zero(t, h.audit.count())
	pos := h.position(t)
	assert.False(t, pos.HasReferencePrice())
	assert.InDelta(t, 2_000, pos.LastPrice, 1e-9, "observed price still recorded")
}

func TestTimerRebalanceEstablishesReferencePrice(t *testing.T) {
	h := newHarness(t)
	h.activate(t)

	h.advance(61 * time.Minute)
	h.engine.RunCycle(context.Background())

	require.Equal(t, 1, h.venue.setCalls)
	pos := h.position(t)
	assert.InDelta(t, 2_000, pos.LastRebalancePrice, 1e-9)
	assert.Equal(t, h.clock, pos.LastRebalanceAt)
	assert.Equal(t, 1, pos.DailyCount)
	assert.Equal(t, 1, pos.HourlyCount)
	require.Len(t, pos.Rebalances, 1)
	assert.Equal(t, string(TriggerTimer), pos.Rebalances[0].Trigger)
	assert.InDelta(t, 10, pos.LastHedge.Size, 1e-9)
	assert.Equal(t, 1, h.audit.count())
}

func TestPriceMoveTriggersAfterReferenceEstablished(t *testing.T) {
	h := newHarness(t)
	h.engine.cfg.Cooldown = 30 * time.Minute
	h.activate(t)

	h.advance(61 * time.Minute)
	h.engine.RunCycle(context.Background())
	require.Equal(t, 1, h.venue.setCalls)

	// A 6% move inside the cooldown window is denied by the cooldown gate.
	h.advance(10 * time.Minute)
	h.lp.set(domain.LPSnapshot{
		PositionID: "pos-1", Pool: "0xpool",
		Amount0: 9.7, Amount1: 20_600, Price: 2_120, Range: domain.RangeStatusIn,
	})
	h.engine.RunCycle(context.Background())
	assert.Equal(t, 1, h.venue.setCalls)

	// Past the cooldown, and before the next timer tick, the same move
	// executes as a normal price trigger.
	h.advance(30 * time.Minute)
	h.engine.RunCycle(context.Background())
	require.Equal(t, 2, h.venue.setCalls)
	pos := h.position(t)
	require.Len(t, pos.Rebalances, 2)
	assert.Equal(t, string(TriggerPriceMove), pos.Rebalances[1].Trigger)
	assert.False(t, pos.Rebalances[1].Emergency)
	assert.InDelta(t, 2_120, pos.LastRebalancePrice, 1e-9)
}

func TestEmergencyMoveBypassesCooldown(t *testing.T) {
	h := newHarness(t)
	h.activate(t)

	h.advance(61 * time.Minute)
	h.engine.RunCycle(context.Background())
	require.Equal(t, 1, h.venue.setCalls)

	// 16% move five minutes later: cooldown is active but bypassed.
	h.advance(5 * time.Minute)
	h.lp.set(domain.LPSnapshot{
		PositionID: "pos-1", Pool: "0xpool",
		Amount0: 8.9, Amount1: 22_000, Price: 2_320, Range: domain.RangeStatusIn,
	})
	h.engine.RunCycle(context.Background())

	require.Equal(t, 2, h.venue.setCalls)
	pos := h.position(t)
	require.Len(t, pos.Rebalances, 2)
	assert.Equal(t, string(TriggerEmergencyMove), pos.Rebalances[1].Trigger)
	assert.True(t, pos.Rebalances[1].Emergency)
}

func TestForcedCloseWhenRangeExits(t *testing.T) {
	h := newHarness(t)
	h.activate(t)

	h.advance(61 * time.Minute)
	h.engine.RunCycle(context.Background())
	require.InDelta(t, 10, h.venue.pos.Size, 1e-9)

	// Price rises above range: the pool sheds all token0 and the short
	// must be force-closed immediately, cooldown or not.
	h.advance(5 * time.Minute)
	h.lp.set(domain.LPSnapshot{
		PositionID: "pos-1", Pool: "0xpool",
		Amount0: 0, Amount1: 42_000, Price: 2_050, Range: domain.RangeStatusAbove,
	})
	h.engine.RunCycle(context.Background())

	assert.Equal(t, 1, h.venue.closes)
	assert.Zero(t, h.venue.pos.Size)
	pos := h.position(t)
	require.Len(t, pos.Rebalances, 2)
	assert.Equal(t, string(TriggerForcedClose), pos.Rebalances[1].Trigger)
	assert.Equal(t, domain.HedgeSideFlat, pos.LastHedge.Side)
}

func TestFailedExecutionPreservesState(t *testing.T) {
	h := newHarness(t)
	h.activate(t)

	h.advance(61 * time.Minute)
	h.venue.setErr = errors.New("exchange rejected order")
	h.engine.RunCycle(context.Background())

	pos := h.position(t)
	assert.False(t, pos.HasReferencePrice())
	assert.True(t, pos.LastRebalanceAt.IsZero())
	assert.Zero(t, pos.DailyCount)
	assert.Empty(t, pos.Rebalances)
	assert.Zero(t, h.audit.count())

	// Clearing the fault lets the very next cycle retry the same trigger.
	h.venue.mu.Lock()
	h.venue.setErr = nil
	h.venue.mu.Unlock()
	h.advance(time.Minute)
	h.engine.RunCycle(context.Background())
	pos = h.position(t)
	assert.True(t, pos.HasReferencePrice())
	require.Len(t, pos.Rebalances, 1)
}

func TestPriceSanityFloorAbortsCycle(t *testing.T) {
	h := newHarness(t)
	h.activate(t)

	h.advance(61 * time.Minute)
	h.lp.set(domain.LPSnapshot{
		PositionID: "pos-1", Pool: "0xpool",
		Amount0: 10, Amount1: 20_000, Price: 0.0000021, Range: domain.RangeStatusIn,
	})
	h.engine.RunCycle(context.Background())

	assert.Zero(t, h.venue.setCalls)
	pos := h.position(t)
	assert.InDelta(t, 2_000, pos.LastPrice, 1e-9, "aborted cycle must not record the bogus price")
}

func TestRebalanceRecordsVirtualAccounting(t *testing.T) {
	h := newHarness(t)
	h.activate(t)

	h.advance(61 * time.Minute)
	h.engine.RunCycle(context.Background())

	pos := h.position(t)
	assert.InDelta(t, 10, pos.PnL.VirtualSize, 1e-9)
	assert.InDelta(t, 2_000, pos.PnL.AvgEntryPrice, 1e-9)
	assert.Greater(t, pos.PnL.VenueFeesUSD, 0.0)

	// Shrink the position: the reduction realizes pnl at the new price.
	h.advance(61 * time.Minute)
	h.lp.set(domain.LPSnapshot{
		PositionID: "pos-1", Pool: "0xpool",
		Amount0: 8, Amount1: 24_000, Price: 2_150, Range: domain.RangeStatusIn,
	})
	h.engine.RunCycle(context.Background())

	pos = h.position(t)
	require.Len(t, pos.Rebalances, 2)
	assert.InDelta(t, 8, pos.PnL.VirtualSize, 1e-9)
	assert.InDelta(t, (2_000.0-2_150.0)*2, pos.Rebalances[1].RealizedUSD, 1e-9)
	assert.InDelta(t, 2_000, pos.PnL.AvgEntryPrice, 1e-9, "reduction keeps the entry price")
}

func TestHistoryLimitBoundsRebalanceLog(t *testing.T) {
	h := newHarness(t)
	h.engine.cfg.HistoryLimit = 3
	h.activate(t)

	for i := 0; i < 6; i++ {
		h.advance(61 * time.Minute)
		price := 2_000 + float64(i)*200
		h.lp.set(domain.LPSnapshot{
			PositionID: "pos-1", Pool: "0xpool",
			Amount0: 10 - float64(i)*0.5, Amount1: 20_000, Price: price, Range: domain.RangeStatusIn,
		})
		h.engine.RunCycle(context.Background())
	}

	pos := h.position(t)
	assert.Len(t, pos.Rebalances, 3)
	assert.Equal(t, 6, h.audit.count(), "audit log keeps everything")
}

func TestDeactivateClosesVenueHedgeAndForgets(t *testing.T) {
	h := newHarness(t)
	h.activate(t)
	h.advance(61 * time.Minute)
	h.engine.RunCycle(context.Background())
	require.InDelta(t, 10, h.venue.pos.Size, 1e-9)

	err := h.engine.Deactivate(context.Background(), "pos-1")
	require.NoError(t, err)
	assert.Equal(t, 1, h.venue.closes)

	_, err = h.engine.GetPosition("pos-1")
	assert.ErrorIs(t, err, domain.ErrNotTracked)
	_, err = h.store.Load(context.Background(), "pos-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.ErrorIs(t, h.engine.Deactivate(context.Background(), "pos-1"), domain.ErrNotTracked)
}

func TestRestoreRoundTripsPersistedState(t *testing.T) {
	h := newHarness(t)
	h.activate(t)
	h.advance(61 * time.Minute)
	h.engine.RunCycle(context.Background())
	want := h.position(t)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fresh := New(h.lp, h.venue, h.store, h.audit, nil, nil, nil, Config{}, logger)
	fresh.now = func() time.Time { return h.clock }
	require.NoError(t, fresh.Restore(context.Background()))

	got, err := fresh.GetPosition("pos-1")
	require.NoError(t, err)
	assert.Equal(t, want.Config.PositionID, got.Config.PositionID)
	assert.Equal(t, want.LastRebalancePrice, got.LastRebalancePrice)
	assert.Equal(t, want.PnL.VirtualSize, got.PnL.VirtualSize)
	assert.Len(t, got.Rebalances, len(want.Rebalances))
}

func TestUpdateConfigPartialEdit(t *testing.T) {
	h := newHarness(t)
	h.activate(t)

	newThreshold := 0.08
	err := h.engine.UpdateConfig(context.Background(), "pos-1", ConfigUpdate{
		RebalanceThreshold: &newThreshold,
	})
	require.NoError(t, err)

	pos := h.position(t)
	assert.InDelta(t, 0.08, pos.Config.RebalanceThreshold, 1e-9)
	assert.InDelta(t, 1.0, pos.Config.HedgeRatio, 1e-9, "untouched fields keep their values")

	bad := 0.20
	err = h.engine.UpdateConfig(context.Background(), "pos-1", ConfigUpdate{
		RebalanceThreshold: &bad, // equals the emergency threshold
	})
	assert.Error(t, err)
}

func TestResetAccountingRequiresBaseline(t *testing.T) {
	h := newHarness(t)
	h.activate(t)

	assert.ErrorIs(t, h.engine.ResetAccounting(context.Background(), "pos-1", 0, 5_000, 0), domain.ErrNoBaseline)
	assert.ErrorIs(t, h.engine.ResetAccounting(context.Background(), "missing", 1, 1, 0), domain.ErrNotTracked)

	require.NoError(t, h.engine.ResetAccounting(context.Background(), "pos-1", 50_000, 30_000, 100))
	pos := h.position(t)
	assert.InDelta(t, 50_000, pos.PnL.InitialLPUSD, 1e-9)
	assert.Zero(t, pos.PnL.VirtualSize)
}

func TestListPositionsSortedCopies(t *testing.T) {
	h := newHarness(t)
	for _, id := range []string{"pos-b", "pos-a", "pos-c"} {
		err := h.engine.Activate(context.Background(), domain.PositionConfig{
			PositionID:  id,
			Pool:        "0xpool",
			HedgeSymbol: "ETH",
			HedgedAsset: domain.AssetToken0,
			HedgeRatio:  1.0,
			ActivatedAt: h.clock,
		})
		require.NoError(t, err)
	}

	list := h.engine.ListPositions()
	require.Len(t, list, 3)
	assert.Equal(t, "pos-a", list[0].Config.PositionID)
	assert.Equal(t, "pos-c", list[2].Config.PositionID)

	// Mutating the returned copy must not touch engine state.
	list[0].Config.HedgeRatio = 0.1
	pos, err := h.engine.GetPosition("pos-a")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, pos.Config.HedgeRatio, 1e-9)
}
