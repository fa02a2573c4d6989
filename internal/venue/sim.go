package venue

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/alanyoungcy/lphedger/internal/domain"
	"github.com/alanyoungcy/lphedger/internal/engine"
)

// Simulator is the in-memory paper venue. Orders fill instantly and in full
// at the configured mark price, charging the taker fee against equity, so a
// paper run exercises the exact engine code path the live adapter does.
type Simulator struct {
	mu           sync.Mutex
	cash         float64
	takerFeeRate float64
	marks        map[string]float64
	funding      map[string]float64
	positions    map[string]*simPosition
}

type simPosition struct {
	size    float64 // short size in units, always >= 0
	entryPx float64
}

var _ engine.Venue = (*Simulator)(nil)

// NewSimulator creates a paper venue with the given starting equity.
func NewSimulator(initialEquityUSD, takerFeeRate float64) *Simulator {
	return &Simulator{
		cash:         initialEquityUSD,
		takerFeeRate: takerFeeRate,
		marks:        make(map[string]float64),
		funding:      make(map[string]float64),
		positions:    make(map[string]*simPosition),
	}
}

// SetMark sets the fill/mark price for a symbol.
func (s *Simulator) SetMark(symbol string, price float64) {
	s.mu.Lock()
	s.marks[symbol] = price
	s.mu.Unlock()
}

// SetFunding sets the hourly funding rate reported for a symbol.
func (s *Simulator) SetFunding(symbol string, rate float64) {
	s.mu.Lock()
	s.funding[symbol] = rate
	s.mu.Unlock()
}

func (s *Simulator) GetPosition(_ context.Context, symbol string) (domain.HedgeState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.positions[symbol]
	if !ok || pos.size == 0 {
		return domain.HedgeState{Symbol: symbol, Side: domain.HedgeSideFlat}, nil
	}
	return domain.HedgeState{
		Symbol:      symbol,
		Size:        pos.size,
		NotionalUSD: pos.size * s.marks[symbol],
		Side:        domain.HedgeSideShort,
	}, nil
}

func (s *Simulator) SetPosition(_ context.Context, symbol string, size, _ float64) (*domain.FillResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mark, ok := s.marks[symbol]
	if !ok {
		return nil, fmt.Errorf("venue/sim: no mark price for %s: %w", symbol, domain.ErrNotFound)
	}
	if size < 0 {
		size = 0
	}

	pos, ok := s.positions[symbol]
	if !ok {
		pos = &simPosition{}
		s.positions[symbol] = pos
	}

	delta := size - pos.size
	if delta == 0 {
		return nil, nil
	}

	action := s.fill(pos, size, mark)
	return &domain.FillResult{Action: action, FilledSize: math.Abs(delta), AvgPrice: mark}, nil
}

func (s *Simulator) ClosePosition(_ context.Context, symbol string) (*domain.FillResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.positions[symbol]
	if !ok || pos.size == 0 {
		return nil, nil
	}
	mark, ok := s.marks[symbol]
	if !ok {
		return nil, fmt.Errorf("venue/sim: no mark price for %s: %w", symbol, domain.ErrNotFound)
	}

	closed := pos.size
	s.fill(pos, 0, mark)
	return &domain.FillResult{Action: domain.FillActionClosed, FilledSize: closed, AvgPrice: mark}, nil
}

func (s *Simulator) GetFundingRate(_ context.Context, symbol string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.funding[symbol], nil
}

// GetAccountEquity returns cash plus the unrealized PnL of every open short
// at current marks.
func (s *Simulator) GetAccountEquity(context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	equity := s.cash
	for symbol, pos := range s.positions {
		if pos.size == 0 {
			continue
		}
		equity += (pos.entryPx - s.marks[symbol]) * pos.size
	}
	return equity, nil
}

// fill moves pos to the target size at the mark, realizing PnL on reductions
// and charging the taker fee on the traded notional. Caller holds the lock.
func (s *Simulator) fill(pos *simPosition, target, mark float64) domain.FillAction {
	delta := target - pos.size
	s.cash -= math.Abs(delta) * mark * s.takerFeeRate

	switch {
	case delta > 0:
		newSize := pos.size + delta
		if pos.size == 0 {
			pos.entryPx = mark
		} else {
			pos.entryPx = (pos.entryPx*pos.size + mark*delta) / newSize
		}
		wasFlat := pos.size == 0
		pos.size = newSize
		if wasFlat {
			return domain.FillActionOpened
		}
		return domain.FillActionIncreased
	default:
		closed := -delta
		s.cash += (pos.entryPx - mark) * closed
		pos.size = target
		if target == 0 {
			return domain.FillActionClosed
		}
		return domain.FillActionReduced
	}
}
