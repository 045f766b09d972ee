// Package portfolio implements the Portfolio (C3): cash, per-symbol
// positions, realized/unrealized P&L and the append-only equity curve. The
// formulas follow original_source's portfolio.py (_update_position_buy,
// _update_position_sell, update_market_value, record_equity) verbatim; the
// surrounding mutex-guarded-struct idiom is the teacher's (trader.go's
// Trader.mu guarding Position/equityUSD/dailyPnL).
package portfolio

import (
	"sync"
	"time"

	"github.com/algotrade/tradecore/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Portfolio tracks one strategy's cash, positions and equity history.
type Portfolio struct {
	mu sync.RWMutex

	initialCapital decimal.Decimal
	cash           decimal.Decimal
	realizedPnL    decimal.Decimal
	positions      map[string]*domain.Position // keyed by symbol
	equityCurve    []domain.EquitySample
	strategyID     string
}

// New constructs a Portfolio with the given starting cash.
func New(strategyID string, initialCapital decimal.Decimal) *Portfolio {
	return &Portfolio{
		initialCapital: initialCapital,
		cash:           initialCapital,
		positions:      make(map[string]*domain.Position),
		strategyID:     strategyID,
	}
}

// OversellPolicy controls apply_fill's behavior when a sell exceeds the held
// quantity: Clip (sim — clip to held, log a warning) or Reject (live —
// returns insufficient_position).
type OversellPolicy int

const (
	OversellClip OversellPolicy = iota
	OversellReject
)

// ApplyFill updates cash and the relevant position for one fill, per
// spec.md §4.3. Buys use weighted-average entry price; sells realize P&L
// against the existing average entry and reduce (or remove) the position.
func (p *Portfolio) ApplyFill(fill domain.Fill, policy OversellPolicy) (*domain.Error, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos := p.positions[fill.Symbol]
	if pos == nil {
		pos = &domain.Position{StrategyID: p.strategyID, Symbol: fill.Symbol, Side: domain.PositionFlat}
		p.positions[fill.Symbol] = pos
	}

	costs := fill.Commission.Add(fill.Slippage)

	switch fill.Side {
	case domain.SideBuy:
		p.cash = p.cash.Sub(fill.Quantity.Mul(fill.Price)).Sub(costs)
		p.applyBuy(pos, fill.Quantity, fill.Price)
	case domain.SideSell:
		qty := fill.Quantity
		if qty.GreaterThan(pos.Quantity) {
			if policy == OversellReject {
				return domain.NewError(domain.ErrInsufficientPos, "sell quantity exceeds held quantity").
					WithDetail("symbol", fill.Symbol), nil
			}
			log.Warn().Str("symbol", fill.Symbol).
				Str("requested", fill.Quantity.String()).
				Str("held", pos.Quantity.String()).
				Msg("oversell clipped to held quantity")
			qty = pos.Quantity
		}
		p.cash = p.cash.Add(qty.Mul(fill.Price)).Sub(costs)
		realized := fill.Price.Sub(pos.AverageEntry).Mul(qty)
		p.realizedPnL = p.realizedPnL.Add(realized)
		pos.RealizedPnL = pos.RealizedPnL.Add(realized)
		p.applySell(pos, qty)
	}

	if pos.Quantity.IsZero() {
		delete(p.positions, fill.Symbol)
	}
	return nil, nil
}

func (p *Portfolio) applyBuy(pos *domain.Position, qty, price decimal.Decimal) {
	if pos.Quantity.IsZero() {
		pos.AverageEntry = price
	} else {
		total := pos.Quantity.Add(qty)
		pos.AverageEntry = pos.Quantity.Mul(pos.AverageEntry).Add(qty.Mul(price)).Div(total)
	}
	pos.Quantity = pos.Quantity.Add(qty)
	pos.Side = sideFor(pos.Quantity)
}

func (p *Portfolio) applySell(pos *domain.Position, qty decimal.Decimal) {
	pos.Quantity = pos.Quantity.Sub(qty)
	if pos.Quantity.IsNegative() {
		pos.Quantity = decimal.Zero // defensive: oversell is clipped above, this can't trigger in sim/live
	}
	pos.Side = sideFor(pos.Quantity)
}

func sideFor(qty decimal.Decimal) domain.PositionSide {
	if qty.IsZero() {
		return domain.PositionFlat
	}
	return domain.PositionLong
}

// MarkToMarket updates current price and unrealized P&L for every held
// position from priceMap, then recomputes and returns current equity.
func (p *Portfolio) MarkToMarket(priceMap map[string]decimal.Decimal) decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	for sym, pos := range p.positions {
		px, ok := priceMap[sym]
		if !ok {
			continue
		}
		pos.CurrentPrice = px
		pos.UnrealizedPnL = px.Sub(pos.AverageEntry).Mul(pos.Quantity)
	}
	return p.equityLocked()
}

func (p *Portfolio) equityLocked() decimal.Decimal {
	equity := p.cash
	for _, pos := range p.positions {
		equity = equity.Add(pos.Quantity.Mul(pos.CurrentPrice))
	}
	return equity
}

// Equity returns the current equity = cash + mark-to-market position value.
func (p *Portfolio) Equity() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.equityLocked()
}

// Cash returns the current cash balance.
func (p *Portfolio) Cash() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cash
}

// RealizedPnL returns cumulative realized P&L.
func (p *Portfolio) RealizedPnL() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.realizedPnL
}

// UnrealizedPnL sums unrealized P&L across all open positions.
func (p *Portfolio) UnrealizedPnL() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	total := decimal.Zero
	for _, pos := range p.positions {
		total = total.Add(pos.UnrealizedPnL)
	}
	return total
}

// Position returns a read-only copy of the position for symbol, or the
// zero-value flat position if none exists — callers never receive a pointer
// into internal state (spec.md §9 "portfolio snapshots are read-only copies").
func (p *Portfolio) Position(symbol string) domain.Position {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if pos, ok := p.positions[symbol]; ok {
		return *pos
	}
	return domain.Position{StrategyID: p.strategyID, Symbol: symbol, Side: domain.PositionFlat}
}

// Positions returns read-only copies of every open position.
func (p *Portfolio) Positions() []domain.Position {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]domain.Position, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, *pos)
	}
	return out
}

// RecordEquity appends a snapshot to the equity curve. The curve only ever
// grows; nothing in this package mutates or truncates prior entries.
func (p *Portfolio) RecordEquity(timestamp time.Time) domain.EquitySample {
	p.mu.Lock()
	defer p.mu.Unlock()
	sample := domain.EquitySample{
		Timestamp:  timestamp,
		Equity:     p.equityLocked(),
		Cash:       p.cash,
		Realized:   p.realizedPnL,
		Unrealized: p.unrealizedLocked(),
	}
	p.equityCurve = append(p.equityCurve, sample)
	return sample
}

func (p *Portfolio) unrealizedLocked() decimal.Decimal {
	total := decimal.Zero
	for _, pos := range p.positions {
		total = total.Add(pos.UnrealizedPnL)
	}
	return total
}

// EquityCurve returns a read-only copy of the recorded equity samples.
func (p *Portfolio) EquityCurve() []domain.EquitySample {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]domain.EquitySample, len(p.equityCurve))
	copy(out, p.equityCurve)
	return out
}

// InitialCapital returns the portfolio's starting cash.
func (p *Portfolio) InitialCapital() decimal.Decimal { return p.initialCapital }
