package strategy

import (
	"time"

	"github.com/algotrade/tradecore/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// SizingMode selects the router's position-sizing rule, grounded on the
// teacher's RiskPerTradePct (percent-of-equity) sizing in trader.go/step.go.
type SizingMode int

const (
	SizingPercentOfEquity SizingMode = iota
	SizingFixedNotional
)

// RouterConfig configures the Signal→Order Router (C7).
type RouterConfig struct {
	Mode            SizingMode
	RiskPerTradePct decimal.Decimal // used when Mode == SizingPercentOfEquity
	FixedNotional   decimal.Decimal // used when Mode == SizingFixedNotional
	ExchangeMinQty  decimal.Decimal
	StrategyID      string
}

// Router maps strategy Signals to OrderEvents, per spec.md §4.6.
type Router struct {
	cfg RouterConfig
}

// NewRouter constructs a Router with the given sizing configuration.
func NewRouter(cfg RouterConfig) *Router {
	return &Router{cfg: cfg}
}

// Route converts one signal into an order using the configured sizing rule
// and the current reference price. Hold signals and signals whose sized
// quantity falls below ExchangeMinQty are dropped (nil, false) with a
// logged warning, per spec.md §4.6.
func (r *Router) Route(sig domain.Signal, referencePrice decimal.Decimal, equity decimal.Decimal) (*domain.Order, bool) {
	if sig.Kind == domain.SignalHold {
		return nil, false
	}
	if referencePrice.IsZero() || referencePrice.IsNegative() {
		return nil, false
	}

	var notional decimal.Decimal
	switch r.cfg.Mode {
	case SizingFixedNotional:
		notional = r.cfg.FixedNotional
	default:
		notional = equity.Mul(r.cfg.RiskPerTradePct)
	}
	qty := notional.Div(referencePrice)

	if qty.LessThan(r.cfg.ExchangeMinQty) {
		log.Warn().
			Str("symbol", sig.Symbol).
			Str("qty", qty.String()).
			Str("min_qty", r.cfg.ExchangeMinQty.String()).
			Msg("signal dropped: sized quantity below exchange minimum")
		return nil, false
	}

	side := domain.SideBuy
	if sig.Kind == domain.SignalSell {
		side = domain.SideSell
	}

	order := &domain.Order{
		ID:         uuid.New().String(),
		StrategyID: r.cfg.StrategyID,
		Symbol:     sig.Symbol,
		Side:       side,
		Type:       domain.OrderMarket,
		Quantity:   qty,
		TIF:        domain.TIFGTC,
		Status:     domain.OrderPending,
		CreatedAt:  timeOrNow(sig.Timestamp),
	}
	return order, true
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
