package execution

import (
	"time"

	"github.com/algotrade/tradecore/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SimConfig tunes the simulated execution model, grounded on the teacher's
// fee/slippage application in trader.go/broker_paper.go.
type SimConfig struct {
	SlippageRate         decimal.Decimal // applied against market fills, e.g. 0.0005
	CommissionRate       decimal.Decimal // applied against notional, e.g. 0.001
	MaxParticipationRate decimal.Decimal // fraction of bar volume a single fill may consume; zero disables the cap
}

// Simulated is the backtest Execution Engine: it converts an OrderEvent into
// zero or more FillEvents against one bar, following spec.md §4.4's
// market/limit fill rules (the high/low-window limit semantic, per
// SPEC_FULL.md's Open Question #1 resolution — not the Python reference's
// current-price simplification).
type Simulated struct {
	cfg SimConfig
}

// NewSimulated constructs a Simulated execution engine.
func NewSimulated(cfg SimConfig) *Simulated {
	return &Simulated{cfg: cfg}
}

// Execute attempts to fill order against bar, returning the resulting fill
// (zero value if unfilled) and the order's updated status/filled-quantity.
// Partial fills occur when MaxParticipationRate × bar.Volume < order
// remaining quantity; the remainder stays open unless TIF forces rejection.
func (s *Simulated) Execute(order domain.Order, bar domain.Bar) (domain.Order, *domain.Fill) {
	switch order.Type {
	case domain.OrderMarket:
		return s.executeMarket(order, bar)
	case domain.OrderLimit:
		return s.executeLimit(order, bar)
	case domain.OrderStop, domain.OrderStopLimit:
		return s.executeStop(order, bar)
	default:
		return order, nil
	}
}

func (s *Simulated) executeMarket(order domain.Order, bar domain.Bar) (domain.Order, *domain.Fill) {
	price := bar.Close
	if order.Side == domain.SideBuy {
		price = price.Mul(decimal.NewFromInt(1).Add(s.cfg.SlippageRate))
	} else {
		price = price.Mul(decimal.NewFromInt(1).Sub(s.cfg.SlippageRate))
	}
	qty := s.cappedQuantity(order.Remaining(), bar)
	if qty.IsZero() {
		return s.maybeReject(order), nil
	}
	return s.fill(order, bar, qty, price)
}

// executeLimit implements spec.md §4.4: buy fills when bar.low <= limit, at
// min(limit, open); sell symmetric with bar.high >= limit, at
// max(limit, open). TIF=IOC rejects if unfilled this step; FOK requires the
// full remaining quantity or rejects entirely.
func (s *Simulated) executeLimit(order domain.Order, bar domain.Bar) (domain.Order, *domain.Fill) {
	var triggered bool
	var price decimal.Decimal
	if order.Side == domain.SideBuy {
		triggered = bar.Low.LessThanOrEqual(order.LimitPrice)
		price = decimal.Min(order.LimitPrice, bar.Open)
	} else {
		triggered = bar.High.GreaterThanOrEqual(order.LimitPrice)
		price = decimal.Max(order.LimitPrice, bar.Open)
	}
	if !triggered {
		return s.handleUnfilledThisStep(order), nil
	}

	qty := s.cappedQuantity(order.Remaining(), bar)
	if order.TIF == domain.TIFFOK && qty.LessThan(order.Remaining()) {
		order.Status = domain.OrderRejected
		return order, nil
	}
	if qty.IsZero() {
		return s.maybeReject(order), nil
	}
	return s.fill(order, bar, qty, price)
}

func (s *Simulated) executeStop(order domain.Order, bar domain.Bar) (domain.Order, *domain.Fill) {
	triggered := false
	if order.Side == domain.SideBuy {
		triggered = bar.High.GreaterThanOrEqual(order.StopPrice)
	} else {
		triggered = bar.Low.LessThanOrEqual(order.StopPrice)
	}
	if !triggered {
		return order, nil
	}
	if order.Type == domain.OrderStop {
		order.Type = domain.OrderMarket
		return s.executeMarket(order, bar)
	}
	order.Type = domain.OrderLimit
	return s.executeLimit(order, bar)
}

func (s *Simulated) handleUnfilledThisStep(order domain.Order) domain.Order {
	if order.TIF == domain.TIFIOC || order.TIF == domain.TIFFOK {
		order.Status = domain.OrderRejected
	}
	return order
}

func (s *Simulated) maybeReject(order domain.Order) domain.Order {
	if order.TIF == domain.TIFIOC || order.TIF == domain.TIFFOK {
		order.Status = domain.OrderRejected
	}
	return order
}

func (s *Simulated) cappedQuantity(remaining decimal.Decimal, bar domain.Bar) decimal.Decimal {
	if s.cfg.MaxParticipationRate.IsZero() {
		return remaining
	}
	cap := s.cfg.MaxParticipationRate.Mul(bar.Volume)
	if cap.LessThan(remaining) {
		return cap
	}
	return remaining
}

func (s *Simulated) fill(order domain.Order, bar domain.Bar, qty, price decimal.Decimal) (domain.Order, *domain.Fill) {
	if qty.IsZero() {
		return order, nil
	}
	notional := qty.Mul(price)
	commission := notional.Mul(s.cfg.CommissionRate)
	slip := decimal.Zero
	if order.Type == domain.OrderMarket {
		slip = notional.Mul(s.cfg.SlippageRate)
	}

	f := &domain.Fill{
		ID:         uuid.New().String(),
		OrderID:    order.ID,
		Symbol:     order.Symbol,
		Side:       order.Side,
		Quantity:   qty,
		Price:      price,
		Commission: commission,
		Slippage:   slip,
		Timestamp:  bar.Timestamp,
	}

	order = applyFillToOrder(order, *f)
	return order, f
}

// applyFillToOrder updates filled-quantity/average-fill-price/status,
// enforcing the invariant that filled_quantity never decreases and that
// terminal orders never mutate again (spec.md §3, invariant #3).
func applyFillToOrder(order domain.Order, f domain.Fill) domain.Order {
	if order.Status.Terminal() {
		return order
	}
	prevFilled := order.FilledQuantity
	newFilled := prevFilled.Add(f.Quantity)
	if !prevFilled.IsZero() {
		order.AverageFillPrice = prevFilled.Mul(order.AverageFillPrice).Add(f.Quantity.Mul(f.Price)).Div(newFilled)
	} else {
		order.AverageFillPrice = f.Price
	}
	order.FilledQuantity = newFilled
	if order.FilledQuantity.GreaterThanOrEqual(order.Quantity) {
		order.Status = domain.OrderFilled
	} else {
		order.Status = domain.OrderPartiallyFilled
	}
	return order
}

// now is overridable in tests; defaults to wall-clock for the live path's
// rarely-used timestamp fallbacks.
var now = func() time.Time { return time.Now().UTC() }
