// Package controlplane implements the Control Plane API (C12): the single
// entrypoint operators and strategies call to validate/submit/cancel
// orders, read positions, pull a risk report, trigger an emergency stop and
// manage alerts. SubmitOrder and CancelOrder are serialized per user through
// a KeyedMutex (EmergencyStop holds it only for the book lookup), generalizing the teacher's Trader.mu/apply/stateApplyCh
// discipline (trader.go) — here one mutex per user-id instead of one
// RWMutex per process, since the control plane is multi-tenant.
package controlplane

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/algotrade/tradecore/internal/alert"
	"github.com/algotrade/tradecore/internal/domain"
	"github.com/algotrade/tradecore/internal/execution"
	"github.com/algotrade/tradecore/internal/portfolio"
	"github.com/algotrade/tradecore/internal/risk"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// book is everything the control plane tracks for one user: their
// portfolio, the exchange they trade on, and counters feeding the risk
// engine's rate-limit rule.
type book struct {
	portfolio *portfolio.Portfolio
	exchange  execution.Exchange

	mu              sync.Mutex
	orderTimestamps []time.Time // trailing-minute order frequency, all symbols
	symbolOrderTS   map[string][]time.Time
	peakEquity      decimal.Decimal
	dailyPnLBase    decimal.Decimal // realized+unrealized at the start of the UTC day
	dailyStart      time.Time
	openOrders      map[string]domain.Order // orderID -> order, cleared on terminal status
}

// ControlPlane is the control-plane API (C12): validate_order, submit_order,
// cancel_order, get_position, risk_report, emergency_stop and alert
// operations, per spec.md §6.
type ControlPlane struct {
	engine *risk.Engine
	alerts *alert.Store
	limits domain.RiskLimitsConfig

	locks *KeyedMutex

	mu    sync.RWMutex
	books map[string]*book
}

// New builds a ControlPlane. limits seeds every new user's risk context;
// alerts may be nil to disable alert persistence on rejection.
func New(engine *risk.Engine, alerts *alert.Store, limits domain.RiskLimitsConfig) *ControlPlane {
	return &ControlPlane{
		engine: engine,
		alerts: alerts,
		limits: limits,
		locks:  NewKeyedMutex(),
		books:  make(map[string]*book),
	}
}

// Register attaches a user's portfolio and exchange to the control plane.
// Must be called once before any order operation for that user.
func (cp *ControlPlane) Register(userID string, p *portfolio.Portfolio, ex execution.Exchange) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	cp.books[userID] = &book{
		portfolio:     p,
		exchange:      ex,
		symbolOrderTS: make(map[string][]time.Time),
		peakEquity:    p.Equity(),
		dailyStart:    time.Now().UTC().Truncate(24 * time.Hour),
		openOrders:    make(map[string]domain.Order),
	}
}

// Users returns every registered user-id, for callers (e.g. the Position &
// P&L Monitor) that need to scan the full book set.
func (cp *ControlPlane) Users() []string {
	cp.mu.RLock()
	defer cp.mu.RUnlock()
	out := make([]string, 0, len(cp.books))
	for id := range cp.books {
		out = append(out, id)
	}
	return out
}

// Portfolio returns the registered user's Portfolio, or an invalid_input
// error if they haven't been Register-ed.
func (cp *ControlPlane) Portfolio(userID string) (*portfolio.Portfolio, error) {
	b, err := cp.bookFor(userID)
	if err != nil {
		return nil, err
	}
	return b.portfolio, nil
}

func (cp *ControlPlane) bookFor(userID string) (*book, error) {
	cp.mu.RLock()
	defer cp.mu.RUnlock()
	b, ok := cp.books[userID]
	if !ok {
		return nil, domain.NewError(domain.ErrInvalidInput, "user not registered").WithDetail("user_id", userID)
	}
	return b, nil
}

// OrderRequest is the caller-supplied intent for ValidateOrder/SubmitOrder.
type OrderRequest struct {
	UserID   string
	Symbol   string
	Side     domain.Side
	Quantity decimal.Decimal
	Price    decimal.Decimal // reference price used for notional-based rules; limit price for limit orders
	Type     domain.OrderType
	Leverage float64
}

// buildContext assembles a risk.Context from a book's current state plus
// the incoming request, per spec.md §4.6's validate_order contract.
func (b *book) buildContext(req OrderRequest, limits domain.RiskLimitsConfig) risk.Context {
	now := time.Now().UTC()
	b.mu.Lock()
	defer b.mu.Unlock()

	pos := b.portfolio.Position(req.Symbol)
	equity := b.portfolio.Equity()
	totalNotional := decimal.Zero
	for _, p := range b.portfolio.Positions() {
		totalNotional = totalNotional.Add(p.Quantity.Mul(p.CurrentPrice).Abs())
	}

	cutoff := now.Add(-time.Minute)
	b.orderTimestamps = pruneBefore(b.orderTimestamps, cutoff)
	b.symbolOrderTS[req.Symbol] = pruneBefore(b.symbolOrderTS[req.Symbol], cutoff)

	if equity.GreaterThan(b.peakEquity) {
		b.peakEquity = equity
	}

	if day := now.Truncate(24 * time.Hour); day.After(b.dailyStart) {
		b.dailyStart = day
		b.dailyPnLBase = b.portfolio.RealizedPnL().Add(b.portfolio.UnrealizedPnL())
	}

	return risk.Context{
		UserID:                       req.UserID,
		Symbol:                       req.Symbol,
		Side:                         req.Side,
		Quantity:                     req.Quantity,
		Price:                        req.Price,
		Leverage:                     req.Leverage,
		CurrentSymbolPosition:        pos.Quantity.Mul(decimal.NewFromInt(signOf(pos.Side))),
		CurrentTotalPosition:         totalNotional,
		TotalEquity:                  equity,
		DailyPnL:                     b.portfolio.RealizedPnL().Add(b.portfolio.UnrealizedPnL()).Sub(b.dailyPnLBase),
		InitialEquity:                b.portfolio.InitialCapital(),
		PeakEquity:                   b.peakEquity,
		CurrentEquity:                equity,
		OrdersInTrailingMinute:       len(b.orderTimestamps),
		OrdersInTrailingMinuteSymbol: len(b.symbolOrderTS[req.Symbol]),
		Now:                          now,
		Limits:                       limits,
	}
}

func signOf(side domain.PositionSide) int64 {
	if side == domain.PositionShort {
		return -1
	}
	return 1
}

func pruneBefore(ts []time.Time, cutoff time.Time) []time.Time {
	out := ts[:0:0]
	for _, t := range ts {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

// ValidateOrder runs req through the risk engine without submitting
// anything, per spec.md §6's read-only validate_order.
func (cp *ControlPlane) ValidateOrder(ctx context.Context, req OrderRequest) (risk.Report, error) {
	b, err := cp.bookFor(req.UserID)
	if err != nil {
		return risk.Report{}, err
	}
	rctx := b.buildContext(req, cp.limits)
	return cp.engine.Evaluate(rctx), nil
}

// SubmitOrder validates req, and on pass forwards it to the user's
// exchange, applies the idempotency key from the order ID, and records the
// order as open. On rejection it raises a RiskAlert (if an alert store is
// configured) and returns the order_size/position-limit error as
// rule_violation. Serialized per user so two concurrent submits never race
// on the same trailing-minute counters or peak equity.
func (cp *ControlPlane) SubmitOrder(ctx context.Context, req OrderRequest) (domain.Order, risk.Report, error) {
	cp.locks.Lock(req.UserID)
	defer cp.locks.Unlock(req.UserID)

	b, err := cp.bookFor(req.UserID)
	if err != nil {
		return domain.Order{}, risk.Report{}, err
	}

	rctx := b.buildContext(req, cp.limits)
	report := cp.engine.Evaluate(rctx)
	if !report.Valid {
		log.Warn().Str("user_id", req.UserID).Str("rule", report.RejectedBy).
			Str("reason", report.Reason).Msg("order rejected by risk engine")
		cp.raiseRejectionAlert(req, report)
		return domain.Order{}, report, domain.NewError(domain.ErrRuleViolation, report.Reason).
			WithDetail("rule", report.RejectedBy)
	}

	order := domain.Order{
		ID:         uuid.New().String(),
		StrategyID: req.UserID,
		Symbol:     req.Symbol,
		Side:       req.Side,
		Type:       req.Type,
		Quantity:   req.Quantity,
		LimitPrice: req.Price,
		Status:     domain.OrderPending,
		CreatedAt:  time.Now().UTC(),
	}

	ack, err := b.exchange.CreateOrder(ctx, order, order.ID)
	if err != nil {
		return domain.Order{}, report, domain.NewError(domain.ErrExchangeRejected, err.Error())
	}
	order.ID = ack.ID
	order.Status = ack.Status

	b.mu.Lock()
	now := time.Now().UTC()
	b.orderTimestamps = append(b.orderTimestamps, now)
	b.symbolOrderTS[req.Symbol] = append(b.symbolOrderTS[req.Symbol], now)
	if !order.Status.Terminal() {
		b.openOrders[order.ID] = order
	}
	b.mu.Unlock()

	return order, report, nil
}

// CancelOrder cancels an open order on the user's exchange and drops it
// from the tracked open-order set.
func (cp *ControlPlane) CancelOrder(ctx context.Context, userID, orderID, symbol string) error {
	cp.locks.Lock(userID)
	defer cp.locks.Unlock(userID)

	b, err := cp.bookFor(userID)
	if err != nil {
		return err
	}
	if err := b.exchange.CancelOrder(ctx, orderID, symbol); err != nil {
		return domain.NewError(domain.ErrExchangeRejected, err.Error())
	}
	b.mu.Lock()
	delete(b.openOrders, orderID)
	b.mu.Unlock()
	return nil
}

// GetPosition returns a read-only snapshot of the user's position in symbol.
func (cp *ControlPlane) GetPosition(ctx context.Context, userID, symbol string) (domain.Position, error) {
	b, err := cp.bookFor(userID)
	if err != nil {
		return domain.Position{}, err
	}
	return b.portfolio.Position(symbol), nil
}

// RiskReport returns the user's current utilization against every
// configured limit, expressed as an all-pass Evaluate against a zero-size
// order (so every rule reports a level without any rule being able to
// reject it on order-size grounds alone).
func (cp *ControlPlane) RiskReport(ctx context.Context, userID string) (risk.Report, error) {
	b, err := cp.bookFor(userID)
	if err != nil {
		return risk.Report{}, err
	}
	limits := cp.limits
	limits.MinOrderSize = decimal.Zero
	rctx := b.buildContext(OrderRequest{UserID: userID, Quantity: decimal.Zero, Price: decimal.Zero}, limits)
	return cp.engine.Evaluate(rctx), nil
}

// EmergencyStop cancels every open order and flattens every non-flat
// position for userID at market, implementing monitor.Flattener. Grounded
// on the teacher's panic-button pattern of releasing the lock around I/O
// (trader.go's closeLot) — the user's keyed lock is held only for the book
// lookup; open-order bookkeeping takes the book's own mutex, and no lock is
// held across the cancel/flatten network calls.
func (cp *ControlPlane) EmergencyStop(ctx context.Context, userID, reason string) (int, int, error) {
	cp.locks.Lock(userID)
	b, err := cp.bookFor(userID)
	cp.locks.Unlock(userID)
	if err != nil {
		return 0, 0, err
	}

	b.mu.Lock()
	open := make([]domain.Order, 0, len(b.openOrders))
	for _, o := range b.openOrders {
		open = append(open, o)
	}
	b.mu.Unlock()

	cancelled := 0
	for _, o := range open {
		if err := b.exchange.CancelOrder(ctx, o.ID, o.Symbol); err != nil {
			log.Error().Err(err).Str("order_id", o.ID).Msg("emergency stop: cancel failed")
			continue
		}
		cancelled++
		b.mu.Lock()
		delete(b.openOrders, o.ID)
		b.mu.Unlock()
	}

	closed := 0
	for _, pos := range b.portfolio.Positions() {
		if pos.Side == domain.PositionFlat || pos.Quantity.IsZero() {
			continue
		}
		closeSide := domain.SideSell
		if pos.Side == domain.PositionShort {
			closeSide = domain.SideBuy
		}
		flatten := domain.Order{
			ID:         uuid.New().String(),
			StrategyID: userID,
			Symbol:     pos.Symbol,
			Side:       closeSide,
			Type:       domain.OrderMarket,
			Quantity:   pos.Quantity,
			Status:     domain.OrderPending,
			CreatedAt:  time.Now().UTC(),
		}
		if _, err := b.exchange.CreateOrder(ctx, flatten, flatten.ID); err != nil {
			log.Error().Err(err).Str("symbol", pos.Symbol).Msg("emergency stop: flatten failed")
			continue
		}
		closed++
	}

	if cp.alerts != nil {
		_, _ = cp.alerts.Create(ctx, userID, domain.AlertEmergencyStop, domain.RiskCritical,
			fmt.Sprintf("emergency stop triggered: %s", reason),
			map[string]string{
				"closed_positions": itoa(closed),
				"cancelled_orders": itoa(cancelled),
			})
	}

	return closed, cancelled, nil
}

func (cp *ControlPlane) raiseRejectionAlert(req OrderRequest, report risk.Report) {
	if cp.alerts == nil {
		return
	}
	go func() {
		_, err := cp.alerts.Create(context.Background(), req.UserID, alertTypeFor(report.RejectedBy), report.Level,
			report.Reason, map[string]string{"symbol": req.Symbol, "rule": report.RejectedBy})
		if err != nil {
			log.Error().Err(err).Msg("failed to persist rejection alert")
		}
	}()
}

func alertTypeFor(ruleID string) domain.AlertType {
	switch ruleID {
	case "position_limit":
		return domain.AlertPositionLimit
	case "order_size":
		return domain.AlertOrderSizeLimit
	case "daily_loss":
		return domain.AlertDailyLossLimit
	case "drawdown":
		return domain.AlertDrawdownLimit
	case "leverage":
		return domain.AlertLeverageLimit
	case "order_frequency":
		return domain.AlertOrderFrequency
	default:
		return domain.AlertPositionLimit
	}
}

func itoa(n int) string {
	return fmt.Sprintf("%d", n)
}

// Alert operations delegate straight to the configured Store; the control
// plane's only role here is keeping the user-scoped API surface in one
// place (spec.md §6's alert CRUD).

// ListAlerts returns a page of userID's alerts, optionally filtered by
// acknowledged state.
func (cp *ControlPlane) ListAlerts(ctx context.Context, userID string, page, pageSize int, acknowledged *bool) (alert.Page, error) {
	if cp.alerts == nil {
		return alert.Page{}, domain.NewError(domain.ErrConfigError, "alert store not configured")
	}
	return cp.alerts.List(ctx, userID, page, pageSize, acknowledged)
}

// AcknowledgeAlert marks one alert acknowledged.
func (cp *ControlPlane) AcknowledgeAlert(ctx context.Context, userID, alertID string) (bool, error) {
	if cp.alerts == nil {
		return false, domain.NewError(domain.ErrConfigError, "alert store not configured")
	}
	return cp.alerts.Acknowledge(ctx, userID, alertID)
}
