// Package algo implements the Order Algorithms (C5): TWAP and Iceberg, pure
// state machines per spec.md §4.5/§9. Both are grounded on the teacher's
// trader.go pending-order/reprice-poller pattern (PendingOpen,
// RehydratePending) — persisted, resumable async state driving child-order
// placement — generalized from "one maker-first child" to "N
// scheduled/replenishing children."
package algo

import (
	"time"

	"github.com/algotrade/tradecore/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TWAPConfig configures a time-weighted-average-price parent order.
type TWAPConfig struct {
	ParentID string
	StrategyID string
	Symbol   string
	Side     domain.Side
	Total    decimal.Decimal // Q
	Slices   int             // S
	Interval time.Duration   // Δt
	Start    time.Time
}

// TWAP is a pure state machine: Tick is the only mutator, consuming a
// wall-clock (live) or event timestamp (backtest) and producing 0..1 child
// orders per call.
type TWAP struct {
	cfg             TWAPConfig
	nextFireTime    time.Time
	completedSlices int
	accumulatedFill decimal.Decimal
	cancelled       bool
}

// NewTWAP constructs a TWAP state machine armed to fire its first slice at
// cfg.Start.
func NewTWAP(cfg TWAPConfig) *TWAP {
	return &TWAP{cfg: cfg, nextFireTime: cfg.Start}
}

// sliceQuantity returns slice i's size (0-indexed); the last slice absorbs
// rounding so Σ child quantities == Total exactly (spec.md §4.5 invariant).
func (t *TWAP) sliceQuantity(i int) decimal.Decimal {
	base := t.cfg.Total.Div(decimal.NewFromInt(int64(t.cfg.Slices)))
	if i == t.cfg.Slices-1 {
		return t.cfg.Total.Sub(base.Mul(decimal.NewFromInt(int64(t.cfg.Slices - 1))))
	}
	return base
}

// Tick fires the next slice if now >= nextFireTime and slices remain,
// returning the child order to submit (nil if nothing fires this tick).
func (t *TWAP) Tick(now time.Time) *domain.Order {
	if t.cancelled || t.Done() {
		return nil
	}
	if now.Before(t.nextFireTime) {
		return nil
	}
	qty := t.sliceQuantity(t.completedSlices)
	child := &domain.Order{
		ID:         uuid.New().String(),
		ParentID:   t.cfg.ParentID,
		StrategyID: t.cfg.StrategyID,
		Symbol:     t.cfg.Symbol,
		Side:       t.cfg.Side,
		Type:       domain.OrderMarket,
		Quantity:   qty,
		TIF:        domain.TIFGTC,
		Status:     domain.OrderPending,
		CreatedAt:  now,
	}
	t.completedSlices++
	t.nextFireTime = t.nextFireTime.Add(t.cfg.Interval)
	return child
}

// OnChildFilled records a completed child's fill quantity against progress.
func (t *TWAP) OnChildFilled(qty decimal.Decimal) {
	t.accumulatedFill = t.accumulatedFill.Add(qty)
}

// Progress returns completed/total slices as configured (spec.md §4.5).
func (t *TWAP) Progress() float64 {
	if t.cfg.Slices == 0 {
		return 1
	}
	return float64(t.completedSlices) / float64(t.cfg.Slices)
}

// Done reports whether every slice has fired.
func (t *TWAP) Done() bool { return t.completedSlices >= t.cfg.Slices }

// Filled reports whether the accumulated fill matches the parent quantity.
func (t *TWAP) Filled() bool { return t.accumulatedFill.GreaterThanOrEqual(t.cfg.Total) }

// Cancel marks the algorithm cancelled; already-fired children are not
// retroactively affected (best-effort cancellation happens at the execution
// engine), but Tick will stop emitting new children.
func (t *TWAP) Cancel() { t.cancelled = true }

// Cancelled reports whether Cancel has been called.
func (t *TWAP) Cancelled() bool { return t.cancelled }

// TWAPState is the JSON-serializable snapshot used for crash-safe persistence,
// mirroring the teacher's PendingOpen/RehydratePending technique.
type TWAPState struct {
	Config          TWAPConfig      `json:"config"`
	NextFireTime    time.Time       `json:"next_fire_time"`
	CompletedSlices int             `json:"completed_slices"`
	AccumulatedFill decimal.Decimal `json:"accumulated_fill"`
	Cancelled       bool            `json:"cancelled"`
}

// Snapshot captures the current state for persistence.
func (t *TWAP) Snapshot() TWAPState {
	return TWAPState{
		Config:          t.cfg,
		NextFireTime:    t.nextFireTime,
		CompletedSlices: t.completedSlices,
		AccumulatedFill: t.accumulatedFill,
		Cancelled:       t.cancelled,
	}
}

// RehydrateTWAP resumes a TWAP from a previously persisted snapshot.
func RehydrateTWAP(s TWAPState) *TWAP {
	return &TWAP{
		cfg:             s.Config,
		nextFireTime:    s.NextFireTime,
		completedSlices: s.CompletedSlices,
		accumulatedFill: s.AccumulatedFill,
		cancelled:       s.Cancelled,
	}
}
