package algo

import (
	"time"

	"github.com/algotrade/tradecore/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// IcebergConfig configures an iceberg parent order: at most one visible
// child of Q·r on the book at a time, replenished on fill.
type IcebergConfig struct {
	ParentID     string
	StrategyID   string
	Symbol       string
	Side         domain.Side
	Total        decimal.Decimal // Q
	VisibleRatio decimal.Decimal // r, in (0,1]
	LimitPrice   decimal.Decimal
}

// Iceberg is a pure state machine: at most one child is ever active, per
// spec.md invariant #6.
type Iceberg struct {
	cfg           IcebergConfig
	remainingQty  decimal.Decimal
	activeChildID string
	cancelled     bool
}

// NewIceberg constructs an Iceberg with the full quantity remaining.
func NewIceberg(cfg IcebergConfig) *Iceberg {
	return &Iceberg{cfg: cfg, remainingQty: cfg.Total}
}

// visibleSize returns Q·r, capped to whatever remains.
func (ib *Iceberg) visibleSize() decimal.Decimal {
	v := ib.cfg.Total.Mul(ib.cfg.VisibleRatio)
	if v.GreaterThan(ib.remainingQty) {
		return ib.remainingQty
	}
	return v
}

// Tick posts the next visible child if none is active and quantity remains.
// now is accepted for symmetry with TWAP's Tick signature and for
// timestamping the emitted order; the iceberg algorithm itself does not
// schedule on a timer.
func (ib *Iceberg) Tick(now time.Time) *domain.Order {
	if ib.cancelled || ib.activeChildID != "" || ib.remainingQty.IsZero() {
		return nil
	}
	qty := ib.visibleSize()
	if qty.IsZero() {
		return nil
	}
	id := uuid.New().String()
	ib.activeChildID = id
	return &domain.Order{
		ID:         id,
		ParentID:   ib.cfg.ParentID,
		StrategyID: ib.cfg.StrategyID,
		Symbol:     ib.cfg.Symbol,
		Side:       ib.cfg.Side,
		Type:       domain.OrderLimit,
		Quantity:   qty,
		LimitPrice: ib.cfg.LimitPrice,
		TIF:        domain.TIFGTC,
		Status:     domain.OrderPending,
		CreatedAt:  now,
	}
}

// OnChildFilled records a filled child, freeing the active slot so the next
// Tick posts a replenishment child at the same limit price.
func (ib *Iceberg) OnChildFilled(childID string, qty decimal.Decimal) {
	if childID != ib.activeChildID {
		return
	}
	ib.remainingQty = ib.remainingQty.Sub(qty)
	if ib.remainingQty.IsNegative() {
		ib.remainingQty = decimal.Zero
	}
	ib.activeChildID = ""
}

// Cancel cancels the active child (caller is responsible for issuing the
// cancel to the execution engine) and freezes the remaining quantity.
func (ib *Iceberg) Cancel() string {
	ib.cancelled = true
	id := ib.activeChildID
	ib.activeChildID = ""
	return id
}

// Done reports whether the full quantity has been filled.
func (ib *Iceberg) Done() bool { return ib.remainingQty.IsZero() }

// RemainingQty returns the quantity not yet filled.
func (ib *Iceberg) RemainingQty() decimal.Decimal { return ib.remainingQty }

// ActiveChildID returns the currently resting child's id, or "" if none.
func (ib *Iceberg) ActiveChildID() string { return ib.activeChildID }

// IcebergState is the JSON-serializable persistence snapshot.
type IcebergState struct {
	Config        IcebergConfig   `json:"config"`
	RemainingQty  decimal.Decimal `json:"remaining_qty"`
	ActiveChildID string          `json:"active_child_id"`
	Cancelled     bool            `json:"cancelled"`
}

func (ib *Iceberg) Snapshot() IcebergState {
	return IcebergState{
		Config:        ib.cfg,
		RemainingQty:  ib.remainingQty,
		ActiveChildID: ib.activeChildID,
		Cancelled:     ib.cancelled,
	}
}

func RehydrateIceberg(s IcebergState) *Iceberg {
	return &Iceberg{
		cfg:           s.Config,
		remainingQty:  s.RemainingQty,
		activeChildID: s.ActiveChildID,
		cancelled:     s.Cancelled,
	}
}
