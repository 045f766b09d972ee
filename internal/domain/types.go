// Package domain holds the primitives shared by every other package in this
// module: bars, orders, fills, positions, signals, alerts and the typed
// error used at every component boundary. Keeping these in one leaf package
// (rather than letting each component define its own view) mirrors how the
// teacher bot keeps Candle/OrderSide/PlacedOrder as shared types reachable
// from any file in its flat package.
package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order, fill or position.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// PositionSide classifies a held position.
type PositionSide string

const (
	PositionLong  PositionSide = "long"
	PositionShort PositionSide = "short"
	PositionFlat  PositionSide = "flat"
)

// OrderType enumerates the order shapes the execution engine understands.
type OrderType string

const (
	OrderMarket     OrderType = "market"
	OrderLimit      OrderType = "limit"
	OrderStop       OrderType = "stop"
	OrderStopLimit  OrderType = "stop-limit"
	OrderTWAP       OrderType = "twap"
	OrderIceberg    OrderType = "iceberg"
)

// TimeInForce is the order lifetime policy.
type TimeInForce string

const (
	TIFGTC TimeInForce = "GTC"
	TIFIOC TimeInForce = "IOC"
	TIFFOK TimeInForce = "FOK"
)

// OrderStatus is the order lifecycle state. Terminal states never mutate.
type OrderStatus string

const (
	OrderPending         OrderStatus = "pending"
	OrderSubmitted       OrderStatus = "submitted"
	OrderCancelling      OrderStatus = "cancelling"
	OrderPartiallyFilled OrderStatus = "partially-filled"
	OrderFilled          OrderStatus = "filled"
	OrderCancelled       OrderStatus = "cancelled"
	OrderRejected        OrderStatus = "rejected"
)

// Terminal reports whether status is one of the three terminal states.
func (s OrderStatus) Terminal() bool {
	return s == OrderFilled || s == OrderCancelled || s == OrderRejected
}

// Bar is an immutable OHLCV record for one (symbol, timestamp).
type Bar struct {
	Symbol    string
	Timestamp time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
}

// Valid checks the invariant: low <= open,close <= high; volume >= 0.
func (b Bar) Valid() bool {
	if b.Volume.IsNegative() {
		return false
	}
	if b.Low.GreaterThan(b.Open) || b.Open.GreaterThan(b.High) {
		return false
	}
	if b.Low.GreaterThan(b.Close) || b.Close.GreaterThan(b.High) {
		return false
	}
	return true
}

// Order is a mutable record tracked from strategy emission to a terminal
// status. AlgorithmState is opaque per order type (TWAP/Iceberg own structs,
// JSON-marshalled for snapshotting).
type Order struct {
	ID               string
	ParentID         string // empty when this is a top-level (parent) order
	StrategyID       string
	Symbol           string
	Side             Side
	Type             OrderType
	Quantity         decimal.Decimal
	LimitPrice       decimal.Decimal // set when Type is limit/stop-limit
	StopPrice        decimal.Decimal // set when Type is stop/stop-limit
	TIF              TimeInForce
	Status           OrderStatus
	FilledQuantity   decimal.Decimal
	AverageFillPrice decimal.Decimal
	CreatedAt        time.Time
	AlgorithmState   []byte
}

// Remaining returns Quantity - FilledQuantity, floored at zero.
func (o Order) Remaining() decimal.Decimal {
	r := o.Quantity.Sub(o.FilledQuantity)
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}

// Fill is an immutable execution record against an order.
type Fill struct {
	ID         string
	OrderID    string
	Symbol     string
	Side       Side
	Quantity   decimal.Decimal
	Price      decimal.Decimal
	Commission decimal.Decimal
	Slippage   decimal.Decimal
	Timestamp  time.Time
}

// Position is the per-(strategy,symbol) holding.
type Position struct {
	StrategyID      string
	Symbol          string
	Side            PositionSide
	Quantity        decimal.Decimal
	AverageEntry    decimal.Decimal
	CurrentPrice    decimal.Decimal
	UnrealizedPnL   decimal.Decimal
	RealizedPnL     decimal.Decimal
}

// EquitySample is one append-only point on the equity curve.
type EquitySample struct {
	Timestamp   time.Time
	Equity      decimal.Decimal
	Cash        decimal.Decimal
	Realized    decimal.Decimal
	Unrealized  decimal.Decimal
}

// SignalKind is the strategy's directional output.
type SignalKind string

const (
	SignalBuy  SignalKind = "buy"
	SignalSell SignalKind = "sell"
	SignalHold SignalKind = "hold"
)

// Signal is a strategy's recommendation for one symbol at one timestamp.
type Signal struct {
	Timestamp time.Time
	Symbol    string
	Kind      SignalKind
	Strength  float64 // in [0,1]
	Metadata  map[string]string
}

// RiskLevel is an ordinal severity used throughout the risk engine and alerts.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

var riskOrdinal = map[RiskLevel]int{
	RiskLow:      0,
	RiskMedium:   1,
	RiskHigh:     2,
	RiskCritical: 3,
}

// Max returns the more severe of two risk levels.
func (l RiskLevel) Max(other RiskLevel) RiskLevel {
	if riskOrdinal[other] > riskOrdinal[l] {
		return other
	}
	return l
}

// AlertType enumerates the RiskAlert discriminant.
type AlertType string

const (
	AlertPositionLimit    AlertType = "position_limit"
	AlertOrderSizeLimit   AlertType = "order_size_limit"
	AlertDailyLossLimit   AlertType = "daily_loss_limit"
	AlertDrawdownLimit    AlertType = "drawdown_limit"
	AlertConsecutiveLoss  AlertType = "consecutive_losses"
	AlertLeverageLimit    AlertType = "leverage_limit"
	AlertOrderFrequency   AlertType = "order_frequency"
	AlertEmergencyStop    AlertType = "emergency_stop"
)

// RiskAlert is a persisted, acknowledgeable notification.
type RiskAlert struct {
	ID             string
	UserID         string
	Type           AlertType
	Level          RiskLevel
	Message        string
	Details        map[string]string
	Timestamp      time.Time
	Acknowledged   bool
	AcknowledgedAt *time.Time
}

// RiskLimitsConfig is the tunable bundle consumed by the Risk Rule Engine and
// the Position & P&L Monitor.
type RiskLimitsConfig struct {
	MaxPositionPerSymbol  decimal.Decimal
	MaxTotalPosition      decimal.Decimal
	MaxConcentration      float64 // in [0,1]
	MaxOrderSize          decimal.Decimal
	MinOrderSize          decimal.Decimal
	MaxDailyLossAbs       decimal.Decimal
	MaxDailyLossPct       float64
	MaxDrawdownPct        float64
	MaxLeverage           float64
	MaxOrdersPerMinute    int
	MaxOrdersPerMinuteSym int
	EmergencyStopEnabled  bool
	EmergencyStopDrawdown float64
	EmergencyStopDailyLoss decimal.Decimal
}

// ErrorKind is the typed, stable discriminant surfaced at every API boundary.
type ErrorKind string

const (
	ErrInvalidInput        ErrorKind = "invalid_input"
	ErrRuleViolation       ErrorKind = "rule_violation"
	ErrInsufficientPos     ErrorKind = "insufficient_position"
	ErrExchangeRejected    ErrorKind = "exchange_rejected"
	ErrExchangeTimeout     ErrorKind = "exchange_timeout"
	ErrStateCorruption     ErrorKind = "state_corruption"
	ErrConfigError         ErrorKind = "config_error"
)

// Error is the typed error carried across every control-plane boundary,
// analogous to the teacher's plain `error` returns but tagged with a stable
// machine-readable kind per spec (the HTTP layer, out of scope here, would
// map Kind to a status code).
type Error struct {
	Kind    ErrorKind
	Message string
	Details map[string]string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewError builds an *Error, allocating Details lazily.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WithDetail attaches a key/value and returns the receiver for chaining.
func (e *Error) WithDetail(k, v string) *Error {
	if e.Details == nil {
		e.Details = map[string]string{}
	}
	e.Details[k] = v
	return e
}
