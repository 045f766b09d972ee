// Package risk implements the Risk Rule Engine (C8): an ordered set of pure
// predicates evaluated against a validation context, short-circuiting on
// first failure, grounded directly on
// original_source/trading-engine/risk-manager/src/rules/*.py (base.py's
// RiskRuleBase pre_check -> check -> post_check pipeline).
package risk

import (
	"time"

	"github.com/algotrade/tradecore/internal/domain"
	"github.com/shopspring/decimal"
)

// Context carries every field any rule might need to evaluate an order
// request. Rules declare which subset they require via RequiredFields; the
// engine does not check their presence, so an unset field is read as zero.
type Context struct {
	UserID   string
	Symbol   string
	Side     domain.Side
	Quantity decimal.Decimal
	Price    decimal.Decimal
	Leverage float64

	CurrentSymbolPosition decimal.Decimal
	CurrentTotalPosition  decimal.Decimal
	TotalEquity           decimal.Decimal

	DailyPnL      decimal.Decimal
	InitialEquity decimal.Decimal

	PeakEquity    decimal.Decimal
	CurrentEquity decimal.Decimal

	OrdersInTrailingMinute       int
	OrdersInTrailingMinuteSymbol int

	Now time.Time

	Limits domain.RiskLimitsConfig
}

// Outcome is a rule's verdict: pure predicate -> (pass, reason, level).
type Outcome struct {
	Pass   bool
	Reason string
	Level  domain.RiskLevel
}

// Rule is one ordered, pure predicate in the engine.
type Rule interface {
	ID() string
	Priority() int
	RequiredFields() []string
	Check(ctx Context) Outcome
}

// levelForUtilization implements spec.md §4.7's "on pass, still report a
// risk level derived from utilization": >=90% critical, >=70% high, >=50%
// medium, else low — exactly position_limit.py/daily_loss_limit.py's
// _evaluate_risk_level bands.
func levelForUtilization(utilization float64) domain.RiskLevel {
	switch {
	case utilization >= 0.9:
		return domain.RiskCritical
	case utilization >= 0.7:
		return domain.RiskHigh
	case utilization >= 0.5:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

func utilizationOf(value, limit decimal.Decimal) float64 {
	if limit.IsZero() {
		return 0
	}
	f, _ := value.Div(limit).Float64()
	if f < 0 {
		f = -f
	}
	return f
}
