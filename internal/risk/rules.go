package risk

import (
	"fmt"

	"github.com/algotrade/tradecore/internal/domain"
	"github.com/shopspring/decimal"
)

// PositionLimitRule fails when the new symbol or total position would
// exceed max-position-per-symbol/max-total-position, or when either
// exceeds max-concentration of equity, grounded on position_limit.py.
type PositionLimitRule struct{}

func (PositionLimitRule) ID() string       { return "position_limit" }
func (PositionLimitRule) Priority() int    { return 10 }
func (PositionLimitRule) RequiredFields() []string {
	return []string{"CurrentSymbolPosition", "CurrentTotalPosition", "TotalEquity"}
}

func (PositionLimitRule) Check(ctx Context) Outcome {
	newSymbolQty := ctx.CurrentSymbolPosition.Add(ctx.Quantity)
	newTotalQty := ctx.CurrentTotalPosition.Add(ctx.Quantity)
	newSymbolNotional := newSymbolQty.Mul(ctx.Price)
	newTotalNotional := newTotalQty.Mul(ctx.Price)

	if ctx.Limits.MaxPositionPerSymbol.GreaterThan(decimal.Zero) && newSymbolQty.GreaterThan(ctx.Limits.MaxPositionPerSymbol) {
		return Outcome{Pass: false, Reason: "position limit exceeded for symbol", Level: domain.RiskHigh}
	}
	if ctx.Limits.MaxTotalPosition.GreaterThan(decimal.Zero) && newTotalQty.GreaterThan(ctx.Limits.MaxTotalPosition) {
		return Outcome{Pass: false, Reason: "total position limit exceeded", Level: domain.RiskCritical}
	}
	if !ctx.TotalEquity.IsZero() && ctx.Limits.MaxConcentration > 0 {
		symbolConc, _ := newSymbolNotional.Div(ctx.TotalEquity).Float64()
		totalConc, _ := newTotalNotional.Div(ctx.TotalEquity).Float64()
		if symbolConc > ctx.Limits.MaxConcentration || totalConc > ctx.Limits.MaxConcentration {
			return Outcome{Pass: false, Reason: "position concentration exceeds limit", Level: domain.RiskMedium}
		}
	}

	util := utilizationOf(newTotalQty, ctx.Limits.MaxTotalPosition)
	return Outcome{Pass: true, Level: levelForUtilization(util)}
}

// OrderSizeRule fails when order notional is outside [min,max]-order-size,
// grounded on the teacher's OrderMinUSD env knob and the Python
// order_size_limit-style rule.
type OrderSizeRule struct{}

func (OrderSizeRule) ID() string       { return "order_size" }
func (OrderSizeRule) Priority() int    { return 20 }
func (OrderSizeRule) RequiredFields() []string { return []string{} }

func (OrderSizeRule) Check(ctx Context) Outcome {
	notional := ctx.Quantity.Mul(ctx.Price)
	if ctx.Limits.MaxOrderSize.GreaterThan(decimal.Zero) && notional.GreaterThan(ctx.Limits.MaxOrderSize) {
		return Outcome{Pass: false, Reason: "Order size too large", Level: domain.RiskHigh}
	}
	if ctx.Limits.MinOrderSize.GreaterThan(decimal.Zero) && notional.LessThan(ctx.Limits.MinOrderSize) {
		return Outcome{Pass: false, Reason: "Order size too small", Level: domain.RiskLow}
	}
	util := utilizationOf(notional, ctx.Limits.MaxOrderSize)
	return Outcome{Pass: true, Level: levelForUtilization(util)}
}

// DailyLossRule fails when absolute or percentage daily loss breaches the
// configured limit, grounded on daily_loss_limit.py.
type DailyLossRule struct{}

func (DailyLossRule) ID() string       { return "daily_loss" }
func (DailyLossRule) Priority() int    { return 30 }
func (DailyLossRule) RequiredFields() []string {
	return []string{"DailyPnL", "InitialEquity"}
}

func (DailyLossRule) Check(ctx Context) Outcome {
	if ctx.DailyPnL.IsNegative() {
		absLoss := ctx.DailyPnL.Abs()
		if ctx.Limits.MaxDailyLossAbs.GreaterThan(decimal.Zero) && absLoss.GreaterThanOrEqual(ctx.Limits.MaxDailyLossAbs) {
			return Outcome{Pass: false, Reason: "daily loss limit exceeded (absolute)", Level: domain.RiskCritical}
		}
		if !ctx.InitialEquity.IsZero() && ctx.Limits.MaxDailyLossPct > 0 {
			pct, _ := absLoss.Div(ctx.InitialEquity).Float64()
			if pct >= ctx.Limits.MaxDailyLossPct {
				return Outcome{Pass: false, Reason: "daily loss limit exceeded (percentage)", Level: domain.RiskCritical}
			}
			return Outcome{Pass: true, Level: levelForUtilization(pct / ctx.Limits.MaxDailyLossPct)}
		}
	}
	return Outcome{Pass: true, Level: domain.RiskLow}
}

// DrawdownRule fails when (peak-current)/peak breaches max-drawdown-pct.
type DrawdownRule struct{}

func (DrawdownRule) ID() string       { return "drawdown" }
func (DrawdownRule) Priority() int    { return 40 }
func (DrawdownRule) RequiredFields() []string {
	return []string{"PeakEquity", "CurrentEquity"}
}

func (DrawdownRule) Check(ctx Context) Outcome {
	if ctx.PeakEquity.IsZero() {
		return Outcome{Pass: true, Level: domain.RiskLow}
	}
	dd, _ := ctx.PeakEquity.Sub(ctx.CurrentEquity).Div(ctx.PeakEquity).Float64()
	if dd >= ctx.Limits.MaxDrawdownPct {
		return Outcome{Pass: false, Reason: "drawdown limit exceeded", Level: domain.RiskCritical}
	}
	if ctx.Limits.MaxDrawdownPct == 0 {
		return Outcome{Pass: true, Level: domain.RiskLow}
	}
	return Outcome{Pass: true, Level: levelForUtilization(dd / ctx.Limits.MaxDrawdownPct)}
}

// LeverageRule fails when requested leverage exceeds max-leverage.
type LeverageRule struct{}

func (LeverageRule) ID() string       { return "leverage" }
func (LeverageRule) Priority() int    { return 50 }
func (LeverageRule) RequiredFields() []string { return []string{"Leverage"} }

func (LeverageRule) Check(ctx Context) Outcome {
	if ctx.Limits.MaxLeverage > 0 && ctx.Leverage > ctx.Limits.MaxLeverage {
		return Outcome{Pass: false, Reason: fmt.Sprintf("leverage %.2fx exceeds max %.2fx", ctx.Leverage, ctx.Limits.MaxLeverage), Level: domain.RiskHigh}
	}
	if ctx.Limits.MaxLeverage == 0 {
		return Outcome{Pass: true, Level: domain.RiskLow}
	}
	return Outcome{Pass: true, Level: levelForUtilization(ctx.Leverage / ctx.Limits.MaxLeverage)}
}

// OrderFrequencyRule fails when orders in the trailing 60s (global or
// per-symbol) reach the configured cap.
type OrderFrequencyRule struct{}

func (OrderFrequencyRule) ID() string       { return "order_frequency" }
func (OrderFrequencyRule) Priority() int    { return 60 }
func (OrderFrequencyRule) RequiredFields() []string {
	return []string{"OrdersInTrailingMinute"}
}

func (OrderFrequencyRule) Check(ctx Context) Outcome {
	if ctx.Limits.MaxOrdersPerMinute > 0 && ctx.OrdersInTrailingMinute >= ctx.Limits.MaxOrdersPerMinute {
		return Outcome{Pass: false, Reason: "order frequency limit exceeded", Level: domain.RiskMedium}
	}
	if ctx.Limits.MaxOrdersPerMinuteSym > 0 && ctx.OrdersInTrailingMinuteSymbol >= ctx.Limits.MaxOrdersPerMinuteSym {
		return Outcome{Pass: false, Reason: "per-symbol order frequency limit exceeded", Level: domain.RiskMedium}
	}
	if ctx.Limits.MaxOrdersPerMinute == 0 {
		return Outcome{Pass: true, Level: domain.RiskLow}
	}
	util := float64(ctx.OrdersInTrailingMinute) / float64(ctx.Limits.MaxOrdersPerMinute)
	return Outcome{Pass: true, Level: levelForUtilization(util)}
}

// DefaultRules returns the six rules in spec.md §4.7's table, ordered by
// priority (ties would break by ID, per spec.md §9's "rule-engine
// extensibility" note — the defaults here have distinct priorities).
func DefaultRules() []Rule {
	return []Rule{
		PositionLimitRule{},
		OrderSizeRule{},
		DailyLossRule{},
		DrawdownRule{},
		LeverageRule{},
		OrderFrequencyRule{},
	}
}
