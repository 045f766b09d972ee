// Package perfmetrics implements the Metrics Calculator (C11): return,
// risk-adjusted, and trade-level statistics derived from an equity curve
// and a fill list, grounded on
// original_source/.../metrics/performance.py (total_return, annual_return,
// win_rate, profit_factor, and its buy/sell lot-pairing loop in
// _calculate_trade_pnls). The FIFO trade pairer here is long-only by
// construction (it never lets position flip sign through an oversell) —
// see SPEC_FULL.md's Open Question #3 resolution, avoiding the Python
// original's avg-price-reset-through-zero bug on a short flip.
package perfmetrics

import (
	"math"
	"sort"
	"time"

	"github.com/algotrade/tradecore/internal/domain"
	"github.com/shopspring/decimal"
)

const periodsPerYearDaily = 252.0

// Stats is the full bundle of derived statistics for one equity
// curve/trade-list pair.
type Stats struct {
	TotalReturn    float64
	AnnualReturn   float64
	Volatility     float64
	Sharpe         float64
	Sortino        float64
	Calmar         float64
	MaxDrawdown    float64
	WinRate        float64
	ProfitFactor   float64
	TotalTrades    int
	AverageWin     float64
	AverageLoss    float64
	LargestWin     float64
	LargestLoss    float64
}

// RoundTrip is one completed FIFO-matched buy/sell pair.
type RoundTrip struct {
	Symbol      string
	Quantity    decimal.Decimal
	EntryPrice  decimal.Decimal
	ExitPrice   decimal.Decimal
	PnL         float64
	ExitTime    time.Time
}

// lot is one still-open FIFO buy lot.
type lot struct {
	quantity decimal.Decimal
	price    decimal.Decimal
}

// PairRoundTrips matches sells against the oldest open buy lots per symbol
// (FIFO), long-only: a sell can only consume quantity from existing lots,
// never driving a symbol's tracked position negative or flipping it into a
// short, which is what let the Python reference's avg_price silently reset
// through zero. Commission and slippage (if present on the fill) reduce the
// realized P&L of the sell that crystallizes it.
func PairRoundTrips(fills []domain.Fill) []RoundTrip {
	bySymbol := make(map[string][]domain.Fill)
	for _, f := range fills {
		bySymbol[f.Symbol] = append(bySymbol[f.Symbol], f)
	}

	var trips []RoundTrip
	for symbol, symbolFills := range bySymbol {
		sort.Slice(symbolFills, func(i, j int) bool {
			return symbolFills[i].Timestamp.Before(symbolFills[j].Timestamp)
		})

		var lots []lot
		for _, f := range symbolFills {
			switch f.Side {
			case domain.SideBuy:
				lots = append(lots, lot{quantity: f.Quantity, price: f.Price})
			case domain.SideSell:
				remaining := f.Quantity
				costs := f.Commission.Add(f.Slippage)
				for remaining.GreaterThan(decimal.Zero) && len(lots) > 0 {
					head := &lots[0]
					matched := decimal.Min(remaining, head.quantity)
					pnl, _ := f.Price.Sub(head.price).Mul(matched).Sub(costs).Float64()
					trips = append(trips, RoundTrip{
						Symbol:     symbol,
						Quantity:   matched,
						EntryPrice: head.price,
						ExitPrice:  f.Price,
						PnL:        pnl,
						ExitTime:   f.Timestamp,
					})
					costs = decimal.Zero // costs attributed to the first matched lot only
					head.quantity = head.quantity.Sub(matched)
					remaining = remaining.Sub(matched)
					if head.quantity.IsZero() {
						lots = lots[1:]
					}
				}
				// any remaining sell quantity beyond open lots is an
				// oversell the Portfolio layer should already have
				// clipped/rejected (invariant #7); the metrics layer
				// drops it rather than synthesizing a short round-trip.
			}
		}
	}

	sort.Slice(trips, func(i, j int) bool { return trips[i].ExitTime.Before(trips[j].ExitTime) })
	return trips
}

// Compute derives the full Stats bundle from an equity curve, the fill
// list, and the initial capital, per spec.md §4.10.
func Compute(curve []domain.EquitySample, fills []domain.Fill, initialCapital decimal.Decimal) Stats {
	var s Stats
	if len(curve) == 0 || initialCapital.IsZero() {
		return s
	}

	sorted := make([]domain.EquitySample, len(curve))
	copy(sorted, curve)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	finalEquity := sorted[len(sorted)-1].Equity
	totalRetDec := finalEquity.Sub(initialCapital).Div(initialCapital)
	s.TotalReturn, _ = totalRetDec.Float64()

	days := sorted[len(sorted)-1].Timestamp.Sub(sorted[0].Timestamp).Hours() / 24
	s.AnnualReturn = annualReturn(s.TotalReturn, days)

	returns := periodReturns(sorted)
	s.Volatility = stdev(returns) * math.Sqrt(periodsPerYearDaily)
	s.Sharpe = sharpe(returns)
	s.Sortino = sortino(returns)
	s.MaxDrawdown = maxDrawdown(sorted)
	s.Calmar = calmar(s.AnnualReturn, s.MaxDrawdown)

	trips := PairRoundTrips(fills)
	s.TotalTrades = len(trips)
	wins, losses := splitWinsLosses(trips)
	s.WinRate = winRate(wins, losses)
	s.ProfitFactor = profitFactor(wins, losses)
	s.AverageWin = mean(wins)
	s.AverageLoss = mean(losses)
	s.LargestWin = maxOf(wins)
	s.LargestLoss = minOf(losses)

	return s
}

func annualReturn(totalReturn, days float64) float64 {
	if days < 1 {
		return 0
	}
	years := days / 365.25
	if years == 0 {
		return 0
	}
	return math.Pow(1+totalReturn, 1/years) - 1
}

func periodReturns(curve []domain.EquitySample) []float64 {
	if len(curve) < 2 {
		return nil
	}
	out := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev, _ := curve[i-1].Equity.Float64()
		cur, _ := curve[i].Equity.Float64()
		if prev == 0 {
			continue
		}
		out = append(out, (cur-prev)/prev)
	}
	return out
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stdev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var sumSq float64
	for _, x := range xs {
		sumSq += (x - m) * (x - m)
	}
	return math.Sqrt(sumSq / float64(len(xs)-1))
}

func sharpe(returns []float64) float64 {
	sd := stdev(returns)
	if sd == 0 {
		return 0
	}
	return mean(returns) / sd * math.Sqrt(periodsPerYearDaily)
}

func sortino(returns []float64) float64 {
	var negative []float64
	for _, r := range returns {
		if r < 0 {
			negative = append(negative, r)
		}
	}
	sd := stdev(negative)
	if sd == 0 {
		return 0
	}
	return mean(returns) / sd * math.Sqrt(periodsPerYearDaily)
}

func maxDrawdown(curve []domain.EquitySample) float64 {
	runningMax := math.Inf(-1)
	maxDD := 0.0
	for _, sample := range curve {
		eq, _ := sample.Equity.Float64()
		if eq > runningMax {
			runningMax = eq
		}
		if runningMax <= 0 {
			continue
		}
		dd := (runningMax - eq) / runningMax
		if dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

func calmar(annualReturn, maxDD float64) float64 {
	if maxDD == 0 {
		if annualReturn > 0 {
			return math.Inf(1)
		}
		return 0
	}
	return annualReturn / maxDD
}

func splitWinsLosses(trips []RoundTrip) (wins, losses []float64) {
	for _, t := range trips {
		if t.PnL > 0 {
			wins = append(wins, t.PnL)
		} else if t.PnL < 0 {
			losses = append(losses, t.PnL)
		}
	}
	return wins, losses
}

func winRate(wins, losses []float64) float64 {
	total := len(wins) + len(losses)
	if total == 0 {
		return 0
	}
	return float64(len(wins)) / float64(total)
}

func profitFactor(wins, losses []float64) float64 {
	grossProfit := sum(wins)
	grossLoss := math.Abs(sum(losses))
	if grossLoss == 0 {
		if grossProfit > 0 {
			return math.Inf(1)
		}
		return 0
	}
	return grossProfit / grossLoss
}

func sum(xs []float64) float64 {
	var total float64
	for _, x := range xs {
		total += x
	}
	return total
}

func maxOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := xs[0]
	for _, x := range xs[1:] {
		if x > m {
			m = x
		}
	}
	return m
}

func minOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := xs[0]
	for _, x := range xs[1:] {
		if x < m {
			m = x
		}
	}
	return m
}
