package strategy

import (
	"math"

	"github.com/algotrade/tradecore/internal/domain"
	"github.com/shopspring/decimal"
)

// FeedView is the read-only window a strategy sees onto the data feed —
// spec.md §4.6's "views are read-only snapshots."
type FeedView interface {
	Latest(symbol string, n int) []domain.Bar
}

// PortfolioView is the read-only snapshot a strategy sees onto its
// portfolio.
type PortfolioView interface {
	Position(symbol string) domain.Position
	Equity() decimal.Decimal
}

// Strategy is a user function: market event + read-only views -> signals.
// Matches spec.md §4.6 exactly.
type Strategy func(bars []domain.Bar, feed FeedView, portfolio PortfolioView) []domain.Signal

// Thresholds configures the default strategy's buy/sell cutoffs on the
// model's P(up) output and whether the EMA regime filter gates signals,
// mirroring the teacher's BUY_THRESHOLD/SELL_THRESHOLD/USE_MA_FILTER knobs.
type Thresholds struct {
	Buy         float64
	Sell        float64
	UseMAFilter bool
}

// DefaultThresholds mirrors the teacher's env.go defaults.
var DefaultThresholds = Thresholds{Buy: 0.55, Sell: 0.45, UseMAFilter: true}

// Default builds the shipped default strategy: the teacher's micro-model
// blended with an EMA(4)/EMA(8) regime filter (HighPeak/LowBottom
// crossover detection), adapted from strategy.go's decide().
func Default(model *MicroModel, th Thresholds, lookback int) Strategy {
	return func(bars []domain.Bar, feed FeedView, portfolio PortfolioView) []domain.Signal {
		if len(bars) == 0 {
			return nil
		}
		out := make([]domain.Signal, 0, len(bars))
		for _, bar := range bars {
			hist := feed.Latest(bar.Symbol, lookback)
			sig := decideOne(append(hist, bar), model, th)
			sig.Symbol = bar.Symbol
			sig.Timestamp = bar.Timestamp
			out = append(out, sig)
		}
		return out
	}
}

func decideOne(bars []domain.Bar, model *MicroModel, th Thresholds) domain.Signal {
	if len(bars) < 40 {
		return domain.Signal{Kind: domain.SignalHold, Strength: 0}
	}
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i], _ = b.Close.Float64()
	}
	i := len(closes) - 1
	rsi := RSI(closes, 14)
	zs := ZScore(closes, 20)
	features := FeatureRow(closes, rsi, zs, i)
	pUp := model.Predict(features)

	ema4 := EMA(closes, 4)
	ema8 := EMA(closes, 8)
	buyMA, sellMA := regimeSignal(ema4, ema8, i)

	meta := map[string]string{"p_up": formatFloat(pUp)}

	if pUp > th.Buy && (!th.UseMAFilter || buyMA) {
		return domain.Signal{Kind: domain.SignalBuy, Strength: pUp, Metadata: meta}
	}
	if pUp < th.Sell && (!th.UseMAFilter || sellMA) {
		return domain.Signal{Kind: domain.SignalSell, Strength: 1 - pUp, Metadata: meta}
	}
	return domain.Signal{Kind: domain.SignalHold, Strength: 0.5, Metadata: meta}
}

// regimeSignal reproduces the teacher's four-quadrant EMA crossover
// detection (HighPeak/PriceDownGoingUp/LowBottom/PriceUpGoingDown) at index i.
func regimeSignal(fastSeries, slowSeries []float64, i int) (buy, sell bool) {
	if i < 3 {
		return false, false
	}
	fast, slow := fastSeries[i], slowSeries[i]
	fast2, slow2 := fastSeries[i-2], slowSeries[i-2]
	fast3, slow3 := fastSeries[i-3], slowSeries[i-3]
	if math.IsNaN(fast) || math.IsNaN(slow) || math.IsNaN(fast3) || math.IsNaN(slow3) {
		return false, false
	}
	highPeak := (slow3 < fast3) && (slow2-fast2 > slow3-fast3) && (slow-fast < slow2-fast2) && (slow < fast)
	priceDownGoingUp := (slow > fast) && (slow-fast < slow3-fast3) && (slow3 > fast3)
	lowBottom := (fast3 < slow3) && (fast2-slow2 > fast3-slow3) && (fast-slow < fast2-slow2) && (fast < slow)
	priceUpGoingDown := (fast > slow) && (fast-slow < fast3-slow3) && (fast3 > slow3)

	switch {
	case lowBottom:
		return true, false
	case highPeak:
		return false, true
	case priceDownGoingUp:
		return true, false
	case priceUpGoingDown:
		return false, true
	default:
		return false, false
	}
}

func formatFloat(f float64) string {
	return decimal.NewFromFloat(f).StringFixed(5)
}
