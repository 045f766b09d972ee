// Package strategy implements the Strategy Runtime (C6) and the
// Signal→Order Router (C7). The indicator set and micro-model are adapted
// from the teacher's indicators.go/model.go/strategy.go, generalized from
// Candle/float64 to domain.Bar-backed float64 feature vectors (indicators
// operate on plain float64 series for speed; only money/quantity fields
// elsewhere in the module use decimal.Decimal, per SPEC_FULL.md §3).
package strategy

import "math"

// SMA returns the n-period simple moving average, aligned to closes.
func SMA(closes []float64, n int) []float64 {
	out := make([]float64, len(closes))
	if n <= 0 || len(closes) == 0 {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}
	var sum float64
	for i := range closes {
		sum += closes[i]
		if i >= n {
			sum -= closes[i-n]
		}
		if i >= n-1 {
			out[i] = sum / float64(n)
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}

// EMA returns the exponential moving average with period n.
func EMA(closes []float64, n int) []float64 {
	out := make([]float64, len(closes))
	if n <= 0 || len(closes) == 0 {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}
	k := 2.0 / (float64(n) + 1.0)
	for i := range closes {
		if i == 0 {
			out[i] = closes[i]
			continue
		}
		out[i] = closes[i]*k + out[i-1]*(1-k)
	}
	return out
}

// RSI returns the n-period Relative Strength Index using Wilder's smoothing.
func RSI(closes []float64, n int) []float64 {
	out := make([]float64, len(closes))
	if n <= 0 || len(closes) == 0 {
		return out
	}
	var gain, loss float64
	for i := 1; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		if i <= n {
			if d > 0 {
				gain += d
			} else {
				loss -= d
			}
			if i == n {
				avgGain := gain / float64(n)
				avgLoss := loss / float64(n)
				rs := 0.0
				if avgLoss != 0 {
					rs = avgGain / avgLoss
				}
				out[i] = 100.0 - (100.0 / (1.0 + rs))
			}
		} else {
			if d > 0 {
				gain = (gain*float64(n-1) + d) / float64(n)
				loss = (loss * float64(n-1)) / float64(n)
			} else {
				gain = (gain * float64(n-1)) / float64(n)
				loss = (loss*float64(n-1) - d) / float64(n)
			}
			rs := 0.0
			if loss != 0 {
				rs = gain / loss
			}
			out[i] = 100.0 - (100.0 / (1.0 + rs))
		}
	}
	return out
}

// ZScore returns the rolling z-score of closes over window n.
func ZScore(closes []float64, n int) []float64 {
	out := make([]float64, len(closes))
	if n <= 1 || len(closes) == 0 {
		return out
	}
	var sum, sumSq float64
	for i := range closes {
		x := closes[i]
		sum += x
		sumSq += x * x
		if i >= n {
			y := closes[i-n]
			sum -= y
			sumSq -= y * y
		}
		if i >= n-1 {
			mean := sum / float64(n)
			variance := (sumSq / float64(n)) - (mean * mean)
			std := math.Sqrt(math.Max(variance, 1e-12))
			out[i] = (x - mean) / std
		} else {
			out[i] = 0
		}
	}
	return out
}

// RollingStd returns the rolling standard deviation of closes over window n.
func RollingStd(closes []float64, n int) []float64 {
	out := make([]float64, len(closes))
	if n <= 1 || len(closes) == 0 {
		return out
	}
	var sum, sumSq float64
	for i := range closes {
		x := closes[i]
		sum += x
		sumSq += x * x
		if i >= n {
			y := closes[i-n]
			sum -= y
			sumSq -= y * y
		}
		if i >= n-1 {
			mean := sum / float64(n)
			variance := math.Max((sumSq/float64(n))-(mean*mean), 0)
			out[i] = math.Sqrt(variance)
		}
	}
	return out
}

// ATR returns the n-period Average True Range over highs/lows/closes.
func ATR(highs, lows, closes []float64, n int) []float64 {
	out := make([]float64, len(closes))
	if n <= 0 || len(closes) == 0 {
		return out
	}
	trs := make([]float64, len(closes))
	for i := range closes {
		if i == 0 {
			trs[i] = highs[i] - lows[i]
			continue
		}
		hl := highs[i] - lows[i]
		hc := math.Abs(highs[i] - closes[i-1])
		lc := math.Abs(lows[i] - closes[i-1])
		trs[i] = math.Max(hl, math.Max(hc, lc))
	}
	var sum float64
	for i := range trs {
		sum += trs[i]
		if i >= n {
			sum -= trs[i-n]
			out[i] = sum / float64(n)
		} else if i == n-1 {
			out[i] = sum / float64(n)
		}
	}
	return out
}

// MACD returns the fast/slow/signal EMAs and the histogram (fast-slow-signal).
func MACD(closes []float64, fast, slow, signal int) (macdLine, signalLine, hist []float64) {
	emaFast := EMA(closes, fast)
	emaSlow := EMA(closes, slow)
	macdLine = make([]float64, len(closes))
	for i := range closes {
		macdLine[i] = emaFast[i] - emaSlow[i]
	}
	signalLine = EMA(macdLine, signal)
	hist = make([]float64, len(closes))
	for i := range closes {
		hist[i] = macdLine[i] - signalLine[i]
	}
	return macdLine, signalLine, hist
}

// OBV returns the On-Balance Volume series.
func OBV(closes, volumes []float64) []float64 {
	out := make([]float64, len(closes))
	for i := 1; i < len(closes); i++ {
		switch {
		case closes[i] > closes[i-1]:
			out[i] = out[i-1] + volumes[i]
		case closes[i] < closes[i-1]:
			out[i] = out[i-1] - volumes[i]
		default:
			out[i] = out[i-1]
		}
	}
	return out
}
