package strategy

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/algotrade/tradecore/internal/domain"
	"github.com/shopspring/decimal"
)

func TestSMAAndRSIBasic(t *testing.T) {
	closes := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	sma := SMA(closes, 3)
	if math.IsNaN(sma[9]) {
		t.Fatal("expected a value once window is full")
	}
	if sma[9] != 9 { // (8+9+10)/3
		t.Fatalf("sma[9] = %v, want 9", sma[9])
	}

	rsi := RSI(closes, 14)
	// monotonically increasing series with no losses -> RSI stays at zero
	// (insufficient window) until n, never computed here since len < n+1.
	if len(rsi) != len(closes) {
		t.Fatalf("rsi length mismatch")
	}
}

func TestMicroModelPredictDimensionMismatch(t *testing.T) {
	m := NewMicroModel(rand.New(rand.NewSource(1)))
	if p := m.Predict([]float64{1, 2}); p != 0.5 {
		t.Fatalf("expected 0.5 fallback for mismatched feature length, got %v", p)
	}
}

func TestMicroModelFitReducesLoss(t *testing.T) {
	closes := make([]float64, 200)
	for i := range closes {
		closes[i] = 100 + float64(i)*0.5 // steadily rising series
	}
	feats, labels := BuildTrainingSet(closes)
	if len(feats) == 0 {
		t.Fatal("expected a non-empty training set")
	}
	m := NewMicroModel(rand.New(rand.NewSource(1)))
	before := lossOf(m, feats, labels)
	m.Fit(feats, labels, 0.05, 10)
	after := lossOf(m, feats, labels)
	if after >= before {
		t.Fatalf("expected loss to decrease: before=%v after=%v", before, after)
	}
}

func lossOf(m *MicroModel, feats [][]float64, labels []float64) float64 {
	var total float64
	for i := range feats {
		p := m.Predict(feats[i])
		eps := 1e-9
		if labels[i] == 1 {
			total -= math.Log(p + eps)
		} else {
			total -= math.Log(1 - p + eps)
		}
	}
	return total / float64(len(feats))
}

func TestRouterDropsBelowExchangeMinimum(t *testing.T) {
	r := NewRouter(RouterConfig{
		Mode:            SizingPercentOfEquity,
		RiskPerTradePct: dec("0.0001"),
		ExchangeMinQty:  dec("1"),
		StrategyID:      "s1",
	})
	sig := domain.Signal{Kind: domain.SignalBuy, Symbol: "BTC-USD", Strength: 0.9}
	order, ok := r.Route(sig, dec("50000"), dec("1000"))
	if ok || order != nil {
		t.Fatal("expected signal dropped below exchange minimum")
	}
}

func TestRouterSizesPercentOfEquity(t *testing.T) {
	r := NewRouter(RouterConfig{
		Mode:            SizingPercentOfEquity,
		RiskPerTradePct: dec("0.5"),
		ExchangeMinQty:  dec("0"),
		StrategyID:      "s1",
	})
	sig := domain.Signal{Kind: domain.SignalBuy, Symbol: "BTC-USD", Timestamp: time.Now()}
	order, ok := r.Route(sig, dec("100"), dec("10000"))
	if !ok {
		t.Fatal("expected order")
	}
	if !order.Quantity.Equal(dec("50")) {
		t.Fatalf("quantity = %s, want 50 (50%% of 10000 / 100)", order.Quantity)
	}
	if order.Side != domain.SideBuy {
		t.Fatalf("side = %s, want buy", order.Side)
	}
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}
