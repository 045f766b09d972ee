package perfmetrics

import (
	"math"
	"testing"
	"time"

	"github.com/algotrade/tradecore/internal/domain"
	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestPairRoundTripsFIFO(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fills := []domain.Fill{
		{Symbol: "BTC-USD", Side: domain.SideBuy, Quantity: dec("1"), Price: dec("100"), Timestamp: base},
		{Symbol: "BTC-USD", Side: domain.SideBuy, Quantity: dec("1"), Price: dec("110"), Timestamp: base.Add(time.Hour)},
		{Symbol: "BTC-USD", Side: domain.SideSell, Quantity: dec("1.5"), Price: dec("120"), Timestamp: base.Add(2 * time.Hour)},
	}
	trips := PairRoundTrips(fills)
	if len(trips) != 2 {
		t.Fatalf("expected 2 round trips (FIFO splits the sell across both lots), got %d", len(trips))
	}
	if !trips[0].EntryPrice.Equal(dec("100")) {
		t.Fatalf("first matched lot should be the oldest buy (100), got %s", trips[0].EntryPrice)
	}
	if !trips[0].Quantity.Equal(dec("1")) {
		t.Fatalf("first round trip should fully consume the 1-unit lot, got %s", trips[0].Quantity)
	}
	if !trips[1].Quantity.Equal(dec("0.5")) {
		t.Fatalf("second round trip should consume remaining 0.5, got %s", trips[1].Quantity)
	}
}

func TestPairRoundTripsOverSellDropsExcess(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fills := []domain.Fill{
		{Symbol: "ETH-USD", Side: domain.SideBuy, Quantity: dec("1"), Price: dec("2000"), Timestamp: base},
		{Symbol: "ETH-USD", Side: domain.SideSell, Quantity: dec("5"), Price: dec("2100"), Timestamp: base.Add(time.Hour)},
	}
	trips := PairRoundTrips(fills)
	if len(trips) != 1 {
		t.Fatalf("expected exactly 1 round trip bounded by the open lot, got %d", len(trips))
	}
	if !trips[0].Quantity.Equal(dec("1")) {
		t.Fatalf("matched quantity should be capped at the open lot (1), got %s", trips[0].Quantity)
	}
}

func TestComputeTotalReturnAndMaxDrawdown(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	curve := []domain.EquitySample{
		{Timestamp: base, Equity: dec("100000")},
		{Timestamp: base.AddDate(0, 0, 1), Equity: dec("110000")},
		{Timestamp: base.AddDate(0, 0, 2), Equity: dec("95000")},
		{Timestamp: base.AddDate(0, 0, 3), Equity: dec("105000")},
	}
	stats := Compute(curve, nil, dec("100000"))
	if math.Abs(stats.TotalReturn-0.05) > 1e-9 {
		t.Fatalf("total return = %v, want 0.05", stats.TotalReturn)
	}
	wantDD := (110000.0 - 95000.0) / 110000.0
	if math.Abs(stats.MaxDrawdown-wantDD) > 1e-9 {
		t.Fatalf("max drawdown = %v, want %v", stats.MaxDrawdown, wantDD)
	}
}

func TestComputeWinRateAndProfitFactor(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fills := []domain.Fill{
		{Symbol: "BTC-USD", Side: domain.SideBuy, Quantity: dec("1"), Price: dec("100"), Timestamp: base},
		{Symbol: "BTC-USD", Side: domain.SideSell, Quantity: dec("1"), Price: dec("120"), Timestamp: base.Add(time.Hour)},
		{Symbol: "BTC-USD", Side: domain.SideBuy, Quantity: dec("1"), Price: dec("120"), Timestamp: base.Add(2 * time.Hour)},
		{Symbol: "BTC-USD", Side: domain.SideSell, Quantity: dec("1"), Price: dec("100"), Timestamp: base.Add(3 * time.Hour)},
	}
	curve := []domain.EquitySample{
		{Timestamp: base, Equity: dec("100000")},
		{Timestamp: base.Add(4 * time.Hour), Equity: dec("100000")},
	}
	stats := Compute(curve, fills, dec("100000"))
	if stats.TotalTrades != 2 {
		t.Fatalf("total trades = %d, want 2", stats.TotalTrades)
	}
	if stats.WinRate != 0.5 {
		t.Fatalf("win rate = %v, want 0.5", stats.WinRate)
	}
	if math.Abs(stats.ProfitFactor-1.0) > 1e-9 {
		t.Fatalf("profit factor = %v, want 1.0 (20 gain vs 20 loss)", stats.ProfitFactor)
	}
}

func TestComputeEmptyCurveReturnsZeroStats(t *testing.T) {
	stats := Compute(nil, nil, dec("100000"))
	if stats.TotalReturn != 0 || stats.TotalTrades != 0 {
		t.Fatal("expected zero-value stats for an empty curve")
	}
}
