package datafeed

import (
	"context"
	"testing"
	"time"

	"github.com/algotrade/tradecore/internal/domain"
	"github.com/shopspring/decimal"
)

type fakeStore struct {
	bySymbol map[string][]domain.Bar
}

func (f *fakeStore) RangeOHLCV(ctx context.Context, symbol string, start, end time.Time, timeframe string) ([]domain.Bar, error) {
	return f.bySymbol[symbol], nil
}

func barAt(symbol string, sec int64, px string) domain.Bar {
	d, _ := decimal.NewFromString(px)
	return domain.Bar{Symbol: symbol, Timestamp: time.Unix(sec, 0).UTC(), Open: d, High: d, Low: d, Close: d, Volume: decimal.NewFromInt(1)}
}

func TestStepCoTimestampsBars(t *testing.T) {
	store := &fakeStore{bySymbol: map[string][]domain.Bar{
		"BTC": {barAt("BTC", 0, "100"), barAt("BTC", 60, "101")},
		"ETH": {barAt("ETH", 0, "10"), barAt("ETH", 120, "11")},
	}}
	f, err := NewFeed(context.Background(), store, []string{"BTC", "ETH"}, time.Unix(0, 0), time.Unix(1000, 0), "1m", 10)
	if err != nil {
		t.Fatal(err)
	}

	bars, exhausted := f.Step()
	if exhausted {
		t.Fatal("unexpected exhaustion")
	}
	if len(bars) != 2 {
		t.Fatalf("expected both symbols co-timestamped at t=0, got %d bars", len(bars))
	}

	bars, exhausted = f.Step()
	if exhausted {
		t.Fatal("unexpected exhaustion")
	}
	if len(bars) != 1 || bars[0].Symbol != "BTC" {
		t.Fatalf("expected only BTC's next bar at t=60, got %+v", bars)
	}

	bars, exhausted = f.Step()
	if exhausted || len(bars) != 1 || bars[0].Symbol != "ETH" {
		t.Fatalf("expected ETH's bar at t=120, got %+v exhausted=%v", bars, exhausted)
	}

	if _, exhausted := f.Step(); !exhausted {
		t.Fatal("expected exhaustion after all bars consumed")
	}
}

func TestLatestNeverLooksAhead(t *testing.T) {
	store := &fakeStore{bySymbol: map[string][]domain.Bar{
		"BTC": {barAt("BTC", 0, "100"), barAt("BTC", 60, "101"), barAt("BTC", 120, "102")},
	}}
	f, err := NewFeed(context.Background(), store, []string{"BTC"}, time.Unix(0, 0), time.Unix(1000, 0), "1m", 2)
	if err != nil {
		t.Fatal(err)
	}

	if got := f.Latest("BTC", 5); len(got) != 0 {
		t.Fatalf("expected no bars before stepping, got %d", len(got))
	}
	f.Step()
	if got := f.Latest("BTC", 5); len(got) != 1 {
		t.Fatalf("expected exactly 1 emitted bar, got %d", len(got))
	}
	f.Step()
	f.Step()
	got := f.Latest("BTC", 5)
	if len(got) != 2 {
		t.Fatalf("ring buffer capacity 2, expected len 2, got %d", len(got))
	}
	if !got[1].Close.Equal(barAt("BTC", 120, "102").Close) {
		t.Fatalf("expected most recent bar last, got %+v", got)
	}
}
