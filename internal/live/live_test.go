package live

import (
	"context"
	"testing"
	"time"

	"github.com/algotrade/tradecore/internal/alert"
	"github.com/algotrade/tradecore/internal/cache"
	"github.com/algotrade/tradecore/internal/controlplane"
	"github.com/algotrade/tradecore/internal/domain"
	"github.com/algotrade/tradecore/internal/execution"
	"github.com/algotrade/tradecore/internal/risk"
	"github.com/algotrade/tradecore/internal/strategy"
	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
)

// fakeStreamExchange is a minimal execution.Exchange that serves warmup
// history from a fixed slice and streams bars/fills pushed onto its
// channels by the test, standing in for a websocket-backed venue adapter.
type fakeStreamExchange struct {
	history []domain.Bar
	bars    chan domain.Bar
	fills   chan domain.Fill
	orders  map[string]domain.Order
}

func newFakeStreamExchange(history []domain.Bar) *fakeStreamExchange {
	return &fakeStreamExchange{
		history: history,
		bars:    make(chan domain.Bar, 16),
		fills:   make(chan domain.Fill, 16),
		orders:  make(map[string]domain.Order),
	}
}

func (f *fakeStreamExchange) Connect(ctx context.Context) error { return nil }
func (f *fakeStreamExchange) LoadMarkets(ctx context.Context) (map[string]execution.MarketMeta, error) {
	return nil, nil
}
func (f *fakeStreamExchange) FetchTicker(ctx context.Context, symbol string) (execution.Ticker, error) {
	return execution.Ticker{}, nil
}
func (f *fakeStreamExchange) FetchOrderBook(ctx context.Context, symbol string, depth int) (execution.OrderBook, error) {
	return execution.OrderBook{}, nil
}
func (f *fakeStreamExchange) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Bar, error) {
	return f.history, nil
}
func (f *fakeStreamExchange) CreateOrder(ctx context.Context, o domain.Order, idempotencyKey string) (execution.ExchangeOrder, error) {
	o.ID = idempotencyKey
	o.Status = domain.OrderSubmitted
	f.orders[o.ID] = o
	return execution.ExchangeOrder{ID: o.ID, Status: o.Status}, nil
}
func (f *fakeStreamExchange) CancelOrder(ctx context.Context, id, symbol string) error { return nil }
func (f *fakeStreamExchange) FetchOrder(ctx context.Context, id, symbol string) (domain.Order, error) {
	return f.orders[id], nil
}
func (f *fakeStreamExchange) WatchTicker(ctx context.Context, symbol string) (<-chan execution.Ticker, error) {
	return nil, nil
}
func (f *fakeStreamExchange) WatchOrderBook(ctx context.Context, symbol string, depth int) (<-chan execution.OrderBook, error) {
	return nil, nil
}
func (f *fakeStreamExchange) WatchTrades(ctx context.Context, symbol string) (<-chan domain.Fill, error) {
	return f.fills, nil
}
func (f *fakeStreamExchange) WatchOHLCV(ctx context.Context, symbol, interval string) (<-chan domain.Bar, error) {
	return f.bars, nil
}

func warmupHistory(n int) []domain.Bar {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]domain.Bar, n)
	price := 100.0
	for i := 0; i < n; i++ {
		price += 0.01
		out[i] = domain.Bar{
			Symbol: "BTC-USD", Timestamp: base.Add(time.Duration(i) * time.Minute),
			Open: decimal.NewFromFloat(price), High: decimal.NewFromFloat(price + 0.1),
			Low: decimal.NewFromFloat(price - 0.1), Close: decimal.NewFromFloat(price),
			Volume: decimal.NewFromInt(1000),
		}
	}
	return out
}

func newTestControlPlane(t *testing.T) *controlplane.ControlPlane {
	t.Helper()
	mr := miniredis.RunT(t)
	c := cache.New(mr.Addr(), "", 0, "test:")
	store := alert.New(c, "")
	limits := domain.RiskLimitsConfig{
		MaxPositionPerSymbol: decimal.NewFromInt(1000),
		MaxTotalPosition:     decimal.NewFromInt(2000),
		MaxOrderSize:         decimal.NewFromInt(1000000),
		MinOrderSize:         decimal.NewFromFloat(0.0001),
		MaxDailyLossAbs:      decimal.NewFromInt(1000000),
		MaxDrawdownPct:       0.9,
		MaxOrdersPerMinute:   1000,
		MaxOrdersPerMinuteSym: 1000,
	}
	return controlplane.New(risk.NewEngine(risk.DefaultRules()), store, limits)
}

func TestStartWarmsUpAndRegistersWithControlPlane(t *testing.T) {
	cp := newTestControlPlane(t)
	ex := newFakeStreamExchange(warmupHistory(120))

	cfg := Config{
		UserID:     "u1",
		Symbols:    []string{"BTC-USD"},
		Timeframe:  DefaultTimeframe,
		WarmupBars: 120,
		RingSize:   64,
		Thresholds: strategy.DefaultThresholds,
		Router: strategy.RouterConfig{
			Mode: strategy.SizingPercentOfEquity, RiskPerTradePct: decimal.NewFromFloat(0.01),
			ExchangeMinQty: decimal.NewFromFloat(0.0001), StrategyID: "u1",
		},
	}
	sess, err := Start(context.Background(), cfg, ex, decimal.NewFromInt(100000), cp)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if sess == nil {
		t.Fatal("expected a non-nil session")
	}
	if _, err := cp.Portfolio("u1"); err != nil {
		t.Fatalf("expected u1 registered with the control plane: %v", err)
	}
}

func TestSessionProcessesStreamedBar(t *testing.T) {
	cp := newTestControlPlane(t)
	ex := newFakeStreamExchange(warmupHistory(120))

	cfg := Config{
		UserID:     "u1",
		Symbols:    []string{"BTC-USD"},
		Timeframe:  DefaultTimeframe,
		WarmupBars: 120,
		RingSize:   64,
		Thresholds: strategy.DefaultThresholds,
		Router: strategy.RouterConfig{
			Mode: strategy.SizingPercentOfEquity, RiskPerTradePct: decimal.NewFromFloat(0.01),
			ExchangeMinQty: decimal.NewFromFloat(0.0001), StrategyID: "u1",
		},
	}
	sess, err := Start(context.Background(), cfg, ex, decimal.NewFromInt(100000), cp)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sess.Run(ctx) }()

	bar := domain.Bar{
		Symbol: "BTC-USD", Timestamp: time.Now().UTC(),
		Open: decimal.NewFromFloat(101), High: decimal.NewFromFloat(101.2),
		Low: decimal.NewFromFloat(100.9), Close: decimal.NewFromFloat(101.1),
		Volume: decimal.NewFromInt(500),
	}
	ex.bars <- bar
	time.Sleep(50 * time.Millisecond)

	pos, err := cp.GetPosition(ctx, "u1", "BTC-USD")
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	_ = pos // strategy may or may not trade on this single bar; just confirm no panic

	cancel()
	<-done
}

func TestMonitorAdapterTracksPeakEquity(t *testing.T) {
	cp := newTestControlPlane(t)
	ex := newFakeStreamExchange(warmupHistory(10))
	cfg := Config{
		UserID: "u1", Symbols: []string{"BTC-USD"}, Timeframe: DefaultTimeframe,
		WarmupBars: 10, RingSize: 32, Thresholds: strategy.DefaultThresholds,
		Router: strategy.RouterConfig{StrategyID: "u1"},
	}
	if _, err := Start(context.Background(), cfg, ex, decimal.NewFromInt(50000), cp); err != nil {
		t.Fatalf("Start: %v", err)
	}

	adapter := NewMonitorAdapter(cp)
	peak, current, err := adapter.PeakAndCurrentEquity(context.Background(), "u1")
	if err != nil {
		t.Fatalf("PeakAndCurrentEquity: %v", err)
	}
	if !peak.Equal(current) {
		t.Fatalf("first call should seed peak == current, got peak=%s current=%s", peak, current)
	}

	users, err := adapter.Users(context.Background())
	if err != nil || len(users) != 1 {
		t.Fatalf("Users() = %v, %v; want 1 user", users, err)
	}
}
