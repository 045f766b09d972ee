package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/algotrade/tradecore/internal/alert"
	"github.com/algotrade/tradecore/internal/cache"
	"github.com/algotrade/tradecore/internal/domain"
	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
)

type fakePortfolios struct {
	users        []string
	totalNotion  decimal.Decimal
	concSymbol   string
	concentration float64
	concNotional decimal.Decimal
	dailyPnL     decimal.Decimal
	peak         decimal.Decimal
	current      decimal.Decimal
}

func (f *fakePortfolios) Users(ctx context.Context) ([]string, error) { return f.users, nil }
func (f *fakePortfolios) TotalPositionNotional(ctx context.Context, userID string) (decimal.Decimal, error) {
	return f.totalNotion, nil
}
func (f *fakePortfolios) MaxSymbolConcentration(ctx context.Context, userID string) (string, float64, decimal.Decimal, error) {
	return f.concSymbol, f.concentration, f.concNotional, nil
}
func (f *fakePortfolios) DailyPnL(ctx context.Context, userID string) (decimal.Decimal, error) {
	return f.dailyPnL, nil
}
func (f *fakePortfolios) PeakAndCurrentEquity(ctx context.Context, userID string) (decimal.Decimal, decimal.Decimal, error) {
	return f.peak, f.current, nil
}

type fakeFlattener struct {
	called  bool
	userID  string
	reason  string
}

func (f *fakeFlattener) EmergencyStop(ctx context.Context, userID, reason string) (int, int, error) {
	f.called = true
	f.userID = userID
	f.reason = reason
	return 1, 2, nil
}

func newTestAlertStore(t *testing.T) *alert.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	c := cache.New(mr.Addr(), "", 0, "tradecore:")
	return alert.New(c, "")
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestPositionLimitWarningRaisesAlert(t *testing.T) {
	fp := &fakePortfolios{
		users:         []string{"u1"},
		totalNotion:   dec("95000"),
		concSymbol:    "BTC-USD",
		concentration: 0.5,
		concNotional:  dec("95000"),
	}
	as := newTestAlertStore(t)
	limits := domain.RiskLimitsConfig{MaxTotalPosition: dec("100000")}
	m := New(DefaultConfig(limits), fp, as, &fakeFlattener{})

	m.checkAllPositions(context.Background())

	page, err := as.List(context.Background(), "u1", 1, 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if page.Total == 0 {
		t.Fatal("expected at least one alert raised for 95% total-position utilization")
	}
}

func TestAlertDedupWithinCooldown(t *testing.T) {
	fp := &fakePortfolios{users: []string{"u1"}, totalNotion: dec("95000")}
	as := newTestAlertStore(t)
	limits := domain.RiskLimitsConfig{MaxTotalPosition: dec("100000")}
	cfg := DefaultConfig(limits)
	cfg.AlertCooldown = time.Hour
	m := New(cfg, fp, as, &fakeFlattener{})

	m.checkAllPositions(context.Background())
	m.checkAllPositions(context.Background())

	page, _ := as.List(context.Background(), "u1", 1, 10, nil)
	if page.Total != 1 {
		t.Fatalf("total = %d, want 1 (deduped within cooldown)", page.Total)
	}
}

// TestEmergencyStopOnDailyLossAndDrawdown covers scenario S4: initial
// equity 100k, max_daily_loss_abs=10k, drawdown_pct=0.15, current P&L
// -12k -> emergency_stop invoked, one critical alert persisted.
func TestEmergencyStopOnDailyLossAndDrawdown(t *testing.T) {
	fp := &fakePortfolios{
		users:    []string{"u1"},
		dailyPnL: dec("-12000"),
		peak:     dec("100000"),
		current:  dec("88000"), // 12% drawdown
	}
	as := newTestAlertStore(t)
	limits := domain.RiskLimitsConfig{
		MaxDailyLossAbs:         dec("10000"),
		MaxDrawdownPct:          0.15,
		EmergencyStopEnabled:    true,
		EmergencyStopDailyLoss:  dec("12000"),
	}
	flattener := &fakeFlattener{}
	m := New(DefaultConfig(limits), fp, as, flattener)

	m.checkAllPnL(context.Background())

	if !flattener.called {
		t.Fatal("expected emergency stop to be triggered")
	}
	if flattener.userID != "u1" {
		t.Fatalf("userID = %q, want u1", flattener.userID)
	}

	page, err := as.List(context.Background(), "u1", 1, 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, a := range page.Alerts {
		if a.Type == domain.AlertEmergencyStop && a.Level == domain.RiskCritical {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a critical emergency_stop alert")
	}
}
