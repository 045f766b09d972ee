package controlplane

import (
	"context"
	"testing"

	"github.com/algotrade/tradecore/internal/alert"
	"github.com/algotrade/tradecore/internal/cache"
	"github.com/algotrade/tradecore/internal/domain"
	"github.com/algotrade/tradecore/internal/execution"
	"github.com/algotrade/tradecore/internal/portfolio"
	"github.com/algotrade/tradecore/internal/risk"
	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newTestControlPlane(t *testing.T) (*ControlPlane, *execution.PaperExchange, *portfolio.Portfolio) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := cache.New(mr.Addr(), "", 0, "test:")
	store := alert.New(c, "")

	limits := domain.RiskLimitsConfig{
		MaxPositionPerSymbol: dec("10"),
		MaxTotalPosition:     dec("20"),
		MaxConcentration:     0.9,
		MaxOrderSize:         dec("50000"),
		MinOrderSize:         dec("1"),
		MaxDailyLossAbs:      dec("100000"),
		MaxDailyLossPct:      0.5,
		MaxDrawdownPct:       0.5,
		MaxLeverage:          5,
		MaxOrdersPerMinute:   100,
		MaxOrdersPerMinuteSym: 100,
	}
	engine := risk.NewEngine(risk.DefaultRules())
	cp := New(engine, store, limits)

	ex := execution.NewPaperExchange()
	ex.SetPrice("BTC-USD", dec("60000"))
	p := portfolio.New("u1", dec("1000000"))
	cp.Register("u1", p, ex)
	return cp, ex, p
}

func TestValidateOrderPassesWithinLimits(t *testing.T) {
	cp, _, _ := newTestControlPlane(t)
	report, err := cp.ValidateOrder(context.Background(), OrderRequest{
		UserID: "u1", Symbol: "BTC-USD", Side: domain.SideBuy,
		Quantity: dec("0.1"), Price: dec("60000"), Type: domain.OrderMarket,
	})
	if err != nil {
		t.Fatalf("ValidateOrder: %v", err)
	}
	if !report.Valid {
		t.Fatalf("expected valid report, got reason=%s rejectedBy=%s", report.Reason, report.RejectedBy)
	}
}

func TestSubmitOrderRejectedByRiskEngineNeverReachesExchange(t *testing.T) {
	cp, ex, _ := newTestControlPlane(t)
	_, report, err := cp.SubmitOrder(context.Background(), OrderRequest{
		UserID: "u1", Symbol: "BTC-USD", Side: domain.SideBuy,
		Quantity: dec("1"), Price: dec("60000"), Type: domain.OrderMarket,
	})
	if err == nil {
		t.Fatal("expected rule_violation error for oversized order")
	}
	if report.Valid {
		t.Fatal("expected invalid report")
	}
	if report.RejectedBy != "order_size" {
		t.Fatalf("rejectedBy = %q, want order_size", report.RejectedBy)
	}
	_ = ex
}

func TestSubmitOrderWithinLimitsFillsAndUpdatesPortfolio(t *testing.T) {
	cp, _, p := newTestControlPlane(t)
	order, report, err := cp.SubmitOrder(context.Background(), OrderRequest{
		UserID: "u1", Symbol: "BTC-USD", Side: domain.SideBuy,
		Quantity: dec("0.1"), Price: dec("60000"), Type: domain.OrderMarket,
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if !report.Valid {
		t.Fatal("expected valid report")
	}
	if order.Status != domain.OrderFilled {
		t.Fatalf("status = %s, want filled (PaperExchange fills market orders immediately)", order.Status)
	}

	fill := domain.Fill{
		Symbol: "BTC-USD", Side: domain.SideBuy,
		Quantity: order.FilledQuantity, Price: order.AverageFillPrice,
	}
	if _, err := p.ApplyFill(fill, portfolio.OversellClip); err != nil {
		t.Fatalf("ApplyFill: %v", err)
	}
	pos := p.Position("BTC-USD")
	if !pos.Quantity.Equal(dec("0.1")) {
		t.Fatalf("position quantity = %s, want 0.1", pos.Quantity)
	}
}

func TestEmergencyStopCancelsAndFlattens(t *testing.T) {
	cp, ex, p := newTestControlPlane(t)
	ctx := context.Background()

	order, _, err := cp.SubmitOrder(ctx, OrderRequest{
		UserID: "u1", Symbol: "BTC-USD", Side: domain.SideBuy,
		Quantity: dec("0.1"), Price: dec("60000"), Type: domain.OrderMarket,
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	fill := domain.Fill{Symbol: "BTC-USD", Side: domain.SideBuy, Quantity: order.FilledQuantity, Price: order.AverageFillPrice}
	if _, err := p.ApplyFill(fill, portfolio.OversellClip); err != nil {
		t.Fatalf("ApplyFill: %v", err)
	}

	closed, cancelled, err := cp.EmergencyStop(ctx, "u1", "test trigger")
	if err != nil {
		t.Fatalf("EmergencyStop: %v", err)
	}
	if closed != 1 {
		t.Fatalf("closed = %d, want 1", closed)
	}
	if cancelled != 0 {
		t.Fatalf("cancelled = %d, want 0 (market order already filled)", cancelled)
	}
	_ = ex
}

func TestRiskReportReflectsUtilization(t *testing.T) {
	cp, _, _ := newTestControlPlane(t)
	report, err := cp.RiskReport(context.Background(), "u1")
	if err != nil {
		t.Fatalf("RiskReport: %v", err)
	}
	if !report.Valid {
		t.Fatalf("expected a flat book to pass every rule, got reason=%s", report.Reason)
	}
	if len(report.RulesRun) == 0 {
		t.Fatal("expected every rule to have run")
	}
}

func TestUnregisteredUserReturnsInvalidInput(t *testing.T) {
	cp, _, _ := newTestControlPlane(t)
	_, err := cp.GetPosition(context.Background(), "ghost", "BTC-USD")
	if err == nil {
		t.Fatal("expected error for unregistered user")
	}
}
