package execution

import (
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

func bar(o, h, l, c, v string) domain.Bar {
	return domain.Bar{
		Symbol: "BTC-USD", Timestamp: time.Unix(0, 0).UTC(),
		Open: dec(o), High: dec(h), Low: dec(l), Close: dec(c), Volume: dec(v),
	}
}

func TestMarketOrderSlippageAndCommission(t *testing.T) {
	// S2: close=100, slippage=0.0005, commission=0.001, buy 1 unit
	sim := NewSimulated(SimConfig{SlippageRate: dec("0.0005"), CommissionRate: dec("0.001")})
	order := domain.Order{ID: "o1", Symbol: "BTC-USD", Side: domain.SideBuy, Type: domain.OrderMarket, Quantity: dec("1")}

	order, f := sim.Execute(order, bar("100", "100", "100", "100", "1000"))
	if f == nil {
		t.Fatal("expected a fill")
	}
	if !f.Price.Equal(dec("100.05")) {
		t.Fatalf("fill price = %s, want 100.05", f.Price)
	}
	if !f.Commission.Equal(dec("0.10005")) {
		t.Fatalf("commission = %s, want 0.10005", f.Commission)
	}
	if order.Status != domain.OrderFilled {
		t.Fatalf("status = %s, want filled", order.Status)
	}
	if !order.AverageFillPrice.Equal(dec("100.05")) {
		t.Fatalf("avg fill price = %s, want 100.05", order.AverageFillPrice)
	}
}

func TestLimitBuyFillsOnLowTouch(t *testing.T) {
	sim := NewSimulated(SimConfig{})
	order := domain.Order{ID: "o1", Symbol: "BTC-USD", Side: domain.SideBuy, Type: domain.OrderLimit,
		Quantity: dec("1"), LimitPrice: dec("95"), TIF: domain.TIFGTC}

	// low touches limit, open is above limit -> fill at min(limit, open) = limit
	order, f := sim.Execute(order, bar("96", "97", "94", "95.5", "1000"))
	if f == nil {
		t.Fatal("expected fill when low <= limit")
	}
	if !f.Price.Equal(dec("95")) {
		t.Fatalf("fill price = %s, want min(limit, open)=95", f.Price)
	}
}

func TestLimitBuyNoTouchNoFill(t *testing.T) {
	sim := NewSimulated(SimConfig{})
	order := domain.Order{ID: "o1", Symbol: "BTC-USD", Side: domain.SideBuy, Type: domain.OrderLimit,
		Quantity: dec("1"), LimitPrice: dec("80"), TIF: domain.TIFGTC}

	order, f := sim.Execute(order, bar("96", "97", "94", "95.5", "1000"))
	if f != nil {
		t.Fatal("expected no fill: low never touched limit")
	}
	if order.Status.Terminal() {
		t.Fatal("GTC order should remain open, not terminal")
	}
}

func TestFOKRejectsOnPartialCapacity(t *testing.T) {
	sim := NewSimulated(SimConfig{MaxParticipationRate: dec("0.01")})
	order := domain.Order{ID: "o1", Symbol: "BTC-USD", Side: domain.SideBuy, Type: domain.OrderLimit,
		Quantity: dec("100"), LimitPrice: dec("95"), TIF: domain.TIFFOK}

	order, f := sim.Execute(order, bar("96", "97", "94", "95.5", "10")) // cap = 0.1, far short of 100
	if f != nil {
		t.Fatal("FOK should reject rather than partially fill")
	}
	if order.Status != domain.OrderRejected {
		t.Fatalf("status = %s, want rejected", order.Status)
	}
}

func TestFilledQuantityNeverDecreasesAndTerminalNeverMutates(t *testing.T) {
	sim := NewSimulated(SimConfig{})
	order := domain.Order{ID: "o1", Symbol: "BTC-USD", Side: domain.SideBuy, Type: domain.OrderMarket, Quantity: dec("1")}
	order, _ = sim.Execute(order, bar("100", "100", "100", "100", "1000"))
	if order.Status != domain.OrderFilled {
		t.Fatal("expected filled")
	}
	beforeFilled := order.FilledQuantity
	order, f := sim.Execute(order, bar("100", "100", "100", "100", "1000"))
	if f != nil {
		t.Fatal("terminal order must not produce another fill")
	}
	if !order.FilledQuantity.Equal(beforeFilled) {
		t.Fatal("terminal order must not mutate filled quantity")
	}
}
