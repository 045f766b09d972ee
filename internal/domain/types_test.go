package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestBarValid(t *testing.T) {
	cases := []struct {
		name string
		bar  Bar
		want bool
	}{
		{"ok", Bar{Low: dec("9"), Open: dec("10"), Close: dec("11"), High: dec("12"), Volume: dec("1")}, true},
		{"open below low", Bar{Low: dec("10"), Open: dec("9"), Close: dec("10"), High: dec("12"), Volume: dec("1")}, false},
		{"close above high", Bar{Low: dec("9"), Open: dec("10"), Close: dec("13"), High: dec("12"), Volume: dec("1")}, false},
		{"negative volume", Bar{Low: dec("9"), Open: dec("10"), Close: dec("10"), High: dec("12"), Volume: dec("-1")}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.bar.Valid(); got != c.want {
				t.Fatalf("Valid() = %v, want %v", got, c.want)
			}
		})
	}
}

func TestOrderRemaining(t *testing.T) {
	o := Order{Quantity: dec("1.0"), FilledQuantity: dec("0.4")}
	if !o.Remaining().Equal(dec("0.6")) {
		t.Fatalf("remaining = %s, want 0.6", o.Remaining())
	}
	over := Order{Quantity: dec("1.0"), FilledQuantity: dec("1.5")}
	if !over.Remaining().IsZero() {
		t.Fatalf("remaining should floor at zero, got %s", over.Remaining())
	}
}

func TestOrderStatusTerminal(t *testing.T) {
	for s, want := range map[OrderStatus]bool{
		OrderFilled:          true,
		OrderCancelled:       true,
		OrderRejected:        true,
		OrderPending:         false,
		OrderSubmitted:       false,
		OrderPartiallyFilled: false,
	} {
		if got := s.Terminal(); got != want {
			t.Fatalf("%s.Terminal() = %v, want %v", s, got, want)
		}
	}
}

func TestRiskLevelMax(t *testing.T) {
	if RiskLow.Max(RiskCritical) != RiskCritical {
		t.Fatal("expected critical to dominate low")
	}
	if RiskHigh.Max(RiskMedium) != RiskHigh {
		t.Fatal("expected high to dominate medium")
	}
}

func TestErrorWithDetail(t *testing.T) {
	err := NewError(ErrRuleViolation, "order size too large").WithDetail("rule", "order_size")
	if err.Kind != ErrRuleViolation {
		t.Fatalf("kind = %s", err.Kind)
	}
	if err.Details["rule"] != "order_size" {
		t.Fatalf("details not attached: %+v", err.Details)
	}
	if err.Error() == "" {
		t.Fatal("Error() should not be empty")
	}
}

func TestEquitySampleOrdering(t *testing.T) {
	t0 := time.Unix(0, 0).UTC()
	samples := []EquitySample{
		{Timestamp: t0, Equity: dec("10000")},
		{Timestamp: t0.Add(time.Minute), Equity: dec("10100")},
	}
	if samples[1].Timestamp.Before(samples[0].Timestamp) {
		t.Fatal("equity curve must be monotonically increasing in time")
	}
}
