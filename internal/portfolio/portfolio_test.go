package portfolio

import (
	"os"
	"path/filepath"
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

func TestApplyFillWeightedAverageEntry(t *testing.T) {
	p := New("strat-1", dec("10000"))

	_, err := fill(p, domain.SideBuy, "1", "100")
	if err != nil {
		t.Fatal(err)
	}
	_, err = fill(p, domain.SideBuy, "1", "110")
	if err != nil {
		t.Fatal(err)
	}

	pos := p.Position("BTC-USD")
	if !pos.AverageEntry.Equal(dec("105")) {
		t.Fatalf("avg entry = %s, want 105", pos.AverageEntry)
	}
	if !pos.Quantity.Equal(dec("2")) {
		t.Fatalf("quantity = %s, want 2", pos.Quantity)
	}
}

func TestFIFORealizedPnL(t *testing.T) {
	// invariant #7: buy 1@100, buy 1@110, sell 2@120 -> realized = 30 (minus costs, zero here)
	p := New("strat-1", dec("10000"))
	mustFill(t, p, domain.SideBuy, "1", "100")
	mustFill(t, p, domain.SideBuy, "1", "110")
	mustFill(t, p, domain.SideSell, "2", "120")

	if !p.RealizedPnL().Equal(dec("30")) {
		t.Fatalf("realized pnl = %s, want 30", p.RealizedPnL())
	}
	pos := p.Position("BTC-USD")
	if pos.Side != domain.PositionFlat {
		t.Fatalf("expected flat position after closing, got %s qty=%s", pos.Side, pos.Quantity)
	}
}

func TestOversellClipInSim(t *testing.T) {
	p := New("strat-1", dec("10000"))
	mustFill(t, p, domain.SideBuy, "1", "100")

	domErr, err := p.ApplyFill(domain.Fill{Symbol: "BTC-USD", Side: domain.SideSell, Quantity: dec("5"), Price: dec("100"), Timestamp: time.Now()}, OversellClip)
	if err != nil || domErr != nil {
		t.Fatalf("expected clip to succeed, got domErr=%v err=%v", domErr, err)
	}
	pos := p.Position("BTC-USD")
	if pos.Side != domain.PositionFlat {
		t.Fatalf("expected position flattened by clip, got %+v", pos)
	}
}

func TestOversellRejectInLive(t *testing.T) {
	p := New("strat-1", dec("10000"))
	mustFill(t, p, domain.SideBuy, "1", "100")

	domErr, err := p.ApplyFill(domain.Fill{Symbol: "BTC-USD", Side: domain.SideSell, Quantity: dec("5"), Price: dec("100"), Timestamp: time.Now()}, OversellReject)
	if err != nil {
		t.Fatal(err)
	}
	if domErr == nil || domErr.Kind != domain.ErrInsufficientPos {
		t.Fatalf("expected insufficient_position error, got %+v", domErr)
	}
}

func TestEquityIdentity(t *testing.T) {
	// invariant #1: equity == cash + mark-to-market position value
	p := New("strat-1", dec("10000"))
	mustFill(t, p, domain.SideBuy, "1", "100")
	equity := p.MarkToMarket(map[string]decimal.Decimal{"BTC-USD": dec("120")})

	wantEquity := p.Cash().Add(dec("1").Mul(dec("120")))
	if !equity.Equal(wantEquity) {
		t.Fatalf("equity = %s, want %s", equity, wantEquity)
	}
}

func TestSaveAndLoadStateRoundTrip(t *testing.T) {
	p := New("strat-1", dec("10000"))
	mustFill(t, p, domain.SideBuy, "1", "100")
	p.RecordEquity(time.Now())

	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	if err := p.SaveState(path); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadState(path)
	if err != nil {
		t.Fatal(err)
	}
	if !loaded.Cash().Equal(p.Cash()) {
		t.Fatalf("loaded cash = %s, want %s", loaded.Cash(), p.Cash())
	}
	if len(loaded.EquityCurve()) != 1 {
		t.Fatalf("expected 1 equity sample, got %d", len(loaded.EquityCurve()))
	}
}

func fill(p *Portfolio, side domain.Side, qty, price string) (*domain.Error, error) {
	return p.ApplyFill(domain.Fill{
		Symbol:    "BTC-USD",
		Side:      side,
		Quantity:  dec(qty),
		Price:     dec(price),
		Timestamp: time.Now(),
	}, OversellClip)
}

func mustFill(t *testing.T, p *Portfolio, side domain.Side, qty, price string) {
	t.Helper()
	domErr, err := fill(p, side, qty, price)
	if err != nil {
		t.Fatal(err)
	}
	if domErr != nil {
		t.Fatal(domErr)
	}
}
