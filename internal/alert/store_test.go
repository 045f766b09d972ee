package alert

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/algotrade/tradecore/internal/cache"
	"github.com/algotrade/tradecore/internal/domain"
	"github.com/alicebob/miniredis/v2"
)

func newTestStore(t *testing.T, webhookURL string) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	c := cache.New(mr.Addr(), "", 0, "tradecore:")
	return New(c, webhookURL)
}

func TestCreateGetRoundTrip(t *testing.T) {
	s := newTestStore(t, "")
	ctx := context.Background()

	a, err := s.Create(ctx, "u1", domain.AlertDrawdownLimit, domain.RiskCritical, "drawdown breached", map[string]string{"pct": "0.3"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if a.ID == "" {
		t.Fatal("expected generated ID")
	}

	got, ok, err := s.Get(ctx, "u1", a.ID)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.Message != "drawdown breached" {
		t.Fatalf("message = %q", got.Message)
	}
}

func TestListOrdersNewestFirst(t *testing.T) {
	s := newTestStore(t, "")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := s.Create(ctx, "u1", domain.AlertPositionLimit, domain.RiskLow, "m", nil); err != nil {
			t.Fatal(err)
		}
		time.Sleep(time.Millisecond)
	}

	page, err := s.List(ctx, "u1", 1, 20, nil)
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 3 || len(page.Alerts) != 3 {
		t.Fatalf("total=%d alerts=%d, want 3/3", page.Total, len(page.Alerts))
	}
	for i := 0; i+1 < len(page.Alerts); i++ {
		if page.Alerts[i].Timestamp.Before(page.Alerts[i+1].Timestamp) {
			t.Fatal("expected newest-first ordering")
		}
	}
}

func TestAcknowledge(t *testing.T) {
	s := newTestStore(t, "")
	ctx := context.Background()

	a, err := s.Create(ctx, "u1", domain.AlertEmergencyStop, domain.RiskCritical, "flattened", nil)
	if err != nil {
		t.Fatal(err)
	}

	ok, err := s.Acknowledge(ctx, "u1", a.ID)
	if err != nil || !ok {
		t.Fatalf("Acknowledge: ok=%v err=%v", ok, err)
	}

	got, _, _ := s.Get(ctx, "u1", a.ID)
	if !got.Acknowledged || got.AcknowledgedAt == nil {
		t.Fatal("expected acknowledged alert with timestamp")
	}
}

func TestWebhookPublishedOnCreate(t *testing.T) {
	received := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		received <- struct{}{}
	}))
	defer srv.Close()

	s := newTestStore(t, srv.URL)
	if _, err := s.Create(context.Background(), "u1", domain.AlertDailyLossLimit, domain.RiskCritical, "daily loss breach", nil); err != nil {
		t.Fatal(err)
	}

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("expected webhook POST within timeout")
	}
}
