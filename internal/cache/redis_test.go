package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

type sample struct {
	A int    `json:"a"`
	B string `json:"b"`
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return New(mr.Addr(), "", 0, "tradecore:")
}

func TestSetGetJSONRoundTrip(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	in := sample{A: 7, B: "x"}
	if err := c.SetJSON(ctx, "widgets:1", in, time.Minute); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}

	var out sample
	ok, err := c.GetJSON(ctx, "widgets:1", &out)
	if err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if !ok {
		t.Fatal("expected hit")
	}
	if out != in {
		t.Fatalf("got %+v, want %+v", out, in)
	}
}

func TestGetJSONMiss(t *testing.T) {
	c := newTestClient(t)
	var out sample
	ok, err := c.GetJSON(context.Background(), "missing", &out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected miss")
	}
}

func TestSortedSetPagination(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	if err := c.ZAdd(ctx, "alerts:list:u1", "a1", 1); err != nil {
		t.Fatal(err)
	}
	if err := c.ZAdd(ctx, "alerts:list:u1", "a2", 2); err != nil {
		t.Fatal(err)
	}
	if err := c.ZAdd(ctx, "alerts:list:u1", "a3", 3); err != nil {
		t.Fatal(err)
	}

	total, err := c.ZCard(ctx, "alerts:list:u1")
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 {
		t.Fatalf("total = %d, want 3", total)
	}

	ids, err := c.ZRevRange(ctx, "alerts:list:u1", 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 || ids[0] != "a3" || ids[1] != "a2" {
		t.Fatalf("ids = %v, want [a3 a2]", ids)
	}
}

func TestIncrWithExpiry(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	n1, err := c.Incr(ctx, "rate:u1", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	n2, err := c.Incr(ctx, "rate:u1", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if n1 != 1 || n2 != 2 {
		t.Fatalf("n1=%d n2=%d, want 1,2", n1, n2)
	}
}
