package event

import (
	"errors"
	"testing"
	"time"
)

func TestDispatchOrderIsTimestampThenSequence(t *testing.T) {
	b := NewBus()
	var order []int

	b.Register(KindMarket, func(e Event) error {
		order = append(order, MustKind[int](e))
		return nil
	})

	t0 := time.Unix(100, 0)
	b.Publish(Event{Kind: KindMarket, Timestamp: t0, Payload: 1})
	b.Publish(Event{Kind: KindMarket, Timestamp: t0.Add(-time.Second), Payload: 0})
	b.Publish(Event{Kind: KindMarket, Timestamp: t0, Payload: 2}) // ties with the first, must come after it

	b.DispatchAll()

	want := []int{0, 1, 2}
	if len(order) != len(want) {
		t.Fatalf("dispatched %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("dispatched %v, want %v", order, want)
		}
	}
}

func TestHandlerErrorDoesNotAbortDispatch(t *testing.T) {
	b := NewBus()
	var seen int
	b.Register(KindFill, func(e Event) error {
		seen++
		return errors.New("boom")
	})
	b.Publish(Event{Kind: KindFill, Timestamp: time.Unix(1, 0)})
	b.Publish(Event{Kind: KindFill, Timestamp: time.Unix(2, 0)})

	b.DispatchAll()

	if seen != 2 {
		t.Fatalf("seen = %d, want 2 (handler error must not abort dispatch)", seen)
	}
	if b.GetStats().Errors != 2 {
		t.Fatalf("stats.Errors = %d, want 2", b.GetStats().Errors)
	}
}

func TestHandlerPanicIsRecovered(t *testing.T) {
	b := NewBus()
	var after bool
	b.Register(KindOrder, func(e Event) error { panic("nope") })
	b.Register(KindOrder, func(e Event) error { after = true; return nil })

	b.Publish(Event{Kind: KindOrder, Timestamp: time.Unix(1, 0)})
	b.DispatchAll()

	if !after {
		t.Fatal("second handler for the same event should still run after the first panics")
	}
}

func TestStepDrainsOneAtATime(t *testing.T) {
	b := NewBus()
	b.Publish(Event{Kind: KindMarket, Timestamp: time.Unix(1, 0)})
	b.Publish(Event{Kind: KindMarket, Timestamp: time.Unix(2, 0)})

	if _, ok := b.Step(); !ok {
		t.Fatal("expected an event")
	}
	if b.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 after one Step()", b.Len())
	}
	if _, ok := b.Step(); !ok {
		t.Fatal("expected a second event")
	}
	if _, ok := b.Step(); ok {
		t.Fatal("expected queue exhausted")
	}
}
