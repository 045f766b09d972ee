// Package event implements the backtest core's single-threaded Event Bus: a
// min-heap priority queue keyed by (timestamp, insertion-sequence), the Go
// translation of the Python reference's PriorityQueue-of-Event
// (event_engine.py). Dispatch is strictly sequential by contract; the bus is
// the sole source of backtest determinism.
package event

import (
	"container/heap"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"time"
)

// Kind is the tagged-union discriminant for events flowing through the bus.
type Kind string

const (
	KindMarket Kind = "market"
	KindSignal Kind = "signal"
	KindOrder  Kind = "order"
	KindFill   Kind = "fill"
)

// Event is a tagged union: Kind selects which field of Payload is valid.
// Components downstream type-assert Payload against the concrete type that
// Kind promises, matching spec.md §9's "tagged variants, not base classes."
type Event struct {
	Kind      Kind
	Timestamp time.Time
	Payload   any

	sequence int // insertion order, set by the bus; breaks timestamp ties
	index    int // heap.Interface bookkeeping
}

// Handler processes one event. A returned error is logged; it never aborts
// dispatch of the remaining queue (mirrors event_engine.py's per-handler
// try/except around process_event).
type Handler func(Event) error

type eventHeap []*Event

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	if h[i].Timestamp.Equal(h[j].Timestamp) {
		return h[i].sequence < h[j].sequence
	}
	return h[i].Timestamp.Before(h[j].Timestamp)
}
func (h eventHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *eventHeap) Push(x any) {
	e := x.(*Event)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Stats mirrors event_engine.py's get_stats() for observability/tests.
type Stats struct {
	Published  int
	Dispatched int
	Errors     int
}

// Bus is a non-concurrent-safe, single-owner event queue. Cross-goroutine
// producers must marshal onto the bus owner's goroutine; the bus itself
// performs no locking, matching spec.md §5's "strictly single-threaded."
type Bus struct {
	heap     eventHeap
	handlers map[Kind][]Handler
	seq      int
	stats    Stats
	logger   zerolog.Logger
}

// NewBus constructs an empty bus that logs through zerolog's package logger.
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[Kind][]Handler),
		logger:   log.Logger,
	}
}

// WithLogger swaps the zerolog sink used for handler-failure logging.
func (b *Bus) WithLogger(l zerolog.Logger) *Bus {
	b.logger = l
	return b
}

// Register attaches a handler for a given event kind. Handlers fire in
// registration order for events of that kind.
func (b *Bus) Register(kind Kind, h Handler) {
	b.handlers[kind] = append(b.handlers[kind], h)
}

// Publish inserts an event, stamping it with the next insertion sequence so
// same-timestamp events remain stably ordered (spec.md §4.1).
func (b *Bus) Publish(e Event) {
	e.sequence = b.seq
	b.seq++
	b.stats.Published++
	heap.Push(&b.heap, &e)
}

// DispatchAll drains the queue in non-decreasing timestamp order, dispatching
// each event to every registered handler for its kind. A handler panic is
// recovered and logged as an error, never propagated, so dispatch of the
// remaining events continues — the Go equivalent of the Python engine's
// logger.error(..., exc_info=True) around each handler call.
func (b *Bus) DispatchAll() {
	for b.heap.Len() > 0 {
		e := heap.Pop(&b.heap).(*Event)
		b.dispatch(*e)
	}
}

// Step pops and dispatches exactly one event, returning ok=false when the
// queue is empty. Useful for interleaving dispatch with external driving
// logic (e.g. the data feed pushing one MarketEvent per step).
func (b *Bus) Step() (Event, bool) {
	if b.heap.Len() == 0 {
		return Event{}, false
	}
	e := heap.Pop(&b.heap).(*Event)
	b.dispatch(*e)
	return *e, true
}

// Len reports the number of queued, undispatched events.
func (b *Bus) Len() int { return b.heap.Len() }

// Clear drops all queued events without dispatching them.
func (b *Bus) Clear() {
	b.heap = nil
	b.seq = 0
}

// GetStats returns a snapshot of dispatch counters.
func (b *Bus) GetStats() Stats { return b.stats }

func (b *Bus) dispatch(e Event) {
	b.stats.Dispatched++
	for _, h := range b.handlers[e.Kind] {
		b.invoke(h, e)
	}
}

func (b *Bus) invoke(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.stats.Errors++
			b.logger.Error().
				Str("kind", string(e.Kind)).
				Time("ts", e.Timestamp).
				Interface("panic", r).
				Msg("event handler panicked")
		}
	}()
	if err := h(e); err != nil {
		b.stats.Errors++
		b.logger.Error().
			Str("kind", string(e.Kind)).
			Time("ts", e.Timestamp).
			Err(err).
			Msg("event handler returned error")
	}
}

// MustKind type-asserts an event's payload, panicking with a descriptive
// message on mismatch — used at dispatch sites that already matched on Kind,
// so a mismatch indicates a programming error, not bad input.
func MustKind[T any](e Event) T {
	v, ok := e.Payload.(T)
	if !ok {
		panic(fmt.Sprintf("event: payload for kind %s is %T, not %T", e.Kind, e.Payload, v))
	}
	return v
}
