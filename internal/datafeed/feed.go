// Package datafeed implements the Data Feed (C2): co-timestamped,
// multi-symbol bar iteration over a HistoricalStore, plus a look-back ring
// buffer for `latest(symbol, n)`. The iteration contract is identical in
// backtest and live mode (spec.md §4.2) — only the bar source differs.
package datafeed

import (
	"context"
	"sort"
	"time"

	"github.com/algotrade/tradecore/internal/domain"
)

// HistoricalStore is the logical historical-bar store consumed by backtest
// mode (spec.md §6). Concrete bindings: PostgresStore (sqlx+lib/pq) and
// CSVStore (adapted from the teacher's loadCSV).
type HistoricalStore interface {
	RangeOHLCV(ctx context.Context, symbol string, start, end time.Time, timeframe string) ([]domain.Bar, error)
}

// Feed drives bar iteration for one or more symbols. It is not safe for
// concurrent use; backtest mode drives it from the single event-bus
// goroutine, live mode from the ingest task that owns the symbol.
type Feed struct {
	symbols   []string
	cursor    map[string]int
	bars      map[string][]domain.Bar
	history   map[string]*ring
	ringSize  int
}

// NewFeed preloads bar sequences for every symbol in [start,end] from store.
func NewFeed(ctx context.Context, store HistoricalStore, symbols []string, start, end time.Time, timeframe string, ringSize int) (*Feed, error) {
	f := &Feed{
		symbols:  append([]string(nil), symbols...),
		cursor:   make(map[string]int, len(symbols)),
		bars:     make(map[string][]domain.Bar, len(symbols)),
		history:  make(map[string]*ring, len(symbols)),
		ringSize: ringSize,
	}
	for _, sym := range symbols {
		bars, err := store.RangeOHLCV(ctx, sym, start, end, timeframe)
		if err != nil {
			return nil, err
		}
		sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
		f.bars[sym] = bars
		f.history[sym] = newRing(ringSize)
	}
	return f, nil
}

// NewLiveFeed builds a feed with no preloaded bars; bars arrive exclusively
// via Push, and `latest` is backed entirely by the ring buffer, matching
// spec.md §4.2's "live mode: bars arrive from an external stream."
func NewLiveFeed(symbols []string, ringSize int) *Feed {
	f := &Feed{
		symbols:  append([]string(nil), symbols...),
		cursor:   make(map[string]int, len(symbols)),
		bars:     make(map[string][]domain.Bar, len(symbols)),
		history:  make(map[string]*ring, len(symbols)),
		ringSize: ringSize,
	}
	for _, sym := range symbols {
		f.history[sym] = newRing(ringSize)
	}
	return f
}

// Push appends a freshly arrived live bar for symbol, updating the ring
// buffer. Never look-ahead: bars must be pushed in non-decreasing timestamp
// order per symbol.
func (f *Feed) Push(bar domain.Bar) {
	f.history[bar.Symbol].push(bar)
}

// Step finds the minimum next timestamp across all symbols with remaining
// preloaded data and returns every symbol's bar at that timestamp (spec.md
// §4.2's "co-timestamped bars travel together"). exhausted is true when no
// symbol has remaining preloaded data.
func (f *Feed) Step() (bars []domain.Bar, exhausted bool) {
	var min time.Time
	found := false
	for _, sym := range f.symbols {
		seq := f.bars[sym]
		i := f.cursor[sym]
		if i >= len(seq) {
			continue
		}
		ts := seq[i].Timestamp
		if !found || ts.Before(min) {
			min = ts
			found = true
		}
	}
	if !found {
		return nil, true
	}
	for _, sym := range f.symbols {
		seq := f.bars[sym]
		i := f.cursor[sym]
		if i >= len(seq) {
			continue
		}
		if seq[i].Timestamp.Equal(min) {
			bars = append(bars, seq[i])
			f.history[sym].push(seq[i])
			f.cursor[sym] = i + 1
		}
	}
	return bars, false
}

// Latest returns up to the n most recently emitted bars for symbol, oldest
// first, never including look-ahead data.
func (f *Feed) Latest(symbol string, n int) []domain.Bar {
	r, ok := f.history[symbol]
	if !ok {
		return nil
	}
	return r.latest(n)
}

// Symbols returns the feed's configured symbol set.
func (f *Feed) Symbols() []string { return append([]string(nil), f.symbols...) }
