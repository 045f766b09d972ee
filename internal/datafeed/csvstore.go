package datafeed

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/algotrade/tradecore/internal/domain"
	"github.com/shopspring/decimal"
)

// CSVStore is a HistoricalStore backed by a single-symbol CSV file, adapted
// from the teacher's backtest.go loadCSV. Column headers are
// case-insensitive; time accepts RFC3339 or UNIX seconds.
type CSVStore struct {
	Symbol string
	Path   string
}

// RangeOHLCV loads the whole file and filters to [start,end]; timeframe is
// accepted for interface compliance but unused (the file already encodes one
// fixed granularity, as in the teacher's loader).
func (s *CSVStore) RangeOHLCV(ctx context.Context, symbol string, start, end time.Time, timeframe string) ([]domain.Bar, error) {
	if symbol != s.Symbol {
		return nil, fmt.Errorf("csvstore: configured for %s, requested %s", s.Symbol, symbol)
	}
	bars, err := loadCSVBars(s.Path, s.Symbol)
	if err != nil {
		return nil, err
	}
	out := bars[:0:0]
	for _, b := range bars {
		if b.Timestamp.Before(start) || b.Timestamp.After(end) {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func loadCSVBars(path, symbol string) ([]domain.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var out []domain.Bar
	var headers []string
	rowIdx := 0
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if rowIdx == 0 {
			headers = rec
			rowIdx++
			continue
		}
		row := map[string]string{}
		for j, h := range headers {
			k := strings.ToLower(strings.TrimSpace(h))
			if j < len(rec) {
				row[k] = strings.TrimSpace(rec[j])
			}
		}
		ts := firstNonEmpty(row, "time", "timestamp")
		op := firstNonEmpty(row, "open")
		hp := firstNonEmpty(row, "high")
		lp := firstNonEmpty(row, "low")
		cp := firstNonEmpty(row, "close")
		vp := firstNonEmpty(row, "volume", "vol")
		if ts == "" || op == "" || cp == "" {
			continue
		}
		tt, err := parseTimeFlexible(ts)
		if err != nil {
			continue
		}
		out = append(out, domain.Bar{
			Symbol:    symbol,
			Timestamp: tt,
			Open:      decOrZero(op),
			High:      decOrZero(hp),
			Low:       decOrZero(lp),
			Close:     decOrZero(cp),
			Volume:    decOrZero(vp),
		})
		rowIdx++
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func decOrZero(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parseTimeFlexible(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(sec, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("bad time: %s", s)
}

func firstNonEmpty(m map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := m[k]; v != "" {
			return v
		}
	}
	return ""
}
