package datafeed

import (
	"context"
	"time"

	"github.com/algotrade/tradecore/internal/domain"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// PostgresStore is a HistoricalStore backed by a relational OHLCV table,
// grounded on the `sawpanic-cryptorun` manifest's jmoiron/sqlx + lib/pq
// dependency pair used for exactly this historical-data-store role. The
// table/schema layout itself is logical only, per spec.md §1's explicit
// non-goal of specifying TimescaleDB persistence schema.
type PostgresStore struct {
	db    *sqlx.DB
	table string
}

// NewPostgresStore opens a connection pool against dsn. table defaults to
// "ohlcv_bars" when empty.
func NewPostgresStore(dsn string, table string) (*PostgresStore, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if table == "" {
		table = "ohlcv_bars"
	}
	return &PostgresStore{db: db, table: table}, nil
}

type ohlcvRow struct {
	Symbol    string    `db:"symbol"`
	Timestamp time.Time `db:"ts"`
	Open      string    `db:"open"`
	High      string    `db:"high"`
	Low       string    `db:"low"`
	Close     string    `db:"close"`
	Volume    string    `db:"volume"`
}

// RangeOHLCV returns bars for symbol in [start,end], ordered ascending by
// timestamp, for the given timeframe (stored as its own column so multiple
// granularities can share one table, as cryptorun's manifest does).
func (s *PostgresStore) RangeOHLCV(ctx context.Context, symbol string, start, end time.Time, timeframe string) ([]domain.Bar, error) {
	query := `SELECT symbol, ts, open, high, low, close, volume FROM ` + s.table +
		` WHERE symbol = $1 AND timeframe = $2 AND ts >= $3 AND ts <= $4 ORDER BY ts ASC`
	var rows []ohlcvRow
	if err := s.db.SelectContext(ctx, &rows, query, symbol, timeframe, start, end); err != nil {
		return nil, err
	}
	bars := make([]domain.Bar, 0, len(rows))
	for _, r := range rows {
		bars = append(bars, domain.Bar{
			Symbol:    r.Symbol,
			Timestamp: r.Timestamp,
			Open:      mustDecimal(r.Open),
			High:      mustDecimal(r.High),
			Low:       mustDecimal(r.Low),
			Close:     mustDecimal(r.Close),
			Volume:    mustDecimal(r.Volume),
		})
	}
	return bars, nil
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() error { return s.db.Close() }

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
