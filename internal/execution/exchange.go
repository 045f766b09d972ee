// Package execution implements the Execution Engine (C4): a simulated
// variant (slippage + commission over historical bars) and a live variant
// adapting the Exchange capability, grounded on the teacher's Broker
// interface (broker.go) generalized to spec.md §6's richer surface.
package execution

import (
	"context"
	"time"

	"github.com/algotrade/tradecore/internal/domain"
	"github.com/shopspring/decimal"
)

// MarketMeta is per-symbol metadata returned by LoadMarkets.
type MarketMeta struct {
	Symbol      string
	PriceTick   decimal.Decimal
	QuantityTick decimal.Decimal
	MinNotional decimal.Decimal
}

// Ticker is a best-bid/ask/last/volume snapshot.
type Ticker struct {
	Symbol string
	Bid    decimal.Decimal
	Ask    decimal.Decimal
	Last   decimal.Decimal
	Volume decimal.Decimal
}

// OrderBookLevel is one price/quantity level of a book snapshot.
type OrderBookLevel struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// OrderBook is a depth snapshot.
type OrderBook struct {
	Symbol string
	Bids   []OrderBookLevel
	Asks   []OrderBookLevel
}

// ExchangeOrder is the exchange-side acknowledgement of an order request.
type ExchangeOrder struct {
	ID     string
	Status domain.OrderStatus
}

// Exchange is the capability consumed by the live Execution Engine,
// expanded from the teacher's Broker interface to spec.md §6's full surface:
// order book depth, OHLCV history and four watch-streams in addition to
// ticker/order lifecycle calls.
type Exchange interface {
	Connect(ctx context.Context) error
	LoadMarkets(ctx context.Context) (map[string]MarketMeta, error)
	FetchTicker(ctx context.Context, symbol string) (Ticker, error)
	FetchOrderBook(ctx context.Context, symbol string, depth int) (OrderBook, error)
	FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Bar, error)
	CreateOrder(ctx context.Context, o domain.Order, idempotencyKey string) (ExchangeOrder, error)
	CancelOrder(ctx context.Context, id, symbol string) error
	FetchOrder(ctx context.Context, id, symbol string) (domain.Order, error)

	WatchTicker(ctx context.Context, symbol string) (<-chan Ticker, error)
	WatchOrderBook(ctx context.Context, symbol string, depth int) (<-chan OrderBook, error)
	WatchTrades(ctx context.Context, symbol string) (<-chan domain.Fill, error)
	WatchOHLCV(ctx context.Context, symbol, interval string) (<-chan domain.Bar, error)
}

// Default suspension-point deadlines per spec.md §5.
const (
	DefaultWebhookTimeout  = 5 * time.Second
	DefaultExchangeTimeout = 10 * time.Second
	DefaultWSReconnect     = 30 * time.Second
)
