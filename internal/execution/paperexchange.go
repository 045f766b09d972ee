package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/algotrade/tradecore/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaperExchange is an in-memory reference Exchange for dry-run/backtest use,
// adapted from the teacher's broker_paper.go PaperBroker: it simulates
// fills against the latest known price and never talks to a real venue.
type PaperExchange struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
	orders map[string]domain.Order
}

// NewPaperExchange constructs an empty paper exchange.
func NewPaperExchange() *PaperExchange {
	return &PaperExchange{
		prices: make(map[string]decimal.Decimal),
		orders: make(map[string]domain.Order),
	}
}

// SetPrice updates the last-known price used for simulated fills; callers
// feed this from the data feed's emitted bars.
func (p *PaperExchange) SetPrice(symbol string, price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[symbol] = price
}

func (p *PaperExchange) Connect(ctx context.Context) error { return nil }

func (p *PaperExchange) LoadMarkets(ctx context.Context) (map[string]MarketMeta, error) {
	return map[string]MarketMeta{}, nil
}

func (p *PaperExchange) FetchTicker(ctx context.Context, symbol string) (Ticker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	px, ok := p.prices[symbol]
	if !ok {
		return Ticker{}, fmt.Errorf("paperexchange: no price set for %s", symbol)
	}
	return Ticker{Symbol: symbol, Bid: px, Ask: px, Last: px}, nil
}

func (p *PaperExchange) FetchOrderBook(ctx context.Context, symbol string, depth int) (OrderBook, error) {
	return OrderBook{Symbol: symbol}, nil
}

func (p *PaperExchange) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Bar, error) {
	return nil, fmt.Errorf("paperexchange: no candle history (use a HistoricalStore)")
}

// CreateOrder fills market orders immediately at the last-known price;
// limit/stop orders are accepted in "submitted" state and must be resolved
// by the caller's own simulated matching (backtest path uses Simulated
// directly; this exists for live dry-run smoke tests).
func (p *PaperExchange) CreateOrder(ctx context.Context, o domain.Order, idempotencyKey string) (ExchangeOrder, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := o.ID
	if id == "" {
		id = uuid.New().String()
	}
	px, ok := p.prices[o.Symbol]
	if !ok {
		return ExchangeOrder{}, fmt.Errorf("paperexchange: no price set for %s", o.Symbol)
	}

	switch o.Type {
	case domain.OrderMarket:
		o.ID = id
		o.Status = domain.OrderFilled
		o.FilledQuantity = o.Quantity
		o.AverageFillPrice = px
		o.CreatedAt = time.Now().UTC()
		p.orders[id] = o
		return ExchangeOrder{ID: id, Status: domain.OrderFilled}, nil
	default:
		o.ID = id
		o.Status = domain.OrderSubmitted
		o.CreatedAt = time.Now().UTC()
		p.orders[id] = o
		return ExchangeOrder{ID: id, Status: domain.OrderSubmitted}, nil
	}
}

func (p *PaperExchange) CancelOrder(ctx context.Context, id, symbol string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[id]
	if !ok {
		return fmt.Errorf("paperexchange: unknown order %s", id)
	}
	if o.Status.Terminal() {
		return nil // idempotent: cancelling a terminal order is a no-op
	}
	o.Status = domain.OrderCancelled
	p.orders[id] = o
	return nil
}

func (p *PaperExchange) FetchOrder(ctx context.Context, id, symbol string) (domain.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[id]
	if !ok {
		return domain.Order{}, fmt.Errorf("paperexchange: unknown order %s", id)
	}
	return o, nil
}

func (p *PaperExchange) WatchTicker(ctx context.Context, symbol string) (<-chan Ticker, error) {
	return nil, fmt.Errorf("paperexchange: streaming not supported, use bar push")
}

func (p *PaperExchange) WatchOrderBook(ctx context.Context, symbol string, depth int) (<-chan OrderBook, error) {
	return nil, fmt.Errorf("paperexchange: streaming not supported")
}

func (p *PaperExchange) WatchTrades(ctx context.Context, symbol string) (<-chan domain.Fill, error) {
	return nil, fmt.Errorf("paperexchange: streaming not supported")
}

func (p *PaperExchange) WatchOHLCV(ctx context.Context, symbol, interval string) (<-chan domain.Bar, error) {
	return nil, fmt.Errorf("paperexchange: streaming not supported")
}
