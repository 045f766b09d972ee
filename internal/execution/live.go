package execution

import (
	"context"
	"errors"

	"github.com/algotrade/tradecore/internal/domain"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// DefaultOrderRateLimit bounds outgoing order submissions per exchange,
// the per-exchange serialization spec.md §5 calls for so a burst of signals
// across a user's symbols never exceeds what the exchange itself tolerates.
const (
	DefaultOrderRateLimit = rate.Limit(10) // orders/sec
	DefaultOrderBurst     = 20
)

// Live is the C4 live variant: an adapter over the Exchange capability with
// retry/backoff, a circuit breaker, and a per-exchange rate limiter,
// grounded on the teacher's Broker interface usage in trader.go (every
// broker call site) generalized to the richer Exchange surface.
type Live struct {
	ex      Exchange
	cb      *gobreaker.CircuitBreaker
	retry   RetryConfig
	limiter *rate.Limiter
}

// NewLive wraps ex with a per-exchange circuit breaker and rate limiter,
// both named/scoped after exchangeName.
func NewLive(ex Exchange, exchangeName string) *Live {
	return &Live{
		ex:      ex,
		cb:      NewCircuitBreaker(exchangeName),
		retry:   DefaultRetryConfig,
		limiter: rate.NewLimiter(DefaultOrderRateLimit, DefaultOrderBurst),
	}
}

// Submit places order with idempotencyKey, waiting on the per-exchange rate
// limiter before dispatch and retrying transient failures. Non-retryable
// exchange errors are surfaced directly as exchange_rejected; retry-budget
// exhaustion is surfaced as exchange_timeout (spec.md §7).
func (l *Live) Submit(ctx context.Context, order domain.Order, idempotencyKey string) (domain.Order, *domain.Error) {
	if err := l.limiter.Wait(ctx); err != nil {
		order.Status = domain.OrderRejected
		return order, domain.NewError(domain.ErrExchangeTimeout, "rate limiter wait: "+err.Error()).WithDetail("order_id", order.ID)
	}
	result, err := WithRetry(ctx, l.cb, l.retry, func(ctx context.Context) (any, error) {
		return l.ex.CreateOrder(ctx, order, idempotencyKey)
	})
	if err != nil {
		var retryable Retryable
		if ctx.Err() != nil || errors.As(err, &retryable) {
			order.Status = domain.OrderRejected
			return order, domain.NewError(domain.ErrExchangeTimeout, "retry budget exhausted").WithDetail("order_id", order.ID)
		}
		order.Status = domain.OrderRejected
		return order, domain.NewError(domain.ErrExchangeRejected, err.Error()).WithDetail("order_id", order.ID)
	}
	ack := result.(ExchangeOrder)
	order.ID = ack.ID
	order.Status = ack.Status
	return order, nil
}

// Cancel requests cancellation; idempotent per spec.md §5 (duplicate cancel
// requests are no-ops at the Exchange layer already).
func (l *Live) Cancel(ctx context.Context, orderID, symbol string) *domain.Error {
	_, err := WithRetry(ctx, l.cb, l.retry, func(ctx context.Context) (any, error) {
		return nil, l.ex.CancelOrder(ctx, orderID, symbol)
	})
	if err != nil {
		return domain.NewError(domain.ErrExchangeRejected, err.Error()).WithDetail("order_id", orderID)
	}
	return nil
}

// Reconcile fetches the authoritative order state from the exchange — the
// mechanism spec.md §7 calls for when an order's status went "unknown"
// after exchange_timeout.
func (l *Live) Reconcile(ctx context.Context, orderID, symbol string) (domain.Order, error) {
	return l.ex.FetchOrder(ctx, orderID, symbol)
}

// Resilient adapts Live back to the full Exchange interface: CreateOrder and
// CancelOrder route through the retry/circuit-breaker path, every other
// method (market data, watch-streams) passes straight through to the
// wrapped Exchange untouched. This is what internal/controlplane registers
// a user's book against in live mode, so every submit/cancel a strategy
// issues gets the resilience Live provides without the control plane having
// to know about retries or breaker state at all.
type Resilient struct {
	*Live
	Exchange
}

// NewResilient builds a Resilient exchange over ex, named for its circuit
// breaker's metrics/logging.
func NewResilient(ex Exchange, exchangeName string) *Resilient {
	return &Resilient{Live: NewLive(ex, exchangeName), Exchange: ex}
}

func (r *Resilient) CreateOrder(ctx context.Context, o domain.Order, idempotencyKey string) (ExchangeOrder, error) {
	order, domErr := r.Live.Submit(ctx, o, idempotencyKey)
	if domErr != nil {
		return ExchangeOrder{}, domErr
	}
	return ExchangeOrder{ID: order.ID, Status: order.Status}, nil
}

func (r *Resilient) CancelOrder(ctx context.Context, id, symbol string) error {
	if domErr := r.Live.Cancel(ctx, id, symbol); domErr != nil {
		return domErr
	}
	return nil
}

func (r *Resilient) FetchOrder(ctx context.Context, id, symbol string) (domain.Order, error) {
	return r.Live.Reconcile(ctx, id, symbol)
}
