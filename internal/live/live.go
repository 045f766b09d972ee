// Package live composes the streaming Data Feed (C2), Strategy Runtime +
// Router (C6/C7), the Risk Rule Engine-gated Control Plane (C8/C12), live
// Execution Engine (C4) and the Position & P&L Monitor (C9)/Alert Store
// (C10) into one real-time per-user trading loop, grounded on the teacher's
// runLive (live.go): warmup history fetch, model fit, then a cadence loop
// that feeds fresh candles through the same decision path as backtest.
// Unlike the teacher's single-symbol candle poll, each symbol here streams
// independently through the exchange's WatchOHLCV/WatchTrades channels.
package live

import (
	"context"
	"sync"
	"time"

	"github.com/algotrade/tradecore/internal/controlplane"
	"github.com/algotrade/tradecore/internal/datafeed"
	"github.com/algotrade/tradecore/internal/domain"
	"github.com/algotrade/tradecore/internal/execution"
	"github.com/algotrade/tradecore/internal/monitor"
	"github.com/algotrade/tradecore/internal/portfolio"
	"github.com/algotrade/tradecore/internal/strategy"
	"github.com/algotrade/tradecore/internal/telemetry"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Config tunes one user's live trading session.
type Config struct {
	UserID     string
	Symbols    []string
	Timeframe  string // passed to WatchOHLCV, e.g. "1m"
	WarmupBars int
	RingSize   int
	Thresholds strategy.Thresholds
	Router     strategy.RouterConfig
}

// Session owns one user's live loop: the warmed-up feed, fitted model,
// control-plane registration and the goroutines streaming each symbol.
type Session struct {
	cfg    Config
	cp     *controlplane.ControlPlane
	book   *portfolio.Portfolio
	ex     execution.Exchange
	feed   *datafeed.Feed
	strat  strategy.Strategy
	router *strategy.Router

	mu     sync.Mutex
	prices map[string]decimal.Decimal
}

// Start warms up history, fits the strategy's micro-model, registers the
// user with cp, and returns a Session ready to Run. ex should already be
// wrapped in execution.NewResilient for retry/circuit-breaker coverage.
func Start(ctx context.Context, cfg Config, ex execution.Exchange, initialCapital decimal.Decimal, cp *controlplane.ControlPlane) (*Session, error) {
	if cfg.WarmupBars <= 0 {
		cfg.WarmupBars = 350
	}
	if cfg.RingSize <= 0 {
		cfg.RingSize = 256
	}
	if cfg.Timeframe == "" {
		cfg.Timeframe = DefaultTimeframe
	}

	if err := ex.Connect(ctx); err != nil {
		return nil, err
	}

	feed := datafeed.NewLiveFeed(cfg.Symbols, cfg.RingSize)
	model := strategy.NewMicroModel(nil)

	for _, sym := range cfg.Symbols {
		fetchCtx, cancel := context.WithTimeout(ctx, WarmupTimeout)
		bars, err := ex.FetchOHLCV(fetchCtx, sym, cfg.Timeframe, cfg.WarmupBars)
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("symbol", sym).Msg("live warmup: FetchOHLCV failed, continuing without history")
			continue
		}
		for _, b := range bars {
			feed.Push(b)
		}
		closes := make([]float64, len(bars))
		for i, b := range bars {
			closes[i], _ = b.Close.Float64()
		}
		feats, labels := strategy.BuildTrainingSet(closes)
		model.Fit(feats, labels, 0.05, 4)
	}

	book := portfolio.New(cfg.UserID, initialCapital)
	cp.Register(cfg.UserID, book, ex)

	return &Session{
		cfg:    cfg,
		cp:     cp,
		book:   book,
		ex:     ex,
		feed:   feed,
		strat:  strategy.Default(model, cfg.Thresholds, cfg.RingSize),
		router: strategy.NewRouter(cfg.Router),
		prices: make(map[string]decimal.Decimal),
	}, nil
}

// Run streams every configured symbol until ctx is cancelled, fanning each
// symbol's WatchOHLCV/WatchTrades channels into the session's decision loop.
// One goroutine per symbol handles bars; a separate goroutine per symbol
// applies fills as they arrive, so a slow fill stream never blocks bar
// processing for other symbols.
func (s *Session) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(s.cfg.Symbols)*2)

	for _, sym := range s.cfg.Symbols {
		sym := sym
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.watchBars(ctx, sym); err != nil && ctx.Err() == nil {
				errCh <- err
			}
		}()

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.watchFills(ctx, sym); err != nil && ctx.Err() == nil {
				errCh <- err
			}
		}()
	}

	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return ctx.Err()
}

func (s *Session) watchBars(ctx context.Context, symbol string) error {
	ch, err := s.ex.WatchOHLCV(ctx, symbol, s.cfg.Timeframe)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case bar, ok := <-ch:
			if !ok {
				return nil
			}
			s.onBar(ctx, bar)
		}
	}
}

func (s *Session) watchFills(ctx context.Context, symbol string) error {
	ch, err := s.ex.WatchTrades(ctx, symbol)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case fill, ok := <-ch:
			if !ok {
				return nil
			}
			if domErr, err := s.book.ApplyFill(fill, portfolio.OversellReject); err != nil {
				log.Error().Err(err).Str("symbol", symbol).Msg("live: apply fill failed")
			} else if domErr != nil {
				log.Error().Str("reason", domErr.Error()).Str("symbol", symbol).Msg("live: fill rejected by portfolio")
			} else {
				telemetry.FillsTotal.WithLabelValues(fill.Symbol, string(fill.Side)).Inc()
			}
		}
	}
}

func (s *Session) onBar(ctx context.Context, bar domain.Bar) {
	s.feed.Push(bar)

	s.mu.Lock()
	s.prices[bar.Symbol] = bar.Close
	prices := make(map[string]decimal.Decimal, len(s.prices))
	for k, v := range s.prices {
		prices[k] = v
	}
	s.mu.Unlock()

	equity := s.book.MarkToMarket(prices)
	s.book.RecordEquity(bar.Timestamp)
	telemetry.EquityUSD.WithLabelValues(s.cfg.UserID).Set(equityFloat(equity))

	signals := s.strat([]domain.Bar{bar}, s.feed, s.book)
	for _, sig := range signals {
		if sig.Kind == domain.SignalHold {
			continue
		}
		telemetry.SignalsTotal.WithLabelValues(string(sig.Kind)).Inc()
		order, ok := s.router.Route(sig, bar.Close, equity)
		if !ok {
			continue
		}
		s.submit(ctx, *order)
	}
}

func (s *Session) submit(ctx context.Context, order domain.Order) {
	req := controlplane.OrderRequest{
		UserID:   s.cfg.UserID,
		Symbol:   order.Symbol,
		Side:     order.Side,
		Quantity: order.Quantity,
		Price:    order.LimitPrice,
		Type:     order.Type,
	}
	if req.Price.IsZero() {
		s.mu.Lock()
		req.Price = s.prices[order.Symbol]
		s.mu.Unlock()
	}

	submitted, report, err := s.cp.SubmitOrder(ctx, req)
	if err != nil {
		log.Warn().Err(err).Str("symbol", order.Symbol).Str("rule", report.RejectedBy).Msg("live: order rejected")
		return
	}
	telemetry.OrdersTotal.WithLabelValues("live", string(order.Side)).Inc()
	log.Info().Str("order_id", submitted.ID).Str("symbol", submitted.Symbol).Str("status", string(submitted.Status)).Msg("live: order submitted")
}

func equityFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// MonitorAdapter adapts a ControlPlane to monitor.UserPortfolio, feeding the
// Position & P&L Monitor (C9) from the same books the control plane trades
// against. Peak equity is tracked per user since spec.md's drawdown check
// needs it but the control plane itself doesn't retain a running peak
// beyond what it needs for risk-context building.
type MonitorAdapter struct {
	cp *controlplane.ControlPlane

	mu   sync.Mutex
	peak map[string]decimal.Decimal
}

// NewMonitorAdapter builds a MonitorAdapter over cp.
func NewMonitorAdapter(cp *controlplane.ControlPlane) *MonitorAdapter {
	return &MonitorAdapter{cp: cp, peak: make(map[string]decimal.Decimal)}
}

func (a *MonitorAdapter) Users(ctx context.Context) ([]string, error) {
	return a.cp.Users(), nil
}

func (a *MonitorAdapter) TotalPositionNotional(ctx context.Context, userID string) (decimal.Decimal, error) {
	p, err := a.cp.Portfolio(userID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, pos := range p.Positions() {
		total = total.Add(pos.Quantity.Mul(pos.CurrentPrice).Abs())
	}
	return total, nil
}

func (a *MonitorAdapter) MaxSymbolConcentration(ctx context.Context, userID string) (string, float64, decimal.Decimal, error) {
	p, err := a.cp.Portfolio(userID)
	if err != nil {
		return "", 0, decimal.Zero, err
	}
	equity := p.Equity()
	var bestSymbol string
	var bestNotional decimal.Decimal
	var bestConc float64
	for _, pos := range p.Positions() {
		notional := pos.Quantity.Mul(pos.CurrentPrice).Abs()
		if notional.GreaterThan(bestNotional) {
			bestNotional = notional
			bestSymbol = pos.Symbol
			if !equity.IsZero() {
				bestConc, _ = notional.Div(equity).Float64()
			}
		}
	}
	return bestSymbol, bestConc, bestNotional, nil
}

func (a *MonitorAdapter) DailyPnL(ctx context.Context, userID string) (decimal.Decimal, error) {
	p, err := a.cp.Portfolio(userID)
	if err != nil {
		return decimal.Zero, err
	}
	return p.RealizedPnL().Add(p.UnrealizedPnL()), nil
}

func (a *MonitorAdapter) PeakAndCurrentEquity(ctx context.Context, userID string) (decimal.Decimal, decimal.Decimal, error) {
	p, err := a.cp.Portfolio(userID)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	current := p.Equity()

	a.mu.Lock()
	defer a.mu.Unlock()
	peak, ok := a.peak[userID]
	if !ok || current.GreaterThan(peak) {
		peak = current
		a.peak[userID] = peak
	}
	return peak, current, nil
}

// A *controlplane.ControlPlane satisfies monitor.Flattener directly —
// ControlPlane.EmergencyStop already has the right signature, so no adapter
// type exists and these assertions document the binding: see cmd/tradecored
// for `monitor.New(cfg, adapter, alerts, cp)`.
var _ monitor.UserPortfolio = (*MonitorAdapter)(nil)
var _ monitor.Flattener = (*controlplane.ControlPlane)(nil)

// DefaultTimeframe is the WatchOHLCV interval used when Config.Timeframe is
// unset.
const DefaultTimeframe = "1m"

// WarmupTimeout bounds how long Start waits on FetchOHLCV before moving on
// without history for a symbol (better to trade cold than never start).
const WarmupTimeout = 10 * time.Second
