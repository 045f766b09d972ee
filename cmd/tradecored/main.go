// Package main is tradecored's entrypoint: the long-running process that
// boots either a backtest run or the live control plane, generalizing the
// teacher's main.go boot sequence (load env, build Config, wire
// broker/model/trader, serve /healthz and /metrics, run the selected mode,
// shut down gracefully) to tradecore's multi-symbol, multi-mode surface.
//
// Boot sequence:
//  1. config.Load()            – .env + TRADECORE_* env vars
//  2. config.LoadRiskLimits()  – risk-limits YAML (best-effort; zero limits
//     disable their rules if the file is absent)
//  3. wire cache/alert/risk/controlplane per mode
//  4. serve /healthz and /metrics on cfg.HTTPPort
//  5. run backtest.Run or live.Start+Session.Run based on cfg.Mode
//  6. graceful HTTP shutdown on SIGINT/SIGTERM
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/algotrade/tradecore/internal/alert"
	"github.com/algotrade/tradecore/internal/backtest"
	"github.com/algotrade/tradecore/internal/cache"
	"github.com/algotrade/tradecore/internal/config"
	"github.com/algotrade/tradecore/internal/controlplane"
	"github.com/algotrade/tradecore/internal/datafeed"
	"github.com/algotrade/tradecore/internal/domain"
	"github.com/algotrade/tradecore/internal/execution"
	"github.com/algotrade/tradecore/internal/live"
	"github.com/algotrade/tradecore/internal/monitor"
	"github.com/algotrade/tradecore/internal/risk"
	"github.com/algotrade/tradecore/internal/strategy"
	"github.com/algotrade/tradecore/internal/telemetry"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

func main() {
	var csvBacktest string
	var modeOverride string
	flag.StringVar(&csvBacktest, "backtest-csv", "", "Path to CSV (time,open,high,low,close,volume) to backtest instead of the configured store")
	flag.StringVar(&modeOverride, "mode", "", "Override TRADECORE_MODE (backtest|live)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if modeOverride != "" {
		cfg.Mode = modeOverride
	}

	limits, err := config.LoadRiskLimits(cfg.RiskLimitsFile)
	if err != nil {
		log.Warn().Err(err).Str("file", cfg.RiskLimitsFile).Msg("risk limits file not loaded; rules default to disabled")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.Handle("/metrics", telemetry.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.HTTPPort), Handler: mux}
	go func() {
		log.Info().Int("port", cfg.HTTPPort).Msg("serving /healthz and /metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	switch cfg.Mode {
	case "backtest":
		runBacktestMode(ctx, cfg, csvBacktest)
	case "live":
		runLiveMode(ctx, cfg, limits)
	default:
		log.Fatal().Str("mode", cfg.Mode).Msg("unknown mode, want backtest or live")
	}

	shutdownCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
	defer c()
	_ = srv.Shutdown(shutdownCtx)
}

func runBacktestMode(ctx context.Context, cfg config.Config, csvPath string) {
	var store datafeed.HistoricalStore
	switch {
	case csvPath != "":
		store = &datafeed.CSVStore{Path: csvPath, Symbol: firstOr(cfg.Symbols, "BTC-USD")}
	case cfg.PostgresDSN != "":
		pg, err := datafeed.NewPostgresStore(cfg.PostgresDSN, "ohlcv")
		if err != nil {
			log.Fatal().Err(err).Msg("open postgres store")
		}
		defer pg.Close()
		store = pg
	default:
		log.Fatal().Msg("backtest mode needs -backtest-csv or TRADECORE_POSTGRES_DSN")
	}

	bc := backtest.DefaultConfig()
	bc.Symbols = cfg.Symbols
	bc.Timeframe = cfg.Granularity
	bc.InitialCapital = cfg.InitialCapital
	bc.Thresholds = strategy.Thresholds{Buy: cfg.BuyThreshold, Sell: cfg.SellThreshold, UseMAFilter: cfg.UseMAFilter}
	bc.Router = strategy.RouterConfig{Mode: strategy.SizingPercentOfEquity, RiskPerTradePct: cfg.RiskPerTradePct, ExchangeMinQty: cfg.OrderMinUSD}
	bc.Sim = execution.SimConfig{
		SlippageRate:   decimalFromPct(cfg.FeeRatePct),
		CommissionRate: decimalFromPct(cfg.FeeRatePct),
	}
	bc.Start = time.Unix(0, 0).UTC()
	bc.End = time.Now().UTC()

	result, err := backtest.Run(ctx, store, bc)
	if err != nil {
		log.Fatal().Err(err).Msg("backtest run")
	}

	log.Info().
		Int("orders", len(result.Orders)).
		Int("fills", len(result.Fills)).
		Float64("total_return", result.Stats.TotalReturn).
		Float64("sharpe", result.Stats.Sharpe).
		Float64("max_drawdown", result.Stats.MaxDrawdown).
		Float64("win_rate", result.Stats.WinRate).
		Msg("backtest complete")
}

func runLiveMode(ctx context.Context, cfg config.Config, limits domain.RiskLimitsConfig) {
	if cfg.BridgeURL == "" {
		log.Fatal().Msg("live mode needs TRADECORE_BRIDGE_URL")
	}

	cacheClient := cache.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPrefix)
	alerts := alert.New(cacheClient, cfg.AlertWebhookURL)
	if cfg.PostgresDSN != "" {
		archiver, err := alert.NewArchiver(cfg.PostgresDSN)
		if err != nil {
			log.Warn().Err(err).Msg("alert archiver: postgres unavailable, alerts will not be durably archived")
		} else {
			alerts = alerts.WithArchiver(archiver)
		}
	}
	engine := risk.NewEngine(risk.DefaultRules())
	cp := controlplane.New(engine, alerts, limits)

	ex := execution.NewResilient(execution.NewBridgeExchange("coinbase", cfg.BridgeURL), "coinbase-bridge")
	liveCfg := live.Config{
		Symbols:    cfg.Symbols,
		Timeframe:  cfg.Granularity,
		WarmupBars: 350,
		RingSize:   256,
		Thresholds: strategy.Thresholds{Buy: cfg.BuyThreshold, Sell: cfg.SellThreshold, UseMAFilter: cfg.UseMAFilter},
		Router:     strategy.RouterConfig{Mode: strategy.SizingPercentOfEquity, RiskPerTradePct: cfg.RiskPerTradePct, ExchangeMinQty: cfg.OrderMinUSD},
		UserID:     "default",
	}

	session, err := live.Start(ctx, liveCfg, ex, cfg.InitialCapital, cp)
	if err != nil {
		log.Fatal().Err(err).Msg("start live session")
	}

	mon := monitor.New(
		monitor.Config{
			PositionCheckInterval: cfg.PositionCheckInterval,
			PnLCheckInterval:      cfg.PnLCheckInterval,
			AlertCooldown:         cfg.AlertCooldown,
			Limits:                limits,
		},
		live.NewMonitorAdapter(cp),
		alerts,
		cp,
	)
	go mon.Run(ctx)

	if err := session.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("live session ended with error")
	}
}

func firstOr(xs []string, def string) string {
	if len(xs) == 0 {
		return def
	}
	return xs[0]
}

// decimalFromPct converts a percent value (e.g. 0.3 meaning 0.3%) to its
// fractional decimal form (0.003), matching the teacher's FEE_RATE_PCT env
// convention in config.go.
func decimalFromPct(pct float64) decimal.Decimal {
	return decimal.NewFromFloat(pct).Div(decimal.NewFromInt(100))
}
