// Package main is tradecorectl, the operator CLI for a colocated tradecored
// deployment: it links the same internal packages the daemon uses (risk
// engine, alert store, backtest runner) rather than calling out over a wire
// protocol, since spec.md's Non-goals explicitly leave "the shape of REST
// endpoints" unspecified — this CLI exercises the control-plane operations
// as a library, the way the teacher's single main.go drives everything
// in-process. Built with spf13/cobra + spf13/pflag, grounded on
// NimbleMarkets-dbn-go's cmd/dbn-go-hist rootCmd/AddCommand structure.
package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/algotrade/tradecore/internal/alert"
	"github.com/algotrade/tradecore/internal/backtest"
	"github.com/algotrade/tradecore/internal/cache"
	"github.com/algotrade/tradecore/internal/config"
	"github.com/algotrade/tradecore/internal/datafeed"
	"github.com/algotrade/tradecore/internal/domain"
	"github.com/algotrade/tradecore/internal/execution"
	"github.com/algotrade/tradecore/internal/risk"
	"github.com/algotrade/tradecore/internal/strategy"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "tradecorectl",
	Short: "Operator CLI for tradecore: risk checks, backtests, alert review",
}

// --- risk-check ---------------------------------------------------------

var (
	riskLimitsFile string
	riskSymbol     string
	riskSide       string
	riskQuantity   string
	riskPrice      string
	riskLeverage   float64
)

var riskCheckCmd = &cobra.Command{
	Use:   "risk-check",
	Short: "Evaluate one hypothetical order against a risk-limits YAML file",
	RunE: func(cmd *cobra.Command, args []string) error {
		limits, err := config.LoadRiskLimits(riskLimitsFile)
		if err != nil {
			return fmt.Errorf("load risk limits: %w", err)
		}
		qty, err := decimal.NewFromString(riskQuantity)
		if err != nil {
			return fmt.Errorf("parse --quantity: %w", err)
		}
		price, err := decimal.NewFromString(riskPrice)
		if err != nil {
			return fmt.Errorf("parse --price: %w", err)
		}

		engine := risk.NewEngine(risk.DefaultRules())
		report := engine.Evaluate(risk.Context{
			UserID:        "tradecorectl",
			Symbol:        riskSymbol,
			Side:          domain.Side(riskSide),
			Quantity:      qty,
			Price:         price,
			Leverage:      riskLeverage,
			TotalEquity:   decimal.NewFromInt(100000),
			InitialEquity: decimal.NewFromInt(100000),
			PeakEquity:    decimal.NewFromInt(100000),
			CurrentEquity: decimal.NewFromInt(100000),
			Now:           time.Now().UTC(),
			Limits:        limits,
		})

		if report.Valid {
			fmt.Printf("VALID  level=%s rules_run=%v\n", report.Level, report.RulesRun)
			return nil
		}
		fmt.Printf("REJECTED by=%s level=%s reason=%q rules_run=%v\n",
			report.RejectedBy, report.Level, report.Reason, report.RulesRun)
		return nil
	},
}

func init() {
	riskCheckCmd.Flags().StringVar(&riskLimitsFile, "limits", "risk_limits.yaml", "Path to RiskLimitsConfig YAML")
	riskCheckCmd.Flags().StringVar(&riskSymbol, "symbol", "BTC-USD", "Order symbol")
	riskCheckCmd.Flags().StringVar(&riskSide, "side", "buy", "buy|sell")
	riskCheckCmd.Flags().StringVar(&riskQuantity, "quantity", "1", "Order quantity")
	riskCheckCmd.Flags().StringVar(&riskPrice, "price", "50000", "Reference/limit price")
	riskCheckCmd.Flags().Float64Var(&riskLeverage, "leverage", 1.0, "Requested leverage")
	rootCmd.AddCommand(riskCheckCmd)
}

// --- backtest ------------------------------------------------------------

var (
	btCSVPath   string
	btSymbol    string
	btCapital   string
	btFeeRate   float64
)

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Run a backtest against a CSV bar file and print its statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		capital, err := decimal.NewFromString(btCapital)
		if err != nil {
			return fmt.Errorf("parse --capital: %w", err)
		}
		store := &datafeed.CSVStore{Path: btCSVPath, Symbol: btSymbol}

		bc := backtest.DefaultConfig()
		bc.Symbols = []string{btSymbol}
		bc.InitialCapital = capital
		bc.Thresholds = strategy.DefaultThresholds
		bc.Router = strategy.RouterConfig{Mode: strategy.SizingPercentOfEquity, RiskPerTradePct: decimal.NewFromFloat(0.0025)}
		bc.Sim = execution.SimConfig{
			SlippageRate:   decimal.NewFromFloat(btFeeRate / 100),
			CommissionRate: decimal.NewFromFloat(btFeeRate / 100),
		}
		bc.Start = time.Unix(0, 0).UTC()
		bc.End = time.Now().UTC()

		result, err := backtest.Run(context.Background(), store, bc)
		if err != nil {
			return fmt.Errorf("backtest: %w", err)
		}

		fmt.Printf("train_bars=%d test_bars=%d orders=%d fills=%d\n",
			result.TrainBars, result.TestBars, len(result.Orders), len(result.Fills))
		fmt.Printf("total_return=%.4f annual_return=%.4f sharpe=%.4f sortino=%.4f calmar=%.4f\n",
			result.Stats.TotalReturn, result.Stats.AnnualReturn, result.Stats.Sharpe, result.Stats.Sortino, result.Stats.Calmar)
		fmt.Printf("max_drawdown=%.4f win_rate=%.4f profit_factor=%.4f trades=%d\n",
			result.Stats.MaxDrawdown, result.Stats.WinRate, result.Stats.ProfitFactor, result.Stats.TotalTrades)
		return nil
	},
}

func init() {
	backtestCmd.Flags().StringVar(&btCSVPath, "csv", "", "Path to CSV bar file (required)")
	backtestCmd.Flags().StringVar(&btSymbol, "symbol", "BTC-USD", "Symbol the CSV represents")
	backtestCmd.Flags().StringVar(&btCapital, "capital", "10000", "Initial capital")
	backtestCmd.Flags().Float64Var(&btFeeRate, "fee-pct", 0.1, "Commission/slippage rate, percent of notional")
	_ = backtestCmd.MarkFlagRequired("csv")
	rootCmd.AddCommand(backtestCmd)
}

// --- alerts ---------------------------------------------------------------

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Inspect alerts persisted by a running tradecored",
}

var (
	alertsUser     string
	alertsPage     int
	alertsPageSize int
)

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a user's alerts, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cacheClient := cache.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPrefix)
		defer cacheClient.Close()
		store := alert.New(cacheClient, cfg.AlertWebhookURL)

		page, err := store.List(context.Background(), alertsUser, alertsPage, alertsPageSize, nil)
		if err != nil {
			return fmt.Errorf("list alerts: %w", err)
		}
		fmt.Printf("user=%s total=%d page=%d/%d\n", alertsUser, page.Total, page.Page, pageCount(page.Total, page.PageSize))
		for _, a := range page.Alerts {
			ack := " "
			if a.Acknowledged {
				ack = "x"
			}
			fmt.Printf("[%s] %s  %-10s %-8s %s\n", ack, a.Timestamp.Format(time.RFC3339), a.Type, a.Level, a.Message)
		}
		return nil
	},
}

func pageCount(total int64, size int) int64 {
	if size <= 0 {
		return 0
	}
	n := total / int64(size)
	if total%int64(size) != 0 {
		n++
	}
	return n
}

func init() {
	alertsListCmd.Flags().StringVar(&alertsUser, "user", "", "User id (required)")
	alertsListCmd.Flags().IntVar(&alertsPage, "page", 1, "Page number, 1-indexed")
	alertsListCmd.Flags().IntVar(&alertsPageSize, "page-size", 20, "Page size")
	_ = alertsListCmd.MarkFlagRequired("user")
	alertsCmd.AddCommand(alertsListCmd)
	rootCmd.AddCommand(alertsCmd)
}

// --- backfill --------------------------------------------------------------

var (
	backfillVenue     string
	backfillURL       string
	backfillSymbol    string
	backfillTimeframe string
	backfillLimit     int
	backfillPages     int
	backfillOut       string
)

// backfillCmd fetches a bridge sidecar's /candles endpoint into one
// ascending CSV, grounded on the teacher's tools/backfill_bridge.go and
// tools/backfill_bridge_paged.go, rebuilt on internal/execution's
// BridgeExchange instead of a bespoke HTTP client. BridgeExchange.FetchOHLCV
// takes no end time, so every one of the --pages requests asks for the same
// most recent --limit candles; bars are deduplicated by timestamp, and extra
// pages add no older history.
var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Fetch a bridge sidecar's recent OHLCV candles into a CSV file for backtesting",
	RunE: func(cmd *cobra.Command, args []string) error {
		ex := execution.NewBridgeExchange(backfillVenue, backfillURL)
		if err := ex.Connect(context.Background()); err != nil {
			return fmt.Errorf("connect to %s: %w", backfillURL, err)
		}

		seen := make(map[int64]domain.Bar)
		for p := 0; p < backfillPages; p++ {
			bars, err := ex.FetchOHLCV(context.Background(), backfillSymbol, backfillTimeframe, backfillLimit)
			if err != nil {
				return fmt.Errorf("page %d: %w", p, err)
			}
			if len(bars) == 0 {
				break
			}
			for _, b := range bars {
				seen[b.Timestamp.Unix()] = b
			}
		}

		out := make([]domain.Bar, 0, len(seen))
		for _, b := range seen {
			out = append(out, b)
		}
		sortBarsAscending(out)

		return writeBarsCSV(backfillOut, out)
	},
}

func init() {
	backfillCmd.Flags().StringVar(&backfillVenue, "venue", "coinbase", "Venue label for logging/circuit-breaker naming")
	backfillCmd.Flags().StringVar(&backfillURL, "url", "http://127.0.0.1:8787", "Bridge sidecar base URL")
	backfillCmd.Flags().StringVar(&backfillSymbol, "symbol", "BTC-USD", "Product/symbol id")
	backfillCmd.Flags().StringVar(&backfillTimeframe, "granularity", "ONE_MINUTE", "Bridge granularity string")
	backfillCmd.Flags().IntVar(&backfillLimit, "limit", 300, "Candles per page")
	backfillCmd.Flags().IntVar(&backfillPages, "pages", 1, "Number of pages to fetch")
	backfillCmd.Flags().StringVar(&backfillOut, "out", "data/backfill.csv", "Output CSV path")
	rootCmd.AddCommand(backfillCmd)
}

func sortBarsAscending(bars []domain.Bar) {
	sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
}

func writeBarsCSV(path string, bars []domain.Bar) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write([]string{"time", "open", "high", "low", "close", "volume"}); err != nil {
		return err
	}
	for _, b := range bars {
		row := []string{
			b.Timestamp.UTC().Format(time.RFC3339),
			b.Open.String(), b.High.String(), b.Low.String(), b.Close.String(), b.Volume.String(),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}
