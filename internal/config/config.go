// Package config loads tradecore's runtime configuration: a .env file via
// godotenv (generalizing the teacher's loadBotEnv, minus its hand-rolled
// line scanner) feeding viper-bound environment variables, plus a YAML risk
// limits file for domain.RiskLimitsConfig, generalized from the teacher's
// Config struct (config.go/env.go) and its getEnv*/ helpers.
package config

import (
	"os"
	"time"

	"github.com/algotrade/tradecore/internal/domain"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds every runtime knob tradecore reads at startup, the
// generalization of the teacher's Config (ProductID/Granularity/DryRun/...)
// to a multi-symbol, multi-mode (backtest|live) trading platform.
type Config struct {
	Mode        string // "backtest" | "live"
	Symbols     []string
	Granularity string

	DryRun      bool
	InitialCapital decimal.Decimal
	OrderMinUSD decimal.Decimal
	LongOnly    bool
	FeeRatePct  float64

	BuyThreshold  float64
	SellThreshold float64
	UseMAFilter   bool

	RiskPerTradePct decimal.Decimal

	HTTPPort int
	BridgeURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	PostgresDSN string

	AlertWebhookURL string

	PositionCheckInterval time.Duration
	PnLCheckInterval      time.Duration
	AlertCooldown         time.Duration

	RiskLimitsFile string
}

// Load reads .env (best-effort — it's fine if the file doesn't exist) then
// binds every known key through viper with the teacher's defaults
// generalized to tradecore's surface.
func Load() (Config, error) {
	_ = godotenv.Load(".env", "../.env")

	v := viper.New()
	v.SetEnvPrefix("TRADECORE")
	v.AutomaticEnv()

	v.SetDefault("mode", "backtest")
	v.SetDefault("symbols", []string{"BTC-USD"})
	v.SetDefault("granularity", "ONE_MINUTE")
	v.SetDefault("dry_run", true)
	v.SetDefault("initial_capital", "10000")
	v.SetDefault("order_min_usd", "5.00")
	v.SetDefault("long_only", true)
	v.SetDefault("fee_rate_pct", 0.3)
	v.SetDefault("buy_threshold", 0.55)
	v.SetDefault("sell_threshold", 0.45)
	v.SetDefault("use_ma_filter", true)
	v.SetDefault("risk_per_trade_pct", "0.0025")
	v.SetDefault("http_port", 8080)
	v.SetDefault("bridge_url", "http://127.0.0.1:8787")
	v.SetDefault("redis_addr", "127.0.0.1:6379")
	v.SetDefault("redis_db", 0)
	v.SetDefault("redis_prefix", "tradecore:")
	v.SetDefault("postgres_dsn", "")
	v.SetDefault("alert_webhook_url", "")
	v.SetDefault("position_check_interval", "5s")
	v.SetDefault("pnl_check_interval", "10s")
	v.SetDefault("alert_cooldown", "5m")
	v.SetDefault("risk_limits_file", "risk_limits.yaml")

	cfg := Config{
		Mode:                  v.GetString("mode"),
		Symbols:               v.GetStringSlice("symbols"),
		Granularity:           v.GetString("granularity"),
		DryRun:                v.GetBool("dry_run"),
		InitialCapital:        mustDecimal(v.GetString("initial_capital")),
		OrderMinUSD:           mustDecimal(v.GetString("order_min_usd")),
		LongOnly:              v.GetBool("long_only"),
		FeeRatePct:            v.GetFloat64("fee_rate_pct"),
		BuyThreshold:          v.GetFloat64("buy_threshold"),
		SellThreshold:         v.GetFloat64("sell_threshold"),
		UseMAFilter:           v.GetBool("use_ma_filter"),
		RiskPerTradePct:       mustDecimal(v.GetString("risk_per_trade_pct")),
		HTTPPort:              v.GetInt("http_port"),
		BridgeURL:             v.GetString("bridge_url"),
		RedisAddr:             v.GetString("redis_addr"),
		RedisPassword:         v.GetString("redis_password"),
		RedisDB:               v.GetInt("redis_db"),
		RedisPrefix:           v.GetString("redis_prefix"),
		PostgresDSN:           v.GetString("postgres_dsn"),
		AlertWebhookURL:       v.GetString("alert_webhook_url"),
		PositionCheckInterval: v.GetDuration("position_check_interval"),
		PnLCheckInterval:      v.GetDuration("pnl_check_interval"),
		AlertCooldown:         v.GetDuration("alert_cooldown"),
		RiskLimitsFile:        v.GetString("risk_limits_file"),
	}
	return cfg, nil
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// riskLimitsYAML mirrors domain.RiskLimitsConfig with string-encoded
// decimals, since gopkg.in/yaml.v3 has no native decimal.Decimal support.
type riskLimitsYAML struct {
	MaxPositionPerSymbol   string  `yaml:"max_position_per_symbol"`
	MaxTotalPosition       string  `yaml:"max_total_position"`
	MaxConcentration       float64 `yaml:"max_concentration"`
	MaxOrderSize           string  `yaml:"max_order_size"`
	MinOrderSize           string  `yaml:"min_order_size"`
	MaxDailyLossAbs        string  `yaml:"max_daily_loss_abs"`
	MaxDailyLossPct        float64 `yaml:"max_daily_loss_pct"`
	MaxDrawdownPct         float64 `yaml:"max_drawdown_pct"`
	MaxLeverage            float64 `yaml:"max_leverage"`
	MaxOrdersPerMinute     int     `yaml:"max_orders_per_minute"`
	MaxOrdersPerMinuteSym  int     `yaml:"max_orders_per_minute_symbol"`
	EmergencyStopEnabled   bool    `yaml:"emergency_stop_enabled"`
	EmergencyStopDrawdown  float64 `yaml:"emergency_stop_drawdown"`
	EmergencyStopDailyLoss string  `yaml:"emergency_stop_daily_loss"`
}

// LoadRiskLimits reads a YAML risk-limits file into domain.RiskLimitsConfig.
// Missing numeric/decimal fields default to zero, which the risk engine's
// rules treat as "this check is disabled."
func LoadRiskLimits(path string) (domain.RiskLimitsConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.RiskLimitsConfig{}, err
	}
	var y riskLimitsYAML
	if err := yaml.Unmarshal(raw, &y); err != nil {
		return domain.RiskLimitsConfig{}, err
	}
	return domain.RiskLimitsConfig{
		MaxPositionPerSymbol:   mustDecimal(y.MaxPositionPerSymbol),
		MaxTotalPosition:       mustDecimal(y.MaxTotalPosition),
		MaxConcentration:       y.MaxConcentration,
		MaxOrderSize:           mustDecimal(y.MaxOrderSize),
		MinOrderSize:           mustDecimal(y.MinOrderSize),
		MaxDailyLossAbs:        mustDecimal(y.MaxDailyLossAbs),
		MaxDailyLossPct:        y.MaxDailyLossPct,
		MaxDrawdownPct:         y.MaxDrawdownPct,
		MaxLeverage:            y.MaxLeverage,
		MaxOrdersPerMinute:     y.MaxOrdersPerMinute,
		MaxOrdersPerMinuteSym:  y.MaxOrdersPerMinuteSym,
		EmergencyStopEnabled:   y.EmergencyStopEnabled,
		EmergencyStopDrawdown:  y.EmergencyStopDrawdown,
		EmergencyStopDailyLoss: mustDecimal(y.EmergencyStopDailyLoss),
	}, nil
}
