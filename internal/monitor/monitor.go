// Package monitor implements the Position & P&L Monitor (C9): two
// ticker-driven loops that periodically scan live portfolios, recompute
// utilization metrics, raise deduplicated RiskAlerts, and trigger
// emergency_stop on critical breach. Grounded on
// original_source/.../monitors/position_monitor.py (_monitor_loop,
// _check_all_positions, _check_position_limits, _check_concentration,
// _save_snapshot).
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/algotrade/tradecore/internal/alert"
	"github.com/algotrade/tradecore/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// warnUtilization is the "warning threshold" spec.md §4.8 step 4 uses to
// decide whether a metric is alert-worthy at all (90% of its limit),
// mirroring the Python monitor's `* 0.9` checks.
const warnUtilization = 0.9

// UserPortfolio is the read-only view the monitor needs for one user's
// book: total notional exposure, per-symbol concentration, daily P&L and
// equity relative to its stored peak. Implementations adapt
// internal/portfolio.Portfolio (one per strategy) to a per-user aggregate.
type UserPortfolio interface {
	TotalPositionNotional(ctx context.Context, userID string) (decimal.Decimal, error)
	MaxSymbolConcentration(ctx context.Context, userID string) (symbol string, concentration float64, notional decimal.Decimal, err error)
	DailyPnL(ctx context.Context, userID string) (decimal.Decimal, error)
	PeakAndCurrentEquity(ctx context.Context, userID string) (peak, current decimal.Decimal, err error)
	Users(ctx context.Context) ([]string, error)
}

// Flattener executes an emergency stop for one user: cancel all open
// orders, flatten every non-flat position at market. Returns counts for the
// alert detail payload.
type Flattener interface {
	EmergencyStop(ctx context.Context, userID, reason string) (closedPositions, cancelledOrders int, err error)
}

// Config tunes loop intervals and emergency-stop thresholds, sourced from
// domain.RiskLimitsConfig plus the two check intervals spec.md §4.8 names.
type Config struct {
	PositionCheckInterval time.Duration // default 5s
	PnLCheckInterval      time.Duration // default 10s
	AlertCooldown         time.Duration // dedup window per (user, metric)
	Limits                domain.RiskLimitsConfig
}

// DefaultConfig mirrors the teacher's env-driven interval defaults.
func DefaultConfig(limits domain.RiskLimitsConfig) Config {
	return Config{
		PositionCheckInterval: 5 * time.Second,
		PnLCheckInterval:      10 * time.Second,
		AlertCooldown:         5 * time.Minute,
		Limits:                limits,
	}
}

// Monitor runs the two read-only scan loops. It never mutates portfolio
// state directly (spec.md §5): it only publishes alerts and emergency_stop
// commands via Flattener.
type Monitor struct {
	cfg        Config
	portfolios UserPortfolio
	alerts     *alert.Store
	flattener  Flattener

	mu       sync.Mutex
	lastSeen map[string]time.Time // (user|metric) -> last alert time, for cooldown dedup
}

// New constructs a Monitor.
func New(cfg Config, portfolios UserPortfolio, alerts *alert.Store, flattener Flattener) *Monitor {
	return &Monitor{
		cfg:        cfg,
		portfolios: portfolios,
		alerts:     alerts,
		flattener:  flattener,
		lastSeen:   make(map[string]time.Time),
	}
}

// Run starts both loops and blocks until ctx is cancelled. Errors and
// panics inside a single iteration are logged and never crash the loop; no
// alert is raised for them.
func (m *Monitor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		m.loop(ctx, "position", m.cfg.PositionCheckInterval, m.checkAllPositions)
	}()
	go func() {
		defer wg.Done()
		m.loop(ctx, "pnl", m.cfg.PnLCheckInterval, m.checkAllPnL)
	}()
	wg.Wait()
}

func (m *Monitor) loop(ctx context.Context, name string, interval time.Duration, iterate func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	log.Info().Str("monitor", name).Dur("interval", interval).Msg("monitor loop started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("monitor", name).Msg("monitor loop stopped")
			return
		case <-ticker.C:
			func() {
				defer func() {
					if r := recover(); r != nil {
						log.Error().Str("monitor", name).Interface("panic", r).Msg("monitor loop iteration panicked")
					}
				}()
				iterate(ctx)
			}()
		}
	}
}

func (m *Monitor) checkAllPositions(ctx context.Context) {
	users, err := m.portfolios.Users(ctx)
	if err != nil {
		log.Error().Err(err).Msg("position monitor: failed to enumerate users")
		return
	}
	for _, userID := range users {
		if err := m.checkUserPositions(ctx, userID); err != nil {
			log.Error().Err(err).Str("user_id", userID).Msg("position monitor: check failed")
		}
	}
}

func (m *Monitor) checkUserPositions(ctx context.Context, userID string) error {
	total, err := m.portfolios.TotalPositionNotional(ctx, userID)
	if err != nil {
		return err
	}
	symbol, concentration, maxNotional, err := m.portfolios.MaxSymbolConcentration(ctx, userID)
	if err != nil {
		return err
	}

	limits := m.cfg.Limits
	if limits.MaxPositionPerSymbol.GreaterThan(decimal.Zero) {
		util := ratio(maxNotional, limits.MaxPositionPerSymbol)
		if util >= warnUtilization {
			m.raise(ctx, userID, "position_per_symbol", domain.AlertPositionLimit, domain.RiskHigh,
				"position size warning for "+symbol, map[string]string{"symbol": symbol, "utilization": pct(util)})
		}
	}
	if limits.MaxTotalPosition.GreaterThan(decimal.Zero) {
		util := ratio(total, limits.MaxTotalPosition)
		if util >= warnUtilization {
			m.raise(ctx, userID, "position_total", domain.AlertPositionLimit, domain.RiskCritical,
				"total position limit warning", map[string]string{"utilization": pct(util)})
		}
	}
	if limits.MaxConcentration > 0 && concentration >= limits.MaxConcentration*warnUtilization {
		m.raise(ctx, userID, "position_concentration", domain.AlertPositionLimit, domain.RiskMedium,
			"position concentration warning for "+symbol, map[string]string{"symbol": symbol, "concentration": pct(concentration)})
	}
	return nil
}

func (m *Monitor) checkAllPnL(ctx context.Context) {
	users, err := m.portfolios.Users(ctx)
	if err != nil {
		log.Error().Err(err).Msg("pnl monitor: failed to enumerate users")
		return
	}
	for _, userID := range users {
		if err := m.checkUserPnL(ctx, userID); err != nil {
			log.Error().Err(err).Str("user_id", userID).Msg("pnl monitor: check failed")
		}
	}
}

func (m *Monitor) checkUserPnL(ctx context.Context, userID string) error {
	dailyPnL, err := m.portfolios.DailyPnL(ctx, userID)
	if err != nil {
		return err
	}
	peak, current, err := m.portfolios.PeakAndCurrentEquity(ctx, userID)
	if err != nil {
		return err
	}

	limits := m.cfg.Limits
	var drawdown float64
	if peak.GreaterThan(decimal.Zero) {
		drawdown = ratio(peak.Sub(current), peak)
	}

	dailyLossBreach := false
	if dailyPnL.IsNegative() {
		absLoss := dailyPnL.Abs()
		if limits.MaxDailyLossAbs.GreaterThan(decimal.Zero) && absLoss.GreaterThanOrEqual(limits.MaxDailyLossAbs) {
			dailyLossBreach = true
		}
	}
	drawdownBreach := limits.MaxDrawdownPct > 0 && drawdown >= limits.MaxDrawdownPct

	if dailyPnL.IsNegative() && limits.MaxDailyLossAbs.GreaterThan(decimal.Zero) {
		util := ratio(dailyPnL.Abs(), limits.MaxDailyLossAbs)
		if util >= warnUtilization {
			m.raise(ctx, userID, "daily_loss", domain.AlertDailyLossLimit, domain.RiskCritical,
				"daily loss limit warning", map[string]string{"daily_pnl": dailyPnL.String(), "utilization": pct(util)})
		}
	}
	if limits.MaxDrawdownPct > 0 {
		util := ratio(decimal.NewFromFloat(drawdown), decimal.NewFromFloat(limits.MaxDrawdownPct))
		if util >= warnUtilization {
			m.raise(ctx, userID, "drawdown", domain.AlertDrawdownLimit, domain.RiskCritical,
				"drawdown limit warning", map[string]string{"drawdown": pct(drawdown), "utilization": pct(util)})
		}
	}

	if limits.EmergencyStopEnabled {
		emergencyDrawdown := limits.EmergencyStopDrawdown > 0 && drawdown >= limits.EmergencyStopDrawdown
		emergencyLoss := limits.EmergencyStopDailyLoss.GreaterThan(decimal.Zero) && dailyPnL.IsNegative() && dailyPnL.Abs().GreaterThanOrEqual(limits.EmergencyStopDailyLoss)
		if (dailyLossBreach || drawdownBreach) && (emergencyDrawdown || emergencyLoss) {
			m.triggerEmergencyStop(ctx, userID, drawdown, dailyPnL)
		}
	}
	return nil
}

func (m *Monitor) triggerEmergencyStop(ctx context.Context, userID string, drawdown float64, dailyPnL decimal.Decimal) {
	reason := "drawdown/daily-loss threshold breached"
	closed, cancelled, err := m.flattener.EmergencyStop(ctx, userID, reason)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("emergency stop failed")
	}
	m.raise(ctx, userID, "emergency_stop", domain.AlertEmergencyStop, domain.RiskCritical,
		"emergency stop triggered: "+reason,
		map[string]string{
			"drawdown":          pct(drawdown),
			"daily_pnl":         dailyPnL.String(),
			"closed_positions":  itoa(closed),
			"cancelled_orders":  itoa(cancelled),
		})
}

// raise creates an alert unless one for the same (user, metric) was already
// raised within the cooldown window.
func (m *Monitor) raise(ctx context.Context, userID, metric string, typ domain.AlertType, level domain.RiskLevel, message string, details map[string]string) {
	dedupKey := userID + "|" + metric
	m.mu.Lock()
	last, seen := m.lastSeen[dedupKey]
	if seen && time.Since(last) < m.cfg.AlertCooldown {
		m.mu.Unlock()
		return
	}
	m.lastSeen[dedupKey] = time.Now()
	m.mu.Unlock()

	if _, err := m.alerts.Create(ctx, userID, typ, level, message, details); err != nil {
		log.Error().Err(err).Str("user_id", userID).Str("metric", metric).Msg("failed to create alert")
	}
}

func ratio(value, limit decimal.Decimal) float64 {
	if limit.IsZero() {
		return 0
	}
	f, _ := value.Div(limit).Float64()
	if f < 0 {
		f = -f
	}
	return f
}

func pct(f float64) string {
	return decimal.NewFromFloat(f).StringFixed(4)
}

func itoa(n int) string {
	return decimal.NewFromInt(int64(n)).String()
}
