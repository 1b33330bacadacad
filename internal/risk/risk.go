// Package risk enforces loss limits, position sizing rules and the emergency
// stop over a live or simulated portfolio.
package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	pterrors "github.com/powertraderai/powertrader/pkg/errors"
	"github.com/powertraderai/powertrader/pkg/metrics"
)

// Limits bounds portfolio exposure. Ratios are fractions of portfolio value.
type Limits struct {
	MaxDailyLoss         float64 `mapstructure:"max_daily_loss" yaml:"max_daily_loss"`
	MaxWeeklyLoss        float64 `mapstructure:"max_weekly_loss" yaml:"max_weekly_loss"`
	MaxMonthlyLoss       float64 `mapstructure:"max_monthly_loss" yaml:"max_monthly_loss"`
	MaxAnnualLoss        float64 `mapstructure:"max_annual_loss" yaml:"max_annual_loss"`
	MaxPositionSize      float64 `mapstructure:"max_position_size" yaml:"max_position_size"`
	MaxLeverage          float64 `mapstructure:"max_leverage" yaml:"max_leverage"`
	MaxVolatility        float64 `mapstructure:"max_volatility" yaml:"max_volatility"`
	MaxConsecutiveLosses int     `mapstructure:"max_consecutive_losses" yaml:"max_consecutive_losses"`
}

func DefaultLimits() Limits {
	return Limits{
		MaxDailyLoss:         0.02,
		MaxWeeklyLoss:        0.05,
		MaxMonthlyLoss:       0.10,
		MaxAnnualLoss:        0.20,
		MaxPositionSize:      0.10,
		MaxLeverage:          2.0,
		MaxVolatility:        0.40,
		MaxConsecutiveLosses: 5,
	}
}

// AlertLevel orders alerts by urgency.
type AlertLevel string

const (
	AlertWarning   AlertLevel = "WARNING"
	AlertCritical  AlertLevel = "CRITICAL"
	AlertEmergency AlertLevel = "EMERGENCY"
)

type Alert struct {
	Level     AlertLevel `json:"level"`
	Metric    string     `json:"metric"`
	Value     float64    `json:"value"`
	Threshold float64    `json:"threshold"`
	Message   string     `json:"message"`
	Timestamp time.Time  `json:"timestamp"`
}

// threshold ladders: warning, critical, emergency.
var (
	drawdownLadder   = [3]float64{0.03, 0.05, 0.08}
	volatilityLadder = [3]float64{0.25, 0.40, 0.60}
	leverageLadder   = [3]float64{1.5, 2.0, 2.5}
)

const maxAlerts = 256

// Snapshot is the portfolio state the monitor evaluates each tick.
type Snapshot struct {
	PortfolioValue float64
	DailyPnL       float64
	Drawdown       float64
	Volatility     float64
	Leverage       float64
}

// MetricsProvider supplies live portfolio state to the monitor loop.
type MetricsProvider interface {
	RiskSnapshot() Snapshot
}

// Manager tracks loss streaks and drawdown, validates trades before they are
// routed, and trips the emergency stop when thresholds are breached.
type Manager struct {
	logger *zap.Logger
	limits Limits

	mu                sync.RWMutex
	emergencyStop     bool
	stopReason        string
	tradingHalted     bool
	haltReason        string
	consecutiveLosses int
	alerts            []Alert
	interval          time.Duration
	stopHooks         []func(reason string, alerts []Alert)
}

func NewManager(limits Limits, interval time.Duration, logger *zap.Logger) *Manager {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		logger:   logger.Named("risk"),
		limits:   limits,
		interval: interval,
	}
}

func (m *Manager) Limits() Limits { return m.limits }

// ValidateTrade rejects a trade that would breach position sizing or an
// active emergency stop. notional and portfolioValue share a currency.
func (m *Manager) ValidateTrade(notional, portfolioValue decimal.Decimal) error {
	m.mu.RLock()
	stopped, reason := m.emergencyStop, m.stopReason
	halted, haltReason := m.tradingHalted, m.haltReason
	losses := m.consecutiveLosses
	m.mu.RUnlock()

	if stopped {
		return pterrors.NewTradingError("emergency stop active: " + reason)
	}
	if halted {
		return pterrors.NewTradingError("trading halted: " + haltReason)
	}
	if losses >= m.limits.MaxConsecutiveLosses {
		return pterrors.NewTradingError(
			fmt.Sprintf("trading paused after %d consecutive losses", losses))
	}
	if !notional.IsPositive() {
		return pterrors.NewValidationError("notional", "must be positive")
	}
	if !portfolioValue.IsPositive() {
		return pterrors.NewTradingError("portfolio value is not positive")
	}

	maxNotional := portfolioValue.Mul(decimal.NewFromFloat(m.limits.MaxPositionSize))
	if notional.GreaterThan(maxNotional) {
		return pterrors.NewTradingError(fmt.Sprintf(
			"position %s exceeds %.0f%% of portfolio (max %s)",
			notional.StringFixed(2), m.limits.MaxPositionSize*100, maxNotional.StringFixed(2)))
	}
	return nil
}

// PositionSize returns the largest allowed notional for a new position: the
// most conservative of the caller's risk-per-trade fraction, the position
// cap and the daily loss budget. riskPerTrade <= 0 falls back to the cap.
func (m *Manager) PositionSize(portfolioValue decimal.Decimal, riskPerTrade float64) decimal.Decimal {
	if !portfolioValue.IsPositive() {
		return decimal.Zero
	}
	fraction := m.limits.MaxPositionSize
	if riskPerTrade > 0 && riskPerTrade < fraction {
		fraction = riskPerTrade
	}
	if m.limits.MaxDailyLoss > 0 && m.limits.MaxDailyLoss < fraction {
		fraction = m.limits.MaxDailyLoss
	}
	return portfolioValue.Mul(decimal.NewFromFloat(fraction))
}

// RecordTradeResult feeds realized PnL into the loss-streak counter.
func (m *Manager) RecordTradeResult(pnl decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pnl.IsNegative() {
		m.consecutiveLosses++
		if m.consecutiveLosses >= m.limits.MaxConsecutiveLosses {
			m.raiseLocked(AlertCritical, "consecutive_losses",
				float64(m.consecutiveLosses), float64(m.limits.MaxConsecutiveLosses),
				"loss streak limit reached")
		}
	} else if pnl.IsPositive() {
		m.consecutiveLosses = 0
	}
}

// OnEmergencyStop registers a hook fired once when the stop trips, used to
// cancel resting orders and persist an emergency snapshot.
func (m *Manager) OnEmergencyStop(hook func(reason string, alerts []Alert)) {
	m.mu.Lock()
	m.stopHooks = append(m.stopHooks, hook)
	m.mu.Unlock()
}

// EmergencyStop halts all trading. Idempotent: the first reason wins.
func (m *Manager) EmergencyStop(reason string) {
	m.mu.Lock()
	if m.emergencyStop {
		m.mu.Unlock()
		return
	}
	m.emergencyStop = true
	m.stopReason = reason
	m.raiseLocked(AlertEmergency, "emergency_stop", 1, 1, reason)
	m.logger.Error("emergency stop engaged", zap.String("reason", reason))
	m.fireStopHooksLocked(reason)
	m.mu.Unlock()
}

// fireStopHooksLocked snapshots state under the lock and runs hooks outside
// the critical path.
func (m *Manager) fireStopHooksLocked(reason string) {
	if len(m.stopHooks) == 0 {
		return
	}
	alerts := make([]Alert, len(m.alerts))
	copy(alerts, m.alerts)
	hooks := make([]func(string, []Alert), len(m.stopHooks))
	copy(hooks, m.stopHooks)
	go func() {
		for _, hook := range hooks {
			hook(reason, alerts)
		}
	}()
}

// Reset clears the emergency stop and any trading halt. Emergency stops
// require manualOverride so a monitor tick cannot silently resume trading.
func (m *Manager) Reset(manualOverride bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.emergencyStop && !m.tradingHalted {
		return nil
	}
	if m.emergencyStop && !manualOverride {
		return pterrors.NewTradingError("emergency stop reset requires manual override")
	}
	m.emergencyStop = false
	m.stopReason = ""
	m.tradingHalted = false
	m.haltReason = ""
	m.consecutiveLosses = 0
	m.logger.Warn("risk state reset, trading resumed")
	return nil
}

func (m *Manager) Stopped() (bool, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.emergencyStop, m.stopReason
}

// Halted reports whether a critical alert has paused trading short of a full
// emergency stop.
func (m *Manager) Halted() (bool, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tradingHalted, m.haltReason
}

// Alerts returns recent alerts, newest last.
func (m *Manager) Alerts() []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Alert, len(m.alerts))
	copy(out, m.alerts)
	return out
}

// Evaluate checks one snapshot against every ladder and the daily loss limit.
// An emergency-level breach trips the stop.
func (m *Manager) Evaluate(snap Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ladderLocked("drawdown", snap.Drawdown, drawdownLadder)
	m.ladderLocked("volatility", snap.Volatility, volatilityLadder)
	m.ladderLocked("leverage", snap.Leverage, leverageLadder)

	if snap.PortfolioValue > 0 {
		lossRatio := -snap.DailyPnL / snap.PortfolioValue
		if lossRatio >= m.limits.MaxDailyLoss {
			m.raiseLocked(AlertEmergency, "daily_loss", lossRatio, m.limits.MaxDailyLoss,
				"daily loss limit breached")
		}
	}
}

func (m *Manager) ladderLocked(metric string, value float64, ladder [3]float64) {
	switch {
	case value >= ladder[2]:
		m.raiseLocked(AlertEmergency, metric, value, ladder[2], metric+" above emergency threshold")
	case value >= ladder[1]:
		m.raiseLocked(AlertCritical, metric, value, ladder[1], metric+" above critical threshold")
	case value >= ladder[0]:
		m.raiseLocked(AlertWarning, metric, value, ladder[0], metric+" above warning threshold")
	}
}

func (m *Manager) raiseLocked(level AlertLevel, metric string, value, threshold float64, message string) {
	alert := Alert{
		Level:     level,
		Metric:    metric,
		Value:     value,
		Threshold: threshold,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
	m.alerts = append(m.alerts, alert)
	if len(m.alerts) > maxAlerts {
		m.alerts = m.alerts[len(m.alerts)-maxAlerts:]
	}
	metrics.RiskAlerts.WithLabelValues(string(level)).Inc()

	m.logger.Warn("risk alert",
		zap.String("level", string(level)),
		zap.String("metric", metric),
		zap.Float64("value", value),
		zap.Float64("threshold", threshold))

	switch {
	case level == AlertEmergency && !m.emergencyStop && metric != "emergency_stop":
		m.emergencyStop = true
		m.stopReason = message
		m.logger.Error("emergency stop engaged", zap.String("reason", message))
		m.fireStopHooksLocked(message)
	case level == AlertCritical && !m.tradingHalted:
		m.tradingHalted = true
		m.haltReason = message
		m.logger.Error("trading halted", zap.String("reason", message))
	}
}

// Monitor polls the provider on the configured interval until ctx is done.
func (m *Manager) Monitor(ctx context.Context, provider MetricsProvider) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Evaluate(provider.RiskSnapshot())
		}
	}
}
