// Package risk gates every opportunity against PnL, failure-streak,
// exposure, and market-condition policies, and owns the process-wide
// emergency-stop latch.
package risk

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/arbiterlabs/arbiter/internal/detector"
	"github.com/arbiterlabs/arbiter/pkg/fabric"
	"github.com/arbiterlabs/arbiter/pkg/types"
)

// Decision is the controller's verdict for one opportunity. A rejected
// opportunity always carries size zero.
type Decision struct {
	Approved  bool    `json:"approved"`
	SizeRatio float64 `json:"size_ratio"`
	Reason    string  `json:"reason"`
	RiskScore float64 `json:"risk_score"`
}

// Snapshot is one observability record; the controller keeps the last 1,000.
type Snapshot struct {
	Time                time.Time `json:"time"`
	DayPnL              float64   `json:"day_pnl"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	RiskScore           float64   `json:"risk_score"`
	EmergencyStopped    bool      `json:"emergency_stopped"`
	Reason              string    `json:"reason,omitempty"`
}

// Weights are the composite risk-score component weights.
type Weights struct {
	Volatility float64
	Liquidity  float64
	Timing     float64
	Execution  float64
	Pressure   float64
}

// Config holds risk controller configuration.
type Config struct {
	MaxDailyLoss          float64
	MaxConsecutiveFails   int
	ExposureCap           float64
	ApprovalCeiling       float64
	CountPartialAsFailure bool
	Weights               Weights
	Logger                *zap.Logger
}

// Controller is the dynamic risk controller. PnL and exposure accounting use
// decimals; the emergency latch is a single atomic with release/acquire
// semantics.
type Controller struct {
	logger *zap.Logger
	config Config
	fabric *fabric.Fabric

	emergency atomic.Bool

	mu        sync.Mutex
	dayPnL    decimal.Decimal
	failures  int
	exposure  map[types.StrategyKind]decimal.Decimal
	seenExec  map[string]struct{}
	snapshots []Snapshot
	snapHead  int

	pendingMu sync.Mutex
	pending   map[string]pendingExposure
	serveWG   sync.WaitGroup

	marketState atomic.Pointer[types.MarketState]
}

const snapshotRing = 1000

// New creates a controller.
func New(cfg Config, bus *fabric.Fabric) *Controller {
	c := &Controller{
		logger:    cfg.Logger,
		config:    cfg,
		fabric:    bus,
		exposure:  make(map[types.StrategyKind]decimal.Decimal),
		seenExec:  make(map[string]struct{}),
		snapshots: make([]Snapshot, 0, snapshotRing),
	}
	state := types.MarketStateNormal
	c.marketState.Store(&state)
	return c
}

// SetMarketState swaps the regime input used by the volatility component.
func (c *Controller) SetMarketState(state types.MarketState) {
	c.marketState.Store(&state)
}

// EmergencyStopped reports the latch, lock-free.
func (c *Controller) EmergencyStopped() bool { return c.emergency.Load() }

// Evaluate runs the ordered gates. The first failing gate wins.
func (c *Controller) Evaluate(ctx context.Context, opp *detector.Opportunity) Decision {
	start := time.Now()
	defer func() {
		EvaluationDurationSeconds.Observe(time.Since(start).Seconds())
	}()

	// Gate 1: latch.
	if c.emergency.Load() {
		return c.reject("emergency_stop_latched", 0)
	}

	c.mu.Lock()
	dayPnL, _ := c.dayPnL.Float64()
	failures := c.failures
	exposure, _ := c.exposure[opp.Kind].Float64()
	c.mu.Unlock()

	// Gate 2: daily loss. Breaching it latches the stop.
	if dayPnL < -c.config.MaxDailyLoss {
		c.TriggerEmergencyStop(ctx, "daily loss limit breached")
		return c.reject("daily_loss_exceeded", 1)
	}

	// Gate 3: failure streak. Breaching it latches the stop.
	if failures >= c.config.MaxConsecutiveFails {
		c.TriggerEmergencyStop(ctx, "consecutive failure cap reached")
		return c.reject("failure_streak", 1)
	}

	// Gate 4: per-strategy exposure.
	capital := opp.RequiredCapital.Float()
	if exposure+capital > c.config.ExposureCap {
		return c.reject("exposure_cap", 0)
	}

	// Gate 5: composite risk vs approval ceiling.
	riskScore := c.riskScore(opp, dayPnL, failures)
	RiskScoreGauge.Set(riskScore)
	if riskScore > c.config.ApprovalCeiling {
		return c.reject("risk_above_ceiling", riskScore)
	}

	// Approve with size = (1 − risk) · min(profit_ratio, 2)/2 in [0.1, 1].
	size := (1 - riskScore) * minFloat(opp.ProfitRatio(), 2) / 2
	if size < 0.1 {
		size = 0.1
	}
	if size > 1 {
		size = 1
	}

	DecisionsTotal.WithLabelValues("approved").Inc()
	c.record(riskScore, "")
	return Decision{Approved: true, SizeRatio: size, RiskScore: riskScore}
}

// riskScore combines the weighted components, each in [0,1].
func (c *Controller) riskScore(opp *detector.Opportunity, dayPnL float64, failures int) float64 {
	w := c.config.Weights

	volatility := 0.2
	switch *c.marketState.Load() {
	case types.MarketStateCautious:
		volatility = 0.5
	case types.MarketStateExtreme:
		volatility = 0.9
	}

	liquidity := clamp01(opp.SlippageBps / 20)
	timing := clamp01(150 * float64(len(opp.Legs)) / 1000)
	execution := clamp01(float64(failures) / float64(c.config.MaxConsecutiveFails))

	pressure := 0.0
	if dayPnL < 0 {
		pressure = clamp01(-dayPnL / c.config.MaxDailyLoss)
	}

	return clamp01(w.Volatility*volatility +
		w.Liquidity*liquidity +
		w.Timing*timing +
		w.Execution*execution +
		w.Pressure*pressure)
}

// RecordResult updates PnL, failure streak, and exposure from a terminal
// execution. Duplicate execution UUIDs update PnL exactly once.
func (c *Controller) RecordResult(ctx context.Context, result *types.ExecutionResult) {
	c.mu.Lock()
	if _, dup := c.seenExec[result.ExecutionID]; dup {
		c.mu.Unlock()
		DuplicateResultsTotal.Inc()
		return
	}
	c.seenExec[result.ExecutionID] = struct{}{}

	c.dayPnL = c.dayPnL.Add(decimal.NewFromFloat(result.RealizedPnL))

	failed := false
	switch result.Status {
	case types.ExecutionCompleted:
		c.failures = 0
	case types.ExecutionPartial:
		if c.config.CountPartialAsFailure {
			c.failures++
			failed = true
		}
	default:
		c.failures++
		failed = true
	}

	dayPnL, _ := c.dayPnL.Float64()
	failures := c.failures
	c.mu.Unlock()

	DayPnLGauge.Set(dayPnL)
	FailureStreakGauge.Set(float64(failures))
	ResultsTotal.WithLabelValues(string(result.Status)).Inc()

	c.logger.Info("execution-result-recorded",
		zap.String("execution-id", result.ExecutionID),
		zap.String("status", string(result.Status)),
		zap.Float64("realized-pnl", result.RealizedPnL),
		zap.Float64("day-pnl", dayPnL),
		zap.Int("failure-streak", failures))

	if failed && failures >= c.config.MaxConsecutiveFails {
		c.TriggerEmergencyStop(ctx, "consecutive failure cap reached")
	}
	if dayPnL < -c.config.MaxDailyLoss {
		c.TriggerEmergencyStop(ctx, "daily loss limit breached")
	}
}

// AddExposure reserves capital for an in-flight execution.
func (c *Controller) AddExposure(kind types.StrategyKind, capital float64) {
	c.mu.Lock()
	c.exposure[kind] = c.exposure[kind].Add(decimal.NewFromFloat(capital))
	exp, _ := c.exposure[kind].Float64()
	c.mu.Unlock()
	ExposureGauge.WithLabelValues(string(kind)).Set(exp)
}

// ReleaseExposure frees capital when an execution reaches a terminal state.
func (c *Controller) ReleaseExposure(kind types.StrategyKind, capital float64) {
	c.mu.Lock()
	c.exposure[kind] = c.exposure[kind].Sub(decimal.NewFromFloat(capital))
	if c.exposure[kind].IsNegative() {
		c.exposure[kind] = decimal.Zero
	}
	exp, _ := c.exposure[kind].Float64()
	c.mu.Unlock()
	ExposureGauge.WithLabelValues(string(kind)).Set(exp)
}

// ResetDay rolls the daily PnL window. Wired to a midnight schedule by the
// application.
func (c *Controller) ResetDay() {
	c.mu.Lock()
	c.dayPnL = decimal.Zero
	c.mu.Unlock()
	DayPnLGauge.Set(0)
	c.logger.Info("day-pnl-reset")
}

// DayPnL returns the current day PnL.
func (c *Controller) DayPnL() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, _ := c.dayPnL.Float64()
	return v
}

// Failures returns the current consecutive-failure streak.
func (c *Controller) Failures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures
}

// Snapshots returns a copy of the observability ring, newest last.
func (c *Controller) Snapshots() []Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Snapshot, len(c.snapshots))
	copy(out, c.snapshots[c.snapHead:])
	copy(out[len(c.snapshots)-c.snapHead:], c.snapshots[:c.snapHead])
	return out
}

func (c *Controller) reject(reason string, riskScore float64) Decision {
	DecisionsTotal.WithLabelValues(reason).Inc()
	c.record(riskScore, reason)
	return Decision{Approved: false, SizeRatio: 0, Reason: reason, RiskScore: riskScore}
}

func (c *Controller) record(riskScore float64, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	dayPnL, _ := c.dayPnL.Float64()
	snap := Snapshot{
		Time:                time.Now(),
		DayPnL:              dayPnL,
		ConsecutiveFailures: c.failures,
		RiskScore:           riskScore,
		EmergencyStopped:    c.emergency.Load(),
		Reason:              reason,
	}

	if len(c.snapshots) < snapshotRing {
		c.snapshots = append(c.snapshots, snap)
		return
	}
	c.snapshots[c.snapHead] = snap
	c.snapHead = (c.snapHead + 1) % snapshotRing
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
