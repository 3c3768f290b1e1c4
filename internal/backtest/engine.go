// Package backtest closes the feedback loop between execution outcomes and
// the opportunity pool's scoring weights. The pool records results; the
// engine periodically recomputes a weight tuple which the pool swaps in
// atomically. There is no shared ownership in the other direction.
package backtest

import (
	"sync"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/arbiterlabs/arbiter/pkg/types"
)

// Weights is the composite-score weight tuple. Components sum to 1.
type Weights struct {
	Profit     float64
	Liquidity  float64
	Latency    float64
	Confidence float64
	RiskInv    float64
	Freshness  float64
}

// Normalize rescales the tuple to sum to 1.
func (w Weights) Normalize() Weights {
	sum := w.Profit + w.Liquidity + w.Latency + w.Confidence + w.RiskInv + w.Freshness
	if sum <= 0 {
		return Weights{Profit: 1}
	}
	return Weights{
		Profit:     w.Profit / sum,
		Liquidity:  w.Liquidity / sum,
		Latency:    w.Latency / sum,
		Confidence: w.Confidence / sum,
		RiskInv:    w.RiskInv / sum,
		Freshness:  w.Freshness / sum,
	}
}

// ComponentScores are the normalized score components an opportunity carried
// at admission, replayed here against its realized outcome.
type ComponentScores struct {
	Profit     float64
	Liquidity  float64
	Latency    float64
	Confidence float64
	RiskInv    float64
	Freshness  float64
}

// Record is one execution outcome with the path actually executed.
type Record struct {
	OpportunityID  string
	ExecutionID    string
	Kind           types.StrategyKind
	ExpectedProfit float64
	ActualProfit   float64
	LatencyMs      float64
	Success        bool
	FailureReason  string
	Scores         ComponentScores
}

// outcome is the realized performance signal: profit capture ratio for
// successes, zero for failures.
func (r Record) outcome() float64 {
	if !r.Success || r.ExpectedProfit <= 0 {
		return 0
	}
	ratio := r.ActualProfit / r.ExpectedProfit
	if ratio < 0 {
		return 0
	}
	if ratio > 2 {
		ratio = 2
	}
	return ratio
}

// Engine recomputes weights from recorded outcomes: each component's weight
// moves with the correlation between that component's admission score and the
// realized outcome, clamped to configured bounds and renormalized.
type Engine struct {
	logger *zap.Logger

	learningRate float64
	minWeight    float64
	maxWeight    float64

	mu      sync.Mutex
	history []Record
	maxHist int
}

// Config holds engine tuning.
type Config struct {
	LearningRate float64 // default 0.2
	MinWeight    float64 // default 0.02
	MaxWeight    float64 // default 0.6
	MaxHistory   int     // default 1000
	Logger       *zap.Logger
}

// NewEngine creates a weight-recomputation engine.
func NewEngine(cfg Config) *Engine {
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = 0.2
	}
	if cfg.MinWeight <= 0 {
		cfg.MinWeight = 0.02
	}
	if cfg.MaxWeight <= 0 {
		cfg.MaxWeight = 0.6
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = 1000
	}
	return &Engine{
		logger:       cfg.Logger,
		learningRate: cfg.LearningRate,
		minWeight:    cfg.MinWeight,
		maxWeight:    cfg.MaxWeight,
		maxHist:      cfg.MaxHistory,
	}
}

// Record appends one outcome to the rolling history.
func (e *Engine) Record(r Record) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.history = append(e.history, r)
	if len(e.history) > e.maxHist {
		e.history = e.history[len(e.history)-e.maxHist:]
	}
	RecordsTotal.Inc()
}

// SuccessRate returns the fraction of successful records in the history.
func (e *Engine) SuccessRate() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.history) == 0 {
		return 0.5
	}
	ok := 0
	for _, r := range e.history {
		if r.Success {
			ok++
		}
	}
	return float64(ok) / float64(len(e.history))
}

// Recompute derives a new weight tuple from the recorded history. With fewer
// than 20 records the current weights are returned unchanged.
func (e *Engine) Recompute(current Weights) Weights {
	e.mu.Lock()
	records := make([]Record, len(e.history))
	copy(records, e.history)
	e.mu.Unlock()

	if len(records) < 20 {
		return current
	}

	outcomes := make([]float64, len(records))
	components := map[string][]float64{
		"profit":     make([]float64, len(records)),
		"liquidity":  make([]float64, len(records)),
		"latency":    make([]float64, len(records)),
		"confidence": make([]float64, len(records)),
		"risk_inv":   make([]float64, len(records)),
		"freshness":  make([]float64, len(records)),
	}
	for i, r := range records {
		outcomes[i] = r.outcome()
		components["profit"][i] = r.Scores.Profit
		components["liquidity"][i] = r.Scores.Liquidity
		components["latency"][i] = r.Scores.Latency
		components["confidence"][i] = r.Scores.Confidence
		components["risk_inv"][i] = r.Scores.RiskInv
		components["freshness"][i] = r.Scores.Freshness
	}

	adjust := func(w float64, series []float64) float64 {
		corr := stat.Correlation(series, outcomes, nil)
		if corr != corr { // NaN when a series is constant
			return clamp(w, e.minWeight, e.maxWeight)
		}
		return clamp(w*(1+e.learningRate*corr), e.minWeight, e.maxWeight)
	}

	next := Weights{
		Profit:     adjust(current.Profit, components["profit"]),
		Liquidity:  adjust(current.Liquidity, components["liquidity"]),
		Latency:    adjust(current.Latency, components["latency"]),
		Confidence: adjust(current.Confidence, components["confidence"]),
		RiskInv:    adjust(current.RiskInv, components["risk_inv"]),
		Freshness:  adjust(current.Freshness, components["freshness"]),
	}.Normalize()

	RecomputationsTotal.Inc()
	e.logger.Info("weights-recomputed",
		zap.Int("records", len(records)),
		zap.Float64("w-profit", next.Profit),
		zap.Float64("w-liquidity", next.Liquidity),
		zap.Float64("w-latency", next.Latency),
		zap.Float64("w-confidence", next.Confidence),
		zap.Float64("w-risk", next.RiskInv),
		zap.Float64("w-freshness", next.Freshness))

	return next
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
