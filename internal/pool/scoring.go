package pool

import (
	"time"

	"github.com/arbiterlabs/arbiter/internal/backtest"
	"github.com/arbiterlabs/arbiter/internal/detector"
)

// Priority classes attach an execution-urgency multiplier to the composite
// score.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Multiplier returns the score multiplier for a priority class.
func (p Priority) Multiplier() float64 {
	switch p {
	case PriorityCritical:
		return 2.0
	case PriorityHigh:
		return 1.5
	case PriorityLow:
		return 0.7
	default:
		return 1.0
	}
}

// Evaluation is attached at pool admission. All scores live in [0,1].
type Evaluation struct {
	Priority        Priority
	Liquidity       float64
	Risk            float64
	Confidence      float64
	ExpectedDelayMs float64
}

// evaluate derives an Evaluation from the opportunity's observable shape:
// slippage stands in for liquidity, leg count and outsized spreads raise
// risk, and the delay estimate scales with legs.
func evaluate(opp *detector.Opportunity) Evaluation {
	liquidity := clamp01(1 - opp.SlippageBps/20)

	risk := 0.15 * float64(len(opp.Legs)-1)
	if opp.NetProfitBps > 200 {
		// Spreads this wide usually mean a stale or toxic quote.
		risk += 0.3
	}
	risk = clamp01(risk)

	confidence := clamp01(0.5 + liquidity/2 - risk/4)

	priority := PriorityLow
	switch {
	case opp.NetProfitBps >= 100:
		priority = PriorityCritical
	case opp.NetProfitBps >= 50:
		priority = PriorityHigh
	case opp.NetProfitBps >= 20:
		priority = PriorityMedium
	}

	return Evaluation{
		Priority:        priority,
		Liquidity:       liquidity,
		Risk:            risk,
		Confidence:      confidence,
		ExpectedDelayMs: 150 * float64(len(opp.Legs)),
	}
}

// components normalizes the score inputs: profit caps at 1 when profit
// reaches 1% of capital, latency_norm falls to 0 at 1s, risk inverts, and
// freshness decays linearly to 0 at the deadline.
func components(opp *detector.Opportunity, eval Evaluation, now time.Time) backtest.ComponentScores {
	profitNorm := clamp01(opp.ProfitRatio() / 0.01)
	latencyNorm := 1 - clamp01(eval.ExpectedDelayMs/1000)

	freshness := 0.0
	if total := opp.Deadline.Sub(opp.DetectedAt); total > 0 {
		freshness = clamp01(opp.Deadline.Sub(now).Seconds() / total.Seconds())
	}

	return backtest.ComponentScores{
		Profit:     profitNorm,
		Liquidity:  eval.Liquidity,
		Latency:    latencyNorm,
		Confidence: eval.Confidence,
		RiskInv:    1 - eval.Risk,
		Freshness:  freshness,
	}
}

// score is the composite ordering key.
func score(c backtest.ComponentScores, w backtest.Weights, priority Priority) float64 {
	s := c.Profit*w.Profit +
		c.Liquidity*w.Liquidity +
		c.Latency*w.Latency +
		c.Confidence*w.Confidence +
		c.RiskInv*w.RiskInv +
		c.Freshness*w.Freshness
	return s * priority.Multiplier()
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
