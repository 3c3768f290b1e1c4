package pool

import (
	"time"

	"go.uber.org/zap"

	"github.com/arbiterlabs/arbiter/internal/backtest"
	"github.com/arbiterlabs/arbiter/internal/detector"
	"github.com/arbiterlabs/arbiter/pkg/fabric"
	"github.com/arbiterlabs/arbiter/pkg/types"
)

// takenRecord keeps the opportunity and evaluation of a taken entry so the
// execution ack can be replayed into the weight loop after the entry has
// left the pool.
type takenRecord struct {
	opp  *detector.Opportunity
	eval Evaluation
}

// noteTaken remembers a taken entry until its execution ack arrives.
func (p *Pool) noteTaken(opp *detector.Opportunity, eval Evaluation) {
	p.takenMu.Lock()
	p.takenLedger[opp.ID] = takenRecord{opp: opp, eval: eval}
	// The ledger is bounded by pruning entries whose deadline passed long ago.
	if len(p.takenLedger) > 4*p.config.Capacity {
		cutoff := time.Now().Add(-time.Minute)
		for id, rec := range p.takenLedger {
			if rec.opp.Deadline.Before(cutoff) {
				delete(p.takenLedger, id)
			}
		}
	}
	p.takenMu.Unlock()
}

// ackLoop consumes execution acks and feeds them back into the weight loop.
func (p *Pool) ackLoop(ch <-chan fabric.Envelope) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case env, ok := <-ch:
			if !ok {
				return
			}
			result, ok := env.Payload.(*types.ExecutionResult)
			if !ok {
				continue
			}

			p.takenMu.Lock()
			rec, found := p.takenLedger[result.OpportunityID]
			delete(p.takenLedger, result.OpportunityID)
			p.takenMu.Unlock()

			if found {
				p.RecordExecution(result, rec.opp, rec.eval)
			} else {
				p.RecordExecution(result, nil, Evaluation{})
			}
		}
	}
}

// RecordExecution feeds one terminal execution result back into the weight
// loop. Recording is idempotent per execution UUID; every BacktestEvery
// results the engine recomputes weights and the pool swaps them atomically.
func (p *Pool) RecordExecution(result *types.ExecutionResult, opp *detector.Opportunity, eval Evaluation) {
	if result.ExecutionID == "" {
		return
	}
	if _, dup := p.seenExec.LoadOrStore(result.ExecutionID, struct{}{}); dup {
		FeedbackDuplicatesTotal.Inc()
		return
	}

	record := backtest.Record{
		OpportunityID:  result.OpportunityID,
		ExecutionID:    result.ExecutionID,
		Kind:           result.StrategyKind,
		ExpectedProfit: result.ExpectedProfit.Float(),
		ActualProfit:   result.RealizedPnL,
		LatencyMs:      float64(result.Latency.Milliseconds()),
		Success:        result.Success(),
		FailureReason:  result.FailureReason,
	}
	if opp != nil {
		record.Scores = components(opp, eval, opp.DetectedAt)
	}
	p.engine.Record(record)
	FeedbackRecordsTotal.WithLabelValues(string(result.Status)).Inc()

	n := p.recorded.Add(1)
	every := uint64(p.config.BacktestEvery)
	if every == 0 || n%every != 0 {
		return
	}

	start := time.Now()
	next := p.engine.Recompute(p.Weights())
	p.SetWeights(next)
	p.logger.Info("scoring-weights-adapted",
		zap.Uint64("records", n),
		zap.Duration("recompute-duration", time.Since(start)),
		zap.Float64("w-profit", next.Profit),
		zap.Float64("w-latency", next.Latency))
}
