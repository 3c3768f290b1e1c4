package risk

import (
	"context"

	"go.uber.org/zap"

	"github.com/arbiterlabs/arbiter/internal/detector"
	"github.com/arbiterlabs/arbiter/pkg/fabric"
	"github.com/arbiterlabs/arbiter/pkg/types"
)

// pendingExposure tracks capital reserved at approval, released on the ack.
type pendingExposure struct {
	kind    types.StrategyKind
	capital float64
}

// Serve answers risk.request traffic and consumes execution acks. A single
// loop serializes decisions, which also serializes decisions for
// opportunities sharing a fingerprint.
func (c *Controller) Serve(ctx context.Context) error {
	requests := c.fabric.Subscribe(fabric.TopicRiskRequest)
	acks := c.fabric.Subscribe(fabric.TopicExecutionAck)

	c.pendingMu.Lock()
	if c.pending == nil {
		c.pending = make(map[string]pendingExposure)
	}
	c.pendingMu.Unlock()

	c.serveWG.Add(1)
	go func() {
		defer c.serveWG.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case env, ok := <-requests:
				if !ok {
					return
				}
				opp, ok := env.Payload.(*detector.Opportunity)
				if !ok {
					continue
				}

				decision := c.Evaluate(ctx, opp)
				if decision.Approved {
					capital := opp.RequiredCapital.Float()
					c.AddExposure(opp.Kind, capital)
					c.pendingMu.Lock()
					c.pending[opp.ID] = pendingExposure{kind: opp.Kind, capital: capital}
					c.pendingMu.Unlock()
				}

				if err := c.fabric.Reply(ctx, env, &decision); err != nil {
					c.logger.Warn("risk-reply-failed",
						zap.String("opportunity-id", opp.ID), zap.Error(err))
				}
			case env, ok := <-acks:
				if !ok {
					return
				}
				result, ok := env.Payload.(*types.ExecutionResult)
				if !ok {
					continue
				}

				c.RecordResult(ctx, result)

				c.pendingMu.Lock()
				if p, exists := c.pending[result.OpportunityID]; exists {
					delete(c.pending, result.OpportunityID)
					c.pendingMu.Unlock()
					c.ReleaseExposure(p.kind, p.capital)
				} else {
					c.pendingMu.Unlock()
				}
			}
		}
	}()

	return nil
}

// WaitServe blocks until the serve loop exits.
func (c *Controller) WaitServe() { c.serveWG.Wait() }
