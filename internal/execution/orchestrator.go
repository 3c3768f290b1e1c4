// Package execution commits approved opportunities against real venues:
// idempotent per-leg submission in declared order, bounded status polling,
// timeout-cancel, and a single terminal ExecutionResult per attempt.
package execution

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arbiterlabs/arbiter/internal/detector"
	"github.com/arbiterlabs/arbiter/internal/exchange"
	"github.com/arbiterlabs/arbiter/internal/pool"
	"github.com/arbiterlabs/arbiter/internal/risk"
	"github.com/arbiterlabs/arbiter/pkg/fabric"
	"github.com/arbiterlabs/arbiter/pkg/fixed"
	"github.com/arbiterlabs/arbiter/pkg/types"
)

// Orchestrator drives the dispatch loop (take best → risk gate → intent) and
// the execution loop (intent → legs → monitor → ack).
type Orchestrator struct {
	registry *exchange.Registry
	pool     *pool.Pool
	fabric   *fabric.Fabric
	logger   *zap.Logger
	config   Config

	idCaps map[types.Venue]int // client-order-id caps learned at startup

	halted atomic.Bool

	mu       sync.Mutex
	seen     map[string]string // idempotency key -> execution id
	inFlight map[string]context.CancelFunc

	ctx context.Context
	wg  sync.WaitGroup
}

// Config holds orchestrator configuration.
type Config struct {
	LegTimeout       time.Duration
	TotalTimeout     time.Duration
	PollInterval     time.Duration
	RetryLimit       int
	DispatchInterval time.Duration
	RiskRequestTTL   time.Duration
	Logger           *zap.Logger
}

// New creates an orchestrator. idCaps carries the per-venue client-order-id
// length caps derived from GetSymbolInfo at startup.
func New(cfg Config, registry *exchange.Registry, opportunityPool *pool.Pool,
	bus *fabric.Fabric, idCaps map[types.Venue]int) *Orchestrator {
	if cfg.DispatchInterval <= 0 {
		cfg.DispatchInterval = 50 * time.Millisecond
	}
	if cfg.RiskRequestTTL <= 0 {
		cfg.RiskRequestTTL = time.Second
	}
	return &Orchestrator{
		registry: registry,
		pool:     opportunityPool,
		fabric:   bus,
		logger:   cfg.Logger,
		config:   cfg,
		idCaps:   idCaps,
		seen:     make(map[string]string),
		inFlight: make(map[string]context.CancelFunc),
	}
}

// Start launches the dispatch loop, the intent consumer, and the emergency
// watcher.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.ctx = ctx
	o.logger.Info("orchestrator-starting",
		zap.Duration("leg-timeout", o.config.LegTimeout),
		zap.Duration("total-timeout", o.config.TotalTimeout))

	intents := o.fabric.Subscribe(fabric.TopicExecutionIntent)
	emergencies := o.fabric.Subscribe(fabric.TopicEmergency)

	o.wg.Add(3)
	go o.dispatchLoop()
	go o.intentLoop(intents)
	go o.emergencyLoop(emergencies)

	return nil
}

// Close waits for the loops to drain.
func (o *Orchestrator) Close() error {
	o.wg.Wait()
	o.logger.Info("orchestrator-closed")
	return nil
}

// Halted reports whether the orchestrator refuses new intents.
func (o *Orchestrator) Halted() bool { return o.halted.Load() }

// dispatchLoop pulls the best pooled opportunity, gates it through risk over
// the fabric, and publishes an execution intent.
func (o *Orchestrator) dispatchLoop() {
	defer o.wg.Done()

	ticker := time.NewTicker(o.config.DispatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
			if o.halted.Load() {
				continue
			}
			o.dispatchOnce()
		}
	}
}

func (o *Orchestrator) dispatchOnce() {
	opp, _, ok := o.pool.TakeBest(time.Now())
	if !ok {
		return
	}

	reply, err := o.fabric.Request(o.ctx, fabric.TopicRiskRequest, opp, o.config.RiskRequestTTL)
	if err != nil {
		o.logger.Warn("risk-request-failed",
			zap.String("opportunity-id", opp.ID), zap.Error(err))
		DispatchesTotal.WithLabelValues("risk_timeout").Inc()
		return
	}

	decision, ok := reply.Payload.(*risk.Decision)
	if !ok || !decision.Approved {
		reason := "risk_rejected"
		if ok {
			o.logger.Info("opportunity-rejected-by-risk",
				zap.String("opportunity-id", opp.ID),
				zap.String("reason", decision.Reason))
		}
		DispatchesTotal.WithLabelValues(reason).Inc()
		o.publishPolicyResult(opp, decision)
		return
	}

	intent := fabric.Envelope{
		Topic:          fabric.TopicExecutionIntent,
		IdempotencyKey: opp.ID,
		Deadline:       opp.Deadline,
		Payload:        &Intent{Opportunity: opp, SizeRatio: decision.SizeRatio},
	}
	if err := o.fabric.PublishEnvelope(o.ctx, intent); err != nil {
		o.logger.Error("intent-publish-failed",
			zap.String("opportunity-id", opp.ID), zap.Error(err))
		return
	}
	DispatchesTotal.WithLabelValues("dispatched").Inc()
}

// publishPolicyResult reports a risk rejection so the pool's weight loop and
// the audit trail see it; PnL is untouched.
func (o *Orchestrator) publishPolicyResult(opp *detector.Opportunity, decision *risk.Decision) {
	reason := "risk rejected"
	if decision != nil {
		reason = decision.Reason
	}
	result := &types.ExecutionResult{
		ExecutionID:   uuid.NewString(),
		OpportunityID: opp.ID,
		StrategyKind:  opp.Kind,
		Status:        types.ExecutionCancelled,
		ExecutedAt:    time.Now(),
		FailureReason: reason,
	}
	if err := o.fabric.Publish(o.ctx, fabric.TopicExecutionAck, result); err != nil {
		o.logger.Warn("policy-result-publish-failed", zap.Error(err))
	}
}

// Intent is the execution.intent payload.
type Intent struct {
	Opportunity *detector.Opportunity
	SizeRatio   float64
}

func (o *Orchestrator) intentLoop(intents <-chan fabric.Envelope) {
	defer o.wg.Done()

	for {
		select {
		case <-o.ctx.Done():
			return
		case env, ok := <-intents:
			if !ok {
				return
			}
			intent, ok := env.Payload.(*Intent)
			if !ok {
				continue
			}
			o.handleIntent(env, intent)
		}
	}
}

func (o *Orchestrator) handleIntent(env fabric.Envelope, intent *Intent) {
	if o.halted.Load() {
		o.logger.Warn("intent-refused-emergency-stop",
			zap.String("opportunity-id", intent.Opportunity.ID))
		ExecutionsTotal.WithLabelValues("refused_halt").Inc()
		return
	}

	// Idempotency: a repeated intent with the same key is not re-executed.
	key := env.IdempotencyKey
	if key == "" {
		key = intent.Opportunity.ID
	}
	o.mu.Lock()
	if _, dup := o.seen[key]; dup {
		o.mu.Unlock()
		ExecutionsTotal.WithLabelValues("duplicate_intent").Inc()
		return
	}
	executionID := uuid.NewString()
	o.seen[key] = executionID
	o.mu.Unlock()

	result := o.Execute(executionID, intent.Opportunity, intent.SizeRatio)

	if err := o.fabric.Publish(o.ctx, fabric.TopicExecutionAck, result); err != nil {
		o.logger.Error("ack-publish-failed",
			zap.String("execution-id", executionID), zap.Error(err))
	}
}

func (o *Orchestrator) emergencyLoop(emergencies <-chan fabric.Envelope) {
	defer o.wg.Done()

	for {
		select {
		case <-o.ctx.Done():
			return
		case _, ok := <-emergencies:
			if !ok {
				return
			}
			o.halted.Store(true)
			o.cancelInFlight()
			o.logger.Warn("orchestrator-halted-by-emergency-stop")
		}
	}
}

func (o *Orchestrator) cancelInFlight() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for id, cancel := range o.inFlight {
		cancel()
		o.logger.Warn("in-flight-execution-cancelled", zap.String("execution-id", id))
	}
}

// Execute runs all legs of one opportunity and aggregates the single
// terminal result. Cross-venue legs are submitted as close to simultaneously
// as possible and monitored concurrently; triangular legs are inherently
// sequential — each leg's output funds the next — so an unfilled leg cancels
// everything after it and the execution fails.
func (o *Orchestrator) Execute(executionID string, opp *detector.Opportunity, sizeRatio float64) *types.ExecutionResult {
	start := time.Now()

	deadline := opp.Deadline
	if total := start.Add(o.config.TotalTimeout); total.Before(deadline) {
		deadline = total
	}

	parent := o.ctx
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithDeadline(parent, deadline)
	o.mu.Lock()
	o.inFlight[executionID] = cancel
	o.mu.Unlock()
	defer func() {
		cancel()
		o.mu.Lock()
		delete(o.inFlight, executionID)
		o.mu.Unlock()
	}()

	result := &types.ExecutionResult{
		ExecutionID:    executionID,
		OpportunityID:  opp.ID,
		StrategyKind:   opp.Kind,
		ExpectedProfit: opp.NetProfit,
		ExecutedAt:     start,
	}

	var legs []*types.LegResult
	if opp.Kind == types.StrategyTriangular {
		legs = o.executeSequential(ctx, executionID, opp, sizeRatio)
	} else {
		legs = o.executeParallel(ctx, executionID, opp, sizeRatio)
	}

	timedOut := ctx.Err() != nil

	o.aggregate(result, legs, timedOut)
	result.Latency = time.Since(start)

	ExecutionsTotal.WithLabelValues(string(result.Status)).Inc()
	ExecutionDurationSeconds.Observe(result.Latency.Seconds())

	o.logger.Info("execution-finished",
		zap.String("execution-id", executionID),
		zap.String("opportunity-id", opp.ID),
		zap.String("status", string(result.Status)),
		zap.Float64("realized-pnl", result.RealizedPnL),
		zap.Duration("latency", result.Latency))

	return result
}

// executeParallel submits every leg in declared order, then monitors the
// non-terminal ones concurrently; completions are unordered. Anything still
// live at the deadline is cancelled.
func (o *Orchestrator) executeParallel(ctx context.Context, executionID string, opp *detector.Opportunity, sizeRatio float64) []*types.LegResult {
	legs := make([]*types.LegResult, len(opp.Legs))
	for i, leg := range opp.Legs {
		legs[i] = o.submitLeg(ctx, executionID, i, scaleLeg(leg, sizeRatio))
	}

	var wg sync.WaitGroup
	for _, lr := range legs {
		if lr.Err != nil || lr.State.Terminal() {
			continue
		}
		wg.Add(1)
		go func(lr *types.LegResult) {
			defer wg.Done()
			o.monitorLeg(ctx, lr)
		}(lr)
	}
	wg.Wait()

	if ctx.Err() != nil {
		o.cancelRemaining(legs)
	}
	return legs
}

// executeSequential walks the legs one at a time: a leg must fill completely
// before the next is submitted. The first leg that does not fill is
// cancelled and every later leg is marked cancelled without ever reaching a
// venue.
func (o *Orchestrator) executeSequential(ctx context.Context, executionID string, opp *detector.Opportunity, sizeRatio float64) []*types.LegResult {
	legs := make([]*types.LegResult, len(opp.Legs))

	for i, leg := range opp.Legs {
		lr := o.submitLeg(ctx, executionID, i, scaleLeg(leg, sizeRatio))
		legs[i] = lr

		if lr.Err == nil && !lr.State.Terminal() {
			legCtx := ctx
			if o.config.LegTimeout > 0 {
				var legCancel context.CancelFunc
				legCtx, legCancel = context.WithTimeout(ctx, o.config.LegTimeout)
				o.monitorLeg(legCtx, lr)
				legCancel()
			} else {
				o.monitorLeg(legCtx, lr)
			}
		}

		if lr.Filled() {
			continue
		}

		// This leg did not fill: cancel it if still live, then mark the
		// remaining legs cancelled before submission.
		o.cancelRemaining(legs[:i+1])
		o.logger.Warn("triangular-leg-unfilled-cancelling-rest",
			zap.String("execution-id", executionID),
			zap.Int("leg", i),
			zap.Stringer("symbol", lr.Leg.Symbol),
			zap.String("state", string(lr.State)))

		for j := i + 1; j < len(opp.Legs); j++ {
			legs[j] = &types.LegResult{
				Leg:   scaleLeg(opp.Legs[j], sizeRatio),
				State: types.OrderStateCancelled,
			}
			CancelsTotal.WithLabelValues(string(opp.Legs[j].Venue)).Inc()
		}
		break
	}

	return legs
}

func scaleLeg(leg types.ExecutionLeg, sizeRatio float64) types.ExecutionLeg {
	leg.Quantity = leg.Quantity.MulRate(fixed.PriceFromFloat(sizeRatio))
	return leg
}

// submitLeg builds the idempotent client order id and submits with bounded
// retries on transport errors. Business rejections fail the leg immediately.
func (o *Orchestrator) submitLeg(ctx context.Context, executionID string, index int, leg types.ExecutionLeg) *types.LegResult {
	lr := &types.LegResult{Leg: leg}

	client, err := o.registry.Get(leg.Venue)
	if err != nil {
		lr.State = types.OrderStateRejected
		lr.Err = err
		return lr
	}

	lr.ClientOrderID = o.clientOrderID(executionID, index, leg.Venue)

	req := exchange.OrderRequest{
		ClientOrderID: lr.ClientOrderID,
		Symbol:        leg.Symbol,
		Side:          leg.Side,
		Kind:          leg.Kind,
		Quantity:      leg.Quantity,
		LimitPrice:    leg.LimitPrice,
	}

	for attempt := 0; ; attempt++ {
		resp, err := client.PlaceOrder(ctx, req)
		if err == nil {
			lr.VenueOrderID = resp.VenueOrderID
			lr.State = resp.State
			lr.FilledQty = resp.FilledQty
			lr.AvgFillPrice = resp.AvgFillPrice
			lr.Fee = resp.Fee
			return lr
		}

		if !types.Retryable(err) || attempt >= o.config.RetryLimit || ctx.Err() != nil {
			lr.State = types.OrderStateRejected
			lr.Err = err
			LegFailuresTotal.WithLabelValues(string(leg.Venue), types.ClassifyError(err)).Inc()
			return lr
		}

		o.logger.Warn("leg-submit-retrying",
			zap.String("client-order-id", lr.ClientOrderID),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
}

// monitorLeg polls order status at a bounded interval until the order is
// terminal or the execution deadline passes.
func (o *Orchestrator) monitorLeg(ctx context.Context, lr *types.LegResult) {
	client, err := o.registry.Get(lr.Leg.Venue)
	if err != nil {
		lr.Err = err
		return
	}

	ticker := time.NewTicker(o.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			resp, err := client.GetOrderStatus(ctx, lr.Leg.Symbol, lr.ClientOrderID)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				o.logger.Debug("leg-status-poll-failed",
					zap.String("client-order-id", lr.ClientOrderID), zap.Error(err))
				continue
			}

			lr.State = resp.State
			lr.FilledQty = resp.FilledQty
			lr.AvgFillPrice = resp.AvgFillPrice
			lr.Fee = resp.Fee

			if resp.State.Terminal() {
				return
			}
		}
	}
}

// cancelRemaining cancels non-terminal orders (at the deadline, or when a
// triangular leg stays unfilled) and reads back their final fill state.
func (o *Orchestrator) cancelRemaining(legs []*types.LegResult) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, lr := range legs {
		if lr.Err != nil || lr.State.Terminal() || lr.ClientOrderID == "" {
			continue
		}
		client, err := o.registry.Get(lr.Leg.Venue)
		if err != nil {
			continue
		}
		if err := client.CancelOrder(ctx, lr.Leg.Symbol, lr.ClientOrderID); err != nil {
			o.logger.Warn("cancel-failed",
				zap.String("client-order-id", lr.ClientOrderID), zap.Error(err))
			continue
		}
		CancelsTotal.WithLabelValues(string(lr.Leg.Venue)).Inc()

		// Pick up the final fill state after the cancel.
		if resp, err := client.GetOrderStatus(ctx, lr.Leg.Symbol, lr.ClientOrderID); err == nil {
			lr.State = resp.State
			lr.FilledQty = resp.FilledQty
			lr.AvgFillPrice = resp.AvgFillPrice
			lr.Fee = resp.Fee
		}
	}
}

// aggregate folds leg results into the single terminal status. Cross-venue:
// Completed iff all legs filled, PartiallyCompleted iff at least one filled
// and at least one did not, otherwise Failed (or Timeout when the deadline
// hit first). A triangular path has no partial outcome — an unfilled leg
// breaks the cycle, so anything short of all-filled is Failed.
func (o *Orchestrator) aggregate(result *types.ExecutionResult, legs []*types.LegResult, timedOut bool) {
	filled, unfilled := 0, 0
	var firstFailure string
	var pnl float64
	var fees fixed.Price

	for _, lr := range legs {
		result.Legs = append(result.Legs, *lr)
		fees = fees.SaturatingAdd(lr.Fee)

		notional := lr.AvgFillPrice.MulQuantity(lr.FilledQty).Float()
		if lr.Leg.Side == types.SideSell {
			pnl += notional
		} else {
			pnl -= notional
		}

		if lr.Filled() {
			filled++
			continue
		}
		unfilled++
		if firstFailure == "" {
			switch {
			case lr.Err != nil:
				firstFailure = lr.Err.Error()
			case timedOut:
				firstFailure = "deadline exceeded"
			default:
				firstFailure = string(lr.State)
			}
		}
	}

	result.TotalFees = fees
	result.RealizedPnL = pnl - fees.Float()
	result.FailureReason = firstFailure

	switch {
	case unfilled == 0 && filled > 0:
		result.Status = types.ExecutionCompleted
	case result.StrategyKind == types.StrategyTriangular && filled > 0:
		result.Status = types.ExecutionFailed
		if result.FailureReason == "" {
			result.FailureReason = "triangular leg unfilled"
		}
	case filled > 0:
		result.Status = types.ExecutionPartial
		if timedOut && firstFailure == "" {
			result.FailureReason = "deadline exceeded"
		}
	case timedOut:
		result.Status = types.ExecutionTimeout
	default:
		result.Status = types.ExecutionFailed
	}
}

// clientOrderID derives the idempotency key for one leg, truncated to the
// venue's cap. The execution id prefix keeps retried submissions identical.
func (o *Orchestrator) clientOrderID(executionID string, index int, venue types.Venue) string {
	id := fmt.Sprintf("%s-%d", executionID, index)
	limit, ok := o.idCaps[venue]
	if !ok || limit <= 0 {
		limit = 36
	}
	if len(id) > limit {
		// Keep the distinguishing tail: leg index and the id's final bytes.
		id = id[len(id)-limit:]
	}
	return id
}
