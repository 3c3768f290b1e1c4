package app

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/arbiterlabs/arbiter/internal/exchange"
	"github.com/arbiterlabs/arbiter/pkg/fabric"
	"github.com/arbiterlabs/arbiter/pkg/fixed"
	"github.com/arbiterlabs/arbiter/pkg/types"
)

// Run starts every component and blocks until a shutdown signal.
func (a *App) Run() error {
	a.logger.Info("engine-starting",
		zap.Strings("venues", a.cfg.Venues),
		zap.Strings("symbols", a.cfg.Symbols),
		zap.String("mode", a.cfg.ExecMode))

	if err := a.startComponents(); err != nil {
		return err
	}

	a.healthChecker.SetReady(true)
	a.logger.Info("engine-ready", zap.String("http-addr", ":"+a.cfg.HTTPPort))

	return a.waitForShutdown()
}

func (a *App) startComponents() error {
	a.wg.Add(1)
	go a.runHTTPServer()

	if a.bridge != nil {
		a.bridge.MirrorOut(a.ctx,
			fabric.TopicExecutionAck, fabric.TopicEmergency, fabric.TopicOpportunity)
		for subject, payload := range map[string]func() any{
			fabric.TopicFeeUpdate:       func() any { return new(types.FeeUpdate) },
			fabric.TopicPrecisionUpdate: func() any { return new(types.PrecisionUpdate) },
			fabric.TopicThresholdUpdate: func() any { return new(types.ThresholdUpdate) },
		} {
			if err := a.bridge.MirrorIn(a.ctx, subject, payload); err != nil {
				return fmt.Errorf("mirror %s: %w", subject, err)
			}
		}
	}

	if err := a.riskCtrl.Serve(a.ctx); err != nil {
		return fmt.Errorf("start risk controller: %w", err)
	}

	if err := a.opportunities.Start(a.ctx); err != nil {
		return fmt.Errorf("start pool: %w", err)
	}

	if err := a.arbDetector.Start(a.ctx); err != nil {
		return fmt.Errorf("start detector: %w", err)
	}

	if err := a.aggregator.Start(a.ctx); err != nil {
		return fmt.Errorf("start aggregator: %w", err)
	}

	for _, adapter := range a.adapters {
		if err := adapter.Start(a.ctx); err != nil {
			// A venue being down at boot is degraded, not fatal: the adapter
			// keeps reconnecting in the background.
			a.logger.Warn("feed-adapter-start-failed",
				zap.String("venue", string(adapter.Venue())), zap.Error(err))
			a.healthChecker.SetComponent("feed."+string(adapter.Venue()), false, err.Error())
			continue
		}
		if err := adapter.Subscribe(a.symbols); err != nil {
			a.logger.Warn("feed-subscribe-failed",
				zap.String("venue", string(adapter.Venue())), zap.Error(err))
		}
	}

	idCaps, err := a.warmSymbolInfo(a.ctx)
	if err != nil {
		return fmt.Errorf("warm symbol info: %w", err)
	}
	a.orchestrator = a.setupOrchestrator(idCaps)
	if err := a.orchestrator.Start(a.ctx); err != nil {
		return fmt.Errorf("start orchestrator: %w", err)
	}

	a.wg.Add(3)
	go a.runAuditLoop()
	go a.runHealthLoop()
	go a.runPrecisionLoop()

	if err := a.scheduleJobs(); err != nil {
		return fmt.Errorf("schedule jobs: %w", err)
	}

	return nil
}

func (a *App) runHTTPServer() {
	defer a.wg.Done()
	if err := a.httpServer.Start(); err != nil {
		a.logger.Error("http-server-error", zap.Error(err))
	}
}

// runAuditLoop persists execution acks asynchronously; storage failures are
// logged and never touch the hot path.
func (a *App) runAuditLoop() {
	defer a.wg.Done()

	acks := a.bus.Subscribe(fabric.TopicExecutionAck)
	for {
		select {
		case <-a.ctx.Done():
			return
		case env, ok := <-acks:
			if !ok {
				return
			}
			result, ok := env.Payload.(*types.ExecutionResult)
			if !ok {
				continue
			}
			if err := a.audit.StoreExecutionResult(a.ctx, result); err != nil {
				a.logger.Warn("audit-store-failed",
					zap.String("execution-id", result.ExecutionID), zap.Error(err))
			}
		}
	}
}

// runHealthLoop polls adapter probes into the health checker and answers
// fabric health pings.
func (a *App) runHealthLoop() {
	defer a.wg.Done()

	pings := a.bus.Subscribe(fabric.TopicHealthPing)
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			for _, adapter := range a.adapters {
				probe := adapter.HealthProbe()
				detail := fmt.Sprintf("state=%s last-msg=%s gaps=%d",
					probe.State, probe.LastMessageAge.Truncate(time.Millisecond), probe.SequenceGaps)
				a.healthChecker.SetComponent("feed."+string(probe.Venue), probe.Healthy, detail)
			}
		case env, ok := <-pings:
			if !ok {
				return
			}
			if err := a.bus.Reply(a.ctx, env, "pong"); err != nil {
				// Plain publishes also ping; answer on the pong topic.
				_ = a.bus.Publish(a.ctx, fabric.TopicHealthPong, "pong")
			}
		}
	}
}

// runPrecisionLoop applies precision updates to symbol-info entries already
// in the cache; an update for a pair that is not cached is ignored.
func (a *App) runPrecisionLoop() {
	defer a.wg.Done()

	updates := a.bus.Subscribe(fabric.TopicPrecisionUpdate)
	for {
		select {
		case <-a.ctx.Done():
			return
		case env, ok := <-updates:
			if !ok {
				return
			}
			update, ok := env.Payload.(*types.PrecisionUpdate)
			if !ok {
				continue
			}

			symbol, err := types.ParseSymbol(update.Symbol)
			if err != nil {
				a.logger.Warn("precision-update-bad-symbol",
					zap.String("symbol", update.Symbol), zap.Error(err))
				continue
			}

			key := fmt.Sprintf("symbolinfo:%s:%s", update.Venue, symbol)
			if cached, found := a.symbolCache.Get(key); found {
				info := cached.(exchange.SymbolInfo)
				info.TickSize = fixed.PriceFromFloat(update.TickSize)
				info.StepSize = fixed.QuantityFromFloat(update.StepSize)
				a.symbolCache.Set(key, info, 0)
				a.logger.Info("precision-updated",
					zap.String("venue", string(update.Venue)),
					zap.Stringer("symbol", symbol))
			}
		}
	}
}

// scheduleJobs wires the periodic maintenance: the midnight PnL roll and the
// risk-snapshot persistence.
func (a *App) scheduleJobs() error {
	if _, err := a.jobs.AddFunc("0 0 * * *", a.riskCtrl.ResetDay); err != nil {
		return fmt.Errorf("schedule day reset: %w", err)
	}

	if _, err := a.jobs.AddFunc("@every 1m", func() {
		snaps := a.riskCtrl.Snapshots()
		if len(snaps) == 0 {
			return
		}
		if err := a.audit.StoreRiskSnapshot(a.ctx, snaps[len(snaps)-1]); err != nil {
			a.logger.Warn("risk-snapshot-store-failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("schedule risk snapshot: %w", err)
	}

	a.jobs.Start()
	return nil
}

func (a *App) waitForShutdown() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		a.logger.Info("shutdown-signal-received", zap.String("signal", sig.String()))
	case <-a.ctx.Done():
		a.logger.Info("context-cancelled")
	}

	return a.Shutdown()
}
