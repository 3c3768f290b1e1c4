package app

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Shutdown stops components in reverse dependency order: feeds first so no
// new work enters, the HTTP surface and fabric last.
func (a *App) Shutdown() error {
	a.logger.Info("engine-shutting-down")
	a.healthChecker.SetReady(false)

	if a.jobs != nil {
		a.jobs.Stop()
	}

	for _, adapter := range a.adapters {
		if err := adapter.Stop(); err != nil {
			a.logger.Warn("adapter-stop-failed",
				zap.String("venue", string(adapter.Venue())), zap.Error(err))
		}
	}

	a.cancel()

	if a.orchestrator != nil {
		_ = a.orchestrator.Close()
	}
	_ = a.aggregator.Close()
	_ = a.arbDetector.Close()
	_ = a.opportunities.Close()
	a.riskCtrl.WaitServe()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.httpServer.Shutdown(ctx); err != nil {
		a.logger.Warn("http-shutdown-failed", zap.Error(err))
	}

	a.wg.Wait()

	if a.bridge != nil {
		a.bridge.Close()
	}
	a.bus.Close()

	if err := a.audit.Close(); err != nil {
		a.logger.Warn("storage-close-failed", zap.Error(err))
	}
	a.symbolCache.Close()

	a.logger.Info("engine-stopped")
	return nil
}

// HealthCheck reports overall engine health for the lifecycle surface.
func (a *App) HealthCheck() bool {
	for _, adapter := range a.adapters {
		if !adapter.HealthProbe().Healthy {
			return false
		}
	}
	return !a.riskCtrl.EmergencyStopped()
}
