package storage

import (
	"context"

	"go.uber.org/zap"

	"github.com/arbiterlabs/arbiter/internal/risk"
	"github.com/arbiterlabs/arbiter/pkg/types"
)

// ConsoleStorage logs audit records instead of persisting them. Default in
// development and paper mode.
type ConsoleStorage struct {
	logger *zap.Logger
}

// NewConsoleStorage creates a console sink.
func NewConsoleStorage(logger *zap.Logger) *ConsoleStorage {
	return &ConsoleStorage{logger: logger}
}

// StoreExecutionResult logs the result.
func (c *ConsoleStorage) StoreExecutionResult(ctx context.Context, result *types.ExecutionResult) error {
	c.logger.Info("audit-execution-result",
		zap.String("execution-id", result.ExecutionID),
		zap.String("opportunity-id", result.OpportunityID),
		zap.String("status", string(result.Status)),
		zap.Float64("realized-pnl", result.RealizedPnL),
		zap.Duration("latency", result.Latency))
	return nil
}

// StoreRiskSnapshot logs the snapshot.
func (c *ConsoleStorage) StoreRiskSnapshot(ctx context.Context, snap risk.Snapshot) error {
	c.logger.Info("audit-risk-snapshot",
		zap.Float64("day-pnl", snap.DayPnL),
		zap.Int("consecutive-failures", snap.ConsecutiveFailures),
		zap.Bool("emergency-stopped", snap.EmergencyStopped))
	return nil
}

// Close is a no-op.
func (c *ConsoleStorage) Close() error { return nil }
