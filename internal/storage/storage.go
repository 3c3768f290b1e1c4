// Package storage is the write-only audit sink: execution results and risk
// snapshots are persisted asynchronously and never read back by the hot path.
package storage

import (
	"context"

	"github.com/arbiterlabs/arbiter/internal/risk"
	"github.com/arbiterlabs/arbiter/pkg/types"
)

// Storage persists audit records.
type Storage interface {
	StoreExecutionResult(ctx context.Context, result *types.ExecutionResult) error
	StoreRiskSnapshot(ctx context.Context, snap risk.Snapshot) error
	Close() error
}
