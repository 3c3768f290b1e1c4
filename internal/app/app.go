// Package app wires the engine together and owns its lifecycle:
// initialize, start, stop, health check.
package app

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/arbiterlabs/arbiter/internal/backtest"
	"github.com/arbiterlabs/arbiter/internal/detector"
	"github.com/arbiterlabs/arbiter/internal/exchange"
	"github.com/arbiterlabs/arbiter/internal/execution"
	"github.com/arbiterlabs/arbiter/internal/feed"
	"github.com/arbiterlabs/arbiter/internal/marketdata"
	"github.com/arbiterlabs/arbiter/internal/pool"
	"github.com/arbiterlabs/arbiter/internal/risk"
	"github.com/arbiterlabs/arbiter/internal/storage"
	"github.com/arbiterlabs/arbiter/pkg/cache"
	"github.com/arbiterlabs/arbiter/pkg/config"
	"github.com/arbiterlabs/arbiter/pkg/fabric"
	"github.com/arbiterlabs/arbiter/pkg/healthprobe"
	"github.com/arbiterlabs/arbiter/pkg/httpserver"
	"github.com/arbiterlabs/arbiter/pkg/types"
)

// App is the engine's composition root.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	healthChecker *healthprobe.HealthChecker
	httpServer    *httpserver.Server
	bus           *fabric.Fabric
	bridge        *fabric.Bridge
	books         *marketdata.BookTable
	adapters      []*feed.Adapter
	aggregator    *marketdata.Aggregator
	arbDetector   *detector.Detector
	opportunities *pool.Pool
	weightEngine  *backtest.Engine
	riskCtrl      *risk.Controller
	orchestrator  *execution.Orchestrator
	registry      *exchange.Registry
	audit         storage.Storage
	symbolCache   cache.Cache
	jobs          *cron.Cron

	symbols []types.Symbol
	venues  []types.Venue

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}
