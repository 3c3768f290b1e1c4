package backtest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecordsTotal counts execution records fed to the engine.
	RecordsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arbiter_backtest_records_total",
		Help: "Execution records fed to the weight engine",
	})

	// RecomputationsTotal counts weight recomputation passes.
	RecomputationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arbiter_backtest_recomputations_total",
		Help: "Weight recomputation passes",
	})
)
