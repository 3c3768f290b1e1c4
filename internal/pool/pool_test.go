package pool

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arbiterlabs/arbiter/internal/backtest"
	"github.com/arbiterlabs/arbiter/internal/detector"
	"github.com/arbiterlabs/arbiter/pkg/fabric"
	"github.com/arbiterlabs/arbiter/pkg/fixed"
	"github.com/arbiterlabs/arbiter/pkg/types"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testOpportunity(id string, netBps float64, fp uint64) *detector.Opportunity {
	capital := 50_000.0
	net := capital * netBps / 10_000
	return &detector.Opportunity{
		ID:     id,
		Kind:   types.StrategyCrossVenue,
		Symbol: types.MustSymbol("BTC/USDT"),
		Legs: []types.ExecutionLeg{
			{Venue: types.VenueBinance, Symbol: types.MustSymbol("BTC/USDT"), Side: types.SideBuy,
				Quantity: fixed.QuantityFromFloat(1), LimitPrice: fixed.PriceFromFloat(50_000), Kind: types.OrderKindIOC},
			{Venue: types.VenueOKX, Symbol: types.MustSymbol("BTC/USDT"), Side: types.SideSell,
				Quantity: fixed.QuantityFromFloat(1), LimitPrice: fixed.PriceFromFloat(50_000 + net), Kind: types.OrderKindIOC},
		},
		GrossProfit:     fixed.PriceFromFloat(net * 1.5),
		NetProfit:       fixed.PriceFromFloat(net),
		NetProfitBps:    netBps,
		RequiredCapital: fixed.PriceFromFloat(capital),
		DetectedAt:      now,
		Deadline:        now.Add(3 * time.Second),
		Fingerprint:     fp,
	}
}

func newTestPool(t *testing.T, capacity int) *Pool {
	t.Helper()

	bus := fabric.New(fabric.Config{QueueDepth: 16, Logger: zap.NewNop()})
	t.Cleanup(bus.Close)

	engine := backtest.NewEngine(backtest.Config{Logger: zap.NewNop()})
	return New(Config{
		Capacity:      capacity,
		Expiry:        30 * time.Second,
		SweepInterval: time.Second,
		BacktestEvery: 100,
		Criteria: Criteria{
			MinProfitBps:  10,
			MinLiquidity:  0.5,
			MaxRisk:       0.7,
			MaxDelayMs:    1000,
			MinConfidence: 0.6,
		},
		Weights: backtest.Weights{Profit: 0.30, Liquidity: 0.25, Latency: 0.10, Confidence: 0.10, RiskInv: 0.20, Freshness: 0.05},
		Logger:  zap.NewNop(),
	}, engine, bus)
}

func TestAdmitAndTakeBest(t *testing.T) {
	p := newTestPool(t, 10)

	require.NoError(t, p.Admit(testOpportunity("low", 15, 1), now))
	require.NoError(t, p.Admit(testOpportunity("high", 80, 2), now))
	require.NoError(t, p.Admit(testOpportunity("mid", 30, 3), now))
	assert.Equal(t, 3, p.Size())

	best, eval, ok := p.TakeBest(now)
	require.True(t, ok)
	assert.Equal(t, "high", best.ID)
	assert.Equal(t, PriorityHigh, eval.Priority)

	// The take is destructive across every index.
	assert.Equal(t, 2, p.Size())
	assert.False(t, p.Contains(2))

	second, _, ok := p.TakeBest(now)
	require.True(t, ok)
	assert.Equal(t, "mid", second.ID)
}

func TestAdmissionCriteria(t *testing.T) {
	p := newTestPool(t, 10)

	// Below the minimum profit threshold.
	err := p.Admit(testOpportunity("thin", 5, 1), now)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "profit_below_min")

	// Expired deadline.
	expired := testOpportunity("expired", 30, 2)
	expired.Deadline = now.Add(-time.Second)
	assert.Error(t, p.Admit(expired, now))

	// Zero net profit.
	flat := testOpportunity("flat", 30, 3)
	flat.NetProfit = fixed.Price{}
	assert.Error(t, p.Admit(flat, now))

	// Illiquid: heavy slippage estimate.
	slippy := testOpportunity("slippy", 30, 4)
	slippy.SlippageBps = 19
	err = p.Admit(slippy, now)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "liquidity_below_min")

	assert.Equal(t, 0, p.Size())
}

func TestDuplicateFingerprintKeepsIncumbent(t *testing.T) {
	p := newTestPool(t, 10)

	require.NoError(t, p.Admit(testOpportunity("first", 30, 42), now))
	err := p.Admit(testOpportunity("second", 35, 42), now)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")

	// The incumbent remains; there is exactly one entry with the fingerprint.
	assert.Equal(t, 1, p.Size())
	best, _, ok := p.TakeBest(now)
	require.True(t, ok)
	assert.Equal(t, "first", best.ID)

	// After the take, the fingerprint frees up.
	require.NoError(t, p.Admit(testOpportunity("third", 30, 42), now))
}

func TestCapacityEvictionAndRejection(t *testing.T) {
	p := newTestPool(t, 2)

	require.NoError(t, p.Admit(testOpportunity("a", 20, 1), now))
	require.NoError(t, p.Admit(testOpportunity("b", 30, 2), now))

	// Strictly higher-scored admission evicts the lowest.
	require.NoError(t, p.Admit(testOpportunity("c", 90, 3), now))
	assert.Equal(t, 2, p.Size())
	assert.False(t, p.Contains(1), "lowest-scored entry must be evicted")

	// Strictly lower-scored admission is rejected upstream, not evicted in.
	err := p.Admit(testOpportunity("d", 15, 4), now)
	require.Error(t, err)
	assert.Equal(t, 2, p.Size())
	assert.True(t, p.Contains(2))
	assert.True(t, p.Contains(3))
}

func TestTakeBestSkipsExpired(t *testing.T) {
	p := newTestPool(t, 10)

	shortLived := testOpportunity("gone", 90, 1)
	shortLived.Deadline = now.Add(time.Second)
	require.NoError(t, p.Admit(shortLived, now))
	require.NoError(t, p.Admit(testOpportunity("alive", 30, 2), now))

	later := now.Add(2 * time.Second)
	best, _, ok := p.TakeBest(later)
	require.True(t, ok)
	assert.Equal(t, "alive", best.ID)

	stats := p.Stats()
	assert.Equal(t, uint64(1), stats.Expired)
}

func TestTakeBestByKind(t *testing.T) {
	p := newTestPool(t, 10)

	tri := testOpportunity("tri", 60, 1)
	tri.Kind = types.StrategyTriangular
	// Triangular legs carry more risk; keep it admissible.
	require.NoError(t, p.Admit(tri, now))
	require.NoError(t, p.Admit(testOpportunity("cross", 90, 2), now))

	got, _, ok := p.TakeBestByKind(types.StrategyTriangular, now)
	require.True(t, ok)
	assert.Equal(t, "tri", got.ID)

	_, _, ok = p.TakeBestByKind(types.StrategyTriangular, now)
	assert.False(t, ok)

	got, _, ok = p.TakeBestByKind(types.StrategyCrossVenue, now)
	require.True(t, ok)
	assert.Equal(t, "cross", got.ID)
}

func TestSweepExpired(t *testing.T) {
	p := newTestPool(t, 10)

	require.NoError(t, p.Admit(testOpportunity("a", 30, 1), now))
	require.NoError(t, p.Admit(testOpportunity("b", 30, 2), now))

	removed := p.SweepExpired(now.Add(time.Minute))
	assert.Equal(t, 2, removed)
	assert.Equal(t, 0, p.Size())
	assert.False(t, p.Contains(1))
}

func TestTakerReceivesOwnedCopy(t *testing.T) {
	p := newTestPool(t, 10)

	original := testOpportunity("orig", 30, 1)
	require.NoError(t, p.Admit(original, now))

	taken, _, ok := p.TakeBest(now)
	require.True(t, ok)
	require.NotSame(t, original, taken)

	taken.Legs[0].Quantity = fixed.QuantityFromFloat(999)
	assert.InDelta(t, 1.0, original.Legs[0].Quantity.Float(), 1e-8)
}

func TestRecordExecutionIdempotent(t *testing.T) {
	p := newTestPool(t, 10)
	opp := testOpportunity("o", 30, 1)
	eval := evaluate(opp)

	result := &types.ExecutionResult{
		ExecutionID:    "exec-1",
		OpportunityID:  "o",
		StrategyKind:   types.StrategyCrossVenue,
		Status:         types.ExecutionCompleted,
		ExpectedProfit: fixed.PriceFromFloat(100),
		RealizedPnL:    95,
		Latency:        80 * time.Millisecond,
	}

	p.RecordExecution(result, opp, eval)
	p.RecordExecution(result, opp, eval)

	assert.Equal(t, uint64(1), p.recorded.Load(), "same execution UUID must be recorded once")
}

func TestWeightAdaptationShiftsWeights(t *testing.T) {
	p := newTestPool(t, 10)
	p.config.BacktestEvery = 100

	// Two live opportunities stay pooled while the weights are recomputed
	// and swapped in.
	rich := testOpportunity("rich", 95, 1)
	quick := testOpportunity("quick", 40, 2)
	quick.SlippageBps = 0
	require.NoError(t, p.Admit(rich, now))
	require.NoError(t, p.Admit(quick, now))

	// 100 results: low-latency executions capture their edge, slow ones lose it.
	for i := 0; i < 100; i++ {
		fast := i%2 == 0
		result := &types.ExecutionResult{
			ExecutionID:    fmt.Sprintf("exec-%d", i),
			OpportunityID:  fmt.Sprintf("opp-%d", i),
			StrategyKind:   types.StrategyCrossVenue,
			ExpectedProfit: fixed.PriceFromFloat(100),
		}
		var feedOpp *detector.Opportunity
		if fast {
			feedOpp = testOpportunity(fmt.Sprintf("opp-%d", i), 20, uint64(1000+i))
			result.Status = types.ExecutionCompleted
			result.RealizedPnL = 95
			result.Latency = 40 * time.Millisecond
		} else {
			feedOpp = testOpportunity(fmt.Sprintf("opp-%d", i), 95, uint64(1000+i))
			result.Status = types.ExecutionFailed
			result.RealizedPnL = 0
			result.Latency = 950 * time.Millisecond
			result.FailureReason = "deadline"
		}
		feedEval := evaluate(feedOpp)
		if fast {
			feedEval.ExpectedDelayMs = 50
		} else {
			feedEval.ExpectedDelayMs = 950
		}
		p.RecordExecution(result, feedOpp, feedEval)
	}

	after := p.Weights()
	before := backtest.Weights{Profit: 0.30, Liquidity: 0.25, Latency: 0.10, Confidence: 0.10, RiskInv: 0.20, Freshness: 0.05}
	assert.Greater(t, after.Latency, before.Latency, "latency weight must increase")
	assert.Less(t, after.Profit, before.Profit, "profit weight must decrease")

	sum := after.Profit + after.Liquidity + after.Latency + after.Confidence + after.RiskInv + after.Freshness
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestStats(t *testing.T) {
	p := newTestPool(t, 10)

	require.NoError(t, p.Admit(testOpportunity("a", 30, 1), now))
	_ = p.Admit(testOpportunity("thin", 1, 2), now)
	_, _, _ = p.TakeBest(now)

	stats := p.Stats()
	assert.Equal(t, uint64(1), stats.Admitted)
	assert.Equal(t, uint64(1), stats.Rejected)
	assert.Equal(t, uint64(1), stats.Taken)
	assert.Equal(t, 0, stats.Size)
}
