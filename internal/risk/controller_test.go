package risk

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arbiterlabs/arbiter/internal/detector"
	"github.com/arbiterlabs/arbiter/pkg/fabric"
	"github.com/arbiterlabs/arbiter/pkg/fixed"
	"github.com/arbiterlabs/arbiter/pkg/types"
)

func testOpp(netBps float64, capital float64) *detector.Opportunity {
	now := time.Now()
	return &detector.Opportunity{
		ID:     "opp-1",
		Kind:   types.StrategyCrossVenue,
		Symbol: types.MustSymbol("BTC/USDT"),
		Legs: []types.ExecutionLeg{
			{Venue: types.VenueBinance, Side: types.SideBuy},
			{Venue: types.VenueOKX, Side: types.SideSell},
		},
		NetProfit:       fixed.PriceFromFloat(capital * netBps / 10_000),
		NetProfitBps:    netBps,
		RequiredCapital: fixed.PriceFromFloat(capital),
		DetectedAt:      now,
		Deadline:        now.Add(3 * time.Second),
		Fingerprint:     1,
	}
}

func newTestController(t *testing.T) (*Controller, *fabric.Fabric) {
	t.Helper()

	bus := fabric.New(fabric.Config{QueueDepth: 16, Logger: zap.NewNop()})
	t.Cleanup(bus.Close)

	c := New(Config{
		MaxDailyLoss:          10_000,
		MaxConsecutiveFails:   3,
		ExposureCap:           500_000,
		ApprovalCeiling:       0.8,
		CountPartialAsFailure: true,
		Weights:               Weights{Volatility: 0.30, Liquidity: 0.25, Timing: 0.15, Execution: 0.15, Pressure: 0.15},
		Logger:                zap.NewNop(),
	}, bus)
	return c, bus
}

func result(id string, status types.ExecutionStatus, pnl float64) *types.ExecutionResult {
	return &types.ExecutionResult{
		ExecutionID:   id,
		OpportunityID: "opp-1",
		StrategyKind:  types.StrategyCrossVenue,
		Status:        status,
		RealizedPnL:   pnl,
		ExecutedAt:    time.Now(),
	}
}

func TestApproveHappyPath(t *testing.T) {
	c, _ := newTestController(t)

	d := c.Evaluate(context.Background(), testOpp(20, 50_000))
	assert.True(t, d.Approved)
	assert.GreaterOrEqual(t, d.SizeRatio, 0.1)
	assert.LessOrEqual(t, d.SizeRatio, 1.0)
	assert.Empty(t, d.Reason)
}

func TestRejectWhenLatched(t *testing.T) {
	c, _ := newTestController(t)
	c.TriggerEmergencyStop(context.Background(), "test")

	d := c.Evaluate(context.Background(), testOpp(20, 50_000))
	assert.False(t, d.Approved)
	assert.Zero(t, d.SizeRatio)
	assert.Equal(t, "emergency_stop_latched", d.Reason)
}

func TestDailyLossLatchesStop(t *testing.T) {
	c, _ := newTestController(t)

	c.RecordResult(context.Background(), result("e1", types.ExecutionCompleted, -10_500))
	assert.True(t, c.EmergencyStopped(), "breaching the daily loss must latch")

	d := c.Evaluate(context.Background(), testOpp(20, 50_000))
	assert.False(t, d.Approved)
}

func TestExposureCap(t *testing.T) {
	c, _ := newTestController(t)

	c.AddExposure(types.StrategyCrossVenue, 480_000)
	d := c.Evaluate(context.Background(), testOpp(20, 50_000))
	assert.False(t, d.Approved)
	assert.Equal(t, "exposure_cap", d.Reason)

	// Releasing the exposure re-opens the gate.
	c.ReleaseExposure(types.StrategyCrossVenue, 480_000)
	d = c.Evaluate(context.Background(), testOpp(20, 50_000))
	assert.True(t, d.Approved)

	// Exposure is per strategy: triangular capital does not count against
	// cross-venue.
	c.AddExposure(types.StrategyTriangular, 480_000)
	d = c.Evaluate(context.Background(), testOpp(20, 50_000))
	assert.True(t, d.Approved)
}

func TestRiskCeiling(t *testing.T) {
	c, _ := newTestController(t)
	c.config.ApprovalCeiling = 0.05

	d := c.Evaluate(context.Background(), testOpp(20, 50_000))
	assert.False(t, d.Approved)
	assert.Equal(t, "risk_above_ceiling", d.Reason)
}

// TestEmergencyStopAfterConsecutiveFailures is the §8 scenario: three failed
// executions with the cap at 3 latch the stop, the next evaluation is a
// policy rejection, and exactly one emergency event reaches the alert topic.
func TestEmergencyStopAfterConsecutiveFailures(t *testing.T) {
	c, bus := newTestController(t)
	alerts := bus.Subscribe(fabric.TopicEmergency)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		c.RecordResult(ctx, result(fmt.Sprintf("e%d", i), types.ExecutionFailed, -10))
	}

	assert.True(t, c.EmergencyStopped())
	assert.Equal(t, 3, c.Failures())

	d := c.Evaluate(ctx, testOpp(20, 50_000))
	assert.False(t, d.Approved)
	assert.Equal(t, "emergency_stop_latched", d.Reason)

	// Exactly one emergency-stop event.
	select {
	case env := <-alerts:
		event := env.Payload.(*StopEvent)
		assert.Contains(t, event.Reason, "consecutive failure")
		assert.NotEmpty(t, event.RecoveryChecklist)
	case <-time.After(time.Second):
		t.Fatal("no emergency event published")
	}
	select {
	case <-alerts:
		t.Fatal("emergency event published more than once")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCompletedResetsStreak(t *testing.T) {
	c, _ := newTestController(t)
	ctx := context.Background()

	c.RecordResult(ctx, result("e1", types.ExecutionFailed, -10))
	c.RecordResult(ctx, result("e2", types.ExecutionFailed, -10))
	assert.Equal(t, 2, c.Failures())

	c.RecordResult(ctx, result("e3", types.ExecutionCompleted, 50))
	assert.Equal(t, 0, c.Failures())
	assert.False(t, c.EmergencyStopped())
}

func TestPartialCountsPerConfigFlag(t *testing.T) {
	c, _ := newTestController(t)
	ctx := context.Background()

	c.RecordResult(ctx, result("e1", types.ExecutionPartial, 5))
	assert.Equal(t, 1, c.Failures(), "partial counts as failure when flagged")

	c2, _ := newTestController(t)
	c2.config.CountPartialAsFailure = false
	c2.RecordResult(ctx, result("e1", types.ExecutionPartial, 5))
	assert.Equal(t, 0, c2.Failures(), "partial ignored when flag is off")
}

func TestPnLDeduplicatedByExecutionID(t *testing.T) {
	c, _ := newTestController(t)
	ctx := context.Background()

	r := result("same-id", types.ExecutionCompleted, 100)
	c.RecordResult(ctx, r)
	c.RecordResult(ctx, r)

	assert.InDelta(t, 100.0, c.DayPnL(), 1e-9, "same UUID must update PnL exactly once")
}

func TestResetDay(t *testing.T) {
	c, _ := newTestController(t)
	ctx := context.Background()

	c.RecordResult(ctx, result("e1", types.ExecutionCompleted, -500))
	require.InDelta(t, -500.0, c.DayPnL(), 1e-9)

	c.ResetDay()
	assert.Zero(t, c.DayPnL())
}

func TestClearEmergencyStopIsManual(t *testing.T) {
	c, _ := newTestController(t)
	ctx := context.Background()

	c.TriggerEmergencyStop(ctx, "test")
	require.True(t, c.EmergencyStopped())

	// A profitable completed execution does not clear the latch.
	c.RecordResult(ctx, result("e1", types.ExecutionCompleted, 1_000))
	assert.True(t, c.EmergencyStopped())

	c.ClearEmergencyStop()
	assert.False(t, c.EmergencyStopped())
}

func TestMarketStateRaisesRisk(t *testing.T) {
	c, _ := newTestController(t)
	ctx := context.Background()

	normal := c.Evaluate(ctx, testOpp(20, 50_000))
	c.SetMarketState(types.MarketStateExtreme)
	extreme := c.Evaluate(ctx, testOpp(20, 50_000))

	assert.Greater(t, extreme.RiskScore, normal.RiskScore)
}

func TestSnapshotsRing(t *testing.T) {
	c, _ := newTestController(t)
	ctx := context.Background()

	for i := 0; i < 1100; i++ {
		c.Evaluate(ctx, testOpp(20, 50_000))
	}

	snaps := c.Snapshots()
	assert.Len(t, snaps, 1000)
}
