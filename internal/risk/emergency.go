package risk

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/arbiterlabs/arbiter/pkg/fabric"
)

// StopEvent is published on the emergency topic and kept for the audit
// trail. The recovery checklist tells the operator what to verify before the
// out-of-band clear.
type StopEvent struct {
	Time              time.Time `json:"time"`
	Reason            string    `json:"reason"`
	State             Snapshot  `json:"state"`
	RecoveryChecklist []string  `json:"recovery_checklist"`
}

// TriggerEmergencyStop latches the stop. The first caller wins; the
// procedure runs in order: strategies are notified synchronously, the system
// state is snapshotted, the event is recorded, and the alert goes out.
// Clearing the latch is a manual out-of-band action.
func (c *Controller) TriggerEmergencyStop(ctx context.Context, reason string) {
	if !c.emergency.CompareAndSwap(false, true) {
		return
	}

	EmergencyStopGauge.Set(1)
	EmergencyStopsTotal.Inc()

	// 1. Halt strategies. The publish is synchronous on the critical topic:
	// it returns only after every subscriber has the halt queued.
	event := &StopEvent{
		Time:   time.Now(),
		Reason: reason,
		RecoveryChecklist: []string{
			"confirm no orders remain open at any venue",
			"reconcile venue balances against the position ledger",
			"review the risk snapshot ring for the triggering window",
			"clear the latch via the operations console once reconciled",
		},
	}

	c.mu.Lock()
	dayPnL, _ := c.dayPnL.Float64()
	event.State = Snapshot{
		Time:                event.Time,
		DayPnL:              dayPnL,
		ConsecutiveFailures: c.failures,
		EmergencyStopped:    true,
		Reason:              reason,
	}
	c.mu.Unlock()

	if err := c.fabric.Publish(ctx, fabric.TopicEmergency, event); err != nil {
		c.logger.Error("emergency-halt-publish-failed", zap.Error(err))
	}

	// 2 + 3. Snapshot and record.
	c.record(1, "emergency:"+reason)

	// 4. Alert.
	c.logger.Error("EMERGENCY-STOP-LATCHED",
		zap.String("reason", reason),
		zap.Float64("day-pnl", event.State.DayPnL),
		zap.Int("consecutive-failures", event.State.ConsecutiveFailures),
		zap.Strings("recovery-checklist", event.RecoveryChecklist))
}

// ClearEmergencyStop releases the latch. This is the manual out-of-band
// path only; nothing in the engine calls it.
func (c *Controller) ClearEmergencyStop() {
	if c.emergency.CompareAndSwap(true, false) {
		EmergencyStopGauge.Set(0)
		c.logger.Warn("emergency-stop-cleared")
	}
}
