package detector

import (
	"sync/atomic"

	"github.com/arbiterlabs/arbiter/pkg/types"
)

// thresholdSnapshot is the immutable state behind DynamicThreshold.
type thresholdSnapshot struct {
	byState     map[types.MarketState]float64
	state       types.MarketState
	successRate float64
}

// DynamicThreshold is the minimum net-profit threshold (bps) the detector
// compares against. It is a function of the market regime, the historical
// success rate, and the configured base values; the adaptive component that
// produces regime and success rate lives outside the core and feeds updates
// over the fabric.
type DynamicThreshold struct {
	current atomic.Pointer[thresholdSnapshot]
}

// NewDynamicThreshold seeds per-state base thresholds.
func NewDynamicThreshold(normal, cautious, extreme float64) *DynamicThreshold {
	t := &DynamicThreshold{}
	t.current.Store(&thresholdSnapshot{
		byState: map[types.MarketState]float64{
			types.MarketStateNormal:   normal,
			types.MarketStateCautious: cautious,
			types.MarketStateExtreme:  extreme,
		},
		state:       types.MarketStateNormal,
		successRate: 0.5,
	})
	return t
}

// Bps returns the current effective threshold in basis points. A high
// historical success rate relaxes the base by up to 20%, a poor one tightens
// it by up to 20%.
func (t *DynamicThreshold) Bps() float64 {
	s := t.current.Load()
	base := s.byState[s.state]
	return base * (1.2 - 0.4*s.successRate)
}

// State returns the current market regime.
func (t *DynamicThreshold) State() types.MarketState {
	return t.current.Load().state
}

// SetState swaps the market regime.
func (t *DynamicThreshold) SetState(state types.MarketState) {
	t.mutate(func(s *thresholdSnapshot) { s.state = state })
}

// SetSuccessRate records the externally computed success rate in [0,1].
func (t *DynamicThreshold) SetSuccessRate(rate float64) {
	if rate < 0 {
		rate = 0
	}
	if rate > 1 {
		rate = 1
	}
	t.mutate(func(s *thresholdSnapshot) { s.successRate = rate })
}

// Apply value-replaces the base threshold for one market state.
func (t *DynamicThreshold) Apply(update types.ThresholdUpdate) {
	t.mutate(func(s *thresholdSnapshot) { s.byState[update.State] = update.Bps })
}

func (t *DynamicThreshold) mutate(fn func(*thresholdSnapshot)) {
	for {
		old := t.current.Load()
		next := &thresholdSnapshot{
			byState:     make(map[types.MarketState]float64, len(old.byState)),
			state:       old.state,
			successRate: old.successRate,
		}
		for k, v := range old.byState {
			next.byState[k] = v
		}
		fn(next)
		if t.current.CompareAndSwap(old, next) {
			return
		}
	}
}
