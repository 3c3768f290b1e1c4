package detector

import (
	"sync/atomic"

	"github.com/arbiterlabs/arbiter/pkg/fixed"
	"github.com/arbiterlabs/arbiter/pkg/types"
)

// FeeTable publishes per-venue taker fee rates as an immutable snapshot
// swapped atomically on fee.update; the detector's hot loop reads lock-free.
type FeeTable struct {
	current atomic.Pointer[map[types.Venue]fixed.Price]
}

// NewFeeTable seeds the table from startup configuration (rates in bps).
func NewFeeTable(takerBps map[types.Venue]float64) *FeeTable {
	t := &FeeTable{}
	m := make(map[types.Venue]fixed.Price, len(takerBps))
	for venue, bps := range takerBps {
		m[venue] = fixed.PriceFromFloat(bps / 10_000)
	}
	t.current.Store(&m)
	return t
}

// Taker returns the current taker rate for a venue (zero if unknown).
func (t *FeeTable) Taker(venue types.Venue) fixed.Price {
	m := t.current.Load()
	if m == nil {
		return fixed.Price{}
	}
	return (*m)[venue]
}

// Apply value-replaces one venue's rates. Copy-on-write keeps readers free of
// partial states.
func (t *FeeTable) Apply(update types.FeeUpdate) {
	old := t.current.Load()
	next := make(map[types.Venue]fixed.Price, len(*old)+1)
	for k, v := range *old {
		next[k] = v
	}
	next[update.Venue] = fixed.PriceFromFloat(update.TakerBps / 10_000)
	t.current.Store(&next)
}
