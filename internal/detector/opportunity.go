package detector

import (
	"fmt"
	"math/bits"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/arbiterlabs/arbiter/pkg/fixed"
	"github.com/arbiterlabs/arbiter/pkg/types"
)

// Opportunity is a candidate trade emitted by the detector. Net profit is
// positive at emission; the pool drops it at the deadline or on take.
type Opportunity struct {
	ID              string
	Kind            types.StrategyKind
	Symbol          types.Symbol
	Legs            []types.ExecutionLeg
	GrossProfit     fixed.Price
	NetProfit       fixed.Price
	NetProfitBps    float64
	RequiredCapital fixed.Price
	SlippageBps     float64
	DetectedAt      time.Time
	Deadline        time.Time
	Fingerprint     uint64
	SnapshotSeq     uint64
}

// Valid reports the emission invariants: positive net profit, a live
// deadline, and at least one leg. Leg quantities are not checked against
// each other.
func (o *Opportunity) Valid(now time.Time) bool {
	return !o.NetProfit.IsZero() && o.Deadline.After(now) && len(o.Legs) > 0
}

// ProfitRatio is net profit over required capital (both in quote units).
func (o *Opportunity) ProfitRatio() float64 {
	cap := o.RequiredCapital.Float()
	if cap <= 0 {
		return 0
	}
	return o.NetProfit.Float() / cap
}

func (o *Opportunity) String() string {
	return fmt.Sprintf("Opportunity[%s] %s %s net=%s (%.1f bps) legs=%d",
		o.ID[:8], o.Kind, o.Symbol, o.NetProfit, o.NetProfitBps, len(o.Legs))
}

// fingerprint hashes (strategy kind, legs in canonical order, rounded price
// band, rounded quantity band). Economically equivalent opportunities collide
// on purpose so the pool can deduplicate them.
func fingerprint(kind types.StrategyKind, legs []types.ExecutionLeg) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(string(kind))
	for _, leg := range legs {
		_, _ = h.WriteString("|")
		_, _ = h.WriteString(string(leg.Venue))
		_, _ = h.WriteString(leg.Symbol.String())
		_, _ = h.WriteString(string(leg.Side))
		writeUint(h, priceBand(leg.LimitPrice))
		writeUint(h, quantityBand(leg.Quantity))
	}
	return h.Sum64()
}

// priceBand quantizes a price into relative buckets of roughly 10 bps so
// that near-identical quotes share a band: magnitude (bit length) plus the
// top mantissa bits.
func priceBand(p fixed.Price) uint64 {
	return relativeBand(p.Raw(), 11)
}

// quantityBand quantizes a quantity into roughly 1.5% relative buckets.
func quantityBand(q fixed.Quantity) uint64 {
	return relativeBand(q.Raw(), 7)
}

func relativeBand(raw uint64, mantissaBits int) uint64 {
	n := bits.Len64(raw)
	if n <= mantissaBits {
		return raw
	}
	mantissa := (raw >> (n - mantissaBits)) & ((1 << (mantissaBits - 1)) - 1)
	return uint64(n)<<uint(mantissaBits) | mantissa
}

func writeUint(h *xxhash.Digest, v uint64) {
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (8 * i))
	}
	_, _ = h.Write(buf[:])
}

func newOpportunityID() string { return uuid.NewString() }
