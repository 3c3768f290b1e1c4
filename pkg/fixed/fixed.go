// Package fixed provides the fixed-point numeric types used on the hot path.
// All price and quantity arithmetic is integer-only: prices carry six decimal
// places, quantities eight. Conversions clamp negatives to zero and saturate
// above the safe ceiling instead of wrapping.
package fixed

import (
	"fmt"
	"math"
	"math/bits"
)

const (
	// PriceScale is the scale factor for Price (six decimal places).
	PriceScale uint64 = 1_000_000

	// QuantityScale is the scale factor for Quantity (eight decimal places).
	QuantityScale uint64 = 100_000_000

	// MaxSafe is the saturation ceiling. Values are kept below int64 range so
	// raw values survive a signed cast at FFI and storage boundaries.
	MaxSafe uint64 = math.MaxInt64
)

// Price is a fixed-point price with six decimal places.
type Price struct {
	raw uint64
}

// Quantity is a fixed-point quantity with eight decimal places.
type Quantity struct {
	raw uint64
}

// PriceFromFloat converts a human decimal into a Price. Negative inputs clamp
// to zero; inputs above the safe range saturate.
func PriceFromFloat(v float64) Price {
	return Price{raw: rawFromFloat(v, PriceScale)}
}

// PriceFromRaw builds a Price from a raw scaled integer, saturating at MaxSafe.
func PriceFromRaw(raw uint64) Price {
	return Price{raw: min(raw, MaxSafe)}
}

// Float returns the price as a float64. Test and reporting use only; the hot
// path never round-trips through floats.
func (p Price) Float() float64 { return float64(p.raw) / float64(PriceScale) }

// Raw returns the underlying scaled integer.
func (p Price) Raw() uint64 { return p.raw }

// IsZero reports whether the price is exactly zero.
func (p Price) IsZero() bool { return p.raw == 0 }

// SaturatingSub returns max(p − o, 0).
func (p Price) SaturatingSub(o Price) Price {
	if p.raw < o.raw {
		return Price{}
	}
	return Price{raw: p.raw - o.raw}
}

// SaturatingAdd returns p + o, saturating at MaxSafe.
func (p Price) SaturatingAdd(o Price) Price {
	s := p.raw + o.raw
	if s < p.raw || s > MaxSafe {
		return Price{raw: MaxSafe}
	}
	return Price{raw: s}
}

// MulRate multiplies a price-denominated amount by a rate expressed as a
// Price (e.g. 0.001 for 10 bps). The product widens to 128 bits before
// rescaling; truncating mid-product is a correctness bug, not an option.
func (p Price) MulRate(rate Price) Price {
	return Price{raw: mulDiv(p.raw, rate.raw, PriceScale)}
}

// MulQuantity returns p × q rescaled back to price units, widening to 128
// bits for the intermediate product.
func (p Price) MulQuantity(q Quantity) Price {
	return Price{raw: mulDiv(p.raw, q.raw, QuantityScale)}
}

// Min returns the smaller of two prices.
func (p Price) Min(o Price) Price {
	if o.raw < p.raw {
		return o
	}
	return p
}

// Cmp compares two prices: -1 if p < o, 0 if equal, 1 if p > o.
func (p Price) Cmp(o Price) int {
	switch {
	case p.raw < o.raw:
		return -1
	case p.raw > o.raw:
		return 1
	default:
		return 0
	}
}

// Bps expresses p as basis points of base. Returns 0 when base is zero.
func (p Price) Bps(base Price) int64 {
	if base.raw == 0 {
		return 0
	}
	return int64(mulDiv(p.raw, 10_000*PriceScale, PriceScale) / base.raw)
}

func (p Price) String() string { return fmt.Sprintf("%.6f", p.Float()) }

// QuantityFromFloat converts a human decimal into a Quantity with the same
// clamp-and-saturate behavior as PriceFromFloat.
func QuantityFromFloat(v float64) Quantity {
	return Quantity{raw: rawFromFloat(v, QuantityScale)}
}

// QuantityFromRaw builds a Quantity from a raw scaled integer.
func QuantityFromRaw(raw uint64) Quantity {
	return Quantity{raw: min(raw, MaxSafe)}
}

// Float returns the quantity as a float64.
func (q Quantity) Float() float64 { return float64(q.raw) / float64(QuantityScale) }

// Raw returns the underlying scaled integer.
func (q Quantity) Raw() uint64 { return q.raw }

// IsZero reports whether the quantity is exactly zero.
func (q Quantity) IsZero() bool { return q.raw == 0 }

// Min returns the smaller of two quantities.
func (q Quantity) Min(o Quantity) Quantity {
	if o.raw < q.raw {
		return o
	}
	return q
}

// SaturatingSub returns max(q − o, 0).
func (q Quantity) SaturatingSub(o Quantity) Quantity {
	if q.raw < o.raw {
		return Quantity{}
	}
	return Quantity{raw: q.raw - o.raw}
}

// SaturatingAdd returns q + o, saturating at MaxSafe.
func (q Quantity) SaturatingAdd(o Quantity) Quantity {
	s := q.raw + o.raw
	if s < q.raw || s > MaxSafe {
		return Quantity{raw: MaxSafe}
	}
	return Quantity{raw: s}
}

// MulRate scales a quantity by a rate expressed as a Price.
func (q Quantity) MulRate(rate Price) Quantity {
	return Quantity{raw: mulDiv(q.raw, rate.raw, PriceScale)}
}

// DivPrice converts a quantity across assets at the given price (q ÷ p),
// widening to 128 bits. A zero price yields a zero quantity.
func (q Quantity) DivPrice(p Price) Quantity {
	if p.IsZero() {
		return Quantity{}
	}
	return Quantity{raw: mulDiv(q.raw, PriceScale, p.raw)}
}

func (q Quantity) String() string { return fmt.Sprintf("%.8f", q.Float()) }

// QuantityFromNotional converts a quote-denominated amount into a base
// quantity at the given price (amount ÷ price), widening to 128 bits.
// A zero price yields a zero quantity.
func QuantityFromNotional(amount, price Price) Quantity {
	if price.IsZero() {
		return Quantity{}
	}
	return Quantity{raw: mulDiv(amount.raw, QuantityScale, price.raw)}
}

func rawFromFloat(v float64, scale uint64) uint64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > float64(MaxSafe)/float64(scale) {
		return MaxSafe
	}
	return uint64(v * float64(scale))
}

// mulDiv computes a*b/div with a full 128-bit intermediate, saturating the
// result at MaxSafe.
func mulDiv(a, b, div uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	if hi >= div {
		return MaxSafe
	}
	quo, _ := bits.Div64(hi, lo, div)
	return min(quo, MaxSafe)
}
