package fixed

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriceFromFloat(t *testing.T) {
	tests := []struct {
		name    string
		input   float64
		wantRaw uint64
	}{
		{name: "zero", input: 0, wantRaw: 0},
		{name: "negative-clamps-to-zero", input: -12.5, wantRaw: 0},
		{name: "nan-clamps-to-zero", input: math.NaN(), wantRaw: 0},
		{name: "one", input: 1.0, wantRaw: 1_000_000},
		{name: "btc-like-price", input: 50000.0, wantRaw: 50_000_000_000},
		{name: "six-decimals", input: 0.000001, wantRaw: 1},
		{name: "overflow-saturates", input: 1e30, wantRaw: MaxSafe},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantRaw, PriceFromFloat(tt.input).Raw())
		})
	}
}

func TestPriceRoundTrip(t *testing.T) {
	// PriceFromFloat(x).Float() stays within 1e-6·max(1, x/1e6) + 1e-6 of x
	// across [0, 1e12).
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 10000; i++ {
		x := rng.Float64() * 1e12
		got := PriceFromFloat(x).Float()
		require.InDelta(t, x, got, 1e-6*math.Max(1, x/1e6)+1e-6,
			"round trip diverged for %v", x)
	}
}

func TestPriceSaturatingSub(t *testing.T) {
	a := PriceFromFloat(10.5)
	b := PriceFromFloat(8.3)

	assert.InDelta(t, 2.2, a.SaturatingSub(b).Float(), 1e-6)
	assert.True(t, b.SaturatingSub(a).IsZero(), "underflow must clamp to zero")
}

func TestPriceMulQuantityWidens(t *testing.T) {
	// A product that overflows 64 bits mid-computation is caught by the
	// 128-bit intermediate and saturates instead of wrapping.
	price := PriceFromFloat(100_000)        // 1e11 raw
	qty := QuantityFromFloat(1_000_000_000) // 1e17 raw; raw product is 1e28

	got := price.MulQuantity(qty)
	assert.Equal(t, MaxSafe, got.Raw(), "notional beyond the ceiling saturates")

	// A representable product is exact.
	p2 := PriceFromFloat(50_000)
	q2 := QuantityFromFloat(1.5)
	assert.InDelta(t, 75_000.0, p2.MulQuantity(q2).Float(), 1e-6)
}

func TestPriceMulRate(t *testing.T) {
	gross := PriceFromFloat(200.0)
	rate := PriceFromFloat(0.001) // 10 bps

	assert.InDelta(t, 0.2, gross.MulRate(rate).Float(), 1e-6)
	assert.True(t, Price{}.MulRate(rate).IsZero())
}

func TestPriceBps(t *testing.T) {
	profit := PriceFromFloat(99.8)
	capital := PriceFromFloat(50_000)

	// 99.8 / 50000 = 19.96 bps, integer-truncated.
	assert.Equal(t, int64(19), profit.Bps(capital))
	assert.Equal(t, int64(0), profit.Bps(Price{}))
}

func TestQuantityMinAndSub(t *testing.T) {
	a := QuantityFromFloat(1.0)
	b := QuantityFromFloat(0.4)

	assert.Equal(t, b, a.Min(b))
	assert.InDelta(t, 0.6, a.SaturatingSub(b).Float(), 1e-8)
	assert.True(t, b.SaturatingSub(a).IsZero())
}

func TestSaturatingAdd(t *testing.T) {
	assert.Equal(t, MaxSafe, PriceFromRaw(MaxSafe).SaturatingAdd(PriceFromFloat(1)).Raw())
	assert.Equal(t, MaxSafe, QuantityFromRaw(MaxSafe).SaturatingAdd(QuantityFromFloat(1)).Raw())
	assert.InDelta(t, 3.0, PriceFromFloat(1).SaturatingAdd(PriceFromFloat(2)).Float(), 1e-6)
}
