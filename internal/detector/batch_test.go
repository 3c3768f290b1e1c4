package detector

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbiterlabs/arbiter/pkg/fixed"
)

func TestComputeSingleCandidate(t *testing.T) {
	// buy 100.0, sell 101.0, volumes 10 and 8, fee 10 bps per side.
	in := &BatchInput{
		BuyPrices:    []fixed.Price{fixed.PriceFromFloat(100)},
		SellPrices:   []fixed.Price{fixed.PriceFromFloat(101)},
		BuyVolumes:   []fixed.Quantity{fixed.QuantityFromFloat(10)},
		SellVolumes:  []fixed.Quantity{fixed.QuantityFromFloat(8)},
		BuyFeeRates:  []fixed.Price{fixed.PriceFromFloat(0.001)},
		SellFeeRates: []fixed.Price{fixed.PriceFromFloat(0.001)},
	}

	out, err := NewScalarEngine().Compute(in)
	require.NoError(t, err)

	// volume = min(10, 8) = 8; gross = 1.0 * 8 = 8.
	assert.InDelta(t, 8.0, out.Volume[0].Float(), 1e-8)
	assert.InDelta(t, 8.0, out.Gross[0].Float(), 1e-6)
	// fee = 100*8*0.001 + 101*8*0.001 = 1.608
	assert.InDelta(t, 1.608, out.Fee[0].Float(), 1e-6)
	assert.InDelta(t, 6.392, out.Net[0].Float(), 1e-6)
}

func TestComputeSaturatesNegativeNet(t *testing.T) {
	// Spread smaller than fees: net clamps to zero.
	in := &BatchInput{
		BuyPrices:    []fixed.Price{fixed.PriceFromFloat(50000)},
		SellPrices:   []fixed.Price{fixed.PriceFromFloat(50020)},
		BuyVolumes:   []fixed.Quantity{fixed.QuantityFromFloat(1)},
		SellVolumes:  []fixed.Quantity{fixed.QuantityFromFloat(1)},
		BuyFeeRates:  []fixed.Price{fixed.PriceFromFloat(0.001)},
		SellFeeRates: []fixed.Price{fixed.PriceFromFloat(0.001)},
	}

	out, err := NewScalarEngine().Compute(in)
	require.NoError(t, err)

	assert.InDelta(t, 20.0, out.Gross[0].Float(), 1e-6)
	assert.InDelta(t, 100.02, out.Fee[0].Float(), 1e-6)
	assert.True(t, out.Net[0].IsZero())
}

func TestComputeInvertedSpread(t *testing.T) {
	in := &BatchInput{
		BuyPrices:    []fixed.Price{fixed.PriceFromFloat(101)},
		SellPrices:   []fixed.Price{fixed.PriceFromFloat(100)},
		BuyVolumes:   []fixed.Quantity{fixed.QuantityFromFloat(1)},
		SellVolumes:  []fixed.Quantity{fixed.QuantityFromFloat(1)},
		BuyFeeRates:  []fixed.Price{fixed.PriceFromFloat(0.001)},
		SellFeeRates: []fixed.Price{fixed.PriceFromFloat(0.001)},
	}

	out, err := NewScalarEngine().Compute(in)
	require.NoError(t, err)
	assert.True(t, out.Gross[0].IsZero())
}

func TestComputeZeroDepth(t *testing.T) {
	// A leg with zero available depth yields volume=0 and net=0.
	in := &BatchInput{
		BuyPrices:    []fixed.Price{fixed.PriceFromFloat(100)},
		SellPrices:   []fixed.Price{fixed.PriceFromFloat(105)},
		BuyVolumes:   []fixed.Quantity{fixed.QuantityFromFloat(0)},
		SellVolumes:  []fixed.Quantity{fixed.QuantityFromFloat(3)},
		BuyFeeRates:  []fixed.Price{fixed.PriceFromFloat(0.001)},
		SellFeeRates: []fixed.Price{fixed.PriceFromFloat(0.001)},
	}

	out, err := NewScalarEngine().Compute(in)
	require.NoError(t, err)
	assert.True(t, out.Volume[0].IsZero())
	assert.True(t, out.Net[0].IsZero())
}

func TestComputeLengthMismatch(t *testing.T) {
	in := &BatchInput{
		BuyPrices:  []fixed.Price{fixed.PriceFromFloat(100)},
		SellPrices: []fixed.Price{},
	}
	_, err := NewScalarEngine().Compute(in)
	assert.Error(t, err)
}

func TestComputeEmptyBatch(t *testing.T) {
	out, err := NewScalarEngine().Compute(&BatchInput{})
	require.NoError(t, err)
	assert.Empty(t, out.Net)
}

// TestWideKernelsMatchScalarBitForBit is the SIMD/scalar agreement property:
// every kernel width must produce identical raw values on the same inputs
// across the full representable range.
func TestWideKernelsMatchScalarBitForBit(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	scalar := NewScalarEngine()
	runtime := NewEngine()

	engines := []*Engine{
		{width: 4, name: "avx2"},
		{width: 8, name: "avx512"},
		runtime,
	}

	const n = 1003 // deliberately not a multiple of any width
	in := &BatchInput{
		BuyPrices:    make([]fixed.Price, n),
		SellPrices:   make([]fixed.Price, n),
		BuyVolumes:   make([]fixed.Quantity, n),
		SellVolumes:  make([]fixed.Quantity, n),
		BuyFeeRates:  make([]fixed.Price, n),
		SellFeeRates: make([]fixed.Price, n),
	}
	for i := 0; i < n; i++ {
		// Mix ordinary magnitudes with extremes near the saturation ceiling.
		if i%97 == 0 {
			in.BuyPrices[i] = fixed.PriceFromRaw(rng.Uint64())
			in.SellPrices[i] = fixed.PriceFromRaw(rng.Uint64())
			in.BuyVolumes[i] = fixed.QuantityFromRaw(rng.Uint64())
			in.SellVolumes[i] = fixed.QuantityFromRaw(rng.Uint64())
		} else {
			in.BuyPrices[i] = fixed.PriceFromFloat(rng.Float64() * 100000)
			in.SellPrices[i] = fixed.PriceFromFloat(rng.Float64() * 100000)
			in.BuyVolumes[i] = fixed.QuantityFromFloat(rng.Float64() * 100)
			in.SellVolumes[i] = fixed.QuantityFromFloat(rng.Float64() * 100)
		}
		in.BuyFeeRates[i] = fixed.PriceFromFloat(rng.Float64() * 0.01)
		in.SellFeeRates[i] = fixed.PriceFromFloat(rng.Float64() * 0.01)
	}

	want, err := scalar.Compute(in)
	require.NoError(t, err)

	for _, engine := range engines {
		t.Run(engine.Kernel(), func(t *testing.T) {
			got, err := engine.Compute(in)
			require.NoError(t, err)
			for i := 0; i < n; i++ {
				require.Equal(t, want.Gross[i].Raw(), got.Gross[i].Raw(), "gross diverged at %d", i)
				require.Equal(t, want.Net[i].Raw(), got.Net[i].Raw(), "net diverged at %d", i)
				require.Equal(t, want.Fee[i].Raw(), got.Fee[i].Raw(), "fee diverged at %d", i)
				require.Equal(t, want.Volume[i].Raw(), got.Volume[i].Raw(), "volume diverged at %d", i)
			}
		})
	}
}

// BenchmarkComputeBatch1000 tracks the 1,000-candidate batch against the
// microsecond-class latency target.
func BenchmarkComputeBatch1000(b *testing.B) {
	rng := rand.New(rand.NewSource(3))
	engine := NewEngine()

	const n = 1000
	in := &BatchInput{
		BuyPrices:    make([]fixed.Price, n),
		SellPrices:   make([]fixed.Price, n),
		BuyVolumes:   make([]fixed.Quantity, n),
		SellVolumes:  make([]fixed.Quantity, n),
		BuyFeeRates:  make([]fixed.Price, n),
		SellFeeRates: make([]fixed.Price, n),
	}
	for i := 0; i < n; i++ {
		in.BuyPrices[i] = fixed.PriceFromFloat(50_000 + rng.Float64()*100)
		in.SellPrices[i] = fixed.PriceFromFloat(50_000 + rng.Float64()*100)
		in.BuyVolumes[i] = fixed.QuantityFromFloat(rng.Float64() * 10)
		in.SellVolumes[i] = fixed.QuantityFromFloat(rng.Float64() * 10)
		in.BuyFeeRates[i] = fixed.PriceFromFloat(0.001)
		in.SellFeeRates[i] = fixed.PriceFromFloat(0.001)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = engine.Compute(in)
	}
}

func TestEngineSelectsSupportedKernel(t *testing.T) {
	e := NewEngine()
	assert.Contains(t, []string{"scalar", "avx2", "avx512"}, e.Kernel())
	assert.Equal(t, "scalar", NewScalarEngine().Kernel())
}
