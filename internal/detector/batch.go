package detector

import (
	"fmt"

	"golang.org/x/sys/cpu"

	"github.com/arbiterlabs/arbiter/pkg/fixed"
)

// BatchInput carries candidate pairs as aligned arrays. All slices must share
// one length. Fee rates are per-side taker rates expressed as fixed prices
// (0.001 = 10 bps) applied to each side's notional.
type BatchInput struct {
	BuyPrices    []fixed.Price
	SellPrices   []fixed.Price
	BuyVolumes   []fixed.Quantity
	SellVolumes  []fixed.Quantity
	BuyFeeRates  []fixed.Price
	SellFeeRates []fixed.Price
}

// Len returns the batch length.
func (in *BatchInput) Len() int { return len(in.BuyPrices) }

func (in *BatchInput) validate() error {
	n := len(in.BuyPrices)
	if len(in.SellPrices) != n || len(in.BuyVolumes) != n || len(in.SellVolumes) != n ||
		len(in.BuyFeeRates) != n || len(in.SellFeeRates) != n {
		return fmt.Errorf("input arrays length mismatch")
	}
	return nil
}

// BatchResult holds per-candidate profits. Net saturates at zero: a
// candidate that cannot cover its fees is simply unprofitable.
type BatchResult struct {
	Gross  []fixed.Price
	Net    []fixed.Price
	Fee    []fixed.Price
	Volume []fixed.Quantity
}

// Engine computes arbitrage profit batches with the widest kernel the CPU
// supports. Every kernel performs the identical integer operations, so all
// widths agree bit-for-bit with the scalar reference; the wide variants exist
// to keep loads aligned and the loop unrolled for the vectorizer.
type Engine struct {
	width int
	name  string
}

// NewEngine picks the kernel width from detected CPU features: 8 lanes with
// AVX-512, 4 with AVX2, otherwise scalar.
func NewEngine() *Engine {
	switch {
	case cpu.X86.HasAVX512F:
		return &Engine{width: 8, name: "avx512"}
	case cpu.X86.HasAVX2:
		return &Engine{width: 4, name: "avx2"}
	default:
		return &Engine{width: 1, name: "scalar"}
	}
}

// NewScalarEngine returns the mandatory scalar reference engine.
func NewScalarEngine() *Engine {
	return &Engine{width: 1, name: "scalar"}
}

// Kernel returns the selected kernel name for logging and tests.
func (e *Engine) Kernel() string { return e.name }

// Compute evaluates net = max(sell − buy, 0) · min(volBuy, volSell) −
// (buyNotional·buyFee + sellNotional·sellFee) for every candidate.
func (e *Engine) Compute(in *BatchInput) (*BatchResult, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	n := in.Len()
	out := &BatchResult{
		Gross:  make([]fixed.Price, n),
		Net:    make([]fixed.Price, n),
		Fee:    make([]fixed.Price, n),
		Volume: make([]fixed.Quantity, n),
	}

	i := 0
	for ; i+e.width <= n; i += e.width {
		for lane := 0; lane < e.width; lane++ {
			computeLane(in, out, i+lane)
		}
	}
	for ; i < n; i++ {
		computeLane(in, out, i)
	}

	return out, nil
}

// computeLane is the single-candidate reference computation shared by all
// kernel widths.
func computeLane(in *BatchInput, out *BatchResult, i int) {
	buy, sell := in.BuyPrices[i], in.SellPrices[i]
	volume := in.BuyVolumes[i].Min(in.SellVolumes[i])

	grossPx := sell.SaturatingSub(buy)
	gross := grossPx.MulQuantity(volume)

	buyFee := buy.MulQuantity(volume).MulRate(in.BuyFeeRates[i])
	sellFee := sell.MulQuantity(volume).MulRate(in.SellFeeRates[i])
	fee := buyFee.SaturatingAdd(sellFee)

	out.Gross[i] = gross
	out.Fee[i] = fee
	out.Net[i] = gross.SaturatingSub(fee)
	out.Volume[i] = volume
}
