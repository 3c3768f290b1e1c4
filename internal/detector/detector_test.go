package detector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arbiterlabs/arbiter/internal/marketdata"
	"github.com/arbiterlabs/arbiter/pkg/fabric"
	"github.com/arbiterlabs/arbiter/pkg/fixed"
	"github.com/arbiterlabs/arbiter/pkg/types"
)

var btcUSDT = types.MustSymbol("BTC/USDT")

func bookWith(venue types.Venue, symbol types.Symbol, bid, bidQty, ask, askQty float64) *types.OrderBook {
	book := &types.OrderBook{
		Venue:     venue,
		Symbol:    symbol,
		Timestamp: time.Now().UnixNano(),
		Sequence:  1,
		Quality:   1,
	}
	if bid > 0 {
		book.Bids = []types.OrderBookLevel{{Price: fixed.PriceFromFloat(bid), Quantity: fixed.QuantityFromFloat(bidQty)}}
	}
	if ask > 0 {
		book.Asks = []types.OrderBookLevel{{Price: fixed.PriceFromFloat(ask), Quantity: fixed.QuantityFromFloat(askQty)}}
	}
	return book
}

func snapshotOf(books ...*types.OrderBook) *types.NormalizedSnapshot {
	byVenue := make(map[types.Venue]*types.OrderBook, len(books))
	for _, b := range books {
		byVenue[b.Venue] = b
	}
	return &types.NormalizedSnapshot{
		Symbol:    books[0].Symbol,
		Timestamp: time.Now().UnixNano(),
		Sequence:  1,
		Books:     byVenue,
		Quality:   1,
	}
}

func newTestDetector(t *testing.T, thresholdBps float64, triangles ...Triangle) (*Detector, *marketdata.BookTable) {
	t.Helper()

	books := marketdata.NewBookTable()
	bus := fabric.New(fabric.Config{QueueDepth: 64, Logger: zap.NewNop()})
	t.Cleanup(bus.Close)

	fees := NewFeeTable(map[types.Venue]float64{
		types.VenueBinance: 10,
		types.VenueOKX:     10,
	})
	threshold := NewDynamicThreshold(thresholdBps, thresholdBps*2, thresholdBps*5)
	threshold.SetSuccessRate(0.5) // neutral multiplier

	d := New(Config{
		Symbols:            []types.Symbol{btcUSDT},
		CrossVenueValidity: 3 * time.Second,
		TriangularValidity: time.Second,
		SlipFactorBps:      2,
		SlipDepthAlpha:     0.5,
		Triangles:          triangles,
		BothRotations:      true,
		Logger:             zap.NewNop(),
	}, NewScalarEngine(), fees, threshold, books, bus)
	return d, books
}

func TestCrossVenueSpreadFilteredByFees(t *testing.T) {
	// Scenario: A ask 50000×1.0, B bid 50020×1.0, 10 bps each side.
	// gross=20, fees=100.02, net saturates to zero: no opportunity.
	d, _ := newTestDetector(t, 5)

	snap := snapshotOf(
		bookWith(types.VenueBinance, btcUSDT, 49990, 1, 50000, 1),
		bookWith(types.VenueOKX, btcUSDT, 50020, 1, 50030, 1),
	)

	opps := d.detectCrossVenue(snap)
	assert.Empty(t, opps)
}

func TestCrossVenueSpreadAdmitted(t *testing.T) {
	// Scenario: B bid 50200×1.0 -> gross=200, fees~100.2, net~99.8 (~20 bps).
	d, _ := newTestDetector(t, 5)

	snap := snapshotOf(
		bookWith(types.VenueBinance, btcUSDT, 49990, 1, 50000, 1),
		bookWith(types.VenueOKX, btcUSDT, 50200, 1, 50210, 1),
	)

	opps := d.detectCrossVenue(snap)
	require.Len(t, opps, 1)

	opp := opps[0]
	assert.Equal(t, types.StrategyCrossVenue, opp.Kind)
	assert.InDelta(t, 200.0, opp.GrossProfit.Float(), 1e-6)
	assert.InDelta(t, 99.8, opp.NetProfit.Float(), 1e-3)
	assert.InDelta(t, 19.0, opp.NetProfitBps, 1.5)
	assert.InDelta(t, 50000.0, opp.RequiredCapital.Float(), 1e-6)
	assert.True(t, opp.Deadline.After(opp.DetectedAt))

	// Legs in declared order: buy on the cheap venue, sell on the rich one.
	require.Len(t, opp.Legs, 2)
	assert.Equal(t, types.SideBuy, opp.Legs[0].Side)
	assert.Equal(t, types.VenueBinance, opp.Legs[0].Venue)
	assert.Equal(t, types.SideSell, opp.Legs[1].Side)
	assert.Equal(t, types.VenueOKX, opp.Legs[1].Venue)
	assert.True(t, opp.Valid(time.Now()))
}

func TestCrossVenueZeroDepthFiltered(t *testing.T) {
	d, _ := newTestDetector(t, 5)

	snap := snapshotOf(
		bookWith(types.VenueBinance, btcUSDT, 49990, 1, 50000, 0),
		bookWith(types.VenueOKX, btcUSDT, 50200, 1, 50210, 1),
	)

	// Binance's ask has zero depth: buying there is impossible, and the
	// reverse direction has no positive spread.
	opps := d.detectCrossVenue(snap)
	assert.Empty(t, opps)
}

func TestCrossVenueBelowDynamicThreshold(t *testing.T) {
	// Net ~20 bps but threshold at 50 bps filters it.
	d, _ := newTestDetector(t, 50)

	snap := snapshotOf(
		bookWith(types.VenueBinance, btcUSDT, 49990, 1, 50000, 1),
		bookWith(types.VenueOKX, btcUSDT, 50200, 1, 50210, 1),
	)

	assert.Empty(t, d.detectCrossVenue(snap))
}

func TestFingerprintStability(t *testing.T) {
	d, _ := newTestDetector(t, 5)

	snap := snapshotOf(
		bookWith(types.VenueBinance, btcUSDT, 49990, 1, 50000, 1),
		bookWith(types.VenueOKX, btcUSDT, 50200, 1, 50210, 1),
	)

	first := d.detectCrossVenue(snap)
	second := d.detectCrossVenue(snap)
	require.Len(t, first, 1)
	require.Len(t, second, 1)

	// Same economics, different UUIDs, identical fingerprints.
	assert.NotEqual(t, first[0].ID, second[0].ID)
	assert.Equal(t, first[0].Fingerprint, second[0].Fingerprint)

	// A materially different price lands in another band.
	moved := snapshotOf(
		bookWith(types.VenueBinance, btcUSDT, 49990, 1, 51000, 1),
		bookWith(types.VenueOKX, btcUSDT, 51300, 1, 51400, 1),
	)
	third := d.detectCrossVenue(moved)
	require.Len(t, third, 1)
	assert.NotEqual(t, first[0].Fingerprint, third[0].Fingerprint)
}

func TestParseTriangle(t *testing.T) {
	tri, err := ParseTriangle("binance:BTC-ETH-USDT")
	require.NoError(t, err)
	assert.Equal(t, types.VenueBinance, tri.Venue)
	assert.Equal(t, "BTC", tri.Base)
	assert.Equal(t, "ETH", tri.Mid)
	assert.Equal(t, "USDT", tri.Quote)

	bq, mb, mq := tri.Pairs()
	assert.Equal(t, "BTC/USDT", bq.String())
	assert.Equal(t, "ETH/BTC", mb.String())
	assert.Equal(t, "ETH/USDT", mq.String())

	_, err = ParseTriangle("BTC-ETH-USDT")
	assert.Error(t, err)
	_, err = ParseTriangle("binance:BTC-ETH")
	assert.Error(t, err)
}

func TestTriangularProfitableRotation(t *testing.T) {
	tri := Triangle{Venue: types.VenueBinance, Base: "BTC", Mid: "ETH", Quote: "USDT"}
	d, books := newTestDetector(t, 3, tri)

	// Reverse rotation (USDT -> ETH -> BTC -> USDT):
	// buy 1 ETH at 3000, sell for 0.0640 BTC, sell BTC at 50000 -> 3200 USDT.
	// Gross ~200 on 3000 (~660 bps), comfortably above fees and threshold.
	books.Publish(bookWith(types.VenueBinance, types.MustSymbol("BTC/USDT"), 50000, 10, 50010, 10))
	books.Publish(bookWith(types.VenueBinance, types.MustSymbol("ETH/BTC"), 0.064, 10, 0.0642, 10))
	books.Publish(bookWith(types.VenueBinance, types.MustSymbol("ETH/USDT"), 2995, 10, 3000, 10))

	snap := snapshotOf(bookWith(types.VenueBinance, btcUSDT, 50000, 10, 50010, 10))
	snap.Symbol = btcUSDT

	opps := d.detectTriangular(snap)
	require.NotEmpty(t, opps)

	var reverse *Opportunity
	for _, o := range opps {
		if o.Legs[0].Symbol.String() == "ETH/USDT" {
			reverse = o
		}
	}
	require.NotNil(t, reverse, "reverse rotation should be profitable")

	assert.Equal(t, types.StrategyTriangular, reverse.Kind)
	require.Len(t, reverse.Legs, 3)
	// Legs in declared order around the triangle.
	assert.Equal(t, types.SideBuy, reverse.Legs[0].Side)
	assert.Equal(t, "ETH/USDT", reverse.Legs[0].Symbol.String())
	assert.Equal(t, types.SideSell, reverse.Legs[1].Side)
	assert.Equal(t, "ETH/BTC", reverse.Legs[1].Symbol.String())
	assert.Equal(t, types.SideSell, reverse.Legs[2].Side)
	assert.Equal(t, "BTC/USDT", reverse.Legs[2].Symbol.String())
	assert.Greater(t, reverse.NetProfitBps, 3.0)
}

func TestTriangularMissingBookSkipped(t *testing.T) {
	tri := Triangle{Venue: types.VenueBinance, Base: "BTC", Mid: "ETH", Quote: "USDT"}
	d, books := newTestDetector(t, 3, tri)

	// Only one of the three pairs has a book.
	books.Publish(bookWith(types.VenueBinance, types.MustSymbol("BTC/USDT"), 50000, 10, 50010, 10))

	snap := snapshotOf(bookWith(types.VenueBinance, btcUSDT, 50000, 10, 50010, 10))
	assert.Empty(t, d.detectTriangular(snap))
}

func TestTriangularRotationToggle(t *testing.T) {
	tri := Triangle{Venue: types.VenueBinance, Base: "BTC", Mid: "ETH", Quote: "USDT"}
	d, books := newTestDetector(t, 3, tri)
	d.config.BothRotations = false

	books.Publish(bookWith(types.VenueBinance, types.MustSymbol("BTC/USDT"), 50000, 10, 50010, 10))
	books.Publish(bookWith(types.VenueBinance, types.MustSymbol("ETH/BTC"), 0.064, 10, 0.0642, 10))
	books.Publish(bookWith(types.VenueBinance, types.MustSymbol("ETH/USDT"), 2995, 10, 3000, 10))

	snap := snapshotOf(bookWith(types.VenueBinance, btcUSDT, 50000, 10, 50010, 10))
	for _, o := range d.detectTriangular(snap) {
		assert.NotEqual(t, "ETH/USDT", o.Legs[0].Symbol.String(),
			"reverse rotation must not run when disabled")
	}
}

func TestFeeTableApply(t *testing.T) {
	fees := NewFeeTable(map[types.Venue]float64{types.VenueBinance: 10})
	assert.InDelta(t, 0.001, fees.Taker(types.VenueBinance).Float(), 1e-9)
	assert.True(t, fees.Taker(types.VenueOKX).IsZero())

	fees.Apply(types.FeeUpdate{Venue: types.VenueOKX, TakerBps: 20})
	assert.InDelta(t, 0.002, fees.Taker(types.VenueOKX).Float(), 1e-9)
	assert.InDelta(t, 0.001, fees.Taker(types.VenueBinance).Float(), 1e-9)
}

func TestDynamicThreshold(t *testing.T) {
	th := NewDynamicThreshold(5, 10, 25)
	th.SetSuccessRate(0.5)
	assert.InDelta(t, 5.0, th.Bps(), 1e-9)

	th.SetState(types.MarketStateCautious)
	assert.InDelta(t, 10.0, th.Bps(), 1e-9)

	th.SetState(types.MarketStateExtreme)
	assert.InDelta(t, 25.0, th.Bps(), 1e-9)

	// Poor success history tightens, good history relaxes.
	th.SetState(types.MarketStateNormal)
	th.SetSuccessRate(0)
	assert.InDelta(t, 6.0, th.Bps(), 1e-9)
	th.SetSuccessRate(1)
	assert.InDelta(t, 4.0, th.Bps(), 1e-9)

	th.Apply(types.ThresholdUpdate{State: types.MarketStateNormal, Bps: 8})
	th.SetSuccessRate(0.5)
	assert.InDelta(t, 8.0, th.Bps(), 1e-9)
}

func TestSlippageEstimate(t *testing.T) {
	d, _ := newTestDetector(t, 5)

	top := fixed.QuantityFromFloat(10)
	assert.Zero(t, d.slippageBps(fixed.QuantityFromFloat(4), top), "within alpha: no slip")
	assert.Greater(t, d.slippageBps(fixed.QuantityFromFloat(9), top), 0.0)
	assert.Zero(t, d.slippageBps(fixed.QuantityFromFloat(1), fixed.Quantity{}))
}
