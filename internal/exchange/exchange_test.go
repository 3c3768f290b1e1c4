package exchange

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/arbiterlabs/arbiter/pkg/fixed"
	"github.com/arbiterlabs/arbiter/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSignerCanonicalAndVerify(t *testing.T) {
	signer := NewSigner("key", "secret")
	signer.now = func() time.Time { return time.UnixMilli(1700000000000) }

	params := url.Values{}
	params.Set("symbol", "BTCUSDT")
	params.Set("side", "BUY")

	signed := signer.Sign(params)

	// Keys are sorted, timestamp injected, signature appended last.
	assert.True(t, strings.HasPrefix(signed, "side=BUY&symbol=BTCUSDT&timestamp=1700000000000&signature="), signed)
	assert.True(t, signer.Verify(signed))

	tampered := strings.Replace(signed, "BUY", "SELL", 1)
	assert.False(t, signer.Verify(tampered))

	other := NewSigner("key", "other-secret")
	assert.False(t, other.Verify(signed))
}

func TestSignerDeterministicForSameInstant(t *testing.T) {
	a := NewSigner("key", "secret")
	b := NewSigner("key", "secret")
	at := func() time.Time { return time.UnixMilli(42) }
	a.now, b.now = at, at

	p1 := url.Values{"x": []string{"1"}}
	p2 := url.Values{"x": []string{"1"}}
	assert.Equal(t, a.Sign(p1), b.Sign(p2))
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	paper := NewPaperClient(PaperConfig{Venue: types.VenueBinance, Logger: zap.NewNop()})

	require.NoError(t, reg.Register(paper))
	assert.Error(t, reg.Register(paper), "duplicate venue must be rejected")

	got, err := reg.Get(types.VenueBinance)
	require.NoError(t, err)
	assert.Equal(t, types.VenueBinance, got.Venue())

	_, err = reg.Get(types.VenueKraken)
	assert.Error(t, err)

	assert.Len(t, reg.Venues(), 1)
}

func TestPaperClientFillsAndIdempotency(t *testing.T) {
	paper := NewPaperClient(PaperConfig{Venue: types.VenueBinance, TakerFee: 0.001, Logger: zap.NewNop()})
	sym := types.MustSymbol("BTC/USDT")
	paper.SetDepth(sym, fixed.QuantityFromFloat(0.4))

	ctx := context.Background()
	req := OrderRequest{
		ClientOrderID: "opp-1-leg-0",
		Symbol:        sym,
		Side:          types.SideBuy,
		Kind:          types.OrderKindLimit,
		Quantity:      fixed.QuantityFromFloat(1.0),
		LimitPrice:    fixed.PriceFromFloat(50200),
	}

	resp, err := paper.PlaceOrder(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatePartiallyFilled, resp.State)
	assert.InDelta(t, 0.4, resp.FilledQty.Float(), 1e-8)
	assert.InDelta(t, 50200*0.4*0.001, resp.Fee.Float(), 1e-3)

	// Same client order id: same terminal status, no second fill.
	again, err := paper.PlaceOrder(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, resp, again)

	// Depth was consumed exactly once.
	resp2, err := paper.PlaceOrder(ctx, OrderRequest{
		ClientOrderID: "opp-1-leg-1",
		Symbol:        sym,
		Side:          types.SideBuy,
		Kind:          types.OrderKindLimit,
		Quantity:      fixed.QuantityFromFloat(0.1),
		LimitPrice:    fixed.PriceFromFloat(50200),
	})
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatePartiallyFilled, resp2.State)
	assert.True(t, resp2.FilledQty.IsZero())
}

func TestPaperClientCancel(t *testing.T) {
	paper := NewPaperClient(PaperConfig{Venue: types.VenueOKX, Logger: zap.NewNop()})
	sym := types.MustSymbol("ETH/USDT")
	paper.SetDepth(sym, fixed.QuantityFromFloat(0.5))

	ctx := context.Background()
	_, err := paper.PlaceOrder(ctx, OrderRequest{
		ClientOrderID: "c1",
		Symbol:        sym,
		Side:          types.SideSell,
		Quantity:      fixed.QuantityFromFloat(1.0),
		LimitPrice:    fixed.PriceFromFloat(3000),
	})
	require.NoError(t, err)

	require.NoError(t, paper.CancelOrder(ctx, sym, "c1"))
	status, err := paper.GetOrderStatus(ctx, sym, "c1")
	require.NoError(t, err)
	assert.Equal(t, types.OrderStateCancelled, status.State)

	// An order against exhausted depth is still accepted (zero fill);
	// cancelling an unknown client order id is an error.
	_, err = paper.PlaceOrder(ctx, OrderRequest{
		ClientOrderID: "c2",
		Symbol:        sym,
		Side:          types.SideSell,
		Quantity:      fixed.QuantityFromFloat(0.1),
		LimitPrice:    fixed.PriceFromFloat(3000),
	})
	require.NoError(t, err)

	assert.Error(t, paper.CancelOrder(ctx, sym, "missing"))
}

func TestBinanceStateMapping(t *testing.T) {
	assert.Equal(t, types.OrderStateFilled, binanceState("FILLED"))
	assert.Equal(t, types.OrderStateCancelled, binanceState("CANCELED"))
	assert.Equal(t, types.OrderStateExpired, binanceState("EXPIRED"))
	assert.Equal(t, types.OrderStateNew, binanceState("weird"))
}

func TestOKXStateMapping(t *testing.T) {
	assert.Equal(t, types.OrderStateFilled, okxState("filled"))
	assert.Equal(t, types.OrderStatePartiallyFilled, okxState("partially_filled"))
	assert.Equal(t, types.OrderStateCancelled, okxState("canceled"))
}
