package feed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arbiterlabs/arbiter/pkg/fixed"
	"github.com/arbiterlabs/arbiter/pkg/types"
)

type captureSink struct {
	mu    sync.Mutex
	books []*types.OrderBook
}

func (s *captureSink) Publish(book *types.OrderBook) {
	s.mu.Lock()
	s.books = append(s.books, book)
	s.mu.Unlock()
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.books)
}

func newTestAdapter(t *testing.T, n Normalizer, sink BookSink) *Adapter {
	t.Helper()
	return New(Config{
		WSURL:             "ws://unused",
		DialTimeout:       time.Second,
		ReconnectInitial:  time.Millisecond,
		ReconnectMax:      10 * time.Millisecond,
		ReconnectMult:     2,
		MaxAttempts:       3,
		MessageBufferSize: 16,
		SeqGapResync:      1,
		MalformedRateMax:  100,
		StaleAfter:        time.Minute,
		Logger:            zap.NewNop(),
	}, n, sink)
}

func TestBinanceParseDepthFrame(t *testing.T) {
	n := NewBinanceNormalizer("http://unused")
	_, err := n.SubscribePayload([]types.Symbol{types.MustSymbol("BTC/USDT")})
	require.NoError(t, err)

	raw := []byte(`{"stream":"btcusdt@depth20@100ms","data":{"lastUpdateId":42,` +
		`"bids":[["50000.00","1.0"],["49999.00","2.0"]],` +
		`"asks":[["50001.00","1.5"],["50002.00","0.5"]]}}`)

	events, err := n.Parse(raw)
	require.NoError(t, err)
	require.Len(t, events, 1)

	book := events[0].Book
	require.NotNil(t, book)
	assert.Equal(t, types.VenueBinance, book.Venue)
	assert.Equal(t, "BTC/USDT", book.Symbol.String())
	assert.Equal(t, uint64(42), book.Sequence)
	require.Len(t, book.Bids, 2)
	assert.InDelta(t, 50000.0, book.Bids[0].Price.Float(), 1e-6)
	assert.NoError(t, book.Validate())
}

func TestBinanceParseTradeFrame(t *testing.T) {
	n := NewBinanceNormalizer("http://unused")
	_, err := n.SubscribePayload([]types.Symbol{types.MustSymbol("BTC/USDT")})
	require.NoError(t, err)

	raw := []byte(`{"stream":"btcusdt@trade","data":{"e":"trade","s":"BTCUSDT",` +
		`"p":"50000.5","q":"0.25","m":false,"E":1700000000000}}`)

	events, err := n.Parse(raw)
	require.NoError(t, err)
	require.Len(t, events, 1)

	trade := events[0].Trade
	require.NotNil(t, trade)
	assert.Equal(t, types.SideBuy, trade.Side)
	assert.InDelta(t, 50000.5, trade.Price.Float(), 1e-6)
	assert.InDelta(t, 0.25, trade.Quantity.Float(), 1e-8)
}

func TestBinanceParseAckAndMalformed(t *testing.T) {
	n := NewBinanceNormalizer("http://unused")

	events, err := n.Parse([]byte(`{"result":null,"id":1}`))
	require.NoError(t, err)
	assert.Empty(t, events)

	_, err = n.Parse([]byte(`{not json`))
	assert.Error(t, err)

	_, err = n.Parse([]byte(`{"stream":"btcusdt@depth20@100ms","data":{"bids":[["x","1"]],"asks":[]}}`))
	assert.Error(t, err, "non-numeric price is malformed")
}

func TestOKXParseBooksFrame(t *testing.T) {
	n := NewOKXNormalizer("http://unused")

	raw := []byte(`{"arg":{"channel":"books5","instId":"ETH-USDT"},"data":[{` +
		`"bids":[["3000.1","5","0","2"]],"asks":[["3000.5","4","0","1"]],"seqId":7}]}`)

	events, err := n.Parse(raw)
	require.NoError(t, err)
	require.Len(t, events, 1)

	book := events[0].Book
	assert.Equal(t, types.VenueOKX, book.Venue)
	assert.Equal(t, "ETH/USDT", book.Symbol.String())
	assert.Equal(t, uint64(7), book.Sequence)
	assert.InDelta(t, 3000.1, book.Bids[0].Price.Float(), 1e-6)
}

func TestOKXParseTradesAndAck(t *testing.T) {
	n := NewOKXNormalizer("http://unused")

	events, err := n.Parse([]byte(`{"event":"subscribe","arg":{"channel":"books5","instId":"ETH-USDT"}}`))
	require.NoError(t, err)
	assert.Empty(t, events)

	raw := []byte(`{"arg":{"channel":"trades","instId":"ETH-USDT"},"data":[{` +
		`"px":"3000.2","sz":"1.5","side":"sell","ts":"1700000000000"}]}`)
	events, err = n.Parse(raw)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, types.SideSell, events[0].Trade.Side)
}

func TestKrakenParseBookFrame(t *testing.T) {
	n := NewKrakenNormalizer("http://unused")

	raw := []byte(`{"channel":"book","type":"snapshot","data":[{"symbol":"BTC/USD",` +
		`"bids":[{"price":50000,"qty":1.5}],"asks":[{"price":50010,"qty":2}],"checksum":99}]}`)

	events, err := n.Parse(raw)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, types.VenueKraken, events[0].Book.Venue)
	assert.InDelta(t, 50010.0, events[0].Book.Asks[0].Price.Float(), 1e-6)
}

func TestAdapterHandleBookValidationAndSequence(t *testing.T) {
	sink := &captureSink{}
	n := NewBinanceNormalizer("http://unused")
	a := newTestAdapter(t, n, sink)

	good := &types.OrderBook{
		Venue:    types.VenueBinance,
		Symbol:   types.MustSymbol("BTC/USDT"),
		Sequence: 1,
		Bids:     []types.OrderBookLevel{level(50000, 1)},
		Asks:     []types.OrderBookLevel{level(50001, 1)},
	}
	a.handleBook(good)
	assert.Equal(t, 1, sink.count())

	// Crossed book is rejected and counted.
	crossed := &types.OrderBook{
		Venue:    types.VenueBinance,
		Symbol:   types.MustSymbol("BTC/USDT"),
		Sequence: 2,
		Bids:     []types.OrderBookLevel{level(50010, 1)},
		Asks:     []types.OrderBookLevel{level(50001, 1)},
	}
	a.handleBook(crossed)
	assert.Equal(t, 1, sink.count())
	assert.Equal(t, uint64(1), a.malformedCount.Load())

	// Contiguous sequence publishes.
	next := *good
	next.Sequence = 2
	a.handleBook(&next)
	assert.Equal(t, 2, sink.count())

	// A gapped sequence triggers a resync instead of a publish. The REST
	// call fails against the unused endpoint, so nothing new is published.
	gapped := *good
	gapped.Sequence = 10
	a.handleBook(&gapped)
	assert.Equal(t, 2, sink.count())
	assert.Equal(t, uint64(1), a.seqGaps.Load())
}

func TestAdapterHealthProbe(t *testing.T) {
	a := newTestAdapter(t, NewBinanceNormalizer("http://unused"), &captureSink{})
	a.startNano.Store(time.Now().UnixNano())

	h := a.HealthProbe()
	assert.Equal(t, "disconnected", h.State)
	assert.False(t, h.Healthy)

	a.setState(stateSubscribed)
	a.lastMsgNano.Store(time.Now().UnixNano())
	h = a.HealthProbe()
	assert.True(t, h.Healthy)
	assert.Less(t, h.LastMessageAge, time.Second)

	a.fatal.Store(true)
	assert.False(t, a.HealthProbe().Healthy)
}

func TestReconnectManagerExhaustion(t *testing.T) {
	rm := NewReconnectManager(ReconnectConfig{
		InitialDelay:      time.Millisecond,
		MaxDelay:          4 * time.Millisecond,
		BackoffMultiplier: 2,
		JitterPercent:     0.2,
		MaxAttempts:       3,
	}, zap.NewNop())

	attempts := 0
	err := rm.Reconnect(context.Background(), func(ctx context.Context) error {
		attempts++
		return errors.New("refused")
	})
	require.ErrorIs(t, err, errReconnectExhausted)
	assert.Equal(t, 3, attempts)
}

func TestReconnectManagerSucceedsAndResets(t *testing.T) {
	rm := NewReconnectManager(ReconnectConfig{
		InitialDelay:      time.Millisecond,
		MaxDelay:          4 * time.Millisecond,
		BackoffMultiplier: 2,
		JitterPercent:     0.2,
		MaxAttempts:       5,
	}, zap.NewNop())

	attempts := 0
	err := rm.Reconnect(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("refused")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func level(p, q float64) types.OrderBookLevel {
	return types.OrderBookLevel{
		Price:    fixed.PriceFromFloat(p),
		Quantity: fixed.QuantityFromFloat(q),
	}
}
