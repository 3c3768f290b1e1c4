// Package feed maintains per-venue WebSocket subscriptions with REST
// fallback, normalizes venue messages into OrderBook and Trade events, and
// publishes validated books to the aggregator's lock-free book table.
package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/arbiterlabs/arbiter/pkg/types"
)

var errReconnectExhausted = errors.New("reconnect attempts exhausted")

// connState is the adapter's connection state machine.
type connState int32

const (
	stateDisconnected connState = iota
	stateConnecting
	stateSubscribed
	stateBackoff
)

func (s connState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateSubscribed:
		return "subscribed"
	case stateBackoff:
		return "backoff"
	default:
		return "disconnected"
	}
}

// BookSink receives validated books. The aggregator's book table implements
// it with an atomic publish so adapter writes never block aggregator reads.
type BookSink interface {
	Publish(book *types.OrderBook)
}

// Health is the adapter's probe result: last-message age and sequence
// continuity per the feed contract.
type Health struct {
	Venue          types.Venue
	State          string
	LastMessageAge time.Duration
	SequenceGaps   uint64
	MalformedRate  float64
	Healthy        bool
}

// Adapter maintains one venue's feed: a WebSocket subscription per symbol
// set plus a REST snapshot fallback.
type Adapter struct {
	normalizer Normalizer
	sink       BookSink
	logger     *zap.Logger
	config     Config

	wsURL        string
	reconnectMgr *ReconnectManager

	conn   *websocket.Conn
	connMu sync.RWMutex

	state          atomic.Int32
	lastMsgNano    atomic.Int64
	seqGaps        atomic.Uint64
	malformedCount atomic.Uint64
	startNano      atomic.Int64
	fatal          atomic.Bool

	lastSeq map[string]uint64 // symbol -> last venue sequence
	seqMu   sync.Mutex

	symbols   []types.Symbol
	symbolsMu sync.RWMutex

	tradeChan chan *types.Trade
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// Config holds adapter configuration.
type Config struct {
	WSURL             string
	DialTimeout       time.Duration
	ReconnectInitial  time.Duration
	ReconnectMax      time.Duration
	ReconnectMult     float64
	MaxAttempts       int
	MessageBufferSize int
	SeqGapResync      int
	MalformedRateMax  float64
	StaleAfter        time.Duration
	Logger            *zap.Logger
}

// New creates an adapter for one venue.
func New(cfg Config, normalizer Normalizer, sink BookSink) *Adapter {
	return &Adapter{
		normalizer: normalizer,
		sink:       sink,
		logger:     cfg.Logger.With(zap.String("venue", string(normalizer.Venue()))),
		config:     cfg,
		wsURL:      cfg.WSURL,
		reconnectMgr: NewReconnectManager(ReconnectConfig{
			InitialDelay:      cfg.ReconnectInitial,
			MaxDelay:          cfg.ReconnectMax,
			BackoffMultiplier: cfg.ReconnectMult,
			JitterPercent:     0.2,
			MaxAttempts:       cfg.MaxAttempts,
		}, cfg.Logger),
		lastSeq:   make(map[string]uint64),
		tradeChan: make(chan *types.Trade, cfg.MessageBufferSize),
	}
}

// Venue returns the adapter's venue.
func (a *Adapter) Venue() types.Venue { return a.normalizer.Venue() }

// Start connects and begins streaming. Returns after the initial connection
// attempt; reconnection is handled in the background.
func (a *Adapter) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)
	a.startNano.Store(time.Now().UnixNano())
	a.logger.Info("feed-adapter-starting", zap.String("url", a.wsURL))

	if err := a.connect(a.ctx); err != nil {
		return fmt.Errorf("initial connection: %w", err)
	}

	a.wg.Add(2)
	go a.readLoop()
	go a.superviseLoop()

	return nil
}

// Subscribe adds symbols to the subscription set and sends the subscribe
// payload on the live connection.
func (a *Adapter) Subscribe(symbols []types.Symbol) error {
	a.symbolsMu.Lock()
	a.symbols = append(a.symbols, symbols...)
	all := make([]types.Symbol, len(a.symbols))
	copy(all, a.symbols)
	a.symbolsMu.Unlock()

	return a.sendSubscribe(symbols, len(all) == len(symbols))
}

func (a *Adapter) sendSubscribe(symbols []types.Symbol, initial bool) error {
	if len(symbols) == 0 {
		return nil
	}

	payload, err := a.normalizer.SubscribePayload(symbols)
	if err != nil {
		return fmt.Errorf("build subscribe payload: %w", err)
	}

	a.connMu.RLock()
	conn := a.conn
	a.connMu.RUnlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}

	if err := conn.WriteJSON(payload); err != nil {
		return fmt.Errorf("write subscribe message: %w", err)
	}

	a.logger.Info("subscribed-to-symbols",
		zap.Int("count", len(symbols)),
		zap.Bool("initial", initial))
	return nil
}

// Snapshot pulls a full book over REST, independent of the stream.
func (a *Adapter) Snapshot(ctx context.Context, symbol types.Symbol) (*types.OrderBook, error) {
	book, err := a.normalizer.Snapshot(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if err := a.validateAndTag(book); err != nil {
		return nil, err
	}
	return book, nil
}

// Trades returns the normalized trade stream.
func (a *Adapter) Trades() <-chan *types.Trade { return a.tradeChan }

// HealthProbe reports last-message age, sequence continuity, and malformed
// rate. The feed is marked fatal (unhealthy, process keeps running) only when
// reconnect attempts are exhausted; REST snapshot failures, 4xx included, are
// counted as failed resyncs and do not mark it fatal.
func (a *Adapter) HealthProbe() Health {
	state := connState(a.state.Load())

	var age time.Duration
	if last := a.lastMsgNano.Load(); last > 0 {
		age = time.Duration(time.Now().UnixNano() - last)
	}

	uptime := time.Duration(time.Now().UnixNano() - a.startNano.Load()).Seconds()
	malformedRate := 0.0
	if uptime > 0 {
		malformedRate = float64(a.malformedCount.Load()) / uptime
	}

	healthy := state == stateSubscribed &&
		!a.fatal.Load() &&
		malformedRate <= a.config.MalformedRateMax &&
		(a.config.StaleAfter <= 0 || age <= a.config.StaleAfter)

	return Health{
		Venue:          a.Venue(),
		State:          state.String(),
		LastMessageAge: age,
		SequenceGaps:   a.seqGaps.Load(),
		MalformedRate:  malformedRate,
		Healthy:        healthy,
	}
}

// Stop closes the connection and waits for loops to exit.
func (a *Adapter) Stop() error {
	a.logger.Info("feed-adapter-stopping")
	if a.cancel != nil {
		a.cancel()
	}

	a.connMu.Lock()
	if a.conn != nil {
		_ = a.conn.Close()
	}
	a.connMu.Unlock()

	a.wg.Wait()
	close(a.tradeChan)
	a.setState(stateDisconnected)
	a.logger.Info("feed-adapter-stopped")
	return nil
}

func (a *Adapter) connect(ctx context.Context) error {
	a.setState(stateConnecting)

	dialer := websocket.Dialer{HandshakeTimeout: a.config.DialTimeout}
	conn, _, err := dialer.DialContext(ctx, a.wsURL, nil)
	if err != nil {
		a.setState(stateBackoff)
		return fmt.Errorf("dial: %w", err)
	}

	a.connMu.Lock()
	a.conn = conn
	a.connMu.Unlock()

	a.setState(stateSubscribed)
	a.lastMsgNano.Store(time.Now().UnixNano())
	ConnectedGauge.WithLabelValues(string(a.Venue())).Set(1)
	a.logger.Info("websocket-connected")
	return nil
}

func (a *Adapter) readLoop() {
	defer a.wg.Done()

	for {
		select {
		case <-a.ctx.Done():
			return
		default:
		}

		a.connMu.RLock()
		conn := a.conn
		a.connMu.RUnlock()
		if conn == nil || connState(a.state.Load()) != stateSubscribed {
			time.Sleep(50 * time.Millisecond)
			continue
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-a.ctx.Done():
				return
			default:
			}
			a.logger.Warn("read-error", zap.Error(err))
			a.setState(stateBackoff)
			ConnectedGauge.WithLabelValues(string(a.Venue())).Set(0)
			continue
		}

		a.lastMsgNano.Store(time.Now().UnixNano())
		a.handleFrame(raw)
	}
}

func (a *Adapter) handleFrame(raw []byte) {
	events, err := a.normalizer.Parse(raw)
	if err != nil {
		a.malformedCount.Add(1)
		MalformedMessagesTotal.WithLabelValues(string(a.Venue())).Inc()
		a.logger.Debug("malformed-message", zap.Error(err), zap.Int("bytes", len(raw)))
		return
	}

	for _, ev := range events {
		switch {
		case ev.Book != nil:
			a.handleBook(ev.Book)
		case ev.Trade != nil:
			select {
			case a.tradeChan <- ev.Trade:
			default:
				MessagesDroppedTotal.WithLabelValues(string(a.Venue()), "trade_buffer_full").Inc()
			}
		}
	}
}

func (a *Adapter) handleBook(book *types.OrderBook) {
	if err := a.validateAndTag(book); err != nil {
		a.malformedCount.Add(1)
		InvalidBooksTotal.WithLabelValues(string(a.Venue())).Inc()
		a.logger.Debug("invalid-book", zap.Error(err), zap.Stringer("symbol", book.Symbol))
		return
	}

	stale, gap := a.trackSequence(book)
	if stale {
		MessagesDroppedTotal.WithLabelValues(string(a.Venue()), "stale_sequence").Inc()
		return
	}
	if gap {
		a.seqGaps.Add(1)
		SequenceGapsTotal.WithLabelValues(string(a.Venue())).Inc()
		a.resync(book.Symbol)
		return
	}

	a.sink.Publish(book)
	BooksPublishedTotal.WithLabelValues(string(a.Venue())).Inc()
}

func (a *Adapter) validateAndTag(book *types.OrderBook) error {
	if book.Venue == "" {
		book.Venue = a.Venue()
	}
	if book.Timestamp == 0 {
		book.Timestamp = time.Now().UnixNano()
	}
	if err := book.Validate(); err != nil {
		book.Quality = 0
		return err
	}
	if book.Quality == 0 {
		book.Quality = 1
	}
	return nil
}

// trackSequence enforces strictly increasing sequence per (venue,symbol):
// stale replays are dropped, gaps beyond the threshold force a resync.
func (a *Adapter) trackSequence(book *types.OrderBook) (stale, gap bool) {
	if book.Sequence == 0 {
		return false, false // venue does not publish sequences
	}

	key := book.Symbol.String()
	a.seqMu.Lock()
	defer a.seqMu.Unlock()

	last, ok := a.lastSeq[key]
	if ok && book.Sequence <= last {
		return true, false
	}
	gap = ok && book.Sequence > last+uint64(a.config.SeqGapResync)+1
	a.lastSeq[key] = book.Sequence
	return false, gap
}

// resync replays a REST snapshot after a sequence gap.
func (a *Adapter) resync(symbol types.Symbol) {
	parent := a.ctx
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, 5*time.Second)
	defer cancel()

	book, err := a.normalizer.Snapshot(ctx, symbol)
	if err != nil {
		ResyncsTotal.WithLabelValues(string(a.Venue()), "error").Inc()
		a.logger.Warn("rest-resync-failed", zap.Stringer("symbol", symbol), zap.Error(err))
		return
	}

	if err := a.validateAndTag(book); err != nil {
		ResyncsTotal.WithLabelValues(string(a.Venue()), "invalid").Inc()
		return
	}

	a.seqMu.Lock()
	a.lastSeq[symbol.String()] = book.Sequence
	a.seqMu.Unlock()

	a.sink.Publish(book)
	ResyncsTotal.WithLabelValues(string(a.Venue()), "ok").Inc()
	a.logger.Info("rest-resync-complete", zap.Stringer("symbol", symbol))
}

// superviseLoop drives the Backoff -> Connecting -> Subscribed transitions.
func (a *Adapter) superviseLoop() {
	defer a.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			if connState(a.state.Load()) != stateBackoff {
				continue
			}

			a.logger.Warn("connection-lost-initiating-reconnect")
			err := a.reconnectMgr.Reconnect(a.ctx, a.connect)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				if errors.Is(err, errReconnectExhausted) {
					a.fatal.Store(true)
					a.logger.Error("feed-unhealthy-reconnect-exhausted")
					return
				}
				a.logger.Error("reconnection-failed", zap.Error(err))
				continue
			}

			a.symbolsMu.RLock()
			symbols := make([]types.Symbol, len(a.symbols))
			copy(symbols, a.symbols)
			a.symbolsMu.RUnlock()

			if err := a.sendSubscribe(symbols, true); err != nil {
				a.logger.Error("resubscribe-failed", zap.Error(err))
				a.setState(stateBackoff)
				continue
			}

			// Resync every symbol: deltas lost during the outage cannot be
			// replayed from the stream.
			for _, sym := range symbols {
				a.resync(sym)
			}
		}
	}
}

func (a *Adapter) setState(s connState) {
	a.state.Store(int32(s))
	StateGauge.WithLabelValues(string(a.Venue())).Set(float64(s))
}

// decodeJSON is the shared frame decoder for normalizers.
func decodeJSON(raw []byte, v any) error {
	return json.Unmarshal(raw, v)
}
