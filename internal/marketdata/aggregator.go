// Package marketdata merges per-venue order books into per-symbol normalized
// snapshots with quality scoring, on a periodic cadence or on significant
// top-of-book moves.
package marketdata

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/arbiterlabs/arbiter/pkg/fabric"
	"github.com/arbiterlabs/arbiter/pkg/fixed"
	"github.com/arbiterlabs/arbiter/pkg/types"
)

// Aggregator runs one merge loop per symbol. Symbols are independent; the
// per-symbol work is CPU-bound and must not block.
type Aggregator struct {
	books  *BookTable
	fabric *fabric.Fabric
	logger *zap.Logger
	config Config

	sequence atomic.Uint64
	lastMid  sync.Map // symbol string -> uint64 raw mid of last broadcast

	triggers map[string]chan struct{}
	ctx      context.Context
	wg       sync.WaitGroup
}

// Config holds aggregator configuration.
type Config struct {
	Venues          []types.Venue
	Symbols         []types.Symbol
	Cadence         time.Duration
	MoveTriggerBps  float64
	StaleBound      time.Duration
	QualityFloor    float64
	ReferenceVolume float64
	Logger          *zap.Logger
}

// New creates an aggregator over a book table.
func New(cfg Config, books *BookTable, bus *fabric.Fabric) *Aggregator {
	a := &Aggregator{
		books:    books,
		fabric:   bus,
		logger:   cfg.Logger,
		config:   cfg,
		triggers: make(map[string]chan struct{}, len(cfg.Symbols)),
	}
	for _, s := range cfg.Symbols {
		a.triggers[s.String()] = make(chan struct{}, 1)
	}
	books.SetOnPublish(a.onBookPublished)
	return a
}

// Start launches one merge loop per symbol.
func (a *Aggregator) Start(ctx context.Context) error {
	a.ctx = ctx
	a.logger.Info("aggregator-starting",
		zap.Int("symbols", len(a.config.Symbols)),
		zap.Duration("cadence", a.config.Cadence))

	for _, symbol := range a.config.Symbols {
		a.wg.Add(1)
		go a.runSymbol(symbol)
	}
	return nil
}

// Close waits for the merge loops to drain.
func (a *Aggregator) Close() error {
	a.wg.Wait()
	a.logger.Info("aggregator-closed")
	return nil
}

// onBookPublished fires a merge outside the cadence when the top of book
// moved beyond the configured basis-point threshold. Non-blocking.
func (a *Aggregator) onBookPublished(book *types.OrderBook) {
	trigger, ok := a.triggers[book.Symbol.String()]
	if !ok {
		return
	}

	mid := book.Mid()
	if mid.IsZero() {
		return
	}

	lastRaw, ok := a.lastMid.Load(book.Symbol.String())
	if !ok {
		return // nothing broadcast yet; the cadence tick covers warm-up
	}
	last := lastRaw.(uint64)
	if last > 0 {
		moveBps := math.Abs(float64(mid.Raw())-float64(last)) / float64(last) * 10_000
		if moveBps < a.config.MoveTriggerBps {
			return
		}
	}

	select {
	case trigger <- struct{}{}:
	default:
	}
}

func (a *Aggregator) runSymbol(symbol types.Symbol) {
	defer a.wg.Done()

	ticker := time.NewTicker(a.config.Cadence)
	defer ticker.Stop()

	trigger := a.triggers[symbol.String()]

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			a.merge(symbol, "cadence")
		case <-trigger:
			a.merge(symbol, "move")
		}
	}
}

// merge implements the §4.2 algorithm: gather fresh books, weighted mid,
// summed volumes, quality score, broadcast above the floor.
func (a *Aggregator) merge(symbol types.Symbol, cause string) {
	start := time.Now()
	now := start.UnixNano()

	gathered := a.books.Gather(symbol, a.config.Venues)

	fresh := make(map[types.Venue]*types.OrderBook, len(gathered))
	for venue, book := range gathered {
		if book.Age(now) > a.config.StaleBound {
			StaleBooksTotal.WithLabelValues(string(venue)).Inc()
			continue
		}
		fresh[venue] = book
	}

	if len(fresh) < 2 {
		SnapshotsSkippedTotal.WithLabelValues(symbol.String(), "insufficient_venues").Inc()
		return
	}

	var (
		weightedSum uint64
		weightSum   uint64
		totalBidVol fixed.Quantity
		totalAskVol fixed.Quantity
	)
	for _, book := range fresh {
		bid, okB := book.BestBid()
		ask, okA := book.BestAsk()
		if !okB || !okA {
			continue
		}
		topVol := bid.Quantity.SaturatingAdd(ask.Quantity)
		// Top-of-book volume in whole units keeps the accumulator inside
		// uint64 range across all venues.
		w := topVol.Raw() / fixed.QuantityScale
		if w == 0 {
			w = 1
		}
		weightedSum += book.Mid().Raw() * w
		weightSum += w

		for _, lvl := range book.Bids {
			totalBidVol = totalBidVol.SaturatingAdd(lvl.Quantity)
		}
		for _, lvl := range book.Asks {
			totalAskVol = totalAskVol.SaturatingAdd(lvl.Quantity)
		}
	}

	if weightSum == 0 {
		SnapshotsSkippedTotal.WithLabelValues(symbol.String(), "no_top_of_book").Inc()
		return
	}
	weightedMid := fixed.PriceFromRaw(weightedSum / weightSum)

	quality := qualityScore(len(fresh), totalBidVol.Float(), a.config.ReferenceVolume)
	QualityGauge.WithLabelValues(symbol.String()).Set(quality)

	if quality < a.config.QualityFloor {
		SnapshotsSkippedTotal.WithLabelValues(symbol.String(), "quality_below_floor").Inc()
		return
	}

	snapshot := &types.NormalizedSnapshot{
		Symbol:         symbol,
		Timestamp:      now,
		Sequence:       a.sequence.Add(1),
		Books:          fresh,
		WeightedMid:    weightedMid,
		TotalBidVolume: totalBidVol,
		TotalAskVolume: totalAskVol,
		Quality:        quality,
	}

	a.lastMid.Store(symbol.String(), weightedMid.Raw())

	if err := a.fabric.Publish(a.ctx, fabric.SnapshotTopic(symbol.String()), snapshot); err != nil {
		a.logger.Warn("snapshot-publish-failed", zap.Stringer("symbol", symbol), zap.Error(err))
		return
	}

	SnapshotsBroadcastTotal.WithLabelValues(symbol.String(), cause).Inc()
	MergeDurationSeconds.Observe(time.Since(start).Seconds())
}

// qualityScore is the authoritative formula:
// clamp(0.3·N_venues + 0.7·min(total_bid_volume/V_ref, 1), 0, 1).
func qualityScore(venues int, totalBidVolume, referenceVolume float64) float64 {
	depth := totalBidVolume / referenceVolume
	if depth > 1 {
		depth = 1
	}
	q := 0.3*float64(venues) + 0.7*depth
	if q < 0 {
		return 0
	}
	if q > 1 {
		return 1
	}
	return q
}
