// Package detector turns normalized snapshots into candidate opportunities:
// cross-venue spreads and triangular paths, batched through the fixed-point
// engine and filtered by the dynamic profit threshold.
package detector

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arbiterlabs/arbiter/internal/marketdata"
	"github.com/arbiterlabs/arbiter/pkg/fabric"
	"github.com/arbiterlabs/arbiter/pkg/fixed"
	"github.com/arbiterlabs/arbiter/pkg/types"
)

// Detector consumes snapshots and emits opportunities on the fabric.
type Detector struct {
	engine    *Engine
	fees      *FeeTable
	threshold *DynamicThreshold
	books     *marketdata.BookTable
	fabric    *fabric.Fabric
	logger    *zap.Logger
	config    Config

	ctx context.Context
	wg  sync.WaitGroup
}

// Config holds detector configuration.
type Config struct {
	Symbols            []types.Symbol
	BatchSize          int
	CrossVenueValidity time.Duration
	TriangularValidity time.Duration
	SlipFactorBps      float64
	SlipDepthAlpha     float64
	Triangles          []Triangle
	BothRotations      bool
	Logger             *zap.Logger
}

// New creates a detector.
func New(cfg Config, engine *Engine, fees *FeeTable, threshold *DynamicThreshold,
	books *marketdata.BookTable, bus *fabric.Fabric) *Detector {
	return &Detector{
		engine:    engine,
		fees:      fees,
		threshold: threshold,
		books:     books,
		fabric:    bus,
		logger:    cfg.Logger,
		config:    cfg,
	}
}

// Start subscribes to snapshot and update topics.
func (d *Detector) Start(ctx context.Context) error {
	d.ctx = ctx
	d.logger.Info("detector-starting",
		zap.String("kernel", d.engine.Kernel()),
		zap.Int("symbols", len(d.config.Symbols)),
		zap.Int("triangles", len(d.config.Triangles)))

	for _, symbol := range d.config.Symbols {
		ch := d.fabric.Subscribe(fabric.SnapshotTopic(symbol.String()))
		d.wg.Add(1)
		go d.snapshotLoop(ch)
	}

	d.wg.Add(1)
	go d.updateLoop()

	return nil
}

// Close waits for the loops to drain.
func (d *Detector) Close() error {
	d.wg.Wait()
	d.logger.Info("detector-closed")
	return nil
}

func (d *Detector) snapshotLoop(ch <-chan fabric.Envelope) {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case env, ok := <-ch:
			if !ok {
				return
			}
			snapshot, ok := env.Payload.(*types.NormalizedSnapshot)
			if !ok {
				continue
			}
			start := time.Now()
			d.process(snapshot)
			DetectionDurationSeconds.Observe(time.Since(start).Seconds())
		}
	}
}

// updateLoop applies fee and threshold updates as atomic value swaps.
func (d *Detector) updateLoop() {
	defer d.wg.Done()

	fees := d.fabric.Subscribe(fabric.TopicFeeUpdate)
	thresholds := d.fabric.Subscribe(fabric.TopicThresholdUpdate)

	for {
		select {
		case <-d.ctx.Done():
			return
		case env, ok := <-fees:
			if !ok {
				return
			}
			if update, ok := env.Payload.(*types.FeeUpdate); ok {
				d.fees.Apply(*update)
				d.logger.Info("fee-table-updated",
					zap.String("venue", string(update.Venue)),
					zap.Float64("taker-bps", update.TakerBps))
			}
		case env, ok := <-thresholds:
			if !ok {
				return
			}
			if update, ok := env.Payload.(*types.ThresholdUpdate); ok {
				d.threshold.Apply(*update)
				d.logger.Info("threshold-updated",
					zap.String("state", string(update.State)),
					zap.Float64("bps", update.Bps))
			}
		}
	}
}

func (d *Detector) process(snapshot *types.NormalizedSnapshot) {
	opportunities := d.detectCrossVenue(snapshot)
	opportunities = append(opportunities, d.detectTriangular(snapshot)...)

	for _, opp := range opportunities {
		OpportunitiesDetectedTotal.WithLabelValues(string(opp.Kind)).Inc()
		NetProfitBps.Observe(opp.NetProfitBps)

		if err := d.fabric.Publish(d.ctx, fabric.TopicOpportunity, opp); err != nil {
			d.logger.Warn("opportunity-publish-failed",
				zap.String("opportunity-id", opp.ID), zap.Error(err))
			continue
		}

		d.logger.Info("opportunity-detected",
			zap.String("opportunity-id", opp.ID),
			zap.String("kind", string(opp.Kind)),
			zap.Stringer("symbol", opp.Symbol),
			zap.Float64("net-profit-bps", opp.NetProfitBps),
			zap.Float64("net-profit", opp.NetProfit.Float()))
	}
}

// crossCandidate pairs the batch index back to its venues.
type crossCandidate struct {
	buyVenue  types.Venue
	sellVenue types.Venue
	ask       types.OrderBookLevel
	bid       types.OrderBookLevel
}

// detectCrossVenue enumerates ordered venue pairs and batches them through
// the engine.
func (d *Detector) detectCrossVenue(snapshot *types.NormalizedSnapshot) []*Opportunity {
	venues := make([]types.Venue, 0, len(snapshot.Books))
	for v := range snapshot.Books {
		venues = append(venues, v)
	}
	sort.Slice(venues, func(i, j int) bool { return venues[i] < venues[j] })

	candidates := make([]crossCandidate, 0, len(venues)*(len(venues)-1))
	input := &BatchInput{}

	for _, buyVenue := range venues {
		askBook := snapshot.Books[buyVenue]
		ask, okAsk := askBook.BestAsk()
		if !okAsk || !ask.Active() {
			continue
		}
		for _, sellVenue := range venues {
			if sellVenue == buyVenue {
				continue
			}
			bidBook := snapshot.Books[sellVenue]
			bid, okBid := bidBook.BestBid()
			if !okBid || !bid.Active() {
				continue
			}

			candidates = append(candidates, crossCandidate{
				buyVenue:  buyVenue,
				sellVenue: sellVenue,
				ask:       ask,
				bid:       bid,
			})
			input.BuyPrices = append(input.BuyPrices, ask.Price)
			input.SellPrices = append(input.SellPrices, bid.Price)
			input.BuyVolumes = append(input.BuyVolumes, ask.Quantity)
			input.SellVolumes = append(input.SellVolumes, bid.Quantity)
			input.BuyFeeRates = append(input.BuyFeeRates, d.fees.Taker(buyVenue))
			input.SellFeeRates = append(input.SellFeeRates, d.fees.Taker(sellVenue))
		}
	}

	if input.Len() == 0 {
		return nil
	}

	result, err := d.computeChunked(input)
	if err != nil {
		d.logger.Error("batch-compute-failed", zap.Error(err))
		return nil
	}

	thresholdBps := d.threshold.Bps()
	now := time.Unix(0, snapshot.Timestamp)
	deadline := now.Add(d.config.CrossVenueValidity)

	var out []*Opportunity
	for i, cand := range candidates {
		net := result.Net[i]
		volume := result.Volume[i]
		if net.IsZero() || volume.IsZero() {
			CandidatesFilteredTotal.WithLabelValues("cross_venue", "unprofitable").Inc()
			continue
		}

		capital := cand.ask.Price.MulQuantity(volume)
		slipBps := d.slippageBps(volume, cand.ask.Quantity) + d.slippageBps(volume, cand.bid.Quantity)
		netBps := float64(net.Bps(capital))

		if netBps < thresholdBps {
			CandidatesFilteredTotal.WithLabelValues("cross_venue", "below_threshold").Inc()
			continue
		}

		legs := []types.ExecutionLeg{
			{Venue: cand.buyVenue, Symbol: snapshot.Symbol, Side: types.SideBuy,
				Quantity: volume, LimitPrice: cand.ask.Price, Kind: types.OrderKindIOC},
			{Venue: cand.sellVenue, Symbol: snapshot.Symbol, Side: types.SideSell,
				Quantity: volume, LimitPrice: cand.bid.Price, Kind: types.OrderKindIOC},
		}

		out = append(out, &Opportunity{
			ID:              newOpportunityID(),
			Kind:            types.StrategyCrossVenue,
			Symbol:          snapshot.Symbol,
			Legs:            legs,
			GrossProfit:     result.Gross[i],
			NetProfit:       net,
			NetProfitBps:    netBps,
			RequiredCapital: capital,
			SlippageBps:     slipBps,
			DetectedAt:      now,
			Deadline:        deadline,
			Fingerprint:     fingerprint(types.StrategyCrossVenue, legs),
			SnapshotSeq:     snapshot.Sequence,
		})
	}

	return out
}

// computeChunked feeds the engine at most BatchSize candidates at a time so
// a burst of venues cannot blow past the configured working-set size.
func (d *Detector) computeChunked(input *BatchInput) (*BatchResult, error) {
	size := d.config.BatchSize
	if size <= 0 || input.Len() <= size {
		out, err := d.engine.Compute(input)
		if err == nil {
			BatchesComputedTotal.Inc()
			BatchSize.Observe(float64(input.Len()))
		}
		return out, err
	}

	out := &BatchResult{}
	for start := 0; start < input.Len(); start += size {
		end := start + size
		if end > input.Len() {
			end = input.Len()
		}
		chunk := &BatchInput{
			BuyPrices:    input.BuyPrices[start:end],
			SellPrices:   input.SellPrices[start:end],
			BuyVolumes:   input.BuyVolumes[start:end],
			SellVolumes:  input.SellVolumes[start:end],
			BuyFeeRates:  input.BuyFeeRates[start:end],
			SellFeeRates: input.SellFeeRates[start:end],
		}
		res, err := d.engine.Compute(chunk)
		if err != nil {
			return nil, err
		}
		out.Gross = append(out.Gross, res.Gross...)
		out.Net = append(out.Net, res.Net...)
		out.Fee = append(out.Fee, res.Fee...)
		out.Volume = append(out.Volume, res.Volume...)
		BatchesComputedTotal.Inc()
		BatchSize.Observe(float64(chunk.Len()))
	}
	return out, nil
}

// slippageBps estimates extra fill cost when the taken volume eats past the
// configured fraction of the top level: one slip factor per level consumed.
func (d *Detector) slippageBps(volume, topQty fixed.Quantity) float64 {
	if topQty.IsZero() {
		return 0
	}
	ratio := volume.Float() / topQty.Float()
	if ratio <= d.config.SlipDepthAlpha {
		return 0
	}
	levels := ratio / d.config.SlipDepthAlpha
	return d.config.SlipFactorBps * levels
}
