package detector

import (
	"fmt"
	"strings"
	"time"

	"github.com/arbiterlabs/arbiter/pkg/fixed"
	"github.com/arbiterlabs/arbiter/pkg/types"
)

// Triangle is one configured triplet (base, intermediate, quote) evaluated on
// a single venue, e.g. binance BTC-ETH-USDT. Both rotational directions are
// evaluated unless disabled.
type Triangle struct {
	Venue types.Venue
	Base  string
	Mid   string
	Quote string
}

// ParseTriangle parses "venue:BASE-MID-QUOTE".
func ParseTriangle(s string) (Triangle, error) {
	venuePart, assets, ok := strings.Cut(s, ":")
	if !ok {
		return Triangle{}, fmt.Errorf("triangle %q: missing venue separator", s)
	}
	parts := strings.Split(strings.ToUpper(assets), "-")
	if len(parts) != 3 {
		return Triangle{}, fmt.Errorf("triangle %q: want BASE-MID-QUOTE", s)
	}
	return Triangle{
		Venue: types.Venue(strings.ToLower(venuePart)),
		Base:  parts[0],
		Mid:   parts[1],
		Quote: parts[2],
	}, nil
}

// Pairs returns the three symbols the triangle trades.
func (t Triangle) Pairs() (baseQuote, midBase, midQuote types.Symbol) {
	return types.Symbol{Base: t.Base, Quote: t.Quote},
		types.Symbol{Base: t.Mid, Quote: t.Base},
		types.Symbol{Base: t.Mid, Quote: t.Quote}
}

// Involves reports whether a symbol is one of the triangle's pairs.
func (t Triangle) Involves(symbol types.Symbol) bool {
	a, b, c := t.Pairs()
	return symbol == a || symbol == b || symbol == c
}

// detectTriangular evaluates the configured triangles touched by this
// snapshot's symbol, reading the other legs from the lock-free book table.
func (d *Detector) detectTriangular(snapshot *types.NormalizedSnapshot) []*Opportunity {
	var out []*Opportunity
	for _, tri := range d.config.Triangles {
		if !tri.Involves(snapshot.Symbol) {
			continue
		}
		if opp := d.evaluateTriangle(tri, snapshot, false); opp != nil {
			out = append(out, opp)
		}
		if d.config.BothRotations {
			if opp := d.evaluateTriangle(tri, snapshot, true); opp != nil {
				out = append(out, opp)
			}
		}
	}
	return out
}

// evaluateTriangle walks one rotation of the triangle. Forward rotation is
// quote → base → mid → quote; reverse is quote → mid → base → quote. Each leg
// consumes the top of book, pays the venue taker fee on its notional, and
// carries the per-level slippage estimate.
func (d *Detector) evaluateTriangle(tri Triangle, snapshot *types.NormalizedSnapshot, reverse bool) *Opportunity {
	baseQuote, midBase, midQuote := tri.Pairs()

	bqBook := d.books.Get(tri.Venue, baseQuote)
	mbBook := d.books.Get(tri.Venue, midBase)
	mqBook := d.books.Get(tri.Venue, midQuote)
	if bqBook == nil || mbBook == nil || mqBook == nil {
		CandidatesFilteredTotal.WithLabelValues("triangular", "missing_book").Inc()
		return nil
	}

	feeRate := d.fees.Taker(tri.Venue)

	var (
		legs     []types.ExecutionLeg
		start    fixed.Price
		final    fixed.Price
		slipBps  float64
		feeTotal fixed.Price
	)

	if !reverse {
		// quote -> base at ask(base/quote)
		bqAsk, ok := bqBook.BestAsk()
		if !ok || !bqAsk.Active() {
			return nil
		}
		// base -> mid at ask(mid/base)
		mbAsk, ok := mbBook.BestAsk()
		if !ok || !mbAsk.Active() {
			return nil
		}
		// mid -> quote at bid(mid/quote)
		mqBid, ok := mqBook.BestBid()
		if !ok || !mqBid.Active() {
			return nil
		}

		// Size the walk by the tightest leg, in base units.
		baseQty := bqAsk.Quantity
		if cap := mbAsk.Quantity.MulRate(mbAsk.Price); cap.Raw() < baseQty.Raw() {
			baseQty = cap // mid-leg capacity converted to base
		}
		if baseQty.IsZero() {
			CandidatesFilteredTotal.WithLabelValues("triangular", "no_depth").Inc()
			return nil
		}

		start = bqAsk.Price.MulQuantity(baseQty)
		leg1Fee := start.MulRate(feeRate)

		midQty := baseQty.DivPrice(mbAsk.Price)
		if mqCap := mqBid.Quantity; mqCap.Raw() < midQty.Raw() {
			midQty = mqCap
		}
		// Mid-leg notional is paid in base; its fee converts to quote via the
		// base/quote ask.
		leg2FeeBase := mbAsk.Price.MulQuantity(midQty).MulRate(feeRate)
		leg2Fee := bqAsk.Price.MulRate(leg2FeeBase)

		final = mqBid.Price.MulQuantity(midQty)
		leg3Fee := final.MulRate(feeRate)

		feeTotal = leg1Fee.SaturatingAdd(leg2Fee).SaturatingAdd(leg3Fee)

		slipBps = d.slippageBps(baseQty, bqAsk.Quantity) +
			d.slippageBps(midQty, mbAsk.Quantity) +
			d.slippageBps(midQty, mqBid.Quantity)

		legs = []types.ExecutionLeg{
			{Venue: tri.Venue, Symbol: baseQuote, Side: types.SideBuy, Quantity: baseQty, LimitPrice: bqAsk.Price, Kind: types.OrderKindIOC},
			{Venue: tri.Venue, Symbol: midBase, Side: types.SideBuy, Quantity: midQty, LimitPrice: mbAsk.Price, Kind: types.OrderKindIOC},
			{Venue: tri.Venue, Symbol: midQuote, Side: types.SideSell, Quantity: midQty, LimitPrice: mqBid.Price, Kind: types.OrderKindIOC},
		}
	} else {
		// quote -> mid at ask(mid/quote)
		mqAsk, ok := mqBook.BestAsk()
		if !ok || !mqAsk.Active() {
			return nil
		}
		// mid -> base at bid(mid/base)
		mbBid, ok := mbBook.BestBid()
		if !ok || !mbBid.Active() {
			return nil
		}
		// base -> quote at bid(base/quote)
		bqBid, ok := bqBook.BestBid()
		if !ok || !bqBid.Active() {
			return nil
		}

		midQty := mqAsk.Quantity.Min(mbBid.Quantity)
		if midQty.IsZero() {
			CandidatesFilteredTotal.WithLabelValues("triangular", "no_depth").Inc()
			return nil
		}

		start = mqAsk.Price.MulQuantity(midQty)
		leg1Fee := start.MulRate(feeRate)

		// mid sold for base: base received = midQty * bid(mid/base)
		baseQty := midQty.MulRate(mbBid.Price)
		if cap := bqBid.Quantity; cap.Raw() < baseQty.Raw() {
			baseQty = cap
		}

		final = bqBid.Price.MulQuantity(baseQty)
		leg3Fee := final.MulRate(feeRate)

		leg2FeeQuote := final.MulRate(feeRate) // mid->base fee approximated at quote parity
		feeTotal = leg1Fee.SaturatingAdd(leg3Fee).SaturatingAdd(leg2FeeQuote)

		slipBps = d.slippageBps(midQty, mqAsk.Quantity) +
			d.slippageBps(midQty, mbBid.Quantity) +
			d.slippageBps(baseQty, bqBid.Quantity)

		legs = []types.ExecutionLeg{
			{Venue: tri.Venue, Symbol: midQuote, Side: types.SideBuy, Quantity: midQty, LimitPrice: mqAsk.Price, Kind: types.OrderKindIOC},
			{Venue: tri.Venue, Symbol: midBase, Side: types.SideSell, Quantity: midQty, LimitPrice: mbBid.Price, Kind: types.OrderKindIOC},
			{Venue: tri.Venue, Symbol: baseQuote, Side: types.SideSell, Quantity: baseQty, LimitPrice: bqBid.Price, Kind: types.OrderKindIOC},
		}
	}

	gross := final.SaturatingSub(start)
	slipCost := fixed.PriceFromFloat(start.Float() * slipBps / 10_000)
	net := gross.SaturatingSub(feeTotal).SaturatingSub(slipCost)
	if net.IsZero() {
		CandidatesFilteredTotal.WithLabelValues("triangular", "unprofitable").Inc()
		return nil
	}

	netBps := float64(net.Bps(start))
	if netBps < d.threshold.Bps() {
		CandidatesFilteredTotal.WithLabelValues("triangular", "below_threshold").Inc()
		return nil
	}

	now := time.Unix(0, snapshot.Timestamp)
	return &Opportunity{
		ID:              newOpportunityID(),
		Kind:            types.StrategyTriangular,
		Symbol:          legs[0].Symbol,
		Legs:            legs,
		GrossProfit:     gross,
		NetProfit:       net,
		NetProfitBps:    netBps,
		RequiredCapital: start,
		SlippageBps:     slipBps,
		DetectedAt:      now,
		Deadline:        now.Add(d.config.TriangularValidity),
		Fingerprint:     fingerprint(types.StrategyTriangular, legs),
		SnapshotSeq:     snapshot.Sequence,
	}
}
