package types

import (
	"fmt"
	"time"

	"github.com/arbiterlabs/arbiter/pkg/fixed"
)

// OrderBookLevel is a single price level. A level is active when its price is
// positive and its quantity non-zero.
type OrderBookLevel struct {
	Price    fixed.Price
	Quantity fixed.Quantity
}

// Active reports whether this level carries tradeable liquidity.
func (l OrderBookLevel) Active() bool {
	return !l.Price.IsZero() && !l.Quantity.IsZero()
}

// OrderBook is a per-(venue,symbol) book snapshot produced by a feed adapter.
// Bids are sorted strictly price-descending, asks strictly price-ascending.
type OrderBook struct {
	Venue     Venue
	Symbol    Symbol
	Timestamp int64 // monotonic nanoseconds
	Sequence  uint64
	Bids      []OrderBookLevel
	Asks      []OrderBookLevel
	Quality   float64 // [0,1]
}

// BestBid returns the top bid level, if any.
func (b *OrderBook) BestBid() (OrderBookLevel, bool) {
	if len(b.Bids) == 0 {
		return OrderBookLevel{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the top ask level, if any.
func (b *OrderBook) BestAsk() (OrderBookLevel, bool) {
	if len(b.Asks) == 0 {
		return OrderBookLevel{}, false
	}
	return b.Asks[0], true
}

// Mid returns the midpoint of the top of book. Zero when either side is empty.
func (b *OrderBook) Mid() fixed.Price {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	if !okB || !okA {
		return fixed.Price{}
	}
	return fixed.PriceFromRaw((bid.Price.Raw() + ask.Price.Raw()) / 2)
}

// Validate checks the structural invariants: strictly descending bids,
// strictly ascending asks, no crossed book, no non-positive prices.
func (b *OrderBook) Validate() error {
	for i, lvl := range b.Bids {
		if lvl.Price.IsZero() {
			return fmt.Errorf("bid level %d has zero price", i)
		}
		if i > 0 && lvl.Price.Cmp(b.Bids[i-1].Price) >= 0 {
			return fmt.Errorf("bids not strictly descending at level %d", i)
		}
	}
	for i, lvl := range b.Asks {
		if lvl.Price.IsZero() {
			return fmt.Errorf("ask level %d has zero price", i)
		}
		if i > 0 && lvl.Price.Cmp(b.Asks[i-1].Price) <= 0 {
			return fmt.Errorf("asks not strictly ascending at level %d", i)
		}
	}
	if bid, ok := b.BestBid(); ok {
		if ask, ok := b.BestAsk(); ok && bid.Price.Cmp(ask.Price) >= 0 {
			return fmt.Errorf("crossed book: bid %s >= ask %s", bid.Price, ask.Price)
		}
	}
	return nil
}

// Age returns how stale the book is relative to now (nanosecond timestamps).
func (b *OrderBook) Age(now int64) time.Duration {
	return time.Duration(now - b.Timestamp)
}

// Trade is a normalized public trade event emitted by a feed adapter.
type Trade struct {
	Venue     Venue
	Symbol    Symbol
	Price     fixed.Price
	Quantity  fixed.Quantity
	Side      Side
	Timestamp int64
}

// NormalizedSnapshot merges the freshest per-venue books for one symbol. It is
// immutable once broadcast; subscribers hold shared read-only views.
type NormalizedSnapshot struct {
	Symbol         Symbol
	Timestamp      int64
	Sequence       uint64
	Books          map[Venue]*OrderBook
	WeightedMid    fixed.Price
	TotalBidVolume fixed.Quantity
	TotalAskVolume fixed.Quantity
	Quality        float64
}

// VenueCount returns how many venues contributed to the snapshot.
func (s *NormalizedSnapshot) VenueCount() int { return len(s.Books) }
