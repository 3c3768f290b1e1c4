package feed

import (
	"context"

	"github.com/arbiterlabs/arbiter/pkg/types"
)

// Event is one normalized message from a venue feed: a full book replacement
// or a public trade.
type Event struct {
	Book  *types.OrderBook
	Trade *types.Trade
}

// Normalizer absorbs per-venue wire divergence. Downstream components see
// only OrderBook and Trade with a venue tag.
type Normalizer interface {
	Venue() types.Venue

	// SubscribePayload builds the subscription message for a set of symbols.
	SubscribePayload(symbols []types.Symbol) (any, error)

	// Parse decodes one raw frame into zero or more events. Control frames
	// and heartbeats return (nil, nil). Malformed frames return an error and
	// are counted by the adapter.
	Parse(raw []byte) ([]Event, error)

	// Snapshot pulls a full book over REST, used to resync after a sequence
	// gap or a reconnect.
	Snapshot(ctx context.Context, symbol types.Symbol) (*types.OrderBook, error)
}
