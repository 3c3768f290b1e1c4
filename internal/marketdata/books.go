package marketdata

import (
	"sync"
	"sync/atomic"

	"github.com/arbiterlabs/arbiter/pkg/types"
)

// BookTable is the per-(venue,symbol) atomic book store. Adapters publish
// with a single pointer swap; the aggregator reads without blocking writers.
type BookTable struct {
	cells     sync.Map // key string -> *atomic.Pointer[types.OrderBook]
	onPublish atomic.Pointer[func(*types.OrderBook)]
}

// NewBookTable creates an empty table.
func NewBookTable() *BookTable {
	return &BookTable{}
}

// SetOnPublish installs a post-publish hook. The aggregator uses it to react
// to significant top-of-book moves between cadence ticks. The hook must not
// block: it runs on the adapter's read loop.
func (t *BookTable) SetOnPublish(fn func(*types.OrderBook)) {
	t.onPublish.Store(&fn)
}

// Publish atomically replaces the current book for (venue, symbol).
func (t *BookTable) Publish(book *types.OrderBook) {
	key := cellKey(book.Venue, book.Symbol)
	cell, _ := t.cells.LoadOrStore(key, &atomic.Pointer[types.OrderBook]{})
	cell.(*atomic.Pointer[types.OrderBook]).Store(book)

	if fn := t.onPublish.Load(); fn != nil {
		(*fn)(book)
	}
}

// Get returns the current book for (venue, symbol), or nil.
func (t *BookTable) Get(venue types.Venue, symbol types.Symbol) *types.OrderBook {
	cell, ok := t.cells.Load(cellKey(venue, symbol))
	if !ok {
		return nil
	}
	return cell.(*atomic.Pointer[types.OrderBook]).Load()
}

// Gather returns the current book per venue for one symbol, skipping venues
// with no published book.
func (t *BookTable) Gather(symbol types.Symbol, venues []types.Venue) map[types.Venue]*types.OrderBook {
	out := make(map[types.Venue]*types.OrderBook, len(venues))
	for _, v := range venues {
		if book := t.Get(v, symbol); book != nil {
			out[v] = book
		}
	}
	return out
}

func cellKey(venue types.Venue, symbol types.Symbol) string {
	return string(venue) + "|" + symbol.String()
}
