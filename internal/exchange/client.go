// Package exchange defines the per-venue client capability set and the
// startup registry. The detector never touches a client; only the
// orchestrator and the app's startup symbol-info warm-up do. The feed resync
// path uses its own REST client.
package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/arbiterlabs/arbiter/pkg/fixed"
	"github.com/arbiterlabs/arbiter/pkg/types"
)

// OrderRequest is a normalized order submission.
type OrderRequest struct {
	ClientOrderID string
	Symbol        types.Symbol
	Side          types.Side
	Kind          types.OrderKind
	Quantity      fixed.Quantity
	LimitPrice    fixed.Price
}

// OrderStatusResponse is a normalized order status.
type OrderStatusResponse struct {
	ClientOrderID string
	VenueOrderID  string
	State         types.OrderState
	FilledQty     fixed.Quantity
	AvgFillPrice  fixed.Price
	Fee           fixed.Price
	UpdatedAt     time.Time
}

// Balance is a single-asset account balance.
type Balance struct {
	Asset  string
	Free   float64
	Locked float64
}

// SymbolInfo is the per-(venue,symbol) metadata consulted at startup: price
// tick, quantity step, and the venue's client-order-id length cap.
type SymbolInfo struct {
	Symbol           types.Symbol
	TickSize         fixed.Price
	StepSize         fixed.Quantity
	MinNotional      fixed.Price
	ClientOrderIDCap int
}

// Client is the shared capability set every venue client implements.
type Client interface {
	Venue() types.Venue
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderStatusResponse, error)
	CancelOrder(ctx context.Context, symbol types.Symbol, clientOrderID string) error
	GetOrderStatus(ctx context.Context, symbol types.Symbol, clientOrderID string) (OrderStatusResponse, error)
	GetAccountBalance(ctx context.Context, asset string) (Balance, error)
	GetSymbolInfo(ctx context.Context, symbol types.Symbol) (SymbolInfo, error)
	HealthCheck(ctx context.Context) error
}

// Registry is the startup name -> client table.
type Registry struct {
	mu      sync.RWMutex
	clients map[types.Venue]Client
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[types.Venue]Client)}
}

// Register adds a client. Registering the same venue twice is a wiring bug.
func (r *Registry) Register(c Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.clients[c.Venue()]; exists {
		return fmt.Errorf("venue %s already registered", c.Venue())
	}
	r.clients[c.Venue()] = c
	return nil
}

// Get returns the client for a venue.
func (r *Registry) Get(venue types.Venue) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.clients[venue]
	if !ok {
		return nil, fmt.Errorf("no client registered for venue %s", venue)
	}
	return c, nil
}

// Venues lists registered venues.
func (r *Registry) Venues() []types.Venue {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.Venue, 0, len(r.clients))
	for v := range r.clients {
		out = append(out, v)
	}
	return out
}
