package exchange

import (
	"context"
	"sync"
	"time"

	"github.com/arbiterlabs/arbiter/pkg/fixed"
	"github.com/arbiterlabs/arbiter/pkg/types"
	"go.uber.org/zap"
)

// PaperClient simulates a venue in memory: orders fill instantly at their
// limit price up to the configured available depth. Used for paper mode and
// by the orchestrator tests. Repeated submissions with the same client order
// id return the original order, mirroring real venue idempotency.
type PaperClient struct {
	venue    types.Venue
	logger   *zap.Logger
	takerFee fixed.Price // rate, e.g. 0.001

	mu     sync.Mutex
	depth  map[string]fixed.Quantity // symbol -> remaining fillable quantity
	orders map[string]OrderStatusResponse
}

// PaperConfig holds paper venue configuration.
type PaperConfig struct {
	Venue    types.Venue
	TakerFee float64 // rate, e.g. 0.001 for 10 bps
	Logger   *zap.Logger
}

// NewPaperClient creates a simulated venue.
func NewPaperClient(cfg PaperConfig) *PaperClient {
	return &PaperClient{
		venue:    cfg.Venue,
		logger:   cfg.Logger,
		takerFee: fixed.PriceFromFloat(cfg.TakerFee),
		depth:    make(map[string]fixed.Quantity),
		orders:   make(map[string]OrderStatusResponse),
	}
}

// Venue returns the simulated venue identifier.
func (c *PaperClient) Venue() types.Venue { return c.venue }

// SetDepth sets the fillable quantity for a symbol. Orders beyond it fill
// partially and stay open.
func (c *PaperClient) SetDepth(symbol types.Symbol, qty fixed.Quantity) {
	c.mu.Lock()
	c.depth[symbol.String()] = qty
	c.mu.Unlock()
}

// PlaceOrder fills immediately against the configured depth.
func (c *PaperClient) PlaceOrder(ctx context.Context, req OrderRequest) (OrderStatusResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.orders[req.ClientOrderID]; ok {
		return existing, nil
	}

	avail, ok := c.depth[req.Symbol.String()]
	if !ok {
		avail = req.Quantity // unconfigured symbols fill fully
	}

	filled := req.Quantity.Min(avail)
	state := types.OrderStateFilled
	if filled.Raw() < req.Quantity.Raw() {
		state = types.OrderStatePartiallyFilled
	}
	c.depth[req.Symbol.String()] = avail.SaturatingSub(filled)

	notional := req.LimitPrice.MulQuantity(filled)
	resp := OrderStatusResponse{
		ClientOrderID: req.ClientOrderID,
		VenueOrderID:  "paper-" + req.ClientOrderID,
		State:         state,
		FilledQty:     filled,
		AvgFillPrice:  req.LimitPrice,
		Fee:           notional.MulRate(c.takerFee),
		UpdatedAt:     time.Now(),
	}
	c.orders[req.ClientOrderID] = resp

	OrdersPlacedTotal.WithLabelValues(string(c.venue), "ok").Inc()
	c.logger.Debug("paper-order-filled",
		zap.String("venue", string(c.venue)),
		zap.String("client-order-id", req.ClientOrderID),
		zap.String("state", string(state)),
		zap.Float64("filled", filled.Float()))

	return resp, nil
}

// CancelOrder transitions a non-terminal order to Cancelled.
func (c *PaperClient) CancelOrder(ctx context.Context, symbol types.Symbol, clientOrderID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	order, ok := c.orders[clientOrderID]
	if !ok {
		return &types.OrderError{Venue: c.venue, Code: "UNKNOWN_ORDER", Message: "unknown order", ClientOrderID: clientOrderID}
	}
	if !order.State.Terminal() {
		order.State = types.OrderStateCancelled
		order.UpdatedAt = time.Now()
		c.orders[clientOrderID] = order
	}
	return nil
}

// GetOrderStatus returns the recorded order.
func (c *PaperClient) GetOrderStatus(ctx context.Context, symbol types.Symbol, clientOrderID string) (OrderStatusResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	order, ok := c.orders[clientOrderID]
	if !ok {
		return OrderStatusResponse{}, &types.OrderError{Venue: c.venue, Code: "UNKNOWN_ORDER", Message: "unknown order", ClientOrderID: clientOrderID}
	}
	return order, nil
}

// GetAccountBalance reports an effectively unlimited paper balance.
func (c *PaperClient) GetAccountBalance(ctx context.Context, asset string) (Balance, error) {
	return Balance{Asset: asset, Free: 1e9}, nil
}

// GetSymbolInfo returns permissive defaults with the tightest common
// client-order-id cap so generated ids are valid everywhere.
func (c *PaperClient) GetSymbolInfo(ctx context.Context, symbol types.Symbol) (SymbolInfo, error) {
	return SymbolInfo{
		Symbol:           symbol,
		TickSize:         fixed.PriceFromFloat(0.01),
		StepSize:         fixed.QuantityFromFloat(0.00000001),
		ClientOrderIDCap: 16,
	}, nil
}

// HealthCheck always succeeds.
func (c *PaperClient) HealthCheck(ctx context.Context) error { return nil }
