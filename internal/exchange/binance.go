package exchange

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/arbiterlabs/arbiter/pkg/fixed"
	"github.com/arbiterlabs/arbiter/pkg/types"
	"go.uber.org/zap"
)

// BinanceClient implements the capability set against the Binance spot API.
type BinanceClient struct {
	rest   *restClient
	signer *Signer
	logger *zap.Logger
}

// BinanceConfig holds Binance client configuration.
type BinanceConfig struct {
	BaseURL      string
	APIKey       string
	Secret       string
	RateLimitRPS float64
	Timeout      time.Duration
	Logger       *zap.Logger
}

// NewBinanceClient creates a Binance spot client.
func NewBinanceClient(cfg BinanceConfig) *BinanceClient {
	return &BinanceClient{
		rest: newRESTClient(restConfig{
			BaseURL:      cfg.BaseURL,
			Timeout:      cfg.Timeout,
			RateLimitRPS: cfg.RateLimitRPS,
			Logger:       cfg.Logger,
			Venue:        string(types.VenueBinance),
		}),
		signer: NewSigner(cfg.APIKey, cfg.Secret),
		logger: cfg.Logger,
	}
}

// Venue returns the venue identifier.
func (c *BinanceClient) Venue() types.Venue { return types.VenueBinance }

type binanceOrderResponse struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Status        string `json:"status"`
	ExecutedQty   string `json:"executedQty"`
	Price         string `json:"price"`
	CumQuoteQty   string `json:"cummulativeQuoteQty"`
}

// PlaceOrder submits a signed order. The client order id doubles as the
// idempotency key: resubmitting the same id returns the original order.
func (c *BinanceClient) PlaceOrder(ctx context.Context, req OrderRequest) (OrderStatusResponse, error) {
	params := url.Values{}
	params.Set("symbol", req.Symbol.Compact())
	params.Set("side", string(req.Side))
	params.Set("newClientOrderId", req.ClientOrderID)
	params.Set("quantity", req.Quantity.String())

	switch req.Kind {
	case types.OrderKindMarket:
		params.Set("type", "MARKET")
	case types.OrderKindIOC:
		params.Set("type", "LIMIT")
		params.Set("timeInForce", "IOC")
		params.Set("price", req.LimitPrice.String())
	default:
		params.Set("type", "LIMIT")
		params.Set("timeInForce", "GTC")
		params.Set("price", req.LimitPrice.String())
	}

	var resp binanceOrderResponse
	err := c.rest.do(ctx, http.MethodPost, "/api/v3/order", c.signer.Sign(params), &resp)
	if err != nil {
		OrdersPlacedTotal.WithLabelValues(string(c.Venue()), "error").Inc()
		return OrderStatusResponse{}, err
	}

	OrdersPlacedTotal.WithLabelValues(string(c.Venue()), "ok").Inc()
	return c.toStatus(resp), nil
}

// CancelOrder cancels by client order id.
func (c *BinanceClient) CancelOrder(ctx context.Context, symbol types.Symbol, clientOrderID string) error {
	params := url.Values{}
	params.Set("symbol", symbol.Compact())
	params.Set("origClientOrderId", clientOrderID)

	return c.rest.do(ctx, http.MethodDelete, "/api/v3/order", c.signer.Sign(params), nil)
}

// GetOrderStatus queries by client order id.
func (c *BinanceClient) GetOrderStatus(ctx context.Context, symbol types.Symbol, clientOrderID string) (OrderStatusResponse, error) {
	params := url.Values{}
	params.Set("symbol", symbol.Compact())
	params.Set("origClientOrderId", clientOrderID)

	var resp binanceOrderResponse
	err := c.rest.do(ctx, http.MethodGet, "/api/v3/order", c.signer.Sign(params), &resp)
	if err != nil {
		return OrderStatusResponse{}, err
	}
	return c.toStatus(resp), nil
}

type binanceAccountResponse struct {
	Balances []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}

// GetAccountBalance returns the balance for one asset.
func (c *BinanceClient) GetAccountBalance(ctx context.Context, asset string) (Balance, error) {
	var resp binanceAccountResponse
	err := c.rest.do(ctx, http.MethodGet, "/api/v3/account", c.signer.Sign(nil), &resp)
	if err != nil {
		return Balance{}, err
	}

	for _, b := range resp.Balances {
		if b.Asset == asset {
			free, _ := strconv.ParseFloat(b.Free, 64)
			locked, _ := strconv.ParseFloat(b.Locked, 64)
			return Balance{Asset: asset, Free: free, Locked: locked}, nil
		}
	}
	return Balance{}, fmt.Errorf("binance: no balance for asset %s", asset)
}

type binanceExchangeInfo struct {
	Symbols []struct {
		Symbol  string `json:"symbol"`
		Filters []struct {
			FilterType  string `json:"filterType"`
			TickSize    string `json:"tickSize"`
			StepSize    string `json:"stepSize"`
			MinNotional string `json:"minNotional"`
		} `json:"filters"`
	} `json:"symbols"`
}

// GetSymbolInfo fetches tick/step sizes. Binance caps client order ids at 36
// ASCII characters.
func (c *BinanceClient) GetSymbolInfo(ctx context.Context, symbol types.Symbol) (SymbolInfo, error) {
	var resp binanceExchangeInfo
	query := "symbol=" + symbol.Compact()
	err := c.rest.do(ctx, http.MethodGet, "/api/v3/exchangeInfo", query, &resp)
	if err != nil {
		return SymbolInfo{}, err
	}

	if len(resp.Symbols) == 0 {
		return SymbolInfo{}, &types.OrderError{
			Venue: c.Venue(), Code: types.ErrCodeUnknownSymbol,
			Message: "symbol not listed: " + symbol.Compact(),
		}
	}

	info := SymbolInfo{Symbol: symbol, ClientOrderIDCap: 36}
	for _, f := range resp.Symbols[0].Filters {
		switch f.FilterType {
		case "PRICE_FILTER":
			tick, _ := strconv.ParseFloat(f.TickSize, 64)
			info.TickSize = fixed.PriceFromFloat(tick)
		case "LOT_SIZE":
			step, _ := strconv.ParseFloat(f.StepSize, 64)
			info.StepSize = fixed.QuantityFromFloat(step)
		case "NOTIONAL", "MIN_NOTIONAL":
			minNotional, _ := strconv.ParseFloat(f.MinNotional, 64)
			info.MinNotional = fixed.PriceFromFloat(minNotional)
		}
	}
	return info, nil
}

// HealthCheck pings the venue.
func (c *BinanceClient) HealthCheck(ctx context.Context) error {
	return c.rest.do(ctx, http.MethodGet, "/api/v3/ping", "", nil)
}

func (c *BinanceClient) toStatus(resp binanceOrderResponse) OrderStatusResponse {
	filled, _ := strconv.ParseFloat(resp.ExecutedQty, 64)
	price, _ := strconv.ParseFloat(resp.Price, 64)
	quote, _ := strconv.ParseFloat(resp.CumQuoteQty, 64)

	avg := price
	if filled > 0 && quote > 0 {
		avg = quote / filled
	}

	return OrderStatusResponse{
		ClientOrderID: resp.ClientOrderID,
		VenueOrderID:  strconv.FormatInt(resp.OrderID, 10),
		State:         binanceState(resp.Status),
		FilledQty:     fixed.QuantityFromFloat(filled),
		AvgFillPrice:  fixed.PriceFromFloat(avg),
		UpdatedAt:     time.Now(),
	}
}

func binanceState(s string) types.OrderState {
	switch s {
	case "NEW":
		return types.OrderStateNew
	case "PARTIALLY_FILLED":
		return types.OrderStatePartiallyFilled
	case "FILLED":
		return types.OrderStateFilled
	case "CANCELED":
		return types.OrderStateCancelled
	case "REJECTED":
		return types.OrderStateRejected
	case "EXPIRED", "EXPIRED_IN_MATCH":
		return types.OrderStateExpired
	default:
		return types.OrderStateNew
	}
}
