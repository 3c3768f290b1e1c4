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

// OKXClient implements the capability set against the OKX v5 API.
type OKXClient struct {
	rest   *restClient
	signer *Signer
	logger *zap.Logger
}

// OKXConfig holds OKX client configuration.
type OKXConfig struct {
	BaseURL      string
	APIKey       string
	Secret       string
	RateLimitRPS float64
	Timeout      time.Duration
	Logger       *zap.Logger
}

// NewOKXClient creates an OKX spot client.
func NewOKXClient(cfg OKXConfig) *OKXClient {
	return &OKXClient{
		rest: newRESTClient(restConfig{
			BaseURL:      cfg.BaseURL,
			Timeout:      cfg.Timeout,
			RateLimitRPS: cfg.RateLimitRPS,
			Logger:       cfg.Logger,
			Venue:        string(types.VenueOKX),
		}),
		signer: NewSigner(cfg.APIKey, cfg.Secret),
		logger: cfg.Logger,
	}
}

// Venue returns the venue identifier.
func (c *OKXClient) Venue() types.Venue { return types.VenueOKX }

// okxInstID renders the OKX instrument form, e.g. "BTC-USDT".
func okxInstID(s types.Symbol) string { return s.Base + "-" + s.Quote }

type okxOrderData struct {
	OrdID     string `json:"ordId"`
	ClOrdID   string `json:"clOrdId"`
	State     string `json:"state"`
	AccFillSz string `json:"accFillSz"`
	AvgPx     string `json:"avgPx"`
	Fee       string `json:"fee"`
	SCode     string `json:"sCode"`
	SMsg      string `json:"sMsg"`
}

type okxResponse struct {
	Code string         `json:"code"`
	Msg  string         `json:"msg"`
	Data []okxOrderData `json:"data"`
}

// PlaceOrder submits a signed order. OKX caps client order ids at 32 chars.
func (c *OKXClient) PlaceOrder(ctx context.Context, req OrderRequest) (OrderStatusResponse, error) {
	params := url.Values{}
	params.Set("instId", okxInstID(req.Symbol))
	params.Set("tdMode", "cash")
	params.Set("clOrdId", req.ClientOrderID)
	params.Set("side", sideToOKX(req.Side))
	params.Set("sz", req.Quantity.String())

	switch req.Kind {
	case types.OrderKindMarket:
		params.Set("ordType", "market")
	case types.OrderKindIOC:
		params.Set("ordType", "ioc")
		params.Set("px", req.LimitPrice.String())
	default:
		params.Set("ordType", "limit")
		params.Set("px", req.LimitPrice.String())
	}

	var resp okxResponse
	err := c.rest.do(ctx, http.MethodPost, "/api/v5/trade/order", c.signer.Sign(params), &resp)
	if err != nil {
		OrdersPlacedTotal.WithLabelValues(string(c.Venue()), "error").Inc()
		return OrderStatusResponse{}, err
	}

	if resp.Code != "0" || len(resp.Data) == 0 {
		OrdersPlacedTotal.WithLabelValues(string(c.Venue()), "rejected").Inc()
		msg, code := resp.Msg, resp.Code
		if len(resp.Data) > 0 {
			msg, code = resp.Data[0].SMsg, resp.Data[0].SCode
		}
		return OrderStatusResponse{}, &types.OrderError{
			Venue: c.Venue(), Code: code, Message: msg, ClientOrderID: req.ClientOrderID,
		}
	}

	OrdersPlacedTotal.WithLabelValues(string(c.Venue()), "ok").Inc()
	return c.toStatus(resp.Data[0]), nil
}

// CancelOrder cancels by client order id.
func (c *OKXClient) CancelOrder(ctx context.Context, symbol types.Symbol, clientOrderID string) error {
	params := url.Values{}
	params.Set("instId", okxInstID(symbol))
	params.Set("clOrdId", clientOrderID)

	var resp okxResponse
	err := c.rest.do(ctx, http.MethodPost, "/api/v5/trade/cancel-order", c.signer.Sign(params), &resp)
	if err != nil {
		return err
	}
	if resp.Code != "0" {
		return fmt.Errorf("okx cancel %s: %s (%s)", clientOrderID, resp.Msg, resp.Code)
	}
	return nil
}

// GetOrderStatus queries by client order id.
func (c *OKXClient) GetOrderStatus(ctx context.Context, symbol types.Symbol, clientOrderID string) (OrderStatusResponse, error) {
	params := url.Values{}
	params.Set("instId", okxInstID(symbol))
	params.Set("clOrdId", clientOrderID)

	var resp okxResponse
	err := c.rest.do(ctx, http.MethodGet, "/api/v5/trade/order", c.signer.Sign(params), &resp)
	if err != nil {
		return OrderStatusResponse{}, err
	}
	if resp.Code != "0" || len(resp.Data) == 0 {
		return OrderStatusResponse{}, fmt.Errorf("okx order status %s: %s (%s)",
			clientOrderID, resp.Msg, resp.Code)
	}
	return c.toStatus(resp.Data[0]), nil
}

type okxBalanceResponse struct {
	Code string `json:"code"`
	Data []struct {
		Details []struct {
			Ccy       string `json:"ccy"`
			AvailBal  string `json:"availBal"`
			FrozenBal string `json:"frozenBal"`
		} `json:"details"`
	} `json:"data"`
}

// GetAccountBalance returns the balance for one asset.
func (c *OKXClient) GetAccountBalance(ctx context.Context, asset string) (Balance, error) {
	var resp okxBalanceResponse
	err := c.rest.do(ctx, http.MethodGet, "/api/v5/account/balance", c.signer.Sign(nil), &resp)
	if err != nil {
		return Balance{}, err
	}

	for _, d := range resp.Data {
		for _, detail := range d.Details {
			if detail.Ccy == asset {
				free, _ := strconv.ParseFloat(detail.AvailBal, 64)
				locked, _ := strconv.ParseFloat(detail.FrozenBal, 64)
				return Balance{Asset: asset, Free: free, Locked: locked}, nil
			}
		}
	}
	return Balance{}, fmt.Errorf("okx: no balance for asset %s", asset)
}

type okxInstrumentResponse struct {
	Code string `json:"code"`
	Data []struct {
		TickSz string `json:"tickSz"`
		LotSz  string `json:"lotSz"`
		MinSz  string `json:"minSz"`
	} `json:"data"`
}

// GetSymbolInfo fetches tick/lot sizes. OKX caps client order ids at 32
// ASCII characters.
func (c *OKXClient) GetSymbolInfo(ctx context.Context, symbol types.Symbol) (SymbolInfo, error) {
	var resp okxInstrumentResponse
	query := "instType=SPOT&instId=" + okxInstID(symbol)
	err := c.rest.do(ctx, http.MethodGet, "/api/v5/public/instruments", query, &resp)
	if err != nil {
		return SymbolInfo{}, err
	}
	if resp.Code != "0" || len(resp.Data) == 0 {
		return SymbolInfo{}, &types.OrderError{
			Venue: c.Venue(), Code: types.ErrCodeUnknownSymbol,
			Message: "instrument not listed: " + okxInstID(symbol),
		}
	}

	tick, _ := strconv.ParseFloat(resp.Data[0].TickSz, 64)
	lot, _ := strconv.ParseFloat(resp.Data[0].LotSz, 64)
	minSz, _ := strconv.ParseFloat(resp.Data[0].MinSz, 64)

	return SymbolInfo{
		Symbol:           symbol,
		TickSize:         fixed.PriceFromFloat(tick),
		StepSize:         fixed.QuantityFromFloat(lot),
		MinNotional:      fixed.PriceFromFloat(minSz),
		ClientOrderIDCap: 32,
	}, nil
}

// HealthCheck queries system status.
func (c *OKXClient) HealthCheck(ctx context.Context) error {
	return c.rest.do(ctx, http.MethodGet, "/api/v5/public/time", "", nil)
}

func (c *OKXClient) toStatus(d okxOrderData) OrderStatusResponse {
	filled, _ := strconv.ParseFloat(d.AccFillSz, 64)
	avg, _ := strconv.ParseFloat(d.AvgPx, 64)
	fee, _ := strconv.ParseFloat(d.Fee, 64)
	if fee < 0 {
		fee = -fee // OKX reports fees as negative deltas
	}

	return OrderStatusResponse{
		ClientOrderID: d.ClOrdID,
		VenueOrderID:  d.OrdID,
		State:         okxState(d.State),
		FilledQty:     fixed.QuantityFromFloat(filled),
		AvgFillPrice:  fixed.PriceFromFloat(avg),
		Fee:           fixed.PriceFromFloat(fee),
		UpdatedAt:     time.Now(),
	}
}

func okxState(s string) types.OrderState {
	switch s {
	case "live":
		return types.OrderStateNew
	case "partially_filled":
		return types.OrderStatePartiallyFilled
	case "filled":
		return types.OrderStateFilled
	case "canceled", "mmp_canceled":
		return types.OrderStateCancelled
	default:
		return types.OrderStateNew
	}
}

func sideToOKX(s types.Side) string {
	if s == types.SideBuy {
		return "buy"
	}
	return "sell"
}
