package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/arbiterlabs/arbiter/pkg/fixed"
	"github.com/arbiterlabs/arbiter/pkg/types"
)

// KrakenNormalizer parses Kraken WebSocket v2 frames (book + trade channels).
type KrakenNormalizer struct {
	rest *resty.Client
}

// NewKrakenNormalizer creates a Kraken normalizer.
func NewKrakenNormalizer(restURL string) *KrakenNormalizer {
	return &KrakenNormalizer{rest: resty.New().SetBaseURL(restURL).SetTimeout(5 * time.Second)}
}

// Venue returns the venue identifier.
func (n *KrakenNormalizer) Venue() types.Venue { return types.VenueKraken }

// SubscribePayload builds the v2 subscribe request for the book channel;
// no trade subscription is sent.
func (n *KrakenNormalizer) SubscribePayload(symbols []types.Symbol) (any, error) {
	pairs := make([]string, 0, len(symbols))
	for _, s := range symbols {
		pairs = append(pairs, s.String())
	}
	return map[string]any{
		"method": "subscribe",
		"params": map[string]any{"channel": "book", "symbol": pairs, "depth": 25},
	}, nil
}

type krakenLevel struct {
	Price float64 `json:"price"`
	Qty   float64 `json:"qty"`
}

type krakenFrame struct {
	Channel string `json:"channel"`
	Type    string `json:"type"`
	Data    []struct {
		Symbol   string        `json:"symbol"`
		Bids     []krakenLevel `json:"bids"`
		Asks     []krakenLevel `json:"asks"`
		Checksum uint64        `json:"checksum"`
		// trade payload
		Price float64 `json:"price"`
		Qty   float64 `json:"qty"`
		Side  string  `json:"side"`
	} `json:"data"`
}

// Parse decodes one v2 frame. Every book frame, snapshot or update, is
// emitted as a full book replacement; trade frames become trades.
func (n *KrakenNormalizer) Parse(raw []byte) ([]Event, error) {
	var frame krakenFrame
	if err := decodeJSON(raw, &frame); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	if len(frame.Data) == 0 {
		return nil, nil // status, heartbeat, or method ack
	}

	events := make([]Event, 0, len(frame.Data))
	switch frame.Channel {
	case "book":
		for _, d := range frame.Data {
			symbol, err := types.ParseSymbol(d.Symbol)
			if err != nil {
				return nil, fmt.Errorf("symbol %q: %w", d.Symbol, err)
			}
			events = append(events, Event{Book: &types.OrderBook{
				Venue:     n.Venue(),
				Symbol:    symbol,
				Timestamp: time.Now().UnixNano(),
				Sequence:  d.Checksum,
				Bids:      krakenLevels(d.Bids),
				Asks:      krakenLevels(d.Asks),
			}})
		}
	case "trade":
		for _, d := range frame.Data {
			symbol, err := types.ParseSymbol(d.Symbol)
			if err != nil {
				return nil, fmt.Errorf("symbol %q: %w", d.Symbol, err)
			}
			side := types.SideBuy
			if d.Side == "sell" {
				side = types.SideSell
			}
			events = append(events, Event{Trade: &types.Trade{
				Venue:     n.Venue(),
				Symbol:    symbol,
				Price:     fixed.PriceFromFloat(d.Price),
				Quantity:  fixed.QuantityFromFloat(d.Qty),
				Side:      side,
				Timestamp: time.Now().UnixNano(),
			}})
		}
	}

	return events, nil
}

type krakenDepthResponse struct {
	Error  []string `json:"error"`
	Result map[string]struct {
		Bids [][]any `json:"bids"`
		Asks [][]any `json:"asks"`
	} `json:"result"`
}

// Snapshot pulls the REST Depth endpoint.
func (n *KrakenNormalizer) Snapshot(ctx context.Context, symbol types.Symbol) (*types.OrderBook, error) {
	var resp krakenDepthResponse
	r, err := n.rest.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"pair": symbol.Compact(), "count": "50"}).
		SetResult(&resp).
		Get("/0/public/Depth")
	if err != nil {
		return nil, fmt.Errorf("kraken depth: %w", err)
	}
	if r.IsError() || len(resp.Error) > 0 {
		return nil, fmt.Errorf("kraken depth: status %d errors %v", r.StatusCode(), resp.Error)
	}

	for _, book := range resp.Result {
		bids, err := krakenRESTLevels(book.Bids)
		if err != nil {
			return nil, fmt.Errorf("bids: %w", err)
		}
		asks, err := krakenRESTLevels(book.Asks)
		if err != nil {
			return nil, fmt.Errorf("asks: %w", err)
		}
		return &types.OrderBook{
			Venue:     n.Venue(),
			Symbol:    symbol,
			Timestamp: time.Now().UnixNano(),
			Bids:      bids,
			Asks:      asks,
		}, nil
	}

	return nil, fmt.Errorf("kraken depth: empty result for %s", symbol)
}

func krakenLevels(levels []krakenLevel) []types.OrderBookLevel {
	out := make([]types.OrderBookLevel, 0, len(levels))
	for _, l := range levels {
		if l.Qty == 0 {
			continue
		}
		out = append(out, types.OrderBookLevel{
			Price:    fixed.PriceFromFloat(l.Price),
			Quantity: fixed.QuantityFromFloat(l.Qty),
		})
	}
	return out
}

// krakenRESTLevels parses [price, volume, timestamp] triples where numbers
// arrive as JSON strings.
func krakenRESTLevels(raw [][]any) ([]types.OrderBookLevel, error) {
	out := make([]types.OrderBookLevel, 0, len(raw))
	for _, triple := range raw {
		if len(triple) < 2 {
			return nil, fmt.Errorf("short level %v", triple)
		}
		price, err := anyToFloat(triple[0])
		if err != nil {
			return nil, err
		}
		qty, err := anyToFloat(triple[1])
		if err != nil {
			return nil, err
		}
		if qty == 0 {
			continue
		}
		out = append(out, types.OrderBookLevel{
			Price:    fixed.PriceFromFloat(price),
			Quantity: fixed.QuantityFromFloat(qty),
		})
	}
	return out, nil
}

func anyToFloat(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case string:
		var f float64
		_, err := fmt.Sscanf(t, "%g", &f)
		return f, err
	default:
		return 0, fmt.Errorf("unexpected numeric type %T", v)
	}
}
