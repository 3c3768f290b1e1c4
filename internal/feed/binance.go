package feed

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/arbiterlabs/arbiter/pkg/fixed"
	"github.com/arbiterlabs/arbiter/pkg/types"
)

// BinanceNormalizer parses Binance combined-stream frames into normalized
// events and pulls REST depth snapshots for resync.
type BinanceNormalizer struct {
	rest    *resty.Client
	symbols map[string]types.Symbol // stream key -> symbol
}

// NewBinanceNormalizer creates a Binance normalizer.
func NewBinanceNormalizer(restURL string) *BinanceNormalizer {
	return &BinanceNormalizer{
		rest:    resty.New().SetBaseURL(restURL).SetTimeout(5 * time.Second),
		symbols: make(map[string]types.Symbol),
	}
}

// Venue returns the venue identifier.
func (n *BinanceNormalizer) Venue() types.Venue { return types.VenueBinance }

// SubscribePayload builds the SUBSCRIBE frame for depth and trade streams.
func (n *BinanceNormalizer) SubscribePayload(symbols []types.Symbol) (any, error) {
	params := make([]string, 0, len(symbols)*2)
	for _, s := range symbols {
		key := strings.ToLower(s.Compact())
		n.symbols[key] = s
		params = append(params, key+"@depth20@100ms", key+"@trade")
	}
	return map[string]any{"method": "SUBSCRIBE", "params": params, "id": 1}, nil
}

type binanceCombinedFrame struct {
	Stream string `json:"stream"`
	Data   struct {
		// depth payload
		LastUpdateID uint64     `json:"lastUpdateId"`
		Bids         [][]string `json:"bids"`
		Asks         [][]string `json:"asks"`
		// trade payload
		EventType string `json:"e"`
		Symbol    string `json:"s"`
		Price     string `json:"p"`
		Quantity  string `json:"q"`
		Maker     bool   `json:"m"`
		EventTime int64  `json:"E"`
	} `json:"data"`
	// Subscription acks carry only these.
	Result any `json:"result"`
	ID     int `json:"id"`
}

// Parse decodes one combined-stream frame.
func (n *BinanceNormalizer) Parse(raw []byte) ([]Event, error) {
	var frame binanceCombinedFrame
	if err := decodeJSON(raw, &frame); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	if frame.Stream == "" {
		return nil, nil // subscription ack or heartbeat
	}

	key, kind, _ := strings.Cut(frame.Stream, "@")
	symbol, ok := n.symbols[key]
	if !ok {
		parsed, err := types.ParseSymbol(strings.ToUpper(key))
		if err != nil {
			return nil, fmt.Errorf("unknown stream %q", frame.Stream)
		}
		symbol = parsed
	}

	if strings.HasPrefix(kind, "depth") {
		book, err := n.toBook(symbol, frame.Data.LastUpdateID, frame.Data.Bids, frame.Data.Asks)
		if err != nil {
			return nil, err
		}
		return []Event{{Book: book}}, nil
	}

	if frame.Data.EventType == "trade" {
		price, err := strconv.ParseFloat(frame.Data.Price, 64)
		if err != nil {
			return nil, fmt.Errorf("parse trade price: %w", err)
		}
		qty, err := strconv.ParseFloat(frame.Data.Quantity, 64)
		if err != nil {
			return nil, fmt.Errorf("parse trade quantity: %w", err)
		}

		side := types.SideBuy
		if frame.Data.Maker {
			side = types.SideSell
		}
		return []Event{{Trade: &types.Trade{
			Venue:     n.Venue(),
			Symbol:    symbol,
			Price:     fixed.PriceFromFloat(price),
			Quantity:  fixed.QuantityFromFloat(qty),
			Side:      side,
			Timestamp: frame.Data.EventTime * int64(time.Millisecond),
		}}}, nil
	}

	return nil, nil
}

type binanceDepthResponse struct {
	LastUpdateID uint64     `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

// Snapshot pulls the REST depth endpoint.
func (n *BinanceNormalizer) Snapshot(ctx context.Context, symbol types.Symbol) (*types.OrderBook, error) {
	var resp binanceDepthResponse
	r, err := n.rest.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"symbol": symbol.Compact(), "limit": "50"}).
		SetResult(&resp).
		Get("/api/v3/depth")
	if err != nil {
		return nil, fmt.Errorf("binance depth: %w", err)
	}
	if r.IsError() {
		return nil, fmt.Errorf("binance depth: status %d: %s", r.StatusCode(), r.String())
	}

	return n.toBook(symbol, resp.LastUpdateID, resp.Bids, resp.Asks)
}

func (n *BinanceNormalizer) toBook(symbol types.Symbol, seq uint64, bids, asks [][]string) (*types.OrderBook, error) {
	book := &types.OrderBook{
		Venue:     n.Venue(),
		Symbol:    symbol,
		Timestamp: time.Now().UnixNano(),
		Sequence:  seq,
	}

	var err error
	if book.Bids, err = parseLevels(bids); err != nil {
		return nil, fmt.Errorf("bids: %w", err)
	}
	if book.Asks, err = parseLevels(asks); err != nil {
		return nil, fmt.Errorf("asks: %w", err)
	}
	return book, nil
}

// parseLevels converts [["price","qty"],...] pairs, skipping zero-quantity
// levels (deletions in delta encodings).
func parseLevels(raw [][]string) ([]types.OrderBookLevel, error) {
	levels := make([]types.OrderBookLevel, 0, len(raw))
	for _, pair := range raw {
		if len(pair) < 2 {
			return nil, fmt.Errorf("short level %v", pair)
		}
		price, err := strconv.ParseFloat(pair[0], 64)
		if err != nil {
			return nil, fmt.Errorf("parse price %q: %w", pair[0], err)
		}
		qty, err := strconv.ParseFloat(pair[1], 64)
		if err != nil {
			return nil, fmt.Errorf("parse quantity %q: %w", pair[1], err)
		}
		if qty == 0 {
			continue
		}
		levels = append(levels, types.OrderBookLevel{
			Price:    fixed.PriceFromFloat(price),
			Quantity: fixed.QuantityFromFloat(qty),
		})
	}
	return levels, nil
}
