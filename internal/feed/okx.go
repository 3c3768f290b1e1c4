package feed

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/arbiterlabs/arbiter/pkg/fixed"
	"github.com/arbiterlabs/arbiter/pkg/types"
)

// OKXNormalizer parses OKX v5 public frames (books5 + trades channels).
type OKXNormalizer struct {
	rest *resty.Client
}

// NewOKXNormalizer creates an OKX normalizer.
func NewOKXNormalizer(restURL string) *OKXNormalizer {
	return &OKXNormalizer{rest: resty.New().SetBaseURL(restURL).SetTimeout(5 * time.Second)}
}

// Venue returns the venue identifier.
func (n *OKXNormalizer) Venue() types.Venue { return types.VenueOKX }

// SubscribePayload builds the v5 subscribe op for books5 and trades.
func (n *OKXNormalizer) SubscribePayload(symbols []types.Symbol) (any, error) {
	args := make([]map[string]string, 0, len(symbols)*2)
	for _, s := range symbols {
		instID := s.Base + "-" + s.Quote
		args = append(args,
			map[string]string{"channel": "books5", "instId": instID},
			map[string]string{"channel": "trades", "instId": instID},
		)
	}
	return map[string]any{"op": "subscribe", "args": args}, nil
}

type okxFrame struct {
	Event string `json:"event"`
	Arg   struct {
		Channel string `json:"channel"`
		InstID  string `json:"instId"`
	} `json:"arg"`
	Data []struct {
		// books payload
		Bids  [][]string `json:"bids"`
		Asks  [][]string `json:"asks"`
		SeqID uint64     `json:"seqId"`
		// trades payload
		Px   string `json:"px"`
		Sz   string `json:"sz"`
		Side string `json:"side"`
		TS   string `json:"ts"`
	} `json:"data"`
}

// Parse decodes one OKX frame.
func (n *OKXNormalizer) Parse(raw []byte) ([]Event, error) {
	var frame okxFrame
	if err := decodeJSON(raw, &frame); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	if frame.Event != "" || len(frame.Data) == 0 {
		return nil, nil // subscribe ack, error event, or heartbeat
	}

	symbol, err := types.ParseSymbol(frame.Arg.InstID)
	if err != nil {
		return nil, fmt.Errorf("instId %q: %w", frame.Arg.InstID, err)
	}

	switch frame.Arg.Channel {
	case "books5", "books":
		events := make([]Event, 0, len(frame.Data))
		for _, d := range frame.Data {
			bids, err := parseLevels(d.Bids)
			if err != nil {
				return nil, fmt.Errorf("bids: %w", err)
			}
			asks, err := parseLevels(d.Asks)
			if err != nil {
				return nil, fmt.Errorf("asks: %w", err)
			}
			events = append(events, Event{Book: &types.OrderBook{
				Venue:     n.Venue(),
				Symbol:    symbol,
				Timestamp: time.Now().UnixNano(),
				Sequence:  d.SeqID,
				Bids:      bids,
				Asks:      asks,
			}})
		}
		return events, nil

	case "trades":
		events := make([]Event, 0, len(frame.Data))
		for _, d := range frame.Data {
			px, err := strconv.ParseFloat(d.Px, 64)
			if err != nil {
				return nil, fmt.Errorf("parse px: %w", err)
			}
			sz, err := strconv.ParseFloat(d.Sz, 64)
			if err != nil {
				return nil, fmt.Errorf("parse sz: %w", err)
			}
			side := types.SideBuy
			if d.Side == "sell" {
				side = types.SideSell
			}
			ts, _ := strconv.ParseInt(d.TS, 10, 64)
			events = append(events, Event{Trade: &types.Trade{
				Venue:     n.Venue(),
				Symbol:    symbol,
				Price:     fixed.PriceFromFloat(px),
				Quantity:  fixed.QuantityFromFloat(sz),
				Side:      side,
				Timestamp: ts * int64(time.Millisecond),
			}})
		}
		return events, nil
	}

	return nil, nil
}

type okxBooksResponse struct {
	Code string `json:"code"`
	Data []struct {
		Bids [][]string `json:"bids"`
		Asks [][]string `json:"asks"`
		TS   string     `json:"ts"`
	} `json:"data"`
}

// Snapshot pulls the REST books endpoint.
func (n *OKXNormalizer) Snapshot(ctx context.Context, symbol types.Symbol) (*types.OrderBook, error) {
	var resp okxBooksResponse
	r, err := n.rest.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"instId": symbol.Base + "-" + symbol.Quote, "sz": "50"}).
		SetResult(&resp).
		Get("/api/v5/market/books")
	if err != nil {
		return nil, fmt.Errorf("okx books: %w", err)
	}
	if r.IsError() || resp.Code != "0" || len(resp.Data) == 0 {
		return nil, fmt.Errorf("okx books: status %d code %s", r.StatusCode(), resp.Code)
	}

	bids, err := parseLevels(resp.Data[0].Bids)
	if err != nil {
		return nil, fmt.Errorf("bids: %w", err)
	}
	asks, err := parseLevels(resp.Data[0].Asks)
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
