// FILE: gateway_http.go
// Package main – live HTTP Gateway implementation (C1, §5.1 + §7 "External
// SDK expectations").
//
// Grounded on the teacher's broker_bridge.go: net/http.Client + context.
// Responses are decoded into fixed typed structs; the teacher's `any`-typed
// fallback parsing and firstNonEmpty field coalescing are not used.
// Outbound payloads mirror the §7 SDK expectations (coin/is_buy/size/
// order_type{limit:{tif}}/reduce_only) rather than any single named
// exchange's real wire format, since the core never implements signing.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPGateway is the live Exchange Gateway. It never retries semantic
// rejections (§8); transient transport failures are retried inside each
// method via withRetry.
type HTTPGateway struct {
	cfg  Config
	base string
	hc   *http.Client
	meta *metaCache
}

// NewHTTPGateway constructs a live gateway talking to cfg.ExchangeBaseURL.
func NewHTTPGateway(cfg Config) *HTTPGateway {
	g := &HTTPGateway{
		cfg:  cfg,
		base: strings.TrimRight(cfg.ExchangeBaseURL, "/"),
		hc:   &http.Client{Timeout: time.Duration(cfg.HTTPTimeoutMs) * time.Millisecond},
	}
	g.meta = newMetaCache(time.Hour, g.fetchMeta)
	return g
}

func (g *HTTPGateway) Name() string { return "http-live" }

func (g *HTTPGateway) do(ctx context.Context, method, path string, body any, out any) error {
	var rdr io.Reader
	if body != nil {
		bs, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(bs)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.base+path, rdr)
	if err != nil {
		return asTransient(fmt.Errorf("newrequest %s: %w", path, err))
	}
	req.Header.Set("User-Agent", "perpcore/gateway")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := g.hc.Do(req)
	if err != nil {
		return asTransient(err)
	}
	defer res.Body.Close()
	b, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 500 {
		return asTransient(fmt.Errorf("%s %d: %s", path, res.StatusCode, string(b)))
	}
	if res.StatusCode >= 300 {
		return fmt.Errorf("%s %d: %s", path, res.StatusCode, string(b))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(b, out)
}

func (g *HTTPGateway) fetchMeta(ctx context.Context, symbol string) (AssetMeta, error) {
	var out struct {
		TickSize     float64 `json:"tick_size"`
		SizeDecimals int     `json:"size_decimals"`
	}
	if err := withRetry(ctx, defaultRetryConfig(), func(ctx context.Context) error {
		return g.do(ctx, http.MethodGet, "/meta?coin="+symbol, nil, &out)
	}); err != nil {
		return AssetMeta{}, err
	}
	if out.TickSize <= 0 {
		return AssetMeta{}, ErrUnknownAsset
	}
	return AssetMeta{Symbol: symbol, TickSize: out.TickSize, SizeDecimals: out.SizeDecimals, FetchedAt: time.Now()}, nil
}

func (g *HTTPGateway) SetLeverage(ctx context.Context, symbol string, leverage float64) error {
	return withRetry(ctx, defaultRetryConfig(), func(ctx context.Context) error {
		return g.do(ctx, http.MethodPost, "/leverage", map[string]any{"coin": symbol, "leverage": leverage}, nil)
	})
}

func (g *HTTPGateway) GetAccount(ctx context.Context) (Account, error) {
	var out struct {
		AccountValue float64    `json:"account_value"`
		Positions    []Position `json:"positions"`
	}
	err := withRetry(ctx, defaultRetryConfig(), func(ctx context.Context) error {
		return g.do(ctx, http.MethodGet, "/clearinghouseState", nil, &out)
	})
	if err != nil {
		return Account{}, err
	}
	return Account{BalanceUSD: out.AccountValue, Positions: out.Positions}, nil
}

func (g *HTTPGateway) GetBestBidAsk(ctx context.Context, symbol string) (BBO, error) {
	ob, err := g.GetOrderBook(ctx, symbol, 1)
	if err != nil {
		return BBO{}, err
	}
	if len(ob.Bids) == 0 || len(ob.Asks) == 0 {
		return BBO{}, fmt.Errorf("gateway: empty book for %s", symbol)
	}
	bid, ask := ob.Bids[0].Price, ob.Asks[0].Price
	return BBO{Symbol: symbol, BestBid: bid, BestAsk: ask, Mid: (bid + ask) / 2, Ts: ob.Ts}, nil
}

func (g *HTTPGateway) GetOrderBook(ctx context.Context, symbol string, depth int) (OrderBook, error) {
	var out struct {
		Levels [][]struct {
			Px string `json:"px"`
			Sz string `json:"sz"`
		} `json:"levels"`
	}
	err := withRetry(ctx, defaultRetryConfig(), func(ctx context.Context) error {
		return g.do(ctx, http.MethodGet, fmt.Sprintf("/l2Book?coin=%s&depth=%d", symbol, depth), nil, &out)
	})
	if err != nil {
		return OrderBook{}, err
	}
	if len(out.Levels) < 2 {
		return OrderBook{}, fmt.Errorf("gateway: malformed book for %s", symbol)
	}
	parse := func(rows []struct {
		Px string `json:"px"`
		Sz string `json:"sz"`
	}) []BookLevel {
		levels := make([]BookLevel, 0, len(rows))
		for _, r := range rows {
			levels = append(levels, BookLevel{Price: parseFloatSafe(r.Px), Size: parseFloatSafe(r.Sz)})
		}
		return levels
	}
	return OrderBook{Symbol: symbol, Bids: parse(out.Levels[0]), Asks: parse(out.Levels[1]), Ts: time.Now().UTC()}, nil
}

func (g *HTTPGateway) GetCandles(ctx context.Context, symbol string, limit int) ([]Candle, error) {
	endMs := time.Now().UnixMilli()
	startMs := endMs - int64(limit)*60_000
	var rows []struct {
		T int64   `json:"t"`
		O float64 `json:"o"`
		H float64 `json:"h"`
		L float64 `json:"l"`
		C float64 `json:"c"`
		V float64 `json:"v"`
	}
	err := withRetry(ctx, defaultRetryConfig(), func(ctx context.Context) error {
		return g.do(ctx, http.MethodGet, fmt.Sprintf("/candleSnapshot?coin=%s&interval=1m&start=%d&end=%d", symbol, startMs, endMs), nil, &rows)
	})
	if err != nil {
		return nil, err
	}
	out := make([]Candle, 0, len(rows))
	for _, r := range rows {
		out = append(out, Candle{Time: time.UnixMilli(r.T).UTC(), Open: r.O, High: r.H, Low: r.L, Close: r.C, Volume: r.V})
	}
	return out, nil
}

func (g *HTTPGateway) GetOrderStatus(ctx context.Context, symbol, orderID string) (OrderResult, error) {
	var out struct {
		Status    string  `json:"status"`
		AvgPx     float64 `json:"avg_px"`
		FilledSz  float64 `json:"filled_sz"`
	}
	if err := g.do(ctx, http.MethodGet, fmt.Sprintf("/orderStatus?coin=%s&oid=%s", symbol, orderID), nil, &out); err != nil {
		return OrderResult{}, asTransient(err)
	}
	status := StatusUnfilled
	switch out.Status {
	case "filled":
		status = StatusFilled
	case "resting", "open":
		status = StatusResting
	case "rejected":
		status = StatusRejected
	}
	return OrderResult{
		Status:  status,
		OrderID: orderID,
		Report: ExecutionReport{
			Ts: time.Now().UTC(), Symbol: symbol, FillPxAvg: out.AvgPx, FilledSize: out.FilledSz, Status: status,
		},
	}, nil
}

func (g *HTTPGateway) CancelOrder(ctx context.Context, symbol, orderID string) error {
	return withRetry(ctx, defaultRetryConfig(), func(ctx context.Context) error {
		return g.do(ctx, http.MethodPost, "/cancel", map[string]any{"coin": symbol, "order_id": orderID}, nil)
	})
}

func (g *HTTPGateway) placeOrder(ctx context.Context, symbol string, side OrderSide, size, limitPx float64, reduceOnly, postOnly bool) (OrderResult, error) {
	tif := "Gtc"
	if !postOnly {
		tif = "Ioc"
	}
	req := map[string]any{
		"coin":        symbol,
		"is_buy":      side == SideBuy,
		"size":        size,
		"limit_px":    int64(limitPx),
		"order_type":  map[string]any{"limit": map[string]any{"tif": tif}},
		"reduce_only": reduceOnly,
	}
	var out struct {
		OrderID string  `json:"order_id"`
		Status  string  `json:"status"`
		AvgPx   float64 `json:"avg_px"`
		FillSz  float64 `json:"filled_sz"`
	}
	err := withRetry(ctx, defaultRetryConfig(), func(ctx context.Context) error {
		err := g.do(ctx, http.MethodPost, "/order", req, &out)
		// Only a failure to reach the exchange is retried; a 5xx reply to an
		// order request is returned as-is, since the order may have been taken.
		var ue *url.Error
		var te *transientErr
		if errors.As(err, &te) && !errors.As(err, &ue) {
			return te.err
		}
		return err
	})
	if err != nil {
		return OrderResult{}, err
	}
	status := StatusResting
	switch out.Status {
	case "filled":
		status = StatusFilled
	case "rejected":
		status = StatusRejected
	}
	mot := Taker
	if postOnly {
		mot = Maker
	}
	return OrderResult{
		Status:     status,
		OrderID:    out.OrderID,
		ReduceOnly: reduceOnly,
		Report: ExecutionReport{
			Ts: time.Now().UTC(), Symbol: symbol, Side: side, RequestedPx: limitPx,
			FillPxAvg: out.AvgPx, FilledSize: out.FillSz, MakerOrTaker: mot, Status: status,
			Intent: intentFor(reduceOnly),
		},
	}, nil
}

func (g *HTTPGateway) PlacePostOnlyLimit(ctx context.Context, symbol string, side OrderSide, size, limitPx float64, reduceOnly bool) (OrderResult, error) {
	return g.placeOrder(ctx, symbol, side, size, limitPx, reduceOnly, true)
}

func (g *HTTPGateway) PlaceIOCLimit(ctx context.Context, symbol string, side OrderSide, size, limitPx float64, reduceOnly bool) (OrderResult, error) {
	return g.placeOrder(ctx, symbol, side, size, limitPx, reduceOnly, false)
}

func (g *HTTPGateway) boundedIOC(ctx context.Context, symbol string, side OrderSide, size float64, tickOffset int, reduceOnly bool) (OrderResult, error) {
	bbo, err := g.GetBestBidAsk(ctx, symbol)
	if err != nil {
		return OrderResult{}, err
	}
	tick, err := g.TickSize(symbol)
	if err != nil {
		return OrderResult{}, err
	}
	var px float64
	if side == SideBuy {
		px = bbo.BestAsk + float64(tickOffset)*tick
	} else {
		px = bbo.BestBid - float64(tickOffset)*tick
	}
	px = roundToTick(px, tick)
	slip := slippageBps(px, bbo.Mid)
	if slip > g.cfg.MaxExecutionSlippageBps {
		return OrderResult{
			Status: StatusSkipped,
			Report: ExecutionReport{
				Ts: time.Now().UTC(), Symbol: symbol, Intent: intentFor(reduceOnly), Side: side,
				RequestedPx: px, Status: StatusSkipped, SlippageBps: slip, Reason: string(ReasonSkipExecSlippage),
			},
		}, nil
	}
	return g.PlaceIOCLimit(ctx, symbol, side, size, px, reduceOnly)
}

func (g *HTTPGateway) EnterPosition(ctx context.Context, symbol string, side OrderSide, size float64, tickOffset int) (OrderResult, error) {
	return g.boundedIOC(ctx, symbol, side, size, tickOffset, false)
}

func (g *HTTPGateway) ExitPosition(ctx context.Context, symbol string, side OrderSide, size float64, tickOffset int) (OrderResult, error) {
	return g.boundedIOC(ctx, symbol, side, size, tickOffset, true)
}

func (g *HTTPGateway) RoundPriceToTick(symbol string, px float64) (float64, error) {
	tick, err := g.TickSize(symbol)
	if err != nil {
		return 0, err
	}
	return roundToTick(px, tick), nil
}

func (g *HTTPGateway) MinOrderSize(symbol string) (float64, error) {
	meta, err := g.meta.get(context.Background(), symbol)
	if err != nil {
		return 0, err
	}
	size := 1.0
	for i := 0; i < meta.SizeDecimals; i++ {
		size /= 10
	}
	return size, nil
}

func (g *HTTPGateway) TickSize(symbol string) (float64, error) {
	meta, err := g.meta.get(context.Background(), symbol)
	if err != nil {
		return 0, err
	}
	return meta.TickSize, nil
}

func parseFloatSafe(s string) float64 {
	var f float64
	_, _ = fmt.Sscanf(s, "%f", &f)
	return f
}
