// FILE: gateway_dryrun.go
// Package main – dry-run Gateway implementation (§5.1 "Dry-run mode").
//
// Every side effect is replaced by a deterministic simulation: orders fill
// at the requested price after a fixed 20 ms latency (not read from
// configuration), no network I/O
// occurs. Grounded on the teacher's broker_paper.go PaperBroker, which does
// the same thing for spot market quotes via google/uuid-stamped synthetic
// fills; generalized here to the full C1 surface (post-only, IOC,
// reduce-only, book/candle snapshots fed from an in-memory feed).

package main

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DryRunGateway simulates a single exchange for testing and paper trading.
// Feed* fields let tests and the composition root push synthetic market
// data in; in the absence of a feed, GetBestBidAsk/GetOrderBook return
// ErrUnknownAsset and GetCandles returns an empty slice.
type DryRunGateway struct {
	cfg      Config
	mu       sync.RWMutex
	meta     *metaCache
	book     map[string]OrderBook
	candles  map[string][]Candle
	bbo      map[string]BBO
	account  Account
	fillLatency time.Duration
}

// NewDryRunGateway constructs a simulated gateway whose account balance
// starts at cfg.StartingBalance; SeedAccount replaces the account.
func NewDryRunGateway(cfg Config) *DryRunGateway {
	g := &DryRunGateway{
		cfg:         cfg,
		book:        make(map[string]OrderBook),
		candles:     make(map[string][]Candle),
		bbo:         make(map[string]BBO),
		account:     Account{BalanceUSD: cfg.StartingBalance},
		fillLatency: 20 * time.Millisecond,
	}
	g.meta = newMetaCache(time.Hour, func(ctx context.Context, symbol string) (AssetMeta, error) {
		return AssetMeta{Symbol: symbol, TickSize: 0.5, SizeDecimals: 4, FetchedAt: time.Now()}, nil
	})
	return g
}

func (g *DryRunGateway) Name() string { return "dry-run" }

// SeedBBO lets tests/composition-root push a BBO the simulated gateway will
// serve from GetBestBidAsk and use as the fill reference price.
func (g *DryRunGateway) SeedBBO(symbol string, b BBO) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.bbo[symbol] = b
}

// SeedCandles lets tests push a candle history for the regime engine.
func (g *DryRunGateway) SeedCandles(symbol string, c []Candle) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.candles[symbol] = c
}

// SeedAccount overrides the simulated starting balance.
func (g *DryRunGateway) SeedAccount(a Account) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.account = a
}

func (g *DryRunGateway) SetLeverage(ctx context.Context, symbol string, leverage float64) error {
	return nil
}

func (g *DryRunGateway) GetAccount(ctx context.Context) (Account, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.account, nil
}

func (g *DryRunGateway) GetBestBidAsk(ctx context.Context, symbol string) (BBO, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	b, ok := g.bbo[symbol]
	if !ok {
		return BBO{}, ErrUnknownAsset
	}
	return b, nil
}

func (g *DryRunGateway) GetOrderBook(ctx context.Context, symbol string, depth int) (OrderBook, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if ob, ok := g.book[symbol]; ok {
		return ob, nil
	}
	b, ok := g.bbo[symbol]
	if !ok {
		return OrderBook{}, ErrUnknownAsset
	}
	return OrderBook{
		Symbol: symbol,
		Bids:   []BookLevel{{Price: b.BestBid, Size: 1}},
		Asks:   []BookLevel{{Price: b.BestAsk, Size: 1}},
		Ts:     b.Ts,
	}, nil
}

func (g *DryRunGateway) GetCandles(ctx context.Context, symbol string, limit int) ([]Candle, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c := g.candles[symbol]
	if len(c) > limit && limit > 0 {
		c = c[len(c)-limit:]
	}
	return c, nil
}

func (g *DryRunGateway) GetOrderStatus(ctx context.Context, symbol, orderID string) (OrderResult, error) {
	// In dry-run, placement is synchronous-fill (below), so a later status
	// poll always reports filled; nothing stays resting across ticks.
	return OrderResult{Status: StatusFilled, OrderID: orderID}, nil
}

func (g *DryRunGateway) CancelOrder(ctx context.Context, symbol, orderID string) error {
	return nil
}

func (g *DryRunGateway) simulateFill(symbol string, side OrderSide, size, px float64, reduceOnly bool, intent OrderIntent, mot MakerOrTaker) (OrderResult, error) {
	id := uuid.New().String()
	rep := ExecutionReport{
		Ts:           time.Now().UTC(),
		Symbol:       symbol,
		Intent:       intent,
		Side:         side,
		RequestedPx:  px,
		FillPxAvg:    px,
		FilledSize:   size,
		MakerOrTaker: mot,
		Status:       StatusFilled,
	}
	return OrderResult{Status: StatusFilled, Report: rep, OrderID: id, ReduceOnly: reduceOnly}, nil
}

func (g *DryRunGateway) PlacePostOnlyLimit(ctx context.Context, symbol string, side OrderSide, size, limitPx float64, reduceOnly bool) (OrderResult, error) {
	time.Sleep(g.fillLatency)
	return g.simulateFill(symbol, side, size, limitPx, reduceOnly, intentFor(reduceOnly), Maker)
}

func (g *DryRunGateway) PlaceIOCLimit(ctx context.Context, symbol string, side OrderSide, size, limitPx float64, reduceOnly bool) (OrderResult, error) {
	time.Sleep(g.fillLatency)
	return g.simulateFill(symbol, side, size, limitPx, reduceOnly, intentFor(reduceOnly), Taker)
}

func intentFor(reduceOnly bool) OrderIntent {
	if reduceOnly {
		return IntentExit
	}
	return IntentEntry
}

func (g *DryRunGateway) boundedIOC(ctx context.Context, symbol string, side OrderSide, size float64, tickOffset int, reduceOnly bool, cfg Config) (OrderResult, error) {
	bbo, err := g.GetBestBidAsk(ctx, symbol)
	if err != nil {
		return OrderResult{}, err
	}
	tick, _ := g.TickSize(symbol)
	var px float64
	if side == SideBuy {
		px = bbo.BestAsk + float64(tickOffset)*tick
	} else {
		px = bbo.BestBid - float64(tickOffset)*tick
	}
	px = roundToTick(px, tick)
	slip := slippageBps(px, bbo.Mid)
	if slip > cfg.MaxExecutionSlippageBps {
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

func (g *DryRunGateway) EnterPosition(ctx context.Context, symbol string, side OrderSide, size float64, tickOffset int) (OrderResult, error) {
	return g.boundedIOC(ctx, symbol, side, size, tickOffset, false, g.cfg)
}

func (g *DryRunGateway) ExitPosition(ctx context.Context, symbol string, side OrderSide, size float64, tickOffset int) (OrderResult, error) {
	return g.boundedIOC(ctx, symbol, side, size, tickOffset, true, g.cfg)
}

func (g *DryRunGateway) RoundPriceToTick(symbol string, px float64) (float64, error) {
	tick, err := g.TickSize(symbol)
	if err != nil {
		return 0, err
	}
	return roundToTick(px, tick), nil
}

func (g *DryRunGateway) MinOrderSize(symbol string) (float64, error) {
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

func (g *DryRunGateway) TickSize(symbol string) (float64, error) {
	meta, err := g.meta.get(context.Background(), symbol)
	if err != nil {
		return 0, err
	}
	return meta.TickSize, nil
}
