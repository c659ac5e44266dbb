// FILE: aggregator.go
// Package main – Market-Data Aggregator (C3).
//
// Fuses streaming BBO (C2) with a rate-limited HTTP book fallback; emits
// per-symbol SymbolSnapshot records used by the execution loop as its
// heartbeat. The fallback limiter is golang.org/x/time/rate.Limiter, the
// off-the-shelf equivalent of the token bucket the reference market-maker
// hand-rolls in internal/exchange/ratelimit.go for the same "minimum
// inter-call gap per symbol" purpose (see DESIGN.md).

package main

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const waveWindow = 5

// Aggregator is C3.
type Aggregator struct {
	cfg Config
	gw  Gateway
	bbo *BBOStream

	mu         sync.RWMutex
	snapshots  map[string]SymbolSnapshot
	history    map[string][]SymbolSnapshot // last waveWindow snapshots per symbol
	limiters   map[string]*rate.Limiter
	lastBook   map[string]cachedBook
}

type cachedBook struct {
	ob      OrderBook
	expires time.Time
}

// NewAggregator wires C3 to the streaming client and the gateway used for
// the HTTP fallback.
func NewAggregator(cfg Config, gw Gateway, bbo *BBOStream) *Aggregator {
	return &Aggregator{
		cfg:       cfg,
		gw:        gw,
		bbo:       bbo,
		snapshots: make(map[string]SymbolSnapshot),
		history:   make(map[string][]SymbolSnapshot),
		limiters:  make(map[string]*rate.Limiter),
		lastBook:  make(map[string]cachedBook),
	}
}

func (a *Aggregator) limiterFor(symbol string) *rate.Limiter {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.limiters[symbol]
	if !ok {
		interval := time.Duration(a.cfg.HTTPFallbackMinIntervalMs) * time.Millisecond
		l = rate.NewLimiter(rate.Every(interval), 1)
		a.limiters[symbol] = l
	}
	return l
}

// Snapshot returns the latest SymbolSnapshot for a symbol, if any.
func (a *Aggregator) Snapshot(symbol string) (SymbolSnapshot, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s, ok := a.snapshots[symbol]
	return s, ok
}

// OnBBO is called for every BBO update from C2; it constructs a snapshot
// with current_price = mid and forward-copies last-known aggregate
// liquidity (§5.3).
func (a *Aggregator) OnBBO(symbol string, b BBO) {
	a.mu.Lock()
	prev := a.snapshots[symbol]
	snap := SymbolSnapshot{
		Symbol:          symbol,
		CurrentPrice:    b.Mid,
		Ts:              b.Ts,
		AggregateBidLiq: prev.AggregateBidLiq,
		AggregateAskLiq: prev.AggregateAskLiq,
	}
	a.snapshots[symbol] = snap
	hist := append(a.history[symbol], snap)
	if len(hist) > waveWindow {
		hist = hist[len(hist)-waveWindow:]
	}
	a.history[symbol] = hist
	a.mu.Unlock()

	a.recomputeWave(symbol)
}

// recomputeWave implements the §5.3 wave-direction/strength formula: the mean
// of (total_bid_liquidity - total_ask_liquidity) over the last waveWindow
// snapshots, not its rate of change. A book that sits at a constant nonzero
// imbalance is itself a wave, even though nothing is "growing".
func (a *Aggregator) recomputeWave(symbol string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	hist := a.history[symbol]
	if len(hist) == 0 {
		return
	}
	var sum float64
	for _, h := range hist {
		sum += h.AggregateBidLiq - h.AggregateAskLiq
	}
	meanImbalance := sum / float64(len(hist))
	dir := "NEUTRAL"
	if meanImbalance > 0 {
		dir = "UP"
	} else if meanImbalance < 0 {
		dir = "DOWN"
	}
	strength := meanImbalance
	if strength < 0 {
		strength = -strength
	}
	strength *= 10
	if strength > 100 {
		strength = 100
	}
	snap := a.snapshots[symbol]
	snap.WaveDirection = dir
	snap.WaveStrength = strength
	a.snapshots[symbol] = snap
}

// RunFallbackLoop runs the periodic HTTP book-fallback check (§5.3) until
// ctx is cancelled: every FallbackCheckIntervalMs, any tracked symbol whose
// BBO is stale gets a rate-limited depth refresh.
func (a *Aggregator) RunFallbackLoop(ctx context.Context, symbols []string) {
	for _, sym := range symbols {
		if a.bbo != nil && !a.bbo.IsStale(sym, a.cfg.WSStaleMs) {
			continue
		}
		a.refreshBookFallback(ctx, sym)
	}

	ticker := time.NewTicker(time.Duration(a.cfg.FallbackCheckIntervalMs) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, sym := range symbols {
				if a.bbo != nil && !a.bbo.IsStale(sym, a.cfg.WSStaleMs) {
					continue
				}
				a.refreshBookFallback(ctx, sym)
			}
		}
	}
}

func (a *Aggregator) refreshBookFallback(ctx context.Context, symbol string) {
	a.mu.RLock()
	cached, ok := a.lastBook[symbol]
	a.mu.RUnlock()

	lim := a.limiterFor(symbol)
	if !lim.Allow() {
		// Rate-limited: serve the 60s-TTL cached value if still fresh, else skip.
		if ok && time.Now().Before(cached.expires) {
			a.applyBook(symbol, cached.ob)
		}
		return
	}

	ob, err := a.gw.GetOrderBook(ctx, symbol, a.cfg.OrderBookDepth)
	if err != nil {
		log.Printf("[WARN] aggregator: http fallback book fetch failed for %s: %v", symbol, err)
		return
	}
	a.mu.Lock()
	a.lastBook[symbol] = cachedBook{ob: ob, expires: time.Now().Add(60 * time.Second)}
	a.mu.Unlock()
	a.applyBook(symbol, ob)
}

func (a *Aggregator) applyBook(symbol string, ob OrderBook) {
	a.mu.Lock()
	defer a.mu.Unlock()
	snap := a.snapshots[symbol]
	snap.Symbol = symbol
	snap.AggregateBidLiq = ob.AggregateBidLiquidity()
	snap.AggregateAskLiq = ob.AggregateAskLiquidity()
	if len(ob.Bids) > 0 && len(ob.Asks) > 0 {
		bid, ask := ob.Bids[0].Price, ob.Asks[0].Price
		snap.CurrentPrice = (bid + ask) / 2
		if a.bbo != nil {
			a.bbo.SetFallbackBBO(BBO{Symbol: symbol, BestBid: bid, BestAsk: ask, Mid: snap.CurrentPrice, Ts: ob.Ts})
		}
	}
	snap.Ts = ob.Ts
	a.snapshots[symbol] = snap
}
