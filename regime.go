// FILE: regime.go
// Package main – Regime Signal Engine (C4).
//
// Pure function from recent 1-minute candles to a RegimeSignal, wrapped in a
// per-symbol TTL cache so the execution actor can call Evaluate every tick
// without recomputing the statistics on every call. Grounded on the teacher's
// indicators.go rolling-window idiom; the teacher's own EMA-crossover decide()
// signal is the legacy path this replaces, not reuses.

package main

import (
	"math"
	"sync"
	"time"
)

// RegimeEngine computes and caches RegimeSignal per symbol.
type RegimeEngine struct {
	cfg Config

	mu    sync.RWMutex
	cache map[string]cachedRegime
}

type cachedRegime struct {
	signal  RegimeSignal
	expires time.Time
}

// NewRegimeEngine constructs the engine with a given config snapshot.
func NewRegimeEngine(cfg Config) *RegimeEngine {
	return &RegimeEngine{cfg: cfg, cache: make(map[string]cachedRegime)}
}

// minCandlesNeeded is the window the algorithm requires, per §5.4 step 1.
func (e *RegimeEngine) minCandlesNeeded() int {
	n := e.cfg.VolLongMinutes
	if e.cfg.RangeWindowMinutes > n {
		n = e.cfg.RangeWindowMinutes
	}
	if n < 30 {
		n = 30
	}
	return n + 5
}

// Evaluate returns the cached signal if fresh, else recomputes it from
// candles (ascending by time) and caches the result for
// RegimeSignalCacheTTLMs. fundingRate may be 0/unset if the symbol carries
// no funding bias.
func (e *RegimeEngine) Evaluate(symbol string, candles []Candle, fundingRate float64, hasFunding bool, now time.Time) RegimeSignal {
	e.mu.RLock()
	if c, ok := e.cache[symbol]; ok && now.Before(c.expires) {
		e.mu.RUnlock()
		return c.signal
	}
	e.mu.RUnlock()

	sig := e.compute(symbol, candles, fundingRate, hasFunding, now)

	e.mu.Lock()
	e.cache[symbol] = cachedRegime{
		signal:  sig,
		expires: now.Add(time.Duration(e.cfg.RegimeSignalCacheTTLMs) * time.Millisecond),
	}
	e.mu.Unlock()
	return sig
}

func (e *RegimeEngine) compute(symbol string, candles []Candle, fundingRate float64, hasFunding bool, now time.Time) RegimeSignal {
	need := e.minCandlesNeeded()
	if len(candles) < need+1 {
		// Not enough history: emit a neutral signal; its Compression=false
		// makes the gate veto it with FAIL_COMPRESSION.
		return RegimeSignal{Symbol: symbol, Ts: now, Direction: DirNone}
	}

	rets := logReturns(candles)
	vol5m := stddev(rets, e.cfg.VolShortMinutes) * math.Sqrt(60)
	vol30m := stddev(rets, e.cfg.VolLongMinutes) * math.Sqrt(60)
	compression := vol5m < e.cfg.CompressionRatio*vol30m

	volumes := make([]float64, len(candles))
	for i, c := range candles {
		volumes[i] = c.Volume
	}
	volume1m := volumes[len(volumes)-1]
	avgVol15m := mean(volumes[:len(volumes)-1], e.cfg.RangeWindowMinutes)
	volumeSpike := volume1m > e.cfg.VolumeSpikeMult*avgVol15m

	rangeHigh := maxHigh(candles[:len(candles)-1], e.cfg.RangeWindowMinutes)
	rangeLow := minLow(candles[:len(candles)-1], e.cfg.RangeWindowMinutes)
	closeLast := candles[len(candles)-1].Close

	dir := DirNone
	brk := Breakout{}
	switch {
	case closeLast > rangeHigh:
		dir = DirLong
		brk = Breakout{Up: true, Level: rangeHigh}
	case closeLast < rangeLow:
		dir = DirShort
		brk = Breakout{Down: true, Level: rangeLow}
	}

	// Funding bias never inverts direction, only neutralizes it.
	if hasFunding {
		if fundingRate > e.cfg.FundingFilter && dir == DirLong {
			dir = DirNone
		}
		if fundingRate < -e.cfg.FundingFilter && dir == DirShort {
			dir = DirNone
		}
	}

	return RegimeSignal{
		Symbol:      symbol,
		Ts:          now,
		Direction:   dir,
		Compression: compression,
		VolumeSpike: volumeSpike,
		Breakout:    brk,
		Metrics: RegimeMetrics{
			Vol5m:      vol5m,
			Vol30m:     vol30m,
			Volume1m:   volume1m,
			AvgVol15m:  avgVol15m,
			RangeHigh:  rangeHigh,
			RangeLow:   rangeLow,
			Price:      closeLast,
			Funding:    fundingRate,
			HasFunding: hasFunding,
		},
	}
}
