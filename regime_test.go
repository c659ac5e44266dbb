package main

import (
	"testing"
	"time"
)

func regimeTestConfig() Config {
	return Config{
		CompressionRatio:   0.6,
		VolumeSpikeMult:    1.5,
		RangeWindowMinutes: 10,
		VolShortMinutes:    5,
		VolLongMinutes:     10,
		FundingFilter:      0.03,
		RegimeSignalCacheTTLMs: 2000,
	}
}

// flatCandles builds n candles at a constant price and volume; useful as a
// quiet baseline that clearly has neither compression-breaking variance nor
// a volume spike nor a breakout.
func flatCandles(n int, price, volume float64, start time.Time) []Candle {
	out := make([]Candle, n)
	for i := range out {
		out[i] = Candle{Time: start.Add(time.Duration(i) * time.Minute), Open: price, High: price, Low: price, Close: price, Volume: volume}
	}
	return out
}

func TestRegimeEvaluateInsufficientHistoryIsNeutral(t *testing.T) {
	e := NewRegimeEngine(regimeTestConfig())
	sig := e.Evaluate("BTC-USDC", flatCandles(5, 100, 10, time.Now()), 0, false, time.Now())
	if sig.Direction != DirNone {
		t.Fatalf("short history should yield DirNone, got %v", sig.Direction)
	}
}

func TestRegimeEvaluateFlatSeriesHasNoSignal(t *testing.T) {
	e := NewRegimeEngine(regimeTestConfig())
	now := time.Now()
	candles := flatCandles(e.minCandlesNeeded()+1, 100, 10, now)
	sig := e.Evaluate("BTC-USDC", candles, 0, false, now)
	if sig.Compression {
		t.Fatalf("zero-variance series should not report compression (0 < ratio*0 is false)")
	}
	if sig.VolumeSpike {
		t.Fatalf("flat volume series should not report a volume spike")
	}
	if sig.Direction != DirNone {
		t.Fatalf("flat series should not break out, got %v", sig.Direction)
	}
}

func TestRegimeEvaluateVolumeSpikeDetected(t *testing.T) {
	e := NewRegimeEngine(regimeTestConfig())
	now := time.Now()
	candles := flatCandles(e.minCandlesNeeded()+1, 100, 10, now)
	candles[len(candles)-1].Volume = 100 // well above 1.5x the 10-unit average
	sig := e.Evaluate("BTC-USDC", candles, 0, false, now)
	if !sig.VolumeSpike {
		t.Fatalf("expected volume spike with last-bar volume 10x the trailing average")
	}
}

func TestRegimeEvaluateBreakoutUpDetected(t *testing.T) {
	e := NewRegimeEngine(regimeTestConfig())
	now := time.Now()
	candles := flatCandles(e.minCandlesNeeded()+1, 100, 10, now)
	candles[len(candles)-1].Close = 110 // clears the flat 100 range high
	sig := e.Evaluate("BTC-USDC", candles, 0, false, now)
	if sig.Direction != DirLong {
		t.Fatalf("expected DirLong breakout, got %v", sig.Direction)
	}
	if !sig.Breakout.Up {
		t.Fatalf("expected Breakout.Up = true")
	}
}

func TestRegimeEvaluateBreakoutDownDetected(t *testing.T) {
	e := NewRegimeEngine(regimeTestConfig())
	now := time.Now()
	candles := flatCandles(e.minCandlesNeeded()+1, 100, 10, now)
	candles[len(candles)-1].Close = 90
	sig := e.Evaluate("BTC-USDC", candles, 0, false, now)
	if sig.Direction != DirShort {
		t.Fatalf("expected DirShort breakout, got %v", sig.Direction)
	}
	if !sig.Breakout.Down {
		t.Fatalf("expected Breakout.Down = true")
	}
}

func TestRegimeEvaluateFundingNeutralizesLongButNeverInvertsToShort(t *testing.T) {
	e := NewRegimeEngine(regimeTestConfig())
	now := time.Now()
	candles := flatCandles(e.minCandlesNeeded()+1, 100, 10, now)
	candles[len(candles)-1].Close = 110
	sig := e.Evaluate("BTC-USDC", candles, 0.05, true, now) // above FundingFilter=0.03
	if sig.Direction != DirNone {
		t.Fatalf("positive funding above filter should neutralize a long breakout, got %v", sig.Direction)
	}
}

func TestRegimeEvaluateFundingWithinFilterDoesNotNeutralize(t *testing.T) {
	e := NewRegimeEngine(regimeTestConfig())
	now := time.Now()
	candles := flatCandles(e.minCandlesNeeded()+1, 100, 10, now)
	candles[len(candles)-1].Close = 110
	sig := e.Evaluate("BTC-USDC", candles, 0.01, true, now) // below FundingFilter=0.03
	if sig.Direction != DirLong {
		t.Fatalf("funding within filter should not neutralize the breakout, got %v", sig.Direction)
	}
}

func TestRegimeEvaluateCachesWithinTTL(t *testing.T) {
	e := NewRegimeEngine(regimeTestConfig())
	now := time.Now()
	candles := flatCandles(e.minCandlesNeeded()+1, 100, 10, now)
	first := e.Evaluate("BTC-USDC", candles, 0, false, now)

	// Mutate the input after the fact; a cached read within TTL must not
	// reflect it.
	candles[len(candles)-1].Close = 500
	second := e.Evaluate("BTC-USDC", candles, 0, false, now.Add(500*time.Millisecond))
	if second.Direction != first.Direction {
		t.Fatalf("expected cached signal within TTL window, got fresh recompute")
	}
}
