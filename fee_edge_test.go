package main

import "testing"

func baseFeeCfg() Config {
	return Config{
		MakerFeeBps:    -1.5,
		TakerFeeBps:    4.5,
		SlippageBpsEst: 3.0,
		MaxHoldSeconds: 3600,
	}
}

func TestFeeBpsRoundTrip(t *testing.T) {
	cfg := baseFeeCfg()
	if got := feeBpsRoundTrip(cfg, FeeModeMaker); got != -3.0 {
		t.Fatalf("maker round-trip fee = %v, want -3.0", got)
	}
	if got := feeBpsRoundTrip(cfg, FeeModeTaker); got != 9.0 {
		t.Fatalf("taker round-trip fee = %v, want 9.0", got)
	}
}

func TestExpectedCostBpsMakerCheaperThanTaker(t *testing.T) {
	cfg := baseFeeCfg()
	makerCost := expectedCostBps(cfg, FeeModeMaker, 2.0)
	takerCost := expectedCostBps(cfg, FeeModeTaker, 2.0)
	if makerCost >= takerCost {
		t.Fatalf("maker cost (%v) should be cheaper than taker cost (%v) at the same spread", makerCost, takerCost)
	}
}

func TestExpectedMoveBpsScalesWithVol(t *testing.T) {
	cfg := baseFeeCfg()
	low := expectedMoveBps(cfg, 0.001)
	high := expectedMoveBps(cfg, 0.01)
	if high <= low {
		t.Fatalf("expected move should increase with vol30m: low=%v high=%v", low, high)
	}
}

func TestNetEdgeBps(t *testing.T) {
	if got := netEdgeBps(30, 10); got != 20 {
		t.Fatalf("netEdgeBps(30,10) = %v, want 20", got)
	}
}

func TestEvaluateEdge(t *testing.T) {
	cfg := baseFeeCfg()
	ev := evaluateEdge(cfg, FeeModeMaker, 0.005, 2.0)
	if ev.NetEdgeBps != ev.ExpectedMoveBps-ev.CostBps {
		t.Fatalf("NetEdgeBps inconsistent with ExpectedMoveBps/CostBps: %+v", ev)
	}
}
