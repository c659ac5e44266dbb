package main

import (
	"testing"
	"time"
)

func trackerTestConfig() Config {
	return Config{StartingBalance: 1000, MaxTradesPerDay: 20, MaxDailyDrawdownPct: 50, MaxConsecutiveLosses: 100}
}

func newTestTracker() *PositionTracker {
	cfg := trackerTestConfig()
	gate := NewDecisionGate(cfg)
	bus := NewEventBus()
	return NewPositionTracker(cfg, nil, gate, bus, nil)
}

func TestPositionTrackerOpenGetClose(t *testing.T) {
	tr := newTestTracker()
	tr.Open(Position{Symbol: "BTC-USDC", Side: SideBuy, EntryPrice: 100, Quantity: 1})
	p, ok := tr.Get("BTC-USDC")
	if !ok || p.EntryPrice != 100 {
		t.Fatalf("expected open position at entry 100, got %+v ok=%v", p, ok)
	}
	tr.Close("BTC-USDC", 110, ExitTP, time.Now())
	if _, ok := tr.Get("BTC-USDC"); ok {
		t.Fatalf("expected position removed after Close")
	}
}

func TestPositionTrackerHardStopLossBuySide(t *testing.T) {
	tr := newTestTracker()
	tr.Open(Position{Symbol: "BTC-USDC", Side: SideBuy, EntryPrice: 100, Quantity: 1, StopLossPrice: 95, TakeProfitPrice: 120})
	trig := tr.EvaluateExit("BTC-USDC", 94)
	if !trig.Triggered || trig.Reason != ExitSL {
		t.Fatalf("expected SL trigger at or below stop, got %+v", trig)
	}
}

func TestPositionTrackerHardStopLossSellSide(t *testing.T) {
	tr := newTestTracker()
	tr.Open(Position{Symbol: "BTC-USDC", Side: SideSell, EntryPrice: 100, Quantity: 1, StopLossPrice: 105, TakeProfitPrice: 80})
	trig := tr.EvaluateExit("BTC-USDC", 106)
	if !trig.Triggered || trig.Reason != ExitSL {
		t.Fatalf("expected SL trigger at or above stop on a short, got %+v", trig)
	}
}

func TestPositionTrackerHardTakeProfit(t *testing.T) {
	tr := newTestTracker()
	tr.Open(Position{Symbol: "BTC-USDC", Side: SideBuy, EntryPrice: 100, Quantity: 1, StopLossPrice: 90, TakeProfitPrice: 120})
	trig := tr.EvaluateExit("BTC-USDC", 121)
	if !trig.Triggered || trig.Reason != ExitTP {
		t.Fatalf("expected TP trigger, got %+v", trig)
	}
}

func TestPositionTrackerTrailingStopActivatesThenTriggers(t *testing.T) {
	tr := newTestTracker()
	tr.Open(Position{Symbol: "BTC-USDC", Side: SideBuy, EntryPrice: 100, Quantity: 1, StopLossPrice: 50, TakeProfitPrice: 200})

	// Run up to +5% to arm the trailing stop.
	if trig := tr.EvaluateExit("BTC-USDC", 105); trig.Triggered {
		t.Fatalf("did not expect a trigger while still running up, got %+v", trig)
	}
	p, _ := tr.Get("BTC-USDC")
	if !p.TrailingActivated || p.MaxPnLPercent < 4.9 {
		t.Fatalf("expected trailing armed near +5%%, got %+v", p)
	}

	// Give back more than the trailing distance from the high-water mark.
	trig := tr.EvaluateExit("BTC-USDC", 103)
	if !trig.Triggered || trig.Reason != ExitTrailing {
		t.Fatalf("expected TRAILING exit after giving back > trailingDistancePercent, got %+v", trig)
	}
}

func TestPositionTrackerEvaluateExitNoPositionIsNoop(t *testing.T) {
	tr := newTestTracker()
	trig := tr.EvaluateExit("BTC-USDC", 100)
	if trig.Triggered {
		t.Fatalf("expected no trigger for an untracked symbol")
	}
}

func TestPositionTrackerReconciliationClosesGhostAndIsIdempotent(t *testing.T) {
	tr := newTestTracker()
	tr.Open(Position{Symbol: "BTC-USDC", Side: SideBuy, EntryPrice: 100, Quantity: 1})
	tr.Open(Position{Symbol: "ETH-USDC", Side: SideBuy, EntryPrice: 2000, Quantity: 2})

	now := time.Now()
	acct := Account{BalanceUSD: 1000, Positions: []Position{{Symbol: "ETH-USDC", Side: SideBuy, EntryPrice: 2000, Quantity: 2}}}
	tr.applyReconciliation(acct, now)

	if _, ok := tr.Get("BTC-USDC"); ok {
		t.Fatalf("expected BTC-USDC position closed as a ghost once absent from the exchange")
	}
	if p, ok := tr.Get("ETH-USDC"); !ok || p.Quantity != 2 {
		t.Fatalf("expected ETH-USDC position to survive reconciliation, got %+v ok=%v", p, ok)
	}

	// A second run against the identical account snapshot must be a no-op.
	tr.applyReconciliation(acct, now)
	if p, ok := tr.Get("ETH-USDC"); !ok || p.Quantity != 2 {
		t.Fatalf("expected reconciliation to be idempotent, got %+v ok=%v", p, ok)
	}
}

func TestPositionTrackerSaveAndRehydrateSnapshot(t *testing.T) {
	cfg := trackerTestConfig()
	cfg.PersistState = true
	cfg.StateFile = t.TempDir() + "/state.json"
	gate := NewDecisionGate(cfg)
	bus := NewEventBus()
	tr := NewPositionTracker(cfg, nil, gate, bus, nil)
	tr.Open(Position{Symbol: "BTC-USDC", Side: SideBuy, EntryPrice: 100, Quantity: 1})

	if err := tr.SaveSnapshot(); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}

	tr2 := NewPositionTracker(cfg, nil, gate, bus, nil)
	if err := tr2.RehydrateFromDisk(); err != nil {
		t.Fatalf("RehydrateFromDisk failed: %v", err)
	}
	p, ok := tr2.Get("BTC-USDC")
	if !ok || p.EntryPrice != 100 {
		t.Fatalf("expected rehydrated position at entry 100, got %+v ok=%v", p, ok)
	}
}
