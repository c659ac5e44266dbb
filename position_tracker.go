// FILE: position_tracker.go
// Package main – Position Tracker & Exit Policy (C8).
//
// Grounded on the teacher's trader.go Position fields and its persistence
// trio (saveState/snapshotStateLocked/saveStateFrom: atomic tmp-file-then-
// rename JSON snapshot) — adapted from the teacher's multi-lot runner/scalp
// trailing model down to the spec's single-position-per-symbol hard-SL/
// hard-TP/trailing-percent model, and extended with the reconciliation loop
// the teacher never needed (it trusts its own fills; this engine treats the
// exchange as truth per §5.8).

package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"
)

// trailingDistancePercent is the §5.8 "trailing_distance_percent" value,
// fixed at 1% in this single named constant; it is not read from
// configuration (see SPEC_FULL.md §10).
const trailingDistancePercent = 1.0

// PositionTracker is C8: the in-memory open-positions map plus exit
// evaluation and periodic reconciliation against exchange truth.
type PositionTracker struct {
	cfg  Config
	gw   Gateway
	gate *DecisionGate
	bus  *EventBus
	sink TradeSink

	mu        sync.RWMutex
	positions map[string]*Position

	reconcileMu sync.Mutex // reconciliation is globally mutually exclusive with itself
}

// NewPositionTracker constructs C8 wired to its collaborators.
func NewPositionTracker(cfg Config, gw Gateway, gate *DecisionGate, bus *EventBus, sink TradeSink) *PositionTracker {
	if sink == nil {
		sink = NoopTradeSink{}
	}
	return &PositionTracker{cfg: cfg, gw: gw, gate: gate, bus: bus, sink: sink, positions: make(map[string]*Position)}
}

// Open records a newly-filled entry as the symbol's open Position.
func (t *PositionTracker) Open(p Position) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := p
	t.positions[p.Symbol] = &cp
}

// Get returns a copy of the open position for symbol, if any.
func (t *PositionTracker) Get(symbol string) (Position, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// exitTrigger is the outcome of EvaluateExit.
type exitTrigger struct {
	Triggered bool
	Reason    ExitReason
}

// EvaluateExit implements §5.8 steps 1-3 against the latest mark price. It
// mutates the tracked Position's MaxPnLPercent/TrailingActivated in place so
// the trailing-stop state carries across ticks.
func (t *PositionTracker) EvaluateExit(symbol string, mark float64) exitTrigger {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.positions[symbol]
	if !ok {
		return exitTrigger{}
	}

	// 1. Hard stop-loss.
	if p.Side == SideBuy && mark <= p.StopLossPrice {
		return exitTrigger{Triggered: true, Reason: ExitSL}
	}
	if p.Side == SideSell && mark >= p.StopLossPrice {
		return exitTrigger{Triggered: true, Reason: ExitSL}
	}

	// 2. Hard take-profit.
	if p.Side == SideBuy && mark >= p.TakeProfitPrice {
		return exitTrigger{Triggered: true, Reason: ExitTP}
	}
	if p.Side == SideSell && mark <= p.TakeProfitPrice {
		return exitTrigger{Triggered: true, Reason: ExitTP}
	}

	// 3. Trailing.
	pnlPct := p.PnLPercent(mark)
	if pnlPct > p.MaxPnLPercent {
		p.MaxPnLPercent = pnlPct
		p.TrailingActivated = true
	}
	if p.TrailingActivated && pnlPct > 0 && (p.MaxPnLPercent-pnlPct) > trailingDistancePercent {
		return exitTrigger{Triggered: true, Reason: ExitTrailing}
	}
	return exitTrigger{}
}

// Close removes symbol's Position, computes realized P&L, publishes
// trade:closed, feeds the decision gate's daily counters/cooldown clock, and
// invokes the trade sink. Called by C7 once an exit order reports filled.
func (t *PositionTracker) Close(symbol string, exitPx float64, reason ExitReason, now time.Time) {
	t.mu.Lock()
	p, ok := t.positions[symbol]
	if !ok {
		t.mu.Unlock()
		return
	}
	delete(t.positions, symbol)
	t.mu.Unlock()

	var pnl float64
	if reason == ExitGhost {
		pnl = 0 // reconciliation synthesizes a zero-P&L close; lossy, flagged in SPEC_FULL.md §10.
	} else if p.Side == SideBuy {
		pnl = (exitPx - p.EntryPrice) * p.Quantity
	} else {
		pnl = (p.EntryPrice - exitPx) * p.Quantity
	}

	t.gate.RecordTradeClose(symbol, pnl, now)

	closed := TradeClosed{Symbol: symbol, Position: *p, ExitPx: exitPx, PnLUSD: pnl, Reason: reason, Ts: now}
	t.bus.PublishTrade(closed)
	t.sink.SaveTrade(closed)
}

// Reconcile implements §5.8's reconciliation routine: fetch the account with
// bounded exponential-timeout retries, then treat the exchange as truth.
// It is globally mutually exclusive with itself (one run in flight at a
// time) to satisfy the concurrency model's ordering guarantee.
func (t *PositionTracker) Reconcile(ctx context.Context) {
	t.reconcileMu.Lock()
	defer t.reconcileMu.Unlock()

	timeouts := []time.Duration{30 * time.Second, 60 * time.Second, 90 * time.Second}
	var acct Account
	var err error
	for _, to := range timeouts {
		callCtx, cancel := context.WithTimeout(ctx, to)
		acct, err = t.gw.GetAccount(callCtx)
		cancel()
		if err == nil {
			break
		}
		log.Printf("[WARN] position_tracker: reconcile fetch failed (timeout=%s): %v", to, err)
	}
	if err != nil {
		log.Printf("[ERROR] position_tracker: reconcile exhausted retries: %v", err)
		return
	}

	setEquityMetric(acct.BalanceUSD)
	t.applyReconciliation(acct, time.Now().UTC())
}

// applyReconciliation is the pure part of Reconcile, split out so tests can
// exercise P8 (idempotence) without a fake network round-trip.
func (t *PositionTracker) applyReconciliation(acct Account, now time.Time) {
	exchangeBySymbol := make(map[string]Position, len(acct.Positions))
	for _, p := range acct.Positions {
		exchangeBySymbol[p.Symbol] = p
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// In-memory positions no longer on the exchange: close locally at last
	// known price with zero P&L (lossy, §4.8/§10).
	for symbol, local := range t.positions {
		if _, stillOpen := exchangeBySymbol[symbol]; !stillOpen {
			closed := *local
			delete(t.positions, symbol)
			observeGhostClose(symbol)
			go func() {
				t.gate.RecordTradeClose(symbol, 0, now)
				event := TradeClosed{Symbol: symbol, Position: closed, ExitPx: closed.EntryPrice, PnLUSD: 0, Reason: ExitGhost, Ts: now}
				t.bus.PublishTrade(event)
				t.sink.SaveTrade(event)
			}()
		}
	}

	// Exchange is authoritative: reset the in-memory map from its open
	// positions (unconditional overwrite, not a merge, so a second run
	// against the same response is bitwise idempotent — P8).
	for symbol, p := range exchangeBySymbol {
		cp := p
		t.positions[symbol] = &cp
	}
}

// --- Local crash-recovery snapshot (§5.9) ---

// trackerSnapshot is the on-disk shape; field names are stable across
// releases since it is read back by RehydrateFromDisk on restart.
type trackerSnapshot struct {
	Positions map[string]Position `json:"positions"`
}

// SaveSnapshot writes the current positions map to cfg.StateFile using the
// atomic tmp-file-then-rename pattern, matching trader.go's saveStateFrom.
func (t *PositionTracker) SaveSnapshot() error {
	if !t.cfg.PersistState || t.cfg.StateFile == "" {
		return nil
	}
	t.mu.RLock()
	snap := trackerSnapshot{Positions: make(map[string]Position, len(t.positions))}
	for sym, p := range t.positions {
		snap.Positions[sym] = *p
	}
	t.mu.RUnlock()

	bs, err := json.MarshalIndent(snap, "", " ")
	if err != nil {
		return err
	}
	tmp := t.cfg.StateFile + ".tmp"
	if err := os.WriteFile(tmp, bs, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, t.cfg.StateFile)
}

// RehydrateFromDisk loads a prior SaveSnapshot at boot so a process restart
// does not silently forget an OPEN position. The snapshot holds positions
// only; the kill-switch latch and daily counters start fresh.
func (t *PositionTracker) RehydrateFromDisk() error {
	if !t.cfg.PersistState || t.cfg.StateFile == "" {
		return nil
	}
	bs, err := os.ReadFile(t.cfg.StateFile)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var snap trackerSnapshot
	if err := json.Unmarshal(bs, &snap); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for sym, p := range snap.Positions {
		cp := p
		t.positions[sym] = &cp
	}
	return nil
}
