// FILE: decision_gate.go
// Package main – Entry Decision Gate (C6).
//
// Applies the strictly-ordered veto pipeline of §5.6 and, on PASS, the
// position-sizing formula that must run before the final edge check. The
// kill-switch latch (rules 3b/3c) is grounded on the reference risk
// manager's Manager: a latched flag with a cooldown-less "stays until
// operator reset" semantics (stricter than the source's auto-clearing
// cooldown — see DESIGN.md for why no auto-clear is implemented here), a
// daily-loss threshold check, and the same sync.RWMutex-guarded map style
// the teacher uses for its own per-symbol state.

package main

import (
	"sync"
	"time"
)

// DecisionGate is C6: the per-process veto pipeline plus its latched
// kill-switch and per-symbol cooldown/trade-count bookkeeping.
type DecisionGate struct {
	cfg Config

	mu                 sync.RWMutex
	killSwitch         bool
	killSwitchReason   string
	dailyDate          time.Time
	dailyTradeCount    int
	dailyPnL           float64
	consecutiveLosses  int
	lastCloseBySymbol  map[string]time.Time
}

// NewDecisionGate constructs C6 bound to cfg.
func NewDecisionGate(cfg Config) *DecisionGate {
	return &DecisionGate{cfg: cfg, lastCloseBySymbol: make(map[string]time.Time)}
}

// ResetKillSwitch is the explicit operator reset §4.6/§8 requires; nothing
// else clears the latch.
func (g *DecisionGate) ResetKillSwitch() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.killSwitch = false
	g.killSwitchReason = ""
}

// IsKillSwitchActive reports the latch state for observability/metrics.
func (g *DecisionGate) IsKillSwitchActive() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.killSwitch
}

// RecordTradeClose feeds the daily counters and cooldown clock after C8
// closes a position. pnl is the realized P&L in USD for that trade.
func (g *DecisionGate) RecordTradeClose(symbol string, pnl float64, now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rolloverDailyLocked(now)
	g.dailyTradeCount++
	g.dailyPnL += pnl
	if pnl < 0 {
		g.consecutiveLosses++
	} else {
		g.consecutiveLosses = 0
	}
	g.lastCloseBySymbol[symbol] = now
}

func (g *DecisionGate) rolloverDailyLocked(now time.Time) {
	if g.dailyDate.IsZero() || now.YearDay() != g.dailyDate.YearDay() || now.Year() != g.dailyDate.Year() {
		g.dailyDate = now
		g.dailyTradeCount = 0
		g.dailyPnL = 0
		// consecutiveLosses and killSwitch intentionally survive a day
		// rollover: a losing streak or a latched kill-switch is an operator
		// concern, not a calendar one.
	}
}

// gateInputs bundles everything the pipeline needs for one evaluation.
type gateInputs struct {
	Symbol         string
	BBO            BBO
	BBOOk          bool
	Regime         RegimeSignal
	RegimeOk       bool
	CurrentBalance float64
	MinOrderSize   float64
	Now            time.Time
}

// Evaluate runs the §5.6 veto pipeline in strict precedence and returns a
// DecisionRecord. It is invoked once per idle-symbol tick (P4).
func (g *DecisionGate) Evaluate(in gateInputs) DecisionRecord {
	rec := DecisionRecord{Symbol: in.Symbol, Ts: in.Now}

	// 1. DATA_STALE
	if !in.BBOOk || in.BBO.Stale(in.Now, g.cfg.DataStaleMs) ||
		!in.RegimeOk || in.Now.Sub(in.Regime.Ts) > time.Duration(g.cfg.DataStaleMs)*time.Millisecond {
		rec.Reason = ReasonDataStale
		return rec
	}

	g.mu.Lock()
	g.rolloverDailyLocked(in.Now)

	// 2. KILL_SWITCH (already latched)
	if g.killSwitch {
		g.mu.Unlock()
		rec.Reason = ReasonKillSwitch
		return rec
	}

	// 3a. DAILY_LIMIT
	if g.dailyTradeCount >= g.cfg.MaxTradesPerDay {
		g.mu.Unlock()
		rec.Reason = ReasonDailyLimit
		return rec
	}

	// 3b. drawdown -> latch kill switch
	if g.dailyPnL <= -(g.cfg.MaxDailyDrawdownPct/100.0)*g.cfg.StartingBalance {
		g.killSwitch = true
		g.killSwitchReason = "max daily drawdown breached"
		g.mu.Unlock()
		rec.Reason = ReasonKillSwitch
		return rec
	}

	// 3c. losing streak -> latch kill switch
	if g.consecutiveLosses >= g.cfg.MaxConsecutiveLosses {
		g.killSwitch = true
		g.killSwitchReason = "max consecutive losses breached"
		g.mu.Unlock()
		rec.Reason = ReasonKillSwitch
		return rec
	}

	lastClose := g.lastCloseBySymbol[in.Symbol]
	g.mu.Unlock()

	// 4. COOLDOWN
	if !lastClose.IsZero() && in.Now.Sub(lastClose) < time.Duration(g.cfg.CooldownSeconds)*time.Second {
		rec.Reason = ReasonCooldown
		return rec
	}

	// 5-7. regime vetoes
	if !in.Regime.Compression {
		rec.Reason = ReasonFailCompression
		return rec
	}
	if !in.Regime.VolumeSpike {
		rec.Reason = ReasonFailVolume
		return rec
	}
	if in.Regime.Direction == DirNone {
		rec.Reason = ReasonFailBreakout
		return rec
	}

	// 8. SPREAD_TOO_WIDE
	spreadBps := in.BBO.SpreadBps()
	rec.SpreadBps = spreadBps
	if spreadBps > g.cfg.SpreadBpsEstMax {
		rec.Reason = ReasonSpreadTooWide
		return rec
	}

	// Position sizing (before the edge check, §5.6 "Position sizing").
	price := in.BBO.Mid
	stopDistancePx := g.cfg.StopATRMult * in.Regime.Metrics.Vol5m * price
	if stopDistancePx <= 0 {
		rec.Reason = ReasonFailEdge
		return rec
	}
	riskAmount := in.CurrentBalance * g.cfg.RiskPerTradePct / 100.0
	quantity := riskAmount / stopDistancePx
	if maxQty := g.cfg.MaxPositionSize / price; quantity > maxQty {
		quantity = maxQty
	}
	if quantity < in.MinOrderSize {
		quantity = in.MinOrderSize
	}
	rec.Quantity = quantity

	// 9. FAIL_EDGE
	mode := FeeModeTaker
	if g.cfg.MakerFirst {
		mode = FeeModeMaker
	}
	edge := evaluateEdge(g.cfg, mode, in.Regime.Metrics.Vol30m, spreadBps)
	rec.ExpectedMoveBps = edge.ExpectedMoveBps
	rec.CostBps = edge.CostBps
	rec.NetEdgeBps = edge.NetEdgeBps
	if edge.NetEdgeBps < g.cfg.MinNetEdgeBps {
		rec.Reason = ReasonFailEdge
		return rec
	}

	// 10. PASS
	rec.Reason = ReasonPass
	return rec
}
