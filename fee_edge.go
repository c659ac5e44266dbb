// FILE: fee_edge.go
// Package main – Fee & Edge Model (C5).
//
// Pure arithmetic, no shared state. The teacher trades spot and never computes
// a round-trip net edge; this module is new, built in the teacher's small-
// top-level-function numeric style (see indicators.go).

package main

import "math"

// FeeMode selects which round-trip fee schedule applies.
type FeeMode string

const (
	FeeModeMaker FeeMode = "maker"
	FeeModeTaker FeeMode = "taker"
)

// feeBpsRoundTrip returns 2x the one-way fee for the given mode (§5.5).
func feeBpsRoundTrip(cfg Config, mode FeeMode) float64 {
	if mode == FeeModeMaker {
		return 2 * cfg.MakerFeeBps
	}
	return 2 * cfg.TakerFeeBps
}

// expectedCostBps is fees + spread + a mode-dependent slippage haircut.
func expectedCostBps(cfg Config, mode FeeMode, spreadBps float64) float64 {
	cost := feeBpsRoundTrip(cfg, mode) + spreadBps
	if mode == FeeModeMaker {
		cost += 0.2 * cfg.SlippageBpsEst
	} else {
		cost += cfg.SlippageBpsEst
	}
	return cost
}

// expectedMoveBps projects price displacement over the holding horizon from
// realized 30-minute volatility.
func expectedMoveBps(cfg Config, vol30m float64) float64 {
	holdMinutes := float64(cfg.MaxHoldSeconds) / 60.0
	if holdMinutes < 1 {
		holdMinutes = 1
	}
	return vol30m * math.Sqrt(holdMinutes) * 10000
}

// netEdgeBps is P7's pure-arithmetic invariant: expected move minus cost.
func netEdgeBps(expMoveBps, costBps float64) float64 {
	return expMoveBps - costBps
}

// edgeEvaluation bundles the evidence a Decision Record carries for FAIL_EDGE/PASS.
type edgeEvaluation struct {
	ExpectedMoveBps float64
	CostBps         float64
	NetEdgeBps      float64
}

// evaluateEdge computes the full §5.5 chain for the given mode and inputs.
func evaluateEdge(cfg Config, mode FeeMode, vol30m, spreadBps float64) edgeEvaluation {
	move := expectedMoveBps(cfg, vol30m)
	cost := expectedCostBps(cfg, mode, spreadBps)
	return edgeEvaluation{
		ExpectedMoveBps: move,
		CostBps:         cost,
		NetEdgeBps:      netEdgeBps(move, cost),
	}
}
