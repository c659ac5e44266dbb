// FILE: metrics.go
// Package main – Prometheus metrics for observability.
//
// Expanded from the teacher's order/decision/equity/exit-reason counters to
// this engine's own taxonomy: decisions by veto reason, lifecycle
// transitions by state, execution reports by status and maker/taker,
// reconciliation runs, ghost closes, equity, and the kill-switch state. The
// requote counter is registered, but nothing calls observeRequote, so it
// stays at zero.
// Registered in init() and served at /metrics by the HTTP server started in
// main.go, same as the teacher's own pattern.

package main

import "github.com/prometheus/client_golang/prometheus"

var (
	mtxDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_decisions_total",
			Help: "Decision Gate evaluations by outcome reason",
		},
		[]string{"symbol", "reason"},
	)

	mtxLifecycle = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_lifecycle_transitions_total",
			Help: "Execution state machine transitions by destination state",
		},
		[]string{"symbol", "state"},
	)

	mtxExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_executions_total",
			Help: "Execution reports by status and maker/taker",
		},
		[]string{"symbol", "status", "maker_or_taker"},
	)

	mtxRequotes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_requotes_total",
			Help: "Cancel/replace requote actions issued by the execution state machine",
		},
		[]string{"symbol"},
	)

	mtxReconciliations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_reconciliations_total",
			Help: "Position Tracker reconciliation runs against exchange truth",
		},
	)

	mtxGhostCloses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_ghost_closes_total",
			Help: "Positions closed locally because reconciliation observed them absent on the exchange",
		},
		[]string{"symbol"},
	)

	mtxKillSwitch = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "engine_kill_switch_active",
			Help: "1 if the kill switch is currently latched, else 0",
		},
	)

	mtxEquity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "engine_equity_usd",
			Help: "Last known account equity in USD",
		},
	)

	mtxTradePnL = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_trades_total",
			Help: "Closed trades by realized result",
		},
		[]string{"symbol", "result"}, // result: win|loss
	)
)

func init() {
	prometheus.MustRegister(
		mtxDecisions,
		mtxLifecycle,
		mtxExecutions,
		mtxRequotes,
		mtxReconciliations,
		mtxGhostCloses,
		mtxKillSwitch,
		mtxEquity,
		mtxTradePnL,
	)
}

func observeDecision(d DecisionRecord) {
	mtxDecisions.WithLabelValues(d.Symbol, string(d.Reason)).Inc()
}

func observeLifecycle(l LifecycleUpdate) {
	mtxLifecycle.WithLabelValues(l.Symbol, string(l.State)).Inc()
}

func observeExecution(e ExecutionReport) {
	mtxExecutions.WithLabelValues(e.Symbol, string(e.Status), string(e.MakerOrTaker)).Inc()
}

func observeRequote(symbol string) { mtxRequotes.WithLabelValues(symbol).Inc() }

func observeReconciliation() { mtxReconciliations.Inc() }

func observeGhostClose(symbol string) { mtxGhostCloses.WithLabelValues(symbol).Inc() }

func setKillSwitchMetric(active bool) {
	if active {
		mtxKillSwitch.Set(1)
		return
	}
	mtxKillSwitch.Set(0)
}

func setEquityMetric(v float64) { mtxEquity.Set(v) }

func observeTradeClose(t TradeClosed) {
	result := "win"
	if t.PnLUSD < 0 {
		result = "loss"
	}
	mtxTradePnL.WithLabelValues(t.Symbol, result).Inc()
}
