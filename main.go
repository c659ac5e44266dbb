// FILE: main.go
// Package main – Program entrypoint and composition root.
//
// Boot sequence, grounded on the teacher's own main.go shape (load env,
// build Config, wire the broker, start the /healthz+/metrics server, run
// the live loop, shut down gracefully) — generalized from a single-trader
// loop into the eight-component wiring this engine needs:
//
//   1) loadBotEnv()          – read .env (no shell exports required)
//   2) cfg := loadConfigFromEnv()
//   3) wire C1 Gateway (HTTP only when DryRun is off and EnableLiveTrading
//      is on; dry-run otherwise)
//   4) wire C2 BBOStream, C3 Aggregator, C4 RegimeEngine, C6 DecisionGate,
//      C8 PositionTracker, and the typed EventBus
//   5) rehydrate C8's local snapshot (§5.9) if one exists
//   6) spawn one C7 actor goroutine per configured symbol
//   7) start the HTTP /healthz + /metrics server
//   8) run until SIGINT/SIGTERM, then drain and persist state
//
// Example:
//   go run .

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	loadBotEnv()
	cfg := loadConfigFromEnv()

	var gw Gateway
	if cfg.DryRun || !cfg.EnableLiveTrading {
		dr := NewDryRunGateway(cfg)
		seedDryRunFixtures(dr, cfg)
		gw = dr
		log.Printf("[INFO] main: running in dry-run mode (DRY_RUN=%v ENABLE_LIVE_TRADING=%v)", cfg.DryRun, cfg.EnableLiveTrading)
	} else {
		gw = NewHTTPGateway(cfg)
		log.Printf("[INFO] main: running against live exchange at %s", cfg.ExchangeBaseURL)
	}

	bus := NewEventBus()
	gate := NewDecisionGate(cfg)
	regime := NewRegimeEngine(cfg)
	tracker := NewPositionTracker(cfg, gw, gate, bus, NoopTradeSink{})

	if err := tracker.RehydrateFromDisk(); err != nil {
		log.Printf("[WARN] main: state rehydrate failed, starting flat: %v", err)
	}

	var bboStream *BBOStream
	if cfg.UseWSMarketData {
		bboStream = NewBBOStream(cfg.ExchangeBaseURL, cfg)
		for _, sym := range cfg.Symbols {
			bboStream.Subscribe(sym)
		}
	} else {
		bboStream = NewBBOStream("", cfg)
	}

	agg := NewAggregator(cfg, gw, bboStream)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.UseWSMarketData {
		bboStream.Start(ctx)
	}
	go agg.RunFallbackLoop(ctx, cfg.Symbols)
	go drainBBOEvents(ctx, bboStream, agg)
	go drainEventBusMetrics(ctx, bus)
	go runReconciliationLoop(ctx, tracker, gate)

	actors := make([]*symbolActor, 0, len(cfg.Symbols))
	for _, sym := range cfg.Symbols {
		actor := newSymbolActor(sym, cfg, gw, bboStream, regime, gate, agg, tracker, bus)
		actors = append(actors, actor)
		go actor.Run(ctx)
	}
	go runTickLoop(ctx, actors, cfg)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: mux}
	go func() {
		log.Printf("[INFO] main: serving :%d/metrics and :%d/healthz", cfg.Port, cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[ERROR] main: http server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("[INFO] main: shutdown signal received, draining")

	if err := tracker.SaveSnapshot(); err != nil {
		log.Printf("[WARN] main: final state snapshot failed: %v", err)
	}

	shutdownCtx, c := context.WithTimeout(context.Background(), 2*time.Second)
	defer c()
	_ = srv.Shutdown(shutdownCtx)
}

// runTickLoop fans a periodic wall-clock tick out to every symbol actor; the
// actors themselves throttle regime re-evaluation internally so this can run
// faster than regime_eval_interval_ms without wasted work.
func runTickLoop(ctx context.Context, actors []*symbolActor, cfg Config) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, a := range actors {
				a.Tick(now.UTC())
			}
		}
	}
}

// drainBBOEvents forwards streaming BBO updates into the Aggregator (C3);
// this is the wiring §5.3 assumes between C2's event channel and C3's
// OnBBO hook.
func drainBBOEvents(ctx context.Context, stream *BBOStream, agg *Aggregator) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-stream.Events():
			agg.OnBBO(ev.Symbol, ev.BBO)
		}
	}
}

// drainEventBusMetrics fans published events into their Prometheus
// observers, keeping the tick path itself free of metrics-registry calls.
func drainEventBusMetrics(ctx context.Context, bus *EventBus) {
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-bus.Decisions:
			observeDecision(d)
		case l := <-bus.Lifecycles:
			observeLifecycle(l)
		case e := <-bus.Executions:
			observeExecution(e)
		case t := <-bus.Trades:
			observeTradeClose(t)
		case <-bus.Snapshots:
			// Snapshots are for the out-of-scope dashboard collaborator; no
			// metric is derived from them here.
		}
	}
}

// runReconciliationLoop runs C8's reconciliation on a fixed cadence and
// mirrors the kill-switch latch state into its gauge.
func runReconciliationLoop(ctx context.Context, tracker *PositionTracker, gate *DecisionGate) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tracker.Reconcile(ctx)
			observeReconciliation()
			setKillSwitchMetric(gate.IsKillSwitchActive())
		}
	}
}

// seedDryRunFixtures gives the dry-run gateway a plausible starting book so
// the engine has data to evaluate against immediately on boot; the dry-run
// gateway serves it whether or not the streaming client is running.
func seedDryRunFixtures(dr *DryRunGateway, cfg Config) {
	now := time.Now().UTC()
	for _, sym := range cfg.Symbols {
		dr.SeedBBO(sym, BBO{Symbol: sym, BestBid: 50000, BestAsk: 50001, Mid: 50000.5, Ts: now})
		candles := make([]Candle, 0, 60)
		price := 50000.0
		for i := 0; i < 60; i++ {
			candles = append(candles, Candle{
				Time:   now.Add(time.Duration(i-60) * time.Minute),
				Open:   price,
				High:   price + 5,
				Low:    price - 5,
				Close:  price,
				Volume: 10,
			})
		}
		dr.SeedCandles(sym, candles)
	}
}
