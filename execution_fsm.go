// FILE: execution_fsm.go
// Package main – per-symbol Execution State Machine (C7).
//
// Grounded on the teacher's step.go reprice-loop idiom (cancel/requote a
// resting maker order on a timeout) and trader.go's apply/PendingOpen
// goroutine-per-position pattern, generalized from the teacher's single
// process-wide loop into one actor goroutine per symbol, serialized on its
// own tick channel so §6's per-symbol exclusion invariant holds without a
// shared lock across symbols.

package main

import (
	"context"
	"log"
	"time"

	"golang.org/x/time/rate"
)

// symbolActor owns one symbol's lifecycle: its state, its at-most-one
// Active Order, and its last Decision Record. Every field below is only
// ever touched from the actor's own run loop.
type symbolActor struct {
	symbol string
	cfg    Config

	gw     Gateway
	bbo    *BBOStream
	regime *RegimeEngine
	gate   *DecisionGate
	agg    *Aggregator
	pos    *PositionTracker
	bus    *EventBus

	requoteLimiter *rate.Limiter

	state             LifecycleState
	stateSince        time.Time
	active            *ActiveOrder
	lastDecision      DecisionRecord
	lastRegimeEval    time.Time
	lastQuoteAction   time.Time
	pendingExitReason ExitReason

	ticks chan time.Time
}

// newSymbolActor constructs a C7 actor for one symbol. cfg.MaxRequotePerSec
// drives the cancel/replace limiter the same way x/time/rate bounds C3's
// HTTP fallback cadence.
func newSymbolActor(symbol string, cfg Config, gw Gateway, bbo *BBOStream, regime *RegimeEngine, gate *DecisionGate, agg *Aggregator, pos *PositionTracker, bus *EventBus) *symbolActor {
	return &symbolActor{
		symbol:         symbol,
		cfg:            cfg,
		gw:             gw,
		bbo:            bbo,
		regime:         regime,
		gate:           gate,
		agg:            agg,
		pos:            pos,
		bus:            bus,
		requoteLimiter: rate.NewLimiter(rate.Limit(cfg.MaxRequotePerSec), 1),
		state:          StateIdle,
		stateSince:     time.Now().UTC(),
		ticks:          make(chan time.Time, 1),
	}
}

// Tick enqueues a tick request; non-blocking, matches publishNonBlocking's
// "recency over completeness" bias since a missed tick is picked up at the
// next one.
func (a *symbolActor) Tick(ts time.Time) {
	select {
	case a.ticks <- ts:
	default:
	}
}

// Run drives the actor until ctx is cancelled. Invariant violations are
// recovered and logged rather than propagated, mirroring the teacher's
// shouldFatalNoStateMount "fail loud but contained" pattern — one symbol's
// bug does not take down the process.
func (a *symbolActor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ts := <-a.ticks:
			a.safeHandleTick(ctx, ts)
		}
	}
}

func (a *symbolActor) safeHandleTick(ctx context.Context, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[ERROR] execution_fsm: %s actor panic, state preserved as-is: %v", a.symbol, r)
		}
	}()
	a.handleTick(ctx, now)
}

func (a *symbolActor) transition(to LifecycleState, now time.Time) {
	if a.state == to {
		return
	}
	a.state = to
	a.stateSince = now
	a.bus.PublishLifecycle(LifecycleUpdate{Symbol: a.symbol, State: to, StateSince: now, Ts: now})
}

func (a *symbolActor) handleTick(ctx context.Context, now time.Time) {
	switch a.state {
	case StateIdle:
		a.handleIdle(ctx, now)
	case StateEntering:
		a.handleEntering(ctx, now)
	case StateOpen:
		a.handleOpen(ctx, now)
	case StateExiting:
		a.handleExiting(ctx, now)
	case StateCooldown:
		a.handleCooldown(now)
	}
}

// handleIdle evaluates C6 at most once per regime_eval_interval_ms and, on
// PASS, drives PlaceEntry.
func (a *symbolActor) handleIdle(ctx context.Context, now time.Time) {
	if now.Sub(a.lastRegimeEval) < time.Duration(a.cfg.RegimeEvalIntervalMs)*time.Millisecond {
		return
	}
	a.lastRegimeEval = now

	bboVal, bboOk := a.bbo.GetBBO(a.symbol)
	candles, _ := a.gw.GetCandles(ctx, a.symbol, a.regime.minCandlesNeeded()+1)
	sig := a.regime.Evaluate(a.symbol, candles, 0, false, now)

	acct, err := a.gw.GetAccount(ctx)
	balance := a.cfg.StartingBalance
	if err == nil {
		balance = acct.BalanceUSD
	}
	minOrderSize, _ := a.gw.MinOrderSize(a.symbol)

	dec := a.gate.Evaluate(gateInputs{
		Symbol:         a.symbol,
		BBO:            bboVal,
		BBOOk:          bboOk,
		Regime:         sig,
		RegimeOk:       true,
		CurrentBalance: balance,
		MinOrderSize:   minOrderSize,
		Now:            now,
	})
	a.lastDecision = dec
	a.bus.PublishDecision(dec)
	if dec.Reason != ReasonPass {
		return
	}

	side := SideBuy
	if sig.Direction == DirShort {
		side = SideSell
	}
	if err := a.gw.SetLeverage(ctx, a.symbol, a.cfg.Leverage); err != nil {
		log.Printf("[WARN] execution_fsm: %s set leverage failed: %v", a.symbol, err)
	}
	a.placeEntry(ctx, now, side, dec.Quantity, bboVal, 0)
}

// placeEntry implements PlaceEntry (§5.7): tick-offset quoting, maker-first
// with an optional direct-IOC fallback when maker_first = false.
func (a *symbolActor) placeEntry(ctx context.Context, now time.Time, side OrderSide, size float64, bbo BBO, requoteCount int) {
	tick, err := a.gw.TickSize(a.symbol)
	if err != nil {
		log.Printf("[WARN] execution_fsm: %s tick size lookup failed: %v", a.symbol, err)
		return
	}

	if !a.cfg.MakerFirst {
		res, err := a.gw.EnterPosition(ctx, a.symbol, side, size, a.cfg.QuoteTickOffset)
		if err != nil {
			log.Printf("[WARN] execution_fsm: %s direct entry failed: %v", a.symbol, err)
			return
		}
		a.bus.PublishExecution(res.Report)
		if res.Status == StatusFilled {
			a.openFromFill(now, side, res.Report)
		}
		return
	}

	entryPx := bbo.BestBid + float64(a.cfg.QuoteTickOffset)*tick
	if side == SideSell {
		entryPx = bbo.BestAsk - float64(a.cfg.QuoteTickOffset)*tick
	}
	entryPx, _ = a.gw.RoundPriceToTick(a.symbol, entryPx)

	res, err := a.gw.PlacePostOnlyLimit(ctx, a.symbol, side, size, entryPx, false)
	if err != nil {
		log.Printf("[WARN] execution_fsm: %s post-only entry failed: %v", a.symbol, err)
		return
	}
	a.bus.PublishExecution(res.Report)
	a.lastQuoteAction = now

	switch res.Status {
	case StatusResting:
		a.active = &ActiveOrder{ID: res.OrderID, Symbol: a.symbol, Side: side, Price: entryPx, Size: size, PlacedAt: now, Intent: IntentEntry, ReduceOnly: false, RequoteCount: requoteCount}
		a.transition(StateEntering, now)
	case StatusFilled:
		a.openFromFill(now, side, res.Report)
	case StatusRejected:
		rec := a.lastDecision
		rec.Reason = ReasonPostOnlyReject
		a.bus.PublishDecision(rec)
		a.active = nil
		a.transition(StateIdle, now)
	}
}

func (a *symbolActor) openFromFill(now time.Time, side OrderSide, rep ExecutionReport) {
	price := rep.FillPxAvg
	sl, tp := a.stopAndTarget(side, price)
	p := Position{
		Symbol:          a.symbol,
		Side:            side,
		EntryPrice:      price,
		Quantity:        rep.FilledSize,
		Leverage:        a.cfg.Leverage,
		OpenedAt:        now,
		TakeProfitPrice: tp,
		StopLossPrice:   sl,
	}
	a.pos.Open(p)
	a.active = nil
	a.transition(StateOpen, now)
}

// stopAndTarget derives absolute SL/TP prices from the last regime's vol5m
// and the configured ATR/R multiples (§5.6 sizing, §5.8 exit geometry).
func (a *symbolActor) stopAndTarget(side OrderSide, entryPx float64) (sl, tp float64) {
	a.regime.mu.RLock()
	vol5m := a.regime.cache[a.symbol].signal.Metrics.Vol5m
	a.regime.mu.RUnlock()
	stopDistance := a.cfg.StopATRMult * vol5m * entryPx
	if stopDistance <= 0 {
		stopDistance = entryPx * 0.002
	}
	if side == SideBuy {
		return entryPx - stopDistance, entryPx + stopDistance*a.cfg.TPRMult
	}
	return entryPx + stopDistance, entryPx - stopDistance*a.cfg.TPRMult
}

// handleEntering implements the ENTERING transitions of §5.7.
func (a *symbolActor) handleEntering(ctx context.Context, now time.Time) {
	if a.active == nil {
		a.transition(StateIdle, now)
		return
	}

	res, err := a.gw.GetOrderStatus(ctx, a.symbol, a.active.ID)
	if err == nil {
		switch res.Status {
		case StatusFilled:
			a.openFromFill(now, a.active.Side, res.Report)
			return
		}
	}

	age := now.Sub(a.active.PlacedAt)
	if age <= time.Duration(a.cfg.MaxQueueWaitMs)*time.Millisecond {
		return
	}

	_ = a.gw.CancelOrder(ctx, a.symbol, a.active.ID)

	minGap := time.Duration(float64(time.Second) / a.cfg.MaxRequotePerSec)
	rateOk := now.Sub(a.lastQuoteAction) >= minGap && a.active.RequoteCount < 5 && a.requoteLimiter.Allow()

	bboVal, bboOk := a.bbo.GetBBO(a.symbol)
	candles, _ := a.gw.GetCandles(ctx, a.symbol, a.regime.minCandlesNeeded()+1)
	sig := a.regime.Evaluate(a.symbol, candles, 0, false, now)
	regimeOk := sig.Compression && sig.VolumeSpike && sig.Direction != DirNone

	if rateOk && regimeOk && bboOk {
		a.placeEntry(ctx, now, a.active.Side, a.active.Size, bboVal, a.active.RequoteCount+1)
		return
	}

	reason := ReasonQueueTimeout
	if !rateOk {
		reason = ReasonRateLimit
	}
	rec := a.lastDecision
	rec.Reason = reason
	a.bus.PublishDecision(rec)
	a.active = nil
	a.transition(StateIdle, now)
}

// handleOpen asks C8 whether an exit trigger has fired and, if so, drives
// PlaceExit.
func (a *symbolActor) handleOpen(ctx context.Context, now time.Time) {
	snap, ok := a.agg.Snapshot(a.symbol)
	if !ok {
		return // stale/absent market data: manage nothing speculative (§5.7 invariant)
	}
	trig := a.pos.EvaluateExit(a.symbol, snap.CurrentPrice)
	if !trig.Triggered {
		return
	}
	p, ok := a.pos.Get(a.symbol)
	if !ok {
		a.transition(StateCooldown, now)
		return
	}
	a.pendingExitReason = trig.Reason
	a.placeExit(ctx, now, p, 0)
}

// placeExit implements PlaceExit (§5.7): reduce-only post-only GTC at the
// tick-offset price on the closing side.
func (a *symbolActor) placeExit(ctx context.Context, now time.Time, p Position, requoteCount int) {
	tick, err := a.gw.TickSize(a.symbol)
	if err != nil {
		log.Printf("[WARN] execution_fsm: %s tick size lookup failed on exit: %v", a.symbol, err)
		return
	}
	bboVal, bboOk := a.bbo.GetBBO(a.symbol)
	if !bboOk {
		return
	}
	side := p.Side.Opposite()
	exitPx := bboVal.BestAsk - float64(a.cfg.QuoteTickOffset)*tick
	if side == SideBuy {
		exitPx = bboVal.BestBid + float64(a.cfg.QuoteTickOffset)*tick
	}
	exitPx, _ = a.gw.RoundPriceToTick(a.symbol, exitPx)

	res, err := a.gw.PlacePostOnlyLimit(ctx, a.symbol, side, p.Quantity, exitPx, true)
	if err != nil {
		log.Printf("[WARN] execution_fsm: %s post-only exit failed: %v", a.symbol, err)
		return
	}
	a.bus.PublishExecution(res.Report)
	a.lastQuoteAction = now

	switch res.Status {
	case StatusResting:
		a.active = &ActiveOrder{ID: res.OrderID, Symbol: a.symbol, Side: side, Price: exitPx, Size: p.Quantity, PlacedAt: now, Intent: IntentExit, ReduceOnly: true, RequoteCount: requoteCount}
		a.transition(StateExiting, now)
	case StatusFilled:
		a.pos.Close(a.symbol, res.Report.FillPxAvg, a.pendingExitReason, now)
		a.active = nil
		a.transition(StateCooldown, now)
	}
}

// handleExiting mirrors handleEntering with the three differences §5.7 lists:
// reduce-only, taker fallback after requote_count >= 2, and a closed-position
// short-circuit into COOLDOWN.
func (a *symbolActor) handleExiting(ctx context.Context, now time.Time) {
	if _, ok := a.pos.Get(a.symbol); !ok {
		a.active = nil
		a.transition(StateCooldown, now)
		return
	}
	if a.active == nil {
		a.transition(StateOpen, now)
		return
	}

	res, err := a.gw.GetOrderStatus(ctx, a.symbol, a.active.ID)
	if err == nil && res.Status == StatusFilled {
		a.pos.Close(a.symbol, res.Report.FillPxAvg, a.pendingExitReason, now)
		a.active = nil
		a.transition(StateCooldown, now)
		return
	}

	age := now.Sub(a.active.PlacedAt)
	if age <= time.Duration(a.cfg.MaxQueueWaitMs)*time.Millisecond {
		return
	}

	_ = a.gw.CancelOrder(ctx, a.symbol, a.active.ID)

	if a.active.RequoteCount >= 2 && a.cfg.AllowTakerFallback && a.lastDecision.NetEdgeBps >= a.cfg.TakerOnlyIfNetEdgeBps {
		p, ok := a.pos.Get(a.symbol)
		if !ok {
			a.active = nil
			return
		}
		res, err := a.gw.ExitPosition(ctx, a.symbol, p.Side.Opposite(), p.Quantity, a.cfg.QuoteTickOffset)
		if err != nil {
			log.Printf("[WARN] execution_fsm: %s taker-fallback exit failed: %v", a.symbol, err)
			a.placeExit(ctx, now, p, a.active.RequoteCount+1)
			return
		}
		a.bus.PublishExecution(res.Report)
		if res.Status == StatusFilled {
			a.pos.Close(a.symbol, res.Report.FillPxAvg, a.pendingExitReason, now)
			a.active = nil
			a.transition(StateCooldown, now)
			return
		}
		// StatusSkipped (SKIP_EXEC_SLIPPAGE) or otherwise unfilled: stay EXITING
		// and retry the maker path immediately, rather than clearing the
		// active order and letting the next tick's a.active==nil guard bounce
		// the lifecycle back to OPEN.
		a.placeExit(ctx, now, p, a.active.RequoteCount+1)
		return
	}

	minGap := time.Duration(float64(time.Second) / a.cfg.MaxRequotePerSec)
	rateOk := now.Sub(a.lastQuoteAction) >= minGap && a.requoteLimiter.Allow()
	if !rateOk {
		a.active = nil
		return
	}
	p, ok := a.pos.Get(a.symbol)
	if ok {
		a.placeExit(ctx, now, p, a.active.RequoteCount+1)
	} else {
		a.active = nil
	}
}

func (a *symbolActor) handleCooldown(now time.Time) {
	if now.Sub(a.stateSince) >= time.Duration(a.cfg.CooldownSeconds)*time.Second {
		a.transition(StateIdle, now)
	}
}
