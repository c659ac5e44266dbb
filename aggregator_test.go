package main

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errBookUnavailable = errors.New("book unavailable")

type fakeBookGateway struct {
	ob  OrderBook
	err error
}

func (f *fakeBookGateway) Name() string { return "fake-book" }
func (f *fakeBookGateway) SetLeverage(ctx context.Context, symbol string, leverage float64) error {
	return nil
}
func (f *fakeBookGateway) GetAccount(ctx context.Context) (Account, error) { return Account{}, nil }
func (f *fakeBookGateway) GetBestBidAsk(ctx context.Context, symbol string) (BBO, error) {
	return BBO{}, nil
}
func (f *fakeBookGateway) GetOrderBook(ctx context.Context, symbol string, depth int) (OrderBook, error) {
	return f.ob, f.err
}
func (f *fakeBookGateway) GetCandles(ctx context.Context, symbol string, limit int) ([]Candle, error) {
	return nil, nil
}
func (f *fakeBookGateway) GetOrderStatus(ctx context.Context, symbol, orderID string) (OrderResult, error) {
	return OrderResult{}, nil
}
func (f *fakeBookGateway) CancelOrder(ctx context.Context, symbol, orderID string) error { return nil }
func (f *fakeBookGateway) PlacePostOnlyLimit(ctx context.Context, symbol string, side OrderSide, size, limitPx float64, reduceOnly bool) (OrderResult, error) {
	return OrderResult{}, nil
}
func (f *fakeBookGateway) PlaceIOCLimit(ctx context.Context, symbol string, side OrderSide, size, limitPx float64, reduceOnly bool) (OrderResult, error) {
	return OrderResult{}, nil
}
func (f *fakeBookGateway) EnterPosition(ctx context.Context, symbol string, side OrderSide, size float64, tickOffset int) (OrderResult, error) {
	return OrderResult{}, nil
}
func (f *fakeBookGateway) ExitPosition(ctx context.Context, symbol string, side OrderSide, size float64, tickOffset int) (OrderResult, error) {
	return OrderResult{}, nil
}
func (f *fakeBookGateway) RoundPriceToTick(symbol string, px float64) (float64, error) {
	return px, nil
}
func (f *fakeBookGateway) MinOrderSize(symbol string) (float64, error) { return 0.0001, nil }
func (f *fakeBookGateway) TickSize(symbol string) (float64, error)     { return 0.5, nil }

func aggTestConfig() Config {
	return Config{HTTPFallbackMinIntervalMs: 1000, FallbackCheckIntervalMs: 1000, OrderBookDepth: 10, WSStaleMs: 2000}
}

func TestAggregatorOnBBOForwardsLastKnownLiquidity(t *testing.T) {
	a := NewAggregator(aggTestConfig(), &fakeBookGateway{}, nil)
	a.applyBook("BTC-USDC", OrderBook{
		Bids: []BookLevel{{Price: 99, Size: 10}},
		Asks: []BookLevel{{Price: 101, Size: 5}},
		Ts:   time.Now(),
	})
	a.OnBBO("BTC-USDC", BBO{Symbol: "BTC-USDC", Mid: 100, Ts: time.Now()})

	snap, ok := a.Snapshot("BTC-USDC")
	if !ok {
		t.Fatalf("expected a snapshot after OnBBO")
	}
	if snap.CurrentPrice != 100 {
		t.Fatalf("expected current_price to track mid, got %v", snap.CurrentPrice)
	}
	if snap.AggregateBidLiq != 10 || snap.AggregateAskLiq != 5 {
		t.Fatalf("expected last-known liquidity forward-copied, got bid=%v ask=%v", snap.AggregateBidLiq, snap.AggregateAskLiq)
	}
}

func TestAggregatorWaveDirectionUpWhenBidLiquidityGrowsFaster(t *testing.T) {
	a := NewAggregator(aggTestConfig(), &fakeBookGateway{}, nil)
	now := time.Now()

	steps := []struct{ bid, ask float64 }{
		{10, 10}, {20, 10}, {30, 10}, {40, 10},
	}
	for i, s := range steps {
		a.applyBook("BTC-USDC", OrderBook{
			Bids: []BookLevel{{Price: 99, Size: s.bid}},
			Asks: []BookLevel{{Price: 101, Size: s.ask}},
			Ts:   now.Add(time.Duration(i) * time.Second),
		})
		a.OnBBO("BTC-USDC", BBO{Symbol: "BTC-USDC", Mid: 100, Ts: now.Add(time.Duration(i) * time.Second)})
	}

	snap, _ := a.Snapshot("BTC-USDC")
	if snap.WaveDirection != "UP" {
		t.Fatalf("expected wave direction UP as bid liquidity outpaces ask, got %v (strength=%v)", snap.WaveDirection, snap.WaveStrength)
	}
	if snap.WaveStrength <= 0 {
		t.Fatalf("expected positive wave strength, got %v", snap.WaveStrength)
	}
}

func TestAggregatorWaveDirectionNeutralWhenBalanced(t *testing.T) {
	a := NewAggregator(aggTestConfig(), &fakeBookGateway{}, nil)
	now := time.Now()
	for i := 0; i < 4; i++ {
		a.applyBook("BTC-USDC", OrderBook{
			Bids: []BookLevel{{Price: 99, Size: 10}},
			Asks: []BookLevel{{Price: 101, Size: 10}},
			Ts:   now.Add(time.Duration(i) * time.Second),
		})
		a.OnBBO("BTC-USDC", BBO{Symbol: "BTC-USDC", Mid: 100, Ts: now.Add(time.Duration(i) * time.Second)})
	}
	snap, _ := a.Snapshot("BTC-USDC")
	if snap.WaveDirection != "NEUTRAL" {
		t.Fatalf("expected NEUTRAL wave with balanced bid/ask liquidity, got %v", snap.WaveDirection)
	}
}

func TestAggregatorWaveDirectionUpWithConstantNonzeroImbalance(t *testing.T) {
	a := NewAggregator(aggTestConfig(), &fakeBookGateway{}, nil)
	now := time.Now()

	// Bid liquidity sits steadily 100 units above ask at every snapshot: the
	// imbalance never changes, but its mean level is still bid-dominant, so
	// the wave must read UP rather than NEUTRAL (a rate-of-change formula
	// would wrongly report NEUTRAL here since consecutive deltas are all 0).
	for i := 0; i < 4; i++ {
		a.applyBook("BTC-USDC", OrderBook{
			Bids: []BookLevel{{Price: 99, Size: 150}},
			Asks: []BookLevel{{Price: 101, Size: 50}},
			Ts:   now.Add(time.Duration(i) * time.Second),
		})
		a.OnBBO("BTC-USDC", BBO{Symbol: "BTC-USDC", Mid: 100, Ts: now.Add(time.Duration(i) * time.Second)})
	}

	snap, _ := a.Snapshot("BTC-USDC")
	if snap.WaveDirection != "UP" {
		t.Fatalf("expected UP for a constant +100 imbalance, got %v (strength=%v)", snap.WaveDirection, snap.WaveStrength)
	}
	if snap.WaveStrength <= 0 {
		t.Fatalf("expected positive wave strength for a sustained imbalance, got %v", snap.WaveStrength)
	}
}

func TestAggregatorRefreshBookFallbackServesCacheWithinTTL(t *testing.T) {
	gw := &fakeBookGateway{ob: OrderBook{
		Bids: []BookLevel{{Price: 99, Size: 1}},
		Asks: []BookLevel{{Price: 101, Size: 1}},
		Ts:   time.Now(),
	}}
	a := NewAggregator(aggTestConfig(), gw, nil)
	a.refreshBookFallback(context.Background(), "BTC-USDC")

	// Change the upstream book; a second call within the rate-limit window
	// and the 60s book-cache TTL must not pick up the new value.
	gw.ob = OrderBook{
		Bids: []BookLevel{{Price: 199, Size: 1}},
		Asks: []BookLevel{{Price: 201, Size: 1}},
		Ts:   time.Now(),
	}
	a.refreshBookFallback(context.Background(), "BTC-USDC")

	snap, ok := a.Snapshot("BTC-USDC")
	if !ok {
		t.Fatalf("expected a snapshot")
	}
	if snap.CurrentPrice != 100 {
		t.Fatalf("expected the cached book to still be served, got current_price=%v", snap.CurrentPrice)
	}
}

func TestAggregatorRefreshBookFallbackSkipsOnGatewayError(t *testing.T) {
	gw := &fakeBookGateway{err: errBookUnavailable}
	a := NewAggregator(aggTestConfig(), gw, nil)
	a.refreshBookFallback(context.Background(), "BTC-USDC")

	if _, ok := a.Snapshot("BTC-USDC"); ok {
		t.Fatalf("expected no snapshot when the fallback fetch errors")
	}
}
