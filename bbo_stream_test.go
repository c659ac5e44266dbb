package main

import (
	"testing"
	"time"
)

func TestBBOStreamSubscribeUnsubscribeRegistersResubscribeSet(t *testing.T) {
	s := NewBBOStream("", Config{})
	s.Subscribe("BTC-USDC")
	s.Subscribe("ETH-USDC")
	if !s.subs["BTC-USDC"] || !s.subs["ETH-USDC"] {
		t.Fatalf("expected both symbols registered, got %+v", s.subs)
	}
	s.Unsubscribe("BTC-USDC")
	if s.subs["BTC-USDC"] {
		t.Fatalf("expected BTC-USDC removed from the resubscribe set")
	}
	if !s.subs["ETH-USDC"] {
		t.Fatalf("expected ETH-USDC to remain subscribed")
	}
}

func TestBBOStreamGetBBOMissIsNotOk(t *testing.T) {
	s := NewBBOStream("", Config{})
	if _, ok := s.GetBBO("BTC-USDC"); ok {
		t.Fatalf("expected no cached BBO before any update")
	}
}

func TestBBOStreamIsStaleWithNoCacheEntry(t *testing.T) {
	s := NewBBOStream("", Config{})
	if !s.IsStale("BTC-USDC", 1000) {
		t.Fatalf("a never-seen symbol must report stale")
	}
}

func TestBBOStreamIsStaleRespectsMaxAge(t *testing.T) {
	s := NewBBOStream("", Config{})
	s.cache["BTC-USDC"] = BBO{Symbol: "BTC-USDC", BestBid: 100, BestAsk: 101, Mid: 100.5, Ts: time.Now().Add(-2 * time.Second)}
	if s.IsStale("BTC-USDC", 5000) {
		t.Fatalf("a 2s-old quote under a 5s threshold must not be stale")
	}
	if !s.IsStale("BTC-USDC", 500) {
		t.Fatalf("a 2s-old quote over a 500ms threshold must be stale")
	}
}

func TestBBOStreamGetBBOReflectsCacheWrites(t *testing.T) {
	s := NewBBOStream("", Config{})
	want := BBO{Symbol: "BTC-USDC", BestBid: 100, BestAsk: 101, Mid: 100.5, Ts: time.Now()}
	s.mu.Lock()
	s.cache["BTC-USDC"] = want
	s.mu.Unlock()

	got, ok := s.GetBBO("BTC-USDC")
	if !ok || got.Mid != want.Mid {
		t.Fatalf("expected cached BBO to round-trip, got %+v ok=%v", got, ok)
	}
}
