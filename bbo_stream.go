// FILE: bbo_stream.go
// Package main – BBO Stream Client (C2).
//
// Maintains a long-lived streaming subscription per symbol with
// auto-reconnect, heartbeat, a subscription registry, and a staleness
// oracle. Grounded on the reference market-maker service's
// internal/exchange/ws.go: gorilla/websocket dial, exponential-backoff
// reconnect (reset on a successful message), resubscribe-on-reconnect, and a
// ping-loop heartbeat — generalized here from a single feed to a per-symbol
// registry guarded the teacher's own way (sync.RWMutex over a map, as in
// Trader.mu), rather than the source's internal channel-per-event-type shape.

package main

import (
	"context"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// bboWireUpdate is the minimal top-of-book message shape expected on the
// wire; a real exchange's subscription payload is parsed into this at the
// boundary, same as C1 never leaking raw JSON past the gateway.
type bboWireUpdate struct {
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
}

// BBOStream is C2: a streaming BBO client with a process-wide cache.
type BBOStream struct {
	url string
	cfg Config

	mu      sync.RWMutex
	subs    map[string]bool
	cache   map[string]BBO
	conn    *websocket.Conn

	events chan BBOEvent

	connectedMu sync.Mutex
	backoff     time.Duration
}

// BBOEvent is the `bbo(symbol, BBO)` notification of §5.2.
type BBOEvent struct {
	Symbol string
	BBO    BBO
}

// NewBBOStream constructs a client targeting wsURL; it does not dial until
// Start is called.
func NewBBOStream(wsURL string, cfg Config) *BBOStream {
	return &BBOStream{
		url:     wsURL,
		cfg:     cfg,
		subs:    make(map[string]bool),
		cache:   make(map[string]BBO),
		events:  make(chan BBOEvent, 256),
		backoff: time.Second,
	}
}

// Events exposes the notification channel; the Market-Data Aggregator (C3)
// is the primary consumer.
func (s *BBOStream) Events() <-chan BBOEvent { return s.events }

// Subscribe registers a symbol for streaming; if already connected, it
// sends a live subscribe frame, otherwise the symbol joins the resubscribe
// set used on the next (re)connect.
func (s *BBOStream) Subscribe(symbol string) {
	s.mu.Lock()
	s.subs[symbol] = true
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		_ = conn.WriteJSON(map[string]any{"op": "subscribe", "symbol": symbol})
	}
}

// Unsubscribe removes a symbol from the resubscribe set.
func (s *BBOStream) Unsubscribe(symbol string) {
	s.mu.Lock()
	delete(s.subs, symbol)
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		_ = conn.WriteJSON(map[string]any{"op": "unsubscribe", "symbol": symbol})
	}
}

// GetBBO is the cache lookup exposed to C3/C6/C7.
func (s *BBOStream) GetBBO(symbol string) (BBO, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.cache[symbol]
	return b, ok
}

// SetFallbackBBO records a BBO observed via the HTTP book fallback (C3), so
// GetBBO/IsStale serve a single fused view regardless of which transport
// last produced a quote.
func (s *BBOStream) SetFallbackBBO(b BBO) {
	s.mu.Lock()
	s.cache[b.Symbol] = b
	s.mu.Unlock()
}

// IsStale returns true if no cached BBO exists or its age exceeds maxAgeMs.
func (s *BBOStream) IsStale(symbol string, maxAgeMs int) bool {
	s.mu.RLock()
	b, ok := s.cache[symbol]
	s.mu.RUnlock()
	if !ok {
		return true
	}
	return b.Stale(time.Now(), maxAgeMs)
}

// Start runs the reconnect loop until ctx is cancelled. It never returns an
// error to the caller; transport errors are recovered transparently (§5.2
// failure semantics) and logged.
func (s *BBOStream) Start(ctx context.Context) {
	go s.run(ctx)
}

func (s *BBOStream) run(ctx context.Context) {
	maxDelay := time.Duration(s.cfg.WSReconnectMaxDelayMs) * time.Millisecond
	for {
		if ctx.Err() != nil {
			return
		}
		if err := s.connectAndServe(ctx); err != nil {
			log.Printf("[WARN] bbo_stream: connection lost: %v; reconnecting in %s", err, s.backoff)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.backoff):
		}
		s.backoff *= 2
		if s.backoff > maxDelay {
			s.backoff = maxDelay
		}
	}
}

func (s *BBOStream) connectAndServe(ctx context.Context) error {
	u, err := url.Parse(s.url)
	if err != nil {
		return err
	}
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, u.String(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	s.mu.Lock()
	s.conn = conn
	subs := make([]string, 0, len(s.subs))
	for sym := range s.subs {
		subs = append(subs, sym)
	}
	s.mu.Unlock()

	for _, sym := range subs {
		if err := conn.WriteJSON(map[string]any{"op": "subscribe", "symbol": sym}); err != nil {
			return err
		}
	}

	pingDone := make(chan struct{})
	go s.pingLoop(ctx, conn, pingDone)
	defer close(pingDone)

	readCtx, cancelRead := context.WithCancel(ctx)
	defer cancelRead()
	go func() {
		<-readCtx.Done()
		conn.Close()
	}()

	for {
		var msg bboWireUpdate
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		s.backoff = time.Second // reset backoff on successful message
		now := time.Now().UTC()
		if msg.Bid <= 0 || msg.Ask <= 0 || msg.Ask <= msg.Bid {
			continue // malformed frame; never replace cache with bad data
		}
		bbo := BBO{Symbol: msg.Symbol, BestBid: msg.Bid, BestAsk: msg.Ask, Mid: (msg.Bid + msg.Ask) / 2, Ts: now}

		s.mu.Lock()
		s.cache[msg.Symbol] = bbo
		s.mu.Unlock()

		select {
		case s.events <- BBOEvent{Symbol: msg.Symbol, BBO: bbo}:
		default:
			// Consumer is behind; drop rather than block the read loop —
			// the cache above is still authoritative for GetBBO/IsStale.
		}
	}
}

func (s *BBOStream) pingLoop(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}
