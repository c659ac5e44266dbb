// FILE: config.go
// Package main – Runtime configuration model and loader.
//
// This file defines the Config struct (every knob the engine reads) and a
// helper to populate it from environment variables. The .env file is read by
// loadBotEnv() (see env.go), so behavior can be tuned without exports.
//
// Typical flow (see main.go):
//   loadBotEnv()
//   cfg := loadConfigFromEnv()
package main

import "strings"

// Config holds all runtime knobs for the engine. Field names track the env
// var names of SPEC_FULL.md §7 so a grep for BOTH finds the same place.
type Config struct {
	// Trading target
	Symbols []string

	// Ledger / leverage
	StartingBalance float64
	Leverage        float64

	// Execution / slippage
	MaxExecutionSlippageBps float64
	ExecutionTicks          int

	// Market-data freshness
	DataStaleMs int

	// Regime parameters
	CompressionRatio   float64
	VolumeSpikeMult    float64
	RangeWindowMinutes int
	VolShortMinutes    int
	VolLongMinutes     int

	// Edge / cost parameters
	MinNetEdgeBps  float64
	SpreadBpsEstMax float64
	SlippageBpsEst float64
	MakerFeeBps    float64
	TakerFeeBps    float64

	// Sizing and exit geometry
	RiskPerTradePct float64
	StopATRMult     float64
	TPRMult         float64
	MaxHoldSeconds  int
	MaxPositionSize float64

	// Throttles and kill-switch
	MaxTradesPerDay        int
	CooldownSeconds        int
	MaxDailyDrawdownPct    float64
	MaxConsecutiveLosses   int

	// Funding bias
	FundingFilter float64

	// Execution policy
	MakerFirst             bool
	QuoteTickOffset        int
	MaxQueueWaitMs         int
	MaxRequotePerSec       float64
	AllowTakerFallback     bool
	TakerOnlyIfNetEdgeBps  float64
	RegimeEvalIntervalMs   int
	RegimeSignalCacheTTLMs int

	// Market-data policy
	UseWSMarketData          bool
	WSStaleMs                int
	WSReconnectMaxDelayMs    int
	HTTPFallbackMinIntervalMs int
	FallbackCheckIntervalMs  int
	OrderBookDepth           int

	// Side-effect mode
	DryRun            bool
	EnableLiveTrading bool

	// Local crash-recovery snapshot (§5.9)
	StateFile    string
	PersistState bool

	// C1 HTTP transport (live mode only)
	ExchangeBaseURL string
	HTTPTimeoutMs   int

	// Ops
	Port int
}

// loadConfigFromEnv reads the process env (already hydrated by loadBotEnv())
// and returns a Config with sane defaults if keys are missing.
func loadConfigFromEnv() Config {
	return Config{
		Symbols: splitSymbols(getEnv("TRADING_SYMBOLS", "BTC-USDC")),

		StartingBalance: getEnvFloat("STARTING_BALANCE", 1000.0),
		Leverage:        getEnvFloat("LEVERAGE", 1.0),

		MaxExecutionSlippageBps: getEnvFloat("MAX_EXECUTION_SLIPPAGE_BPS", 8.0),
		ExecutionTicks:          getEnvInt("EXECUTION_TICKS", 1),

		DataStaleMs: getEnvInt("DATA_STALE_MS", 5000),

		CompressionRatio:   getEnvFloat("COMPRESSION_RATIO", 0.6),
		VolumeSpikeMult:    getEnvFloat("VOLUME_SPIKE_MULT", 1.5),
		RangeWindowMinutes: getEnvInt("RANGE_WINDOW_MINUTES", 15),
		VolShortMinutes:    getEnvInt("VOL_SHORT_MINUTES", 5),
		VolLongMinutes:     getEnvInt("VOL_LONG_MINUTES", 30),

		MinNetEdgeBps:   getEnvFloat("MIN_NET_EDGE_BPS", 5.0),
		SpreadBpsEstMax: getEnvFloat("SPREAD_BPS_EST_MAX", 6.0),
		SlippageBpsEst:  getEnvFloat("SLIPPAGE_BPS_EST", 3.0),
		MakerFeeBps:     getEnvFloat("MAKER_FEE_BPS", -1.5),
		TakerFeeBps:     getEnvFloat("TAKER_FEE_BPS", 4.5),

		RiskPerTradePct: getEnvFloat("RISK_PER_TRADE_PCT", 0.5),
		StopATRMult:     getEnvFloat("STOP_ATR_MULT", 1.5),
		TPRMult:         getEnvFloat("TP_R_MULT", 2.0),
		MaxHoldSeconds:  getEnvInt("MAX_HOLD_SECONDS", 3600),
		MaxPositionSize: getEnvFloat("MAX_POSITION_SIZE", 5000.0),

		MaxTradesPerDay:      getEnvInt("MAX_TRADES_PER_DAY", 20),
		CooldownSeconds:      getEnvInt("COOLDOWN_SECONDS", 120),
		MaxDailyDrawdownPct:  getEnvFloat("MAX_DAILY_DRAWDOWN_PCT", 2.5),
		MaxConsecutiveLosses: getEnvInt("MAX_CONSECUTIVE_LOSSES", 4),

		FundingFilter: getEnvFloat("FUNDING_FILTER", 0.03),

		MakerFirst:             getEnvBool("MAKER_FIRST", true),
		QuoteTickOffset:        getEnvInt("QUOTE_TICK_OFFSET", 1),
		MaxQueueWaitMs:         getEnvInt("MAX_QUEUE_WAIT_MS", 350),
		MaxRequotePerSec:       getEnvFloat("MAX_REQUOTE_PER_SEC", 3.0),
		AllowTakerFallback:     getEnvBool("ALLOW_TAKER_FALLBACK", true),
		TakerOnlyIfNetEdgeBps:  getEnvFloat("TAKER_ONLY_IF_NET_EDGE_BPS", 20.0),
		RegimeEvalIntervalMs:   getEnvInt("REGIME_EVAL_INTERVAL_MS", 1000),
		RegimeSignalCacheTTLMs: getEnvInt("REGIME_SIGNAL_CACHE_TTL_MS", 2000),

		UseWSMarketData:           getEnvBool("USE_WS_MARKET_DATA", true),
		WSStaleMs:                 getEnvInt("WS_STALE_MS", 5000),
		WSReconnectMaxDelayMs:     getEnvInt("WS_RECONNECT_MAX_DELAY_MS", 30000),
		HTTPFallbackMinIntervalMs: getEnvInt("HTTP_FALLBACK_MIN_INTERVAL_MS", 1000),
		FallbackCheckIntervalMs:   getEnvInt("FALLBACK_CHECK_INTERVAL_MS", 30000),
		OrderBookDepth:            getEnvInt("ORDER_BOOK_DEPTH", 20),

		DryRun:            getEnvBool("DRY_RUN", true),
		EnableLiveTrading: getEnvBool("ENABLE_LIVE_TRADING", false),

		StateFile:    getEnv("STATE_FILE", "state.json"),
		PersistState: getEnvBool("PERSIST_STATE", true),

		ExchangeBaseURL: getEnv("EXCHANGE_BASE_URL", "https://api.exchange.local"),
		HTTPTimeoutMs:   getEnvInt("HTTP_TIMEOUT_MS", 10000),

		Port: getEnvInt("PORT", 8080),
	}
}

// splitSymbols parses the comma-separated TRADING_SYMBOLS value.
func splitSymbols(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		out = []string{"BTC-USDC"}
	}
	return out
}
