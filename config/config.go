package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Exchange
	ExchangeName   string
	BinanceAPIKey  string // optional, public market data works unauthenticated
	BinanceSecret  string
	RequestTimeout time.Duration
	FetchPauseMs   int // minimum gap between exchange calls within a batch

	// Markets
	SymbolPairs []string // exchange pairs, e.g. BTC/USDT
	Timeframes  []string // bar sizes, subset of {5m,15m,1h,1d}

	// Ingestion
	HistoricalLimit  int // bars fetched per pair on backfill
	IncrementalLimit int // bars fetched per pair on each tick

	// Infrastructure
	SQLitePath    string
	RedisAddr     string
	RedisPassword string
	MetricsAddr   string
	GatewayAddr   string

	// Scheduler
	CollectIntervalS  int
	EvaluateIntervalS int
	MonitorIntervalS  int
	CleanupAt         string // "HH:MM" wall clock in SchedulerTZ
	SchedulerTZ       string
	RetentionDays     int

	// Alerting
	AlertAPIBaseURL  string // receiver for trigger envelopes
	LarkWebhookURL   string // side-channel for interactive tests
	WebhookOTPSecret string // optional TOTP shared secret for X-Alert-OTP
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		ExchangeName:   getEnv("EXCHANGE_NAME", "binance"),
		BinanceAPIKey:  getEnv("BINANCE_API_KEY", ""),
		BinanceSecret:  getEnv("BINANCE_API_SECRET", ""),
		RequestTimeout: time.Duration(getEnvInt("EXCHANGE_TIMEOUT_SEC", 30)) * time.Second,
		FetchPauseMs:   getEnvInt("EXCHANGE_FETCH_PAUSE_MS", 100),

		SymbolPairs: splitList(getEnv("SYMBOLS", "BTC/USDT,ETH/USDT")),
		Timeframes:  splitList(getEnv("TIMEFRAMES", "5m,15m,1h,1d")),

		HistoricalLimit:  getEnvInt("HISTORICAL_LIMIT", 60),
		IncrementalLimit: getEnvInt("INCREMENTAL_LIMIT", 5),

		SQLitePath:    getEnv("SQLITE_PATH", "data/market.db"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		GatewayAddr:   getEnv("GATEWAY_ADDR", ":8080"),

		CollectIntervalS:  getEnvInt("COLLECT_INTERVAL_SEC", 60),
		EvaluateIntervalS: getEnvInt("EVALUATE_INTERVAL_SEC", 60),
		MonitorIntervalS:  getEnvInt("MONITOR_INTERVAL_SEC", 300),
		CleanupAt:         getEnv("CLEANUP_AT", "03:00"),
		SchedulerTZ:       getEnv("SCHEDULER_TZ", "Asia/Shanghai"),
		RetentionDays:     getEnvInt("RETENTION_DAYS", 30),

		AlertAPIBaseURL:  getEnv("ALERT_API_BASE_URL", "http://localhost:8081"),
		LarkWebhookURL:   getEnv("LARK_WEBHOOK_URL", ""),
		WebhookOTPSecret: getEnv("WEBHOOK_OTP_SECRET", ""),
	}
}

// Symbols returns the internal symbol tags derived from the configured
// exchange pairs (BTC/USDT -> BTC), preserving order.
func (c *Config) Symbols() []string {
	out := make([]string, 0, len(c.SymbolPairs))
	for _, pair := range c.SymbolPairs {
		out = append(out, SymbolFromPair(pair))
	}
	return out
}

// PairFor returns the exchange pair for an internal symbol tag, or "" if the
// symbol is not configured.
func (c *Config) PairFor(symbol string) string {
	for _, pair := range c.SymbolPairs {
		if SymbolFromPair(pair) == symbol {
			return pair
		}
	}
	return ""
}

// SupportedSymbol reports whether the internal symbol tag is configured.
func (c *Config) SupportedSymbol(symbol string) bool {
	return c.PairFor(symbol) != ""
}

// SupportedTimeframe reports whether tf is configured.
func (c *Config) SupportedTimeframe(tf string) bool {
	for _, t := range c.Timeframes {
		if t == tf {
			return true
		}
	}
	return false
}

// CleanupClock parses CleanupAt into hour and minute, defaulting to 03:00 on
// malformed input.
func (c *Config) CleanupClock() (hour, minute int) {
	parts := strings.SplitN(c.CleanupAt, ":", 2)
	if len(parts) != 2 {
		return 3, 0
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		log.Printf("[config] invalid CLEANUP_AT %q, using 03:00", c.CleanupAt)
		return 3, 0
	}
	return h, m
}

// Location resolves SchedulerTZ, falling back to UTC if the zone is unknown.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.SchedulerTZ)
	if err != nil {
		log.Printf("[config] unknown timezone %q, using UTC", c.SchedulerTZ)
		return time.UTC
	}
	return loc
}

// SymbolFromPair maps an exchange pair to its internal tag: "BTC/USDT" -> "BTC".
func SymbolFromPair(pair string) string {
	if i := strings.IndexByte(pair, '/'); i > 0 {
		return pair[:i]
	}
	return pair
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}
