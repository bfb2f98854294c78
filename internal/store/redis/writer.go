// Package redis is the hot path next to SQLite: the latest enriched bar per
// (symbol, timeframe) lives under a volatile key, signal detections are
// published for live subscribers, and alert triggers are appended to a capped
// stream for downstream consumers.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"signal-systemv1/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	defaultLatestTTL = 30 * time.Minute

	// triggerStreamMaxLen caps alerts:triggers; a few days of triggers at
	// normal rule volume.
	triggerStreamMaxLen = 10000

	triggerStream  = "alerts:triggers"
	triggerChannel = "pub:alerts"
)

// LatestCandleKey returns the hot key for one pair's newest enriched bar.
func LatestCandleKey(symbol, timeframe string) string {
	return "latest:candle:" + symbol + ":" + timeframe
}

// SignalChannel returns the pubsub channel for one pair's signal events.
func SignalChannel(symbol, timeframe string) string {
	return "signals:" + symbol + ":" + timeframe
}

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Writer mirrors collector output into Redis.
type Writer struct {
	client *goredis.Client

	// OnWriteDur observes per-write latency when set. Set before concurrent use.
	OnWriteDur func(d time.Duration)
}

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// New creates a new Redis Writer and pings the server.
func New(cfg WriterConfig) (*Writer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Writer{client: client}, nil
}

// SetLatestCandle caches one pair's newest enriched bar with a TTL, so a
// stalled collector ages out of the hot path instead of serving stale data.
func (w *Writer) SetLatestCandle(ctx context.Context, c *model.Candle) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal candle: %w", err)
	}
	key := LatestCandleKey(c.Symbol, c.Timeframe)
	start := time.Now()
	err = w.client.Set(ctx, key, string(data), defaultLatestTTL).Err()
	if w.OnWriteDur != nil {
		w.OnWriteDur(time.Since(start))
	}
	if err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// PublishSignals announces a bar's detected signal tags on the pair's channel.
func (w *Writer) PublishSignals(ctx context.Context, c *model.Candle, signals []string) error {
	event := map[string]any{
		"type":      "signal",
		"symbol":    c.Symbol,
		"timeframe": c.Timeframe,
		"timestamp": c.OpenTime.UTC().Format(time.RFC3339),
		"close":     c.Close,
		"signals":   signals,
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal signal event: %w", err)
	}
	ch := SignalChannel(c.Symbol, c.Timeframe)
	if err := w.client.Publish(ctx, ch, string(data)).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", ch, err)
	}
	return nil
}

// AppendTrigger records a fired alert on the capped trigger stream and
// announces it for live subscribers, in one pipeline.
func (w *Writer) AppendTrigger(ctx context.Context, rec *model.TriggerRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal trigger: %w", err)
	}
	payload := string(data)

	pipe := w.client.Pipeline()
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: triggerStream,
		MaxLen: triggerStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": payload},
	})
	pipe.Publish(ctx, triggerChannel, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis trigger pipeline: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
