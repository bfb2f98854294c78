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

// ReaderConfig configures the Redis reader.
type ReaderConfig struct {
	Addr     string
	Password string
	DB       int
}

// Reader serves the hot path: latest-bar lookups and the pubsub bridge the
// gateway feeds into its websocket hub.
type Reader struct {
	client *goredis.Client
}

// NewReader creates a new Redis Reader and pings the server.
func NewReader(cfg ReaderConfig) (*Reader, error) {
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

	log.Printf("[redis-reader] connected to %s", cfg.Addr)
	return &Reader{client: client}, nil
}

// Client returns the underlying Redis client for health checks.
func (r *Reader) Client() *goredis.Client { return r.client }

// LatestCandle returns the cached newest bar for one pair, or nil when the
// hot key is absent or expired.
func (r *Reader) LatestCandle(ctx context.Context, symbol, timeframe string) (*model.Candle, error) {
	data, err := r.client.Get(ctx, LatestCandleKey(symbol, timeframe)).Result()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get latest %s/%s: %w", symbol, timeframe, err)
	}
	var c model.Candle
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return nil, fmt.Errorf("unmarshal latest %s/%s: %w", symbol, timeframe, err)
	}
	return &c, nil
}

// LatestCandles fetches the cached bars of one symbol across timeframes in a
// single MGET. Missing pairs are simply absent from the result.
func (r *Reader) LatestCandles(ctx context.Context, symbol string, timeframes []string) (map[string]*model.Candle, error) {
	keys := make([]string, len(timeframes))
	for i, tf := range timeframes {
		keys[i] = LatestCandleKey(symbol, tf)
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget latest %s: %w", symbol, err)
	}

	out := make(map[string]*model.Candle, len(timeframes))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var c model.Candle
		if err := json.Unmarshal([]byte(s), &c); err != nil {
			log.Printf("[redis-reader] bad latest bar at %s: %v", keys[i], err)
			continue
		}
		out[timeframes[i]] = &c
	}
	return out, nil
}

// SubscribeEvents bridges pubsub payloads matching the patterns into out as
// raw JSON. Blocks until ctx is cancelled; reconnection is goredis's job.
func (r *Reader) SubscribeEvents(ctx context.Context, out chan<- []byte, patterns ...string) error {
	sub := r.client.PSubscribe(ctx, patterns...)
	defer sub.Close()

	// Fail fast on a broken subscription instead of silently dropping events.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis psubscribe %v: %w", patterns, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("redis psubscribe %v: channel closed", patterns)
			}
			select {
			case out <- []byte(msg.Payload):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// Close closes the Redis client.
func (r *Reader) Close() error {
	return r.client.Close()
}
