// Package exchange pulls OHLCV candles from Binance spot via REST.
//
// One Client serves every configured (symbol, timeframe) pair. Calls are paced
// through a token bucket so a batch of fetches never exceeds the exchange rate
// limit, and a circuit breaker stops hammering the API while it is down.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"time"

	"signal-systemv1/internal/model"

	"github.com/adshao/go-binance/v2"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// ErrKind classifies a fetch failure for the caller's retry policy.
type ErrKind string

const (
	KindTimeout     ErrKind = "timeout"      // request deadline exceeded
	KindTransport   ErrKind = "transport"    // network or HTTP-level failure
	KindCircuitOpen ErrKind = "circuit_open" // breaker rejecting calls
	KindBadSymbol   ErrKind = "bad_symbol"   // symbol not in the configured set
	KindBadData     ErrKind = "bad_data"     // unparseable exchange response
)

// Error wraps a fetch failure with its kind and the pair that caused it.
type Error struct {
	Kind      ErrKind
	Symbol    string
	Timeframe string
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("exchange %s %s/%s: %v", e.Kind, e.Symbol, e.Timeframe, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the error kind of err, or "" when err is not an exchange error.
func KindOf(err error) ErrKind {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return ""
}

// Config configures the Binance client.
type Config struct {
	APIKey    string // optional, kline endpoints are public
	APISecret string
	Timeout   time.Duration // per-request deadline
	PauseMs   int           // minimum gap between calls within a batch

	// SymbolPairs maps internal tags to exchange pairs: BTC -> BTCUSDT.
	SymbolPairs map[string]string
}

// Ticker24h is a 24-hour rolling price summary for one symbol.
type Ticker24h struct {
	Symbol        string  `json:"symbol"`
	LastPrice     float64 `json:"last_price"`
	BidPrice      float64 `json:"bid_price"`
	AskPrice      float64 `json:"ask_price"`
	Volume        float64 `json:"volume"`
	PercentChange float64 `json:"percent_change"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
}

// Client fetches candles from Binance spot.
type Client struct {
	api     *binance.Client
	pairs   map[string]string
	timeout time.Duration
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker

	// Optional hooks for metrics.
	OnRequestDur   func(d time.Duration)
	OnBreakerState func(state gobreaker.State)
}

// NewClient builds a Binance spot client with pacing and a circuit breaker.
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.PauseMs < 100 {
		cfg.PauseMs = 100
	}

	c := &Client{
		api:     binance.NewClient(cfg.APIKey, cfg.APISecret),
		pairs:   cfg.SymbolPairs,
		timeout: cfg.Timeout,
		limiter: rate.NewLimiter(rate.Every(time.Duration(cfg.PauseMs)*time.Millisecond), 1),
	}

	st := gobreaker.Settings{Name: "binance"}
	st.Timeout = 60 * time.Second
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= 3
	}
	st.OnStateChange = func(name string, from, to gobreaker.State) {
		log.Printf("[exchange] breaker %s: %s -> %s", name, from, to)
		if c.OnBreakerState != nil {
			c.OnBreakerState(to)
		}
	}
	c.breaker = gobreaker.NewCircuitBreaker(st)
	return c
}

// PairFor returns the exchange pair for an internal symbol, or "" if unknown.
func (c *Client) PairFor(symbol string) string { return c.pairs[symbol] }

// FetchRecentOHLCV returns up to limit most-recent bars for one pair, oldest
// first. The last bar may still be forming; callers must treat a re-fetch of
// the same open time as a skip, never a delete.
func (c *Client) FetchRecentOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]model.Candle, error) {
	pair, ok := c.pairs[symbol]
	if !ok {
		return nil, &Error{Kind: KindBadSymbol, Symbol: symbol, Timeframe: timeframe,
			Err: fmt.Errorf("no exchange pair configured")}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &Error{Kind: KindTimeout, Symbol: symbol, Timeframe: timeframe, Err: err}
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	out, err := c.breaker.Execute(func() (any, error) {
		return c.api.NewKlinesService().
			Symbol(pair).
			Interval(timeframe).
			Limit(limit).
			Do(reqCtx)
	})
	if c.OnRequestDur != nil {
		c.OnRequestDur(time.Since(start))
	}
	if err != nil {
		return nil, &Error{Kind: classify(err), Symbol: symbol, Timeframe: timeframe, Err: err}
	}

	klines := out.([]*binance.Kline)
	candles := make([]model.Candle, 0, len(klines))
	for _, k := range klines {
		cd, err := klineToCandle(symbol, timeframe, k)
		if err != nil {
			return nil, &Error{Kind: KindBadData, Symbol: symbol, Timeframe: timeframe, Err: err}
		}
		candles = append(candles, cd)
	}
	return candles, nil
}

// FetchTicker24h returns the 24h rolling stats for one symbol. Used by the
// market monitor and the gateway health payload.
func (c *Client) FetchTicker24h(ctx context.Context, symbol string) (*Ticker24h, error) {
	pair, ok := c.pairs[symbol]
	if !ok {
		return nil, &Error{Kind: KindBadSymbol, Symbol: symbol,
			Err: fmt.Errorf("no exchange pair configured")}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &Error{Kind: KindTimeout, Symbol: symbol, Err: err}
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out, err := c.breaker.Execute(func() (any, error) {
		return c.api.NewListPriceChangeStatsService().Symbol(pair).Do(reqCtx)
	})
	if err != nil {
		return nil, &Error{Kind: classify(err), Symbol: symbol, Err: err}
	}

	stats := out.([]*binance.PriceChangeStats)
	if len(stats) == 0 {
		return nil, &Error{Kind: KindBadData, Symbol: symbol, Err: fmt.Errorf("empty ticker response")}
	}
	s := stats[0]

	t := &Ticker24h{Symbol: symbol}
	t.LastPrice = parseFloat(s.LastPrice)
	t.BidPrice = parseFloat(s.BidPrice)
	t.AskPrice = parseFloat(s.AskPrice)
	t.Volume = parseFloat(s.Volume)
	t.PercentChange = parseFloat(s.PriceChangePercent)
	t.High = parseFloat(s.HighPrice)
	t.Low = parseFloat(s.LowPrice)
	return t, nil
}

func klineToCandle(symbol, timeframe string, k *binance.Kline) (model.Candle, error) {
	open, err1 := strconv.ParseFloat(k.Open, 64)
	high, err2 := strconv.ParseFloat(k.High, 64)
	low, err3 := strconv.ParseFloat(k.Low, 64)
	closeP, err4 := strconv.ParseFloat(k.Close, 64)
	volume, err5 := strconv.ParseFloat(k.Volume, 64)
	for _, err := range []error{err1, err2, err3, err4, err5} {
		if err != nil {
			return model.Candle{}, fmt.Errorf("parse kline at %d: %w", k.OpenTime, err)
		}
	}
	return model.Candle{
		Symbol:    symbol,
		Timeframe: timeframe,
		OpenTime:  time.UnixMilli(k.OpenTime).UTC(),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closeP,
		Volume:    volume,
	}, nil
}

func classify(err error) ErrKind {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return KindCircuitOpen
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	default:
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return KindTimeout
		}
		return KindTransport
	}
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
