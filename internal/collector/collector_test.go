package collector

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"signal-systemv1/internal/indicator"
	"signal-systemv1/internal/model"
	"signal-systemv1/internal/signal"
	"signal-systemv1/internal/store/sqlite"
)

// fakeFetcher serves canned candle batches keyed by "symbol:tf" and can fail
// selected pairs to exercise isolation.
type fakeFetcher struct {
	batches map[string][]model.Candle
	fail    map[string]error
	calls   int
}

func (f *fakeFetcher) FetchRecentOHLCV(ctx context.Context, symbol, tf string, limit int) ([]model.Candle, error) {
	f.calls++
	key := symbol + ":" + tf
	if err := f.fail[key]; err != nil {
		return nil, err
	}
	batch := f.batches[key]
	if len(batch) > limit {
		batch = batch[len(batch)-limit:]
	}
	return batch, nil
}

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(sqlite.Config{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newCollector(cfg Config, f Fetcher, s *sqlite.Store) *Collector {
	return New(cfg, f, s,
		indicator.NewCalculator(indicator.DefaultParams()),
		signal.NewDetector(signal.DefaultThresholds()),
		nil, nil)
}

// series builds n ascending 1h bars ending at base+(n-1)h with a gentle trend.
func series(symbol string, n int, base time.Time) []model.Candle {
	out := make([]model.Candle, n)
	price := 30000.0
	for i := range out {
		price += float64(i%7) - 3
		out[i] = model.Candle{
			Symbol:    symbol,
			Timeframe: "1h",
			OpenTime:  base.Add(time.Duration(i) * time.Hour),
			Open:      price - 5,
			High:      price + 15,
			Low:       price - 15,
			Close:     price,
			Volume:    1000 + float64(i),
		}
	}
	return out
}

func TestCollectOnceInsertsAndEnriches(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	bars := series("BTC", 60, base)

	// Pre-load history so the tick only adds the newest bars.
	ctx := context.Background()
	if _, err := store.InsertCandles(ctx, bars[:55]); err != nil {
		t.Fatalf("seed: %v", err)
	}

	f := &fakeFetcher{batches: map[string][]model.Candle{"BTC:1h": bars}}
	c := newCollector(Config{
		Symbols: []string{"BTC"}, Timeframes: []string{"1h"}, IncrementalLimit: 10,
	}, f, store)

	if err := c.CollectOnce(ctx); err != nil {
		t.Fatalf("collect: %v", err)
	}

	latest, err := store.LatestCandle(ctx, "BTC", "1h")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest == nil || !latest.OpenTime.Equal(bars[59].OpenTime) {
		t.Fatalf("latest bar = %+v", latest)
	}
	if latest.Indicators == nil {
		t.Fatal("latest bar missing indicators after tick")
	}
	if latest.Indicators.RSI == nil {
		t.Error("RSI not computed with 60 bars of history")
	}
	if latest.Signals == nil {
		t.Error("signals not written (empty set should persist as [])")
	}
}

func TestCollectOnceIdempotent(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	bars := series("BTC", 60, base)

	f := &fakeFetcher{batches: map[string][]model.Candle{"BTC:1h": bars}}
	c := newCollector(Config{
		Symbols: []string{"BTC"}, Timeframes: []string{"1h"}, HistoricalLimit: 60, IncrementalLimit: 60,
	}, f, store)

	ctx := context.Background()
	if err := c.CollectOnce(ctx); err != nil {
		t.Fatalf("first tick: %v", err)
	}
	first, _ := store.RecentCandles(ctx, "BTC", "1h", 100)

	if err := c.CollectOnce(ctx); err != nil {
		t.Fatalf("second tick: %v", err)
	}
	second, _ := store.RecentCandles(ctx, "BTC", "1h", 100)

	if len(first) != 60 || len(second) != 60 {
		t.Fatalf("row counts = %d then %d, want 60 both times", len(first), len(second))
	}
	// Same latest-bar enrichment both times.
	a, b := first[len(first)-1], second[len(second)-1]
	if (a.Indicators == nil) != (b.Indicators == nil) {
		t.Fatal("indicator presence changed across identical ticks")
	}
	if a.Indicators != nil && *a.Indicators.RSI != *b.Indicators.RSI {
		t.Errorf("RSI changed across identical ticks: %v vs %v", *a.Indicators.RSI, *b.Indicators.RSI)
	}
}

func TestCollectOncePairFailureIsolated(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	f := &fakeFetcher{
		batches: map[string][]model.Candle{"ETH:1h": series("ETH", 5, base)},
		fail:    map[string]error{"BTC:1h": errors.New("connection reset")},
	}
	c := newCollector(Config{
		Symbols: []string{"BTC", "ETH"}, Timeframes: []string{"1h"}, IncrementalLimit: 5,
	}, f, store)

	if err := c.CollectOnce(context.Background()); err != nil {
		t.Fatalf("tick should swallow per-pair errors, got %v", err)
	}

	n, err := store.CandleCount(context.Background(), "ETH", "1h")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 5 {
		t.Errorf("ETH rows = %d, want 5 despite BTC failure", n)
	}
}

func TestEnrichSkipsBelowWarmup(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	bars := series("BTC", 20, base)

	ctx := context.Background()
	if _, err := store.InsertCandles(ctx, bars); err != nil {
		t.Fatalf("seed: %v", err)
	}

	c := newCollector(Config{Symbols: []string{"BTC"}, Timeframes: []string{"1h"}},
		&fakeFetcher{}, store)
	if err := c.EnrichPair(ctx, "BTC", "1h"); err != nil {
		t.Fatalf("enrich: %v", err)
	}

	latest, _ := store.LatestCandle(ctx, "BTC", "1h")
	if latest.Indicators != nil {
		t.Error("indicators written with only 20 bars of history")
	}
}
