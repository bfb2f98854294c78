// Package collector runs the candle ingestion pipeline: fetch recent bars per
// (symbol, timeframe), persist the novel ones, and recompute indicators and
// signals for every pair whose latest bar changed.
//
// The tick is at-least-once: the exchange keeps returning the still-forming
// bar, and the insert-if-absent write makes re-observation free. Failures are
// isolated per pair so one bad fetch never starves the rest of the batch.
package collector

import (
	"context"
	"fmt"
	"log"
	"time"

	"signal-systemv1/internal/indicator"
	"signal-systemv1/internal/metrics"
	"signal-systemv1/internal/model"
	"signal-systemv1/internal/signal"
	"signal-systemv1/internal/store/sqlite"
)

const (
	// indicatorWindow is the fetch size for indicator computation; minBars is
	// the longest lookback, below which computation is skipped entirely.
	indicatorWindow = 60
	minBars         = 50

	// signalWindow covers divergence and bandwidth history.
	signalWindow = 100
)

// Fetcher pulls recent bars for one pair. Satisfied by exchange.Client.
type Fetcher interface {
	FetchRecentOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]model.Candle, error)
}

// HotCache mirrors the latest enriched bar and publishes signal events for
// live consumers. Satisfied by the Redis writer; may be nil.
type HotCache interface {
	SetLatestCandle(ctx context.Context, c *model.Candle) error
	PublishSignals(ctx context.Context, c *model.Candle, signals []string) error
}

// Config holds the per-run fetch limits and the pairs to collect.
type Config struct {
	Symbols          []string
	Timeframes       []string
	HistoricalLimit  int // bars per pair on backfill
	IncrementalLimit int // bars per pair on each tick
}

// Collector wires the fetcher, the candle store, and the enrichment engines.
type Collector struct {
	cfg      Config
	fetcher  Fetcher
	store    *sqlite.Store
	calc     *indicator.Calculator
	detector *signal.Detector
	hot      HotCache
	prom     *metrics.Metrics
}

// New creates a collector. hot and prom may be nil.
func New(cfg Config, fetcher Fetcher, store *sqlite.Store, calc *indicator.Calculator,
	detector *signal.Detector, hot HotCache, prom *metrics.Metrics) *Collector {
	if cfg.HistoricalLimit <= 0 {
		cfg.HistoricalLimit = 60
	}
	if cfg.IncrementalLimit <= 0 {
		cfg.IncrementalLimit = 5
	}
	return &Collector{
		cfg:      cfg,
		fetcher:  fetcher,
		store:    store,
		calc:     calc,
		detector: detector,
		hot:      hot,
		prom:     prom,
	}
}

// Backfill fetches the historical window for every pair and enriches each
// pair once. Used on cold start.
func (c *Collector) Backfill(ctx context.Context) error {
	var lastErr error
	for _, symbol := range c.cfg.Symbols {
		for _, tf := range c.cfg.Timeframes {
			if err := ctx.Err(); err != nil {
				return err
			}
			inserted, err := c.collectPair(ctx, symbol, tf, c.cfg.HistoricalLimit)
			if err != nil {
				log.Printf("[collector] backfill %s/%s: %v", symbol, tf, err)
				lastErr = err
				continue
			}
			log.Printf("[collector] backfill %s/%s: %d new bars", symbol, tf, inserted)
			if err := c.EnrichPair(ctx, symbol, tf); err != nil {
				log.Printf("[collector] backfill enrich %s/%s: %v", symbol, tf, err)
				lastErr = err
			}
		}
	}
	return lastErr
}

// CollectOnce runs one incremental tick: fetch the most recent bars for every
// pair, insert the novel ones, and enrich pairs that gained a bar. Per-pair
// errors are logged and skipped; the method only returns ctx errors.
func (c *Collector) CollectOnce(ctx context.Context) error {
	for _, symbol := range c.cfg.Symbols {
		for _, tf := range c.cfg.Timeframes {
			if err := ctx.Err(); err != nil {
				return err
			}
			inserted, err := c.collectPair(ctx, symbol, tf, c.cfg.IncrementalLimit)
			if err != nil {
				log.Printf("[collector] tick %s/%s: %v", symbol, tf, err)
				if c.prom != nil {
					c.prom.FetchErrors.WithLabelValues(symbol).Inc()
				}
				continue
			}
			if inserted == 0 {
				continue
			}
			log.Printf("[collector] tick %s/%s: %d new bars", symbol, tf, inserted)
			if err := c.EnrichPair(ctx, symbol, tf); err != nil {
				log.Printf("[collector] enrich %s/%s: %v", symbol, tf, err)
			}
		}
	}
	return nil
}

// collectPair fetches and persists bars for one pair, returning the count of
// newly inserted rows.
func (c *Collector) collectPair(ctx context.Context, symbol, tf string, limit int) (int, error) {
	candles, err := c.fetcher.FetchRecentOHLCV(ctx, symbol, tf, limit)
	if err != nil {
		return 0, err
	}
	if c.prom != nil {
		c.prom.CandlesFetched.WithLabelValues(tf).Add(float64(len(candles)))
	}
	if len(candles) == 0 {
		return 0, nil
	}

	inserted, err := c.store.InsertCandles(ctx, candles)
	if err != nil {
		return 0, fmt.Errorf("persist candles: %w", err)
	}
	if c.prom != nil && inserted > 0 {
		c.prom.CandlesInserted.Add(float64(inserted))
	}
	return inserted, nil
}

// ComputeIndicatorsAll recomputes indicators for every configured pair.
// Errors are logged per pair so a single bad series never stops the sweep.
func (c *Collector) ComputeIndicatorsAll(ctx context.Context) error {
	for _, symbol := range c.cfg.Symbols {
		for _, tf := range c.cfg.Timeframes {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := c.computeIndicators(ctx, symbol, tf); err != nil {
				log.Printf("[collector] indicators %s/%s: %v", symbol, tf, err)
			}
		}
	}
	return nil
}

// DetectSignalsAll rescans signals for every configured pair.
func (c *Collector) DetectSignalsAll(ctx context.Context) error {
	for _, symbol := range c.cfg.Symbols {
		for _, tf := range c.cfg.Timeframes {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := c.detectSignals(ctx, symbol, tf); err != nil {
				log.Printf("[collector] signals %s/%s: %v", symbol, tf, err)
			}
		}
	}
	return nil
}

// EnrichPair recomputes indicators and then signals for the latest bar of one
// pair. Indicators are skipped below the warm-up threshold; signals always run
// so the latest bar never carries a stale tag set.
func (c *Collector) EnrichPair(ctx context.Context, symbol, tf string) error {
	if err := c.computeIndicators(ctx, symbol, tf); err != nil {
		return err
	}
	return c.detectSignals(ctx, symbol, tf)
}

func (c *Collector) computeIndicators(ctx context.Context, symbol, tf string) error {
	window, err := c.store.RecentCandles(ctx, symbol, tf, indicatorWindow)
	if err != nil {
		return fmt.Errorf("load indicator window: %w", err)
	}
	if len(window) < minBars {
		log.Printf("[collector] %s/%s: %d bars, need %d for indicators", symbol, tf, len(window), minBars)
		return nil
	}

	start := time.Now()
	set := c.calc.Latest(window)
	if c.prom != nil {
		c.prom.IndicatorComputeDur.Observe(time.Since(start).Seconds())
	}
	if set == nil {
		return nil
	}

	latest := window[len(window)-1]
	if err := c.store.UpdateIndicators(ctx, symbol, tf, latest.OpenTime, set); err != nil {
		return fmt.Errorf("store indicators: %w", err)
	}
	if c.prom != nil {
		c.prom.IndicatorRowsTotal.Inc()
	}
	return nil
}

func (c *Collector) detectSignals(ctx context.Context, symbol, tf string) error {
	window, err := c.store.RecentCandles(ctx, symbol, tf, signalWindow)
	if err != nil {
		return fmt.Errorf("load signal window: %w", err)
	}
	if len(window) == 0 {
		return nil
	}

	start := time.Now()
	signals := c.detector.Detect(window)
	if c.prom != nil {
		c.prom.SignalScanDur.Observe(time.Since(start).Seconds())
		for _, s := range signals {
			c.prom.SignalsDetected.WithLabelValues(s).Inc()
		}
	}

	latest := &window[len(window)-1]
	if err := c.store.UpdateSignals(ctx, symbol, tf, latest.OpenTime, signals); err != nil {
		return fmt.Errorf("store signals: %w", err)
	}
	latest.Signals = signals

	if c.hot != nil {
		if err := c.hot.SetLatestCandle(ctx, latest); err != nil {
			log.Printf("[collector] hot cache %s/%s: %v", symbol, tf, err)
		}
		if len(signals) > 0 {
			if err := c.hot.PublishSignals(ctx, latest, signals); err != nil {
				log.Printf("[collector] publish signals %s/%s: %v", symbol, tf, err)
			}
		}
	}
	return nil
}
