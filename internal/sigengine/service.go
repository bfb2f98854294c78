// Package sigengine assembles the collection-side daemon: the exchange
// client, the candle store, the enrichment engines, and the scheduler that
// drives them, plus the metrics and health endpoints.
package sigengine

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"signal-systemv1/config"
	"signal-systemv1/internal/collector"
	"signal-systemv1/internal/exchange"
	"signal-systemv1/internal/indicator"
	"signal-systemv1/internal/metrics"
	"signal-systemv1/internal/notification"
	"signal-systemv1/internal/sched"
	"signal-systemv1/internal/signal"
	"signal-systemv1/internal/store/redis"
	"signal-systemv1/internal/store/sqlite"

	goredis "github.com/go-redis/redis/v8"
	"github.com/sony/gobreaker"
)

// Service is the signal engine daemon.
type Service struct {
	cfg    *config.Config
	store  *sqlite.Store
	hot    *redis.Writer // nil when Redis is unreachable at startup
	xc     *exchange.Client
	coll   *collector.Collector
	sch    *sched.Scheduler
	notify notification.Notifier

	prom    *metrics.Metrics
	health  *metrics.HealthStatus
	promSrv *metrics.Server
}

// New wires the daemon from configuration. Redis is optional: if the initial
// ping fails the engine runs SQLite-only and the health endpoint reports it.
func New(cfg *config.Config) (*Service, error) {
	store, err := sqlite.Open(sqlite.Config{Path: cfg.SQLitePath})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	health.SetTimeframes(cfg.Timeframes)

	var hot *redis.Writer
	if cfg.RedisAddr != "" {
		hot, err = redis.New(redis.WriterConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err != nil {
			log.Printf("[sigengine] redis unavailable, running without hot cache: %v", err)
			hot = nil
		} else {
			hot.OnWriteDur = func(d time.Duration) { prom.RedisWriteDur.Observe(d.Seconds()) }
		}
	}
	store.SetCommitHook(func(d time.Duration) { prom.SQLiteCommitDur.Observe(d.Seconds()) })
	health.SetRedisConnected(hot != nil)

	xc := exchange.NewClient(exchange.Config{
		APIKey:      cfg.BinanceAPIKey,
		APISecret:   cfg.BinanceSecret,
		Timeout:     cfg.RequestTimeout,
		PauseMs:     cfg.FetchPauseMs,
		SymbolPairs: exchangePairs(cfg),
	})
	var notify notification.Notifier = notification.NewLogNotifier()
	if cfg.LarkWebhookURL != "" {
		notify = notification.NewLarkNotifier(cfg.LarkWebhookURL)
	}

	xc.OnRequestDur = func(d time.Duration) { prom.ExchangeReqDur.Observe(d.Seconds()) }
	xc.OnBreakerState = func(state gobreaker.State) {
		switch state {
		case gobreaker.StateClosed:
			prom.ExchangeBreakerState.Set(0)
		case gobreaker.StateOpen:
			prom.ExchangeBreakerState.Set(1)
			prom.ExchangeBreakerTrips.Inc()
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				notify.Send(ctx, notification.Alert{
					Level:   notification.AlertWarning,
					Title:   "exchange circuit breaker open",
					Message: "consecutive fetch failures against binance; collection paused until half-open probe succeeds",
				})
			}()
		case gobreaker.StateHalfOpen:
			prom.ExchangeBreakerState.Set(2)
		}
	}

	coll := collector.New(collector.Config{
		Symbols:          cfg.Symbols(),
		Timeframes:       cfg.Timeframes,
		HistoricalLimit:  cfg.HistoricalLimit,
		IncrementalLimit: cfg.IncrementalLimit,
	}, xc, store, indicator.NewCalculator(indicator.DefaultParams()),
		signal.NewDetector(signal.DefaultThresholds()), hotOrNil(hot), prom)

	s := &Service{
		cfg:     cfg,
		store:   store,
		hot:     hot,
		xc:      xc,
		coll:    coll,
		sch:     sched.New(prom),
		notify:  notify,
		prom:    prom,
		health:  health,
		promSrv: metrics.NewServer(cfg.MetricsAddr, health),
	}
	s.registerJobs()
	return s, nil
}

// exchangePairs maps internal symbol tags to exchange pairs: BTC -> BTCUSDT.
func exchangePairs(cfg *config.Config) map[string]string {
	pairs := make(map[string]string, len(cfg.SymbolPairs))
	for _, pair := range cfg.SymbolPairs {
		pairs[config.SymbolFromPair(pair)] = strings.ReplaceAll(pair, "/", "")
	}
	return pairs
}

// hotOrNil keeps a nil *Writer from becoming a non-nil interface value.
func hotOrNil(w *redis.Writer) collector.HotCache {
	if w == nil {
		return nil
	}
	return w
}

func (s *Service) registerJobs() {
	cfg := s.cfg
	loc := cfg.Location()

	s.sch.AddPeriodic("collect", time.Duration(cfg.CollectIntervalS)*time.Second,
		func(ctx context.Context) error {
			err := s.coll.CollectOnce(ctx)
			s.health.SetExchangeOK(err == nil)
			if err == nil {
				s.health.SetLastFetchTime(time.Now().UTC())
			}
			return err
		})

	// Standalone enrichment sweeps catch pairs whose collect-time enrichment
	// failed, and pairs whose signal window shifted without a new bar.
	s.sch.AddPeriodic("indicators", time.Duration(cfg.CollectIntervalS)*time.Second,
		s.coll.ComputeIndicatorsAll)
	s.sch.AddPeriodic("signals", time.Duration(cfg.CollectIntervalS)*time.Second,
		s.coll.DetectSignalsAll)

	s.sch.AddPeriodic("market-monitor", time.Duration(cfg.MonitorIntervalS)*time.Second,
		s.monitorOnce)

	hour, minute := cfg.CleanupClock()
	s.sch.AddDaily("cleanup", hour, minute, loc, s.cleanupOnce)
}

// monitorOnce logs a per-symbol snapshot: stored bar counts, staleness of the
// newest bar, and the 24h ticker.
func (s *Service) monitorOnce(ctx context.Context) error {
	now := time.Now().UTC()
	for _, symbol := range s.cfg.Symbols() {
		for _, tf := range s.cfg.Timeframes {
			count, err := s.store.CandleCount(ctx, symbol, tf)
			if err != nil {
				return fmt.Errorf("monitor %s/%s: %w", symbol, tf, err)
			}
			latest, err := s.store.LatestCandle(ctx, symbol, tf)
			if err != nil {
				return fmt.Errorf("monitor %s/%s: %w", symbol, tf, err)
			}
			age := "never"
			if latest != nil {
				d := now.Sub(latest.OpenTime)
				age = d.Truncate(time.Second).String()
				s.prom.MonitorBarAgeSec.WithLabelValues(symbol, tf).Set(d.Seconds())
			}
			s.prom.MonitorBars.WithLabelValues(symbol, tf).Set(float64(count))
			log.Printf("[sigengine] monitor %s/%s: %d bars, newest %s ago", symbol, tf, count, age)
		}

		ticker, err := s.xc.FetchTicker24h(ctx, symbol)
		if err != nil {
			log.Printf("[sigengine] monitor %s: ticker fetch failed: %v", symbol, err)
			continue
		}
		s.prom.MonitorLastPrice.WithLabelValues(symbol).Set(ticker.LastPrice)
		s.prom.MonitorChange24Pct.WithLabelValues(symbol).Set(ticker.PercentChange)
		log.Printf("[sigengine] monitor %s: last %.2f (%+.2f%% 24h, vol %.0f)",
			symbol, ticker.LastPrice, ticker.PercentChange, ticker.Volume)
	}
	return nil
}

// cleanupOnce prunes fine-grained bars past the retention window. Hourly and
// daily bars are kept indefinitely; they are what long queries lean on.
func (s *Service) cleanupOnce(ctx context.Context) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.cfg.RetentionDays)
	deleted, err := s.store.DeleteCandlesBefore(ctx, []string{"5m", "15m"}, cutoff)
	if err != nil {
		return err
	}
	s.prom.CleanupRows.Add(float64(deleted))
	log.Printf("[sigengine] cleanup: deleted %d bars older than %s", deleted, cutoff.Format("2006-01-02"))
	return nil
}

// Backfill seeds history for every configured pair. Run once before the
// periodic loop so indicators have a warm window from the first tick.
func (s *Service) Backfill(ctx context.Context) error {
	return s.coll.Backfill(ctx)
}

// Run starts the metrics server, the liveness prober, and the scheduler, and
// blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.promSrv.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		s.promSrv.Stop(stopCtx)
		cancel()
	}()

	s.health.StartLivenessChecker(ctx, s.hotClient(), s.store.DB(), 30*time.Second)
	s.health.SetSchedulerOK(true)

	log.Printf("[sigengine] running: %d pairs, timeframes %v, collect every %ds",
		len(s.cfg.SymbolPairs), s.cfg.Timeframes, s.cfg.CollectIntervalS)
	s.sch.Run(ctx)
	s.health.SetSchedulerOK(false)
	return nil
}

func (s *Service) hotClient() *goredis.Client {
	if s.hot == nil {
		return nil
	}
	return s.hot.Client()
}

// Scheduler exposes the job table for operational tooling.
func (s *Service) Scheduler() *sched.Scheduler { return s.sch }

// Close releases storage handles.
func (s *Service) Close() {
	if s.hot != nil {
		s.hot.Close()
	}
	s.store.Close()
}
