package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the signal engine and gateway.
type Metrics struct {
	// Ingestion
	CandlesFetched  *prometheus.CounterVec // labels: tf
	CandlesInserted prometheus.Counter
	FetchErrors     *prometheus.CounterVec // labels: symbol
	ExchangeReqDur  prometheus.Histogram

	// Exchange circuit breaker
	ExchangeBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	ExchangeBreakerTrips prometheus.Counter

	// Indicator engine
	IndicatorComputeDur prometheus.Histogram
	IndicatorRowsTotal  prometheus.Counter

	// Signal engine
	SignalsDetected *prometheus.CounterVec // labels: signal
	SignalScanDur   prometheus.Histogram

	// Query engine
	QueriesTotal prometheus.Counter
	QueryDur     prometheus.Histogram

	// Alert evaluator and dispatcher
	AlertChecksTotal  prometheus.Counter
	AlertsTriggered   prometheus.Counter
	WebhookSendDur    prometheus.Histogram
	WebhookFailures   prometheus.Counter
	EvaluatorCycleDur prometheus.Histogram

	// Scheduler
	JobRunsTotal *prometheus.CounterVec // labels: job, outcome
	JobSkips     *prometheus.CounterVec // labels: job (overlap suppressed)
	JobMisfires  prometheus.Counter

	// Storage
	SQLiteCommitDur prometheus.Histogram
	RedisWriteDur   prometheus.Histogram
	CleanupRows     prometheus.Counter

	// Market monitor
	MonitorBars        *prometheus.GaugeVec // labels: symbol, tf
	MonitorBarAgeSec   *prometheus.GaugeVec // labels: symbol, tf
	MonitorLastPrice   *prometheus.GaugeVec // labels: symbol
	MonitorChange24Pct *prometheus.GaugeVec // labels: symbol

	// Gateway
	WSClients     prometheus.Gauge
	WSMessagesOut prometheus.Counter
	HTTPRequests  *prometheus.CounterVec // labels: route, code
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		CandlesFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sigengine_candles_fetched_total",
			Help: "Candles fetched from the exchange (by timeframe)",
		}, []string{"tf"}),
		CandlesInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sigengine_candles_inserted_total",
			Help: "New candle rows persisted to SQLite",
		}),
		FetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sigengine_fetch_errors_total",
			Help: "Exchange fetch failures (by symbol)",
		}, []string{"symbol"}),
		ExchangeReqDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sigengine_exchange_request_duration_seconds",
			Help:    "Exchange REST request latency",
			Buckets: prometheus.DefBuckets,
		}),

		ExchangeBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sigengine_exchange_breaker_state",
			Help: "Exchange circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		ExchangeBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sigengine_exchange_breaker_trips_total",
			Help: "Times the exchange circuit breaker tripped open",
		}),

		IndicatorComputeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sigengine_indicator_compute_duration_seconds",
			Help:    "Indicator computation latency per symbol/timeframe pass",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
		IndicatorRowsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sigengine_indicator_rows_total",
			Help: "Candle rows enriched with indicator values",
		}),

		SignalsDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sigengine_signals_detected_total",
			Help: "Signals detected (by signal tag)",
		}, []string{"signal"}),
		SignalScanDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sigengine_signal_scan_duration_seconds",
			Help:    "Signal detection latency per symbol/timeframe pass",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),

		QueriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_queries_total",
			Help: "Structured queries executed",
		}),
		QueryDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gateway_query_duration_seconds",
			Help:    "Structured query execution latency",
			Buckets: prometheus.DefBuckets,
		}),

		AlertChecksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_alert_checks_total",
			Help: "Alert rule checks executed by the evaluator",
		}),
		AlertsTriggered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_alerts_triggered_total",
			Help: "Alert rules that matched and produced a trigger",
		}),
		WebhookSendDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gateway_webhook_send_duration_seconds",
			Help:    "Trigger webhook POST latency",
			Buckets: prometheus.DefBuckets,
		}),
		WebhookFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_webhook_failures_total",
			Help: "Trigger webhook deliveries that failed",
		}),
		EvaluatorCycleDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gateway_evaluator_cycle_duration_seconds",
			Help:    "Full evaluator pass latency across all active rules",
			Buckets: prometheus.DefBuckets,
		}),

		JobRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sigengine_job_runs_total",
			Help: "Scheduler job executions (by job and outcome)",
		}, []string{"job", "outcome"}),
		JobSkips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sigengine_job_skips_total",
			Help: "Job runs skipped because the previous run was still active",
		}, []string{"job"}),
		JobMisfires: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sigengine_job_misfires_total",
			Help: "Job runs discarded because they fired past the misfire grace",
		}),

		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sigengine_sqlite_commit_duration_seconds",
			Help:    "SQLite batch commit latency",
			Buckets: prometheus.DefBuckets,
		}),
		RedisWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sigengine_redis_write_duration_seconds",
			Help:    "Redis write latency",
			Buckets: prometheus.DefBuckets,
		}),
		CleanupRows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sigengine_cleanup_rows_total",
			Help: "Rows deleted by the retention job",
		}),

		MonitorBars: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sigengine_monitor_bars",
			Help: "Stored candle rows per symbol and timeframe",
		}, []string{"symbol", "tf"}),
		MonitorBarAgeSec: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sigengine_monitor_bar_age_seconds",
			Help: "Age of the newest stored bar per symbol and timeframe",
		}, []string{"symbol", "tf"}),
		MonitorLastPrice: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sigengine_monitor_last_price",
			Help: "Last traded price from the 24h ticker",
		}, []string{"symbol"}),
		MonitorChange24Pct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sigengine_monitor_change_24h_percent",
			Help: "24h price change percentage from the ticker",
		}, []string{"symbol"}),

		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_ws_clients",
			Help: "Connected WebSocket clients",
		}),
		WSMessagesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_ws_messages_out_total",
			Help: "Messages pushed to WebSocket clients",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_http_requests_total",
			Help: "HTTP requests served (by route and status code)",
		}, []string{"route", "code"}),
	}

	prometheus.MustRegister(
		m.CandlesFetched,
		m.CandlesInserted,
		m.FetchErrors,
		m.ExchangeReqDur,
		m.ExchangeBreakerState,
		m.ExchangeBreakerTrips,
		m.IndicatorComputeDur,
		m.IndicatorRowsTotal,
		m.SignalsDetected,
		m.SignalScanDur,
		m.QueriesTotal,
		m.QueryDur,
		m.AlertChecksTotal,
		m.AlertsTriggered,
		m.WebhookSendDur,
		m.WebhookFailures,
		m.EvaluatorCycleDur,
		m.JobRunsTotal,
		m.JobSkips,
		m.JobMisfires,
		m.SQLiteCommitDur,
		m.RedisWriteDur,
		m.CleanupRows,
		m.MonitorBars,
		m.MonitorBarAgeSec,
		m.MonitorLastPrice,
		m.MonitorChange24Pct,
		m.WSClients,
		m.WSMessagesOut,
		m.HTTPRequests,
	)

	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	ExchangeOK     bool      `json:"exchange_ok"`
	LastFetchTime  time.Time `json:"last_fetch_time"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	SchedulerOK    bool      `json:"scheduler_ok"`
	EvaluatorOK    bool      `json:"evaluator_ok"`
	Timeframes     []string  `json:"timeframes"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetExchangeOK(v bool) {
	h.mu.Lock()
	h.ExchangeOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastFetchTime(t time.Time) {
	h.mu.Lock()
	h.LastFetchTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSchedulerOK(v bool) {
	h.mu.Lock()
	h.SchedulerOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetEvaluatorOK(v bool) {
	h.mu.Lock()
	h.EvaluatorOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetTimeframes(tfs []string) {
	h.mu.Lock()
	h.Timeframes = tfs
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite runs a trivial query and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	// Determine overall status
	overallStatus := "healthy"
	httpCode := http.StatusOK

	if !h.ExchangeOK || !h.RedisConnected || !h.SQLiteOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.RedisConnected && !h.SQLiteOK {
		overallStatus = "unhealthy"
	}

	// Fetch age
	fetchAge := ""
	if !h.LastFetchTime.IsZero() {
		fetchAge = time.Since(h.LastFetchTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string   `json:"status"`
		Uptime          string   `json:"uptime"`
		ExchangeOK      bool     `json:"exchange_ok"`
		LastFetchTime   string   `json:"last_fetch_time"`
		FetchAge        string   `json:"fetch_age"`
		RedisConnected  bool     `json:"redis_connected"`
		RedisLatencyMs  float64  `json:"redis_latency_ms"`
		SQLiteOK        bool     `json:"sqlite_ok"`
		SQLiteLatencyMs float64  `json:"sqlite_latency_ms"`
		SchedulerOK     bool     `json:"scheduler_ok"`
		EvaluatorOK     bool     `json:"evaluator_ok"`
		Timeframes      []string `json:"timeframes"`
		LastCheckAt     string   `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		ExchangeOK:      h.ExchangeOK,
		LastFetchTime:   h.LastFetchTime.Format(time.RFC3339),
		FetchAge:        fetchAge,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		SchedulerOK:     h.SchedulerOK,
		EvaluatorOK:     h.EvaluatorOK,
		Timeframes:      h.Timeframes,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
