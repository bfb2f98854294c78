// Package gateway is the inbound HTTP surface: ad-hoc queries and analysis
// shortcuts, alert rule CRUD and testing, registry stats, monitoring control,
// and a websocket feed of live signal and trigger events.
package gateway

import (
	"net/http"
	"strconv"
	"time"

	"signal-systemv1/config"
	"signal-systemv1/internal/alert"
	"signal-systemv1/internal/metrics"
	"signal-systemv1/internal/notification"
	"signal-systemv1/internal/query"
	"signal-systemv1/internal/store/redis"
	"signal-systemv1/internal/store/sqlite"
)

var timeNow = time.Now

// Server composes the HTTP surface over the engines it fronts.
type Server struct {
	cfg       *config.Config
	store     *sqlite.Store
	engine    *query.Engine
	registry  *alert.Registry
	evaluator *alert.Evaluator
	lark      *notification.LarkClient
	hot       *redis.Reader // may be nil: hot-path reads degrade to SQLite
	hub       *Hub
	prom      *metrics.Metrics
	health    *metrics.HealthStatus
}

// NewServer wires the gateway. hot, prom and health may be nil.
func NewServer(cfg *config.Config, store *sqlite.Store, engine *query.Engine,
	registry *alert.Registry, evaluator *alert.Evaluator, lark *notification.LarkClient,
	hot *redis.Reader, hub *Hub, prom *metrics.Metrics, health *metrics.HealthStatus) *Server {
	return &Server{
		cfg:       cfg,
		store:     store,
		engine:    engine,
		registry:  registry,
		evaluator: evaluator,
		lark:      lark,
		hot:       hot,
		hub:       hub,
		prom:      prom,
		health:    health,
	}
}

// Routes builds the full route table.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/alerts/health", s.route("alerts_health", s.handleHealth))
	mux.HandleFunc("POST /api/v1/alerts/query", s.route("query", s.handleQuery))
	mux.HandleFunc("POST /api/v1/alerts/query/signals", s.route("query_signals", s.handleQuerySignals))
	mux.HandleFunc("POST /api/v1/alerts/query/price-analysis", s.route("query_price", s.handlePriceAnalysis))
	mux.HandleFunc("POST /api/v1/alerts/query/indicator-extremes", s.route("query_extremes", s.handleIndicatorExtremes))

	mux.HandleFunc("POST /api/v1/alerts/rules", s.route("rules_create", s.handleCreateRule))
	mux.HandleFunc("GET /api/v1/alerts/rules", s.route("rules_list", s.handleListRules))
	mux.HandleFunc("GET /api/v1/alerts/rules/{id}", s.route("rules_get", s.handleGetRule))
	mux.HandleFunc("PUT /api/v1/alerts/rules/{id}", s.route("rules_update", s.handleUpdateRule))
	mux.HandleFunc("DELETE /api/v1/alerts/rules/{id}", s.route("rules_delete", s.handleDeleteRule))
	mux.HandleFunc("POST /api/v1/alerts/rules/{id}/test", s.route("rules_test", s.handleTestRule))

	mux.HandleFunc("POST /api/v1/alerts/webhook/test", s.route("webhook_test", s.handleWebhookTest))
	mux.HandleFunc("GET /api/v1/alerts/stats", s.route("stats", s.handleStats))
	mux.HandleFunc("POST /api/v1/alerts/monitoring/start", s.route("monitoring_start", s.handleMonitoringStart))
	mux.HandleFunc("POST /api/v1/alerts/monitoring/stop", s.route("monitoring_stop", s.handleMonitoringStop))
	mux.HandleFunc("GET /api/v1/alerts/monitoring/status", s.route("monitoring_status", s.handleMonitoringStatus))

	mux.HandleFunc("GET /api/v1/signals/{symbol}", s.route("signals_symbol", s.handleSymbolSignals))
	mux.HandleFunc("GET /api/v1/health", s.route("health", s.handleHealth))

	if s.hub != nil {
		mux.HandleFunc("GET /ws", s.hub.HandleWS)
	}

	return withCORS(mux)
}

// route wraps a handler with per-route metrics.
func (s *Server) route(name string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		h(rec, r)
		if s.prom != nil {
			s.prom.HTTPRequests.WithLabelValues(name, strconv.Itoa(rec.code)).Inc()
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
