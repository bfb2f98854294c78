// api_gateway serves the query and alerting HTTP API plus the websocket feed
// of live signal and trigger events.
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"signal-systemv1/config"
	"signal-systemv1/internal/alert"
	"signal-systemv1/internal/gateway"
	"signal-systemv1/internal/logger"
	"signal-systemv1/internal/metrics"
	"signal-systemv1/internal/notification"
	"signal-systemv1/internal/query"
	"signal-systemv1/internal/store/redis"
	"signal-systemv1/internal/store/sqlite"

	goredis "github.com/go-redis/redis/v8"
)

// redisProbeClient unwraps the reader for the liveness prober; nil disables
// the Redis probe.
func redisProbeClient(r *redis.Reader) *goredis.Client {
	if r == nil {
		return nil
	}
	return r.Client()
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	logger.Init("api_gateway", slog.LevelInfo)
	log.Println("[api_gateway] starting...")

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := sqlite.Open(sqlite.Config{Path: cfg.SQLitePath})
	if err != nil {
		log.Fatalf("[api_gateway] sqlite open failed: %v", err)
	}
	defer store.Close()

	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	health.SetTimeframes(cfg.Timeframes)

	// Redis is optional: without it the gateway loses the live event feed
	// and trigger stream but every HTTP endpoint still works off SQLite.
	var (
		hotReader *redis.Reader
		hotWriter *redis.Writer
	)
	if cfg.RedisAddr != "" {
		hotReader, err = redis.NewReader(redis.ReaderConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err != nil {
			log.Printf("[api_gateway] redis unavailable, live feed disabled: %v", err)
			hotReader = nil
		} else {
			defer hotReader.Close()
			hotWriter, err = redis.New(redis.WriterConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
			if err != nil {
				log.Printf("[api_gateway] redis writer unavailable: %v", err)
				hotWriter = nil
			} else {
				defer hotWriter.Close()
			}
		}
	}
	health.SetRedisConnected(hotReader != nil)

	engine := query.NewEngine(store, prom)
	engine.SetSymbols(cfg.Symbols())
	registry := alert.NewRegistry(store)
	dispatcher := alert.NewDispatcher(store, cfg.AlertAPIBaseURL, cfg.WebhookOTPSecret, prom)
	if hotWriter != nil {
		dispatcher.SetTriggerSink(hotWriter)
	}
	evaluator := alert.NewEvaluator(store, engine, dispatcher,
		time.Duration(cfg.EvaluateIntervalS)*time.Second, prom)
	if err := evaluator.Start(ctx); err != nil {
		log.Fatalf("[api_gateway] evaluator start failed: %v", err)
	}
	defer evaluator.Stop()
	health.SetEvaluatorOK(true)

	hub := gateway.NewHub(prom)
	go hub.Run(ctx)
	if hotReader != nil {
		// Bridge Redis pubsub into the websocket hub: every published
		// signal event and trigger notification reaches connected clients.
		go func() {
			err := hotReader.SubscribeEvents(ctx, hub.Events(), "signals:*", "pub:alerts")
			if err != nil && ctx.Err() == nil {
				log.Printf("[api_gateway] event bridge stopped: %v", err)
			}
		}()
	}

	health.StartLivenessChecker(ctx, redisProbeClient(hotReader), store.DB(), 30*time.Second)

	srv := gateway.NewServer(cfg, store, engine, registry, evaluator,
		notification.NewLarkClient(), hotReader, hub, prom, health)
	httpSrv := &http.Server{Addr: cfg.GatewayAddr, Handler: srv.Routes()}

	promSrv := metrics.NewServer(cfg.MetricsAddr, health)
	promSrv.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("[api_gateway] serving at %s", cfg.GatewayAddr)
		if err := httpSrv.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("[api_gateway] server error: %v", err)
		}
	}()

	<-sigCh
	log.Println("[api_gateway] shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	httpSrv.Shutdown(shutdownCtx)
	promSrv.Stop(shutdownCtx)
}
