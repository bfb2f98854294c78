// backfill is a one-shot seeding tool: it fetches the historical window for
// every configured pair, enriches it, and exits. Useful before first start or
// after extending the symbol list.
package main

import (
	"context"
	"log"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"signal-systemv1/config"
	"signal-systemv1/internal/logger"
	"signal-systemv1/internal/sigengine"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	logger.Init("backfill", slog.LevelInfo)

	cfg := config.Load()
	svc, err := sigengine.New(cfg)
	if err != nil {
		log.Fatalf("[backfill] init failed: %v", err)
	}
	defer svc.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx, timeoutCancel := context.WithTimeout(ctx, 30*time.Minute)
	defer timeoutCancel()

	start := time.Now()
	if err := svc.Backfill(ctx); err != nil {
		log.Fatalf("[backfill] failed: %v", err)
	}
	log.Printf("[backfill] done in %s: %d pairs x %v", time.Since(start).Truncate(time.Millisecond),
		len(cfg.SymbolPairs), cfg.Timeframes)
}
