// sigengine runs the collection daemon: periodic candle ingestion, indicator
// and signal enrichment, market monitoring, and retention cleanup.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"signal-systemv1/config"
	"signal-systemv1/internal/logger"
	"signal-systemv1/internal/sigengine"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	logger.Init("sigengine", slog.LevelInfo)
	log.Println("[sigengine] starting...")

	cfg := config.Load()
	svc, err := sigengine.New(cfg)
	if err != nil {
		log.Fatalf("[sigengine] init failed: %v", err)
	}
	defer svc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("[sigengine] shutting down...")
		cancel()
	}()

	backfillCtx, backfillCancel := context.WithTimeout(ctx, 10*time.Minute)
	if err := svc.Backfill(backfillCtx); err != nil {
		log.Printf("[sigengine] backfill incomplete: %v", err)
	}
	backfillCancel()

	if err := svc.Run(ctx); err != nil {
		log.Fatalf("[sigengine] run failed: %v", err)
	}
	log.Println("[sigengine] stopped")
}
