package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"transcribe-multilingual/internal/bootstrap"
	"transcribe-multilingual/internal/config"
)

func main() {
	cleanupOnly := flag.Bool("cleanup", false, "run one retention sweep and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("bootstrap app: %v", err)
	}
	defer app.Close()

	if *cleanupOnly {
		removed := app.CleanupOnce(ctx)
		log.Printf("retention cleanup removed %d files", removed)
		return
	}

	if cfg.Queue != config.QueuePostgres {
		log.Fatalf("standalone worker needs TM_QUEUE=postgres, got %q", cfg.Queue)
	}

	app.StartWorkers(ctx)
	go app.RunCleanup(ctx)
	log.Printf("worker running (workers=%d)", cfg.Workers)

	<-ctx.Done()
	log.Println("shutdown signal received, waiting for in-flight jobs")
}
