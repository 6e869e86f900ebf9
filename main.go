package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"transcribe-multilingual/internal/bootstrap"
	"transcribe-multilingual/internal/config"
)

func main() {
	runWorkers := flag.Bool("workers", true, "process queued jobs in this process")
	downloadModel := flag.String("download-model", "", "download a whisper-local model (tiny, small, medium) and exit")
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

	if *downloadModel != "" {
		path, err := app.Models.Download(ctx, *downloadModel)
		if err != nil {
			log.Fatalf("download model: %v", err)
		}
		log.Printf("model saved to %s", path)
		return
	}

	if *runWorkers {
		app.StartWorkers(ctx)
	}
	go app.RunCleanup(ctx)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      app.Handler(os.Stdout),
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("transcribe-multilingual listening on %s (mode=%s, queue=%s)", cfg.HTTPAddr, cfg.AppMode, cfg.Queue)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutdown signal received, draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("forced shutdown: %v", err)
	}
	log.Println("server stopped")
}
