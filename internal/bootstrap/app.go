// Package bootstrap wires configuration, storage, providers and the job
// queue into a runnable service.
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"transcribe-multilingual/internal/api"
	"transcribe-multilingual/internal/blob"
	"transcribe-multilingual/internal/config"
	"transcribe-multilingual/internal/diagnostics"
	"transcribe-multilingual/internal/domain"
	"transcribe-multilingual/internal/jobs"
	"transcribe-multilingual/internal/queue"
	"transcribe-multilingual/internal/secrets"
	"transcribe-multilingual/internal/store"
	"transcribe-multilingual/internal/transcribe"
)

const eventBufferSize = 1000

// App holds every long-lived component of one process.
type App struct {
	Config   config.Config
	Logger   *slog.Logger
	Jobs     *jobs.Service
	Blobs    *blob.Local
	Settings *config.Resolver
	Keys     *secrets.Keyring
	Models   *transcribe.ModelDownloader

	checker *diagnostics.Checker
	db      *store.Postgres
	local   *queue.Channel
	notify  *queue.PGNotify
}

// New builds the application. A database URL selects PostgreSQL for records,
// setting overrides and keys; otherwise records live in memory and overrides
// and keys in the settings file.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	blobs, err := blob.NewLocal(cfg.StorageDir)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	a := &App{
		Config:  cfg,
		Logger:  logger,
		Blobs:   blobs,
		Models:  &transcribe.ModelDownloader{Dir: cfg.WhisperModelDir},
		checker: diagnostics.NewChecker(),
	}

	var (
		records   store.Store
		overrides config.SettingsStore
		keyStore  secrets.KeyStore
	)
	if cfg.DatabaseURL != "" {
		pg, err := store.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, err
		}
		a.db = pg
		records, overrides, keyStore = pg, pg, pg
		logger.Info("using postgres store")
	} else {
		settingsFile := config.NewJSONStore(cfg.SettingsFile)
		records, overrides, keyStore = store.NewMemory(), settingsFile, settingsFile
		logger.Warn("no database configured, job records are kept in memory", "settings_file", cfg.SettingsFile)
	}

	key, err := loadKey(cfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("load encryption key: %w", err)
	}
	box, err := secrets.NewBox(key)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Keys = &secrets.Keyring{Box: box, Store: keyStore}
	a.Settings = &config.Resolver{Overrides: overrides, Defaults: cfg, Logger: logger}

	factory := &transcribe.Factory{
		Local: transcribe.LocalConfig{
			FFmpegPath:  cfg.FFmpegBin,
			WhisperPath: cfg.WhisperBin,
			ModelDir:    cfg.WhisperModelDir,
			TempDir:     cfg.TempDir,
		},
		Keys:             a.Keys,
		TranslationModel: cfg.OpenAITranslationModel,
	}

	a.Jobs = jobs.NewService(jobs.Deps{
		Store:            records,
		Blobs:            blobs,
		Adapters:         factory,
		Settings:         a.Settings,
		Events:           jobs.NewEventBus(eventBufferSize),
		Logger:           logger,
		Mode:             cfg.AppMode,
		FolderExtensions: cfg.FolderExtensions,
	})

	switch cfg.Queue {
	case config.QueueChannel:
		a.local = queue.NewChannel(a.Jobs, cfg.QueueSize, logger)
		a.Jobs.SetQueue(a.local)
	case config.QueuePostgres:
		if a.db == nil {
			a.Close()
			return nil, fmt.Errorf("postgres queue requires a database")
		}
		a.local = queue.NewChannel(a.Jobs, cfg.QueueSize, logger)
		a.notify = queue.NewPGNotify(a.db.DB, cfg.DatabaseURL, a.Jobs, logger).WithClaims(a.db, uuid.NewString())
		a.Jobs.SetQueue(a.notify)
	case config.QueueNone:
		logger.Warn("no queue transport configured, jobs run inline")
	}

	logger.Info("app initialized", "mode", cfg.AppMode, "queue", cfg.Queue)
	return a, nil
}

func loadKey(cfg config.Config) ([]byte, error) {
	if cfg.EncryptionKey != "" {
		return secrets.ParseKey(cfg.EncryptionKey)
	}
	return secrets.LoadOrCreateKeyFile(cfg.KeyFile)
}

// Handler returns the HTTP API. accessLog may be nil.
func (a *App) Handler(accessLog io.Writer) http.Handler {
	return api.NewRouter(&api.Handler{
		Jobs:           a.Jobs,
		Uploads:        a.Blobs,
		Settings:       a.Settings,
		Keys:           a.Keys,
		Diagnostics:    a.Diagnostics,
		Models:         a.Models,
		MaxUploadBytes: int64(a.Config.MaxUploadMB) << 20,
		Logger:         a.Logger,
		AllowedOrigins: a.Config.CORSOrigins,
	}, accessLog)
}

// Diagnostics checks tools and paths the current settings depend on.
func (a *App) Diagnostics(ctx context.Context) domain.DiagnosticReport {
	return a.checker.Run(diagnostics.Options{
		AppMode:     a.Config.AppMode,
		FFmpegPath:  a.Config.FFmpegBin,
		WhisperPath: a.Config.WhisperBin,
		ModelDir:    a.Config.WhisperModelDir,
		StorageDir:  a.Config.StorageDir,
		Allowlist:   a.Settings.LocalFolderAllowlist(ctx),
	})
}

// StartWorkers launches the worker pool and, for the postgres transport, the
// listener feeding it. Jobs still queued from an earlier run are re-enqueued.
func (a *App) StartWorkers(ctx context.Context) {
	if a.local == nil {
		return
	}
	a.local.StartWorkers(ctx, a.Config.Workers)
	a.Logger.Info("workers started", "count", a.Config.Workers)

	if a.notify != nil {
		go func() {
			if err := a.notify.Run(ctx, a.local); err != nil {
				a.Logger.Error("job listener stopped", "error", err)
			}
		}()
		return
	}

	ids, err := a.Jobs.PendingJobIDs(ctx)
	if err != nil {
		a.Logger.Error("list queued jobs", "error", err)
		return
	}
	for _, id := range ids {
		if err := a.local.Enqueue(ctx, id); err != nil {
			a.Logger.Warn("re-enqueue job", "job_id", id, "error", err)
		}
	}
}

// CleanupInterval is the retention sweep period, never below one minute.
func (a *App) CleanupInterval() time.Duration {
	return time.Duration(max(a.Config.CleanupIntervalMinutes, 1)) * time.Minute
}

// RunCleanup sweeps expired records every CleanupInterval until ctx is done.
func (a *App) RunCleanup(ctx context.Context) {
	ticker := time.NewTicker(a.CleanupInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.CleanupOnce(ctx)
		}
	}
}

// CleanupOnce runs one retention sweep and logs its outcome.
func (a *App) CleanupOnce(ctx context.Context) int {
	removed, err := a.Jobs.CleanupExpired(ctx)
	if err != nil {
		a.Logger.Error("retention cleanup failed", "error", err)
	}
	return removed
}

// Close stops the queue, waits for workers and closes the database.
func (a *App) Close() {
	if a.local != nil {
		a.local.Close()
		a.local.Wait()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.Logger.Warn("close database", "error", err)
		}
	}
}
