package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config is the static process configuration read from the environment.
type Config struct {
	AppMode                  string
	HTTPAddr                 string
	DatabaseURL              string
	StorageDir               string
	TempDir                  string
	KeyFile                  string
	EncryptionKey            string
	Queue                    string
	Workers                  int
	QueueSize                int
	SyncSizeThresholdMB      int
	RetentionDays            int
	CleanupIntervalMinutes   int
	TranslationFallbackOrder []string
	LocalFolderAllowlist     []string
	FolderExtensions         []string
	CORSOrigins              []string
	OpenAITranslationModel   string
	WhisperBin               string
	FFmpegBin                string
	WhisperModelDir          string
	SettingsFile             string
	MaxUploadMB              int
}

// Queue transports.
const (
	QueueChannel  = "channel"
	QueuePostgres = "postgres"
	QueueNone     = "none"
)

// Defaults returns baseline configuration for a local single-host install.
func Defaults() Config {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	dataDir := filepath.Join(homeDir, ".transcribe-multilingual")

	return Config{
		AppMode:                  "local",
		HTTPAddr:                 ":8080",
		StorageDir:               filepath.Join(dataDir, "storage"),
		KeyFile:                  filepath.Join(dataDir, "secret.key"),
		Queue:                    QueueChannel,
		Workers:                  2,
		QueueSize:                64,
		SyncSizeThresholdMB:      20,
		RetentionDays:            7,
		CleanupIntervalMinutes:   60,
		TranslationFallbackOrder: []string{"native", "openai", "deepgram"},
		FolderExtensions:         []string{".wav", ".mp3", ".m4a", ".flac", ".mp4", ".mkv", ".webm"},
		CORSOrigins:              []string{"http://localhost:5173"},
		OpenAITranslationModel:   "gpt-4o-mini",
		WhisperBin:               "whisper-cli",
		FFmpegBin:                "ffmpeg",
		WhisperModelDir:          filepath.Join(dataDir, "models"),
		SettingsFile:             filepath.Join(dataDir, "settings.json"),
		MaxUploadMB:              500,
	}
}

// Load reads TM_* variables over Defaults. A .env file is honored outside production.
func Load() (Config, error) {
	if os.Getenv("APP_ENV") != "production" {
		_ = godotenv.Load()
	}

	cfg := Defaults()
	cfg.AppMode = envString("TM_APP_MODE", cfg.AppMode)
	cfg.HTTPAddr = envString("TM_HTTP_ADDR", cfg.HTTPAddr)
	cfg.DatabaseURL = envString("TM_DATABASE_URL", cfg.DatabaseURL)
	cfg.StorageDir = envString("TM_STORAGE_DIR", cfg.StorageDir)
	cfg.TempDir = envString("TM_TEMP_DIR", cfg.TempDir)
	cfg.KeyFile = envString("TM_KEY_FILE", cfg.KeyFile)
	cfg.EncryptionKey = envString("TM_ENCRYPTION_KEY", cfg.EncryptionKey)
	cfg.Queue = envString("TM_QUEUE", cfg.Queue)
	cfg.OpenAITranslationModel = envString("TM_OPENAI_TRANSLATION_MODEL", cfg.OpenAITranslationModel)
	cfg.WhisperBin = envString("TM_WHISPER_BIN", cfg.WhisperBin)
	cfg.FFmpegBin = envString("TM_FFMPEG_BIN", cfg.FFmpegBin)
	cfg.WhisperModelDir = envString("TM_WHISPER_MODEL_DIR", cfg.WhisperModelDir)
	cfg.SettingsFile = envString("TM_SETTINGS_FILE", cfg.SettingsFile)
	cfg.TranslationFallbackOrder = envList("TM_TRANSLATION_FALLBACK_ORDER", cfg.TranslationFallbackOrder)
	cfg.LocalFolderAllowlist = envList("TM_LOCAL_FOLDER_ALLOWLIST", cfg.LocalFolderAllowlist)
	cfg.FolderExtensions = envList("TM_FOLDER_EXTENSIONS", cfg.FolderExtensions)
	cfg.CORSOrigins = envList("TM_CORS_ORIGINS", cfg.CORSOrigins)

	ints := []struct {
		key string
		dst *int
	}{
		{"TM_WORKERS", &cfg.Workers},
		{"TM_QUEUE_SIZE", &cfg.QueueSize},
		{"TM_SYNC_SIZE_THRESHOLD_MB", &cfg.SyncSizeThresholdMB},
		{"TM_RETENTION_DAYS", &cfg.RetentionDays},
		{"TM_CLEANUP_INTERVAL_MINUTES", &cfg.CleanupIntervalMinutes},
		{"TM_MAX_UPLOAD_MB", &cfg.MaxUploadMB},
	}
	for _, item := range ints {
		v, err := envInt(item.key, *item.dst)
		if err != nil {
			return Config{}, err
		}
		*item.dst = v
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot start with.
func (c Config) Validate() error {
	switch c.AppMode {
	case "local", "cloudflare":
	default:
		return fmt.Errorf("TM_APP_MODE must be local or cloudflare, got %q", c.AppMode)
	}
	switch c.Queue {
	case QueueChannel, QueuePostgres, QueueNone:
	default:
		return fmt.Errorf("TM_QUEUE must be channel, postgres or none, got %q", c.Queue)
	}
	if c.Queue == QueuePostgres && c.DatabaseURL == "" {
		return fmt.Errorf("TM_QUEUE=postgres requires TM_DATABASE_URL")
	}
	if c.Workers < 1 {
		return fmt.Errorf("TM_WORKERS must be at least 1")
	}
	if c.StorageDir == "" {
		return fmt.Errorf("TM_STORAGE_DIR is required")
	}
	return nil
}

func envString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func envList(key string, fallback []string) []string {
	raw, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback
	}
	return SplitList(raw)
}

// SplitList splits a comma separated list, dropping blank entries.
func SplitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
