package config

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"transcribe-multilingual/internal/domain"
)

// Setting keys accepted as runtime overrides.
const (
	KeySyncSizeThresholdMB      = "sync_size_threshold_mb"
	KeyRetentionDays            = "retention_days"
	KeyTranslationFallbackOrder = "translation_fallback_order"
	KeyLocalFolderAllowlist     = "local_folder_allowlist"
)

// Resolver resolves each setting from a dynamic override source, falling back
// to static defaults. Nothing is cached; every call reads the source again.
type Resolver struct {
	Overrides SettingsStore
	Defaults  Config
	Logger    *slog.Logger
}

func (r *Resolver) raw(ctx context.Context, key string) (string, bool) {
	if r.Overrides == nil {
		return "", false
	}
	v, ok, err := r.Overrides.GetSetting(ctx, key)
	if err != nil {
		r.logger().Warn("settings override unavailable", "key", key, "error", err)
		return "", false
	}
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (r *Resolver) intSetting(ctx context.Context, key string, fallback, minimum int) int {
	raw, ok := r.raw(ctx, key)
	if !ok {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < minimum {
		r.logger().Warn("ignoring invalid settings override", "key", key, "value", raw)
		return fallback
	}
	return v
}

func (r *Resolver) listSetting(ctx context.Context, key string, fallback []string) []string {
	raw, ok := r.raw(ctx, key)
	if !ok {
		return append([]string(nil), fallback...)
	}
	return SplitList(raw)
}

// SyncSizeThresholdMB is the largest single upload processed inline. Zero always defers.
func (r *Resolver) SyncSizeThresholdMB(ctx context.Context) int {
	return r.intSetting(ctx, KeySyncSizeThresholdMB, r.Defaults.SyncSizeThresholdMB, 0)
}

// RetentionDays is how long jobs and artifacts are kept.
func (r *Resolver) RetentionDays(ctx context.Context) int {
	return r.intSetting(ctx, KeyRetentionDays, r.Defaults.RetentionDays, 1)
}

// TranslationFallbackOrder lists translation backends in priority order.
func (r *Resolver) TranslationFallbackOrder(ctx context.Context) []string {
	return r.listSetting(ctx, KeyTranslationFallbackOrder, r.Defaults.TranslationFallbackOrder)
}

// LocalFolderAllowlist lists roots folder ingestion may read from.
func (r *Resolver) LocalFolderAllowlist(ctx context.Context) []string {
	return r.listSetting(ctx, KeyLocalFolderAllowlist, r.Defaults.LocalFolderAllowlist)
}

// Effective returns every resolved setting.
func (r *Resolver) Effective(ctx context.Context) domain.AppSettings {
	return domain.AppSettings{
		SyncSizeThresholdMB:      r.SyncSizeThresholdMB(ctx),
		RetentionDays:            r.RetentionDays(ctx),
		TranslationFallbackOrder: r.TranslationFallbackOrder(ctx),
		LocalFolderAllowlist:     r.LocalFolderAllowlist(ctx),
	}
}

// Save validates and stores s as overrides.
func (r *Resolver) Save(ctx context.Context, s domain.AppSettings) error {
	if r.Overrides == nil {
		return domain.Invalidf("settings overrides are not configured")
	}
	if s.SyncSizeThresholdMB < 0 {
		return domain.Invalidf("sync_size_threshold_mb must be >= 0")
	}
	if s.RetentionDays < 1 {
		return domain.Invalidf("retention_days must be >= 1")
	}
	if len(s.TranslationFallbackOrder) == 0 {
		return domain.Invalidf("translation_fallback_order must not be empty")
	}

	values := map[string]string{
		KeySyncSizeThresholdMB:      strconv.Itoa(s.SyncSizeThresholdMB),
		KeyRetentionDays:            strconv.Itoa(s.RetentionDays),
		KeyTranslationFallbackOrder: strings.Join(s.TranslationFallbackOrder, ","),
		KeyLocalFolderAllowlist:     strings.Join(s.LocalFolderAllowlist, ","),
	}
	for key, value := range values {
		if err := r.Overrides.SetSetting(ctx, key, value); err != nil {
			return err
		}
	}
	return nil
}

func (r *Resolver) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}
