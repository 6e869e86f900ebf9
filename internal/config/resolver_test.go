package config

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"transcribe-multilingual/internal/domain"
)

// brokenStore fails every read.
type brokenStore struct{}

// GetSetting implements SettingsStore.
func (brokenStore) GetSetting(context.Context, string) (string, bool, error) {
	return "", false, errors.New("db down")
}

// SetSetting implements SettingsStore.
func (brokenStore) SetSetting(context.Context, string, string) error {
	return errors.New("db down")
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// TestResolverPrefersValidOverrides checks override, invalid override and default paths.
func TestResolverPrefersValidOverrides(t *testing.T) {
	ctx := context.Background()
	store := NewJSONStore(filepath.Join(t.TempDir(), "settings.json"))
	r := &Resolver{Overrides: store, Defaults: Defaults(), Logger: quiet()}

	if got := r.SyncSizeThresholdMB(ctx); got != 20 {
		t.Fatalf("default threshold = %d, want 20", got)
	}

	_ = store.SetSetting(ctx, KeySyncSizeThresholdMB, "0")
	_ = store.SetSetting(ctx, KeyRetentionDays, "zero")
	_ = store.SetSetting(ctx, KeyTranslationFallbackOrder, "deepgram,native")

	if got := r.SyncSizeThresholdMB(ctx); got != 0 {
		t.Fatalf("threshold = %d, want 0 override", got)
	}
	if got := r.RetentionDays(ctx); got != 7 {
		t.Fatalf("retention = %d, want default for invalid override", got)
	}
	if got := r.TranslationFallbackOrder(ctx); len(got) != 2 || got[0] != "deepgram" {
		t.Fatalf("order = %v", got)
	}
}

// TestResolverFallsBackWhenStoreFails uses static defaults on read errors.
func TestResolverFallsBackWhenStoreFails(t *testing.T) {
	r := &Resolver{Overrides: brokenStore{}, Defaults: Defaults(), Logger: quiet()}
	got := r.Effective(context.Background())
	if got.RetentionDays != 7 || got.SyncSizeThresholdMB != 20 {
		t.Fatalf("effective = %+v", got)
	}
}

// TestResolverSaveValidates rejects out-of-range values.
func TestResolverSaveValidates(t *testing.T) {
	ctx := context.Background()
	r := &Resolver{Overrides: NewJSONStore(filepath.Join(t.TempDir(), "s.json")), Defaults: Defaults()}

	err := r.Save(ctx, domain.AppSettings{SyncSizeThresholdMB: 1, RetentionDays: 0, TranslationFallbackOrder: []string{"native"}})
	if !domain.IsValidation(err) {
		t.Fatalf("error = %v, want validation error", err)
	}

	want := domain.AppSettings{
		SyncSizeThresholdMB:      50,
		RetentionDays:            2,
		TranslationFallbackOrder: []string{"openai"},
		LocalFolderAllowlist:     []string{"/media"},
	}
	if err := r.Save(ctx, want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got := r.Effective(ctx)
	if got.SyncSizeThresholdMB != 50 || got.RetentionDays != 2 || got.LocalFolderAllowlist[0] != "/media" {
		t.Fatalf("effective = %+v", got)
	}
}
