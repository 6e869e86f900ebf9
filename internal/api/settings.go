package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/samber/lo"

	"transcribe-multilingual/internal/domain"
	"transcribe-multilingual/internal/transcribe"
)

// appSettingsPatch is a partial settings update; nil fields keep their value.
type appSettingsPatch struct {
	SyncSizeThresholdMB      *int      `json:"sync_size_threshold_mb"`
	RetentionDays            *int      `json:"retention_days"`
	TranslationFallbackOrder *[]string `json:"translation_fallback_order"`
	LocalFolderAllowlist     *[]string `json:"local_folder_allowlist"`
}

func (p appSettingsPatch) apply(s domain.AppSettings) domain.AppSettings {
	if p.SyncSizeThresholdMB != nil {
		s.SyncSizeThresholdMB = *p.SyncSizeThresholdMB
	}
	if p.RetentionDays != nil {
		s.RetentionDays = *p.RetentionDays
	}
	if p.TranslationFallbackOrder != nil {
		s.TranslationFallbackOrder = *p.TranslationFallbackOrder
	}
	if p.LocalFolderAllowlist != nil {
		s.LocalFolderAllowlist = *p.LocalFolderAllowlist
	}
	return s
}

func (h *Handler) getAppSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Settings.Effective(r.Context()))
}

func (h *Handler) putAppSettings(w http.ResponseWriter, r *http.Request) {
	var patch appSettingsPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		h.writeError(w, domain.Invalidf("invalid request body: %v", err))
		return
	}
	next := patch.apply(h.Settings.Effective(r.Context()))
	if err := h.Settings.Save(r.Context(), next); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Settings.Effective(r.Context()))
}

type keyStatus struct {
	Provider   string     `json:"provider"`
	Configured bool       `json:"configured"`
	UpdatedAt  *time.Time `json:"updated_at,omitempty"`
}

func (h *Handler) listKeys(w http.ResponseWriter, r *http.Request) {
	stored, err := h.Keys.List(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	byProvider := lo.SliceToMap(stored, func(k domain.APIKeyInfo) (string, domain.APIKeyInfo) {
		return k.Provider, k
	})

	mode := h.Jobs.Mode()
	enabled := lo.Filter(transcribe.KeyedProviders(), func(p string, _ int) bool {
		return transcribe.ProviderEnabled(p, mode)
	})
	out := lo.Map(enabled, func(p string, _ int) keyStatus {
		info, ok := byProvider[p]
		if !ok {
			return keyStatus{Provider: p}
		}
		updated := info.UpdatedAt
		return keyStatus{Provider: p, Configured: true, UpdatedAt: &updated}
	})
	writeJSON(w, http.StatusOK, map[string]any{"keys": out})
}

func (h *Handler) putKey(w http.ResponseWriter, r *http.Request) {
	provider, err := h.keyedProvider(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var body struct {
		APIKey string `json:"api_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, domain.Invalidf("invalid request body: %v", err))
		return
	}
	if err := h.Keys.Put(r.Context(), provider, body.APIKey); err != nil {
		h.writeError(w, err)
		return
	}
	h.Logger.Info("api key stored", "provider", provider)
	writeJSON(w, http.StatusOK, keyStatus{Provider: provider, Configured: true})
}

func (h *Handler) deleteKey(w http.ResponseWriter, r *http.Request) {
	provider, err := h.keyedProvider(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.Keys.Delete(r.Context(), provider); err != nil {
		h.writeError(w, err)
		return
	}
	h.Logger.Info("api key deleted", "provider", provider)
	writeJSON(w, http.StatusOK, keyStatus{Provider: provider})
}

func (h *Handler) keyedProvider(r *http.Request) (string, error) {
	provider := mux.Vars(r)["provider"]
	if !transcribe.RequiresKey(provider) {
		return "", domain.Invalidf("provider %q does not use an api key", provider)
	}
	if !transcribe.ProviderEnabled(provider, h.Jobs.Mode()) {
		return "", domain.Invalidf("%s is disabled in %s mode", provider, h.Jobs.Mode())
	}
	return provider, nil
}
