// Package api exposes the job orchestrator over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"transcribe-multilingual/internal/domain"
	"transcribe-multilingual/internal/jobs"
	"transcribe-multilingual/internal/transcribe"
)

// Uploads stores raw uploaded media.
type Uploads interface {
	SaveUpload(batchID, filename string, r io.Reader) (string, int64, error)
	Remove(paths []string) (int, error)
}

// SettingsManager reads and writes the runtime-overridable settings.
type SettingsManager interface {
	Effective(ctx context.Context) domain.AppSettings
	Save(ctx context.Context, s domain.AppSettings) error
}

// KeyManager stores encrypted provider keys.
type KeyManager interface {
	Put(ctx context.Context, provider, key string) error
	Delete(ctx context.Context, provider string) error
	List(ctx context.Context) ([]domain.APIKeyInfo, error)
}

// Handler serves the HTTP API.
type Handler struct {
	Jobs        *jobs.Service
	Uploads     Uploads
	Settings    SettingsManager
	Keys        KeyManager
	Diagnostics func(ctx context.Context) domain.DiagnosticReport
	Models      *transcribe.ModelDownloader
	// MaxUploadBytes bounds a multipart job submission; zero means unlimited.
	MaxUploadBytes int64
	Logger         *slog.Logger
	// AllowedOrigins is shared by CORS and the WebSocket origin check.
	AllowedOrigins []string
}

// NewRouter registers every route and wraps them with CORS and, when
// accessLog is set, combined request logging.
func NewRouter(h *Handler, accessLog io.Writer) http.Handler {
	if h.Logger == nil {
		h.Logger = slog.Default()
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", h.health).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/capabilities", h.capabilities).Methods(http.MethodGet)
	api.HandleFunc("/diagnostics", h.diagnostics).Methods(http.MethodGet)
	api.HandleFunc("/models", h.models).Methods(http.MethodGet)

	api.HandleFunc("/settings/app", h.getAppSettings).Methods(http.MethodGet)
	api.HandleFunc("/settings/app", h.putAppSettings).Methods(http.MethodPut)
	api.HandleFunc("/settings/keys", h.listKeys).Methods(http.MethodGet)
	api.HandleFunc("/settings/keys/{provider}", h.putKey).Methods(http.MethodPut)
	api.HandleFunc("/settings/keys/{provider}", h.deleteKey).Methods(http.MethodDelete)

	api.HandleFunc("/jobs", h.listJobs).Methods(http.MethodGet)
	api.HandleFunc("/jobs", h.createUploadJob).Methods(http.MethodPost)
	api.HandleFunc("/jobs/from-folder", h.createFolderJob).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{id}", h.getJob).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}", h.deleteJob).Methods(http.MethodDelete)
	api.HandleFunc("/jobs/{id}/cancel", h.cancelJob).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{id}/artifacts", h.listArtifacts).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}/artifacts/{artifactID}", h.downloadArtifact).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}/bundle.zip", h.downloadBundle).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}/events", h.pollEvents).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}/events/ws", h.streamEvents).Methods(http.MethodGet)

	var handler http.Handler = r
	if accessLog != nil {
		handler = handlers.CombinedLoggingHandler(accessLog, handler)
	}

	origins := h.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	cors := handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)
	return cors(handler)
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) capabilities(w http.ResponseWriter, _ *http.Request) {
	mode := h.Jobs.Mode()
	writeJSON(w, http.StatusOK, map[string]any{
		"app_mode":  mode,
		"providers": transcribe.List(mode),
	})
}

func (h *Handler) diagnostics(w http.ResponseWriter, r *http.Request) {
	if h.Diagnostics == nil {
		writeJSON(w, http.StatusOK, domain.DiagnosticReport{AppMode: h.Jobs.Mode(), Items: []domain.DiagnosticItem{}})
		return
	}
	writeJSON(w, http.StatusOK, h.Diagnostics(r.Context()))
}

// models lists whisper-local model files; empty outside local mode.
func (h *Handler) models(w http.ResponseWriter, _ *http.Request) {
	models := []transcribe.WhisperModel{}
	if h.Models != nil && h.Jobs.Mode() == transcribe.ModeLocal {
		models = h.Models.Models()
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": models})
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps service errors to HTTP status codes.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	status := http.StatusInternalServerError
	switch {
	case domain.IsValidation(err):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, jobs.ErrFolderNotAllowed):
		status = http.StatusForbidden
	case errors.Is(err, jobs.ErrJobFinished):
		status = http.StatusConflict
	case errors.As(err, &tooLarge):
		status = http.StatusRequestEntityTooLarge
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.Logger.Error("request failed", "error", err)
		msg = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
