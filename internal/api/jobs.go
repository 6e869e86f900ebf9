package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/samber/lo"

	"transcribe-multilingual/internal/domain"
	"transcribe-multilingual/internal/jobs"
)

const multipartMemory = 32 << 20

func (h *Handler) listJobs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			h.writeError(w, domain.Invalidf("limit must be a positive integer"))
			return
		}
		limit = v
	}
	snaps, err := h.Jobs.ListJobs(r.Context(), limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": snaps})
}

func (h *Handler) createUploadJob(w http.ResponseWriter, r *http.Request) {
	if h.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.MaxUploadBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, err)
			return
		}
		h.writeError(w, domain.Invalidf("invalid multipart form: %v", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	req, err := requestFromForm(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		h.writeError(w, domain.Invalidf("at least one file is required"))
		return
	}

	batchID := uuid.NewString()
	var inputs []domain.InputMedia
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			h.removeUploads(inputs)
			h.writeError(w, fmt.Errorf("open upload %s: %w", fh.Filename, err))
			return
		}
		name := filepath.Base(fh.Filename)
		path, size, err := h.Uploads.SaveUpload(batchID, name, f)
		f.Close()
		if err != nil {
			h.removeUploads(inputs)
			h.writeError(w, fmt.Errorf("save upload %s: %w", name, err))
			return
		}
		inputs = append(inputs, domain.InputMedia{
			Name:      name,
			Source:    domain.InputSourceUpload,
			SizeBytes: size,
			Path:      path,
		})
	}

	snap, err := h.Jobs.CreateJob(r.Context(), req, inputs)
	if err != nil {
		// A persisted job keeps its inputs; retention or DeleteJob removes them.
		if domain.IsValidation(err) || errors.Is(err, jobs.ErrJobNotCreated) {
			h.removeUploads(inputs)
		}
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (h *Handler) removeUploads(inputs []domain.InputMedia) {
	paths := lo.Map(inputs, func(in domain.InputMedia, _ int) string { return in.Path })
	if len(paths) == 0 {
		return
	}
	if _, err := h.Uploads.Remove(paths); err != nil {
		h.Logger.Warn("failed to remove rejected uploads", "error", err)
	}
}

// requestFromForm reads job options from multipart form values.
func requestFromForm(r *http.Request) (domain.JobRequest, error) {
	req := domain.JobRequest{
		Provider:       strings.TrimSpace(r.FormValue("provider")),
		Model:          strings.TrimSpace(r.FormValue("model")),
		SourceLanguage: formString(r, "source_language", "auto"),
		TargetLanguage: strings.TrimSpace(r.FormValue("target_language")),
		Formats:        jobs.ParseFormats(formString(r, "formats", "json,txt")),
		TimestampLevel: strings.TrimSpace(r.FormValue("timestamp_level")),
		BatchLabel:     strings.TrimSpace(r.FormValue("batch_label")),
	}

	var err error
	if req.DiarizationEnabled, err = formBool(r, "diarization_enabled", false); err != nil {
		return req, err
	}
	if req.TranslationEnabled, err = formBool(r, "translation_enabled", true); err != nil {
		return req, err
	}
	if req.SyncPreferred, err = formBool(r, "sync_preferred", true); err != nil {
		return req, err
	}
	if req.VerboseOutput, err = formBool(r, "verbose_output", false); err != nil {
		return req, err
	}
	if raw := strings.TrimSpace(r.FormValue("speaker_count")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return req, domain.Invalidf("speaker_count must be an integer")
		}
		req.SpeakerCount = &n
	}
	return req, nil
}

func formString(r *http.Request, key, fallback string) string {
	if v := strings.TrimSpace(r.FormValue(key)); v != "" {
		return v
	}
	return fallback
}

func formBool(r *http.Request, key string, fallback bool) (bool, error) {
	raw := strings.TrimSpace(r.FormValue(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, domain.Invalidf("%s must be a boolean", key)
	}
	return v, nil
}

type folderJobRequest struct {
	FolderPath         string   `json:"folder_path"`
	Recursive          *bool    `json:"recursive"`
	IncludeExtensions  []string `json:"include_extensions"`
	Provider           string   `json:"provider"`
	Model              string   `json:"model"`
	SourceLanguage     string   `json:"source_language"`
	TargetLanguage     string   `json:"target_language"`
	Formats            []string `json:"formats"`
	DiarizationEnabled bool     `json:"diarization_enabled"`
	SpeakerCount       *int     `json:"speaker_count"`
	TranslationEnabled *bool    `json:"translation_enabled"`
	SyncPreferred      *bool    `json:"sync_preferred"`
	TimestampLevel     string   `json:"timestamp_level"`
	VerboseOutput      bool     `json:"verbose_output"`
	BatchLabel         string   `json:"batch_label"`
}

func (h *Handler) createFolderJob(w http.ResponseWriter, r *http.Request) {
	var body folderJobRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, domain.Invalidf("invalid request body: %v", err))
		return
	}

	inputs, err := h.Jobs.ScanFolder(r.Context(), jobs.FolderScan{
		Path:       body.FolderPath,
		Recursive:  lo.FromPtrOr(body.Recursive, true),
		Extensions: body.IncludeExtensions,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	req := domain.JobRequest{
		Provider:           body.Provider,
		Model:              body.Model,
		SourceLanguage:     lo.Ternary(body.SourceLanguage == "", "auto", body.SourceLanguage),
		TargetLanguage:     body.TargetLanguage,
		Formats:            lo.Map(body.Formats, func(f string, _ int) domain.Format { return domain.Format(f) }),
		DiarizationEnabled: body.DiarizationEnabled,
		SpeakerCount:       body.SpeakerCount,
		TranslationEnabled: lo.FromPtrOr(body.TranslationEnabled, true),
		SyncPreferred:      lo.FromPtrOr(body.SyncPreferred, true),
		TimestampLevel:     body.TimestampLevel,
		VerboseOutput:      body.VerboseOutput,
		BatchLabel:         body.BatchLabel,
		LocalFolder:        body.FolderPath,
	}
	snap, err := h.Jobs.CreateJob(r.Context(), req, inputs)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (h *Handler) getJob(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Jobs.GetJob(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) deleteJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	removed, err := h.Jobs.DeleteJob(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "removed_files": removed})
}

func (h *Handler) cancelJob(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Jobs.CancelJob(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) listArtifacts(w http.ResponseWriter, r *http.Request) {
	artifacts, err := h.Jobs.ListArtifacts(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"artifacts": artifacts})
}

func (h *Handler) downloadArtifact(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	artifact, err := h.Jobs.Artifact(r.Context(), vars["id"], vars["artifactID"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.serveArtifact(w, r, artifact)
}

func (h *Handler) downloadBundle(w http.ResponseWriter, r *http.Request) {
	bundle, err := h.Jobs.Bundle(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.serveArtifact(w, r, bundle)
}

func (h *Handler) serveArtifact(w http.ResponseWriter, r *http.Request, artifact domain.Artifact) {
	f, err := os.Open(artifact.StoragePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			h.writeError(w, domain.NotFound("artifact file", artifact.ID))
			return
		}
		h.writeError(w, fmt.Errorf("open artifact: %w", err))
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		h.writeError(w, fmt.Errorf("stat artifact: %w", err))
		return
	}
	w.Header().Set("Content-Type", artifact.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", artifact.Name))
	http.ServeContent(w, r, artifact.Name, info.ModTime(), f)
}
