package transcribe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/samber/lo"
)

const (
	modelBaseURL         = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main"
	modelDownloadTimeout = 30 * time.Minute
)

// WhisperModel is a downloadable ggml model for the whisper-local provider.
type WhisperModel struct {
	ID          string `json:"id"`
	FileName    string `json:"file_name"`
	SizeLabel   string `json:"size_label"`
	Description string `json:"description"`
	Downloaded  bool   `json:"downloaded"`
	LocalPath   string `json:"local_path,omitempty"`
}

var whisperModelCatalog = []WhisperModel{
	{ID: "tiny", FileName: "ggml-tiny.bin", SizeLabel: "~75 MB", Description: "Fastest multilingual model."},
	{ID: "small", FileName: "ggml-small.bin", SizeLabel: "~466 MB", Description: "Higher quality multilingual model."},
	{ID: "medium", FileName: "ggml-medium.bin", SizeLabel: "~1.5 GB", Description: "High quality multilingual model."},
}

// ModelDownloader fetches whisper.cpp models into the configured model directory.
type ModelDownloader struct {
	Dir     string
	BaseURL string
	Client  *http.Client
}

// Models lists the catalog, marking models already present in Dir.
func (d *ModelDownloader) Models() []WhisperModel {
	return lo.Map(whisperModelCatalog, func(m WhisperModel, _ int) WhisperModel {
		for _, name := range ModelFileNames(m.ID) {
			candidate := filepath.Join(d.Dir, name)
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				m.Downloaded = true
				m.LocalPath = candidate
				break
			}
		}
		return m
	})
}

// Download fetches model id into Dir and returns the local path.
func (d *ModelDownloader) Download(ctx context.Context, id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("model id is required")
	}
	model, found := lo.Find(whisperModelCatalog, func(m WhisperModel) bool { return m.ID == id })
	if !found {
		return "", fmt.Errorf("unknown model id: %s", id)
	}
	if strings.TrimSpace(d.Dir) == "" {
		return "", fmt.Errorf("whisper model directory is not configured")
	}

	baseURL := d.BaseURL
	if baseURL == "" {
		baseURL = modelBaseURL
	}
	target := filepath.Join(d.Dir, model.FileName)
	if err := d.fetch(ctx, target, strings.TrimRight(baseURL, "/")+"/"+model.FileName); err != nil {
		return "", fmt.Errorf("download model %s: %w", model.ID, err)
	}
	return target, nil
}

// fetch downloads sourceURL next to destination and renames it into place.
func (d *ModelDownloader) fetch(ctx context.Context, destination, sourceURL string) error {
	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return fmt.Errorf("prepare destination directory: %w", err)
	}

	tmpPath := destination + ".download"
	if err := os.Remove(tmpPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale temp file: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, modelDownloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "transcribe-multilingual")

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected HTTP status: %s", resp.Status)
	}

	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create temporary file: %w", err)
	}

	_, copyErr := io.Copy(file, resp.Body)
	closeErr := file.Close()
	if copyErr != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write destination file: %w", copyErr)
	}
	if closeErr != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close destination file: %w", closeErr)
	}

	if err := os.Rename(tmpPath, destination); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("move downloaded file into place: %w", err)
	}
	return nil
}
