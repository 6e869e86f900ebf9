// Package diagnostics reports whether the service's external tools and paths are usable.
package diagnostics

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/samber/lo"

	"transcribe-multilingual/internal/domain"
	"transcribe-multilingual/internal/transcribe"
)

// Options selects what a diagnostics run inspects.
type Options struct {
	AppMode     string
	FFmpegPath  string
	WhisperPath string
	ModelDir    string
	StorageDir  string
	Allowlist   []string
}

// Checker validates external tools and required filesystem paths.
type Checker struct {
	lookPath   func(string) (string, error)
	stat       func(string) (os.FileInfo, error)
	readDir    func(string) ([]os.DirEntry, error)
	mkdirAll   func(string, os.FileMode) error
	createTemp func(string, string) (*os.File, error)
	remove     func(string) error
	now        func() time.Time
}

// NewChecker builds a checker using real OS dependencies.
func NewChecker() *Checker {
	return &Checker{
		lookPath:   exec.LookPath,
		stat:       os.Stat,
		readDir:    os.ReadDir,
		mkdirAll:   os.MkdirAll,
		createTemp: os.CreateTemp,
		remove:     os.Remove,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Run executes all checks and returns a combined report.
func (c *Checker) Run(opts Options) domain.DiagnosticReport {
	var items []domain.DiagnosticItem
	if opts.AppMode == transcribe.ModeLocal {
		items = append(items,
			c.checkTool("ffmpeg", opts.FFmpegPath),
			c.checkTool("whisper", opts.WhisperPath),
			c.checkModelDir(opts.ModelDir),
		)
	} else {
		for _, id := range []string{"tool_ffmpeg", "tool_whisper", "model_dir"} {
			items = append(items, domain.DiagnosticItem{
				ID:      id,
				Name:    strings.TrimPrefix(id, "tool_"),
				Status:  domain.DiagnosticStatusSkip,
				Message: fmt.Sprintf("Local transcription is disabled in %s mode.", opts.AppMode),
			})
		}
	}
	items = append(items, c.checkStorageDir(opts.StorageDir))
	items = append(items, c.checkAllowlist(opts.Allowlist)...)

	return domain.DiagnosticReport{
		GeneratedAt: c.now(),
		AppMode:     opts.AppMode,
		HasFailures: lo.SomeBy(items, func(item domain.DiagnosticItem) bool {
			return item.Status == domain.DiagnosticStatusFail
		}),
		Items: items,
	}
}

// checkTool verifies a required CLI executable is on PATH.
func (c *Checker) checkTool(name, bin string) domain.DiagnosticItem {
	if strings.TrimSpace(bin) == "" {
		bin = name
	}
	path, err := c.lookPath(bin)
	if err != nil {
		return domain.DiagnosticItem{
			ID:      "tool_" + name,
			Name:    name,
			Status:  domain.DiagnosticStatusFail,
			Message: fmt.Sprintf("Tool not found: %s", bin),
			Hint:    "Install it and ensure the binary is available on PATH or configure its location.",
		}
	}

	return domain.DiagnosticItem{
		ID:      "tool_" + name,
		Name:    name,
		Status:  domain.DiagnosticStatusPass,
		Message: fmt.Sprintf("Found at %s", path),
	}
}

// checkModelDir validates the directory holding whisper.cpp models.
func (c *Checker) checkModelDir(modelDir string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "model_dir",
		Name: "Model directory",
	}

	if strings.TrimSpace(modelDir) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Model directory is empty."
		item.Hint = "Set TM_WHISPER_MODEL_DIR to a directory containing whisper models."
		return item
	}

	info, err := c.stat(modelDir)
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		if errors.Is(err, os.ErrNotExist) {
			item.Message = fmt.Sprintf("Model directory does not exist: %s", modelDir)
		} else {
			item.Message = fmt.Sprintf("Cannot access model directory: %s", modelDir)
		}
		item.Hint = "Download a whisper.cpp model into this directory."
		return item
	}
	if !info.IsDir() {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Model path is not a directory: %s", modelDir)
		return item
	}

	entries, err := c.readDir(modelDir)
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot read model directory: %s", modelDir)
		item.Hint = "Check permissions for the model directory."
		return item
	}

	models := lo.FilterMap(entries, func(entry os.DirEntry, _ int) (string, bool) {
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		return entry.Name(), !entry.IsDir() && (ext == ".bin" || ext == ".gguf")
	})
	if len(models) > 0 {
		item.Status = domain.DiagnosticStatusPass
		item.Message = fmt.Sprintf("%d model file(s) in %s", len(models), modelDir)
		return item
	}

	item.Status = domain.DiagnosticStatusFail
	item.Message = fmt.Sprintf("No model files found in directory: %s", modelDir)
	item.Hint = "Place a ggml .bin or .gguf model file in this directory."
	return item
}

// checkStorageDir validates storage directory existence and write access.
func (c *Checker) checkStorageDir(storageDir string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "storage_dir",
		Name: "Storage directory",
	}

	if strings.TrimSpace(storageDir) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Storage directory is empty."
		item.Hint = "Set TM_STORAGE_DIR to a writable location."
		return item
	}

	if err := c.mkdirAll(storageDir, 0o755); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot create storage directory: %s", storageDir)
		item.Hint = "Choose a writable location or adjust filesystem permissions."
		return item
	}

	tmpFile, err := c.createTemp(storageDir, ".write-check-*")
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Storage directory is not writable: %s", storageDir)
		item.Hint = "Choose a writable directory for uploads and artifacts."
		return item
	}

	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	_ = c.remove(tmpPath)

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Writable directory: %s", storageDir)
	return item
}

// checkAllowlist reports one item per allow-listed folder root.
func (c *Checker) checkAllowlist(roots []string) []domain.DiagnosticItem {
	roots = lo.Compact(lo.Map(roots, func(root string, _ int) string { return strings.TrimSpace(root) }))
	if len(roots) == 0 {
		return []domain.DiagnosticItem{{
			ID:      "allowlist",
			Name:    "Folder allow-list",
			Status:  domain.DiagnosticStatusSkip,
			Message: "No folder roots configured; folder ingestion is unavailable.",
		}}
	}

	items := make([]domain.DiagnosticItem, 0, len(roots))
	for i, root := range roots {
		item := domain.DiagnosticItem{
			ID:   fmt.Sprintf("allowlist_%d", i+1),
			Name: "Folder root " + root,
		}
		switch info, err := c.stat(root); {
		case err != nil:
			item.Status = domain.DiagnosticStatusFail
			item.Message = fmt.Sprintf("Folder root does not exist: %s", root)
			item.Hint = "Create the directory or remove it from the allow-list."
		case !info.IsDir():
			item.Status = domain.DiagnosticStatusFail
			item.Message = fmt.Sprintf("Folder root is not a directory: %s", root)
		case !filepath.IsAbs(root):
			item.Status = domain.DiagnosticStatusFail
			item.Message = fmt.Sprintf("Folder root must be an absolute path: %s", root)
		default:
			item.Status = domain.DiagnosticStatusPass
			item.Message = fmt.Sprintf("Folder root available: %s", root)
		}
		items = append(items, item)
	}
	return items
}

// NewCheckerForTests creates checker with injectable dependencies.
func NewCheckerForTests(
	lookPath func(string) (string, error),
	stat func(string) (os.FileInfo, error),
	readDir func(string) ([]os.DirEntry, error),
	mkdirAll func(string, os.FileMode) error,
	createTemp func(string, string) (*os.File, error),
	remove func(string) error,
) *Checker {
	c := NewChecker()
	c.lookPath = lookPath
	c.stat = stat
	c.readDir = readDir
	c.mkdirAll = mkdirAll
	c.createTemp = createTemp
	c.remove = remove
	return c
}
