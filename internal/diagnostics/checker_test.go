package diagnostics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"transcribe-multilingual/internal/domain"
	"transcribe-multilingual/internal/transcribe"
)

func foundTool(name string) (string, error) { return "/usr/local/bin/" + name, nil }

// TestCheckerRunAllPass validates happy-path diagnostics report.
func TestCheckerRunAllPass(t *testing.T) {
	root := t.TempDir()
	modelDir := filepath.Join(root, "models")
	if err := os.MkdirAll(modelDir, 0o755); err != nil {
		t.Fatalf("mkdir models: %v", err)
	}
	if err := os.WriteFile(filepath.Join(modelDir, "ggml-small.bin"), []byte("stub"), 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}

	checker := NewCheckerForTests(foundTool, os.Stat, os.ReadDir, os.MkdirAll, os.CreateTemp, os.Remove)
	report := checker.Run(Options{
		AppMode:    transcribe.ModeLocal,
		ModelDir:   modelDir,
		StorageDir: filepath.Join(root, "storage"),
		Allowlist:  []string{root},
	})

	if report.HasFailures {
		t.Fatalf("expected no failures, got %+v", report.Items)
	}
	assertStatusByID(t, report, "allowlist_1", domain.DiagnosticStatusPass)
}

// TestCheckerRunMissingToolsAndPaths validates failure reporting.
func TestCheckerRunMissingToolsAndPaths(t *testing.T) {
	checker := NewCheckerForTests(
		func(string) (string, error) { return "", errors.New("not found") },
		os.Stat,
		os.ReadDir,
		os.MkdirAll,
		os.CreateTemp,
		os.Remove,
	)

	report := checker.Run(Options{
		AppMode:   transcribe.ModeLocal,
		ModelDir:  "/path/that/does/not/exist",
		Allowlist: []string{"/another/missing/root"},
	})

	if !report.HasFailures {
		t.Fatal("expected failures")
	}

	assertStatusByID(t, report, "tool_ffmpeg", domain.DiagnosticStatusFail)
	assertStatusByID(t, report, "tool_whisper", domain.DiagnosticStatusFail)
	assertStatusByID(t, report, "model_dir", domain.DiagnosticStatusFail)
	assertStatusByID(t, report, "storage_dir", domain.DiagnosticStatusFail)
	assertStatusByID(t, report, "allowlist_1", domain.DiagnosticStatusFail)
}

// TestCheckerRunModelDirectoryWithoutModelFilesFails validates model check.
func TestCheckerRunModelDirectoryWithoutModelFilesFails(t *testing.T) {
	root := t.TempDir()
	modelDir := filepath.Join(root, "models")
	if err := os.MkdirAll(modelDir, 0o755); err != nil {
		t.Fatalf("mkdir models: %v", err)
	}
	if err := os.WriteFile(filepath.Join(modelDir, "README.txt"), []byte("no model"), 0o644); err != nil {
		t.Fatalf("write readme: %v", err)
	}

	checker := NewCheckerForTests(foundTool, os.Stat, os.ReadDir, os.MkdirAll, os.CreateTemp, os.Remove)
	report := checker.Run(Options{
		AppMode:    transcribe.ModeLocal,
		ModelDir:   modelDir,
		StorageDir: filepath.Join(root, "storage"),
	})

	assertStatusByID(t, report, "model_dir", domain.DiagnosticStatusFail)
	assertStatusByID(t, report, "allowlist", domain.DiagnosticStatusSkip)
}

// TestCheckerRunCloudflareSkipsLocalTools verifies hosted mode ignores local tooling.
func TestCheckerRunCloudflareSkipsLocalTools(t *testing.T) {
	checker := NewCheckerForTests(
		func(string) (string, error) { return "", errors.New("not found") },
		os.Stat,
		os.ReadDir,
		os.MkdirAll,
		os.CreateTemp,
		os.Remove,
	)
	report := checker.Run(Options{AppMode: transcribe.ModeCloudflare, StorageDir: t.TempDir()})

	if report.HasFailures {
		t.Fatalf("expected no failures, got %+v", report.Items)
	}
	assertStatusByID(t, report, "tool_ffmpeg", domain.DiagnosticStatusSkip)
	assertStatusByID(t, report, "model_dir", domain.DiagnosticStatusSkip)
}

// assertStatusByID checks status for one diagnostic item by ID.
func assertStatusByID(t *testing.T, report domain.DiagnosticReport, id string, want domain.DiagnosticStatus) {
	t.Helper()
	for _, item := range report.Items {
		if item.ID == id {
			if item.Status != want {
				t.Fatalf("item %s: got %s, want %s", id, item.Status, want)
			}
			return
		}
	}
	t.Fatalf("diagnostic item not found: %s", id)
}
