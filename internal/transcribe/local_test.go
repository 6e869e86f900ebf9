package transcribe

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// fakeRunner simulates command execution order and outcomes.
type fakeRunner struct {
	run func(ctx context.Context, name string, args ...string) (commandResult, error)
}

// Run delegates to injected behavior.
func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	if f.run == nil {
		return commandResult{}, nil
	}
	return f.run(ctx, name, args...)
}

const whisperOutput = `{
  "result": {"language": "de"},
  "transcription": [
    {"offsets": {"from": 0, "to": 1500}, "text": " Hallo zusammen."},
    {"offsets": {"from": 1500, "to": 3000}, "text": "   "},
    {"offsets": {"from": 3000, "to": 4250}, "text": " Wie geht's?"}
  ]
}`

// TestLocalTranscribeSuccess checks the ffmpeg then whisper.cpp happy path.
func TestLocalTranscribeSuccess(t *testing.T) {
	root := t.TempDir()
	inputPath := filepath.Join(root, "meeting.mp4")
	modelDir := filepath.Join(root, "models")
	mustWriteFile(t, inputPath, "media")
	mustWriteFile(t, filepath.Join(modelDir, "ggml-small.bin"), "model")

	call := 0
	var whisperArgs []string
	var workDir string
	runner := &fakeRunner{
		run: func(ctx context.Context, name string, args ...string) (commandResult, error) {
			call++
			switch call {
			case 1:
				if name != "ffmpeg-custom" {
					t.Fatalf("command 1 name = %q, want ffmpeg-custom", name)
				}
				outPath := args[len(args)-1]
				workDir = filepath.Dir(outPath)
				mustWriteFile(t, outPath, "wav")
				return commandResult{Stdout: "ffmpeg ok"}, nil
			case 2:
				if name != "whisper-custom" {
					t.Fatalf("command 2 name = %q, want whisper-custom", name)
				}
				whisperArgs = append([]string{}, args...)
				mustWriteFile(t, argValue(args, "-of")+".json", whisperOutput)
				return commandResult{Stdout: "whisper ok"}, nil
			default:
				t.Fatalf("unexpected command call: %d", call)
				return commandResult{}, nil
			}
		},
	}

	adapter := NewLocalForTests("ffmpeg-custom", "whisper-custom", modelDir, runner, os.MkdirTemp, os.RemoveAll, os.Stat)
	doc, err := adapter.Transcribe(context.Background(), Request{
		FilePath:       inputPath,
		Model:          "small",
		SourceLanguage: "auto",
	})
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}

	if call != 2 {
		t.Fatalf("command calls = %d, want 2", call)
	}
	if got := argValue(whisperArgs, "-m"); got != filepath.Join(modelDir, "ggml-small.bin") {
		t.Fatalf("model arg = %q", got)
	}
	if got := argValue(whisperArgs, "-l"); got != "auto" {
		t.Fatalf("language arg = %q, want auto", got)
	}
	if doc.Provider != ProviderWhisperLocal || doc.Model != "small" || doc.DetectedLanguage != "de" {
		t.Fatalf("document header = %+v", doc)
	}
	if len(doc.Segments) != 2 {
		t.Fatalf("segments = %d, want 2 (blank entries dropped)", len(doc.Segments))
	}
	if doc.Segments[1].ID != 2 || doc.Segments[1].Start != 3 || doc.Segments[1].End != 4.25 {
		t.Fatalf("segment 2 = %+v", doc.Segments[1])
	}
	if doc.Segments[0].Text != "Hallo zusammen." {
		t.Fatalf("segment 1 text = %q", doc.Segments[0].Text)
	}
	if got := doc.Metadata["duration_sec"]; got != 4.25 {
		t.Fatalf("duration = %v, want 4.25", got)
	}
	if _, err := os.Stat(workDir); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected temp dir cleanup, stat err = %v", err)
	}
}

// TestLocalTranscribeEmptyOutputYieldsPlaceholder checks the single-segment fallback.
func TestLocalTranscribeEmptyOutputYieldsPlaceholder(t *testing.T) {
	root := t.TempDir()
	inputPath := filepath.Join(root, "silence.wav")
	mustWriteFile(t, inputPath, "media")
	mustWriteFile(t, filepath.Join(root, "ggml-tiny.gguf"), "model")

	runner := &fakeRunner{
		run: func(ctx context.Context, name string, args ...string) (commandResult, error) {
			if name == "ffmpeg" {
				mustWriteFile(t, args[len(args)-1], "wav")
				return commandResult{}, nil
			}
			mustWriteFile(t, argValue(args, "-of")+".json", `{"result":{"language":"en"},"transcription":[]}`)
			return commandResult{}, nil
		},
	}

	adapter := NewLocalForTests("ffmpeg", "whisper-cli", root, runner, os.MkdirTemp, os.RemoveAll, os.Stat)
	doc, err := adapter.Transcribe(context.Background(), Request{FilePath: inputPath, Model: "tiny"})
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if len(doc.Segments) != 1 || doc.Segments[0].Text != EmptyTranscriptText {
		t.Fatalf("segments = %+v", doc.Segments)
	}
}

// TestLocalTranscribeFFmpegFailureReturnsPreprocessingError checks conversion error path.
func TestLocalTranscribeFFmpegFailureReturnsPreprocessingError(t *testing.T) {
	root := t.TempDir()
	inputPath := filepath.Join(root, "clip.mp4")
	mustWriteFile(t, inputPath, "media")
	mustWriteFile(t, filepath.Join(root, "ggml-tiny.bin"), "model")

	var cleaned string
	runner := &fakeRunner{
		run: func(ctx context.Context, name string, args ...string) (commandResult, error) {
			return commandResult{
				Stderr:   "ffmpeg failed",
				ExitCode: 1,
			}, errors.New("exit status 1")
		},
	}

	adapter := NewLocalForTests(
		"ffmpeg",
		"whisper-cli",
		root,
		runner,
		os.MkdirTemp,
		func(path string) error {
			cleaned = path
			return os.RemoveAll(path)
		},
		os.Stat,
	)

	_, err := adapter.Transcribe(context.Background(), Request{FilePath: inputPath, Model: "tiny"})
	if err == nil {
		t.Fatal("expected error")
	}

	var pErr *ProviderError
	if !errors.As(err, &pErr) {
		t.Fatalf("error type = %T, want *ProviderError", err)
	}
	if pErr.Stage != "preprocessing" {
		t.Fatalf("stage = %s, want preprocessing", pErr.Stage)
	}
	if pErr.Command == nil || pErr.Command.Command != "ffmpeg" {
		t.Fatalf("command = %+v, want ffmpeg", pErr.Command)
	}
	if pErr.Command.ExitCode != 1 {
		t.Fatalf("exit code = %d, want 1", pErr.Command.ExitCode)
	}
	if strings.TrimSpace(cleaned) == "" {
		t.Fatal("expected temporary directory cleanup")
	}
}

// TestLocalTranscribeWhisperFailureCleansTempDir checks failure cleanup path.
func TestLocalTranscribeWhisperFailureCleansTempDir(t *testing.T) {
	root := t.TempDir()
	inputPath := filepath.Join(root, "clip.mp4")
	mustWriteFile(t, inputPath, "media")
	mustWriteFile(t, filepath.Join(root, "ggml-medium.bin"), "model")

	var tempDir string
	runner := &fakeRunner{
		run: func(ctx context.Context, name string, args ...string) (commandResult, error) {
			if name == "ffmpeg" {
				outPath := args[len(args)-1]
				tempDir = filepath.Dir(outPath)
				mustWriteFile(t, outPath, "wav")
				return commandResult{}, nil
			}
			return commandResult{
				Stderr:   "whisper failed",
				ExitCode: 1,
			}, errors.New("exit status 1")
		},
	}

	adapter := NewLocalForTests("ffmpeg", "whisper-cli", root, runner, os.MkdirTemp, os.RemoveAll, os.Stat)
	_, err := adapter.Transcribe(context.Background(), Request{FilePath: inputPath, Model: "medium", SourceLanguage: "fr"})
	if err == nil {
		t.Fatal("expected error")
	}

	var pErr *ProviderError
	if !errors.As(err, &pErr) {
		t.Fatalf("error type = %T, want *ProviderError", err)
	}
	if pErr.Stage != "transcribing" {
		t.Fatalf("stage = %s, want transcribing", pErr.Stage)
	}
	if pErr.Command == nil || pErr.Command.Command != "whisper-cli" {
		t.Fatalf("command = %+v, want whisper-cli", pErr.Command)
	}
	if _, statErr := os.Stat(tempDir); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatalf("temp dir should be removed on failure, stat err = %v", statErr)
	}
}

// TestLocalTranscribeMissingModel checks validation for an absent ggml file.
func TestLocalTranscribeMissingModel(t *testing.T) {
	root := t.TempDir()
	inputPath := filepath.Join(root, "clip.mp3")
	mustWriteFile(t, inputPath, "media")

	adapter := NewLocalForTests("ffmpeg", "whisper-cli", root, &fakeRunner{}, os.MkdirTemp, os.RemoveAll, os.Stat)
	_, err := adapter.Transcribe(context.Background(), Request{FilePath: inputPath, Model: "small"})

	var pErr *ProviderError
	if !errors.As(err, &pErr) {
		t.Fatalf("error type = %T, want *ProviderError", err)
	}
	if pErr.Stage != "transcribing" {
		t.Fatalf("stage = %s, want transcribing", pErr.Stage)
	}
}

// TestLocalTranscribeMissingInput reports a preprocessing error before running commands.
func TestLocalTranscribeMissingInput(t *testing.T) {
	runner := &fakeRunner{
		run: func(ctx context.Context, name string, args ...string) (commandResult, error) {
			t.Fatalf("unexpected command %s", name)
			return commandResult{}, nil
		},
	}
	adapter := NewLocalForTests("ffmpeg", "whisper-cli", t.TempDir(), runner, os.MkdirTemp, os.RemoveAll, os.Stat)
	_, err := adapter.Transcribe(context.Background(), Request{FilePath: filepath.Join(t.TempDir(), "gone.wav"), Model: "tiny"})
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("error = %v, want wrapped os.ErrNotExist", err)
	}
}

// TestBuildFFmpegArgs verifies deterministic ffmpeg command arguments.
func TestBuildFFmpegArgs(t *testing.T) {
	args := buildFFmpegArgs("/in.mp4", "/tmp/out.wav")
	want := []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", "/in.mp4",
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		"/tmp/out.wav",
	}

	if len(args) != len(want) {
		t.Fatalf("args len = %d, want %d", len(args), len(want))
	}
	for i := range want {
		if args[i] != want[i] {
			t.Fatalf("args[%d] = %q, want %q", i, args[i], want[i])
		}
	}
}

// TestBuildWhisperArgsFixedLanguage verifies language and word-level flags.
func TestBuildWhisperArgsFixedLanguage(t *testing.T) {
	args := buildWhisperArgs("/m.bin", "/audio.wav", "/out/base", "ru", "word")
	if got := argValue(args, "-l"); got != "ru" {
		t.Fatalf("language arg = %q, want ru", got)
	}
	if !hasArg(args, "-oj") {
		t.Fatalf("expected -oj in args: %v", args)
	}
	if got := argValue(args, "-ml"); got != "1" {
		t.Fatalf("max-len arg = %q, want 1", got)
	}
}

// mustWriteFile creates parent directory and writes file content.
func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir parent: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write file %s: %v", path, err)
	}
}

// argValue returns value for key-style CLI args.
func argValue(args []string, key string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == key {
			return args[i+1]
		}
	}
	return ""
}

// hasArg reports whether args include the target flag.
func hasArg(args []string, key string) bool {
	for _, arg := range args {
		if arg == key {
			return true
		}
	}
	return false
}
