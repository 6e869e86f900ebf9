package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"transcribe-multilingual/internal/domain"
)

// Local runs ffmpeg preprocessing followed by whisper.cpp on the host.
type Local struct {
	ffmpegPath  string
	whisperPath string
	modelDir    string
	tempDir     string
	runner      commandRunner
	mkdirTemp   func(dir, pattern string) (string, error)
	removeAll   func(path string) error
	stat        func(name string) (os.FileInfo, error)
	readFile    func(name string) ([]byte, error)
}

// LocalConfig names the binaries and directories the local adapter uses.
type LocalConfig struct {
	FFmpegPath  string
	WhisperPath string
	ModelDir    string
	TempDir     string
}

// NewLocal constructs the production local adapter with OS dependencies.
func NewLocal(cfg LocalConfig) *Local {
	l := &Local{
		ffmpegPath:  cfg.FFmpegPath,
		whisperPath: cfg.WhisperPath,
		modelDir:    cfg.ModelDir,
		tempDir:     cfg.TempDir,
		runner:      &execRunner{},
		mkdirTemp:   os.MkdirTemp,
		removeAll:   os.RemoveAll,
		stat:        os.Stat,
		readFile:    os.ReadFile,
	}
	if l.ffmpegPath == "" {
		l.ffmpegPath = "ffmpeg"
	}
	if l.whisperPath == "" {
		l.whisperPath = "whisper-cli"
	}
	return l
}

// Name implements Adapter.
func (l *Local) Name() string { return ProviderWhisperLocal }

type whisperJSON struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text string `json:"text"`
	} `json:"transcription"`
}

// Transcribe implements Adapter.
func (l *Local) Transcribe(ctx context.Context, req Request) (domain.TranscriptDocument, error) {
	if strings.TrimSpace(req.FilePath) == "" {
		return domain.TranscriptDocument{}, l.fail("preprocessing", "input media path is required", nil, nil)
	}
	if _, err := l.stat(req.FilePath); err != nil {
		return domain.TranscriptDocument{}, l.fail("preprocessing", fmt.Sprintf("cannot access input media: %s", req.FilePath), nil, err)
	}

	modelPath, err := l.resolveModelPath(req.Model)
	if err != nil {
		return domain.TranscriptDocument{}, l.fail("transcribing", err.Error(), nil, err)
	}

	workDir, err := l.mkdirTemp(l.tempDir, "transcribe-local-*")
	if err != nil {
		return domain.TranscriptDocument{}, l.fail("preprocessing", "failed to create temporary workspace", nil, err)
	}
	defer func() { _ = l.removeAll(workDir) }()

	wavPath := filepath.Join(workDir, "preprocessed-16k-mono.wav")
	args := buildFFmpegArgs(req.FilePath, wavPath)
	log, runErr := l.run(ctx, l.ffmpegPath, args)
	if runErr != nil {
		return domain.TranscriptDocument{}, l.fail("preprocessing", "ffmpeg audio conversion failed", &log, runErr)
	}
	if _, err := l.stat(wavPath); err != nil {
		return domain.TranscriptDocument{}, l.fail("preprocessing", "ffmpeg completed but output file is missing", &log, err)
	}

	outBase := filepath.Join(workDir, "transcript")
	whisperArgs := buildWhisperArgs(modelPath, wavPath, outBase, req.SourceLanguage, req.TimestampLevel)
	whisperLog, runErr := l.run(ctx, l.whisperPath, whisperArgs)
	if runErr != nil {
		return domain.TranscriptDocument{}, l.fail("transcribing", "whisper.cpp transcription failed", &whisperLog, runErr)
	}

	content, err := l.readFile(outBase + ".json")
	if err != nil {
		return domain.TranscriptDocument{}, l.fail("exporting", "whisper.cpp completed but transcript .json file is missing", &whisperLog, err)
	}
	var parsed whisperJSON
	if err := json.Unmarshal(content, &parsed); err != nil {
		return domain.TranscriptDocument{}, l.fail("exporting", "cannot parse whisper.cpp json output", &whisperLog, err)
	}

	segments := make([]domain.Segment, 0, len(parsed.Transcription))
	var duration float64
	for _, item := range parsed.Transcription {
		text := strings.TrimSpace(item.Text)
		if text == "" {
			continue
		}
		start := float64(item.Offsets.From) / 1000
		end := max(float64(item.Offsets.To)/1000, start)
		duration = max(duration, end)
		segments = append(segments, domain.Segment{ID: len(segments) + 1, Start: start, End: end, Text: text})
	}

	meta := withDuration(nil, duration)
	if req.VerboseOutput {
		meta["commands"] = []CommandLog{log, whisperLog}
	}
	return domain.TranscriptDocument{
		Provider:         ProviderWhisperLocal,
		Model:            req.Model,
		DetectedLanguage: parsed.Result.Language,
		Segments:         ensureSegments(segments, "", duration),
		Metadata:         meta,
	}, nil
}

func (l *Local) run(ctx context.Context, name string, args []string) (CommandLog, error) {
	result, err := l.runner.Run(ctx, name, args...)
	return CommandLog{
		Command:  name,
		Args:     args,
		ExitCode: result.ExitCode,
		Stdout:   result.Stdout,
		Stderr:   result.Stderr,
	}, err
}

func (l *Local) fail(stage, message string, log *CommandLog, err error) error {
	return &ProviderError{Provider: ProviderWhisperLocal, Stage: stage, Message: message, Command: log, Err: err}
}

// resolveModelPath maps a model id like "small" to ggml-small.bin in the model directory.
func (l *Local) resolveModelPath(model string) (string, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return "", fmt.Errorf("model is required")
	}
	if strings.TrimSpace(l.modelDir) == "" {
		return "", fmt.Errorf("whisper model directory is not configured")
	}
	for _, name := range ModelFileNames(model) {
		candidate := filepath.Join(l.modelDir, name)
		if info, err := l.stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("model %s not found in %s", model, l.modelDir)
}

// ModelFileNames lists the ggml file names accepted for a model id.
func ModelFileNames(model string) []string {
	return []string{"ggml-" + model + ".bin", "ggml-" + model + ".gguf"}
}

// buildFFmpegArgs builds preprocessing CLI args for mono 16k PCM WAV output.
func buildFFmpegArgs(inputPath, outPath string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		outPath,
	}
}

// buildWhisperArgs builds whisper.cpp args for json transcript export.
func buildWhisperArgs(modelPath, audioPath, outBase, language, timestampLevel string) []string {
	args := []string{
		"-m", modelPath,
		"-f", audioPath,
		"-of", outBase,
		"-oj",
	}

	if lang := normalizeLanguage(language); lang != "" {
		args = append(args, "-l", lang)
	} else {
		args = append(args, "-l", "auto")
	}
	if timestampLevel == "word" {
		args = append(args, "-ml", "1")
	}

	return args
}

// NewLocalForTests constructs a local adapter with injectable dependencies.
func NewLocalForTests(
	ffmpegPath string,
	whisperPath string,
	modelDir string,
	runner commandRunner,
	mkdirTemp func(dir, pattern string) (string, error),
	removeAll func(path string) error,
	stat func(name string) (os.FileInfo, error),
) *Local {
	return &Local{
		ffmpegPath:  ffmpegPath,
		whisperPath: whisperPath,
		modelDir:    modelDir,
		runner:      runner,
		mkdirTemp:   mkdirTemp,
		removeAll:   removeAll,
		stat:        stat,
		readFile:    os.ReadFile,
	}
}
