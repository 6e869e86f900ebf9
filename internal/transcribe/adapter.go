package transcribe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"

	"transcribe-multilingual/internal/domain"
)

// Adapter normalizes one transcription backend into a TranscriptDocument.
//
// Implementations must always return at least one segment on success.
// Adapters that can translate on their own also implement
// translate.NativeTranslator.
type Adapter interface {
	Name() string
	Transcribe(ctx context.Context, req Request) (domain.TranscriptDocument, error)
}

// Request describes one transcription call.
type Request struct {
	FilePath           string
	Model              string
	SourceLanguage     string
	DiarizationEnabled bool
	SpeakerCount       *int
	TimestampLevel     string
	VerboseOutput      bool
}

// CommandLog captures one external command invocation result.
type CommandLog struct {
	Command  string   `json:"command"`
	Args     []string `json:"args"`
	ExitCode int      `json:"exitCode"`
	Stdout   string   `json:"stdout"`
	Stderr   string   `json:"stderr"`
}

// ProviderError is a stage-aware transcription failure.
type ProviderError struct {
	Provider   string      `json:"provider"`
	Stage      string      `json:"stage"`
	Message    string      `json:"message"`
	StatusCode int         `json:"statusCode,omitempty"`
	Command    *CommandLog `json:"commandLog,omitempty"`
	Err        error       `json:"-"`
}

// Error formats provider failures for logs and file error payloads.
func (e *ProviderError) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Command != nil:
		return fmt.Sprintf("%s %s: %s (cmd=%s exit=%d)", e.Provider, e.Stage, e.Message, e.Command.Command, e.Command.ExitCode)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s %s: %s (status=%d)", e.Provider, e.Stage, e.Message, e.StatusCode)
	default:
		return fmt.Sprintf("%s %s: %s", e.Provider, e.Stage, e.Message)
	}
}

// Unwrap exposes underlying error for errors.Is / errors.As.
func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// commandResult is an internal process execution response.
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

// execRunner executes commands via os/exec.
type execRunner struct{}

// Run executes one command and captures stdout/stderr and exit code.
func (r *execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}

	return result, nil
}
