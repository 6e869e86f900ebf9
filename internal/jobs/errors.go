package jobs

import (
	"errors"
	"fmt"

	"transcribe-multilingual/internal/domain"
	"transcribe-multilingual/internal/transcribe"
)

// ErrJobFinished is returned when cancelling a job that already completed or failed.
var ErrJobFinished = errors.New("job already finished")

// ErrJobNotCreated marks CreateJob failures that happened before the job was
// persisted, so the caller still owns its inputs.
var ErrJobNotCreated = errors.New("job not created")

// ErrFolderNotAllowed is returned when a folder resolves outside every allow-listed root.
var ErrFolderNotAllowed = errors.New("folder path is outside allowed roots")

// inputMissingError reports a raw input that disappeared before processing.
type inputMissingError struct {
	Path string
	Err  error
}

func (e *inputMissingError) Error() string {
	return fmt.Sprintf("input file is missing: %v", e.Err)
}

func (e *inputMissingError) Unwrap() error {
	return e.Err
}

// artifactWriteError reports a rendered artifact that could not be stored.
type artifactWriteError struct {
	Name string
	Err  error
}

func (e *artifactWriteError) Error() string {
	return fmt.Sprintf("write artifact %s: %v", e.Name, e.Err)
}

func (e *artifactWriteError) Unwrap() error {
	return e.Err
}

// errorPayload maps a per-file failure to its persisted code.
func errorPayload(err error) domain.Payload {
	var (
		missing  *inputMissingError
		write    *artifactWriteError
		provider *transcribe.ProviderError
	)
	code := domain.CodeFileProcessingFailed
	switch {
	case errors.As(err, &missing):
		code = domain.CodeInputMissing
	case errors.As(err, &write):
		code = domain.CodeArtifactWriteFailed
	case errors.As(err, &provider):
		code = domain.CodeProviderError
	}
	return domain.Payload{Code: code, Message: err.Error()}
}
