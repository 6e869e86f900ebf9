package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound matches every NotFoundError through errors.Is.
var ErrNotFound = errors.New("not found")

// Error and warning codes persisted on jobs and files.
const (
	CodeFileProcessingFailed = "file_processing_failed"
	CodeProviderError        = "provider_error"
	CodeInputMissing         = "input_missing"
	CodeArtifactWriteFailed  = "artifact_write_failed"
	CodeJobFailed            = "job_failed"
	CodeTranslationFailed    = "translation_failed"
	CodeQueueUnavailable     = "queue_unavailable"
)

// ValidationError rejects a request before any job is created.
type ValidationError struct {
	Message string
}

// Error returns the validation message.
func (e *ValidationError) Error() string {
	return e.Message
}

// Invalidf builds a ValidationError from a format string.
func Invalidf(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var vErr *ValidationError
	return errors.As(err, &vErr)
}

// NotFoundError reports an unknown job, file or artifact id.
type NotFoundError struct {
	Kind string
	ID   string
}

// Error formats the missing record.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// Is makes errors.Is(err, ErrNotFound) hold for any NotFoundError.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NotFound builds a NotFoundError.
func NotFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}
