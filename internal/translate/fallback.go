package translate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"transcribe-multilingual/internal/domain"
)

// BackendNative names the transcription provider's own translation in a fallback order.
const BackendNative = "native"

// WarningMessageAllFailed accompanies domain.CodeTranslationFailed.
const WarningMessageAllFailed = "Translation failed for all backends; returning source transcript only."

// Translator translates plain text through one named backend.
type Translator interface {
	Translate(ctx context.Context, text, targetLanguage, sourceLanguage string) (string, error)
}

// NativeTranslator is implemented by provider adapters that can translate a
// transcript themselves. ok is false when the provider/model pair cannot.
type NativeTranslator interface {
	TranslateNative(ctx context.Context, doc domain.TranscriptDocument, model, targetLanguage string) (out domain.TranscriptDocument, ok bool, err error)
}

// BackendError records why one backend in the chain was skipped.
type BackendError struct {
	Backend string
	Err     error
}

// Error formats the failing backend and cause.
func (e *BackendError) Error() string {
	return fmt.Sprintf("translation backend %s: %v", e.Backend, e.Err)
}

// Unwrap exposes the backend failure.
func (e *BackendError) Unwrap() error {
	return e.Err
}

// Request is the input of one fallback run.
type Request struct {
	TargetLanguage string
	Order          []string
	Model          string
	Native         NativeTranslator
	Translators    map[string]Translator
	Logger         *slog.Logger
}

// Outcome is the result of a fallback run. Backend is empty and Warning set
// when every candidate failed; Document is then the untouched input.
type Outcome struct {
	Document domain.TranscriptDocument
	Backend  string
	Warning  *domain.Payload
}

// Apply walks req.Order and returns the first successful translation.
func Apply(ctx context.Context, doc domain.TranscriptDocument, req Request) Outcome {
	logger := req.Logger
	if logger == nil {
		logger = slog.Default()
	}

	for _, backend := range req.Order {
		backend = strings.TrimSpace(backend)
		if backend == "" {
			continue
		}

		translated, ok, err := attempt(ctx, doc, backend, req)
		if err != nil {
			logger.Warn("translation backend failed", "backend", backend, "error", err)
			continue
		}
		if !ok {
			continue
		}
		return Outcome{Document: translated, Backend: backend}
	}

	return Outcome{
		Document: doc,
		Warning: &domain.Payload{
			Code:    domain.CodeTranslationFailed,
			Message: WarningMessageAllFailed,
		},
	}
}

// attempt runs a single backend. ok is false when the backend is not available.
func attempt(ctx context.Context, doc domain.TranscriptDocument, backend string, req Request) (out domain.TranscriptDocument, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, ok, err = domain.TranscriptDocument{}, false, &BackendError{Backend: backend, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if backend == BackendNative {
		if req.Native == nil {
			return domain.TranscriptDocument{}, false, nil
		}
		out, ok, err = req.Native.TranslateNative(ctx, doc, req.Model, req.TargetLanguage)
		if err != nil {
			return domain.TranscriptDocument{}, false, &BackendError{Backend: backend, Err: err}
		}
		return out, ok, nil
	}

	translator, exists := req.Translators[backend]
	if !exists || translator == nil {
		return domain.TranscriptDocument{}, false, nil
	}
	out, err = TranslateSegments(ctx, doc, translator, req.TargetLanguage)
	if err != nil {
		return domain.TranscriptDocument{}, false, &BackendError{Backend: backend, Err: err}
	}
	return out, true, nil
}

// TranslateSegments translates every segment independently and returns a new
// document. Timing and speaker fields are carried over untouched. A blank
// translation fails the whole call.
func TranslateSegments(ctx context.Context, doc domain.TranscriptDocument, translator Translator, targetLanguage string) (domain.TranscriptDocument, error) {
	segments := doc.CloneSegments()
	for i := range segments {
		if err := ctx.Err(); err != nil {
			return domain.TranscriptDocument{}, err
		}
		text, err := translator.Translate(ctx, segments[i].Text, targetLanguage, doc.DetectedLanguage)
		if err != nil {
			return domain.TranscriptDocument{}, fmt.Errorf("segment %d: %w", segments[i].ID, err)
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return domain.TranscriptDocument{}, fmt.Errorf("segment %d: empty translation", segments[i].ID)
		}
		segments[i].TranslatedText = text
	}
	return doc.WithSegments(segments), nil
}

// ParseOrder splits a comma separated fallback order.
func ParseOrder(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
