package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/samber/lo"

	"transcribe-multilingual/internal/blob"
	"transcribe-multilingual/internal/domain"
	"transcribe-multilingual/internal/render"
	"transcribe-multilingual/internal/store"
	"transcribe-multilingual/internal/transcribe"
	"transcribe-multilingual/internal/translate"
)

const allFailedMessage = "All files failed to process."

type fileOutcome int

const (
	fileCompleted fileOutcome = iota
	fileFailed
	fileCancelled
)

// run holds what every file of one processing pass shares.
type run struct {
	job         domain.Job
	logger      *slog.Logger
	adapter     transcribe.Adapter
	adapterErr  error
	native      translate.NativeTranslator
	translators map[string]translate.Translator
	order       []string
}

// ProcessJob runs every pending file of a job in input order, builds the
// bundle and finalizes the job. Calling it on a job in a terminal state
// returns the current snapshot without doing any work.
func (s *Service) ProcessJob(ctx context.Context, jobID string) (domain.JobSnapshot, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return domain.JobSnapshot{}, err
	}
	if job.Status.IsTerminal() {
		return s.snapshot(ctx, job)
	}
	if err := transition("job", job.ID, job.Status, domain.StatusRunning); err != nil {
		return domain.JobSnapshot{}, err
	}

	from := job.Status
	job.Status = domain.StatusRunning
	job.Error = nil
	job.UpdatedAt = s.now()
	if err := s.store.UpdateJob(ctx, job, from); err != nil {
		if errors.Is(err, store.ErrStatusChanged) {
			s.logger.Info("job changed before processing started", "job_id", jobID, "error", err)
			return s.GetJob(ctx, jobID)
		}
		return domain.JobSnapshot{}, fmt.Errorf("update job: %w", err)
	}
	s.publish(Event{JobID: job.ID, Type: EventTypeStatus, Status: job.Status})

	r := s.prepare(ctx, job)
	files, err := s.store.ListFiles(ctx, jobID)
	if err != nil {
		return domain.JobSnapshot{}, fmt.Errorf("list files: %w", err)
	}

	var summary domain.ResultSummary
	for _, file := range files {
		current, err := s.store.GetJob(ctx, jobID)
		if err != nil {
			return domain.JobSnapshot{}, err
		}
		if current.Status == domain.StatusCancelled {
			r.logger.Info("job cancelled, stopping before next file", "file_id", file.ID)
			break
		}

		switch file.Status {
		case domain.StatusCompleted:
			summary.ProcessedFiles++
			continue
		case domain.StatusFailed:
			summary.FailedFiles++
			continue
		case domain.StatusCancelled:
			continue
		}

		switch s.processFile(ctx, r, file) {
		case fileCompleted:
			summary.ProcessedFiles++
		case fileFailed:
			summary.FailedFiles++
		}
	}

	if err := s.buildBundle(ctx, r, summary); err != nil {
		r.logger.Error("bundle failed", "error", err)
	}
	return s.finalize(ctx, jobID, summary)
}

// prepare resolves the adapter, translators and fallback order once per run.
// An adapter that cannot be built fails every file rather than the run.
func (s *Service) prepare(ctx context.Context, job domain.Job) *run {
	r := &run{
		job:    job,
		logger: s.logger.With("job_id", job.ID, "provider", job.Provider),
	}
	r.adapter, r.adapterErr = s.adapters.Adapter(ctx, job.Provider)
	if r.adapterErr != nil {
		r.logger.Warn("provider adapter unavailable", "error", r.adapterErr)
	}
	if native, ok := r.adapter.(translate.NativeTranslator); ok {
		r.native = native
	}
	if job.TranslationRequested() {
		r.translators = s.adapters.Translators(ctx)
		r.order = s.settings.TranslationFallbackOrder(ctx)
	}
	return r
}

// processFile runs one file to a terminal state. A file cancelled while in
// flight keeps its cancelled status.
func (s *Service) processFile(ctx context.Context, r *run, file domain.File) fileOutcome {
	logger := r.logger.With("file_id", file.ID)
	if err := transition("file", file.ID, file.Status, domain.StatusRunning); err != nil {
		logger.Error("skip file", "error", err)
		return fileFailed
	}

	file.Status = domain.StatusRunning
	file.Error = nil
	file.Warning = nil
	file.UpdatedAt = s.now()
	if err := s.store.UpdateFile(ctx, file); err != nil {
		logger.Error("mark file running", "error", err)
	}
	s.publish(Event{JobID: file.JobID, FileID: file.ID, Type: EventTypeStatus, Status: file.Status})

	doc, warning, err := s.runFile(ctx, r, file)

	if latest, ok := s.currentFile(ctx, file); ok && latest.Status == domain.StatusCancelled {
		logger.Info("file cancelled while in flight")
		return fileCancelled
	}

	file.UpdatedAt = s.now()
	if err != nil {
		payload := errorPayload(err)
		file.Status = domain.StatusFailed
		file.Error = &payload
		logger.Warn("file failed", "code", payload.Code, "error", err)
		if err := s.store.UpdateFile(ctx, file); err != nil {
			logger.Error("mark file failed", "error", err)
		}
		s.publish(Event{JobID: file.JobID, FileID: file.ID, Type: EventTypeError, Status: file.Status, Code: payload.Code, Message: payload.Message})
		return fileFailed
	}

	file.Status = domain.StatusCompleted
	file.DetectedLanguage = doc.DetectedLanguage
	file.DurationSec = documentDuration(doc)
	file.Warning = warning
	if err := s.store.UpdateFile(ctx, file); err != nil {
		logger.Error("mark file completed", "error", err)
	}
	if warning != nil {
		s.publish(Event{JobID: file.JobID, FileID: file.ID, Type: EventTypeWarning, Code: warning.Code, Message: warning.Message})
	}
	s.publish(Event{JobID: file.JobID, FileID: file.ID, Type: EventTypeStatus, Status: file.Status})
	return fileCompleted
}

// runFile transcribes, translates, renders and stores one file.
func (s *Service) runFile(ctx context.Context, r *run, file domain.File) (domain.TranscriptDocument, *domain.Payload, error) {
	if r.adapterErr != nil {
		return domain.TranscriptDocument{}, nil, r.adapterErr
	}
	if _, err := s.stat(file.StoragePath); err != nil {
		return domain.TranscriptDocument{}, nil, &inputMissingError{Path: file.StoragePath, Err: err}
	}

	opts := r.job.Options
	doc, err := r.adapter.Transcribe(ctx, transcribe.Request{
		FilePath:           file.StoragePath,
		Model:              r.job.Model,
		SourceLanguage:     r.job.SourceLanguage,
		DiarizationEnabled: opts.DiarizationEnabled,
		SpeakerCount:       opts.SpeakerCount,
		TimestampLevel:     opts.TimestampLevel,
		VerboseOutput:      opts.VerboseOutput,
	})
	if err != nil {
		return domain.TranscriptDocument{}, nil, err
	}

	var warning *domain.Payload
	if r.job.TranslationRequested() {
		outcome := translate.Apply(ctx, doc, translate.Request{
			TargetLanguage: r.job.TargetLanguage,
			Order:          r.order,
			Model:          r.job.Model,
			Native:         r.native,
			Translators:    r.translators,
			Logger:         r.logger,
		})
		doc = outcome.Document
		warning = outcome.Warning
		if outcome.Backend != "" {
			r.logger.Info("transcript translated", "file_id", file.ID, "backend", outcome.Backend)
		}
	}

	formats := opts.Formats
	if len(formats) == 0 {
		formats = domain.DefaultFormats
	}
	rendered, err := render.RenderAll(doc, file.InputName, formats)
	if err != nil {
		return domain.TranscriptDocument{}, nil, fmt.Errorf("render: %w", err)
	}

	for _, item := range rendered {
		path, size, err := s.blobs.WriteArtifact(r.job.ID, file.ID, item.Name, item.Content)
		if err != nil {
			return domain.TranscriptDocument{}, nil, &artifactWriteError{Name: item.Name, Err: err}
		}
		artifact := domain.Artifact{
			ID:          s.newID(),
			JobID:       r.job.ID,
			FileID:      file.ID,
			Format:      item.Format,
			Variant:     item.Variant,
			Name:        item.Name,
			MimeType:    item.MimeType,
			Kind:        item.Kind,
			StoragePath: path,
			SizeBytes:   size,
			CreatedAt:   s.now(),
		}
		if err := s.store.AddArtifact(ctx, artifact); err != nil {
			return domain.TranscriptDocument{}, nil, &artifactWriteError{Name: item.Name, Err: err}
		}
		s.publish(Event{JobID: r.job.ID, FileID: file.ID, Type: EventTypeArtifact, Message: item.Name})
	}
	return doc, warning, nil
}

// currentFile re-reads a file so concurrent cancellation is observed.
func (s *Service) currentFile(ctx context.Context, file domain.File) (domain.File, bool) {
	files, err := s.store.ListFiles(ctx, file.JobID)
	if err != nil {
		return domain.File{}, false
	}
	return lo.Find(files, func(f domain.File) bool { return f.ID == file.ID })
}

// buildBundle archives every non-bundle artifact of the job with a manifest
// and registers the archive as a job-level artifact.
func (s *Service) buildBundle(ctx context.Context, r *run, summary domain.ResultSummary) error {
	artifacts, err := s.store.ListArtifacts(ctx, r.job.ID)
	if err != nil {
		return fmt.Errorf("list artifacts: %w", err)
	}
	existing, hasBundle := lo.Find(artifacts, func(a domain.Artifact) bool { return a.Kind == domain.KindBundle })
	items := lo.Filter(artifacts, func(a domain.Artifact, _ int) bool { return a.Kind != domain.KindBundle })

	entries := blob.UniqueEntries(lo.Map(items, func(a domain.Artifact, _ int) blob.BundleEntry {
		return blob.BundleEntry{Name: a.Name, Path: a.StoragePath}
	}), render.ManifestName)

	manifest, err := render.Manifest{
		JobID:          r.job.ID,
		GeneratedAt:    s.now(),
		ProcessedFiles: summary.ProcessedFiles,
		FailedFiles:    summary.FailedFiles,
		Artifacts:      lo.Map(entries, func(e blob.BundleEntry, _ int) string { return e.Name }),
	}.Encode()
	if err != nil {
		return err
	}

	path, size, skipped, err := s.blobs.WriteBundle(r.job.ID, render.ManifestName, manifest, entries)
	if err != nil {
		return fmt.Errorf("write bundle: %w", err)
	}
	if len(skipped) > 0 {
		r.logger.Warn("bundle skipped missing artifacts", "artifacts", skipped)
	}
	if hasBundle && existing.StoragePath == path {
		return nil
	}

	bundle := domain.Artifact{
		ID:          s.newID(),
		JobID:       r.job.ID,
		Format:      domain.FormatZIP,
		Variant:     domain.VariantNone,
		Name:        r.job.ID + ".zip",
		MimeType:    bundleMimeType,
		Kind:        domain.KindBundle,
		StoragePath: path,
		SizeBytes:   size,
		CreatedAt:   s.now(),
	}
	if err := s.store.AddArtifact(ctx, bundle); err != nil {
		return fmt.Errorf("register bundle: %w", err)
	}
	s.publish(Event{JobID: r.job.ID, Type: EventTypeArtifact, Message: bundle.Name})
	return nil
}

// finalize stores the result summary and derives the job status from its
// files. A job cancelled during the run, even between the read and the
// write below, stays cancelled.
func (s *Service) finalize(ctx context.Context, jobID string, summary domain.ResultSummary) (domain.JobSnapshot, error) {
	var job domain.Job
	for attempt := 1; ; attempt++ {
		current, err := s.store.GetJob(ctx, jobID)
		if err != nil {
			return domain.JobSnapshot{}, err
		}
		job, err = s.withSummary(current, summary)
		if err != nil {
			return domain.JobSnapshot{}, err
		}
		err = s.store.UpdateJob(ctx, job, current.Status)
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrStatusChanged) || attempt == maxStatusAttempts {
			return domain.JobSnapshot{}, fmt.Errorf("update job: %w", err)
		}
		s.logger.Info("job status changed while finalizing", "job_id", jobID, "error", err)
	}

	s.logger.Info("job finished", "job_id", jobID, "status", job.Status,
		"processed_files", summary.ProcessedFiles, "failed_files", summary.FailedFiles)
	event := Event{JobID: jobID, Type: EventTypeStatus, Status: job.Status}
	if job.Error != nil {
		event.Code, event.Message = job.Error.Code, job.Error.Message
	}
	s.publish(event)
	return s.snapshot(ctx, job)
}

// withSummary returns job with its result and final status applied.
func (s *Service) withSummary(job domain.Job, summary domain.ResultSummary) (domain.Job, error) {
	job.Result = &summary
	if job.Status != domain.StatusCancelled {
		to := domain.StatusCompleted
		if summary.ProcessedFiles == 0 && summary.FailedFiles > 0 {
			to = domain.StatusFailed
			job.Error = &domain.Payload{Code: domain.CodeJobFailed, Message: allFailedMessage}
		}
		if err := transition("job", job.ID, job.Status, to); err != nil {
			return domain.Job{}, err
		}
		job.Status = to
	}
	job.UpdatedAt = s.now()
	return job, nil
}

// documentDuration reads the provider duration, falling back to the last segment end.
func documentDuration(doc domain.TranscriptDocument) *float64 {
	if v, ok := doc.Metadata["duration_sec"].(float64); ok && v > 0 {
		return &v
	}
	if len(doc.Segments) == 0 {
		return nil
	}
	end := lo.MaxBy(doc.Segments, func(a, b domain.Segment) bool { return a.End > b.End }).End
	if end <= 0 {
		return nil
	}
	return &end
}
