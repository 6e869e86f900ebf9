// Package jobs orchestrates batch transcription jobs: creation, dispatch,
// per-file processing, cancellation and retention.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"transcribe-multilingual/internal/blob"
	"transcribe-multilingual/internal/domain"
	"transcribe-multilingual/internal/store"
	"transcribe-multilingual/internal/transcribe"
	"transcribe-multilingual/internal/translate"
)

const bundleMimeType = "application/zip"

// maxStatusAttempts bounds the re-read loop around conditional job writes.
const maxStatusAttempts = 3

// Blobs is the storage the orchestrator writes rendered output to.
type Blobs interface {
	WriteArtifact(jobID, fileID, name, content string) (string, int64, error)
	WriteBundle(jobID, manifestName, manifest string, entries []blob.BundleEntry) (string, int64, []string, error)
	Remove(paths []string) (int, error)
}

// AdapterFactory builds provider adapters and text translators per job.
type AdapterFactory interface {
	Adapter(ctx context.Context, provider string) (transcribe.Adapter, error)
	Translators(ctx context.Context) map[string]translate.Translator
}

// Settings resolves runtime-overridable values at each decision.
type Settings interface {
	SyncSizeThresholdMB(ctx context.Context) int
	RetentionDays(ctx context.Context) int
	TranslationFallbackOrder(ctx context.Context) []string
	LocalFolderAllowlist(ctx context.Context) []string
}

// Enqueuer hands a job id to the queue transport.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobID string) error
}

// Deps wires a Service.
type Deps struct {
	Store    store.Store
	Blobs    Blobs
	Adapters AdapterFactory
	Settings Settings
	Queue    Enqueuer
	Events   *EventBus
	Logger   *slog.Logger
	Mode     string
	// FolderExtensions filters folder scans when the request names none.
	FolderExtensions []string
}

// Service is the job orchestrator.
type Service struct {
	store      store.Store
	blobs      Blobs
	adapters   AdapterFactory
	settings   Settings
	queue      Enqueuer
	events     *EventBus
	logger     *slog.Logger
	mode       string
	extensions []string

	now    func() time.Time
	newID  func() string
	stat   func(string) (os.FileInfo, error)
	lookup func(provider, model, mode string) (transcribe.ModelCapability, error)
}

// NewService creates an orchestrator from deps.
func NewService(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	events := deps.Events
	if events == nil {
		events = NewEventBus(0)
	}
	mode := deps.Mode
	if mode == "" {
		mode = transcribe.ModeLocal
	}

	return &Service{
		store:      deps.Store,
		blobs:      deps.Blobs,
		adapters:   deps.Adapters,
		settings:   deps.Settings,
		queue:      deps.Queue,
		events:     events,
		logger:     logger,
		mode:       mode,
		extensions: deps.FolderExtensions,
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
		stat:       os.Stat,
		lookup:     transcribe.Lookup,
	}
}

// SetQueue attaches the queue transport once it has been built around the service.
func (s *Service) SetQueue(q Enqueuer) {
	s.queue = q
}

// Events exposes the job event bus.
func (s *Service) Events() *EventBus {
	return s.events
}

// Mode returns the deployment mode jobs are validated against.
func (s *Service) Mode() string {
	return s.mode
}

// CreateJob validates req, persists the job with one file per input and
// dispatches it. Synchronous jobs are processed before CreateJob returns.
func (s *Service) CreateJob(ctx context.Context, req domain.JobRequest, inputs []domain.InputMedia) (domain.JobSnapshot, error) {
	req, err := s.validate(req, inputs)
	if err != nil {
		return domain.JobSnapshot{}, err
	}

	now := s.now()
	job := domain.Job{
		ID:                 s.newID(),
		Status:             domain.StatusQueued,
		Provider:           req.Provider,
		Model:              req.Model,
		SourceLanguage:     req.SourceLanguage,
		TargetLanguage:     req.TargetLanguage,
		TranslationEnabled: req.TranslationEnabled,
		Options: domain.JobOptions{
			Formats:            req.Formats,
			DiarizationEnabled: req.DiarizationEnabled,
			SpeakerCount:       req.SpeakerCount,
			SyncPreferred:      req.SyncPreferred,
			TimestampLevel:     req.TimestampLevel,
			VerboseOutput:      req.VerboseOutput,
			BatchLabel:         req.BatchLabel,
			LocalFolder:        req.LocalFolder,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	files := lo.Map(inputs, func(input domain.InputMedia, _ int) domain.File {
		return domain.File{
			ID:          s.newID(),
			JobID:       job.ID,
			InputName:   input.Name,
			InputSource: input.Source,
			SizeBytes:   input.SizeBytes,
			StoragePath: input.Path,
			Status:      domain.StatusQueued,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
	})

	if err := s.store.CreateJob(ctx, job, files); err != nil {
		return domain.JobSnapshot{}, fmt.Errorf("%w: %w", ErrJobNotCreated, err)
	}
	s.logger.Info("job created", "job_id", job.ID, "provider", job.Provider, "model", job.Model, "files", len(files))
	s.publish(Event{JobID: job.ID, Type: EventTypeStatus, Status: job.Status})

	if s.shouldQueue(ctx, req, inputs) {
		err := s.enqueue(ctx, job.ID)
		if err == nil {
			return s.GetJob(ctx, job.ID)
		}
		s.logger.Warn("queue unavailable, processing synchronously", "job_id", job.ID, "error", err)
		if err := s.markQueueUnavailable(ctx, job.ID, err); err != nil {
			return domain.JobSnapshot{}, err
		}
	}

	return s.ProcessJob(context.WithoutCancel(ctx), job.ID)
}

// shouldQueue is the dispatch decision, evaluated once per job creation.
func (s *Service) shouldQueue(ctx context.Context, req domain.JobRequest, inputs []domain.InputMedia) bool {
	if !req.SyncPreferred {
		return true
	}
	if len(inputs) > 1 {
		return true
	}
	threshold := int64(s.settings.SyncSizeThresholdMB(ctx)) * mib
	if threshold <= 0 {
		return true
	}
	return lo.SomeBy(inputs, func(input domain.InputMedia) bool {
		return input.SizeBytes > threshold
	})
}

func (s *Service) enqueue(ctx context.Context, jobID string) (err error) {
	if s.queue == nil {
		return errors.New("no queue transport configured")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("enqueue panic: %v", r)
		}
	}()
	return s.queue.Enqueue(ctx, jobID)
}

func (s *Service) markQueueUnavailable(ctx context.Context, jobID string, cause error) error {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	job.Warning = &domain.Payload{
		Code:    domain.CodeQueueUnavailable,
		Message: fmt.Sprintf("Queue unavailable (%v); job processed synchronously.", cause),
	}
	job.UpdatedAt = s.now()
	if err := s.store.UpdateJob(ctx, job, job.Status); err != nil {
		if errors.Is(err, store.ErrStatusChanged) {
			s.logger.Info("job changed before queue warning was stored", "job_id", jobID, "error", err)
			return nil
		}
		return fmt.Errorf("update job: %w", err)
	}
	s.publish(Event{JobID: jobID, Type: EventTypeWarning, Code: job.Warning.Code, Message: job.Warning.Message})
	return nil
}

// PendingJobIDs lists jobs still waiting for a worker.
func (s *Service) PendingJobIDs(ctx context.Context) ([]string, error) {
	return s.store.ListJobIDsByStatus(ctx, domain.StatusQueued)
}

// GetJob returns a snapshot of the job, its files and their artifacts.
func (s *Service) GetJob(ctx context.Context, jobID string) (domain.JobSnapshot, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return domain.JobSnapshot{}, err
	}
	return s.snapshot(ctx, job)
}

func (s *Service) snapshot(ctx context.Context, job domain.Job) (domain.JobSnapshot, error) {
	files, err := s.store.ListFiles(ctx, job.ID)
	if err != nil {
		return domain.JobSnapshot{}, fmt.Errorf("list files: %w", err)
	}
	artifacts, err := s.store.ListArtifacts(ctx, job.ID)
	if err != nil {
		return domain.JobSnapshot{}, fmt.Errorf("list artifacts: %w", err)
	}

	byFile := lo.GroupBy(artifacts, func(a domain.Artifact) string { return a.FileID })
	snap := domain.JobSnapshot{
		Job:       job,
		Files:     make([]domain.FileSnapshot, 0, len(files)),
		Artifacts: byFile[""],
	}
	if snap.Artifacts == nil {
		snap.Artifacts = []domain.Artifact{}
	}
	for _, f := range files {
		fileArtifacts := byFile[f.ID]
		if fileArtifacts == nil {
			fileArtifacts = []domain.Artifact{}
		}
		snap.Files = append(snap.Files, domain.FileSnapshot{File: f, Artifacts: fileArtifacts})
	}
	if job.Status.IsTerminal() {
		d := job.UpdatedAt.Sub(job.CreatedAt).Seconds()
		snap.DurationSec = &d
	}
	return snap, nil
}

// ListJobs returns snapshots of the most recent jobs, newest first.
func (s *Service) ListJobs(ctx context.Context, limit int) ([]domain.JobSnapshot, error) {
	if limit <= 0 {
		limit = store.DefaultListLimit
	}
	jobs, err := s.store.ListJobs(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]domain.JobSnapshot, 0, len(jobs))
	for _, job := range jobs {
		snap, err := s.snapshot(ctx, job)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

// ListArtifacts returns every artifact of a job, bundle included.
func (s *Service) ListArtifacts(ctx context.Context, jobID string) ([]domain.Artifact, error) {
	if _, err := s.store.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	return s.store.ListArtifacts(ctx, jobID)
}

// Artifact returns an artifact of jobID. Artifacts of other jobs are reported as not found.
func (s *Service) Artifact(ctx context.Context, jobID, artifactID string) (domain.Artifact, error) {
	artifact, err := s.store.GetArtifact(ctx, artifactID)
	if err != nil {
		return domain.Artifact{}, err
	}
	if artifact.JobID != jobID {
		return domain.Artifact{}, domain.NotFound("artifact", artifactID)
	}
	return artifact, nil
}

// Bundle returns the job-level bundle artifact once processing has produced it.
func (s *Service) Bundle(ctx context.Context, jobID string) (domain.Artifact, error) {
	artifacts, err := s.ListArtifacts(ctx, jobID)
	if err != nil {
		return domain.Artifact{}, err
	}
	bundle, ok := lo.Find(artifacts, func(a domain.Artifact) bool { return a.Kind == domain.KindBundle })
	if !ok {
		return domain.Artifact{}, domain.NotFound("bundle", jobID)
	}
	return bundle, nil
}

// CancelJob cancels a queued or running job and every file that has not finished.
// Cancelling an already cancelled job returns its snapshot unchanged.
func (s *Service) CancelJob(ctx context.Context, jobID string) (domain.JobSnapshot, error) {
	now := s.now()
	for attempt := 1; ; attempt++ {
		job, err := s.store.GetJob(ctx, jobID)
		if err != nil {
			return domain.JobSnapshot{}, err
		}
		switch job.Status {
		case domain.StatusCancelled:
			return s.snapshot(ctx, job)
		case domain.StatusCompleted, domain.StatusFailed:
			return domain.JobSnapshot{}, fmt.Errorf("cancel job %s: %w (%s)", jobID, ErrJobFinished, job.Status)
		}

		from := job.Status
		job.Status = domain.StatusCancelled
		job.UpdatedAt = now
		err = s.store.UpdateJob(ctx, job, from)
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrStatusChanged) || attempt == maxStatusAttempts {
			return domain.JobSnapshot{}, fmt.Errorf("update job: %w", err)
		}
	}

	files, err := s.store.ListFiles(ctx, jobID)
	if err != nil {
		return domain.JobSnapshot{}, fmt.Errorf("list files: %w", err)
	}
	for _, f := range files {
		if f.Status != domain.StatusQueued && f.Status != domain.StatusRunning {
			continue
		}
		f.Status = domain.StatusCancelled
		f.UpdatedAt = now
		if err := s.store.UpdateFile(ctx, f); err != nil {
			return domain.JobSnapshot{}, fmt.Errorf("update file: %w", err)
		}
	}

	s.logger.Info("job cancelled", "job_id", jobID)
	s.publish(Event{JobID: jobID, Type: EventTypeStatus, Status: domain.StatusCancelled})
	return s.GetJob(ctx, jobID)
}

// DeleteJob removes a job with its files and artifacts and deletes the
// managed blobs. Folder inputs are left in place.
func (s *Service) DeleteJob(ctx context.Context, jobID string) (int, error) {
	paths, err := s.store.DeleteJob(ctx, jobID)
	if err != nil {
		return 0, err
	}
	removed, err := s.blobs.Remove(paths)
	if err != nil {
		return removed, fmt.Errorf("remove job blobs: %w", err)
	}
	s.logger.Info("job deleted", "job_id", jobID, "removed_files", removed)
	return removed, nil
}

// CleanupExpired deletes records older than the retention window and
// returns the number of physical files removed.
func (s *Service) CleanupExpired(ctx context.Context) (int, error) {
	days := s.settings.RetentionDays(ctx)
	cutoff := s.now().Add(-time.Duration(days) * 24 * time.Hour)

	paths, err := s.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired records: %w", err)
	}
	removed, err := s.blobs.Remove(paths)
	if err != nil {
		return removed, fmt.Errorf("remove expired blobs: %w", err)
	}
	if removed > 0 {
		s.logger.Info("retention cleanup", "cutoff", cutoff, "removed_files", removed)
	}
	return removed, nil
}

func (s *Service) publish(event Event) {
	s.events.Publish(event)
}
