// Package store persists jobs, files and artifacts.
package store

import (
	"context"
	"errors"
	"time"

	"transcribe-multilingual/internal/domain"
)

// Store is the narrow CRUD surface the orchestrator depends on. Reads return
// point-in-time copies; callers never share records with the store.
type Store interface {
	CreateJob(ctx context.Context, job domain.Job, files []domain.File) error
	GetJob(ctx context.Context, id string) (domain.Job, error)
	ListJobs(ctx context.Context, limit int) ([]domain.Job, error)
	ListJobIDsByStatus(ctx context.Context, status domain.Status) ([]string, error)
	// UpdateJob writes job only while the stored status still equals
	// expected, and fails with ErrStatusChanged otherwise.
	UpdateJob(ctx context.Context, job domain.Job, expected domain.Status) error

	ListFiles(ctx context.Context, jobID string) ([]domain.File, error)
	UpdateFile(ctx context.Context, file domain.File) error

	AddArtifact(ctx context.Context, artifact domain.Artifact) error
	ListArtifacts(ctx context.Context, jobID string) ([]domain.Artifact, error)
	GetArtifact(ctx context.Context, id string) (domain.Artifact, error)

	// DeleteJob removes a job with its files and artifacts and returns the
	// managed blob paths that should be removed from disk.
	DeleteJob(ctx context.Context, id string) ([]string, error)
	// DeleteOlderThan removes expired records and returns the managed blob
	// paths that should be removed from disk. Folder inputs are never listed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) ([]string, error)
}

// ErrStatusChanged reports a conditional job write that lost to a concurrent one.
var ErrStatusChanged = errors.New("job status changed")

// DefaultListLimit bounds ListJobs when the caller passes no limit.
const DefaultListLimit = 50
