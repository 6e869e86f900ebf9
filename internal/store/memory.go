package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"transcribe-multilingual/internal/domain"
)

// Memory is an in-process Store used without a database and in tests.
type Memory struct {
	mu        sync.RWMutex
	jobs      map[string]domain.Job
	files     map[string]domain.File
	fileOrder map[string][]string
	artifacts map[string]domain.Artifact
	artOrder  map[string][]string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		jobs:      map[string]domain.Job{},
		files:     map[string]domain.File{},
		fileOrder: map[string][]string{},
		artifacts: map[string]domain.Artifact{},
		artOrder:  map[string][]string{},
	}
}

// CreateJob implements Store.
func (m *Memory) CreateJob(_ context.Context, job domain.Job, files []domain.File) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.jobs[job.ID] = cloneJob(job)
	for _, f := range files {
		m.files[f.ID] = cloneFile(f)
		m.fileOrder[job.ID] = append(m.fileOrder[job.ID], f.ID)
	}
	return nil
}

// GetJob implements Store.
func (m *Memory) GetJob(_ context.Context, id string) (domain.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[id]
	if !ok {
		return domain.Job{}, domain.NotFound("job", id)
	}
	return cloneJob(job), nil
}

// ListJobs implements Store. Newest jobs come first.
func (m *Memory) ListJobs(_ context.Context, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		out = append(out, cloneJob(job))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListJobIDsByStatus implements Store, oldest first.
func (m *Memory) ListJobIDsByStatus(_ context.Context, status domain.Status) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var jobs []domain.Job
	for _, job := range m.jobs {
		if job.Status == status {
			jobs = append(jobs, job)
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })
	ids := make([]string, 0, len(jobs))
	for _, job := range jobs {
		ids = append(ids, job.ID)
	}
	return ids, nil
}

// UpdateJob implements Store.
func (m *Memory) UpdateJob(_ context.Context, job domain.Job, expected domain.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.jobs[job.ID]
	if !ok {
		return domain.NotFound("job", job.ID)
	}
	if current.Status != expected {
		return fmt.Errorf("job %s is %s, not %s: %w", job.ID, current.Status, expected, ErrStatusChanged)
	}
	m.jobs[job.ID] = cloneJob(job)
	return nil
}

// ListFiles implements Store, in input order.
func (m *Memory) ListFiles(_ context.Context, jobID string) ([]domain.File, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.fileOrder[jobID]
	out := make([]domain.File, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneFile(m.files[id]))
	}
	return out, nil
}

// UpdateFile implements Store.
func (m *Memory) UpdateFile(_ context.Context, file domain.File) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.files[file.ID]; !ok {
		return domain.NotFound("file", file.ID)
	}
	m.files[file.ID] = cloneFile(file)
	return nil
}

// AddArtifact implements Store.
func (m *Memory) AddArtifact(_ context.Context, artifact domain.Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[artifact.JobID]; !ok {
		return domain.NotFound("job", artifact.JobID)
	}
	m.artifacts[artifact.ID] = artifact
	m.artOrder[artifact.JobID] = append(m.artOrder[artifact.JobID], artifact.ID)
	return nil
}

// ListArtifacts implements Store, in creation order.
func (m *Memory) ListArtifacts(_ context.Context, jobID string) ([]domain.Artifact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.artOrder[jobID]
	out := make([]domain.Artifact, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.artifacts[id])
	}
	return out, nil
}

// GetArtifact implements Store.
func (m *Memory) GetArtifact(_ context.Context, id string) (domain.Artifact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.artifacts[id]
	if !ok {
		return domain.Artifact{}, domain.NotFound("artifact", id)
	}
	return a, nil
}

// DeleteJob implements Store.
func (m *Memory) DeleteJob(_ context.Context, id string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[id]; !ok {
		return nil, domain.NotFound("job", id)
	}
	return m.deleteJobLocked(id), nil
}

func (m *Memory) deleteJobLocked(id string) []string {
	var paths []string
	for _, aid := range m.artOrder[id] {
		paths = append(paths, m.artifacts[aid].StoragePath)
		delete(m.artifacts, aid)
	}
	for _, fid := range m.fileOrder[id] {
		if f := m.files[fid]; f.InputSource == domain.InputSourceUpload {
			paths = append(paths, f.StoragePath)
		}
		delete(m.files, fid)
	}
	delete(m.artOrder, id)
	delete(m.fileOrder, id)
	delete(m.jobs, id)
	return paths
}

// DeleteOlderThan implements Store.
func (m *Memory) DeleteOlderThan(_ context.Context, cutoff time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var paths []string
	for jobID, job := range m.jobs {
		if job.UpdatedAt.Before(cutoff) {
			paths = append(paths, m.deleteJobLocked(jobID)...)
			continue
		}

		kept := m.artOrder[jobID][:0]
		for _, aid := range m.artOrder[jobID] {
			if a := m.artifacts[aid]; a.CreatedAt.Before(cutoff) {
				paths = append(paths, a.StoragePath)
				delete(m.artifacts, aid)
				continue
			}
			kept = append(kept, aid)
		}
		m.artOrder[jobID] = kept

		keptFiles := m.fileOrder[jobID][:0]
		for _, fid := range m.fileOrder[jobID] {
			f := m.files[fid]
			if f.UpdatedAt.Before(cutoff) {
				if f.InputSource == domain.InputSourceUpload {
					paths = append(paths, f.StoragePath)
				}
				m.dropFileArtifactsLocked(jobID, fid, &paths)
				delete(m.files, fid)
				continue
			}
			keptFiles = append(keptFiles, fid)
		}
		m.fileOrder[jobID] = keptFiles
	}
	return paths, nil
}

func (m *Memory) dropFileArtifactsLocked(jobID, fileID string, paths *[]string) {
	m.artOrder[jobID] = slices.DeleteFunc(m.artOrder[jobID], func(aid string) bool {
		if m.artifacts[aid].FileID != fileID {
			return false
		}
		*paths = append(*paths, m.artifacts[aid].StoragePath)
		delete(m.artifacts, aid)
		return true
	})
}

func cloneJob(j domain.Job) domain.Job {
	j.Options.Formats = slices.Clone(j.Options.Formats)
	if j.Options.SpeakerCount != nil {
		v := *j.Options.SpeakerCount
		j.Options.SpeakerCount = &v
	}
	j.Warning = clonePayload(j.Warning)
	j.Error = clonePayload(j.Error)
	if j.Result != nil {
		r := *j.Result
		j.Result = &r
	}
	return j
}

func cloneFile(f domain.File) domain.File {
	if f.DurationSec != nil {
		v := *f.DurationSec
		f.DurationSec = &v
	}
	f.Warning = clonePayload(f.Warning)
	f.Error = clonePayload(f.Error)
	return f
}

func clonePayload(p *domain.Payload) *domain.Payload {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}
