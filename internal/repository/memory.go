package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/scholarsentinel/diagram-forensics/internal/domain"
)

// MemoryJobsRepository stores jobs in memory for local development and tests.
type MemoryJobsRepository struct {
	mu   sync.RWMutex
	jobs map[string]*domain.Job
}

func NewMemoryJobsRepository() *MemoryJobsRepository {
	return &MemoryJobsRepository{jobs: make(map[string]*domain.Job)}
}

func (r *MemoryJobsRepository) CreateJob(_ context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[job.ID]; ok {
		return ErrAlreadyExists
	}
	r.jobs[job.ID] = cloneJob(job)
	return nil
}

func (r *MemoryJobsRepository) GetJob(_ context.Context, jobID string) (*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJob(job), nil
}

func (r *MemoryJobsRepository) MarkActive(_ context.Context, jobID string, attempt int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	if job.State.Terminal() {
		return fmt.Errorf("%w: %s", ErrTerminalState, job.State)
	}
	if job.StartedAt == nil {
		now := time.Now().UTC()
		job.StartedAt = &now
	}
	job.State = domain.JobStateActive
	job.Attempts = attempt
	return nil
}

func (r *MemoryJobsRepository) UpdateProgress(_ context.Context, jobID string, progress int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	if job.State.Terminal() {
		return fmt.Errorf("%w: %s", ErrTerminalState, job.State)
	}
	if progress > job.Progress {
		job.Progress = progress
	}
	return nil
}

func (r *MemoryJobsRepository) CompleteJob(_ context.Context, jobID string, result json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	if job.State.Terminal() {
		return fmt.Errorf("%w: %s", ErrTerminalState, job.State)
	}
	now := time.Now().UTC()
	job.State = domain.JobStateCompleted
	job.Progress = 100
	job.Result = append([]byte(nil), result...)
	job.FailureReason = ""
	job.FinishedAt = &now
	return nil
}

func (r *MemoryJobsRepository) FailJob(_ context.Context, jobID string, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	if job.State.Terminal() {
		return fmt.Errorf("%w: %s", ErrTerminalState, job.State)
	}
	now := time.Now().UTC()
	job.State = domain.JobStateFailed
	job.FailureReason = reason
	job.FinishedAt = &now
	return nil
}

func cloneJob(job *domain.Job) *domain.Job {
	if job == nil {
		return nil
	}
	clone := *job
	clone.Payload = append([]byte(nil), job.Payload...)
	clone.Result = append([]byte(nil), job.Result...)
	if job.StartedAt != nil {
		startedAt := *job.StartedAt
		clone.StartedAt = &startedAt
	}
	if job.FinishedAt != nil {
		finishedAt := *job.FinishedAt
		clone.FinishedAt = &finishedAt
	}
	return &clone
}

// MemoryReportsRepository keeps plagiarism reports in memory.
type MemoryReportsRepository struct {
	mu      sync.RWMutex
	reports map[string]*domain.PlagiarismReport
}

func NewMemoryReportsRepository() *MemoryReportsRepository {
	return &MemoryReportsRepository{reports: make(map[string]*domain.PlagiarismReport)}
}

func (r *MemoryReportsRepository) SaveReport(_ context.Context, report *domain.PlagiarismReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.reports[report.JobID]; ok {
		return ErrAlreadyExists
	}
	clone := *report
	clone.Diagrams = append([]domain.DiagramReport(nil), report.Diagrams...)
	r.reports[report.JobID] = &clone
	return nil
}

func (r *MemoryReportsRepository) GetReport(_ context.Context, jobID string) (*domain.PlagiarismReport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	report, ok := r.reports[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *report
	clone.Diagrams = append([]domain.DiagramReport(nil), report.Diagrams...)
	return &clone, nil
}

// MemoryHashesRepository keeps the perceptual-hash corpus in memory.
type MemoryHashesRepository struct {
	mu     sync.RWMutex
	hashes []domain.StoredHash
}

func NewMemoryHashesRepository() *MemoryHashesRepository {
	return &MemoryHashesRepository{}
}

// StoreHashes upserts one entry per (image path, family) pair, so a retried
// job overwrites its earlier fingerprints instead of duplicating them.
func (r *MemoryHashesRepository) StoreHashes(_ context.Context, imagePath string, hashes map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	for family, hash := range hashes {
		updated := false
		for i := range r.hashes {
			if r.hashes[i].ImagePath == imagePath && r.hashes[i].Family == family {
				r.hashes[i].Hash = hash
				updated = true
				break
			}
		}
		if updated {
			continue
		}
		r.hashes = append(r.hashes, domain.StoredHash{
			ImagePath: imagePath,
			Family:    family,
			Hash:      hash,
			CreatedAt: now,
		})
	}
	return nil
}

func (r *MemoryHashesRepository) ListHashes(_ context.Context, family string) ([]domain.StoredHash, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matches := make([]domain.StoredHash, 0)
	for _, stored := range r.hashes {
		if stored.Family == family {
			matches = append(matches, stored)
		}
	}
	return matches, nil
}
