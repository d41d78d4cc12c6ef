package repository

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/scholarsentinel/diagram-forensics/internal/domain"
)

var (
	ErrNotFound      = errors.New("resource not found")
	ErrAlreadyExists = errors.New("resource already exists")
	ErrTerminalState = errors.New("job is in a terminal state")
)

// JobsRepository abstracts durable job records. It is the single source of
// truth for job state; implementations serialize writes per job id.
type JobsRepository interface {
	CreateJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	// MarkActive transitions waiting->active (or re-activates an active job
	// on a queued retry) and records the attempt number.
	MarkActive(ctx context.Context, jobID string, attempt int) error
	// UpdateProgress raises progress; a lower value than the stored one is
	// ignored so progress never regresses.
	UpdateProgress(ctx context.Context, jobID string, progress int) error
	CompleteJob(ctx context.Context, jobID string, result json.RawMessage) error
	FailJob(ctx context.Context, jobID string, reason string) error
}

// ReportsRepository persists write-once plagiarism reports keyed by job id.
type ReportsRepository interface {
	SaveReport(ctx context.Context, report *domain.PlagiarismReport) error
	GetReport(ctx context.Context, jobID string) (*domain.PlagiarismReport, error)
}

// HashesRepository is the perceptual-hash corpus scanned by the duplicate
// detector. Hashes accumulate across jobs.
type HashesRepository interface {
	StoreHashes(ctx context.Context, imagePath string, hashes map[string]string) error
	ListHashes(ctx context.Context, family string) ([]domain.StoredHash, error)
}
