package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/scholarsentinel/diagram-forensics/internal/domain"
	"github.com/scholarsentinel/diagram-forensics/internal/metrics"
	"github.com/scholarsentinel/diagram-forensics/internal/pipeline"
	"github.com/scholarsentinel/diagram-forensics/internal/queue"
	"github.com/scholarsentinel/diagram-forensics/internal/repository"
)

// BrokerStatus is the availability flag read before every submission.
type BrokerStatus interface {
	Available() bool
}

// SubmitResult tells the caller how the accepted job will execute.
type SubmitResult struct {
	JobID   string
	Mode    domain.SubmitMode
	Warning string
}

// JobsService owns submission and reads. Submission picks queued or direct
// mode from broker availability per call; a failed enqueue falls back to
// direct execution so accepted work is never dropped.
type JobsService struct {
	jobs     repository.JobsRepository
	reports  repository.ReportsRepository
	producer queue.Producer
	broker   BrokerStatus
	runner   *pipeline.Runner
	metrics  *metrics.Metrics
	logger   *log.Logger

	// execCtx outlives the submitting request so direct-mode jobs keep
	// running after the HTTP response is written.
	execCtx context.Context
}

func NewJobsService(
	execCtx context.Context,
	jobs repository.JobsRepository,
	reports repository.ReportsRepository,
	producer queue.Producer,
	broker BrokerStatus,
	runner *pipeline.Runner,
	m *metrics.Metrics,
	logger *log.Logger,
) *JobsService {
	return &JobsService{
		jobs:     jobs,
		reports:  reports,
		producer: producer,
		broker:   broker,
		runner:   runner,
		metrics:  m,
		logger:   logger,
		execCtx:  execCtx,
	}
}

// Submit validates the payload, persists the job and hands it to the queue
// or the in-process runner. Validation failures leave no job record.
func (s *JobsService) Submit(ctx context.Context, jobType domain.JobType, payload json.RawMessage) (*SubmitResult, error) {
	if _, err := domain.DecodePayload(jobType, payload); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	job := &domain.Job{
		ID:        uuid.NewString(),
		Type:      jobType,
		Payload:   payload,
		State:     domain.JobStateWaiting,
		CreatedAt: now,
	}
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	message := domain.QueueMessage{
		JobID:       job.ID,
		Type:        jobType,
		Payload:     payload,
		Attempt:     0,
		RequestedAt: now,
	}

	if s.producer != nil && s.broker != nil && s.broker.Available() {
		if err := s.producer.Enqueue(ctx, message); err == nil {
			s.submitted(domain.SubmitModeQueue)
			return &SubmitResult{JobID: job.ID, Mode: domain.SubmitModeQueue}, nil
		} else if s.logger != nil {
			s.logger.Printf("enqueue failed, falling back to direct execution job_id=%s: %v", job.ID, err)
		}
	}

	s.runDirect(message)
	s.submitted(domain.SubmitModeDirect)
	return &SubmitResult{
		JobID:   job.ID,
		Mode:    domain.SubmitModeDirect,
		Warning: "message broker unavailable; job is executing in-process",
	}, nil
}

// runDirect executes the job on a fire-and-forget task. Direct mode has a
// single attempt: any error finalizes the job as failed.
func (s *JobsService) runDirect(message domain.QueueMessage) {
	go func() {
		if err := s.runner.Run(s.execCtx, message); err != nil {
			if s.logger != nil {
				s.logger.Printf("direct job failed job_id=%s: %v", message.JobID, err)
			}
			if failErr := s.jobs.FailJob(s.execCtx, message.JobID, err.Error()); failErr != nil && s.logger != nil {
				s.logger.Printf("failed to finalize job %s: %v", message.JobID, failErr)
			}
			if s.metrics != nil {
				s.metrics.JobsFailed.Inc()
			}
		}
	}()
}

func (s *JobsService) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	return s.jobs.GetJob(ctx, jobID)
}

func (s *JobsService) GetReport(ctx context.Context, jobID string) (*domain.PlagiarismReport, error) {
	return s.reports.GetReport(ctx, jobID)
}

func (s *JobsService) submitted(mode domain.SubmitMode) {
	if s.metrics != nil {
		s.metrics.JobsSubmitted.WithLabelValues(string(mode)).Inc()
	}
}
