package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/scholarsentinel/diagram-forensics/internal/collector"
	"github.com/scholarsentinel/diagram-forensics/internal/domain"
	"github.com/scholarsentinel/diagram-forensics/internal/engine"
	"github.com/scholarsentinel/diagram-forensics/internal/pipeline"
	"github.com/scholarsentinel/diagram-forensics/internal/repository"
)

// scriptedConsumer feeds each message to the handler once and records the
// handler's verdicts, mimicking the queue without a broker.
type scriptedConsumer struct {
	messages []domain.QueueMessage
	results  []error
}

func (c *scriptedConsumer) Consume(ctx context.Context, handler func(context.Context, domain.QueueMessage) error) error {
	for _, message := range c.messages {
		c.results = append(c.results, handler(ctx, message))
	}
	return nil
}

type poolExtractor struct {
	err error
}

func (e *poolExtractor) Extract(context.Context, string, string) ([]domain.DiagramInfo, error) {
	if e.err != nil {
		return nil, e.err
	}
	return []domain.DiagramInfo{{Path: "d1.png", Page: 1}}, nil
}

type poolHasher struct{}

func (poolHasher) ComputeHashes(context.Context, string) (map[string]string, error) {
	return map[string]string{"dHash": "aaaaaaaaaaaaaaaa"}, nil
}

func newPoolFixture(t *testing.T, extractErr error) (*repository.MemoryJobsRepository, *pipeline.Runner) {
	t.Helper()
	jobs := repository.NewMemoryJobsRepository()
	hashes := repository.NewMemoryHashesRepository()
	runner := pipeline.NewRunner(pipeline.Config{DiagramsDir: t.TempDir()}, pipeline.Dependencies{
		Jobs:       jobs,
		Reports:    repository.NewMemoryReportsRepository(),
		HashCorpus: hashes,
		Extractor:  &poolExtractor{err: extractErr},
		Hasher:     poolHasher{},
		Duplicates: collector.NewDuplicateDetector(hashes, 0.85),
		Engine:     engine.New(engine.Config{}),
	})
	return jobs, runner
}

func seedJob(t *testing.T, jobs *repository.MemoryJobsRepository, attempt int) domain.QueueMessage {
	t.Helper()
	pdf := filepath.Join(t.TempDir(), "thesis.pdf")
	if err := os.WriteFile(pdf, []byte("%PDF-1.4"), 0o644); err != nil {
		t.Fatalf("write temp pdf: %v", err)
	}

	payload := json.RawMessage(fmt.Sprintf(`{"pdf_path":%q}`, pdf))
	job := &domain.Job{
		ID:        fmt.Sprintf("job-attempt-%d", attempt),
		Type:      domain.JobTypePlagiarism,
		Payload:   payload,
		State:     domain.JobStateWaiting,
		CreatedAt: time.Now().UTC(),
	}
	if err := jobs.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("create job: %v", err)
	}
	return domain.QueueMessage{
		JobID:       job.ID,
		Type:        job.Type,
		Payload:     payload,
		Attempt:     attempt,
		RequestedAt: job.CreatedAt,
	}
}

func TestPoolCompletesQueuedJobs(t *testing.T) {
	jobs, runner := newPoolFixture(t, nil)
	message := seedJob(t, jobs, 0)
	consumer := &scriptedConsumer{messages: []domain.QueueMessage{message}}

	pool := NewPool(Config{Concurrency: 1}, consumer, runner, jobs, nil, nil)
	pool.Start(context.Background())

	if len(consumer.results) != 1 || consumer.results[0] != nil {
		t.Fatalf("expected one successful handling, got %v", consumer.results)
	}

	job, err := jobs.GetJob(context.Background(), message.JobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.State != domain.JobStateCompleted || job.Progress != 100 {
		t.Fatalf("expected completed/100, got %s/%d", job.State, job.Progress)
	}
	if job.Attempts != 1 {
		t.Fatalf("expected one recorded attempt, got %d", job.Attempts)
	}
}

func TestEarlyAttemptFailureLeavesJobRetryable(t *testing.T) {
	jobs, runner := newPoolFixture(t, errors.New("renderer crashed"))
	message := seedJob(t, jobs, 0)
	consumer := &scriptedConsumer{messages: []domain.QueueMessage{message}}

	pool := NewPool(Config{Concurrency: 1, MaxAttempts: 3}, consumer, runner, jobs, nil, nil)
	pool.Start(context.Background())

	if len(consumer.results) != 1 || consumer.results[0] == nil {
		t.Fatalf("handler must surface the error so the queue retries, got %v", consumer.results)
	}

	job, err := jobs.GetJob(context.Background(), message.JobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.State.Terminal() {
		t.Fatalf("attempt 1 of 3 must not finalize the job, got %s", job.State)
	}
}

func TestLastAttemptFailureFinalizesJob(t *testing.T) {
	jobs, runner := newPoolFixture(t, errors.New("renderer crashed"))
	message := seedJob(t, jobs, 2) // third and final attempt
	consumer := &scriptedConsumer{messages: []domain.QueueMessage{message}}

	pool := NewPool(Config{Concurrency: 1, MaxAttempts: 3}, consumer, runner, jobs, nil, nil)
	pool.Start(context.Background())

	job, err := jobs.GetJob(context.Background(), message.JobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.State != domain.JobStateFailed {
		t.Fatalf("spent retry budget must fail the job, got %s", job.State)
	}
	if job.FailureReason == "" {
		t.Fatalf("failure reason must be recorded")
	}
	if job.FinishedAt == nil {
		t.Fatalf("failed job must carry a finish time")
	}
}
