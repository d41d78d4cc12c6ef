package repository

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/scholarsentinel/diagram-forensics/internal/domain"
)

func newWaitingJob(id string) *domain.Job {
	return &domain.Job{
		ID:        id,
		Type:      domain.JobTypePlagiarism,
		Payload:   json.RawMessage(`{"pdf_path":"thesis.pdf"}`),
		State:     domain.JobStateWaiting,
		CreatedAt: time.Now().UTC(),
	}
}

func TestJobLifecycle(t *testing.T) {
	repo := NewMemoryJobsRepository()
	ctx := context.Background()

	if err := repo.CreateJob(ctx, newWaitingJob("job-1")); err != nil {
		t.Fatalf("create job: %v", err)
	}
	if err := repo.CreateJob(ctx, newWaitingJob("job-1")); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("duplicate create should fail with ErrAlreadyExists, got %v", err)
	}

	if err := repo.MarkActive(ctx, "job-1", 1); err != nil {
		t.Fatalf("mark active: %v", err)
	}
	if err := repo.UpdateProgress(ctx, "job-1", 40); err != nil {
		t.Fatalf("update progress: %v", err)
	}
	if err := repo.CompleteJob(ctx, "job-1", json.RawMessage(`{"ok":true}`)); err != nil {
		t.Fatalf("complete job: %v", err)
	}

	job, err := repo.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.State != domain.JobStateCompleted {
		t.Fatalf("expected completed, got %s", job.State)
	}
	if job.Progress != 100 {
		t.Fatalf("completion must pin progress to 100, got %d", job.Progress)
	}
	if job.StartedAt == nil || job.FinishedAt == nil {
		t.Fatalf("expected both timestamps set: started=%v finished=%v", job.StartedAt, job.FinishedAt)
	}
}

func TestProgressNeverDecreases(t *testing.T) {
	repo := NewMemoryJobsRepository()
	ctx := context.Background()

	if err := repo.CreateJob(ctx, newWaitingJob("job-1")); err != nil {
		t.Fatalf("create job: %v", err)
	}
	if err := repo.MarkActive(ctx, "job-1", 1); err != nil {
		t.Fatalf("mark active: %v", err)
	}
	if err := repo.UpdateProgress(ctx, "job-1", 60); err != nil {
		t.Fatalf("update progress: %v", err)
	}
	// A retry reporting an earlier milestone must not move the bar backwards.
	if err := repo.UpdateProgress(ctx, "job-1", 10); err != nil {
		t.Fatalf("update progress: %v", err)
	}

	job, err := repo.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Progress != 60 {
		t.Fatalf("progress regressed to %d", job.Progress)
	}
}

func TestTerminalStatesAreFinal(t *testing.T) {
	repo := NewMemoryJobsRepository()
	ctx := context.Background()

	if err := repo.CreateJob(ctx, newWaitingJob("done")); err != nil {
		t.Fatalf("create job: %v", err)
	}
	if err := repo.CompleteJob(ctx, "done", nil); err != nil {
		t.Fatalf("complete job: %v", err)
	}

	if err := repo.FailJob(ctx, "done", "late failure"); !errors.Is(err, ErrTerminalState) {
		t.Fatalf("completed job must reject failure, got %v", err)
	}
	if err := repo.CompleteJob(ctx, "done", nil); !errors.Is(err, ErrTerminalState) {
		t.Fatalf("completed job must reject re-completion, got %v", err)
	}
	if err := repo.MarkActive(ctx, "done", 2); !errors.Is(err, ErrTerminalState) {
		t.Fatalf("completed job must reject reactivation, got %v", err)
	}
	if err := repo.UpdateProgress(ctx, "done", 99); !errors.Is(err, ErrTerminalState) {
		t.Fatalf("completed job must reject progress updates, got %v", err)
	}

	job, err := repo.GetJob(ctx, "done")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.State != domain.JobStateCompleted || job.FailureReason != "" {
		t.Fatalf("terminal state was mutated: %s / %q", job.State, job.FailureReason)
	}
}

func TestUnknownJobIsNotFound(t *testing.T) {
	repo := NewMemoryJobsRepository()
	ctx := context.Background()

	if _, err := repo.GetJob(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := repo.MarkActive(ctx, "missing", 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := repo.FailJob(ctx, "missing", "boom"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetJobReturnsACopy(t *testing.T) {
	repo := NewMemoryJobsRepository()
	ctx := context.Background()

	if err := repo.CreateJob(ctx, newWaitingJob("job-1")); err != nil {
		t.Fatalf("create job: %v", err)
	}

	job, err := repo.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	job.State = domain.JobStateFailed
	job.Payload[0] = 'X'

	fresh, err := repo.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if fresh.State != domain.JobStateWaiting || fresh.Payload[0] != '{' {
		t.Fatalf("caller mutation leaked into the store: %s %q", fresh.State, fresh.Payload[:1])
	}
}

func TestReportsAreWriteOnce(t *testing.T) {
	repo := NewMemoryReportsRepository()
	ctx := context.Background()

	report := &domain.PlagiarismReport{
		JobID:     "job-1",
		PDFPath:   "thesis.pdf",
		Summary:   domain.ReportSummary{RiskLevel: domain.RiskLow},
		Timestamp: time.Now().UTC(),
	}
	if err := repo.SaveReport(ctx, report); err != nil {
		t.Fatalf("save report: %v", err)
	}

	altered := &domain.PlagiarismReport{JobID: "job-1", PDFPath: "other.pdf"}
	if err := repo.SaveReport(ctx, altered); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("second save must fail with ErrAlreadyExists, got %v", err)
	}

	stored, err := repo.GetReport(ctx, "job-1")
	if err != nil {
		t.Fatalf("get report: %v", err)
	}
	if stored.PDFPath != "thesis.pdf" {
		t.Fatalf("first write must win, got %s", stored.PDFPath)
	}

	if _, err := repo.GetReport(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoredHashesUpsertPerImageAndFamily(t *testing.T) {
	repo := NewMemoryHashesRepository()
	ctx := context.Background()

	if err := repo.StoreHashes(ctx, "a.png", map[string]string{"dHash": "1111111111111111"}); err != nil {
		t.Fatalf("store hashes: %v", err)
	}
	// A retried job re-stores the same diagram; the corpus must not grow.
	if err := repo.StoreHashes(ctx, "a.png", map[string]string{"dHash": "2222222222222222"}); err != nil {
		t.Fatalf("store hashes again: %v", err)
	}

	stored, err := repo.ListHashes(ctx, "dHash")
	if err != nil {
		t.Fatalf("list hashes: %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("re-storing must upsert, not duplicate: %d entries", len(stored))
	}
	if stored[0].Hash != "2222222222222222" {
		t.Fatalf("latest hash must win, got %s", stored[0].Hash)
	}
}

func TestHashCorpusFiltersByFamily(t *testing.T) {
	repo := NewMemoryHashesRepository()
	ctx := context.Background()

	if err := repo.StoreHashes(ctx, "a.png", map[string]string{
		"aHash": "1111111111111111",
		"dHash": "2222222222222222",
	}); err != nil {
		t.Fatalf("store hashes: %v", err)
	}
	if err := repo.StoreHashes(ctx, "b.png", map[string]string{
		"dHash": "3333333333333333",
	}); err != nil {
		t.Fatalf("store hashes: %v", err)
	}

	dHashes, err := repo.ListHashes(ctx, "dHash")
	if err != nil {
		t.Fatalf("list hashes: %v", err)
	}
	if len(dHashes) != 2 {
		t.Fatalf("expected 2 dHash entries, got %d", len(dHashes))
	}
	for _, stored := range dHashes {
		if stored.Family != "dHash" {
			t.Fatalf("family filter leaked %s", stored.Family)
		}
	}

	aHashes, err := repo.ListHashes(ctx, "aHash")
	if err != nil {
		t.Fatalf("list hashes: %v", err)
	}
	if len(aHashes) != 1 || aHashes[0].ImagePath != "a.png" {
		t.Fatalf("unexpected aHash entries: %+v", aHashes)
	}
}
