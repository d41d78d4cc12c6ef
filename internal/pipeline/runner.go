package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/scholarsentinel/diagram-forensics/internal/collector"
	"github.com/scholarsentinel/diagram-forensics/internal/domain"
	"github.com/scholarsentinel/diagram-forensics/internal/engine"
	"github.com/scholarsentinel/diagram-forensics/internal/metrics"
	"github.com/scholarsentinel/diagram-forensics/internal/repository"
)

const defaultClientKey = "pipeline"

type Config struct {
	// DiagramsDir is where extraction output lands, one subdirectory per job.
	DiagramsDir string
	// ReferenceDir is the default local comparison corpus.
	ReferenceDir string
	// SearchDelay separates consecutive reverse searches within one job.
	// Required by the external engine's anti-automation limits, not tunable
	// below zero.
	SearchDelay time.Duration
}

// Runner executes one job end to end. It owns all writes to the job record
// while the job is in flight; callers decide between retry and final
// failure when Run returns an error.
type Runner struct {
	cfg        Config
	jobs       repository.JobsRepository
	reports    repository.ReportsRepository
	hashCorpus repository.HashesRepository
	extractor  collector.Extractor
	hasher     collector.Hasher
	duplicates *collector.DuplicateDetector
	comparator collector.Comparator
	searcher   collector.ReverseSearcher
	engine     *engine.Engine
	metrics    *metrics.Metrics
	logger     *log.Logger
}

type Dependencies struct {
	Jobs       repository.JobsRepository
	Reports    repository.ReportsRepository
	HashCorpus repository.HashesRepository
	Extractor  collector.Extractor
	Hasher     collector.Hasher
	Duplicates *collector.DuplicateDetector
	Comparator collector.Comparator
	Searcher   collector.ReverseSearcher
	Engine     *engine.Engine
	Metrics    *metrics.Metrics
	Logger     *log.Logger
}

func NewRunner(cfg Config, deps Dependencies) *Runner {
	if cfg.DiagramsDir == "" {
		cfg.DiagramsDir = "diagrams"
	}
	if cfg.SearchDelay < 0 {
		cfg.SearchDelay = 0
	}
	return &Runner{
		cfg:        cfg,
		jobs:       deps.Jobs,
		reports:    deps.Reports,
		hashCorpus: deps.HashCorpus,
		extractor:  deps.Extractor,
		hasher:     deps.Hasher,
		duplicates: deps.Duplicates,
		comparator: deps.Comparator,
		searcher:   deps.Searcher,
		engine:     deps.Engine,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
	}
}

// Run drives one queue message to a result. A returned error means the
// attempt failed; the job record is still active so a retry can pick it up.
func (r *Runner) Run(ctx context.Context, message domain.QueueMessage) error {
	started := time.Now()

	if err := r.jobs.MarkActive(ctx, message.JobID, message.Attempt+1); err != nil {
		return fmt.Errorf("mark job %s active: %w", message.JobID, err)
	}
	r.progress(ctx, message.JobID, 10)

	payload, err := domain.DecodePayload(message.Type, message.Payload)
	if err != nil {
		return fmt.Errorf("decode payload for job %s: %w", message.JobID, err)
	}

	var result json.RawMessage
	switch typed := payload.(type) {
	case domain.PlagiarismPayload:
		result, err = r.runPlagiarism(ctx, message.JobID, typed)
	case domain.ExtractPayload:
		result, err = r.runExtract(ctx, message.JobID, typed)
	case domain.HashPayload:
		result, err = r.runHash(ctx, typed)
	case domain.ComparePayload:
		result, err = r.runCompare(ctx, typed)
	case domain.ReverseSearchPayload:
		result, err = r.runReverseSearch(ctx, typed)
	default:
		err = fmt.Errorf("no runner for job type %s", message.Type)
	}
	if err != nil {
		return err
	}

	r.progress(ctx, message.JobID, 90)
	if err := r.jobs.CompleteJob(ctx, message.JobID, result); err != nil {
		return fmt.Errorf("complete job %s: %w", message.JobID, err)
	}

	if r.metrics != nil {
		r.metrics.JobsCompleted.Inc()
		r.metrics.JobDuration.Observe(time.Since(started).Seconds())
	}
	if r.logger != nil {
		r.logger.Printf("job completed type=%s job_id=%s duration_ms=%d",
			message.Type, message.JobID, time.Since(started).Milliseconds())
	}
	return nil
}

func (r *Runner) runPlagiarism(ctx context.Context, jobID string, payload domain.PlagiarismPayload) (json.RawMessage, error) {
	outputDir := filepath.Join(r.cfg.DiagramsDir, jobID)
	diagrams, err := r.extractor.Extract(ctx, payload.PDFPath, outputDir)
	if err != nil {
		// Extraction failure is fatal: there is nothing to analyze.
		return nil, fmt.Errorf("extract diagrams: %w", err)
	}

	clientKey := payload.ClientKey
	if clientKey == "" {
		clientKey = defaultClientKey
	}
	referenceDir := payload.ReferenceDir
	if referenceDir == "" {
		referenceDir = r.cfg.ReferenceDir
	}

	diagramReports := make([]domain.DiagramReport, 0, len(diagrams))
	searchesDone := 0
	for index, diagram := range diagrams {
		report := r.analyzeDiagram(ctx, diagram, index+1, referenceDir, clientKey, &searchesDone)
		diagramReports = append(diagramReports, report)
		if len(diagrams) > 0 {
			r.progress(ctx, jobID, 10+75*(index+1)/len(diagrams))
		}
	}

	report := &domain.PlagiarismReport{
		JobID:         jobID,
		PDFPath:       payload.PDFPath,
		TotalDiagrams: len(diagrams),
		Diagrams:      diagramReports,
		Summary:       r.engine.Summarize(diagramReports),
		Timestamp:     time.Now().UTC(),
	}
	if err := r.reports.SaveReport(ctx, report); err != nil && !errors.Is(err, repository.ErrAlreadyExists) {
		return nil, fmt.Errorf("persist report: %w", err)
	}

	return json.Marshal(map[string]any{
		"total_diagrams":     report.TotalDiagrams,
		"risk_level":         report.Summary.RiskLevel,
		"average_confidence": report.Summary.AverageConfidence,
	})
}

// analyzeDiagram gathers every available signal for one diagram and scores
// it. A failed collector records its error and the rest still run.
func (r *Runner) analyzeDiagram(
	ctx context.Context,
	diagram domain.DiagramInfo,
	index int,
	referenceDir string,
	clientKey string,
	searchesDone *int,
) domain.DiagramReport {
	report := domain.DiagramReport{Diagram: diagram.Path, Index: index}
	failures := make([]string, 0, 2)

	hashes, err := r.hasher.ComputeHashes(ctx, diagram.Path)
	if err != nil {
		failures = append(failures, fmt.Sprintf("hashing: %v", err))
		r.collectorFailure("hash", diagram.Path, err)
	} else {
		if err := r.hashCorpus.StoreHashes(ctx, diagram.Path, hashes); err != nil {
			failures = append(failures, fmt.Sprintf("hash store: %v", err))
			r.collectorFailure("hash_store", diagram.Path, err)
		}
		if family, candidate, ok := preferredHash(hashes); ok {
			matches, err := r.duplicates.FindMatches(ctx, diagram.Path, family, candidate)
			if err != nil {
				failures = append(failures, fmt.Sprintf("duplicate scan: %v", err))
				r.collectorFailure("duplicate", diagram.Path, err)
			} else {
				report.HashMatches = matches
			}
		}
	}

	if r.comparator != nil && referenceDir != "" {
		similarity, err := r.comparator.Compare(ctx, diagram.Path, referenceDir)
		if err != nil {
			failures = append(failures, fmt.Sprintf("local comparison: %v", err))
			r.collectorFailure("compare", diagram.Path, err)
		} else {
			report.LocalSimilarity = similarity
		}
	}

	if r.searcher != nil {
		// Reverse searches within a job run strictly one at a time with a
		// pause between calls; the external engine blocks bursts.
		if *searchesDone > 0 && r.cfg.SearchDelay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(r.cfg.SearchDelay):
			}
		}
		result, err := r.searcher.Search(ctx, diagram.Path, clientKey)
		*searchesDone++
		switch {
		case err == nil:
			report.ReverseSearch = result
		case errors.Is(err, collector.ErrSearchNotConfigured):
			// No signal, not an error.
		default:
			var limited *collector.RateLimitError
			if errors.As(err, &limited) && r.metrics != nil {
				r.metrics.RateLimitDenials.Inc()
			}
			report.ReverseSearch = &domain.ReverseSearch{Error: err.Error()}
			r.collectorFailure("reverse_search", diagram.Path, err)
		}
	}

	r.engine.Score(&report)
	if len(failures) > 0 {
		report.Error = strings.Join(failures, "; ")
	}
	return report
}

func (r *Runner) runExtract(ctx context.Context, jobID string, payload domain.ExtractPayload) (json.RawMessage, error) {
	outputDir := filepath.Join(r.cfg.DiagramsDir, jobID)
	diagrams, err := r.extractor.Extract(ctx, payload.PDFPath, outputDir)
	if err != nil {
		return nil, fmt.Errorf("extract diagrams: %w", err)
	}
	return json.Marshal(map[string]any{
		"pdf_path": payload.PDFPath,
		"count":    len(diagrams),
		"diagrams": diagrams,
	})
}

func (r *Runner) runHash(ctx context.Context, payload domain.HashPayload) (json.RawMessage, error) {
	hashes, err := r.hasher.ComputeHashes(ctx, payload.ImagePath)
	if err != nil {
		return nil, fmt.Errorf("compute hashes: %w", err)
	}
	if err := r.hashCorpus.StoreHashes(ctx, payload.ImagePath, hashes); err != nil {
		return nil, fmt.Errorf("store hashes: %w", err)
	}

	result := map[string]any{"image_path": payload.ImagePath, "hashes": hashes}
	if family, candidate, ok := preferredHash(hashes); ok {
		matches, err := r.duplicates.FindMatches(ctx, payload.ImagePath, family, candidate)
		if err == nil {
			result["matches"] = matches
		}
	}
	return json.Marshal(result)
}

func (r *Runner) runCompare(ctx context.Context, payload domain.ComparePayload) (json.RawMessage, error) {
	if r.comparator == nil {
		return nil, errors.New("local comparison tool is not configured")
	}
	similarity, err := r.comparator.Compare(ctx, payload.ImagePath, payload.ReferenceDir)
	if err != nil {
		return nil, fmt.Errorf("compare image: %w", err)
	}
	return json.Marshal(similarity)
}

func (r *Runner) runReverseSearch(ctx context.Context, payload domain.ReverseSearchPayload) (json.RawMessage, error) {
	clientKey := payload.ClientKey
	if clientKey == "" {
		clientKey = defaultClientKey
	}

	result, err := r.searcher.Search(ctx, payload.ImagePath, clientKey)
	if err != nil {
		var limited *collector.RateLimitError
		if errors.As(err, &limited) {
			if r.metrics != nil {
				r.metrics.RateLimitDenials.Inc()
			}
			// Denial is a result, not a job failure: the quota message is
			// retained for the caller.
			result = &domain.ReverseSearch{Error: err.Error()}
		} else {
			return nil, fmt.Errorf("reverse search: %w", err)
		}
	}
	return json.Marshal(result)
}

// preferredHash picks a deterministic family for duplicate scanning.
func preferredHash(hashes map[string]string) (family, hash string, ok bool) {
	for _, candidate := range []string{collector.HashFamilyDifference, collector.HashFamilyAverage} {
		if value, present := hashes[candidate]; present && value != "" {
			return candidate, value, true
		}
	}
	return "", "", false
}

func (r *Runner) progress(ctx context.Context, jobID string, value int) {
	if err := r.jobs.UpdateProgress(ctx, jobID, value); err != nil && r.logger != nil {
		r.logger.Printf("progress update failed job_id=%s: %v", jobID, err)
	}
}

func (r *Runner) collectorFailure(stage, path string, err error) {
	if r.metrics != nil {
		r.metrics.CollectorFailures.WithLabelValues(stage).Inc()
	}
	if r.logger != nil {
		r.logger.Printf("collector failure stage=%s diagram=%s: %v", stage, path, err)
	}
}
