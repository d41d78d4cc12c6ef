package worker

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/scholarsentinel/diagram-forensics/internal/domain"
	"github.com/scholarsentinel/diagram-forensics/internal/metrics"
	"github.com/scholarsentinel/diagram-forensics/internal/pipeline"
	"github.com/scholarsentinel/diagram-forensics/internal/queue"
	"github.com/scholarsentinel/diagram-forensics/internal/repository"
)

type Config struct {
	// Concurrency bounds simultaneous jobs (default 2).
	Concurrency int
	// RateJobs per RateWindow caps pool throughput independent of the
	// reverse-search limiter (default 10 jobs / 10s).
	RateJobs   int
	RateWindow time.Duration
	// MaxAttempts mirrors the queue retry budget; the job record is only
	// marked failed once the last attempt is spent.
	MaxAttempts int
}

// Pool consumes queued jobs with bounded concurrency and a shared rate
// ceiling. A job that errors is retried by the queue; the pool itself
// never crashes on a bad job.
type Pool struct {
	cfg      Config
	consumer queue.Consumer
	runner   *pipeline.Runner
	jobs     repository.JobsRepository
	limiter  *rate.Limiter
	metrics  *metrics.Metrics
	logger   *log.Logger
}

func NewPool(
	cfg Config,
	consumer queue.Consumer,
	runner *pipeline.Runner,
	jobs repository.JobsRepository,
	m *metrics.Metrics,
	logger *log.Logger,
) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.RateJobs <= 0 {
		cfg.RateJobs = 10
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = 10 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Pool{
		cfg:      cfg,
		consumer: consumer,
		runner:   runner,
		jobs:     jobs,
		limiter:  rate.NewLimiter(rate.Limit(float64(cfg.RateJobs)/cfg.RateWindow.Seconds()), cfg.RateJobs),
		metrics:  m,
		logger:   logger,
	}
}

// Start blocks until ctx is done, running Concurrency consume loops.
func (p *Pool) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.consumeLoop(ctx)
		}()
	}
	wg.Wait()
}

func (p *Pool) consumeLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		err := p.consumer.Consume(ctx, p.handle)
		if err == nil || ctx.Err() != nil {
			return
		}
		if p.logger != nil {
			p.logger.Printf("worker consume loop error: %v", err)
		}

		timer := time.NewTimer(2 * time.Second)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (p *Pool) handle(ctx context.Context, message domain.QueueMessage) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}

	err := p.runner.Run(ctx, message)
	if err == nil {
		return nil
	}
	if p.logger != nil {
		p.logger.Printf("job attempt failed job_id=%s attempt=%d: %v",
			message.JobID, message.Attempt+1, err)
	}

	// Returning the error requeues the message; only the last attempt
	// finalizes the job record.
	if message.Attempt+1 >= p.cfg.MaxAttempts {
		if failErr := p.jobs.FailJob(ctx, message.JobID, err.Error()); failErr != nil && p.logger != nil {
			p.logger.Printf("failed to finalize job %s: %v", message.JobID, failErr)
		}
		if p.metrics != nil {
			p.metrics.JobsFailed.Inc()
		}
	}
	return err
}
