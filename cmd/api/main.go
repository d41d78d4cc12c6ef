package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/scholarsentinel/diagram-forensics/internal/collector"
	"github.com/scholarsentinel/diagram-forensics/internal/config"
	"github.com/scholarsentinel/diagram-forensics/internal/engine"
	httpserver "github.com/scholarsentinel/diagram-forensics/internal/http"
	"github.com/scholarsentinel/diagram-forensics/internal/http/handlers"
	"github.com/scholarsentinel/diagram-forensics/internal/metrics"
	"github.com/scholarsentinel/diagram-forensics/internal/pipeline"
	"github.com/scholarsentinel/diagram-forensics/internal/queue"
	"github.com/scholarsentinel/diagram-forensics/internal/ratelimit"
	"github.com/scholarsentinel/diagram-forensics/internal/repository"
	"github.com/scholarsentinel/diagram-forensics/internal/service"
	"github.com/scholarsentinel/diagram-forensics/internal/worker"
)

func main() {
	logger := log.New(os.Stdout, "[forensics] ", log.LstdFlags|log.LUTC|log.Lmicroseconds)
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	jobsRepo, reportsRepo, hashesRepo, storeCloser := setupStore(ctx, cfg, logger)
	defer storeCloser()

	broker, producer, consumer, queueCloser := setupQueue(ctx, cfg, logger)
	defer queueCloser()

	m := metrics.New()

	searchLimiter := ratelimit.NewLimiter(cfg.SearchRateCapacity, cfg.SearchRateWindow)
	searchLimiter.StartSweeper(time.Minute, ctx.Done())

	searcher := collector.NewHTTPReverseSearcher(collector.ReverseSearchConfig{
		BaseURL: cfg.ReverseSearchURL,
		Timeout: cfg.CollectorTimeout,
	}, searchLimiter)

	var hasher collector.Hasher = collector.NewNativeHasher()
	if cfg.HashTool != "" {
		hasher = collector.NewToolHasher(cfg.HashTool, cfg.CollectorTimeout)
	}

	var comparator collector.Comparator
	if cfg.CompareTool != "" {
		comparator = collector.NewToolComparator(cfg.CompareTool, cfg.CollectorTimeout, cfg.LocalScoreThreshold)
	}

	runner := pipeline.NewRunner(pipeline.Config{
		DiagramsDir:  cfg.DiagramsDir,
		ReferenceDir: cfg.ReferenceDir,
		SearchDelay:  cfg.SearchDelay,
	}, pipeline.Dependencies{
		Jobs:       jobsRepo,
		Reports:    reportsRepo,
		HashCorpus: hashesRepo,
		Extractor:  collector.NewToolExtractor(cfg.ExtractTool, cfg.CollectorTimeout),
		Hasher:     hasher,
		Duplicates: collector.NewDuplicateDetector(hashesRepo, cfg.HashSimilarityThreshold),
		Comparator: comparator,
		Searcher:   searcher,
		Engine: engine.New(engine.Config{
			HashThreshold: cfg.HashSimilarityThreshold,
			RiskRatio:     cfg.RiskNonOriginalRatio,
		}),
		Metrics: m,
		Logger:  logger,
	})

	jobsService := service.NewJobsService(ctx, jobsRepo, reportsRepo, producer, broker, runner, m, logger)
	api := handlers.NewAPI(jobsService, searcher, logger)

	handler := httpserver.NewRouter(httpserver.RouterDependencies{
		API:            api,
		Metrics:        m.Handler(),
		Logger:         logger,
		AuthToken:      cfg.AuthToken,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	if cfg.WorkerEnabled && consumer != nil {
		pool := worker.NewPool(worker.Config{
			Concurrency: cfg.WorkerConcurrency,
			RateJobs:    cfg.WorkerRateJobs,
			RateWindow:  cfg.WorkerRateWindow,
			MaxAttempts: cfg.QueueMaxAttempts,
		}, consumer, runner, jobsRepo, m, logger)
		go pool.Start(ctx)
		logger.Printf("worker pool started concurrency=%d", cfg.WorkerConcurrency)
	} else {
		logger.Printf("worker pool disabled; jobs execute in direct mode")
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Printf("api listening on :%s", cfg.Port)
		errChan <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Printf("shutdown signal received")
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("server failed: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}

func setupStore(
	ctx context.Context,
	cfg config.Config,
	logger *log.Logger,
) (repository.JobsRepository, repository.ReportsRepository, repository.HashesRepository, func()) {
	if cfg.DatabaseURL == "" {
		logger.Printf("DATABASE_URL not configured, using in-memory repositories")
		return repository.NewMemoryJobsRepository(),
			repository.NewMemoryReportsRepository(),
			repository.NewMemoryHashesRepository(),
			func() {}
	}

	store, err := repository.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Printf("failed to initialize postgres store, fallback to memory: %v", err)
		return repository.NewMemoryJobsRepository(),
			repository.NewMemoryReportsRepository(),
			repository.NewMemoryHashesRepository(),
			func() {}
	}
	logger.Printf("postgres store initialized")
	return store, store, store, store.Close
}

func setupQueue(
	ctx context.Context,
	cfg config.Config,
	logger *log.Logger,
) (*queue.BrokerMonitor, queue.Producer, queue.Consumer, func()) {
	if cfg.RedisAddr == "" {
		logger.Printf("REDIS_ADDR not configured, all jobs execute in direct mode")
		monitor := queue.NewBrokerMonitor(nil, 0, logger)
		return monitor, nil, nil, func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	monitor := queue.NewBrokerMonitor(client, time.Duration(cfg.BrokerPingSeconds)*time.Second, logger)
	monitor.Start(ctx)

	streams, err := queue.NewStreamsQueue(ctx, client, queue.StreamsConfig{
		Stream:      cfg.RedisStream,
		DLQStream:   cfg.RedisDLQ,
		Group:       cfg.RedisGroup,
		Consumer:    cfg.RedisConsumer,
		MaxAttempts: cfg.QueueMaxAttempts,
		RetryBase:   cfg.RetryBase,
	})
	if err != nil {
		logger.Printf("failed to initialize streams queue, jobs execute in direct mode: %v", err)
		return monitor, nil, nil, func() { _ = client.Close() }
	}

	logger.Printf("redis streams queue initialized")
	return monitor, streams, streams, func() { _ = client.Close() }
}
