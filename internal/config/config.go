package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config centralizes runtime settings for the API and pipeline workers.
// Every tuning constant of the decision pipeline is adjustable here.
type Config struct {
	Port      string
	AuthToken string

	DatabaseURL string

	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	RedisStream       string
	RedisDLQ          string
	RedisGroup        string
	RedisConsumer     string
	BrokerPingSeconds int

	WorkerConcurrency int
	WorkerRateJobs    int
	WorkerRateWindow  time.Duration
	QueueMaxAttempts  int
	RetryBase         time.Duration

	SearchRateCapacity int
	SearchRateWindow   time.Duration
	SearchDelay        time.Duration
	ReverseSearchURL   string

	HashSimilarityThreshold float64
	LocalScoreThreshold     float64
	RiskNonOriginalRatio    float64

	CollectorTimeout time.Duration
	ExtractTool      string
	HashTool         string
	CompareTool      string
	ReferenceDir     string
	DiagramsDir      string

	RateLimitRPS   float64
	RateLimitBurst int

	WorkerEnabled bool
}

func Load() Config {
	// Process environment keeps precedence over .env files.
	_ = godotenv.Load(".env.local", ".env")

	return Config{
		Port:      getEnv("PORT", "8080"),
		AuthToken: getEnv("API_AUTH_TOKEN", ""),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		RedisAddr:         getEnv("REDIS_ADDR", ""),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		RedisDB:           getEnvInt("REDIS_DB", 0),
		RedisStream:       getEnv("REDIS_STREAM", "forensics_jobs"),
		RedisDLQ:          getEnv("REDIS_DLQ_STREAM", "forensics_jobs_dlq"),
		RedisGroup:        getEnv("REDIS_GROUP", "forensics_workers"),
		RedisConsumer:     getEnv("REDIS_CONSUMER", "worker-1"),
		BrokerPingSeconds: getEnvInt("BROKER_PING_SECONDS", 10),

		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 2),
		WorkerRateJobs:    getEnvInt("WORKER_RATE_JOBS", 10),
		WorkerRateWindow:  time.Duration(getEnvInt("WORKER_RATE_WINDOW_SECONDS", 10)) * time.Second,
		QueueMaxAttempts:  getEnvInt("QUEUE_MAX_ATTEMPTS", 3),
		RetryBase:         time.Duration(getEnvInt("RETRY_BASE_MS", 2000)) * time.Millisecond,

		SearchRateCapacity: getEnvInt("SEARCH_RATE_CAPACITY", 10),
		SearchRateWindow:   time.Duration(getEnvInt("SEARCH_RATE_WINDOW_MINUTES", 60)) * time.Minute,
		SearchDelay:        time.Duration(getEnvInt("SEARCH_DELAY_SECONDS", 5)) * time.Second,
		ReverseSearchURL:   getEnv("REVERSE_SEARCH_URL", ""),

		HashSimilarityThreshold: getEnvFloat("HASH_SIMILARITY_THRESHOLD", 0.85),
		LocalScoreThreshold:     getEnvFloat("LOCAL_SCORE_THRESHOLD", 0.35),
		RiskNonOriginalRatio:    getEnvFloat("RISK_NONORIGINAL_RATIO", 0.3),

		CollectorTimeout: time.Duration(getEnvInt("COLLECTOR_TIMEOUT_SECONDS", 120)) * time.Second,
		ExtractTool:      getEnv("EXTRACT_TOOL", "extract-diagrams"),
		HashTool:         getEnv("HASH_TOOL", ""),
		CompareTool:      getEnv("COMPARE_TOOL", ""),
		ReferenceDir:     getEnv("REFERENCE_DIR", ""),
		DiagramsDir:      getEnv("DIAGRAMS_DIR", "diagrams"),

		RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 40),

		WorkerEnabled: getEnvBool("WORKER_ENABLED", true),
	}
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
