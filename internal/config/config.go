package config

import (
	"os"
	"strconv"
)

// Config centralizes runtime settings for the API and workers.
type Config struct {
	Port string

	AuthToken string

	// RecordStore selects "memory" or "postgres"; an empty DatabaseURL
	// forces the memory store regardless.
	RecordStore string
	DatabaseURL string

	// StorageProvider selects "local" or "gcs".
	StorageProvider string
	BlobRootDir     string
	GCSBucket       string

	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	RedisWakeChannel string

	MaxUploadBytes int64

	TaskMaxAttempts     int
	TaskBaseBackoffMS   int
	TaskMaxBackoffMS    int
	StaleClaimTimeoutMS int

	WorkerEnabled  bool
	WorkerCount    int
	PollIntervalMS int
	ReapIntervalMS int

	CacheTTLSeconds int
	CacheMaxEntries int

	RateLimitRPS   float64
	RateLimitBurst int

	CORSAllowedOrigins string
}

func Load() Config {
	return Config{
		Port: getEnv("PORT", "8080"),

		AuthToken: getEnv("API_AUTH_TOKEN", ""),

		RecordStore: getEnv("RECORD_STORE", "postgres"),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		StorageProvider: getEnv("STORAGE_PROVIDER", "local"),
		BlobRootDir:     getEnv("BLOB_ROOT_DIR", "data/blobs"),
		GCSBucket:       getEnv("GCS_BUCKET", ""),

		RedisAddr:        getEnv("REDIS_ADDR", ""),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		RedisDB:          getEnvInt("REDIS_DB", 0),
		RedisWakeChannel: getEnv("REDIS_WAKE_CHANNEL", "docpare_tasks"),

		MaxUploadBytes: int64(getEnvInt("MAX_UPLOAD_BYTES", 20<<20)),

		TaskMaxAttempts:     getEnvInt("TASK_MAX_ATTEMPTS", 3),
		TaskBaseBackoffMS:   getEnvInt("TASK_BASE_BACKOFF_MS", 2000),
		TaskMaxBackoffMS:    getEnvInt("TASK_MAX_BACKOFF_MS", 300000),
		StaleClaimTimeoutMS: getEnvInt("STALE_CLAIM_TIMEOUT_MS", 300000),

		WorkerEnabled:  getEnvBool("WORKER_ENABLED", true),
		WorkerCount:    getEnvInt("WORKER_COUNT", 2),
		PollIntervalMS: getEnvInt("WORKER_POLL_INTERVAL_MS", 1000),
		ReapIntervalMS: getEnvInt("WORKER_REAP_INTERVAL_MS", 30000),

		CacheTTLSeconds: getEnvInt("BLOB_CACHE_TTL_SECONDS", 900),
		CacheMaxEntries: getEnvInt("BLOB_CACHE_MAX_ENTRIES", 256),

		RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 40),

		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
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
