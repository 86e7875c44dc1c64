package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the pipeline service
type Config struct {
	// Server configuration
	Port            string        `json:"port"`
	Env             string        `json:"env"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	HTTPTimeout     time.Duration `json:"http_timeout"`

	// Trigger security
	TriggerSecret string `json:"-" validate:"required"`

	// Postgres
	DatabaseURL string `json:"database_url" validate:"required"`

	// Redis (dedup fast path, last-run stamp, feed watermarks)
	RedisURL    string        `json:"redis_url" validate:"required"`
	RedisPrefix string        `json:"redis_prefix"`
	DedupTTL    time.Duration `json:"dedup_ttl"`

	// Source registry
	SourcesPath string `json:"sources_path" validate:"required"`

	// Pipeline knobs
	LockName         string        `json:"lock_name"`
	LockTTL          time.Duration `json:"lock_ttl"`
	MinRunInterval   time.Duration `json:"min_run_interval"`
	RunBudget        time.Duration `json:"run_budget"`
	ArticleCeiling   int           `json:"article_ceiling" validate:"gt=0"`
	FetchConcurrency int           `json:"fetch_concurrency" validate:"gt=0"`
	FeedTimeout      time.Duration `json:"feed_timeout"`
	FetchRetries     int           `json:"fetch_retries"`
	InsertBatchSize  int           `json:"insert_batch_size" validate:"gt=0"`

	// Clustering
	ClusterWindow    time.Duration `json:"cluster_window"`
	ClusterThreshold float64       `json:"cluster_threshold" validate:"gt=0,lte=1"`
	PublishTTL       time.Duration `json:"publish_ttl"`

	// Enrichment
	AIApiKey          string        `json:"-" validate:"required"`
	AIModel           string        `json:"ai_model"`
	AITimeout         time.Duration `json:"ai_timeout"`
	EnrichConcurrency int           `json:"enrich_concurrency" validate:"gt=0"`
	TaskRetries       int           `json:"task_retries"`
	BreakerThreshold  int           `json:"breaker_threshold" validate:"gt=0"`

	// Logging
	LogLevel string `json:"log_level"`
	LogFile  string `json:"log_file"`
}

// Load loads configuration from environment variables and validates it
func Load() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: Error loading .env file: %v", err)
	}

	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		Env:             getEnv("APP_ENV", "development"),
		ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		HTTPTimeout:     getEnvAsDuration("HTTP_TIMEOUT", 30*time.Second),

		TriggerSecret: getEnv("TRIGGER_SECRET", ""),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379/0"),
		RedisPrefix: getEnv("REDIS_PREFIX", "pulse:"),
		DedupTTL:    getEnvAsDuration("DEDUP_TTL", 720*time.Hour), // 30 days

		SourcesPath: getEnv("SOURCES_PATH", "./configs/sources.yaml"),

		LockName:         getEnv("LOCK_NAME", "pipeline"),
		LockTTL:          time.Duration(getEnvAsInt("LOCK_TTL_MINUTES", 55)) * time.Minute,
		MinRunInterval:   getEnvAsDuration("MIN_RUN_INTERVAL", 20*time.Minute),
		RunBudget:        getEnvAsDuration("RUN_BUDGET", 50*time.Minute),
		ArticleCeiling:   getEnvAsInt("ARTICLE_CEILING", 100),
		FetchConcurrency: getEnvAsInt("FETCH_CONCURRENCY", 8),
		FeedTimeout:      getEnvAsDuration("FEED_TIMEOUT", 15*time.Second),
		FetchRetries:     getEnvAsInt("FETCH_RETRIES", 3),
		InsertBatchSize:  getEnvAsInt("INSERT_BATCH_SIZE", 50),

		ClusterWindow:    getEnvAsDuration("CLUSTER_WINDOW", 48*time.Hour),
		ClusterThreshold: getEnvAsFloat("CLUSTER_THRESHOLD", 0.35),
		PublishTTL:       getEnvAsDuration("PUBLISH_TTL", 72*time.Hour),

		AIApiKey:          getEnv("AI_API_KEY", ""),
		AIModel:           getEnv("AI_MODEL", "gemini-1.5-flash"),
		AITimeout:         getEnvAsDuration("AI_TIMEOUT", 30*time.Second),
		EnrichConcurrency: getEnvAsInt("ENRICH_CONCURRENCY", 4),
		TaskRetries:       getEnvAsInt("TASK_RETRIES", 2),
		BreakerThreshold:  getEnvAsInt("BREAKER_THRESHOLD", 5),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  getEnv("LOG_FILE", ""),
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	return cfg
}

// Validate validates the configuration
func (c *Config) Validate() error {
	return validator.New().Struct(c)
}

// Helper functions for environment variable handling
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(name string, defaultVal int) int {
	valueStr := getEnv(name, "")
	if valueStr == "" {
		return defaultVal
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Invalid %s value: %v, using default: %d", name, err, defaultVal)
		return defaultVal
	}
	return value
}

func getEnvAsFloat(name string, defaultVal float64) float64 {
	valueStr := getEnv(name, "")
	if valueStr == "" {
		return defaultVal
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		log.Printf("Invalid %s value: %v, using default: %g", name, err, defaultVal)
		return defaultVal
	}
	return value
}

func getEnvAsDuration(name string, defaultVal time.Duration) time.Duration {
	valueStr := getEnv(name, "")
	if valueStr == "" {
		return defaultVal
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		log.Printf("Invalid %s value: %v, using default: %v", name, err, defaultVal)
		return defaultVal
	}
	return value
}
