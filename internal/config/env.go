package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// SchemaEmbedDim is the width of the document_chunks.embedding column.
// Changing EMBED_DIM requires a migration that alters that column.
const SchemaEmbedDim = 768

type Config struct {
	Port            string
	GlobalPrefix    string
	CorsOrigins     []string
	ThrottleTTL     time.Duration
	ThrottleLimit   int
	ShutdownTimeout time.Duration
	LogLevel        slog.Level
	LogFormat       string

	DatabaseURL string
	DBMaxConns  int
	JWTSecret   string

	QueueDriver       string
	RedisHost         string
	RedisPort         int
	RedisPassword     string
	WorkerConcurrency int
	JobTimeout        time.Duration

	StorageDriver string
	UploadDir     string
	AwsAccessKey  string
	AwsSecretKey  string
	AwsRegion     string
	BucketName    string
	S3Endpoint    string
	MaxUploadSize int64

	AIAPIKey           string
	EmbedModel         string
	EmbedDim           int
	EmbedBatchSize     int
	GenModel           string
	FallbackModel      string
	ChunkTargetTokens  int
	ChunkOverlapTokens int
	QueryCacheSize     int
	QueryCacheTTL      time.Duration
}

// LoadConfig reads .env (if present) and the process environment.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	var errs []error
	intVar := func(key string, def int) int {
		n, err := getEnvInt(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return n
	}
	durVar := func(key string, def time.Duration) time.Duration {
		d, err := getEnvDuration(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return d
	}

	cfg := &Config{
		Port:            getEnv("PORT", "8000"),
		GlobalPrefix:    normalizePrefix(getEnv("GLOBAL_PREFIX", "api/v1/")),
		CorsOrigins:     splitList(getEnv("CORS_ORIGINS", "*")),
		ThrottleTTL:     durVar("THROTTLE_TTL", 60*time.Second),
		ThrottleLimit:   intVar("THROTTLE_LIMIT", 100),
		ShutdownTimeout: durVar("SHUTDOWN_TIMEOUT", 10*time.Second),
		LogFormat:       strings.ToLower(getEnv("LOG_FORMAT", "json")),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		DBMaxConns:  intVar("DB_MAX_CONNS", 20),
		JWTSecret:   getEnv("JWT_SECRET", ""),

		QueueDriver:       strings.ToLower(getEnv("QUEUE_DRIVER", "redis")),
		RedisHost:         getEnv("REDIS_HOST", "localhost"),
		RedisPort:         intVar("REDIS_PORT", 6379),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		WorkerConcurrency: intVar("WORKER_CONCURRENCY", 1),
		JobTimeout:        durVar("JOB_TIMEOUT", 5*time.Minute),

		StorageDriver: strings.ToLower(getEnv("STORAGE_DRIVER", "local")),
		UploadDir:     getEnv("UPLOAD_DIR", "./uploads"),
		AwsAccessKey:  getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey:  getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:     getEnv("AWS_REGION", "us-east-2"),
		BucketName:    getEnv("BUCKET_NAME", "knowledgehub-files"),
		S3Endpoint:    getEnv("S3_ENDPOINT", ""),
		MaxUploadSize: int64(intVar("MAX_UPLOAD_BYTES", 10*1024*1024)),

		AIAPIKey:           getEnv("GEMINI_API_KEY", ""),
		EmbedModel:         getEnv("EMBED_MODEL", "text-embedding-004"),
		EmbedDim:           intVar("EMBED_DIM", SchemaEmbedDim),
		EmbedBatchSize:     intVar("EMBED_BATCH_SIZE", 16),
		GenModel:           getEnv("GEMINI_CHAT_MODEL", "gemini-2.5-pro"),
		FallbackModel:      getEnv("GEMINI_FALLBACK_MODEL", "gemini-1.5-pro"),
		ChunkTargetTokens:  intVar("CHUNK_TARGET_TOKENS", 200),
		ChunkOverlapTokens: intVar("CHUNK_OVERLAP_TOKENS", 20),
		QueryCacheSize:     intVar("QUERY_CACHE_SIZE", 512),
		QueryCacheTTL:      durVar("QUERY_CACHE_TTL", 10*time.Minute),
	}

	level, err := parseLogLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		errs = append(errs, err)
	}
	cfg.LogLevel = level

	errs = append(errs, cfg.validate()...)
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

func (c *Config) validate() []error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL not set"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET not set"))
	}
	if c.AIAPIKey == "" {
		errs = append(errs, errors.New("GEMINI_API_KEY not set"))
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT: unsupported format %q (json, text)", c.LogFormat))
	}
	if c.QueueDriver != "redis" && c.QueueDriver != "memory" {
		errs = append(errs, fmt.Errorf("QUEUE_DRIVER: unsupported driver %q (redis, memory)", c.QueueDriver))
	}
	if c.StorageDriver != "local" && c.StorageDriver != "s3" {
		errs = append(errs, fmt.Errorf("STORAGE_DRIVER: unsupported driver %q (local, s3)", c.StorageDriver))
	}
	if c.WorkerConcurrency < 1 {
		errs = append(errs, fmt.Errorf("WORKER_CONCURRENCY must be >= 1, got %d", c.WorkerConcurrency))
	}
	if c.EmbedDim != SchemaEmbedDim {
		errs = append(errs, fmt.Errorf("EMBED_DIM must be %d to match the embedding column, got %d", SchemaEmbedDim, c.EmbedDim))
	}
	if c.ChunkOverlapTokens >= c.ChunkTargetTokens {
		errs = append(errs, fmt.Errorf("CHUNK_OVERLAP_TOKENS (%d) must be smaller than CHUNK_TARGET_TOKENS (%d)", c.ChunkOverlapTokens, c.ChunkTargetTokens))
	}
	return errs
}

// RedisAddr returns host:port for the queue broker.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// SetupLogger builds the process logger and installs it as the slog default.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}

	var handler slog.Handler
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) (int, error) {
	v := getEnv(key, "")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("%s=%q is not an int", key, v)
	}
	return n, nil
}

// getEnvDuration accepts Go durations ("30s") and bare seconds ("60").
func getEnvDuration(key string, def time.Duration) (time.Duration, error) {
	v := getEnv(key, "")
	if v == "" {
		return def, nil
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("%s=%q is not a duration", key, v)
	}
	return d, nil
}

func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL: unsupported level %q", level)
	}
}

// normalizePrefix turns "api/v1/" into "/api/v1".
func normalizePrefix(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	if p == "" {
		return ""
	}
	return "/" + p
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
