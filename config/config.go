package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// HTTP API
	ServerPort      int
	APIKey          string
	MaxUploadSizeMB int64
	RateLimitRPS    float64
	RateLimitBurst  int

	// Redis coordination store
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Connection retry policy
	MaxRetries          int
	InitialRetryDelay   time.Duration
	MaxRetryDelay       time.Duration
	BackoffMultiplier   float64
	HealthCheckInterval time.Duration

	// Circuit breaker (extraction dependency)
	BreakerFailureThreshold int
	BreakerRecoveryTimeout  time.Duration
	BreakerSuccessThreshold int
	BreakerOperationTimeout time.Duration

	// Job execution
	ExtractWorkers     int
	JobQueueCapacity   int
	JobResultTTL       time.Duration
	SoftExtractTimeout time.Duration
	HardExtractTimeout time.Duration

	// Uploads / temp files
	UploadDir        string
	TempFileMaxAge   time.Duration
	TempDirSizeCapMB int64
	SupportedExtCSV  string

	// Shutdown
	ShutdownTimeout      time.Duration
	ShutdownPollInterval time.Duration

	// Logging
	LogLevel  string
	LogFormat string
	LogFile   string

	// Monitoring
	MetricsPort     int
	HealthCheckPort int
}

func LoadConfig() (*Config, error) {
	// Load .env file (ignore error if file doesn't exist)
	_ = godotenv.Load()

	cfg := &Config{}

	// Parse HTTP config
	cfg.ServerPort = getEnvInt("SERVER_PORT", 8000)
	cfg.APIKey = getEnv("API_KEY", "")
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API_KEY is required")
	}
	cfg.MaxUploadSizeMB = getEnvInt64("MAX_UPLOAD_SIZE_MB", 50)
	cfg.RateLimitRPS = getEnvFloat("RATE_LIMIT_RPS", 100)
	cfg.RateLimitBurst = getEnvInt("RATE_LIMIT_BURST", 200)

	// Parse Redis config
	cfg.RedisAddr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", "")
	cfg.RedisDB = getEnvInt("REDIS_DB", 0)

	// Parse connection retry config
	cfg.MaxRetries = getEnvInt("REDIS_MAX_RETRIES", 5)
	cfg.InitialRetryDelay = getEnvDuration("REDIS_INITIAL_RETRY_DELAY", time.Second)
	cfg.MaxRetryDelay = getEnvDuration("REDIS_MAX_RETRY_DELAY", 60*time.Second)
	cfg.BackoffMultiplier = getEnvFloat("REDIS_BACKOFF_MULTIPLIER", 2.0)
	cfg.HealthCheckInterval = getEnvDuration("REDIS_HEALTH_CHECK_INTERVAL", 30*time.Second)

	// Parse circuit breaker config
	cfg.BreakerFailureThreshold = getEnvInt("BREAKER_FAILURE_THRESHOLD", 3)
	cfg.BreakerRecoveryTimeout = getEnvDuration("BREAKER_RECOVERY_TIMEOUT", 2*time.Minute)
	cfg.BreakerSuccessThreshold = getEnvInt("BREAKER_SUCCESS_THRESHOLD", 2)
	cfg.BreakerOperationTimeout = getEnvDuration("BREAKER_OPERATION_TIMEOUT", 60*time.Second)

	// Parse job execution config
	cfg.ExtractWorkers = getEnvInt("EXTRACT_WORKERS", 4)
	cfg.JobQueueCapacity = getEnvInt("JOB_QUEUE_CAPACITY", 1000)
	cfg.JobResultTTL = getEnvDuration("JOB_RESULT_TTL", 24*time.Hour)
	cfg.SoftExtractTimeout = getEnvDuration("SOFT_EXTRACT_TIMEOUT", 60*time.Second)
	cfg.HardExtractTimeout = getEnvDuration("HARD_EXTRACT_TIMEOUT", 5*time.Minute)

	if cfg.ExtractWorkers < 1 {
		return nil, fmt.Errorf("EXTRACT_WORKERS must be at least 1")
	}
	if cfg.HardExtractTimeout <= cfg.SoftExtractTimeout {
		return nil, fmt.Errorf("HARD_EXTRACT_TIMEOUT (%s) must be greater than SOFT_EXTRACT_TIMEOUT (%s)",
			cfg.HardExtractTimeout, cfg.SoftExtractTimeout)
	}

	// Parse upload / temp file config
	cfg.UploadDir = getEnv("UPLOAD_DIR", os.TempDir())
	cfg.TempFileMaxAge = getEnvDuration("TEMP_FILE_MAX_AGE", 24*time.Hour)
	cfg.TempDirSizeCapMB = getEnvInt64("TEMP_DIR_SIZE_CAP_MB", 500)
	cfg.SupportedExtCSV = getEnv("SUPPORTED_EXTENSIONS", ".txt,.md,.csv,.log,.rtf")

	// Parse shutdown config
	cfg.ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second)
	cfg.ShutdownPollInterval = getEnvDuration("SHUTDOWN_POLL_INTERVAL", time.Second)

	// Parse logging config
	cfg.LogLevel = getEnv("LOG_LEVEL", "info")
	cfg.LogFormat = getEnv("LOG_FORMAT", "json")
	cfg.LogFile = getEnv("LOG_FILE", "logs/server.log")

	// Parse monitoring config
	cfg.MetricsPort = getEnvInt("METRICS_PORT", 9090)
	cfg.HealthCheckPort = getEnvInt("HEALTH_CHECK_PORT", 8080)

	return cfg, nil
}

// SupportedExtensions returns the normalized set of file extensions the
// built-in extraction backend accepts.
func (c *Config) SupportedExtensions() []string {
	parts := strings.Split(c.SupportedExtCSV, ",")
	exts := make([]string, 0, len(parts))

	for _, part := range parts {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		if !strings.HasPrefix(part, ".") {
			part = "." + part
		}
		exts = append(exts, part)
	}

	return exts
}

// MaxUploadBytes returns the upload limit in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return c.MaxUploadSizeMB * 1024 * 1024
}

// TempDirSizeCapBytes returns the temp directory size cap in bytes.
func (c *Config) TempDirSizeCapBytes() int64 {
	return c.TempDirSizeCapMB * 1024 * 1024
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		// Plain integers are treated as seconds
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}
