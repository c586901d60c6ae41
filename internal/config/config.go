package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/kode4food/timebox"

	"github.com/perdura/perdura/internal/events"
	"github.com/perdura/perdura/pkg/api"
)

type (
	// Config holds configuration settings for the workflow engine
	Config struct {
		// API Server
		APIHost  string
		APIPort  int
		LogLevel string

		// Executor identity. Workflows owned by this ID are reclaimed on
		// startup; a stable value is required for crash recovery
		ExecutorID api.ExecutorID

		// Stores
		WorkflowStore timebox.StoreConfig
		SystemStore   timebox.StoreConfig

		// Step retry defaults applied when a registration leaves them zero
		Retry api.RetryPolicy

		// Engine
		MaxRecoveryAttempts int
		RecoveryInterval    time.Duration
		QueuePollInterval   time.Duration
		WorkflowCacheSize   int
		ShutdownTimeout     time.Duration

		// Archiving
		ArchiveBucketURL string
		ArchiveInterval  time.Duration
		ArchiveMaxAge    time.Duration
		ArchiveMemoryPct int
	}
)

const (
	DefaultAPIPort = 8080
	DefaultAPIHost = "0.0.0.0"
	MaxTCPPort     = 65535
	DefaultRedisDB = 0

	DefaultExecutorID = api.ExecutorID("local")

	DefaultRedisEndpoint       = "localhost:6379"
	DefaultRedisPrefix         = "perdura"
	DefaultSnapshotWorkers     = 4
	DefaultSnapshotQueueSize   = 1000
	DefaultSnapshotSaveTimeout = 30 * time.Second
	DefaultCacheSize           = 4096

	DefaultMaxRecoveryAttempts = 50
	DefaultRecoveryInterval    = 30 * time.Second
	DefaultQueuePollInterval   = time.Second
	DefaultShutdownTimeout     = 10 * time.Second

	DefaultArchiveInterval  = time.Minute
	DefaultArchiveMaxAge    = 12 * time.Hour
	DefaultArchiveMemoryPct = 80

	MaxWorkflowCacheSize   = 1_000_000
	MaxRecoveryAttemptsCap = 10_000
	MaxIntervalMillis      = int64(24 * 60 * 60 * 1000)
)

var (
	ErrInvalidAPIPort = errors.New("invalid API port")
	ErrEmptyExecutor  = errors.New("executor ID cannot be empty")
	ErrInvalidMemPct  = errors.New(
		"archive memory threshold must be a percentage",
	)
)

// NewDefaultConfig creates a configuration with sensible defaults for all
// engine settings, stores, and retry behavior
func NewDefaultConfig() *Config {
	return &Config{
		APIPort:    DefaultAPIPort,
		APIHost:    DefaultAPIHost,
		ExecutorID: DefaultExecutorID,
		WorkflowStore: timebox.StoreConfig{
			Addr:         DefaultRedisEndpoint,
			Password:     "",
			DB:           DefaultRedisDB,
			Prefix:       DefaultRedisPrefix,
			WorkerCount:  DefaultSnapshotWorkers,
			MaxQueueSize: DefaultSnapshotQueueSize,
			SaveTimeout:  DefaultSnapshotSaveTimeout,
			JoinKey:      events.WorkflowJoinKey,
			ParseKey:     events.WorkflowParseKey,
		},
		SystemStore: timebox.StoreConfig{
			Addr:         DefaultRedisEndpoint,
			Password:     "",
			DB:           DefaultRedisDB,
			Prefix:       DefaultRedisPrefix,
			WorkerCount:  DefaultSnapshotWorkers,
			MaxQueueSize: DefaultSnapshotQueueSize,
			SaveTimeout:  DefaultSnapshotSaveTimeout,
			TrimEvents:   true,
		},
		Retry:               api.RetryPolicy{}.WithDefaults(),
		MaxRecoveryAttempts: DefaultMaxRecoveryAttempts,
		RecoveryInterval:    DefaultRecoveryInterval,
		QueuePollInterval:   DefaultQueuePollInterval,
		WorkflowCacheSize:   DefaultCacheSize,
		ShutdownTimeout:     DefaultShutdownTimeout,
		ArchiveInterval:     DefaultArchiveInterval,
		ArchiveMaxAge:       DefaultArchiveMaxAge,
		ArchiveMemoryPct:    DefaultArchiveMemoryPct,
		LogLevel:            "info",
	}
}

// LoadFromEnv populates configuration values from environment variables.
// Returns an error if any env var cannot be parsed.
func (c *Config) LoadFromEnv() error {
	LoadStoreConfigFromEnv(&c.WorkflowStore, "WORKFLOW")
	LoadStoreConfigFromEnv(&c.SystemStore, "SYSTEM")

	if apiHost := os.Getenv("API_HOST"); apiHost != "" {
		c.APIHost = apiHost
	}
	if executorID := os.Getenv("EXECUTOR_ID"); executorID != "" {
		c.ExecutorID = api.ExecutorID(executorID)
	}
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.LogLevel = logLevel
	}
	if bucketURL := os.Getenv("ARCHIVE_BUCKET_URL"); bucketURL != "" {
		c.ArchiveBucketURL = bucketURL
	}

	if err := loadEnvInt("API_PORT", &c.APIPort, 0, MaxTCPPort); err != nil {
		return err
	}
	if err := loadEnvInt(
		"WORKFLOW_CACHE_SIZE", &c.WorkflowCacheSize, 0, MaxWorkflowCacheSize,
	); err != nil {
		return err
	}
	if err := loadEnvInt(
		"MAX_RECOVERY_ATTEMPTS", &c.MaxRecoveryAttempts,
		0, MaxRecoveryAttemptsCap,
	); err != nil {
		return err
	}
	if err := loadEnvInt(
		"ARCHIVE_MEMORY_PCT", &c.ArchiveMemoryPct, 0, 100,
	); err != nil {
		return err
	}

	if err := loadEnvDuration(
		"RECOVERY_INTERVAL", &c.RecoveryInterval,
	); err != nil {
		return err
	}
	if err := loadEnvDuration(
		"QUEUE_POLL_INTERVAL", &c.QueuePollInterval,
	); err != nil {
		return err
	}
	if err := loadEnvDuration(
		"ARCHIVE_INTERVAL", &c.ArchiveInterval,
	); err != nil {
		return err
	}
	if err := loadEnvDuration(
		"ARCHIVE_MAX_AGE", &c.ArchiveMaxAge,
	); err != nil {
		return err
	}
	if err := loadEnvDuration(
		"RETRY_INTERVAL", &c.Retry.Interval,
	); err != nil {
		return err
	}
	if err := loadEnvDuration(
		"RETRY_MAX_INTERVAL", &c.Retry.MaxInterval,
	); err != nil {
		return err
	}
	return loadEnvInt(
		"RETRY_MAX_ATTEMPTS", &c.Retry.MaxAttempts, 0, 1000,
	)
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.APIPort <= 0 || c.APIPort > MaxTCPPort {
		return fmt.Errorf("%w: %d", ErrInvalidAPIPort, c.APIPort)
	}
	if c.ExecutorID == "" {
		return ErrEmptyExecutor
	}
	if c.ArchiveMemoryPct < 0 || c.ArchiveMemoryPct > 100 {
		return fmt.Errorf("%w: %d", ErrInvalidMemPct, c.ArchiveMemoryPct)
	}
	return c.Retry.Validate()
}

// LoadStoreConfigFromEnv loads Redis store configuration from environment
// variables with the given prefix (e.g., "WORKFLOW" or "SYSTEM")
func LoadStoreConfigFromEnv(s *timebox.StoreConfig, prefix string) {
	if addr := os.Getenv(prefix + "_REDIS_ADDR"); addr != "" {
		s.Addr = addr
	}
	if password := os.Getenv(prefix + "_REDIS_PASSWORD"); password != "" {
		s.Password = password
	}
	if dbStr := os.Getenv(prefix + "_REDIS_DB"); dbStr != "" {
		db, err := strconv.Atoi(dbStr)
		if err == nil {
			s.DB = db
		}
	}
	if envPrefix := os.Getenv(prefix + "_REDIS_PREFIX"); envPrefix != "" {
		s.Prefix = envPrefix
	}
	if envCount := os.Getenv(prefix + "_SNAPSHOT_WORKERS"); envCount != "" {
		if wc, err := strconv.Atoi(envCount); err == nil && wc >= 0 {
			s.WorkerCount = wc
		}
	}
}

// loadEnvInt reads key from the environment, parses it as an integer, and
// sets *dst if the value is in the range (min, max). Returns an error if
// the value cannot be parsed or falls outside the valid range.
func loadEnvInt[T ~int | ~int64](key string, dst *T, min, max T) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %q", key, s)
	}
	tv := T(v)
	if tv <= min || tv > max {
		return fmt.Errorf("invalid %s: %d out of range [%d, %d]",
			key, tv, min+1, max)
	}
	*dst = tv
	return nil
}

// loadEnvDuration reads key from the environment as a number of
// milliseconds and sets *dst
func loadEnvDuration(key string, dst *time.Duration) error {
	var ms int64
	if err := loadEnvInt(key, &ms, 0, MaxIntervalMillis); err != nil {
		return err
	}
	if ms > 0 {
		*dst = time.Duration(ms) * time.Millisecond
	}
	return nil
}
