package common

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/zclconf/go-cty/cty"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Archive  ArchiveConfig
	Backends BackendsConfig
	Retry    RetryConfig
	Job      JobConfig
	Cost     CostConfig
	Log      LogConfig
}

// ServerConfig holds ingress listener configuration
type ServerConfig struct {
	HTTPAddr        string
	GRPCAddr        string
	ShutdownTimeout time.Duration
}

// ArchiveConfig holds the job archive database configuration. Driver is
// "sqlite", "postgres" or "none".
type ArchiveConfig struct {
	Driver           string
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// BackendsConfig selects and configures the two backend services. Mode is
// "local" (in-process) or "http".
type BackendsConfig struct {
	Mode             string
	NormalizationURL string
	BatchURL         string
	CallTimeout      time.Duration
	SimulatedLatency time.Duration
}

// RetryConfig is the per-branch retry policy for transient failures
type RetryConfig struct {
	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// JobConfig bounds individual jobs and job admission
type JobConfig struct {
	Timeout              time.Duration
	MaxRecords           int
	MaxExecutorInstances int
	Workers              int
	QueueSize            int
}

// CostConfig holds the linear cost model constants (USD)
type CostConfig struct {
	PerRecordUSD              float64
	BatchPerSecondUSD         float64
	NormalizationPerSecondUSD float64
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string
	Format string
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr:        ":8080",
			GRPCAddr:        ":9090",
			ShutdownTimeout: 15 * time.Second,
		},
		Archive: ArchiveConfig{
			Driver:          "sqlite",
			DSN:             "file:orchestrator.db?_pragma=busy_timeout(5000)",
			MaxConns:        10,
			MinConns:        1,
			MaxConnLifetime: 30 * time.Minute,
			MaxConnIdleTime: 5 * time.Minute,
			DialTimeout:     3 * time.Second,
		},
		Backends: BackendsConfig{
			Mode:        "local",
			CallTimeout: 30 * time.Second,
		},
		Retry: RetryConfig{
			MaxRetries:  3,
			BaseBackoff: 200 * time.Millisecond,
			MaxBackoff:  5 * time.Second,
		},
		Job: JobConfig{
			Timeout:              2 * time.Minute,
			MaxRecords:           1_000_000,
			MaxExecutorInstances: 10,
			Workers:              8,
			QueueSize:            256,
		},
		Cost: CostConfig{
			PerRecordUSD:              2e-10,
			BatchPerSecondUSD:         0.27 / 3600,
			NormalizationPerSecondUSD: 0.0000002083 * 10,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig layers defaults, an optional HCL file and environment variables,
// in that order. An empty path skips the file.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

// fileConfig mirrors Config for HCL decoding; every attribute is optional and
// durations are Go duration strings.
type fileConfig struct {
	Server   *fileServer   `hcl:"server,block"`
	Archive  *fileArchive  `hcl:"archive,block"`
	Backends *fileBackends `hcl:"backends,block"`
	Retry    *fileRetry    `hcl:"retry,block"`
	Job      *fileJob      `hcl:"job,block"`
	Cost     *fileCost     `hcl:"cost,block"`
	Log      *fileLog      `hcl:"log,block"`
}

type fileServer struct {
	HTTPAddr        *string `hcl:"http_addr,optional"`
	GRPCAddr        *string `hcl:"grpc_addr,optional"`
	ShutdownTimeout *string `hcl:"shutdown_timeout,optional"`
}

type fileArchive struct {
	Driver           *string `hcl:"driver,optional"`
	DSN              *string `hcl:"dsn,optional"`
	MaxConns         *int32  `hcl:"max_conns,optional"`
	MinConns         *int32  `hcl:"min_conns,optional"`
	MaxConnLifetime  *string `hcl:"max_conn_lifetime,optional"`
	MaxConnIdleTime  *string `hcl:"max_conn_idle_time,optional"`
	DialTimeout      *string `hcl:"dial_timeout,optional"`
	StatementTimeout *string `hcl:"statement_timeout,optional"`
}

type fileBackends struct {
	Mode             *string `hcl:"mode,optional"`
	NormalizationURL *string `hcl:"normalization_url,optional"`
	BatchURL         *string `hcl:"batch_url,optional"`
	CallTimeout      *string `hcl:"call_timeout,optional"`
	SimulatedLatency *string `hcl:"simulated_latency,optional"`
}

type fileRetry struct {
	MaxRetries  *int    `hcl:"max_retries,optional"`
	BaseBackoff *string `hcl:"base_backoff,optional"`
	MaxBackoff  *string `hcl:"max_backoff,optional"`
}

type fileJob struct {
	Timeout              *string `hcl:"timeout,optional"`
	MaxRecords           *int    `hcl:"max_records,optional"`
	MaxExecutorInstances *int    `hcl:"max_executor_instances,optional"`
	Workers              *int    `hcl:"workers,optional"`
	QueueSize            *int    `hcl:"queue_size,optional"`
}

type fileCost struct {
	PerRecordUSD              *float64 `hcl:"per_record_usd,optional"`
	BatchPerSecondUSD         *float64 `hcl:"batch_per_second_usd,optional"`
	NormalizationPerSecondUSD *float64 `hcl:"normalization_per_second_usd,optional"`
}

type fileLog struct {
	Level  *string `hcl:"level,optional"`
	Format *string `hcl:"format,optional"`
}

// envEvalContext exposes the process environment to config files as env.NAME.
func envEvalContext() *hcl.EvalContext {
	vars := map[string]cty.Value{}
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		vars[k] = cty.StringVal(v)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{"env": cty.ObjectVal(vars)},
	}
}

func (c *Config) applyFile(path string) error {
	var fc fileConfig
	if err := hclsimple.DecodeFile(path, envEvalContext(), &fc); err != nil {
		return NewAppError("CONFIG_ERROR", fmt.Sprintf("decode %s", path), err)
	}

	var errs []error
	dur := func(dst *time.Duration, src *string, name string) {
		if src == nil {
			return
		}
		d, err := time.ParseDuration(*src)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		*dst = d
	}

	if s := fc.Server; s != nil {
		setIf(&c.Server.HTTPAddr, s.HTTPAddr)
		setIf(&c.Server.GRPCAddr, s.GRPCAddr)
		dur(&c.Server.ShutdownTimeout, s.ShutdownTimeout, "server.shutdown_timeout")
	}
	if a := fc.Archive; a != nil {
		setIf(&c.Archive.Driver, a.Driver)
		setIf(&c.Archive.DSN, a.DSN)
		setIf(&c.Archive.MaxConns, a.MaxConns)
		setIf(&c.Archive.MinConns, a.MinConns)
		dur(&c.Archive.MaxConnLifetime, a.MaxConnLifetime, "archive.max_conn_lifetime")
		dur(&c.Archive.MaxConnIdleTime, a.MaxConnIdleTime, "archive.max_conn_idle_time")
		dur(&c.Archive.DialTimeout, a.DialTimeout, "archive.dial_timeout")
		dur(&c.Archive.StatementTimeout, a.StatementTimeout, "archive.statement_timeout")
	}
	if b := fc.Backends; b != nil {
		setIf(&c.Backends.Mode, b.Mode)
		setIf(&c.Backends.NormalizationURL, b.NormalizationURL)
		setIf(&c.Backends.BatchURL, b.BatchURL)
		dur(&c.Backends.CallTimeout, b.CallTimeout, "backends.call_timeout")
		dur(&c.Backends.SimulatedLatency, b.SimulatedLatency, "backends.simulated_latency")
	}
	if r := fc.Retry; r != nil {
		setIf(&c.Retry.MaxRetries, r.MaxRetries)
		dur(&c.Retry.BaseBackoff, r.BaseBackoff, "retry.base_backoff")
		dur(&c.Retry.MaxBackoff, r.MaxBackoff, "retry.max_backoff")
	}
	if j := fc.Job; j != nil {
		dur(&c.Job.Timeout, j.Timeout, "job.timeout")
		setIf(&c.Job.MaxRecords, j.MaxRecords)
		setIf(&c.Job.MaxExecutorInstances, j.MaxExecutorInstances)
		setIf(&c.Job.Workers, j.Workers)
		setIf(&c.Job.QueueSize, j.QueueSize)
	}
	if k := fc.Cost; k != nil {
		setIf(&c.Cost.PerRecordUSD, k.PerRecordUSD)
		setIf(&c.Cost.BatchPerSecondUSD, k.BatchPerSecondUSD)
		setIf(&c.Cost.NormalizationPerSecondUSD, k.NormalizationPerSecondUSD)
	}
	if l := fc.Log; l != nil {
		setIf(&c.Log.Level, l.Level)
		setIf(&c.Log.Format, l.Format)
	}

	if len(errs) > 0 {
		return NewAppError("CONFIG_ERROR", fmt.Sprintf("invalid durations in %s", path), errors.Join(errs...))
	}
	return nil
}

func setIf[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

// applyEnv overrides loaded values with environment variables when set.
func (c *Config) applyEnv() {
	c.Server.HTTPAddr = getEnv("HTTP_ADDR", c.Server.HTTPAddr)
	c.Server.GRPCAddr = getEnv("GRPC_ADDR", c.Server.GRPCAddr)
	c.Server.ShutdownTimeout = getEnvAsDuration("SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)

	c.Archive.Driver = getEnv("ARCHIVE_DRIVER", c.Archive.Driver)
	c.Archive.DSN = getEnv("DB_URL", c.Archive.DSN)
	c.Archive.MaxConns = getEnvAsInt32("DB_MAX_CONNS", c.Archive.MaxConns)
	c.Archive.MinConns = getEnvAsInt32("DB_MIN_CONNS", c.Archive.MinConns)
	c.Archive.MaxConnLifetime = getEnvAsDuration("DB_MAX_CONN_LIFETIME", c.Archive.MaxConnLifetime)
	c.Archive.MaxConnIdleTime = getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", c.Archive.MaxConnIdleTime)
	c.Archive.DialTimeout = getEnvAsDuration("DB_DIAL_TIMEOUT", c.Archive.DialTimeout)
	c.Archive.StatementTimeout = getEnvAsDuration("DB_STATEMENT_TIMEOUT", c.Archive.StatementTimeout)

	c.Backends.Mode = getEnv("BACKEND_MODE", c.Backends.Mode)
	c.Backends.NormalizationURL = getEnv("NORMALIZATION_URL", c.Backends.NormalizationURL)
	c.Backends.BatchURL = getEnv("BATCH_URL", c.Backends.BatchURL)
	c.Backends.CallTimeout = getEnvAsDuration("BACKEND_CALL_TIMEOUT", c.Backends.CallTimeout)
	c.Backends.SimulatedLatency = getEnvAsDuration("BACKEND_SIMULATED_LATENCY", c.Backends.SimulatedLatency)

	c.Retry.MaxRetries = getEnvAsInt("RETRY_MAX", c.Retry.MaxRetries)
	c.Retry.BaseBackoff = getEnvAsDuration("RETRY_BASE_BACKOFF", c.Retry.BaseBackoff)
	c.Retry.MaxBackoff = getEnvAsDuration("RETRY_MAX_BACKOFF", c.Retry.MaxBackoff)

	c.Job.Timeout = getEnvAsDuration("JOB_TIMEOUT", c.Job.Timeout)
	c.Job.MaxRecords = getEnvAsInt("JOB_MAX_RECORDS", c.Job.MaxRecords)
	c.Job.MaxExecutorInstances = getEnvAsInt("JOB_MAX_EXECUTOR_INSTANCES", c.Job.MaxExecutorInstances)
	c.Job.Workers = getEnvAsInt("JOB_WORKERS", c.Job.Workers)
	c.Job.QueueSize = getEnvAsInt("JOB_QUEUE_SIZE", c.Job.QueueSize)

	c.Cost.PerRecordUSD = getEnvAsFloat64("COST_PER_RECORD_USD", c.Cost.PerRecordUSD)
	c.Cost.BatchPerSecondUSD = getEnvAsFloat64("COST_BATCH_PER_SECOND_USD", c.Cost.BatchPerSecondUSD)
	c.Cost.NormalizationPerSecondUSD = getEnvAsFloat64("COST_NORMALIZATION_PER_SECOND_USD", c.Cost.NormalizationPerSecondUSD)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" && c.Server.GRPCAddr == "" {
		return NewAppError("CONFIG_ERROR", "at least one of HTTP_ADDR or GRPC_ADDR is required", ErrInvalidInput)
	}
	switch c.Archive.Driver {
	case "none":
	case "sqlite", "postgres":
		if c.Archive.DSN == "" {
			return NewAppError("CONFIG_ERROR", "DB_URL is required for the "+c.Archive.Driver+" archive", ErrInvalidInput)
		}
	default:
		return NewAppError("CONFIG_ERROR", fmt.Sprintf("unknown archive driver %q", c.Archive.Driver), ErrInvalidInput)
	}
	switch c.Backends.Mode {
	case "local":
	case "http":
		if c.Backends.NormalizationURL == "" || c.Backends.BatchURL == "" {
			return NewAppError("CONFIG_ERROR", "NORMALIZATION_URL and BATCH_URL are required in http mode", ErrInvalidInput)
		}
	default:
		return NewAppError("CONFIG_ERROR", fmt.Sprintf("unknown backend mode %q", c.Backends.Mode), ErrInvalidInput)
	}
	if c.Retry.MaxRetries < 0 {
		return NewAppError("CONFIG_ERROR", "RETRY_MAX must not be negative", ErrInvalidInput)
	}
	if c.Retry.BaseBackoff <= 0 || c.Retry.MaxBackoff < c.Retry.BaseBackoff {
		return NewAppError("CONFIG_ERROR", "retry backoff must satisfy 0 < base <= max", ErrInvalidInput)
	}
	if c.Job.Timeout <= 0 {
		return NewAppError("CONFIG_ERROR", "JOB_TIMEOUT must be positive", ErrInvalidInput)
	}
	if c.Job.MaxRecords <= 0 || c.Job.MaxExecutorInstances <= 0 {
		return NewAppError("CONFIG_ERROR", "job limits must be positive", ErrInvalidInput)
	}
	if c.Cost.PerRecordUSD < 0 || c.Cost.BatchPerSecondUSD < 0 || c.Cost.NormalizationPerSecondUSD < 0 {
		return NewAppError("CONFIG_ERROR", "cost constants must not be negative", ErrInvalidInput)
	}
	return nil
}
