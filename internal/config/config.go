// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrRunPodAPIKeyRequired is returned when RUNPOD_API_KEY is not set.
	ErrRunPodAPIKeyRequired = errors.New("config: RUNPOD_API_KEY is required")
	// ErrRunPodEndpointIDRequired is returned when RUNPOD_ENDPOINT_ID is not set.
	ErrRunPodEndpointIDRequired = errors.New("config: RUNPOD_ENDPOINT_ID is required")
	// ErrPipelineURLRequired is returned when PIPELINE_URL is not set.
	ErrPipelineURLRequired = errors.New("config: PIPELINE_URL is required")
)

// Config holds the configuration of the job gateway and the CLI client.
type Config struct {
	// Server settings
	Port int `env:"PORT, default=8080" json:"port"`

	// RunPod settings
	RunPodAPIKey     string `env:"RUNPOD_API_KEY, required" json:"-"` // Masked in JSON
	RunPodEndpointID string `env:"RUNPOD_ENDPOINT_ID, required" json:"runpod_endpoint_id"`
	RunPodBaseURL    string `env:"RUNPOD_BASE_URL, default=https://api.runpod.ai/v2" json:"runpod_base_url"`

	// Retries of a single API call on transport errors, 5xx and 429
	RunPodMaxRetries     int `env:"RUNPOD_MAX_RETRIES, default=3" json:"runpod_max_retries"`
	RunPodRetryBackoffMS int `env:"RUNPOD_RETRY_BACKOFF_MS, default=1000" json:"runpod_retry_backoff_ms"`

	// Poll loop settings
	PollIntervalSec int `env:"POLL_INTERVAL_SEC, default=10" json:"poll_interval_sec"`
	PollTimeoutSec  int `env:"POLL_TIMEOUT_SEC, default=600" json:"poll_timeout_sec"`
	PollMaxErrors   int `env:"POLL_MAX_ERRORS, default=3" json:"poll_max_errors"`

	// Storage settings
	TempDir string `env:"TEMP_DIR, default=/tmp/wan-ti2v" json:"temp_dir"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"` // S3-compatible stores such as MinIO
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`               // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"`           // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// WorkerConfig holds the configuration of the inference worker.
type WorkerConfig struct {
	Port int `env:"PORT, default=8000" json:"port"`

	// Model server settings
	PipelineURL string `env:"PIPELINE_URL, required" json:"pipeline_url"`
	ModelID     string `env:"MODEL_ID, default=Wan-AI/Wan2.2-TI2V-5B" json:"model_id"`

	// Encoding settings
	FFmpegPath       string `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`
	FFprobePath      string `env:"FFPROBE_PATH, default=ffprobe" json:"ffprobe_path"`
	DefaultNumFrames int    `env:"DEFAULT_NUM_FRAMES, default=24" json:"default_num_frames"`
	DefaultFPS       int    `env:"DEFAULT_FPS, default=24" json:"default_fps"`
	TempDir          string `env:"TEMP_DIR" json:"temp_dir,omitempty"`

	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"`
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// RetryBackoff returns the initial delay between API call retries.
func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.RunPodRetryBackoffMS) * time.Millisecond
}

// PollInterval returns the delay between status queries.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSec) * time.Second
}

// PollTimeout returns the overall deadline for a job.
func (c *Config) PollTimeout() time.Duration {
	return time.Duration(c.PollTimeoutSec) * time.Second
}

// Load reads configuration from environment variables using go-envconfig.
// It returns an error if required variables are not set.
func Load() (*Config, error) {
	return LoadFrom(envconfig.OsLookuper())
}

// LoadFrom reads configuration from the given lookuper.
func LoadFrom(l envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}

	if err := process(cfg, l); err != nil {
		// Map envconfig errors to our domain errors for required fields
		if strings.Contains(err.Error(), "RUNPOD_API_KEY") {
			return nil, ErrRunPodAPIKeyRequired
		}
		if strings.Contains(err.Error(), "RUNPOD_ENDPOINT_ID") {
			return nil, ErrRunPodEndpointIDRequired
		}
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// LoadWorker reads the worker configuration from environment variables.
func LoadWorker() (*WorkerConfig, error) {
	return LoadWorkerFrom(envconfig.OsLookuper())
}

// LoadWorkerFrom reads the worker configuration from the given lookuper.
func LoadWorkerFrom(l envconfig.Lookuper) (*WorkerConfig, error) {
	cfg := &WorkerConfig{}

	if err := process(cfg, l); err != nil {
		if strings.Contains(err.Error(), "PIPELINE_URL") {
			return nil, ErrPipelineURLRequired
		}
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

func process(target any, l envconfig.Lookuper) error {
	return envconfig.ProcessWith(context.Background(), &envconfig.Config{
		Target:   target,
		Lookuper: l,
	})
}

// Validate checks that all required configuration is present.
func (c *Config) Validate() error {
	if c.RunPodAPIKey == "" {
		return ErrRunPodAPIKeyRequired
	}
	if c.RunPodEndpointID == "" {
		return ErrRunPodEndpointIDRequired
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	return newLogger(c.LogFormat, c.LogLevel)
}

// NewLogger creates a structured logger based on the worker configuration.
func (c *WorkerConfig) NewLogger() *slog.Logger {
	return newLogger(c.LogFormat, c.LogLevel)
}

func newLogger(format, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(level)}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, RunPodEndpointID: %s, RunPodBaseURL: %s, RunPodMaxRetries: %d, PollIntervalSec: %d, PollTimeoutSec: %d, PollMaxErrors: %d, TempDir: %s, S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.RunPodEndpointID,
		c.RunPodBaseURL,
		c.RunPodMaxRetries,
		c.PollIntervalSec,
		c.PollTimeoutSec,
		c.PollMaxErrors,
		c.TempDir,
		c.S3Bucket,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
	)
}

// String returns a string representation of the worker config.
func (c *WorkerConfig) String() string {
	return fmt.Sprintf(
		"WorkerConfig{Port: %d, PipelineURL: %s, ModelID: %s, FFmpegPath: %s, DefaultNumFrames: %d, DefaultFPS: %d, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.PipelineURL,
		c.ModelID,
		c.FFmpegPath,
		c.DefaultNumFrames,
		c.DefaultFPS,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
