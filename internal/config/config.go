// Package config loads the print server's configuration from an optional
// TOML file and overlays it with the environment variables spec.md §6
// lists. Env vars always win over the file, following the teacher's
// "env-set keys cannot be overridden by managed settings" precedent.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the print server's full runtime configuration.
type Config struct {
	HTTP     HTTPConfig     `toml:"http"`
	Queue    QueueConfig    `toml:"queue"`
	Retry    RetryConfig    `toml:"retry"`
	Health   HealthConfig   `toml:"health"`
	RateLim  RateLimConfig  `toml:"rate_limit"`
	Renderer RendererConfig `toml:"renderer"`
	Spooler  SpoolerConfig  `toml:"spooler"`
	Logging  LoggingConfig  `toml:"logging"`
}

// HTTPConfig controls HTTP bind address and worker count.
type HTTPConfig struct {
	Port           int      `toml:"port"`
	Host           string   `toml:"host"`
	Workers        int      `toml:"workers"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

// QueueConfig bounds scheduler capacity and dispatch batching.
type QueueConfig struct {
	MaxQueueSize      int `toml:"max_queue_size"`
	MaxConcurrentJobs int `toml:"max_concurrent_jobs"`
	BatchSize         int `toml:"batch_size"`
	ProcessingTimeout int `toml:"processing_timeout_seconds"`
}

// RetryConfig controls the job retry policy.
type RetryConfig struct {
	MaxRetries      int `toml:"max_retries"`
	RetryDelayMs    int `toml:"retry_delay_ms"`
}

// HealthConfig controls the printer health-check loop.
type HealthConfig struct {
	CheckIntervalSeconds int `toml:"check_interval_seconds"`
}

// RateLimConfig controls the /api/* submission rate limiter.
type RateLimConfig struct {
	WindowMs int `toml:"window_ms"`
	Max      int `toml:"max"`
}

// RendererConfig controls the headless-browser renderer pool.
type RendererConfig struct {
	ChromeBinary string `toml:"chrome_binary"`
}

// SpoolerConfig controls the external spooler binary invocation.
type SpoolerConfig struct {
	BinaryPath string `toml:"binary_path"`
	WorkingDir string `toml:"working_dir"`
}

// LoggingConfig controls the leveled logger.
type LoggingConfig struct {
	Level string `toml:"level"`
	Dir   string `toml:"dir"`
}

// Default returns the configuration with the defaults spec.md §4-§6 name.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Port:    9191,
			Host:    "0.0.0.0",
			Workers: 4,
		},
		Queue: QueueConfig{
			MaxQueueSize:      1000,
			MaxConcurrentJobs: 10,
			BatchSize:         5,
			ProcessingTimeout: 30,
		},
		Retry: RetryConfig{
			MaxRetries:   3,
			RetryDelayMs: 1000,
		},
		Health: HealthConfig{
			CheckIntervalSeconds: 60,
		},
		RateLim: RateLimConfig{
			WindowMs: 15 * 60 * 1000,
			Max:      1000,
		},
		Renderer: RendererConfig{},
		Spooler: SpoolerConfig{
			WorkingDir: os.TempDir(),
		},
		Logging: LoggingConfig{
			Level: "INFO",
			Dir:   "logs",
		},
	}
}

// Load reads path (if non-empty and present) as TOML over the defaults,
// then overlays recognized environment variables, and returns the result.
// A missing file is not an error; callers that want to require one should
// check os.Stat themselves first.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fmt.Errorf("decode config %s: %w", path, err)
			}
		}
	}
	applyEnv(cfg)
	return cfg, nil
}

// WriteDefault writes the default configuration to path in TOML form. It
// refuses to overwrite an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(Default())
}

// ProcessingTimeout returns Queue.ProcessingTimeout as a time.Duration.
func (c *Config) ProcessingTimeout() time.Duration {
	return time.Duration(c.Queue.ProcessingTimeout) * time.Second
}

// RetryDelay returns Retry.RetryDelayMs as a time.Duration.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Retry.RetryDelayMs) * time.Millisecond
}

// HealthCheckInterval returns Health.CheckIntervalSeconds as a
// time.Duration, clamped to the §4.B lower bound of 60s.
func (c *Config) HealthCheckInterval() time.Duration {
	secs := c.Health.CheckIntervalSeconds
	if secs < 60 {
		secs = 60
	}
	return time.Duration(secs) * time.Second
}

// RateLimitWindow returns RateLim.WindowMs as a time.Duration.
func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLim.WindowMs) * time.Millisecond
}

func applyEnv(cfg *Config) {
	envInt(&cfg.HTTP.Port, "PORT")
	envStr(&cfg.HTTP.Host, "HOST")
	envInt(&cfg.HTTP.Workers, "WORKERS")
	envInt(&cfg.Queue.MaxQueueSize, "MAX_QUEUE_SIZE")
	envInt(&cfg.Queue.MaxConcurrentJobs, "MAX_CONCURRENT_JOBS")
	envInt(&cfg.Queue.BatchSize, "BATCH_SIZE")
	envInt(&cfg.Retry.MaxRetries, "MAX_RETRIES")
	envInt(&cfg.Retry.RetryDelayMs, "RETRY_DELAY")
	envInt(&cfg.Queue.ProcessingTimeout, "PROCESSING_TIMEOUT")
	envInt(&cfg.Health.CheckIntervalSeconds, "PRINTER_HEALTH_CHECK_INTERVAL")
	envInt(&cfg.RateLim.WindowMs, "RATE_LIMIT_WINDOW_MS")
	envInt(&cfg.RateLim.Max, "RATE_LIMIT_MAX")
	if v, ok := os.LookupEnv("ALLOWED_ORIGINS"); ok {
		cfg.HTTP.AllowedOrigins = splitCSV(v)
	}
}

func envInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		}
	}
}

func envStr(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
