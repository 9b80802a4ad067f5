package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// SecretKeyEnv names the environment variable that supplies the key used to
// seal stored credentials.
const SecretKeyEnv = "BATCHPOLL_SECRET_KEY"

// AdminTokenEnv names the environment variable that supplies the bearer token
// required on admin API routes.
const AdminTokenEnv = "BATCHPOLL_ADMIN_TOKEN"

// ServerConfig holds configuration for the batchpoll server.
type ServerConfig struct {
	Addr      string `yaml:"addr"`       // Listen address (default ":8080")
	LogLevel  string `yaml:"log_level"`  // debug, info, warn, error
	LogFormat string `yaml:"log_format"` // text, json
	DBPath    string `yaml:"db_path"`    // SQLite path (":memory:" for testing)

	// AdminToken, when set, must be presented as a bearer token on /api/v1
	// routes other than health.
	AdminToken string `yaml:"admin_token"`

	Scheduler SchedulerConfig `yaml:"scheduler"`
	Secrets   SecretsConfig   `yaml:"secrets"`
	Providers ProvidersConfig `yaml:"providers"`
	Retention RetentionConfig `yaml:"retention"`
}

// SchedulerConfig controls the polling loop.
type SchedulerConfig struct {
	TickInterval    time.Duration `yaml:"tick_interval"`
	CallTimeout     time.Duration `yaml:"call_timeout"`
	MaxWorkers      int           `yaml:"max_workers"`
	BatchSize       int           `yaml:"batch_size"`
	MaxRetries      int           `yaml:"max_retries"`
	BackoffBase     time.Duration `yaml:"backoff_base"`
	BackoffMax      time.Duration `yaml:"backoff_max"`
	MinInterval     int           `yaml:"min_interval"`     // seconds
	MaxInterval     int           `yaml:"max_interval"`     // seconds
	DefaultInterval int           `yaml:"default_interval"` // seconds
}

// SecretsConfig controls credential sealing and caching.
type SecretsConfig struct {
	Key      string        `yaml:"key"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
	CacheMax int           `yaml:"cache_max"`
}

// ProviderConfig describes one upstream HTTP API.
type ProviderConfig struct {
	BaseURL   string  `yaml:"base_url"`
	RateLimit float64 `yaml:"rate_limit"` // requests per second, 0 disables pacing
	Burst     int     `yaml:"burst"`
}

// ProvidersConfig groups the status and trigger providers.
type ProvidersConfig struct {
	OpenAI  ProviderConfig `yaml:"openai"`
	Keboola ProviderConfig `yaml:"keboola"`
}

// RetentionConfig controls the periodic cleanup of finished jobs and poll logs.
type RetentionConfig struct {
	Schedule string `yaml:"schedule"` // cron spec, empty disables the sweeper
	JobDays  int    `yaml:"job_days"`
	LogDays  int    `yaml:"log_days"`
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:      ":8080",
		LogLevel:  "info",
		LogFormat: "text",
		Scheduler: SchedulerConfig{
			TickInterval:    15 * time.Second,
			CallTimeout:     10 * time.Second,
			MaxWorkers:      10,
			BatchSize:       50,
			MaxRetries:      3,
			BackoffBase:     30 * time.Second,
			BackoffMax:      15 * time.Minute,
			MinInterval:     30,
			MaxInterval:     3600,
			DefaultInterval: 120,
		},
		Secrets: SecretsConfig{
			CacheTTL: 30 * time.Second,
			CacheMax: 256,
		},
		Providers: ProvidersConfig{
			OpenAI:  ProviderConfig{BaseURL: "https://api.openai.com/v1", RateLimit: 5, Burst: 10},
			Keboola: ProviderConfig{RateLimit: 2, Burst: 5},
		},
		Retention: RetentionConfig{
			Schedule: "@daily",
			JobDays:  30,
			LogDays:  30,
		},
	}
}

// Load reads a YAML file over the defaults. A missing path or missing file
// yields the defaults. ${VAR} references in the file are expanded from the
// environment. The secret key env var, when set, overrides the file.
func Load(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("read config file: %w", err)
		case len(bytes.TrimSpace(data)) > 0:
			expanded := os.ExpandEnv(string(data))
			if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
				return cfg, fmt.Errorf("parse config file: %w", err)
			}
		}
	}
	if key := os.Getenv(SecretKeyEnv); key != "" {
		cfg.Secrets.Key = key
	}
	if tok := os.Getenv(AdminTokenEnv); tok != "" {
		cfg.AdminToken = tok
	}
	return cfg, nil
}

// Validate checks the cross-field constraints the scheduler relies on.
func (c ServerConfig) Validate() error {
	s := c.Scheduler
	var errs []error
	if s.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("scheduler.tick_interval must be positive"))
	}
	if s.CallTimeout <= 0 || s.CallTimeout >= s.TickInterval {
		errs = append(errs, fmt.Errorf("scheduler.call_timeout must be positive and shorter than tick_interval (%s)", s.TickInterval))
	}
	if s.MaxWorkers < 1 {
		errs = append(errs, fmt.Errorf("scheduler.max_workers must be at least 1"))
	}
	if s.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("scheduler.batch_size must be at least 1"))
	}
	if s.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("scheduler.max_retries must not be negative"))
	}
	if s.BackoffBase < 0 || s.BackoffMax < s.BackoffBase {
		errs = append(errs, fmt.Errorf("scheduler.backoff_max must be >= backoff_base >= 0"))
	}
	if s.MinInterval < 1 {
		errs = append(errs, fmt.Errorf("scheduler.min_interval must be at least 1"))
	}
	if s.DefaultInterval < s.MinInterval || s.DefaultInterval > s.MaxInterval {
		errs = append(errs, fmt.Errorf("scheduler.default_interval must lie within [min_interval, max_interval]"))
	}
	if c.Secrets.Key == "" {
		errs = append(errs, fmt.Errorf("secrets.key is empty (set %s)", SecretKeyEnv))
	}
	if c.Secrets.CacheTTL < 0 {
		errs = append(errs, fmt.Errorf("secrets.cache_ttl must not be negative"))
	}
	if c.Retention.JobDays < 0 || c.Retention.LogDays < 0 {
		errs = append(errs, fmt.Errorf("retention days must not be negative"))
	}
	return errors.Join(errs...)
}
