package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Veraticus/statement-spice/internal/common"
	"github.com/Veraticus/statement-spice/internal/model"
)

// DefaultOwner scopes data when no owner is configured.
const DefaultOwner = "default"

// DefaultDatabasePath is used when database.path is not configured.
const DefaultDatabasePath = "~/.local/share/spice/spice.db"

// Config is the typed view of the viper configuration.
type Config struct {
	Owner    string         `mapstructure:"owner"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Jobs     JobsConfig     `mapstructure:"jobs"`
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LLMConfig selects and tunes the categorization model.
type LLMConfig struct {
	Provider    string        `mapstructure:"provider"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	BaseURL     string        `mapstructure:"base_url"`
	RateLimit   int           `mapstructure:"rate_limit"`
	MaxRetries  int           `mapstructure:"max_retries"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
}

// WorkerConfig tunes background job processing.
type WorkerConfig struct {
	JobType      string        `mapstructure:"job_type"`
	Count        int           `mapstructure:"count"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchPause   time.Duration `mapstructure:"batch_pause"`
}

// JobsConfig tunes the job state machine.
type JobsConfig struct {
	StatusURLPrefix string `mapstructure:"status_url_prefix"`
	MaxRetries      int    `mapstructure:"max_retries"`
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("owner", DefaultOwner)
	v.SetDefault("database.path", DefaultDatabasePath)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	// Keys without a meaningful default are still registered so that
	// environment variables reach them through Unmarshal.
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.rate_limit", 60)
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.retry_delay", time.Second)
	v.SetDefault("llm.cache_ttl", 15*time.Minute)
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.max_tokens", 2048)

	v.SetDefault("worker.job_type", string(model.JobTypeAICategorization))
	v.SetDefault("worker.count", 1)
	v.SetDefault("worker.poll_interval", 5*time.Second)
	v.SetDefault("worker.batch_size", 20)
	v.SetDefault("worker.batch_pause", 500*time.Millisecond)

	v.SetDefault("jobs.status_url_prefix", "/api/jobs/")
	v.SetDefault("jobs.max_retries", 3)
}

// EnvPrefix is the prefix for environment overrides, e.g. SPICE_DATABASE_PATH.
const EnvPrefix = "SPICE"

// NewViper returns a viper instance with defaults and environment binding.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load unmarshals v into a Config, expands the database path and validates
// the result.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if cfg.Database.Path == "" {
		cfg.Database.Path = DefaultDatabasePath
	}
	cfg.Database.Path = ExpandPath(cfg.Database.Path)
	cfg.LLM.Provider = strings.ToLower(strings.TrimSpace(cfg.LLM.Provider))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail deep inside a component.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Owner) == "" {
		return fmt.Errorf("%w: owner must not be empty", common.ErrInvalidConfig)
	}
	if _, err := common.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("%w: logging.format must be console or json, got %q", common.ErrInvalidConfig, c.Logging.Format)
	}

	switch model.JobType(c.Worker.JobType) {
	case model.JobTypeAICategorization, model.JobTypeAICounterparty:
	default:
		return fmt.Errorf("%w: worker.job_type %q", common.ErrInvalidConfig, c.Worker.JobType)
	}
	if c.Worker.Count < 1 {
		return fmt.Errorf("%w: worker.count must be at least 1", common.ErrInvalidConfig)
	}
	if c.Worker.BatchSize < 1 {
		return fmt.Errorf("%w: worker.batch_size must be at least 1", common.ErrInvalidConfig)
	}
	if c.Worker.PollInterval <= 0 {
		return fmt.Errorf("%w: worker.poll_interval must be positive", common.ErrInvalidConfig)
	}
	if c.Jobs.MaxRetries < 0 {
		return fmt.Errorf("%w: jobs.max_retries must not be negative", common.ErrInvalidConfig)
	}
	return nil
}

// RequireLLM reports a missing provider key as a user-facing error.
func (c *Config) RequireLLM() error {
	if c.LLM.APIKey == "" {
		return common.NewUserError(
			fmt.Sprintf("set llm.api_key or SPICE_LLM_API_KEY to use the %s provider", c.LLM.Provider),
			common.ErrMissingConfig)
	}
	return nil
}
