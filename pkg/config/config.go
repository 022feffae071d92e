package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/autoops/autoops/pkg/telemetry"
)

// Config is the root configuration. Values load in three layers:
// built-in defaults, then an optional YAML file, then AUTOOPS_*
// environment variables.
type Config struct {
	Engine    EngineConfig     `yaml:"engine"`
	Planner   PlannerConfig    `yaml:"planner"`
	Store     StoreConfig      `yaml:"store"`
	Server    ServerConfig     `yaml:"server"`
	Telemetry telemetry.Config `yaml:"telemetry" ignored:"true"`
}

// EngineConfig controls the task manager, workflow, and executor.
type EngineConfig struct {
	// Workers is the task worker pool size.
	Workers int `yaml:"workers" envconfig:"WORKERS" validate:"min=1,max=256"`

	// DefaultTimeout bounds a task's total runtime when the submission
	// does not set one.
	DefaultTimeout time.Duration `yaml:"default_timeout" envconfig:"DEFAULT_TIMEOUT" validate:"min=1s"`

	// MaxRetries is the number of full plan-validate-execute retries a
	// failing task gets before it is marked failed.
	MaxRetries int `yaml:"max_retries" envconfig:"MAX_RETRIES" validate:"min=0,max=20"`

	// MaxConcurrentOps caps in-flight operations per task.
	MaxConcurrentOps int `yaml:"max_concurrent_ops" envconfig:"MAX_CONCURRENT_OPS" validate:"min=1,max=256"`

	// OpMaxAttempts is the per-operation attempt limit.
	OpMaxAttempts int `yaml:"op_max_attempts" envconfig:"OP_MAX_ATTEMPTS" validate:"min=1,max=20"`

	// OpBaseDelay is the base backoff delay between operation attempts.
	OpBaseDelay time.Duration `yaml:"op_base_delay" envconfig:"OP_BASE_DELAY" validate:"min=1ms"`

	// RetentionWindow controls how long finished tasks stay queryable.
	RetentionWindow time.Duration `yaml:"retention_window" envconfig:"RETENTION_WINDOW" validate:"min=1m"`

	// DefaultNamespace is applied to operations without one.
	DefaultNamespace string `yaml:"default_namespace" envconfig:"DEFAULT_NAMESPACE" validate:"required"`
}

// PlannerConfig controls plan generation.
type PlannerConfig struct {
	// BaseURL of the OpenAI-compatible chat endpoint.
	BaseURL string `yaml:"base_url" envconfig:"PLANNER_BASE_URL"`

	// APIKey for the chat endpoint. Usually set via AUTOOPS_PLANNER_API_KEY.
	APIKey string `yaml:"api_key" envconfig:"PLANNER_API_KEY"`

	// Model is the chat model name.
	Model string `yaml:"model" envconfig:"PLANNER_MODEL"`

	// Temperature for plan generation. Keep low for determinism.
	Temperature float64 `yaml:"temperature" envconfig:"PLANNER_TEMPERATURE" validate:"min=0,max=2"`

	// Timeout bounds one chat completion call.
	Timeout time.Duration `yaml:"timeout" envconfig:"PLANNER_TIMEOUT" validate:"min=1s"`
}

// StoreConfig controls task persistence.
type StoreConfig struct {
	// Path to the SQLite database file. Empty selects the in-memory
	// store.
	Path string `yaml:"path" envconfig:"STORE_PATH"`

	// Required refuses task submission when persistence fails instead
	// of degrading to memory-only operation.
	Required bool `yaml:"required" envconfig:"STORE_REQUIRED"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	// Addr is the listen address, host:port.
	Addr string `yaml:"addr" envconfig:"SERVER_ADDR" validate:"required"`

	// ReadTimeout for incoming requests.
	ReadTimeout time.Duration `yaml:"read_timeout" envconfig:"SERVER_READ_TIMEOUT" validate:"min=1s"`

	// WriteTimeout for responses.
	WriteTimeout time.Duration `yaml:"write_timeout" envconfig:"SERVER_WRITE_TIMEOUT" validate:"min=1s"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SERVER_SHUTDOWN_TIMEOUT" validate:"min=1s"`

	// CORSOrigins lists allowed cross-origin request origins.
	CORSOrigins []string `yaml:"cors_origins" envconfig:"SERVER_CORS_ORIGINS"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			Workers:          10,
			DefaultTimeout:   5 * time.Minute,
			MaxRetries:       3,
			MaxConcurrentOps: 10,
			OpMaxAttempts:    3,
			OpBaseDelay:      time.Second,
			RetentionWindow:  24 * time.Hour,
			DefaultNamespace: "default",
		},
		Planner: PlannerConfig{
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			Temperature: 0.1,
			Timeout:     60 * time.Second,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"*"},
		},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// Load builds the effective configuration. path may be empty, in which
// case only defaults and environment variables apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := envconfig.Process("autoops", cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
