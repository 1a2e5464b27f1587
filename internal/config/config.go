// Package config provides application configuration management with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.librarian/config.yaml)
//  3. Default values (sensible defaults for quick start)
//
// Main configuration categories:
//   - Model: provider, model name, generation limits, pricing
//   - Storage: PostgreSQL connection (see storage.go)
//   - Skills: on-disk skill library location
//   - Session: in-memory session retention and turn limits
//   - Observability: OTLP tracing (see observability.go)
//
// Security: Sensitive data (passwords) are never logged.
// Validation: Range checks in validation.go return sentinel errors
// that can be matched with errors.Is().
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidAddr indicates the server listen address is invalid.
	ErrInvalidAddr = errors.New("invalid listen address")

	// ErrInvalidMaxToolLoops indicates the tool loop limit is out of range.
	ErrInvalidMaxToolLoops = errors.New("invalid max tool loops")

	// ErrInvalidTimeout indicates a timeout value is out of range.
	ErrInvalidTimeout = errors.New("invalid timeout")

	// ErrInvalidPricing indicates a price component is negative.
	ErrInvalidPricing = errors.New("invalid pricing")

	// ErrInvalidSessionRetention indicates session retention values are out of range.
	ErrInvalidSessionRetention = errors.New("invalid session retention")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresPassword indicates the PostgreSQL password is invalid.
	ErrInvalidPostgresPassword = errors.New("invalid PostgreSQL password")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")
)

const (
	// DefaultGeminiEmbedderModel is the default Gemini embedder model.
	// gemini-embedding-001 outputs 3072 dimensions by default, but supports
	// truncation to 768 via OutputDimensionality. The pgvector schema in
	// db/migrations uses 768 dimensions.
	DefaultGeminiEmbedderModel = "gemini-embedding-001"

	// DefaultMaxToolLoops is the default cap on model/tool round trips per turn.
	DefaultMaxToolLoops = 8

	// MaxAllowedToolLoops is the absolute maximum to keep turns bounded.
	MaxAllowedToolLoops = 32
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGemini   = "gemini"
	ProviderGoogleAI = "googleai"
)

// Config stores application configuration.
// SECURITY: Sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields (passwords, API keys, tokens), update MarshalJSON.
type Config struct {
	// HTTP server configuration
	Addr string `mapstructure:"addr" json:"addr"`

	// AI provider and model configuration
	Provider  string `mapstructure:"provider" json:"provider"`     // "gemini" (default)
	ModelName string `mapstructure:"model_name" json:"model_name"` // Model identifier (e.g., "gemini-2.5-flash")

	// Turn execution limits
	MaxToolLoops     int           `mapstructure:"max_tool_loops" json:"max_tool_loops"`
	ModelTimeout     time.Duration `mapstructure:"model_timeout" json:"model_timeout"`
	ToolTimeout      time.Duration `mapstructure:"tool_timeout" json:"tool_timeout"`
	ModelRateLimit   float64       `mapstructure:"model_rate_limit" json:"model_rate_limit"` // requests per second
	ModelRateBurst   int           `mapstructure:"model_rate_burst" json:"model_rate_burst"`

	// Token pricing (USD per million tokens)
	Pricing PricingConfig `mapstructure:"pricing" json:"pricing"`

	// Session retention configuration
	SessionMaxAge    time.Duration `mapstructure:"session_max_age" json:"session_max_age"`
	EvictionInterval time.Duration `mapstructure:"eviction_interval" json:"eviction_interval"`

	// Skill library configuration
	SkillsDir string `mapstructure:"skills_dir" json:"skills_dir"`

	// Storage configuration (see storage.go for documentation)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Embedder configuration
	EmbedderModel string `mapstructure:"embedder_model" json:"embedder_model"`

	// Observability configuration (see observability.go for type definition)
	Tracing TracingConfig `mapstructure:"tracing" json:"tracing"`

	// Security configuration (serve mode only)
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`

	// Logging configuration
	LogLevel string `mapstructure:"log_level" json:"log_level"`
	LogJSON  bool   `mapstructure:"log_json" json:"log_json"`
}

// PricingConfig holds the per-million-token rate card used for cost accounting.
type PricingConfig struct {
	InputPerMTok      float64 `mapstructure:"input_per_mtok" json:"input_per_mtok"`
	OutputPerMTok     float64 `mapstructure:"output_per_mtok" json:"output_per_mtok"`
	CacheWritePerMTok float64 `mapstructure:"cache_write_per_mtok" json:"cache_write_per_mtok"`
	CacheReadPerMTok  float64 `mapstructure:"cache_read_per_mtok" json:"cache_read_per_mtok"`
}

// Load loads configuration.
// Priority: Environment variables > Configuration file > Default values
func Load() (*Config, error) {
	// Configuration directory: ~/.librarian/
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".librarian")

	// Ensure directory exists (use 0750 permission for better security)
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	// Configure Viper
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".") // Also support current directory

	// Set default values
	setDefaults()

	// Bind environment variables
	bindEnvVariables()

	// Read configuration file (if exists)
	if err := viper.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."},
			"config_name", "config.yaml")
	}

	// Use Unmarshal to automatically map to struct (type-safe)
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// Parse DATABASE_URL if set (highest priority for PostgreSQL config)
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	// Validate immediately (fail-fast)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	// Server defaults
	viper.SetDefault("addr", ":8080")

	// AI defaults
	viper.SetDefault("provider", ProviderGemini)
	viper.SetDefault("model_name", "gemini-2.5-flash")
	viper.SetDefault("embedder_model", DefaultGeminiEmbedderModel)

	// Turn execution defaults
	viper.SetDefault("max_tool_loops", DefaultMaxToolLoops)
	viper.SetDefault("model_timeout", "2m")
	viper.SetDefault("tool_timeout", "30s")
	viper.SetDefault("model_rate_limit", 2.0)
	viper.SetDefault("model_rate_burst", 4)

	// Pricing defaults (Claude Sonnet-class rate card, USD per MTok)
	viper.SetDefault("pricing.input_per_mtok", 3.00)
	viper.SetDefault("pricing.output_per_mtok", 15.00)
	viper.SetDefault("pricing.cache_write_per_mtok", 3.75)
	viper.SetDefault("pricing.cache_read_per_mtok", 0.30)

	// Session retention defaults
	viper.SetDefault("session_max_age", "24h")
	viper.SetDefault("eviction_interval", "10m")

	// Skill library defaults
	viper.SetDefault("skills_dir", "skills")

	// PostgreSQL defaults (matching docker-compose.yml)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "librarian")
	viper.SetDefault("postgres_password", "librarian_dev_password")
	viper.SetDefault("postgres_db_name", "librarian")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// CORS defaults (local frontend dev server)
	viper.SetDefault("cors_origins", []string{"http://localhost:4200"})

	// Tracing defaults
	viper.SetDefault("tracing.endpoint", "localhost:4318")
	viper.SetDefault("tracing.environment", "dev")
	viper.SetDefault("tracing.service_name", "librarian")
	viper.SetDefault("tracing.enabled", false)

	// Logging defaults
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_json", false)
}

// bindEnvVariables binds environment variable overrides explicitly.
//
// NOTE: GEMINI_API_KEY is read directly by Genkit, not via Viper.
// Validation checks its presence in cfg.Validate().
func bindEnvVariables() {
	// Helper to panic on unexpected bind errors (hardcoded strings can't fail)
	// If this panics, it's a BUG in our code, not a runtime error
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	// Server overrides
	mustBind("addr", "LIBRARIAN_ADDR")

	// AI provider and model overrides
	mustBind("provider", "LIBRARIAN_PROVIDER")
	mustBind("model_name", "LIBRARIAN_MODEL_NAME")
	mustBind("embedder_model", "LIBRARIAN_EMBEDDER_MODEL")

	// Skill library overrides
	mustBind("skills_dir", "LIBRARIAN_SKILLS_DIR")

	// CORS origins (serve mode, comma-separated list)
	mustBind("cors_origins", "LIBRARIAN_CORS_ORIGINS")

	// Tracing overrides
	mustBind("tracing.enabled", "LIBRARIAN_TRACING_ENABLED")
	mustBind("tracing.endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")

	// Logging overrides
	mustBind("log_level", "LIBRARIAN_LOG_LEVEL")
	mustBind("log_json", "LIBRARIAN_LOG_JSON")
}

// maskedValue is the placeholder for masked sensitive data.
// Full-width blocks (U+2588) avoid substring matching against real secrets.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// For secrets <=8 chars, fully masks to prevent substring attacks.
// For longer secrets, shows first/last 2 chars for debug utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
//
// Sensitive fields masked:
//   - PostgresPassword
//
// When adding new sensitive fields, update this method.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// FullModelName returns the provider-qualified model name for Genkit.
// Example: "googleai/gemini-2.5-flash".
// If ModelName already contains a "/", it is returned as-is.
func (c *Config) FullModelName() string {
	if strings.Contains(c.ModelName, "/") {
		return c.ModelName
	}
	return ProviderGoogleAI + "/" + c.ModelName
}

// FullEmbedderName returns the provider-qualified embedder name for Genkit.
func (c *Config) FullEmbedderName() string {
	if strings.Contains(c.EmbedderModel, "/") {
		return c.EmbedderModel
	}
	return ProviderGoogleAI + "/" + c.EmbedderModel
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
