package config

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"
)

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// 1. API Key validation (required for all AI operations)
	if os.Getenv("GEMINI_API_KEY") == "" {
		return fmt.Errorf("%w: GEMINI_API_KEY environment variable is required\n"+
			"Get your API key at: https://ai.google.dev/gemini-api/docs/api-key",
			ErrMissingAPIKey)
	}

	// 2. Server configuration validation
	if c.Addr == "" {
		return fmt.Errorf("%w: addr cannot be empty", ErrInvalidAddr)
	}

	// 3. Model configuration validation
	if c.ModelName == "" {
		return fmt.Errorf("%w: model_name cannot be empty", ErrInvalidModelName)
	}

	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model cannot be empty", ErrInvalidEmbedderModel)
	}

	// 4. Turn execution limits
	if c.MaxToolLoops < 1 || c.MaxToolLoops > MaxAllowedToolLoops {
		return fmt.Errorf("%w: must be between 1 and %d, got %d",
			ErrInvalidMaxToolLoops, MaxAllowedToolLoops, c.MaxToolLoops)
	}

	if c.ModelTimeout < time.Second {
		return fmt.Errorf("%w: model_timeout must be at least 1s, got %s", ErrInvalidTimeout, c.ModelTimeout)
	}

	if c.ToolTimeout < time.Second {
		return fmt.Errorf("%w: tool_timeout must be at least 1s, got %s", ErrInvalidTimeout, c.ToolTimeout)
	}

	// 5. Pricing validation (zero is allowed for free-tier experiments)
	if err := c.Pricing.validate(); err != nil {
		return err
	}

	// 6. Session retention validation
	if c.SessionMaxAge < time.Minute {
		return fmt.Errorf("%w: session_max_age must be at least 1m, got %s",
			ErrInvalidSessionRetention, c.SessionMaxAge)
	}

	if c.EvictionInterval < time.Second {
		return fmt.Errorf("%w: eviction_interval must be at least 1s, got %s",
			ErrInvalidSessionRetention, c.EvictionInterval)
	}

	// 7. PostgreSQL configuration validation
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}

	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}

	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}

	if c.PostgresPassword == "" {
		return fmt.Errorf("%w: postgres_password must be set in config.yaml",
			ErrInvalidPostgresPassword)
	}

	// Warn if using the default dev password (but don't block, user might be in dev)
	if c.PostgresPassword == "librarian_dev_password" {
		slog.Warn("Using default development password for PostgreSQL",
			"warning", "Change postgres_password in config.yaml for production deployments")
	}

	if len(c.PostgresPassword) < 8 {
		return fmt.Errorf("%w: postgres_password must be at least 8 characters (got %d)",
			ErrInvalidPostgresPassword, len(c.PostgresPassword))
	}

	// 8. PostgreSQL SSL mode validation
	// Modern SSL modes only: 'allow' and 'prefer' are deprecated (MITM vulnerable).
	// Reference: https://www.postgresql.org/docs/current/libpq-ssl.html
	validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
	if c.PostgresSSLMode == "" {
		return fmt.Errorf("%w: postgres_ssl_mode is empty (should have default from setDefaults)",
			ErrInvalidPostgresSSLMode)
	}

	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v",
			ErrInvalidPostgresSSLMode, c.PostgresSSLMode, validSSLModes)
	}

	return nil
}

func (p PricingConfig) validate() error {
	components := []struct {
		name  string
		value float64
	}{
		{"input_per_mtok", p.InputPerMTok},
		{"output_per_mtok", p.OutputPerMTok},
		{"cache_write_per_mtok", p.CacheWritePerMTok},
		{"cache_read_per_mtok", p.CacheReadPerMTok},
	}
	for _, c := range components {
		if c.value < 0 {
			return fmt.Errorf("%w: pricing.%s cannot be negative, got %.4f",
				ErrInvalidPricing, c.name, c.value)
		}
	}
	return nil
}
