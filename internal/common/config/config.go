// Package config provides configuration management for the provisioning service
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	// Service identification
	ServiceName string `mapstructure:"service_name"`
	Environment string `mapstructure:"environment"`
	Port        int    `mapstructure:"port"`
	LogLevel    string `mapstructure:"log_level"`

	// Database connections. An empty DatabaseURL in development mode runs
	// the service against the in-memory store.
	DatabaseURL string `mapstructure:"database_url"`
	RedisURL    string `mapstructure:"redis_url"`

	// SCIM bearer tokens as "token:client" pairs, comma separated
	SCIMTokens string `mapstructure:"scim_tokens"`

	// Append-only audit journal file; empty disables the journal
	AuditJournalPath string `mapstructure:"audit_journal_path"`

	// Security settings
	CORSAllowedOrigins string `mapstructure:"cors_allowed_origins"`

	// Rate limiting. Mutating requests get the stricter write tier.
	EnableRateLimit        bool `mapstructure:"enable_rate_limit"`
	RateLimitRequests      int  `mapstructure:"rate_limit_requests"`
	RateLimitWindow        int  `mapstructure:"rate_limit_window"`
	RateLimitWriteRequests int  `mapstructure:"rate_limit_write_requests"`
	RateLimitWriteWindow   int  `mapstructure:"rate_limit_write_window"`

	// Tracing
	OTLPEndpoint   string  `mapstructure:"otlp_endpoint"`
	TracingEnabled bool    `mapstructure:"tracing_enabled"`
	TraceSampling  float64 `mapstructure:"trace_sampling"`
}

// Load reads configuration from file and environment variables
func Load(serviceName string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/scimgate")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("SCIMGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Also support non-prefixed env vars for common settings
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.ServiceName = serviceName

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("port", 8003)

	v.SetDefault("database_url", "")
	v.SetDefault("redis_url", "")

	v.SetDefault("scim_tokens", "")

	v.SetDefault("audit_journal_path", "")

	v.SetDefault("cors_allowed_origins", "*")

	v.SetDefault("enable_rate_limit", true)
	v.SetDefault("rate_limit_requests", 100)
	v.SetDefault("rate_limit_window", 60)
	v.SetDefault("rate_limit_write_requests", 50)
	v.SetDefault("rate_limit_write_window", 60)

	v.SetDefault("otlp_endpoint", "localhost:4317")
	v.SetDefault("tracing_enabled", false)
	v.SetDefault("trace_sampling", 0.1)
}

func bindEnvVars(v *viper.Viper) {
	envMappings := map[string]string{
		"database_url":    "DATABASE_URL",
		"redis_url":       "REDIS_URL",
		"environment":     "APP_ENV",
		"log_level":       "LOG_LEVEL",
		"port":            "PORT",
		"scim_tokens":     "SCIM_TOKENS",
		"otlp_endpoint":   "OTLP_ENDPOINT",
		"tracing_enabled": "TRACING_ENABLED",
	}

	for key, env := range envMappings {
		v.BindEnv(key, env)
	}
}

func validate(cfg *Config) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if cfg.DatabaseURL == "" && !cfg.IsDevelopment() {
		return fmt.Errorf("database_url is required outside development")
	}
	if cfg.SCIMTokens == "" && !cfg.IsDevelopment() {
		return fmt.Errorf("scim_tokens is required outside development")
	}
	return nil
}

// ParseSCIMTokens splits the configured token list into a token -> client
// map. Entries without a client label keep the token as its own label.
func (c *Config) ParseSCIMTokens() map[string]string {
	tokens := make(map[string]string)
	for _, entry := range strings.Split(c.SCIMTokens, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		token, client, found := strings.Cut(entry, ":")
		if !found || client == "" {
			client = token
		}
		tokens[token] = client
	}
	return tokens
}

// GetCORSOrigins returns CORS allowed origins as a slice
func (c *Config) GetCORSOrigins() []string {
	if c.CORSAllowedOrigins == "*" {
		return []string{"*"}
	}
	return strings.Split(c.CORSAllowedOrigins, ",")
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}
