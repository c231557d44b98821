package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Observability ObservabilityConfig
	RateLimit     RateLimitConfig
	ACL           ACLConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `default:"0.0.0.0"`
	Port         string        `default:"8080"`
	ReadTimeout  time.Duration `default:"15s" split_words:"true"`
	WriteTimeout time.Duration `default:"15s" split_words:"true"`
	IdleTimeout  time.Duration `default:"60s" split_words:"true"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host            string        `default:"localhost"`
	Port            string        `default:"5432"`
	User            string        `default:"cloudfence"`
	Password        string        `required:"true"`
	Name            string        `default:"cloudfence"`
	SSLMode         string        `default:"disable" envconfig:"SSLMODE"`
	MaxConns        int           `default:"25" split_words:"true"`
	MinConns        int           `default:"5" split_words:"true"`
	ConnMaxLifetime time.Duration `default:"5m" split_words:"true"`
}

// ObservabilityConfig holds logging and tracing configuration
type ObservabilityConfig struct {
	LogLevel       string `default:"info" split_words:"true"`
	LogFormat      string `default:"json" split_words:"true"`
	OTELEnabled    bool   `default:"false" envconfig:"OTEL_ENABLED"`
	ServiceName    string `default:"cloudfence" split_words:"true"`
	ServiceVersion string `default:"0.1.0" split_words:"true"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond float64 `default:"10" split_words:"true"`
	Burst             int     `default:"20"`
}

// ACLConfig holds access control configuration
type ACLConfig struct {
	// RootDomainID is the id of the root of the domain tree. The dynamic
	// owner role is looked up in this domain.
	RootDomainID int64 `default:"1" split_words:"true"`
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("CLOUDFENCE", &cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}
