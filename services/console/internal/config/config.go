package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config holds runtime configuration for the console and the crmctl CLI.
type Config struct {
	APIBaseURL        string        `env:"CRM_API_BASE_URL,required"`
	AllowInsecureHTTP bool          `env:"CRM_ALLOW_INSECURE_HTTP,default=false"`
	SessionFile       string        `env:"CRM_SESSION_FILE"`
	RedisURL          string        `env:"CRM_REDIS_URL"`
	RedisPrefix       string        `env:"CRM_REDIS_PREFIX,default=crmdash"`
	RequestTimeout    time.Duration `env:"CRM_REQUEST_TIMEOUT,default=0s"`
	Addr              string        `env:"CONSOLE_ADDR,default=127.0.0.1:8080"`
	AllowedOrigins    []string      `env:"CORS_ALLOWED_ORIGINS,default=http://localhost:5173"`
	OTLPEndpoint      string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	NATSURL           string        `env:"NATS_URL"`
	LogLevel          string        `env:"LOG_LEVEL,default=info"`
}

// Load returns a Config populated from environment variables.
func Load(ctx context.Context) (Config, error) {
	return LoadFrom(ctx, envconfig.OsLookuper())
}

// LoadFrom populates a Config from l.
func LoadFrom(ctx context.Context, l envconfig.Lookuper) (Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: l}); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values envconfig cannot.
func (c Config) Validate() error {
	if c.RequestTimeout < 0 {
		return fmt.Errorf("CRM_REQUEST_TIMEOUT must not be negative, got %s", c.RequestTimeout)
	}
	if c.RedisURL != "" && c.SessionFile != "" {
		return errors.New("set only one of CRM_REDIS_URL and CRM_SESSION_FILE")
	}
	for _, o := range c.AllowedOrigins {
		if o == "*" {
			return errors.New("CORS_ALLOWED_ORIGINS must list origins, not *")
		}
	}
	return nil
}
