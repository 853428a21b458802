package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	libconfig "chargehub/libs/config"
)

// ProviderConfig describes one charging network integration.
type ProviderConfig struct {
	Name            string        `yaml:"name"`
	BaseURL         string        `yaml:"baseUrl"`
	APIKey          string        `yaml:"apiKey"`
	CallTimeout     time.Duration `yaml:"callTimeout"`
	StalenessWindow time.Duration `yaml:"stalenessWindow"`
	PollInterval    time.Duration `yaml:"pollInterval"`
	Push            PushConfig    `yaml:"push"`
}

// PushConfig selects the provider's availability stream, if any.
type PushConfig struct {
	Mode     string `yaml:"mode"` // "", "ws" or "mqtt"
	URL      string `yaml:"url"`
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// StationMapping links one provider-native station id into a shared merge group.
type StationMapping struct {
	Provider string `yaml:"provider"`
	NativeID string `yaml:"nativeId"`
	GroupKey string `yaml:"groupKey"`
}

// HTTPConfig holds the listen settings.
type HTTPConfig struct {
	Port string `yaml:"port" env:"CHARGEHUB_HTTP_PORT"`
}

// DatabaseConfig holds the Postgres settings.
type DatabaseConfig struct {
	DSN string `yaml:"dsn" env:"CHARGEHUB_POSTGRES_DSN"`
}

// RedisConfig holds the redis settings.
type RedisConfig struct {
	Addr             string        `yaml:"addr" env:"CHARGEHUB_REDIS_ADDR"`
	Password         string        `yaml:"password" env:"CHARGEHUB_REDIS_PASSWORD"`
	DB               int           `yaml:"db" env:"CHARGEHUB_REDIS_DB"`
	ActiveSessionTTL time.Duration `yaml:"activeSessionTtl" env:"CHARGEHUB_ACTIVE_SESSION_TTL"`
}

// CoverageConfig is the service area the pollers refresh.
type CoverageConfig struct {
	Lat     float64 `yaml:"lat" env:"CHARGEHUB_COVERAGE_LAT"`
	Lng     float64 `yaml:"lng" env:"CHARGEHUB_COVERAGE_LNG"`
	RadiusM int     `yaml:"radiusM" env:"CHARGEHUB_COVERAGE_RADIUS_M"`
}

// AggregatorConfig tunes discovery fan-out.
type AggregatorConfig struct {
	ProviderTimeout time.Duration `yaml:"providerTimeout" env:"CHARGEHUB_PROVIDER_TIMEOUT"`
}

// SessionConfig tunes session lifecycle behavior.
type SessionConfig struct {
	MaxAttempts       int           `yaml:"maxAttempts" env:"CHARGEHUB_SESSION_MAX_ATTEMPTS"`
	RetryDelay        time.Duration `yaml:"retryDelay" env:"CHARGEHUB_SESSION_RETRY_DELAY"`
	ReconcileInterval time.Duration `yaml:"reconcileInterval" env:"CHARGEHUB_RECONCILE_INTERVAL"`
}

// PaymentConfig tunes captures.
type PaymentConfig struct {
	Currency        string        `yaml:"currency" env:"CHARGEHUB_PAYMENT_CURRENCY"`
	StripeSecretKey string        `yaml:"stripeSecretKey" env:"CHARGEHUB_STRIPE_SECRET_KEY"`
	MaxAttempts     int           `yaml:"maxAttempts" env:"CHARGEHUB_PAYMENT_MAX_ATTEMPTS"`
	RetryDelay      time.Duration `yaml:"retryDelay" env:"CHARGEHUB_PAYMENT_RETRY_DELAY"`
}

// Config defines the chargehub service configuration.
type Config struct {
	HTTP            HTTPConfig       `yaml:"http"`
	Database        DatabaseConfig   `yaml:"database"`
	Redis           RedisConfig      `yaml:"redis"`
	Providers       []ProviderConfig `yaml:"providers"` // priority order: first wins merge ties
	StationMappings []StationMapping `yaml:"stationMappings"`
	Coverage        CoverageConfig   `yaml:"coverage"`
	Aggregator      AggregatorConfig `yaml:"aggregator"`
	Session         SessionConfig    `yaml:"session"`
	Payment         PaymentConfig    `yaml:"payment"`
}

// Load reads configuration via the shared helper and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		HTTP:  HTTPConfig{Port: "8080"},
		Redis: RedisConfig{Addr: "localhost:6379", ActiveSessionTTL: 4 * time.Hour},
		Coverage: CoverageConfig{
			RadiusM: 50000,
		},
		Session: SessionConfig{
			MaxAttempts:       3,
			RetryDelay:        200 * time.Millisecond,
			ReconcileInterval: 30 * time.Second,
		},
		Payment: PaymentConfig{
			Currency:    "usd",
			MaxAttempts: 3,
			RetryDelay:  300 * time.Millisecond,
		},
		Aggregator: AggregatorConfig{ProviderTimeout: 500 * time.Millisecond},
	}

	if err := libconfig.LoadConfig(cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.Database.DSN) == "" {
		return nil, errors.New("config: database dsn required")
	}
	if strings.TrimSpace(cfg.Redis.Addr) == "" {
		return nil, errors.New("config: redis addr required")
	}
	if len(cfg.Providers) == 0 {
		return nil, errors.New("config: at least one provider required")
	}
	seen := map[string]bool{}
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		if strings.TrimSpace(p.Name) == "" {
			return nil, fmt.Errorf("config: provider %d missing name", i)
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("config: duplicate provider %q", p.Name)
		}
		seen[p.Name] = true
		if strings.TrimSpace(p.BaseURL) == "" {
			return nil, fmt.Errorf("config: provider %q missing baseUrl", p.Name)
		}
		if p.CallTimeout <= 0 {
			p.CallTimeout = 5 * time.Second
		}
		if p.StalenessWindow <= 0 {
			p.StalenessWindow = 60 * time.Second
		}
		if p.PollInterval <= 0 {
			p.PollInterval = p.StalenessWindow
		}
		switch p.Push.Mode {
		case "", "ws", "mqtt":
		default:
			return nil, fmt.Errorf("config: provider %q has unknown push mode %q", p.Name, p.Push.Mode)
		}
	}
	return cfg, nil
}

// ProviderOrder returns provider names in priority order.
func (c *Config) ProviderOrder() []string {
	names := make([]string, len(c.Providers))
	for i, p := range c.Providers {
		names[i] = p.Name
	}
	return names
}

// MergeGroups returns the explicit cross-provider id mappings keyed
// "provider:nativeID".
func (c *Config) MergeGroups() map[string]string {
	groups := make(map[string]string, len(c.StationMappings))
	for _, m := range c.StationMappings {
		groups[m.Provider+":"+m.NativeID] = m.GroupKey
	}
	return groups
}

// HTTPAddress returns :port style.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}
