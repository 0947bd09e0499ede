package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	ServiceName  string
	Port         string
	OTELEndpoint string
	RedisAddr    string
	RedisDB      int

	// Providers is the ordered provider table; order defines the fallback
	// sequence when the routed candidate is unhealthy.
	Providers []Provider

	Routing Routing
}

// Provider describes one configured payment processor.
type Provider struct {
	ID            string `yaml:"id"`
	WebhookSecret string `yaml:"webhook_secret"`
	// WebhookSecretEnv names an env var that overrides WebhookSecret, so
	// secrets can stay out of the config file.
	WebhookSecretEnv string `yaml:"webhook_secret_env"`
}

// Routing holds tunables for the routing engine.
type Routing struct {
	FallbackPenalty   float64 `yaml:"fallback_penalty"`
	DefaultConfidence float64 `yaml:"default_confidence"`
}

type fileConfig struct {
	Providers []Provider `yaml:"providers"`
	Routing   Routing    `yaml:"routing"`
}

// Load loads configuration from environment variables and, if
// PROVIDERS_CONFIG points at a YAML file, the provider table from it.
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName:  "payment-orchestrator",
		Port:         getEnv("PORT", "8081"),
		OTELEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		RedisAddr:    getEnv("REDIS_ADDR", ""),
		RedisDB:      getEnvInt("REDIS_DB", 0),
		Providers:    defaultProviders(),
		Routing:      Routing{FallbackPenalty: 0.2, DefaultConfidence: 0.6},
	}

	if path := os.Getenv("PROVIDERS_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		if p.WebhookSecretEnv != "" {
			if v := os.Getenv(p.WebhookSecretEnv); v != "" {
				p.WebhookSecret = v
			}
		}
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read providers config: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse providers config: %w", err)
	}
	if len(fc.Providers) > 0 {
		c.Providers = fc.Providers
	}
	if fc.Routing.FallbackPenalty > 0 {
		c.Routing.FallbackPenalty = fc.Routing.FallbackPenalty
	}
	if fc.Routing.DefaultConfidence > 0 {
		c.Routing.DefaultConfidence = fc.Routing.DefaultConfidence
	}
	return nil
}

// ProviderIDs returns the configured provider ids in fallback order.
func (c *Config) ProviderIDs() []string {
	ids := make([]string, len(c.Providers))
	for i, p := range c.Providers {
		ids[i] = p.ID
	}
	return ids
}

func defaultProviders() []Provider {
	return []Provider{
		{ID: "stripe", WebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""), WebhookSecretEnv: "STRIPE_WEBHOOK_SECRET"},
		{ID: "conekta", WebhookSecret: getEnv("CONEKTA_WEBHOOK_SECRET", ""), WebhookSecretEnv: "CONEKTA_WEBHOOK_SECRET"},
		{ID: "dlocal", WebhookSecret: getEnv("DLOCAL_WEBHOOK_SECRET", ""), WebhookSecretEnv: "DLOCAL_WEBHOOK_SECRET"},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
