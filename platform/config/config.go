// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// JWTConfig provides JWT validation settings for middleware.
type JWTConfig interface {
	GetJWTAccessSecret() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
}

// SchedulerConfig provides settings for the asynq/redis job substrate (C6).
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
}

// SchedulerIntervalsConfig provides the polling cadences used by the
// worker's periodic tickers (campaign dispatch, journey sweep, analytics
// rollup) and the journey trigger debounce window.
type SchedulerIntervalsConfig interface {
	GetCampaignTickInterval() time.Duration
	GetJourneySweepInterval() time.Duration
	GetAnalyticsRollupInterval() time.Duration
	GetJourneyTriggerDebounce() time.Duration
}

// WebhookSigningConfig provides settings for verifying inbound provider
// webhook signatures (HMAC-SHA256 over "timestamp.body").
type WebhookSigningConfig interface {
	GetWebhookSigningSecret() string
	GetWebhookSignatureTTL() time.Duration
	GetWebhookSignatureRequired() bool
}

// WhatsAppConfig provides settings for the WhatsApp provider adapter.
type WhatsAppConfig interface {
	GetWhatsAppURL() string
	GetWhatsAppKey() string
	GetWhatsAppDeviceID() string
}

// BootstrapConfig provides the shared-secret token used to create the
// first organization and operator identity on a fresh deployment.
type BootstrapConfig interface {
	GetBootstrapToken() string
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env              string
	HTTPAddr         string
	DatabaseURL      string
	JWTAccessSecret  string
	JWTRefreshSecret string
	AccessTokenTTL   time.Duration
	RefreshTokenTTL  time.Duration

	CORSAllowAll   bool
	CORSOrigins    []string
	CORSAllowCreds bool

	RedisURL         string
	RedisTLSInsecure bool
	AsynqQueueName   string
	AsynqConcurrency int

	CampaignTickInterval    time.Duration
	JourneySweepInterval    time.Duration
	AnalyticsRollupInterval time.Duration
	JourneyTriggerDebounce  time.Duration

	WebhookSigningSecret     string
	WebhookSignatureTTL      time.Duration
	WebhookSignatureRequired bool

	WhatsAppURL      string
	WhatsAppKey      string
	WhatsAppDeviceID string

	BootstrapToken string
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// JWTConfig implementation
func (c *Config) GetJWTAccessSecret() string { return c.JWTAccessSecret }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool  { return c.CORSAllowCreds }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string       { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int  { return c.AsynqConcurrency }

// SchedulerIntervalsConfig implementation
func (c *Config) GetCampaignTickInterval() time.Duration    { return c.CampaignTickInterval }
func (c *Config) GetJourneySweepInterval() time.Duration    { return c.JourneySweepInterval }
func (c *Config) GetAnalyticsRollupInterval() time.Duration { return c.AnalyticsRollupInterval }
func (c *Config) GetJourneyTriggerDebounce() time.Duration  { return c.JourneyTriggerDebounce }

// WebhookSigningConfig implementation
func (c *Config) GetWebhookSigningSecret() string       { return c.WebhookSigningSecret }
func (c *Config) GetWebhookSignatureTTL() time.Duration { return c.WebhookSignatureTTL }
func (c *Config) GetWebhookSignatureRequired() bool     { return c.WebhookSignatureRequired }

// WhatsAppConfig implementation
func (c *Config) GetWhatsAppURL() string      { return c.WhatsAppURL }
func (c *Config) GetWhatsAppKey() string      { return c.WhatsAppKey }
func (c *Config) GetWhatsAppDeviceID() string { return c.WhatsAppDeviceID }

// BootstrapConfig implementation
func (c *Config) GetBootstrapToken() string { return c.BootstrapToken }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	cfg := &Config{
		Env:              getEnv("APP_ENV", "development"),
		HTTPAddr:         getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		JWTAccessSecret:  getEnv("JWT_ACCESS_SECRET", ""),
		JWTRefreshSecret: getEnv("JWT_REFRESH_SECRET", ""),
		AccessTokenTTL:   mustDuration(getEnv("JWT_ACCESS_TTL", "15m")),
		RefreshTokenTTL:  mustDuration(getEnv("JWT_REFRESH_TTL", "720h")),

		CORSAllowAll:   corsAllowAll,
		CORSOrigins:    corsOrigins,
		CORSAllowCreds: strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "true"), "true"),

		RedisURL:         getEnv("REDIS_URL", "redis://localhost:6379/0"),
		RedisTLSInsecure: strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:   getEnv("ASYNQ_QUEUE_NAME", "default"),
		AsynqConcurrency: mustInt(getEnv("ASYNQ_CONCURRENCY", "10")),

		CampaignTickInterval:    time.Duration(mustInt(getEnv("CAMPAIGN_SCHEDULER_INTERVAL_MS", "5000"))) * time.Millisecond,
		JourneySweepInterval:    time.Duration(mustInt(getEnv("JOURNEY_SCHEDULER_INTERVAL_MS", "5000"))) * time.Millisecond,
		AnalyticsRollupInterval: time.Duration(mustInt(getEnv("ANALYTICS_SCHEDULER_INTERVAL_MS", "300000"))) * time.Millisecond,
		JourneyTriggerDebounce:  time.Duration(mustInt(getEnv("JOURNEY_TRIGGER_DEBOUNCE_MS", "300000"))) * time.Millisecond,

		WebhookSigningSecret:     getEnv("WEBHOOK_SIGNING_SECRET", ""),
		WebhookSignatureTTL:      time.Duration(mustInt(getEnv("WEBHOOK_SIGNATURE_TTL_MS", "300000"))) * time.Millisecond,
		WebhookSignatureRequired: strings.EqualFold(getEnv("WEBHOOK_SIGNATURE_REQUIRED", "true"), "true"),

		WhatsAppURL:      getEnv("WHATSAPP_URL", ""),
		WhatsAppKey:      getEnv("WHATSAPP_KEY", ""),
		WhatsAppDeviceID: getEnv("WHATSAPP_DEVICE_ID", ""),

		BootstrapToken: getEnv("BOOTSTRAP_TOKEN", ""),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTAccessSecret == "" || cfg.JWTRefreshSecret == "" {
		return nil, fmt.Errorf("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET are required")
	}
	if cfg.CORSAllowAll && cfg.CORSAllowCreds {
		return nil, fmt.Errorf("CORS_ALLOW_CREDENTIALS cannot be true when CORS_ALLOW_ALL is true")
	}
	if cfg.WebhookSignatureRequired && cfg.WebhookSigningSecret == "" {
		return nil, fmt.Errorf("WEBHOOK_SIGNING_SECRET is required when WEBHOOK_SIGNATURE_REQUIRED is true")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return result
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
