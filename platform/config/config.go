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

// JWTConfig provides JWT validation settings for admin middleware.
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

// SchedulerConfig provides Redis/asynq settings for background jobs.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
}

// WhatsAppConfig provides settings for the WhatsApp gateway used for escalations.
type WhatsAppConfig interface {
	GetWhatsAppURL() string
	GetWhatsAppKey() string
	GetWhatsAppDeviceID() string
	GetPhoneRegion() string
}

// EmailConfig provides SMTP settings for escalation emails.
type EmailConfig interface {
	GetSMTPHost() string
	GetSMTPPort() int
	GetSMTPUsername() string
	GetSMTPPassword() string
	GetEmailFromName() string
	GetEmailFromAddress() string
	IsEmailEnabled() bool
}

// AttributionConfig provides the smart-text fallback policy knobs.
type AttributionConfig interface {
	GetTextSimilarityThreshold() float64
}

// CRMConfig provides settings for the CRM read API and sync jobs.
type CRMConfig interface {
	GetCRMRequestTimeout() time.Duration
	GetCRMRequestsPerSecond() float64
	GetCRMSyncMaxLeads() int
	GetCRMSyncInterval() time.Duration
	GetCRMSyncAccountParallelism() int
}

// WebhookConfig provides settings for inbound webhook processing.
type WebhookConfig interface {
	GetWebhookDedupeTTL() time.Duration
	GetWebhookRateLimit() float64
	GetWebhookRateBurst() int
	GetWebhookWorkers() int
	GetWebhookQueueSize() int
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                       string
	HTTPAddr                  string
	DatabaseURL               string
	MigrationsEnabled         bool
	JWTAccessSecret           string
	CORSAllowAll              bool
	CORSOrigins               []string
	CORSAllowCreds            bool
	RedisURL                  string
	RedisTLSInsecure          bool
	AsynqQueueName            string
	AsynqConcurrency          int
	WhatsAppURL               string
	WhatsAppKey               string
	WhatsAppDeviceID          string
	PhoneRegion               string
	SMTPHost                  string
	SMTPPort                  int
	SMTPUsername              string
	SMTPPassword              string
	EmailFromName             string
	EmailFromAddress          string
	TextSimilarityThreshold   float64
	CRMRequestTimeout         time.Duration
	CRMRequestsPerSecond      float64
	CRMSyncMaxLeads           int
	CRMSyncInterval           time.Duration
	CRMSyncAccountParallelism int
	WebhookDedupeTTL          time.Duration
	WebhookRateLimit          float64
	WebhookRateBurst          int
	WebhookWorkers            int
	WebhookQueueSize          int
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

// WhatsAppConfig implementation
func (c *Config) GetWhatsAppURL() string      { return c.WhatsAppURL }
func (c *Config) GetWhatsAppKey() string      { return c.WhatsAppKey }
func (c *Config) GetWhatsAppDeviceID() string { return c.WhatsAppDeviceID }
func (c *Config) GetPhoneRegion() string      { return c.PhoneRegion }

// EmailConfig implementation
func (c *Config) GetSMTPHost() string         { return c.SMTPHost }
func (c *Config) GetSMTPPort() int            { return c.SMTPPort }
func (c *Config) GetSMTPUsername() string     { return c.SMTPUsername }
func (c *Config) GetSMTPPassword() string     { return c.SMTPPassword }
func (c *Config) GetEmailFromName() string    { return c.EmailFromName }
func (c *Config) GetEmailFromAddress() string { return c.EmailFromAddress }
func (c *Config) IsEmailEnabled() bool        { return c.SMTPHost != "" && c.EmailFromAddress != "" }

// AttributionConfig implementation
func (c *Config) GetTextSimilarityThreshold() float64 { return c.TextSimilarityThreshold }

// CRMConfig implementation
func (c *Config) GetCRMRequestTimeout() time.Duration { return c.CRMRequestTimeout }
func (c *Config) GetCRMRequestsPerSecond() float64    { return c.CRMRequestsPerSecond }
func (c *Config) GetCRMSyncMaxLeads() int             { return c.CRMSyncMaxLeads }
func (c *Config) GetCRMSyncInterval() time.Duration   { return c.CRMSyncInterval }
func (c *Config) GetCRMSyncAccountParallelism() int   { return c.CRMSyncAccountParallelism }

// WebhookConfig implementation
func (c *Config) GetWebhookDedupeTTL() time.Duration { return c.WebhookDedupeTTL }
func (c *Config) GetWebhookRateLimit() float64       { return c.WebhookRateLimit }
func (c *Config) GetWebhookRateBurst() int           { return c.WebhookRateBurst }
func (c *Config) GetWebhookWorkers() int             { return c.WebhookWorkers }
func (c *Config) GetWebhookQueueSize() int           { return c.WebhookQueueSize }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	cfg := &Config{
		Env:                       getEnv("APP_ENV", "development"),
		HTTPAddr:                  getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:               getEnv("DATABASE_URL", ""),
		MigrationsEnabled:         strings.EqualFold(getEnv("MIGRATIONS_ENABLED", "true"), "true"),
		JWTAccessSecret:           getEnv("JWT_ACCESS_SECRET", ""),
		CORSAllowAll:              corsAllowAll,
		CORSOrigins:               corsOrigins,
		CORSAllowCreds:            strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "true"), "true"),
		RedisURL:                  getEnv("REDIS_URL", ""),
		RedisTLSInsecure:          strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:            getEnv("ASYNQ_QUEUE", "default"),
		AsynqConcurrency:          mustInt(getEnv("ASYNQ_CONCURRENCY", "10")),
		WhatsAppURL:               getEnv("WHATSAPP_URL", ""),
		WhatsAppKey:               getEnv("WHATSAPP_KEY", ""),
		WhatsAppDeviceID:          getEnv("WHATSAPP_DEVICE_ID", ""),
		PhoneRegion:               getEnv("PHONE_REGION", "KZ"),
		SMTPHost:                  getEnv("SMTP_HOST", ""),
		SMTPPort:                  mustInt(getEnv("SMTP_PORT", "587")),
		SMTPUsername:              getEnv("SMTP_USERNAME", ""),
		SMTPPassword:              getEnv("SMTP_PASSWORD", ""),
		EmailFromName:             getEnv("EMAIL_FROM_NAME", "Lead Sync"),
		EmailFromAddress:          getEnv("EMAIL_FROM_ADDRESS", ""),
		TextSimilarityThreshold:   mustFloat(getEnv("ATTRIBUTION_TEXT_THRESHOLD", "0.70")),
		CRMRequestTimeout:         mustDuration(getEnv("CRM_REQUEST_TIMEOUT", "15s")),
		CRMRequestsPerSecond:      mustFloat(getEnv("CRM_REQUESTS_PER_SECOND", "5")),
		CRMSyncMaxLeads:           mustInt(getEnv("CRM_SYNC_MAX_LEADS", "500")),
		CRMSyncInterval:           mustDuration(getEnv("CRM_SYNC_INTERVAL", "30m")),
		CRMSyncAccountParallelism: mustInt(getEnv("CRM_SYNC_ACCOUNT_PARALLELISM", "4")),
		WebhookDedupeTTL:          mustDuration(getEnv("WEBHOOK_DEDUPE_TTL", "24h")),
		WebhookRateLimit:          mustFloat(getEnv("WEBHOOK_RATE_LIMIT", "50")),
		WebhookRateBurst:          mustInt(getEnv("WEBHOOK_RATE_BURST", "100")),
		WebhookWorkers:            mustInt(getEnv("WEBHOOK_WORKERS", "8")),
		WebhookQueueSize:          mustInt(getEnv("WEBHOOK_QUEUE_SIZE", "1024")),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTAccessSecret == "" {
		return nil, fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	if cfg.TextSimilarityThreshold <= 0 || cfg.TextSimilarityThreshold > 1 {
		return nil, fmt.Errorf("ATTRIBUTION_TEXT_THRESHOLD must be in (0, 1]")
	}
	if cfg.CRMRequestTimeout <= 0 {
		return nil, fmt.Errorf("CRM_REQUEST_TIMEOUT must be a positive duration")
	}
	if cfg.SMTPHost != "" && cfg.EmailFromAddress == "" {
		return nil, fmt.Errorf("EMAIL_FROM_ADDRESS is required when SMTP_HOST is set")
	}
	if cfg.CORSAllowAll && cfg.CORSAllowCreds {
		return nil, fmt.Errorf("CORS_ALLOW_CREDENTIALS cannot be true when CORS_ALLOW_ALL is true")
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
	result, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return result
}

func mustFloat(value string) float64 {
	result, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
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
