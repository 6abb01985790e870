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
	GetWebhookRateLimit() float64
	GetWebhookRateBurst() int
}

// SchedulerConfig provides settings for the asynq-backed reprocess queue.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
	GetReprocessSchedule() string
	GetReprocessSweepDays() int
}

// PipelineConfig provides the tunable constants of the reconciliation pipeline.
type PipelineConfig interface {
	GetDealDuplicateWindow() time.Duration
	GetPhoneSuffixDigits() int
	GetPhoneDefaultRegion() string
}

// WebhookConfig provides provider-level webhook authentication settings.
type WebhookConfig interface {
	GetAsaasAuthHeader() string
	GetAsaasAuthToken() string
	GetStripeWebhookSecret() string
	GetWebhookMaxBodyBytes() int64
	GetWebhookProcessingLease() time.Duration
}

// SMTPConfig provides settings for owner notification emails.
type SMTPConfig interface {
	GetSMTPHost() string
	GetSMTPPort() int
	GetSMTPUsername() string
	GetSMTPPassword() string
	GetSMTPFromAddress() string
	GetSMTPFromName() string
	IsSMTPEnabled() bool
}

// NotificationConfig provides settings for the notification module.
type NotificationConfig interface {
	GetAppBaseURL() string
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                 string
	HTTPAddr            string
	DatabaseURL         string
	MigrationsEnabled   bool
	JWTAccessSecret     string
	CORSAllowAll        bool
	CORSOrigins         []string
	CORSAllowCreds      bool
	AppBaseURL          string
	WebhookRateLimit    float64
	WebhookRateBurst    int
	WebhookMaxBodyBytes int64
	WebhookLease        time.Duration
	RedisURL            string
	RedisTLSInsecure    bool
	AsynqQueueName      string
	AsynqConcurrency    int
	ReprocessSchedule   string
	ReprocessSweepDays  int
	WorkerMetricsAddr   string
	DealDuplicateWindow time.Duration
	PhoneSuffixDigits   int
	PhoneDefaultRegion  string
	AsaasAuthHeader     string
	AsaasAuthToken      string
	StripeWebhookSecret string
	SMTPHost            string
	SMTPPort            int
	SMTPUsername        string
	SMTPPassword        string
	SMTPFromAddress     string
	SMTPFromName        string
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// JWTConfig implementation
func (c *Config) GetJWTAccessSecret() string { return c.JWTAccessSecret }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string          { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool        { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string     { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool      { return c.CORSAllowCreds }
func (c *Config) GetWebhookRateLimit() float64 { return c.WebhookRateLimit }
func (c *Config) GetWebhookRateBurst() int     { return c.WebhookRateBurst }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string          { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool    { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string    { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int     { return c.AsynqConcurrency }
func (c *Config) GetReprocessSchedule() string { return c.ReprocessSchedule }
func (c *Config) GetReprocessSweepDays() int   { return c.ReprocessSweepDays }

// PipelineConfig implementation
func (c *Config) GetDealDuplicateWindow() time.Duration { return c.DealDuplicateWindow }
func (c *Config) GetPhoneSuffixDigits() int             { return c.PhoneSuffixDigits }
func (c *Config) GetPhoneDefaultRegion() string         { return c.PhoneDefaultRegion }

// WebhookConfig implementation
func (c *Config) GetAsaasAuthHeader() string     { return c.AsaasAuthHeader }
func (c *Config) GetAsaasAuthToken() string      { return c.AsaasAuthToken }
func (c *Config) GetStripeWebhookSecret() string { return c.StripeWebhookSecret }
func (c *Config) GetWebhookMaxBodyBytes() int64  { return c.WebhookMaxBodyBytes }

// GetWebhookProcessingLease is how long an event may stay in flight before a
// replay may claim it.
func (c *Config) GetWebhookProcessingLease() time.Duration { return c.WebhookLease }

// SMTPConfig implementation
func (c *Config) GetSMTPHost() string        { return c.SMTPHost }
func (c *Config) GetSMTPPort() int           { return c.SMTPPort }
func (c *Config) GetSMTPUsername() string    { return c.SMTPUsername }
func (c *Config) GetSMTPPassword() string    { return c.SMTPPassword }
func (c *Config) GetSMTPFromAddress() string { return c.SMTPFromAddress }
func (c *Config) GetSMTPFromName() string    { return c.SMTPFromName }
func (c *Config) IsSMTPEnabled() bool        { return c.SMTPHost != "" && c.SMTPFromAddress != "" }

// NotificationConfig implementation
func (c *Config) GetAppBaseURL() string { return c.AppBaseURL }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	cfg := &Config{
		Env:                 getEnv("APP_ENV", "development"),
		HTTPAddr:            getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		MigrationsEnabled:   strings.EqualFold(getEnv("MIGRATIONS_ENABLED", "true"), "true"),
		JWTAccessSecret:     getEnv("JWT_ACCESS_SECRET", ""),
		CORSAllowAll:        corsAllowAll,
		CORSOrigins:         corsOrigins,
		CORSAllowCreds:      strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "true"), "true"),
		AppBaseURL:          getEnv("APP_BASE_URL", "http://localhost:4200"),
		WebhookRateLimit:    mustFloat(getEnv("WEBHOOK_RATE_LIMIT", "20")),
		WebhookRateBurst:    mustInt(getEnv("WEBHOOK_RATE_BURST", "40")),
		WebhookMaxBodyBytes: mustInt64(getEnv("WEBHOOK_MAX_BODY_BYTES", "262144")),
		WebhookLease:        mustDuration(getEnv("WEBHOOK_PROCESSING_LEASE", "15m")),
		RedisURL:            getEnv("REDIS_URL", ""),
		RedisTLSInsecure:    strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:      getEnv("ASYNQ_QUEUE", "default"),
		AsynqConcurrency:    mustInt(getEnv("ASYNQ_CONCURRENCY", "4")),
		ReprocessSchedule:   getEnv("REPROCESS_SCHEDULE", "@every 1h"),
		ReprocessSweepDays:  mustInt(getEnv("REPROCESS_SWEEP_DAYS", "1")),
		WorkerMetricsAddr:   getEnv("WORKER_METRICS_ADDR", ":9091"),
		DealDuplicateWindow: mustDuration(getEnv("DEAL_DUPLICATE_WINDOW", "24h")),
		PhoneSuffixDigits:   mustInt(getEnv("PHONE_SUFFIX_DIGITS", "9")),
		PhoneDefaultRegion:  getEnv("PHONE_DEFAULT_REGION", "BR"),
		AsaasAuthHeader:     getEnv("ASAAS_AUTH_HEADER", "asaas-access-token"),
		AsaasAuthToken:      getEnv("ASAAS_AUTH_TOKEN", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		SMTPHost:            getEnv("SMTP_HOST", ""),
		SMTPPort:            mustInt(getEnv("SMTP_PORT", "587")),
		SMTPUsername:        getEnv("SMTP_USERNAME", ""),
		SMTPPassword:        getEnv("SMTP_PASSWORD", ""),
		SMTPFromAddress:     getEnv("SMTP_FROM_ADDRESS", ""),
		SMTPFromName:        getEnv("SMTP_FROM_NAME", "Sales Ops"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTAccessSecret == "" {
		return nil, fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	if cfg.DealDuplicateWindow <= 0 {
		return nil, fmt.Errorf("DEAL_DUPLICATE_WINDOW must be a positive duration")
	}
	if cfg.WebhookLease <= 0 {
		return nil, fmt.Errorf("WEBHOOK_PROCESSING_LEASE must be a positive duration")
	}
	if cfg.PhoneSuffixDigits < 6 {
		return nil, fmt.Errorf("PHONE_SUFFIX_DIGITS must be at least 6")
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

func mustInt64(value string) int64 {
	result, err := strconv.ParseInt(value, 10, 64)
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
