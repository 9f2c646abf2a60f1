package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	ServiceName string
	ServicePort int
	Database    DatabaseConfig
	RabbitMQ    RabbitMQConfig
	JWT         JWTConfig
	Token       TokenConfig
	Meeting     MeetingConfig
	Audit       AuditConfig
	Metrics     MetricsConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL         string
	AutoMigrate bool
}

// RabbitMQConfig holds RabbitMQ connection and audit queue settings
type RabbitMQConfig struct {
	URL             string
	AuditExchange   string
	AuditRoutingKey string
	AuditQueue      string
	DLQQueue        string
	PrefetchCount   int
	ArchiverEnabled bool
}

// JWTConfig holds bearer token verification settings
type JWTConfig struct {
	Secret string
	Issuer string
}

// TokenConfig holds proof token settings
type TokenConfig struct {
	Lifetime         time.Duration
	RotationInterval time.Duration
	AutoRotate       bool
	// CacheRefresh bounds how long a replica serves a cached token before re-reading it
	CacheRefresh time.Duration
}

// MeetingConfig holds meeting window settings
type MeetingConfig struct {
	SweepInterval       time.Duration
	MinRadiusMeters     float64
	MaxRadiusMeters     float64
	DefaultRadiusMeters float64
	MinDuration         time.Duration
	MaxDuration         time.Duration
	DefaultDuration     time.Duration
}

// AuditConfig holds audit emitter settings
type AuditConfig struct {
	BufferSize     int
	MaxRetries     int
	RetryBackoff   time.Duration
	PublishTimeout time.Duration
}

// MetricsConfig holds prometheus settings
type MetricsConfig struct {
	Namespace string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "attendance-admission"),
		ServicePort: getEnvAsInt("SERVICE_PORT", 8080),
		Database: DatabaseConfig{
			URL:         getEnv("DATABASE_URL", ""),
			AutoMigrate: getEnvAsBool("DATABASE_AUTO_MIGRATE", true),
		},
		RabbitMQ: RabbitMQConfig{
			URL:             getEnv("RABBITMQ_URL", ""),
			AuditExchange:   getEnv("RABBITMQ_AUDIT_EXCHANGE", "attendance.audit.exchange"),
			AuditRoutingKey: getEnv("RABBITMQ_AUDIT_ROUTING_KEY", "audit"),
			AuditQueue:      getEnv("RABBITMQ_AUDIT_QUEUE", "attendance.audit.archive.queue"),
			DLQQueue:        getEnv("RABBITMQ_DLQ_QUEUE", "attendance.audit.dlq"),
			PrefetchCount:   getEnvAsInt("RABBITMQ_PREFETCH", 10),
			ArchiverEnabled: getEnvAsBool("RABBITMQ_AUDIT_ARCHIVER_ENABLED", true),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", ""),
			Issuer: getEnv("JWT_ISSUER", ""),
		},
		Token: TokenConfig{
			Lifetime:         getEnvAsDuration("TOKEN_LIFETIME", 30*time.Second),
			RotationInterval: getEnvAsDuration("TOKEN_ROTATION_INTERVAL", 20*time.Second),
			AutoRotate:       getEnvAsBool("TOKEN_AUTO_ROTATE", false),
			CacheRefresh:     getEnvAsDuration("TOKEN_CACHE_REFRESH", 2*time.Second),
		},
		Meeting: MeetingConfig{
			SweepInterval:       getEnvAsDuration("MEETING_SWEEP_INTERVAL", 5*time.Second),
			MinRadiusMeters:     getEnvAsFloat("GEOFENCE_MIN_RADIUS_METERS", 10),
			MaxRadiusMeters:     getEnvAsFloat("GEOFENCE_MAX_RADIUS_METERS", 500),
			DefaultRadiusMeters: getEnvAsFloat("GEOFENCE_DEFAULT_RADIUS_METERS", 50),
			MinDuration:         getEnvAsDuration("MEETING_MIN_DURATION", 30*time.Second),
			MaxDuration:         getEnvAsDuration("MEETING_MAX_DURATION", 300*time.Second),
			DefaultDuration:     getEnvAsDuration("MEETING_DEFAULT_DURATION", 60*time.Second),
		},
		Audit: AuditConfig{
			BufferSize:     getEnvAsInt("AUDIT_BUFFER_SIZE", 1024),
			MaxRetries:     getEnvAsInt("AUDIT_MAX_RETRIES", 3),
			RetryBackoff:   getEnvAsDuration("AUDIT_RETRY_BACKOFF", 200*time.Millisecond),
			PublishTimeout: getEnvAsDuration("AUDIT_PUBLISH_TIMEOUT", 5*time.Second),
		},
		Metrics: MetricsConfig{
			Namespace: getEnv("METRICS_NAMESPACE", "attendance"),
		},
	}

	// Validate required fields
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required but not set in environment variables")
	}
	if cfg.RabbitMQ.URL == "" {
		return nil, fmt.Errorf("RABBITMQ_URL is required but not set in environment variables")
	}
	if cfg.JWT.Secret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required but not set in environment variables")
	}

	if cfg.Token.Lifetime <= 0 {
		return nil, fmt.Errorf("TOKEN_LIFETIME must be positive, got %s", cfg.Token.Lifetime)
	}
	if cfg.Token.AutoRotate && cfg.Token.RotationInterval <= 0 {
		return nil, fmt.Errorf("TOKEN_ROTATION_INTERVAL must be positive when TOKEN_AUTO_ROTATE is set")
	}
	if cfg.Meeting.MinRadiusMeters > cfg.Meeting.MaxRadiusMeters {
		return nil, fmt.Errorf("GEOFENCE_MIN_RADIUS_METERS exceeds GEOFENCE_MAX_RADIUS_METERS")
	}
	if cfg.Meeting.MinDuration > cfg.Meeting.MaxDuration {
		return nil, fmt.Errorf("MEETING_MIN_DURATION exceeds MEETING_MAX_DURATION")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration accepts Go duration strings ("30s") or plain seconds ("30")
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if seconds, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(seconds) * time.Second
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
