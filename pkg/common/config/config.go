package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ResubmissionPolicy controls what happens when the PI submits a second
// estimate for a code whose patient slot is already filled.
type ResubmissionPolicy string

const (
	// ResubmissionLastWriteWins silently replaces the prior estimate.
	ResubmissionLastWriteWins ResubmissionPolicy = "last-write-wins"
	// ResubmissionReject refuses the duplicate; the audit log row is still
	// appended before the rejection is surfaced.
	ResubmissionReject ResubmissionPolicy = "reject"
)

type Config struct {
	// Server
	ServerHost        string
	StudyServicePort  string
	ReportServicePort string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	MaxRequestBody    int64

	// Database
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Kafka
	KafkaBrokers    []string
	KafkaGroupID    string
	StudyEventTopic string

	// Object storage (Supabase-compatible)
	StorageBaseURL string
	StorageAPIKey  string
	StorageBucket  string

	// Blinding codes
	CodeLength       int
	CodeAlphabet     string
	CodeSweepRetries int

	// Estimation
	Resubmission ResubmissionPolicy

	// Login lockout
	MaxLoginAttempts int
	LockoutWindow    time.Duration

	// Sessions
	SessionTTL time.Duration

	// Rate limiting
	RateLimitRPS   int
	RateLimitBurst int

	// Report cache
	ReportCacheTTL time.Duration
}

func Load() *Config {
	return &Config{
		ServerHost:        getEnv("SERVER_HOST", "0.0.0.0"),
		StudyServicePort:  getEnv("STUDY_SERVICE_PORT", "8080"),
		ReportServicePort: getEnv("REPORT_SERVICE_PORT", "8081"),
		ReadTimeout:       getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:      getDuration("WRITE_TIMEOUT", 30*time.Second),
		MaxRequestBody:    int64(getIntEnv("MAX_REQUEST_BODY_BYTES", 16*1024*1024)),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "dentage"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "dentage123"),
		PostgresDB:       getEnv("POSTGRES_DB", "dentage_study"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		KafkaBrokers:    getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID:    getEnv("KAFKA_GROUP_ID", "dentage-platform"),
		StudyEventTopic: getEnv("STUDY_EVENT_TOPIC", "study.mutations"),

		StorageBaseURL: getEnv("STORAGE_BASE_URL", ""),
		StorageAPIKey:  getEnv("STORAGE_API_KEY", ""),
		StorageBucket:  getEnv("STORAGE_BUCKET", "opg-images"),

		CodeLength:       getIntEnv("BLINDING_CODE_LENGTH", 8),
		CodeAlphabet:     getEnv("BLINDING_CODE_ALPHABET", "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"),
		CodeSweepRetries: getIntEnv("BLINDING_CODE_SWEEP_RETRIES", 3),

		Resubmission: resubmissionPolicy(getEnv("ESTIMATE_RESUBMISSION_POLICY", string(ResubmissionLastWriteWins))),

		MaxLoginAttempts: getIntEnv("MAX_LOGIN_ATTEMPTS", 5),
		LockoutWindow:    getDuration("LOCKOUT_WINDOW", 5*time.Minute),

		SessionTTL: getDuration("SESSION_TTL", 12*time.Hour),

		RateLimitRPS:   getIntEnv("RATE_LIMIT_RPS", 50),
		RateLimitBurst: getIntEnv("RATE_LIMIT_BURST", 100),

		ReportCacheTTL: getDuration("REPORT_CACHE_TTL", 5*time.Minute),
	}
}

func resubmissionPolicy(raw string) ResubmissionPolicy {
	switch ResubmissionPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case ResubmissionReject:
		return ResubmissionReject
	default:
		return ResubmissionLastWriteWins
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return []string{value}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
