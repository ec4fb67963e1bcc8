package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPHost string
	HTTPPort string

	MySQLDSN  string
	RedisAddr string
	RedisDB   int

	// Hex-encoded 32-byte key for credential decryption. Empty means
	// the store holds plaintext credentials (local development only).
	EncryptionKey string

	LogLevel  string
	LogFormat string

	// Blast-radius limits applied per tenant on top of per-key quotas.
	OrgRatePerMinute int
	OrgRatePerDay    int

	// Defaults applied to keys created without explicit quotas.
	DefaultKeyRatePerMinute int
	DefaultKeyRatePerDay    int

	BackendTimeout   time.Duration
	MetadataTimeout  time.Duration
	TokenTimeout     time.Duration
	MaxResponseBytes int64

	KeyCacheTTL    time.Duration
	AccessCacheTTL time.Duration
	CSRFTokenTTL   time.Duration
	SchemaCacheTTL time.Duration
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignores error if not found)
	_ = godotenv.Load()

	mysqlDSN := os.Getenv("MYSQL_DSN")
	if mysqlDSN == "" {
		return nil, errors.New("MYSQL_DSN environment variable is required")
	}

	return &Config{
		HTTPHost: getEnv("HTTP_HOST", ""),
		HTTPPort: getEnv("HTTP_PORT", "8080"),

		MySQLDSN:  mysqlDSN,
		RedisAddr: getEnv("REDIS_ADDR", ""),
		RedisDB:   getIntEnv("REDIS_DB", 0),

		EncryptionKey: os.Getenv("ENCRYPTION_KEY"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		OrgRatePerMinute: getIntEnv("ORG_RATE_PER_MINUTE", 1000),
		OrgRatePerDay:    getIntEnv("ORG_RATE_PER_DAY", 100000),

		DefaultKeyRatePerMinute: getIntEnv("DEFAULT_KEY_RATE_PER_MINUTE", 60),
		DefaultKeyRatePerDay:    getIntEnv("DEFAULT_KEY_RATE_PER_DAY", 10000),

		BackendTimeout:   getDurationEnv("BACKEND_TIMEOUT_SECONDS", 30*time.Second),
		MetadataTimeout:  getDurationEnv("METADATA_TIMEOUT_SECONDS", 20*time.Second),
		TokenTimeout:     getDurationEnv("TOKEN_TIMEOUT_SECONDS", 10*time.Second),
		MaxResponseBytes: int64(getIntEnv("MAX_RESPONSE_BYTES", 10*1024*1024)),

		KeyCacheTTL:    getDurationEnv("KEY_CACHE_TTL_SECONDS", 30*time.Second),
		AccessCacheTTL: getDurationEnv("ACCESS_CACHE_TTL_SECONDS", 60*time.Second),
		CSRFTokenTTL:   getDurationEnv("CSRF_TOKEN_TTL_SECONDS", 5*time.Minute),
		SchemaCacheTTL: getDurationEnv("SCHEMA_CACHE_TTL_SECONDS", 10*time.Minute),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
