package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds runtime configuration for the connector service and CLI.
type Config struct {
	Env      string
	LogLevel string
	HTTPPort string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	PostgresDSN   string

	ConnectorUser     string
	ConnectorPassword string
	SessionTTL        time.Duration

	ReconcileWorkers int
	ReconcileTimeout time.Duration

	AuthRateCapacity int
	AuthRateRefill   float64

	BreakerFailures int
	BreakerTimeout  time.Duration

	ArchiveDir         string
	ArchiveS3Bucket    string
	ArchiveS3Region    string
	ArchiveS3Endpoint  string
	ArchiveS3PathStyle bool

	NATSURL string
}

// Defaults are sane settings for local development.
func Defaults() Config {
	return Config{
		Env:               "dev",
		LogLevel:          "info",
		HTTPPort:          "8000",
		RedisAddr:         "localhost:6379",
		ConnectorUser:     "testuser",
		ConnectorPassword: "testpass",
		SessionTTL:        30 * time.Minute,
		ReconcileWorkers:  16,
		ReconcileTimeout:  30 * time.Second,
		AuthRateCapacity:  10,
		AuthRateRefill:    0.5,
		BreakerFailures:   5,
		BreakerTimeout:    15 * time.Second,
		ArchiveS3Region:   "us-east-1",
	}
}

// Load reads configuration from environment variables on top of Defaults.
func Load() Config {
	return fromEnv(Defaults())
}

// LoadFile applies a TOML file on top of Defaults; environment variables still
// take precedence over the file.
func LoadFile(path string) (Config, error) {
	base := Defaults()
	if err := applyFile(&base, path); err != nil {
		return Config{}, err
	}
	return fromEnv(base), nil
}

func fromEnv(d Config) Config {
	return Config{
		Env:                getEnv("APP_ENV", d.Env),
		LogLevel:           getEnv("LOG_LEVEL", d.LogLevel),
		HTTPPort:           getEnv("HTTP_PORT", d.HTTPPort),
		RedisAddr:          getEnv("REDIS_ADDR", d.RedisAddr),
		RedisPassword:      getEnv("REDIS_PASSWORD", d.RedisPassword),
		RedisDB:            getEnvInt("REDIS_DB", d.RedisDB),
		PostgresDSN:        getEnv("POSTGRES_DSN", d.PostgresDSN),
		ConnectorUser:      getEnv("CONNECTOR_USER", d.ConnectorUser),
		ConnectorPassword:  getEnv("CONNECTOR_PASSWORD", d.ConnectorPassword),
		SessionTTL:         getEnvDuration("SESSION_TTL", d.SessionTTL),
		ReconcileWorkers:   getEnvInt("RECONCILE_WORKERS", d.ReconcileWorkers),
		ReconcileTimeout:   getEnvDuration("RECONCILE_TIMEOUT", d.ReconcileTimeout),
		AuthRateCapacity:   getEnvInt("AUTH_RATE_CAPACITY", d.AuthRateCapacity),
		AuthRateRefill:     getEnvFloat("AUTH_RATE_REFILL_PER_SEC", d.AuthRateRefill),
		BreakerFailures:    getEnvInt("BREAKER_FAILURES", d.BreakerFailures),
		BreakerTimeout:     getEnvDuration("BREAKER_TIMEOUT", d.BreakerTimeout),
		ArchiveDir:         getEnv("ARCHIVE_DIR", d.ArchiveDir),
		ArchiveS3Bucket:    getEnv("ARCHIVE_S3_BUCKET", d.ArchiveS3Bucket),
		ArchiveS3Region:    getEnv("ARCHIVE_S3_REGION", d.ArchiveS3Region),
		ArchiveS3Endpoint:  getEnv("ARCHIVE_S3_ENDPOINT", d.ArchiveS3Endpoint),
		ArchiveS3PathStyle: getEnvBool("ARCHIVE_S3_PATH_STYLE", d.ArchiveS3PathStyle),
		NATSURL:            getEnv("NATS_URL", d.NATSURL),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
