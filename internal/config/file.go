package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type fileConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPPort string `toml:"http_port"`

	Redis struct {
		Addr     string `toml:"addr"`
		Password string `toml:"password"`
		DB       int    `toml:"db"`
	} `toml:"redis"`
	PostgresDSN string `toml:"postgres_dsn"`

	Connector struct {
		User       string `toml:"user"`
		Password   string `toml:"password"`
		SessionTTL string `toml:"session_ttl"`
	} `toml:"connector"`

	Reconcile struct {
		Workers int    `toml:"workers"`
		Timeout string `toml:"timeout"`
	} `toml:"reconcile"`

	AuthRate struct {
		Capacity     int     `toml:"capacity"`
		RefillPerSec float64 `toml:"refill_per_sec"`
	} `toml:"auth_rate"`

	Breaker struct {
		Failures int    `toml:"failures"`
		Timeout  string `toml:"timeout"`
	} `toml:"breaker"`

	Archive struct {
		Dir         string `toml:"dir"`
		S3Bucket    string `toml:"s3_bucket"`
		S3Region    string `toml:"s3_region"`
		S3Endpoint  string `toml:"s3_endpoint"`
		S3PathStyle bool   `toml:"s3_path_style"`
	} `toml:"archive"`

	NATSURL string `toml:"nats_url"`
}

func applyFile(cfg *Config, path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("load config %s: unknown keys %v", path, undecoded)
	}

	setString := func(dst *string, value string, key ...string) {
		if meta.IsDefined(key...) {
			*dst = strings.TrimSpace(value)
		}
	}
	setDuration := func(dst *time.Duration, value string, key ...string) error {
		if !meta.IsDefined(key...) {
			return nil
		}
		d, err := time.ParseDuration(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("parse %s: %w", strings.Join(key, "."), err)
		}
		*dst = d
		return nil
	}

	setString(&cfg.Env, raw.Env, "env")
	setString(&cfg.LogLevel, raw.LogLevel, "log_level")
	setString(&cfg.HTTPPort, raw.HTTPPort, "http_port")
	setString(&cfg.RedisAddr, raw.Redis.Addr, "redis", "addr")
	setString(&cfg.RedisPassword, raw.Redis.Password, "redis", "password")
	if meta.IsDefined("redis", "db") {
		cfg.RedisDB = raw.Redis.DB
	}
	setString(&cfg.PostgresDSN, raw.PostgresDSN, "postgres_dsn")
	setString(&cfg.ConnectorUser, raw.Connector.User, "connector", "user")
	setString(&cfg.ConnectorPassword, raw.Connector.Password, "connector", "password")
	if meta.IsDefined("reconcile", "workers") {
		cfg.ReconcileWorkers = raw.Reconcile.Workers
	}
	if meta.IsDefined("auth_rate", "capacity") {
		cfg.AuthRateCapacity = raw.AuthRate.Capacity
	}
	if meta.IsDefined("auth_rate", "refill_per_sec") {
		cfg.AuthRateRefill = raw.AuthRate.RefillPerSec
	}
	if meta.IsDefined("breaker", "failures") {
		cfg.BreakerFailures = raw.Breaker.Failures
	}
	setString(&cfg.ArchiveDir, raw.Archive.Dir, "archive", "dir")
	setString(&cfg.ArchiveS3Bucket, raw.Archive.S3Bucket, "archive", "s3_bucket")
	setString(&cfg.ArchiveS3Region, raw.Archive.S3Region, "archive", "s3_region")
	setString(&cfg.ArchiveS3Endpoint, raw.Archive.S3Endpoint, "archive", "s3_endpoint")
	if meta.IsDefined("archive", "s3_path_style") {
		cfg.ArchiveS3PathStyle = raw.Archive.S3PathStyle
	}
	setString(&cfg.NATSURL, raw.NATSURL, "nats_url")

	for _, d := range []struct {
		dst   *time.Duration
		value string
		key   []string
	}{
		{&cfg.SessionTTL, raw.Connector.SessionTTL, []string{"connector", "session_ttl"}},
		{&cfg.ReconcileTimeout, raw.Reconcile.Timeout, []string{"reconcile", "timeout"}},
		{&cfg.BreakerTimeout, raw.Breaker.Timeout, []string{"breaker", "timeout"}},
	} {
		if err := setDuration(d.dst, d.value, d.key...); err != nil {
			return fmt.Errorf("load config %s: %w", path, err)
		}
	}
	return nil
}
