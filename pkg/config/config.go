// Package config loads service configuration. A YAML file provides the
// base when ANCHOR_CONFIG points at one; environment variables override
// individual fields either way.
package config

import (
	"os"
	"strconv"
)

// Config holds the anchord service configuration.
type Config struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"log_level"`

	// DatabaseDriver is "sqlite" or "postgres".
	DatabaseDriver string `yaml:"database_driver"`
	DatabaseURL    string `yaml:"database_url"`

	// BlobStore is "fs", "s3" or "gcs".
	BlobStore    string `yaml:"blob_store"`
	BlobDataDir  string `yaml:"blob_data_dir"`
	S3Bucket     string `yaml:"s3_bucket"`
	S3Region     string `yaml:"s3_region"`
	S3Endpoint   string `yaml:"s3_endpoint"`
	GCSBucket    string `yaml:"gcs_bucket"`
	GCSProjectID string `yaml:"gcs_project_id"`

	// LedgerMode is "memory" (dev) or "gateway".
	LedgerMode       string `yaml:"ledger_mode"`
	LedgerGatewayURL string `yaml:"ledger_gateway_url"`
	// LedgerSigningKey is the hex-encoded Ed25519 seed used to sign
	// ledger submissions. Required in gateway mode.
	LedgerSigningKey string `yaml:"ledger_signing_key"`

	// RedisAddr enables the verification read cache when set.
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`

	MaxUploadBytes int64 `yaml:"max_upload_bytes"`
	RateLimitRPS   int   `yaml:"rate_limit_rps"`

	AnchorMaxInFlight int `yaml:"anchor_max_in_flight"`
	AnchorMaxAttempts int `yaml:"anchor_max_attempts"`

	TelemetryEnabled bool    `yaml:"telemetry_enabled"`
	OTLPEndpoint     string  `yaml:"otlp_endpoint"`
	OTLPInsecure     bool    `yaml:"otlp_insecure"`
	SampleRate       float64 `yaml:"sample_rate"`
	Environment      string  `yaml:"environment"`
}

// Load builds the configuration: defaults, then the optional YAML file
// named by ANCHOR_CONFIG, then environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:              "8080",
		LogLevel:          "INFO",
		DatabaseDriver:    "sqlite",
		DatabaseURL:       "file:anchor.db?_pragma=journal_mode(WAL)",
		BlobStore:         "fs",
		BlobDataDir:       "./data/blobs",
		LedgerMode:        "memory",
		MaxUploadBytes:    10 << 20,
		RateLimitRPS:      20,
		AnchorMaxInFlight: 4,
		AnchorMaxAttempts: 3,
		SampleRate:        1.0,
		Environment:       "development",
	}

	if path := os.Getenv("ANCHOR_CONFIG"); path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Port, "PORT")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.DatabaseDriver, "DATABASE_DRIVER")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.BlobStore, "BLOB_STORE")
	setString(&cfg.BlobDataDir, "BLOB_DATA_DIR")
	setString(&cfg.S3Bucket, "S3_BUCKET")
	setString(&cfg.S3Region, "S3_REGION")
	setString(&cfg.S3Endpoint, "S3_ENDPOINT")
	setString(&cfg.GCSBucket, "GCS_BUCKET")
	setString(&cfg.GCSProjectID, "GCS_PROJECT_ID")
	setString(&cfg.LedgerMode, "LEDGER_MODE")
	setString(&cfg.LedgerGatewayURL, "LEDGER_GATEWAY_URL")
	setString(&cfg.LedgerSigningKey, "LEDGER_SIGNING_KEY")
	setString(&cfg.RedisAddr, "REDIS_ADDR")
	setString(&cfg.RedisPassword, "REDIS_PASSWORD")
	setString(&cfg.OTLPEndpoint, "OTLP_ENDPOINT")
	setString(&cfg.Environment, "ENVIRONMENT")

	setInt64(&cfg.MaxUploadBytes, "MAX_UPLOAD_BYTES")
	setInt(&cfg.RateLimitRPS, "RATE_LIMIT_RPS")
	setInt(&cfg.AnchorMaxInFlight, "ANCHOR_MAX_IN_FLIGHT")
	setInt(&cfg.AnchorMaxAttempts, "ANCHOR_MAX_ATTEMPTS")

	setBool(&cfg.TelemetryEnabled, "TELEMETRY_ENABLED")
	setBool(&cfg.OTLPInsecure, "OTLP_INSECURE")
	setFloat(&cfg.SampleRate, "SAMPLE_RATE")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v == "true" || v == "1"
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}
