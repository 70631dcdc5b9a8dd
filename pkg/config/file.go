package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// loadFile overlays a YAML configuration file onto cfg. Only fields
// present in the file are touched.
func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("load config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %q: %w", path, err)
	}
	return nil
}

// Validate checks cross-field requirements that defaults cannot satisfy.
func (c *Config) Validate() error {
	switch c.DatabaseDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unknown database driver %q", c.DatabaseDriver)
	}

	switch c.BlobStore {
	case "fs", "s3", "gcs":
	default:
		return fmt.Errorf("config: unknown blob store %q", c.BlobStore)
	}
	if c.BlobStore == "s3" && c.S3Bucket == "" {
		return fmt.Errorf("config: s3 blob store requires S3_BUCKET")
	}
	if c.BlobStore == "gcs" && c.GCSBucket == "" {
		return fmt.Errorf("config: gcs blob store requires GCS_BUCKET")
	}

	switch c.LedgerMode {
	case "memory":
	case "gateway":
		if c.LedgerGatewayURL == "" {
			return fmt.Errorf("config: gateway ledger mode requires LEDGER_GATEWAY_URL")
		}
		if c.LedgerSigningKey == "" {
			return fmt.Errorf("config: gateway ledger mode requires LEDGER_SIGNING_KEY")
		}
	default:
		return fmt.Errorf("config: unknown ledger mode %q", c.LedgerMode)
	}

	return nil
}
