// Command anchord runs the evidence anchoring service: HTTP intake of
// evidence artifacts, background anchoring of their fingerprints to the
// ledger, and verification against the anchored entries.
package main

import (
	"context"
	"crypto/ed25519"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/casetrust/anchor/pkg/anchor"
	"github.com/casetrust/anchor/pkg/api"
	"github.com/casetrust/anchor/pkg/blob"
	"github.com/casetrust/anchor/pkg/config"
	"github.com/casetrust/anchor/pkg/evidence"
	"github.com/casetrust/anchor/pkg/ledger"
	"github.com/casetrust/anchor/pkg/observability"
	"github.com/casetrust/anchor/pkg/record"
	"github.com/casetrust/anchor/pkg/verify"
)

func main() {
	if err := run(); err != nil {
		slog.Error("anchord exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetry, err := observability.New(ctx, &observability.Config{
		ServiceName:    "anchord",
		ServiceVersion: version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     cfg.SampleRate,
		Enabled:        cfg.TelemetryEnabled,
		Insecure:       cfg.OTLPInsecure,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()
	metrics := telemetry.Metrics()

	db, err := sql.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()
	if cfg.DatabaseDriver == "sqlite" {
		// modernc sqlite serializes writes; a single connection avoids
		// SQLITE_BUSY under concurrent transitions.
		db.SetMaxOpenConns(1)
	}
	records, err := record.NewSQLStore(db)
	if err != nil {
		return fmt.Errorf("init record store: %w", err)
	}

	blobs, err := blob.New(ctx, blob.Config{
		Type:    blob.StoreType(cfg.BlobStore),
		DataDir: cfg.BlobDataDir,
		S3: blob.S3StoreConfig{
			Bucket:   cfg.S3Bucket,
			Region:   cfg.S3Region,
			Endpoint: cfg.S3Endpoint,
		},
		GCS: blob.GCSConfig{Bucket: cfg.GCSBucket},
	})
	if err != nil {
		return fmt.Errorf("init blob store: %w", err)
	}

	client, err := newLedgerClient(cfg, logger)
	if err != nil {
		return err
	}

	coordinator := anchor.NewCoordinator(records, client, anchor.Config{
		MaxInFlight: cfg.AnchorMaxInFlight,
		MaxAttempts: cfg.AnchorMaxAttempts,
		Logger:      logger,
		Metrics:     metrics,
	})

	var cache *verify.LedgerCache
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		defer func() { _ = rdb.Close() }()
		cache = verify.NewLedgerCache(rdb, 30*time.Second, logger)
		logger.Info("ledger read cache enabled", "addr", cfg.RedisAddr)
	}

	verifier := verify.NewService(records, client, verify.Config{
		Logger:  logger,
		Metrics: metrics,
		Cache:   cache,
	})
	intake := evidence.NewService(blobs, records, coordinator, evidence.Config{
		Logger:  logger,
		Metrics: metrics,
	})

	server := api.NewServer(intake, verifier, coordinator, api.Config{
		Addr:           ":" + cfg.Port,
		MaxUploadBytes: cfg.MaxUploadBytes,
		RateLimitRPS:   cfg.RateLimitRPS,
		Logger:         logger,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	logger.Info("anchord started",
		"port", cfg.Port, "ledger_mode", cfg.LedgerMode,
		"blob_store", cfg.BlobStore, "database_driver", cfg.DatabaseDriver)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}

	// Let in-flight ledger submissions finish; their records would
	// otherwise sit in pending until the next retry.
	coordinator.Wait()
	logger.Info("anchord stopped")
	return nil
}

func newLedgerClient(cfg *config.Config, logger *slog.Logger) (ledger.Client, error) {
	switch cfg.LedgerMode {
	case "gateway":
		seed, err := hex.DecodeString(cfg.LedgerSigningKey)
		if err != nil || len(seed) != ed25519.SeedSize {
			return nil, fmt.Errorf("ledger: LEDGER_SIGNING_KEY must be a %d-byte hex seed", ed25519.SeedSize)
		}
		return ledger.NewGatewayClient(ledger.GatewayConfig{
			BaseURL:    cfg.LedgerGatewayURL,
			SigningKey: ed25519.NewKeyFromSeed(seed),
		})
	default:
		logger.Warn("using in-process ledger; anchored entries do not survive restarts")
		return ledger.NewMemoryLedger(), nil
	}
}
