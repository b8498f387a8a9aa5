// Package main is the entrypoint for the Datagate server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/knowledgenet/datagate/internal/api"
	"github.com/knowledgenet/datagate/internal/config"
	"github.com/knowledgenet/datagate/internal/content"
	"github.com/knowledgenet/datagate/internal/gateway"
	"github.com/knowledgenet/datagate/internal/metrics"
	"github.com/knowledgenet/datagate/internal/models"
	"github.com/knowledgenet/datagate/internal/payment"
	"github.com/knowledgenet/datagate/internal/provenance"
	"github.com/knowledgenet/datagate/internal/query"
	"github.com/knowledgenet/datagate/internal/token"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("version", Version).Logger()
	if os.Getenv("ENV") != string(config.EnvProduction) {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	logger.Info().
		Str("version", Version).
		Str("commit", Commit).
		Str("build_date", BuildDate).
		Msg("Starting Datagate server")

	// Load configuration
	cfg := config.LoadServerConfig()
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("Invalid configuration")
		return 1
	}

	m := metrics.New()

	// Token store
	var tokens token.Store
	switch cfg.TokenStore {
	case config.TokenStoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("Failed to connect to Redis")
			return 1
		}
		defer client.Close()
		tokens = token.NewRedisStore(client, logger)
		logger.Info().Str("addr", cfg.RedisAddr).Msg("Using Redis token store")
	default:
		tokens = token.NewMemoryStore()
		logger.Info().Msg("Using in-memory token store")
	}

	// Provenance event log
	provLog, err := provenance.NewSQLiteLog(cfg.ProvenanceDBPath, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.ProvenanceDBPath).Msg("Failed to open provenance log")
		return 1
	}
	defer provLog.Close()

	// Content store
	var contents content.Store
	switch cfg.ContentStore {
	case config.ContentStoreS3:
		s3Store, err := content.NewS3Store(ctx, cfg.S3, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to initialize S3 content store")
			return 1
		}
		contents = s3Store
		logger.Info().Str("bucket", cfg.S3.Bucket).Msg("Using S3 content store")
	default:
		contents = content.NewMemoryStore()
		logger.Info().Msg("Using in-memory content store")
	}

	// Payment ledger
	var ledger payment.Ledger
	if cfg.LedgerURL != "" {
		ledger = payment.NewHTTPLedger(cfg.LedgerURL, logger)
		logger.Info().Str("url", cfg.LedgerURL).Msg("Using HTTP payment ledger")
	} else {
		catalog, err := loadCatalog(cfg.CatalogFile)
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.CatalogFile).Msg("Failed to load dataset catalog")
			return 1
		}
		ledger = payment.NewStaticLedger(catalog, true)
		logger.Warn().Int("datasets", len(catalog)).
			Msg("Using static ledger with open payment policy; set LEDGER_URL for production")
	}

	gate := payment.NewGate(ledger, logger)
	recorder := query.NewRecorder()
	prov := provenance.NewChainBuilder(provLog, logger)

	gw := gateway.New(tokens, gate, ledger, contents, query.NewTagEngine(), prov, recorder, m,
		gateway.Config{
			DefaultTTL:          cfg.GrantTTL,
			DefaultMaxDownloads: cfg.GrantMaxDownloads,
		}, logger)

	searcher := query.NewSearcher(ledger, recorder, logger)

	// Expiry sweeper
	sweeper := gateway.NewSweeper(tokens, cfg.SweepInterval, m, logger)
	if err := sweeper.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start expiry sweeper")
		return 1
	}

	// HTTP server
	router, err := api.NewRouter(cfg, gw, searcher, m, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize router")
		return 1
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("HTTP server error")
			cancel()
		}
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down server")
	case <-ctx.Done():
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown error")
	}

	// Drain any in-flight sweep before closing stores.
	select {
	case <-sweeper.Stop().Done():
	case <-shutdownCtx.Done():
		logger.Warn().Msg("Timed out waiting for expiry sweeper to stop")
	}

	logger.Info().Msg("Server stopped gracefully")
	return 0
}

// loadCatalog reads dataset records for the static ledger. An empty path
// yields an empty catalog.
func loadCatalog(path string) ([]*models.DatasetRecord, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var records []*models.DatasetRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	return records, nil
}
