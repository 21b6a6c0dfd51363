package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/mnemoslabs/mnemos/internal/api"
	"github.com/mnemoslabs/mnemos/internal/buildconfig"
	"github.com/mnemoslabs/mnemos/internal/codec"
	"github.com/mnemoslabs/mnemos/internal/config"
	"github.com/mnemoslabs/mnemos/internal/domain"
	"github.com/mnemoslabs/mnemos/internal/index"
	"github.com/mnemoslabs/mnemos/internal/metrics"
	"github.com/mnemoslabs/mnemos/internal/service"
	"github.com/mnemoslabs/mnemos/internal/store"
)

func main() {
	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	if err := config.Load(); err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	ctx := context.Background()

	// Key custody first: everything downstream encrypts or signs.
	keystore, err := codec.OpenKeyStore(config.KeystoreDir())
	if err != nil {
		logger.Fatal("failed to open keystore", zap.Error(err))
	}
	c, err := keystore.Codec()
	if err != nil {
		logger.Fatal("failed to load keys", zap.Error(err))
	}
	logger.Info("keystore ready", zap.String("signer", c.PublicKeyHex()))

	// A single pool serves both postgres backends when selected.
	var pool *pgxpool.Pool
	if config.ContentBackend() == "postgres" || config.IndexBackend() == "postgres" {
		dbURL := config.DatabaseURL()
		if dbURL == "" {
			logger.Fatal("DATABASE_URL is required for postgres backends")
		}
		pool, err = pgxpool.New(ctx, dbURL)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			logger.Fatal("failed to ping database", zap.Error(err))
		}
		logger.Info("connected to database")
	}

	content, err := buildContentStore(ctx, pool, logger)
	if err != nil {
		logger.Fatal("failed to build content store", zap.Error(err))
	}

	idx, err := buildIndex(ctx, pool, logger)
	if err != nil {
		logger.Fatal("failed to build envelope index", zap.Error(err))
	}

	estimator, err := buildEstimator()
	if err != nil {
		logger.Fatal("failed to build token estimator", zap.Error(err))
	}

	collector := metrics.NewPromCollector()
	identity := service.NewIdentityManager(c, config.KernelPath(), logger)

	app, err := api.NewApp(api.Deps{
		Codec:     c,
		Content:   content,
		Index:     idx,
		Policies:  idx,
		Identity:  identity,
		Estimator: estimator,
		Metrics:   collector,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal("failed to wire application", zap.Error(err))
	}

	addr := config.ServerAddr()
	srv := &http.Server{
		Addr:    addr,
		Handler: app.Router,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("server starting",
			zap.String("addr", addr),
			zap.String("version", buildconfig.Version()),
			zap.String("content_backend", config.ContentBackend()),
			zap.String("index_backend", config.IndexBackend()),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

func buildContentStore(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) (domain.ContentStore, error) {
	switch backend := config.ContentBackend(); backend {
	case "local":
		return store.NewLocalStore(config.ContentDir())
	case "gateway":
		return store.NewGatewayStore(config.GatewayURL(), store.GatewayOpts{
			RPS: config.GatewayRPS(),
		})
	case "postgres":
		s := store.NewPostgresStore(pool)
		if err := s.Migrate(ctx); err != nil {
			return nil, err
		}
		return s, nil
	default:
		logger.Warn("unknown content backend, falling back to local", zap.String("backend", backend))
		return store.NewLocalStore(config.ContentDir())
	}
}

// indexStore is what both index backends provide: the envelope index
// and the policy store share a database.
type indexStore interface {
	domain.EnvelopeIndex
	domain.PolicyStore
}

func buildIndex(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) (indexStore, error) {
	switch backend := config.IndexBackend(); backend {
	case "postgres":
		idx := index.NewPostgresIndex(pool)
		if err := idx.Migrate(ctx); err != nil {
			return nil, err
		}
		return idx, nil
	case "sqlite":
		return index.NewSQLiteIndex(config.SQLitePath())
	default:
		logger.Warn("unknown index backend, falling back to sqlite", zap.String("backend", backend))
		return index.NewSQLiteIndex(config.SQLitePath())
	}
}

func buildEstimator() (domain.TokenEstimator, error) {
	if config.TokenEstimator() == "bpe" {
		return service.NewBPEEstimator(config.TokenEncoding())
	}
	return service.NewHeuristicEstimator(), nil
}
