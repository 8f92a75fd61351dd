// Package main wires together the metadata inventory service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/pcranston/metainventory/internal/api"
	"github.com/pcranston/metainventory/internal/clock/system"
	"github.com/pcranston/metainventory/internal/collector"
	"github.com/pcranston/metainventory/internal/config"
	collyfetcher "github.com/pcranston/metainventory/internal/fetcher/colly"
	"github.com/pcranston/metainventory/internal/logging"
	"github.com/pcranston/metainventory/internal/metadata"
	"github.com/pcranston/metainventory/internal/metrics"
	pubsubpublisher "github.com/pcranston/metainventory/internal/publisher/pubsub"
	"github.com/pcranston/metainventory/internal/scheduler"
	"github.com/pcranston/metainventory/internal/service"
	storememory "github.com/pcranston/metainventory/internal/store/memory"
	storepostgres "github.com/pcranston/metainventory/internal/store/postgres"
)

// store is the provider surface the binary needs beyond metadata.Store.
type store interface {
	metadata.Store
	Ping(ctx context.Context) error
	Close()
}

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metadataStore, err := newStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("store init failed", zap.Error(err))
		os.Exit(1)
	}
	defer metadataStore.Close()

	var publisher metadata.Publisher
	if cfg.PubSub.TopicName != "" {
		pub, err := pubsubpublisher.New(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
		if err != nil {
			logger.Error("pubsub publisher init failed", zap.Error(err))
			os.Exit(1)
		}
		defer func() {
			if closeErr := pub.Close(); closeErr != nil {
				logger.Warn("pubsub close failed", zap.Error(closeErr))
			}
		}()
		publisher = pub
		logger.Info("collection events enabled",
			zap.String("project", cfg.PubSub.ProjectID),
			zap.String("topic", cfg.PubSub.TopicName),
		)
	}

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:       cfg.HTTP.UserAgent,
		Timeout:         cfg.FetchTimeout(),
		FollowRedirects: cfg.HTTP.FollowRedirects,
		MaxBodyBytes:    cfg.HTTP.MaxBodyBytes,
	})
	coll := collector.New(
		fetcher,
		metadataStore,
		publisher,
		system.New(),
		logger.Named("collector"),
	)
	sched := scheduler.New(coll.CollectAndStore, cfg.FetchTimeout()+5*time.Second, logger.Named("scheduler"))
	svc := service.New(metadataStore, coll, sched, logger.Named("service"))
	apiServer := api.NewServer(svc, metadataStore, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}

	// Let in-flight background collections finish, bounded by the shutdown
	// deadline.
	drained := make(chan struct{})
	go func() {
		sched.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-shutdownCtx.Done():
		logger.Warn("background collections still running at shutdown deadline")
	}

	logger.Info("shutdown complete")
}

func newStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (store, error) {
	switch cfg.DB.Provider {
	case "postgres":
		logger.Info("using postgres metadata store", zap.String("table", cfg.DB.Table))
		s, err := storepostgres.New(ctx, storepostgres.Config{
			DSN:             cfg.DB.DSN,
			Table:           cfg.DB.Table,
			MaxConns:        cfg.DB.MaxConns,
			MinConns:        cfg.DB.MinConns,
			MaxConnLifetime: cfg.ConnLifetime(),
			ConnectAttempts: cfg.DB.ConnectAttempts,
		}, logger.Named("postgres"))
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
		return s, nil
	case "memory":
		logger.Info("using in-memory metadata store; records will not survive restarts")
		return storememory.New(), nil
	default:
		return nil, fmt.Errorf("unknown db.provider %q", cfg.DB.Provider)
	}
}
