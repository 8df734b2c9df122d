package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/webdevavi/aureus/constants"
	"github.com/webdevavi/aureus/internal/api"
	"github.com/webdevavi/aureus/internal/app"
	"github.com/webdevavi/aureus/internal/async"
	"github.com/webdevavi/aureus/internal/common"
	"github.com/webdevavi/aureus/internal/objectstore"
	"github.com/webdevavi/aureus/internal/orchestrator"
	"github.com/webdevavi/aureus/internal/repository"
)

func main() {
	inmem := flag.Bool("inmem", false, "use an in-memory sqlite store and an in-process job bus")
	workers := flag.Bool("workers", false, "with -inmem, also run the extractor and renderer stages in-process")
	flag.Parse()

	cfg, err := common.LoadConfig()
	if err != nil {
		common.NewLogger(os.Stderr, "info").Error("config.load.failed", "error", err)
		os.Exit(1)
	}
	logger := common.NewLogger(os.Stdout, cfg.LogLevel)
	if *inmem {
		cfg.Database.Driver = "sqlite"
	}
	if err := cfg.ValidateAPI(); err != nil {
		logger.Error("config.invalid", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store *repository.Store
	if cfg.Database.Driver == "sqlite" {
		store, err = repository.OpenSQLite(ctx, cfg.Database.DSN, logger)
	} else {
		store, err = repository.Open(ctx, repository.Config{
			DSN:             cfg.Database.DSN,
			MaxConns:        cfg.Database.MaxConns,
			MinConns:        cfg.Database.MinConns,
			MaxConnLifetime: cfg.Database.MaxConnLifetime,
			MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
			DialTimeout:     cfg.Database.DialTimeout,
		}, logger)
	}
	if err != nil {
		logger.Error("db.open.failed", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		logger.Error("db.migrate.failed", "error", err)
		os.Exit(1)
	}

	presigner, err := objectstore.NewPresigner(objectstore.Config{
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		Region:    cfg.Storage.Region,
		UseSSL:    cfg.Storage.UseSSL,
		Expiry:    cfg.Storage.PresignExpiry,
	}, logger)
	if err != nil {
		logger.Error("objectstore.init.failed", "error", err)
		os.Exit(1)
	}
	if !*inmem {
		if err := presigner.EnsureBucket(ctx, cfg.Storage.Bucket); err != nil {
			logger.Error("objectstore.bucket.failed", "bucket", cfg.Storage.Bucket, "error", err)
			os.Exit(1)
		}
	}

	var publisher async.Publisher
	if *inmem {
		var deps *app.Deps
		if *workers {
			if err := cfg.ValidatePipeline(); err != nil {
				logger.Error("config.invalid", "error", err)
				os.Exit(1)
			}
			if deps, err = app.New(ctx, cfg, logger); err != nil {
				logger.Error("workers.init.failed", "error", err)
				os.Exit(1)
			}
			defer deps.Close()
		}
		bus := async.NewMemoryBus(logger, async.WithWorkers(cfg.Broker.MaxConcurrentJobs))
		defer bus.Shutdown(context.Background())
		if deps != nil {
			bus.Subscribe(constants.StageExtractor, deps.Processor.HandleExtract)
			bus.Subscribe(constants.StageRenderer, deps.Processor.HandleRender)
		}
		publisher = bus
	} else {
		amqpPub := async.NewAMQPPublisher(cfg.Broker.URL, cfg.Broker.Exchange, logger)
		defer amqpPub.Close()
		publisher = amqpPub
	}

	svc := orchestrator.New(store, presigner, publisher, orchestrator.Options{
		Bucket:     cfg.Storage.Bucket,
		StaleAfter: cfg.Pipeline.StaleAfter,
	}, logger)
	router := api.NewRouter(svc, api.Config{
		RequestTimeout: cfg.Server.RequestTimeout,
		Ready: func(ctx context.Context) error {
			return store.HealthCheck(ctx, cfg.Database.DialTimeout)
		},
	}, logger)

	srv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("api.http.serving", "addr", cfg.Server.HTTPAddr, "inmem", *inmem, "workers", *workers)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api.http.failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("api.shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("api.shutdown.failed", "error", err)
	}
}
