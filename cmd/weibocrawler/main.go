// Package main wires together the weibo crawler service binary.
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

	pubsubclient "cloud.google.com/go/pubsub"
	gcsclient "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/w1np9uci/weibo-crawler/internal/api"
	"github.com/w1np9uci/weibo-crawler/internal/archive"
	archivegcs "github.com/w1np9uci/weibo-crawler/internal/archive/gcs"
	archivelocal "github.com/w1np9uci/weibo-crawler/internal/archive/local"
	archivememory "github.com/w1np9uci/weibo-crawler/internal/archive/memory"
	"github.com/w1np9uci/weibo-crawler/internal/client"
	"github.com/w1np9uci/weibo-crawler/internal/clock/system"
	"github.com/w1np9uci/weibo-crawler/internal/config"
	"github.com/w1np9uci/weibo-crawler/internal/crawl"
	"github.com/w1np9uci/weibo-crawler/internal/dispatcher"
	"github.com/w1np9uci/weibo-crawler/internal/id/uuid"
	"github.com/w1np9uci/weibo-crawler/internal/logging"
	"github.com/w1np9uci/weibo-crawler/internal/metrics"
	"github.com/w1np9uci/weibo-crawler/internal/progress"
	"github.com/w1np9uci/weibo-crawler/internal/progress/sinks"
	memorypublisher "github.com/w1np9uci/weibo-crawler/internal/publisher/memory"
	pubsubpublisher "github.com/w1np9uci/weibo-crawler/internal/publisher/pubsub"
	queuememory "github.com/w1np9uci/weibo-crawler/internal/queue/memory"
	"github.com/w1np9uci/weibo-crawler/internal/store"
	taskmemory "github.com/w1np9uci/weibo-crawler/internal/task/memory"
	taskpostgres "github.com/w1np9uci/weibo-crawler/internal/task/postgres"
	"github.com/w1np9uci/weibo-crawler/internal/weibo"
	"github.com/w1np9uci/weibo-crawler/internal/worker"
)

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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("service exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	fileStore, err := store.New(cfg.Storage.BaseDir, logger.Named("store"))
	if err != nil {
		return fmt.Errorf("init file store: %w", err)
	}

	tasks, closeTasks, err := buildTaskStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init task store: %w", err)
	}
	defer closeTasks()

	publisher, closePublisher, err := buildPublisher(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init publisher: %w", err)
	}
	defer closePublisher()

	snapshots, err := buildArchive(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init archive: %w", err)
	}

	promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("init prometheus sink: %w", err)
	}
	hub := progress.NewHub(progress.Config{Logger: logger.Named("progress")},
		sinks.NewLogSink(logger.Named("progress")),
		promSink,
		sinks.NewStoreSink(tasks, logger.Named("progress")),
	)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := hub.Close(closeCtx); err != nil {
			logger.Warn("progress hub close failed", zap.Error(err))
		}
	}()

	crawler := crawl.New(
		func(useProxy bool) (crawl.PageFetcher, error) {
			return client.New(cfg, useProxy, logger.Named("client"))
		},
		fileStore,
		crawl.Config{
			DefaultMaxPages: cfg.Crawler.DefaultMaxPages,
			DefaultDelay:    time.Duration(cfg.Crawler.DefaultDelayS * float64(time.Second)),
			Logger:          logger.Named("crawl"),
		},
	)

	queue := queuememory.NewQueue(cfg.Crawler.QueueDepth)
	clock := system.New()
	idGen := uuid.New()

	workerCfg := worker.Config{
		Topic:         cfg.Publisher.Topic,
		ArchivePrefix: cfg.Archive.Prefix,
	}
	var workers []*worker.Worker
	for i := 0; i < cfg.Crawler.Concurrency; i++ {
		workers = append(workers, worker.New(
			queue,
			tasks,
			crawler,
			publisher,
			snapshots,
			hub,
			clock,
			workerCfg,
			logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	dispatch := dispatcher.New(queue, workers)

	apiServer := api.NewServer(tasks, fileStore, dispatch, idGen, clock, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("dispatcher started", zap.Int("workers", cfg.Crawler.Concurrency))
		dispatch.Run(ctx)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	queue.Close()
	logger.Info("shutdown complete")
	return nil
}

func buildTaskStore(ctx context.Context, cfg config.Config) (weibo.TaskStore, func(), error) {
	switch cfg.TaskStore.Backend {
	case "postgres":
		pg, err := taskpostgres.New(ctx, taskpostgres.StoreConfig{
			DSN:   cfg.TaskStore.DSN,
			Table: cfg.TaskStore.Table,
		})
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	default:
		return taskmemory.New(), func() {}, nil
	}
}

func buildPublisher(ctx context.Context, cfg config.Config) (weibo.Publisher, func(), error) {
	switch cfg.Publisher.Backend {
	case "pubsub":
		pc, err := pubsubclient.NewClient(ctx, cfg.Publisher.ProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("pubsub client: %w", err)
		}
		pub, err := pubsubpublisher.New(pc)
		if err != nil {
			return nil, nil, err
		}
		return pub, pub.Close, nil
	default:
		return memorypublisher.New(), func() {}, nil
	}
}

func buildArchive(ctx context.Context, cfg config.Config) (archive.Store, error) {
	switch cfg.Archive.Backend {
	case "local":
		return archivelocal.New(archivelocal.Config{BaseDir: cfg.Archive.BaseDir})
	case "gcs":
		gc, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		return archivegcs.New(gc, archivegcs.Config{Bucket: cfg.Archive.GCSBucket})
	case "memory":
		return archivememory.New(), nil
	default:
		return nil, nil
	}
}
