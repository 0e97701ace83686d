package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/docpare/docpare-back/internal/blob"
	"github.com/docpare/docpare-back/internal/cache"
	"github.com/docpare/docpare-back/internal/config"
	"github.com/docpare/docpare-back/internal/domain"
	httpserver "github.com/docpare/docpare-back/internal/http"
	"github.com/docpare/docpare-back/internal/http/handlers"
	"github.com/docpare/docpare-back/internal/policy"
	"github.com/docpare/docpare-back/internal/queue"
	"github.com/docpare/docpare-back/internal/repository"
	"github.com/docpare/docpare-back/internal/service"
	"github.com/docpare/docpare-back/internal/worker"
)

func main() {
	logger := log.New(os.Stdout, "[docpare] ", log.LstdFlags|log.LUTC|log.Lmicroseconds)
	if err := config.LoadDotEnv(".env", ".env.local"); err != nil {
		logger.Printf("failed loading .env files: %v", err)
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	records, recordsCloser := setupRecordStore(ctx, cfg, logger)
	defer recordsCloser()

	blobs, blobsCloser := setupBlobStore(ctx, cfg, logger)
	defer blobsCloser()

	notifier := setupNotifier(ctx, cfg, logger)
	defer notifier.Close()

	taskQueue := queue.New(records, notifier, queue.Config{
		MaxAttempts:       cfg.TaskMaxAttempts,
		BaseBackoff:       time.Duration(cfg.TaskBaseBackoffMS) * time.Millisecond,
		MaxBackoff:        time.Duration(cfg.TaskMaxBackoffMS) * time.Millisecond,
		StaleClaimTimeout: time.Duration(cfg.StaleClaimTimeoutMS) * time.Millisecond,
	}, logger)

	blobCache := cache.NewBlobCache(cache.Config{
		TTL:        time.Duration(cfg.CacheTTLSeconds) * time.Second,
		MaxEntries: cfg.CacheMaxEntries,
	})

	storage := service.NewStorage(records, blobs, blobCache, taskQueue, service.StorageConfig{
		UploadRules: policy.NewUploadRules(cfg.MaxUploadBytes),
	}, logger)
	comparisons := service.NewComparisons(records, blobs, taskQueue, logger)

	api := handlers.NewAPI(storage, comparisons, records, cfg.MaxUploadBytes)
	handler := httpserver.NewRouter(httpserver.RouterDependencies{
		API:            api,
		Logger:         logger,
		AuthToken:      cfg.AuthToken,
		CORSOrigins:    strings.Split(cfg.CORSAllowedOrigins, ","),
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	if cfg.WorkerEnabled {
		dispatcher := worker.NewDispatcher(taskQueue, records, worker.Config{
			Workers:      cfg.WorkerCount,
			PollInterval: time.Duration(cfg.PollIntervalMS) * time.Millisecond,
			ReapInterval: time.Duration(cfg.ReapIntervalMS) * time.Millisecond,
		}, logger)
		dispatcher.RegisterHandler(domain.TaskTypeExtractText, worker.ExtractTextHandler(records, blobs))
		dispatcher.RegisterHandler(domain.TaskTypeCompare, worker.CompareHandler(records))
		dispatcher.RegisterHandler(domain.TaskTypeExport, worker.ExportHandler(records, blobs))
		go dispatcher.Start(ctx)
		logger.Printf("dispatcher enabled workers=%d", cfg.WorkerCount)
	} else {
		logger.Printf("dispatcher disabled by configuration")
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Printf("api listening on :%s", cfg.Port)
		errChan <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Printf("shutdown signal received")
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("server failed: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}

func setupRecordStore(
	ctx context.Context,
	cfg config.Config,
	logger *log.Logger,
) (repository.RecordStore, func()) {
	if cfg.RecordStore == "memory" || cfg.DatabaseURL == "" {
		logger.Printf("using in-memory record store")
		return repository.NewMemoryRecordStore(), func() {}
	}

	pgStore, err := repository.NewPostgresRecordStore(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Printf("failed to initialize postgres record store, fallback to memory: %v", err)
		return repository.NewMemoryRecordStore(), func() {}
	}
	logger.Printf("postgres record store initialized")
	return pgStore, func() {
		pgStore.Close()
	}
}

func setupBlobStore(
	ctx context.Context,
	cfg config.Config,
	logger *log.Logger,
) (blob.Store, func()) {
	diskFallback := func() (blob.Store, func()) {
		diskStore, err := blob.NewDiskStore(cfg.BlobRootDir)
		if err != nil {
			logger.Fatalf("failed to initialize local blob store: %v", err)
		}
		logger.Printf("local blob store initialized root=%s", cfg.BlobRootDir)
		return diskStore, func() {}
	}

	if cfg.StorageProvider != "gcs" || cfg.GCSBucket == "" {
		return diskFallback()
	}

	gcsStore, err := blob.NewGCSStore(ctx, cfg.GCSBucket)
	if err != nil {
		logger.Printf("failed to initialize gcs blob store, fallback to local: %v", err)
		return diskFallback()
	}
	logger.Printf("gcs blob store initialized bucket=%s", cfg.GCSBucket)
	return gcsStore, func() {
		_ = gcsStore.Close()
	}
}

func setupNotifier(ctx context.Context, cfg config.Config, logger *log.Logger) queue.Notifier {
	if cfg.RedisAddr == "" {
		logger.Printf("REDIS_ADDR not configured, using local notifier")
		return queue.NewLocalNotifier()
	}

	redisNotifier, err := queue.NewRedisNotifier(ctx, queue.RedisNotifierConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Channel:  cfg.RedisWakeChannel,
	})
	if err != nil {
		logger.Printf("failed to initialize redis notifier, fallback to local: %v", err)
		return queue.NewLocalNotifier()
	}
	logger.Printf("redis notifier initialized channel=%s", cfg.RedisWakeChannel)
	return redisNotifier
}
