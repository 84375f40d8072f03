package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redlabs-sc/document-extract-service/config"
	"github.com/redlabs-sc/document-extract-service/internal/breaker"
	"github.com/redlabs-sc/document-extract-service/internal/cleanup"
	"github.com/redlabs-sc/document-extract-service/internal/extract"
	"github.com/redlabs-sc/document-extract-service/internal/health"
	"github.com/redlabs-sc/document-extract-service/internal/jobs"
	"github.com/redlabs-sc/document-extract-service/internal/logger"
	"github.com/redlabs-sc/document-extract-service/internal/metrics"
	"github.com/redlabs-sc/document-extract-service/internal/redisconn"
	"github.com/redlabs-sc/document-extract-service/internal/server"
	"github.com/redlabs-sc/document-extract-service/internal/shutdown"
	"go.uber.org/zap"
)

func main() {
	// 1. Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.InitLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting document extraction service",
		zap.Int("port", cfg.ServerPort),
		zap.Int("extract_workers", cfg.ExtractWorkers))

	// 3. Coordination store connection manager (lazy; first use connects)
	redisOpts := redisconn.Options{
		Addr:                cfg.RedisAddr,
		Password:            cfg.RedisPassword,
		DB:                  cfg.RedisDB,
		MaxRetries:          cfg.MaxRetries,
		InitialRetryDelay:   cfg.InitialRetryDelay,
		MaxRetryDelay:       cfg.MaxRetryDelay,
		BackoffMultiplier:   cfg.BackoffMultiplier,
		HealthCheckInterval: cfg.HealthCheckInterval,
		DialTimeout:         5 * time.Second,
		ReadTimeout:         5 * time.Second,
	}
	redisManager := redisconn.NewManager(redisOpts, log)

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := redisManager.Ping(startupCtx); err != nil {
		log.Warn("Coordination store unreachable at startup, continuing degraded", zap.Error(err))
	} else {
		log.Info("Connected to coordination store", zap.String("addr", cfg.RedisAddr))
	}
	startupCancel()

	// 4. Circuit breaker guarding the extraction backend
	extractionBreaker := breaker.New("extraction", breaker.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		RecoveryTimeout:  cfg.BreakerRecoveryTimeout,
		SuccessThreshold: cfg.BreakerSuccessThreshold,
		OperationTimeout: cfg.BreakerOperationTimeout,
	}, log)

	// 5. Extraction backend routing and gateway
	router := extract.NewRouter()
	router.Register(extract.NewPlainTextBackend(cfg.MaxUploadBytes()), cfg.SupportedExtensions()...)
	gateway := extract.NewGateway(router, extractionBreaker, cfg.SoftExtractTimeout, cfg.HardExtractTimeout, log)

	// 6. Shutdown coordinator and temp file janitor
	coordinator := shutdown.NewCoordinator(cfg.ShutdownTimeout, cfg.ShutdownPollInterval, log)
	janitor := cleanup.NewJanitor(cfg.UploadDir, cfg.TempFileMaxAge, cfg.TempDirSizeCapBytes(), log)

	// 7. Job tracker and workers
	tracker := jobs.NewTracker(redisManager, gateway, cfg.JobQueueCapacity, cfg.JobResultTTL, log)

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for i := 1; i <= cfg.ExtractWorkers; i++ {
		workerID := fmt.Sprintf("extract_worker_%d", i)
		worker := jobs.NewWorker(workerID, tracker, log)

		wg.Add(1)
		go func() {
			defer wg.Done()
			worker.Start(workerCtx)
		}()

		log.Info("Extract worker started", zap.String("worker_id", workerID))
	}

	// 8. Janitor loop
	wg.Add(1)
	go func() {
		defer wg.Done()
		janitor.Start(workerCtx)
	}()

	// 9. Health aggregator and monitoring servers
	collector := metrics.NewCollector()
	aggregator := health.NewAggregator(
		extractionBreaker, redisManager, coordinator, collector, janitor, tracker,
		cfg.TempDirSizeCapBytes(),
	)
	health.StartHealthServer(cfg.HealthCheckPort, aggregator, coordinator, log)
	metrics.StartMetricsServer(cfg.MetricsPort, log)

	// 10. API server
	apiServer := server.NewServer(cfg, coordinator, tracker, janitor, collector, aggregator,
		router.SupportedFormats(), log)

	// 11. Shutdown callbacks run in registration order after drain
	coordinator.RegisterCallback("stop_api_server", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return apiServer.Shutdown(ctx)
	})
	coordinator.RegisterCallback("stop_workers", func() error {
		stopWorkers()
		return nil
	})
	coordinator.RegisterCallback("purge_temp_files", func() error {
		report := janitor.PurgeOlderThan(0)
		log.Info("Temp files purged on shutdown", zap.Int("deleted_count", report.DeletedCount))
		return nil
	})
	coordinator.RegisterCallback("close_redis", redisManager.Close)

	go func() {
		if err := apiServer.Start(); err != nil {
			log.Fatal("API server error", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	log.Info("All services started successfully - waiting for shutdown signal")
	sig := <-sigChan
	log.Info("Received shutdown signal", zap.String("signal", sig.String()))

	// Graceful shutdown: drain in-flight requests, then run callbacks
	coordinator.BeginShutdown()

	// Wait for workers to finish (with timeout)
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("All workers stopped gracefully")
	case <-time.After(10 * time.Second):
		log.Warn("Forced shutdown - workers may not have stopped cleanly")
	}

	log.Info("Shutdown complete")
}
