package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/sohlabs/soh-ingest-api/api/swagger"
	"github.com/sohlabs/soh-ingest-api/internal/handler"
	"github.com/sohlabs/soh-ingest-api/internal/middleware"
	"github.com/sohlabs/soh-ingest-api/internal/repository"
	"github.com/sohlabs/soh-ingest-api/internal/service"
	"github.com/sohlabs/soh-ingest-api/pkg/cache"
	"github.com/sohlabs/soh-ingest-api/pkg/config"
	"github.com/sohlabs/soh-ingest-api/pkg/database"
	"github.com/sohlabs/soh-ingest-api/pkg/jobs"
	"github.com/sohlabs/soh-ingest-api/pkg/logger"
	corsmiddleware "github.com/sohlabs/soh-ingest-api/pkg/middleware/cors"
	reqidmiddleware "github.com/sohlabs/soh-ingest-api/pkg/middleware/requestid"
	"github.com/sohlabs/soh-ingest-api/pkg/objectstore"
	"github.com/sohlabs/soh-ingest-api/pkg/storage"
)

// @title SOH Ingest API
// @version 1.0.0
// @description CSV ingestion and archival pipeline
// @BasePath /
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	staging, err := storage.NewStagingStore(cfg.Staging.Dir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init staging store", "error", err, "dir", cfg.Staging.Dir)
	}

	store := objectstore.New(objectstore.Config{
		Endpoint:     cfg.Archive.Endpoint,
		Bucket:       cfg.Archive.Bucket,
		StorageClass: cfg.Archive.StorageClass,
		Timeout:      cfg.Archive.RequestTimeout,
	})

	metricsSvc := service.NewMetricsService()

	var redisCache *service.CacheService
	if cfg.Redis.Enabled {
		redisClient, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Sugar().Warnw("redis unavailable, row cache disabled", "error", err)
			redisCache = service.NewCacheService(nil, metricsSvc, cfg.RowCache.TTL, logr, false)
		} else {
			defer redisClient.Close() //nolint:errcheck
			redisCache = service.NewCacheService(repository.NewCacheRepository(redisClient, logr), metricsSvc, cfg.RowCache.TTL, logr, true)
		}
	} else {
		redisCache = service.NewCacheService(nil, metricsSvc, cfg.RowCache.TTL, logr, false)
	}

	fileRepo := repository.NewFileRepository(db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The queue handler needs the archival service, which itself submits to
	// the queue, so the service variable is closed over before construction.
	var archivalSvc *service.ArchivalService
	queue := jobs.NewQueue("archival", func(jobCtx context.Context, job jobs.Job) error {
		return archivalSvc.Process(jobCtx, job)
	}, jobs.QueueConfig{
		Workers:    cfg.Archive.Workers,
		BufferSize: cfg.Archive.QueueSize,
		MaxRetries: cfg.Archive.MaxAttempts - 1,
		BaseDelay:  cfg.Archive.BaseBackoff,
		Logger:     logr,
	})
	archivalSvc = service.NewArchivalService(fileRepo, staging, store, queue, metricsSvc, logr, service.ArchivalServiceConfig{
		MaxAttempts:     cfg.Archive.MaxAttempts,
		StaleAfter:      cfg.Archive.StaleAfter,
		JanitorInterval: cfg.Archive.JanitorInterval,
	})
	queue.Start(ctx)
	defer queue.Stop()

	archivalSvc.Recover(ctx)
	archivalSvc.StartJanitor(ctx)

	ingestSvc := service.NewIngestService(fileRepo, staging, archivalSvc, metricsSvc, uuid.NewString, logr, service.IngestServiceConfig{
		MaxFileSizeBytes: cfg.Ingest.MaxFileSizeBytes,
	})
	listingSvc := service.NewListingService(fileRepo, staging, store, redisCache, logr, service.ListingServiceConfig{
		RowCacheTTL: cfg.RowCache.TTL,
		MaxPageSize: cfg.RowCache.MaxPageSize,
	})

	fileHandler := handler.NewFileHandler(ingestSvc, listingSvc, archivalSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc, db, archivalSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))
	r.Use(middleware.WithResponseMeta())

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	{
		files := api.Group("/files")
		files.POST("", fileHandler.Upload)
		files.GET("", fileHandler.List)
		files.GET("/:id", fileHandler.Get)
		files.GET("/:id/rows", fileHandler.Rows)
		files.GET("/:id/download", fileHandler.Download)
		files.POST("/:id/retry", fileHandler.Retry)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logr.Sugar().Infow("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Warnw("server shutdown incomplete", "error", err)
	}
	cancel()
}
