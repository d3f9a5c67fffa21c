package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/teamtrack/bayzat-sync/api/swagger"
	"github.com/teamtrack/bayzat-sync/internal/bayzat"
	"github.com/teamtrack/bayzat-sync/internal/handler"
	"github.com/teamtrack/bayzat-sync/internal/middleware"
	"github.com/teamtrack/bayzat-sync/internal/ratelimit"
	"github.com/teamtrack/bayzat-sync/internal/repository"
	"github.com/teamtrack/bayzat-sync/internal/service"
	"github.com/teamtrack/bayzat-sync/pkg/cache"
	"github.com/teamtrack/bayzat-sync/pkg/config"
	"github.com/teamtrack/bayzat-sync/pkg/database"
	"github.com/teamtrack/bayzat-sync/pkg/jobs"
	"github.com/teamtrack/bayzat-sync/pkg/logger"
	corsmiddleware "github.com/teamtrack/bayzat-sync/pkg/middleware/cors"
	reqidmiddleware "github.com/teamtrack/bayzat-sync/pkg/middleware/requestid"
)

// @title Bayzat Attendance Sync API
// @version 1.0.0
// @description Batch-oriented synchronization of attendance records to Bayzat
// @BasePath /api/v1
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	if err := repository.EnsureSchema(ctx, db); err != nil {
		logr.Sugar().Fatalw("failed to ensure schema", "error", err)
	}

	// Redis only backs the per-company request pacing; when it is down the
	// pipeline keeps running without pacing rather than refusing to start.
	var limiter *ratelimit.IntervalLimiter
	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, request pacing disabled", "error", err)
	} else {
		defer redisClient.Close()
		limiter = ratelimit.NewIntervalLimiter(redisClient, "bayzat:pace", 10*time.Minute)
	}

	recordRepo := repository.NewAttendanceRecordRepository(db)
	batchRepo := repository.NewSyncBatchRepository(db)
	settingsRepo := repository.NewCompanySettingsRepository(db)

	metricsSvc := service.NewMetricsService()
	validate := validator.New()

	settings := service.NewCachedSettingsService(settingsRepo, redisClient, metricsSvc, logr, 5*time.Minute)

	client := bayzat.NewClient(limiter, logr, bayzat.ClientConfig{
		LocalRetries:   cfg.Bayzat.ClientRetries,
		RetryBackoff:   cfg.Bayzat.ClientRetryBackoff,
		RequestTimeout: cfg.Bayzat.RequestTimeout,
	})

	engine := service.NewSyncEngine(recordRepo, batchRepo, settings, client, metricsSvc, logr, service.SyncEngineConfig{
		BackoffBase:      cfg.Bayzat.BackoffBase,
		BackoffCap:       cfg.Bayzat.BackoffCap,
		MaxRetryAttempts: cfg.Bayzat.MaxRetryAttempts,
	})
	worker := service.NewSyncWorker(engine, logr)

	var dispatcher *service.DispatcherService
	queue := jobs.NewQueue("bayzat_sync", worker.Handle, jobs.QueueConfig{
		Workers:    cfg.Queue.Workers,
		BufferSize: cfg.Queue.BufferSize,
		MaxRetries: cfg.Queue.MaxRetries,
		RetryDelay: cfg.Queue.RetryDelay,
		JobTimeout: cfg.Queue.JobTimeout,
		OnExhausted: func(ctx context.Context, job jobs.Job, cause error) {
			dispatcher.HandleJobExhausted(ctx, job, cause)
		},
		Logger: logr,
	})

	sweep := service.NewSweepService(recordRepo, batchRepo, settings, queue, metricsSvc, logr, service.SweepConfig{
		DefaultLimit: cfg.Bayzat.SweepLimit,
	})
	dispatcher = service.NewDispatcherService(recordRepo, batchRepo, settings, queue, sweep, validate, logr, service.DispatcherConfig{
		SchedulerInterval: cfg.Bayzat.SchedulerInterval,
		SweepInterval:     cfg.Bayzat.SweepInterval,
		SweepLimit:        cfg.Bayzat.SweepLimit,
	})

	queue.Start(ctx)
	defer queue.Stop()
	dispatcher.RecoverPendingBatches(ctx)
	dispatcher.StartScheduler(ctx)

	syncHandler := handler.NewSyncHandler(dispatcher)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	{
		api.POST("/companies/:id/sync", syncHandler.SyncNow)
		api.GET("/companies/:id/batches", syncHandler.ListBatches)
		api.GET("/companies/:id/records", syncHandler.ListRecords)
		api.POST("/sync/retries", syncHandler.RetryFailed)
		api.GET("/batches/:id", syncHandler.GetBatch)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("server shutdown failed", "error", err)
	}
}
