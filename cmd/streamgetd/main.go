// Package main runs the capture agent: a long-running HTTP daemon that
// accepts capture jobs, streams session events, and archives finished
// files.
package main

import (
	"context"
	"net/http"
	"os/signal"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aseven02/streamget/config"
	"github.com/aseven02/streamget/internal/agent"
	"github.com/aseven02/streamget/internal/archive"
	"github.com/aseven02/streamget/internal/capture"
	"github.com/aseven02/streamget/internal/douyin"
	"github.com/aseven02/streamget/internal/history"
	"github.com/aseven02/streamget/internal/lifecycle"
	"github.com/aseven02/streamget/internal/middleware"
	"github.com/aseven02/streamget/internal/progress"
	"github.com/aseven02/streamget/pkg/database"
	"github.com/aseven02/streamget/pkg/metrics"
	"github.com/aseven02/streamget/pkg/queue"
	"github.com/aseven02/streamget/pkg/redis"
	"github.com/aseven02/streamget/pkg/response"
	"github.com/aseven02/streamget/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()

	// runCtx bounds every capture run; cancelling it on shutdown lets
	// in-flight sessions finish as INTERRUPTED with usable files.
	runCtx, stopRuns := signal.NotifyContext(context.Background(), lifecycle.TerminationSignals()...)
	defer stopRuns()

	var histRepo *history.Repository
	if cfg.Database.Enabled() {
		pool, err := database.NewPostgresPool(ctx, cfg.Database.URL, logger)
		if err != nil {
			logger.Fatal("database", zap.Error(err))
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool); err != nil {
			logger.Fatal("migrate", zap.Error(err))
		}
		histRepo = history.NewRepository(pool)
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled() {
		rdb, err = redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			logger.Fatal("redis", zap.Error(err))
		}
		defer rdb.Close()
	}

	var s3Client *storage.S3
	if cfg.AWS.Enabled() {
		s3Client, err = storage.NewS3(ctx, storage.S3Config{
			Region:          cfg.AWS.Region,
			AccessKeyID:     cfg.AWS.AccessKeyID,
			SecretAccessKey: cfg.AWS.SecretAccessKey,
			Bucket:          cfg.AWS.Bucket,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		}
	}

	var mirror progress.Publisher
	if rdb != nil {
		mirror = progress.NewRedisPublisher(rdb.Client, logger)
	}
	hub := progress.NewHub(mirror, logger)
	agentMetrics := metrics.New()

	resolver := douyin.NewResolver(douyin.ResolverConfig{
		WebBaseURL: cfg.Douyin.WebBaseURL,
		AppBaseURL: cfg.Douyin.AppBaseURL,
	}, logger)
	session := capture.NewSession(nil, cfg.Capture.FFmpegPath, logger)
	engine := agent.NewEngine(resolver, session, hub, agentMetrics, logger)

	var histStore agent.HistoryStore
	var marker archive.HistoryMarker
	if histRepo != nil {
		histStore = histRepo
		marker = histRepo
	}

	// Archive uploads are decoupled through the Redis queue when both
	// Redis and S3 are configured; without Redis they are skipped.
	var enqueuer agent.ArchiveEnqueuer
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	if rdb != nil && s3Client != nil {
		jobQueue := queue.NewQueue(rdb.Client, logger)
		enqueuer = jobQueue
		archiver := archive.NewArchiver(s3Client, marker, agentMetrics, logger)
		go archive.NewWorker(archiver, jobQueue, logger).Run(workerCtx)
		logger.Info("archive worker started")
	}

	registry := agent.NewRegistry()
	handler := agent.NewHandler(agent.Config{
		OutputDir:        cfg.Capture.OutputDir,
		Cookies:          cfg.Douyin.Cookies,
		DefaultQualities: parseQualities(cfg.Capture.Qualities, logger),
	}, registry, engine, hub, agentMetrics, histStore, enqueuer, runCtx, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/healthz", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(agentMetrics.Handler()))
	router.GET("/ws", progress.ServeWS(hub, logger))

	api := router.Group("/api/v1")
	if cfg.Auth.Enabled() {
		api.Use(middleware.BearerAuth(cfg.Auth.Secret))
	}
	{
		api.POST("/captures", handler.Create)
		api.GET("/captures", handler.List)
		api.GET("/captures/:id", handler.Get)
		api.POST("/captures/:id/cancel", handler.Cancel)
		api.GET("/history", handler.ListHistory)
		api.GET("/history/:id", handler.GetHistory)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("agent listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	<-runCtx.Done()
	logger.Info("shutting down, interrupting in-flight captures")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	workerCancel()
	logger.Info("agent stopped")
}

func parseQualities(labels []string, logger *zap.Logger) []douyin.Quality {
	out := make([]douyin.Quality, 0, len(labels))
	for _, raw := range labels {
		q, err := douyin.ParseQuality(raw)
		if err != nil {
			logger.Warn("ignoring default quality", zap.String("label", raw), zap.Error(err))
			continue
		}
		out = append(out, q)
	}
	return out
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
