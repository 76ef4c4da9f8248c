// Package main runs the voting HTTP server with WebSocket gateway and graceful shutdown.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tunevote/backend/config"
	"github.com/tunevote/backend/internal/auth"
	"github.com/tunevote/backend/internal/middleware"
	"github.com/tunevote/backend/internal/models"
	"github.com/tunevote/backend/internal/notify"
	"github.com/tunevote/backend/internal/realtime"
	"github.com/tunevote/backend/internal/tally"
	"github.com/tunevote/backend/internal/voting"
	"github.com/tunevote/backend/pkg/database"
	"github.com/tunevote/backend/pkg/queue"
	"github.com/tunevote/backend/pkg/redis"
	"github.com/tunevote/backend/pkg/response"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), database.PoolOptions{}, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)

	// Voting engine
	jobQueue := queue.NewQueue(rdb.Client, cfg.Worker.MaxRetries, logger)
	notifier := notify.NewNotifier(jobQueue, logger)
	tallyStore := tally.NewStore(rdb, cfg.Voting.ResultsCacheTTL, logger)
	votingRepo := voting.NewPostgresRepository(pool)
	votingSvc := voting.NewService(votingRepo, tallyStore, notifier, voting.Options{
		MaxCandidates: cfg.Voting.MaxCandidates,
		DisplayWindow: cfg.Voting.DisplayWindow,
	}, logger)

	// Real-time gateway
	bus := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(votingSvc, bus, cfg.Voting.DebounceWindow, logger)
	if err := hub.Start(ctx); err != nil {
		logger.Fatal("realtime hub", zap.Error(err))
	}

	votingHandler := voting.NewHandler(votingSvc, hub, logger)

	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	admin := api.Group("")
	admin.Use(middleware.RequireRole(models.RoleAdmin))
	votingHandler.Register(api, admin)

	// WebSocket (token in query or Authorization header)
	router.GET("/ws", realtime.ServeWs(hub, jwtService, logger))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	stop()
	hub.Close()
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
