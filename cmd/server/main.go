package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"rujing/internal/auth"
	"rujing/internal/config"
	"rujing/internal/db"
	"rujing/internal/metrics"
	"rujing/internal/middleware"
	"rujing/internal/models"
	"rujing/internal/repository"
	"rujing/internal/router"
	"rujing/internal/services"
	"rujing/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to the yaml config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := initLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting comment service",
		zap.Int("port", cfg.Server.Port),
		zap.String("env", cfg.Server.Env),
		zap.String("database", cfg.Database.Driver))

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewWithRegistry(registry, logger)

	gdb, err := db.Open(cfg.Database, logger)
	if err != nil {
		logger.Fatal("Failed to open database", zap.Error(err))
	}

	broker, err := newBroker(cfg.Redis, logger, m)
	if err != nil {
		logger.Fatal("Failed to connect to redis", zap.Error(err))
	}
	defer broker.Close()

	st := store.NewGormStore(gdb, broker, logger.Named("store"), m,
		models.Comment{}, models.CommentLike{}, models.UserProfile{})

	repo, err := repository.NewCommentRepository(st, logger.Named("repository"), m, repository.Options{
		MaxContentLength: cfg.Comments.MaxContentLength,
	})
	if err != nil {
		logger.Fatal("Failed to create comment repository", zap.Error(err))
	}

	reconciler := services.NewLikeCountReconciler(repo, logger.Named("reconcile"))
	if err := reconciler.Start(cfg.Comments.ReconcileSchedule); err != nil {
		logger.Fatal("Failed to schedule like reconciliation", zap.Error(err))
	}
	defer reconciler.Stop()

	verifier := auth.NewTokenVerifier(cfg.Auth.JWTSecret)
	if !verifier.Enabled() {
		logger.Warn("JWT_SECRET is not set, bearer tokens and sign-in are disabled")
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(sessions.Sessions("rujing_session", cookie.NewStore([]byte(cfg.Auth.SessionSecret))))
	r.Use(middleware.LoadUser(repo, verifier, logger.Named("session")))
	r.Use(middleware.Logger(logger.Named("http")))
	r.Use(middleware.Metrics(m))

	r.HTMLRender = loadTemplates(cfg.Server.TemplatesDir)
	r.Static("/static", cfg.Server.StaticDir)

	router.RegisterRoutes(r, router.Deps{
		Repo:           repo,
		Verifier:       verifier,
		Logger:         logger,
		Metrics:        m,
		Gatherer:       registry,
		LoginURL:       cfg.Auth.LoginURL,
		RefetchDelay:   cfg.Comments.RefetchDelay,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	// live sockets watch this context so shutdown reaches hijacked connections
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:     r,
		BaseContext: func(net.Listener) context.Context { return baseCtx },
	}

	go func() {
		logger.Info("Comment service started", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	cancelBase()
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	logger.Info("Server exited gracefully")
}

// newBroker fans change events out through redis when configured, so views
// on every instance refetch. Without redis only this process is notified.
func newBroker(cfg config.RedisConfig, logger *zap.Logger, m *metrics.Metrics) (store.Broker, error) {
	if cfg.URL == "" {
		logger.Info("Redis not configured, change events stay in process")
		return store.NewLocalBroker(logger.Named("broker"), m), nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	logger.Info("Redis connected, change events fan out across instances")
	return store.NewRedisBroker(client, logger.Named("broker"), m), nil
}

func initLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zcfg := zap.NewDevelopmentConfig()
	if cfg.IsProduction() {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}
