package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iotgrid/user-service/internal/api"
	"github.com/iotgrid/user-service/internal/auth"
	"github.com/iotgrid/user-service/internal/database"
	"github.com/iotgrid/user-service/internal/idp"
	"github.com/iotgrid/user-service/internal/orgs"
	"github.com/iotgrid/user-service/internal/tasks"
	"github.com/iotgrid/user-service/internal/users"
	"github.com/iotgrid/user-service/pkg/config"
	"github.com/iotgrid/user-service/pkg/queue"
	"github.com/iotgrid/user-service/pkg/util"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Load .env file
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := util.NewLogger(cfg.Server.Env)
	slog.SetDefault(logger)

	logger.Info("starting user service",
		"env", cfg.Server.Env,
		"addr", cfg.Server.Addr(),
		"idp", cfg.IdP.BaseURL,
	)

	// Connect to database
	db, err := database.Connect(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := database.AutoMigrate(db); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Connect to Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		logger.Warn("failed to connect to Redis, mirror retries disabled", "error", err)
		redisClient = nil
	}

	// Asynq client for enqueueing mirror retry tasks
	var asynqClient *asynq.Client
	if redisClient != nil {
		asynqClient = queue.NewClient(&cfg.Redis)
	}

	// Identity provider admin client
	provider := idp.NewClient(&cfg.IdP, logger)

	// Services
	userService := users.NewService(users.NewStore(db), provider, cfg.User.DefaultRole, logger)
	if asynqClient != nil {
		userService = userService.WithMirrorer(tasks.NewEnqueuer(asynqClient))
	}
	orgService := orgs.NewService(db, logger)

	tokenValidator := auth.NewTokenValidator(cfg.JWT.Secret)

	// Create router
	router := api.NewRouter(api.RouterConfig{
		DB:             db,
		Redis:          redisClient,
		Logger:         logger,
		TokenValidator: tokenValidator,
		UserService:    userService,
		OrgService:     orgService,
		RateLimitReqs:  cfg.RateLimit.Requests,
		RateLimitSecs:  cfg.RateLimit.WindowSeconds,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server listening", "addr", cfg.Server.Addr())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	// Close Asynq client
	if asynqClient != nil {
		asynqClient.Close()
	}

	// Close Redis connection
	if redisClient != nil {
		redisClient.Close()
	}

	// Close database connection
	sqlDB, _ := db.DB()
	sqlDB.Close()

	logger.Info("server stopped")
}
