package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/face-blur/internal/api/handler"
	"github.com/cuongbtq/face-blur/internal/api/router"
	"github.com/cuongbtq/face-blur/internal/broker"
	"github.com/cuongbtq/face-blur/internal/config"
	"github.com/cuongbtq/face-blur/internal/domain"
	"github.com/cuongbtq/face-blur/internal/media/ffmpeg"
	"github.com/cuongbtq/face-blur/internal/metrics"
	"github.com/cuongbtq/face-blur/internal/pipeline"
	"github.com/cuongbtq/face-blur/internal/resultstore"
	"github.com/cuongbtq/face-blur/internal/staging"
	"github.com/cuongbtq/face-blur/internal/stats"
	"github.com/cuongbtq/face-blur/internal/taskstore"
	"github.com/cuongbtq/face-blur/internal/taskstore/migrations"
	"github.com/cuongbtq/face-blur/shared/logger"
	"github.com/cuongbtq/face-blur/shared/postgresql"
	"github.com/cuongbtq/face-blur/shared/rabbitmq"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging, &cfg.App)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize PostgreSQL client and schema
	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Component("postgres"))
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	if err := dbClient.Migrate(ctx, migrations.Files); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	appLogger.Info("Database connection established")

	// Initialize RabbitMQ client
	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Component("rabbitmq"))
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	appLogger.Info("RabbitMQ connection established")

	results, err := initResultStore(cfg, appLogger.Component("resultstore"))
	if err != nil {
		return fmt.Errorf("failed to initialize result store: %w", err)
	}

	repo := taskstore.NewPostgres(dbClient.GetDB(), appLogger.Component("taskstore"))

	// staged inputs of unfinished tasks outlive the sweep
	area, err := staging.New(cfg.Storage.StagingDir, staging.WithInUse(func(ctx context.Context, id string) (bool, error) {
		return taskstore.HoldsInputs(ctx, repo, id)
	}))
	if err != nil {
		return fmt.Errorf("failed to initialize staging area: %w", err)
	}
	taskBroker := broker.NewRabbitMQ(rabbitClient, cfg.RabbitMQ.Consumer.PrefetchCount,
		cfg.RabbitMQ.Publish.InspectTimeout, appLogger.Component("broker"))

	var opts []pipeline.Option
	codec := ffmpeg.New(ffmpeg.Config{FFmpegPath: cfg.Video.FFmpegPath, FFprobePath: cfg.Video.FFprobePath}, appLogger.Component("ffmpeg"))
	if err := codec.Available(); err != nil {
		appLogger.Warn("ffprobe unavailable, video duration is not checked at submission",
			slog.String("error", err.Error()),
		)
	} else {
		opts = append(opts, pipeline.WithProber(codec))
	}

	// Vanity stats
	var statsStore handler.StatsStore
	if cfg.Stats.Enabled {
		store, err := stats.Open(ctx, cfg.Stats.DBPath)
		if err != nil {
			return fmt.Errorf("failed to open stats store: %w", err)
		}
		defer store.Close()
		statsStore = store
		opts = append(opts, pipeline.WithRecorder(store))
		appLogger.Info("Stats store opened", slog.String("path", cfg.Stats.DBPath))
	}

	p := pipeline.New(repo, taskBroker, results, area, pipeline.Config{
		MaxImages:        cfg.Media.MaxImages,
		MaxImageBytes:    cfg.Media.MaxImageBytes(),
		MaxVideoBytes:    cfg.Media.MaxVideoBytes(),
		MaxVideoDuration: time.Duration(cfg.Media.MaxVideoSeconds) * time.Second,
		LeaseDuration:    cfg.Worker.LeaseDuration,
		VideoOptions: domain.TaskOptions{
			DetectEveryN:  cfg.Video.DetectEveryN,
			MaxFPS:        cfg.Video.MaxFPS,
			DetectScale:   cfg.Video.DetectScale,
			PreserveAudio: *cfg.Video.PreserveAudio,
		},
	}, appLogger.Component("pipeline"), opts...)

	prometheus.MustRegister(metrics.NewQueueCollector(p.Snapshot, appLogger.Component("metrics")))

	// Sweeper for results, staged inputs and finished task rows
	sweeper := &resultstore.Sweeper{
		Targets: []resultstore.Target{
			// rows go first so an expired result reads as unknown, never as already fetched
			{Name: "tasks", Store: repo},
			{Name: "results", Store: results},
			{Name: "staging", Store: area},
		},
		TTL:      cfg.Storage.ArtifactTTL,
		Interval: cfg.Storage.SweepInterval,
		Logger:   appLogger.Component("sweeper"),
	}
	go sweeper.Run(ctx)

	// Initialize router
	readiness := map[string]handler.ReadinessCheck{
		"postgres": dbClient.HealthCheck,
		"rabbitmq": func(ctx context.Context) error {
			if snap := taskBroker.Inspect(ctx); !snap.Available {
				return errors.New(snap.Reason)
			}
			return nil
		},
	}
	r := initRouter(cfg, appLogger.Component("http"), p, statsStore, readiness)

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	appLogger.Info("API service is running",
		slog.String("address", addr),
	)

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Shutting down server...", slog.String("signal", sig.String()))
	case err := <-serverErr:
		appLogger.Error("Server failed", slog.Any("error", err))
		return err
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig, app *config.AppConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
		Service:      app.Name,
		Version:      app.Version,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// initResultStore picks the artifact backend named in storage.backend
func initResultStore(cfg *config.Config, logger *slog.Logger) (resultstore.Store, error) {
	switch cfg.Storage.Backend {
	case config.StorageBackendRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		logger.Info("Using redis result store", slog.String("addr", cfg.Redis.Addr))
		return resultstore.NewRedisStore(rdb, cfg.Redis.KeyPrefix), nil
	default:
		logger.Info("Using filesystem result store", slog.String("dir", cfg.Storage.ResultDir))
		return resultstore.NewFileStore(cfg.Storage.ResultDir, logger)
	}
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(cfg *config.Config, logger *slog.Logger, p *pipeline.Pipeline, statsStore handler.StatsStore, readiness map[string]handler.ReadinessCheck) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Initialize handler dependencies
	handlerDeps := &handler.Dependencies{
		Logger:   logger,
		Pipeline: p,
		Stats:    statsStore,
		Limits: handler.UploadLimits{
			AllowedImageExtensions: cfg.Media.AllowedImageExtensions,
			AllowedVideoExtensions: cfg.Media.AllowedVideoExtensions,
			MaxImages:              cfg.Media.MaxImages,
			MaxImageBytes:          cfg.Media.MaxImageBytes(),
			MaxVideoBytes:          cfg.Media.MaxVideoBytes(),
		},
		VisitorCookieName:   cfg.Stats.VisitorCookieName,
		VisitorCookieMaxAge: cfg.Stats.VisitorCookieMaxAge,
		Readiness:           readiness,
	}

	// Setup router
	return router.SetupRouter(handlerDeps, router.Options{
		Logger:            logger,
		AllowOrigins:      cfg.CORS.AllowOrigins,
		RateLimitEnabled:  cfg.RateLimit.Enabled,
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Burst:             cfg.RateLimit.Burst,
	})
}
