package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/face-blur/internal/broker"
	"github.com/cuongbtq/face-blur/internal/config"
	"github.com/cuongbtq/face-blur/internal/detector"
	"github.com/cuongbtq/face-blur/internal/media"
	"github.com/cuongbtq/face-blur/internal/media/ffmpeg"
	"github.com/cuongbtq/face-blur/internal/pipeline"
	"github.com/cuongbtq/face-blur/internal/resultstore"
	"github.com/cuongbtq/face-blur/internal/staging"
	"github.com/cuongbtq/face-blur/internal/taskstore"
	"github.com/cuongbtq/face-blur/internal/worker"
	"github.com/cuongbtq/face-blur/shared/logger"
	"github.com/cuongbtq/face-blur/shared/postgresql"
	"github.com/cuongbtq/face-blur/shared/rabbitmq"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
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
	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging, &cfg.App)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	workerID := cfg.Worker.ID
	if workerID == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "worker"
		}
		workerID = fmt.Sprintf("%s-%d", host, os.Getpid())
	}

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("worker_id", workerID),
	)

	// Initialize PostgreSQL client
	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Component("postgres"))
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	appLogger.Info("Database connection established")

	// Initialize RabbitMQ client
	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Component("rabbitmq"))
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	appLogger.Info("RabbitMQ connection established")

	results, err := initResultStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize result store: %w", err)
	}

	area, err := staging.New(cfg.Storage.StagingDir)
	if err != nil {
		return fmt.Errorf("failed to initialize staging area: %w", err)
	}

	// Initialize the face detector and the video toolchain
	faces, err := detector.NewPigo(detector.PigoConfig{
		CascadePath:    cfg.Detector.CascadePath,
		MinSize:        cfg.Detector.MinSize,
		MaxSize:        cfg.Detector.MaxSize,
		ShiftFactor:    cfg.Detector.ShiftFactor,
		ScaleFactor:    cfg.Detector.ScaleFactor,
		IoUThreshold:   cfg.Detector.IoUThreshold,
		ScoreThreshold: cfg.Detector.ScoreThreshold,
		Padding:        cfg.Detector.Padding,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize detector: %w", err)
	}

	var codec media.VideoCodec
	ff := ffmpeg.New(ffmpeg.Config{
		FFmpegPath:   cfg.Video.FFmpegPath,
		FFprobePath:  cfg.Video.FFprobePath,
		Preset:       cfg.Video.Preset,
		CRF:          cfg.Video.CRF,
		AudioBitrate: cfg.Video.AudioBitrate,
	}, appLogger.Component("ffmpeg"))
	if err := ff.Available(); err != nil {
		appLogger.Warn("ffmpeg unavailable, video tasks will fail",
			slog.String("error", err.Error()),
		)
	} else {
		codec = ff
	}

	processor := media.NewProcessor(faces, codec, media.Config{
		JPEGQuality:      cfg.Media.JPEGQuality,
		WorkDir:          cfg.Video.WorkDir,
		ProgressInterval: cfg.Video.ProgressInterval,
	}, appLogger.Component("media"))

	taskBroker := broker.NewRabbitMQ(rabbitClient, cfg.RabbitMQ.Consumer.PrefetchCount,
		cfg.RabbitMQ.Publish.InspectTimeout, appLogger.Component("broker"))

	repo := taskstore.NewPostgres(dbClient.GetDB(), appLogger.Component("taskstore"))
	p := pipeline.New(repo, taskBroker, results, area, pipeline.Config{
		LeaseDuration: cfg.Worker.LeaseDuration,
	}, appLogger.Component("pipeline"))

	// Create worker instance
	workerInstance := worker.NewWorker(&worker.Config{
		Logger:            appLogger.Component("worker"),
		Broker:            taskBroker,
		Pipeline:          p,
		Media:             processor,
		WorkerID:          workerID,
		Concurrency:       cfg.Worker.Concurrency,
		JobTimeout:        cfg.Worker.JobTimeout,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
		ReapInterval:      cfg.Worker.ReapInterval,
		ReconnectDelay:    cfg.Worker.ReconnectDelay,
	})

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start worker in a goroutine
	errChan := make(chan error, 1)
	go func() {
		if err := workerInstance.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	appLogger.Info("Worker service started successfully",
		slog.Int("concurrency", cfg.Worker.Concurrency),
		slog.Duration("lease_duration", cfg.Worker.LeaseDuration),
	)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		appLogger.Error("Worker error",
			slog.Any("error", err),
		)
		return err
	}

	// Cancel context to stop worker; in-flight tasks are released back to the queue
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	// Stop worker
	done := make(chan struct{})
	go func() {
		workerInstance.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Worker stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	appLogger.Info("Worker service shutdown complete")
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
func initResultStore(cfg *config.Config) (resultstore.Store, error) {
	if cfg.Storage.Backend == config.StorageBackendRedis {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return resultstore.NewRedisStore(rdb, cfg.Redis.KeyPrefix), nil
	}
	return resultstore.NewFileStore(cfg.Storage.ResultDir, nil)
}
