package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/face-blur/internal/broker"
	"github.com/cuongbtq/face-blur/internal/domain"
)

// TaskPipeline is the part of the task state machine a worker drives
type TaskPipeline interface {
	Claim(ctx context.Context, id, workerID string) (*domain.Task, error)
	Renew(ctx context.Context, id, workerID string) error
	Release(ctx context.Context, id, workerID string) error
	Start(ctx context.Context, id, workerID string) error
	Persist(ctx context.Context, id, workerID string, a *domain.Artifact) error
	Succeed(ctx context.Context, id, workerID, outputRef string) error
	Fail(ctx context.Context, id, workerID, code, message string) error
	HasArtifact(ctx context.Context, id string) (bool, error)
	RequeueExpired(ctx context.Context) (int, error)
	LeaseDuration() time.Duration
}

// MediaProcessor turns staged inputs into an artifact
type MediaProcessor interface {
	ProcessImages(ctx context.Context, inputs []domain.InputRef) (*domain.Artifact, error)
	ProcessVideo(ctx context.Context, input domain.InputRef, opts domain.TaskOptions) (*domain.Artifact, error)
}

// Config holds worker configuration
type Config struct {
	Logger            *slog.Logger
	Broker            broker.Broker
	Pipeline          TaskPipeline
	Media             MediaProcessor
	WorkerID          string
	Concurrency       int
	JobTimeout        time.Duration
	HeartbeatInterval time.Duration
	ReapInterval      time.Duration
	ReconnectDelay    time.Duration
}

// job is one dispatched delivery
type job struct {
	msg      domain.TaskMessage
	delivery broker.Delivery
}

// Worker consumes task messages and processes them on a fixed goroutine pool
type Worker struct {
	logger            *slog.Logger
	broker            broker.Broker
	pipeline          TaskPipeline
	media             MediaProcessor
	workerID          string
	concurrency       int
	jobTimeout        time.Duration
	heartbeatInterval time.Duration
	reapInterval      time.Duration
	reconnectDelay    time.Duration
	jobsChan          chan *job
	wg                sync.WaitGroup
	stopChan          chan struct{}
	stopOnce          sync.Once
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	w := &Worker{
		logger:            logger.With(slog.String("worker_id", cfg.WorkerID)),
		broker:            cfg.Broker,
		pipeline:          cfg.Pipeline,
		media:             cfg.Media,
		workerID:          cfg.WorkerID,
		concurrency:       cfg.Concurrency,
		jobTimeout:        cfg.JobTimeout,
		heartbeatInterval: cfg.HeartbeatInterval,
		reapInterval:      cfg.ReapInterval,
		reconnectDelay:    cfg.ReconnectDelay,
		stopChan:          make(chan struct{}),
	}
	if w.concurrency <= 0 {
		w.concurrency = 1
	}
	if w.jobTimeout <= 0 {
		w.jobTimeout = 10 * time.Minute
	}
	if w.heartbeatInterval <= 0 {
		w.heartbeatInterval = cfg.Pipeline.LeaseDuration() / 3
	}
	if w.reconnectDelay <= 0 {
		w.reconnectDelay = 5 * time.Second
	}
	w.jobsChan = make(chan *job, w.concurrency)
	return w
}

// Start consumes and processes tasks until ctx is canceled. A dropped delivery
// channel is re-subscribed after the reconnect delay.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
		slog.Duration("heartbeat_interval", w.heartbeatInterval),
	)

	deliveries, err := w.setupConsumer(ctx)
	if err != nil {
		return err
	}

	w.spawnWorkerPool(ctx)
	if w.reapInterval > 0 {
		w.wg.Add(1)
		go w.runLeaseReaper(ctx)
	}

	for {
		w.startMessageDispatcher(ctx, deliveries)
		if ctx.Err() != nil {
			w.logger.Info("Worker context canceled, stopping...")
			return nil
		}

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(w.reconnectDelay):
			}
			deliveries, err = w.setupConsumer(ctx)
			if err == nil {
				break
			}
			w.logger.Warn("Failed to resubscribe, retrying",
				slog.String("error", err.Error()),
				slog.Duration("delay", w.reconnectDelay),
			)
		}
	}
}

// Stop gracefully stops the worker
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	w.stopOnce.Do(func() { close(w.stopChan) })
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}

// runLeaseReaper returns tasks whose holder stopped renewing to the queue
func (w *Worker) runLeaseReaper(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-ticker.C:
			n, err := w.pipeline.RequeueExpired(ctx)
			if err != nil {
				w.logger.Warn("Lease reaper failed", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				w.logger.Info("Lease reaper requeued tasks", slog.Int("count", n))
			}
		}
	}
}
