package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cuongbtq/face-blur/internal/domain"
	"github.com/cuongbtq/face-blur/internal/metrics"
)

// errReleased marks a task handed back to the queue during shutdown
var errReleased = errors.New("task released on shutdown")

// processJob claims and processes a single task with timeout, heartbeat and a
// terminal status update. A nil return means the delivery can be acknowledged.
func (w *Worker) processJob(ctx context.Context, msg domain.TaskMessage) error {
	logger := w.logger.With(slog.String("task_id", msg.TaskID))

	// Step 1: Claim the task under a lease (QUEUED → CLAIMED)
	task, err := w.pipeline.Claim(ctx, msg.TaskID, w.workerID)
	if err != nil {
		if errors.Is(err, domain.ErrTaskAlreadyClaimed) || errors.Is(err, domain.ErrTaskTerminal) {
			logger.Info("Task already claimed or finished, skipping", slog.String("reason", err.Error()))
			return fmt.Errorf("task not claimable: %w", err)
		}
		logger.Error("Failed to claim task", slog.String("error", err.Error()))
		return fmt.Errorf("failed to claim task: %w", err)
	}

	// transitions after this point must survive shutdown cancellation
	finishCtx := context.WithoutCancel(ctx)

	// Step 2: A previous holder may have stored the artifact before losing the lease
	stored, err := w.pipeline.HasArtifact(ctx, task.ID)
	if err != nil {
		logger.Warn("Failed to check for existing artifact", slog.String("error", err.Error()))
	}
	if err := w.pipeline.Start(ctx, task.ID, w.workerID); err != nil {
		return fmt.Errorf("failed to start task: %w", err)
	}
	if stored {
		logger.Info("Artifact already stored, completing task")
		return w.pipeline.Succeed(finishCtx, task.ID, w.workerID, task.ID)
	}

	// Step 3: Create timeout context
	jobCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()

	// Step 4: Start heartbeat goroutine
	var leaseLost atomic.Bool
	heartbeatDone := make(chan struct{})
	go w.sendJobHeartbeat(jobCtx, task.ID, heartbeatDone, func() {
		leaseLost.Store(true)
		cancel()
	})
	defer close(heartbeatDone)

	// Step 5: Run the media pipeline
	started := time.Now()
	artifact, err := w.executeJob(jobCtx, task)
	elapsed := time.Since(started)

	// Step 6: Terminal transition
	switch {
	case leaseLost.Load():
		logger.Warn("Lease lost during processing, dropping result")
		return domain.ErrLeaseLost

	case err != nil && ctx.Err() != nil:
		if relErr := w.pipeline.Release(finishCtx, task.ID, w.workerID); relErr != nil {
			logger.Error("Failed to release task on shutdown", slog.String("error", relErr.Error()))
			return relErr
		}
		logger.Info("Task released on shutdown")
		return errReleased

	case err != nil:
		code, message := domain.ErrorCode(err), err.Error()
		if errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
			code, message = domain.CodeTimeout, fmt.Sprintf("processing exceeded %s", w.jobTimeout)
		}
		logger.Error("Task processing failed",
			slog.String("kind", string(task.Kind)),
			slog.String("code", code),
			slog.String("error", err.Error()),
		)

		if failErr := w.pipeline.Fail(finishCtx, task.ID, w.workerID, code, message); failErr != nil {
			logger.Error("Failed to mark task failed", slog.String("error", failErr.Error()))
			return failErr
		}
		observe(task.Kind, "failed", elapsed)
		return nil
	}

	if err := w.pipeline.Persist(finishCtx, task.ID, w.workerID, artifact); err != nil {
		if errors.Is(err, domain.ErrLeaseLost) || errors.Is(err, domain.ErrTaskTerminal) || errors.Is(err, domain.ErrUnknownTask) {
			logger.Warn("Task taken over before completion, dropping result", slog.String("error", err.Error()))
			return err
		}

		// a store failure is terminal; the lease reaper must not pick the task up again
		logger.Error("Failed to persist result", slog.String("error", err.Error()))
		if failErr := w.pipeline.Fail(finishCtx, task.ID, w.workerID, domain.ErrorCode(err), err.Error()); failErr != nil {
			logger.Error("Failed to mark task failed", slog.String("error", failErr.Error()))
			return failErr
		}
		observe(task.Kind, "failed", elapsed)
		return nil
	}

	observe(task.Kind, "succeeded", elapsed)
	logger.Info("Task completed successfully",
		slog.String("kind", string(task.Kind)),
		slog.String("filename", artifact.Filename),
		slog.Int("bytes", len(artifact.Data)),
		slog.Duration("elapsed", elapsed),
	)
	return nil
}

func observe(kind domain.TaskKind, status string, elapsed time.Duration) {
	metrics.TaskCompletedTotal.WithLabelValues(string(kind), status).Inc()
	metrics.TaskProcessingSeconds.WithLabelValues(string(kind), status).Observe(elapsed.Seconds())
}

// sendJobHeartbeat renews the lease until done is closed. onLost runs once
// when the lease is taken over by another worker.
func (w *Worker) sendJobHeartbeat(ctx context.Context, taskID string, done <-chan struct{}, onLost func()) {
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return

		case <-ctx.Done():
			return

		case <-ticker.C:
			err := w.pipeline.Renew(ctx, taskID, w.workerID)
			switch {
			case err == nil:
				w.logger.Debug("Task lease renewed", slog.String("task_id", taskID))
			case errors.Is(err, domain.ErrLeaseLost), errors.Is(err, domain.ErrTaskTerminal):
				w.logger.Warn("Task lease lost",
					slog.String("task_id", taskID),
					slog.String("error", err.Error()),
				)
				onLost()
				return
			default:
				w.logger.Warn("Failed to renew task lease",
					slog.String("task_id", taskID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// executeJob runs the processor for the task kind
func (w *Worker) executeJob(ctx context.Context, task *domain.Task) (*domain.Artifact, error) {
	switch task.Kind {
	case domain.TaskKindImageBatch:
		return w.media.ProcessImages(ctx, task.Inputs)
	case domain.TaskKindVideo:
		if len(task.Inputs) != 1 {
			return nil, fmt.Errorf("%w: video task has %d inputs", domain.ErrInvalidMedia, len(task.Inputs))
		}
		return w.media.ProcessVideo(ctx, task.Inputs[0], task.Options)
	default:
		return nil, fmt.Errorf("%w: unsupported task kind %q", domain.ErrInvalidMedia, task.Kind)
	}
}
