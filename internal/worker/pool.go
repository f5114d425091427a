package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/face-blur/internal/domain"
	"github.com/cuongbtq/face-blur/internal/metrics"
)

type settlement string

const (
	settleAck     settlement = "ack"
	settleRequeue settlement = "requeue"
	settleDrop    settlement = "drop"
)

// spawnWorkerPool starts one processing goroutine per configured slot
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, fmt.Sprintf("%s-%d", w.workerID, i))
	}
}

func (w *Worker) workerLoop(ctx context.Context, slot string) {
	defer w.wg.Done()

	logger := w.logger.With(slog.String("worker_name", slot))
	logger.Debug("Worker goroutine started")

	for {
		select {
		case <-w.stopChan:
			logger.Debug("Worker goroutine stopping", slog.String("reason", "stopped"))
			return

		case <-ctx.Done():
			logger.Debug("Worker goroutine stopping", slog.String("reason", "context canceled"))
			return

		case j := <-w.jobsChan:
			jobLogger := logger.With(
				slog.String("task_id", j.msg.TaskID),
				slog.Uint64("delivery_tag", j.msg.DeliveryTag),
			)
			jobLogger.Info("Worker received task")

			w.settleDelivery(jobLogger, j, w.processJob(ctx, j.msg))
		}
	}
}

// settleDelivery acks, requeues or drops the delivery once processJob returns
func (w *Worker) settleDelivery(logger *slog.Logger, j *job, err error) {
	outcome := deliveryOutcome(err)
	metrics.DeliveriesTotal.WithLabelValues(string(outcome)).Inc()

	var settleErr error
	switch outcome {
	case settleAck:
		if err != nil {
			logger.Info("Task owned elsewhere, acknowledging wake-up", slog.String("reason", err.Error()))
		}
		settleErr = j.delivery.Ack()
	default:
		logger.Warn("Task not completed by this delivery",
			slog.String("error", err.Error()),
			slog.String("outcome", string(outcome)),
		)
		settleErr = j.delivery.Nack(outcome == settleRequeue)
	}

	if settleErr != nil {
		logger.Error("Failed to settle delivery",
			slog.String("outcome", string(outcome)),
			slog.String("error", settleErr.Error()),
		)
	}
}

// deliveryOutcome maps a processJob result onto the broker action.
// The task record owns the state, so a message for a task that is finished,
// held by another worker or already republished is acknowledged.
func deliveryOutcome(err error) settlement {
	switch {
	case err == nil,
		errors.Is(err, errReleased),
		errors.Is(err, domain.ErrTaskAlreadyClaimed),
		errors.Is(err, domain.ErrTaskTerminal),
		errors.Is(err, domain.ErrLeaseLost),
		errors.Is(err, domain.ErrUnknownTask):
		return settleAck
	}

	var retryableErr *domain.RetryableError
	if errors.As(err, &retryableErr) {
		return settleRequeue
	}
	return settleDrop
}

// shouldRequeueJob reports whether the delivery goes back on the queue
func (w *Worker) shouldRequeueJob(err error) bool {
	return deliveryOutcome(err) == settleRequeue
}
