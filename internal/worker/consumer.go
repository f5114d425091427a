package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/face-blur/internal/broker"
	"github.com/cuongbtq/face-blur/internal/domain"
	"github.com/cuongbtq/face-blur/internal/metrics"
	"github.com/google/uuid"
)

// setupConsumer subscribes to the broker and returns the delivery channel
func (w *Worker) setupConsumer(ctx context.Context) (<-chan broker.Delivery, error) {
	deliveries, err := w.broker.Consume(ctx, w.workerID)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	w.logger.Info("Broker consumer started",
		slog.String("consumer_tag", w.workerID),
	)
	return deliveries, nil
}

// startMessageDispatcher hands valid deliveries to the worker pool.
// It returns when ctx is canceled or the delivery channel closes.
func (w *Worker) startMessageDispatcher(ctx context.Context, deliveries <-chan broker.Delivery) {
	w.logger.Info("Message dispatcher started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Message dispatcher stopped", slog.String("reason", "context canceled"))
			return

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("Broker delivery channel closed")
				return
			}

			msg, err := decodeTask(delivery)
			if err != nil {
				w.reject(delivery, err)
				continue
			}

			select {
			case w.jobsChan <- &job{msg: msg, delivery: delivery}:
				w.logger.Debug("Task dispatched to worker pool",
					slog.String("task_id", msg.TaskID),
					slog.Uint64("delivery_tag", msg.DeliveryTag),
				)
			case <-ctx.Done():
				// nobody picked it up; let another consumer have it
				if nackErr := delivery.Nack(true); nackErr != nil {
					w.logger.Error("Failed to return message on shutdown",
						slog.String("task_id", msg.TaskID),
						slog.String("error", nackErr.Error()),
					)
				}
				return
			}
		}
	}
}

func decodeTask(delivery broker.Delivery) (domain.TaskMessage, error) {
	msg, err := delivery.Decode()
	if err != nil {
		return msg, err
	}
	if _, err := uuid.Parse(msg.TaskID); err != nil {
		return msg, fmt.Errorf("task_id %q is not a UUID: %w", msg.TaskID, err)
	}
	return msg, nil
}

// reject drops a message that can never name a task; it goes to the DLQ if one is bound
func (w *Worker) reject(delivery broker.Delivery, cause error) {
	metrics.DeliveriesTotal.WithLabelValues(string(settleDrop)).Inc()
	w.logger.Error("Rejecting malformed message",
		slog.String("error", cause.Error()),
		slog.String("body", string(delivery.Body)),
	)
	if nackErr := delivery.Nack(false); nackErr != nil {
		w.logger.Error("Failed to NACK malformed message",
			slog.String("error", nackErr.Error()),
		)
	}
}
