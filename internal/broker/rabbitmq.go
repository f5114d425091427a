package broker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/face-blur/internal/domain"
	"github.com/cuongbtq/face-blur/shared/rabbitmq"
)

// RabbitMQ adapts the shared AMQP client to the Broker interface
type RabbitMQ struct {
	client   *rabbitmq.Client
	prefetch int
	// inspectTimeout bounds Inspect when positive
	inspectTimeout time.Duration
	logger         *slog.Logger
}

func NewRabbitMQ(client *rabbitmq.Client, prefetch int, inspectTimeout time.Duration, logger *slog.Logger) *RabbitMQ {
	if logger == nil {
		logger = slog.Default()
	}
	return &RabbitMQ{client: client, prefetch: prefetch, inspectTimeout: inspectTimeout, logger: logger}
}

func (r *RabbitMQ) Publish(ctx context.Context, msg domain.TaskMessage) error {
	body, err := encode(msg)
	if err != nil {
		return err
	}
	if err := r.client.PublishWithRetry(ctx, body, "application/json"); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrBrokerUnavailable, err)
	}
	return nil
}

func (r *RabbitMQ) Consume(ctx context.Context, consumerTag string) (<-chan Delivery, error) {
	deliveries, err := r.client.Consume(consumerTag, r.prefetch)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrBrokerUnavailable, err)
	}

	r.logger.Info("RabbitMQ consumer started",
		slog.String("consumer_tag", consumerTag),
		slog.Int("prefetch_count", r.prefetch))

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					r.logger.Warn("RabbitMQ delivery channel closed")
					return
				}
				delivery := Delivery{
					Body: d.Body,
					Tag:  d.DeliveryTag,
					ack:  func() error { return d.Ack(false) },
					nack: func(requeue bool) error { return d.Nack(false, requeue) },
				}
				select {
				case out <- delivery:
				case <-ctx.Done():
					_ = d.Nack(false, true)
					return
				}
			}
		}
	}()
	return out, nil
}

func (r *RabbitMQ) Inspect(ctx context.Context) domain.QueueSnapshot {
	if r.inspectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.inspectTimeout)
		defer cancel()
	}

	type result struct {
		messages, consumers int
		err                 error
	}
	done := make(chan result, 1)
	go func() {
		m, c, err := r.client.Inspect()
		done <- result{m, c, err}
	}()

	select {
	case <-ctx.Done():
		return domain.QueueSnapshot{Available: false, Reason: ctx.Err().Error()}
	case res := <-done:
		if res.err != nil {
			return domain.QueueSnapshot{Available: false, Reason: res.err.Error()}
		}
		return domain.QueueSnapshot{
			QueuedCount:       res.messages,
			ActiveWorkerCount: res.consumers,
			Available:         true,
		}
	}
}

func (r *RabbitMQ) Close() error {
	return r.client.Close()
}
