// Package broker carries task wake-up messages between the API and the workers.
// Messages only hold a task id; the task record is the source of truth.
package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cuongbtq/face-blur/internal/domain"
)

// Broker publishes and delivers task messages
type Broker interface {
	Publish(ctx context.Context, msg domain.TaskMessage) error
	// Consume delivers messages until ctx is done or the broker connection drops
	Consume(ctx context.Context, consumerTag string) (<-chan Delivery, error)
	// Inspect never fails; an unreachable broker yields Available=false
	Inspect(ctx context.Context) domain.QueueSnapshot
	Close() error
}

// Delivery is one received message awaiting acknowledgement
type Delivery struct {
	Body []byte
	Tag  uint64

	ack  func() error
	nack func(requeue bool) error
}

func (d Delivery) Ack() error {
	if d.ack == nil {
		return nil
	}
	return d.ack()
}

func (d Delivery) Nack(requeue bool) error {
	if d.nack == nil {
		return nil
	}
	return d.nack(requeue)
}

// Decode parses the delivery body into a task message
func (d Delivery) Decode() (domain.TaskMessage, error) {
	var msg domain.TaskMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		return msg, fmt.Errorf("failed to parse message JSON: %w", err)
	}
	msg.DeliveryTag = d.Tag
	return msg, nil
}

func encode(msg domain.TaskMessage) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	return body, nil
}
