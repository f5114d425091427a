package broker

import (
	"context"
	"sync"

	"github.com/cuongbtq/face-blur/internal/domain"
)

// Memory is an in-process broker with at-least-once redelivery on Nack(requeue)
type Memory struct {
	mu        sync.Mutex
	queue     chan []byte
	consumers int
	nextTag   uint64
	closed    bool
	failWith  error
}

func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Memory{queue: make(chan []byte, capacity)}
}

// FailPublish makes subsequent publishes and inspections fail with err; nil restores
func (m *Memory) FailPublish(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

func (m *Memory) Publish(ctx context.Context, msg domain.TaskMessage) error {
	m.mu.Lock()
	err := m.failWith
	closed := m.closed
	m.mu.Unlock()
	if err != nil {
		return err
	}
	if closed {
		return domain.ErrBrokerUnavailable
	}

	body, err := encode(msg)
	if err != nil {
		return err
	}
	select {
	case m.queue <- body:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Memory) Consume(ctx context.Context, consumerTag string) (<-chan Delivery, error) {
	m.mu.Lock()
	m.consumers++
	m.mu.Unlock()

	out := make(chan Delivery)
	go func() {
		defer close(out)
		defer func() {
			m.mu.Lock()
			m.consumers--
			m.mu.Unlock()
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case body := <-m.queue:
				d := m.delivery(body)
				select {
				case out <- d:
				case <-ctx.Done():
					m.queue <- body
					return
				}
			}
		}
	}()
	return out, nil
}

func (m *Memory) delivery(body []byte) Delivery {
	m.mu.Lock()
	m.nextTag++
	tag := m.nextTag
	m.mu.Unlock()

	return Delivery{
		Body: body,
		Tag:  tag,
		ack:  func() error { return nil },
		nack: func(requeue bool) error {
			if requeue {
				m.queue <- body
			}
			return nil
		},
	}
}

func (m *Memory) Inspect(context.Context) domain.QueueSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return domain.QueueSnapshot{Available: false, Reason: m.failWith.Error()}
	}
	return domain.QueueSnapshot{
		QueuedCount:       len(m.queue),
		ActiveWorkerCount: m.consumers,
		Available:         true,
	}
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
