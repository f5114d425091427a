package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrNotConnected is returned when the client has no live channel
var ErrNotConnected = errors.New("not connected to RabbitMQ")

// Config holds RabbitMQ connection configuration
type Config struct {
	Host               string
	Port               int
	User               string
	Password           string
	VHost              string
	ExchangeName       string
	ExchangeType       string
	ExchangeDurable    bool
	QueueName          string
	QueueDurable       bool
	RoutingKey         string
	RetryAttempts      int
	RetryInterval      time.Duration
	Heartbeat          time.Duration
	PublishRetries     int
	PublishRetryDelay  time.Duration
	PublishBackoffMult float64
}

// Client represents a RabbitMQ client. Publishing is serialised on one channel.
type Client struct {
	config *Config
	logger *slog.Logger

	dialMu sync.Mutex

	mu        sync.Mutex
	conn      *amqp.Connection
	channel   *amqp.Channel
	connected bool
}

// NewClient dials RabbitMQ and declares the exchange, queue and binding
func NewClient(config *Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client := &Client{config: config, logger: logger}

	if err := client.connect(max(1, config.RetryAttempts)); err != nil {
		return nil, fmt.Errorf("failed to create RabbitMQ client: %w", err)
	}
	return client, nil
}

func (c *Client) url() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d%s",
		c.config.User,
		c.config.Password,
		c.config.Host,
		c.config.Port,
		c.config.VHost,
	)
}

// connect establishes connection to RabbitMQ with retry logic
func (c *Client) connect(attempts int) error {
	amqpConfig := amqp.Config{
		Heartbeat: c.config.Heartbeat,
		Locale:    "en_US",
	}

	var (
		conn *amqp.Connection
		err  error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		c.logger.Info("Connecting to RabbitMQ",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
		)

		conn, err = amqp.DialConfig(c.url(), amqpConfig)
		if err == nil {
			break
		}

		c.logger.Error("Failed to connect to RabbitMQ",
			slog.Any("error", err),
			slog.Int("attempt", attempt),
		)
		if attempt < attempts {
			time.Sleep(c.config.RetryInterval)
		}
	}
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", attempts, err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create channel: %w", err)
	}

	if err := c.setup(channel); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("failed to setup exchange and queue: %w", err)
	}

	closed := channel.NotifyClose(make(chan *amqp.Error, 1))

	c.mu.Lock()
	if c.conn != nil && !c.conn.IsClosed() {
		_ = c.conn.Close()
	}
	c.conn = conn
	c.channel = channel
	c.connected = true
	c.mu.Unlock()

	go c.watch(closed)

	c.logger.Info("RabbitMQ client initialized",
		slog.String("exchange", c.config.ExchangeName),
		slog.String("queue", c.config.QueueName),
	)
	return nil
}

// watch marks the client disconnected once the channel closes
func (c *Client) watch(closed <-chan *amqp.Error) {
	err, ok := <-closed
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	if ok && err != nil {
		c.logger.Warn("RabbitMQ channel closed", slog.String("error", err.Error()))
	}
}

// setup declares exchange, queue, and bindings
func (c *Client) setup(ch *amqp.Channel) error {
	err := ch.ExchangeDeclare(
		c.config.ExchangeName,    // name
		c.config.ExchangeType,    // type
		c.config.ExchangeDurable, // durable
		false,                    // auto-deleted
		false,                    // internal
		false,                    // no-wait
		nil,                      // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	_, err = ch.QueueDeclare(
		c.config.QueueName,    // name
		c.config.QueueDurable, // durable
		false,                 // auto-delete
		false,                 // exclusive
		false,                 // no-wait
		nil,                   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	err = ch.QueueBind(
		c.config.QueueName,    // queue name
		c.config.RoutingKey,   // routing key
		c.config.ExchangeName, // exchange
		false,                 // no-wait
		nil,                   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}
	return nil
}

// ensureConnected redials once when the previous channel was lost
func (c *Client) ensureConnected() error {
	if c.IsConnected() {
		return nil
	}

	c.dialMu.Lock()
	defer c.dialMu.Unlock()
	if c.IsConnected() {
		return nil
	}

	c.logger.Info("Reconnecting to RabbitMQ")
	if err := c.connect(1); err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	return nil
}

func (c *Client) publish(ctx context.Context, body []byte, contentType string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return ErrNotConnected
	}
	return c.channel.PublishWithContext(
		ctx,
		c.config.ExchangeName, // exchange
		c.config.RoutingKey,   // routing key
		false,                 // mandatory
		false,                 // immediate
		amqp.Publishing{
			ContentType:  contentType,
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
}

// PublishWithRetry publishes a message with exponential backoff between attempts
func (c *Client) PublishWithRetry(ctx context.Context, body []byte, contentType string) error {
	if err := c.ensureConnected(); err != nil {
		return err
	}

	maxRetries := c.config.PublishRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	delay := c.config.PublishRetryDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	mult := c.config.PublishBackoffMult
	if mult <= 1 {
		mult = 2.0
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := c.publish(ctx, body, contentType)
		if err == nil {
			c.logger.Debug("Message published to RabbitMQ",
				slog.Int("attempt", attempt+1),
				slog.Int("body_size", len(body)),
			)
			return nil
		}
		lastErr = err

		if attempt == maxRetries {
			break
		}
		c.logger.Warn("Failed to publish message to RabbitMQ, retrying...",
			slog.Int("attempt", attempt+1),
			slog.Int("max_retries", maxRetries),
			slog.Duration("retry_after", delay),
			slog.Any("error", err),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * mult)
	}

	c.logger.Error("Failed to publish message to RabbitMQ after all retries",
		slog.Int("attempts", maxRetries+1),
		slog.Any("error", lastErr),
	)
	return fmt.Errorf("failed to publish message after %d attempts: %w", maxRetries+1, lastErr)
}

// Consume starts manual-ack consumption with the given prefetch window
func (c *Client) Consume(consumerTag string, prefetch int) (<-chan amqp.Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil, ErrNotConnected
	}

	if prefetch > 0 {
		if err := c.channel.Qos(prefetch, 0, false); err != nil {
			return nil, fmt.Errorf("failed to set QoS: %w", err)
		}
	}

	messages, err := c.channel.Consume(
		c.config.QueueName, // queue
		consumerTag,        // consumer tag
		false,              // auto-ack
		false,              // exclusive
		false,              // no-local
		false,              // no-wait
		nil,                // args
	)
	if err != nil {
		return nil, fmt.Errorf("failed to consume messages: %w", err)
	}

	c.logger.Info("Started consuming messages from RabbitMQ",
		slog.String("queue", c.config.QueueName),
		slog.String("consumer_tag", consumerTag),
	)
	return messages, nil
}

// Inspect reports the queue depth and consumer count with a passive declare.
// A failed passive declare closes its channel, so it runs on a throwaway one.
func (c *Client) Inspect() (messages, consumers int, err error) {
	if err := c.ensureConnected(); err != nil {
		return 0, 0, err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	ch, err := conn.Channel()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to open inspect channel: %w", err)
	}
	defer ch.Close()

	q, err := ch.QueueDeclarePassive(c.config.QueueName, c.config.QueueDurable, false, false, false, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to inspect queue: %w", err)
	}
	return q.Messages, q.Consumers, nil
}

// Close closes the RabbitMQ connection
func (c *Client) Close() error {
	c.logger.Info("Closing RabbitMQ connection")

	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false

	if c.channel != nil {
		if err := c.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			c.logger.Error("Failed to close RabbitMQ channel",
				slog.Any("error", err),
			)
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			return err
		}
	}
	return nil
}

// IsConnected returns the connection status
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && c.conn != nil && !c.conn.IsClosed()
}
