package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/koios/signage-sync/internal/config"
	"github.com/koios/signage-sync/pkg/models"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// ResultQueueName is the durable queue a screen's render results land in.
func ResultQueueName(screenID string) string {
	return fmt.Sprintf("signage.%s", screenID)
}

// Connection wraps the AMQP connection and channel and redials on demand
type Connection struct {
	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	config  config.AMQPConfig
	logger  *zap.Logger
}

// NewConnection dials the broker and declares the request topology
func NewConnection(cfg config.AMQPConfig, logger *zap.Logger) (*Connection, error) {
	c := &Connection{
		config: cfg,
		logger: logger,
	}
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

// connect dials and declares. The caller holds mu or owns c exclusively.
func (c *Connection) connect() error {
	cfg := c.config

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to AMQP: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	// Each consumer only holds PrefetchCount unacknowledged requests.
	if err := ch.Qos(cfg.PrefetchCount, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	err = ch.ExchangeDeclare(
		cfg.Exchange, // name
		"topic",      // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	_, err = ch.QueueDeclare(
		cfg.QueueName, // name
		true,          // durable
		false,         // delete when unused
		false,         // exclusive
		false,         // no-wait
		nil,           // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := ch.QueueBind(cfg.QueueName, cfg.RoutingKey, cfg.Exchange, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	c.conn = conn
	c.channel = ch

	c.logger.Info("Connected to AMQP broker",
		zap.String("exchange", cfg.Exchange),
		zap.String("queue", cfg.QueueName))
	return nil
}

// EnsureConnection redials when the connection or channel has gone away.
func (c *Connection) EnsureConnection() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && !c.conn.IsClosed() && c.channel != nil && !c.channel.IsClosed() {
		return nil
	}
	c.closeLocked()
	return c.connect()
}

// forceClose drops the current connection so the next EnsureConnection
// redials.
func (c *Connection) forceClose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Connection) closeLocked() {
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Connection) currentChannel() (*amqp.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel == nil {
		return nil, fmt.Errorf("amqp channel not open")
	}
	return c.channel, nil
}

// Close closes the AMQP connection and channel
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

// EnqueueRenderRequest publishes a render request to the request routing key.
func (c *Connection) EnqueueRenderRequest(ctx context.Context, req *models.RenderRequest) error {
	if err := c.EnsureConnection(); err != nil {
		return err
	}
	ch, err := c.currentChannel()
	if err != nil {
		return err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal render request: %w", err)
	}

	err = ch.PublishWithContext(ctx, c.config.Exchange, c.config.RoutingKey, false, false, amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: req.UUID,
		Body:          body,
		DeliveryMode:  amqp.Persistent,
	})
	if err != nil {
		return fmt.Errorf("failed to publish render request: %w", err)
	}

	c.logger.Debug("Enqueued render request",
		zap.String("screen_id", req.ScreenID),
		zap.String("mode", req.Mode))
	return nil
}

// PublishResult publishes a result message to the screen-specific queue
func (c *Connection) PublishResult(ctx context.Context, result *models.RenderResult) error {
	ch, err := c.currentChannel()
	if err != nil {
		return err
	}

	screenQueue := ResultQueueName(result.ScreenID)

	// Declaring is idempotent.
	_, err = ch.QueueDeclare(
		screenQueue, // name
		true,        // durable
		false,       // delete when unused
		false,       // exclusive
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare screen queue %s: %w", screenQueue, err)
	}

	if err := ch.QueueBind(screenQueue, result.ScreenID, c.config.Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind screen queue %s: %w", screenQueue, err)
	}

	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	err = ch.PublishWithContext(
		ctx,
		c.config.Exchange, // exchange
		result.ScreenID,   // routing key
		false,             // mandatory
		false,             // immediate
		amqp.Publishing{
			ContentType:   "application/json",
			CorrelationId: result.UUID,
			Body:          body,
			DeliveryMode:  amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish result: %w", err)
	}

	c.logger.Debug("Published result to screen queue",
		zap.String("screen_id", result.ScreenID),
		zap.String("queue", screenQueue))
	return nil
}
