package amqp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/koios/signage-sync/internal/metrics"
	"github.com/koios/signage-sync/pkg/models"
)

var errDeliveriesClosed = errors.New("delivery channel closed")

// EventHandler renders one request.
type EventHandler interface {
	Handle(ctx context.Context, event *models.RenderRequest) (*models.RenderResult, error)
}

// Consumer drains the request queue. At most PrefetchCount requests are
// rendered at once; the broker never hands out more than that unacked.
type Consumer struct {
	conn    *Connection
	handler EventHandler
	logger  *zap.Logger
}

// NewConsumer creates a new consumer
func NewConsumer(conn *Connection, handler EventHandler, logger *zap.Logger) *Consumer {
	return &Consumer{
		conn:    conn,
		handler: handler,
		logger:  logger,
	}
}

// backoff grows from 1s by half each step, capped at 30s.
type backoff struct {
	cur time.Duration
}

const (
	backoffStart = time.Second
	backoffMax   = 30 * time.Second
)

func (b *backoff) next() time.Duration {
	if b.cur == 0 {
		b.cur = backoffStart
	}
	d := b.cur
	b.cur = min(time.Duration(float64(b.cur)*1.5), backoffMax)
	return d
}

func (b *backoff) reset() { b.cur = 0 }

// Start consumes queueName until ctx is done. Lost sessions are redialed
// after a growing delay.
func (c *Consumer) Start(ctx context.Context, queueName string) error {
	var wait backoff
	attempt := 0

	for {
		err := c.session(ctx, queueName)
		if ctx.Err() != nil {
			c.logger.Info("AMQP consumer stopped")
			return ctx.Err()
		}
		if errors.Is(err, errDeliveriesClosed) {
			// The session was up; start the delay over.
			wait.reset()
			attempt = 0
		}

		attempt++
		delay := wait.next()
		c.logger.Error("Consumer session ended, will retry",
			zap.Error(err),
			zap.String("queue", queueName),
			zap.Int("attempt", attempt),
			zap.Duration("retry_delay", delay))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// session runs one Consume registration. It returns once the delivery
// channel closes or ctx ends, after every in-flight request has settled.
func (c *Consumer) session(ctx context.Context, queueName string) error {
	if err := c.conn.EnsureConnection(); err != nil {
		return fmt.Errorf("failed to ensure connection: %w", err)
	}
	ch, err := c.conn.currentChannel()
	if err != nil {
		return err
	}

	hostname, _ := os.Hostname()
	tag := fmt.Sprintf("signage-worker-%s-%d", hostname, time.Now().UnixNano())

	deliveries, err := ch.Consume(queueName, tag, false, false, false, false, nil)
	if err != nil {
		c.conn.forceClose()
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	slots := make(chan struct{}, max(c.conn.config.PrefetchCount, 1))
	var wg sync.WaitGroup
	defer wg.Wait()

	c.logger.Info("Consuming render requests",
		zap.String("queue", queueName),
		zap.String("consumer_tag", tag),
		zap.Int("parallel", cap(slots)))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errDeliveriesClosed
			}
			select {
			case slots <- struct{}{}:
			case <-ctx.Done():
				c.settle(d, "requeued", d.Nack(false, true))
				return ctx.Err()
			}
			wg.Add(1)
			go func() {
				defer func() { <-slots; wg.Done() }()
				c.deliver(ctx, d)
			}()
		}
	}
}

// deliver renders one delivery and publishes the result to the screen
// queue. Undecodable bodies are dropped. A render cut short by shutdown
// goes back on the queue.
func (c *Consumer) deliver(ctx context.Context, d amqp.Delivery) {
	req, err := models.DecodeRenderRequest(d.Body)
	if err != nil {
		c.logger.Error("Dropping undecodable render request",
			zap.Error(err),
			zap.String("correlation_id", d.CorrelationId))
		c.settle(d, "dropped", d.Nack(false, false))
		return
	}
	if req.UUID == "" {
		req.UUID = d.CorrelationId
	}

	log := c.logger.With(
		zap.String("uuid", req.UUID),
		zap.String("screen_id", req.ScreenID),
		zap.String("mode", req.Mode))

	result, err := c.handler.Handle(ctx, req)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		log.Info("Render interrupted by shutdown; requeueing")
		c.settle(d, "requeued", d.Nack(false, true))
		return
	}

	outcome := "ok"
	if err != nil {
		log.Error("Failed to handle render request", zap.Error(err))
		result = models.FailedResult(req, err)
		outcome = "failed"
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if perr := c.conn.PublishResult(pubCtx, result); perr != nil {
		log.Error("Failed to publish render result", zap.Error(perr))
		// A lost success is worth another render; a lost failure is not.
		if outcome == "ok" {
			c.settle(d, "requeued", d.Nack(false, true))
			return
		}
	}
	c.settle(d, outcome, d.Ack(false))
}

func (c *Consumer) settle(d amqp.Delivery, outcome string, err error) {
	if err != nil {
		c.logger.Error("Failed to settle delivery",
			zap.Error(err),
			zap.Uint64("delivery_tag", d.DeliveryTag),
			zap.String("outcome", outcome))
		return
	}
	metrics.RenderRequestsProcessed.WithLabelValues("amqp", outcome).Inc()
}
