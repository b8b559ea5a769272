package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/koios/signage-sync/internal/metrics"
	"github.com/koios/signage-sync/pkg/models"
)

const (
	readCount  = 10
	readBlock  = 5 * time.Second
	claimEvery = time.Minute
	retryDelay = 5 * time.Second

	// Slide generation for a large rotation can take minutes.
	defaultClaimIdle = 15 * time.Minute
)

// Handler processes one render request.
type Handler interface {
	Handle(ctx context.Context, req *models.RenderRequest) (*models.RenderResult, error)
}

// Consumer drains the render request stream one entry at a time. Requests
// for the same screen and mode that arrive in one read are coalesced: only
// the newest is rendered.
type Consumer struct {
	client    *Client
	handler   Handler
	claimIdle time.Duration
	logger    *zap.Logger
}

// NewConsumer creates a new Redis consumer
func NewConsumer(client *Client, handler Handler, logger *zap.Logger) *Consumer {
	return &Consumer{
		client:    client,
		handler:   handler,
		claimIdle: defaultClaimIdle,
		logger:    logger,
	}
}

// WithClaimIdle sets how long an entry must stay unacknowledged before
// another consumer takes it over.
func (c *Consumer) WithClaimIdle(d time.Duration) *Consumer {
	c.claimIdle = d
	return c
}

// Run consumes until ctx is cancelled. Read errors are retried after a
// pause; they never end the loop.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("Consuming render requests",
		zap.String("stream", StreamKey),
		zap.Duration("claim_idle", c.claimIdle))

	var lastClaim time.Time
	for ctx.Err() == nil {
		msgs, err := c.next(ctx, &lastClaim)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			c.logger.Error("Reading render requests failed, will retry",
				zap.Error(err),
				zap.Bool("redis_healthy", c.client.IsHealthy(ctx)),
				zap.Duration("retry_delay", retryDelay))
			select {
			case <-ctx.Done():
			case <-time.After(retryDelay):
			}
			continue
		}
		c.process(ctx, msgs)
	}

	c.logger.Info("Redis consumer stopped")
	return nil
}

// next returns reclaimed entries when a claim pass is due and finds any,
// otherwise the next batch of new entries.
func (c *Consumer) next(ctx context.Context, lastClaim *time.Time) ([]redis.XMessage, error) {
	if time.Since(*lastClaim) >= claimEvery {
		*lastClaim = time.Now()
		stale, err := c.client.ClaimStale(ctx, c.claimIdle, readCount)
		if err != nil {
			c.logger.Warn("Failed to reclaim stale render requests", zap.Error(err))
		} else if len(stale) > 0 {
			c.logger.Info("Reclaimed stale render requests", zap.Int("count", len(stale)))
			return stale, nil
		}
	}

	streams, err := c.client.ReadFromStream(ctx, readCount, readBlock)
	if err != nil {
		return nil, err
	}
	var msgs []redis.XMessage
	for _, s := range streams {
		msgs = append(msgs, s.Messages...)
	}
	return msgs, nil
}

type pendingRequest struct {
	id  string
	req *models.RenderRequest
}

// coalesce decodes msgs in stream order. It returns the requests to render,
// the ids of older duplicates they replace, and the ids of undecodable
// entries.
func coalesce(msgs []redis.XMessage) (keep []pendingRequest, superseded, dropped []string) {
	latest := make(map[string]int)
	for _, msg := range msgs {
		payload, _ := msg.Values["payload"].(string)
		req, err := models.DecodeRenderRequest([]byte(payload))
		if err != nil {
			dropped = append(dropped, msg.ID)
			continue
		}

		key := req.CoalesceKey()
		if i, ok := latest[key]; ok {
			superseded = append(superseded, keep[i].id)
			keep[i] = pendingRequest{id: msg.ID, req: req}
			continue
		}
		latest[key] = len(keep)
		keep = append(keep, pendingRequest{id: msg.ID, req: req})
	}
	return keep, superseded, dropped
}

func (c *Consumer) process(ctx context.Context, msgs []redis.XMessage) {
	keep, superseded, dropped := coalesce(msgs)

	for _, id := range dropped {
		c.logger.Error("Dropping undecodable render request", zap.String("message_id", id))
		metrics.RenderRequestsProcessed.WithLabelValues("redis", "dropped").Inc()
		c.ack(ctx, id)
	}
	for _, id := range superseded {
		c.logger.Debug("Render request superseded by a newer one", zap.String("message_id", id))
		metrics.RenderRequestsProcessed.WithLabelValues("redis", "superseded").Inc()
		c.ack(ctx, id)
	}
	for _, p := range keep {
		if ctx.Err() != nil {
			// Unread entries stay pending and are reclaimed later.
			return
		}
		c.handle(ctx, p.id, p.req)
	}
}

// handle renders one request and reports the result on the screen channel.
// The entry is acknowledged only once the result is published.
func (c *Consumer) handle(ctx context.Context, id string, req *models.RenderRequest) {
	log := c.logger.With(
		zap.String("message_id", id),
		zap.String("screen_id", req.ScreenID),
		zap.String("mode", req.Mode))

	result, err := c.handler.Handle(ctx, req)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		log.Info("Render interrupted by shutdown; leaving request pending")
		return
	}

	outcome := "ok"
	if err != nil {
		log.Error("Failed to handle render request", zap.Error(err))
		result = models.FailedResult(req, err)
		outcome = "failed"
	}

	if err := c.client.PublishRenderResult(ctx, result); err != nil {
		log.Error("Failed to publish render result; request stays pending", zap.Error(err))
		return
	}
	c.ack(ctx, id)
	metrics.RenderRequestsProcessed.WithLabelValues("redis", outcome).Inc()

	log.Debug("Render request processed", zap.Int("generated", result.Generated))
}

// ack survives cancellation of ctx so a published result is never redelivered
// because of shutdown.
func (c *Consumer) ack(ctx context.Context, id string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := c.client.AcknowledgeMessage(ctx, id); err != nil {
		c.logger.Error("Failed to acknowledge message",
			zap.Error(err),
			zap.String("message_id", id))
	}
}
