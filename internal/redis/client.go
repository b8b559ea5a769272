package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/koios/signage-sync/internal/config"
	"github.com/koios/signage-sync/pkg/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// StreamKey is the stream carrying render requests.
const StreamKey = "signage:render_requests"

// streamMaxLen caps the stream so an idle worker fleet cannot grow it forever.
const streamMaxLen = 10000

// ResultChannel is the pub/sub channel a screen's results are published to.
func ResultChannel(screenID string) string {
	return fmt.Sprintf("screen:%s", screenID)
}

// Client wraps the Redis client for stream and pub/sub operations
type Client struct {
	client *redis.Client
	config config.RedisConfig
	logger *zap.Logger
}

// NewClient creates a new Redis client
func NewClient(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (*Client, error) {
	if cfg.ConsumerName == "" {
		hostname, _ := os.Hostname()
		if hostname == "" {
			hostname = "unknown"
		}
		cfg.ConsumerName = fmt.Sprintf("%s-%d", hostname, time.Now().UnixNano())
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		PoolTimeout:  30 * time.Second,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	client := &Client{
		client: rdb,
		config: cfg,
		logger: logger,
	}

	logger.Info("Connected to Redis",
		zap.String("addr", cfg.Addr),
		zap.String("consumer_group", cfg.ConsumerGroup),
		zap.String("consumer_name", cfg.ConsumerName))

	if err := client.initializeConsumerGroup(ctx); err != nil {
		logger.Warn("Failed to initialize consumer group", zap.Error(err))
	}

	return client, nil
}

// Raw exposes the underlying client so other components can share the pool.
func (c *Client) Raw() *redis.Client {
	return c.client
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.client.Close()
}

// EnqueueRenderRequest appends a render request to the stream.
func (c *Client) EnqueueRenderRequest(ctx context.Context, req *models.RenderRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal render request: %w", err)
	}

	id, err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"payload": string(body)},
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to add render request to stream: %w", err)
	}

	c.logger.Debug("Enqueued render request",
		zap.String("message_id", id),
		zap.String("screen_id", req.ScreenID),
		zap.String("mode", req.Mode))
	return nil
}

// PublishRenderResult publishes a render result to the screen-specific channel
func (c *Client) PublishRenderResult(ctx context.Context, result *models.RenderResult) error {
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal render result: %w", err)
	}

	channel := ResultChannel(result.ScreenID)
	if err := c.client.Publish(ctx, channel, body).Err(); err != nil {
		return fmt.Errorf("failed to publish to Redis channel %s: %w", channel, err)
	}

	c.logger.Debug("Published render result",
		zap.String("channel", channel),
		zap.String("uuid", result.UUID),
		zap.Int("errors", len(result.Errors)))

	return nil
}

// SubscribeResults subscribes to the result channel of one screen.
func (c *Client) SubscribeResults(ctx context.Context, screenID string) *redis.PubSub {
	return c.client.Subscribe(ctx, ResultChannel(screenID))
}

// initializeConsumerGroup creates the consumer group, reading from the
// beginning of the stream.
func (c *Client) initializeConsumerGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, StreamKey, c.config.ConsumerGroup, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info("Consumer group initialized",
		zap.String("stream", StreamKey),
		zap.String("group", c.config.ConsumerGroup))

	return nil
}

// ReadFromStream reads undelivered messages for this consumer.
func (c *Client) ReadFromStream(ctx context.Context, count int64, block time.Duration) ([]redis.XStream, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.config.ConsumerGroup,
		Consumer: c.config.ConsumerName,
		Streams:  []string{StreamKey, ">"},
		Count:    count,
		Block:    block,
	}).Result()

	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to read from stream: %w", err)
	}

	return streams, nil
}

// AcknowledgeMessage acknowledges a message from the stream
func (c *Client) AcknowledgeMessage(ctx context.Context, messageID string) error {
	if err := c.client.XAck(ctx, StreamKey, c.config.ConsumerGroup, messageID).Err(); err != nil {
		return fmt.Errorf("failed to acknowledge message %s: %w", messageID, err)
	}
	return nil
}

// ClaimStale takes over up to count entries that another consumer read but
// has not acknowledged for at least minIdle.
func (c *Client) ClaimStale(ctx context.Context, minIdle time.Duration, count int64) ([]redis.XMessage, error) {
	msgs, _, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   StreamKey,
		Group:    c.config.ConsumerGroup,
		Consumer: c.config.ConsumerName,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    count,
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to claim stale messages: %w", err)
	}
	return msgs, nil
}

// IsHealthy checks if Redis connection is healthy
func (c *Client) IsHealthy(ctx context.Context) bool {
	return c.client.Ping(ctx).Err() == nil
}
