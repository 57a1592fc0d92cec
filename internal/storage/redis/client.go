package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tradehub/internal/model"
)

const (
	subsKeyPrefix   = "push:subs:"
	maxSubsPerUser  = 10
	subscriptionTTL = 30 * 24 * time.Hour
)

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

// Raw отдаёт go-redis клиент для pub/sub брокера realtime.
func (c *Client) Raw() *redis.Client { return c.cli }

func (c *Client) Close() error {
	return c.cli.Close()
}

// AddSubscription добавляет подписку в список push:subs:{user}; хранятся последние 10, TTL 30 дней.
func (c *Client) AddSubscription(ctx context.Context, userID string, sub model.PushSubscription) error {
	raw, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("encode subscription: %w", err)
	}
	if err := c.removeEndpoint(ctx, userID, sub.Endpoint); err != nil {
		return err
	}
	key := subsKeyPrefix + userID
	pipe := c.cli.Pipeline()
	pipe.RPush(ctx, key, string(raw))
	pipe.LTrim(ctx, key, -maxSubsPerUser, -1)
	pipe.Expire(ctx, key, subscriptionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis add subscription: %w", err)
	}
	return nil
}

func (c *Client) ListSubscriptions(ctx context.Context, userID string) ([]model.PushSubscription, error) {
	list, err := c.cli.LRange(ctx, subsKeyPrefix+userID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list subscriptions: %w", err)
	}
	out := make([]model.PushSubscription, 0, len(list))
	for _, item := range list {
		var sub model.PushSubscription
		if json.Unmarshal([]byte(item), &sub) == nil && sub.Endpoint != "" {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (c *Client) RemoveSubscription(ctx context.Context, userID, endpoint string) error {
	return c.removeEndpoint(ctx, userID, endpoint)
}

// removeEndpoint удаляет элементы списка с данным endpoint через LREM по исходной строке.
func (c *Client) removeEndpoint(ctx context.Context, userID, endpoint string) error {
	key := subsKeyPrefix + userID
	list, err := c.cli.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("redis list subscriptions: %w", err)
	}
	for _, item := range list {
		var sub model.PushSubscription
		if json.Unmarshal([]byte(item), &sub) != nil || sub.Endpoint == endpoint {
			if err := c.cli.LRem(ctx, key, 0, item).Err(); err != nil {
				return fmt.Errorf("redis remove subscription: %w", err)
			}
		}
	}
	return nil
}
