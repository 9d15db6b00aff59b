package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/research-agent/backend/internal/storage/kv"
	"github.com/research-agent/backend/pkg/logger"
)

type Client struct {
	client *redis.Client
}

var _ kv.Store = (*Client)(nil)

func NewClient(ctx context.Context, host string, port int, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client}, nil
}

// NewFromClient wraps an existing go-redis client.
func NewFromClient(client *redis.Client) *Client {
	return &Client{client: client}
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Client) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	values, err := c.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read hash %s: %w", key, err)
	}
	if len(values) == 0 {
		return nil, kv.ErrNotFound
	}
	return values, nil
}

func (c *Client) HSet(ctx context.Context, key string, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	if err := c.client.HSet(ctx, key, toArgs(values)).Err(); err != nil {
		return fmt.Errorf("failed to write hash %s: %w", key, err)
	}
	return nil
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete keys: %w", err)
	}
	return nil
}

func (c *Client) LPush(ctx context.Context, key string, values ...string) error {
	if len(values) == 0 {
		return nil
	}
	if err := c.client.LPush(ctx, key, toInterfaces(values)...).Err(); err != nil {
		return fmt.Errorf("failed to push to list %s: %w", key, err)
	}
	return nil
}

func (c *Client) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	values, err := c.client.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read list %s: %w", key, err)
	}
	return values, nil
}

func (c *Client) ZAdd(ctx context.Context, key string, score float64, member string) error {
	if err := c.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err(); err != nil {
		return fmt.Errorf("failed to add to sorted set %s: %w", key, err)
	}
	return nil
}

func (c *Client) ZRange(ctx context.Context, key string, start, stop int64, rev bool) ([]string, error) {
	cmd := c.client.ZRange(ctx, key, start, stop)
	if rev {
		cmd = c.client.ZRevRange(ctx, key, start, stop)
	}
	values, err := cmd.Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read sorted set %s: %w", key, err)
	}
	return values, nil
}

func (c *Client) ZRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	if err := c.client.ZRem(ctx, key, toInterfaces(members)...).Err(); err != nil {
		return fmt.Errorf("failed to remove from sorted set %s: %w", key, err)
	}
	return nil
}

func (c *Client) Pipeline(ctx context.Context, fn func(p kv.Pipe) error) error {
	_, err := c.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		return fn(&pipe{ctx: ctx, p: p})
	})
	if err != nil {
		return fmt.Errorf("failed to execute pipeline: %w", err)
	}
	return nil
}

type pipe struct {
	ctx context.Context
	p   redis.Pipeliner
}

func (p *pipe) HSet(key string, values map[string]string) {
	if len(values) > 0 {
		p.p.HSet(p.ctx, key, toArgs(values))
	}
}

func (p *pipe) Del(keys ...string) {
	if len(keys) > 0 {
		p.p.Del(p.ctx, keys...)
	}
}

func (p *pipe) LPush(key string, values ...string) {
	if len(values) > 0 {
		p.p.LPush(p.ctx, key, toInterfaces(values)...)
	}
}

func (p *pipe) ZAdd(key string, score float64, member string) {
	p.p.ZAdd(p.ctx, key, redis.Z{Score: score, Member: member})
}

func (p *pipe) ZRem(key string, members ...string) {
	if len(members) > 0 {
		p.p.ZRem(p.ctx, key, toInterfaces(members)...)
	}
}

func toArgs(values map[string]string) map[string]interface{} {
	args := make(map[string]interface{}, len(values))
	for k, v := range values {
		args[k] = v
	}
	return args
}

func toInterfaces(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
