// Package kvstore is the shared Redis-backed key/value layer used by
// the session manager, the tool registry cache, and the coordinator's
// agent-memory routes: namespace-prefixed keys, a connection ping at
// construction time, and a thin method set over go-redis/v8.
package kvstore

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/itsneelabh/hybrid-coordinator/apperrors"
	"github.com/itsneelabh/hybrid-coordinator/logging"
)

// Client is a namespaced wrapper over a go-redis client.
type Client struct {
	rdb       *redis.Client
	namespace string
	logger    logging.Logger
}

// Options configures a Client.
type Options struct {
	RedisURL  string
	Namespace string
	Logger    logging.Logger
}

// New parses RedisURL, dials, and verifies connectivity with a bounded
// ping before returning.
func New(opts Options) (*Client, error) {
	if opts.RedisURL == "" {
		return nil, apperrors.Newf(apperrors.KindValidation, "redis URL is required")
	}
	redisOpt, err := redis.ParseURL(opts.RedisURL)
	if err != nil {
		return nil, apperrors.New("kvstore.New", apperrors.KindValidation, err)
	}
	rdb := redis.NewClient(redisOpt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, apperrors.New("kvstore.New", apperrors.KindUpstreamError, err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	if cal, ok := logger.(logging.ComponentAwareLogger); ok {
		logger = cal.WithComponent("kvstore/redis")
	}

	return &Client{rdb: rdb, namespace: opts.Namespace, logger: logger}, nil
}

func (c *Client) key(k string) string {
	if c.namespace == "" {
		return k
	}
	return fmt.Sprintf("%s:%s", c.namespace, k)
}

func (c *Client) Close() error { return c.rdb.Close() }

func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := c.rdb.Get(ctx, c.key(key)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperrors.New("kvstore.Get", apperrors.KindUpstreamError, err)
	}
	return v, true, nil
}

func (c *Client) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, c.key(key), value, ttl).Err(); err != nil {
		return apperrors.New("kvstore.Set", apperrors.KindUpstreamError, err)
	}
	return nil
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	namespaced := make([]string, len(keys))
	for i, k := range keys {
		namespaced[i] = c.key(k)
	}
	if err := c.rdb.Del(ctx, namespaced...).Err(); err != nil {
		return apperrors.New("kvstore.Del", apperrors.KindUpstreamError, err)
	}
	return nil
}

func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := c.rdb.Expire(ctx, c.key(key), ttl).Err(); err != nil {
		return apperrors.New("kvstore.Expire", apperrors.KindUpstreamError, err)
	}
	return nil
}

// HSet/HGetAll write and read a whole hash stored at key.
func (c *Client) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	if err := c.rdb.HSet(ctx, c.key(key), values).Err(); err != nil {
		return apperrors.New("kvstore.HSet", apperrors.KindUpstreamError, err)
	}
	return nil
}

func (c *Client) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	v, err := c.rdb.HGetAll(ctx, c.key(key)).Result()
	if err != nil {
		return nil, apperrors.New("kvstore.HGetAll", apperrors.KindUpstreamError, err)
	}
	return v, nil
}

// Scan lists keys in the namespace matching pattern, used by the tool
// registry's warm-cache hydration sweep.
func (c *Client) Scan(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := c.rdb.Scan(ctx, cursor, c.key(pattern), 100).Result()
		if err != nil {
			return nil, apperrors.New("kvstore.Scan", apperrors.KindUpstreamError, err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return apperrors.New("kvstore.Ping", apperrors.KindUpstreamError, err)
	}
	return nil
}
