package memory

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client is a Cache backed by redis/go-redis/v9, namespaced under a key
// prefix the same way an auth server namespaces session keys.
type Client struct {
	rdb    *redis.Client
	prefix string
}

// NewClient dials a redis server at addr/db and returns a Client prefixed
// under "cortexmesh:mem:".
func NewClient(addr string, db int) *Client {
	return NewClientWithOptions(&redis.Options{Addr: addr, DB: db})
}

// NewClientWithOptions lets callers fully control the underlying
// redis.Options (TLS, auth, sentinel, ...).
func NewClientWithOptions(opts *redis.Options) *Client {
	return &Client{rdb: redis.NewClient(opts), prefix: "cortexmesh:mem:"}
}

// NewClientWithRedisClient wraps an already-constructed redis.Client,
// primarily for tests against a fake/mini redis server.
func NewClientWithRedisClient(rdb *redis.Client, prefix string) *Client {
	return &Client{rdb: rdb, prefix: prefix}
}

func (c *Client) key(k string) string { return c.prefix + k }

// Get returns (value, true, nil) on a hit, (nil, false, nil) on a miss,
// and (nil, false, err) on a transport error.
func (c *Client) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := c.rdb.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

func (c *Client) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, c.key(key), value, ttl).Err()
}

func (c *Client) Del(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, c.key(key)).Err()
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}
