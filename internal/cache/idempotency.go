package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrInFlight is returned by Claim while another request holds the key.
var ErrInFlight = errors.New("idempotent request already in progress")

// Entry is a stored response replayed for a repeated Idempotency-Key.
type Entry struct {
	Status      int               `json:"status"`
	ContentType string            `json:"content_type"`
	Headers     map[string]string `json:"headers,omitempty"`
	Body        []byte            `json:"body"`
}

// IdempotencyCache stores serialized responses keyed by request id. A claim
// marker prevents a retried request from submitting a second GPU job while
// the first is still polling.
type IdempotencyCache struct {
	client   *redis.Client
	ttl      time.Duration
	claimTTL time.Duration
}

func NewIdempotencyCache(client *redis.Client, ttl, claimTTL time.Duration) *IdempotencyCache {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if claimTTL <= 0 {
		claimTTL = 15 * time.Minute
	}
	return &IdempotencyCache{client: client, ttl: ttl, claimTTL: claimTTL}
}

func (c *IdempotencyCache) Get(ctx context.Context, key string) (Entry, bool) {
	if c == nil || c.client == nil || key == "" {
		return Entry{}, false
	}
	data, err := c.client.Get(ctx, c.prefixed(key)).Bytes()
	if err != nil {
		return Entry{}, false
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return Entry{}, false
	}
	return entry, true
}

func (c *IdempotencyCache) Set(ctx context.Context, key string, entry Entry) {
	if c == nil || c.client == nil || key == "" || len(entry.Body) == 0 {
		return
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, c.prefixed(key), data, c.ttl)
	pipe.Del(ctx, c.claimKey(key))
	_, _ = pipe.Exec(ctx)
}

// Claim marks key as in flight. It returns ErrInFlight when another request
// already holds it.
func (c *IdempotencyCache) Claim(ctx context.Context, key string) error {
	if c == nil || c.client == nil || key == "" {
		return nil
	}
	ok, err := c.client.SetNX(ctx, c.claimKey(key), time.Now().UTC().Unix(), c.claimTTL).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrInFlight
	}
	return nil
}

// Release drops a claim without storing a response, so a failed request can be retried.
func (c *IdempotencyCache) Release(ctx context.Context, key string) {
	if c == nil || c.client == nil || key == "" {
		return
	}
	c.client.Del(ctx, c.claimKey(key))
}

func (c *IdempotencyCache) prefixed(key string) string {
	return "idem:" + key
}

func (c *IdempotencyCache) claimKey(key string) string {
	return "idem-claim:" + key
}
