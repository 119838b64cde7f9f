// Package idempotency caches completed POST responses by Idempotency-Key so a
// retried request is answered with the original bytes. The durable guarantee
// lives in the store's unique idempotency key; this cache only saves work.
package idempotency

import (
	"context"
	"time"

	redisadapter "github.com/robertarktes/tigertix/internal/adapters/redis"
)

const MinKeyLength = 16

// Backend is the response store, implemented by the redis adapter.
type Backend interface {
	Get(ctx context.Context, key string) (*redisadapter.IdempResponse, error)
	Set(ctx context.Context, key string, resp redisadapter.IdempResponse, ttl time.Duration) error
}

type Idempotency struct {
	redis Backend
	ttl   time.Duration
}

// NewIdempotency returns nil when redis is nil; a nil *Idempotency caches nothing.
func NewIdempotency(redis Backend, ttl time.Duration) *Idempotency {
	if redis == nil {
		return nil
	}
	return &Idempotency{redis: redis, ttl: ttl}
}

// Response is a cached reply. Fingerprint identifies the request body that
// produced it, so a key reused for a different request is not answered with it.
type Response struct {
	Status      int
	ContentType string
	Fingerprint string
	Result      []byte
}

func (i *Idempotency) Get(ctx context.Context, key string) (*Response, error) {
	if i == nil || key == "" {
		return nil, nil
	}
	cached, err := i.redis.Get(ctx, key)
	if err != nil || cached == nil {
		return nil, err
	}
	return &Response{
		Status:      cached.Status,
		ContentType: cached.ContentType,
		Fingerprint: cached.Fingerprint,
		Result:      cached.Result,
	}, nil
}

func (i *Idempotency) Set(ctx context.Context, key string, resp Response) error {
	if i == nil || key == "" {
		return nil
	}
	return i.redis.Set(ctx, key, redisadapter.IdempResponse{
		Status:      resp.Status,
		ContentType: resp.ContentType,
		Fingerprint: resp.Fingerprint,
		Result:      resp.Result,
	}, i.ttl)
}
