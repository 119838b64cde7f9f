package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/robertarktes/tigertix/internal/domain"
)

const (
	eventsAllKey       = "events:all"
	eventsAvailableKey = "events:available"
	eventsVersionKey   = "events:version"
)

// Cache holds short-lived event listings. Purchases and event creation
// invalidate it and bump a version counter. A listing read from the store is
// only cached when the version has not moved since the read began, so a read
// that raced an invalidation cannot repopulate the cache with stale data.
type Cache struct {
	client *redis.Client
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Client() *redis.Client {
	return c.client
}

func eventsKey(filter domain.EventFilter) string {
	if filter.OnlyAvailable {
		return eventsAvailableKey
	}
	return eventsAllKey
}

// GetEvents returns ok=false on a miss.
func (c *Cache) GetEvents(ctx context.Context, filter domain.EventFilter) ([]domain.Event, bool, error) {
	val, err := c.client.Get(ctx, eventsKey(filter)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "get cached events")
	}
	var events []domain.Event
	if err := json.Unmarshal(val, &events); err != nil {
		return nil, false, errors.Wrap(err, "decode cached events")
	}
	return events, true, nil
}

// EventsVersion returns the current listing version. Capture it before
// reading from the store and pass it to SetEvents.
func (c *Cache) EventsVersion(ctx context.Context) (int64, error) {
	v, err := c.client.Get(ctx, eventsVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "get events version")
	}
	return v, nil
}

// SetEvents caches events unless the listing version changed since version
// was read. stored reports whether the write happened.
func (c *Cache) SetEvents(ctx context.Context, filter domain.EventFilter, events []domain.Event, ttl time.Duration, version int64) (stored bool, err error) {
	data, err := json.Marshal(events)
	if err != nil {
		return false, errors.Wrap(err, "encode events")
	}
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, eventsVersionKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != version {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, eventsKey(filter), data, ttl)
			return nil
		})
		if err == nil {
			stored = true
		}
		return err
	}, eventsVersionKey)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	return stored, errors.Wrap(err, "cache events")
}

func (c *Cache) InvalidateEvents(ctx context.Context) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, eventsVersionKey)
		pipe.Del(ctx, eventsAllKey, eventsAvailableKey)
		return nil
	})
	return errors.Wrap(err, "invalidate events")
}
