// Package directory resolves a recipient to its connected payout account.
package directory

import (
	"context"
	"errors"
	"time"

	"sadaqah/pkg/cache"
	"sadaqah/pkg/logger"
)

const keyPrefix = "recipient:account:"

// Cached fronts a RecipientDirectory with redis. Only bindings are cached, so a
// recipient that onboards is visible as soon as its row exists.
type Cached struct {
	next   Directory
	cache  Cache
	ttl    time.Duration
	logger logger.Logger
}

func NewCached(next Directory, c Cache, ttl time.Duration, log logger.Logger) *Cached {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Cached{next: next, cache: c, ttl: ttl, logger: log}
}

type entry struct {
	AccountID string `json:"account_id"`
}

// Lookup serves from cache when possible. Cache failures fall through to the
// underlying directory.
func (c *Cached) Lookup(ctx context.Context, recipientID string) (string, bool, error) {
	var e entry
	err := c.cache.Get(ctx, keyPrefix+recipientID, &e)
	if err == nil && e.AccountID != "" {
		return e.AccountID, true, nil
	}
	if err != nil && !errors.Is(err, cache.ErrMiss) {
		c.logger.Warn("Recipient cache read failed", map[string]interface{}{"recipient_id": recipientID, "error": err})
	}

	accountID, found, err := c.next.Lookup(ctx, recipientID)
	if err != nil || !found {
		return accountID, found, err
	}

	if err := c.cache.Set(ctx, keyPrefix+recipientID, entry{AccountID: accountID}, c.ttl); err != nil {
		c.logger.Warn("Recipient cache write failed", map[string]interface{}{"recipient_id": recipientID, "error": err})
	}
	return accountID, true, nil
}

func (c *Cached) Invalidate(ctx context.Context, recipientID string) error {
	return c.cache.Delete(ctx, keyPrefix+recipientID)
}

type Directory interface {
	Lookup(ctx context.Context, recipientID string) (string, bool, error)
}

// Cache is satisfied by *cache.RedisCache.
type Cache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Delete(ctx context.Context, key string) error
}
