package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const cacheVersionKey = "rbac:version"

// Cache holds resolved permission sets in Redis. Entries live at most one
// access-token lifetime, and any role or grant mutation bumps a global
// version so stale grants are never honored past the bump.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewCache instantiates the cache helper. A nil client disables caching;
// every lookup then falls through to the loader.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

type cachedEntry struct {
	Pairs [][2]string `json:"pairs"`
}

// Fetch returns the cached permission set for userID or populates it from
// the loader.
func (c *Cache) Fetch(ctx context.Context, userID int64, loader func(context.Context) (PermissionSet, error)) (PermissionSet, error) {
	if c == nil || c.client == nil {
		return loader(ctx)
	}

	key, err := c.buildKey(ctx, userID)
	if err != nil {
		return PermissionSet{}, err
	}

	// Concurrent requests for the same key share one load.
	v, err, _ := c.group.Do(key, func() (any, error) {
		payload, err := c.client.Get(ctx, key).Bytes()
		if err == nil {
			var entry cachedEntry
			if err := json.Unmarshal(payload, &entry); err == nil {
				return setFromPairs(entry.Pairs), nil
			}
			// Corrupt entry: fall through and repopulate.
		} else if !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("rbac: cache get: %w", err)
		}

		set, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(cachedEntry{Pairs: set.Pairs()})
		if err != nil {
			return nil, err
		}
		if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			return nil, fmt.Errorf("rbac: cache set: %w", err)
		}
		return set, nil
	})
	if err != nil {
		return PermissionSet{}, err
	}
	return v.(PermissionSet), nil
}

// Bump invalidates every cached set by incrementing the global version.
func (c *Cache) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, cacheVersionKey).Err()
}

func (c *Cache) buildKey(ctx context.Context, userID int64) (string, error) {
	ver, err := c.version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("rbac:perms:%d:%d", userID, ver), nil
}

func (c *Cache) version(ctx context.Context) (int64, error) {
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.Set(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("rbac: cache version: %w", err)
	}
	return ver, nil
}

func setFromPairs(pairs [][2]string) PermissionSet {
	perms := make([]Permission, 0, len(pairs))
	for _, pair := range pairs {
		perms = append(perms, Permission{Action: pair[0], Subject: pair[1]})
	}
	return NewPermissionSet(perms)
}
