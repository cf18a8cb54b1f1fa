package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// BalanceCache keeps advisory per item on-hand snapshots in Redis. Postings
// never read it; they lock the projection rows instead.
type BalanceCache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewBalanceCache constructs the cache. A nil client disables caching.
func NewBalanceCache(client *redis.Client, ttl time.Duration) *BalanceCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &BalanceCache{client: client, ttl: ttl}
}

func onHandKey(itemID int64) string {
	return "scm:stock:onhand:" + strconv.FormatInt(itemID, 10)
}

// OnHand returns the cached snapshot for itemID, calling load on a miss.
// Concurrent misses for the same item share one load.
func (c *BalanceCache) OnHand(ctx context.Context, itemID int64, load func(context.Context) (ItemOnHand, error)) (ItemOnHand, error) {
	if c == nil || c.client == nil {
		return load(ctx)
	}
	key := onHandKey(itemID)
	raw, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var snap ItemOnHand
		if jsonErr := json.Unmarshal(raw, &snap); jsonErr == nil {
			return snap, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		return load(ctx)
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		snap, err := load(ctx)
		if err != nil {
			return ItemOnHand{}, err
		}
		if payload, err := json.Marshal(snap); err == nil {
			_ = c.client.Set(ctx, key, payload, c.ttl).Err()
		}
		return snap, nil
	})
	if err != nil {
		return ItemOnHand{}, err
	}
	return v.(ItemOnHand), nil
}

// InvalidateItems drops the snapshots of the given items.
func (c *BalanceCache) InvalidateItems(ctx context.Context, itemIDs ...int64) error {
	if c == nil || c.client == nil || len(itemIDs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(itemIDs))
	for _, id := range itemIDs {
		keys = append(keys, onHandKey(id))
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("ledger: invalidate cache: %w", err)
	}
	return nil
}
