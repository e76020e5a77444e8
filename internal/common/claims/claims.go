// internal/common/claims/claims.go

// Package claims implements short-lived dispatch claims in Redis. The
// scheduler delivers sweep jobs at least once and overlapping sweeps may run
// concurrently; a claim lets exactly one invocation act on an entity before
// the terminal database write lands.
package claims

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Claimer struct {
	rdb *redis.Client
	ttl time.Duration
}

// DefaultTTL bounds how long a crashed invocation can hold a claim.
const DefaultTTL = 10 * time.Minute

func New(rdb *redis.Client, ttl time.Duration) *Claimer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Claimer{rdb: rdb, ttl: ttl}
}

// Acquire takes the claim for key. Returns false if another invocation
// already holds it.
func (c *Claimer) Acquire(ctx context.Context, key string) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire claim %s: %w", key, err)
	}
	return ok, nil
}

// Release drops the claim so the entity becomes eligible again, e.g. after a
// failed dispatch.
func (c *Claimer) Release(ctx context.Context, key string) error {
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("release claim %s: %w", key, err)
	}
	return nil
}

// RecoveryEmailKey is the claim for one recovery step of one cart.
func RecoveryEmailKey(cartID string, emailNumber int) string {
	return fmt.Sprintf("claim:recovery:%s:%d", cartID, emailNumber)
}

// BackInStockKey is the claim for fulfilling one stock alert.
func BackInStockKey(alertID string) string {
	return fmt.Sprintf("claim:backinstock:%s", alertID)
}
