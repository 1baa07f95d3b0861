// Package cache keeps short-lived shared state in Redis so that several
// portal instances see the same logouts.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const revokedPrefix = "lostfound:revoked:"

// Revocations is a Redis-backed auth.Revoker. Entries expire with the token,
// so Purge has nothing to do.
type Revocations struct {
	rdb *redis.Client
}

// NewRevocations wraps a Redis client.
func NewRevocations(rdb *redis.Client) *Revocations {
	return &Revocations{rdb: rdb}
}

// Revoke implements auth.Revoker.
func (r *Revocations) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	if err := r.rdb.Set(ctx, revokedPrefix+jti, 1, ttl).Err(); err != nil {
		return fmt.Errorf("revoking token: %w", err)
	}
	return nil
}

// IsRevoked implements auth.Revoker.
func (r *Revocations) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := r.rdb.Exists(ctx, revokedPrefix+jti).Result()
	if err != nil {
		return false, fmt.Errorf("checking token revocation: %w", err)
	}
	return n > 0, nil
}

// Purge implements auth.Revoker.
func (r *Revocations) Purge(context.Context) (int64, error) {
	return 0, nil
}

// Ping checks the Redis connection.
func (r *Revocations) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// Close closes the Redis client.
func (r *Revocations) Close() error {
	return r.rdb.Close()
}
