package auth

import (
	"context"
	"time"
)

// Revoker keeps the list of logged-out token IDs until they expire.
type Revoker interface {
	Revoke(ctx context.Context, jti string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
	// Purge drops entries whose tokens have expired and returns how many.
	Purge(ctx context.Context) (int64, error)
}
