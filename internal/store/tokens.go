package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// RevokeToken adds a token's JTI to the revocation list.
func RevokeToken(ctx context.Context, db *sql.DB, jti string, expiresAt time.Time) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO revoked_tokens (jti, expires_at) VALUES (?, ?)`,
		jti, expiresAt.UTC(),
	)
	if err != nil && !isUniqueViolation(err) {
		return fmt.Errorf("revoking token: %w", err)
	}
	return nil
}

// IsTokenRevoked checks if a token's JTI has been revoked.
func IsTokenRevoked(ctx context.Context, db *sql.DB, jti string) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM revoked_tokens WHERE jti = ?`, jti,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking token revocation: %w", err)
	}
	return count > 0, nil
}

// PurgeExpiredTokens drops revocations for tokens that have expired anyway.
func PurgeExpiredTokens(ctx context.Context, db *sql.DB, now time.Time) (int64, error) {
	result, err := db.ExecContext(ctx,
		`DELETE FROM revoked_tokens WHERE expires_at < ?`, now.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("purging revoked tokens: %w", err)
	}
	return result.RowsAffected()
}

// Revocations is the database-backed token revocation list.
type Revocations struct {
	DB *sql.DB
}

// Revoke implements auth.Revoker.
func (r *Revocations) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	return RevokeToken(ctx, r.DB, jti, expiresAt)
}

// IsRevoked implements auth.Revoker.
func (r *Revocations) IsRevoked(ctx context.Context, jti string) (bool, error) {
	return IsTokenRevoked(ctx, r.DB, jti)
}

// Purge implements auth.Revoker.
func (r *Revocations) Purge(ctx context.Context) (int64, error) {
	return PurgeExpiredTokens(ctx, r.DB, time.Now())
}
