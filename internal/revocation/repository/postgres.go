package repository

import (
	"context"
	"time"

	"github.com/samber/oops"

	"session-authority/backend/internal/db"
)

// PostgresRepository stores ledger entries in revoked_tokens.
type PostgresRepository struct {
	pool db.Querier
}

// NewPostgresRepository returns a ledger backed by pool.
func NewPostgresRepository(pool db.Querier) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Add(ctx context.Context, jti string, expiresAt time.Time) (bool, error) {
	tag, err := db.QuerierFrom(ctx, r.pool).Exec(ctx,
		`INSERT INTO revoked_tokens (jti, expires_at) VALUES ($1, $2) ON CONFLICT (jti) DO NOTHING`,
		jti, expiresAt)
	if err != nil {
		return false, oops.In("revocation_repository").With("jti", jti).Wrapf(err, "add revoked token")
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresRepository) IsRevoked(ctx context.Context, jti string) (bool, error) {
	var exists bool
	err := db.QuerierFrom(ctx, r.pool).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM revoked_tokens WHERE jti = $1)`, jti).Scan(&exists)
	if err != nil {
		return false, oops.In("revocation_repository").With("jti", jti).Wrapf(err, "check revoked token")
	}
	return exists, nil
}

func (r *PostgresRepository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := db.QuerierFrom(ctx, r.pool).Exec(ctx, `DELETE FROM revoked_tokens WHERE expires_at < $1`, now)
	if err != nil {
		return 0, oops.In("revocation_repository").Wrapf(err, "purge expired revoked tokens")
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresRepository) PurgeRevokedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := db.QuerierFrom(ctx, r.pool).Exec(ctx, `DELETE FROM revoked_tokens WHERE revoked_at < $1`, cutoff)
	if err != nil {
		return 0, oops.In("revocation_repository").Wrapf(err, "purge old revoked tokens")
	}
	return tag.RowsAffected(), nil
}
