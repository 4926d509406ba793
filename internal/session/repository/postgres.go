package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"session-authority/backend/internal/db"
	"session-authority/backend/internal/session/domain"
)

const sessionColumns = `jti, subject_id, subject_name, access_token_hash, refresh_token_hash,
	access_expires_at, refresh_expires_at, revoked, created_at`

// PostgresRepository stores sessions in the sessions table. Every method runs on the transaction
// bound to ctx when there is one.
type PostgresRepository struct {
	pool db.Querier
}

// NewPostgresRepository returns a session repository backed by pool.
func NewPostgresRepository(pool db.Querier) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) q(ctx context.Context) db.Querier {
	return db.QuerierFrom(ctx, r.pool)
}

// Create revokes any live row carrying s.JTI and inserts s. Callers wanting both statements to
// commit together run it inside a db.Transactor.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session) error {
	q := r.q(ctx)
	if _, err := q.Exec(ctx, `UPDATE sessions SET revoked = TRUE WHERE jti = $1 AND NOT revoked`, s.JTI); err != nil {
		return oops.In("session_repository").With("jti", s.JTI).Wrapf(err, "revoke prior session")
	}
	createdAt := s.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := q.Exec(ctx, `INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, $8)`,
		s.JTI, s.SubjectID, s.SubjectName, s.AccessTokenHash, s.RefreshTokenHash,
		s.AccessExpiresAt, s.RefreshExpiresAt, createdAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return ErrConflict
		}
		return oops.In("session_repository").With("jti", s.JTI).Wrapf(err, "insert session")
	}
	s.CreatedAt = createdAt
	s.Revoked = false
	return nil
}

func (r *PostgresRepository) FindValidByRefreshHash(ctx context.Context, hash string, now time.Time) (*domain.Session, error) {
	return r.findOne(ctx, `SELECT `+sessionColumns+` FROM sessions
		WHERE refresh_token_hash = $1 AND NOT revoked AND refresh_expires_at > $2
		ORDER BY created_at DESC LIMIT 1`, hash, now)
}

// FindValidByRefreshHashForUpdate locks the matching row. A concurrent caller blocks until the
// holder commits and then re-evaluates the predicate, so a lineage already rotated is not found.
func (r *PostgresRepository) FindValidByRefreshHashForUpdate(ctx context.Context, hash string, now time.Time) (*domain.Session, error) {
	return r.findOne(ctx, `SELECT `+sessionColumns+` FROM sessions
		WHERE refresh_token_hash = $1 AND NOT revoked AND refresh_expires_at > $2
		LIMIT 1 FOR UPDATE`, hash, now)
}

func (r *PostgresRepository) FindValidByJTI(ctx context.Context, jti string, now time.Time) (*domain.Session, error) {
	return r.findOne(ctx, `SELECT `+sessionColumns+` FROM sessions
		WHERE jti = $1 AND NOT revoked AND refresh_expires_at > $2
		LIMIT 1`, jti, now)
}

func (r *PostgresRepository) ListActiveForSubject(ctx context.Context, subjectID string, now time.Time) ([]*domain.Session, error) {
	return r.findMany(ctx, `SELECT `+sessionColumns+` FROM sessions
		WHERE subject_id = $1 AND NOT revoked AND refresh_expires_at > $2
		ORDER BY created_at DESC`, subjectID, now)
}

func (r *PostgresRepository) FindExpiring(ctx context.Context, threshold time.Time) ([]*domain.Session, error) {
	return r.findMany(ctx, `SELECT `+sessionColumns+` FROM sessions
		WHERE NOT revoked AND refresh_expires_at < $1
		ORDER BY refresh_expires_at`, threshold)
}

func (r *PostgresRepository) Revoke(ctx context.Context, jti string) (bool, error) {
	tag, err := r.q(ctx).Exec(ctx, `UPDATE sessions SET revoked = TRUE WHERE jti = $1 AND NOT revoked`, jti)
	if err != nil {
		return false, oops.In("session_repository").With("jti", jti).Wrapf(err, "revoke session")
	}
	return tag.RowsAffected() > 0, nil
}

// LockSubject takes a transaction-scoped advisory lock keyed on the subject id. Outside a
// transaction the lock is released as soon as the statement ends.
func (r *PostgresRepository) LockSubject(ctx context.Context, subjectID string) error {
	if _, err := r.q(ctx).Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, subjectID); err != nil {
		return oops.In("session_repository").With("subject_id", subjectID).Wrapf(err, "lock subject")
	}
	return nil
}

func (r *PostgresRepository) RevokeAllForSubject(ctx context.Context, subjectID string) (int64, error) {
	tag, err := r.q(ctx).Exec(ctx, `UPDATE sessions SET revoked = TRUE WHERE subject_id = $1 AND NOT revoked`, subjectID)
	if err != nil {
		return 0, oops.In("session_repository").With("subject_id", subjectID).Wrapf(err, "revoke subject sessions")
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresRepository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.q(ctx).Exec(ctx, `DELETE FROM sessions WHERE refresh_expires_at < $1`, now)
	if err != nil {
		return 0, oops.In("session_repository").Wrapf(err, "purge expired sessions")
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresRepository) Stats(ctx context.Context, now time.Time) (domain.Stats, error) {
	var st domain.Stats
	err := r.q(ctx).QueryRow(ctx, `SELECT
			COUNT(*) FILTER (WHERE NOT revoked AND refresh_expires_at > $1),
			COUNT(*) FILTER (WHERE revoked),
			COUNT(*) FILTER (WHERE NOT revoked AND refresh_expires_at <= $1)
		FROM sessions`, now).Scan(&st.Active, &st.Revoked, &st.Expired)
	if err != nil {
		return domain.Stats{}, oops.In("session_repository").Wrapf(err, "session stats")
	}
	return st, nil
}

func (r *PostgresRepository) findOne(ctx context.Context, query string, args ...any) (*domain.Session, error) {
	s, err := scanSession(r.q(ctx).QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, oops.In("session_repository").Wrapf(err, "find session")
	}
	return s, nil
}

func (r *PostgresRepository) findMany(ctx context.Context, query string, args ...any) ([]*domain.Session, error) {
	rows, err := r.q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, oops.In("session_repository").Wrapf(err, "list sessions")
	}
	defer rows.Close()
	var out []*domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, oops.In("session_repository").Wrapf(err, "scan session")
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.In("session_repository").Wrapf(err, "list sessions")
	}
	return out, nil
}

func scanSession(row pgx.Row) (*domain.Session, error) {
	var s domain.Session
	if err := row.Scan(
		&s.JTI, &s.SubjectID, &s.SubjectName, &s.AccessTokenHash, &s.RefreshTokenHash,
		&s.AccessExpiresAt, &s.RefreshExpiresAt, &s.Revoked, &s.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &s, nil
}
