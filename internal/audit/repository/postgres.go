package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/samber/oops"

	"session-authority/backend/internal/audit/domain"
	"session-authority/backend/internal/db"
)

// PostgresRepository stores the audit trail in session_audit_log.
type PostgresRepository struct {
	pool db.Querier
}

// NewPostgresRepository returns an audit repository backed by pool.
func NewPostgresRepository(pool db.Querier) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	meta, err := json.Marshal(a.Metadata)
	if err != nil {
		return oops.In("audit_repository").Wrapf(err, "encode audit metadata")
	}
	err = db.QuerierFrom(ctx, r.pool).QueryRow(ctx,
		`INSERT INTO session_audit_log (action, subject_id, session_id, source, ip, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		a.Action, a.SubjectID, a.SessionID, a.Source, a.IP, meta, a.CreatedAt).Scan(&a.ID)
	if err != nil {
		return oops.In("audit_repository").With("action", a.Action).Wrapf(err, "insert audit log")
	}
	return nil
}

func (r *PostgresRepository) ListBySubject(ctx context.Context, subjectID string, limit int32) ([]*domain.AuditLog, error) {
	rows, err := db.QuerierFrom(ctx, r.pool).Query(ctx,
		`SELECT id, action, subject_id, session_id, source, ip, metadata, created_at
		 FROM session_audit_log WHERE subject_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`,
		subjectID, limit)
	if err != nil {
		return nil, oops.In("audit_repository").With("subject_id", subjectID).Wrapf(err, "list audit logs")
	}
	defer rows.Close()

	var out []*domain.AuditLog
	for rows.Next() {
		var (
			a    domain.AuditLog
			meta []byte
		)
		if err := rows.Scan(&a.ID, &a.Action, &a.SubjectID, &a.SessionID, &a.Source, &a.IP, &meta, &a.CreatedAt); err != nil {
			return nil, oops.In("audit_repository").Wrapf(err, "scan audit log")
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &a.Metadata); err != nil {
				return nil, oops.In("audit_repository").With("id", a.ID).Wrapf(err, "decode audit metadata")
			}
		}
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.In("audit_repository").Wrapf(err, "iterate audit logs")
	}
	return out, nil
}

func (r *PostgresRepository) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := db.QuerierFrom(ctx, r.pool).Exec(ctx, `DELETE FROM session_audit_log WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, oops.In("audit_repository").Wrapf(err, "purge audit logs")
	}
	return tag.RowsAffected(), nil
}
