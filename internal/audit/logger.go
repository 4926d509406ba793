// Package audit persists the session lifecycle trail (register, login, refresh, logout,
// revoke-all, purge) so a subject's recent account activity can be listed back.
package audit

import (
	"context"
	"time"

	"session-authority/backend/internal/audit/domain"
	auditrepo "session-authority/backend/internal/audit/repository"
	"session-authority/backend/internal/telemetry"
)

// IPExtractor returns the client IP from the request context.
type IPExtractor func(context.Context) string

// Logger is a telemetry.EventEmitter that writes each event to the audit repository.
type Logger struct {
	repo        auditrepo.Repository
	ipExtractor IPExtractor
}

// NewLogger returns a Logger persisting to repo. ipExtractor may be nil; then the IP is recorded
// as "unknown".
func NewLogger(repo auditrepo.Repository, ipExtractor IPExtractor) *Logger {
	return &Logger{repo: repo, ipExtractor: ipExtractor}
}

// Emit writes event. Errors are returned for the caller to log; nothing is retried.
func (l *Logger) Emit(ctx context.Context, event *telemetry.Event) error {
	if l.repo == nil || event == nil {
		return nil
	}
	ip := "unknown"
	if l.ipExtractor != nil {
		ip = l.ipExtractor(ctx)
	}
	at := event.At
	if at.IsZero() {
		at = time.Now()
	}
	return l.repo.Create(ctx, &domain.AuditLog{
		Action:    string(event.Type),
		SubjectID: event.SubjectID,
		SessionID: event.SessionID,
		Source:    event.Source,
		IP:        ip,
		Metadata:  event.Attributes,
		CreatedAt: at.UTC(),
	})
}

// Recent returns up to limit of the subject's newest entries.
func (l *Logger) Recent(ctx context.Context, subjectID string, limit int32) ([]*domain.AuditLog, error) {
	return l.repo.ListBySubject(ctx, subjectID, limit)
}
