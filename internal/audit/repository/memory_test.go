package repository

import (
	"context"
	"testing"
	"time"

	"session-authority/backend/internal/audit/domain"
)

func TestMemoryRepository_ListBySubjectNewestFirst(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, action := range []string{"register", "login", "logout"} {
		if err := r.Create(ctx, &domain.AuditLog{Action: action, SubjectID: "u1", CreatedAt: base.Add(time.Duration(i) * time.Minute)}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	_ = r.Create(ctx, &domain.AuditLog{Action: "login", SubjectID: "u2", CreatedAt: base})

	got, err := r.ListBySubject(ctx, "u1", 2)
	if err != nil {
		t.Fatalf("ListBySubject: %v", err)
	}
	if len(got) != 2 || got[0].Action != "logout" || got[1].Action != "login" {
		t.Fatalf("got %+v", got)
	}
	if got[0].ID == 0 {
		t.Error("ID not assigned")
	}
}

func TestMemoryRepository_PurgeBefore(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	old := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	_ = r.Create(ctx, &domain.AuditLog{Action: "login", SubjectID: "u", CreatedAt: old})
	_ = r.Create(ctx, &domain.AuditLog{Action: "logout", SubjectID: "u", CreatedAt: recent})

	n, err := r.PurgeBefore(ctx, recent.Add(-time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("PurgeBefore = %d, %v; want 1", n, err)
	}
	got, _ := r.ListBySubject(ctx, "u", 0)
	if len(got) != 1 || got[0].Action != "logout" {
		t.Fatalf("remaining = %+v", got)
	}
}
