package domain

import (
	"testing"
	"time"
)

func TestSession_State(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		name string
		s    Session
		want State
	}{
		{"active", Session{AccessExpiresAt: now.Add(time.Minute), RefreshExpiresAt: now.Add(time.Hour)}, StateActive},
		{"access lapsed refresh live", Session{AccessExpiresAt: now.Add(-time.Minute), RefreshExpiresAt: now.Add(time.Hour)}, StateActive},
		{"refresh lapsed", Session{RefreshExpiresAt: now.Add(-time.Second)}, StateExpired},
		{"refresh at boundary", Session{RefreshExpiresAt: now}, StateExpired},
		{"revoked", Session{Revoked: true, RefreshExpiresAt: now.Add(time.Hour)}, StateRevoked},
		{"revoked and expired", Session{Revoked: true, RefreshExpiresAt: now.Add(-time.Hour)}, StateRevoked},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.s.State(now); got != tc.want {
				t.Errorf("State = %q, want %q", got, tc.want)
			}
		})
	}
}
