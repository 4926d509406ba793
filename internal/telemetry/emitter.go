package telemetry

import (
	"context"
	"errors"
	"time"
)

// EventType names a session lifecycle event.
type EventType string

const (
	EventRegister  EventType = "register"
	EventLogin     EventType = "login"
	EventRefresh   EventType = "refresh"
	EventLogout    EventType = "logout"
	EventRevokeAll EventType = "revoke_all"
	EventPurge     EventType = "purge"
)

// Event is an audit record for the session lifecycle. SessionID is the access token jti; token
// values are never part of an event.
type Event struct {
	Type       EventType
	SubjectID  string
	SessionID  string
	Source     string
	Attributes map[string]string
	At         time.Time
}

// EventEmitter emits audit events (e.g. to OTel Logs). Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event *Event) error
}

// MultiEmitter fans an event out to every emitter and joins their errors.
type MultiEmitter []EventEmitter

func (m MultiEmitter) Emit(ctx context.Context, event *Event) error {
	var errs []error
	for _, e := range m {
		if e == nil {
			continue
		}
		if err := e.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
