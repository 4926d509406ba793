package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// mockEventEmitter implements EventEmitter for tests.
type mockEventEmitter struct {
	mu      sync.Mutex
	events  []*Event
	ctxErrs []error
	emitErr error
	done    chan struct{}
}

func newMockEmitter(buffer int) *mockEventEmitter {
	return &mockEventEmitter{done: make(chan struct{}, buffer)}
}

func (m *mockEventEmitter) Emit(ctx context.Context, event *Event) error {
	m.mu.Lock()
	m.events = append(m.events, event)
	m.ctxErrs = append(m.ctxErrs, ctx.Err())
	m.mu.Unlock()
	if m.done != nil {
		m.done <- struct{}{}
	}
	return m.emitErr
}

func (m *mockEventEmitter) getEvents() []*Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Event(nil), m.events...)
}

func waitN(t *testing.T, ch <-chan struct{}, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for emit %d of %d", i+1, n)
		}
	}
}

func TestEmitAsync_NilEmitter(t *testing.T) {
	// Should not panic
	EmitAsync(context.Background(), nil, nil, &Event{Type: EventLogin})
}

func TestEmitAsync_NilEvent(t *testing.T) {
	emitter := newMockEmitter(1)
	EmitAsync(context.Background(), emitter, nil, nil)
	time.Sleep(10 * time.Millisecond)
	if n := len(emitter.getEvents()); n != 0 {
		t.Errorf("expected 0 events, got %d", n)
	}
}

func TestEmitAsync_SuccessfulEmit(t *testing.T) {
	emitter := newMockEmitter(1)
	EmitAsync(context.Background(), emitter, nil, &Event{Type: EventLogin, SubjectID: "user-1", SessionID: "jti-1"})
	waitN(t, emitter.done, 1)

	events := emitter.getEvents()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].SubjectID != "user-1" || events[0].Type != EventLogin {
		t.Errorf("event = %+v", events[0])
	}
	if events[0].At.IsZero() {
		t.Error("At not stamped")
	}
}

func TestEmitAsync_IgnoresRequestCancellation(t *testing.T) {
	emitter := newMockEmitter(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	EmitAsync(ctx, emitter, nil, &Event{Type: EventLogout})
	waitN(t, emitter.done, 1)

	emitter.mu.Lock()
	defer emitter.mu.Unlock()
	if emitter.ctxErrs[0] != nil {
		t.Errorf("emit context err = %v, want nil", emitter.ctxErrs[0])
	}
}

func TestEmitAsync_ErrorIsSwallowed(t *testing.T) {
	emitter := newMockEmitter(1)
	emitter.emitErr = errors.New("collector down")
	EmitAsync(context.Background(), emitter, nil, &Event{Type: EventRefresh})
	waitN(t, emitter.done, 1)
}

func TestEmitAsync_ConcurrentAccess(t *testing.T) {
	emitter := newMockEmitter(10)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			EmitAsync(context.Background(), emitter, nil, &Event{Type: EventRefresh})
		}()
	}
	wg.Wait()
	waitN(t, emitter.done, 10)
	if n := len(emitter.getEvents()); n != 10 {
		t.Errorf("expected 10 events, got %d", n)
	}
}

func TestMultiEmitter(t *testing.T) {
	a := &mockEventEmitter{}
	b := &mockEventEmitter{emitErr: errors.New("b failed")}
	m := MultiEmitter{a, nil, b}

	err := m.Emit(context.Background(), &Event{Type: EventLogin})
	if err == nil || err.Error() != "b failed" {
		t.Errorf("err = %v, want b failed", err)
	}
	if len(a.getEvents()) != 1 || len(b.getEvents()) != 1 {
		t.Error("event not delivered to every emitter")
	}
}
