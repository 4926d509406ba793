package directory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, h http.Handler) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewHTTPClient(HTTPClientConfig{BaseURL: srv.URL, Timeout: time.Second, MaxRetries: 2, Backoff: time.Millisecond}, nil)
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}
	return c
}

func TestNewHTTPClient_InvalidURL(t *testing.T) {
	for _, u := range []string{"", "not a url", "/relative"} {
		if _, err := NewHTTPClient(HTTPClientConfig{BaseURL: u}, nil); err == nil {
			t.Errorf("NewHTTPClient(%q) expected error", u)
		}
	}
}

func TestHTTPClient_Create(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/internal/users" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		var req credentialsRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Nickname == "taken" {
			w.WriteHeader(http.StatusConflict)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(Profile{ID: "u1", Nickname: req.Nickname})
	}))

	p, err := c.Create(context.Background(), "alice", "pw")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if p.ID != "u1" || p.Nickname != "alice" {
		t.Errorf("profile = %+v", p)
	}
	if _, err := c.Create(context.Background(), "taken", "pw"); !errors.Is(err, ErrNicknameTaken) {
		t.Errorf("err = %v, want ErrNicknameTaken", err)
	}
}

func TestHTTPClient_FindNotFound(t *testing.T) {
	c := newTestClient(t, http.NotFoundHandler())
	p, err := c.FindByID(context.Background(), "missing")
	if p != nil || err != nil {
		t.Errorf("FindByID = %+v, %v; want nil, nil", p, err)
	}
	p, err = c.FindByNickname(context.Background(), "missing")
	if p != nil || err != nil {
		t.Errorf("FindByNickname = %+v, %v; want nil, nil", p, err)
	}
}

func TestHTTPClient_FindByNicknameEscapesPath(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.EscapedPath() != "/api/v1/internal/users/by-nickname/a%2Fb" {
			t.Errorf("path = %s", r.URL.EscapedPath())
		}
		_ = json.NewEncoder(w).Encode(Profile{ID: "u2", Nickname: "a/b"})
	}))
	p, err := c.FindByNickname(context.Background(), "a/b")
	if err != nil || p == nil || p.ID != "u2" {
		t.Fatalf("FindByNickname = %+v, %v", p, err)
	}
}

func TestHTTPClient_RetriesUnavailable(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(credentialsResponse{Valid: true})
	}))
	ok, err := c.VerifyCredentials(context.Background(), "alice", "pw")
	if err != nil || !ok {
		t.Fatalf("VerifyCredentials = %v, %v", ok, err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestHTTPClient_ExhaustedRetries(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	_, err := c.FindByID(context.Background(), "u1")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestHTTPClient_CreateNotRetriedOnBadGateway(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	if _, err := c.Create(context.Background(), "alice", "pw"); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestHTTPClient_VerifyCredentialsRejected(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	ok, err := c.VerifyCredentials(context.Background(), "alice", "bad")
	if ok || err != nil {
		t.Errorf("VerifyCredentials = %v, %v; want false, nil", ok, err)
	}
}
