package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"session-authority/backend/internal/security"
	"session-authority/backend/internal/server/interceptors"
)

type echoed struct {
	Path     string `json:"path"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

func newGateway(t *testing.T) (http.Handler, *security.TokenCodec) {
	t.Helper()
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(echoed{
			Path:     r.URL.Path,
			UserID:   r.Header.Get(interceptors.HeaderSubjectID),
			UserName: r.Header.Get(interceptors.HeaderSubjectName),
		})
	}))
	t.Cleanup(upstream.Close)

	u, _ := url.Parse(upstream.URL)
	codec := security.NewTestTokenCodec()
	h, err := NewHandler(Config{Upstream: u, Codec: codec})
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	return h, codec
}

func serve(h http.Handler, method, path, bearer string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestGateway_ProtectedRouteForwardsIdentity(t *testing.T) {
	h, codec := newGateway(t)
	token, _, err := codec.Mint("user-7", "alice", security.KindAccess)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	w := serve(h, http.MethodGet, "/api/v1/game/top", token, map[string]string{interceptors.HeaderSubjectID: "spoofed"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var got echoed
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.UserID != "user-7" || got.UserName != "alice" || got.Path != "/api/v1/game/top" {
		t.Errorf("upstream saw %+v", got)
	}
}

func TestGateway_ProtectedRouteRejectsMissingToken(t *testing.T) {
	h, _ := newGateway(t)
	w := serve(h, http.MethodGet, "/api/v1/game/top", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	var body interceptors.ErrorBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Message != "missing bearer token" {
		t.Errorf("message = %q", body.Message)
	}
}

func TestGateway_PublicRouteStripsIdentityHeaders(t *testing.T) {
	h, _ := newGateway(t)
	w := serve(h, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		interceptors.HeaderSubjectID:   "spoofed",
		interceptors.HeaderSubjectName: "mallory",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var got echoed
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.UserID != "" || got.UserName != "" {
		t.Errorf("client identity headers reached upstream: %+v", got)
	}
}

func TestGateway_Healthz(t *testing.T) {
	h, _ := newGateway(t)
	if w := serve(h, http.MethodGet, "/healthz", "", nil); w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
}

func TestGateway_UpstreamDown(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	u, _ := url.Parse(upstream.URL)
	upstream.Close()

	h, err := NewHandler(Config{Upstream: u, Codec: security.NewTestTokenCodec()})
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	w := serve(h, http.MethodGet, "/api/v1/auth/health", "", nil)
	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", w.Code)
	}
}

func TestNewHandler_Validation(t *testing.T) {
	if _, err := NewHandler(Config{Codec: security.NewTestTokenCodec()}); err == nil {
		t.Error("missing upstream should fail")
	}
	u, _ := url.Parse("http://upstream:8081")
	if _, err := NewHandler(Config{Upstream: u}); err == nil {
		t.Error("missing codec should fail")
	}
}
