package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"session-authority/backend/internal/db"
	"session-authority/backend/internal/directory"
	revocationrepo "session-authority/backend/internal/revocation/repository"
	"session-authority/backend/internal/security"
	sessionrepo "session-authority/backend/internal/session/repository"
	"session-authority/backend/internal/telemetry"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	svc      *AuthService
	dir      *directory.MemoryDirectory
	sessions *sessionrepo.MemoryRepository
	ledger   *revocationrepo.MemoryRepository
	codec    *security.TokenCodec
	clock    *testClock
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	dir := directory.NewMemoryDirectory(security.NewPasswordHasher(4))
	sessions := sessionrepo.NewMemoryRepository()
	ledger := revocationrepo.NewMemoryRepository(clock.Now)
	codec := security.NewTestTokenCodec().WithClock(clock.Now)
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	svc := NewAuthService(dir, sessions, ledger, db.NewMemoryTransactor(), codec, nil, opts...)
	return &fixture{svc: svc, dir: dir, sessions: sessions, ledger: ledger, codec: codec, clock: clock}
}

func (f *fixture) register(t *testing.T, nickname, password string) *AuthResult {
	t.Helper()
	res, err := f.svc.Register(context.Background(), nickname, password)
	if err != nil {
		t.Fatalf("Register(%q): %v", nickname, err)
	}
	return res
}

func TestRegister_IssuesValidPair(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.register(t, "alice", "pw")

	if res.AccessToken == "" || res.RefreshToken == "" || res.AccessToken == res.RefreshToken {
		t.Fatalf("unexpected tokens %+v", res)
	}
	if res.Profile.Nickname != "alice" || res.Profile.ID == "" {
		t.Errorf("profile = %+v", res.Profile)
	}
	if !res.AccessExpiresAt.Equal(f.clock.Now().Add(15 * time.Minute)) {
		t.Errorf("AccessExpiresAt = %v", res.AccessExpiresAt)
	}
	if !res.RefreshExpiresAt.Equal(f.clock.Now().Add(24 * time.Hour)) {
		t.Errorf("RefreshExpiresAt = %v", res.RefreshExpiresAt)
	}

	v := f.svc.Validate(ctx, res.AccessToken)
	if !v.Valid || v.SubjectID != res.Profile.ID || v.SubjectName != "alice" || v.SessionID != res.SessionID {
		t.Fatalf("Validate = %+v", v)
	}
	if f.svc.Validate(ctx, res.RefreshToken).Valid {
		t.Error("refresh token must not validate as access token")
	}
}

func TestValidate_UntilAccessExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.register(t, "alice", "pw")

	f.clock.Advance(15*time.Minute - time.Second)
	if !f.svc.Validate(ctx, res.AccessToken).Valid {
		t.Fatal("token should be valid just before expiry")
	}
	f.clock.Advance(2 * time.Second)
	if f.svc.Validate(ctx, res.AccessToken).Valid {
		t.Fatal("token should be invalid after access expiry")
	}
}

func TestRegister_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "alice", "pw")

	if _, err := f.svc.Register(ctx, "alice", "other"); !errors.Is(err, ErrNicknameTaken) {
		t.Errorf("duplicate: err = %v, want ErrNicknameTaken", err)
	}
	if _, err := f.svc.Register(ctx, "  ", "pw"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("blank nickname: err = %v, want ErrInvalidInput", err)
	}
	if _, err := f.svc.Register(ctx, "bob", ""); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("blank password: err = %v, want ErrInvalidInput", err)
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "alice", "pw")

	for _, tc := range []struct{ name, nick, pw string }{
		{"wrong password", "alice", "nope"},
		{"unknown user", "mallory", "pw"},
		{"empty password", "alice", ""},
		{"empty nickname", "", "pw"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.svc.Login(ctx, tc.nick, tc.pw); !errors.Is(err, ErrInvalidCredentials) {
				t.Errorf("err = %v, want ErrInvalidCredentials", err)
			}
		})
	}
}

func TestLogin_SecondLoginRevokesFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "alice", "pw")

	first, err := f.svc.Login(ctx, "alice", "pw")
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.svc.Login(ctx, "alice", "pw")
	if err != nil {
		t.Fatal(err)
	}

	if f.svc.Validate(ctx, first.AccessToken).Valid {
		t.Error("first login's access token should fail full validation")
	}
	// Edge validation is stateless: the first token still carries a good signature and expiry.
	if _, err := f.codec.Parse(first.AccessToken); err != nil {
		t.Errorf("edge parse of first token: %v", err)
	}
	if !f.svc.Validate(ctx, second.AccessToken).Valid {
		t.Error("second login's access token should be valid")
	}
	if _, err := f.svc.Refresh(ctx, first.RefreshToken); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Errorf("refresh with first login's token: err = %v", err)
	}
	list, _ := f.svc.ActiveSessions(ctx, second.Profile.ID)
	if len(list) != 1 || list[0].JTI != second.SessionID {
		t.Errorf("active sessions = %+v", list)
	}
}

func TestRefresh_RotatesAndIsSingleUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	orig := f.register(t, "alice", "pw")

	f.clock.Advance(time.Minute)
	next, err := f.svc.Refresh(ctx, orig.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if next.AccessToken == orig.AccessToken || next.RefreshToken == orig.RefreshToken || next.SessionID == orig.SessionID {
		t.Fatal("refresh must issue a fresh pair")
	}
	if next.Profile.Nickname != "alice" {
		t.Errorf("profile = %+v", next.Profile)
	}
	if !f.svc.Validate(ctx, next.AccessToken).Valid {
		t.Error("new access token should validate")
	}
	if f.svc.Validate(ctx, orig.AccessToken).Valid {
		t.Error("old access token should no longer validate")
	}
	if _, err := f.svc.Refresh(ctx, orig.RefreshToken); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Errorf("replay: err = %v, want ErrInvalidOrExpiredToken", err)
	}
	if _, err := f.svc.Refresh(ctx, next.RefreshToken); err != nil {
		t.Errorf("refresh with rotated token: %v", err)
	}
}

func TestRefresh_ConcurrentSameToken(t *testing.T) {
	f := newFixture(t)
	res := f.register(t, "alice", "pw")

	const n = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	var ok, rejected int
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Refresh(context.Background(), res.RefreshToken)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrInvalidOrExpiredToken):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if ok != 1 || rejected != n-1 {
		t.Fatalf("ok = %d, rejected = %d; want 1 and %d", ok, rejected, n-1)
	}
	st, _ := f.svc.Stats(context.Background())
	if st.Active != 1 || st.Revoked != 1 {
		t.Errorf("stats = %+v, want 1 active 1 revoked", st)
	}
}

func TestRefresh_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.register(t, "alice", "pw")

	other, _ := security.NewTokenCodec([]byte("another-secret-that-is-long-enough-000"), "test-issuer", time.Minute, time.Hour)
	forged, _, _ := other.Mint(res.Profile.ID, "alice", security.KindRefresh)

	for _, tc := range []struct{ name, token string }{
		{"empty", ""},
		{"garbage", "not-a-token"},
		{"access token", res.AccessToken},
		{"foreign signature", forged},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.svc.Refresh(ctx, tc.token); !errors.Is(err, ErrInvalidOrExpiredToken) {
				t.Errorf("err = %v, want ErrInvalidOrExpiredToken", err)
			}
		})
	}
}

func TestRefresh_AfterRefreshExpiry(t *testing.T) {
	f := newFixture(t)
	res := f.register(t, "alice", "pw")
	f.clock.Advance(24*time.Hour + time.Second)
	if _, err := f.svc.Refresh(context.Background(), res.RefreshToken); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("err = %v, want ErrInvalidOrExpiredToken", err)
	}
}

func TestRefresh_AccessExpiredRefreshLive(t *testing.T) {
	f := newFixture(t)
	res := f.register(t, "alice", "pw")
	f.clock.Advance(time.Hour)
	if _, err := f.svc.Refresh(context.Background(), res.RefreshToken); err != nil {
		t.Fatalf("Refresh after access expiry: %v", err)
	}
}

func TestRefresh_ProfileFallsBackToSession(t *testing.T) {
	f := newFixture(t)
	res := f.register(t, "alice", "pw")
	f.dir.Delete(res.Profile.ID)

	next, err := f.svc.Refresh(context.Background(), res.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if next.Profile.ID != res.Profile.ID || next.Profile.Nickname != "alice" {
		t.Errorf("profile = %+v", next.Profile)
	}
}

func TestLogout_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.register(t, "alice", "pw")

	if err := f.svc.Logout(ctx, res.AccessToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if err := f.svc.Logout(ctx, res.AccessToken); err != nil {
		t.Fatalf("second Logout: %v", err)
	}
	if f.svc.Validate(ctx, res.AccessToken).Valid {
		t.Error("token valid after logout")
	}
	entry, ok := f.ledger.Get(res.SessionID)
	if !ok || !entry.ExpiresAt.Equal(res.AccessExpiresAt) {
		t.Errorf("ledger entry = %+v, %v", entry, ok)
	}
	if _, err := f.svc.Refresh(ctx, res.RefreshToken); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Errorf("refresh after logout: err = %v", err)
	}
}

func TestLogout_InvalidToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.register(t, "alice", "pw")

	for _, tok := range []string{"", "garbage", res.RefreshToken} {
		if err := f.svc.Logout(ctx, tok); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Logout(%q) err = %v, want ErrInvalidToken", tok, err)
		}
	}
	if !f.svc.Validate(ctx, res.AccessToken).Valid {
		t.Error("rejected logouts must not revoke anything")
	}
}

func TestLogout_ExpiredAccessTokenRevokesSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.register(t, "alice", "pw")
	f.clock.Advance(20 * time.Minute)

	if err := f.svc.Logout(ctx, res.AccessToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, ok := f.ledger.Get(res.SessionID); ok {
		t.Error("expired token should not be added to the ledger")
	}
	if _, err := f.svc.Refresh(ctx, res.RefreshToken); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Errorf("refresh after logout: err = %v", err)
	}
}

type failingLedger struct{}

func (failingLedger) Add(context.Context, string, time.Time) (bool, error) {
	return false, errors.New("ledger down")
}
func (failingLedger) IsRevoked(context.Context, string) (bool, error) {
	return false, errors.New("ledger down")
}

func TestValidate_FailsClosed(t *testing.T) {
	f := newFixture(t)
	res := f.register(t, "alice", "pw")

	svc := NewAuthService(f.dir, f.sessions, failingLedger{}, db.NewMemoryTransactor(), f.codec, nil, WithClock(f.clock.Now))
	if svc.Validate(context.Background(), res.AccessToken).Valid {
		t.Error("ledger failure must yield invalid")
	}
	if err := svc.Logout(context.Background(), res.AccessToken); err == nil {
		t.Error("Logout should surface ledger failure")
	}
}

type unavailableDirectory struct{ directory.Directory }

func (unavailableDirectory) Create(context.Context, string, string) (*directory.Profile, error) {
	return nil, directory.ErrUnavailable
}
func (unavailableDirectory) VerifyCredentials(context.Context, string, string) (bool, error) {
	return false, directory.ErrUnavailable
}

func TestDirectoryUnavailable(t *testing.T) {
	f := newFixture(t)
	svc := NewAuthService(unavailableDirectory{}, f.sessions, f.ledger, db.NewMemoryTransactor(), f.codec, nil)
	if _, err := svc.Register(context.Background(), "alice", "pw"); !errors.Is(err, ErrUpstreamUnavailable) {
		t.Errorf("Register err = %v", err)
	}
	if _, err := svc.Login(context.Background(), "alice", "pw"); !errors.Is(err, ErrUpstreamUnavailable) {
		t.Errorf("Login err = %v", err)
	}
}

func TestLogin_WritesSurviveCallerCancellation(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice", "pw")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := f.svc.Login(ctx, "alice", "pw")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !f.svc.Validate(context.Background(), res.AccessToken).Valid {
		t.Error("session written under cancelled context should be valid")
	}
}

func TestRevokeAllSessionsAndStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice", "pw")
	bob := f.register(t, "bob", "pw")

	n, err := f.svc.RevokeAllSessions(ctx, alice.Profile.ID)
	if err != nil || n != 1 {
		t.Fatalf("RevokeAllSessions = %d, %v", n, err)
	}
	if f.svc.Validate(ctx, alice.AccessToken).Valid {
		t.Error("alice should be signed out")
	}
	if !f.svc.Validate(ctx, bob.AccessToken).Valid {
		t.Error("bob should be unaffected")
	}
	st, err := f.svc.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Active != 1 || st.Revoked != 1 || st.Expired != 0 {
		t.Errorf("stats = %+v", st)
	}
	f.clock.Advance(25 * time.Hour)
	st, _ = f.svc.Stats(ctx)
	if st.Active != 0 || st.Expired != 1 {
		t.Errorf("stats after expiry = %+v", st)
	}
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []telemetry.Event
	ch     chan struct{}
}

func (r *recordingEmitter) Emit(_ context.Context, e *telemetry.Event) error {
	r.mu.Lock()
	r.events = append(r.events, *e)
	r.mu.Unlock()
	r.ch <- struct{}{}
	return nil
}

func TestLogin_EmitsAuditEvents(t *testing.T) {
	rec := &recordingEmitter{ch: make(chan struct{}, 8)}
	f := newFixture(t, WithEmitter(rec))
	f.register(t, "alice", "pw")
	res, err := f.svc.Login(context.Background(), "alice", "pw")
	if err != nil {
		t.Fatal(err)
	}
	// register, login, revoke_all
	for i := 0; i < 3; i++ {
		select {
		case <-rec.ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d", i+1)
		}
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	seen := map[telemetry.EventType]telemetry.Event{}
	for _, e := range rec.events {
		seen[e.Type] = e
	}
	if _, ok := seen[telemetry.EventRegister]; !ok {
		t.Error("missing register event")
	}
	if e, ok := seen[telemetry.EventLogin]; !ok || e.SessionID != res.SessionID {
		t.Errorf("login event = %+v", e)
	}
	if e := seen[telemetry.EventRevokeAll]; e.Attributes["count"] != "1" {
		t.Errorf("revoke_all event = %+v", e)
	}
}

// The end-to-end lifecycle of one user.
func TestAliceLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reg := f.register(t, "alice", "pw")
	if !f.svc.Validate(ctx, reg.AccessToken).Valid {
		t.Fatal("registration pair should validate")
	}

	f.clock.Advance(time.Minute)
	login, err := f.svc.Login(ctx, "alice", "pw")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if f.svc.Validate(ctx, reg.AccessToken).Valid {
		t.Fatal("login should revoke the registration session")
	}

	f.clock.Advance(20 * time.Minute)
	if f.svc.Validate(ctx, login.AccessToken).Valid {
		t.Fatal("access token past expiry should not validate")
	}
	rotated, err := f.svc.Refresh(ctx, login.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	v := f.svc.Validate(ctx, rotated.AccessToken)
	if !v.Valid || v.SubjectName != "alice" {
		t.Fatalf("rotated token Validate = %+v", v)
	}
	if _, err := f.svc.Refresh(ctx, login.RefreshToken); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("replayed refresh err = %v", err)
	}

	if err := f.svc.Logout(ctx, rotated.AccessToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if f.svc.Validate(ctx, rotated.AccessToken).Valid {
		t.Fatal("token valid after logout")
	}
	if _, err := f.svc.Refresh(ctx, rotated.RefreshToken); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("refresh after logout err = %v", err)
	}
	st, _ := f.svc.Stats(ctx)
	if st.Active != 0 || st.Revoked != 3 {
		t.Errorf("final stats = %+v, want 0 active 3 revoked", st)
	}
}
