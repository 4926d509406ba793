package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"session-authority/backend/internal/db"
	"session-authority/backend/internal/directory"
	"session-authority/backend/internal/obs"
	"session-authority/backend/internal/security"
	sessiondomain "session-authority/backend/internal/session/domain"
	"session-authority/backend/internal/telemetry"
)

// Sentinel errors for the auth service; handlers map them to status codes.
var (
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrNicknameTaken         = errors.New("nickname already taken")
	ErrInvalidInput          = errors.New("nickname and password are required")
	ErrInvalidOrExpiredToken = errors.New("invalid or expired refresh token")
	ErrInvalidToken          = errors.New("invalid token")
	ErrUpstreamUnavailable   = errors.New("user directory unavailable")
)

const defaultWriteTimeout = 5 * time.Second

var authOps = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "session_auth_operations_total",
	Help: "Session manager operations by outcome.",
}, []string{"op", "outcome"})

// AuthResult holds the outcome of Register, Login, or Refresh.
type AuthResult struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	SessionID        string
	Profile          directory.Profile
}

// Validation is the answer to "is this bearer token valid, and whose is it".
type Validation struct {
	Valid       bool
	SubjectID   string
	SubjectName string
	SessionID   string
	ExpiresAt   time.Time
}

// SessionRepo is the minimal session repository needed by the auth service.
type SessionRepo interface {
	Create(ctx context.Context, s *sessiondomain.Session) error
	FindValidByRefreshHashForUpdate(ctx context.Context, hash string, now time.Time) (*sessiondomain.Session, error)
	FindValidByJTI(ctx context.Context, jti string, now time.Time) (*sessiondomain.Session, error)
	ListActiveForSubject(ctx context.Context, subjectID string, now time.Time) ([]*sessiondomain.Session, error)
	Revoke(ctx context.Context, jti string) (bool, error)
	LockSubject(ctx context.Context, subjectID string) error
	RevokeAllForSubject(ctx context.Context, subjectID string) (int64, error)
	Stats(ctx context.Context, now time.Time) (sessiondomain.Stats, error)
}

// RevocationLedger is the minimal revocation ledger needed by the auth service.
type RevocationLedger interface {
	Add(ctx context.Context, jti string, expiresAt time.Time) (bool, error)
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// Option configures an AuthService.
type Option func(*AuthService)

// WithClock sets the time source used for session expiry checks and token minting.
func WithClock(now func() time.Time) Option {
	return func(s *AuthService) {
		s.now = now
		s.codec = s.codec.WithClock(now)
	}
}

// WithWriteTimeout bounds each write transaction. Writes are detached from the caller's
// cancellation so a dropped client cannot abort a half-applied rotation.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *AuthService) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// WithEmitter sets the audit event sink.
func WithEmitter(e telemetry.EventEmitter) Option {
	return func(s *AuthService) { s.emitter = e }
}

// AuthService issues, rotates, revokes and validates session token pairs.
type AuthService struct {
	directory    directory.Directory
	sessions     SessionRepo
	ledger       RevocationLedger
	tx           db.Transactor
	codec        *security.TokenCodec
	logger       *zap.Logger
	emitter      telemetry.EventEmitter
	tracer       trace.Tracer
	now          func() time.Time
	writeTimeout time.Duration
}

// NewAuthService returns an AuthService with the given dependencies.
func NewAuthService(
	dir directory.Directory,
	sessions SessionRepo,
	ledger RevocationLedger,
	tx db.Transactor,
	codec *security.TokenCodec,
	logger *zap.Logger,
	opts ...Option,
) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &AuthService{
		directory:    dir,
		sessions:     sessions,
		ledger:       ledger,
		tx:           tx,
		codec:        codec,
		logger:       logger,
		tracer:       otel.Tracer("session-authority/identity"),
		now:          time.Now,
		writeTimeout: defaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates the user in the directory and opens their first session.
func (s *AuthService) Register(ctx context.Context, nickname, password string) (res *AuthResult, err error) {
	ctx, span := s.tracer.Start(ctx, "AuthService.Register")
	defer func() { s.finish(span, "register", err) }()

	nickname = strings.TrimSpace(nickname)
	if nickname == "" || password == "" {
		return nil, ErrInvalidInput
	}
	profile, err := s.directory.Create(ctx, nickname, password)
	switch {
	case errors.Is(err, directory.ErrNicknameTaken):
		return nil, ErrNicknameTaken
	case errors.Is(err, directory.ErrInvalidInput):
		return nil, ErrInvalidInput
	case err != nil:
		return nil, s.directoryError(ctx, "register", err)
	case profile == nil:
		return nil, fmt.Errorf("register: directory returned no profile")
	}
	return s.openSession(ctx, *profile, telemetry.EventRegister)
}

// Login verifies credentials and opens a session, revoking every earlier session of the user.
// Unknown nickname and wrong password are indistinguishable to the caller.
func (s *AuthService) Login(ctx context.Context, nickname, password string) (res *AuthResult, err error) {
	ctx, span := s.tracer.Start(ctx, "AuthService.Login")
	defer func() { s.finish(span, "login", err) }()

	nickname = strings.TrimSpace(nickname)
	if nickname == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	ok, err := s.directory.VerifyCredentials(ctx, nickname, password)
	if err != nil {
		return nil, s.directoryError(ctx, "login", err)
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}
	profile, err := s.directory.FindByNickname(ctx, nickname)
	if err != nil {
		return nil, s.directoryError(ctx, "login", err)
	}
	if profile == nil {
		return nil, ErrInvalidCredentials
	}
	return s.openSession(ctx, *profile, telemetry.EventLogin)
}

// openSession mints a pair for profile and, in one transaction, revokes the subject's live
// sessions and stores the new one.
func (s *AuthService) openSession(ctx context.Context, profile directory.Profile, kind telemetry.EventType) (*AuthResult, error) {
	res, sess, err := s.mintPair(profile.ID, profile.Nickname)
	if err != nil {
		return nil, err
	}
	res.Profile = profile

	wctx, cancel := s.writeContext(ctx)
	defer cancel()
	var revoked int64
	err = s.tx.WithTx(wctx, func(ctx context.Context) error {
		if err := s.sessions.LockSubject(ctx, profile.ID); err != nil {
			return err
		}
		n, err := s.sessions.RevokeAllForSubject(ctx, profile.ID)
		if err != nil {
			return err
		}
		revoked = n
		return s.sessions.Create(ctx, sess)
	})
	if err != nil {
		obs.WithTrace(ctx, s.logger).Error("open session failed",
			zap.String("subject_id", profile.ID), zap.String("event", string(kind)), zap.Error(err))
		return nil, fmt.Errorf("%s: %w", kind, err)
	}

	obs.WithTrace(ctx, s.logger).Info("session opened",
		zap.String("event", string(kind)),
		zap.String("subject_id", profile.ID),
		zap.String("session_id", sess.JTI),
		zap.Int64("revoked_sessions", revoked),
	)
	s.emit(ctx, kind, profile.ID, sess.JTI, nil)
	if revoked > 0 {
		s.emit(ctx, telemetry.EventRevokeAll, profile.ID, "", map[string]string{"count": fmt.Sprint(revoked)})
	}
	return res, nil
}

// Refresh rotates a session: the presented refresh token's session is revoked and a new pair
// issued. A refresh token is accepted at most once; replays and concurrent duplicates fail.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (res *AuthResult, err error) {
	ctx, span := s.tracer.Start(ctx, "AuthService.Refresh")
	defer func() { s.finish(span, "refresh", err) }()

	claims, err := s.codec.Parse(refreshToken)
	// The stored refresh expiry is authoritative; an expired token is left to the lookup below.
	if err != nil && !errors.Is(err, security.ErrExpired) {
		s.logger.Debug("refresh rejected", obs.Token("token", refreshToken), zap.Error(err))
		return nil, ErrInvalidOrExpiredToken
	}
	if claims.Kind != security.KindRefresh {
		return nil, ErrInvalidOrExpiredToken
	}

	hash := security.HashToken(refreshToken)
	now := s.now()
	var old *sessiondomain.Session
	wctx, cancel := s.writeContext(ctx)
	defer cancel()
	err = s.tx.WithTx(wctx, func(ctx context.Context) error {
		// Same lock order as login: subject first, then the row.
		if err := s.sessions.LockSubject(ctx, claims.SubjectID); err != nil {
			return err
		}
		found, err := s.sessions.FindValidByRefreshHashForUpdate(ctx, hash, now)
		if err != nil {
			return err
		}
		if found == nil || found.SubjectID != claims.SubjectID {
			return ErrInvalidOrExpiredToken
		}
		next, sess, err := s.mintPair(found.SubjectID, found.SubjectName)
		if err != nil {
			return err
		}
		if _, err := s.sessions.Revoke(ctx, found.JTI); err != nil {
			return err
		}
		if err := s.sessions.Create(ctx, sess); err != nil {
			return err
		}
		old, res = found, next
		return nil
	})
	if errors.Is(err, ErrInvalidOrExpiredToken) {
		return nil, err
	}
	if err != nil {
		obs.WithTrace(ctx, s.logger).Error("refresh failed", zap.String("subject_id", claims.SubjectID), zap.Error(err))
		return nil, fmt.Errorf("refresh: %w", err)
	}

	res.Profile = s.profileFor(ctx, old.SubjectID, old.SubjectName)
	obs.WithTrace(ctx, s.logger).Info("session refreshed",
		zap.String("subject_id", old.SubjectID),
		zap.String("revoked_session_id", old.JTI),
		zap.String("session_id", res.SessionID),
	)
	s.emit(ctx, telemetry.EventRefresh, old.SubjectID, res.SessionID, map[string]string{"revoked_session_id": old.JTI})
	return res, nil
}

// Logout revokes the session of accessToken and records its jti in the revocation ledger until
// the token expires. Logging out twice is a no-op. An expired token's session is still revoked.
func (s *AuthService) Logout(ctx context.Context, accessToken string) (err error) {
	ctx, span := s.tracer.Start(ctx, "AuthService.Logout")
	defer func() { s.finish(span, "logout", err) }()

	claims, err := s.codec.Parse(accessToken)
	expired := errors.Is(err, security.ErrExpired)
	if err != nil && !expired {
		s.logger.Debug("logout rejected", obs.Token("token", accessToken), zap.Error(err))
		return ErrInvalidToken
	}
	if claims.Kind != security.KindAccess {
		return ErrInvalidToken
	}

	var changed, added bool
	wctx, cancel := s.writeContext(ctx)
	defer cancel()
	err = s.tx.WithTx(wctx, func(ctx context.Context) error {
		var err error
		if changed, err = s.sessions.Revoke(ctx, claims.JTI); err != nil {
			return err
		}
		// An expired token is already rejected everywhere; the ledger only needs live ones.
		if !expired {
			if added, err = s.ledger.Add(ctx, claims.JTI, claims.ExpiresAt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		obs.WithTrace(ctx, s.logger).Error("logout failed", zap.String("session_id", claims.JTI), zap.Error(err))
		return fmt.Errorf("logout: %w", err)
	}
	if changed || added {
		obs.WithTrace(ctx, s.logger).Info("session closed",
			zap.String("subject_id", claims.SubjectID), zap.String("session_id", claims.JTI))
		s.emit(ctx, telemetry.EventLogout, claims.SubjectID, claims.JTI, nil)
	}
	return nil
}

// Validate reports whether token is a live access token: good signature, unexpired, not in the
// revocation ledger, and backed by a non-revoked session. Lookup failures count as invalid.
func (s *AuthService) Validate(ctx context.Context, token string) Validation {
	ctx, span := s.tracer.Start(ctx, "AuthService.Validate")
	defer span.End()

	v, reason := s.validate(ctx, token)
	span.SetAttributes(attribute.Bool("valid", v.Valid))
	if !v.Valid {
		authOps.WithLabelValues("validate", "invalid").Inc()
		s.logger.Debug("token rejected", zap.String("reason", reason), obs.Token("token", token))
		return v
	}
	authOps.WithLabelValues("validate", "ok").Inc()
	return v
}

func (s *AuthService) validate(ctx context.Context, token string) (Validation, string) {
	claims, err := s.codec.Parse(token)
	if err != nil {
		return Validation{}, err.Error()
	}
	if claims.Kind != security.KindAccess {
		return Validation{}, "not an access token"
	}
	revoked, err := s.ledger.IsRevoked(ctx, claims.JTI)
	if err != nil {
		obs.WithTrace(ctx, s.logger).Warn("revocation lookup failed", zap.String("session_id", claims.JTI), zap.Error(err))
		return Validation{}, "revocation lookup failed"
	}
	if revoked {
		return Validation{}, "revoked"
	}
	sess, err := s.sessions.FindValidByJTI(ctx, claims.JTI, s.now())
	if err != nil {
		obs.WithTrace(ctx, s.logger).Warn("session lookup failed", zap.String("session_id", claims.JTI), zap.Error(err))
		return Validation{}, "session lookup failed"
	}
	if sess == nil {
		return Validation{}, "no live session"
	}
	if !security.TokenHashEqual(token, sess.AccessTokenHash) {
		return Validation{}, "token does not match session"
	}
	return Validation{
		Valid:       true,
		SubjectID:   claims.SubjectID,
		SubjectName: claims.SubjectName,
		SessionID:   claims.JTI,
		ExpiresAt:   claims.ExpiresAt,
	}, ""
}

// ActiveSessions returns the subject's live sessions, newest first.
func (s *AuthService) ActiveSessions(ctx context.Context, subjectID string) ([]*sessiondomain.Session, error) {
	list, err := s.sessions.ListActiveForSubject(ctx, subjectID, s.now())
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return list, nil
}

// RevokeAllSessions revokes every live session of the subject, as a fresh login does.
func (s *AuthService) RevokeAllSessions(ctx context.Context, subjectID string) (int64, error) {
	wctx, cancel := s.writeContext(ctx)
	defer cancel()
	n, err := s.sessions.RevokeAllForSubject(wctx, subjectID)
	if err != nil {
		authOps.WithLabelValues("revoke_all", "error").Inc()
		return 0, fmt.Errorf("revoke all: %w", err)
	}
	authOps.WithLabelValues("revoke_all", "ok").Inc()
	if n > 0 {
		s.emit(ctx, telemetry.EventRevokeAll, subjectID, "", map[string]string{"count": fmt.Sprint(n)})
	}
	return n, nil
}

// Stats counts sessions by lifecycle state.
func (s *AuthService) Stats(ctx context.Context) (sessiondomain.Stats, error) {
	st, err := s.sessions.Stats(ctx, s.now())
	if err != nil {
		return sessiondomain.Stats{}, fmt.Errorf("session stats: %w", err)
	}
	return st, nil
}

func (s *AuthService) mintPair(subjectID, subjectName string) (*AuthResult, *sessiondomain.Session, error) {
	access, ac, err := s.codec.Mint(subjectID, subjectName, security.KindAccess)
	if err != nil {
		return nil, nil, fmt.Errorf("mint access token: %w", err)
	}
	refresh, rc, err := s.codec.Mint(subjectID, subjectName, security.KindRefresh)
	if err != nil {
		return nil, nil, fmt.Errorf("mint refresh token: %w", err)
	}
	sess := &sessiondomain.Session{
		JTI:              ac.JTI,
		SubjectID:        subjectID,
		SubjectName:      subjectName,
		AccessTokenHash:  security.HashToken(access),
		RefreshTokenHash: security.HashToken(refresh),
		AccessExpiresAt:  ac.ExpiresAt,
		RefreshExpiresAt: rc.ExpiresAt,
		CreatedAt:        ac.IssuedAt,
	}
	return &AuthResult{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  ac.ExpiresAt,
		RefreshExpiresAt: rc.ExpiresAt,
		SessionID:        ac.JTI,
	}, sess, nil
}

// profileFor fetches the current profile, falling back to what the session recorded.
func (s *AuthService) profileFor(ctx context.Context, subjectID, subjectName string) directory.Profile {
	p, err := s.directory.FindByID(ctx, subjectID)
	if err != nil || p == nil {
		obs.WithTrace(ctx, s.logger).Warn("profile lookup failed; using session snapshot",
			zap.String("subject_id", subjectID), zap.Error(err))
		return directory.Profile{ID: subjectID, Nickname: subjectName}
	}
	return *p
}

func (s *AuthService) directoryError(ctx context.Context, op string, err error) error {
	if errors.Is(err, directory.ErrUnavailable) {
		obs.WithTrace(ctx, s.logger).Warn("user directory unavailable", zap.String("op", op), zap.Error(err))
		return ErrUpstreamUnavailable
	}
	obs.WithTrace(ctx, s.logger).Error("user directory error", zap.String("op", op), zap.Error(err))
	return fmt.Errorf("%s: %w", op, err)
}

func (s *AuthService) writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.writeTimeout)
}

func (s *AuthService) emit(ctx context.Context, kind telemetry.EventType, subjectID, sessionID string, attrs map[string]string) {
	telemetry.EmitAsync(ctx, s.emitter, s.logger, &telemetry.Event{
		Type:       kind,
		SubjectID:  subjectID,
		SessionID:  sessionID,
		Source:     "auth_service",
		Attributes: attrs,
		At:         s.now().UTC(),
	})
}

// finish records the outcome of op on span and in the operation counter.
func (s *AuthService) finish(span trace.Span, op string, err error) {
	defer span.End()
	switch {
	case err == nil:
		authOps.WithLabelValues(op, "ok").Inc()
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrNicknameTaken), errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrInvalidOrExpiredToken), errors.Is(err, ErrInvalidToken):
		authOps.WithLabelValues(op, "rejected").Inc()
		span.SetAttributes(attribute.String("rejection", err.Error()))
	default:
		authOps.WithLabelValues(op, "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
