// Package janitor reclaims expired sessions and revocation ledger entries on fixed schedules.
package janitor

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	sessiondomain "session-authority/backend/internal/session/domain"
	"session-authority/backend/internal/telemetry"
)

var (
	mPurged = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "session_janitor_purged_total",
		Help: "Rows deleted by the janitor.",
	}, []string{"table"})
	mErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "session_janitor_errors_total",
		Help: "Failed janitor purges.",
	}, []string{"job"})
	mDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "session_janitor_run_duration_seconds",
		Help:    "Janitor job duration.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	mExpiring = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "session_janitor_expiring_sessions",
		Help: "Live sessions whose refresh token expires within the look-ahead window at the last sweep.",
	})
)

// SessionStore is the part of the session repository the janitor needs.
type SessionStore interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
	FindExpiring(ctx context.Context, threshold time.Time) ([]*sessiondomain.Session, error)
}

// Ledger is the part of the revocation ledger the janitor needs.
type Ledger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
	PurgeRevokedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuditStore is the part of the audit repository the janitor needs.
type AuditStore interface {
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// defaultAuditRetention applies when WithAuditLog is given a non-positive retention.
const defaultAuditRetention = 90 * 24 * time.Hour

// Config holds the janitor schedules.
type Config struct {
	SweepInterval   time.Duration // expired sessions and ledger entries
	LedgerInterval  time.Duration // ledger retention
	LedgerRetention time.Duration // entries revoked longer ago than this are dropped
	PurgeTimeout    time.Duration // bound on each bulk delete
	ExpiringWithin  time.Duration // look-ahead for the expiring-sessions report; 0 disables it
}

// DefaultConfig returns the default schedules.
func DefaultConfig() Config {
	return Config{
		SweepInterval:   6 * time.Hour,
		LedgerInterval:  24 * time.Hour,
		LedgerRetention: 7 * 24 * time.Hour,
		PurgeTimeout:    30 * time.Second,
		ExpiringWithin:  time.Hour,
	}
}

// SweepResult counts what one sweep removed.
type SweepResult struct {
	Sessions int64
	Ledger   int64
	Expiring int
}

// Option configures a Janitor.
type Option func(*Janitor)

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(j *Janitor) { j.clock = now }
}

// WithEmitter sets the audit sink for purge events.
func WithEmitter(e telemetry.EventEmitter) Option {
	return func(j *Janitor) { j.emitter = e }
}

// WithAuditLog makes the retention job also drop audit entries older than retention.
func WithAuditLog(store AuditStore, retention time.Duration) Option {
	return func(j *Janitor) {
		if retention <= 0 {
			retention = defaultAuditRetention
		}
		j.audit = store
		j.auditRetention = retention
	}
}

// Janitor runs the sweep and ledger-retention jobs on independent tickers.
type Janitor struct {
	cfg      Config
	sessions SessionStore
	ledger   Ledger
	logger   *zap.Logger
	emitter  telemetry.EventEmitter
	clock    func() time.Time

	audit          AuditStore
	auditRetention time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New returns a Janitor. Zero durations in cfg take their defaults.
func New(cfg Config, sessions SessionStore, ledger Ledger, logger *zap.Logger, opts ...Option) *Janitor {
	def := DefaultConfig()
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if cfg.LedgerInterval <= 0 {
		cfg.LedgerInterval = def.LedgerInterval
	}
	if cfg.LedgerRetention <= 0 {
		cfg.LedgerRetention = def.LedgerRetention
	}
	if cfg.PurgeTimeout <= 0 {
		cfg.PurgeTimeout = def.PurgeTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	j := &Janitor{
		cfg:      cfg,
		sessions: sessions,
		ledger:   ledger,
		logger:   logger.Named("janitor"),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// SweepOnce deletes sessions past their refresh expiry and ledger entries past their token expiry.
// Both purges are attempted even if the first fails; errors are combined. Afterwards it reports
// live sessions whose refresh token expires within ExpiringWithin.
func (j *Janitor) SweepOnce(ctx context.Context) (SweepResult, error) {
	start := time.Now()
	defer func() { mDuration.WithLabelValues("sweep").Observe(time.Since(start).Seconds()) }()

	now := j.clock()
	var res SweepResult
	var errs []error

	n, err := j.purge(ctx, func(ctx context.Context) (int64, error) { return j.sessions.PurgeExpired(ctx, now) })
	if err != nil {
		mErrors.WithLabelValues("sessions").Inc()
		j.logger.Error("purge expired sessions failed", zap.Error(err))
		errs = append(errs, err)
	} else {
		res.Sessions = n
		mPurged.WithLabelValues("sessions").Add(float64(n))
	}

	n, err = j.purge(ctx, func(ctx context.Context) (int64, error) { return j.ledger.PurgeExpired(ctx, now) })
	if err != nil {
		mErrors.WithLabelValues("ledger").Inc()
		j.logger.Error("purge expired ledger entries failed", zap.Error(err))
		errs = append(errs, err)
	} else {
		res.Ledger = n
		mPurged.WithLabelValues("revoked_tokens").Add(float64(n))
	}

	if j.cfg.ExpiringWithin > 0 {
		expiring, err := j.findExpiring(ctx, now.Add(j.cfg.ExpiringWithin))
		if err != nil {
			j.logger.Warn("expiring sessions lookup failed", zap.Error(err))
		} else {
			res.Expiring = len(expiring)
			mExpiring.Set(float64(len(expiring)))
			for _, s := range expiring {
				j.logger.Debug("session expiring",
					zap.String("session_id", s.JTI),
					zap.String("subject_id", s.SubjectID),
					zap.Time("refresh_expires_at", s.RefreshExpiresAt),
				)
			}
		}
	}

	if res.Sessions > 0 || res.Ledger > 0 {
		j.logger.Info("sweep complete",
			zap.Int64("sessions", res.Sessions),
			zap.Int64("ledger", res.Ledger),
			zap.Int("expiring", res.Expiring),
		)
		j.emit(ctx, map[string]string{
			"job":      "sweep",
			"sessions": strconv.FormatInt(res.Sessions, 10),
			"ledger":   strconv.FormatInt(res.Ledger, 10),
		})
	}
	return res, errors.Join(errs...)
}

// PurgeLedgerRetention deletes ledger entries revoked more than LedgerRetention ago.
func (j *Janitor) PurgeLedgerRetention(ctx context.Context) (int64, error) {
	start := time.Now()
	defer func() { mDuration.WithLabelValues("ledger_retention").Observe(time.Since(start).Seconds()) }()

	cutoff := j.clock().Add(-j.cfg.LedgerRetention)
	n, err := j.purge(ctx, func(ctx context.Context) (int64, error) { return j.ledger.PurgeRevokedBefore(ctx, cutoff) })
	if err != nil {
		mErrors.WithLabelValues("ledger_retention").Inc()
		j.logger.Error("ledger retention purge failed", zap.Time("cutoff", cutoff), zap.Error(err))
		return 0, err
	}
	mPurged.WithLabelValues("revoked_tokens").Add(float64(n))
	if n > 0 {
		j.logger.Info("ledger retention purge complete", zap.Int64("ledger", n), zap.Time("cutoff", cutoff))
		j.emit(ctx, map[string]string{"job": "ledger_retention", "ledger": strconv.FormatInt(n, 10)})
	}
	return n, nil
}

// PurgeAuditRetention deletes audit entries older than the audit retention. It is a no-op
// without WithAuditLog.
func (j *Janitor) PurgeAuditRetention(ctx context.Context) (int64, error) {
	if j.audit == nil {
		return 0, nil
	}
	start := time.Now()
	defer func() { mDuration.WithLabelValues("audit_retention").Observe(time.Since(start).Seconds()) }()

	cutoff := j.clock().Add(-j.auditRetention)
	n, err := j.purge(ctx, func(ctx context.Context) (int64, error) { return j.audit.PurgeBefore(ctx, cutoff) })
	if err != nil {
		mErrors.WithLabelValues("audit_retention").Inc()
		j.logger.Error("audit retention purge failed", zap.Time("cutoff", cutoff), zap.Error(err))
		return 0, err
	}
	mPurged.WithLabelValues("session_audit_log").Add(float64(n))
	if n > 0 {
		j.logger.Info("audit retention purge complete", zap.Int64("audit", n), zap.Time("cutoff", cutoff))
	}
	return n, nil
}

// RunOnce runs every job once. Used by cron deployments.
func (j *Janitor) RunOnce(ctx context.Context) error {
	_, sweepErr := j.SweepOnce(ctx)
	_, retentionErr := j.PurgeLedgerRetention(ctx)
	_, auditErr := j.PurgeAuditRetention(ctx)
	return errors.Join(sweepErr, retentionErr, auditErr)
}

// Start runs a sweep immediately and then both jobs on their tickers until ctx is cancelled or
// Stop is called.
func (j *Janitor) Start(ctx context.Context) {
	ctx, j.cancel = context.WithCancel(ctx)
	j.wg.Add(2)
	go j.loop(ctx, j.cfg.SweepInterval, true, func(ctx context.Context) { _, _ = j.SweepOnce(ctx) })
	go j.loop(ctx, j.cfg.LedgerInterval, false, func(ctx context.Context) {
		_, _ = j.PurgeLedgerRetention(ctx)
		_, _ = j.PurgeAuditRetention(ctx)
	})
	j.logger.Info("janitor started",
		zap.Duration("sweep_interval", j.cfg.SweepInterval),
		zap.Duration("ledger_interval", j.cfg.LedgerInterval),
		zap.Duration("ledger_retention", j.cfg.LedgerRetention),
	)
}

// Stop cancels both loops and waits for an in-flight job to finish.
func (j *Janitor) Stop() {
	if j.cancel != nil {
		j.cancel()
	}
	j.wg.Wait()
}

func (j *Janitor) loop(ctx context.Context, interval time.Duration, immediate bool, job func(context.Context)) {
	defer j.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if immediate {
		job(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job(ctx)
		}
	}
}

func (j *Janitor) purge(ctx context.Context, fn func(context.Context) (int64, error)) (int64, error) {
	pctx, cancel := context.WithTimeout(ctx, j.cfg.PurgeTimeout)
	defer cancel()
	return fn(pctx)
}

func (j *Janitor) findExpiring(ctx context.Context, threshold time.Time) ([]*sessiondomain.Session, error) {
	fctx, cancel := context.WithTimeout(ctx, j.cfg.PurgeTimeout)
	defer cancel()
	return j.sessions.FindExpiring(fctx, threshold)
}

// emit is synchronous: the janitor already runs off the request path.
func (j *Janitor) emit(ctx context.Context, attrs map[string]string) {
	if j.emitter == nil {
		return
	}
	ectx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	err := j.emitter.Emit(ectx, &telemetry.Event{
		Type:       telemetry.EventPurge,
		Source:     "janitor",
		Attributes: attrs,
		At:         j.clock().UTC(),
	})
	if err != nil {
		j.logger.Warn("purge event emit failed", zap.Error(err))
	}
}
