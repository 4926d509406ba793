// Package health tracks readiness of the service's dependencies and publishes it on the standard
// gRPC health service and the HTTP health endpoints.
package health

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the gRPC health service name reported alongside the overall ("") status.
const ServiceName = "session.v1.Authority"

const defaultCheckTimeout = 2 * time.Second

// Pinger is a dependency that can report whether it is reachable (e.g. *pgxpool.Pool).
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a function to Pinger.
type PingerFunc func(ctx context.Context) error

// Ping calls f.
func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// Checker pings registered dependencies. With no dependencies it always reports healthy.
type Checker struct {
	mu      sync.RWMutex
	pingers map[string]Pinger
	server  *grpchealth.Server
	logger  *zap.Logger
	timeout time.Duration
	last    error
}

// NewChecker returns a Checker publishing to server. server may be nil.
func NewChecker(server *grpchealth.Server, logger *zap.Logger) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{
		pingers: make(map[string]Pinger),
		server:  server,
		logger:  logger,
		timeout: defaultCheckTimeout,
	}
}

// Add registers a named dependency. A nil pinger is ignored.
func (c *Checker) Add(name string, p Pinger) {
	if p == nil {
		return
	}
	c.mu.Lock()
	c.pingers[name] = p
	c.mu.Unlock()
}

// Check pings every dependency and returns the joined failures, each prefixed by its name.
func (c *Checker) Check(ctx context.Context) error {
	c.mu.RLock()
	names := make([]string, 0, len(c.pingers))
	for name := range c.pingers {
		names = append(names, name)
	}
	c.mu.RUnlock()
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		c.mu.RLock()
		p := c.pingers[name]
		c.mu.RUnlock()
		pctx, cancel := context.WithTimeout(ctx, c.timeout)
		err := p.Ping(pctx)
		cancel()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Refresh runs Check once and publishes the result to the gRPC health server.
func (c *Checker) Refresh(ctx context.Context) error {
	err := c.Check(ctx)
	st := healthpb.HealthCheckResponse_SERVING
	if err != nil {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}

	c.mu.Lock()
	changed := (err == nil) != (c.last == nil)
	c.last = err
	c.mu.Unlock()
	if changed {
		if err != nil {
			c.logger.Warn("dependency check failed", zap.Error(err))
		} else {
			c.logger.Info("dependencies healthy")
		}
	}

	if c.server != nil {
		c.server.SetServingStatus("", st)
		c.server.SetServingStatus(ServiceName, st)
	}
	return err
}

// Run refreshes the status every interval until ctx is done, then marks the gRPC health
// server as shutting down.
func (c *Checker) Run(ctx context.Context, interval time.Duration) {
	_ = c.Refresh(ctx)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			if c.server != nil {
				c.server.Shutdown()
			}
			return
		case <-t.C:
			_ = c.Refresh(ctx)
		}
	}
}
