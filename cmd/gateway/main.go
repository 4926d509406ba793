// gateway is the edge hop in front of the backend: it rejects requests without a valid access
// token and forwards the rest with X-User-Id and X-User-Name set.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"session-authority/backend/internal/config"
	"session-authority/backend/internal/gateway"
	"session-authority/backend/internal/obs"
	"session-authority/backend/internal/security"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.GatewayAddr == "" || cfg.GatewayUpstreamURL == "" {
		log.Fatal("gateway: GATEWAY_ADDR and GATEWAY_UPSTREAM_URL are required")
	}

	logger, err := obs.NewLogger(obs.LogConfig{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
		App:    "session-gateway",
		Env:    cfg.Env,
	})
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	secret, err := cfg.SigningSecret()
	if err != nil {
		logger.Fatal("JWT_SECRET", zap.Error(err))
	}
	codec, err := security.NewTokenCodec(secret, cfg.JWTIssuer, cfg.AccessTTL(), cfg.RefreshTTL())
	if err != nil {
		logger.Fatal("token codec", zap.Error(err))
	}
	upstream, err := url.Parse(cfg.GatewayUpstreamURL)
	if err != nil {
		logger.Fatal("GATEWAY_UPSTREAM_URL", zap.Error(err))
	}
	handler, err := gateway.NewHandler(gateway.Config{Upstream: upstream, Codec: codec, Logger: logger})
	if err != nil {
		logger.Fatal("gateway", zap.Error(err))
	}

	srv := &http.Server{
		Addr:              cfg.GatewayAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		logger.Info("gateway listening", zap.String("addr", cfg.GatewayAddr), zap.String("upstream", upstream.String()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("gateway serve", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("gateway shutdown", zap.Error(err))
	}
}
