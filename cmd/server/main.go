package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	grpchealth "google.golang.org/grpc/health"

	"session-authority/backend/internal/app"
	"session-authority/backend/internal/config"
	"session-authority/backend/internal/health"
	"session-authority/backend/internal/obs"
	"session-authority/backend/internal/server"
	"session-authority/backend/internal/server/httpapi"
	"session-authority/backend/internal/telemetry"
	"session-authority/backend/internal/telemetry/loki"
	telemetryotel "session-authority/backend/internal/telemetry/otel"
)

const (
	serviceName     = "session-authority"
	version         = "dev"
	healthInterval  = 15 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := obs.NewLogger(obs.LogConfig{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
		App:    serviceName,
		Env:    cfg.Env,
		Ver:    version,
	})
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := telemetryotel.NewProviders(ctx, telemetryotel.Config{
		Endpoint:       cfg.OTelEndpoint,
		Insecure:       cfg.OTelInsecure,
		ServiceName:    serviceName,
		ServiceVersion: version,
	})
	if err != nil {
		logger.Fatal("otel providers", zap.Error(err))
	}
	providers.SetGlobal()

	emitters := telemetry.MultiEmitter{telemetryotel.NewEventEmitter(providers.LoggerProvider)}
	if cfg.LokiURL != "" {
		lc, err := loki.NewClient(cfg.LokiURL, serviceName, 5*time.Second)
		if err != nil {
			logger.Fatal("loki client", zap.Error(err))
		}
		emitters = append(emitters, lc)
	}

	a, err := app.Build(ctx, cfg, logger, emitters)
	if err != nil {
		logger.Fatal("build", zap.Error(err))
	}

	healthServer := grpchealth.NewServer()
	checker := health.NewChecker(healthServer, logger)
	a.RegisterPingers(checker)
	go checker.Run(ctx, healthInterval)

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		metricsSrv = obs.BootstrapMetricsServer(cfg.MetricsAddr, checker.Check, logger,
			obs.Route{Pattern: "/sessions/stats", Handler: httpapi.StatsHandler(a.Auth, logger)})
	}

	grpcSrv := server.NewGRPCServer(server.Deps{
		Codec:      a.Codec,
		Logger:     logger,
		Health:     healthServer,
		Reflection: !cfg.IsProduction(),
	})
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Fatal("listen", zap.String("addr", cfg.GRPCAddr), zap.Error(err))
	}
	go func() {
		logger.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcSrv.Serve(lis); err != nil {
			logger.Error("grpc serve", zap.Error(err))
			stop()
		}
	}()

	trusted, err := cfg.TrustedProxyPrefixes()
	if err != nil {
		logger.Fatal("trusted proxies", zap.Error(err))
	}
	httpSrv := httpapi.NewServer(cfg.HTTPAddr, httpapi.NewRouter(httpapi.Config{
		Auth:            a.Auth,
		Audit:           a.Audit,
		Codec:           a.Codec,
		Logger:          logger,
		Health:          checker.Check,
		LoginRatePerMin: cfg.LoginRatePerMin,
		CORSOrigins:     cfg.CORSOrigins(),
		TrustedProxies:  trusted,
	}))
	go func() {
		logger.Info("HTTP API listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http serve", zap.Error(err))
			stop()
		}
	}()

	a.Janitor.Start(ctx)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	grpcSrv.GracefulStop()
	a.Janitor.Stop()
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}

	// Let in-flight audit emits finish before the log exporter goes away.
	time.Sleep(telemetry.ShutdownDrainDuration)
	if err := providers.Shutdown(shutdownCtx); err != nil {
		logger.Warn("otel shutdown", zap.Error(err))
	}
	a.Close()
	logger.Info("stopped")
}
