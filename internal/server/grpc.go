package server

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"session-authority/backend/internal/security"
	"session-authority/backend/internal/server/interceptors"
)

// Health methods are reachable without a bearer token and are not logged.
var publicMethods = map[string]bool{
	healthpb.Health_Check_FullMethodName: true,
	healthpb.Health_Watch_FullMethodName: true,
}

// Deps holds the gRPC server dependencies.
type Deps struct {
	// Codec validates bearer tokens on protected RPCs. Required.
	Codec *security.TokenCodec
	// Logger receives one line per RPC. If nil, RPCs are not logged.
	Logger *zap.Logger
	// Health is the standard health service, updated by health.Checker. If nil, a fresh one is created.
	Health *grpchealth.Server
	// Reflection registers the server reflection service (development only).
	Reflection bool
}

// NewGRPCServer returns a gRPC server with the stateless edge check, request logging and OTel
// instrumentation installed, and the standard health service registered.
func NewGRPCServer(deps Deps) *grpc.Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			interceptors.LoggingUnary(logger, publicMethods),
			interceptors.AuthUnary(deps.Codec, publicMethods),
		),
	)
	RegisterServices(s, deps)
	return s
}

// RegisterServices registers the services of this process with s.
func RegisterServices(s grpc.ServiceRegistrar, deps Deps) {
	hs := deps.Health
	if hs == nil {
		hs = grpchealth.NewServer()
	}
	healthpb.RegisterHealthServer(s, hs)
	if deps.Reflection {
		if gs, ok := s.(*grpc.Server); ok {
			reflection.Register(gs)
		}
	}
}
