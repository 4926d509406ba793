package server

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"session-authority/backend/internal/security"
)

// mockServiceRegistrar implements grpc.ServiceRegistrar for testing.
type mockServiceRegistrar struct {
	callCount int
	services  []string
}

func (m *mockServiceRegistrar) RegisterService(desc *grpc.ServiceDesc, impl interface{}) {
	m.callCount++
	m.services = append(m.services, desc.ServiceName)
}

func TestRegisterServices_HealthRegistered(t *testing.T) {
	mockReg := &mockServiceRegistrar{}
	RegisterServices(mockReg, Deps{})

	if mockReg.callCount != 1 {
		t.Fatalf("RegisterService called %d times, want 1", mockReg.callCount)
	}
	if mockReg.services[0] != "grpc.health.v1.Health" {
		t.Errorf("service = %q, want grpc.health.v1.Health", mockReg.services[0])
	}
}

func TestRegisterServices_ReflectionNeedsGRPCServer(t *testing.T) {
	mockReg := &mockServiceRegistrar{}
	// Reflection is skipped for registrars that are not a *grpc.Server.
	RegisterServices(mockReg, Deps{Reflection: true})
	if mockReg.callCount != 1 {
		t.Errorf("RegisterService called %d times, want 1", mockReg.callCount)
	}
}

func TestNewGRPCServer_HealthIsPublic(t *testing.T) {
	hs := grpchealth.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	srv := NewGRPCServer(Deps{Codec: security.NewTestTokenCodec(), Health: hs})

	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()
	defer srv.Stop()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("Check without a token: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("status = %v, want SERVING", resp.GetStatus())
	}
}
