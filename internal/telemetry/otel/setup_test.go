package otel

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestNewProviders_EmptyEndpoint(t *testing.T) {
	ctx := context.Background()
	providers, err := NewProviders(ctx, Config{ServiceName: "test-service"})
	if err != nil {
		t.Fatalf("NewProviders empty endpoint: %v", err)
	}
	if providers.TracerProvider == nil || providers.MeterProvider == nil || providers.LoggerProvider == nil {
		t.Fatal("providers should not be nil")
	}
	if err := providers.Shutdown(ctx); err != nil {
		t.Errorf("shutdown should be no-op for empty endpoint, got error: %v", err)
	}
}

func TestNewProviders_InvalidURL(t *testing.T) {
	for _, endpoint := range []string{"://invalid", "http://[invalid", "http://"} {
		if _, err := NewProviders(context.Background(), Config{Endpoint: endpoint}); err == nil {
			t.Errorf("NewProviders(%q) should return error", endpoint)
		}
	}
}

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		name         string
		endpoint     string
		override     bool
		wantTarget   string
		wantInsecure bool
	}{
		{"empty", "   ", false, "", false},
		{"host port", "localhost:4317", false, "localhost:4317", true},
		{"http", "http://collector:4317", false, "collector:4317", true},
		{"https uses tls", "https://collector:4317", false, "collector:4317", false},
		{"https insecure override", "https://collector:4317", true, "collector:4317", true},
		{"path dropped", "http://collector:4317/v1/traces", false, "collector:4317", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target, insecure, err := parseEndpoint(tt.endpoint, tt.override)
			if err != nil {
				t.Fatalf("parseEndpoint: %v", err)
			}
			if target != tt.wantTarget || insecure != tt.wantInsecure {
				t.Errorf("got (%q, %v), want (%q, %v)", target, insecure, tt.wantTarget, tt.wantInsecure)
			}
		})
	}
}

func TestSetGlobal_WithProviders(t *testing.T) {
	providers, err := NewProviders(context.Background(), Config{})
	if err != nil {
		t.Fatalf("NewProviders: %v", err)
	}
	oldTP := otel.GetTracerProvider()
	providers.SetGlobal()
	if otel.GetTracerProvider() == oldTP {
		t.Error("TracerProvider should be updated")
	}
}
