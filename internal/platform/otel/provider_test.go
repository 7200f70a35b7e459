package otel_test

import (
	"context"
	"testing"

	"github.com/louisbranch/bankdesk/internal/platform/otel"
)

func TestSetupNoopWhenEndpointEmpty(t *testing.T) {
	t.Setenv("BANKDESK_OTEL_ENDPOINT", "")
	t.Setenv("BANKDESK_OTEL_ENABLED", "")

	shutdown, err := otel.Setup(context.Background(), "desk")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSetupNoopWhenExplicitlyDisabled(t *testing.T) {
	t.Setenv("BANKDESK_OTEL_ENDPOINT", "http://localhost:4318")
	t.Setenv("BANKDESK_OTEL_ENABLED", "false")

	shutdown, err := otel.Setup(context.Background(), "desk")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSetupCreatesProviderWhenEndpointSet(t *testing.T) {
	// Non-routable address so no export actually happens.
	t.Setenv("BANKDESK_OTEL_ENDPOINT", "http://192.0.2.1:4318")
	t.Setenv("BANKDESK_OTEL_ENABLED", "")

	shutdown, err := otel.Setup(context.Background(), "desk")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}
