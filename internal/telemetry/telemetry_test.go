package telemetry_test

import (
	"context"
	"testing"

	"github.com/jmerrifield20/IntegrityLedger/internal/config"
	"github.com/jmerrifield20/IntegrityLedger/internal/telemetry"
)

func TestSetup_NoopWhenEndpointEmpty(t *testing.T) {
	shutdown, err := telemetry.Setup(context.Background(), config.TelemetryConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := shutdown(ctx); err != nil {
		t.Fatalf("noop shutdown should not error: %v", err)
	}
}

func TestSetup_CreatesProviderWhenEndpointSet(t *testing.T) {
	// Non-routable address, nothing is exported before shutdown.
	shutdown, err := telemetry.Setup(context.Background(), config.TelemetryConfig{
		OTLPEndpoint: "http://192.0.2.1:4318",
		ServiceName:  "ledger-test",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}
