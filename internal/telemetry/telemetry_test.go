package telemetry

import (
	"context"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/joelkehle/casegen/internal/config"
)

func TestSetupNoop(t *testing.T) {
	tp, shutdown, err := Setup(context.Background(), config.Telemetry{})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := tp.(*sdktrace.TracerProvider); ok {
		t.Fatal("expected a no-op provider without an endpoint")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestSetupOTLP(t *testing.T) {
	tp, shutdown, err := Setup(context.Background(), config.Telemetry{OTLPEndpoint: "localhost:4318", Insecure: true})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := tp.(*sdktrace.TracerProvider); !ok {
		t.Fatalf("expected sdk provider, got %T", tp)
	}
	_, span := tp.Tracer("test").Start(context.Background(), "noop")
	span.End()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = shutdown(ctx)
}
