package tracing

import (
	"context"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestSetupWithoutEndpointIsNoop(t *testing.T) {
	provider, err := Setup(context.Background(), Config{})
	if err != nil {
		t.Fatalf("Setup returned error: %v", err)
	}
	if provider.tp != nil {
		t.Fatal("expected no sdk provider without an endpoint")
	}
	if err := provider.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown on noop provider returned error: %v", err)
	}

	_, span := Tracer("test").Start(context.Background(), "noop")
	defer span.End()
	if span.SpanContext().IsValid() {
		t.Fatal("expected noop tracer to produce invalid span contexts")
	}
}

func TestConfigEnabled(t *testing.T) {
	if (Config{Endpoint: "  "}).Enabled() {
		t.Fatal("blank endpoint should disable tracing")
	}
	if !(Config{Endpoint: "collector:4318"}).Enabled() {
		t.Fatal("endpoint should enable tracing")
	}
}

func TestSamplerBounds(t *testing.T) {
	cases := []struct {
		ratio float64
		want  string
	}{
		{ratio: 1, want: sdktrace.AlwaysSample().Description()},
		{ratio: 5, want: sdktrace.AlwaysSample().Description()},
		{ratio: 0, want: sdktrace.NeverSample().Description()},
		{ratio: -1, want: sdktrace.NeverSample().Description()},
		{ratio: 0.25, want: sdktrace.TraceIDRatioBased(0.25).Description()},
	}
	for _, tc := range cases {
		if got := sampler(tc.ratio).Description(); got != tc.want {
			t.Fatalf("sampler(%v) = %q, want %q", tc.ratio, got, tc.want)
		}
	}
}

func TestNilProviderShutdown(t *testing.T) {
	var provider *Provider
	if err := provider.Shutdown(context.Background()); err != nil {
		t.Fatalf("expected nil provider shutdown to succeed, got %v", err)
	}
}
