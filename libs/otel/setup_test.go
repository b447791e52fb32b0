package otelx

import (
	"os"
	"testing"
)

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("OTEL_ENABLED", "false")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("OTEL_SAMPLING_RATIO", "0.25")

	cfg := ConfigFromEnv("booking")
	if cfg.Enabled {
		t.Fatal("expected tracing disabled")
	}
	if cfg.ServiceName != "booking" {
		t.Fatalf("service = %q, want booking", cfg.ServiceName)
	}
	if cfg.OTLPEndpoint != "collector:4317" {
		t.Fatalf("endpoint = %q", cfg.OTLPEndpoint)
	}
	if cfg.SampleRatio != 0.25 {
		t.Fatalf("sample ratio = %v, want 0.25", cfg.SampleRatio)
	}
}

func TestConfigFromEnvDefaults(t *testing.T) {
	// t.Setenv registers the restore; unset leaves the variable absent for
	// the duration of the test.
	for _, key := range []string{"OTEL_ENABLED", "OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_SAMPLING_RATIO"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	cfg := ConfigFromEnv("booking")
	if !cfg.Enabled {
		t.Fatal("expected tracing enabled by default")
	}
	if cfg.OTLPEndpoint != "jaeger:4317" {
		t.Fatalf("endpoint = %q, want jaeger:4317", cfg.OTLPEndpoint)
	}
	if cfg.SampleRatio != 1.0 {
		t.Fatalf("sample ratio = %v, want 1", cfg.SampleRatio)
	}
}
