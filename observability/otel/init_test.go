package otel

import (
	"context"
	"testing"
	"time"
)

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders("authorization=Bearer abc, x-tenant = shop ,broken,=skip")
	if len(headers) != 2 {
		t.Fatalf("expected 2 headers, got %v", headers)
	}
	if headers["authorization"] != "Bearer abc" || headers["x-tenant"] != "shop" {
		t.Fatalf("unexpected headers %v", headers)
	}
}

func TestConfigFromEnvDisabledWithoutEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	cfg := ConfigFromEnv("loyaltyd", "test")
	if cfg.Metrics || cfg.Traces {
		t.Fatalf("telemetry should be disabled: %+v", cfg)
	}
	shutdown, err := Init(context.Background(), cfg)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestConfigFromEnvStripsScheme(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://collector:4318")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "true")
	cfg := ConfigFromEnv("loyaltyd", "")
	if cfg.Endpoint != "collector:4318" || !cfg.Insecure || !cfg.Traces {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestConfigFromEnvSamplingAndInterval(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4318")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.25")
	t.Setenv("OTEL_METRIC_EXPORT_INTERVAL", "5000")
	cfg := ConfigFromEnv("loyalty-gateway", "prod")
	if cfg.SampleRatio != 0.25 {
		t.Fatalf("unexpected sample ratio %v", cfg.SampleRatio)
	}
	if cfg.MetricInterval != 5*time.Second {
		t.Fatalf("unexpected metric interval %v", cfg.MetricInterval)
	}

	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "7")
	if got := ConfigFromEnv("loyalty-gateway", "prod").SampleRatio; got != 0 {
		t.Fatalf("out of range ratio should be ignored, got %v", got)
	}
}
