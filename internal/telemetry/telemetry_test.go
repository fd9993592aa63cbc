package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/orchestra/agent"
	"github.com/BaSui01/orchestra/config"
)

// saveAndRestoreGlobalProviders snapshots the current global OTel providers
// and restores them via t.Cleanup so tests don't leak state.
func saveAndRestoreGlobalProviders(t *testing.T) {
	t.Helper()
	origTP := otel.GetTracerProvider()
	origMP := otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(origTP)
		otel.SetMeterProvider(origMP)
	})
}

func enabledConfig() config.TelemetryConfig {
	return config.TelemetryConfig{
		Enabled:      true,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "orchestra-test",
		SampleRate:   1.0,
	}
}

func TestInit_Disabled(t *testing.T) {
	saveAndRestoreGlobalProviders(t)

	p, err := Init(config.TelemetryConfig{Enabled: false}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, p)

	assert.Nil(t, p.tp)
	assert.Nil(t, p.mp)
	assert.Nil(t, p.TracerProvider())
	assert.NoError(t, p.ForceFlush(context.Background()))
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestInit_InvalidSampleRate(t *testing.T) {
	cfg := enabledConfig()
	cfg.SampleRate = 1.5

	_, err := Init(cfg, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestInit_InstallsGlobalProviders(t *testing.T) {
	saveAndRestoreGlobalProviders(t)

	p, err := Init(enabledConfig(), zaptest.NewLogger(t),
		WithSpanExporter(tracetest.NewInMemoryExporter()),
		WithMetricReader(sdkmetric.NewManualReader()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	_, tpIsSDK := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	_, mpIsSDK := otel.GetMeterProvider().(*sdkmetric.MeterProvider)
	assert.True(t, tpIsSDK)
	assert.True(t, mpIsSDK)
}

func TestInit_ExportsAgentSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	p, err := Init(enabledConfig(), zaptest.NewLogger(t),
		WithVersion("1.2.3"),
		WithSpanExporter(exporter),
		WithMetricReader(sdkmetric.NewManualReader()),
		WithoutGlobal(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	a, err := agent.New(agent.Identity{Name: "echo"},
		agent.LogicFunc(func(ctx context.Context, task string, input map[string]any) (any, error) {
			return task, nil
		}),
		zaptest.NewLogger(t),
		agent.WithTracer(p.TracerProvider().Tracer("test")),
	)
	require.NoError(t, err)

	res := a.Submit(context.Background(), "hello", nil)
	require.True(t, res.Success)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.ForceFlush(ctx))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "agent.submit", spans[0].Name)

	var version string
	for _, kv := range spans[0].Resource.Attributes() {
		if kv.Key == "service.version" {
			version = kv.Value.AsString()
		}
	}
	assert.Equal(t, "1.2.3", version)
}

func TestProviders_Shutdown_Nil(t *testing.T) {
	var p *Providers
	assert.NoError(t, p.Shutdown(context.Background()))
	assert.NoError(t, p.ForceFlush(context.Background()))
}

func TestBuildVersion(t *testing.T) {
	// 测试二进制中 ReadBuildInfo 返回 (devel)
	assert.Equal(t, "dev", buildVersion())
}
