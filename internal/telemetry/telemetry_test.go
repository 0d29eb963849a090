package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/aristath/jobpipe/internal/config"
	"github.com/aristath/jobpipe/internal/scheduler"
	"github.com/aristath/jobpipe/internal/timerange"
)

type noopTask struct{}

func (noopTask) Execute(context.Context, *scheduler.TaskContext) error { return nil }
func (noopTask) Output(*scheduler.TaskContext) scheduler.Output        { return nil }

func TestSetup_Disabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TelemetrySettings{})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetup_Enabled(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	shutdown, err := Setup(context.Background(), config.TelemetrySettings{
		Enabled:  true,
		Endpoint: "127.0.0.1:4318",
		Insecure: true,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, shutdown(ctx), "nothing buffered, nothing to send")
}

func TestProvider_RecordsExecutionSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp, err := NewProvider(exporter, "jobpipe-test")
	require.NoError(t, err)

	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	s, err := scheduler.NewBuilder("2015-01-14T10:00/2015-01-14T10:03").
		PollInterval(5 * time.Millisecond).
		Task(noopTask{}).ID("tick").Granularity(timerange.Minute).Add().
		Execute()
	require.NoError(t, err)
	defer s.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))
	require.NoError(t, tp.ForceFlush(ctx))

	spans := exporter.GetSpans()
	require.Len(t, spans, 3)
	assert.Equal(t, "jobpipe.execute", spans[0].Name)
}
