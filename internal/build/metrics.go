package build

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/fyrsmithlabs/membank/internal/build"

var (
	buildCounter  metric.Int64Counter
	buildDuration metric.Float64Histogram
)

// initMetrics initializes OpenTelemetry metrics for build runs.
// This is called once during package initialization.
func initMetrics() {
	meter := otel.Meter(instrumentationName)

	var err error

	buildCounter, err = meter.Int64Counter(
		"membank.builds",
		metric.WithDescription("Total number of build runs by mode and terminal state"),
		metric.WithUnit("{build}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create build counter: %v", err))
	}

	buildDuration, err = meter.Float64Histogram(
		"membank.build.duration",
		metric.WithDescription("Wall-clock duration of build runs"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create build duration: %v", err))
	}
}

func init() {
	initMetrics()
}

func observeBuildStart(ctx context.Context, mode string) {
	buildCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("build.mode", mode),
		attribute.String("build.state", string(StatePending)),
	))
}

func observeBuildEnd(ctx context.Context, state string, elapsed time.Duration) {
	attrs := metric.WithAttributes(attribute.String("build.state", state))
	buildCounter.Add(ctx, 1, attrs)
	buildDuration.Record(ctx, elapsed.Seconds(), attrs)
}
