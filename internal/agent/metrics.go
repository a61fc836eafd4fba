package agent

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/fyrsmithlabs/membank/internal/costs"
)

const instrumentationName = "github.com/fyrsmithlabs/membank/internal/agent"

var (
	invocationCounter  metric.Int64Counter
	invocationDuration metric.Float64Histogram
	tokenCounter       metric.Int64Counter
	turnHistogram      metric.Int64Histogram
	retryCounter       metric.Int64Counter
)

// initMetrics initializes OpenTelemetry metrics for agent invocations.
// This is called once during package initialization.
func initMetrics() {
	meter := otel.Meter(instrumentationName)

	var err error

	invocationCounter, err = meter.Int64Counter(
		"membank.agent.invocations",
		metric.WithDescription("Total number of agent invocations"),
		metric.WithUnit("{invocation}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create invocation counter: %v", err))
	}

	invocationDuration, err = meter.Float64Histogram(
		"membank.agent.invocation.duration",
		metric.WithDescription("Duration of agent invocations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create invocation duration: %v", err))
	}

	tokenCounter, err = meter.Int64Counter(
		"membank.agent.tokens",
		metric.WithDescription("Tokens consumed by agent invocations"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create token counter: %v", err))
	}

	turnHistogram, err = meter.Int64Histogram(
		"membank.agent.turns",
		metric.WithDescription("API round-trips per agent invocation"),
		metric.WithUnit("{turn}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create turn histogram: %v", err))
	}

	retryCounter, err = meter.Int64Counter(
		"membank.agent.retries",
		metric.WithDescription("Number of agent invocation retries"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create retry counter: %v", err))
	}
}

func init() {
	initMetrics()
}

func observeInvocation(ctx context.Context, role Role, turns int, usage costs.Usage, elapsed time.Duration) {
	attrs := metric.WithAttributes(attribute.String("agent.role", string(role)))
	invocationCounter.Add(ctx, 1, attrs)
	invocationDuration.Record(ctx, elapsed.Seconds(), attrs)
	tokenCounter.Add(ctx, int64(usage.Total()), attrs)
	turnHistogram.Record(ctx, int64(turns), attrs)
}

func observeRetry(ctx context.Context) {
	retryCounter.Add(ctx, 1)
}
