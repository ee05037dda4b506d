package orchestration

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const scopeName = "github.com/koscakluka/ema-companion/core"

var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)
	logger = otelslog.NewLogger(scopeName)
)

var (
	transitionCounter  = mustCounter("companion.transitions", "State transitions performed by the control loop")
	directiveCounter   = mustCounter("companion.directives.resolved", "Wake directives resolved by the control loop")
	collaboratorFaults = mustCounter("companion.collaborator.faults", "Unexpected failures raised by collaborators")
)

func mustCounter(name, description string) metric.Int64Counter {
	counter, err := meter.Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		logger.Warn("failed to create counter", "name", name, "error", err)
		return noop.Int64Counter{}
	}
	return counter
}
