package orchestrator

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/hairizuan-noorazman/ui-orchestrator/orchestrator"

// tracer uses the global provider so spans go wherever the binary sends them,
// and nowhere by default.
func tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}
