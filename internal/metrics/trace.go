package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/fluxorio/flowmesh/internal/engine")

// StartCommitSpan opens the "fsm.dispatch.commit" span wrapping one
// transition commit. Callers must call the returned func to end it;
// passing err records the span as failed when non-nil.
func StartCommitSpan(ctx context.Context, component, machine, instanceID, transition string) (context.Context, func(err error)) {
	ctx, span := tracer.Start(ctx, "fsm.dispatch.commit",
		trace.WithAttributes(
			attribute.String("fsm.component", component),
			attribute.String("fsm.machine", machine),
			attribute.String("fsm.instance_id", instanceID),
			attribute.String("fsm.transition", transition),
		),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}
}
