// Package telemetry exports machine traces as OpenTelemetry spans.
package telemetry

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/stateforward/go-fsm"
)

const Name = "github.com/stateforward/go-fsm"

func stringify(values []any) []string {
	result := make([]string, len(values))
	for i, value := range values {
		result[i] = fmt.Sprint(value)
	}
	return result
}

// Trace records every traced step of a machine as a span, a child of the
// span in the context the step was started with. The returned trace keeps no
// state between calls and may be shared by machines stepped concurrently.
func Trace(tracer trace.Tracer) fsm.Trace {
	return func(ctx context.Context, element fsm.Element, step string, values ...any) (context.Context, func(...any)) {
		ctx, span := tracer.Start(ctx, step, trace.WithAttributes(
			attribute.String("fsm.name", element.Name()),
			attribute.String("fsm.id", element.Id()),
			attribute.StringSlice("fsm.inputs", stringify(values)),
		))
		return ctx, func(results ...any) {
			defer span.End()
			if len(results) == 1 {
				if err, ok := results[0].(error); ok && errors.Is(err, fsm.ErrAborted) {
					span.RecordError(err)
					span.SetStatus(codes.Error, err.Error())
					return
				}
			}
			span.SetAttributes(attribute.StringSlice("fsm.outputs", stringify(results)))
			if len(results) > 0 {
				if ok, isBool := results[len(results)-1].(bool); isBool && !ok {
					span.AddEvent("rejected")
				}
			}
			span.SetStatus(codes.Ok, "")
		}
	}
}

// Default traces with the globally registered tracer provider.
func Default() fsm.Trace {
	return Trace(otel.Tracer(Name))
}
