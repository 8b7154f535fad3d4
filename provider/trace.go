package provider

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Tracer wraps the Search Coordinator and Write Interceptor's entry points
// in spans when a tracer has been supplied, and is a no-op otherwise — it
// never becomes a hard runtime dependency for the core algorithm.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer returns a Tracer using the given name for span grouping. If
// name is empty, it falls back to the package's own instrumentation name.
func NewTracer(name string) *Tracer {
	if name == "" {
		name = "github.com/dirsync/syncprov/provider"
	}
	return &Tracer{tracer: otel.Tracer(name)}
}

// StartSpan starts a span named op, returning the derived context and an
// end function the caller must defer.
func (t *Tracer) StartSpan(ctx context.Context, op string) (context.Context, func()) {
	if t == nil || t.tracer == nil {
		return ctx, func() {}
	}
	ctx, span := t.tracer.Start(ctx, op)
	return ctx, func() { span.End() }
}

// WithTracer attaches tr to co, wrapping Handle in a span named
// "coordinator.Handle". A nil tr leaves co untraced.
func (co *Coordinator) WithTracer(tr *Tracer) *Coordinator {
	co.tracer = tr
	return co
}

// WithTracer attaches tr to in, wrapping Before/After in spans. A nil tr
// leaves in untraced.
func (in *Interceptor) WithTracer(tr *Tracer) *Interceptor {
	in.tracer = tr
	return in
}
