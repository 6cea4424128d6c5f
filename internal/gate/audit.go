package gate

import (
	"context"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/sebvermaak/rollbook/internal/gate"

// traceScan opens a server span for one scan append. The span is a no-op
// unless a tracer provider was registered at startup.
func traceScan(ctx context.Context, source string) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "gate.scan",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("scan.source", source)),
	)
	return ctx, span
}

// auditAcceptedScan stamps the appended movement onto the scan span.
func auditAcceptedScan(span trace.Span, learnerID, direction string, autoCorrected bool) {
	span.SetAttributes(
		attribute.String("scan.learner_id", learnerID),
		attribute.String("scan.direction", direction),
		attribute.Bool("scan.auto_corrected", autoCorrected),
	)
}

// auditRefusedScan marks the span failed and logs a line carrying the trace
// identifiers so gate logs line up with exported spans.
func auditRefusedScan(span trace.Span, code string, err error) {
	span.SetStatus(codes.Error, code)
	span.RecordError(err)
	if sc := span.SpanContext(); sc.IsValid() {
		log.Printf("scan refused code=%s trace_id=%s span_id=%s: %v", code, sc.TraceID(), sc.SpanID(), err)
		return
	}
	log.Printf("scan refused code=%s: %v", code, err)
}
