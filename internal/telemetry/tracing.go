package telemetry

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/JakeFAU/research-scraper"

// Tracer returns the scraper's tracer from the global provider. It is a
// no-op until InitTelemetry runs.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// EndSpan marks span as failed when err is non-nil and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// FailSpan marks span as failed with a plain reason, for outcomes that are
// reported as data rather than errors.
func FailSpan(span trace.Span, reason string) {
	span.SetStatus(codes.Error, reason)
}
