package core

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("imoveis.core")

var (
	// operationTotal counts service operations by name and outcome kind.
	operationTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "imoveis_operation_total",
		Help: "Total record operations by operation and result",
	}, []string{"operation", "result"})

	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "imoveis_operation_duration_seconds",
		Help:    "Record operation duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
	}, []string{"operation"})

	// rowsDeleted counts rows removed by cascade execution per table.
	rowsDeleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "imoveis_cascade_rows_deleted_total",
		Help: "Rows removed by record deletions, by table",
	}, []string{"table"})

	auxiliarySkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "imoveis_auxiliary_skipped_total",
		Help: "Auxiliary table statements skipped after a failure",
	}, []string{"table"})

	referenceFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "imoveis_reference_fallback_total",
		Help: "Reference resolutions that used a fallback, by category and kind",
	}, []string{"category", "kind"})
)

// startSpan opens a span for a service operation.
func startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Service."+op, trace.WithAttributes(attrs...))
}

// finishOperation records metrics and closes the span for an operation.
func finishOperation(span trace.Span, op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = string(KindOf(err))
		if result == "" {
			result = "error"
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, result)
	}
	span.SetAttributes(attribute.String("result", result))
	span.End()

	operationTotal.WithLabelValues(op, result).Inc()
	operationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
