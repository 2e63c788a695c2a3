package telemetry

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/trace"
)

// Telemetry combines logging, tracing and metrics.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Config  *Config
}

// telemetryContextKey is the context key for telemetry instances.
type telemetryContextKey struct{}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Config:  cfg,
	}, nil
}

// Nop returns telemetry that logs nothing, exports no traces and records
// no metrics.
func Nop() *Telemetry {
	cfg := DefaultConfig()
	cfg.Metrics.Enabled = false
	tracer, _ := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	metrics, _ := NewMetrics(cfg.Metrics)
	return &Telemetry{
		Logger:  NopLogger(),
		Tracer:  tracer,
		Metrics: metrics,
		Config:  cfg,
	}
}

// WithContext adds the telemetry instance to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	return t.Logger.WithContext(ctx)
}

// FromTelemetryContext retrieves the telemetry instance from the context,
// or nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown flushes and stops the tracer.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return t.Tracer.Shutdown(ctx)
}

// Flush forces all pending telemetry data to be exported.
func (t *Telemetry) Flush(ctx context.Context) error {
	return t.Tracer.ForceFlush(ctx)
}

// BatchScope carries the span, logger and timer of one running batch.
type BatchScope struct {
	Ctx       context.Context
	Logger    *Logger
	operation string
	span      trace.Span
	timer     *Timer
	metrics   *Metrics
}

// StartBatch opens a span and a batch-scoped logger for a creation or
// cleanup run and counts it as active.
func (t *Telemetry) StartBatch(ctx context.Context, operation, batchID string) *BatchScope {
	spanCtx, span := t.Tracer.StartBatchSpan(ctx, operation, batchID)

	logger := t.Logger.WithBatchID(batchID).WithField("operation", operation)
	if span.SpanContext().IsValid() {
		logger = logger.WithFields(map[string]interface{}{
			"trace_id": span.SpanContext().TraceID().String(),
			"span_id":  span.SpanContext().SpanID().String(),
		})
	}
	spanCtx = logger.WithContext(spanCtx)

	t.Metrics.RecordBatchStarted(operation)

	return &BatchScope{
		Ctx:       spanCtx,
		Logger:    logger,
		operation: operation,
		span:      span,
		timer:     NewTimer(),
		metrics:   t.Metrics,
	}
}

// End records the final status of the batch and closes its span.
func (s *BatchScope) End(status string, err error) {
	s.span.SetAttributes(AttrBatchStatus.String(status))
	if err != nil {
		RecordError(s.span, err)
	} else {
		RecordSuccess(s.span)
	}
	s.span.End()

	s.metrics.RecordBatchFinished(s.operation, status, s.timer.Duration())
}

// classifiedError is implemented by remote errors that carry a class.
type classifiedError interface {
	error
	ErrorClass() string
}

// ErrorClassOf returns the class label of err, "unknown" when the error
// does not carry one.
func ErrorClassOf(err error) string {
	var ce classifiedError
	if errors.As(err, &ce) {
		return ce.ErrorClass()
	}
	return "unknown"
}

// RecordRemoteCall runs fn inside a remote-call span and records its
// duration and failure class.
func (t *Telemetry) RecordRemoteCall(ctx context.Context, operation, resourceType string, fn func(ctx context.Context) error) error {
	ctx, span := t.Tracer.StartRemoteSpan(ctx, operation, resourceType)
	defer span.End()

	timer := NewTimer()
	err := fn(ctx)
	t.Metrics.RecordRemoteCall(operation, resourceType, timer.Duration())

	if err != nil {
		class := ErrorClassOf(err)
		t.Metrics.RecordRemoteError(operation, class)
		span.SetAttributes(AttrErrorClass.String(class))
		RecordError(span, err)
		return err
	}
	RecordSuccess(span)
	return nil
}
