// Package instrumentation records OpenTelemetry spans and counters for grant operations.
// Without configured providers every call is a no-op.
package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const scope = "github.com/obot-platform/zoo-mcp-auth/pkg/grant"

const (
	AttrOperation = attribute.Key("oauth.operation")
	AttrClientID  = attribute.Key("oauth.client_id")
	AttrGrantType = attribute.Key("oauth.grant_type")
	AttrErrorCode = attribute.Key("oauth.error")
)

type Instrumentation struct {
	tracer trace.Tracer

	clientsRegistered metric.Int64Counter
	codesIssued       metric.Int64Counter
	tokensIssued      metric.Int64Counter
	failures          metric.Int64Counter
}

// Noop returns an Instrumentation backed by no-op providers.
func Noop() *Instrumentation {
	inst, _ := New(tracenoop.NewTracerProvider(), metricnoop.NewMeterProvider())
	return inst
}

func New(tp trace.TracerProvider, mp metric.MeterProvider) (*Instrumentation, error) {
	meter := mp.Meter(scope)

	clientsRegistered, err := meter.Int64Counter("oauth.clients.registered",
		metric.WithDescription("Clients created through dynamic registration"))
	if err != nil {
		return nil, fmt.Errorf("failed to create clients counter: %w", err)
	}
	codesIssued, err := meter.Int64Counter("oauth.codes.issued",
		metric.WithDescription("Authorization codes issued"))
	if err != nil {
		return nil, fmt.Errorf("failed to create codes counter: %w", err)
	}
	tokensIssued, err := meter.Int64Counter("oauth.tokens.issued",
		metric.WithDescription("Access tokens issued, by grant type"))
	if err != nil {
		return nil, fmt.Errorf("failed to create tokens counter: %w", err)
	}
	failures, err := meter.Int64Counter("oauth.failures",
		metric.WithDescription("Failed grant operations, by operation and OAuth error code"))
	if err != nil {
		return nil, fmt.Errorf("failed to create failures counter: %w", err)
	}

	return &Instrumentation{
		tracer:            tp.Tracer(scope),
		clientsRegistered: clientsRegistered,
		codesIssued:       codesIssued,
		tokensIssued:      tokensIssued,
		failures:          failures,
	}, nil
}

// Start opens a span named after the operation.
func (i *Instrumentation) Start(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return i.tracer.Start(ctx, "oauth."+operation,
		trace.WithAttributes(append(attrs, AttrOperation.String(operation))...))
}

// End closes span. A non-nil err marks the span failed and counts a failure under errorCode.
func (i *Instrumentation) End(ctx context.Context, span trace.Span, operation, errorCode string, err error) {
	defer span.End()
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}

	span.SetAttributes(AttrErrorCode.String(errorCode))
	span.SetStatus(codes.Error, errorCode)
	i.failures.Add(ctx, 1, metric.WithAttributes(
		AttrOperation.String(operation),
		AttrErrorCode.String(errorCode),
	))
}

func (i *Instrumentation) ClientRegistered(ctx context.Context) {
	i.clientsRegistered.Add(ctx, 1)
}

func (i *Instrumentation) CodeIssued(ctx context.Context, clientID string) {
	i.codesIssued.Add(ctx, 1, metric.WithAttributes(AttrClientID.String(clientID)))
}

func (i *Instrumentation) TokensIssued(ctx context.Context, grantType string) {
	i.tokensIssued.Add(ctx, 1, metric.WithAttributes(AttrGrantType.String(grantType)))
}
