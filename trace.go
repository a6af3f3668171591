// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package courier

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName   = "github.com/luxfi/courier"
	spanDispatch = "courier.dispatch"
)

func (c *Client) startSpan(ctx context.Context, info RequestInfo, lane string) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, spanDispatch,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("courier.request_id", info.ID),
			attribute.String("courier.endpoint", info.Endpoint),
			attribute.String("courier.method", string(info.Method)),
			attribute.String("courier.lane", lane),
			attribute.Bool("courier.encrypted", info.Encrypted),
			attribute.String("courier.response_type", info.ResponseType),
		),
	)
}

func endSpan(span trace.Span, err *Error) {
	defer span.End()
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	span.SetAttributes(attribute.String("courier.kind", string(err.Kind)))
	if err.Code != "" {
		span.SetAttributes(attribute.String("courier.code", err.Code))
	}
	if err.Status != 0 {
		span.SetAttributes(attribute.Int("courier.status", err.Status))
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
