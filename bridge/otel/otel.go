// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package bridgeotel provides OpenTelemetry instrumentation for a bridge
// dispatcher. It implements [bridge.DispatchHook] to add a server span and
// request metrics around every API call.
//
// Usage:
//
//	server := bridge.NewServer()
//	// ... register APIs ...
//	bridgeotel.InstrumentServer(server, bridgeotel.DefaultConfig())
package bridgeotel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Query-farm/native-bridge/bridge"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "native_bridge"
	rpcSystem           = "native_bridge"
)

// Config configures OpenTelemetry instrumentation.
type Config struct {
	// TracerProvider supplies the tracer. Defaults to otel.GetTracerProvider().
	TracerProvider trace.TracerProvider
	// MeterProvider supplies the meter. Defaults to otel.GetMeterProvider().
	MeterProvider metric.MeterProvider
	// Propagator extracts trace context from request headers.
	// Defaults to otel.GetTextMapPropagator().
	Propagator propagation.TextMapPropagator
	// EnableTracing enables span creation. Default true.
	EnableTracing bool
	// EnableMetrics enables counter and histogram recording. Default true.
	EnableMetrics bool
	// RecordExceptions calls RecordError on the span for failed calls.
	// Default true.
	RecordExceptions bool
	// ServiceName is the rpc.service attribute value.
	// Defaults to Server.ServerID() or "native-bridge".
	ServiceName string
	// CustomAttributes are added to every span.
	CustomAttributes []attribute.KeyValue
}

// DefaultConfig returns a Config with tracing, metrics and exception
// recording enabled. Providers are resolved from the global SDK at
// instrumentation time.
func DefaultConfig() Config {
	return Config{
		EnableTracing:    true,
		EnableMetrics:    true,
		RecordExceptions: true,
	}
}

// InstrumentServer adds the OpenTelemetry hook to server. Other hooks stay
// installed.
func InstrumentServer(server *bridge.Server, cfg Config) {
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = otel.GetMeterProvider()
	}
	if cfg.Propagator == nil {
		cfg.Propagator = otel.GetTextMapPropagator()
	}
	if cfg.ServiceName == "" {
		if id := server.ServerID(); id != "" {
			cfg.ServiceName = id
		} else {
			cfg.ServiceName = "native-bridge"
		}
	}

	hook := &otelHook{
		cfg:    cfg,
		tracer: cfg.TracerProvider.Tracer(instrumentationName),
	}

	if cfg.EnableMetrics {
		meter := cfg.MeterProvider.Meter(instrumentationName)
		hook.requestCounter, _ = meter.Int64Counter("rpc.server.requests",
			metric.WithUnit("{request}"),
			metric.WithDescription("Number of bridge API calls"),
		)
		hook.durationHistogram, _ = meter.Float64Histogram("rpc.server.duration",
			metric.WithUnit("s"),
			metric.WithDescription("Duration of bridge API calls, including time queued behind other calls"),
		)
		hook.bytesCounter, _ = meter.Int64Counter("rpc.server.response_bytes",
			metric.WithUnit("By"),
			metric.WithDescription("Bytes returned by bridge API calls"),
		)
	}

	server.AddDispatchHook(hook)
}

type otelHook struct {
	cfg               Config
	tracer            trace.Tracer
	requestCounter    metric.Int64Counter
	durationHistogram metric.Float64Histogram
	bytesCounter      metric.Int64Counter
}

type spanToken struct {
	span      trace.Span
	startTime time.Time
}

func spanName(info bridge.DispatchInfo) string {
	if info.Action != "" {
		return fmt.Sprintf("native_bridge/%s/%s", info.API, info.Action)
	}
	return "native_bridge/" + info.API
}

// OnDispatchStart extracts the parent trace context and starts a server span.
func (h *otelHook) OnDispatchStart(ctx context.Context, info bridge.DispatchInfo) (context.Context, bridge.HookToken) {
	if h.cfg.Propagator != nil && info.TransportMetadata != nil {
		ctx = h.cfg.Propagator.Extract(ctx, propagation.MapCarrier(info.TransportMetadata))
	}

	if !h.cfg.EnableTracing {
		return ctx, &spanToken{startTime: time.Now()}
	}

	attrs := []attribute.KeyValue{
		attribute.String("rpc.system", rpcSystem),
		attribute.String("rpc.service", h.cfg.ServiceName),
		attribute.String("rpc.method", info.API),
		attribute.String("rpc.native_bridge.kind", info.Kind.String()),
		attribute.String("rpc.native_bridge.request_id", info.RequestID),
	}
	if info.Action != "" {
		attrs = append(attrs, attribute.String("rpc.native_bridge.action", info.Action))
	}
	attrs = append(attrs, h.cfg.CustomAttributes...)

	if v := info.TransportMetadata["remote_addr"]; v != "" {
		attrs = append(attrs, attribute.String("net.peer.ip", v))
	}
	if v := info.TransportMetadata["user_agent"]; v != "" {
		attrs = append(attrs, attribute.String("user_agent.original", v))
	}

	ctx, span := h.tracer.Start(ctx, spanName(info),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attrs...),
	)
	return ctx, &spanToken{span: span, startTime: time.Now()}
}

// OnDispatchEnd records metrics and ends the span.
func (h *otelHook) OnDispatchEnd(ctx context.Context, token bridge.HookToken, info bridge.DispatchInfo, stats *bridge.CallStatistics, err error) {
	st, ok := token.(*spanToken)
	if !ok {
		return
	}
	duration := time.Since(st.startTime)

	status := "ok"
	if err != nil {
		status = "error"
	}

	if h.cfg.EnableMetrics {
		metricAttrs := metric.WithAttributes(
			attribute.String("rpc.system", rpcSystem),
			attribute.String("rpc.service", h.cfg.ServiceName),
			attribute.String("rpc.method", info.API),
			attribute.String("rpc.native_bridge.kind", info.Kind.String()),
			attribute.String("status", status),
		)
		if h.requestCounter != nil {
			h.requestCounter.Add(ctx, 1, metricAttrs)
		}
		if h.durationHistogram != nil {
			h.durationHistogram.Record(ctx, duration.Seconds(), metricAttrs)
		}
		if h.bytesCounter != nil && stats != nil && stats.OutputBytes > 0 {
			h.bytesCounter.Add(ctx, stats.OutputBytes, metricAttrs)
		}
	}

	if st.span == nil || !st.span.IsRecording() {
		return
	}
	if stats != nil {
		st.span.SetAttributes(
			attribute.Int64("rpc.native_bridge.input_args", stats.InputArgs),
			attribute.Int64("rpc.native_bridge.output_values", stats.OutputValues),
			attribute.Int64("rpc.native_bridge.input_bytes", stats.InputBytes),
			attribute.Int64("rpc.native_bridge.output_bytes", stats.OutputBytes),
			attribute.Bool("rpc.native_bridge.streamed", stats.Streamed),
		)
	}
	if err != nil {
		st.span.SetStatus(codes.Error, err.Error())
		if h.cfg.RecordExceptions {
			st.span.RecordError(err)
		}
		errType := fmt.Sprintf("%T", err)
		var apiErr *bridge.APIError
		if errors.As(err, &apiErr) {
			errType = "api_error"
		}
		st.span.SetAttributes(attribute.String("rpc.native_bridge.error_type", errType))
	} else {
		st.span.SetStatus(codes.Ok, "")
	}
	st.span.End()
}
