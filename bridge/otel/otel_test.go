// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package bridgeotel

import (
	"context"
	"testing"

	"github.com/Query-farm/native-bridge/bridge"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

const traceparent = "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"

type fixture struct {
	server *bridge.Server
	spans  *tracetest.SpanRecorder
	reader *sdkmetric.ManualReader
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	s := bridge.NewServer()
	s.SetServerID("otel-test")
	t.Cleanup(s.Close)

	_ = s.RegisterGeneral("echo", bridge.GeneralFunc(func(_ *bridge.CallContext, args []bridge.Value) ([]bridge.Value, error) {
		return args, nil
	}))
	_ = s.RegisterGeneral("fail", bridge.GeneralFunc(func(*bridge.CallContext, []bridge.Value) ([]bridge.Value, error) {
		return nil, bridge.NewAPIError("sensor offline")
	}))

	sr := tracetest.NewSpanRecorder()
	reader := sdkmetric.NewManualReader()
	cfg := DefaultConfig()
	cfg.TracerProvider = sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	cfg.MeterProvider = sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	cfg.Propagator = propagation.TraceContext{}
	if mutate != nil {
		mutate(&cfg)
	}
	InstrumentServer(s, cfg)
	return &fixture{server: s, spans: sr, reader: reader}
}

func (f *fixture) call(t *testing.T, path string, md map[string]string, args ...bridge.Value) bridge.Outcome {
	t.Helper()
	call, err := bridge.ParseCall(path)
	if err != nil {
		t.Fatal(err)
	}
	return f.server.Dispatch(context.Background(), &bridge.Request{
		Call:      call,
		Args:      args,
		RequestID: "req-1",
		Metadata:  md,
	})
}

func attrValue(attrs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, kv := range attrs {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestSpanForSuccessfulCall(t *testing.T) {
	f := newFixture(t, nil)
	out := f.call(t, "/echo", map[string]string{
		"traceparent": traceparent,
		"remote_addr": "127.0.0.1:50000",
	}, bridge.String("hi"))
	if out.Err != nil {
		t.Fatal(out.Err)
	}

	spans := f.spans.Ended()
	if len(spans) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(spans))
	}
	span := spans[0]
	if span.Name() != "native_bridge/echo" {
		t.Errorf("name = %q", span.Name())
	}
	if span.SpanKind() != trace.SpanKindServer {
		t.Errorf("kind = %v", span.SpanKind())
	}
	if got := span.Parent().TraceID().String(); got != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("parent trace id = %s", got)
	}
	if span.Status().Code != codes.Ok {
		t.Errorf("status = %v", span.Status())
	}

	want := map[string]string{
		"rpc.system":                   "native_bridge",
		"rpc.service":                  "otel-test",
		"rpc.method":                   "echo",
		"rpc.native_bridge.kind":       "general",
		"rpc.native_bridge.request_id": "req-1",
		"net.peer.ip":                  "127.0.0.1:50000",
	}
	for key, val := range want {
		got, ok := attrValue(span.Attributes(), key)
		if !ok || got.AsString() != val {
			t.Errorf("attribute %s = %v, want %q", key, got.Emit(), val)
		}
	}
	if got, _ := attrValue(span.Attributes(), "rpc.native_bridge.output_values"); got.AsInt64() != 1 {
		t.Errorf("output_values = %d, want 1", got.AsInt64())
	}
}

func TestSpanForFailedCall(t *testing.T) {
	f := newFixture(t, nil)
	if out := f.call(t, "/fail", nil); out.Err == nil {
		t.Fatal("expected error")
	}

	span := f.spans.Ended()[0]
	if span.Status().Code != codes.Error || span.Status().Description != "sensor offline" {
		t.Errorf("status = %+v", span.Status())
	}
	if got, _ := attrValue(span.Attributes(), "rpc.native_bridge.error_type"); got.AsString() != "api_error" {
		t.Errorf("error_type = %q", got.AsString())
	}
	if len(span.Events()) == 0 || span.Events()[0].Name != "exception" {
		t.Errorf("events = %+v, want an exception event", span.Events())
	}
}

func TestSpanNameIncludesAction(t *testing.T) {
	f := newFixture(t, nil)
	_ = f.server.RegisterPullStream("photoStream", &nopPull{})

	f.call(t, "/photoStream/nextValue", nil)
	span := f.spans.Ended()[0]
	if span.Name() != "native_bridge/photoStream/nextValue" {
		t.Errorf("name = %q", span.Name())
	}
	if got, _ := attrValue(span.Attributes(), "rpc.native_bridge.action"); got.AsString() != "nextValue" {
		t.Errorf("action = %q", got.AsString())
	}
}

func TestTracingDisabled(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.EnableTracing = false })
	f.call(t, "/echo", nil)
	if n := len(f.spans.Ended()); n != 0 {
		t.Fatalf("ended spans = %d, want 0", n)
	}
	if got := requestCount(t, f.reader); got != 1 {
		t.Fatalf("requests = %d, want 1", got)
	}
}

func TestRequestMetrics(t *testing.T) {
	f := newFixture(t, nil)
	f.call(t, "/echo", nil, bridge.String("abc"))
	f.call(t, "/fail", nil)
	f.call(t, "/missing", nil)

	// Unknown APIs never reach the hooks.
	if got := requestCount(t, f.reader); got != 2 {
		t.Fatalf("requests = %d, want 2", got)
	}
}

func requestCount(t *testing.T, reader *sdkmetric.ManualReader) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "rpc.server.requests" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("rpc.server.requests data = %T", m.Data)
			}
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

type nopPull struct{}

func (nopPull) Open(*bridge.CallContext, []bridge.Value) error { return nil }

func (nopPull) Next(*bridge.CallContext, []bridge.Value) ([]bridge.Value, error) {
	return []bridge.Value{bridge.Number(1)}, nil
}

func (nopPull) Close(*bridge.CallContext) {}
