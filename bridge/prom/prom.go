// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package bridgeprom exports bridge dispatch metrics to Prometheus.
//
// Metrics collected (with the default namespace):
//   - native_bridge_calls_total: calls by api, kind and status
//   - native_bridge_call_duration_seconds: call latency by api and kind
//   - native_bridge_response_bytes_total: bytes returned by api
//   - native_bridge_live_channels: registered push channels
//   - native_bridge_pending_blobs: side-stored blobs not yet fetched
//   - native_bridge_pending_blob_bytes: total size of those blobs
package bridgeprom

import (
	"context"
	"net/http"
	"time"

	"github.com/Query-farm/native-bridge/bridge"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config configures the Prometheus hook.
type Config struct {
	// Namespace is the metrics namespace (default: "native_bridge").
	Namespace string
	// ConstLabels are added to every metric.
	ConstLabels prometheus.Labels
	// Buckets are the latency histogram buckets (default: prometheus.DefBuckets).
	Buckets []float64
	// Registry receives the metrics (default: prometheus.DefaultRegisterer).
	Registry prometheus.Registerer
}

// Option configures the Prometheus hook.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) { c.Namespace = namespace }
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) { c.ConstLabels = labels }
}

// WithBuckets sets the latency histogram buckets.
func WithBuckets(buckets []float64) Option {
	return func(c *Config) { c.Buckets = buckets }
}

// WithRegistry sets the registry metrics are registered with.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) { c.Registry = registry }
}

func defaultConfig() Config {
	return Config{
		Namespace: "native_bridge",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Metrics is the hook installed by Instrument.
type Metrics struct {
	calls         *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	responseBytes *prometheus.CounterVec
}

// Instrument registers the bridge metrics and adds the hook to server.
// Registering twice with the same registry panics, as promauto does.
func Instrument(server *bridge.Server, opts ...Option) *Metrics {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	factory := promauto.With(cfg.Registry)

	m := &Metrics{
		calls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "calls_total",
			Help:        "Total number of bridge API calls",
			ConstLabels: cfg.ConstLabels,
		}, []string{"api", "kind", "status"}),

		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   cfg.Namespace,
			Name:        "call_duration_seconds",
			Help:        "Bridge API call duration in seconds, including queueing",
			ConstLabels: cfg.ConstLabels,
			Buckets:     cfg.Buckets,
		}, []string{"api", "kind"}),

		responseBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "response_bytes_total",
			Help:        "Total bytes returned by bridge API calls",
			ConstLabels: cfg.ConstLabels,
		}, []string{"api"}),
	}

	channels := server.Channels()
	store := server.Store()
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   cfg.Namespace,
		Name:        "live_channels",
		Help:        "Number of registered push-stream channels",
		ConstLabels: cfg.ConstLabels,
	}, func() float64 { return float64(channels.Len()) })
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   cfg.Namespace,
		Name:        "pending_blobs",
		Help:        "Number of side-stored blobs not yet retrieved",
		ConstLabels: cfg.ConstLabels,
	}, func() float64 { return float64(store.Len()) })
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   cfg.Namespace,
		Name:        "pending_blob_bytes",
		Help:        "Total size of side-stored blobs not yet retrieved",
		ConstLabels: cfg.ConstLabels,
	}, func() float64 { return float64(store.Size()) })

	server.AddDispatchHook(m)
	return m
}

// OnDispatchStart implements bridge.DispatchHook.
func (m *Metrics) OnDispatchStart(ctx context.Context, _ bridge.DispatchInfo) (context.Context, bridge.HookToken) {
	return ctx, time.Now()
}

// OnDispatchEnd implements bridge.DispatchHook.
func (m *Metrics) OnDispatchEnd(_ context.Context, token bridge.HookToken, info bridge.DispatchInfo, stats *bridge.CallStatistics, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	kind := info.Kind.String()
	m.calls.WithLabelValues(info.API, kind, status).Inc()
	if start, ok := token.(time.Time); ok {
		m.duration.WithLabelValues(info.API, kind).Observe(time.Since(start).Seconds())
	}
	if stats != nil && stats.OutputBytes > 0 {
		m.responseBytes.WithLabelValues(info.API).Add(float64(stats.OutputBytes))
	}
}

// Handler serves the metrics gathered by g, for mounting on the bridge
// transport.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
