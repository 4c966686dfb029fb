// Package observe holds the gateway's telemetry: the session and tool
// instruments in [Metrics], the session span and trace-aware loggers, and the
// HTTP middleware.
//
// [Setup] installs the otel providers and bridges metrics into Prometheus for
// /metrics. Tests build their own [Metrics] with [NewMetrics] over a
// ManualReader instead of the process-wide [DefaultMetrics].
package observe

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/ipovoice"

// Metrics holds the gateway's instruments. Attribute keys are noted per field.
type Metrics struct {
	ActiveSessions  metric.Int64UpDownCounter
	Sessions        metric.Int64Counter // outcome
	SessionDuration metric.Float64Histogram

	ModelConnectDuration metric.Float64Histogram // provider, status
	ProviderErrors       metric.Int64Counter     // provider, kind

	ToolCalls    metric.Int64Counter     // tool, status
	ToolDuration metric.Float64Histogram // tool, status

	AudioBytes    metric.Int64Counter // direction: inbound | outbound
	DroppedFrames metric.Int64Counter // reason
	VADEvents     metric.Int64Counter // type: start | end
	VADFailures   metric.Int64Counter

	// HTTPRequestDuration spans the whole session for websocket upgrades.
	HTTPRequestDuration metric.Float64Histogram // method, route, status
}

// Histogram boundaries in seconds.
var (
	latencyBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	sessionBuckets = []float64{1, 5, 15, 30, 60, 120, 300, 600, 900}
)

// instruments collects the first creation error so NewMetrics reads as a
// flat list.
type instruments struct {
	m    metric.Meter
	errs []error
}

func (in *instruments) counter(name, desc string, opts ...metric.Int64CounterOption) metric.Int64Counter {
	c, err := in.m.Int64Counter(name, append(opts, metric.WithDescription(desc))...)
	in.errs = append(in.errs, err)
	return c
}

func (in *instruments) gauge(name, desc string) metric.Int64UpDownCounter {
	c, err := in.m.Int64UpDownCounter(name, metric.WithDescription(desc))
	in.errs = append(in.errs, err)
	return c
}

func (in *instruments) seconds(name, desc string, buckets []float64) metric.Float64Histogram {
	opts := []metric.Float64HistogramOption{metric.WithDescription(desc), metric.WithUnit("s")}
	if buckets != nil {
		opts = append(opts, metric.WithExplicitBucketBoundaries(buckets...))
	}
	h, err := in.m.Float64Histogram(name, opts...)
	in.errs = append(in.errs, err)
	return h
}

// NewMetrics registers every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	in := &instruments{m: mp.Meter(meterName)}
	met := &Metrics{
		ActiveSessions:  in.gauge("ipovoice.active_sessions", "Number of live voice sessions."),
		Sessions:        in.counter("ipovoice.sessions", "Ended sessions by outcome."),
		SessionDuration: in.seconds("ipovoice.session.duration", "Lifetime of voice sessions.", sessionBuckets),

		ModelConnectDuration: in.seconds("ipovoice.model.connect.duration", "Latency of opening a speech-model session.", latencyBuckets),
		ProviderErrors:       in.counter("ipovoice.provider.errors", "Speech-model errors by provider and kind."),

		ToolCalls:    in.counter("ipovoice.tool.calls", "IPO tool invocations by tool and status."),
		ToolDuration: in.seconds("ipovoice.tool.duration", "Latency of IPO tool invocations.", latencyBuckets),

		AudioBytes:    in.counter("ipovoice.audio.bytes", "PCM bytes relayed by direction.", metric.WithUnit("By")),
		DroppedFrames: in.counter("ipovoice.audio.dropped_frames", "Client frames skipped by reason."),
		VADEvents:     in.counter("ipovoice.vad.events", "Speech start and end boundaries detected."),
		VADFailures:   in.counter("ipovoice.vad.failures", "Audio blocks the voice activity classifier failed to score."),

		HTTPRequestDuration: in.seconds("ipovoice.http.request.duration", "HTTP request latency by method, route and status.", nil),
	}
	if err := errors.Join(in.errs...); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns process-wide instruments on the global meter
// provider, created on first use. Call it after [Setup] so they export.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		if defaultMetrics, err = NewMetrics(otel.GetMeterProvider()); err != nil {
			panic("observe: create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

func (m *Metrics) SessionStarted(ctx context.Context) {
	m.ActiveSessions.Add(ctx, 1)
}

// SessionEnded releases the live-session slot and records how the session
// ended and how long it ran.
func (m *Metrics) SessionEnded(ctx context.Context, outcome string, lifetime time.Duration) {
	m.ActiveSessions.Add(ctx, -1)
	m.Sessions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	m.SessionDuration.Record(ctx, lifetime.Seconds())
}

func (m *Metrics) RecordModelConnect(ctx context.Context, provider, status string, d time.Duration) {
	m.ModelConnectDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("provider", provider), attribute.String("status", status)))
}

func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider), attribute.String("kind", kind)))
}

// RecordToolCall counts one tool invocation and its latency under the same
// tool and status labels.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string, d time.Duration) {
	set := metric.WithAttributeSet(attribute.NewSet(
		attribute.String("tool", tool), attribute.String("status", status)))
	m.ToolCalls.Add(ctx, 1, set)
	m.ToolDuration.Record(ctx, d.Seconds(), set)
}

func (m *Metrics) RecordAudio(ctx context.Context, direction string, n int) {
	m.AudioBytes.Add(ctx, int64(n), metric.WithAttributes(attribute.String("direction", direction)))
}

func (m *Metrics) RecordDroppedFrame(ctx context.Context, reason string) {
	m.DroppedFrames.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) RecordVADEvent(ctx context.Context, typ string) {
	m.VADEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("type", typ)))
}

func (m *Metrics) RecordVADFailure(ctx context.Context) {
	m.VADFailures.Add(ctx, 1)
}
