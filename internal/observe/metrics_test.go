package observe

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// total sums every int64 data point of name whose attributes include attrs.
func total(t *testing.T, rm metricdata.ResourceMetrics, name string, attrs ...attribute.KeyValue) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not recorded", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is %T, want an int64 sum", name, met.Data)
	}
	var n int64
	for _, dp := range sum.DataPoints {
		if hasAll(dp.Attributes, attrs) {
			n += dp.Value
		}
	}
	return n
}

// observations counts the histogram samples of name whose attributes include
// attrs.
func observations(t *testing.T, rm metricdata.ResourceMetrics, name string, attrs ...attribute.KeyValue) uint64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not recorded", name)
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("metric %q is %T, want a float64 histogram", name, met.Data)
	}
	var n uint64
	for _, dp := range hist.DataPoints {
		if hasAll(dp.Attributes, attrs) {
			n += dp.Count
		}
	}
	return n
}

func hasAll(set attribute.Set, attrs []attribute.KeyValue) bool {
	for _, kv := range attrs {
		if v, ok := set.Value(kv.Key); !ok || v != kv.Value {
			return false
		}
	}
	return true
}

func TestMetrics_SessionLifecycle(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.SessionStarted(ctx)
	m.SessionStarted(ctx)
	m.SessionEnded(ctx, "client_disconnect", 3*time.Second)

	rm := collect(t, reader)
	if got := total(t, rm, "ipovoice.active_sessions"); got != 1 {
		t.Errorf("active sessions = %d, want 1", got)
	}
	if got := total(t, rm, "ipovoice.sessions", attribute.String("outcome", "client_disconnect")); got != 1 {
		t.Errorf("client disconnects = %d, want 1", got)
	}
	if got := observations(t, rm, "ipovoice.session.duration"); got != 1 {
		t.Errorf("session durations = %d, want 1", got)
	}
}

func TestMetrics_Recorders(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		record func(context.Context, *Metrics)
		metric string
		attrs  []attribute.KeyValue
		want   int64
	}{
		{
			name: "tool calls by status",
			record: func(ctx context.Context, m *Metrics) {
				m.RecordToolCall(ctx, "get_active_ipos", "ok", 20*time.Millisecond)
				m.RecordToolCall(ctx, "get_active_ipos", "ok", 30*time.Millisecond)
				m.RecordToolCall(ctx, "get_user_applications", "error", time.Second)
			},
			metric: "ipovoice.tool.calls",
			attrs:  []attribute.KeyValue{attribute.String("status", "ok")},
			want:   2,
		},
		{
			name: "inbound audio bytes",
			record: func(ctx context.Context, m *Metrics) {
				m.RecordAudio(ctx, "inbound", 1024)
				m.RecordAudio(ctx, "inbound", 1024)
				m.RecordAudio(ctx, "outbound", 480)
			},
			metric: "ipovoice.audio.bytes",
			attrs:  []attribute.KeyValue{attribute.String("direction", "inbound")},
			want:   2048,
		},
		{
			name: "dropped frames by reason",
			record: func(ctx context.Context, m *Metrics) {
				m.RecordDroppedFrame(ctx, "malformed")
				m.RecordDroppedFrame(ctx, "base64")
			},
			metric: "ipovoice.audio.dropped_frames",
			attrs:  []attribute.KeyValue{attribute.String("reason", "malformed")},
			want:   1,
		},
		{
			name: "speech boundaries",
			record: func(ctx context.Context, m *Metrics) {
				m.RecordVADEvent(ctx, "start")
				m.RecordVADEvent(ctx, "end")
				m.RecordVADEvent(ctx, "start")
			},
			metric: "ipovoice.vad.events",
			attrs:  []attribute.KeyValue{attribute.String("type", "start")},
			want:   2,
		},
		{
			name:   "classifier failures",
			record: func(ctx context.Context, m *Metrics) { m.RecordVADFailure(ctx) },
			metric: "ipovoice.vad.failures",
			want:   1,
		},
		{
			name: "provider errors by kind",
			record: func(ctx context.Context, m *Metrics) {
				m.RecordProviderError(ctx, "gemini-live", "connect")
				m.RecordProviderError(ctx, "openai-realtime", "receive")
			},
			metric: "ipovoice.provider.errors",
			attrs:  []attribute.KeyValue{attribute.String("provider", "gemini-live"), attribute.String("kind", "connect")},
			want:   1,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			m, reader := newTestMetrics(t)
			tc.record(context.Background(), m)
			if got := total(t, collect(t, reader), tc.metric, tc.attrs...); got != tc.want {
				t.Errorf("%s = %d, want %d", tc.metric, got, tc.want)
			}
		})
	}
}

func TestMetrics_LatencyHistograms(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordModelConnect(ctx, "gemini-live", "error", 150*time.Millisecond)
	m.RecordModelConnect(ctx, "gemini-live", "ok", 80*time.Millisecond)
	m.RecordToolCall(ctx, "get_ipo_details", "ok", 40*time.Millisecond)

	rm := collect(t, reader)
	if got := observations(t, rm, "ipovoice.model.connect.duration", attribute.String("status", "ok")); got != 1 {
		t.Errorf("successful connects = %d, want 1", got)
	}
	if got := observations(t, rm, "ipovoice.tool.duration", attribute.String("tool", "get_ipo_details")); got != 1 {
		t.Errorf("tool latencies = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different instances")
	}
}
