// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	EventsDispatched  *prometheus.CounterVec
	FramesDecoded     prometheus.Counter
	DecodeErrors      prometheus.Counter
	DispatchErrors    prometheus.Counter
	Reconnects        prometheus.Counter
	BootstrapRuns     prometheus.Counter
	BootstrapDegraded prometheus.Counter
	HeartbeatsSent    prometheus.Counter

	// Gauges
	ConnectedGauge  prometheus.Gauge
	QueueDepthGauge prometheus.Gauge
	PopularityGauge prometheus.Gauge

	// Histograms (seconds)
	ConnectDuration prometheus.Observer
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		EventsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{Name: "danmaku_events_total", Help: "Normalized events handed to the queue, by type"}, []string{"type"})
		FramesDecoded = promauto.NewCounter(prometheus.CounterOpts{Name: "danmaku_frames_decoded_total", Help: "Wire frames decoded (after decompression and flattening)"})
		DecodeErrors = promauto.NewCounter(prometheus.CounterOpts{Name: "danmaku_decode_errors_total", Help: "Transport-level frame decode failures"})
		DispatchErrors = promauto.NewCounter(prometheus.CounterOpts{Name: "danmaku_dispatch_errors_total", Help: "Command frames that failed to parse or normalize"})
		Reconnects = promauto.NewCounter(prometheus.CounterOpts{Name: "danmaku_reconnects_total", Help: "Connection attempts after the first"})
		BootstrapRuns = promauto.NewCounter(prometheus.CounterOpts{Name: "danmaku_bootstrap_runs_total", Help: "Room bootstrap executions"})
		BootstrapDegraded = promauto.NewCounter(prometheus.CounterOpts{Name: "danmaku_bootstrap_degraded_total", Help: "Bootstrap executions that fell back to degraded defaults"})
		HeartbeatsSent = promauto.NewCounter(prometheus.CounterOpts{Name: "danmaku_heartbeats_sent_total", Help: "Heartbeat frames written to the socket"})
		ConnectedGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "danmaku_connected", Help: "1 while the connection is live, else 0"})
		QueueDepthGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "danmaku_queue_depth", Help: "Events enqueued but not yet consumed"})
		PopularityGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "danmaku_room_popularity", Help: "Last popularity value reported by a heartbeat reply"})
		ConnectDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "danmaku_connect_duration_seconds", Help: "Time from dial to authenticated, per attempt", Buckets: prometheus.DefBuckets})
	})
}

// SetConnected flips the liveness gauge.
func SetConnected(up bool) {
	if ConnectedGauge == nil {
		return
	}
	if up {
		ConnectedGauge.Set(1)
	} else {
		ConnectedGauge.Set(0)
	}
}

// SetQueueDepth records the current number of undelivered events.
func SetQueueDepth(n int) {
	if QueueDepthGauge != nil {
		QueueDepthGauge.Set(float64(n))
	}
}

// SetPopularity records the room popularity from a heartbeat reply.
func SetPopularity(v int32) {
	if PopularityGauge != nil {
		PopularityGauge.Set(float64(v))
	}
}

// Correlation ID helpers ----------------------------------------------------

type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns the correlation id or an empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger carrying the corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
