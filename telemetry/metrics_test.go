package telemetry

import (
	"context"
	"testing"
)

func TestInitIdempotent(t *testing.T) {
	Init()
	Init()

	if EventsDispatched == nil {
		t.Error("EventsDispatched not initialized")
	}
	if FramesDecoded == nil || DecodeErrors == nil || DispatchErrors == nil {
		t.Error("frame counters not initialized")
	}
	if Reconnects == nil || BootstrapRuns == nil || BootstrapDegraded == nil || HeartbeatsSent == nil {
		t.Error("lifecycle counters not initialized")
	}
	if ConnectedGauge == nil || QueueDepthGauge == nil || PopularityGauge == nil {
		t.Error("gauges not initialized")
	}
	if ConnectDuration == nil {
		t.Error("ConnectDuration histogram not initialized")
	}
}

func TestGaugeHelpers(t *testing.T) {
	Init()

	SetConnected(true)
	SetConnected(false)
	for _, depth := range []int{0, 10, 5000} {
		SetQueueDepth(depth)
	}
	SetPopularity(12345)
	// Should not panic
}

func TestEventCounterLabels(t *testing.T) {
	Init()
	for _, typ := range []string{"danmaku", "gift", "super_chat", "like", "enter_room", "guard_buy"} {
		EventsDispatched.WithLabelValues(typ).Inc()
	}
}

func TestCorrelation(t *testing.T) {
	ctx := context.Background()
	if GetCorrelation(ctx) != "" {
		t.Error("empty context should have no correlation id")
	}
	ctx = WithCorrelation(ctx, "corr-1")
	if got := GetCorrelation(ctx); got != "corr-1" {
		t.Errorf("GetCorrelation = %q", got)
	}
	if LoggerWithCorr(ctx) == nil {
		t.Error("LoggerWithCorr returned nil")
	}
	if LoggerWithCorr(context.Background()) == nil {
		t.Error("LoggerWithCorr without id returned nil")
	}
}
