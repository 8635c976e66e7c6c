package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestHistogramsInitialized(t *testing.T) {
	Init()
	if CycleDuration == nil {
		t.Error("CycleDuration histogram not initialized")
	}
	if VideoDuration == nil {
		t.Error("VideoDuration histogram not initialized")
	}
	if NotificationLatency == nil {
		t.Error("NotificationLatency histogram not initialized")
	}
}

func TestHistogramObservations(t *testing.T) {
	Init()

	tests := []struct {
		name      string
		histogram prometheus.Observer
		duration  time.Duration
	}{
		{"cycle", CycleDuration, 5 * time.Minute},
		{"video", VideoDuration, 30 * time.Second},
		{"notification", NotificationLatency, 90 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.histogram.Observe(tt.duration.Seconds())
		})
	}
}

func TestSubtaskOutcomesLabeled(t *testing.T) {
	Init()
	SubtaskOutcomes.WithLabelValues("video", "succeeded").Inc()
	SubtaskOutcomes.WithLabelValues("page", "failed").Inc()

	m := &dto.Metric{}
	if err := SubtaskOutcomes.WithLabelValues("video", "succeeded").(prometheus.Metric).Write(m); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	if m.Counter.GetValue() < 1 {
		t.Errorf("expected counter >= 1, got %v", m.Counter.GetValue())
	}
}

func TestSetQueueDepthAndTaskRunning(t *testing.T) {
	Init()
	SetQueueDepth(3)
	SetTaskRunning(true)
	SetTaskRunning(false)
}

func TestCorrelationRoundTrip(t *testing.T) {
	ctx := WithCorrelation(context.Background(), "req-123")
	if got := GetCorrelation(ctx); got != "req-123" {
		t.Errorf("GetCorrelation() = %q, want %q", got, "req-123")
	}
	if got := GetCorrelation(context.Background()); got != "" {
		t.Errorf("GetCorrelation() on bare context = %q, want empty", got)
	}
}
