package observability

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func TestNewMetricsRegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ActiveConnections.Set(3)
	m.DedupHitTotal.Inc()
	m.CommandReject.WithLabelValues("cooldown").Inc()
	m.RoomQueueLen.WithLabelValues("ABCD").Set(1)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	if len(families) == 0 {
		t.Fatalf("expected registered metric families, got none")
	}
}

func TestSetupTracerProviderWithoutStdoutExporter(t *testing.T) {
	logger := zap.NewNop()
	tp, err := SetupTracerProvider(context.Background(), "warlock-test", false, logger)
	if err != nil {
		t.Fatalf("expected tracer provider setup to succeed, got %v", err)
	}
	if tp == nil {
		t.Fatalf("expected a non-nil tracer provider")
	}
}

func TestZapToSlogForwardsMessagesWithoutPanicking(t *testing.T) {
	logger := zap.NewNop()
	slogger := ZapToSlog(logger)
	slogger.Info("room created", "game_code", "ABCD")
	slogger.With("round", 3).Warn("ready grace window elapsed")
}
