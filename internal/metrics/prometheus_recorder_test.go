package metrics

import (
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)
	pr.IncSubmission("accepted")
	pr.IncRemoteRetry("submit")
	pr.ObserveRemoteCall("submit", 150*time.Millisecond, true)
	pr.IncStatusTransition("BUILDING")
	pr.IncEventPublished(true)
	pr.SetHubSubscribers(3)
	pr.ObserveReconcileTick(20 * time.Millisecond)
	pr.IncReconcileGroup("converged")
	// Basic scrape to ensure metrics encode without panic
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(mfs) == 0 {
		t.Fatalf("expected metrics, got none")
	}
}

func TestNilReceiverSafety(t *testing.T) {
	var pr *PrometheusRecorder
	pr.IncSubmission("accepted")
	pr.IncRemoteRetry("cancel")
	pr.ObserveRemoteCall("signal", time.Millisecond, false)
	pr.IncStatusTransition("FAILED")
	pr.IncEventPublished(false)
	pr.SetHubSubscribers(0)
	pr.ObserveReconcileTick(time.Millisecond)
	pr.IncReconcileGroup("error")
}

func TestNoopRecorderImplementsInterface(t *testing.T) {
	var _ Recorder = NoopRecorder{}
	var _ Recorder = &PrometheusRecorder{}
}
