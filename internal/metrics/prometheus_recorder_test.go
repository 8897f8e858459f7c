package metrics

import (
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)
	pr.ObserveStageDuration("package", "dev", 150*time.Millisecond)
	pr.ObserveJobDuration("dev", 500*time.Millisecond)
	pr.IncStageResult("package", ResultSuccess)
	pr.IncJobOutcome("dev", "discarded")
	pr.IncRunOutcome("discarded")
	pr.AddRunsInFlight(1)
	pr.AddRunsInFlight(-1)
	pr.ObservePackageSize("dev", 1<<20)
	// Basic scrape to ensure metrics encode without panic
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(mfs) == 0 {
		t.Fatalf("expected metrics, got none")
	}
}

func TestNoopRecorderIsSafe(t *testing.T) {
	var r Recorder = NoopRecorder{}
	r.ObserveStageDuration("package", "dev", time.Second)
	r.ObserveJobDuration("dev", time.Second)
	r.IncStageResult("package", ResultFailed)
	r.IncJobOutcome("dev", "failed")
	r.IncRunOutcome("failed")
	r.AddRunsInFlight(1)
	r.ObservePackageSize("dev", 1)
}
