package metrics

import "time"

// ResultLabel enumerates stage result categories for counters.
type ResultLabel string

const (
	ResultSuccess  ResultLabel = "success"
	ResultFailed   ResultLabel = "failed"
	ResultCanceled ResultLabel = "canceled"
)

// Recorder defines observability hooks for run and stage metrics.
// Implementations may forward to Prometheus, OpenTelemetry, etc. All methods
// must be safe on the NoopRecorder (allowing optional injection).
type Recorder interface {
	ObserveStageDuration(stage, variant string, d time.Duration)
	ObserveJobDuration(variant string, d time.Duration)
	IncStageResult(stage string, result ResultLabel)
	IncJobOutcome(variant, outcome string)
	IncRunOutcome(outcome string) // outcome: published|discarded|failed|canceled
	AddRunsInFlight(delta int)
	ObservePackageSize(variant string, bytes int64)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveStageDuration(string, string, time.Duration) {}
func (NoopRecorder) ObserveJobDuration(string, time.Duration)           {}
func (NoopRecorder) IncStageResult(string, ResultLabel)                 {}
func (NoopRecorder) IncJobOutcome(string, string)                       {}
func (NoopRecorder) IncRunOutcome(string)                               {}
func (NoopRecorder) AddRunsInFlight(int)                                {}
func (NoopRecorder) ObservePackageSize(string, int64)                   {}
