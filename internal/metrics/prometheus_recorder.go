package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once          sync.Once
	stageDuration *prom.HistogramVec
	jobDuration   *prom.HistogramVec
	stageResults  *prom.CounterVec
	jobOutcome    *prom.CounterVec
	runOutcome    *prom.CounterVec
	runsInFlight  prom.Gauge
	packageSize   *prom.HistogramVec
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.stageDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "relforge",
			Name:      "stage_duration_seconds",
			Help:      "Duration of individual pipeline stages",
			Buckets:   prom.DefBuckets,
		}, []string{"stage", "variant"})
		pr.jobDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "relforge",
			Name:      "job_duration_seconds",
			Help:      "Total variant job duration",
			Buckets:   prom.DefBuckets,
		}, []string{"variant"})
		pr.stageResults = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "relforge",
			Name:      "stage_results_total",
			Help:      "Stage result counts by outcome",
		}, []string{"stage", "result"})
		pr.jobOutcome = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "relforge",
			Name:      "job_outcomes_total",
			Help:      "Variant job outcomes by terminal state",
		}, []string{"variant", "outcome"})
		pr.runOutcome = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "relforge",
			Name:      "run_outcomes_total",
			Help:      "Pipeline run outcomes by terminal state",
		}, []string{"outcome"})
		pr.runsInFlight = prom.NewGauge(prom.GaugeOpts{
			Namespace: "relforge",
			Name:      "runs_in_flight",
			Help:      "Pipeline runs currently executing",
		})
		pr.packageSize = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "relforge",
			Name:      "package_size_bytes",
			Help:      "Binary package sizes by variant",
			Buckets:   prom.ExponentialBuckets(1024, 4, 10),
		}, []string{"variant"})
		reg.MustRegister(pr.stageDuration, pr.jobDuration, pr.stageResults, pr.jobOutcome, pr.runOutcome, pr.runsInFlight, pr.packageSize)
	})
	return pr
}

func (p *PrometheusRecorder) ObserveStageDuration(stage, variant string, d time.Duration) {
	if p == nil || p.stageDuration == nil {
		return
	}
	p.stageDuration.WithLabelValues(stage, variant).Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveJobDuration(variant string, d time.Duration) {
	if p == nil || p.jobDuration == nil {
		return
	}
	p.jobDuration.WithLabelValues(variant).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncStageResult(stage string, result ResultLabel) {
	if p == nil || p.stageResults == nil {
		return
	}
	p.stageResults.WithLabelValues(stage, string(result)).Inc()
}

func (p *PrometheusRecorder) IncJobOutcome(variant, outcome string) {
	if p == nil || p.jobOutcome == nil {
		return
	}
	p.jobOutcome.WithLabelValues(variant, outcome).Inc()
}

func (p *PrometheusRecorder) IncRunOutcome(outcome string) {
	if p == nil || p.runOutcome == nil {
		return
	}
	p.runOutcome.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) AddRunsInFlight(delta int) {
	if p == nil || p.runsInFlight == nil {
		return
	}
	p.runsInFlight.Add(float64(delta))
}

func (p *PrometheusRecorder) ObservePackageSize(variant string, bytes int64) {
	if p == nil || p.packageSize == nil {
		return
	}
	p.packageSize.WithLabelValues(variant).Observe(float64(bytes))
}
