// Package metrics declares the Prometheus collectors of tickmirror.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Keys for Prometheus labels.
const (
	Fail   = "fail"
	Ok     = "ok"
	Phase  = "phase"
	Status = "status"
	Step   = "step"
	Table  = "table"
)

// Mirror load metrics.
var (
	LoadSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tickmirror_load_seconds",
		Help:    "Duration of mirroring the source database into memory.",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	})
	LoadFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tickmirror_load_failures_total",
		Help: "Cumulative number of failed mirror loads, by failing phase.",
	}, []string{Phase})
	RowsCopiedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tickmirror_rows_copied_total",
		Help: "Cumulative number of rows copied into the mirror, by table.",
	}, []string{Table})
)

// Tick metrics.
var (
	TicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tickmirror_ticks_total",
		Help: "Cumulative number of ticks run, by status.",
	}, []string{Status})
	TickSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tickmirror_tick_seconds",
		Help:    "Duration of one full pass of the tick pipeline.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
	})
	StepSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tickmirror_step_seconds",
		Help:    "Duration of one pipeline step, by step name.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
	}, []string{Step})
	StepFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tickmirror_step_failures_total",
		Help: "Cumulative number of failed pipeline steps, by step name.",
	}, []string{Step})
	SchedulerHalted = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tickmirror_scheduler_halted",
		Help: "Set to 1 once the tick scheduler has halted on a failure.",
	})
)

// StepObserver records pipeline step durations and failures.
// It satisfies pipeline.Observer.
type StepObserver struct{}

// StepStarted is a no-op; durations are reported on finish.
func (StepObserver) StepStarted(uint64, string) {}

// StepFinished records the step's duration and any failure.
func (StepObserver) StepFinished(_ uint64, step string, elapsed time.Duration, err error) {
	StepSeconds.WithLabelValues(step).Observe(elapsed.Seconds())
	if err != nil {
		StepFailuresTotal.WithLabelValues(step).Inc()
	}
}
