// Package metrics exports Prometheus collectors for fix runs.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lucasnoah/fixloop/internal/workflow"
)

// Recorder is a workflow.Observer that updates fix-run collectors.
type Recorder struct {
	runs               *prometheus.CounterVec
	iterations         prometheus.Histogram
	fixAttempts        *prometheus.CounterVec
	validationFailures prometheus.Counter
	rollbacks          prometheus.Counter
}

var _ workflow.Observer = (*Recorder)(nil)

// New registers the collectors on reg. Each registry takes one Recorder.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		// runs counts finished runs by final status
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fixloop_runs_total",
			Help: "Finished fix runs by final status",
		}, []string{"status"}),

		iterations: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "fixloop_iterations",
			Help:    "Iterations used per fix run",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 10, 15, 20},
		}),

		// fixAttempts counts iterations by the strategy that handled them
		fixAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fixloop_fix_attempts_total",
			Help: "Fix attempts by strategy (rule:<name>, llm, none)",
		}, []string{"strategy"}),

		validationFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "fixloop_validation_failures_total",
			Help: "Iterations whose candidate code failed validation",
		}),

		rollbacks: f.NewCounter(prometheus.CounterOpts{
			Name: "fixloop_rollbacks_total",
			Help: "Iterations whose candidate was reverted",
		}),
	}
}

// OnStep records one iteration.
func (r *Recorder) OnStep(s workflow.Step) {
	r.fixAttempts.WithLabelValues(s.Strategy).Inc()
	if !s.Report.Passed {
		r.validationFailures.Inc()
	}
	if s.RolledBack {
		r.rollbacks.Inc()
	}
}

// OnFinish records a completed run.
func (r *Recorder) OnFinish(res workflow.Result) {
	r.runs.WithLabelValues(string(res.Status)).Inc()
	r.iterations.Observe(float64(res.Iterations))
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
