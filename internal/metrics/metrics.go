// Package metrics exposes engine invocations as Prometheus collectors.
package metrics

import (
	"context"
	"fmt"

	"incr/internal/engine"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "incr"

// Recorder holds the collectors on a private registry and implements
// engine.Observer.
type Recorder struct {
	registry *prom.Registry
	runs     *prom.CounterVec
	duration *prom.HistogramVec
	changed  *prom.GaugeVec
}

func New() *Recorder {
	r := &Recorder{
		registry: prom.NewRegistry(),
		runs: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Task invocations by run mode and outcome",
		}, []string{"mode", "outcome"}),
		duration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of task invocations",
			Buckets:   prom.ExponentialBuckets(0.01, 4, 8),
		}, []string{"mode"}),
		changed: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "changed_files",
			Help:      "Changed files seen by the most recent invocation that reached a decision",
		}, []string{"side"}),
	}
	r.registry.MustRegister(r.runs, r.duration, r.changed)
	return r
}

// Registry returns the registry the collectors live on.
func (r *Recorder) Registry() *prom.Registry {
	return r.registry
}

func (r *Recorder) RunFinished(_ context.Context, o engine.Outcome) {
	mode := o.Decision.Mode.String()
	outcome := "success"
	if !o.Succeeded() {
		outcome = "failure"
	}

	r.runs.WithLabelValues(mode, outcome).Inc()
	r.duration.WithLabelValues(mode).Observe(o.Duration.Seconds())
	if o.Decision.Mode == engine.Undecided {
		return
	}
	r.changed.WithLabelValues("inputs").Set(float64(o.Decision.ChangedInputs.Len()))
	r.changed.WithLabelValues("outputs").Set(float64(o.Decision.ChangedOutputs.Len()))
}

// WriteTextfile dumps the registry to path in the text exposition format
// read by the node exporter textfile collector.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prom.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
