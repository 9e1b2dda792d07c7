// Package metrics exports solver diagnostics as prometheus metrics.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"wallthickness/internal/models"
)

// Recorder implements thickness.Observer on top of a prometheus registry.
type Recorder struct {
	// iterations tracks sweeps per solve stage
	iterations *prometheus.HistogramVec
	// duration tracks wall time per solve stage
	duration *prometheus.HistogramVec
	// maxError holds the last sweep's largest change per stage
	maxError *prometheus.GaugeVec
	// nonConverged counts solves stopped by the iteration cap
	nonConverged *prometheus.CounterVec
	// external counts Laplace grids injected instead of solved
	external prometheus.Counter
}

// NewRecorder registers the solver metrics on reg. Registration is all or
// nothing: on a conflict the collectors already added are removed again.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		iterations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wallthickness_solve_iterations",
			Help:    "Relaxation sweeps per solve stage",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1 to 8192
		}, []string{"stage"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wallthickness_solve_seconds",
			Help:    "Solve stage duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10), // 1ms to ~4min
		}, []string{"stage"}),
		maxError: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "wallthickness_solve_max_error",
			Help: "Largest voxel change in the final sweep of a solve stage",
		}, []string{"stage"}),
		nonConverged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wallthickness_solve_nonconverged_total",
			Help: "Solves that stopped at the iteration cap",
		}, []string{"stage"}),
		external: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wallthickness_laplace_external_total",
			Help: "Laplace grids supplied by the caller instead of solved",
		}),
	}

	collectors := []prometheus.Collector{r.iterations, r.duration, r.maxError, r.nonConverged, r.external}
	for n, c := range collectors {
		if err := reg.Register(c); err != nil {
			for _, done := range collectors[:n] {
				reg.Unregister(done)
			}
			return nil, fmt.Errorf("metrics: register: %w", err)
		}
	}
	return r, nil
}

// ObserveSolve records one finished solve stage.
func (r *Recorder) ObserveSolve(stage models.Stage, diag models.Diagnostics) {
	if diag.External {
		r.external.Inc()
		return
	}
	label := string(stage)
	r.iterations.WithLabelValues(label).Observe(float64(diag.Iterations))
	r.duration.WithLabelValues(label).Observe(diag.Elapsed.Seconds())
	r.maxError.WithLabelValues(label).Set(diag.MaxError)
	if !diag.Converged {
		r.nonConverged.WithLabelValues(label).Inc()
	}
}

// WriteTextfile writes every metric gathered by g to path in the text
// exposition format.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("metrics: write %s: %w", path, err)
	}
	return nil
}
