package thickness

import (
	"fmt"
	"log/slog"
	"runtime"

	"wallthickness/internal/models"
)

// Default solver settings.
const (
	DefaultTolerance = 1e-6
	DefaultMaxIter   = 5000
)

// Observer receives the diagnostics of every finished solve stage.
type Observer interface {
	ObserveSolve(stage models.Stage, diag models.Diagnostics)
}

// Options configures a Solver. Zero-valued fields take their defaults.
type Options struct {
	// Spacing is the physical voxel size per axis, (1, 1, 1) if unset
	Spacing models.Spacing

	// Labels names the inside, wall and holes values, (1, 2, 3) if unset
	Labels models.LabelSet

	LaplaceTolerance float64
	LaplaceMaxIter   int
	YezziTolerance   float64
	YezziMaxIter     int

	// Workers bounds the goroutines used by each relaxation sweep.
	// Results do not depend on it.
	Workers int

	// Defer postpones both solves until a result is first requested
	Defer bool

	// Logger receives stage progress and non-convergence warnings,
	// slog.Default() if nil
	Logger *slog.Logger

	// Observer is notified after each stage, if set
	Observer Observer
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		Spacing:          models.DefaultSpacing,
		Labels:           models.DefaultLabels,
		LaplaceTolerance: DefaultTolerance,
		LaplaceMaxIter:   DefaultMaxIter,
		YezziTolerance:   DefaultTolerance,
		YezziMaxIter:     DefaultMaxIter,
		Workers:          runtime.NumCPU(),
	}
}

// withDefaults fills unset fields and validates the rest.
func (o Options) withDefaults() (Options, error) {
	d := DefaultOptions()
	if o.Spacing.IsZero() {
		o.Spacing = d.Spacing
	}
	if err := o.Spacing.Validate(); err != nil {
		return o, fmt.Errorf("%w: %v", ErrSpacing, err)
	}
	if o.Labels.IsZero() {
		o.Labels = d.Labels
	}
	if err := o.Labels.Validate(); err != nil {
		return o, fmt.Errorf("%w: %v", ErrLabels, err)
	}
	if !(o.LaplaceTolerance >= 0) || !(o.YezziTolerance >= 0) || o.LaplaceMaxIter < 0 || o.YezziMaxIter < 0 || o.Workers < 0 {
		return o, fmt.Errorf("%w: tolerances, iteration caps and workers must not be negative", ErrOptions)
	}
	if o.LaplaceTolerance == 0 {
		o.LaplaceTolerance = d.LaplaceTolerance
	}
	if o.LaplaceMaxIter == 0 {
		o.LaplaceMaxIter = d.LaplaceMaxIter
	}
	if o.YezziTolerance == 0 {
		o.YezziTolerance = d.YezziTolerance
	}
	if o.YezziMaxIter == 0 {
		o.YezziMaxIter = d.YezziMaxIter
	}
	if o.Workers == 0 {
		o.Workers = d.Workers
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o, nil
}
