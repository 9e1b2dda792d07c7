package models

import (
	"errors"
	"fmt"
	"time"
)

// Spacing is the physical size of one voxel step along each axis (i, j, k),
// typically in mm.
type Spacing [3]float64

// DefaultSpacing is the unit voxel.
var DefaultSpacing = Spacing{1, 1, 1}

// IsZero reports whether no spacing has been set.
func (s Spacing) IsZero() bool {
	return s == Spacing{}
}

// Validate checks that every component is strictly positive.
func (s Spacing) Validate() error {
	for axis, h := range s {
		if !(h > 0) {
			return fmt.Errorf("spacing[%d] must be > 0, got %g", axis, h)
		}
	}
	return nil
}

// LabelSet names the label values used in a labeled volume.
// Background is always 0.
type LabelSet struct {
	// Inside marks the cavity enclosed by the wall (endocardium side)
	Inside uint8

	// Wall marks the voxels whose thickness is measured
	Wall uint8

	// Holes marks gaps in the wall. They take part in the Laplace
	// solve but are excluded from the thickness output.
	Holes uint8
}

// DefaultLabels is the conventional inside=1, wall=2, holes=3 labelling.
var DefaultLabels = LabelSet{Inside: 1, Wall: 2, Holes: 3}

// IsZero reports whether no label has been set.
func (l LabelSet) IsZero() bool {
	return l == LabelSet{}
}

// Validate checks that the labels are non-zero and pairwise distinct.
func (l LabelSet) Validate() error {
	if l.Inside == 0 || l.Wall == 0 || l.Holes == 0 {
		return errors.New("labels must be non-zero, 0 is reserved for background")
	}
	if l.Inside == l.Wall || l.Inside == l.Holes || l.Wall == l.Holes {
		return fmt.Errorf("labels must be distinct, got inside=%d wall=%d holes=%d", l.Inside, l.Wall, l.Holes)
	}
	return nil
}

// Stage identifies one of the two iterative solves.
type Stage string

const (
	StageLaplace Stage = "laplace"
	StageYezzi   Stage = "yezzi"
)

// Diagnostics describes how an iterative relaxation terminated.
type Diagnostics struct {
	// Iterations is the number of full sweeps performed
	Iterations int

	// MaxError is the largest absolute per-voxel change in the last sweep
	MaxError float64

	// Converged is false when the iteration cap was reached first
	Converged bool

	// Elapsed is the wall-clock time spent in the solve
	Elapsed time.Duration

	// External is set when the field was supplied by the caller
	// instead of being solved
	External bool
}
