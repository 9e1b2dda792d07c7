// Package thickness measures the wall thickness of a labeled 3D image.
//
// The image is cropped to the labeled region, Laplace's equation is solved
// across the wall with 0 on the inside and 1 on the exterior, the potential's
// gradient gives a unit tangent field, and the Yezzi relaxation integrates
// path lengths L0 (from the inside) and L1 (from the exterior) along it.
// Thickness is L0 + L1 on wall voxels and 0 everywhere else.
//
// Every intermediate result is computed once, on first use, and every
// accessor returns a fresh array with the original image's shape.
package thickness

import (
	"fmt"
	"slices"
	"time"

	"wallthickness/internal/models"
	"wallthickness/pkg/laplace"
	"wallthickness/pkg/ndarray"
	"wallthickness/pkg/tangent"
	"wallthickness/pkg/yezzi"
)

// cropMargin keeps one layer of background around the object so the
// exterior boundary is part of the cropped grid.
const cropMargin = 1

// state is how far along the solve chain a Solver is. Requesting a result
// runs the transitions needed to reach the state that produces it.
type state int

const (
	stateCropped state = iota
	stateLaplaceSolved
	stateThicknessSolved
)

// Solver holds a cropped labeled image and the cached results derived from
// it. A Solver is not safe for concurrent use.
type Solver struct {
	opts    Options
	shape   []int
	box     ndarray.Box
	padding ndarray.Padding

	// region masks over the cropped grid
	endo        ndarray.Array[bool]
	holes       ndarray.Array[bool]
	wall        ndarray.Array[bool] // wall or holes
	partialWall ndarray.Array[bool] // wall only
	epi         ndarray.Array[bool] // any label

	wallIdx        [][]int
	partialWallIdx [][]int
	init           ndarray.Array[float64]

	state      state
	laplace    ndarray.Array[float64]
	tangent    ndarray.Array[[3]float64]
	hasTangent bool
	degenerate int
	l0, l1     ndarray.Array[float64]
	diag       map[models.Stage]models.Diagnostics
}

// New validates labels, crops them and classifies every voxel. Unless
// opts.Defer is set both solves run before New returns. labels is not
// modified or retained.
func New(labels ndarray.Array[uint8], opts Options) (*Solver, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	if labels.Ndim() != 3 {
		return nil, fmt.Errorf("%w: got shape %v", ErrRank, labels.Shape)
	}
	if err := checkLabelValues(labels, opts.Labels); err != nil {
		return nil, err
	}

	box, err := ndarray.BoundingBox(labels)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoWall, err)
	}
	box = box.Expand(cropMargin, labels.Shape)
	cropped := ndarray.Slice(labels, box)

	s := &Solver{
		opts:    opts,
		shape:   slices.Clone(labels.Shape),
		box:     box,
		padding: box.Padding(labels.Shape),
		diag:    make(map[models.Stage]models.Diagnostics),
	}
	s.classify(cropped)
	if err := s.checkRegions(); err != nil {
		return nil, err
	}

	opts.Logger.Debug("labeled image cropped",
		"shape", labels.Shape,
		"cropped_shape", cropped.Shape,
		"wall_voxels", len(s.wallIdx[0]),
		"measured_voxels", len(s.partialWallIdx[0]))

	if !opts.Defer {
		s.solveThickness()
	}
	return s, nil
}

// ComputeThickness runs both solves on labels and returns the thickness map
// with the shape of labels, zero outside the wall.
func ComputeThickness(labels ndarray.Array[uint8], opts Options) (ndarray.Array[float64], error) {
	opts.Defer = false
	s, err := New(labels, opts)
	if err != nil {
		return ndarray.Array[float64]{}, err
	}
	return s.Result(), nil
}

func (s *Solver) classify(cropped ndarray.Array[uint8]) {
	l := s.opts.Labels
	s.endo = ndarray.Map(cropped, func(v uint8) bool { return v == l.Inside })
	s.holes = ndarray.Map(cropped, func(v uint8) bool { return v == l.Holes })
	s.wall = ndarray.Map(cropped, func(v uint8) bool { return v == l.Wall || v == l.Holes })
	s.partialWall = ndarray.Map(cropped, func(v uint8) bool { return v == l.Wall })
	s.epi = ndarray.Map(cropped, func(v uint8) bool { return v != 0 })

	s.wallIdx = ndarray.Nonzero(s.wall)
	s.partialWallIdx = ndarray.Nonzero(s.partialWall)

	// 1 on the exterior, 0 inside; wall voxels start at 0 and get relaxed
	s.init = ndarray.Map(s.epi, func(in bool) float64 {
		if in {
			return 0
		}
		return 1
	})
}

// Result returns the thickness map: L0 + L1 on wall voxels, 0 elsewhere.
func (s *Solver) Result() ndarray.Array[float64] {
	s.solveThickness()
	return ndarray.Restore(yezzi.Thickness(s.l0, s.l1), s.padding)
}

// L0 returns the path length from the inner boundary to every wall voxel.
func (s *Solver) L0() ndarray.Array[float64] {
	s.solveThickness()
	return ndarray.Restore(s.l0, s.padding)
}

// L1 returns the path length from every wall voxel to the outer boundary.
func (s *Solver) L1() ndarray.Array[float64] {
	s.solveThickness()
	return ndarray.Restore(s.l1, s.padding)
}

// LaplaceGrid returns the Laplace potential, 0 on the inside, 1 on the
// exterior within the cropped region, and 0 beyond it.
func (s *Solver) LaplaceGrid() ndarray.Array[float64] {
	s.solveLaplace()
	return ndarray.Restore(s.laplace, s.padding)
}

// SetLaplaceGrid replaces the potential with grid, which must have the
// labeled image's shape. The grid is cropped like the labels and the
// tangent field is recomputed at once. L0, L1 and the thickness are
// discarded and recomputed on next use; region masks are kept.
func (s *Solver) SetLaplaceGrid(grid ndarray.Array[float64]) error {
	if !slices.Equal(grid.Shape, s.shape) {
		return fmt.Errorf("%w: grid %v, labeled image %v", ErrShapeMismatch, grid.Shape, s.shape)
	}
	s.laplace = ndarray.Slice(grid, s.box)
	s.state = stateLaplaceSolved
	s.l0, s.l1 = ndarray.Array[float64]{}, ndarray.Array[float64]{}
	delete(s.diag, models.StageYezzi)
	s.record(models.StageLaplace, models.Diagnostics{External: true, Converged: true})
	s.hasTangent = false
	s.computeTangent()
	return nil
}

// TangentVectors returns the unit gradient of the Laplace potential. Voxels
// where the gradient vanishes hold the zero vector.
func (s *Solver) TangentVectors() ndarray.Array[[3]float64] {
	s.computeTangent()
	return ndarray.Restore(s.tangent, s.padding)
}

// PartialWall returns the mask of voxels where thickness is measured.
func (s *Solver) PartialWall() ndarray.Array[bool] {
	return ndarray.Restore(s.partialWall, s.padding)
}

// Padding returns the crop padding, per axis [before, after].
func (s *Solver) Padding() ndarray.Padding {
	return slices.Clone(s.padding)
}

// Box returns the cropped region within the labeled image.
func (s *Solver) Box() ndarray.Box {
	return ndarray.Box{Lo: slices.Clone(s.box.Lo), Hi: slices.Clone(s.box.Hi)}
}

// Diagnostics returns how the given stage terminated, and false if the
// stage has not run yet.
func (s *Solver) Diagnostics(stage models.Stage) (models.Diagnostics, bool) {
	d, ok := s.diag[stage]
	return d, ok
}

// DegenerateVoxels returns the number of wall voxels whose tangent could not
// be normalized because the potential's gradient vanished there.
func (s *Solver) DegenerateVoxels() int {
	s.computeTangent()
	return s.degenerate
}

func (s *Solver) solveLaplace() {
	if s.state >= stateLaplaceSolved {
		return
	}
	log := s.opts.Logger.With("stage", models.StageLaplace)
	log.Debug("solving laplace equation", "voxels", len(s.wallIdx[0]))

	start := time.Now()
	grid, diag, err := laplace.Solve3D(s.wallIdx[0], s.wallIdx[1], s.wallIdx[2], s.init, laplace.Options{
		Tolerance: s.opts.LaplaceTolerance,
		MaxIter:   s.opts.LaplaceMaxIter,
		Spacing:   s.opts.Spacing,
		Workers:   s.opts.Workers,
	})
	must(err)
	diag.Elapsed = time.Since(start)

	s.laplace = grid
	s.state = stateLaplaceSolved
	s.record(models.StageLaplace, diag)
}

func (s *Solver) computeTangent() {
	if s.hasTangent {
		return
	}
	s.solveLaplace()
	field, _, err := tangent.Field(s.laplace, s.opts.Spacing, s.opts.Workers)
	must(err)

	s.degenerate = 0
	for off, in := range s.wall.Data {
		if in && field.Data[off] == ([3]float64{}) {
			s.degenerate++
		}
	}
	if s.degenerate > 0 {
		s.opts.Logger.Debug("tangent field has degenerate wall voxels", "voxels", s.degenerate)
	}
	s.tangent = field
	s.hasTangent = true
}

func (s *Solver) solveThickness() {
	if s.state >= stateThicknessSolved {
		return
	}
	s.computeTangent()
	log := s.opts.Logger.With("stage", models.StageYezzi)
	log.Debug("relaxing path lengths", "voxels", len(s.wallIdx[0]))

	// holes carry streamlines through the wall, so they are relaxed with it
	// and only cleared afterwards
	start := time.Now()
	l0, l1, diag, err := yezzi.IterativeRelaxation3D(s.wallIdx[0], s.wallIdx[1], s.wallIdx[2], s.tangent, yezzi.Options{
		Tolerance: s.opts.YezziTolerance,
		MaxIter:   s.opts.YezziMaxIter,
		Spacing:   s.opts.Spacing,
		Workers:   s.opts.Workers,
	})
	must(err)
	diag.Elapsed = time.Since(start)
	for off, hole := range s.holes.Data {
		if hole {
			l0.Data[off], l1.Data[off] = 0, 0
		}
	}

	s.l0, s.l1 = l0, l1
	s.state = stateThicknessSolved
	s.record(models.StageYezzi, diag)
}

func (s *Solver) record(stage models.Stage, diag models.Diagnostics) {
	s.diag[stage] = diag
	attrs := []any{
		"stage", stage,
		"iterations", diag.Iterations,
		"max_error", diag.MaxError,
		"elapsed", diag.Elapsed,
	}
	switch {
	case diag.External:
		s.opts.Logger.Debug("using supplied laplace grid", "stage", stage)
	case diag.Converged:
		s.opts.Logger.Debug("solve converged", attrs...)
	default:
		s.opts.Logger.Warn("solve stopped at iteration cap without converging", attrs...)
	}
	if s.opts.Observer != nil {
		s.opts.Observer.ObserveSolve(stage, diag)
	}
}

// must panics on errors that validation in New rules out.
func must(err error) {
	if err != nil {
		panic(fmt.Sprintf("thickness: unexpected solver failure: %v", err))
	}
}
