// Package laplace solves Laplace's equation on an arbitrary voxel subset of
// a 3D grid by red-black Gauss-Seidel relaxation.
//
// Voxels outside the subset are Dirichlet boundaries and keep the value they
// have in the initial grid. Neighbours beyond the array edge are left out of
// the stencil, which amounts to a zero-flux condition there.
package laplace

import (
	"errors"
	"fmt"

	"wallthickness/internal/models"
	"wallthickness/internal/sweep"
	"wallthickness/pkg/ndarray"
)

var (
	// ErrIndexLists indicates index lists of different lengths or holding
	// coordinates outside the grid.
	ErrIndexLists = errors.New("laplace: invalid voxel index lists")
	// ErrGridRank indicates an initial grid that is not three dimensional.
	ErrGridRank = errors.New("laplace: grid must be 3D")
	// ErrOptions indicates a non-positive tolerance or iteration cap.
	ErrOptions = errors.New("laplace: invalid options")
)

// Options controls the relaxation.
type Options struct {
	// Tolerance is the largest per-voxel change of a sweep at which the
	// solve counts as converged
	Tolerance float64

	// MaxIter caps the number of sweeps
	MaxIter int

	// Spacing weights the stencil by 1/h² per axis
	Spacing models.Spacing

	// Workers is the number of goroutines used per sweep
	Workers int
}

// stencil holds the neighbours of one interior voxel.
type stencil struct {
	off  int
	n    int
	nbr  [6]int
	w    [6]float64
	wsum float64
}

// Solve3D relaxes init at the voxels (i[p], j[p], k[p]) and returns the
// relaxed copy. init must already carry the boundary values. Reaching
// MaxIter is not an error: the best field so far is returned with
// Diagnostics.Converged set to false.
func Solve3D(i, j, k []int, init ndarray.Array[float64], opts Options) (ndarray.Array[float64], models.Diagnostics, error) {
	if init.Ndim() != 3 {
		return ndarray.Array[float64]{}, models.Diagnostics{}, fmt.Errorf("%w: got rank %d", ErrGridRank, init.Ndim())
	}
	if !(opts.Tolerance > 0) || opts.MaxIter < 1 {
		return ndarray.Array[float64]{}, models.Diagnostics{}, fmt.Errorf("%w: tolerance=%g max_iter=%d", ErrOptions, opts.Tolerance, opts.MaxIter)
	}
	if err := opts.Spacing.Validate(); err != nil {
		return ndarray.Array[float64]{}, models.Diagnostics{}, fmt.Errorf("%w: %v", ErrOptions, err)
	}
	stencils, err := buildStencils(i, j, k, init.Shape, opts.Spacing)
	if err != nil {
		return ndarray.Array[float64]{}, models.Diagnostics{}, err
	}

	grid := init.Clone()
	u := grid.Data
	update := func(p int) float64 {
		s := &stencils[p]
		if s.n == 0 {
			return 0
		}
		var acc float64
		for q := 0; q < s.n; q++ {
			acc += s.w[q] * u[s.nbr[q]]
		}
		v := acc / s.wsum
		d := v - u[s.off]
		u[s.off] = v
		if d < 0 {
			d = -d
		}
		return d
	}

	diag := sweep.New(opts.Workers).Relax(sweep.Checkerboard(i, j, k), opts.Tolerance, opts.MaxIter, update)
	return grid, diag, nil
}

func buildStencils(i, j, k []int, shape []int, h models.Spacing) ([]stencil, error) {
	if len(i) != len(j) || len(i) != len(k) {
		return nil, fmt.Errorf("%w: lengths %d, %d, %d", ErrIndexLists, len(i), len(j), len(k))
	}
	ni, nj, nk := shape[0], shape[1], shape[2]
	w := [3]float64{1 / (h[0] * h[0]), 1 / (h[1] * h[1]), 1 / (h[2] * h[2])}
	stride := [3]int{nj * nk, nk, 1}

	out := make([]stencil, len(i))
	for p := range i {
		c := [3]int{i[p], j[p], k[p]}
		if c[0] < 0 || c[0] >= ni || c[1] < 0 || c[1] >= nj || c[2] < 0 || c[2] >= nk {
			return nil, fmt.Errorf("%w: voxel (%d, %d, %d) outside %v", ErrIndexLists, c[0], c[1], c[2], shape)
		}
		s := &out[p]
		s.off = c[0]*stride[0] + c[1]*stride[1] + c[2]
		for axis := 0; axis < 3; axis++ {
			if c[axis] > 0 {
				s.nbr[s.n], s.w[s.n] = s.off-stride[axis], w[axis]
				s.wsum += w[axis]
				s.n++
			}
			if c[axis] < shape[axis]-1 {
				s.nbr[s.n], s.w[s.n] = s.off+stride[axis], w[axis]
				s.wsum += w[axis]
				s.n++
			}
		}
	}
	return out, nil
}
