// Package tangent derives the unit tangent field of a Laplace potential:
// the spacing-corrected finite difference gradient, normalized per voxel.
package tangent

import (
	"errors"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"

	"wallthickness/internal/models"
	"wallthickness/pkg/ndarray"
)

// ErrFieldRank indicates a potential that is not three dimensional.
var ErrFieldRank = errors.New("tangent: field must be 3D")

// Gradient returns the gradient of f with numpy.gradient semantics: central
// differences in the interior, first differences at the array edges and 0
// along axes of length 1. Each component is divided by its axis spacing.
// Planes along the first axis are processed concurrently.
func Gradient(f ndarray.Array[float64], spacing models.Spacing, workers int) (ndarray.Array[[3]float64], error) {
	if f.Ndim() != 3 {
		return ndarray.Array[[3]float64]{}, fmt.Errorf("%w: got rank %d", ErrFieldRank, f.Ndim())
	}
	if err := spacing.Validate(); err != nil {
		return ndarray.Array[[3]float64]{}, fmt.Errorf("tangent: %w", err)
	}
	ni, nj, nk := f.Shape[0], f.Shape[1], f.Shape[2]
	out := ndarray.New[[3]float64](ni, nj, nk)
	stride := [3]int{nj * nk, nk, 1}
	n := [3]int{ni, nj, nk}
	u := f.Data

	diff := func(off, c, axis int) float64 {
		if n[axis] < 2 {
			return 0
		}
		s := stride[axis]
		switch c {
		case 0:
			return (u[off+s] - u[off]) / spacing[axis]
		case n[axis] - 1:
			return (u[off] - u[off-s]) / spacing[axis]
		default:
			return (u[off+s] - u[off-s]) / (2 * spacing[axis])
		}
	}

	var g errgroup.Group
	g.SetLimit(max(workers, 1))
	for i := 0; i < ni; i++ {
		g.Go(func() error {
			for j := 0; j < nj; j++ {
				for k := 0; k < nk; k++ {
					off := i*stride[0] + j*stride[1] + k
					out.Data[off] = [3]float64{diff(off, i, 0), diff(off, j, 1), diff(off, k, 2)}
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	return out, nil
}

// Normalize scales every vector of g to unit length in place. Vectors of
// zero (or non-finite) magnitude are set to the zero vector instead and
// counted; the count is returned.
func Normalize(g ndarray.Array[[3]float64]) int {
	degenerate := 0
	for off, v := range g.Data {
		norm := math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
		if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
			g.Data[off] = [3]float64{}
			degenerate++
			continue
		}
		g.Data[off] = [3]float64{v[0] / norm, v[1] / norm, v[2] / norm}
	}
	return degenerate
}

// Field computes the unit tangent field of the potential f and the number
// of voxels where the gradient vanished.
func Field(f ndarray.Array[float64], spacing models.Spacing, workers int) (ndarray.Array[[3]float64], int, error) {
	g, err := Gradient(f, spacing, workers)
	if err != nil {
		return ndarray.Array[[3]float64]{}, 0, err
	}
	return g, Normalize(g), nil
}
