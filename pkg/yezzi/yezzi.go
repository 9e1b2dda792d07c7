// Package yezzi computes wall thickness by the Yezzi-Prince method: two
// path-length fields are transported along a unit tangent field, L0 from the
// inner boundary and L1 from the outer one, so that their sum is the length
// of the tangent streamline through each voxel.
//
// The upwind discretisation for a voxel p with a_x = |T_x| / h_x is
//
//	L0(p) = (1 + Σ a_x L0(p - sgn(T_x) e_x)) / Σ a_x
//	L1(p) = (1 + Σ a_x L1(p + sgn(T_x) e_x)) / Σ a_x
//
// A neighbour outside the solved voxel set is a boundary voxel. The wall
// surface passes somewhere between the two centres, so the boundary
// neighbour enters the stencil with the value -|T_x| h_x / 2, the mean path
// length from the surface back to such a centre. A grid-aligned flat plate
// t voxels thick then measures exactly t·h, and since the boundary terms sum
// to at most 1/2 the fields stay positive. An axis whose upwind neighbour
// for either field lies beyond the array edge is left out of both stencils.
package yezzi

import (
	"errors"
	"fmt"
	"math"

	"wallthickness/internal/models"
	"wallthickness/internal/sweep"
	"wallthickness/pkg/ndarray"
)

var (
	// ErrIndexLists indicates index lists of different lengths or holding
	// coordinates outside the grid.
	ErrIndexLists = errors.New("yezzi: invalid voxel index lists")
	// ErrFieldRank indicates a tangent field that is not three dimensional.
	ErrFieldRank = errors.New("yezzi: tangent field must be 3D")
	// ErrOptions indicates a non-positive tolerance or iteration cap.
	ErrOptions = errors.New("yezzi: invalid options")
)

// Options controls the relaxation.
type Options struct {
	Tolerance float64
	MaxIter   int
	Spacing   models.Spacing
	Workers   int
}

// term is one upwind neighbour inside the solved set.
type term struct {
	pos  int32
	coef float64
}

// upwind is the precomputed stencil of one voxel for one of the two fields.
type upwind struct {
	base  float64 // 1 plus the boundary contributions
	terms [3]term
	n     int
}

// IterativeRelaxation3D solves for L0 and L1 at the voxels
// (i[p], j[p], k[p]) given the unit tangent field. Both returned arrays have
// the tangent field's shape and are zero outside the voxel set. Reaching
// MaxIter is not an error.
func IterativeRelaxation3D(i, j, k []int, tangent ndarray.Array[[3]float64], opts Options) (l0, l1 ndarray.Array[float64], diag models.Diagnostics, err error) {
	if tangent.Ndim() != 3 {
		return l0, l1, diag, fmt.Errorf("%w: got rank %d", ErrFieldRank, tangent.Ndim())
	}
	if !(opts.Tolerance > 0) || opts.MaxIter < 1 {
		return l0, l1, diag, fmt.Errorf("%w: tolerance=%g max_iter=%d", ErrOptions, opts.Tolerance, opts.MaxIter)
	}
	if err := opts.Spacing.Validate(); err != nil {
		return l0, l1, diag, fmt.Errorf("%w: %v", ErrOptions, err)
	}
	if len(i) != len(j) || len(i) != len(k) {
		return l0, l1, diag, fmt.Errorf("%w: lengths %d, %d, %d", ErrIndexLists, len(i), len(j), len(k))
	}

	shape := tangent.Shape
	stride := [3]int{shape[1] * shape[2], shape[2], 1}
	member := make([]int32, len(tangent.Data))
	for q := range member {
		member[q] = -1
	}
	offs := make([]int, len(i))
	for p := range i {
		c := [3]int{i[p], j[p], k[p]}
		for axis := 0; axis < 3; axis++ {
			if c[axis] < 0 || c[axis] >= shape[axis] {
				return l0, l1, diag, fmt.Errorf("%w: voxel (%d, %d, %d) outside %v", ErrIndexLists, c[0], c[1], c[2], shape)
			}
		}
		offs[p] = c[0]*stride[0] + c[1]*stride[1] + c[2]
		member[offs[p]] = int32(p)
	}

	// stencils[p][0] serves L0, stencils[p][1] serves L1
	stencils := make([][2]upwind, len(i))
	den := make([]float64, len(i))
	for p := range i {
		c := [3]int{i[p], j[p], k[p]}
		t := tangent.Data[offs[p]]
		st := &stencils[p]
		st[0].base, st[1].base = 1, 1
		for axis := 0; axis < 3; axis++ {
			a := math.Abs(t[axis]) / opts.Spacing[axis]
			if a == 0 || math.IsNaN(a) {
				continue
			}
			dir := 1
			if t[axis] < 0 {
				dir = -1
			}
			// L0 looks back along -T, L1 forward along +T
			back, fwd := c[axis]-dir, c[axis]+dir
			if back < 0 || back >= shape[axis] || fwd < 0 || fwd >= shape[axis] {
				// the stencil along this axis is incomplete at the array edge
				continue
			}
			bnd := -math.Abs(t[axis]) * opts.Spacing[axis] / 2
			den[p] += a
			addTerm(&st[0], member[offs[p]-dir*stride[axis]], a, bnd)
			addTerm(&st[1], member[offs[p]+dir*stride[axis]], a, bnd)
		}
	}

	v0 := make([]float64, len(i))
	v1 := make([]float64, len(i))
	update := func(p int) float64 {
		d := den[p]
		if d == 0 {
			return 0
		}
		st := &stencils[p]
		n0 := eval(&st[0], v0) / d
		n1 := eval(&st[1], v1) / d
		e := math.Max(math.Abs(n0-v0[p]), math.Abs(n1-v1[p]))
		v0[p], v1[p] = n0, n1
		return e
	}
	diag = sweep.New(opts.Workers).Relax(sweep.Checkerboard(i, j, k), opts.Tolerance, opts.MaxIter, update)

	l0 = ndarray.New[float64](shape...)
	l1 = ndarray.New[float64](shape...)
	for p, off := range offs {
		l0.Data[off] = v0[p]
		l1.Data[off] = v1[p]
	}
	return l0, l1, diag, nil
}

func addTerm(u *upwind, pos int32, coef, boundary float64) {
	if pos < 0 {
		u.base += coef * boundary
		return
	}
	u.terms[u.n] = term{pos: pos, coef: coef}
	u.n++
}

func eval(u *upwind, v []float64) float64 {
	acc := u.base
	for q := 0; q < u.n; q++ {
		acc += u.terms[q].coef * v[u.terms[q].pos]
	}
	return acc
}

// Thickness returns l0 + l1.
func Thickness(l0, l1 ndarray.Array[float64]) ndarray.Array[float64] {
	out := l0.Clone()
	for q, v := range l1.Data {
		out.Data[q] += v
	}
	return out
}
