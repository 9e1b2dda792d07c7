// Package phantom rasterizes synthetic labeled volumes with a known wall
// thickness from signed distance fields.
package phantom

import (
	"errors"
	"fmt"
	"math"

	"github.com/deadsy/sdfx/sdf"
	v3 "github.com/deadsy/sdfx/vec/v3"
	"golang.org/x/sync/errgroup"

	"wallthickness/internal/models"
	"wallthickness/pkg/ndarray"
	"wallthickness/pkg/stl"
)

// ErrGeometry indicates phantom dimensions that do not describe a wall.
var ErrGeometry = errors.New("phantom: invalid geometry")

// Phantom is a solid inside region wrapped by a wall. Both solids are
// centred on the middle of the grid; voxel (i, j, k) sits at
// ((i - n_i/2)·h_i, (j - n_j/2)·h_j, (k - n_k/2)·h_k).
type Phantom struct {
	Name    string
	Shape   [3]int
	Spacing models.Spacing

	// Inner is the inside region, Outer the inside region plus the wall
	Inner sdf.SDF3
	Outer sdf.SDF3
	// Holes are carved out of the wall and labeled as holes
	Holes []sdf.SDF3

	// Nominal is the exact thickness of the continuous wall
	Nominal float64
}

// Shell is a hollow sphere with inner radius rin and outer radius rout.
func Shell(n int, rin, rout float64, spacing models.Spacing) (*Phantom, error) {
	if err := checkWall(n, rin, rout); err != nil {
		return nil, err
	}
	inner, err := sdf.Sphere3D(rin)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGeometry, err)
	}
	outer, err := sdf.Sphere3D(rout)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGeometry, err)
	}
	return &Phantom{
		Name:    "shell",
		Shape:   [3]int{n, n, n},
		Spacing: spacing,
		Inner:   inner,
		Outer:   outer,
		Nominal: rout - rin,
	}, nil
}

// Slab is a flat wall of the given thickness lying across the k axis, with
// the inside region below it. It spans the whole grid along i and j.
func Slab(n int, depth, thickness float64, spacing models.Spacing) (*Phantom, error) {
	if n < 3 || !(depth > 0) || !(thickness > 0) {
		return nil, fmt.Errorf("%w: slab needs n >= 3 and positive depth and thickness", ErrGeometry)
	}
	// wide enough to cover the grid along i and j
	span := 4 * float64(n) * math.Max(spacing[0], spacing[1])
	// half a voxel below the first layer of centres
	bottom := (-float64(n)/2 - 0.5) * spacing[2]

	layer := func(height float64) (sdf.SDF3, error) {
		box, err := sdf.Box3D(v3.Vec{X: span, Y: span, Z: height}, 0)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrGeometry, err)
		}
		return sdf.Transform3D(box, sdf.Translate3d(v3.Vec{Z: bottom + height/2})), nil
	}
	inner, err := layer(depth)
	if err != nil {
		return nil, err
	}
	outer, err := layer(depth + thickness)
	if err != nil {
		return nil, err
	}
	return &Phantom{
		Name:    "slab",
		Shape:   [3]int{n, n, n},
		Spacing: spacing,
		Inner:   inner,
		Outer:   outer,
		Nominal: thickness,
	}, nil
}

// Tube is a hollow cylinder along the k axis that runs through the grid.
func Tube(n int, rin, rout float64, spacing models.Spacing) (*Phantom, error) {
	if err := checkWall(n, rin, rout); err != nil {
		return nil, err
	}
	height := 4 * float64(n) * spacing[2]
	inner, err := sdf.Cylinder3D(height, rin, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGeometry, err)
	}
	outer, err := sdf.Cylinder3D(height, rout, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGeometry, err)
	}
	return &Phantom{
		Name:    "tube",
		Shape:   [3]int{n, n, n},
		Spacing: spacing,
		Inner:   inner,
		Outer:   outer,
		Nominal: rout - rin,
	}, nil
}

func checkWall(n int, rin, rout float64) error {
	if n < 3 || !(rin > 0) || !(rout > rin) {
		return fmt.Errorf("%w: need n >= 3 and 0 < rin < rout, got n=%d rin=%v rout=%v", ErrGeometry, n, rin, rout)
	}
	return nil
}

// AddHole carves a ball of the given radius centred at c out of the wall.
func (p *Phantom) AddHole(c [3]float64, radius float64) error {
	ball, err := sdf.Sphere3D(radius)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGeometry, err)
	}
	p.Holes = append(p.Holes, sdf.Transform3D(ball, sdf.Translate3d(v3.Vec{X: c[0], Y: c[1], Z: c[2]})))
	return nil
}

// Center returns the world position of voxel (i, j, k).
func (p *Phantom) Center(i, j, k int) v3.Vec {
	return v3.Vec{
		X: (float64(i) - float64(p.Shape[0])/2) * p.Spacing[0],
		Y: (float64(j) - float64(p.Shape[1])/2) * p.Spacing[1],
		Z: (float64(k) - float64(p.Shape[2])/2) * p.Spacing[2],
	}
}

// Rasterize labels every voxel by where its centre falls: inside the inner
// solid, in a hole, in the wall, or background.
func (p *Phantom) Rasterize(labels models.LabelSet, workers int) (ndarray.Array[uint8], error) {
	if err := p.Spacing.Validate(); err != nil {
		return ndarray.Array[uint8]{}, fmt.Errorf("%w: %v", ErrGeometry, err)
	}
	if err := labels.Validate(); err != nil {
		return ndarray.Array[uint8]{}, fmt.Errorf("%w: %v", ErrGeometry, err)
	}
	out := ndarray.New[uint8](p.Shape[:]...)

	var g errgroup.Group
	g.SetLimit(max(workers, 1))
	for i := range p.Shape[0] {
		g.Go(func() error {
			for j := range p.Shape[1] {
				for k := range p.Shape[2] {
					out.Set(p.label(p.Center(i, j, k), labels), i, j, k)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ndarray.Array[uint8]{}, err
	}
	return out, nil
}

func (p *Phantom) label(c v3.Vec, labels models.LabelSet) uint8 {
	switch {
	case p.Inner.Evaluate(c) < 0:
		return labels.Inside
	case p.Outer.Evaluate(c) >= 0:
		return 0
	}
	for _, h := range p.Holes {
		if h.Evaluate(c) < 0 {
			return labels.Holes
		}
	}
	return labels.Wall
}

// Wall returns the wall as a solid, holes included.
func (p *Phantom) Wall() sdf.SDF3 {
	return sdf.Difference3D(p.Outer, p.Inner)
}

// Mesh tessellates the wall clipped to the grid extent.
func (p *Phantom) Mesh(cells int) []stl.Triangle {
	lo := p.Center(0, 0, 0)
	hi := p.Center(p.Shape[0]-1, p.Shape[1]-1, p.Shape[2]-1)
	size := hi.Sub(lo)
	grid, err := sdf.Box3D(size, 0)
	if err != nil {
		// Box3D only fails on negative sizes, ruled out by Shape >= 1
		panic(fmt.Sprintf("phantom: grid box: %v", err))
	}
	grid = sdf.Transform3D(grid, sdf.Translate3d(lo.Add(size.MulScalar(0.5))))
	return stl.FromSDF(sdf.Intersect3D(p.Wall(), grid), cells)
}
