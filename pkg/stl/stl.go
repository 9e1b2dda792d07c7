// Package stl turns signed distance fields and voxel volumes into triangle
// meshes and writes them as binary STL files.
package stl

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/deadsy/sdfx/render"
	"github.com/deadsy/sdfx/sdf"
	v3 "github.com/deadsy/sdfx/vec/v3"

	"wallthickness/internal/models"
	"wallthickness/pkg/ndarray"
)

// DefaultMeshCells is the marching cubes resolution along the longest axis.
const DefaultMeshCells = 128

var (
	// ErrVolume indicates a field that cannot be meshed.
	ErrVolume = errors.New("stl: invalid volume")
	// ErrFormat indicates a malformed binary STL stream.
	ErrFormat = errors.New("stl: malformed file")
)

// Triangle represents a triangle in 3D space with its normal vector
type Triangle struct {
	Normal  [3]float32
	Vertex1 [3]float32
	Vertex2 [3]float32
	Vertex3 [3]float32
}

// FromSDF tessellates s with a uniform marching cubes grid of cells along
// its longest axis.
func FromSDF(s sdf.SDF3, cells int) []Triangle {
	if cells <= 0 {
		cells = DefaultMeshCells
	}
	renderer := render.NewMarchingCubesUniform(cells)
	mesh := render.ToTriangles(s, renderer)

	out := make([]Triangle, 0, len(mesh))
	for _, tri := range mesh {
		n := tri.Normal()
		out = append(out, Triangle{
			Normal:  vec32(n),
			Vertex1: vec32(tri[0]),
			Vertex2: vec32(tri[1]),
			Vertex3: vec32(tri[2]),
		})
	}
	return out
}

func vec32(v v3.Vec) [3]float32 {
	return [3]float32{float32(v.X), float32(v.Y), float32(v.Z)}
}

// Volume exposes a voxel field as a signed distance field: negative where
// the trilinear interpolation of the field exceeds the iso level. Voxel
// (i, j, k) sits at (i·h_i, j·h_j, k·h_k) and everything beyond the grid
// counts as empty, so the surface is always closed.
type Volume struct {
	field   ndarray.Array[float64]
	spacing models.Spacing
	iso     float64
}

var _ sdf.SDF3 = (*Volume)(nil)

// NewVolume wraps a 3D field. iso must be positive.
func NewVolume(field ndarray.Array[float64], spacing models.Spacing, iso float64) (*Volume, error) {
	if field.Ndim() != 3 {
		return nil, fmt.Errorf("%w: field must be 3D, got shape %v", ErrVolume, field.Shape)
	}
	if err := spacing.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVolume, err)
	}
	if !(iso > 0) {
		return nil, fmt.Errorf("%w: iso level %v must be positive", ErrVolume, iso)
	}
	return &Volume{field: field, spacing: spacing, iso: iso}, nil
}

// MaskVolume converts a boolean mask to a Volume with iso level 0.5.
func MaskVolume(mask ndarray.Array[bool], spacing models.Spacing) (*Volume, error) {
	field := ndarray.Map(mask, func(in bool) float64 {
		if in {
			return 1
		}
		return 0
	})
	return NewVolume(field, spacing, 0.5)
}

// Evaluate returns iso minus the interpolated field value at p.
func (v *Volume) Evaluate(p v3.Vec) float64 {
	pos := [3]float64{p.X / v.spacing[0], p.Y / v.spacing[1], p.Z / v.spacing[2]}
	var lo [3]int
	var frac [3]float64
	for axis, x := range pos {
		n := v.field.Shape[axis]
		if x < 0 || x > float64(n-1) || math.IsNaN(x) {
			return v.iso
		}
		lo[axis] = min(int(x), max(n-2, 0))
		frac[axis] = x - float64(lo[axis])
	}

	value := 0.0
	for corner := range 8 {
		w := 1.0
		var idx [3]int
		for axis := range 3 {
			idx[axis] = lo[axis]
			if corner>>axis&1 == 1 {
				idx[axis]++
				w *= frac[axis]
			} else {
				w *= 1 - frac[axis]
			}
		}
		if w == 0 {
			continue
		}
		value += w * v.field.At(idx[0], idx[1], idx[2])
	}
	return v.iso - value
}

// BoundingBox covers the grid plus one voxel on every side.
func (v *Volume) BoundingBox() sdf.Box3 {
	h := v3.Vec{X: v.spacing[0], Y: v.spacing[1], Z: v.spacing[2]}
	return sdf.Box3{
		Min: v3.Vec{X: -h.X, Y: -h.Y, Z: -h.Z},
		Max: v3.Vec{
			X: float64(v.field.Shape[0]) * h.X,
			Y: float64(v.field.Shape[1]) * h.Y,
			Z: float64(v.field.Shape[2]) * h.Z,
		},
	}
}

// WriteSTL writes triangles in the binary STL format: an 80 byte header,
// a little-endian triangle count and 50 bytes per triangle.
func WriteSTL(w io.Writer, triangles []Triangle) error {
	if uint64(len(triangles)) > math.MaxUint32 {
		return fmt.Errorf("stl: %d triangles exceed the format limit", len(triangles))
	}
	bw := bufio.NewWriter(w)
	var header [80]byte
	copy(header[:], "wallthickness binary STL")
	if _, err := bw.Write(header[:]); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint32(len(triangles))); err != nil {
		return err
	}
	for _, t := range triangles {
		rec := struct {
			Normal, V1, V2, V3 [3]float32
			Attr               uint16
		}{t.Normal, t.Vertex1, t.Vertex2, t.Vertex3, 0}
		if err := binary.Write(bw, binary.LittleEndian, rec); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadSTL reads a binary STL stream written by WriteSTL or any other tool.
func ReadSTL(r io.Reader) ([]Triangle, error) {
	br := bufio.NewReader(r)
	var header [80]byte
	if _, err := io.ReadFull(br, header[:]); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrFormat, err)
	}
	var count uint32
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("%w: triangle count: %v", ErrFormat, err)
	}
	triangles := make([]Triangle, 0, min(count, 1<<20))
	for i := uint32(0); i < count; i++ {
		var rec struct {
			Normal, V1, V2, V3 [3]float32
			Attr               uint16
		}
		if err := binary.Read(br, binary.LittleEndian, &rec); err != nil {
			return nil, fmt.Errorf("%w: triangle %d: %v", ErrFormat, i, err)
		}
		triangles = append(triangles, Triangle{Normal: rec.Normal, Vertex1: rec.V1, Vertex2: rec.V2, Vertex3: rec.V3})
	}
	return triangles, nil
}

// SaveToSTL saves triangles to a binary STL file, creating parent
// directories as needed.
func SaveToSTL(path string, triangles []Triangle) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("error creating output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating STL file: %w", err)
	}
	if err := WriteSTL(f, triangles); err != nil {
		f.Close()
		return fmt.Errorf("error writing STL file: %w", err)
	}
	return f.Close()
}
