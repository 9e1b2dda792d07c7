// Package visualization renders 2D cuts through solver fields as grayscale
// images.
package visualization

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"

	"wallthickness/pkg/ndarray"
)

// ErrAxis is returned for an axis name other than i, j or k.
var ErrAxis = errors.New("visualization: invalid axis")

// Viewer cuts 2D slices out of a 3D field and maps values in [0, scale] to
// the full 16-bit gray range.
type Viewer struct {
	field ndarray.Array[float64]
	scale float64
}

// NewViewer creates a viewer for field. A scale of 0 uses the field's
// largest value, so the brightest voxel maps to white.
func NewViewer(field ndarray.Array[float64], scale float64) (*Viewer, error) {
	if field.Ndim() != 3 {
		return nil, fmt.Errorf("visualization: field must be 3D, got shape %v", field.Shape)
	}
	if scale < 0 || math.IsNaN(scale) {
		return nil, fmt.Errorf("visualization: scale must not be negative, got %v", scale)
	}
	if scale == 0 {
		for _, v := range field.Data {
			if v > scale {
				scale = v
			}
		}
	}
	if scale == 0 {
		scale = 1
	}
	return &Viewer{field: field, scale: scale}, nil
}

// axisIndex accepts i/j/k and the x/y/z aliases.
func axisIndex(axis string) (int, error) {
	switch strings.ToLower(axis) {
	case "i", "x":
		return 0, nil
	case "j", "y":
		return 1, nil
	case "k", "z":
		return 2, nil
	}
	return 0, fmt.Errorf("%w: %q (must be i, j or k)", ErrAxis, axis)
}

func (v *Viewer) gray(value float64) color.Gray16 {
	return color.Gray16{Y: uint16(math.Max(0, math.Min(65535, value/v.scale*65535)))}
}

// ExtractSlice extracts the 2D slice at position along axis. The two
// remaining axes, in order, become the image's x and y.
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	a, err := axisIndex(axis)
	if err != nil {
		return nil, err
	}
	if position < 0 || position >= v.field.Shape[a] {
		return nil, fmt.Errorf("position %d outside [0, %d) along axis %s", position, v.field.Shape[a], axis)
	}

	// the two in-plane axes
	u, w := (a+1)%3, (a+2)%3
	if u > w {
		u, w = w, u
	}
	img := image.NewGray16(image.Rect(0, 0, v.field.Shape[u], v.field.Shape[w]))
	idx := make([]int, 3)
	idx[a] = position
	for y := range v.field.Shape[w] {
		for x := range v.field.Shape[u] {
			idx[u], idx[w] = x, y
			img.SetGray16(x, y, v.gray(v.field.At(idx...)))
		}
	}
	return img, nil
}

// ExtractRegion extracts a 3D subregion from the field
func (v *Viewer) ExtractRegion(box ndarray.Box) (ndarray.Array[float64], error) {
	if len(box.Lo) != 3 || len(box.Hi) != 3 {
		return ndarray.Array[float64]{}, fmt.Errorf("region must be 3D")
	}
	for d := range 3 {
		if box.Lo[d] < 0 || box.Hi[d] > v.field.Shape[d] || box.Lo[d] >= box.Hi[d] {
			return ndarray.Array[float64]{}, fmt.Errorf("region %v..%v extends beyond field %v", box.Lo, box.Hi, v.field.Shape)
		}
	}
	return ndarray.Slice(v.field, box), nil
}

// SaveSlice saves an extracted slice as PNG, or JPEG for .jpg and .jpeg names
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		err = jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
	default:
		err = png.Encode(file, img)
	}
	if err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// SaveSliceSequence extracts and saves every slice along axis as PNG
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	a, err := axisIndex(axis)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	for pos := range v.field.Shape[a] {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.png", strings.ToLower(axis), pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}
