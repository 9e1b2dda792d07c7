package ndarray

import (
	"fmt"
	"slices"
)

// Box is a half-open axis-aligned region [Lo[d], Hi[d]) of an array.
type Box struct {
	Lo []int
	Hi []int
}

// Shape returns the extent of the box along every axis.
func (b Box) Shape() []int {
	s := make([]int, len(b.Lo))
	for d := range b.Lo {
		s[d] = b.Hi[d] - b.Lo[d]
	}
	return s
}

// Expand grows the box by margin on every side, clamped to shape.
func (b Box) Expand(margin int, shape []int) Box {
	out := Box{Lo: make([]int, len(b.Lo)), Hi: make([]int, len(b.Hi))}
	for d := range b.Lo {
		out.Lo[d] = max(b.Lo[d]-margin, 0)
		out.Hi[d] = min(b.Hi[d]+margin, shape[d])
	}
	return out
}

// Padding returns the per-axis [before, after] counts that inflate an
// array of the box's shape back to shape.
func (b Box) Padding(shape []int) Padding {
	p := make(Padding, len(shape))
	for d := range shape {
		p[d] = [2]int{b.Lo[d], shape[d] - b.Hi[d]}
	}
	return p
}

// Padding holds, per axis, how many elements were removed before and after
// the kept region.
type Padding [][2]int

// BoundingBox returns the tightest box holding every non-zero entry of ref.
func BoundingBox[U comparable](ref Array[U]) (Box, error) {
	n := len(ref.Shape)
	if n == 0 {
		return Box{}, fmt.Errorf("%w: rank 0 array has no bounding box", ErrBadShape)
	}
	lo := slices.Clone(ref.Shape)
	hi := make([]int, n)
	idx := make([]int, n)
	var zero U
	found := false
	for off, v := range ref.Data {
		if v != zero {
			found = true
			for d := 0; d < n; d++ {
				if idx[d] < lo[d] {
					lo[d] = idx[d]
				}
				if idx[d]+1 > hi[d] {
					hi[d] = idx[d] + 1
				}
			}
		}
		if off+1 < len(ref.Data) {
			increment(idx, ref.Shape)
		}
	}
	if !found {
		return Box{}, ErrNoForeground
	}
	return Box{Lo: lo, Hi: hi}, nil
}

// Crop slices a to the bounding box of its own non-zero entries.
func Crop[T comparable](a Array[T]) (Array[T], Padding, error) {
	return CropLike(a, a, 0)
}

// CropLike slices a to the bounding box of the non-zero entries of ref,
// grown by margin on every side and clamped to the array. It returns the
// cropped copy and the padding that Restore needs to undo it.
func CropLike[T any, U comparable](a Array[T], ref Array[U], margin int) (Array[T], Padding, error) {
	if !SameShape(a, ref) {
		return Array[T]{}, nil, fmt.Errorf("%w: array %v, reference %v", ErrShapeMismatch, a.Shape, ref.Shape)
	}
	box, err := BoundingBox(ref)
	if err != nil {
		return Array[T]{}, nil, err
	}
	box = box.Expand(margin, a.Shape)
	return Slice(a, box), box.Padding(a.Shape), nil
}

// Slice copies the region box out of a. It panics if box does not fit.
func Slice[T any](a Array[T], box Box) Array[T] {
	if len(box.Lo) != len(a.Shape) || len(box.Hi) != len(a.Shape) {
		panic(fmt.Sprintf("ndarray: box rank %d for array of rank %d", len(box.Lo), len(a.Shape)))
	}
	for d := range a.Shape {
		if box.Lo[d] < 0 || box.Hi[d] > a.Shape[d] || box.Lo[d] > box.Hi[d] {
			panic(fmt.Sprintf("ndarray: box [%d,%d) outside axis %d of length %d", box.Lo[d], box.Hi[d], d, a.Shape[d]))
		}
	}
	out := New[T](box.Shape()...)
	src := a.Strides()
	forEachRow(out.Shape, func(idx []int, dst int) {
		s := 0
		for d, i := range idx {
			s += (i + box.Lo[d]) * src[d]
		}
		copy(out.Data[dst:dst+out.Shape[len(out.Shape)-1]], a.Data[s:])
	})
	return out
}

// Restore zero-pads a according to pad, reproducing the shape the array had
// before cropping. Restore(Crop(v)) == v for every v with a foreground. It
// panics if pad and a differ in rank.
func Restore[T any](a Array[T], pad Padding) Array[T] {
	if len(pad) != len(a.Shape) {
		panic(fmt.Sprintf("ndarray: padding rank %d for array of rank %d", len(pad), len(a.Shape)))
	}
	shape := make([]int, len(a.Shape))
	for d := range a.Shape {
		shape[d] = a.Shape[d] + pad[d][0] + pad[d][1]
	}
	out := New[T](shape...)
	dst := out.Strides()
	forEachRow(a.Shape, func(idx []int, src int) {
		o := 0
		for d, i := range idx {
			o += (i + pad[d][0]) * dst[d]
		}
		w := a.Shape[len(a.Shape)-1]
		copy(out.Data[o:o+w], a.Data[src:src+w])
	})
	return out
}

// forEachRow calls fn once per contiguous last-axis run of an array with
// the given shape, passing the multi-index of the run's first element and
// its flat offset.
func forEachRow(shape []int, fn func(idx []int, off int)) {
	n := len(shape)
	if n == 0 {
		return
	}
	for _, d := range shape {
		if d == 0 {
			return
		}
	}
	w := shape[n-1]
	rows := 1
	for _, d := range shape[:n-1] {
		rows *= d
	}
	idx := make([]int, n)
	for r := 0; r < rows; r++ {
		fn(idx, r*w)
		if r+1 < rows {
			increment(idx[:n-1], shape[:n-1])
		}
	}
}

// increment advances idx to the next position in row-major order.
func increment(idx, shape []int) {
	for d := len(idx) - 1; d >= 0; d-- {
		idx[d]++
		if idx[d] < shape[d] {
			return
		}
		idx[d] = 0
	}
}
