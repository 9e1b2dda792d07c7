// Package ndarray provides a small row-major N-dimensional array type and
// the crop/restore operations used to shrink labeled volumes to the region
// of interest before solving and to inflate results back afterwards.
//
// Layout is C order: the last axis is contiguous, so for a 3D array of
// shape (ni, nj, nk) the element (i, j, k) lives at (i*nj+j)*nk+k.
package ndarray

import (
	"fmt"
	"slices"
)

// Array is a dense N-dimensional array stored in row-major order.
type Array[T any] struct {
	Shape []int
	Data  []T
}

// New allocates a zero-filled array with the given shape.
func New[T any](shape ...int) Array[T] {
	n := 1
	for _, d := range shape {
		if d < 0 {
			panic(fmt.Sprintf("ndarray: negative dimension %d", d))
		}
		n *= d
	}
	return Array[T]{Shape: slices.Clone(shape), Data: make([]T, n)}
}

// FromData wraps data with the given shape without copying.
func FromData[T any](data []T, shape ...int) (Array[T], error) {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return Array[T]{}, fmt.Errorf("%w: negative dimension %d", ErrBadShape, d)
		}
		n *= d
	}
	if n != len(data) {
		return Array[T]{}, fmt.Errorf("%w: shape %v needs %d elements, got %d", ErrBadShape, shape, n, len(data))
	}
	return Array[T]{Shape: slices.Clone(shape), Data: data}, nil
}

// Ndim returns the rank of the array.
func (a Array[T]) Ndim() int { return len(a.Shape) }

// Len returns the number of elements.
func (a Array[T]) Len() int { return len(a.Data) }

// Strides returns the element stride of every axis.
func (a Array[T]) Strides() []int {
	return strides(a.Shape)
}

func strides(shape []int) []int {
	st := make([]int, len(shape))
	s := 1
	for d := len(shape) - 1; d >= 0; d-- {
		st[d] = s
		s *= shape[d]
	}
	return st
}

// Offset converts a multi-index to a flat offset into Data. It panics if
// the index is out of range.
func (a Array[T]) Offset(idx ...int) int {
	if len(idx) != len(a.Shape) {
		panic(fmt.Sprintf("ndarray: index rank %d for array of rank %d", len(idx), len(a.Shape)))
	}
	off := 0
	for d, i := range idx {
		if i < 0 || i >= a.Shape[d] {
			panic(fmt.Sprintf("ndarray: index %d out of range [0,%d) on axis %d", i, a.Shape[d], d))
		}
		off = off*a.Shape[d] + i
	}
	return off
}

// Unravel converts a flat offset back to a multi-index.
func (a Array[T]) Unravel(off int) []int {
	idx := make([]int, len(a.Shape))
	for d := len(a.Shape) - 1; d >= 0; d-- {
		idx[d] = off % a.Shape[d]
		off /= a.Shape[d]
	}
	return idx
}

// At returns the element at idx.
func (a Array[T]) At(idx ...int) T { return a.Data[a.Offset(idx...)] }

// Set stores v at idx.
func (a Array[T]) Set(v T, idx ...int) { a.Data[a.Offset(idx...)] = v }

// Clone returns a deep copy.
func (a Array[T]) Clone() Array[T] {
	return Array[T]{Shape: slices.Clone(a.Shape), Data: slices.Clone(a.Data)}
}

// SameShape reports whether a and b have identical shapes.
func SameShape[T, U any](a Array[T], b Array[U]) bool {
	return slices.Equal(a.Shape, b.Shape)
}

// Equal reports whether a and b have the same shape and elements.
func Equal[T comparable](a, b Array[T]) bool {
	return SameShape(a, b) && slices.Equal(a.Data, b.Data)
}

// Map applies fn to every element of a and returns the results in a new
// array of the same shape.
func Map[T, U any](a Array[T], fn func(T) U) Array[U] {
	out := Array[U]{Shape: slices.Clone(a.Shape), Data: make([]U, len(a.Data))}
	for i, v := range a.Data {
		out.Data[i] = fn(v)
	}
	return out
}

// Nonzero returns, for every axis, the coordinates of the non-zero entries
// of a in row-major order, like numpy.nonzero.
func Nonzero[T comparable](a Array[T]) [][]int {
	var zero T
	out := make([][]int, len(a.Shape))
	for off, v := range a.Data {
		if v == zero {
			continue
		}
		rem := off
		for d := len(a.Shape) - 1; d >= 0; d-- {
			out[d] = append(out[d], rem%a.Shape[d])
			rem /= a.Shape[d]
		}
	}
	return out
}

// Count returns the number of non-zero entries.
func Count[T comparable](a Array[T]) int {
	var zero T
	n := 0
	for _, v := range a.Data {
		if v != zero {
			n++
		}
	}
	return n
}
