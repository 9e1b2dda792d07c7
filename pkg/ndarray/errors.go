package ndarray

import "errors"

var (
	// ErrNoForeground indicates an array whose entries are all zero, so no
	// bounding box exists.
	ErrNoForeground = errors.New("ndarray: array has no non-zero entries")
	// ErrShapeMismatch indicates two arrays that must share a shape do not.
	ErrShapeMismatch = errors.New("ndarray: shape mismatch")
	// ErrBadShape indicates a negative dimension or a data length that does
	// not match the product of the dimensions.
	ErrBadShape = errors.New("ndarray: invalid shape")
)
