package thickness

import "errors"

// Configuration errors returned by New before any solve starts.
var (
	// ErrRank indicates a labeled image that is not three dimensional.
	ErrRank = errors.New("thickness: labeled image must be 3D")
	// ErrSpacing indicates a spacing component that is not positive.
	ErrSpacing = errors.New("thickness: invalid spacing")
	// ErrLabels indicates a label set with zero or repeated values.
	ErrLabels = errors.New("thickness: invalid label set")
	// ErrUnknownLabel indicates voxels carrying a value that is neither
	// background nor one of the configured labels.
	ErrUnknownLabel = errors.New("thickness: unknown label value")
	// ErrNoWall indicates an image without wall voxels.
	ErrNoWall = errors.New("thickness: no wall voxels")
	// ErrNoInside indicates an image without inside voxels, which leaves the
	// inner boundary condition undefined.
	ErrNoInside = errors.New("thickness: no inside voxels")
	// ErrIllPosed indicates a wall that does not touch both the inside
	// region and the exterior, so the boundary value problem has no
	// meaningful solution.
	ErrIllPosed = errors.New("thickness: wall does not separate inside from exterior")
	// ErrOptions indicates a negative tolerance, iteration cap or worker count.
	ErrOptions = errors.New("thickness: invalid options")
	// ErrShapeMismatch indicates an injected Laplace grid whose shape
	// differs from the labeled image.
	ErrShapeMismatch = errors.New("thickness: shape mismatch")
)
