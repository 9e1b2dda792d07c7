package thickness

import (
	"fmt"

	"wallthickness/internal/models"
	"wallthickness/pkg/ndarray"
)

func checkLabelValues(labels ndarray.Array[uint8], set models.LabelSet) error {
	var seen [256]bool
	for _, v := range labels.Data {
		seen[v] = true
	}
	for v, ok := range seen {
		if !ok {
			continue
		}
		switch uint8(v) {
		case 0, set.Inside, set.Wall, set.Holes:
		default:
			return fmt.Errorf("%w: %d (labels are inside=%d wall=%d holes=%d)",
				ErrUnknownLabel, v, set.Inside, set.Wall, set.Holes)
		}
	}
	return nil
}

// checkRegions rejects images whose boundary value problem is not defined:
// the wall must exist, and every face-connected piece of it (holes
// included) must touch both the inside region and the background.
func (s *Solver) checkRegions() error {
	if len(s.partialWallIdx[0]) == 0 {
		return fmt.Errorf("%w: no voxel carries label %d", ErrNoWall, s.opts.Labels.Wall)
	}
	if ndarray.Count(s.endo) == 0 {
		return fmt.Errorf("%w: no voxel carries label %d", ErrNoInside, s.opts.Labels.Inside)
	}

	for _, comp := range s.wallComponents() {
		var touchesInside, touchesOutside bool
		for _, off := range comp {
			s.forEachNeighbour(off, func(q int) {
				if s.endo.Data[q] {
					touchesInside = true
				} else if !s.epi.Data[q] {
					touchesOutside = true
				}
			})
			if touchesInside && touchesOutside {
				break
			}
		}
		if touchesInside && touchesOutside {
			continue
		}
		side := "inside region"
		if touchesInside {
			side = "background"
		}
		at := s.wall.Unravel(comp[0])
		for d := range at {
			at[d] += s.box.Lo[d]
		}
		return fmt.Errorf("%w: wall piece of %d voxels at %v does not border the %s",
			ErrIllPosed, len(comp), at, side)
	}
	return nil
}

// wallComponents groups the wall voxels into face-connected pieces, each a
// list of offsets into the cropped grid.
func (s *Solver) wallComponents() [][]int {
	seen := make([]bool, s.wall.Len())
	var comps [][]int
	for start, in := range s.wall.Data {
		if !in || seen[start] {
			continue
		}
		// BFS to collect component
		queue := []int{start}
		seen[start] = true
		for qi := 0; qi < len(queue); qi++ {
			s.forEachNeighbour(queue[qi], func(q int) {
				if s.wall.Data[q] && !seen[q] {
					seen[q] = true
					queue = append(queue, q)
				}
			})
		}
		comps = append(comps, queue)
	}
	return comps
}

// forEachNeighbour calls fn with the offset of every in-bounds face
// neighbour of the voxel at off.
func (s *Solver) forEachNeighbour(off int, fn func(q int)) {
	shape := s.wall.Shape
	strides := [3]int{shape[1] * shape[2], shape[2], 1}
	p := [3]int{off / strides[0], off / shape[2] % shape[1], off % shape[2]}
	for axis := range 3 {
		if p[axis] > 0 {
			fn(off - strides[axis])
		}
		if p[axis] < shape[axis]-1 {
			fn(off + strides[axis])
		}
	}
}
