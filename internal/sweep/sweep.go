// Package sweep runs red-black Gauss-Seidel relaxation sweeps over voxel
// lists, splitting each colour across worker goroutines.
//
// Every stencil used by the solvers only reads the six face neighbours of a
// voxel, which always have the opposite colour. Updates within one colour
// are therefore independent and the result does not depend on the number
// of workers or on how the colour is chunked.
package sweep

import (
	"time"

	"golang.org/x/sync/errgroup"

	"wallthickness/internal/models"
)

// minChunk is the smallest number of voxels handed to one goroutine.
const minChunk = 4096

// Runner applies per-voxel updates in parallel.
type Runner struct {
	workers int
}

// New returns a Runner using up to workers goroutines. Values below 1 mean
// serial execution.
func New(workers int) *Runner {
	if workers < 1 {
		workers = 1
	}
	return &Runner{workers: workers}
}

// Workers returns the goroutine limit.
func (r *Runner) Workers() int { return r.workers }

// Checkerboard splits voxel positions 0..len(i)-1 by the parity of i+j+k.
func Checkerboard(i, j, k []int) [2][]int {
	var colors [2][]int
	for p := range i {
		c := (i[p] + j[p] + k[p]) & 1
		colors[c] = append(colors[c], p)
	}
	return colors
}

// Run calls update for every position in set and returns the largest value
// it reported.
func (r *Runner) Run(set []int, update func(p int) float64) float64 {
	n := len(set)
	if r.workers == 1 || n < 2*minChunk {
		return span(set, update)
	}

	chunks := min(r.workers*4, (n+minChunk-1)/minChunk)
	size := (n + chunks - 1) / chunks
	maxes := make([]float64, chunks)

	var g errgroup.Group
	g.SetLimit(r.workers)
	for c := 0; c < chunks; c++ {
		lo := c * size
		hi := min(lo+size, n)
		if lo >= hi {
			break
		}
		g.Go(func() error {
			maxes[c] = span(set[lo:hi], update)
			return nil
		})
	}
	_ = g.Wait()

	var m float64
	for _, v := range maxes {
		m = max(m, v)
	}
	return m
}

func span(set []int, update func(p int) float64) float64 {
	var m float64
	for _, p := range set {
		if d := update(p); d > m {
			m = d
		}
	}
	return m
}

// Relax repeats red then black sweeps until the largest change of a full
// sweep is below tol or maxIter sweeps have run. Hitting maxIter is not an
// error; the returned diagnostics say so.
func (r *Runner) Relax(colors [2][]int, tol float64, maxIter int, update func(p int) float64) models.Diagnostics {
	start := time.Now()
	var diag models.Diagnostics
	for it := 1; it <= maxIter; it++ {
		e := r.Run(colors[0], update)
		e = max(e, r.Run(colors[1], update))
		diag.Iterations = it
		diag.MaxError = e
		if e < tol {
			diag.Converged = true
			break
		}
	}
	if maxIter < 1 || len(colors[0])+len(colors[1]) == 0 {
		diag.Converged = true
	}
	diag.Elapsed = time.Since(start)
	return diag
}
