package thickness

import (
	"bytes"
	"errors"
	"log/slog"
	"math"
	"slices"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wallthickness/internal/models"
	"wallthickness/pkg/ndarray"
)

// flatPlate returns a (6, 6, 12) image with the inside at k=0..1, a wall
// of t voxels from k=2 and background beyond it.
func flatPlate(t int) ndarray.Array[uint8] {
	labels := ndarray.New[uint8](6, 6, 12)
	for off := range labels.Data {
		switch k := labels.Unravel(off)[2]; {
		case k < 2:
			labels.Data[off] = 1
		case k < 2+t:
			labels.Data[off] = 2
		}
	}
	return labels
}

// shell returns an n³ image with a ball of radius rin labeled inside and the
// shell rin <= r < rout labeled wall, centered at n/2.
func shell(n int, rin, rout float64) ndarray.Array[uint8] {
	labels := ndarray.New[uint8](n, n, n)
	c := float64(n) / 2
	for off := range labels.Data {
		p := labels.Unravel(off)
		di, dj, dk := float64(p[0])-c, float64(p[1])-c, float64(p[2])-c
		switch r := math.Sqrt(di*di + dj*dj + dk*dk); {
		case r < rin:
			labels.Data[off] = 1
		case r < rout:
			labels.Data[off] = 2
		}
	}
	return labels
}

func testOptions() Options {
	return Options{
		LaplaceTolerance: 1e-9,
		YezziTolerance:   1e-9,
		Workers:          2,
		Logger:           slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)),
	}
}

type recorder struct {
	stages []models.Stage
	diags  []models.Diagnostics
}

func (r *recorder) ObserveSolve(stage models.Stage, diag models.Diagnostics) {
	r.stages = append(r.stages, stage)
	r.diags = append(r.diags, diag)
}

func TestFlatPlateThickness(t *testing.T) {
	const wall = 4
	labels := flatPlate(wall)
	s, err := New(labels, testOptions())
	require.NoError(t, err)

	th := s.Result()
	grid := s.LaplaceGrid()
	require.Equal(t, labels.Shape, th.Shape)
	for off, v := range labels.Data {
		k := labels.Unravel(off)[2]
		if v == 2 {
			assert.InDelta(t, float64(wall), th.Data[off], 1e-3)
			assert.InDelta(t, float64(k-1)/float64(wall+1), grid.Data[off], 1e-6)
		} else {
			assert.Equal(t, 0.0, th.Data[off])
		}
		if v == 1 {
			assert.Equal(t, 0.0, grid.Data[off])
		}
	}
	// exterior layer kept by the crop margin
	assert.Equal(t, 1.0, grid.At(0, 0, 2+wall))

	for _, stage := range []models.Stage{models.StageLaplace, models.StageYezzi} {
		d, ok := s.Diagnostics(stage)
		require.True(t, ok)
		assert.True(t, d.Converged, stage)
		assert.False(t, d.External)
	}
	assert.Zero(t, s.DegenerateVoxels())
}

func TestFlatPlateSpacing(t *testing.T) {
	opts := testOptions()
	opts.Spacing = models.Spacing{1, 1, 0.5}
	th, err := ComputeThickness(flatPlate(4), opts)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, th.At(2, 3, 3), 1e-3)
	assert.InDelta(t, 2.0, th.At(0, 5, 5), 1e-3)
}

func TestSphericalShell(t *testing.T) {
	if testing.Short() {
		t.Skip("64³ solve")
	}
	labels := shell(64, 10, 13)
	opts := testOptions()
	opts.LaplaceTolerance = 1e-6
	opts.YezziTolerance = 1e-6
	s, err := New(labels, opts)
	require.NoError(t, err)
	th := s.Result()

	var values []float64
	for off, v := range labels.Data {
		if v == 2 {
			values = append(values, th.Data[off])
		}
	}
	require.NotEmpty(t, values)

	sum, within := 0.0, 0
	for _, v := range values {
		sum += v
		if math.Abs(v-3) <= 0.3 {
			within++
		}
		assert.InDelta(t, 3.0, v, 0.6)
	}
	mean := sum / float64(len(values))
	sort.Float64s(values)
	median := values[len(values)/2]

	assert.InDelta(t, 3.0, mean, 0.1)
	assert.InDelta(t, 3.0, median, 0.15)
	assert.GreaterOrEqual(t, float64(within)/float64(len(values)), 0.85)
}

func TestNonNegativeAndZeroOutsideWall(t *testing.T) {
	labels := shell(24, 4, 8)
	// punch a few holes into the wall
	for _, p := range [][3]int{{12, 12, 18}, {12, 18, 12}, {6, 12, 12}} {
		require.Equal(t, uint8(2), labels.At(p[0], p[1], p[2]))
		labels.Set(3, p[0], p[1], p[2])
	}
	s, err := New(labels, testOptions())
	require.NoError(t, err)

	th, l0, l1 := s.Result(), s.L0(), s.L1()
	mask := s.PartialWall()
	for off, v := range labels.Data {
		assert.GreaterOrEqual(t, l0.Data[off], 0.0)
		assert.GreaterOrEqual(t, l1.Data[off], 0.0)
		assert.Equal(t, v == 2, mask.Data[off])
		if v != 2 {
			assert.Equal(t, 0.0, th.Data[off])
			assert.Equal(t, 0.0, l0.Data[off])
			assert.Equal(t, 0.0, l1.Data[off])
		} else {
			assert.InDelta(t, l0.Data[off]+l1.Data[off], th.Data[off], 1e-12)
			assert.Positive(t, th.Data[off])
		}
	}
}

func TestHoleCarriesPathLengths(t *testing.T) {
	labels := flatPlate(6)
	labels.Set(3, 3, 3, 4)
	s, err := New(labels, testOptions())
	require.NoError(t, err)

	th, l0 := s.Result(), s.L0()
	for k := 2; k < 8; k++ {
		if k == 4 {
			assert.Equal(t, 0.0, th.At(3, 3, k))
			assert.Equal(t, 0.0, l0.At(3, 3, k))
			continue
		}
		assert.InDelta(t, 6.0, th.At(3, 3, k), 1e-3, "k=%d", k)
		assert.InDelta(t, 6.0, th.At(1, 1, k), 1e-3, "k=%d", k)
	}
	// the path from the inside runs through the hole
	assert.InDelta(t, 3.5, l0.At(3, 3, 5), 1e-3)
}

func TestAccessorsIdempotent(t *testing.T) {
	s, err := New(shell(20, 4, 7), testOptions())
	require.NoError(t, err)

	first := s.Result()
	first.Data[first.Offset(10, 10, 16)] = -1
	second := s.Result()
	third := s.Result()
	assert.True(t, ndarray.Equal(second, third))
	assert.NotEqual(t, -1.0, second.At(10, 10, 16))

	g1, g2 := s.LaplaceGrid(), s.LaplaceGrid()
	assert.True(t, ndarray.Equal(g1, g2))
	v1, v2 := s.TangentVectors(), s.TangentVectors()
	assert.True(t, ndarray.Equal(v1, v2))

	d, _ := s.Diagnostics(models.StageYezzi)
	s.Result()
	again, _ := s.Diagnostics(models.StageYezzi)
	assert.Equal(t, d, again)
}

func TestTangentUnitNorm(t *testing.T) {
	labels := shell(20, 4, 8)
	s, err := New(labels, testOptions())
	require.NoError(t, err)
	field := s.TangentVectors()
	require.Equal(t, labels.Shape, field.Shape)

	mask := s.PartialWall()
	for off, in := range mask.Data {
		if !in {
			continue
		}
		v := field.Data[off]
		if v == ([3]float64{}) {
			continue
		}
		assert.InDelta(t, 1.0, math.Sqrt(v[0]*v[0]+v[1]*v[1]+v[2]*v[2]), 1e-6)
	}
}

func TestLaplaceIterationCap(t *testing.T) {
	var logs bytes.Buffer
	obs := &recorder{}
	opts := testOptions()
	opts.LaplaceMaxIter = 1
	opts.Logger = slog.New(slog.NewTextHandler(&logs, nil))
	opts.Observer = obs

	s, err := New(shell(20, 4, 8), opts)
	require.NoError(t, err)

	d, ok := s.Diagnostics(models.StageLaplace)
	require.True(t, ok)
	assert.Equal(t, 1, d.Iterations)
	assert.False(t, d.Converged)
	assert.Positive(t, d.MaxError)
	assert.Contains(t, logs.String(), "level=WARN")
	assert.Contains(t, logs.String(), "stage=laplace")

	require.Equal(t, []models.Stage{models.StageLaplace, models.StageYezzi}, obs.stages)
	assert.False(t, obs.diags[0].Converged)
}

func TestDeferPostponesSolves(t *testing.T) {
	obs := &recorder{}
	opts := testOptions()
	opts.Defer = true
	opts.Observer = obs
	s, err := New(flatPlate(3), opts)
	require.NoError(t, err)

	_, ok := s.Diagnostics(models.StageLaplace)
	assert.False(t, ok)
	assert.Empty(t, obs.stages)

	s.LaplaceGrid()
	_, ok = s.Diagnostics(models.StageLaplace)
	assert.True(t, ok)
	_, ok = s.Diagnostics(models.StageYezzi)
	assert.False(t, ok)

	s.L1()
	_, ok = s.Diagnostics(models.StageYezzi)
	assert.True(t, ok)
	assert.Equal(t, []models.Stage{models.StageLaplace, models.StageYezzi}, obs.stages)
}

func TestSetLaplaceGridMatchesComputed(t *testing.T) {
	labels := shell(20, 4, 8)
	ref, err := New(labels, testOptions())
	require.NoError(t, err)

	opts := testOptions()
	opts.Defer = true
	obs := &recorder{}
	opts.Observer = obs
	s, err := New(labels, opts)
	require.NoError(t, err)
	require.NoError(t, s.SetLaplaceGrid(ref.LaplaceGrid()))

	d, ok := s.Diagnostics(models.StageLaplace)
	require.True(t, ok)
	assert.True(t, d.External)
	assert.True(t, ndarray.Equal(ref.TangentVectors(), s.TangentVectors()))
	assert.True(t, ndarray.Equal(ref.Result(), s.Result()))
	// the injected grid is reported but never solved
	require.Equal(t, []models.Stage{models.StageLaplace, models.StageYezzi}, obs.stages)
	assert.True(t, obs.diags[0].External)
	assert.Zero(t, obs.diags[0].Iterations)
}

func TestSetLaplaceGridInvalidatesPathLengths(t *testing.T) {
	labels := flatPlate(4)
	s, err := New(labels, testOptions())
	require.NoError(t, err)
	l0, l1 := s.L0(), s.L1()
	mask := s.PartialWall()

	// reversed polarity flips the tangent field, so the path lengths swap
	flipped := ndarray.Map(s.LaplaceGrid(), func(v float64) float64 { return 1 - v })
	require.NoError(t, s.SetLaplaceGrid(flipped))
	_, ok := s.Diagnostics(models.StageYezzi)
	assert.False(t, ok)

	n0, n1 := s.L0(), s.L1()
	for off, in := range mask.Data {
		if in {
			assert.InDelta(t, l1.Data[off], n0.Data[off], 1e-9)
			assert.InDelta(t, l0.Data[off], n1.Data[off], 1e-9)
		}
	}
	assert.True(t, ndarray.Equal(mask, s.PartialWall()))

	err = s.SetLaplaceGrid(ndarray.New[float64](6, 6, 11))
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestConfigurationErrors(t *testing.T) {
	noBackground := ndarray.New[uint8](4, 4, 4)
	for off := range noBackground.Data {
		noBackground.Data[off] = 2
		if noBackground.Unravel(off)[2] == 0 {
			noBackground.Data[off] = 1
		}
	}
	detached := flatPlate(4)
	for i := range 6 {
		for j := range 6 {
			detached.Set(0, i, j, 2)
		}
	}
	noInside := flatPlate(4)
	for off, v := range noInside.Data {
		if v == 1 {
			noInside.Data[off] = 0
		}
	}
	unknown := flatPlate(4)
	unknown.Set(9, 1, 1, 8)
	floating := flatPlate(4)
	for i := 1; i <= 3; i++ {
		for j := 1; j <= 3; j++ {
			floating.Set(2, i, j, 9)
			floating.Set(2, i, j, 10)
		}
	}

	tests := []struct {
		name   string
		labels ndarray.Array[uint8]
		mutate func(*Options)
		want   error
	}{
		{"rank", ndarray.New[uint8](4, 4), nil, ErrRank},
		{"spacing", flatPlate(4), func(o *Options) { o.Spacing = models.Spacing{1, 0, 1} }, ErrSpacing},
		{"negative spacing", flatPlate(4), func(o *Options) { o.Spacing = models.Spacing{1, 1, -2} }, ErrSpacing},
		{"repeated labels", flatPlate(4), func(o *Options) { o.Labels = models.LabelSet{Inside: 1, Wall: 2, Holes: 2} }, ErrLabels},
		{"zero label", flatPlate(4), func(o *Options) { o.Labels = models.LabelSet{Inside: 1, Wall: 0, Holes: 3} }, ErrLabels},
		{"negative tolerance", flatPlate(4), func(o *Options) { o.YezziTolerance = -1 }, ErrOptions},
		{"nan tolerance", flatPlate(4), func(o *Options) { o.LaplaceTolerance = math.NaN() }, ErrOptions},
		{"negative workers", flatPlate(4), func(o *Options) { o.Workers = -1 }, ErrOptions},
		{"unknown label", unknown, nil, ErrUnknownLabel},
		{"all background", ndarray.New[uint8](5, 5, 5), nil, ndarray.ErrNoForeground},
		{"no wall", flatPlate(0), nil, ErrNoWall},
		{"no inside", noInside, nil, ErrNoInside},
		{"no exterior", noBackground, nil, ErrIllPosed},
		{"wall detached from inside", detached, nil, ErrIllPosed},
		{"floating wall piece", floating, nil, ErrIllPosed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions()
			if tt.mutate != nil {
				tt.mutate(&opts)
			}
			s, err := New(tt.labels, opts)
			assert.Nil(t, s)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestFloatingWallPieceReported(t *testing.T) {
	labels := flatPlate(4)
	for i := 1; i <= 3; i++ {
		for j := 1; j <= 3; j++ {
			labels.Set(2, i, j, 9)
			labels.Set(2, i, j, 10)
		}
	}
	_, err := New(labels, testOptions())
	require.ErrorIs(t, err, ErrIllPosed)
	assert.Contains(t, err.Error(), "18 voxels at [1 1 9]")
	assert.Contains(t, err.Error(), "inside region")

	// the same piece joined to the plate is part of a valid wall
	for k := 6; k < 9; k++ {
		labels.Set(2, 2, 2, k)
	}
	_, err = New(labels, testOptions())
	assert.NoError(t, err)
}

func TestAllBackgroundIsNoWall(t *testing.T) {
	_, err := New(ndarray.New[uint8](3, 3, 3), testOptions())
	assert.True(t, errors.Is(err, ErrNoWall))
	assert.True(t, errors.Is(err, ndarray.ErrNoForeground))
}

func TestCustomLabels(t *testing.T) {
	labels := ndarray.Map(flatPlate(4), func(v uint8) uint8 {
		switch v {
		case 1:
			return 10
		case 2:
			return 20
		}
		return v
	})
	opts := testOptions()
	opts.Labels = models.LabelSet{Inside: 10, Wall: 20, Holes: 30}
	th, err := ComputeThickness(labels, opts)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, th.At(3, 3, 4), 1e-3)
}

func TestInputNotMutated(t *testing.T) {
	labels := shell(16, 3, 6)
	before := labels.Clone()
	s, err := New(labels, testOptions())
	require.NoError(t, err)
	s.Result()
	require.NoError(t, s.SetLaplaceGrid(s.LaplaceGrid()))
	s.Result()
	assert.True(t, ndarray.Equal(before, labels))
}

func TestCropGeometry(t *testing.T) {
	s, err := New(flatPlate(4), testOptions())
	require.NoError(t, err)
	box := s.Box()
	assert.Equal(t, []int{0, 0, 0}, box.Lo)
	assert.Equal(t, []int{6, 6, 7}, box.Hi)
	assert.Equal(t, ndarray.Padding{{0, 0}, {0, 0}, {0, 5}}, s.Padding())

	// returned values are copies
	box.Lo[0] = 3
	assert.Equal(t, 0, s.Box().Lo[0])
}

func TestComputeThicknessMatchesSolver(t *testing.T) {
	labels := shell(16, 3, 6)
	opts := testOptions()
	opts.Defer = true
	th, err := ComputeThickness(labels, opts)
	require.NoError(t, err)
	s, err := New(labels, testOptions())
	require.NoError(t, err)
	assert.True(t, ndarray.Equal(s.Result(), th))
}

func TestWorkersDoNotChangeResults(t *testing.T) {
	if testing.Short() {
		t.Skip("needs a wall large enough to split sweeps")
	}
	labels := shell(48, 8, 20)
	serial := testOptions()
	serial.Workers = 1
	serial.LaplaceTolerance, serial.YezziTolerance = 1e-5, 1e-5
	parallel := serial
	parallel.Workers = 8

	a, err := New(labels, serial)
	require.NoError(t, err)
	b, err := New(labels, parallel)
	require.NoError(t, err)
	assert.True(t, ndarray.Equal(a.LaplaceGrid(), b.LaplaceGrid()))
	assert.True(t, slices.Equal(a.Result().Data, b.Result().Data))
}
