package tangent

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wallthickness/internal/models"
	"wallthickness/pkg/ndarray"
)

func TestGradientMatchesNumpySemantics(t *testing.T) {
	// f = i² along the first axis, constant along the others
	f := ndarray.New[float64](4, 2, 1)
	for i := 0; i < 4; i++ {
		for j := 0; j < 2; j++ {
			f.Set(float64(i*i), i, j, 0)
		}
	}
	g, err := Gradient(f, models.Spacing{2, 1, 1}, 2)
	require.NoError(t, err)

	// numpy.gradient([0, 1, 4, 9]) = [1, 2, 4, 5], then divided by spacing 2
	want := []float64{0.5, 1, 2, 2.5}
	for i := 0; i < 4; i++ {
		v := g.At(i, 1, 0)
		assert.InDelta(t, want[i], v[0], 1e-12)
		assert.Equal(t, 0.0, v[1])
		assert.Equal(t, 0.0, v[2], "axis of length 1 has zero gradient")
	}
}

func TestFieldIsUnitOrZero(t *testing.T) {
	const n = 12
	f := ndarray.New[float64](n, n, n)
	for off := range f.Data {
		c := f.Unravel(off)
		x, y, z := float64(c[0])-5.5, float64(c[1])-5.5, float64(c[2])-5.5
		f.Data[off] = math.Sqrt(x*x + 0.5*y*y + 2*z*z)
	}
	// a flat plateau produces zero gradients
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 3; k++ {
				f.Set(7, i, j, k)
			}
		}
	}

	field, degenerate, err := Field(f, models.Spacing{1, 1.5, 0.5}, 4)
	require.NoError(t, err)
	assert.Greater(t, degenerate, 0)

	zeros := 0
	for _, v := range field.Data {
		norm := math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
		require.False(t, math.IsNaN(norm))
		if norm == 0 {
			zeros++
			continue
		}
		require.InDelta(t, 1.0, norm, 1e-12)
	}
	assert.Equal(t, degenerate, zeros)
}

func TestGradientRejectsBadInput(t *testing.T) {
	_, err := Gradient(ndarray.New[float64](3, 3), models.DefaultSpacing, 1)
	assert.ErrorIs(t, err, ErrFieldRank)

	_, err = Gradient(ndarray.New[float64](3, 3, 3), models.Spacing{1, 0, 1}, 1)
	assert.Error(t, err)
}
