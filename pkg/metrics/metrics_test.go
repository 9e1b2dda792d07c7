package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wallthickness/internal/models"
)

func TestObserveSolve(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	r, err := NewRecorder(reg)
	require.NoError(t, err)

	r.ObserveSolve(models.StageLaplace, models.Diagnostics{Iterations: 52, MaxError: 9e-7, Converged: true, Elapsed: 30 * time.Millisecond})
	r.ObserveSolve(models.StageYezzi, models.Diagnostics{Iterations: 5000, MaxError: 0.02, Elapsed: time.Second})
	r.ObserveSolve(models.StageLaplace, models.Diagnostics{External: true, Converged: true})

	assert.Equal(t, 0.0, testutil.ToFloat64(r.nonConverged.WithLabelValues("laplace")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.nonConverged.WithLabelValues("yezzi")))
	assert.Equal(t, 0.02, testutil.ToFloat64(r.maxError.WithLabelValues("yezzi")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.external))
	assert.Equal(t, 2, testutil.CollectAndCount(r.iterations))

	expected := `
# HELP wallthickness_solve_max_error Largest voxel change in the final sweep of a solve stage
# TYPE wallthickness_solve_max_error gauge
wallthickness_solve_max_error{stage="laplace"} 9e-07
wallthickness_solve_max_error{stage="yezzi"} 0.02
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "wallthickness_solve_max_error"))
}

func TestDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewRecorder(reg)
	require.NoError(t, err)
	_, err = NewRecorder(reg)
	assert.ErrorContains(t, err, "metrics: register")
}

func TestRegistrationConflictLeavesRegistryClean(t *testing.T) {
	reg := prometheus.NewRegistry()
	blocker := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wallthickness_laplace_external_total",
		Help: "Something else",
	})
	require.NoError(t, reg.Register(blocker))

	_, err := NewRecorder(reg)
	require.ErrorContains(t, err, "metrics: register")

	// nothing from the failed attempt is left behind
	require.True(t, reg.Unregister(blocker))
	r, err := NewRecorder(reg)
	require.NoError(t, err)
	r.ObserveSolve(models.StageLaplace, models.Diagnostics{Iterations: 3, Converged: true})
	assert.Equal(t, 1, testutil.CollectAndCount(r.iterations))
}

func TestWriteTextfile(t *testing.T) {
	reg := prometheus.NewRegistry()
	r, err := NewRecorder(reg)
	require.NoError(t, err)
	r.ObserveSolve(models.StageYezzi, models.Diagnostics{Iterations: 7, Converged: true})

	path := filepath.Join(t.TempDir(), "wallthickness.prom")
	require.NoError(t, WriteTextfile(path, reg))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `wallthickness_solve_iterations_count{stage="yezzi"} 1`)
}
