package pipeline

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wallthickness/internal/models"
	"wallthickness/pkg/config"
	"wallthickness/pkg/ndarray"
	"wallthickness/pkg/phantom"
	"wallthickness/pkg/stl"
	"wallthickness/pkg/volumeio"
)

func slabLabels(t *testing.T) (ndarray.Array[uint8], float64) {
	t.Helper()
	p, err := phantom.Slab(12, 2, 4, models.DefaultSpacing)
	require.NoError(t, err)
	labels, err := p.Rasterize(models.DefaultLabels, 2)
	require.NoError(t, err)
	return labels, p.Nominal
}

func TestProcessWritesEveryOutput(t *testing.T) {
	labels, nominal := slabLabels(t)
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Processing.NumCores = 2
	cfg.Output.SaveIntermediaryResults = true
	cfg.Output.IntermediaryDir = filepath.Join(dir, "intermediary")

	var logs bytes.Buffer
	p := New(&Params{
		Labels:      labels,
		Source:      "slab",
		OutputFile:  filepath.Join(dir, "thickness.raw"),
		STLFile:     filepath.Join(dir, "wall.stl"),
		MetricsFile: filepath.Join(dir, "metrics", "wallthickness.prom"),
		Nominal:     nominal,
		Config:      cfg,
		Logger:      slog.New(slog.NewTextHandler(&logs, nil)),
	})
	require.NoError(t, p.Process(context.Background()))
	_, err := uuid.Parse(p.RunID())
	require.NoError(t, err)

	r := p.Report()
	assert.Equal(t, "slab", r.Source)
	assert.Equal(t, 12*12*4, r.Summary.Voxels)
	assert.InDelta(t, nominal, r.Summary.Mean, 1e-3)
	assert.Equal(t, 1.0, r.Summary.Within10)
	assert.Len(t, r.Stages, 2)
	assert.Contains(t, logs.String(), "run_id="+p.RunID())

	field, header, err := volumeio.ReadRaw(filepath.Join(dir, "thickness.raw"))
	require.NoError(t, err)
	assert.True(t, ndarray.Equal(p.Thickness(), field))
	assert.Equal(t, p.RunID(), header.RunID)

	f, err := os.Open(filepath.Join(dir, "wall.stl"))
	require.NoError(t, err)
	defer f.Close()
	triangles, err := stl.ReadSTL(f)
	require.NoError(t, err)
	assert.NotEmpty(t, triangles)

	prom, err := os.ReadFile(filepath.Join(dir, "metrics", "wallthickness.prom"))
	require.NoError(t, err)
	assert.Contains(t, string(prom), `wallthickness_solve_iterations_count{stage="laplace"} 1`)

	for _, stage := range []string{"01_laplace", "02_l0", "03_l1", "04_thickness"} {
		entries, err := os.ReadDir(filepath.Join(cfg.Output.IntermediaryDir, stage))
		require.NoError(t, err)
		assert.Len(t, entries, 12, stage)
	}
}

func TestProcessFromSliceStack(t *testing.T) {
	labels, _ := slabLabels(t)
	// the stack carries a stray value a lossy format could leave behind
	labels.Set(3, 0, 0, 11)
	dir := t.TempDir()
	require.NoError(t, volumeio.SaveSlices(dir, "slice", labels))

	cfg := config.DefaultConfig()
	cfg.Labels.Holes = 9

	p := New(&Params{InputDir: dir, Config: cfg, Logger: slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))})
	err := p.Process(context.Background())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "unknown label"))

	p = New(&Params{InputDir: dir, Snap: true, Config: cfg, Logger: slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))})
	require.NoError(t, p.Process(context.Background()))
	assert.Equal(t, dir, p.Report().Source)
	assert.Equal(t, []int{12, 12, 12}, p.Report().Shape)
}

func TestProcessErrors(t *testing.T) {
	p := New(&Params{Logger: slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))})
	assert.ErrorIs(t, p.Process(context.Background()), ErrNoInput)

	cfg := config.DefaultConfig()
	cfg.Processing.Spacing = []float64{1, 1}
	labels, _ := slabLabels(t)
	p = New(&Params{Labels: labels, Config: cfg})
	assert.ErrorIs(t, p.Process(context.Background()), config.ErrInvalid)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p = New(&Params{Labels: labels, Logger: slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))})
	assert.ErrorIs(t, p.Process(ctx), context.Canceled)
}
