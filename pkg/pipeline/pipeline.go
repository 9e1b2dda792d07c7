// Package pipeline runs a complete thickness measurement: load a labeled
// volume, solve, save intermediary and final results, and summarize.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"wallthickness/internal/models"
	"wallthickness/pkg/config"
	"wallthickness/pkg/metrics"
	"wallthickness/pkg/ndarray"
	"wallthickness/pkg/report"
	"wallthickness/pkg/stl"
	"wallthickness/pkg/thickness"
	"wallthickness/pkg/visualization"
	"wallthickness/pkg/volumeio"
)

// ErrNoInput is returned when neither an input directory nor a volume is set.
var ErrNoInput = errors.New("pipeline: no input volume")

// Params holds the run configuration.
type Params struct {
	// InputDir is the directory holding the label slice stack. Ignored when
	// Labels is set.
	InputDir string

	// Labels is a volume already in memory, such as a rasterized phantom
	Labels ndarray.Array[uint8]

	// Source names the input in the report, InputDir if empty
	Source string

	// Snap maps stray pixel values to the nearest label, for lossy stacks
	Snap bool

	// OutputFile receives the thickness map as raw float64, skipped if empty
	OutputFile string

	// STLFile receives a mesh of the measured wall, skipped if empty
	STLFile string

	// MetricsFile receives solver metrics in the prometheus text format,
	// skipped if empty
	MetricsFile string

	// Nominal is the expected thickness, reported when positive
	Nominal float64

	Config *config.Config
	Logger *slog.Logger
}

// Pipeline executes one run. It is not reusable.
type Pipeline struct {
	params *Params
	runID  string
	log    *slog.Logger

	labels    ndarray.Array[uint8]
	solver    *thickness.Solver
	thickness ndarray.Array[float64]
	report    report.Report
	registry  *prometheus.Registry
}

// New creates a pipeline with a fresh run id.
func New(params *Params) *Pipeline {
	if params.Config == nil {
		params.Config = config.DefaultConfig()
	}
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	runID := uuid.NewString()
	return &Pipeline{
		params: params,
		runID:  runID,
		log:    logger.With("run_id", runID),
	}
}

// RunID identifies this run in logs, headers and reports.
func (p *Pipeline) RunID() string { return p.runID }

// Process runs the complete measurement
func (p *Pipeline) Process(ctx context.Context) error {
	start := time.Now()
	cfg := p.params.Config
	if err := cfg.Validate(); err != nil {
		return err
	}

	// Step 1: Load the labeled volume
	p.log.Info("loading labeled volume", "step", 1)
	if err := p.loadLabels(); err != nil {
		return fmt.Errorf("failed to load labels: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// Step 2: Solve Laplace and path length equations
	p.log.Info("computing thickness", "step", 2, "shape", p.labels.Shape)
	if err := p.solve(); err != nil {
		return fmt.Errorf("failed to compute thickness: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// Step 3: Save intermediary fields
	if cfg.Output.SaveIntermediaryResults {
		p.log.Info("saving intermediary results", "step", 3, "dir", cfg.Output.IntermediaryDir)
		stages := []struct {
			name  string
			field ndarray.Array[float64]
		}{
			{"01_laplace", p.solver.LaplaceGrid()},
			{"02_l0", p.solver.L0()},
			{"03_l1", p.solver.L1()},
			{"04_thickness", p.thickness},
		}
		for _, stage := range stages {
			if err := p.saveIntermediaryResult(stage.name, stage.field); err != nil {
				p.log.Warn("failed to save intermediary result", "stage", stage.name, "error", err)
			}
		}
	}

	// Step 4: Write outputs
	if err := p.writeOutputs(); err != nil {
		return err
	}

	// Step 5: Summarize
	p.log.Info("summarizing", "step", 5)
	if err := p.summarize(time.Since(start)); err != nil {
		return err
	}
	return nil
}

func (p *Pipeline) loadLabels() error {
	switch {
	case p.params.Labels.Len() > 0:
		p.labels = p.params.Labels
	case p.params.InputDir != "":
		labels, err := volumeio.LoadSlices(p.params.InputDir)
		if err != nil {
			return err
		}
		p.labels = labels
	default:
		return ErrNoInput
	}
	if p.params.Snap {
		p.labels = volumeio.SnapLabels(p.labels, p.params.Config.ThicknessOptions().Labels)
	}
	p.log.Info("loaded labeled volume", "shape", p.labels.Shape)
	return nil
}

func (p *Pipeline) solve() error {
	opts := p.params.Config.ThicknessOptions()
	opts.Logger = p.log

	if p.params.MetricsFile != "" {
		p.registry = prometheus.NewRegistry()
		recorder, err := metrics.NewRecorder(p.registry)
		if err != nil {
			return err
		}
		opts.Observer = recorder
	}

	solver, err := thickness.New(p.labels, opts)
	if err != nil {
		return err
	}
	p.solver = solver
	p.thickness = solver.Result()
	return nil
}

func (p *Pipeline) saveIntermediaryResult(stage string, field ndarray.Array[float64]) error {
	viewer, err := visualization.NewViewer(field, 0)
	if err != nil {
		return err
	}
	return viewer.SaveSliceSequence("k", filepath.Join(p.params.Config.Output.IntermediaryDir, stage))
}

func (p *Pipeline) writeOutputs() error {
	spacing := p.params.Config.ThicknessOptions().Spacing
	if p.params.OutputFile != "" {
		p.log.Info("writing thickness map", "step", 4, "path", p.params.OutputFile)
		if err := volumeio.WriteRaw(p.params.OutputFile, p.thickness, spacing, p.runID); err != nil {
			return fmt.Errorf("failed to write thickness map: %w", err)
		}
	}
	if p.params.STLFile != "" {
		p.log.Info("writing wall mesh", "step", 4, "path", p.params.STLFile)
		volume, err := stl.MaskVolume(p.solver.PartialWall(), spacing)
		if err != nil {
			return err
		}
		if err := stl.SaveToSTL(p.params.STLFile, stl.FromSDF(volume, stl.DefaultMeshCells)); err != nil {
			return fmt.Errorf("failed to write wall mesh: %w", err)
		}
	}
	if p.registry != nil {
		if err := os.MkdirAll(filepath.Dir(p.params.MetricsFile), 0755); err != nil {
			return err
		}
		if err := metrics.WriteTextfile(p.params.MetricsFile, p.registry); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) summarize(elapsed time.Duration) error {
	mask := p.solver.PartialWall()
	summary, err := report.Summarize(p.thickness, mask)
	if err != nil {
		return err
	}
	if p.params.Nominal > 0 {
		var values []float64
		for off, in := range mask.Data {
			if in {
				values = append(values, p.thickness.Data[off])
			}
		}
		summary = summary.WithNominal(values, p.params.Nominal)
	}

	stages := make(map[models.Stage]models.Diagnostics)
	for _, stage := range []models.Stage{models.StageLaplace, models.StageYezzi} {
		if d, ok := p.solver.Diagnostics(stage); ok {
			stages[stage] = d
		}
	}
	source := p.params.Source
	if source == "" {
		source = p.params.InputDir
	}
	p.report = report.Report{
		RunID:            p.runID,
		Source:           source,
		Shape:            p.labels.Shape,
		Spacing:          p.params.Config.ThicknessOptions().Spacing,
		Summary:          summary,
		Stages:           stages,
		DegenerateVoxels: p.solver.DegenerateVoxels(),
		Elapsed:          elapsed,
	}
	p.log.Info("thickness computed",
		"mean", summary.Mean,
		"median", summary.Median,
		"voxels", summary.Voxels,
		"elapsed", elapsed)
	return nil
}

// Report returns the summary of a finished run.
func (p *Pipeline) Report() report.Report { return p.report }

// Thickness returns the thickness map of a finished run.
func (p *Pipeline) Thickness() ndarray.Array[float64] { return p.thickness }
