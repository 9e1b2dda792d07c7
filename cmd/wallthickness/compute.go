package main

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"wallthickness/pkg/config"
	"wallthickness/pkg/pipeline"
	"wallthickness/pkg/visualization"
)

// runFlags are shared by every command that runs a measurement.
type runFlags struct {
	output           string
	stlFile          string
	metricsFile      string
	saveIntermediary string
	extractSlices    string
	cores            int
	json             bool
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "Write the thickness map as raw float64 with a YAML header")
	cmd.Flags().StringVar(&f.stlFile, "stl", "", "Write a mesh of the measured wall as binary STL")
	cmd.Flags().StringVar(&f.metricsFile, "metrics-file", "", "Write solver metrics in the prometheus text format")
	cmd.Flags().StringVar(&f.saveIntermediary, "save-intermediary", "", "Save Laplace and path length slices to this directory")
	cmd.Flags().StringVar(&f.extractSlices, "extract-slices", "", "Save thickness slices along all axes to this directory")
	cmd.Flags().IntVar(&f.cores, "cores", 0, "Number of CPU cores to use (default from config)")
	cmd.Flags().BoolVar(&f.json, "json", false, "Print the report as JSON")
}

// apply returns a copy of cfg with the flag overrides in place.
func (f *runFlags) apply(cfg *config.Config) *config.Config {
	out := *cfg
	out.Processing.Spacing = append([]float64(nil), cfg.Processing.Spacing...)
	if f.cores > 0 {
		out.Processing.NumCores = f.cores
	}
	if f.saveIntermediary != "" {
		out.Output.SaveIntermediaryResults = true
		out.Output.IntermediaryDir = f.saveIntermediary
	}
	return &out
}

// run executes params and prints the report. SIGINT and SIGTERM cancel the
// run between steps.
func (f *runFlags) run(cmd *cobra.Command, params *pipeline.Params) error {
	signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return f.runContext(signalCtx, cmd, params)
}

func (f *runFlags) runContext(ctx context.Context, cmd *cobra.Command, params *pipeline.Params) error {
	params.OutputFile = f.output
	params.STLFile = f.stlFile
	params.MetricsFile = f.metricsFile

	p := pipeline.New(params)
	if err := p.Process(ctx); err != nil {
		return fmt.Errorf("run %s: %w", p.RunID(), err)
	}

	if f.extractSlices != "" {
		viewer, err := visualization.NewViewer(p.Thickness(), 0)
		if err != nil {
			return err
		}
		for _, axis := range []string{"x", "y", "z"} {
			if err := viewer.SaveSliceSequence(axis, filepath.Join(f.extractSlices, axis)); err != nil {
				params.Logger.Warn("failed to save slices", "axis", axis, "error", err)
			}
		}
	}

	return printReport(cmd, p.Report(), f.json)
}

func newComputeCommand(ctx *commandContext) *cobra.Command {
	var flags runFlags
	var inputDir string
	var spacing []float64
	var snap bool

	cmd := &cobra.Command{
		Use:   "compute",
		Short: "Measure the wall thickness of a labeled slice stack",
		Long: "Measure the wall thickness of a labeled slice stack.\n\n" +
			"Each PNG or JPEG in the input directory is one slice along k, ordered by the\n" +
			"number in its file name. Pixel values are labels: 0 outside, and the inside,\n" +
			"wall and holes values from the configuration.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if inputDir == "" {
				return fmt.Errorf("--input is required")
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := ctx.logger(cmd)
			if err != nil {
				return err
			}

			runCfg := flags.apply(cfg)
			if len(spacing) > 0 {
				runCfg.Processing.Spacing = spacing
			}
			return flags.run(cmd, &pipeline.Params{
				InputDir: inputDir,
				Snap:     snap,
				Config:   runCfg,
				Logger:   logger,
			})
		},
	}

	cmd.Flags().StringVarP(&inputDir, "input", "i", "", "Directory containing the labeled slices")
	cmd.Flags().Float64SliceVar(&spacing, "spacing", nil, "Voxel size along i,j,k in mm (default from config)")
	cmd.Flags().BoolVar(&snap, "snap", false, "Snap stray pixel values to the nearest label")
	flags.register(cmd)
	return cmd
}
