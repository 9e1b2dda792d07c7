package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"wallthickness/internal/models"
	"wallthickness/pkg/phantom"
	"wallthickness/pkg/pipeline"
	"wallthickness/pkg/stl"
	"wallthickness/pkg/volumeio"
)

// phantomFlags are shared by the phantom subcommands.
type phantomFlags struct {
	run       runFlags
	n         int
	spacing   []float64
	holes     []string
	slicesDir string
	meshFile  string
}

func (f *phantomFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&f.n, "size", "n", 64, "Grid size along each axis in voxels")
	cmd.Flags().Float64SliceVar(&f.spacing, "spacing", nil, "Voxel size along i,j,k in mm (default from config)")
	cmd.Flags().StringArrayVar(&f.holes, "hole", nil, "Carve a ball out of the wall, as x,y,z,radius in mm (repeatable)")
	cmd.Flags().StringVar(&f.slicesDir, "slices-dir", "", "Also save the labeled volume as a PNG slice stack")
	cmd.Flags().StringVar(&f.meshFile, "mesh", "", "Also save the exact phantom wall as binary STL")
	f.run.register(cmd)
}

func newPhantomCommand(ctx *commandContext) *cobra.Command {
	phantomCmd := &cobra.Command{
		Use:   "phantom",
		Short: "Measure synthetic walls of known thickness",
	}

	phantomCmd.AddCommand(newShellCommand(ctx))
	phantomCmd.AddCommand(newSlabCommand(ctx))
	phantomCmd.AddCommand(newTubeCommand(ctx))

	return phantomCmd
}

func newShellCommand(ctx *commandContext) *cobra.Command {
	var flags phantomFlags
	var rin, rout float64

	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Hollow sphere between two radii",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPhantom(cmd, ctx, &flags, func(spacing models.Spacing) (*phantom.Phantom, error) {
				return phantom.Shell(flags.n, rin, rout, spacing)
			})
		},
	}
	cmd.Flags().Float64Var(&rin, "rin", 20, "Inner radius in mm")
	cmd.Flags().Float64Var(&rout, "rout", 26, "Outer radius in mm")
	flags.register(cmd)
	return cmd
}

func newSlabCommand(ctx *commandContext) *cobra.Command {
	var flags phantomFlags
	var depth, thick float64

	cmd := &cobra.Command{
		Use:   "slab",
		Short: "Flat wall across the k axis",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPhantom(cmd, ctx, &flags, func(spacing models.Spacing) (*phantom.Phantom, error) {
				return phantom.Slab(flags.n, depth, thick, spacing)
			})
		},
	}
	cmd.Flags().Float64Var(&depth, "depth", 8, "Height of the inside region in mm")
	cmd.Flags().Float64Var(&thick, "thickness", 6, "Wall thickness in mm")
	flags.register(cmd)
	return cmd
}

func newTubeCommand(ctx *commandContext) *cobra.Command {
	var flags phantomFlags
	var rin, rout float64

	cmd := &cobra.Command{
		Use:   "tube",
		Short: "Hollow cylinder along the k axis",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPhantom(cmd, ctx, &flags, func(spacing models.Spacing) (*phantom.Phantom, error) {
				return phantom.Tube(flags.n, rin, rout, spacing)
			})
		},
	}
	cmd.Flags().Float64Var(&rin, "rin", 16, "Inner radius in mm")
	cmd.Flags().Float64Var(&rout, "rout", 22, "Outer radius in mm")
	flags.register(cmd)
	return cmd
}

func runPhantom(cmd *cobra.Command, ctx *commandContext, flags *phantomFlags, build func(models.Spacing) (*phantom.Phantom, error)) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := ctx.logger(cmd)
	if err != nil {
		return err
	}

	runCfg := flags.run.apply(cfg)
	if len(flags.spacing) > 0 {
		runCfg.Processing.Spacing = flags.spacing
	}
	if err := runCfg.Validate(); err != nil {
		return err
	}
	opts := runCfg.ThicknessOptions()

	p, err := build(opts.Spacing)
	if err != nil {
		return err
	}
	for _, hole := range flags.holes {
		center, radius, err := parseHole(hole)
		if err != nil {
			return err
		}
		if err := p.AddHole(center, radius); err != nil {
			return err
		}
	}

	labels, err := p.Rasterize(opts.Labels, opts.Workers)
	if err != nil {
		return err
	}
	logger.Info("rasterized phantom", "phantom", p.Name, "shape", labels.Shape, "nominal", p.Nominal)

	if flags.slicesDir != "" {
		if err := volumeio.SaveSlices(flags.slicesDir, p.Name, labels); err != nil {
			return fmt.Errorf("save slices: %w", err)
		}
	}
	if flags.meshFile != "" {
		if err := stl.SaveToSTL(flags.meshFile, p.Mesh(stl.DefaultMeshCells)); err != nil {
			return fmt.Errorf("save mesh: %w", err)
		}
	}

	return flags.run.run(cmd, &pipeline.Params{
		Labels:  labels,
		Source:  p.Name,
		Nominal: p.Nominal,
		Config:  runCfg,
		Logger:  logger,
	})
}

// parseHole reads "x,y,z,radius".
func parseHole(value string) ([3]float64, float64, error) {
	parts := strings.Split(value, ",")
	if len(parts) != 4 {
		return [3]float64{}, 0, fmt.Errorf("hole %q: want x,y,z,radius", value)
	}
	var values [4]float64
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return [3]float64{}, 0, fmt.Errorf("hole %q: %w", value, err)
		}
		values[i] = v
	}
	return [3]float64{values[0], values[1], values[2]}, values[3], nil
}
