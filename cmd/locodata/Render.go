package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/samuelfneumann/goloco/internal/ctxlog"
	"github.com/samuelfneumann/goloco/render"
	"github.com/samuelfneumann/goloco/trajectory"
)

type renderOptions struct {
	sourceOptions
	out    string
	frames int
	front  bool
}

func newRenderCmd() *cobra.Command {
	opts := &renderOptions{}
	cmd := &cobra.Command{
		Use:   "render <robot> <trajectory>",
		Short: "Render frames of a trajectory as PNG images",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRender(cmd, opts, args[0], args[1])
		},
	}
	opts.flags(cmd)
	f := cmd.Flags()
	f.StringVar(&opts.out, "out", ".", "output directory")
	f.IntVar(&opts.frames, "frames", 10, "number of frames, 0 for all")
	f.BoolVar(&opts.front, "front", false, "render a front instead of a "+
		"side view")
	return cmd
}

func runRender(cmd *cobra.Command, opts *renderOptions, robot,
	name string) error {
	ctx := cmd.Context()
	logger := ctxlog.FromContext(ctx)

	cache, err := opts.cache(logger)
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}
	id, err := trajectory.NewID(robot, name)
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}
	models, err := opts.models(robot)
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}
	ref, err := cache.Get(ctx, id, models[0])
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}

	if err := os.MkdirAll(opts.out, 0o755); err != nil {
		return fmt.Errorf("render: %v", err)
	}
	r := render.New(models[0].Tree)
	if opts.front {
		r.View = render.Front
	}
	files, err := r.Trajectory(ref, opts.frames, render.FrameFiles(opts.out))
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}
	logger.Info("rendered trajectory", "id", id.String(), "frames",
		len(files), "dir", opts.out)
	for _, f := range files {
		fmt.Fprintln(cmd.OutOrStdout(), f)
	}
	return nil
}
