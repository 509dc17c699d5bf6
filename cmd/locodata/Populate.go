package main

import (
	"errors"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/samuelfneumann/goloco/internal/ctxlog"
	"github.com/samuelfneumann/goloco/model"
	"github.com/samuelfneumann/goloco/physics"
	"github.com/samuelfneumann/goloco/trajectory"
	"github.com/samuelfneumann/goloco/utils/progressbar"
)

type populateOptions struct {
	sourceOptions
	robots   []string
	group    string
	workers  int
	progress bool
}

func newPopulateCmd() *cobra.Command {
	opts := &populateOptions{}
	cmd := &cobra.Command{
		Use:   "populate",
		Short: "Fetch and expand every known trajectory into the cache",
		Long: "Populate fetches every catalog trajectory of the selected " +
			"robots and stores it expanded against each model the robot's " +
			"environments simulate. It fails if any trajectory fails " +
			"permanently.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPopulate(cmd, opts)
		},
	}
	opts.flags(cmd)
	f := cmd.Flags()
	f.StringSliceVar(&opts.robots, "robot", model.Robots(), "robots to populate")
	f.StringVar(&opts.group, "group", "", "only populate this catalog group")
	f.IntVar(&opts.workers, "workers", 4, "concurrent fetches")
	f.BoolVar(&opts.progress, "progress", false, "display a progress bar")
	return cmd
}

// target is a model to expand the trajectories of a robot against
type target struct {
	robot string
	model *physics.Compiled
}

func runPopulate(cmd *cobra.Command, opts *populateOptions) error {
	ctx := cmd.Context()
	logger := ctxlog.FromContext(ctx)

	if opts.group != "" && !slices.Contains(trajectory.Groups(), opts.group) {
		return fmt.Errorf("populate: unknown group %q", opts.group)
	}
	cache, err := opts.cache(logger)
	if err != nil {
		return fmt.Errorf("populate: %w", err)
	}
	names := trajectory.Catalog(opts.group)

	var targets []target
	for _, robot := range opts.robots {
		models, err := opts.models(robot)
		if err != nil {
			return fmt.Errorf("populate: %v: %w", robot, err)
		}
		for _, m := range models {
			targets = append(targets, target{robot, m})
		}
	}

	var bar *progressbar.ManualProgressBar
	if opts.progress {
		bar = progressbar.NewManualProgressBar(cmd.ErrOrStderr(), 40,
			len(targets)*len(names))
		defer bar.Close()
	}

	// Populate serializes calls of done
	failed := 0
	done := func(id trajectory.ID, err error) {
		if err != nil {
			failed++
			logger.Error("trajectory failed", "id", id.String(), "error", err)
		}
		if bar == nil {
			return
		}
		if err != nil {
			bar.Fail()
		} else {
			bar.Increment()
		}
		bar.Display()
	}

	var errs []error
	for _, t := range targets {
		ids := make([]trajectory.ID, len(names))
		for i, n := range names {
			ids[i] = trajectory.ID{Robot: t.robot, Name: n}
		}
		logger.Info("populating cache", "robot", t.robot,
			"model", t.model.Identity, "trajectories", len(ids),
			"dir", cache.Dir())
		if err := cache.Populate(ctx, t.model, ids, opts.workers, done); err != nil {
			errs = append(errs, fmt.Errorf("%v: %w", t.robot, err))
		}
	}

	stats := cache.Stats()
	fmt.Fprintf(cmd.OutOrStdout(), "populated %s: %d entries, %d fetched, "+
		"%d expanded, %d failed\n", cache.Dir(), len(targets)*len(names),
		stats.Fetches, stats.Expansions, failed)
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("populate: %w", err)
	}
	return nil
}
