package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/samuelfneumann/goloco/internal/ctxlog"
	"github.com/samuelfneumann/goloco/trajectory"
)

func newInfoCmd() *cobra.Command {
	opts := &sourceOptions{}
	cmd := &cobra.Command{
		Use:   "info <robot> <trajectory>",
		Short: "Print the length and frequency of a trajectory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cache, err := opts.cache(ctxlog.FromContext(ctx))
			if err != nil {
				return fmt.Errorf("info: %w", err)
			}
			id, err := trajectory.NewID(args[0], args[1])
			if err != nil {
				return fmt.Errorf("info: %w", err)
			}
			models, err := opts.models(id.Robot)
			if err != nil {
				return fmt.Errorf("info: %w", err)
			}

			ref, err := cache.Get(ctx, id, models[0])
			if err != nil {
				return fmt.Errorf("info: %w", err)
			}
			nq, nv := ref.Dims()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "trajectory: %v\n", ref.ID)
			fmt.Fprintf(out, "source:     %v\n", ref.Source)
			fmt.Fprintf(out, "length:     %v\n", ref.Info())
			fmt.Fprintf(out, "joints:     nq %d, nv %d\n", nq, nv)
			fmt.Fprintf(out, "bodies:     %d\n", len(ref.Bodies))
			return nil
		},
	}
	opts.flags(cmd)
	return cmd
}
