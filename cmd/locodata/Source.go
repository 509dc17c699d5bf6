package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/samuelfneumann/goloco/layout"
	"github.com/samuelfneumann/goloco/model"
	"github.com/samuelfneumann/goloco/physics"
	"github.com/samuelfneumann/goloco/registry"
	"github.com/samuelfneumann/goloco/trajectory"
	"github.com/samuelfneumann/goloco/transform"
)

// sourceOptions select the cache directory and trajectory source
type sourceOptions struct {
	dir     string
	remote  string
	data    string
	synth   bool
	batched bool
}

func (o *sourceOptions) flags(cmd *cobra.Command) {
	dir, _ := registry.CacheDir()
	f := cmd.Flags()
	f.StringVar(&o.dir, "dir", dir, "cache directory")
	f.StringVar(&o.remote, "remote", os.Getenv(registry.EnvRemoteURL),
		"trajectory server URL")
	f.StringVar(&o.data, "data", os.Getenv(registry.EnvDataDir),
		"directory of trajectory archives, used when no server is given")
	f.BoolVar(&o.synth, "synth", false,
		"synthesize trajectories instead of fetching them")
	f.BoolVar(&o.batched, "batched", true,
		"also expand against the simplified models of the batched backend")
}

func (o *sourceOptions) source() (trajectory.Source, error) {
	switch {
	case o.synth:
		return trajectory.SynthSource{}, nil
	case o.remote != "":
		return trajectory.NewHTTPSource(o.remote), nil
	case o.data != "":
		return trajectory.DirSource{Dir: o.data}, nil
	}
	return nil, fmt.Errorf("%w: use --remote, --data or --synth",
		registry.ErrNoTrajectorySource)
}

func (o *sourceOptions) cache(logger *slog.Logger) (*trajectory.Cache,
	error) {
	if o.dir == "" {
		return nil, fmt.Errorf("no cache directory given")
	}
	src, err := o.source()
	if err != nil {
		return nil, err
	}
	return trajectory.NewCache(o.dir, src, trajectory.WithLogger(logger))
}

// models returns the compiled models environments of a robot simulate:
// the robot's model and, if batched is set and the robot has
// simplification rules, its simplified model
func (o *sourceOptions) models(robot string) ([]*physics.Compiled, error) {
	m, err := model.Load(robot)
	if err != nil {
		return nil, err
	}
	base, err := transform.Compile(m)
	if err != nil {
		return nil, err
	}
	models := []*physics.Compiled{base}

	rules, ok := transform.DefaultTable().Rules(robot)
	if !o.batched || !ok {
		return models, nil
	}
	simplified, err := transform.Apply(m, rules, layout.Names{})
	if err != nil {
		return nil, err
	}
	c, err := transform.Compile(simplified)
	if err != nil {
		return nil, err
	}
	if c != base {
		models = append(models, c)
	}
	return models, nil
}
