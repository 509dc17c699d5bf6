package loco

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/samuelfneumann/goloco/engine"
	"github.com/samuelfneumann/goloco/environment/envconfig"
	"github.com/samuelfneumann/goloco/internal/ctxlog"
	"github.com/samuelfneumann/goloco/layout"
	"github.com/samuelfneumann/goloco/model"
	"github.com/samuelfneumann/goloco/physics"
	"github.com/samuelfneumann/goloco/trajectory"
	"github.com/samuelfneumann/goloco/transform"
)

// Options are the inputs shared by both recipes
type Options struct {
	// Name is the registered name of the environment
	Name string

	// Robot names the robot in trajectory addresses. It defaults to
	// Name.
	Robot string

	// Model is the robot model before any transform
	Model *model.Model

	Fields   []layout.ObservationField
	Channels []layout.ActionChannel

	// Config holds the backend and episode options. Observation fields,
	// action channels and trajectory selection in Config are ignored;
	// callers merge them into Fields, Channels and Trajectories.
	Config envconfig.Config

	// Cutoff is the episode cutoff used when Config sets none
	Cutoff int

	// Rules simplify the model for the batched backend
	Rules transform.Rules

	// Trajectories selects the references of imitation environments
	Trajectories []string

	// Compiler compiles models. Nil uses the process-wide compiler.
	Compiler *transform.Compiler

	Logger *slog.Logger
}

func (o *Options) robot() string {
	if o.Robot != "" {
		return o.Robot
	}
	return o.Name
}

func (o *Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func (o *Options) cutoff() int {
	if o.Config.EpisodeCutoff > 0 {
		return o.Config.EpisodeCutoff
	}
	return o.Cutoff
}

func (o *Options) resetNoise() float64 {
	noise := DefaultResetNoise
	if o.Config.Task != nil {
		envconfig.Override(&noise, o.Config.Task.ResetNoise)
	}
	return noise
}

// compile resolves the layout and compiles the model simulated by the
// configured backend. The batched backend simulates the model
// simplified by the Rules, which must keep every entity the layout
// refers to.
func (o *Options) compile() (*physics.Compiled, *layout.Layout, error) {
	if o.Model == nil {
		return nil, nil, fmt.Errorf("nil model")
	}
	compile := transform.Compile
	if o.Compiler != nil {
		compile = o.Compiler.Compile
	}

	base, err := compile(o.Model)
	if err != nil {
		return nil, nil, err
	}
	l, err := layout.NewBuilder().Observe(o.Fields...).Act(o.Channels...).
		Build(base.Tree)
	if err != nil {
		return nil, nil, err
	}

	backend, err := o.Config.EngineBackend()
	if err != nil {
		return nil, nil, err
	}
	if backend == engine.BackendScalar {
		return base, l, nil
	}

	simplified, err := transform.Apply(o.Model, o.Rules, l.Names())
	if err != nil {
		return nil, nil, err
	}
	c, err := compile(simplified)
	if err != nil {
		return nil, nil, err
	}
	if c != base {
		o.logger().Debug("simplified model for batched backend",
			"env", o.Name, "model", c.Identity,
			"bodies", len(c.Tree.Bodies), "contact_geoms", c.ContactGeoms())
	}
	rebound, err := l.Rebind(c.Tree)
	if err != nil {
		return nil, nil, err
	}
	return c, rebound, nil
}

// newEngine returns the engine of the configured backend
func (o *Options) newEngine(c *physics.Compiled, l *layout.Layout,
	task engine.Task, starter engine.Starter) (engine.Engine, error) {
	cfg := engine.Config{
		Layout:   l,
		Task:     task,
		Starter:  starter,
		Substeps: o.Config.Substeps,
		Cutoff:   o.cutoff(),
	}
	backend, err := o.Config.EngineBackend()
	if err != nil {
		return nil, err
	}
	if backend == engine.BackendScalar {
		return engine.NewScalar(c, cfg)
	}
	return engine.NewBatched(c, engine.BatchedConfig{
		Config:    cfg,
		BatchSize: o.Config.Batch(),
		Workers:   o.Config.Workers,
	})
}

// NewRL builds a live-reward environment. Rewards and terminations are
// computed by a Walk task parameterized by the task options of the
// Config, and episodes start at the reference configuration of the
// model perturbed by uniform noise.
func NewRL(opts Options) (*Env, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("newRL: %w", err)
	}
	c, l, err := opts.compile()
	if err != nil {
		return nil, fmt.Errorf("newRL: %w", err)
	}

	noise := opts.resetNoise()
	task := NewWalk(c.Tree, walkParams(opts.Config.Task))
	starter := engine.NewUniformStarter(c.Tree, noise, noise)
	e, err := opts.newEngine(c, l, task, starter)
	if err != nil {
		return nil, fmt.Errorf("newRL: %w", err)
	}

	opts.logger().Info("created environment", "env", opts.Name,
		"recipe", "rl", "backend", e.Backend(), "batch_size", e.BatchSize(),
		"observation_dim", l.ObservationDim(), "action_dim", l.ActionDim())
	return newEnv(opts.Name, e, opts.logger()), nil
}

// NewImitation builds a reference-tracking environment. The selected
// reference trajectories are loaded through the cache and expanded
// against the simulated model before NewImitation returns, so a missing
// or corrupt trajectory fails construction. Episodes start on a random
// frame of a random reference and are rewarded by a Tracking task.
func NewImitation(ctx context.Context, opts Options,
	cache *trajectory.Cache) (*Env, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("newImitation: %w", err)
	}
	if cache == nil {
		return nil, fmt.Errorf("newImitation: nil trajectory cache")
	}
	if len(opts.Trajectories) == 0 {
		return nil, fmt.Errorf("newImitation: no trajectories selected")
	}

	ids := make([]trajectory.ID, len(opts.Trajectories))
	for i, name := range opts.Trajectories {
		id, err := trajectory.NewID(opts.robot(), name)
		if err != nil {
			return nil, fmt.Errorf("newImitation: %w", err)
		}
		ids[i] = id
	}

	c, l, err := opts.compile()
	if err != nil {
		return nil, fmt.Errorf("newImitation: %w", err)
	}

	ctx = ctxlog.WithLogger(ctx, opts.logger())
	refs := make([]*trajectory.Expanded, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		g.Go(func() error {
			ref, err := cache.Get(gctx, id, c)
			refs[i] = ref
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("newImitation: %w", err)
	}

	task, err := NewTracking(c.Tree, refs, trackingParams(opts.Config.Task))
	if err != nil {
		return nil, fmt.Errorf("newImitation: %w", err)
	}
	starter := ReferenceStarter{Refs: refs, RandomFrame: true}
	e, err := opts.newEngine(c, l, task, starter)
	if err != nil {
		return nil, fmt.Errorf("newImitation: %w", err)
	}

	opts.logger().Info("created environment", "env", opts.Name,
		"recipe", "imitation", "backend", e.Backend(),
		"batch_size", e.BatchSize(), "references", len(refs),
		"observation_dim", l.ObservationDim(), "action_dim", l.ActionDim())
	env := newEnv(opts.Name, e, opts.logger())
	env.refs = refs
	env.tracking = task
	return env, nil
}
