// Package registry maps environment names to the descriptors used to
// build them.
//
// A Registry is filled once at startup and then used to make
// environments. The first call to Make seals the Registry, after which
// Register fails with ErrSealed, so that the set of names a process can
// make never changes once environments exist.
package registry

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sync"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/samuelfneumann/goloco/environment/envconfig"
	"github.com/samuelfneumann/goloco/environment/loco"
	"github.com/samuelfneumann/goloco/layout"
	"github.com/samuelfneumann/goloco/model"
	"github.com/samuelfneumann/goloco/trajectory"
	"github.com/samuelfneumann/goloco/transform"
)

// Registry holds the registered environment Descriptors
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Descriptor
	order   []string
	sealed  bool

	cache    *trajectory.Cache
	table    *transform.Table
	compiler *transform.Compiler
	logger   *slog.Logger
}

// Option configures a Registry
type Option func(*Registry)

// WithCache sets the trajectory cache of ReferenceTracking environments
func WithCache(c *trajectory.Cache) Option {
	return func(r *Registry) {
		r.cache = c
	}
}

// WithTable sets the simplification table used for the batched backend.
// The default is transform.DefaultTable.
func WithTable(t *transform.Table) Option {
	return func(r *Registry) {
		r.table = t
	}
}

// WithCompiler sets the model compiler. The default is the process-wide
// compiler of package transform.
func WithCompiler(c *transform.Compiler) Option {
	return func(r *Registry) {
		r.compiler = c
	}
}

// WithLogger sets the logger of the Registry and of the environments it
// makes
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// New returns a new, empty Registry
func New(opts ...Option) *Registry {
	r := &Registry{entries: make(map[string]Descriptor)}
	for _, opt := range opts {
		opt(r)
	}
	if r.table == nil {
		r.table = transform.DefaultTable()
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Register adds an environment under name. Registering a name again
// with an identical Descriptor does nothing; registering it with a
// different one fails with a DuplicateNameError. The Registry is left
// unchanged whenever Register fails.
func (r *Registry) Register(name string, d Descriptor) error {
	if name == "" {
		return fmt.Errorf("register: empty environment name")
	}
	if err := d.Validate(); err != nil {
		return fmt.Errorf("register: %v: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return fmt.Errorf("register: %v: %w", name, ErrSealed)
	}
	if prev, ok := r.entries[name]; ok {
		if cmp.Equal(prev, d, cmpopts.EquateEmpty(),
			cmp.AllowUnexported(layout.ObservationField{})) {
			return nil
		}
		return fmt.Errorf("register: %w", &DuplicateNameError{Name: name})
	}
	r.entries[name] = d.clone()
	r.order = append(r.order, name)
	return nil
}

// Seal prevents further registration
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Sealed returns whether the Registry accepts registrations
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Lookup returns the Descriptor registered under name
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.entries[name]
	if !ok {
		return Descriptor{}, false
	}
	return d.clone(), true
}

// Names returns the registered names in registration order. Each
// iteration walks the names registered when it starts.
func (r *Registry) Names() iter.Seq[string] {
	return func(yield func(string) bool) {
		r.mu.RLock()
		names := r.order[:len(r.order):len(r.order)]
		r.mu.RUnlock()

		for _, name := range names {
			if !yield(name) {
				return
			}
		}
	}
}

// Len returns the number of registered names
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Make builds the environment registered under name, configured by
// cfg. Layout and trajectory selections in cfg replace the defaults of
// the Descriptor.
func (r *Registry) Make(name string, cfg envconfig.Config) (*loco.Env,
	error) {
	return r.MakeContext(context.Background(), name, cfg)
}

// MakeContext is like Make. The context bounds the loading of reference
// trajectories.
func (r *Registry) MakeContext(ctx context.Context, name string,
	cfg envconfig.Config) (*loco.Env, error) {
	r.mu.Lock()
	d, ok := r.entries[name]
	r.sealed = true
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("make: %w", &UnknownEnvironmentError{Name: name})
	}

	opts, err := r.options(name, d, cfg)
	if err != nil {
		return nil, fmt.Errorf("make: %v: %w", name, err)
	}

	var env *loco.Env
	switch d.Recipe {
	case LiveReward:
		env, err = loco.NewRL(opts)
	case ReferenceTracking:
		if r.cache == nil {
			return nil, fmt.Errorf("make: %v: %w", name, ErrNoTrajectorySource)
		}
		env, err = loco.NewImitation(ctx, opts, r.cache)
	default:
		err = fmt.Errorf("unknown recipe %q", d.Recipe)
	}
	if err != nil {
		return nil, fmt.Errorf("make: %v: %w", name, err)
	}
	return env, nil
}

// options merges cfg into the defaults of d
func (r *Registry) options(name string, d Descriptor,
	cfg envconfig.Config) (loco.Options, error) {
	if err := cfg.Validate(); err != nil {
		return loco.Options{}, err
	}

	m, err := model.Load(d.Robot)
	if err != nil {
		return loco.Options{}, err
	}
	rules, ok := r.table.Rules(d.Robot)
	if !ok {
		r.logger.Debug("no simplification rules for robot", "robot", d.Robot)
	}

	opts := loco.Options{
		Name:         name,
		Robot:        d.trajectoryRobot(),
		Model:        m,
		Fields:       d.Fields,
		Channels:     d.Channels,
		Config:       cfg,
		Cutoff:       d.Cutoff,
		Rules:        rules,
		Trajectories: d.Trajectories,
		Compiler:     r.compiler,
		Logger:       r.logger,
	}
	if opts.Config.Substeps == 0 {
		opts.Config.Substeps = d.Substeps
	}

	fields, err := cfg.Fields()
	if err != nil {
		return loco.Options{}, err
	}
	if fields != nil {
		opts.Fields = fields
	}
	if channels := cfg.Channels(); channels != nil {
		opts.Channels = channels
	}
	if len(cfg.Trajectories) > 0 {
		opts.Trajectories = cfg.Trajectories
	}

	if opts.Channels == nil {
		tree, err := m.Compile()
		if err != nil {
			return loco.Options{}, err
		}
		opts.Channels = make([]layout.ActionChannel, len(tree.Actuators))
		for i, a := range tree.Actuators {
			opts.Channels[i] = layout.ActionChannel{Actuator: a.Name}
		}
	}
	return opts, nil
}
