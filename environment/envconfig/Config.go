// Package envconfig provides configuration structs for constructing
// locomotion environments. Configurations are written in HCL and may
// refer to process environment variables through the env object, for
// example
//
//	backend    = "batched"
//	batch_size = env.LOCO_BATCH_SIZE
//
//	observation "joint_pos" "root" {}
//	observation "body_pos" "pelvis" {
//	  component = 2
//	}
//
//	action_channels      = ["left_knee_joint", "right_knee_joint"]
//	trajectory_selection = ["walk", "lafan1/dance2_subject4"]
//
// Fields left unset fall back to the defaults of the environment being
// constructed.
package envconfig

import (
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/samuelfneumann/goloco/engine"
	"github.com/samuelfneumann/goloco/layout"
)

// Config implements the construction options of a locomotion
// environment
type Config struct {
	// Backend is scalar or batched
	Backend string `hcl:"backend,optional"`

	// BatchSize is the number of simulation instances of a batched
	// environment. Zero means one.
	BatchSize int `hcl:"batch_size,optional"`

	// Workers bounds the goroutines stepping a batch. Zero uses one per
	// CPU.
	Workers int `hcl:"workers,optional"`

	// Substeps is the number of physics steps per control step. Zero
	// means engine.DefaultSubsteps.
	Substeps int `hcl:"n_substeps,optional"`

	// EpisodeCutoff truncates episodes after this many steps. Zero
	// uses the environment's default.
	EpisodeCutoff int `hcl:"episode_cutoff,optional"`

	Observations   []Observation `hcl:"observation,block"`
	ActionChannels []string      `hcl:"action_channels,optional"`

	// Trajectories selects the reference motions of imitation
	// environments by bare or group qualified name
	Trajectories []string `hcl:"trajectory_selection,optional"`

	// Task overrides the default reward and termination parameters
	Task *Task `hcl:"task,block"`
}

// Observation declares an observation field. Component selects a
// single component of the measurement; omitting it observes all of
// them.
type Observation struct {
	Kind      string `hcl:"kind,label"`
	Target    string `hcl:"target,label"`
	Component *int   `hcl:"component,optional"`
}

// Task overrides the parameters of the reward and termination
// policies. Live-reward environments use the first group, imitation
// environments the second. MinHeight and ResetNoise are used by both.
// Attributes left unset keep the environment's defaults.
type Task struct {
	AliveBonus    *float64 `hcl:"alive_bonus,optional"`
	ForwardWeight *float64 `hcl:"forward_weight,optional"`
	CtrlCost      *float64 `hcl:"ctrl_cost,optional"`

	PoseWeight     *float64 `hcl:"pose_weight,optional"`
	VelocityWeight *float64 `hcl:"velocity_weight,optional"`
	BodyWeight     *float64 `hcl:"body_weight,optional"`

	MinHeight  *float64 `hcl:"min_height,optional"`
	ResetNoise *float64 `hcl:"reset_noise,optional"`
}

// Override sets dst to the value of an attribute if it was set
func Override(dst *float64, attr *float64) {
	if attr != nil {
		*dst = *attr
	}
}

// Default returns the Config of a scalar environment with every other
// option left to the environment's defaults
func Default() Config {
	return Config{Backend: engine.BackendScalar.String()}
}

// Load reads and validates a Config from an HCL file
func Load(path string) (Config, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("load: %v", err)
	}
	return Parse(src, path)
}

// Parse decodes and validates a Config from HCL source. The filename
// is used in diagnostics only.
func Parse(src []byte, filename string) (Config, error) {
	file, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return Config{}, fmt.Errorf("parse: failed to parse %s: %w",
			filename, diags)
	}

	var c Config
	if diags := gohcl.DecodeBody(file.Body, evalContext(), &c); diags.HasErrors() {
		return Config{}, fmt.Errorf("parse: failed to decode %s: %w",
			filename, diags)
	}
	if err := c.Validate(); err != nil {
		return Config{}, fmt.Errorf("parse: %s: %w", filename, err)
	}
	return c, nil
}

// evalContext exposes the process environment as the env object
func evalContext() *hcl.EvalContext {
	vars := make(map[string]cty.Value)
	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !hclsyntaxName(name) {
			continue
		}
		vars[name] = cty.StringVal(value)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{"env": cty.ObjectVal(vars)},
	}
}

// hclsyntaxName reports whether name can be used as an HCL attribute
// name
func hclsyntaxName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && (r == '-' || r >= '0' && r <= '9'):
		default:
			return false
		}
	}
	return true
}

// Validate checks the Config for values no environment accepts
func (c Config) Validate() error {
	backend, err := c.EngineBackend()
	if err != nil {
		return fmt.Errorf("validate: %v", err)
	}
	switch {
	case c.BatchSize < 0:
		return fmt.Errorf("validate: batch_size must be non-negative, got %d",
			c.BatchSize)
	case backend == engine.BackendScalar && c.BatchSize > 1:
		return fmt.Errorf("validate: batch_size %d requires the batched "+
			"backend", c.BatchSize)
	case c.Workers < 0:
		return fmt.Errorf("validate: workers must be non-negative, got %d",
			c.Workers)
	case c.Substeps < 0:
		return fmt.Errorf("validate: n_substeps must be non-negative, got %d",
			c.Substeps)
	case c.EpisodeCutoff < 0:
		return fmt.Errorf("validate: episode_cutoff must be non-negative, "+
			"got %d", c.EpisodeCutoff)
	}
	if _, err := c.Fields(); err != nil {
		return fmt.Errorf("validate: %v", err)
	}
	if t := c.Task; t != nil && (negative(t.MinHeight) ||
		negative(t.ResetNoise)) {
		return fmt.Errorf("validate: min_height and reset_noise must be " +
			"non-negative")
	}
	return nil
}

func negative(attr *float64) bool {
	return attr != nil && *attr < 0
}

// EngineBackend returns the configured backend
func (c Config) EngineBackend() (engine.Backend, error) {
	return engine.ParseBackend(c.Backend)
}

// Batch returns the number of simulation instances
func (c Config) Batch() int {
	return max(c.BatchSize, 1)
}

// Fields returns the declared observation fields, or nil if the Config
// declares none
func (c Config) Fields() ([]layout.ObservationField, error) {
	if len(c.Observations) == 0 {
		return nil, nil
	}
	fields := make([]layout.ObservationField, len(c.Observations))
	for i, o := range c.Observations {
		kind, err := layout.ParseKind(o.Kind)
		if err != nil {
			return nil, fmt.Errorf("fields: observation %d: %v", i, err)
		}
		fields[i] = layout.Observe(kind, o.Target)
		if o.Component != nil {
			if *o.Component < 0 {
				return nil, fmt.Errorf("fields: observation %d: component "+
					"must be non-negative, got %d", i, *o.Component)
			}
			fields[i] = fields[i].At(*o.Component)
		}
	}
	return fields, nil
}

// Channels returns the declared action channels, or nil if the Config
// declares none
func (c Config) Channels() []layout.ActionChannel {
	if len(c.ActionChannels) == 0 {
		return nil
	}
	return layout.Act(c.ActionChannels...)
}
