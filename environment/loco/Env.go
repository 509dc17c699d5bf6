// Package loco implements locomotion environments.
//
// Two recipes build environments from a robot model, a layout of
// observation fields and action channels, and an engine backend.
// NewRL builds live-reward environments whose rewards are computed by
// the engine from the simulated state. NewImitation builds
// reference-tracking environments which load reference motions
// through a trajectory cache, start episodes on reference frames and
// reward the robot for following them.
package loco

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/goloco/engine"
	"github.com/samuelfneumann/goloco/environment"
	"github.com/samuelfneumann/goloco/layout"
	ts "github.com/samuelfneumann/goloco/timestep"
	"github.com/samuelfneumann/goloco/trajectory"
)

// Env is a locomotion environment of one or more simulation instances.
// An Env must not be used from more than one goroutine at a time.
//
// With the batched backend an instance whose episode ends is reset in
// the same call to Step, and the returned batch holds both its final
// observation and the first observation of its next episode. With the
// scalar backend an ended episode must be restarted with Reset.
type Env struct {
	id     uuid.UUID
	name   string
	engine engine.Engine
	layout *layout.Layout
	logger *slog.Logger

	refs     []*trajectory.Expanded
	tracking *Tracking

	state   engine.State
	scratch layout.Scratch

	obsSpec environment.Spec
	actSpec environment.Spec
}

func newEnv(name string, e engine.Engine, logger *slog.Logger) *Env {
	l := e.Layout()
	low, high := l.ControlBounds()
	env := &Env{
		id:      uuid.New(),
		name:    name,
		engine:  e,
		layout:  l,
		logger:  logger,
		obsSpec: environment.NewUnboundedSpec(environment.Observation, l.ObservationDim()),
		actSpec: environment.NewSpec(environment.Action, low, high,
			environment.Continuous),
	}
	return env
}

// ID implements the environment.Environment interface
func (e *Env) ID() uuid.UUID {
	return e.id
}

// Name implements the environment.Environment interface
func (e *Env) Name() string {
	return e.name
}

// Backend returns the backend of the environment's engine
func (e *Env) Backend() engine.Backend {
	return e.engine.Backend()
}

// BatchSize implements the environment.Environment interface
func (e *Env) BatchSize() int {
	return e.engine.BatchSize()
}

// ActionDim implements the environment.Environment interface
func (e *Env) ActionDim() int {
	return e.layout.ActionDim()
}

// ObservationDim implements the environment.Environment interface
func (e *Env) ObservationDim() int {
	return e.layout.ObservationDim()
}

// ObservationSpec implements the environment.Environment interface
func (e *Env) ObservationSpec() environment.Spec {
	return e.obsSpec
}

// ActionSpec implements the environment.Environment interface. Its
// bounds are the control ranges of the actuators of each channel.
func (e *Env) ActionSpec() environment.Spec {
	return e.actSpec
}

// Layout returns the layout of observations and actions, resolved
// against the model simulated by the engine
func (e *Env) Layout() *layout.Layout {
	return e.layout
}

// Engine returns the engine of the environment
func (e *Env) Engine() engine.Engine {
	return e.engine
}

// State returns the current simulation state. It is empty before the
// first Reset.
func (e *Env) State() engine.State {
	return e.state
}

// References returns the reference trajectories of an imitation
// environment, expanded against the simulated model. It is nil for
// live-reward environments.
func (e *Env) References() []*trajectory.Expanded {
	return e.refs
}

// Reset implements the environment.Environment interface
func (e *Env) Reset(seed uint64) (*ts.Batch, error) {
	st, err := e.engine.Reset(seed)
	if err != nil {
		return nil, fmt.Errorf("reset: %w", err)
	}
	e.state = st
	e.logger.Debug("reset environment", "env", e.name, "id", e.id,
		"seed", seed)

	n := st.Len()
	return &ts.Batch{
		StepTypes:    fill(n, ts.First),
		Observations: e.observe(st),
		Rewards:      make([]float64, n),
		Terminated:   make([]bool, n),
		Truncated:    make([]bool, n),
		Numbers:      make([]int, n),
	}, nil
}

// Step implements the environment.Environment interface. If Step
// fails the state of the environment is unchanged.
func (e *Env) Step(actions *mat.Dense) (*ts.Batch, error) {
	if e.state.Empty() {
		return nil, fmt.Errorf("step: %w", engine.ErrNotReset)
	}
	st, tr, err := e.engine.Step(e.state, actions)
	if err != nil {
		return nil, fmt.Errorf("step: %w", err)
	}
	e.state = st

	n := st.Len()
	b := &ts.Batch{
		StepTypes:    fill(n, ts.Mid),
		Observations: e.observe(st),
		Rewards:      tr.Rewards,
		Terminated:   tr.Terminated,
		Truncated:    tr.Truncated,
		Numbers:      append([]int(nil), tr.Final.Steps...),
	}
	ended := false
	for i := 0; i < n; i++ {
		if tr.Ended(i) {
			b.StepTypes[i] = ts.Last
			ended = true
		}
	}
	if ended {
		b.FinalObservations = b.Observations
		if e.engine.Backend() == engine.BackendBatched {
			b.FinalObservations = e.observe(tr.Final)
		}
	}
	return b, nil
}

// Observe returns the observation of every slot of a state
func (e *Env) Observe(st engine.State) *mat.Dense {
	return e.observe(st)
}

func (e *Env) observe(st engine.State) *mat.Dense {
	n, dim := st.Len(), e.layout.ObservationDim()
	obs := mat.NewDense(n, dim, nil)
	for i := 0; i < n; i++ {
		e.layout.Observe(st.QPos.RawRowView(i), st.QVel.RawRowView(i),
			&e.scratch, obs.RawRowView(i))
	}
	return obs
}

func fill[T any](n int, v T) []T {
	s := make([]T, n)
	for i := range s {
		s[i] = v
	}
	return s
}
