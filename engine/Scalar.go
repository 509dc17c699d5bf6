package engine

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/goloco/layout"
	"github.com/samuelfneumann/goloco/physics"
)

// Scalar is an engine stepping a single simulation instance in place.
// A Scalar engine must not be used from more than one goroutine at a
// time.
//
// Step advances the engine's own instance. If the State passed to Step
// is not the State the engine last returned, for example because it was
// derived with State.Teleport, the instance is first loaded from it.
// A Scalar engine does not reset itself: once a step terminates or
// truncates the episode, Step fails with ErrEpisodeOver until Reset is
// called.
type Scalar struct {
	*kernel
	status Status

	sim  State // the instance, mutated in place
	last State // snapshot of sim handed to the caller
	sc   *scratch
}

// NewScalar returns a new Scalar engine
func NewScalar(m *physics.Compiled, cfg Config) (*Scalar, error) {
	k, err := newKernel(m, cfg)
	if err != nil {
		return nil, fmt.Errorf("newScalar: %v", err)
	}
	return &Scalar{kernel: k, sc: k.newScratch()}, nil
}

// Backend implements the Engine interface
func (s *Scalar) Backend() Backend {
	return BackendScalar
}

// BatchSize implements the Engine interface. It is always 1.
func (s *Scalar) BatchSize() int {
	return 1
}

// Model implements the Engine interface
func (s *Scalar) Model() *physics.Compiled {
	return s.model
}

// Layout implements the Engine interface
func (s *Scalar) Layout() *layout.Layout {
	return s.layout
}

// Status returns the lifecycle state of the engine
func (s *Scalar) Status() Status {
	return s.status
}

// Reset starts a new episode seeded by seed
func (s *Scalar) Reset(seed uint64) (State, error) {
	sim := newState(1, s.nq, s.nv)
	sim.Keys[0] = SlotKey(seed, 0)
	if err := s.start(sim, 0); err != nil {
		return State{}, fmt.Errorf("reset: %w", err)
	}

	s.sim = sim
	s.last = sim.Clone()
	s.status = Ready
	return s.last, nil
}

// Load replaces the engine's instance with the state st, which must
// hold a single slot. Loading a state makes the engine Ready.
func (s *Scalar) Load(st State) error {
	if err := st.checkShape(1, s.nq, s.nv); err != nil {
		return fmt.Errorf("load: %w", err)
	}
	s.sim = st.Clone()
	s.last = st
	s.status = Ready
	return nil
}

// Step advances the instance by one control step under the action in
// the single row of actions
func (s *Scalar) Step(st State, actions *mat.Dense) (State, Transition,
	error) {
	if actions == nil {
		return State{}, Transition{}, fmt.Errorf("step: %w",
			&ActionShapeError{WantRows: 1, WantCols: s.layout.ActionDim()})
	}
	if err := s.checkActions(1, actions.RawMatrix().Rows,
		actions.RawMatrix().Cols); err != nil {
		return State{}, Transition{}, fmt.Errorf("step: %w", err)
	}
	if !sameState(st, s.last) {
		if err := s.Load(st); err != nil {
			return State{}, Transition{}, fmt.Errorf("step: %w", err)
		}
	}
	switch s.status {
	case Uninitialized:
		return State{}, Transition{}, fmt.Errorf("step: %w", ErrNotReset)
	case Terminated:
		return State{}, Transition{}, fmt.Errorf("step: %w", ErrEpisodeOver)
	}

	o := s.advance(s.sim, 0, actions.RawRowView(0), s.sc)
	if o.diverged {
		err := &StepDivergedError{Slot: 0, Step: s.last.Steps[0] + 1,
			Last: s.last}
		s.sim = s.last.Clone()
		s.status = Terminated
		return State{}, Transition{}, fmt.Errorf("step: %w", err)
	}
	if o.terminated || o.truncated {
		s.status = Terminated
	}

	s.last = s.sim.Clone()
	return s.last, Transition{
		Rewards:    []float64{o.reward},
		Terminated: []bool{o.terminated},
		Truncated:  []bool{o.truncated},
		Final:      s.last,
	}, nil
}

// sameState returns whether a and b share their backing storage
func sameState(a, b State) bool {
	return a.QPos == b.QPos && a.QVel == b.QVel
}
