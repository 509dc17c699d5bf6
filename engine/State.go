package engine

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// State is the simulation state of a batch of instances. Row i of QPos
// and QVel holds the generalized positions and velocities of slot i.
//
// Engines never modify a State they return or receive; every change
// produces a new State. Callers must treat a State as immutable too, and
// use Teleport to derive a modified one.
type State struct {
	QPos, QVel *mat.Dense
	Time       []float64
	Steps      []int
	Cursors    []Cursor

	// Keys seed the next episode of each slot
	Keys []uint64
}

func newState(n, nq, nv int) State {
	return State{
		QPos:    mat.NewDense(n, nq, nil),
		QVel:    mat.NewDense(n, nv, nil),
		Time:    make([]float64, n),
		Steps:   make([]int, n),
		Cursors: make([]Cursor, n),
		Keys:    make([]uint64, n),
	}
}

// Len returns the number of slots of the State
func (s State) Len() int {
	return len(s.Time)
}

// Empty returns whether s is the zero State
func (s State) Empty() bool {
	return s.QPos == nil
}

// Clone returns a deep copy of s
func (s State) Clone() State {
	if s.Empty() {
		return State{}
	}
	return State{
		QPos:    mat.DenseCopyOf(s.QPos),
		QVel:    mat.DenseCopyOf(s.QVel),
		Time:    append([]float64(nil), s.Time...),
		Steps:   append([]int(nil), s.Steps...),
		Cursors: append([]Cursor(nil), s.Cursors...),
		Keys:    append([]uint64(nil), s.Keys...),
	}
}

// Slot returns a view of slot i. The returned slices alias s and must
// not be modified.
func (s State) Slot(i int) Slot {
	return Slot{
		QPos:   s.QPos.RawRowView(i),
		QVel:   s.QVel.RawRowView(i),
		Time:   s.Time[i],
		Step:   s.Steps[i],
		Cursor: s.Cursors[i],
	}
}

// Teleport returns a copy of s in which slot i has the given positions,
// velocities and cursor. The episode time and step count of the slot
// are kept.
func (s State) Teleport(i int, qpos, qvel []float64, c Cursor) (State,
	error) {
	if s.Empty() {
		return State{}, fmt.Errorf("teleport: %w", ErrNotReset)
	}
	if i < 0 || i >= s.Len() {
		return State{}, fmt.Errorf("teleport: slot %d out of range [0, %d)",
			i, s.Len())
	}
	_, nq := s.QPos.Dims()
	_, nv := s.QVel.Dims()
	if len(qpos) != nq || len(qvel) != nv {
		return State{}, fmt.Errorf("teleport: state has (nq, nv) = (%d, %d), "+
			"want (%d, %d)", len(qpos), len(qvel), nq, nv)
	}

	next := s.Clone()
	next.QPos.SetRow(i, qpos)
	next.QVel.SetRow(i, qvel)
	next.Cursors[i] = c
	return next, nil
}

// checkShape returns an error if s does not hold n slots of a model
// with nq positions and nv velocities
func (s State) checkShape(n, nq, nv int) error {
	if s.Empty() {
		return ErrNotReset
	}
	r, c := s.QPos.Dims()
	rv, cv := s.QVel.Dims()
	if r != n || c != nq || rv != n || cv != nv {
		return fmt.Errorf("state has shape qpos [%d, %d] qvel [%d, %d], "+
			"want [%d, %d] and [%d, %d]", r, c, rv, cv, n, nq, n, nv)
	}
	if len(s.Time) != n || len(s.Steps) != n || len(s.Cursors) != n ||
		len(s.Keys) != n {
		return fmt.Errorf("state has %d times, %d step counts, %d cursors "+
			"and %d keys, want %d of each", len(s.Time), len(s.Steps),
			len(s.Cursors), len(s.Keys), n)
	}
	return nil
}
