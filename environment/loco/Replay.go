package loco

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/goloco/engine"
	"github.com/samuelfneumann/goloco/trajectory"
)

// ErrNoReferences is returned by reference operations of environments
// without reference trajectories
var ErrNoReferences = errors.New("environment has no reference trajectories")

// Teleport sets the simulation state of slot to frame of reference
// ref. The episode clock of the slot keeps running, and the slot
// tracks the reference from the given frame onward.
func (e *Env) Teleport(slot, ref, frame int) error {
	if len(e.refs) == 0 {
		return fmt.Errorf("teleport: %w", ErrNoReferences)
	}
	if ref < 0 || ref >= len(e.refs) {
		return fmt.Errorf("teleport: reference %d out of range [0, %d)", ref,
			len(e.refs))
	}
	r := e.refs[ref]
	if frame < 0 || frame >= r.Frames() {
		return fmt.Errorf("teleport: frame %d out of range [0, %d)", frame,
			r.Frames())
	}
	if e.state.Empty() {
		return fmt.Errorf("teleport: %w", engine.ErrNotReset)
	}
	if slot < 0 || slot >= e.state.Len() {
		return fmt.Errorf("teleport: slot %d out of range [0, %d)", slot,
			e.state.Len())
	}

	// The tracked frame is the cursor frame plus the elapsed frames
	elapsed := int(e.state.Time[slot]*r.Frequency + 0.5)
	qpos, qvel := r.Frame(frame)
	st, err := e.state.Teleport(slot, qpos, qvel,
		engine.Cursor{Index: ref, Frame: frame - elapsed})
	if err != nil {
		return fmt.Errorf("teleport: %w", err)
	}
	e.state = st
	return nil
}

// Tracked returns the reference trajectory and frame tracked by a slot
// of an imitation environment. The frame is past the last frame of the
// reference once the reference has been used up.
func (e *Env) Tracked(slot int) (*trajectory.Expanded, int, error) {
	if e.tracking == nil {
		return nil, 0, fmt.Errorf("tracked: %w", ErrNoReferences)
	}
	if e.state.Empty() {
		return nil, 0, fmt.Errorf("tracked: %w", engine.ErrNotReset)
	}
	if slot < 0 || slot >= e.state.Len() {
		return nil, 0, fmt.Errorf("tracked: slot %d out of range [0, %d)",
			slot, e.state.Len())
	}
	ref, frame := e.tracking.Reference(e.state.Slot(slot))
	return ref, frame, nil
}

// Replay teleports slot 0 through every frame of reference ref in
// order, calling fn with the frame index, the resulting state and its
// observation. Replay stops at the first error returned by fn. The
// environment is left at the last frame visited.
func (e *Env) Replay(ref int, fn func(frame int, st engine.State,
	obs *mat.VecDense) error) error {
	if len(e.refs) == 0 {
		return fmt.Errorf("replay: %w", ErrNoReferences)
	}
	if ref < 0 || ref >= len(e.refs) {
		return fmt.Errorf("replay: reference %d out of range [0, %d)", ref,
			len(e.refs))
	}
	if e.state.Empty() {
		if _, err := e.Reset(0); err != nil {
			return fmt.Errorf("replay: %w", err)
		}
	}

	for f := 0; f < e.refs[ref].Frames(); f++ {
		if err := e.Teleport(0, ref, f); err != nil {
			return fmt.Errorf("replay: %w", err)
		}
		obs := e.observe(e.state)
		if err := fn(f, e.state, mat.VecDenseCopyOf(obs.RowView(0))); err != nil {
			return fmt.Errorf("replay: %w", err)
		}
	}
	return nil
}
