package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrActionShape is matched by every ActionShapeError
	ErrActionShape = errors.New("action shape mismatch")

	// ErrStepDiverged is matched by every StepDivergedError
	ErrStepDiverged = errors.New("simulation diverged")

	// ErrNotReset is returned when stepping an engine that was never
	// reset
	ErrNotReset = errors.New("engine has not been reset")

	// ErrEpisodeOver is returned when stepping a Scalar engine whose
	// episode has ended
	ErrEpisodeOver = errors.New("episode is over, reset the engine")
)

// ActionShapeError is returned when an action array does not have one
// row per slot and one column per action channel
type ActionShapeError struct {
	Rows, Cols         int
	WantRows, WantCols int
}

func (e *ActionShapeError) Error() string {
	return fmt.Sprintf("actions have shape [%d, %d], want [%d, %d]",
		e.Rows, e.Cols, e.WantRows, e.WantCols)
}

func (e *ActionShapeError) Is(target error) bool {
	return target == ErrActionShape
}

// StepDivergedError is returned when the simulator produces a state
// which is not finite. Last is the state before the failed step.
type StepDivergedError struct {
	Slot int
	Step int
	Last State
}

func (e *StepDivergedError) Error() string {
	return fmt.Sprintf("slot %d diverged at step %d", e.Slot, e.Step)
}

func (e *StepDivergedError) Is(target error) bool {
	return target == ErrStepDiverged
}
