// Package timestep implements timesteps of the agent-environment interaction
package timestep

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// StepType denotes the type of step that a TimeStep can be, either  first
// environmental step, a middle step, or a last step
type StepType int

const (
	First StepType = iota
	Mid
	Last
)

func (s StepType) String() string {
	switch s {
	case First:
		return "First"
	case Last:
		return "Last"
	default:
		return "Mid"
	}
}

// EndType denotes how an episode ended
type EndType int

const (
	// NotEnded is the EndType of First and Mid steps
	NotEnded EndType = iota

	// TerminalStateReached denotes an episode ended by its task
	TerminalStateReached

	// Timeout denotes an episode truncated at the episode cutoff
	Timeout
)

func (e EndType) String() string {
	switch e {
	case TerminalStateReached:
		return "TerminalStateReached"
	case Timeout:
		return "Timeout"
	default:
		return "NotEnded"
	}
}

// TimeStep packages together a single timestep in an environment
type TimeStep struct {
	StepType    StepType
	Reward      float64
	Observation *mat.VecDense
	Number      int
	endType     EndType
}

// New returns a new TimeStep
func New(t StepType, r float64, o *mat.VecDense, n int) TimeStep {
	return TimeStep{StepType: t, Reward: r, Observation: o, Number: n}
}

// First returns whether a TimeStep is the first in an environment
func (t *TimeStep) First() bool {
	return t.StepType == First
}

// Mid returns whether a TimeStep is a middle step in an environment
func (t *TimeStep) Mid() bool {
	return t.StepType == Mid
}

// Last returns whether a TimeStep is the last step in an environment
func (t *TimeStep) Last() bool {
	return t.StepType == Last
}

// SetEnd marks the TimeStep as the last of its episode, ended in the
// manner e
func (t *TimeStep) SetEnd(e EndType) {
	t.StepType = Last
	t.endType = e
}

// EndType returns how the episode ended, or NotEnded if the TimeStep
// is not the last of its episode
func (t *TimeStep) EndType() EndType {
	return t.endType
}

func (t TimeStep) String() string {
	str := "TimeStep | Type: %v  |  Reward:  %.2f  |  Step Number:  %v"
	if t.StepType == Last {
		str += fmt.Sprintf("  |  End: %v", t.endType)
	}

	return fmt.Sprintf(str, t.StepType, t.Reward, t.Number)
}

// Batch packages together one timestep of every instance of a batched
// environment. Row i of Observations and element i of every slice
// belong to instance i.
//
// An instance whose episode ended in the step is reset in the same
// step: its StepType is Last and its Number counts the steps of the
// ended episode, while its row of Observations is the first observation
// of its next episode. FinalObservations holds the last observation of
// the ended episode.
type Batch struct {
	StepTypes         []StepType
	Observations      *mat.Dense
	FinalObservations *mat.Dense
	Rewards           []float64
	Terminated        []bool
	Truncated         []bool
	Numbers           []int
}

// Len returns the number of instances in the Batch
func (b *Batch) Len() int {
	return len(b.StepTypes)
}

// At returns the TimeStep of instance i. The observation of a Last
// step is the final observation of the ended episode.
func (b *Batch) At(i int) TimeStep {
	obs := b.Observations
	if b.StepTypes[i] == Last && b.FinalObservations != nil {
		obs = b.FinalObservations
	}
	row := mat.VecDenseCopyOf(obs.RowView(i))

	t := New(b.StepTypes[i], b.Rewards[i], row, b.Numbers[i])
	switch {
	case b.Terminated[i]:
		t.SetEnd(TerminalStateReached)
	case b.Truncated[i]:
		t.SetEnd(Timeout)
	}
	return t
}
