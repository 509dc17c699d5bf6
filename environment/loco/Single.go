package loco

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/goloco/engine"
	"github.com/samuelfneumann/goloco/environment"
	ts "github.com/samuelfneumann/goloco/timestep"
)

// Single wraps an environment of batch size one so that it can be
// driven with action vectors and returns single TimeSteps
type Single struct {
	environment.Environment
	action *mat.Dense
}

// NewSingle returns a new Single wrapping env
func NewSingle(env environment.Environment) (*Single, error) {
	if n := env.BatchSize(); n != 1 {
		return nil, fmt.Errorf("newSingle: environment has batch size %d, "+
			"want 1", n)
	}
	return &Single{
		Environment: env,
		action:      mat.NewDense(1, env.ActionDim(), nil),
	}, nil
}

// Reset starts a new episode and returns its first TimeStep
func (s *Single) Reset(seed uint64) (ts.TimeStep, error) {
	b, err := s.Environment.Reset(seed)
	if err != nil {
		return ts.TimeStep{}, err
	}
	return b.At(0), nil
}

// Step takes one step with an action of length ActionDim. A wrong
// length fails with an engine.ActionShapeError.
func (s *Single) Step(action mat.Vector) (ts.TimeStep, error) {
	if action.Len() == 0 {
		return ts.TimeStep{}, fmt.Errorf("step: %w", &engine.ActionShapeError{
			Rows: 1, WantRows: 1, WantCols: s.ActionDim()})
	}
	actions := s.action
	if action.Len() != s.ActionDim() {
		actions = mat.NewDense(1, action.Len(), nil)
	}
	for i := 0; i < action.Len(); i++ {
		actions.Set(0, i, action.AtVec(i))
	}

	b, err := s.Environment.Step(actions)
	if err != nil {
		return ts.TimeStep{}, err
	}
	return b.At(0), nil
}
