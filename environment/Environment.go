// Package environment outlines the interfaces and structs needed to
// implement concrete locomotion environments
package environment

import (
	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/goloco/timestep"
)

// Environment implements a simulated environment holding BatchSize
// instances. Actions and observations have one row per instance.
//
// The action and observation dimensions are fixed for the life of the
// environment.
type Environment interface {
	// ID uniquely identifies the environment instance
	ID() uuid.UUID

	// Name is the registered name the environment was made from
	Name() string

	BatchSize() int
	ActionDim() int
	ObservationDim() int

	// Reset starts new episodes in every instance
	Reset(seed uint64) (*timestep.Batch, error)

	// Step applies actions of shape [BatchSize, ActionDim]
	Step(actions *mat.Dense) (*timestep.Batch, error)

	ObservationSpec() Spec
	ActionSpec() Spec
}
