// Package engine implements the two execution backends of locomotion
// environments.
//
// Both backends advance a compiled model under actions laid out by a
// layout.Layout and compute rewards and terminations through a Task.
// The Scalar engine steps a single simulation instance held behind a
// mutable handle. The Batched engine is a pure function over an
// explicit State value replicated across a batch dimension: Step never
// mutates its argument, and slots which terminate or reach the episode
// cutoff are reset inside the same call.
//
// Both backends step slots through the same kernel and seed slot i of a
// reset with SlotKey(seed, i). A Scalar engine and a Batched engine of
// batch size 1 built from the same model, task and starter therefore
// produce identical states for identical seeds and actions.
package engine

import (
	"fmt"
	"strings"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/goloco/layout"
	"github.com/samuelfneumann/goloco/physics"
)

// DefaultSubsteps is the number of physics steps per control step used
// when a Config leaves Substeps unset
const DefaultSubsteps = 20

// Backend is a kind of engine
type Backend int

const (
	BackendScalar Backend = iota
	BackendBatched
)

func (b Backend) String() string {
	switch b {
	case BackendScalar:
		return "scalar"
	case BackendBatched:
		return "batched"
	}
	return fmt.Sprintf("Backend(%d)", int(b))
}

// ParseBackend returns the Backend with the given name
func ParseBackend(name string) (Backend, error) {
	switch strings.ToLower(name) {
	case "", "scalar":
		return BackendScalar, nil
	case "batched":
		return BackendBatched, nil
	}
	return 0, fmt.Errorf("parseBackend: unknown backend %q (want scalar or "+
		"batched)", name)
}

// Status is the lifecycle state of a Scalar engine
type Status int

const (
	Uninitialized Status = iota
	Ready
	Terminated
)

func (s Status) String() string {
	switch s {
	case Ready:
		return "Ready"
	case Terminated:
		return "Terminated"
	}
	return "Uninitialized"
}

// Cursor is per-slot episode bookkeeping chosen by a Starter, such as
// the reference trajectory and start frame of an imitation episode
type Cursor struct {
	Index int
	Frame int
}

// Slot is a view of a single simulation instance of a State
type Slot struct {
	QPos, QVel []float64
	Time       float64
	Step       int
	Cursor     Cursor
}

// Task computes rewards and terminations. Tasks must be pure functions
// of their arguments since the Batched engine calls them concurrently.
type Task interface {
	Reward(prev, next Slot, action []float64) float64
	Terminated(s Slot) bool
}

// Starter samples initial states. Start receives qpos and qvel set to
// the model's reference configuration with zero velocity and modifies
// them in place. Randomness must be drawn only from src.
type Starter interface {
	Start(src rand.Source, qpos, qvel []float64) (Cursor, error)
}

// Transition holds the per-slot outcome of a step
type Transition struct {
	Rewards    []float64
	Terminated []bool
	Truncated  []bool

	// Final is the state each slot reached before slots that ended were
	// reset. If no slot ended, Final is the returned state.
	Final State
}

// Ended returns whether slot i terminated or was truncated
func (t Transition) Ended(i int) bool {
	return t.Terminated[i] || t.Truncated[i]
}

// Engine is a backend which can be reset and stepped
type Engine interface {
	Backend() Backend
	BatchSize() int
	Model() *physics.Compiled
	Layout() *layout.Layout

	// Reset starts a new episode in every slot
	Reset(seed uint64) (State, error)

	// Step advances every slot of s by one control step. actions has
	// one row per slot and one column per action channel.
	Step(s State, actions *mat.Dense) (State, Transition, error)
}

// Config configures an engine
type Config struct {
	// Layout maps actions to actuator controls. It must be resolved
	// against the tree of the engine's compiled model.
	Layout *layout.Layout

	Task    Task
	Starter Starter

	// Substeps is the number of physics steps per control step
	Substeps int

	// Cutoff is the number of steps after which an episode is
	// truncated. Zero disables truncation.
	Cutoff int
}

// BatchedConfig configures a Batched engine
type BatchedConfig struct {
	Config

	BatchSize int

	// Workers bounds the number of goroutines stepping slots. Zero uses
	// one worker per CPU.
	Workers int
}

// NoTask gives zero reward and never terminates
type NoTask struct{}

func (NoTask) Reward(prev, next Slot, action []float64) float64 { return 0 }
func (NoTask) Terminated(s Slot) bool                           { return false }
