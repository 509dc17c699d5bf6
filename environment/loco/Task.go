package loco

import (
	"gonum.org/v1/gonum/floats"

	"github.com/samuelfneumann/goloco/engine"
	"github.com/samuelfneumann/goloco/environment/envconfig"
	"github.com/samuelfneumann/goloco/model"
	"github.com/samuelfneumann/goloco/utils/floatutils"
)

// Defaults of the live-reward task
const (
	DefaultAliveBonus    = 1.0
	DefaultForwardWeight = 1.25
	DefaultCtrlCost      = 1e-3
	DefaultMinHeight     = 0.3
	DefaultResetNoise    = 5e-3
)

// WalkParams parameterizes the Walk task
type WalkParams struct {
	AliveBonus    float64
	ForwardWeight float64
	CtrlCost      float64
	MinHeight     float64
}

// DefaultWalkParams returns the default Walk task parameters
func DefaultWalkParams() WalkParams {
	return WalkParams{
		AliveBonus:    DefaultAliveBonus,
		ForwardWeight: DefaultForwardWeight,
		CtrlCost:      DefaultCtrlCost,
		MinHeight:     DefaultMinHeight,
	}
}

// walkParams returns the default Walk parameters overridden by the
// attributes set in a task configuration
func walkParams(t *envconfig.Task) WalkParams {
	p := DefaultWalkParams()
	if t == nil {
		return p
	}
	envconfig.Override(&p.AliveBonus, t.AliveBonus)
	envconfig.Override(&p.ForwardWeight, t.ForwardWeight)
	envconfig.Override(&p.CtrlCost, t.CtrlCost)
	envconfig.Override(&p.MinHeight, t.MinHeight)
	return p
}

// Walk rewards a floating base robot for moving forward along the
// world x axis. The reward of a step is
//
//	ForwardWeight * Δx / Δt + AliveBonus - CtrlCost * ||a||²
//
// where x is the position of the floating base. Episodes terminate when
// the floating base drops below MinHeight or any element of the state
// is not finite.
type Walk struct {
	WalkParams
	root int // qpos address of the floating base, -1 if fixed
}

// NewWalk returns a new Walk task for the model tree
func NewWalk(t *model.Tree, p WalkParams) Walk {
	root := -1
	if j := t.Root(); j >= 0 {
		root = t.Joints[j].QPosAdr
	}
	return Walk{WalkParams: p, root: root}
}

// Reward implements the engine.Task interface
func (w Walk) Reward(prev, next engine.Slot, action []float64) float64 {
	reward := w.AliveBonus - w.CtrlCost*floats.Dot(action, action)
	if dt := next.Time - prev.Time; w.root >= 0 && dt > 0 {
		reward += w.ForwardWeight * (next.QPos[w.root] - prev.QPos[w.root]) / dt
	}
	return reward
}

// Terminated implements the engine.Task interface
func (w Walk) Terminated(s engine.Slot) bool {
	if !floatutils.AllFinite(s.QPos, s.QVel) {
		return true
	}
	return w.root >= 0 && s.QPos[w.root+2] < w.MinHeight
}
