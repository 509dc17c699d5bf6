package loco

import (
	"fmt"
	"math"
	"sync"

	"golang.org/x/exp/rand"

	"github.com/samuelfneumann/goloco/engine"
	"github.com/samuelfneumann/goloco/environment/envconfig"
	"github.com/samuelfneumann/goloco/kinematics"
	"github.com/samuelfneumann/goloco/model"
	"github.com/samuelfneumann/goloco/trajectory"
	"github.com/samuelfneumann/goloco/utils/floatutils"
)

// Defaults of the tracking task
const (
	DefaultPoseWeight     = 0.5
	DefaultVelocityWeight = 0.1
	DefaultBodyWeight     = 0.4
)

// Sharpness of the tracking reward kernels
const (
	poseScale     = 1.0
	velocityScale = 0.1
	bodyScale     = 10.0
)

// TrackingParams parameterizes the Tracking task
type TrackingParams struct {
	PoseWeight     float64
	VelocityWeight float64
	BodyWeight     float64
	MinHeight      float64
}

// DefaultTrackingParams returns the default Tracking task parameters
func DefaultTrackingParams() TrackingParams {
	return TrackingParams{
		PoseWeight:     DefaultPoseWeight,
		VelocityWeight: DefaultVelocityWeight,
		BodyWeight:     DefaultBodyWeight,
		MinHeight:      DefaultMinHeight,
	}
}

func trackingParams(t *envconfig.Task) TrackingParams {
	p := DefaultTrackingParams()
	if t == nil {
		return p
	}
	envconfig.Override(&p.PoseWeight, t.PoseWeight)
	envconfig.Override(&p.VelocityWeight, t.VelocityWeight)
	envconfig.Override(&p.BodyWeight, t.BodyWeight)
	envconfig.Override(&p.MinHeight, t.MinHeight)
	return p
}

// Tracking rewards a robot for following reference motions. The
// reference of a slot and the frame its episode started at are held in
// the slot's Cursor; the frame tracked at episode time t is the start
// frame plus t times the reference frequency.
//
// The reward is a weighted sum of Gaussian kernels of the joint
// position error, the joint velocity error and the mean squared error
// of the global body positions. Free joints are excluded from the
// joint errors. Episodes terminate when the floating base drops below
// MinHeight, the state is not finite, or the reference runs out of
// frames.
type Tracking struct {
	TrackingParams

	tree   *model.Tree
	refs   []*trajectory.Expanded
	root   int
	frames sync.Pool
}

// NewTracking returns a new Tracking task following refs, which must
// be expanded against t
func NewTracking(t *model.Tree, refs []*trajectory.Expanded,
	p TrackingParams) (*Tracking, error) {
	if len(refs) == 0 {
		return nil, fmt.Errorf("newTracking: no reference trajectories")
	}
	for _, r := range refs {
		if len(r.Bodies) != len(t.Bodies) {
			return nil, fmt.Errorf("newTracking: reference %v has %d bodies, "+
				"model has %d", r.ID, len(r.Bodies), len(t.Bodies))
		}
	}

	root := -1
	if j := t.Root(); j >= 0 {
		root = t.Joints[j].QPosAdr
	}
	tr := &Tracking{TrackingParams: p, tree: t, refs: refs, root: root}
	tr.frames.New = func() any {
		f := make([]kinematics.Frame, len(t.Bodies))
		return &f
	}
	return tr, nil
}

// Reference returns the reference trajectory and the frame tracked by
// a slot
func (tr *Tracking) Reference(s engine.Slot) (*trajectory.Expanded, int) {
	ref := tr.refs[s.Cursor.Index]
	return ref, max(s.Cursor.Frame+int(s.Time*ref.Frequency+0.5), 0)
}

// Reward implements the engine.Task interface
func (tr *Tracking) Reward(prev, next engine.Slot, action []float64) float64 {
	ref, f := tr.Reference(next)
	f = min(f, ref.Frames()-1)
	refPos, refVel := ref.Frame(f)

	var posErr, velErr float64
	for i := range tr.tree.Joints {
		j := &tr.tree.Joints[i]
		if j.Type == model.Free {
			continue
		}
		d := next.QPos[j.QPosAdr] - refPos[j.QPosAdr]
		posErr += d * d
		d = next.QVel[j.DofAdr] - refVel[j.DofAdr]
		velErr += d * d
	}

	buf := tr.frames.Get().(*[]kinematics.Frame)
	frames := kinematics.Forward(tr.tree, next.QPos, next.QVel, *buf)
	var bodyErr float64
	for b := 1; b < len(frames); b++ {
		p := ref.BodyPos(f, b)
		dx, dy, dz := frames[b].Pos.X-p.X, frames[b].Pos.Y-p.Y,
			frames[b].Pos.Z-p.Z
		bodyErr += dx*dx + dy*dy + dz*dz
	}
	if n := len(frames) - 1; n > 0 {
		bodyErr /= float64(n)
	}
	*buf = frames
	tr.frames.Put(buf)

	return tr.PoseWeight*math.Exp(-poseScale*posErr) +
		tr.VelocityWeight*math.Exp(-velocityScale*velErr) +
		tr.BodyWeight*math.Exp(-bodyScale*bodyErr)
}

// Terminated implements the engine.Task interface
func (tr *Tracking) Terminated(s engine.Slot) bool {
	if !floatutils.AllFinite(s.QPos, s.QVel) {
		return true
	}
	if tr.root >= 0 && s.QPos[tr.root+2] < tr.MinHeight {
		return true
	}
	ref, f := tr.Reference(s)
	return f >= ref.Frames()-1
}

// ReferenceStarter starts episodes on a frame of a reference
// trajectory chosen uniformly at random. If RandomFrame is false
// episodes start on the first frame of the reference, otherwise on a
// uniformly chosen frame before the last.
type ReferenceStarter struct {
	Refs        []*trajectory.Expanded
	RandomFrame bool
}

// Start implements the engine.Starter interface
func (r ReferenceStarter) Start(src rand.Source, qpos, qvel []float64) (
	engine.Cursor, error) {
	if len(r.Refs) == 0 {
		return engine.Cursor{}, fmt.Errorf("start: no reference trajectories")
	}
	rng := rand.New(src)
	c := engine.Cursor{Index: rng.Intn(len(r.Refs))}
	ref := r.Refs[c.Index]
	if n := ref.Frames(); r.RandomFrame && n > 1 {
		c.Frame = rng.Intn(n - 1)
	}

	pos, vel := ref.Frame(c.Frame)
	if len(pos) != len(qpos) || len(vel) != len(qvel) {
		return engine.Cursor{}, fmt.Errorf("start: reference %v does not "+
			"fit the model", ref.ID)
	}
	copy(qpos, pos)
	copy(qvel, vel)
	return c, nil
}
