// Package physics implements the simulator used by both engines.
//
// The simulator advances generalized coordinates of a compiled model
// by a fixed timestep. Joint degrees of freedom are driven by their
// actuators and resisted by joint damping, stiffness and range limits.
// A floating base is subject to gravity, to ground contact computed
// from the model's collision geoms, and to an upright stabilizing
// torque. Integration is semi-implicit Euler.
//
// Advance mutates only the slices it is given, so a caller that passes
// fresh copies of its state gets a pure step function. Both the scalar
// and the batched engines step through the same kernel, which is what
// makes their trajectories agree.
package physics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/samuelfneumann/goloco/kinematics"
	"github.com/samuelfneumann/goloco/model"
	"github.com/samuelfneumann/goloco/utils/floatutils"
)

// Gains of the joint limit and floating base controllers
const (
	LimitStiffness   = 1000.0
	LimitDamping     = 50.0
	UprightStiffness = 50.0
	UprightDamping   = 10.0
	FrictionGain     = 10.0
)

// Compiled is a model compiled for simulation. It is read-only after
// construction and can be shared by any number of engines.
type Compiled struct {
	Tree     *model.Tree
	Identity string

	root     int
	contacts []int
	drive    [][]int // actuators driving each joint
}

// Compile compiles a Model for simulation
func Compile(m *model.Model) (*Compiled, error) {
	tree, err := m.Compile()
	if err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}
	id, err := m.Identity()
	if err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}

	c := &Compiled{
		Tree:     tree,
		Identity: id,
		root:     tree.Root(),
		drive:    make([][]int, len(tree.Joints)),
	}
	for i, g := range tree.Geoms {
		if g.Contact && g.Type != "plane" {
			c.contacts = append(c.contacts, i)
		}
	}
	for i, a := range tree.Actuators {
		c.drive[a.Joint] = append(c.drive[a.Joint], i)
	}
	return c, nil
}

// Dt returns the duration of a control step of substeps physics steps
func (c *Compiled) Dt(substeps int) float64 {
	return c.Tree.Timestep * float64(substeps)
}

// ContactGeoms returns the number of geoms taking part in contacts
func (c *Compiled) ContactGeoms() int {
	return len(c.contacts)
}

// Scratch holds per-caller buffers used by Advance. A Scratch must not
// be shared between goroutines.
type Scratch struct {
	frames []kinematics.Frame
	qacc   []float64
}

// NewScratch returns buffers sized for the compiled model
func (c *Compiled) NewScratch() *Scratch {
	return &Scratch{
		frames: make([]kinematics.Frame, len(c.Tree.Bodies)),
		qacc:   make([]float64, c.Tree.NV),
	}
}

// Advance advances qpos and qvel in place by substeps physics steps
// under the actuator controls ctrl and returns the elapsed simulation
// time. Controls outside an actuator's control range are clipped.
// Advance returns false if the resulting state is not finite, in which
// case qpos and qvel hold the diverged values.
func (c *Compiled) Advance(qpos, qvel, ctrl []float64, substeps int,
	s *Scratch) (float64, bool) {
	t := c.Tree
	dt := t.Timestep
	for step := 0; step < substeps; step++ {
		c.acceleration(qpos, qvel, ctrl, s)

		for i := range qvel {
			qvel[i] += dt * s.qacc[i]
		}
		for _, j := range t.Joints {
			if j.Type == model.Free {
				integrateFree(qpos[j.QPosAdr:j.QPosAdr+7],
					qvel[j.DofAdr:j.DofAdr+6], dt)
				continue
			}
			qpos[j.QPosAdr] += dt * qvel[j.DofAdr]
		}
	}
	return dt * float64(substeps), floatutils.AllFinite(qpos, qvel)
}

// acceleration fills s.qacc with the generalized accelerations
func (c *Compiled) acceleration(qpos, qvel, ctrl []float64, s *Scratch) {
	t := c.Tree

	for id := range t.Joints {
		j := &t.Joints[id]
		if j.Type == model.Free {
			continue
		}
		q, v := qpos[j.QPosAdr], qvel[j.DofAdr]

		force := -j.Damping*v - j.Stiffness*(q-j.Ref)
		for _, a := range c.drive[id] {
			act := &t.Actuators[a]
			u := ctrl[a]
			if act.Limited {
				u = floatutils.Clip(u, act.CtrlRange[0], act.CtrlRange[1])
			}
			force += act.Gear * u
		}
		acc := force / j.Armature

		if j.Limited {
			if q < j.Range[0] {
				acc += LimitStiffness*(j.Range[0]-q) - LimitDamping*v
			} else if q > j.Range[1] {
				acc += LimitStiffness*(j.Range[1]-q) - LimitDamping*v
			}
		}
		s.qacc[j.DofAdr] = acc
	}

	if c.root < 0 {
		return
	}
	j := &t.Joints[c.root]
	qa, da := j.QPosAdr, j.DofAdr
	lin := r3.Vec{X: qvel[da], Y: qvel[da+1], Z: qvel[da+2]}
	ang := r3.Vec{X: qvel[da+3], Y: qvel[da+4], Z: qvel[da+5]}
	acc := t.Gravity

	if len(c.contacts) > 0 {
		s.frames = kinematics.Forward(t, qpos, nil, s.frames)

		deepest, geom := 0.0, -1
		for _, g := range c.contacts {
			if pen := -kinematics.GeomBottom(t, s.frames, g); pen > deepest {
				deepest, geom = pen, g
			}
		}
		if geom >= 0 {
			g := &t.Geoms[geom]
			timeconst := math.Max(g.SolRef[0], 2*t.Timestep)
			k := 1 / (timeconst * timeconst)
			d := 2 * g.SolRef[1] / timeconst

			acc.Z += math.Max(0, k*deepest-d*lin.Z)
			acc.X -= FrictionGain * g.Friction * lin.X
			acc.Y -= FrictionGain * g.Friction * lin.Y
		}
	}

	orient := quat.Number{Real: qpos[qa+3], Imag: qpos[qa+4],
		Jmag: qpos[qa+5], Kmag: qpos[qa+6]}
	up := kinematics.Rotate(kinematics.Normalize(orient), r3.Vec{Z: 1})
	tilt := r3.Cross(up, r3.Vec{Z: 1})
	alpha := r3.Sub(r3.Scale(UprightStiffness, tilt),
		r3.Scale(UprightDamping, ang))

	s.qacc[da+0], s.qacc[da+1], s.qacc[da+2] = acc.X, acc.Y, acc.Z
	s.qacc[da+3], s.qacc[da+4], s.qacc[da+5] = alpha.X, alpha.Y, alpha.Z
}

// integrateFree integrates the position and orientation of a floating
// base. qvel holds the world frame linear then angular velocity.
func integrateFree(qpos, qvel []float64, dt float64) {
	qpos[0] += dt * qvel[0]
	qpos[1] += dt * qvel[1]
	qpos[2] += dt * qvel[2]

	q := quat.Number{Real: qpos[3], Imag: qpos[4], Jmag: qpos[5],
		Kmag: qpos[6]}
	w := quat.Number{Imag: qvel[3], Jmag: qvel[4], Kmag: qvel[5]}
	q = quat.Add(q, quat.Scale(0.5*dt, quat.Mul(w, q)))
	q = kinematics.Normalize(q)

	qpos[3], qpos[4], qpos[5], qpos[6] = q.Real, q.Imag, q.Jmag, q.Kmag
}
