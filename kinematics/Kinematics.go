// Package kinematics implements forward kinematics over compiled model
// trees: given generalized positions and velocities, it computes the
// global pose and the linear and angular velocity of every body.
package kinematics

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/samuelfneumann/goloco/model"
)

// Version identifies the forward kinematics algorithm. It is part of
// the content key of every cached trajectory expansion, so it must be
// incremented whenever Forward changes its output.
const Version = 2

// ContactMargin is the distance from the ground plane below which a
// geom is considered to be touching the ground
const ContactMargin = 5e-3

// Frame is the global state of a single body. Angular velocities are
// expressed in the world frame.
type Frame struct {
	Pos    r3.Vec
	Quat   quat.Number
	LinVel r3.Vec
	AngVel r3.Vec
}

// Forward computes the Frame of every body of the tree. If out has
// enough capacity it is reused, otherwise a new slice is allocated.
// The world body is always at index 0 with the identity pose.
//
// Free joints take their position and orientation directly from qpos,
// hinge joints rotate a body about the joint anchor and slide joints
// translate a body along the joint axis.
func Forward(t *model.Tree, qpos, qvel []float64, out []Frame) []Frame {
	if cap(out) < len(t.Bodies) {
		out = make([]Frame, len(t.Bodies))
	}
	out = out[:len(t.Bodies)]
	out[0] = Frame{Quat: quat.Number{Real: 1}}

	for i := 1; i < len(t.Bodies); i++ {
		b := &t.Bodies[i]
		p := out[b.Parent]

		pos := r3.Add(p.Pos, Rotate(p.Quat, b.Pos))
		q := quat.Mul(p.Quat, b.Quat)
		w := p.AngVel
		v := r3.Add(p.LinVel, r3.Cross(p.AngVel, r3.Sub(pos, p.Pos)))

		for _, id := range b.Joints {
			j := &t.Joints[id]
			qa, da := j.QPosAdr, j.DofAdr

			switch j.Type {
			case model.Free:
				pos = r3.Vec{X: qpos[qa], Y: qpos[qa+1], Z: qpos[qa+2]}
				q = Normalize(quat.Number{Real: qpos[qa+3], Imag: qpos[qa+4],
					Jmag: qpos[qa+5], Kmag: qpos[qa+6]})
				if qvel != nil {
					v = r3.Vec{X: qvel[da], Y: qvel[da+1], Z: qvel[da+2]}
					w = r3.Vec{X: qvel[da+3], Y: qvel[da+4], Z: qvel[da+5]}
				}

			case model.Hinge:
				axis := Rotate(q, j.Axis)
				anchor := r3.Add(pos, Rotate(q, j.Pos))
				prev := pos
				q = quat.Mul(q, AxisAngle(j.Axis, qpos[qa]))
				pos = r3.Sub(anchor, Rotate(q, j.Pos))
				if qvel != nil {
					// The rotation so far also carries the displaced origin
					v = r3.Add(v, r3.Cross(w, r3.Sub(pos, prev)))
					wj := r3.Scale(qvel[da], axis)
					w = r3.Add(w, wj)
					v = r3.Add(v, r3.Cross(wj, r3.Sub(pos, anchor)))
				}

			case model.Slide:
				axis := Rotate(q, j.Axis)
				d := r3.Scale(qpos[qa], axis)
				pos = r3.Add(pos, d)
				if qvel != nil {
					v = r3.Add(v, r3.Cross(w, d))
					v = r3.Add(v, r3.Scale(qvel[da], axis))
				}
			}
		}

		out[i] = Frame{Pos: pos, Quat: q, LinVel: v, AngVel: w}
	}
	return out
}

// GeomBottom returns the height of the lowest point of a geom above the
// ground plane, given the frames of the tree.
func GeomBottom(t *model.Tree, frames []Frame, geom int) float64 {
	g := &t.Geoms[geom]
	f := frames[g.Body]
	center := r3.Add(f.Pos, Rotate(f.Quat, g.Pos))
	return center.Z - g.Radius()
}

// InContact returns whether any collision geom of the body touches the
// ground plane
func InContact(t *model.Tree, frames []Frame, body int) bool {
	for _, g := range t.Bodies[body].Geoms {
		if !t.Geoms[g].Contact || t.Geoms[g].Type == "plane" {
			continue
		}
		if GeomBottom(t, frames, g) <= ContactMargin {
			return true
		}
	}
	return false
}

// Rotate rotates the vector v by the unit quaternion q
func Rotate(q quat.Number, v r3.Vec) r3.Vec {
	p := quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}
	r := quat.Mul(quat.Mul(q, p), quat.Conj(q))
	return r3.Vec{X: r.Imag, Y: r.Jmag, Z: r.Kmag}
}

// AxisAngle returns the unit quaternion rotating by angle radians about
// the unit vector axis
func AxisAngle(axis r3.Vec, angle float64) quat.Number {
	s, c := math.Sincos(angle / 2)
	return quat.Number{Real: c, Imag: s * axis.X, Jmag: s * axis.Y,
		Kmag: s * axis.Z}
}

// Normalize returns q scaled to unit length. The zero quaternion is
// mapped to the identity rotation.
func Normalize(q quat.Number) quat.Number {
	n := quat.Abs(q)
	if n == 0 || math.IsNaN(n) {
		return quat.Number{Real: 1}
	}
	return quat.Scale(1/n, q)
}
