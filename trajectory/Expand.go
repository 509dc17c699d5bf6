package trajectory

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/samuelfneumann/goloco/kinematics"
	"github.com/samuelfneumann/goloco/model"
)

// Expanded is a Trajectory together with the global state of every
// body of a model at every frame. Column block b of each body array
// belongs to body b of the model tree, so XPos has 3 columns per body
// and XQuat has 4. An Expanded trajectory is immutable.
type Expanded struct {
	*Trajectory

	// Model is the identity of the model the trajectory was expanded
	// against and FKVersion the kinematics version used
	Model     string
	FKVersion int
	Bodies    []string

	XPos   *mat.Dense
	XQuat  *mat.Dense
	LinVel *mat.Dense
	AngVel *mat.Dense
}

// Expand computes the body states of the trajectory t on the model
// tree whose identity is given. It fails with an
// IncompatibleTrajectoryError if the joint space of t differs from the
// tree's.
func Expand(t *Trajectory, tree *model.Tree, identity string) (*Expanded,
	error) {
	nq, nv := t.Dims()
	if nq != tree.NQ || nv != tree.NV {
		return nil, fmt.Errorf("expand: %w", &IncompatibleTrajectoryError{
			ID: t.ID, NQ: nq, NV: nv, WantNQ: tree.NQ, WantNV: tree.NV})
	}

	frames, nb := t.Frames(), len(tree.Bodies)
	e := &Expanded{
		Trajectory: t,
		Model:      identity,
		FKVersion:  kinematics.Version,
		Bodies:     make([]string, nb),
		XPos:       mat.NewDense(frames, 3*nb, nil),
		XQuat:      mat.NewDense(frames, 4*nb, nil),
		LinVel:     mat.NewDense(frames, 3*nb, nil),
		AngVel:     mat.NewDense(frames, 3*nb, nil),
	}
	for i, b := range tree.Bodies {
		e.Bodies[i] = b.Name
	}

	var out []kinematics.Frame
	for f := 0; f < frames; f++ {
		qpos, qvel := t.Frame(f)
		out = kinematics.Forward(tree, qpos, qvel, out)

		pos, q := e.XPos.RawRowView(f), e.XQuat.RawRowView(f)
		lin, ang := e.LinVel.RawRowView(f), e.AngVel.RawRowView(f)
		for b, fr := range out {
			putVec(pos[3*b:], fr.Pos)
			putVec(lin[3*b:], fr.LinVel)
			putVec(ang[3*b:], fr.AngVel)
			q[4*b+0], q[4*b+1] = fr.Quat.Real, fr.Quat.Imag
			q[4*b+2], q[4*b+3] = fr.Quat.Jmag, fr.Quat.Kmag
		}
	}
	return e, nil
}

// Compact returns the joint space trajectory the expansion was computed
// from, discarding every derived field
func (e *Expanded) Compact() *Trajectory {
	return &Trajectory{
		ID:        e.ID,
		Source:    e.Source,
		Frequency: e.Frequency,
		QPos:      mat.DenseCopyOf(e.QPos),
		QVel:      mat.DenseCopyOf(e.QVel),
	}
}

// Body returns the index of the named body, or -1
func (e *Expanded) Body(name string) int {
	for i, b := range e.Bodies {
		if b == name {
			return i
		}
	}
	return -1
}

// BodyPos returns the global position of body b at frame f
func (e *Expanded) BodyPos(f, b int) r3.Vec {
	row := e.XPos.RawRowView(f)
	return r3.Vec{X: row[3*b], Y: row[3*b+1], Z: row[3*b+2]}
}

// BodyQuat returns the global orientation of body b at frame f
func (e *Expanded) BodyQuat(f, b int) quat.Number {
	row := e.XQuat.RawRowView(f)
	return quat.Number{Real: row[4*b], Imag: row[4*b+1], Jmag: row[4*b+2],
		Kmag: row[4*b+3]}
}

func putVec(dst []float64, v r3.Vec) {
	dst[0], dst[1], dst[2] = v.X, v.Y, v.Z
}
