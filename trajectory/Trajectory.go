// Package trajectory implements motion datasets for imitation.
//
// A Trajectory is compact: it holds per-frame joint positions and
// velocities only. Expand derives the global pose and velocity of every
// body at every frame by forward kinematics. A Cache stores expanded
// trajectories on disk keyed by the trajectory, the model it was
// expanded against and the kinematics version, and guarantees that each
// key is fetched and expanded at most once no matter how many callers
// ask for it concurrently.
package trajectory

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/mat"
)

// ID identifies a trajectory of a robot. Name is group qualified, such
// as "default/walk" or "lafan1/dance2_subject4".
type ID struct {
	Robot string
	Name  string
}

// NewID returns the ID of the named trajectory of a robot. The name may
// be bare, such as "walk", or group qualified. Names which are not in
// the catalog are rejected with a DatasetNotFoundError.
func NewID(robot, name string) (ID, error) {
	qualified, err := Qualify(name)
	if err != nil {
		return ID{}, &DatasetNotFoundError{ID: ID{robot, name}}
	}
	return ID{Robot: robot, Name: qualified}, nil
}

func (id ID) String() string {
	return id.Robot + "/" + id.Name
}

// Info summarizes the length of a trajectory
type Info struct {
	Frames    int
	Frequency float64
	Duration  time.Duration
}

func (i Info) String() string {
	return fmt.Sprintf("%d frames at %g Hz (%v)", i.Frames, i.Frequency,
		i.Duration)
}

// Trajectory is a recorded motion in joint space. Row t of QPos and
// QVel holds the generalized positions and velocities at frame t.
// A Trajectory is immutable once constructed.
type Trajectory struct {
	ID        ID
	Source    string
	Frequency float64
	QPos      *mat.Dense
	QVel      *mat.Dense
}

// New returns a new Trajectory, checking that its arrays are
// consistent
func New(id ID, source string, frequency float64, qpos, qvel *mat.Dense) (
	*Trajectory, error) {
	if frequency <= 0 {
		return nil, fmt.Errorf("new: frequency must be positive, got %v",
			frequency)
	}
	if qpos == nil || qvel == nil {
		return nil, fmt.Errorf("new: trajectory %v has no frames", id)
	}
	tp, _ := qpos.Dims()
	tv, _ := qvel.Dims()
	if tp != tv {
		return nil, fmt.Errorf("new: trajectory %v has %d position frames "+
			"but %d velocity frames", id, tp, tv)
	}
	return &Trajectory{ID: id, Source: source, Frequency: frequency,
		QPos: qpos, QVel: qvel}, nil
}

// Frames returns the number of frames of the trajectory
func (t *Trajectory) Frames() int {
	r, _ := t.QPos.Dims()
	return r
}

// Dims returns the number of generalized positions and velocities per
// frame
func (t *Trajectory) Dims() (nq, nv int) {
	_, nq = t.QPos.Dims()
	_, nv = t.QVel.Dims()
	return nq, nv
}

// Info returns the length of the trajectory
func (t *Trajectory) Info() Info {
	frames := t.Frames()
	return Info{
		Frames:    frames,
		Frequency: t.Frequency,
		Duration:  time.Duration(float64(frames) / t.Frequency * float64(time.Second)),
	}
}

// Frame returns the positions and velocities of frame i. The returned
// slices alias the trajectory and must not be modified.
func (t *Trajectory) Frame(i int) (qpos, qvel []float64) {
	return t.QPos.RawRowView(i), t.QVel.RawRowView(i)
}

// FrameAt returns the index of the frame closest to time seconds after
// the start of the trajectory, clamped to the last frame
func (t *Trajectory) FrameAt(seconds float64) int {
	i := int(seconds*t.Frequency + 0.5)
	if i < 0 {
		return 0
	}
	if last := t.Frames() - 1; i > last {
		return last
	}
	return i
}
