package layout

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/samuelfneumann/goloco/kinematics"
	"github.com/samuelfneumann/goloco/model"
)

// Slot is a contiguous range of a flat vector
type Slot struct {
	Offset int
	Width  int
}

// End returns the index one past the last index of the slot
func (s Slot) End() int {
	return s.Offset + s.Width
}

// resolved is an ObservationField resolved against a model
type resolved struct {
	field ObservationField
	slot  Slot

	// id is the joint index for joint measurements and the body index
	// for body measurements
	id int

	// adr is the first qpos or qvel address of a joint measurement
	adr int
}

// Layout is an immutable mapping from an ordered list of observation
// fields and action channels to index ranges of flat observation and
// action vectors. A Layout is safe for concurrent use.
type Layout struct {
	tree      *model.Tree
	fields    []resolved
	channels  []ActionChannel
	actuators []int
	obsDim    int
	kinematic bool
	names     Names

	ctrlLow, ctrlHigh []float64
}

// Builder collects observation fields and action channels and resolves
// them against a model
type Builder struct {
	fields   []ObservationField
	channels []ActionChannel
}

// NewBuilder returns a new, empty Builder
func NewBuilder() *Builder {
	return &Builder{}
}

// Observe appends observation fields to the builder
func (b *Builder) Observe(fields ...ObservationField) *Builder {
	b.fields = append(b.fields, fields...)
	return b
}

// Act appends action channels to the builder
func (b *Builder) Act(channels ...ActionChannel) *Builder {
	b.channels = append(b.channels, channels...)
	return b
}

// Build resolves every field and channel against the compiled model
// tree. Resolution is all-or-nothing: the first field or channel which
// cannot be resolved is returned as a SpecResolutionError and no
// Layout is produced.
func (b *Builder) Build(t *model.Tree) (*Layout, error) {
	if t == nil {
		return nil, fmt.Errorf("build: nil model tree")
	}
	if len(b.channels) == 0 {
		return nil, fmt.Errorf("build: layout has no action channels")
	}
	if len(b.fields) == 0 {
		return nil, fmt.Errorf("build: layout has no observation fields")
	}

	l := &Layout{
		tree:      t,
		fields:    make([]resolved, 0, len(b.fields)),
		channels:  append([]ActionChannel(nil), b.channels...),
		actuators: make([]int, 0, len(b.channels)),
		names:     Referenced(b.fields, b.channels),
	}

	offset := 0
	for _, f := range b.fields {
		r, err := resolve(t, f)
		if err != nil {
			return nil, fmt.Errorf("build: %w", err)
		}
		r.slot.Offset = offset
		offset += r.slot.Width
		if !f.Kind.Joint() {
			l.kinematic = true
		}
		l.fields = append(l.fields, r)
	}
	l.obsDim = offset

	seen := make(map[string]bool, len(b.channels))
	for _, c := range b.channels {
		id, ok := t.ActuatorID(c.Actuator)
		if !ok {
			return nil, fmt.Errorf("build: %w", &SpecResolutionError{
				Field: fmt.Sprintf("action(%v)", c.Actuator),
				Name:  c.Actuator,
			})
		}
		if seen[c.Actuator] {
			return nil, fmt.Errorf("build: %w", &SpecResolutionError{
				Field:  fmt.Sprintf("action(%v)", c.Actuator),
				Name:   c.Actuator,
				Reason: "actuator is driven by more than one channel",
			})
		}
		seen[c.Actuator] = true
		l.actuators = append(l.actuators, id)

		a := t.Actuators[id]
		low, high := math.Inf(-1), math.Inf(1)
		if a.Limited {
			low, high = a.CtrlRange[0], a.CtrlRange[1]
		}
		l.ctrlLow = append(l.ctrlLow, low)
		l.ctrlHigh = append(l.ctrlHigh, high)
	}

	return l, nil
}

func resolve(t *model.Tree, f ObservationField) (resolved, error) {
	r := resolved{field: f}
	var width int

	if f.Kind.Joint() {
		id, ok := t.JointID(f.Target)
		if !ok {
			return r, &SpecResolutionError{Field: f.String(), Name: f.Target}
		}
		j := &t.Joints[id]
		r.id = id
		if f.Kind == JointPos {
			r.adr, width = j.QPosAdr, j.NQ()
		} else {
			r.adr, width = j.DofAdr, j.NV()
		}
	} else {
		if f.Kind < 0 || f.Kind > BodyContact {
			return r, &SpecResolutionError{Field: f.String(), Name: f.Target,
				Reason: "unknown measurement kind"}
		}
		id, ok := t.BodyID(f.Target)
		if !ok || id == 0 {
			return r, &SpecResolutionError{Field: f.String(), Name: f.Target}
		}
		r.id = id
		width = f.Kind.width()
	}

	switch c := f.Component(); {
	case c == All:
		r.slot.Width = width
	case c >= 0 && c < width:
		r.slot.Width = 1
	default:
		return r, &SpecResolutionError{Field: f.String(), Name: f.Target,
			Reason: fmt.Sprintf("component %d out of range [0, %d)",
				c, width)}
	}
	return r, nil
}

// ObservationDim returns the length of an observation vector
func (l *Layout) ObservationDim() int {
	return l.obsDim
}

// ActionDim returns the length of an action vector
func (l *Layout) ActionDim() int {
	return len(l.channels)
}

// Tree returns the model tree the Layout was resolved against
func (l *Layout) Tree() *model.Tree {
	return l.tree
}

// Fields returns the observation fields in layout order
func (l *Layout) Fields() []ObservationField {
	fields := make([]ObservationField, len(l.fields))
	for i, r := range l.fields {
		fields[i] = r.field
	}
	return fields
}

// Channels returns the action channels in layout order
func (l *Layout) Channels() []ActionChannel {
	return append([]ActionChannel(nil), l.channels...)
}

// Slot returns the range of the observation vector holding the i-th
// observation field
func (l *Layout) Slot(i int) Slot {
	return l.fields[i].slot
}

// Slots returns the observation ranges of all fields in layout order
func (l *Layout) Slots() []Slot {
	slots := make([]Slot, len(l.fields))
	for i, r := range l.fields {
		slots[i] = r.slot
	}
	return slots
}

// Actuators returns the actuator index driven by each action channel
func (l *Layout) Actuators() []int {
	return append([]int(nil), l.actuators...)
}

// ControlBounds returns the lower and upper control bounds of each
// action channel. Unlimited actuators have infinite bounds.
func (l *Layout) ControlBounds() (low, high []float64) {
	return append([]float64(nil), l.ctrlLow...),
		append([]float64(nil), l.ctrlHigh...)
}

// Names returns the entities referenced by the Layout
func (l *Layout) Names() Names {
	return Names{
		Joints:    append([]string(nil), l.names.Joints...),
		Bodies:    append([]string(nil), l.names.Bodies...),
		Actuators: append([]string(nil), l.names.Actuators...),
	}
}

// Rebind resolves the Layout against another model tree, such as a
// transformed version of the model it was built against. The rebound
// Layout has the same observation and action index ranges; Rebind
// fails if t lacks a referenced entity or measures it with a different
// width.
func (l *Layout) Rebind(t *model.Tree) (*Layout, error) {
	other, err := NewBuilder().Observe(l.Fields()...).Act(l.channels...).
		Build(t)
	if err != nil {
		return nil, fmt.Errorf("rebind: %w", err)
	}
	for i := range l.fields {
		if l.fields[i].slot != other.fields[i].slot {
			return nil, fmt.Errorf("rebind: field %v occupies %v, want %v",
				l.fields[i].field, other.fields[i].slot, l.fields[i].slot)
		}
	}
	return other, nil
}

// Scratch holds forward kinematics buffers used by Observe. A Scratch
// must not be shared between goroutines.
type Scratch struct {
	frames []kinematics.Frame
}

// Observe writes the observation of the state (qpos, qvel) into dst,
// which must have length ObservationDim
func (l *Layout) Observe(qpos, qvel []float64, s *Scratch, dst []float64) {
	t := l.tree
	if len(dst) != l.obsDim {
		panic(fmt.Sprintf("observe: destination has length %d, want %d",
			len(dst), l.obsDim))
	}
	if l.kinematic {
		s.frames = kinematics.Forward(t, qpos, qvel, s.frames)
	}

	var buf [7]float64
	for _, r := range l.fields {
		var full []float64
		switch r.field.Kind {
		case JointPos:
			full = qpos[r.adr : r.adr+t.Joints[r.id].NQ()]
		case JointVel:
			full = qvel[r.adr : r.adr+t.Joints[r.id].NV()]
		case BodyPos:
			full = vec(buf[:0], s.frames[r.id].Pos)
		case BodyQuat:
			q := s.frames[r.id].Quat
			full = append(buf[:0], q.Real, q.Imag, q.Jmag, q.Kmag)
		case BodyLinVel:
			full = vec(buf[:0], s.frames[r.id].LinVel)
		case BodyAngVel:
			full = vec(buf[:0], s.frames[r.id].AngVel)
		case BodyContact:
			full = buf[:1]
			full[0] = 0
			if kinematics.InContact(t, s.frames, r.id) {
				full[0] = 1
			}
		}

		out := dst[r.slot.Offset:r.slot.End()]
		if c := r.field.Component(); c == All {
			copy(out, full)
		} else {
			out[0] = full[c]
		}
	}
}

// Controls writes the actuator controls for an action into ctrl, which
// must have one element per model actuator. Actuators not driven by any
// channel receive zero control.
func (l *Layout) Controls(action, ctrl []float64) {
	for i := range ctrl {
		ctrl[i] = 0
	}
	for i, a := range l.actuators {
		ctrl[a] = action[i]
	}
}

func vec(dst []float64, v r3.Vec) []float64 {
	return append(dst, v.X, v.Y, v.Z)
}
