// Package layout implements observation and action layouts.
//
// An ObservationField names a measurement of a model entity, such as
// the position of a body or the velocity of a joint, and an
// ActionChannel names an actuator. A Builder resolves an ordered list
// of fields and channels against a model once, producing an immutable
// Layout which maps every field and channel to a contiguous slice of a
// flat vector. Fields are laid out in the order they were given,
// without gaps.
package layout

import (
	"fmt"
	"strings"
)

// Kind is a kind of measurement an ObservationField takes
type Kind int

const (
	JointPos Kind = iota
	JointVel
	BodyPos
	BodyQuat
	BodyLinVel
	BodyAngVel
	BodyContact
)

var kindNames = [...]string{
	JointPos:    "joint_pos",
	JointVel:    "joint_vel",
	BodyPos:     "body_pos",
	BodyQuat:    "body_quat",
	BodyLinVel:  "body_linvel",
	BodyAngVel:  "body_angvel",
	BodyContact: "body_contact",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// ParseKind returns the Kind with the given name
func ParseKind(name string) (Kind, error) {
	for k, n := range kindNames {
		if n == name {
			return Kind(k), nil
		}
	}
	return 0, fmt.Errorf("parseKind: no such measurement kind %q (want "+
		"one of %v)", name, strings.Join(kindNames[:], ", "))
}

// Joint returns whether the measurement targets a joint
func (k Kind) Joint() bool {
	return k == JointPos || k == JointVel
}

// width returns the fixed number of slots a body measurement occupies
func (k Kind) width() int {
	switch k {
	case BodyPos, BodyLinVel, BodyAngVel:
		return 3
	case BodyQuat:
		return 4
	case BodyContact:
		return 1
	}
	panic(fmt.Sprintf("width: kind %v has no fixed width", k))
}

// All selects every component of a measurement
const All = -1

// ObservationField is a single measurement of a named model entity. The
// zero value of a field observes the whole measurement.
type ObservationField struct {
	Kind   Kind
	Target string

	// component+1, so that zero selects All
	index int
}

// Observe returns an ObservationField over the whole measurement
func Observe(kind Kind, target string) ObservationField {
	return ObservationField{Kind: kind, Target: target}
}

// At returns a copy of the field which selects a single component of
// the measurement, e.g. 2 for the z coordinate of a body position. At(All)
// selects the whole measurement again.
func (f ObservationField) At(component int) ObservationField {
	f.index = component + 1
	return f
}

// Component returns the selected component of the measurement, or All
func (f ObservationField) Component() int {
	return f.index - 1
}

func (f ObservationField) String() string {
	if f.Component() == All {
		return fmt.Sprintf("%v(%v)", f.Kind, f.Target)
	}
	return fmt.Sprintf("%v(%v)[%d]", f.Kind, f.Target, f.Component())
}

// ActionChannel drives a single named actuator
type ActionChannel struct {
	Actuator string
}

// Act returns the ActionChannels for the named actuators
func Act(actuators ...string) []ActionChannel {
	channels := make([]ActionChannel, len(actuators))
	for i, a := range actuators {
		channels[i] = ActionChannel{Actuator: a}
	}
	return channels
}

// Names lists the model entities referenced by a set of fields and
// channels
type Names struct {
	Joints    []string
	Bodies    []string
	Actuators []string
}

// Merge returns the union of n and other, keeping first occurrence
// order
func (n Names) Merge(other Names) Names {
	return Names{
		Joints:    union(n.Joints, other.Joints),
		Bodies:    union(n.Bodies, other.Bodies),
		Actuators: union(n.Actuators, other.Actuators),
	}
}

// Referenced returns the names referenced by the fields and channels
func Referenced(fields []ObservationField, channels []ActionChannel) Names {
	var n Names
	for _, f := range fields {
		if f.Kind.Joint() {
			n.Joints = append(n.Joints, f.Target)
		} else {
			n.Bodies = append(n.Bodies, f.Target)
		}
	}
	for _, c := range channels {
		n.Actuators = append(n.Actuators, c.Actuator)
	}
	return n.Merge(Names{})
}

func union(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, s := range append(append([]string(nil), a...), b...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
