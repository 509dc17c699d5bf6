// Package model implements simulation models of articulated robots.
//
// Models are described in a subset of the MJCF XML format used by
// MuJoCo: a world body holding a tree of bodies, each body carrying
// joints and collision/visual geoms, plus a list of motor actuators
// which drive joints. A Model is the declarative description; a Tree
// is the compiled, index-based view of a Model which the simulator,
// the forward kinematics, and the entity resolver work with.
package model

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"fmt"
)

// Model is the declarative description of a robot. The zero value is
// not a valid Model, use Parse or Load to construct one.
type Model struct {
	XMLName   xml.Name   `xml:"mujoco"`
	Name      string     `xml:"model,attr"`
	Option    Option     `xml:"option"`
	Meshes    []Mesh     `xml:"asset>mesh"`
	World     Body       `xml:"worldbody"`
	Actuators []Actuator `xml:"actuator>motor"`
}

// Option holds the global simulation options of a Model
type Option struct {
	Timestep   float64 `xml:"timestep,attr,omitempty"`
	Iterations int     `xml:"iterations,attr,omitempty"`
	Gravity    Floats  `xml:"gravity,attr,omitempty"`
}

// Mesh is a named mesh asset. Only the name and file reference are
// kept, mesh vertices are never loaded.
type Mesh struct {
	Name string `xml:"name,attr"`
	File string `xml:"file,attr,omitempty"`
}

// Body is a single rigid body in the kinematic tree
type Body struct {
	Name      string     `xml:"name,attr,omitempty"`
	Pos       Floats     `xml:"pos,attr,omitempty"`
	Quat      Floats     `xml:"quat,attr,omitempty"`
	Inertial  *Inertial  `xml:"inertial"`
	FreeJoint *FreeJoint `xml:"freejoint"`
	Joints    []Joint    `xml:"joint"`
	Geoms     []Geom     `xml:"geom"`
	Bodies    []Body     `xml:"body"`
}

// Inertial describes the mass properties of a Body
type Inertial struct {
	Pos         Floats  `xml:"pos,attr,omitempty"`
	Mass        float64 `xml:"mass,attr"`
	DiagInertia Floats  `xml:"diaginertia,attr,omitempty"`
}

// FreeJoint gives a Body six degrees of freedom relative to the world
type FreeJoint struct {
	Name string `xml:"name,attr"`
}

// Joint is a single degree of freedom joint, either a hinge or a slide
type Joint struct {
	Name      string  `xml:"name,attr"`
	Type      string  `xml:"type,attr,omitempty"`
	Pos       Floats  `xml:"pos,attr,omitempty"`
	Axis      Floats  `xml:"axis,attr,omitempty"`
	Range     Floats  `xml:"range,attr,omitempty"`
	Damping   float64 `xml:"damping,attr,omitempty"`
	Stiffness float64 `xml:"stiffness,attr,omitempty"`
	Armature  float64 `xml:"armature,attr,omitempty"`
	Ref       float64 `xml:"ref,attr,omitempty"`
}

// Geom is a geometric primitive or mesh attached to a Body. Geoms with
// both contype and conaffinity set to zero never collide and exist only
// for visualization.
type Geom struct {
	Name        string `xml:"name,attr,omitempty"`
	Type        string `xml:"type,attr,omitempty"`
	Mesh        string `xml:"mesh,attr,omitempty"`
	Size        Floats `xml:"size,attr,omitempty"`
	Pos         Floats `xml:"pos,attr,omitempty"`
	ConType     *int   `xml:"contype,attr,omitempty"`
	ConAffinity *int   `xml:"conaffinity,attr,omitempty"`
	Group       int    `xml:"group,attr,omitempty"`
	Friction    Floats `xml:"friction,attr,omitempty"`
	SolRef      Floats `xml:"solref,attr,omitempty"`
}

// Collides returns whether the Geom takes part in contacts
func (g *Geom) Collides() bool {
	contype, conaffinity := 1, 1
	if g.ConType != nil {
		contype = *g.ConType
	}
	if g.ConAffinity != nil {
		conaffinity = *g.ConAffinity
	}
	return contype != 0 || conaffinity != 0
}

// DisableContacts removes the Geom from collision detection
func (g *Geom) DisableContacts() {
	zero := 0
	g.ConType = &zero
	zeroAff := 0
	g.ConAffinity = &zeroAff
}

// Actuator is a motor driving a single joint
type Actuator struct {
	Name      string  `xml:"name,attr"`
	Joint     string  `xml:"joint,attr"`
	Gear      float64 `xml:"gear,attr,omitempty"`
	CtrlRange Floats  `xml:"ctrlrange,attr,omitempty"`
}

// Parse parses a Model from its XML description
func Parse(data []byte) (*Model, error) {
	m := &Model{}
	if err := xml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("parse: could not decode model: %v", err)
	}
	if m.Name == "" {
		return nil, fmt.Errorf("parse: model has no name")
	}
	return m, nil
}

// Marshal returns the canonical XML encoding of the Model. Two Models
// describing the same robot in the same way always marshal to the same
// bytes.
func (m *Model) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(m); err != nil {
		return nil, fmt.Errorf("marshal: %v", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// Identity returns a hex digest of the canonical encoding of the Model
func (m *Model) Identity() (string, error) {
	data, err := m.Marshal()
	if err != nil {
		return "", fmt.Errorf("identity: %v", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Clone returns a deep copy of the Model
func (m *Model) Clone() (*Model, error) {
	data, err := m.Marshal()
	if err != nil {
		return nil, fmt.Errorf("clone: %v", err)
	}
	return Parse(data)
}

// Walk calls fn for every body in the tree rooted at the world body in
// depth-first pre-order, passing the body and the name of its parent.
// The world body itself is not visited. Walk stops at the first error.
func (m *Model) Walk(fn func(b *Body, parent string) error) error {
	var walk func(b *Body, parent string) error
	walk = func(b *Body, parent string) error {
		for i := range b.Bodies {
			child := &b.Bodies[i]
			if err := fn(child, parent); err != nil {
				return err
			}
			if err := walk(child, child.Name); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(&m.World, WorldBody)
}
