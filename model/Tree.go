package model

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// WorldBody is the name of the implicit root body of every Model
const WorldBody = "world"

// Defaults used when a Model leaves a value unspecified
const (
	DefaultTimestep = 0.002
	DefaultArmature = 0.1
	DefaultGeomSize = 0.05
)

// JointType is the kind of a joint
type JointType int

const (
	Free JointType = iota
	Hinge
	Slide
)

func (j JointType) String() string {
	switch j {
	case Free:
		return "free"
	case Slide:
		return "slide"
	default:
		return "hinge"
	}
}

// TreeJoint is a compiled joint
type TreeJoint struct {
	Name      string
	Type      JointType
	Body      int
	Axis      r3.Vec
	Pos       r3.Vec
	QPosAdr   int
	DofAdr    int
	Limited   bool
	Range     [2]float64
	Damping   float64
	Stiffness float64
	Armature  float64
	Ref       float64
}

// NQ returns the number of generalized positions of the joint
func (j *TreeJoint) NQ() int {
	if j.Type == Free {
		return 7
	}
	return 1
}

// NV returns the number of generalized velocities of the joint
func (j *TreeJoint) NV() int {
	if j.Type == Free {
		return 6
	}
	return 1
}

// TreeBody is a compiled body. Bodies are stored in depth-first
// pre-order so that a body's parent always precedes it.
type TreeBody struct {
	Name   string
	Parent int
	Pos    r3.Vec
	Quat   quat.Number
	Mass   float64
	Joints []int
	Geoms  []int
}

// TreeGeom is a compiled geom
type TreeGeom struct {
	Name     string
	Body     int
	Type     string
	Size     []float64
	Pos      r3.Vec
	Contact  bool
	Friction float64
	SolRef   [2]float64
}

// Radius returns the extent of the geom along the world vertical when
// the geom is upright.
func (g *TreeGeom) Radius() float64 {
	switch g.Type {
	case "box":
		if len(g.Size) >= 3 {
			return g.Size[2]
		}
	case "plane":
		return 0
	}
	if len(g.Size) > 0 {
		return g.Size[0]
	}
	return DefaultGeomSize
}

// TreeActuator is a compiled actuator
type TreeActuator struct {
	Name      string
	Joint     int
	Gear      float64
	Limited   bool
	CtrlRange [2]float64
}

// Tree is the compiled, index-based view of a Model
type Tree struct {
	Name       string
	Timestep   float64
	Iterations int
	Gravity    r3.Vec

	Bodies    []TreeBody
	Joints    []TreeJoint
	Geoms     []TreeGeom
	Actuators []TreeActuator

	NQ, NV, NU int
	QPos0      []float64
	TotalMass  float64

	bodyIndex     map[string]int
	jointIndex    map[string]int
	actuatorIndex map[string]int
}

// BodyID returns the index of the named body
func (t *Tree) BodyID(name string) (int, bool) {
	i, ok := t.bodyIndex[name]
	return i, ok
}

// JointID returns the index of the named joint
func (t *Tree) JointID(name string) (int, bool) {
	i, ok := t.jointIndex[name]
	return i, ok
}

// ActuatorID returns the index of the named actuator
func (t *Tree) ActuatorID(name string) (int, bool) {
	i, ok := t.actuatorIndex[name]
	return i, ok
}

// Root returns the index of the free joint of the tree, or -1 if the
// robot is fixed to the world.
func (t *Tree) Root() int {
	for i := range t.Joints {
		if t.Joints[i].Type == Free {
			return i
		}
	}
	return -1
}

// Compile compiles the Model into a Tree
func (m *Model) Compile() (*Tree, error) {
	t := &Tree{
		Name:          m.Name,
		Timestep:      m.Option.Timestep,
		Iterations:    m.Option.Iterations,
		Gravity:       r3.Vec{Z: -9.81},
		bodyIndex:     map[string]int{WorldBody: 0},
		jointIndex:    make(map[string]int),
		actuatorIndex: make(map[string]int),
	}
	if t.Timestep <= 0 {
		t.Timestep = DefaultTimestep
	}
	if len(m.Option.Gravity) == 3 {
		t.Gravity = vec(m.Option.Gravity, r3.Vec{})
	}

	t.Bodies = append(t.Bodies, TreeBody{Name: WorldBody, Parent: -1,
		Quat: quat.Number{Real: 1}})
	if err := t.addGeoms(0, m.World.Geoms); err != nil {
		return nil, fmt.Errorf("compile: %v", err)
	}

	err := m.Walk(func(b *Body, parent string) error {
		if b.Name == "" {
			return fmt.Errorf("body with parent %q has no name", parent)
		}
		if _, ok := t.bodyIndex[b.Name]; ok {
			return fmt.Errorf("duplicate body %q", b.Name)
		}
		id := len(t.Bodies)
		body := TreeBody{
			Name:   b.Name,
			Parent: t.bodyIndex[parent],
			Pos:    vec(b.Pos, r3.Vec{}),
			Quat:   rotation(b.Quat),
		}
		if b.Inertial != nil {
			body.Mass = b.Inertial.Mass
		}
		t.bodyIndex[b.Name] = id
		t.Bodies = append(t.Bodies, body)
		t.TotalMass += body.Mass

		if b.FreeJoint != nil {
			if body.Parent != 0 {
				return fmt.Errorf("free joint %q must be on a child of the "+
					"world body", b.FreeJoint.Name)
			}
			if err := t.addJoint(id, TreeJoint{Name: b.FreeJoint.Name,
				Type: Free}); err != nil {
				return err
			}
		}
		for _, j := range b.Joints {
			tj := TreeJoint{
				Name:      j.Name,
				Type:      Hinge,
				Axis:      vec(j.Axis, r3.Vec{Z: 1}),
				Pos:       vec(j.Pos, r3.Vec{}),
				Damping:   j.Damping,
				Stiffness: j.Stiffness,
				Armature:  j.Armature,
				Ref:       j.Ref,
			}
			switch j.Type {
			case "", "hinge":
			case "slide":
				tj.Type = Slide
			default:
				return fmt.Errorf("joint %q: unsupported type %q", j.Name,
					j.Type)
			}
			if norm := r3.Norm(tj.Axis); norm > 0 {
				tj.Axis = r3.Scale(1/norm, tj.Axis)
			} else {
				return fmt.Errorf("joint %q: zero axis", j.Name)
			}
			if len(j.Range) == 2 && j.Range[0] < j.Range[1] {
				tj.Limited = true
				tj.Range = [2]float64{j.Range[0], j.Range[1]}
			}
			if tj.Armature <= 0 {
				tj.Armature = DefaultArmature
			}
			if err := t.addJoint(id, tj); err != nil {
				return err
			}
		}
		return t.addGeoms(id, b.Geoms)
	})
	if err != nil {
		return nil, fmt.Errorf("compile: %v", err)
	}

	for _, a := range m.Actuators {
		if _, ok := t.actuatorIndex[a.Name]; ok {
			return nil, fmt.Errorf("compile: duplicate actuator %q", a.Name)
		}
		j, ok := t.jointIndex[a.Joint]
		if !ok {
			return nil, fmt.Errorf("compile: actuator %q drives unknown "+
				"joint %q", a.Name, a.Joint)
		}
		if t.Joints[j].Type == Free {
			return nil, fmt.Errorf("compile: actuator %q cannot drive free "+
				"joint %q", a.Name, a.Joint)
		}
		ta := TreeActuator{Name: a.Name, Joint: j, Gear: a.Gear}
		if ta.Gear == 0 {
			ta.Gear = 1
		}
		if len(a.CtrlRange) == 2 && a.CtrlRange[0] < a.CtrlRange[1] {
			ta.Limited = true
			ta.CtrlRange = [2]float64{a.CtrlRange[0], a.CtrlRange[1]}
		}
		t.actuatorIndex[a.Name] = len(t.Actuators)
		t.Actuators = append(t.Actuators, ta)
	}
	t.NU = len(t.Actuators)

	t.QPos0 = make([]float64, t.NQ)
	for _, j := range t.Joints {
		switch j.Type {
		case Free:
			b := t.Bodies[j.Body]
			t.QPos0[j.QPosAdr+0] = b.Pos.X
			t.QPos0[j.QPosAdr+1] = b.Pos.Y
			t.QPos0[j.QPosAdr+2] = b.Pos.Z
			t.QPos0[j.QPosAdr+3] = b.Quat.Real
			t.QPos0[j.QPosAdr+4] = b.Quat.Imag
			t.QPos0[j.QPosAdr+5] = b.Quat.Jmag
			t.QPos0[j.QPosAdr+6] = b.Quat.Kmag
		default:
			t.QPos0[j.QPosAdr] = j.Ref
		}
	}

	return t, nil
}

func (t *Tree) addJoint(body int, j TreeJoint) error {
	if j.Name == "" {
		return fmt.Errorf("joint on body %q has no name", t.Bodies[body].Name)
	}
	if _, ok := t.jointIndex[j.Name]; ok {
		return fmt.Errorf("duplicate joint %q", j.Name)
	}
	j.Body = body
	j.QPosAdr = t.NQ
	j.DofAdr = t.NV
	t.NQ += j.NQ()
	t.NV += j.NV()
	t.jointIndex[j.Name] = len(t.Joints)
	t.Bodies[body].Joints = append(t.Bodies[body].Joints, len(t.Joints))
	t.Joints = append(t.Joints, j)
	return nil
}

func (t *Tree) addGeoms(body int, geoms []Geom) error {
	for i := range geoms {
		g := &geoms[i]
		tg := TreeGeom{
			Name:     g.Name,
			Body:     body,
			Type:     g.Type,
			Size:     append([]float64(nil), g.Size...),
			Pos:      vec(g.Pos, r3.Vec{}),
			Contact:  g.Collides(),
			Friction: g.Friction.At(0, 1),
			SolRef:   [2]float64{g.SolRef.At(0, 0.02), g.SolRef.At(1, 1)},
		}
		if tg.Type == "" {
			tg.Type = "sphere"
		}
		if tg.Type == "mesh" && g.Mesh == "" {
			return fmt.Errorf("mesh geom on body %q has no mesh",
				t.Bodies[body].Name)
		}
		t.Bodies[body].Geoms = append(t.Bodies[body].Geoms, len(t.Geoms))
		t.Geoms = append(t.Geoms, tg)
	}
	return nil
}

func vec(f Floats, def r3.Vec) r3.Vec {
	if len(f) != 3 {
		return def
	}
	return r3.Vec{X: f[0], Y: f[1], Z: f[2]}
}

func rotation(f Floats) quat.Number {
	if len(f) != 4 {
		return quat.Number{Real: 1}
	}
	q := quat.Number{Real: f[0], Imag: f[1], Jmag: f[2], Kmag: f[3]}
	n := quat.Abs(q)
	if n == 0 || math.IsNaN(n) {
		return quat.Number{Real: 1}
	}
	return quat.Scale(1/n, q)
}
