// Package transform rewrites robot models for batched execution.
//
// The batched engine steps thousands of instances per call, so models
// are simplified before compilation: collision meshes become convex
// primitives, contacts are restricted to a few bodies, visual geoms and
// decorative bodies are removed and contact parameters relaxed. What is
// simplified is robot specific and is looked up in a Table.
//
// Apply never renames or removes an entity named by a layout. The
// rewrite is deterministic: the same model and Rules always produce a
// byte-identical model, which lets Compile share compiled models
// between environments of the same robot.
package transform

import (
	"errors"
	"fmt"
	"slices"

	"github.com/samuelfneumann/goloco/layout"
	"github.com/samuelfneumann/goloco/model"
)

// ErrIncompatibleModel is matched by every IncompatibleModelError
var ErrIncompatibleModel = errors.New("incompatible model")

// IncompatibleModelError is returned when a transform would remove or
// rename an entity which a layout refers to
type IncompatibleModelError struct {
	Entity string
	Reason string
}

func (e *IncompatibleModelError) Error() string {
	return fmt.Sprintf("transform would break entity %q: %v", e.Entity,
		e.Reason)
}

func (e *IncompatibleModelError) Is(target error) bool {
	return target == ErrIncompatibleModel
}

// Apply returns a simplified copy of m. The model m is not modified.
// Entities listed in required must survive under their own name, or
// Apply fails with an IncompatibleModelError.
func Apply(m *model.Model, r Rules, required layout.Names) (*model.Model,
	error) {
	if err := r.validate(); err != nil {
		return nil, fmt.Errorf("apply: %v", err)
	}
	out, err := m.Clone()
	if err != nil {
		return nil, fmt.Errorf("apply: %v", err)
	}

	need := make(map[string]bool)
	for _, names := range [][]string{required.Joints, required.Bodies,
		required.Actuators} {
		for _, n := range names {
			need[n] = true
		}
	}

	if err := dropBodies(out, r.DropBodies, need); err != nil {
		return nil, fmt.Errorf("apply: %w", err)
	}
	if err := rename(out, r.Rename, need); err != nil {
		return nil, fmt.Errorf("apply: %w", err)
	}
	simplifyGeoms(out, r)
	if r.Iterations > 0 {
		out.Option.Iterations = r.Iterations
	}
	pruneMeshes(out)

	tree, err := out.Compile()
	if err != nil {
		return nil, fmt.Errorf("apply: transformed model does not compile: %v",
			err)
	}
	for _, j := range required.Joints {
		if _, ok := tree.JointID(j); !ok {
			return nil, fmt.Errorf("apply: %w", &IncompatibleModelError{
				Entity: j, Reason: "joint is missing from the transformed model"})
		}
	}
	for _, b := range required.Bodies {
		if _, ok := tree.BodyID(b); !ok {
			return nil, fmt.Errorf("apply: %w", &IncompatibleModelError{
				Entity: b, Reason: "body is missing from the transformed model"})
		}
	}
	for _, a := range required.Actuators {
		if _, ok := tree.ActuatorID(a); !ok {
			return nil, fmt.Errorf("apply: %w", &IncompatibleModelError{
				Entity: a,
				Reason: "actuator is missing from the transformed model"})
		}
	}
	return out, nil
}

// dropBodies merges the named jointless leaf bodies into their parents
func dropBodies(m *model.Model, drop []string, need map[string]bool) error {
	for _, name := range drop {
		if need[name] {
			return &IncompatibleModelError{Entity: name,
				Reason: "body would be dropped"}
		}
	}

	found := make(map[string]bool, len(drop))
	var prune func(parent *model.Body) error
	prune = func(parent *model.Body) error {
		kept := parent.Bodies[:0]
		for _, child := range parent.Bodies {
			if !slices.Contains(drop, child.Name) {
				if err := prune(&child); err != nil {
					return err
				}
				kept = append(kept, child)
				continue
			}
			if len(child.Bodies) > 0 || len(child.Joints) > 0 ||
				child.FreeJoint != nil {
				return fmt.Errorf("cannot drop body %q: only jointless leaf "+
					"bodies can be dropped", child.Name)
			}
			found[child.Name] = true
			if child.Inertial != nil && child.Inertial.Mass > 0 {
				if parent.Inertial == nil {
					parent.Inertial = &model.Inertial{}
				}
				parent.Inertial.Mass += child.Inertial.Mass
			}
		}
		parent.Bodies = kept
		return nil
	}
	if err := prune(&m.World); err != nil {
		return err
	}

	for _, name := range drop {
		if !found[name] {
			return fmt.Errorf("cannot drop body %q: no such body", name)
		}
	}
	return nil
}

// rename renames bodies, joints and actuators
func rename(m *model.Model, names map[string]string, need map[string]bool) error {
	if len(names) == 0 {
		return nil
	}
	old := make([]string, 0, len(names))
	for o := range names {
		old = append(old, o)
	}
	slices.Sort(old)
	for _, o := range old {
		if need[o] {
			return &IncompatibleModelError{Entity: o,
				Reason: fmt.Sprintf("entity would be renamed to %q", names[o])}
		}
	}

	to := func(s string) string {
		if n, ok := names[s]; ok {
			return n
		}
		return s
	}
	err := m.Walk(func(b *model.Body, _ string) error {
		b.Name = to(b.Name)
		if b.FreeJoint != nil {
			b.FreeJoint.Name = to(b.FreeJoint.Name)
		}
		for i := range b.Joints {
			b.Joints[i].Name = to(b.Joints[i].Name)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for i := range m.Actuators {
		m.Actuators[i].Name = to(m.Actuators[i].Name)
		m.Actuators[i].Joint = to(m.Actuators[i].Joint)
	}
	return nil
}

// simplifyGeoms rewrites the geoms of every body according to r
func simplifyGeoms(m *model.Model, r Rules) {
	contact := func(body string) bool {
		return len(r.ContactBodies) == 0 || slices.Contains(r.ContactBodies,
			body)
	}

	// The world body holds the ground plane, which is never simplified
	m.Walk(func(b *model.Body, _ string) error {
		kept := b.Geoms[:0]
		for _, g := range b.Geoms {
			if !g.Collides() {
				if !r.DropVisualGeoms {
					kept = append(kept, g)
				}
				continue
			}
			if !contact(b.Name) {
				if r.DropVisualGeoms {
					continue
				}
				g.DisableContacts()
				kept = append(kept, g)
				continue
			}
			if g.Type == "mesh" && r.MeshPrimitive != "" {
				g.Type = r.MeshPrimitive
				g.Mesh = ""
				g.Size = primitiveSize(r.MeshPrimitive, g.Size)
			}
			if len(r.SolRef) == 2 {
				g.SolRef = model.Floats{r.SolRef[0], r.SolRef[1]}
			}
			kept = append(kept, g)
		}
		b.Geoms = kept
		return nil
	})
}

// primitiveSize returns the size of a primitive replacing a mesh with
// the size hint hint
func primitiveSize(primitive string, hint model.Floats) model.Floats {
	r := hint.At(0, model.DefaultGeomSize)
	switch primitive {
	case "capsule":
		return model.Floats{r, r}
	case "box":
		return model.Floats{r, r, r}
	}
	return model.Floats{r}
}

// pruneMeshes removes mesh assets no geom refers to
func pruneMeshes(m *model.Model) {
	used := make(map[string]bool)
	for _, g := range m.World.Geoms {
		used[g.Mesh] = true
	}
	m.Walk(func(b *model.Body, _ string) error {
		for _, g := range b.Geoms {
			used[g.Mesh] = true
		}
		return nil
	})
	m.Meshes = slices.DeleteFunc(m.Meshes, func(mesh model.Mesh) bool {
		return !used[mesh.Name]
	})
}
