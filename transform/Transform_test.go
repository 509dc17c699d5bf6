package transform

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samuelfneumann/goloco/layout"
	"github.com/samuelfneumann/goloco/model"
)

func load(t *testing.T, robot string) *model.Model {
	m, err := model.Load(robot)
	require.NoError(t, err)
	return m
}

func TestDefaultTableCoversEmbeddedRobots(t *testing.T) {
	table := DefaultTable()
	for _, robot := range model.Robots() {
		r, ok := table.Rules(robot)
		assert.True(t, ok, robot)
		assert.Equal(t, robot, r.Robot)
	}

	r, ok := table.Rules("Unknown")
	assert.False(t, ok)
	assert.Equal(t, Rules{Robot: "Unknown"}, r)
}

func TestApplySimplifiesModel(t *testing.T) {
	m := load(t, "UnitreeG1")
	r, _ := DefaultTable().Rules("UnitreeG1")

	out, err := Apply(m, r, layout.Names{})
	require.NoError(t, err)

	orig, err := m.Compile()
	require.NoError(t, err)
	tree, err := out.Compile()
	require.NoError(t, err)

	// Joint space and actuators are kept
	assert.Equal(t, orig.NQ, tree.NQ)
	assert.Equal(t, orig.NV, tree.NV)
	assert.Equal(t, orig.NU, tree.NU)
	assert.InDelta(t, orig.TotalMass, tree.TotalMass, 1e-9)
	assert.Equal(t, 4, r.Iterations)
	assert.Equal(t, 4, tree.Iterations)

	_, ok := tree.BodyID("head_link")
	assert.False(t, ok)

	for _, g := range tree.Geoms {
		assert.NotEqual(t, "mesh", g.Type)
		if g.Contact && g.Type != "plane" {
			body := tree.Bodies[g.Body].Name
			assert.Contains(t, r.ContactBodies, body)
			assert.Equal(t, [2]float64{0.02, 1}, g.SolRef)
		}
	}
	assert.Empty(t, out.Meshes)

	// The input is untouched
	again, err := model.Load("UnitreeG1")
	require.NoError(t, err)
	assert.Equal(t, again, m)
}

func TestApplyIsDeterministic(t *testing.T) {
	r, _ := DefaultTable().Rules("UnitreeH1")
	a, err := Apply(load(t, "UnitreeH1"), r, layout.Names{})
	require.NoError(t, err)
	b, err := Apply(load(t, "UnitreeH1"), r, layout.Names{})
	require.NoError(t, err)

	da, err := a.Marshal()
	require.NoError(t, err)
	db, err := b.Marshal()
	require.NoError(t, err)
	assert.True(t, bytes.Equal(da, db))
}

func TestApplyRefusesToBreakRequiredEntities(t *testing.T) {
	m := load(t, "UnitreeG1")
	r, _ := DefaultTable().Rules("UnitreeG1")

	_, err := Apply(m, r, layout.Names{Bodies: []string{"head_link"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIncompatibleModel))
	var ime *IncompatibleModelError
	require.True(t, errors.As(err, &ime))
	assert.Equal(t, "head_link", ime.Entity)

	renaming := Rules{Rename: map[string]string{"left_knee_joint": "lk"}}
	_, err = Apply(m, renaming,
		layout.Names{Joints: []string{"left_knee_joint"}})
	assert.True(t, errors.Is(err, ErrIncompatibleModel))

	// Renaming an unreferenced entity is allowed and follows actuators
	out, err := Apply(m, renaming, layout.Names{Joints: []string{"root"}})
	require.NoError(t, err)
	tree, err := out.Compile()
	require.NoError(t, err)
	_, ok := tree.JointID("lk")
	assert.True(t, ok)
}

func TestApplyRejectsInvalidDrops(t *testing.T) {
	m := load(t, "UnitreeG1")
	_, err := Apply(m, Rules{DropBodies: []string{"left_knee_link"}},
		layout.Names{})
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrIncompatibleModel))

	_, err = Apply(m, Rules{DropBodies: []string{"tail"}}, layout.Names{})
	assert.Error(t, err)
}

func TestParseTable(t *testing.T) {
	src := []byte(`
robot "a" {
  mesh_primitive = "box"
  rename = { old = "new" }
}
`)
	table, err := ParseTable(src, "test.hcl")
	require.NoError(t, err)
	r, ok := table.Rules("a")
	require.True(t, ok)
	assert.Equal(t, "box", r.MeshPrimitive)
	assert.Equal(t, map[string]string{"old": "new"}, r.Rename)

	_, err = ParseTable([]byte(`robot "a" { mesh_primitive = "torus" }`),
		"bad.hcl")
	assert.Error(t, err)
	_, err = ParseTable([]byte(`robot "a" {}
robot "a" {}`), "dup.hcl")
	assert.Error(t, err)
}

func TestCompilerSharesCompiledModels(t *testing.T) {
	r, _ := DefaultTable().Rules("UnitreeG1")
	c := NewCompiler()

	var wg sync.WaitGroup
	results := make([]any, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, err := model.Load("UnitreeG1")
			if !assert.NoError(t, err) {
				return
			}
			out, err := Apply(m, r, layout.Names{})
			if !assert.NoError(t, err) {
				return
			}
			compiled, err := c.Compile(out)
			assert.NoError(t, err)
			results[i] = compiled
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), c.Compiles())
	for _, res := range results {
		assert.Same(t, results[0], res)
	}
}
