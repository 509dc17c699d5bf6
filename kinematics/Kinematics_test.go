package kinematics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/samuelfneumann/goloco/model"
)

const pendulum = `<mujoco model="pendulum">
  <worldbody>
    <body name="base" pos="0 0 1">
      <body name="arm" pos="0 0 0">
        <joint name="hinge" axis="0 1 0"/>
        <body name="tip" pos="1 0 0">
          <joint name="slide" type="slide" axis="1 0 0"/>
          <geom name="ball" type="sphere" size="0.1"/>
        </body>
      </body>
    </body>
  </worldbody>
</mujoco>`

func compile(t *testing.T, src string) *model.Tree {
	m, err := model.Parse([]byte(src))
	require.NoError(t, err)
	tree, err := m.Compile()
	require.NoError(t, err)
	return tree
}

func assertVec(t *testing.T, want, got r3.Vec) {
	t.Helper()
	assert.InDelta(t, want.X, got.X, 1e-9, "x")
	assert.InDelta(t, want.Y, got.Y, 1e-9, "y")
	assert.InDelta(t, want.Z, got.Z, 1e-9, "z")
}

func TestForwardHinge(t *testing.T) {
	tree := compile(t, pendulum)
	tip, _ := tree.BodyID("tip")

	// Rotating about +y by 90 degrees takes +x to -z
	frames := Forward(tree, []float64{math.Pi / 2, 0}, []float64{1, 0}, nil)
	assertVec(t, r3.Vec{X: 0, Y: 0, Z: 0}, frames[tip].Pos)

	// Linear velocity of the tip is w x r
	assertVec(t, r3.Vec{Y: 1}, frames[tip].AngVel)
	assertVec(t, r3.Cross(r3.Vec{Y: 1}, r3.Vec{Z: -1}), frames[tip].LinVel)
}

func TestForwardSlide(t *testing.T) {
	tree := compile(t, pendulum)
	tip, _ := tree.BodyID("tip")

	frames := Forward(tree, []float64{0, 0.5}, []float64{0, 2}, nil)
	assertVec(t, r3.Vec{X: 1.5, Z: 1}, frames[tip].Pos)
	assertVec(t, r3.Vec{X: 2}, frames[tip].LinVel)
}

const offsetChain = `<mujoco model="chain">
  <worldbody>
    <body name="upper" pos="0 0 1">
      <joint name="h1" axis="0 1 0"/>
      <body name="lower" pos="1 0 0">
        <joint name="h2" axis="0 1 0" pos="0.5 0 0"/>
        <body name="foot" pos="0.3 0 0.2">
          <joint name="s" type="slide" axis="1 0 0"/>
          <geom name="toe" type="sphere" size="0.05"/>
        </body>
      </body>
    </body>
  </worldbody>
</mujoco>`

func TestForwardMatchesFiniteDifference(t *testing.T) {
	tree := compile(t, offsetChain)
	qpos := []float64{0.3, 1.2, 0.4}
	qvel := []float64{1, 0.5, -0.7}

	const h = 1e-6
	at := func(sign float64) []Frame {
		q := make([]float64, len(qpos))
		for i := range q {
			q[i] = qpos[i] + sign*h*qvel[i]
		}
		return Forward(tree, q, nil, nil)
	}
	plus, minus := at(1), at(-1)
	frames := Forward(tree, qpos, qvel, nil)

	for i := 1; i < len(tree.Bodies); i++ {
		want := r3.Scale(1/(2*h), r3.Sub(plus[i].Pos, minus[i].Pos))
		got := frames[i].LinVel
		assert.InDelta(t, want.X, got.X, 1e-6, tree.Bodies[i].Name)
		assert.InDelta(t, want.Y, got.Y, 1e-6, tree.Bodies[i].Name)
		assert.InDelta(t, want.Z, got.Z, 1e-6, tree.Bodies[i].Name)
	}
}

func TestForwardIsDeterministicAndReusesBuffer(t *testing.T) {
	m, err := model.Load("UnitreeG1")
	require.NoError(t, err)
	tree, err := m.Compile()
	require.NoError(t, err)

	qvel := make([]float64, tree.NV)
	a := Forward(tree, tree.QPos0, qvel, nil)
	b := Forward(tree, tree.QPos0, qvel, make([]Frame, 0, len(tree.Bodies)))
	assert.Equal(t, a, b)

	// Standing on the default pose the feet touch the ground
	left, _ := tree.BodyID("left_ankle_roll_link")
	pelvis, _ := tree.BodyID("pelvis")
	assert.True(t, InContact(tree, a, left))
	assert.False(t, InContact(tree, a, pelvis))
}

func TestNormalize(t *testing.T) {
	q := Normalize(AxisAngle(r3.Vec{Z: 1}, 1))
	assert.InDelta(t, 1, q.Real*q.Real+q.Imag*q.Imag+q.Jmag*q.Jmag+
		q.Kmag*q.Kmag, 1e-12)
	assert.Equal(t, 1.0, Normalize(quat.Number{}).Real)
}
