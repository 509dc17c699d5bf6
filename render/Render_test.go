package render

import (
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samuelfneumann/goloco/engine"
	"github.com/samuelfneumann/goloco/layout"
	"github.com/samuelfneumann/goloco/model"
	"github.com/samuelfneumann/goloco/physics"
	"github.com/samuelfneumann/goloco/trajectory"
)

func compiled(t *testing.T) *physics.Compiled {
	m, err := model.Load("UnitreeH1")
	require.NoError(t, err)
	c, err := physics.Compile(m)
	require.NoError(t, err)
	return c
}

// painted counts the pixels differing from the background colour
func painted(r *Renderer, img image.Image) int {
	br, bg, bb, _ := r.Background.RGBA()
	n := 0
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			cr, cg, cb, _ := img.At(x, y).RGBA()
			if cr != br || cg != bg || cb != bb {
				n++
			}
		}
	}
	return n
}

func TestRenderState(t *testing.T) {
	c := compiled(t)
	actuators := make([]string, len(c.Tree.Actuators))
	for i, a := range c.Tree.Actuators {
		actuators[i] = a.Name
	}
	l, err := layout.NewBuilder().
		Observe(layout.Observe(layout.JointPos, "root")).
		Act(layout.Act(actuators...)...).
		Build(c.Tree)
	require.NoError(t, err)
	e, err := engine.NewScalar(c, engine.Config{Layout: l,
		Starter: engine.NewUniformStarter(c.Tree, 0, 0)})
	require.NoError(t, err)

	r := New(c.Tree)
	_, err = r.State(engine.State{}, 0)
	require.ErrorIs(t, err, engine.ErrNotReset)

	st, err := e.Reset(0)
	require.NoError(t, err)
	_, err = r.State(st, 1)
	assert.Error(t, err)

	img, err := r.State(st, 0)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, r.Width, r.Height), img.Bounds())
	side := painted(r, img)
	assert.Greater(t, side, r.Width)

	r.View = Front
	img, err = r.State(st, 0)
	require.NoError(t, err)
	assert.Greater(t, painted(r, img), r.Width)
}

func TestRenderTrajectory(t *testing.T) {
	c := compiled(t)
	id := trajectory.ID{Robot: "UnitreeH1", Name: "default/walk"}
	traj, err := trajectory.Synthesize(c.Tree, id, 12, 50)
	require.NoError(t, err)
	ref, err := trajectory.Expand(traj, c.Tree, c.Identity)
	require.NoError(t, err)

	r := New(c.Tree)
	_, err = r.Frame(ref, ref.Frames())
	assert.Error(t, err)
	img, err := r.Frame(ref, 0)
	require.NoError(t, err)
	assert.Greater(t, painted(r, img), r.Width)

	dir := t.TempDir()
	files, err := r.Trajectory(ref, 4, FrameFiles(dir))
	require.NoError(t, err)
	require.Equal(t, []string{
		filepath.Join(dir, "frame0000.png"),
		filepath.Join(dir, "frame0001.png"),
		filepath.Join(dir, "frame0002.png"),
		filepath.Join(dir, "frame0003.png"),
	}, files)
	for _, f := range files {
		info, err := os.Stat(f)
		require.NoError(t, err)
		assert.Greater(t, info.Size(), int64(0))
	}

	files, err = r.Trajectory(ref, 0, FilenameEnumerator(10,
		filepath.Join(dir, "all"), ".png"))
	require.NoError(t, err)
	assert.Len(t, files, ref.Frames())
	assert.Equal(t, filepath.Join(dir, "all0010.png"), files[0])
}

func TestRenderRejectsOtherModel(t *testing.T) {
	c := compiled(t)
	g1, err := model.Load("UnitreeG1")
	require.NoError(t, err)
	tree, err := g1.Compile()
	require.NoError(t, err)

	id := trajectory.ID{Robot: "UnitreeH1", Name: "default/walk"}
	traj, err := trajectory.Synthesize(c.Tree, id, 4, 50)
	require.NoError(t, err)
	ref, err := trajectory.Expand(traj, c.Tree, c.Identity)
	require.NoError(t, err)

	_, err = New(tree).Frame(ref, 0)
	assert.Error(t, err)
}
