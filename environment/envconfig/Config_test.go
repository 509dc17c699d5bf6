package envconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samuelfneumann/goloco/engine"
	"github.com/samuelfneumann/goloco/layout"
)

const batched = `
backend        = "batched"
batch_size     = env.LOCO_TEST_BATCH
n_substeps     = 10
episode_cutoff = 500

observation "joint_pos" "root" {}
observation "body_pos" "pelvis" {
  component = 2
}

action_channels      = ["left_knee_joint", "right_knee_joint"]
trajectory_selection = ["walk", "lafan1/dance2_subject4"]

task {
  alive_bonus    = 1
  forward_weight = 1.25
  min_height     = 0.3
}
`

func TestParse(t *testing.T) {
	t.Setenv("LOCO_TEST_BATCH", "8")

	c, err := Parse([]byte(batched), "batched.hcl")
	require.NoError(t, err)

	backend, err := c.EngineBackend()
	require.NoError(t, err)
	assert.Equal(t, engine.BackendBatched, backend)
	assert.Equal(t, 8, c.BatchSize)
	assert.Equal(t, 8, c.Batch())
	assert.Equal(t, 10, c.Substeps)
	assert.Equal(t, 500, c.EpisodeCutoff)
	assert.Equal(t, []string{"walk", "lafan1/dance2_subject4"}, c.Trajectories)

	fields, err := c.Fields()
	require.NoError(t, err)
	assert.Equal(t, []layout.ObservationField{
		layout.Observe(layout.JointPos, "root"),
		layout.Observe(layout.BodyPos, "pelvis").At(2),
	}, fields)
	assert.Equal(t, layout.Act("left_knee_joint", "right_knee_joint"),
		c.Channels())

	require.NotNil(t, c.Task)
	assert.Equal(t, 1.0, *c.Task.AliveBonus)
	assert.Equal(t, 1.25, *c.Task.ForwardWeight)
	assert.Equal(t, 0.3, *c.Task.MinHeight)
	assert.Nil(t, c.Task.CtrlCost)
	assert.Nil(t, c.Task.ResetNoise)
}

func TestTaskOverridesSetAttributes(t *testing.T) {
	c, err := Parse([]byte("task {\n ctrl_cost = 0\n}"), "task.hcl")
	require.NoError(t, err)
	require.NotNil(t, c.Task)

	ctrl, bonus := 0.5, 2.0
	Override(&ctrl, c.Task.CtrlCost)
	Override(&bonus, c.Task.AliveBonus)
	assert.Zero(t, ctrl)
	assert.Equal(t, 2.0, bonus)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "env.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`n_substeps = 5`), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, c.Substeps)
	assert.Equal(t, 1, c.Batch())
	assert.Nil(t, c.Task)
	fields, err := c.Fields()
	require.NoError(t, err)
	assert.Nil(t, fields)
	assert.Nil(t, c.Channels())

	_, err = Load(filepath.Join(t.TempDir(), "missing.hcl"))
	assert.Error(t, err)
}

func TestDefault(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	backend, err := c.EngineBackend()
	require.NoError(t, err)
	assert.Equal(t, engine.BackendScalar, backend)
}

func TestInvalid(t *testing.T) {
	tests := map[string]string{
		"Syntax":         `backend = `,
		"UnknownBackend": `backend = "gpu"`,
		"ScalarBatch":    `batch_size = 4`,
		"NegativeBatch":  "backend = \"batched\"\nbatch_size = -1",
		"NegativeSteps":  `n_substeps = -1`,
		"NegativeCutoff": `episode_cutoff = -3`,
		"UnknownKind":    `observation "joint_torque" "root" {}`,
		"NegativeComp":   "observation \"joint_pos\" \"root\" {\n component = -2\n}",
		"UnknownAttr":    `substeps = 3`,
		"NegativeNoise":  "task {\n reset_noise = -1\n}",
		"MissingEnvVar":  `batch_size = env.LOCO_TEST_UNSET_VARIABLE`,
		"WrongAttrType":  `action_channels = "left_knee_joint"`,
	}
	for name, src := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(src), name+".hcl")
			assert.Error(t, err)
		})
	}
}
