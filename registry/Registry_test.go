package registry

import (
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/goloco/engine"
	"github.com/samuelfneumann/goloco/environment/envconfig"
	"github.com/samuelfneumann/goloco/internal/ctxlog"
	"github.com/samuelfneumann/goloco/layout"
	"github.com/samuelfneumann/goloco/trajectory"
	"github.com/samuelfneumann/goloco/transform"
)

func builtins(t *testing.T) *Registry {
	c, err := trajectory.NewCache("", trajectory.SynthSource{Frames: 30},
		trajectory.WithLogger(ctxlog.Discard()))
	require.NoError(t, err)
	r := New(WithCache(c), WithLogger(ctxlog.Discard()),
		WithCompiler(transform.NewCompiler()))
	require.NoError(t, RegisterBuiltins(r))
	return r
}

func fast() envconfig.Config {
	cfg := envconfig.Default()
	cfg.Substeps = 2
	return cfg
}

func TestMakeEveryBuiltin(t *testing.T) {
	r := builtins(t)
	names := slices.Collect(r.Names())
	require.Equal(t, []string{"UnitreeG1", "UnitreeG1-Imitation",
		"UnitreeH1", "UnitreeH1-Imitation"}, names)

	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			env, err := r.Make(name, fast())
			require.NoError(t, err)
			assert.Greater(t, env.ActionDim(), 0)
			assert.Greater(t, env.ObservationDim(), 0)

			b, err := env.Reset(1)
			require.NoError(t, err)
			assert.Equal(t, 1, b.Len())
			b, err = env.Step(mat.NewDense(1, env.ActionDim(), nil))
			require.NoError(t, err)
			assert.Len(t, b.Rewards, 1)
		})
	}
}

func TestMakeScalarActionDimension(t *testing.T) {
	r := builtins(t)
	g1, err := r.Make("UnitreeG1", envconfig.Config{Backend: "scalar"})
	require.NoError(t, err)
	assert.Equal(t, 23, g1.ActionDim())

	h1, err := r.Make("UnitreeH1", envconfig.Config{})
	require.NoError(t, err)
	assert.Equal(t, 19, h1.ActionDim())
}

func TestMakeBatched(t *testing.T) {
	r := builtins(t)
	cfg := fast()
	cfg.Backend = "batched"
	cfg.BatchSize = 4
	env, err := r.Make("UnitreeG1", cfg)
	require.NoError(t, err)

	_, err = env.Reset(0)
	require.NoError(t, err)
	actions := mat.NewDense(4, env.ActionDim(), nil)
	for i := 0; i < 10; i++ {
		b, err := env.Step(actions)
		require.NoError(t, err)
		rows, cols := b.Observations.Dims()
		require.Equal(t, 4, rows)
		require.Equal(t, env.ObservationDim(), cols)
	}

	// Wrong action length
	before := env.State().Clone()
	_, err = env.Step(mat.NewDense(4, env.ActionDim()+1, nil))
	require.ErrorIs(t, err, engine.ErrActionShape)
	assert.True(t, mat.Equal(before.QPos, env.State().QPos))
	assert.Equal(t, before.Steps, env.State().Steps)
}

func TestMakeMergesConfig(t *testing.T) {
	r := builtins(t)
	cfg := fast()
	cfg.Observations = []envconfig.Observation{{Kind: "joint_pos",
		Target: "left_knee_joint"}}
	cfg.ActionChannels = []string{"left_knee_joint", "right_knee_joint"}
	env, err := r.Make("UnitreeG1", cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, env.ObservationDim())
	assert.Equal(t, 2, env.ActionDim())

	cfg = fast()
	cfg.Trajectories = []string{"lafan1/dance2_subject4"}
	env, err = r.Make("UnitreeH1-Imitation", cfg)
	require.NoError(t, err)
	require.Len(t, env.References(), 1)
	assert.Equal(t, "lafan1/dance2_subject4", env.References()[0].ID.Name)
}

func TestMakeErrors(t *testing.T) {
	r := builtins(t)
	_, err := r.Make("UnitreeG2", fast())
	require.ErrorIs(t, err, ErrUnknownEnvironment)
	var unknown *UnknownEnvironmentError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "UnitreeG2", unknown.Name)

	cfg := fast()
	cfg.ActionChannels = []string{"tail_joint"}
	_, err = r.Make("UnitreeG1", cfg)
	require.ErrorIs(t, err, layout.ErrSpecResolution)
	assert.Equal(t, 4, r.Len())

	cfg = fast()
	cfg.Backend = "gpu"
	_, err = r.Make("UnitreeG1", cfg)
	assert.Error(t, err)

	cfg = fast()
	cfg.Trajectories = []string{"moonwalk"}
	_, err = r.Make("UnitreeG1-Imitation", cfg)
	require.ErrorIs(t, err, trajectory.ErrDatasetNotFound)

	noCache := New(WithLogger(ctxlog.Discard()))
	require.NoError(t, RegisterBuiltins(noCache))
	_, err = noCache.Make("UnitreeG1-Imitation", fast())
	require.ErrorIs(t, err, ErrNoTrajectorySource)
}

func TestRegister(t *testing.T) {
	r := New()
	d := Descriptor{
		Robot:  "UnitreeG1",
		Recipe: LiveReward,
		Fields: []layout.ObservationField{layout.Observe(layout.JointPos, "root")},
	}
	require.NoError(t, r.Register("walker", d))

	// Identical re-registration is allowed
	same := d
	same.Fields = []layout.ObservationField{layout.Observe(layout.JointPos, "root")}
	require.NoError(t, r.Register("walker", same))
	assert.Equal(t, 1, r.Len())

	other := d
	other.Cutoff = 10
	err := r.Register("walker", other)
	require.ErrorIs(t, err, ErrDuplicateName)
	got, ok := r.Lookup("walker")
	require.True(t, ok)
	assert.Equal(t, 0, got.Cutoff)

	// The registry keeps its own copy
	d.Fields[0].Target = "pelvis"
	got, _ = r.Lookup("walker")
	assert.Equal(t, "root", got.Fields[0].Target)

	invalid := []Descriptor{
		{Recipe: LiveReward, Fields: d.Fields},
		{Robot: "UnitreeG1", Recipe: "planning", Fields: d.Fields},
		{Robot: "UnitreeG1", Recipe: LiveReward},
		{Robot: "UnitreeG1", Recipe: ReferenceTracking, Fields: d.Fields},
		{Robot: "UnitreeG1", Recipe: LiveReward, Fields: d.Fields,
			Channels: []layout.ActionChannel{}},
		{Robot: "UnitreeG1", Recipe: LiveReward, Fields: d.Fields, Cutoff: -1},
	}
	for i, d := range invalid {
		assert.Error(t, r.Register("invalid", d), "descriptor %d", i)
	}
	assert.Error(t, r.Register("", d))
	_, ok = r.Lookup("invalid")
	assert.False(t, ok)
}

func TestMakeSeals(t *testing.T) {
	r := builtins(t)
	assert.False(t, r.Sealed())
	_, err := r.Make("UnitreeG1", fast())
	require.NoError(t, err)
	assert.True(t, r.Sealed())

	d, ok := r.Lookup("UnitreeG1")
	require.True(t, ok)
	err = r.Register("UnitreeG1-Copy", d)
	require.ErrorIs(t, err, ErrSealed)
}

func TestNamesIsRestartable(t *testing.T) {
	r := builtins(t)
	names := r.Names()

	first := slices.Collect(names)
	second := slices.Collect(names)
	assert.Equal(t, first, second)

	var partial []string
	for name := range names {
		partial = append(partial, name)
		if len(partial) == 2 {
			break
		}
	}
	assert.Equal(t, first[:2], partial)
}

func TestConcurrentMake(t *testing.T) {
	r := builtins(t)
	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = r.Make("UnitreeH1-Imitation", fast())
		}()
	}
	wg.Wait()
	for _, err := range errs {
		assert.NoError(t, err)
	}
}

func TestParseRecipe(t *testing.T) {
	r, err := ParseRecipe("imitation")
	require.NoError(t, err)
	assert.Equal(t, ReferenceTracking, r)
	_, err = ParseRecipe("Imitation")
	assert.Error(t, err)
}

func TestCacheFromEnv(t *testing.T) {
	t.Setenv(EnvRemoteURL, "")
	t.Setenv(EnvDataDir, "")
	_, err := CacheFromEnv(ctxlog.Discard())
	require.ErrorIs(t, err, ErrNoTrajectorySource)

	dir := t.TempDir()
	t.Setenv(EnvCacheDir, dir)
	t.Setenv(EnvDataDir, t.TempDir())
	c, err := CacheFromEnv(ctxlog.Discard())
	require.NoError(t, err)
	assert.Equal(t, dir, c.Dir())
}
