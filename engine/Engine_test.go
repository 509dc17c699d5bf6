package engine

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/goloco/layout"
	"github.com/samuelfneumann/goloco/model"
	"github.com/samuelfneumann/goloco/physics"
)

func setup(t testing.TB) (*physics.Compiled, Config) {
	m, err := model.Load("UnitreeG1")
	require.NoError(t, err)
	c, err := physics.Compile(m)
	require.NoError(t, err)

	names := make([]string, len(c.Tree.Actuators))
	for i, a := range c.Tree.Actuators {
		names[i] = a.Name
	}
	l, err := layout.NewBuilder().
		Observe(layout.Observe(layout.JointPos, "root")).
		Act(layout.Act(names...)...).
		Build(c.Tree)
	require.NoError(t, err)

	return c, Config{
		Layout:   l,
		Starter:  NewUniformStarter(c.Tree, 0.02, 0.02),
		Substeps: 4,
	}
}

func randomActions(rng *rand.Rand, rows, cols int) *mat.Dense {
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = 2*rng.Float64() - 1
	}
	return mat.NewDense(rows, cols, data)
}

func TestScalarMatchesBatched(t *testing.T) {
	c, cfg := setup(t)
	scalar, err := NewScalar(c, cfg)
	require.NoError(t, err)
	batched, err := NewBatched(c, BatchedConfig{Config: cfg, BatchSize: 1})
	require.NoError(t, err)

	ss, err := scalar.Reset(7)
	require.NoError(t, err)
	bs, err := batched.Reset(7)
	require.NoError(t, err)
	require.True(t, mat.Equal(ss.QPos, bs.QPos))
	require.True(t, mat.Equal(ss.QVel, bs.QVel))

	rng := rand.New(rand.NewSource(1))
	for step := 0; step < 25; step++ {
		a := randomActions(rng, 1, cfg.Layout.ActionDim())
		ss, _, err = scalar.Step(ss, a)
		require.NoError(t, err)
		bs, _, err = batched.Step(bs, a)
		require.NoError(t, err)

		assert.True(t, mat.EqualApprox(ss.QPos, bs.QPos, 1e-9), "step %d", step)
		assert.True(t, mat.EqualApprox(ss.QVel, bs.QVel, 1e-9), "step %d", step)
		assert.InDelta(t, ss.Time[0], bs.Time[0], 1e-12)
	}
}

func TestBatchedStepShapes(t *testing.T) {
	c, cfg := setup(t)
	b, err := NewBatched(c, BatchedConfig{Config: cfg, BatchSize: 4,
		Workers: 3})
	require.NoError(t, err)

	s, err := b.Reset(0)
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(2))
	for step := 0; step < 10; step++ {
		var tr Transition
		s, tr, err = b.Step(s, randomActions(rng, 4, cfg.Layout.ActionDim()))
		require.NoError(t, err)

		r, cols := s.QPos.Dims()
		assert.Equal(t, 4, r)
		assert.Equal(t, c.Tree.NQ, cols)
		assert.Len(t, tr.Rewards, 4)
		assert.Equal(t, []int{step + 1, step + 1, step + 1, step + 1},
			s.Steps)
	}
}

func TestBatchedStepIsPure(t *testing.T) {
	c, cfg := setup(t)
	b, err := NewBatched(c, BatchedConfig{Config: cfg, BatchSize: 3})
	require.NoError(t, err)

	s, err := b.Reset(11)
	require.NoError(t, err)
	before := s.Clone()
	a := randomActions(rand.New(rand.NewSource(3)), 3,
		cfg.Layout.ActionDim())

	first, _, err := b.Step(s, a)
	require.NoError(t, err)
	second, _, err := b.Step(s, a)
	require.NoError(t, err)

	assert.Equal(t, before, s)
	assert.Equal(t, first, second)
}

func TestBatchedStepRejectsMalformedState(t *testing.T) {
	c, cfg := setup(t)
	b, err := NewBatched(c, BatchedConfig{Config: cfg, BatchSize: 3})
	require.NoError(t, err)
	s, err := b.Reset(5)
	require.NoError(t, err)
	a := mat.NewDense(3, cfg.Layout.ActionDim(), nil)

	short := s.Clone()
	short.Time = short.Time[:2]
	_, _, err = b.Step(short, a)
	assert.Error(t, err)

	short = s.Clone()
	short.Keys = nil
	_, _, err = b.Step(short, a)
	assert.Error(t, err)

	_, _, err = b.Step(s, a)
	require.NoError(t, err)
}

func TestBatchedSlotsAreIndependentAndReproducible(t *testing.T) {
	c, cfg := setup(t)
	b, err := NewBatched(c, BatchedConfig{Config: cfg, BatchSize: 2})
	require.NoError(t, err)

	s, err := b.Reset(5)
	require.NoError(t, err)
	assert.NotEqual(t, s.QPos.RawRowView(0), s.QPos.RawRowView(1))

	again, err := b.Reset(5)
	require.NoError(t, err)
	assert.Equal(t, s, again)

	other, err := b.Reset(6)
	require.NoError(t, err)
	assert.False(t, mat.Equal(s.QPos, other.QPos))
}

func TestBatchedResetsEndedSlotsInSameStep(t *testing.T) {
	c, cfg := setup(t)
	cfg.Cutoff = 3
	b, err := NewBatched(c, BatchedConfig{Config: cfg, BatchSize: 2})
	require.NoError(t, err)

	s, err := b.Reset(9)
	require.NoError(t, err)
	zeros := mat.NewDense(2, cfg.Layout.ActionDim(), nil)

	var tr Transition
	for step := 0; step < 3; step++ {
		s, tr, err = b.Step(s, zeros)
		require.NoError(t, err)
	}
	assert.Equal(t, []bool{true, true}, tr.Truncated)
	assert.Equal(t, []bool{false, false}, tr.Terminated)
	assert.Equal(t, []int{0, 0}, s.Steps)
	assert.Equal(t, []int{3, 3}, tr.Final.Steps)
	assert.Equal(t, []float64{0, 0}, s.Time)

	// The next episode is seeded from a fresh key
	first, err := b.Reset(9)
	require.NoError(t, err)
	assert.False(t, mat.Equal(first.QPos, s.QPos))
	assert.NotEqual(t, first.Keys, s.Keys)
}

func TestActionShapeLeavesStateUnchanged(t *testing.T) {
	c, cfg := setup(t)
	scalar, err := NewScalar(c, cfg)
	require.NoError(t, err)
	batched, err := NewBatched(c, BatchedConfig{Config: cfg, BatchSize: 2})
	require.NoError(t, err)

	for _, e := range []Engine{scalar, batched} {
		t.Run(e.Backend().String(), func(t *testing.T) {
			s, err := e.Reset(1)
			require.NoError(t, err)
			before := s.Clone()

			bad := mat.NewDense(e.BatchSize(), cfg.Layout.ActionDim()-1, nil)
			_, _, err = e.Step(s, bad)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrActionShape))

			var shape *ActionShapeError
			require.True(t, errors.As(err, &shape))
			assert.Equal(t, cfg.Layout.ActionDim(), shape.WantCols)
			assert.Equal(t, before, s)

			// The engine keeps stepping from the unchanged state
			good := mat.NewDense(e.BatchSize(), cfg.Layout.ActionDim(), nil)
			next, _, err := e.Step(s, good)
			require.NoError(t, err)
			assert.Equal(t, before.Steps[0]+1, next.Steps[0])
		})
	}
}

func TestStepDivergedReportsLastState(t *testing.T) {
	c, cfg := setup(t)
	scalar, err := NewScalar(c, cfg)
	require.NoError(t, err)
	batched, err := NewBatched(c, BatchedConfig{Config: cfg, BatchSize: 2})
	require.NoError(t, err)

	for _, e := range []Engine{scalar, batched} {
		t.Run(e.Backend().String(), func(t *testing.T) {
			s, err := e.Reset(3)
			require.NoError(t, err)

			a := mat.NewDense(e.BatchSize(), cfg.Layout.ActionDim(), nil)
			a.Set(e.BatchSize()-1, 0, math.NaN())
			_, _, err = e.Step(s, a)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrStepDiverged))

			var diverged *StepDivergedError
			require.True(t, errors.As(err, &diverged))
			assert.Equal(t, e.BatchSize()-1, diverged.Slot)
			assert.Equal(t, s, diverged.Last)
		})
	}
}

func TestScalarLifecycle(t *testing.T) {
	c, cfg := setup(t)
	cfg.Cutoff = 2
	e, err := NewScalar(c, cfg)
	require.NoError(t, err)
	zeros := mat.NewDense(1, cfg.Layout.ActionDim(), nil)

	assert.Equal(t, Uninitialized, e.Status())
	_, _, err = e.Step(State{}, zeros)
	assert.True(t, errors.Is(err, ErrNotReset))

	s, err := e.Reset(0)
	require.NoError(t, err)
	assert.Equal(t, Ready, e.Status())

	s, tr, err := e.Step(s, zeros)
	require.NoError(t, err)
	assert.False(t, tr.Ended(0))
	assert.Equal(t, Ready, e.Status())

	s, tr, err = e.Step(s, zeros)
	require.NoError(t, err)
	assert.True(t, tr.Truncated[0])
	assert.Equal(t, Terminated, e.Status())
	assert.Equal(t, 2, s.Steps[0])

	_, _, err = e.Step(s, zeros)
	assert.True(t, errors.Is(err, ErrEpisodeOver))

	_, err = e.Reset(0)
	require.NoError(t, err)
	assert.Equal(t, Ready, e.Status())
}

func TestScalarLoadsTeleportedState(t *testing.T) {
	c, cfg := setup(t)
	e, err := NewScalar(c, cfg)
	require.NoError(t, err)
	s, err := e.Reset(0)
	require.NoError(t, err)

	qpos := append([]float64(nil), c.Tree.QPos0...)
	qpos[2] = 2
	moved, err := s.Teleport(0, qpos, make([]float64, c.Tree.NV),
		Cursor{Index: 1, Frame: 4})
	require.NoError(t, err)
	assert.NotEqual(t, 2.0, s.QPos.At(0, 2), "teleport must copy")

	next, _, err := e.Step(moved, mat.NewDense(1, cfg.Layout.ActionDim(), nil))
	require.NoError(t, err)
	assert.InDelta(t, 2, next.QPos.At(0, 2), 0.05)
	assert.Equal(t, Cursor{Index: 1, Frame: 4}, next.Cursors[0])

	_, err = s.Teleport(1, qpos, nil, Cursor{})
	assert.Error(t, err)
}

func TestNewEngineValidatesConfig(t *testing.T) {
	c, cfg := setup(t)

	other, err := model.Load("UnitreeH1")
	require.NoError(t, err)
	oc, err := physics.Compile(other)
	require.NoError(t, err)
	_, err = NewScalar(oc, cfg)
	assert.Error(t, err)

	_, err = NewBatched(c, BatchedConfig{Config: cfg})
	assert.Error(t, err)

	bad := cfg
	bad.Layout = nil
	_, err = NewScalar(c, bad)
	assert.Error(t, err)
}

func TestSlotKeys(t *testing.T) {
	seen := make(map[uint64]bool)
	for i := 0; i < 1000; i++ {
		k := SlotKey(42, i)
		assert.False(t, seen[k])
		seen[k] = true
		assert.NotEqual(t, k, NextKey(k))
	}
	assert.Equal(t, SlotKey(42, 3), SlotKey(42, 3))
}

func TestParseBackend(t *testing.T) {
	b, err := ParseBackend("batched")
	require.NoError(t, err)
	assert.Equal(t, BackendBatched, b)
	b, err = ParseBackend("")
	require.NoError(t, err)
	assert.Equal(t, BackendScalar, b)
	_, err = ParseBackend("gpu")
	assert.Error(t, err)
}

func BenchmarkBatchedStep(b *testing.B) {
	c, cfg := setup(b)
	e, err := NewBatched(c, BatchedConfig{Config: cfg, BatchSize: 64})
	require.NoError(b, err)
	s, err := e.Reset(0)
	require.NoError(b, err)
	a := mat.NewDense(64, cfg.Layout.ActionDim(), nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s, _, err = e.Step(s, a)
		if err != nil {
			b.Fatal(err)
		}
	}
}
