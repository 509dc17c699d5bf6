package engine

import (
	"fmt"

	"golang.org/x/exp/rand"

	"github.com/samuelfneumann/goloco/environment"
	"github.com/samuelfneumann/goloco/layout"
	"github.com/samuelfneumann/goloco/physics"
)

// kernel steps and restarts single slots of a State. It is shared by
// both backends.
type kernel struct {
	model    *physics.Compiled
	layout   *layout.Layout
	task     Task
	starter  Starter
	substeps int
	limit    environment.StepLimit

	nq, nv, nu int
}

func newKernel(m *physics.Compiled, cfg Config) (*kernel, error) {
	if m == nil {
		return nil, fmt.Errorf("nil model")
	}
	if cfg.Layout == nil {
		return nil, fmt.Errorf("nil layout")
	}
	if cfg.Layout.Tree() != m.Tree {
		return nil, fmt.Errorf("layout is resolved against model %q, not "+
			"against the engine's model %q", cfg.Layout.Tree().Name,
			m.Tree.Name)
	}
	if cfg.Substeps < 0 {
		return nil, fmt.Errorf("substeps must be positive, got %d",
			cfg.Substeps)
	}
	if cfg.Cutoff < 0 {
		return nil, fmt.Errorf("cutoff must not be negative, got %d",
			cfg.Cutoff)
	}

	k := &kernel{
		model:    m,
		layout:   cfg.Layout,
		task:     cfg.Task,
		starter:  cfg.Starter,
		substeps: cfg.Substeps,
		limit:    environment.NewStepLimit(cfg.Cutoff),
		nq:       m.Tree.NQ,
		nv:       m.Tree.NV,
		nu:       m.Tree.NU,
	}
	if k.task == nil {
		k.task = NoTask{}
	}
	if k.starter == nil {
		k.starter = NewUniformStarter(m.Tree, 0, 0)
	}
	if k.substeps == 0 {
		k.substeps = DefaultSubsteps
	}
	return k, nil
}

// scratch holds the per-goroutine buffers of the kernel
type scratch struct {
	physics *physics.Scratch
	ctrl    []float64
	prevPos []float64
	prevVel []float64
}

func (k *kernel) newScratch() *scratch {
	return &scratch{
		physics: k.model.NewScratch(),
		ctrl:    make([]float64, k.nu),
		prevPos: make([]float64, k.nq),
		prevVel: make([]float64, k.nv),
	}
}

// checkActions returns an ActionShapeError unless actions has shape
// [n, ActionDim]
func (k *kernel) checkActions(n, rows, cols int) error {
	if rows != n || cols != k.layout.ActionDim() {
		return &ActionShapeError{Rows: rows, Cols: cols, WantRows: n,
			WantCols: k.layout.ActionDim()}
	}
	return nil
}

// start begins a new episode in slot i of s using the slot's key
func (k *kernel) start(s State, i int) error {
	qpos, qvel := s.QPos.RawRowView(i), s.QVel.RawRowView(i)
	copy(qpos, k.model.Tree.QPos0)
	for j := range qvel {
		qvel[j] = 0
	}

	c, err := k.starter.Start(rand.NewSource(s.Keys[i]), qpos, qvel)
	if err != nil {
		return fmt.Errorf("start slot %d: %w", i, err)
	}
	s.Cursors[i] = c
	s.Time[i] = 0
	s.Steps[i] = 0
	s.Keys[i] = NextKey(s.Keys[i])
	return nil
}

// outcome is the result of advancing one slot
type outcome struct {
	reward     float64
	terminated bool
	truncated  bool
	diverged   bool
}

// advance steps slot i of s in place by one control step
func (k *kernel) advance(s State, i int, action []float64,
	sc *scratch) outcome {
	qpos, qvel := s.QPos.RawRowView(i), s.QVel.RawRowView(i)
	copy(sc.prevPos, qpos)
	copy(sc.prevVel, qvel)
	prev := Slot{QPos: sc.prevPos, QVel: sc.prevVel, Time: s.Time[i],
		Step: s.Steps[i], Cursor: s.Cursors[i]}

	k.layout.Controls(action, sc.ctrl)
	elapsed, finite := k.model.Advance(qpos, qvel, sc.ctrl, k.substeps,
		sc.physics)
	if !finite {
		return outcome{diverged: true}
	}
	s.Time[i] += elapsed
	s.Steps[i]++

	next := s.Slot(i)
	return outcome{
		reward:     k.task.Reward(prev, next, action),
		terminated: k.task.Terminated(next),
		truncated:  k.limit.Reached(s.Steps[i]),
	}
}
