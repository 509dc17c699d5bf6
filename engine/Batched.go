package engine

import (
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/goloco/layout"
	"github.com/samuelfneumann/goloco/physics"
)

// Batched is an engine stepping a batch of simulation instances in
// parallel. Reset and Step are pure: they depend only on their
// arguments and never modify them, so a Batched engine may be used from
// many goroutines at once.
type Batched struct {
	*kernel
	n       int
	workers int
	pool    sync.Pool
}

// NewBatched returns a new Batched engine
func NewBatched(m *physics.Compiled, cfg BatchedConfig) (*Batched, error) {
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("newBatched: batch size must be positive, "+
			"got %d", cfg.BatchSize)
	}
	if cfg.Workers < 0 {
		return nil, fmt.Errorf("newBatched: workers must not be negative, "+
			"got %d", cfg.Workers)
	}
	k, err := newKernel(m, cfg.Config)
	if err != nil {
		return nil, fmt.Errorf("newBatched: %v", err)
	}

	workers := cfg.Workers
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > cfg.BatchSize {
		workers = cfg.BatchSize
	}

	b := &Batched{kernel: k, n: cfg.BatchSize, workers: workers}
	b.pool.New = func() any { return k.newScratch() }
	return b, nil
}

// Backend implements the Engine interface
func (b *Batched) Backend() Backend {
	return BackendBatched
}

// BatchSize implements the Engine interface
func (b *Batched) BatchSize() int {
	return b.n
}

// Model implements the Engine interface
func (b *Batched) Model() *physics.Compiled {
	return b.model
}

// Layout implements the Engine interface
func (b *Batched) Layout() *layout.Layout {
	return b.layout
}

// Reset returns the initial state of a new batch of episodes. Slot i
// is seeded with SlotKey(seed, i).
func (b *Batched) Reset(seed uint64) (State, error) {
	s := newState(b.n, b.nq, b.nv)
	for i := range s.Keys {
		s.Keys[i] = SlotKey(seed, i)
	}
	err := b.parallel(func(i int, _ *scratch) error {
		return b.start(s, i)
	})
	if err != nil {
		return State{}, fmt.Errorf("reset: %w", err)
	}
	return s, nil
}

// Step advances every slot of s by one control step. Slots whose
// episode terminates or is truncated are reset in the same call, and
// Transition.Final holds the state they reached before being reset.
//
// If any slot diverges, Step returns a StepDivergedError holding s and
// no new state.
func (b *Batched) Step(s State, actions *mat.Dense) (State, Transition,
	error) {
	if actions == nil {
		return State{}, Transition{}, fmt.Errorf("step: %w",
			&ActionShapeError{WantRows: b.n, WantCols: b.layout.ActionDim()})
	}
	raw := actions.RawMatrix()
	if err := b.checkActions(b.n, raw.Rows, raw.Cols); err != nil {
		return State{}, Transition{}, fmt.Errorf("step: %w", err)
	}
	if err := s.checkShape(b.n, b.nq, b.nv); err != nil {
		return State{}, Transition{}, fmt.Errorf("step: %w", err)
	}

	next := s.Clone()
	t := Transition{
		Rewards:    make([]float64, b.n),
		Terminated: make([]bool, b.n),
		Truncated:  make([]bool, b.n),
	}
	diverged := make([]bool, b.n)
	err := b.parallel(func(i int, sc *scratch) error {
		o := b.advance(next, i, actions.RawRowView(i), sc)
		diverged[i] = o.diverged
		t.Rewards[i] = o.reward
		t.Terminated[i] = o.terminated
		t.Truncated[i] = o.truncated
		return nil
	})
	if err != nil {
		return State{}, Transition{}, fmt.Errorf("step: %w", err)
	}
	for i, d := range diverged {
		if d {
			return State{}, Transition{}, fmt.Errorf("step: %w",
				&StepDivergedError{Slot: i, Step: s.Steps[i] + 1, Last: s})
		}
	}

	t.Final = next
	ended := false
	for i := 0; i < b.n && !ended; i++ {
		ended = t.Ended(i)
	}
	if !ended {
		return next, t, nil
	}

	t.Final = next.Clone()
	err = b.parallel(func(i int, _ *scratch) error {
		if !t.Ended(i) {
			return nil
		}
		return b.start(next, i)
	})
	if err != nil {
		return State{}, Transition{}, fmt.Errorf("step: %w", err)
	}
	return next, t, nil
}

// parallel calls fn for every slot, spreading slots over the engine's
// workers in contiguous chunks
func (b *Batched) parallel(fn func(i int, sc *scratch) error) error {
	var g errgroup.Group
	chunk := (b.n + b.workers - 1) / b.workers
	for lo := 0; lo < b.n; lo += chunk {
		hi := min(lo+chunk, b.n)
		g.Go(func() error {
			sc := b.pool.Get().(*scratch)
			defer b.pool.Put(sc)
			for i := lo; i < hi; i++ {
				if err := fn(i, sc); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}
