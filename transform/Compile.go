package transform

import (
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/samuelfneumann/goloco/model"
	"github.com/samuelfneumann/goloco/physics"
)

// Compiler compiles models for simulation, compiling each distinct
// model once. Models are identified by the hash of their canonical
// encoding, so byte-identical transformed models share one compiled
// model. A Compiler is safe for concurrent use.
type Compiler struct {
	mu       sync.Mutex
	compiled map[string]*physics.Compiled
	group    singleflight.Group
	compiles atomic.Int64
}

// NewCompiler returns a new, empty Compiler
func NewCompiler() *Compiler {
	return &Compiler{compiled: make(map[string]*physics.Compiled)}
}

var defaultCompiler = NewCompiler()

// Compile compiles m using the process-wide Compiler
func Compile(m *model.Model) (*physics.Compiled, error) {
	return defaultCompiler.Compile(m)
}

// Compile returns the compiled form of m
func (c *Compiler) Compile(m *model.Model) (*physics.Compiled, error) {
	id, err := m.Identity()
	if err != nil {
		return nil, fmt.Errorf("compile: %v", err)
	}

	c.mu.Lock()
	compiled, ok := c.compiled[id]
	c.mu.Unlock()
	if ok {
		return compiled, nil
	}

	v, err, _ := c.group.Do(id, func() (any, error) {
		c.mu.Lock()
		compiled, ok := c.compiled[id]
		c.mu.Unlock()
		if ok {
			return compiled, nil
		}

		compiled, err := physics.Compile(m)
		if err != nil {
			return nil, err
		}
		c.compiles.Add(1)

		c.mu.Lock()
		c.compiled[id] = compiled
		c.mu.Unlock()
		return compiled, nil
	})
	if err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}
	return v.(*physics.Compiled), nil
}

// Compiles returns the number of models the Compiler has compiled
func (c *Compiler) Compiles() int64 {
	return c.compiles.Load()
}
