package transform

import (
	_ "embed"
	"fmt"
	"sync"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

//go:embed tables.hcl
var defaultTable []byte

// Rules are the simplifications applied to a single robot
type Rules struct {
	Robot           string            `hcl:"robot,label"`
	MeshPrimitive   string            `hcl:"mesh_primitive,optional"`
	ContactBodies   []string          `hcl:"contact_bodies,optional"`
	DropVisualGeoms bool              `hcl:"drop_visual_geoms,optional"`
	DropBodies      []string          `hcl:"drop_bodies,optional"`
	SolRef          []float64         `hcl:"solref,optional"`
	Iterations      int               `hcl:"iterations,optional"`
	Rename          map[string]string `hcl:"rename,optional"`
}

// Table holds the Rules of every robot, keyed by model name
type Table struct {
	Robots []Rules `hcl:"robot,block"`
}

// ParseTable decodes a Table from HCL source. The filename is used in
// diagnostics only.
func ParseTable(src []byte, filename string) (*Table, error) {
	file, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parseTable: failed to parse %s: %w", filename,
			diags)
	}

	var t Table
	if diags := gohcl.DecodeBody(file.Body, nil, &t); diags.HasErrors() {
		return nil, fmt.Errorf("parseTable: failed to decode %s: %w",
			filename, diags)
	}

	seen := make(map[string]bool, len(t.Robots))
	for _, r := range t.Robots {
		if seen[r.Robot] {
			return nil, fmt.Errorf("parseTable: duplicate rules for robot %q",
				r.Robot)
		}
		seen[r.Robot] = true
		if err := r.validate(); err != nil {
			return nil, fmt.Errorf("parseTable: robot %q: %v", r.Robot, err)
		}
	}
	return &t, nil
}

var loadDefault = sync.OnceValues(func() (*Table, error) {
	return ParseTable(defaultTable, "tables.hcl")
})

// DefaultTable returns the built-in table of the embedded robots
func DefaultTable() *Table {
	t, err := loadDefault()
	if err != nil {
		panic(fmt.Sprintf("defaultTable: %v", err))
	}
	return t
}

// Rules returns the rules of the named robot. A robot without rules is
// transformed by the zero Rules, which keep the model unchanged.
func (t *Table) Rules(robot string) (Rules, bool) {
	for _, r := range t.Robots {
		if r.Robot == robot {
			return r, true
		}
	}
	return Rules{Robot: robot}, false
}

func (r Rules) validate() error {
	switch r.MeshPrimitive {
	case "", "sphere", "capsule", "box":
	default:
		return fmt.Errorf("unsupported mesh primitive %q", r.MeshPrimitive)
	}
	if len(r.SolRef) != 0 && len(r.SolRef) != 2 {
		return fmt.Errorf("solref must have 2 elements, got %d", len(r.SolRef))
	}
	if r.Iterations < 0 {
		return fmt.Errorf("iterations must not be negative")
	}
	return nil
}
