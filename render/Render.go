// Package render draws robot skeletons as images. Bodies are drawn as
// joints connected to their parent by bones, projected onto a vertical
// plane which follows the floating base of the robot. Bodies touching
// the ground are highlighted.
//
// Rendering is never needed to reset or step an environment.
package render

import (
	"fmt"
	"image"
	"image/color"

	"github.com/fogleman/gg"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/samuelfneumann/goloco/engine"
	"github.com/samuelfneumann/goloco/kinematics"
	"github.com/samuelfneumann/goloco/model"
	"github.com/samuelfneumann/goloco/trajectory"
)

// View is the plane skeletons are projected onto
type View int

const (
	// Side looks along the world y axis
	Side View = iota

	// Front looks along the world x axis
	Front
)

func (v View) String() string {
	if v == Front {
		return "Front"
	}
	return "Side"
}

// Renderer draws the skeleton of a model tree
type Renderer struct {
	Width, Height int

	// Scale is the number of pixels per meter
	Scale float64
	View  View

	Background, Ground, Bone, Joint, Contact color.Color

	tree *model.Tree
}

// New returns a Renderer for tree with default image size and colours
func New(tree *model.Tree) *Renderer {
	return &Renderer{
		Width:      480,
		Height:     480,
		Scale:      200,
		View:       Side,
		Background: color.RGBA{R: 245, G: 245, B: 240, A: 255},
		Ground:     color.RGBA{R: 120, G: 110, B: 100, A: 255},
		Bone:       color.RGBA{R: 40, G: 60, B: 120, A: 255},
		Joint:      color.RGBA{R: 200, G: 80, B: 40, A: 255},
		Contact:    color.RGBA{R: 40, G: 160, B: 60, A: 255},
		tree:       tree,
	}
}

// State draws slot i of a simulation state
func (r *Renderer) State(st engine.State, i int) (image.Image, error) {
	if st.Empty() {
		return nil, fmt.Errorf("state: %w", engine.ErrNotReset)
	}
	if i < 0 || i >= st.Len() {
		return nil, fmt.Errorf("state: slot %d out of range [0, %d)", i,
			st.Len())
	}
	s := st.Slot(i)
	if len(s.QPos) != r.tree.NQ {
		return nil, fmt.Errorf("state: state has nq %d, model has %d",
			len(s.QPos), r.tree.NQ)
	}
	frames := kinematics.Forward(r.tree, s.QPos, nil, nil)
	return r.draw(frames), nil
}

// Frame draws frame f of an expanded trajectory. The trajectory must be
// expanded against the model of the Renderer.
func (r *Renderer) Frame(ref *trajectory.Expanded, f int) (image.Image,
	error) {
	if len(ref.Bodies) != len(r.tree.Bodies) {
		return nil, fmt.Errorf("frame: trajectory has %d bodies, model has "+
			"%d", len(ref.Bodies), len(r.tree.Bodies))
	}
	if f < 0 || f >= ref.Frames() {
		return nil, fmt.Errorf("frame: frame %d out of range [0, %d)", f,
			ref.Frames())
	}
	frames := make([]kinematics.Frame, len(ref.Bodies))
	for b := range frames {
		frames[b] = kinematics.Frame{
			Pos:  ref.BodyPos(f, b),
			Quat: ref.BodyQuat(f, b),
		}
	}
	return r.draw(frames), nil
}

// Trajectory draws n frames of ref spaced evenly in time and saves them
// as PNG files named by next. It returns the names of the files
// written. If n is not positive or exceeds the number of frames, every
// frame is drawn.
func (r *Renderer) Trajectory(ref *trajectory.Expanded, n int,
	next func() string) ([]string, error) {
	total := ref.Frames()
	if n <= 0 || n > total {
		n = total
	}

	files := make([]string, 0, n)
	for k := 0; k < n; k++ {
		f := 0
		if n > 1 {
			f = k * (total - 1) / (n - 1)
		}
		img, err := r.Frame(ref, f)
		if err != nil {
			return files, fmt.Errorf("trajectory: %w", err)
		}
		name := next()
		if err := gg.SavePNG(name, img); err != nil {
			return files, fmt.Errorf("trajectory: %v", err)
		}
		files = append(files, name)
	}
	return files, nil
}

// project maps a world position to image coordinates. The image is
// centred horizontally on the floating base and the ground lies a tenth
// of the image height above the bottom edge.
func (r *Renderer) project(p, centre r3.Vec) (x, y float64) {
	u := p.X - centre.X
	if r.View == Front {
		u = centre.Y - p.Y
	}
	ground := 0.9 * float64(r.Height)
	return float64(r.Width)/2 + r.Scale*u, ground - r.Scale*p.Z
}

func (r *Renderer) draw(frames []kinematics.Frame) image.Image {
	dc := gg.NewContext(r.Width, r.Height)
	dc.SetColor(r.Background)
	dc.Clear()

	var centre r3.Vec
	if len(frames) > 1 {
		centre = frames[1].Pos
	}

	_, ground := r.project(r3.Vec{}, centre)
	dc.SetColor(r.Ground)
	dc.SetLineWidth(3)
	dc.DrawLine(0, ground, float64(r.Width), ground)
	dc.Stroke()

	dc.SetColor(r.Bone)
	dc.SetLineWidth(4)
	for b := 2; b < len(frames); b++ {
		parent := r.tree.Bodies[b].Parent
		if parent == 0 {
			continue
		}
		x0, y0 := r.project(frames[parent].Pos, centre)
		x1, y1 := r.project(frames[b].Pos, centre)
		dc.DrawLine(x0, y0, x1, y1)
	}
	dc.Stroke()

	for b := 1; b < len(frames); b++ {
		x, y := r.project(frames[b].Pos, centre)
		dc.DrawCircle(x, y, 4)
		if kinematics.InContact(r.tree, frames, b) {
			dc.SetColor(r.Contact)
		} else {
			dc.SetColor(r.Joint)
		}
		dc.Fill()
	}
	return dc.Image()
}
