package trajectory

import (
	"fmt"
	"hash/fnv"
	"math"
	"strings"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/goloco/model"
)

// Defaults of synthesized trajectories
const (
	DefaultSynthFrames    = 200
	DefaultSynthFrequency = 50.0
)

// SynthSourceName is the Source recorded in synthesized trajectories
const SynthSourceName = "synth"

// gait describes the periodic motion synthesized for a trajectory
type gait struct {
	speed     float64 // forward root speed in m/s
	cycle     float64 // cycles per second
	amplitude float64 // fraction of each joint range swept
	bob       float64 // vertical root oscillation in m
}

func gaitOf(name string) gait {
	_, bare, _ := strings.Cut(name, "/")
	switch {
	case strings.HasPrefix(bare, "run"):
		return gait{speed: 2.5, cycle: 2.5, amplitude: 0.35, bob: 0.04}
	case strings.HasPrefix(bare, "walk"):
		return gait{speed: 1.0, cycle: 1.2, amplitude: 0.2, bob: 0.02}
	case strings.HasPrefix(bare, "squat"):
		return gait{cycle: 0.5, amplitude: 0.3, bob: 0.1}
	case strings.HasPrefix(bare, "balance"):
		return gait{cycle: 0.3, amplitude: 0.05}
	case strings.HasPrefix(bare, "jumps"):
		return gait{speed: 0.5, cycle: 1, amplitude: 0.3, bob: 0.15}
	default:
		return gait{speed: 0.2, cycle: 0.8, amplitude: 0.25, bob: 0.03}
	}
}

// Synthesize generates a smooth periodic motion for trajectory id on a
// model tree. The result depends only on the id and the tree, so the
// same call always yields the same trajectory. Velocities are the
// exact time derivatives of the positions.
func Synthesize(tree *model.Tree, id ID, frames int, frequency float64) (
	*Trajectory, error) {
	if frames <= 0 {
		return nil, fmt.Errorf("synthesize: frames must be positive, got %d",
			frames)
	}
	if frequency <= 0 {
		return nil, fmt.Errorf("synthesize: frequency must be positive, "+
			"got %v", frequency)
	}

	h := fnv.New64a()
	h.Write([]byte(id.String()))
	rng := rand.New(rand.NewSource(h.Sum64()))

	g := gaitOf(id.Name)
	omega := 2 * math.Pi * g.cycle
	phase := make([]float64, len(tree.Joints))
	for i := range phase {
		phase[i] = 2 * math.Pi * rng.Float64()
	}

	qpos := mat.NewDense(frames, tree.NQ, nil)
	qvel := mat.NewDense(frames, tree.NV, nil)
	for f := 0; f < frames; f++ {
		t := float64(f) / frequency
		p, v := qpos.RawRowView(f), qvel.RawRowView(f)
		copy(p, tree.QPos0)

		for i := range tree.Joints {
			j := &tree.Joints[i]
			switch j.Type {
			case model.Free:
				p[j.QPosAdr] += g.speed * t
				p[j.QPosAdr+2] += g.bob * math.Sin(2*omega*t)
				v[j.DofAdr] = g.speed
				v[j.DofAdr+2] = 2 * omega * g.bob * math.Cos(2*omega*t)

			default:
				amp := g.amplitude
				centre := p[j.QPosAdr]
				if j.Limited {
					amp *= (j.Range[1] - j.Range[0]) / 2
					centre = (j.Range[0] + j.Range[1]) / 2
					// Start from the reference pose when it is in range
					if q0 := p[j.QPosAdr]; q0 > j.Range[0] && q0 < j.Range[1] {
						centre = q0
						amp = math.Min(amp, math.Min(q0-j.Range[0],
							j.Range[1]-q0))
					}
				}
				p[j.QPosAdr] = centre + amp*math.Sin(omega*t+phase[i])
				v[j.DofAdr] = amp * omega * math.Cos(omega*t+phase[i])
			}
		}
	}

	return New(id, SynthSourceName, frequency, qpos, qvel)
}
