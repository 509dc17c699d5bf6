package engine

import (
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/spatial/r1"
	"gonum.org/v1/gonum/stat/distmv"

	"github.com/samuelfneumann/goloco/model"
	"github.com/samuelfneumann/goloco/utils/floatutils"
)

// UniformStarter starts episodes at the model's reference
// configuration perturbed by uniform noise. Joint positions of hinge
// and slide joints are perturbed within [-posNoise, posNoise] and
// clipped to the joint range, and every velocity is perturbed within
// [-velNoise, velNoise]. Free joint positions are not perturbed.
type UniformStarter struct {
	tree      *model.Tree
	posBounds []r1.Interval
	velBounds []r1.Interval
}

// NewUniformStarter returns a new UniformStarter for the model tree
func NewUniformStarter(t *model.Tree, posNoise, velNoise float64) UniformStarter {
	var posBounds []r1.Interval
	for _, j := range t.Joints {
		if j.Type != model.Free {
			posBounds = append(posBounds, r1.Interval{Min: -posNoise,
				Max: posNoise})
		}
	}
	velBounds := make([]r1.Interval, t.NV)
	for i := range velBounds {
		velBounds[i] = r1.Interval{Min: -velNoise, Max: velNoise}
	}
	return UniformStarter{t, posBounds, velBounds}
}

// Start implements the Starter interface
func (u UniformStarter) Start(src rand.Source, qpos, qvel []float64) (Cursor,
	error) {
	if len(u.posBounds) > 0 {
		noise := distmv.NewUniform(u.posBounds, src).Rand(nil)
		n := 0
		for _, j := range u.tree.Joints {
			if j.Type == model.Free {
				continue
			}
			q := qpos[j.QPosAdr] + noise[n]
			if j.Limited {
				q = floatutils.Clip(q, j.Range[0], j.Range[1])
			}
			qpos[j.QPosAdr] = q
			n++
		}
	}
	if len(u.velBounds) > 0 {
		noise := distmv.NewUniform(u.velBounds, src).Rand(nil)
		for i := range qvel {
			qvel[i] += noise[i]
		}
	}
	return Cursor{}, nil
}
