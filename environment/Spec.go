package environment

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// SpecType determines what kind of specification a Spec is. A Spec can
// specify the layout of an action, an observation or a reward.
type SpecType int

const (
	Action SpecType = iota
	Observation
	Reward
)

func (s SpecType) String() string {
	switch s {
	case Action:
		return "Action"
	case Observation:
		return "Observation"
	default:
		return "Reward"
	}
}

// Cardinality determines the cardinality of a number (discrete or continuous)
type Cardinality string

const (
	Continuous Cardinality = "Continuous"
	Discrete   Cardinality = "Discrete"
)

// Spec implements an environment specification, which tells the type,
// shape, and bounds of an action, observation or reward in an
// environment. Shape holds the length of each dimension of a single
// instance's value; batched environments stack BatchSize such values.
type Spec struct {
	Shape      []int
	Type       SpecType
	LowerBound *mat.VecDense
	UpperBound *mat.VecDense
	Cardinality
}

// NewSpec constructs a new environment specification of a vector with
// the given element-wise bounds. The lower and upper bounds must have
// the same length.
func NewSpec(t SpecType, lowerBound, upperBound []float64,
	cardinality Cardinality) Spec {
	if len(lowerBound) != len(upperBound) {
		panic(fmt.Sprintf("newSpec: lower bounds length %v must match upper "+
			"bounds length %v", len(lowerBound), len(upperBound)))
	}
	return Spec{
		Shape:       []int{len(lowerBound)},
		Type:        t,
		LowerBound:  vector(lowerBound),
		UpperBound:  vector(upperBound),
		Cardinality: cardinality,
	}
}

// NewUnboundedSpec returns the Spec of a continuous vector of length n
// with no bounds
func NewUnboundedSpec(t SpecType, n int) Spec {
	low, high := make([]float64, n), make([]float64, n)
	for i := range low {
		low[i], high[i] = math.Inf(-1), math.Inf(1)
	}
	return NewSpec(t, low, high, Continuous)
}

// Len returns the number of elements of a value described by the Spec
func (s Spec) Len() int {
	n := 1
	for _, d := range s.Shape {
		n *= d
	}
	return n
}

// Contains returns whether v is within the bounds of the Spec
func (s Spec) Contains(v []float64) bool {
	if len(v) != s.Len() {
		return false
	}
	for i, x := range v {
		if x < s.LowerBound.AtVec(i) || x > s.UpperBound.AtVec(i) {
			return false
		}
	}
	return true
}

// vector returns a copy of v, or nil for an empty v which gonum
// cannot represent
func vector(v []float64) *mat.VecDense {
	if len(v) == 0 {
		return nil
	}
	return mat.NewVecDense(len(v), append([]float64(nil), v...))
}
