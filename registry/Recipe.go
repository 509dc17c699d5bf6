package registry

import "fmt"

// Recipe is the factory which builds the environments of a Descriptor
type Recipe string

const (
	// LiveReward environments compute rewards from the simulation with
	// a locomotion task
	LiveReward Recipe = "rl"

	// ReferenceTracking environments reward following reference
	// trajectories loaded through a trajectory cache
	ReferenceTracking Recipe = "imitation"
)

// ParseRecipe returns the Recipe with the given name
func ParseRecipe(name string) (Recipe, error) {
	switch r := Recipe(name); r {
	case LiveReward, ReferenceTracking:
		return r, nil
	}
	return "", fmt.Errorf("parseRecipe: unknown recipe %q (want %v or %v)",
		name, LiveReward, ReferenceTracking)
}
