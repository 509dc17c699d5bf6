package layout

import (
	"errors"
	"fmt"
)

// ErrSpecResolution is matched by every SpecResolutionError
var ErrSpecResolution = errors.New("spec resolution failed")

// SpecResolutionError is returned when an observation field or action
// channel names an entity that does not exist in the model, or selects
// a component its measurement does not have.
type SpecResolutionError struct {
	Field  string
	Name   string
	Reason string
}

func (e *SpecResolutionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("cannot resolve %v: %v", e.Field, e.Reason)
	}
	return fmt.Sprintf("cannot resolve %v: no entity named %q", e.Field,
		e.Name)
}

func (e *SpecResolutionError) Is(target error) bool {
	return target == ErrSpecResolution
}
