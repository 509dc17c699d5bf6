package registry

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownEnvironment is matched by every UnknownEnvironmentError
	ErrUnknownEnvironment = errors.New("unknown environment")

	// ErrDuplicateName is matched by every DuplicateNameError
	ErrDuplicateName = errors.New("duplicate environment name")

	// ErrSealed is returned when registering with a Registry which has
	// already made environments
	ErrSealed = errors.New("registry is sealed")

	// ErrNoTrajectorySource is returned when making a reference
	// tracking environment with a Registry that has no trajectory cache
	ErrNoTrajectorySource = errors.New("no trajectory source configured")
)

// UnknownEnvironmentError is returned when making an environment whose
// name was never registered
type UnknownEnvironmentError struct {
	Name string
}

func (e *UnknownEnvironmentError) Error() string {
	return fmt.Sprintf("unknown environment %q", e.Name)
}

func (e *UnknownEnvironmentError) Is(target error) bool {
	return target == ErrUnknownEnvironment
}

// DuplicateNameError is returned when registering a name which is
// already registered with a different Descriptor
type DuplicateNameError struct {
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("environment %q is already registered with a "+
		"different descriptor", e.Name)
}

func (e *DuplicateNameError) Is(target error) bool {
	return target == ErrDuplicateName
}
