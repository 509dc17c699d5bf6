package registry

import (
	"fmt"

	"github.com/samuelfneumann/goloco/layout"
)

// Descriptor describes how to build a registered environment
type Descriptor struct {
	// Robot is an embedded robot name or the path of a model file
	Robot string

	// TrajectoryRobot names the robot in trajectory addresses. It
	// defaults to Robot.
	TrajectoryRobot string

	Recipe Recipe

	// Fields and Channels are the default layout. Nil Channels drive
	// every actuator of the model in model order.
	Fields   []layout.ObservationField
	Channels []layout.ActionChannel

	// Trajectories are the default reference selection of
	// ReferenceTracking environments
	Trajectories []string

	// Cutoff is the default episode cutoff and Substeps the default
	// number of physics steps per control step
	Cutoff   int
	Substeps int
}

// Validate returns an error if d cannot describe an environment
func (d Descriptor) Validate() error {
	if d.Robot == "" {
		return fmt.Errorf("validate: descriptor has no robot")
	}
	if _, err := ParseRecipe(string(d.Recipe)); err != nil {
		return fmt.Errorf("validate: %v", err)
	}
	if len(d.Fields) == 0 {
		return fmt.Errorf("validate: descriptor has no observation fields")
	}
	if d.Channels != nil && len(d.Channels) == 0 {
		return fmt.Errorf("validate: descriptor has an empty action " +
			"channel list")
	}
	if d.Recipe == ReferenceTracking && len(d.Trajectories) == 0 {
		return fmt.Errorf("validate: %v descriptor selects no trajectories",
			d.Recipe)
	}
	if d.Cutoff < 0 || d.Substeps < 0 {
		return fmt.Errorf("validate: cutoff and substeps must be " +
			"non-negative")
	}
	return nil
}

func (d Descriptor) trajectoryRobot() string {
	if d.TrajectoryRobot != "" {
		return d.TrajectoryRobot
	}
	return d.Robot
}

// clone returns a copy of d sharing no slices with it
func (d Descriptor) clone() Descriptor {
	d.Fields = append([]layout.ObservationField(nil), d.Fields...)
	if d.Channels != nil {
		d.Channels = append([]layout.ActionChannel{}, d.Channels...)
	}
	d.Trajectories = append([]string(nil), d.Trajectories...)
	return d
}
