package environment

// StepLimit ends episodes at specific timestep limits. A StepLimit of
// zero steps never ends an episode.
type StepLimit struct {
	episodeSteps int
}

// NewStepLimit creates and returns a new step limit
func NewStepLimit(episodeSteps int) StepLimit {
	if episodeSteps < 0 {
		episodeSteps = 0
	}
	return StepLimit{episodeSteps}
}

// Steps returns the number of steps after which episodes end
func (s StepLimit) Steps() int {
	return s.episodeSteps
}

// Reached returns whether an episode which has taken the argument
// number of steps should be truncated
func (s StepLimit) Reached(steps int) bool {
	return s.episodeSteps > 0 && steps >= s.episodeSteps
}
