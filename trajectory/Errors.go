package trajectory

import (
	"errors"
	"fmt"
)

var (
	// ErrDatasetNotFound is matched by every DatasetNotFoundError
	ErrDatasetNotFound = errors.New("trajectory not found")

	// ErrDatasetCorruption is matched by every DatasetCorruptionError
	ErrDatasetCorruption = errors.New("trajectory data corrupt")

	// ErrSourceUnavailable is matched by every SourceUnavailableError
	ErrSourceUnavailable = errors.New("trajectory source unavailable")

	// ErrIncompatibleTrajectory is matched by every
	// IncompatibleTrajectoryError
	ErrIncompatibleTrajectory = errors.New("trajectory does not fit model")

	// errCorruptArchive is returned when archive bytes fail verification
	errCorruptArchive = errors.New("corrupt archive")
)

// DatasetNotFoundError is returned when a source does not hold the
// requested trajectory
type DatasetNotFoundError struct {
	ID ID
}

func (e *DatasetNotFoundError) Error() string {
	return fmt.Sprintf("trajectory %v not found", e.ID)
}

func (e *DatasetNotFoundError) Is(target error) bool {
	return target == ErrDatasetNotFound
}

// DatasetCorruptionError is returned when a trajectory fails integrity
// checks after being fetched twice
type DatasetCorruptionError struct {
	ID  ID
	Err error
}

func (e *DatasetCorruptionError) Error() string {
	return fmt.Sprintf("trajectory %v is corrupt: %v", e.ID, e.Err)
}

func (e *DatasetCorruptionError) Is(target error) bool {
	return target == ErrDatasetCorruption
}

func (e *DatasetCorruptionError) Unwrap() error {
	return e.Err
}

// SourceUnavailableError is returned when a source keeps failing with
// transient errors after all retries
type SourceUnavailableError struct {
	ID       ID
	Attempts int
	Err      error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("fetching trajectory %v failed after %d attempts: %v",
		e.ID, e.Attempts, e.Err)
}

func (e *SourceUnavailableError) Is(target error) bool {
	return target == ErrSourceUnavailable
}

func (e *SourceUnavailableError) Unwrap() error {
	return e.Err
}

// IncompatibleTrajectoryError is returned when the joint space of a
// trajectory differs from the joint space of the model it is expanded
// against
type IncompatibleTrajectoryError struct {
	ID             ID
	NQ, NV         int
	WantNQ, WantNV int
}

func (e *IncompatibleTrajectoryError) Error() string {
	return fmt.Sprintf("trajectory %v has joint space (nq, nv) = (%d, %d), "+
		"model has (%d, %d)", e.ID, e.NQ, e.NV, e.WantNQ, e.WantNV)
}

func (e *IncompatibleTrajectoryError) Is(target error) bool {
	return target == ErrIncompatibleTrajectory
}
