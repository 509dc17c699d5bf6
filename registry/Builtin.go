package registry

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/samuelfneumann/goloco/layout"
	"github.com/samuelfneumann/goloco/model"
	"github.com/samuelfneumann/goloco/trajectory"
)

// Environment variables read by CacheFromEnv
const (
	EnvCacheDir  = "LOCO_CACHE_DIR"
	EnvRemoteURL = "LOCO_REMOTE_URL"
	EnvDataDir   = "LOCO_DATA_DIR"
)

// DefaultCutoff is the episode cutoff of the builtin environments
const DefaultCutoff = 1000

// ImitationSuffix is appended to a robot name to form the name of its
// builtin ReferenceTracking environment
const ImitationSuffix = "-Imitation"

// feet are the bodies whose ground contact the builtin environments
// observe
var feet = map[string][2]string{
	"UnitreeG1": {"left_ankle_roll_link", "right_ankle_roll_link"},
	"UnitreeH1": {"left_ankle_link", "right_ankle_link"},
}

var defaultRegistry struct {
	once sync.Once
	r    *Registry
}

// Default returns the process-wide Registry holding the builtin
// environments. It is built on first use. Its trajectory cache is
// configured from the environment by CacheFromEnv; if that fails,
// ReferenceTracking environments cannot be made.
func Default() *Registry {
	defaultRegistry.once.Do(func() {
		var opts []Option
		if c, err := CacheFromEnv(slog.Default()); err == nil {
			opts = append(opts, WithCache(c))
		} else {
			slog.Default().Debug("default registry has no trajectory cache",
				"error", err)
		}
		r := New(opts...)
		if err := RegisterBuiltins(r); err != nil {
			panic(fmt.Sprintf("default: %v", err))
		}
		defaultRegistry.r = r
	})
	return defaultRegistry.r
}

// RegisterBuiltins registers a LiveReward and a ReferenceTracking
// environment for every embedded robot. The LiveReward environment is
// named after the robot and the ReferenceTracking environment has the
// ImitationSuffix appended.
func RegisterBuiltins(r *Registry) error {
	for _, robot := range model.Robots() {
		fields, err := builtinFields(robot)
		if err != nil {
			return fmt.Errorf("registerBuiltins: %v", err)
		}

		rl := Descriptor{
			Robot:  robot,
			Recipe: LiveReward,
			Fields: fields,
			Cutoff: DefaultCutoff,
		}
		if err := r.Register(robot, rl); err != nil {
			return fmt.Errorf("registerBuiltins: %w", err)
		}

		imitation := rl
		imitation.Recipe = ReferenceTracking
		imitation.Trajectories = []string{"walk"}
		if err := r.Register(robot+ImitationSuffix, imitation); err != nil {
			return fmt.Errorf("registerBuiltins: %w", err)
		}
	}
	return nil
}

// builtinFields observes the full joint state of a robot together with
// the ground contact of its feet
func builtinFields(robot string) ([]layout.ObservationField, error) {
	m, err := model.Load(robot)
	if err != nil {
		return nil, err
	}
	tree, err := m.Compile()
	if err != nil {
		return nil, err
	}

	fields := make([]layout.ObservationField, 0, 2*len(tree.Joints)+2)
	for _, j := range tree.Joints {
		fields = append(fields, layout.Observe(layout.JointPos, j.Name))
	}
	for _, j := range tree.Joints {
		fields = append(fields, layout.Observe(layout.JointVel, j.Name))
	}
	for _, foot := range feet[robot] {
		if foot != "" {
			fields = append(fields, layout.Observe(layout.BodyContact, foot))
		}
	}
	return fields, nil
}

// CacheFromEnv returns a trajectory cache configured by environment
// variables. Entries are stored under LOCO_CACHE_DIR, or under the
// user cache directory if it is unset. Trajectories are fetched from
// the server at LOCO_REMOTE_URL, or else read from the directory
// LOCO_DATA_DIR. It fails with ErrNoTrajectorySource if neither is set.
func CacheFromEnv(logger *slog.Logger) (*trajectory.Cache, error) {
	var src trajectory.Source
	switch {
	case os.Getenv(EnvRemoteURL) != "":
		src = trajectory.NewHTTPSource(os.Getenv(EnvRemoteURL))
	case os.Getenv(EnvDataDir) != "":
		src = trajectory.DirSource{Dir: os.Getenv(EnvDataDir)}
	default:
		return nil, fmt.Errorf("cacheFromEnv: %w (set %v or %v)",
			ErrNoTrajectorySource, EnvRemoteURL, EnvDataDir)
	}

	dir, err := CacheDir()
	if err != nil {
		return nil, fmt.Errorf("cacheFromEnv: %v", err)
	}
	c, err := trajectory.NewCache(dir, src, trajectory.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("cacheFromEnv: %w", err)
	}
	return c, nil
}

// CacheDir returns the trajectory cache directory: LOCO_CACHE_DIR if
// set, otherwise goloco/trajectories under the user cache directory
func CacheDir() (string, error) {
	if dir := os.Getenv(EnvCacheDir); dir != "" {
		return dir, nil
	}
	base, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "goloco", "trajectories"), nil
}
