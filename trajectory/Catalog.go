package trajectory

import (
	"fmt"
	"strings"
)

// DefaultGroup is the group of the basic motions
const DefaultGroup = "default"

// catalog lists the known trajectories of every group, in group order
var catalog = []struct {
	group string
	names []string
}{
	{DefaultGroup, []string{"walk", "run", "squat", "balance"}},
	{"lafan1", []string{
		"dance1_subject1", "dance1_subject2", "dance1_subject3",
		"dance2_subject1", "dance2_subject2", "dance2_subject3",
		"dance2_subject4", "dance2_subject5",
		"walk1_subject1", "walk1_subject2", "walk1_subject5",
		"walk2_subject1", "walk2_subject3", "walk2_subject4",
		"walk3_subject1", "walk3_subject2", "walk3_subject3",
		"walk3_subject4", "walk3_subject5",
		"walk4_subject1",
		"run1_subject2", "run1_subject5", "run2_subject1", "run2_subject4",
		"jumps1_subject1", "jumps1_subject2", "jumps1_subject5",
		"fight1_subject2", "fight1_subject3", "fight1_subject5",
	}},
}

// Groups returns the names of the trajectory groups
func Groups() []string {
	groups := make([]string, len(catalog))
	for i, c := range catalog {
		groups[i] = c.group
	}
	return groups
}

// Catalog returns the group qualified names of every known trajectory
// of the group, or of every group if group is empty
func Catalog(group string) []string {
	var names []string
	for _, c := range catalog {
		if group != "" && c.group != group {
			continue
		}
		for _, n := range c.names {
			names = append(names, c.group+"/"+n)
		}
	}
	return names
}

// IDs returns the IDs of every known trajectory of a robot
func IDs(robot string) []ID {
	names := Catalog("")
	ids := make([]ID, len(names))
	for i, n := range names {
		ids[i] = ID{Robot: robot, Name: n}
	}
	return ids
}

// Qualify returns the group qualified form of a trajectory name. Bare
// names are looked up in every group in group order.
func Qualify(name string) (string, error) {
	group, bare, ok := strings.Cut(name, "/")
	if !ok {
		bare, group = group, ""
	}
	for _, c := range catalog {
		if group != "" && c.group != group {
			continue
		}
		for _, n := range c.names {
			if n == bare {
				return c.group + "/" + n, nil
			}
		}
	}
	return "", fmt.Errorf("qualify: unknown trajectory %q", name)
}
