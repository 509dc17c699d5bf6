package model

import (
	"embed"
	"fmt"
	"os"
	"path"
	"sort"
)

//go:embed assets/*.xml
var assets embed.FS

// Robots with models embedded in this package, keyed by robot name
var robotAssets = map[string]string{
	"UnitreeG1": "unitree_g1.xml",
	"UnitreeH1": "unitree_h1.xml",
}

// Robots returns the names of all robots with embedded models, sorted
func Robots() []string {
	names := make([]string, 0, len(robotAssets))
	for name := range robotAssets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load loads a Model. The source is either the name of a robot with an
// embedded model (e.g. "UnitreeG1") or a path to an MJCF XML file.
func Load(source string) (*Model, error) {
	if file, ok := robotAssets[source]; ok {
		data, err := assets.ReadFile(path.Join("assets", file))
		if err != nil {
			return nil, fmt.Errorf("load: could not read embedded model "+
				"%v: %v", source, err)
		}
		return Parse(data)
	}

	data, err := os.ReadFile(source)
	if err != nil {
		return nil, fmt.Errorf("load: no such robot or model file %q: %v",
			source, err)
	}
	return Parse(data)
}
