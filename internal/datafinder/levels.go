// SPDX-License-Identifier: MPL-2.0

package datafinder

import (
	"errors"
	"fmt"

	"golang.org/x/exp/slices"
)

// Level names the finder needs to locate in a layout.
const (
	LevelModel      = "model"
	LevelExperiment = "experiment"
	LevelFrequency  = "frequency"
	LevelEnsemble   = "ensemble"
	LevelVariable   = "variable"
)

// ErrInvalidLevels is returned when a directory layout cannot be queried.
var ErrInvalidLevels = errors.New("invalid DRS levels")

// Levels names the directory levels below the archive root, outermost first.
type Levels []string

// DefaultLevels is the CMIP5 DRS layout.
func DefaultLevels() Levels {
	return Levels{"organization", "model", "experiment", "frequency", "mip", "realm", "ensemble", "version", "variable"}
}

// Validate checks that the layout names every level the queries depend on,
// without duplicates, and ends with the variable level.
func (l Levels) Validate() error {
	if len(l) == 0 {
		return fmt.Errorf("%w: no levels", ErrInvalidLevels)
	}
	seen := make(map[string]struct{}, len(l))
	for _, name := range l {
		if name == "" {
			return fmt.Errorf("%w: empty level name", ErrInvalidLevels)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%w: duplicate level %q", ErrInvalidLevels, name)
		}
		seen[name] = struct{}{}
	}
	for _, required := range []string{LevelModel, LevelExperiment, LevelFrequency, LevelEnsemble, LevelVariable} {
		if _, ok := seen[required]; !ok {
			return fmt.Errorf("%w: missing %q level", ErrInvalidLevels, required)
		}
	}
	if l[len(l)-1] != LevelVariable {
		return fmt.Errorf("%w: %q must be the last level", ErrInvalidLevels, LevelVariable)
	}
	return nil
}

// Index returns the position of name, or -1.
func (l Levels) Index(name string) int {
	return slices.Index(l, name)
}

// leafParent is the level directly above variable. After pruning strips the
// variable leaves, nodes at this level are the leaves of the tree.
func (l Levels) leafParent() int {
	return len(l) - 2
}

// positions caches the indices used while walking a tree.
type positions struct {
	model, experiment, frequency, ensemble, variable int
}

func (l Levels) positions() positions {
	return positions{
		model:      l.Index(LevelModel),
		experiment: l.Index(LevelExperiment),
		frequency:  l.Index(LevelFrequency),
		ensemble:   l.Index(LevelEnsemble),
		variable:   l.Index(LevelVariable),
	}
}
