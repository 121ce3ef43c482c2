// SPDX-License-Identifier: MPL-2.0

package recipe

import (
	"strconv"

	"github.com/c3s-magic/magicwps/internal/catalog"
)

// substituter replaces {input} placeholders in recipe templates. A string that
// is exactly one placeholder takes the typed value of the input; other strings
// are expanded textually.
type substituter struct {
	single map[string]string
	typed  map[string]any
}

func newSubstituter(p *catalog.Process, values map[string][]string) substituter {
	s := substituter{
		single: map[string]string{},
		typed:  map[string]any{},
	}
	for _, in := range p.Inputs() {
		raw := first(values, in.Identifier, in.Default())
		s.single[in.Identifier] = raw

		switch in.Source {
		case catalog.SourceOption:
			if v, err := p.Options[in.Index].Export(raw); err == nil {
				s.typed[in.Identifier] = v
			}
		case catalog.SourceYear:
			if n, err := strconv.Atoi(raw); err == nil {
				s.typed[in.Identifier] = n
			}
		case catalog.SourceDataset:
			s.typed[in.Identifier] = raw
		}
	}
	if p.Recipe != nil {
		s.single["diagnostic"] = p.Recipe.Diagnostic
		s.single["script"] = p.Recipe.Script
	}
	return s
}

// apply returns a deep copy of v with placeholders replaced.
func (s substituter) apply(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = s.apply(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = s.apply(item)
		}
		return out
	case string:
		if names := catalog.Placeholders(t); len(names) == 1 && t == "{"+names[0]+"}" {
			if typed, ok := s.typed[names[0]]; ok {
				return typed
			}
		}
		return catalog.ExpandPath(t, s.single)
	default:
		return v
	}
}
