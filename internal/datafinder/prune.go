// SPDX-License-Identifier: MPL-2.0

package datafinder

import (
	"strings"

	"golang.org/x/exp/slices"
)

type (
	// Triple is one (model, experiment, ensemble) combination.
	Triple struct {
		Model      string `json:"model"`
		Experiment string `json:"experiment"`
		Ensemble   string `json:"ensemble"`
	}

	// Facets lists the combinations that satisfy a data requirement, plus the
	// distinct values of each axis. All slices are sorted.
	Facets struct {
		Triples     []Triple `json:"triples"`
		Models      []string `json:"models"`
		Experiments []string `json:"experiments"`
		Ensembles   []string `json:"ensembles"`
	}

	// query evaluates one (variables, frequency) requirement over a tree.
	query struct {
		levels    Levels
		pos       positions
		vars      []string
		freq      string
		qualified map[Triple]struct{}
	}
)

// Compare orders triples by model, experiment, then ensemble.
func (t Triple) Compare(o Triple) int {
	if c := strings.Compare(t.Model, o.Model); c != 0 {
		return c
	}
	if c := strings.Compare(t.Experiment, o.Experiment); c != 0 {
		return c
	}
	return strings.Compare(t.Ensemble, o.Ensemble)
}

// Empty reports whether no combination qualified.
func (f Facets) Empty() bool {
	return len(f.Triples) == 0
}

// Contains reports whether t is one of the qualifying triples.
func (f Facets) Contains(t Triple) bool {
	_, found := slices.BinarySearchFunc(f.Triples, t, Triple.Compare)
	return found
}

func newQuery(tree *Node, levels Levels, vars []string, freq string) *query {
	q := &query{
		levels: levels,
		pos:    levels.positions(),
		vars:   dedupe(vars),
		freq:   freq,
	}
	q.qualified = q.qualify(tree)
	return q
}

// qualify walks every path down to the variable level and returns the
// triples whose variables, pooled across the levels that are not part of
// the triple, include every required variable.
func (q *query) qualify(tree *Node) map[Triple]struct{} {
	found := make(map[Triple]map[string]struct{})
	path := make([]string, len(q.levels))

	var walk func(n *Node, depth int)
	walk = func(n *Node, depth int) {
		path[depth] = n.Name
		if depth == q.pos.frequency && !q.freqMatches(n.Name) {
			return
		}
		if depth == q.pos.variable {
			t := q.triple(path)
			if found[t] == nil {
				found[t] = make(map[string]struct{})
			}
			found[t][n.Name] = struct{}{}
			return
		}
		for _, c := range n.Children {
			walk(c, depth+1)
		}
	}
	for _, c := range tree.Children {
		walk(c, 0)
	}

	qualified := make(map[Triple]struct{})
	for t, have := range found {
		if containsAll(have, q.vars) {
			qualified[t] = struct{}{}
		}
	}
	return qualified
}

// prune copies tree, keeping only paths that end at the leaf-parent level
// under a matching frequency and a qualifying triple. Variable leaves are
// dropped. The root is always returned.
func (q *query) prune(tree *Node) *Node {
	path := make([]string, len(q.levels))
	leaf := q.levels.leafParent()

	var walk func(n *Node, depth int) *Node
	walk = func(n *Node, depth int) *Node {
		path[depth] = n.Name
		if depth == q.pos.frequency && !q.freqMatches(n.Name) {
			return nil
		}
		if depth == leaf {
			if _, ok := q.qualified[q.triple(path)]; !ok {
				return nil
			}
			return &Node{Name: n.Name}
		}

		out := &Node{Name: n.Name}
		for _, c := range n.Children {
			if pc := walk(c, depth+1); pc != nil {
				out.Children = append(out.Children, pc)
			}
		}
		if len(out.Children) == 0 {
			return nil
		}
		return out
	}

	root := &Node{Name: tree.Name}
	for _, c := range tree.Children {
		if pc := walk(c, 0); pc != nil {
			root.Children = append(root.Children, pc)
		}
	}
	return root
}

func (q *query) facets() Facets {
	f := Facets{
		Triples:     make([]Triple, 0, len(q.qualified)),
		Models:      []string{},
		Experiments: []string{},
		Ensembles:   []string{},
	}
	for t := range q.qualified {
		f.Triples = append(f.Triples, t)
		f.Models = append(f.Models, t.Model)
		f.Experiments = append(f.Experiments, t.Experiment)
		f.Ensembles = append(f.Ensembles, t.Ensemble)
	}
	slices.SortFunc(f.Triples, Triple.Compare)
	f.Models = sortedUnique(f.Models)
	f.Experiments = sortedUnique(f.Experiments)
	f.Ensembles = sortedUnique(f.Ensembles)
	return f
}

func (q *query) freqMatches(name string) bool {
	return q.freq == "" || q.freq == name
}

// triple reads the triple off a path. Only the entries at or above the
// current depth are meaningful; callers ask after the ensemble level.
func (q *query) triple(path []string) Triple {
	return Triple{
		Model:      path[q.pos.model],
		Experiment: path[q.pos.experiment],
		Ensemble:   path[q.pos.ensemble],
	}
}

func containsAll(have map[string]struct{}, want []string) bool {
	for _, v := range want {
		if _, ok := have[v]; !ok {
			return false
		}
	}
	return true
}

func dedupe(vars []string) []string {
	out := make([]string, 0, len(vars))
	for _, v := range vars {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return sortedUnique(out)
}

func sortedUnique(s []string) []string {
	slices.Sort(s)
	return slices.Compact(s)
}
