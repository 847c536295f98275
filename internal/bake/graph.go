// File: internal/bake/graph.go
// Brief: Target registry, bundle expansion and dependency queries.

package bake

import (
	"fmt"
	"sort"
	"strings"
)

// Graph holds targets and bundles. An edge A -> B means A depends on B.
type Graph struct {
	targets map[string]Target
	order   []string
	index   map[string]int

	bundles     map[string]Bundle
	bundleOrder []string
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{
		targets: map[string]Target{},
		index:   map[string]int{},
		bundles: map[string]Bundle{},
	}
}

// AddTarget registers a target. Ids are unique across targets and bundles.
func (g *Graph) AddTarget(t Target) error {
	t.ID = strings.TrimSpace(t.ID)
	if t.ID == "" {
		return fmt.Errorf("%w: target id is required", ErrConfiguration)
	}
	if err := g.checkFree(t.ID); err != nil {
		return err
	}
	g.index[t.ID] = len(g.order)
	g.order = append(g.order, t.ID)
	g.targets[t.ID] = t.clone()
	return nil
}

// AddBundle registers a bundle. Members are checked by Validate.
func (g *Graph) AddBundle(b Bundle) error {
	b.ID = strings.TrimSpace(b.ID)
	if b.ID == "" {
		return fmt.Errorf("%w: bundle id is required", ErrConfiguration)
	}
	if err := g.checkFree(b.ID); err != nil {
		return err
	}
	g.bundleOrder = append(g.bundleOrder, b.ID)
	g.bundles[b.ID] = Bundle{ID: b.ID, Targets: b.Members()}
	return nil
}

func (g *Graph) checkFree(id string) error {
	if _, ok := g.targets[id]; ok {
		return &DuplicateIDError{ID: id, Existing: "target"}
	}
	if _, ok := g.bundles[id]; ok {
		return &DuplicateIDError{ID: id, Existing: "bundle"}
	}
	return nil
}

// Target returns a copy of the target with the given id.
func (g *Graph) Target(id string) (Target, bool) {
	t, ok := g.targets[id]
	if !ok {
		return Target{}, false
	}
	return t.clone(), true
}

// Targets returns copies of every target in declaration order.
func (g *Graph) Targets() []Target {
	out := make([]Target, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.targets[id].clone())
	}
	return out
}

// Bundles returns every bundle in declaration order.
func (g *Graph) Bundles() []Bundle {
	out := make([]Bundle, 0, len(g.bundleOrder))
	for _, id := range g.bundleOrder {
		b := g.bundles[id]
		out = append(out, Bundle{ID: b.ID, Targets: append([]string(nil), b.Targets...)})
	}
	return out
}

// withTargets returns a graph with the same bundles and the given targets,
// which must carry the same ids in the same order.
func (g *Graph) withTargets(targets []Target) (*Graph, error) {
	out := NewGraph()
	for _, t := range targets {
		if err := out.AddTarget(t); err != nil {
			return nil, err
		}
	}
	for _, b := range g.Bundles() {
		if err := out.AddBundle(b); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Validate checks that every dependency and bundle member exists, that no target
// depends on itself, and that neither targets nor nested bundles form a cycle.
func (g *Graph) Validate() error {
	for _, id := range g.order {
		for _, dep := range g.targets[id].DependsOn {
			if dep == id {
				return &InvalidDependencyError{Target: id, Dependency: dep, Reason: "target depends on itself"}
			}
			if _, ok := g.targets[dep]; !ok {
				reason := "no such target"
				if _, isBundle := g.bundles[dep]; isBundle {
					reason = "bundles cannot be dependencies"
				}
				return &InvalidDependencyError{Target: id, Dependency: dep, Reason: reason}
			}
		}
	}
	for _, id := range g.bundleOrder {
		if err := g.expandBundle(id, nil, map[string]struct{}{}); err != nil {
			return err
		}
	}
	_, err := g.TopologicalOrder(nil)
	return err
}

// ResolveSelection expands target and bundle ids into target ids in declaration
// order. An empty selection selects every target.
func (g *Graph) ResolveSelection(names []string) ([]string, error) {
	if len(normalizeIDs(names)) == 0 {
		return append([]string(nil), g.order...), nil
	}
	picked := map[string]struct{}{}
	for _, name := range normalizeIDs(names) {
		if _, ok := g.targets[name]; ok {
			picked[name] = struct{}{}
			continue
		}
		if _, ok := g.bundles[name]; ok {
			if err := g.expandBundle(name, nil, picked); err != nil {
				return nil, err
			}
			continue
		}
		return nil, &UnknownIDError{ID: name, Referrer: "selection"}
	}
	out := make([]string, 0, len(picked))
	for id := range picked {
		out = append(out, id)
	}
	g.sortByDeclaration(out)
	return out, nil
}

// expandBundle adds the targets of bundle id to picked, following nested
// bundles. stack holds the bundles being expanded; meeting one again is a cycle.
func (g *Graph) expandBundle(id string, stack []string, picked map[string]struct{}) error {
	for i, open := range stack {
		if open == id {
			return &CycleError{Cycle: append([]string(nil), stack[i:]...)}
		}
	}
	stack = append(stack, id)
	for _, member := range g.bundles[id].Targets {
		if _, ok := g.targets[member]; ok {
			picked[member] = struct{}{}
			continue
		}
		if _, ok := g.bundles[member]; ok {
			if err := g.expandBundle(member, stack, picked); err != nil {
				return err
			}
			continue
		}
		return &UnknownIDError{ID: member, Referrer: "bundle " + id}
	}
	return nil
}

// DepsOf returns the transitive dependencies of id in declaration order.
func (g *Graph) DepsOf(id string) []string {
	return g.walk(id, func(t Target) []string { return t.DependsOn })
}

// DependentsOf returns every target that transitively depends on id, in declaration order.
func (g *Graph) DependentsOf(id string) []string {
	dependents := map[string][]string{}
	for _, tid := range g.order {
		for _, dep := range g.targets[tid].DependsOn {
			dependents[dep] = append(dependents[dep], tid)
		}
	}
	return g.walk(id, func(t Target) []string { return dependents[t.ID] })
}

func (g *Graph) walk(id string, next func(Target) []string) []string {
	start, ok := g.targets[id]
	if !ok {
		return nil
	}
	seen := map[string]struct{}{id: {}}
	queue := append([]string(nil), next(start)...)
	var out []string
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if _, ok := seen[cur]; ok {
			continue
		}
		seen[cur] = struct{}{}
		t, ok := g.targets[cur]
		if !ok {
			continue
		}
		out = append(out, cur)
		queue = append(queue, next(t)...)
	}
	g.sortByDeclaration(out)
	return out
}

func (g *Graph) sortByDeclaration(ids []string) {
	sort.Slice(ids, func(i, j int) bool { return g.index[ids[i]] < g.index[ids[j]] })
}
