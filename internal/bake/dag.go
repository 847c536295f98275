// File: internal/bake/dag.go
// Brief: Cycle detection and stable dependency ordering.

package bake

import "sort"

const (
	white = iota
	gray
	black
)

// TopologicalOrder returns the transitive dependency closure of selection,
// dependencies first. Unrelated targets keep declaration order. An empty
// selection orders every target.
func (g *Graph) TopologicalOrder(selection []string) ([]string, error) {
	roots := normalizeIDs(selection)
	if len(roots) == 0 {
		roots = g.order
	}
	for _, id := range roots {
		if _, ok := g.targets[id]; !ok {
			return nil, &UnknownIDError{ID: id, Referrer: "selection"}
		}
	}
	closure, err := g.closure(roots)
	if err != nil {
		return nil, err
	}

	inDegree := make(map[string]int, len(closure))
	dependents := map[string][]string{}
	for _, id := range closure {
		deps := g.targets[id].DependsOn
		inDegree[id] = len(deps)
		for _, dep := range deps {
			dependents[dep] = append(dependents[dep], id)
		}
	}

	ready := make([]string, 0, len(closure))
	for _, id := range closure {
		if inDegree[id] == 0 {
			ready = append(ready, id)
		}
	}
	out := make([]string, 0, len(closure))
	for len(ready) > 0 {
		g.sortByDeclaration(ready)
		id := ready[0]
		ready = ready[1:]
		out = append(out, id)
		for _, dependent := range dependents[id] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}
	if len(out) != len(closure) {
		// closure already rejected cycles; anything left here is a bug.
		var stuck []string
		for _, id := range closure {
			if inDegree[id] > 0 {
				stuck = append(stuck, id)
			}
		}
		sort.Strings(stuck)
		return nil, &CycleError{Cycle: stuck}
	}
	return out, nil
}

// closure walks dependencies depth-first from roots and fails on the first
// back edge. The result is in declaration order.
func (g *Graph) closure(roots []string) ([]string, error) {
	color := map[string]int{}
	var path []string
	var out []string
	var visit func(id string) error
	visit = func(id string) error {
		switch color[id] {
		case black:
			return nil
		case gray:
			idx := 0
			for i := range path {
				if path[i] == id {
					idx = i
					break
				}
			}
			return &CycleError{Cycle: append([]string(nil), path[idx:]...)}
		}
		t, ok := g.targets[id]
		if !ok {
			parent := ""
			if len(path) > 0 {
				parent = path[len(path)-1]
			}
			return &InvalidDependencyError{Target: parent, Dependency: id, Reason: "no such target"}
		}
		color[id] = gray
		path = append(path, id)
		for _, dep := range t.DependsOn {
			if dep == id {
				return &InvalidDependencyError{Target: id, Dependency: dep, Reason: "target depends on itself"}
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		color[id] = black
		out = append(out, id)
		return nil
	}
	for _, id := range roots {
		if err := visit(id); err != nil {
			return nil, err
		}
	}
	g.sortByDeclaration(out)
	return out, nil
}
