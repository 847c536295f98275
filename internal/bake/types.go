// File: internal/bake/types.go
// Brief: Build targets and bundles as declared in build settings.

// Package bake resolves build targets into content-addressed image tags and
// plans which of them need to be built, in dependency order.
package bake

import (
	"path/filepath"
	"sort"
	"strings"
)

// Target is one buildable image.
type Target struct {
	ID         string
	Dockerfile string
	Context    string
	DependsOn  []string
	// BuildArgs maps build-arg names to templates.
	BuildArgs map[string]string
	// Tags are templates; the first one is the primary tag.
	Tags      []string
	Platforms []string
}

// DockerfilePath returns the Dockerfile location, defaulting to Context/Dockerfile.
func (t Target) DockerfilePath() string {
	if strings.TrimSpace(t.Dockerfile) != "" {
		return t.Dockerfile
	}
	ctx := t.Context
	if strings.TrimSpace(ctx) == "" {
		ctx = "."
	}
	return filepath.Join(ctx, "Dockerfile")
}

// ContextDir returns the build context, defaulting to the current directory.
func (t Target) ContextDir() string {
	if strings.TrimSpace(t.Context) == "" {
		return "."
	}
	return t.Context
}

// ArgNames returns the build-arg names in sorted order.
func (t Target) ArgNames() []string {
	names := make([]string, 0, len(t.BuildArgs))
	for k := range t.BuildArgs {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (t Target) clone() Target {
	out := t
	out.DependsOn = normalizeIDs(t.DependsOn)
	out.Tags = append([]string(nil), t.Tags...)
	out.Platforms = append([]string(nil), t.Platforms...)
	if t.BuildArgs != nil {
		out.BuildArgs = make(map[string]string, len(t.BuildArgs))
		for k, v := range t.BuildArgs {
			out.BuildArgs[k] = v
		}
	}
	return out
}

// Bundle is a named group of targets selectable as a unit.
type Bundle struct {
	ID      string
	Targets []string
}

// Members returns the bundle's target ids with duplicates removed, keeping
// first-seen order.
func (b Bundle) Members() []string {
	return normalizeIDs(b.Targets)
}

func normalizeIDs(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
