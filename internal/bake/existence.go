package bake

import (
	"context"
	"fmt"
)

// ExistenceChecker answers whether an image tag already exists in a scope.
type ExistenceChecker interface {
	Exists(ctx context.Context, tag string, scope CheckScope) (bool, error)
}

// ImageLookup checks a single backend.
type ImageLookup interface {
	ImageExists(ctx context.Context, ref string) (bool, error)
}

// ScopedChecker routes existence checks to the backend for each scope.
type ScopedChecker struct {
	Local    ImageLookup
	Registry ImageLookup
}

func (c ScopedChecker) Exists(ctx context.Context, tag string, scope CheckScope) (bool, error) {
	var backend ImageLookup
	switch scope {
	case CheckNone, "":
		return false, nil
	case CheckLocal:
		backend = c.Local
	case CheckRegistry:
		backend = c.Registry
	default:
		return false, fmt.Errorf("unknown check scope %q", scope)
	}
	if backend == nil {
		return false, fmt.Errorf("no %s image backend configured", scope)
	}
	return backend.ImageExists(ctx, tag)
}

// BuildRequest is everything an Executor needs to build or push one target.
type BuildRequest struct {
	Target     string
	Dockerfile string
	Context    string
	Tags       []string
	BuildArgs  map[string]string
	Platforms  []string
	Push       bool
}

// Executor runs builds and pushes.
type Executor interface {
	Build(ctx context.Context, req BuildRequest) error
	Push(ctx context.Context, req BuildRequest) error
}
