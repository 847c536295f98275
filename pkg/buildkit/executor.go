package buildkit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/example/baker/internal/bake"
	"github.com/example/baker/pkg/registry"
	"github.com/go-logr/logr"
	"github.com/opencontainers/go-digest"
)

// Recorder remembers which OCI layout holds the image for a set of tags.
type Recorder interface {
	RecordBuild(target string, tags []string, layoutPath string) error
}

// Pusher uploads a recorded build.
type Pusher interface {
	Push(ctx context.Context, tags []string, opts registry.PushOptions) error
}

// Executor implements bake.Executor on top of BuildKit. Builds land in an OCI
// layout under LayoutRoot and are recorded so that pushes and `--check local`
// can find them later.
type Executor struct {
	Runner     Runner
	Records    Recorder
	Pusher     Pusher
	LayoutRoot string
	// Defaults carries builder address, cache, credentials and progress
	// settings; per-target fields are filled from the request.
	Defaults BuildOptions
	Sign     bool
	Output   io.Writer
	Log      logr.Logger
}

func (e *Executor) Build(ctx context.Context, req bake.BuildRequest) error {
	if len(req.Tags) == 0 {
		return errors.New("build request has no tags")
	}
	runner := e.Runner
	if runner == nil {
		runner = NewRunner()
	}
	opts := e.Defaults
	opts.ContextDir = req.Context
	opts.DockerfilePath = req.Dockerfile
	opts.Platforms = append([]string(nil), req.Platforms...)
	opts.BuildArgs = req.BuildArgs
	opts.Tags = append([]string(nil), req.Tags...)
	opts.OCIOutputPath = e.layoutPath(req)

	e.Log.Info("building", "target", req.Target, "tag", req.Tags[0], "layout", opts.OCIOutputPath)
	res, err := runner.BuildDockerfile(ctx, opts)
	if err != nil {
		return err
	}
	if res.Digest != "" {
		e.Log.V(1).Info("built", "target", req.Target, "digest", res.Digest)
	}
	if e.Records == nil {
		return nil
	}
	return e.Records.RecordBuild(req.Target, req.Tags, res.OCIOutputPath)
}

func (e *Executor) Push(ctx context.Context, req bake.BuildRequest) error {
	if e.Pusher == nil {
		return fmt.Errorf("push requested for %s but no registry pusher is configured", req.Target)
	}
	e.Log.Info("pushing", "target", req.Target, "tags", req.Tags)
	return e.Pusher.Push(ctx, req.Tags, registry.PushOptions{Sign: e.Sign, Output: e.Output})
}

// layoutPath keys the layout by the primary tag, which already embeds the
// content checksum, so identical inputs reuse one directory.
func (e *Executor) layoutPath(req bake.BuildRequest) string {
	root := e.LayoutRoot
	if root == "" {
		root = DefaultLayoutRoot()
	}
	key := digest.FromString(req.Tags[0]).Encoded()[:16]
	return filepath.Join(root, req.Target, key)
}
