// Package localimages answers `--check local`: an image counts as present when
// baker recorded a local build for the tag or the Docker daemon has it.
package localimages

import (
	"context"
	"fmt"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/go-logr/logr"
)

// RecordLookup is the subset of registry.Store the checker needs.
type RecordLookup interface {
	Has(reference string) (bool, error)
}

// Daemon is the subset of the Docker client the checker needs.
type Daemon interface {
	ImageInspectWithRaw(ctx context.Context, imageID string) (types.ImageInspect, []byte, error)
}

// Checker implements bake.ImageLookup for the local scope.
type Checker struct {
	Records RecordLookup
	// Daemon is optional; when nil only the records are consulted.
	Daemon Daemon
	Log    logr.Logger
}

// NewDockerDaemon connects to the daemon configured by DOCKER_HOST and friends.
// The connection is lazy, so an absent daemon only shows up on first use.
func NewDockerDaemon() (Daemon, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return cli, nil
}

func (c *Checker) ImageExists(ctx context.Context, ref string) (bool, error) {
	if c.Records != nil {
		ok, err := c.Records.Has(ref)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	if c.Daemon == nil {
		return false, nil
	}
	_, _, err := c.Daemon.ImageInspectWithRaw(ctx, ref)
	switch {
	case err == nil:
		return true, nil
	case errdefs.IsNotFound(err):
		return false, nil
	case client.IsErrConnectionFailed(err):
		c.Log.V(1).Info("docker daemon unavailable", "ref", ref, "error", err.Error())
		return false, fmt.Errorf("docker daemon: %w", err)
	default:
		return false, fmt.Errorf("inspect %s: %w", ref, err)
	}
}
