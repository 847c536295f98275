package buildkit

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"runtime"

	"github.com/containerd/console"
	"github.com/docker/cli/cli/config/configfile"
)

// CacheSpec represents a cache import or export entry in a user-friendly form.
type CacheSpec struct {
	Type  string
	Attrs map[string]string
}

// Secret configures a BuildKit secret exposed during the build.
type Secret struct {
	ID   string
	Env  string
	File string
}

// BuildOptions configures one Dockerfile solve. The result is always exported
// as an OCI layout directory at OCIOutputPath.
type BuildOptions struct {
	BuilderAddr          string
	AllowBuilderFallback bool
	ContextDir           string
	DockerfilePath       string
	Platforms            []string
	BuildArgs            map[string]string
	Secrets              []Secret
	Tags                 []string
	CacheDir             string
	CacheExports         []CacheSpec
	CacheImports         []CacheSpec
	NoCache              bool
	Pull                 bool
	// ProgressMode is auto, plain, tty or quiet.
	ProgressMode   string
	ProgressOutput console.File
	DockerConfig   *configfile.ConfigFile
	OCIOutputPath  string
}

// BuildResult describes the result of a Dockerfile build.
type BuildResult struct {
	Digest           string
	ExporterResponse map[string]string
	OCIOutputPath    string
}

// Runner defines the programmable contract for invoking BuildKit solves.
type Runner interface {
	BuildDockerfile(ctx context.Context, opts BuildOptions) (*BuildResult, error)
}

type defaultRunner struct{}

// NewRunner returns the BuildKit runner used by the CLI.
func NewRunner() Runner {
	return defaultRunner{}
}

func (defaultRunner) BuildDockerfile(ctx context.Context, opts BuildOptions) (*BuildResult, error) {
	return BuildDockerfile(ctx, opts)
}

// DefaultBuilderAddress returns the best-effort rootless BuildKit socket.
func DefaultBuilderAddress() string {
	if v := os.Getenv("BAKER_BUILDKIT_HOST"); v != "" {
		return v
	}
	if v := os.Getenv("BUILDKIT_HOST"); v != "" {
		return v
	}
	if runtime.GOOS == "windows" {
		return "npipe:////./pipe/buildkitd"
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return "unix://" + filepath.Join(dir, "buildkit", "buildkitd.sock")
	}
	if uid := os.Getenv("UID"); uid != "" {
		return fmt.Sprintf("unix:///run/user/%s/buildkit/buildkitd.sock", uid)
	}
	if u, err := user.Current(); err == nil && u.Uid != "" {
		return fmt.Sprintf("unix:///run/user/%s/buildkit/buildkitd.sock", u.Uid)
	}
	return "unix:///run/user/1000/buildkit/buildkitd.sock"
}

// DefaultCacheDir returns a user cache folder for BuildKit's local cache export.
func DefaultCacheDir() string {
	return userCachePath("BAKER_BUILDKIT_CACHE", "buildkit-cache")
}

// DefaultLayoutRoot returns the folder that holds one OCI layout per build.
func DefaultLayoutRoot() string {
	return userCachePath("BAKER_OCI_DIR", "oci")
}

func userCachePath(env, leaf string) string {
	if v := os.Getenv(env); v != "" {
		return v
	}
	if cacheDir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(cacheDir, "baker", leaf)
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, ".cache", "baker", leaf)
	}
	return filepath.Join(os.TempDir(), "baker-"+leaf)
}
