package buildkit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"

	"github.com/moby/buildkit/client"
)

const fallbackBuilderName = "baker-buildkit"

// buildxFallback provisions a docker-container Buildx builder when no
// buildkitd socket answers. The outcome is resolved once per process so
// parallel target builds share a single provisioning attempt.
type buildxFallback struct {
	lookPath func(string) (string, error)
	run      func(ctx context.Context, logWriter io.Writer, args ...string) error

	mu       sync.Mutex
	resolved bool
	addr     string
	err      error
}

var defaultFallback = &buildxFallback{lookPath: exec.LookPath, run: runDockerBuildx}

type buildkitClientFactory struct {
	allowFallback bool
	logWriter     io.Writer
	fallback      *buildxFallback
}

func (f buildkitClientFactory) new(ctx context.Context, addr string) (*client.Client, string, error) {
	c, err := dialBuildkit(ctx, addr)
	if err == nil {
		return c, addr, nil
	}
	if !f.allowFallback || !isDialError(err) {
		return nil, addr, fmt.Errorf("connect to buildkitd at %s: %w", addr, err)
	}
	fb := f.fallback
	if fb == nil {
		fb = defaultFallback
	}
	fallbackAddr, fbErr := fb.ensure(ctx, f.logWriter)
	if fbErr != nil {
		return nil, addr, fmt.Errorf("connect to buildkitd at %s and fallback failed: %w", addr, errors.Join(err, fbErr))
	}
	c, err = dialBuildkit(ctx, fallbackAddr)
	if err != nil {
		return nil, fallbackAddr, fmt.Errorf("connect to buildkitd at %s after fallback: %w", fallbackAddr, err)
	}
	return c, fallbackAddr, nil
}

func (b *buildxFallback) ensure(ctx context.Context, logWriter io.Writer) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.resolved {
		return b.addr, b.err
	}
	b.resolved = true
	b.addr, b.err = b.provision(ctx, logWriter)
	return b.addr, b.err
}

func (b *buildxFallback) provision(ctx context.Context, logWriter io.Writer) (string, error) {
	if _, err := b.lookPath("docker"); err != nil {
		return "", fmt.Errorf("docker CLI not found: %w", err)
	}
	logf := func(format string, args ...any) {
		if logWriter != nil {
			fmt.Fprintf(logWriter, format, args...)
		}
	}
	logf("BuildKit endpoint unavailable; provisioning Docker Buildx builder %s...\n", fallbackBuilderName)
	if err := b.run(ctx, logWriter, "inspect", fallbackBuilderName); err != nil {
		if err := b.run(ctx, logWriter, "create", "--name", fallbackBuilderName, "--driver", "docker-container"); err != nil {
			return "", err
		}
	}
	if err := b.run(ctx, logWriter, "inspect", "--bootstrap", fallbackBuilderName); err != nil {
		return "", err
	}
	logf("Using Docker Buildx builder %s\n", fallbackBuilderName)
	return fmt.Sprintf("docker-container://buildx_buildkit_%s0", fallbackBuilderName), nil
}

func runDockerBuildx(ctx context.Context, logWriter io.Writer, args ...string) error {
	cmd := exec.CommandContext(ctx, "docker", append([]string{"buildx"}, args...)...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	if err := cmd.Run(); err != nil {
		if logWriter != nil && buf.Len() > 0 {
			_, _ = logWriter.Write(buf.Bytes())
		}
		return fmt.Errorf("docker buildx %s: %w", strings.Join(args, " "), err)
	}
	return nil
}

func dialBuildkit(ctx context.Context, addr string) (*client.Client, error) {
	c, err := client.New(ctx, addr)
	if err != nil {
		return nil, err
	}
	// client.New does not connect; listing workers proves the endpoint answers.
	if _, err := c.ListWorkers(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func isDialError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrNotExist) {
		return true
	}
	var sysErr *os.SyscallError
	if errors.As(err, &sysErr) {
		switch sysErr.Err {
		case syscall.ENOENT, syscall.ECONNREFUSED, syscall.EACCES:
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	for _, sub := range []string{
		"no such file or directory",
		"connection refused",
		"error while dialing",
		"connect: permission denied",
	} {
		if strings.Contains(msg, sub) {
			return true
		}
	}
	return false
}
