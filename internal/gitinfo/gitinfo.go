// gitinfo.go reads Git metadata for tag expressions and version output.
package gitinfo

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
)

// ShortLength is the number of hex characters in a short commit id.
const ShortLength = 7

// Source answers {{ git.short_sha }} and {{ git.full_sha }}. The commit is read
// once; later calls return the memoized result, including a failure.
type Source struct {
	Dir string

	once   sync.Once
	commit string
	err    error

	// run is swapped in tests.
	run func(ctx context.Context, dir string) (string, error)
}

// NewSource returns a Source reading the repository that contains dir.
func NewSource(dir string) *Source {
	return &Source{Dir: dir}
}

func (s *Source) FullSHA(ctx context.Context) (string, error) {
	s.once.Do(func() {
		run := s.run
		if run == nil {
			run = revParse
		}
		s.commit, s.err = run(ctx, s.Dir)
		if s.err == nil && s.commit == "" {
			s.err = errors.New("git rev-parse returned an empty commit")
		}
	})
	return s.commit, s.err
}

func (s *Source) ShortSHA(ctx context.Context) (string, error) {
	full, err := s.FullSHA(ctx)
	if err != nil {
		return "", err
	}
	if len(full) > ShortLength {
		return full[:ShortLength], nil
	}
	return full, nil
}

func revParse(ctx context.Context, dir string) (string, error) {
	out, err := git(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("git rev-parse HEAD: %w", err)
	}
	return strings.TrimSpace(out), nil
}

func git(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return "", fmt.Errorf("%w: %s", err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", err
	}
	return string(output), nil
}
