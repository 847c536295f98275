package buildkit

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"syscall"
	"testing"
)

func TestIsDialError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "grpc unix missing",
			err:  errors.New("transport: Error while dialing: dial unix /run/user/0/buildkit/buildkitd.sock: connect: no such file or directory"),
			want: true,
		},
		{
			name: "wrapped econ refused",
			err:  &os.SyscallError{Syscall: "connect", Err: syscall.ECONNREFUSED},
			want: true,
		},
		{name: "generic error", err: errors.New("some other failure")},
		{name: "nil"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := isDialError(tc.err); got != tc.want {
				t.Fatalf("isDialError(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestBuildxFallbackProvisionsOnce(t *testing.T) {
	var calls []string
	fb := &buildxFallback{
		lookPath: func(string) (string, error) { return "/usr/bin/docker", nil },
		run: func(_ context.Context, _ io.Writer, args ...string) error {
			calls = append(calls, strings.Join(args, " "))
			if len(args) == 2 && args[0] == "inspect" && args[1] == fallbackBuilderName {
				return errors.New("missing builder")
			}
			return nil
		},
	}

	var buf bytes.Buffer
	addr1, err := fb.ensure(context.Background(), &buf)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	addr2, err := fb.ensure(context.Background(), &buf)
	if err != nil {
		t.Fatalf("ensure (cached): %v", err)
	}
	if addr1 != addr2 || addr1 != "docker-container://buildx_buildkit_baker-buildkit0" {
		t.Fatalf("addresses = %q, %q", addr1, addr2)
	}
	if want := 3; len(calls) != want {
		t.Fatalf("docker buildx calls = %d, want %d (%v)", len(calls), want, calls)
	}
	if got := buf.String(); strings.Count(got, "provisioning Docker Buildx builder") != 1 {
		t.Fatalf("unexpected log output:\n%s", got)
	}
}

func TestBuildxFallbackRemembersMissingDocker(t *testing.T) {
	lookups := 0
	fb := &buildxFallback{
		lookPath: func(string) (string, error) {
			lookups++
			return "", errors.New("not found")
		},
		run: func(context.Context, io.Writer, ...string) error {
			t.Fatalf("buildx must not run without docker")
			return nil
		},
	}
	for i := 0; i < 2; i++ {
		if _, err := fb.ensure(context.Background(), nil); err == nil {
			t.Fatalf("expected error")
		}
	}
	if lookups != 1 {
		t.Fatalf("lookPath called %d times", lookups)
	}
}
