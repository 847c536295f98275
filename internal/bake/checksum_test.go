package bake

import (
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"
)

var checksumPattern = regexp.MustCompile(`^[0-9a-f]{12}$`)

func TestSelfChecksumIsDeterministic(t *testing.T) {
	root := t.TempDir()
	tgt := contextTarget(t, root, "base", "FROM alpine:3.20\n")
	writeFile(t, filepath.Join(tgt.Context, "src", "main.py"), "print('hi')\n")
	args := map[string]string{"B": "2", "A": "1"}

	first, err := NewChecksumEngine(nil).Self(tgt, args)
	if err != nil {
		t.Fatalf("Self: %v", err)
	}
	second, err := NewChecksumEngine(nil).Self(tgt, map[string]string{"A": "1", "B": "2"})
	if err != nil {
		t.Fatalf("Self: %v", err)
	}
	if first != second {
		t.Fatalf("checksums differ across engines: %s vs %s", first, second)
	}
	if !checksumPattern.MatchString(first) {
		t.Fatalf("checksum %q is not %d lowercase hex chars", first, ChecksumLength)
	}
}

func TestSelfChecksumTracksDockerfileBytes(t *testing.T) {
	root := t.TempDir()
	tgt := contextTarget(t, root, "base", "FROM alpine:3.20\n")
	before, err := NewChecksumEngine(nil).Self(tgt, nil)
	if err != nil {
		t.Fatalf("Self: %v", err)
	}
	writeFile(t, tgt.DockerfilePath(), "FROM alpine:3.21\n")
	after, err := NewChecksumEngine(nil).Self(tgt, nil)
	if err != nil {
		t.Fatalf("Self: %v", err)
	}
	if before == after {
		t.Fatalf("checksum unchanged after Dockerfile edit: %s", before)
	}
}

func TestSelfChecksumTracksBuildArgs(t *testing.T) {
	root := t.TempDir()
	tgt := contextTarget(t, root, "base", "FROM alpine\n")
	engine := NewChecksumEngine(nil)
	a, err := engine.Self(tgt, map[string]string{"VERSION": "1"})
	if err != nil {
		t.Fatalf("Self: %v", err)
	}
	b, err := engine.Self(tgt, map[string]string{"VERSION": "2"})
	if err != nil {
		t.Fatalf("Self: %v", err)
	}
	if a == b {
		t.Fatalf("build-arg value did not change checksum")
	}
}

func TestSelfChecksumHonorsDockerignore(t *testing.T) {
	root := t.TempDir()
	tgt := contextTarget(t, root, "app", "FROM alpine\nCOPY . /app\n")
	writeFile(t, filepath.Join(tgt.Context, ".dockerignore"), "*.log\nbuild/\n")
	writeFile(t, filepath.Join(tgt.Context, "app.py"), "v1")
	writeFile(t, filepath.Join(tgt.Context, "debug.log"), "one")
	writeFile(t, filepath.Join(tgt.Context, "build", "out.bin"), "x")
	writeFile(t, filepath.Join(tgt.Context, ".git", "HEAD"), "ref: refs/heads/main\n")

	base, err := NewChecksumEngine(nil).Self(tgt, nil)
	if err != nil {
		t.Fatalf("Self: %v", err)
	}

	writeFile(t, filepath.Join(tgt.Context, "debug.log"), "two")
	writeFile(t, filepath.Join(tgt.Context, "build", "out.bin"), "y")
	writeFile(t, filepath.Join(tgt.Context, ".git", "HEAD"), "ref: refs/heads/other\n")
	ignored, err := NewChecksumEngine(nil).Self(tgt, nil)
	if err != nil {
		t.Fatalf("Self: %v", err)
	}
	if ignored != base {
		t.Fatalf("ignored files changed the checksum: %s vs %s", base, ignored)
	}

	writeFile(t, filepath.Join(tgt.Context, "app.py"), "v2")
	changed, err := NewChecksumEngine(nil).Self(tgt, nil)
	if err != nil {
		t.Fatalf("Self: %v", err)
	}
	if changed == base {
		t.Fatalf("context change did not change the checksum")
	}
}

func TestSelfChecksumDockerignoreExceptions(t *testing.T) {
	root := t.TempDir()
	tgt := contextTarget(t, root, "app", "FROM alpine\nCOPY . /app\n")
	writeFile(t, filepath.Join(tgt.Context, ".dockerignore"), "build\n!build/keep.txt\n")
	writeFile(t, filepath.Join(tgt.Context, "build", "keep.txt"), "v1")
	writeFile(t, filepath.Join(tgt.Context, "build", "out.bin"), "x")

	base, err := NewChecksumEngine(nil).Self(tgt, nil)
	if err != nil {
		t.Fatalf("Self: %v", err)
	}
	writeFile(t, filepath.Join(tgt.Context, "build", "out.bin"), "y")
	if got, err := NewChecksumEngine(nil).Self(tgt, nil); err != nil || got != base {
		t.Fatalf("ignored file changed the checksum: %s vs %s (%v)", base, got, err)
	}
	writeFile(t, filepath.Join(tgt.Context, "build", "keep.txt"), "v2")
	if got, err := NewChecksumEngine(nil).Self(tgt, nil); err != nil || got == base {
		t.Fatalf("re-included file did not change the checksum (%v)", err)
	}
}

func TestSelfChecksumSkipsIgnoredDirectories(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("directory permissions do not apply to root")
	}
	root := t.TempDir()
	tgt := contextTarget(t, root, "app", "FROM alpine\nCOPY . /app\n")
	writeFile(t, filepath.Join(tgt.Context, ".dockerignore"), "node_modules\n")
	locked := filepath.Join(tgt.Context, "node_modules", "locked")
	writeFile(t, filepath.Join(locked, "index.js"), "x")
	if err := os.Chmod(locked, 0o000); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	t.Cleanup(func() { _ = os.Chmod(locked, 0o755) })

	if _, err := NewChecksumEngine(nil).Self(tgt, nil); err != nil {
		t.Fatalf("ignored directory was walked: %v", err)
	}
}

func TestSelfChecksumMissingDockerfile(t *testing.T) {
	dir := t.TempDir()
	_, err := NewChecksumEngine(nil).Self(Target{ID: "ghost", Context: dir}, nil)
	var sumErr *ChecksumError
	if !errors.As(err, &sumErr) || sumErr.Target != "ghost" {
		t.Fatalf("expected ChecksumError for ghost, got %v", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist cause, got %v", err)
	}
}

func TestDepsChecksumUsesDirectDependenciesOnly(t *testing.T) {
	engine := NewChecksumEngine(nil)
	app := Target{ID: "app", DependsOn: []string{"mid"}}

	s1 := NewChecksumStore()
	mustPut(t, s1, "base", Identity{Self: "aaaaaaaaaaaa"})
	mustPut(t, s1, "mid", Identity{Self: "bbbbbbbbbbbb"})
	s2 := NewChecksumStore()
	mustPut(t, s2, "base", Identity{Self: "cccccccccccc"})
	mustPut(t, s2, "mid", Identity{Self: "bbbbbbbbbbbb"})

	d1, err := engine.Deps(app, s1)
	if err != nil {
		t.Fatalf("Deps: %v", err)
	}
	d2, err := engine.Deps(app, s2)
	if err != nil {
		t.Fatalf("Deps: %v", err)
	}
	if d1 != d2 {
		t.Fatalf("transitive dependency leaked into checksum_deps: %s vs %s", d1, d2)
	}

	s3 := NewChecksumStore()
	mustPut(t, s3, "mid", Identity{Self: "dddddddddddd"})
	d3, err := engine.Deps(app, s3)
	if err != nil {
		t.Fatalf("Deps: %v", err)
	}
	if d3 == d1 {
		t.Fatalf("direct dependency change did not change checksum_deps")
	}
}

func TestDepsChecksumIgnoresDeclarationOrder(t *testing.T) {
	engine := NewChecksumEngine(nil)
	store := NewChecksumStore()
	mustPut(t, store, "a", Identity{Self: "111111111111"})
	mustPut(t, store, "b", Identity{Self: "222222222222"})
	x, err := engine.Deps(Target{ID: "x", DependsOn: []string{"a", "b"}}, store)
	if err != nil {
		t.Fatalf("Deps: %v", err)
	}
	y, err := engine.Deps(Target{ID: "y", DependsOn: []string{"b", "a"}}, store)
	if err != nil {
		t.Fatalf("Deps: %v", err)
	}
	if x != y {
		t.Fatalf("dependency order changed checksum_deps: %s vs %s", x, y)
	}
}

func TestDepsChecksumRequiresFinalizedDependencies(t *testing.T) {
	_, err := NewChecksumEngine(nil).Deps(Target{ID: "app", DependsOn: []string{"base"}}, NewChecksumStore())
	if !errors.Is(err, ErrUnresolvedChecksum) {
		t.Fatalf("expected ErrUnresolvedChecksum, got %v", err)
	}
}

func TestChecksumStoreIsWriteOnce(t *testing.T) {
	store := NewChecksumStore()
	mustPut(t, store, "base", Identity{Self: "aaaaaaaaaaaa"})
	if err := store.Put("base", Identity{Self: "bbbbbbbbbbbb"}); err == nil {
		t.Fatalf("expected second Put to fail")
	}
	got, _ := store.Get("base")
	if got.Self != "aaaaaaaaaaaa" {
		t.Fatalf("identity overwritten: %+v", got)
	}
}

func mustPut(t *testing.T, s *ChecksumStore, id string, ident Identity) {
	t.Helper()
	if err := s.Put(id, ident); err != nil {
		t.Fatalf("Put(%s): %v", id, err)
	}
}
