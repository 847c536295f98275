package bake

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// contextTarget creates root/<id>/Dockerfile and returns a target building it.
func contextTarget(t *testing.T, root, id, dockerfile string) Target {
	t.Helper()
	dir := filepath.Join(root, id)
	writeFile(t, filepath.Join(dir, "Dockerfile"), dockerfile)
	return Target{
		ID:      id,
		Context: dir,
		Tags:    []string{"registry.example.com/" + id + ":{{ checksum_self }}"},
	}
}

func newTestGraph(t *testing.T, targets ...Target) *Graph {
	t.Helper()
	g := NewGraph()
	for _, tgt := range targets {
		if err := g.AddTarget(tgt); err != nil {
			t.Fatalf("AddTarget(%s): %v", tgt.ID, err)
		}
	}
	return g
}

type fakeChecker struct {
	mu     sync.Mutex
	exists map[string]bool
	err    error
	calls  []string
}

func (f *fakeChecker) Exists(_ context.Context, tag string, scope CheckScope) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, string(scope)+":"+tag)
	if f.err != nil {
		return false, f.err
	}
	return f.exists[tag], nil
}

type fakeExecutor struct {
	mu        sync.Mutex
	built     []string
	pushed    []string
	requests  map[string]BuildRequest
	failBuild map[string]error
}

func (f *fakeExecutor) Build(_ context.Context, req BuildRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failBuild[req.Target]; err != nil {
		return err
	}
	f.built = append(f.built, req.Target)
	if f.requests == nil {
		f.requests = map[string]BuildRequest{}
	}
	f.requests[req.Target] = req
	return nil
}

func (f *fakeExecutor) Push(_ context.Context, req BuildRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushed = append(f.pushed, req.Target)
	return nil
}

func (f *fakeExecutor) builtTargets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.built...)
}

type fakeGit struct {
	mu    sync.Mutex
	short string
	full  string
	calls int
}

func (f *fakeGit) ShortSHA(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.short, nil
}

func (f *fakeGit) FullSHA(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.full, nil
}
