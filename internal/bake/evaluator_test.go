package bake

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestEvaluator(t *testing.T, g *Graph, inv Invocation) (*Evaluator, *ChecksumStore) {
	t.Helper()
	store := NewChecksumStore()
	return NewEvaluator(g, store, NewChecksumEngine(nil), inv), store
}

func TestEvaluateEnvLenientAndStrict(t *testing.T) {
	g := newTestGraph(t, Target{ID: "app"})
	tgt, _ := g.Target("app")
	ctx := context.Background()

	lenient, _ := newTestEvaluator(t, g, Invocation{Env: map[string]string{"PY": "3.12"}})
	got, err := lenient.EvaluateString(ctx, tgt, "py{{ env.PY }}-{{ env.MISSING }}", Identity{})
	if err != nil {
		t.Fatalf("EvaluateString: %v", err)
	}
	if got != "py3.12-" {
		t.Fatalf("got %q", got)
	}

	strict, _ := newTestEvaluator(t, g, Invocation{StrictEnv: true})
	_, err = strict.EvaluateString(ctx, tgt, "{{ env.MISSING }}", Identity{})
	if !errors.Is(err, ErrMissingEnv) {
		t.Fatalf("expected ErrMissingEnv, got %v", err)
	}
	var exprErr *ExpressionError
	if !errors.As(err, &exprErr) || exprErr.Target != "app" || exprErr.Expression != "env.MISSING" {
		t.Fatalf("unexpected error detail: %+v", err)
	}
}

func TestEvaluateTimestampIsInvocationStart(t *testing.T) {
	g := newTestGraph(t, Target{ID: "app"})
	tgt, _ := g.Target("app")
	start := time.Date(2026, 3, 4, 5, 6, 7, 0, time.FixedZone("X", 3600))
	ev, _ := newTestEvaluator(t, g, Invocation{Start: start})
	got, err := ev.EvaluateString(context.Background(), tgt, "v{{ timestamp }}", Identity{})
	if err != nil {
		t.Fatalf("EvaluateString: %v", err)
	}
	if got != "v20260304040607" {
		t.Fatalf("got %q", got)
	}
}

func TestEvaluateGitIsMemoized(t *testing.T) {
	g := newTestGraph(t, Target{ID: "a"}, Target{ID: "b"})
	git := &fakeGit{short: "abc1234", full: "abc1234def"}
	ev, _ := newTestEvaluator(t, g, Invocation{Git: git})
	for _, id := range []string{"a", "b", "a"} {
		tgt, _ := g.Target(id)
		got, err := ev.EvaluateString(context.Background(), tgt, "{{ git.short_sha }}", Identity{})
		if err != nil {
			t.Fatalf("EvaluateString: %v", err)
		}
		if got != "abc1234" {
			t.Fatalf("got %q", got)
		}
	}
	if git.calls != 1 {
		t.Fatalf("git queried %d times, want 1", git.calls)
	}

	noGit, _ := newTestEvaluator(t, g, Invocation{})
	tgt, _ := g.Target("a")
	if _, err := noGit.EvaluateString(context.Background(), tgt, "{{ git.full_sha }}", Identity{}); !errors.Is(err, ErrGitMetadata) {
		t.Fatalf("expected ErrGitMetadata, got %v", err)
	}
}

func TestEvaluateFileHash(t *testing.T) {
	root := t.TempDir()
	tgt := contextTarget(t, root, "app", "FROM alpine\n")
	writeFile(t, filepath.Join(tgt.Context, "requirements.txt"), "flask==3.0\n")
	g := newTestGraph(t, tgt)
	ev, _ := newTestEvaluator(t, g, Invocation{})

	got, err := ev.EvaluateString(context.Background(), tgt, `{{ file_hash("requirements.txt") }}`, Identity{})
	if err != nil {
		t.Fatalf("EvaluateString: %v", err)
	}
	want, err := NewChecksumEngine(nil).FileHash(filepath.Join(tgt.Context, "requirements.txt"))
	if err != nil {
		t.Fatalf("FileHash: %v", err)
	}
	if got != want || !checksumPattern.MatchString(got) {
		t.Fatalf("file_hash = %q, want %q", got, want)
	}

	_, err = ev.EvaluateString(context.Background(), tgt, "{{ file_hash(missing.txt) }}", Identity{})
	if !errors.Is(err, ErrFileNotFound) {
		t.Fatalf("expected ErrFileNotFound, got %v", err)
	}
}

func TestEvaluateOwnChecksums(t *testing.T) {
	g := newTestGraph(t, Target{ID: "app"})
	tgt, _ := g.Target("app")
	ev, _ := newTestEvaluator(t, g, Invocation{})
	ctx := context.Background()

	if _, err := ev.EvaluateString(ctx, tgt, "{{ checksum_self }}", Identity{Deps: "d"}); !errors.Is(err, ErrUnresolvedChecksum) {
		t.Fatalf("expected ErrUnresolvedChecksum before self is known, got %v", err)
	}
	got, err := ev.EvaluateString(ctx, tgt, "{{ checksum_self }}-{{ checksum_deps }}", Identity{Self: "s", Deps: "d"})
	if err != nil {
		t.Fatalf("EvaluateString: %v", err)
	}
	if got != "s-d" {
		t.Fatalf("got %q", got)
	}
}

func TestEvaluateTargetReferences(t *testing.T) {
	g := newTestGraph(t,
		Target{ID: "base"},
		Target{ID: "runtime", DependsOn: []string{"base"}},
		Target{ID: "app", DependsOn: []string{"runtime"}},
		Target{ID: "tool"},
	)
	ev, store := newTestEvaluator(t, g, Invocation{})
	ctx := context.Background()
	app, _ := g.Target("app")

	if _, err := ev.EvaluateString(ctx, app, "{{ targets.base.checksum_self }}", Identity{}); !errors.Is(err, ErrUnresolvedChecksum) {
		t.Fatalf("expected unresolved before base is finalized, got %v", err)
	}
	mustPut(t, store, "base", Identity{Self: "aaaaaaaaaaaa", Deps: "bbbbbbbbbbbb", Tags: []string{"reg/base:aaaaaaaaaaaa"}})

	got, err := ev.EvaluateString(ctx, app, "{{ targets.base.tag }}@{{ targets.base.checksum_self }}", Identity{})
	if err != nil {
		t.Fatalf("EvaluateString: %v", err)
	}
	if got != "reg/base:aaaaaaaaaaaa@aaaaaaaaaaaa" {
		t.Fatalf("got %q", got)
	}

	mustPut(t, store, "tool", Identity{Self: "cccccccccccc"})
	if _, err := ev.EvaluateString(ctx, app, "{{ targets.tool.checksum_self }}", Identity{}); !errors.Is(err, ErrUnresolvedChecksum) {
		t.Fatalf("expected non-dependency reference to be rejected, got %v", err)
	}
}
