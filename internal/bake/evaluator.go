// File: internal/bake/evaluator.go
// Brief: Resolves parsed templates against the invocation and the checksum store.

package bake

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// TimestampFormat renders the invocation start time for {{ timestamp }}.
const TimestampFormat = "20060102150405"

// GitSource supplies commit metadata for git.* expressions.
type GitSource interface {
	ShortSHA(ctx context.Context) (string, error)
	FullSHA(ctx context.Context) (string, error)
}

// Invocation carries the inputs shared by every target in one run.
type Invocation struct {
	Env   map[string]string
	Git   GitSource
	Start time.Time
	// StrictEnv turns a missing env.NAME into an error instead of "".
	StrictEnv bool
}

// EnvFromOS snapshots the process environment.
func EnvFromOS() map[string]string {
	out := map[string]string{}
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		out[k] = v
	}
	return out
}

// Evaluator resolves templates for one invocation. Results other than the
// current target's own checksums are memoized per target and expression.
type Evaluator struct {
	graph   *Graph
	store   *ChecksumStore
	engine  *ChecksumEngine
	inv     Invocation
	stamp   string
	deps    map[string]map[string]struct{}
	depsMu  sync.Mutex
	memoMu  sync.Mutex
	memo    map[memoKey]string
	gitMu   sync.Mutex
	gitMemo map[ExprKind]string
}

type memoKey struct {
	target string
	expr   string
}

// NewEvaluator returns an evaluator bound to graph and store.
func NewEvaluator(graph *Graph, store *ChecksumStore, engine *ChecksumEngine, inv Invocation) *Evaluator {
	if inv.Start.IsZero() {
		inv.Start = time.Now()
	}
	if engine == nil {
		engine = NewChecksumEngine(nil)
	}
	return &Evaluator{
		graph:   graph,
		store:   store,
		engine:  engine,
		inv:     inv,
		stamp:   inv.Start.UTC().Format(TimestampFormat),
		deps:    map[string]map[string]struct{}{},
		memo:    map[memoKey]string{},
		gitMemo: map[ExprKind]string{},
	}
}

// Evaluate renders tmpl for target t. current holds the parts of t's identity
// resolved so far; an empty Self or Deps is reported as unresolved.
func (e *Evaluator) Evaluate(ctx context.Context, t Target, tmpl Template, current Identity) (string, error) {
	var b strings.Builder
	for _, seg := range tmpl.Segments {
		v, err := e.segment(ctx, t, seg, current)
		if err != nil {
			var exprErr *ExpressionError
			if errors.As(err, &exprErr) {
				if exprErr.Target == "" {
					exprErr.Target = t.ID
				}
			}
			return "", err
		}
		b.WriteString(v)
	}
	return b.String(), nil
}

// EvaluateString parses and renders raw for target t.
func (e *Evaluator) EvaluateString(ctx context.Context, t Target, raw string, current Identity) (string, error) {
	tmpl, err := ParseTemplate(raw)
	if err != nil {
		var exprErr *ExpressionError
		if errors.As(err, &exprErr) {
			exprErr.Target = t.ID
		}
		return "", err
	}
	return e.Evaluate(ctx, t, tmpl, current)
}

func (e *Evaluator) segment(ctx context.Context, t Target, seg Expr, current Identity) (string, error) {
	unresolved := func(msg string) error {
		return &ExpressionError{Target: t.ID, Expression: seg.Text, Kind: ErrUnresolvedChecksum, Err: errors.New(msg)}
	}
	switch seg.Kind {
	case ExprLiteral:
		return seg.Text, nil
	case ExprChecksumSelf:
		if current.Self == "" {
			return "", unresolved("checksum_self is computed after build-args are resolved")
		}
		return current.Self, nil
	case ExprChecksumDeps:
		if current.Deps == "" {
			return "", unresolved("checksum_deps is not computed yet")
		}
		return current.Deps, nil
	case ExprTimestamp:
		return e.stamp, nil
	case ExprEnv:
		if v, ok := e.inv.Env[seg.Name]; ok {
			return v, nil
		}
		if e.inv.StrictEnv {
			return "", &ExpressionError{Target: t.ID, Expression: seg.Text, Kind: ErrMissingEnv}
		}
		return "", nil
	case ExprGitShortSHA, ExprGitFullSHA:
		return e.git(ctx, t, seg)
	case ExprFileHash:
		return e.memoized(t, seg, func() (string, error) { return e.fileHash(t, seg) })
	case ExprTargetRef:
		return e.targetRef(t, seg)
	}
	return "", &ExpressionError{Target: t.ID, Expression: seg.Text, Kind: ErrUnknownExpression}
}

func (e *Evaluator) memoized(t Target, seg Expr, compute func() (string, error)) (string, error) {
	key := memoKey{target: t.ID, expr: seg.Text}
	e.memoMu.Lock()
	if v, ok := e.memo[key]; ok {
		e.memoMu.Unlock()
		return v, nil
	}
	e.memoMu.Unlock()
	v, err := compute()
	if err != nil {
		return "", err
	}
	e.memoMu.Lock()
	e.memo[key] = v
	e.memoMu.Unlock()
	return v, nil
}

func (e *Evaluator) git(ctx context.Context, t Target, seg Expr) (string, error) {
	e.gitMu.Lock()
	defer e.gitMu.Unlock()
	if v, ok := e.gitMemo[seg.Kind]; ok {
		return v, nil
	}
	if e.inv.Git == nil {
		return "", &ExpressionError{Target: t.ID, Expression: seg.Text, Kind: ErrGitMetadata, Err: errors.New("no git source configured")}
	}
	var (
		v   string
		err error
	)
	if seg.Kind == ExprGitShortSHA {
		v, err = e.inv.Git.ShortSHA(ctx)
	} else {
		v, err = e.inv.Git.FullSHA(ctx)
	}
	if err != nil {
		return "", &ExpressionError{Target: t.ID, Expression: seg.Text, Kind: ErrGitMetadata, Err: err}
	}
	e.gitMemo[seg.Kind] = v
	return v, nil
}

func (e *Evaluator) fileHash(t Target, seg Expr) (string, error) {
	path := seg.Name
	if !filepath.IsAbs(path) {
		path = filepath.Join(t.ContextDir(), path)
	}
	sum, err := e.engine.FileHash(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", &ExpressionError{Target: t.ID, Expression: seg.Text, Kind: ErrFileNotFound, Err: err}
		}
		return "", &ChecksumError{Target: t.ID, Path: path, Err: err}
	}
	return sum, nil
}

func (e *Evaluator) targetRef(t Target, seg Expr) (string, error) {
	unresolved := func(err error) error {
		return &ExpressionError{Target: t.ID, Expression: seg.Text, Kind: ErrUnresolvedChecksum, Err: err}
	}
	if !e.isDependency(t.ID, seg.Name) {
		return "", unresolved(errors.New("target " + seg.Name + " is not a dependency of " + t.ID))
	}
	ident, ok := e.store.Get(seg.Name)
	if !ok {
		return "", unresolved(errors.New("target " + seg.Name + " has no identity yet"))
	}
	switch seg.Field {
	case FieldChecksumSelf:
		return ident.Self, nil
	case FieldChecksumDeps:
		return ident.Deps, nil
	case FieldTag:
		if tag := ident.PrimaryTag(); tag != "" {
			return tag, nil
		}
		return "", unresolved(errors.New("target " + seg.Name + " has no tags"))
	}
	return "", &ExpressionError{Target: t.ID, Expression: seg.Text, Kind: ErrUnknownExpression}
}

func (e *Evaluator) isDependency(id, dep string) bool {
	e.depsMu.Lock()
	defer e.depsMu.Unlock()
	set, ok := e.deps[id]
	if !ok {
		set = map[string]struct{}{}
		for _, d := range e.graph.DepsOf(id) {
			set[d] = struct{}{}
		}
		e.deps[id] = set
	}
	_, ok = set[dep]
	return ok
}
