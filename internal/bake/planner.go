// File: internal/bake/planner.go
// Brief: Resolves target identities, decides what to build, and drives builds.

package bake

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/distribution/reference"
	"github.com/go-logr/logr"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultCheckTimeout = 30 * time.Second
	DefaultBuildTimeout = 30 * time.Minute
)

// Dependencies are the collaborators a Planner calls out to.
type Dependencies struct {
	Checker  ExistenceChecker
	Executor Executor
	Git      GitSource
	Env      map[string]string
	Logger   logr.Logger
	// Now defaults to time.Now; it is sampled once per Run for {{ timestamp }}.
	Now func() time.Time
}

// Options control one planner run.
type Options struct {
	// Selection holds target and bundle ids; empty selects everything.
	Selection []string
	Check     CheckScope
	Push      bool
	Force     bool
	// Skip holds target and bundle ids that are never built or pushed.
	Skip            []string
	Concurrency     int
	FailFast        bool
	StrictExistence bool
	StrictEnv       bool
	CheckTimeout    time.Duration
	BuildTimeout    time.Duration
	// DryRun resolves identities and decisions without building.
	DryRun bool
}

// Planner orders targets, resolves their identities and runs the builds that
// are needed.
type Planner struct {
	graph     *Graph
	overrides Overrides
	deps      Dependencies
	log       logr.Logger
}

// NewPlanner returns a planner for graph. overrides are applied to a copy of
// the graph at the start of every Run.
func NewPlanner(graph *Graph, overrides Overrides, deps Dependencies) *Planner {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Planner{
		graph:     graph,
		overrides: append(Overrides(nil), overrides...),
		deps:      deps,
		log:       deps.Logger,
	}
}

// Run plans and, unless DryRun is set, executes the selected targets. The
// returned error is reserved for problems that stop the run before any target
// starts; per-target failures are recorded in the report.
func (p *Planner) Run(ctx context.Context, opts Options) (*Report, error) {
	started := p.deps.Now()
	if opts.Check == "" {
		opts.Check = CheckNone
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = runtime.NumCPU()
		if opts.Concurrency < 1 {
			opts.Concurrency = 1
		}
	}
	if opts.CheckTimeout <= 0 {
		opts.CheckTimeout = DefaultCheckTimeout
	}
	if opts.BuildTimeout <= 0 {
		opts.BuildTimeout = DefaultBuildTimeout
	}
	if opts.Check != CheckNone && p.deps.Checker == nil {
		return nil, fmt.Errorf("%s existence check requested but no checker is configured", opts.Check)
	}
	if !opts.DryRun && p.deps.Executor == nil {
		return nil, errors.New("no build executor configured")
	}

	graph, err := p.graph.withTargets(p.overrides.Apply(p.graph.Targets()))
	if err != nil {
		return nil, err
	}
	if unused := p.overrides.Unused(graph.Targets()); len(unused) > 0 {
		p.log.Info("overrides match no build-arg", "keys", unused)
	}
	if err := graph.Validate(); err != nil {
		return nil, err
	}
	selection, err := graph.ResolveSelection(opts.Selection)
	if err != nil {
		return nil, err
	}
	skip := map[string]bool{}
	if len(opts.Skip) > 0 {
		ids, err := graph.ResolveSelection(opts.Skip)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			skip[id] = true
		}
	}
	report := &Report{DryRun: opts.DryRun}
	if len(selection) == 0 {
		return report, nil
	}
	order, err := graph.TopologicalOrder(selection)
	if err != nil {
		return nil, err
	}

	store := NewChecksumStore()
	engine := NewChecksumEngine(NewContextDigester())
	run := &targetRun{
		graph:  graph,
		store:  store,
		engine: engine,
		eval: NewEvaluator(graph, store, engine, Invocation{
			Env:       p.deps.Env,
			Git:       p.deps.Git,
			Start:     started,
			StrictEnv: opts.StrictEnv,
		}),
		opts: opts,
		skip: skip,
		deps: p.deps,
		log:  p.log,
	}

	entries := make(map[string]*PlanEntry, len(order))
	for _, id := range order {
		t, _ := graph.Target(id)
		entry := newPlanEntry(t)
		entries[id] = entry
		report.Entries = append(report.Entries, entry)
	}

	s := newScheduler(order, func(id string) []string {
		t, _ := graph.Target(id)
		return t.DependsOn
	})
	stopOnCancel := context.AfterFunc(ctx, s.Stop)
	defer stopOnCancel()

	sem := semaphore.NewWeighted(int64(opts.Concurrency))
	var wg sync.WaitGroup
	for {
		if err := sem.Acquire(ctx, 1); err != nil {
			s.Stop()
			break
		}
		id, ok := s.NextReady()
		if !ok {
			sem.Release(1)
			break
		}
		if ctx.Err() != nil {
			s.Release(id)
			sem.Release(1)
			s.Stop()
			break
		}
		wg.Add(1)
		go func(entry *PlanEntry) {
			defer wg.Done()
			defer sem.Release(1)
			if err := run.target(ctx, entry); err != nil {
				entry.fail(err)
				p.log.Error(err, "target failed", "target", entry.Target, "blocks", graph.DependentsOf(entry.Target))
				s.MarkFailed(entry.Target)
				if opts.FailFast {
					s.Stop()
				}
				return
			}
			s.MarkSucceeded(entry.Target)
		}(entries[id])
	}
	wg.Wait()
	s.FinalizeBlocked()

	snap := s.Snapshot()
	for _, entry := range report.Entries {
		switch snap.Status[entry.Target] {
		case statusBlocked:
			_ = entry.transition(StateBlocked)
			entry.Err = &BlockedError{Target: entry.Target, Cause: snap.BlockedBy[entry.Target]}
			entry.Error = entry.Err.Error()
		case statusPlanned:
			if entry.Error == "" {
				entry.Error = "not started"
			}
		}
	}
	report.finalize(time.Since(started))
	return report, nil
}

// targetRun holds the per-invocation state shared by all workers.
type targetRun struct {
	graph  *Graph
	store  *ChecksumStore
	engine *ChecksumEngine
	eval   *Evaluator
	opts   Options
	skip   map[string]bool
	deps   Dependencies
	log    logr.Logger
}

// target runs the full pipeline for one entry: identity, decision, build, push.
func (r *targetRun) target(ctx context.Context, entry *PlanEntry) error {
	if err := entry.transition(StateEvaluating); err != nil {
		return err
	}
	t, ok := r.graph.Target(entry.Target)
	if !ok {
		return &UnknownIDError{ID: entry.Target}
	}
	ident, err := r.identity(ctx, t)
	if err != nil {
		return err
	}
	entry.ChecksumSelf = ident.Self
	entry.ChecksumDeps = ident.Deps
	entry.Tags = ident.Tags
	entry.BuildArgs = ident.BuildArgs
	r.log.V(1).Info("identity resolved", "target", t.ID, "checksumSelf", ident.Self, "checksumDeps", ident.Deps, "tags", ident.Tags)

	decision, err := r.decide(ctx, entry)
	if err != nil {
		return err
	}
	entry.Decision = decision
	if err := entry.transition(StateDecided); err != nil {
		return err
	}
	r.log.Info("planned", "target", t.ID, "decision", decision.Kind, "push", decision.Push, "reason", decision.Reason, "tag", entry.PrimaryTag())
	if r.opts.DryRun {
		return nil
	}

	if decision.Skipped() {
		if err := entry.transition(StateSkipped); err != nil {
			return err
		}
		return entry.transition(StateNotPushed)
	}

	req := entry.request()
	if err := r.withTimeout(ctx, r.opts.BuildTimeout, func(ctx context.Context) error {
		return r.deps.Executor.Build(ctx, req)
	}); err != nil {
		return &BuildExecutionError{Target: t.ID, Phase: "build", Err: err}
	}
	if err := entry.transition(StateBuilt); err != nil {
		return err
	}
	if !decision.Push {
		return entry.transition(StateNotPushed)
	}
	if err := r.withTimeout(ctx, r.opts.BuildTimeout, func(ctx context.Context) error {
		return r.deps.Executor.Push(ctx, req)
	}); err != nil {
		return &BuildExecutionError{Target: t.ID, Phase: "push", Err: err}
	}
	return entry.transition(StatePushed)
}

// identity evaluates checksum_deps, then build-args, then checksum_self, then
// tags, and finalizes the result in the store.
func (r *targetRun) identity(ctx context.Context, t Target) (Identity, error) {
	deps, err := r.engine.Deps(t, r.store)
	if err != nil {
		return Identity{}, err
	}
	ident := Identity{Deps: deps, BuildArgs: map[string]string{}}
	for _, name := range t.ArgNames() {
		v, err := r.eval.EvaluateString(ctx, t, t.BuildArgs[name], ident)
		if err != nil {
			return Identity{}, err
		}
		ident.BuildArgs[name] = v
	}
	self, err := r.engine.Self(t, ident.BuildArgs)
	if err != nil {
		return Identity{}, err
	}
	ident.Self = self
	if len(t.Tags) == 0 {
		return Identity{}, &ExpressionError{Target: t.ID, Kind: ErrInvalidTag, Err: errors.New("target declares no tags")}
	}
	for _, raw := range t.Tags {
		tag, err := r.eval.EvaluateString(ctx, t, raw, ident)
		if err != nil {
			return Identity{}, err
		}
		if _, err := reference.ParseNormalizedNamed(tag); err != nil {
			return Identity{}, &ExpressionError{Target: t.ID, Expression: raw, Kind: ErrInvalidTag, Err: fmt.Errorf("%q: %w", tag, err)}
		}
		ident.Tags = append(ident.Tags, tag)
	}
	if err := r.store.Put(t.ID, ident); err != nil {
		return Identity{}, err
	}
	return ident, nil
}

func (r *targetRun) decide(ctx context.Context, entry *PlanEntry) (Decision, error) {
	in := DecisionInput{
		Check: r.opts.Check,
		Force: r.opts.Force,
		Push:  r.opts.Push,
		Skip:  r.skip[entry.Target],
	}
	if in.Skip || in.Check == CheckNone {
		return Decide(in), nil
	}
	tag := entry.PrimaryTag()
	var exists bool
	err := r.withTimeout(ctx, r.opts.CheckTimeout, func(ctx context.Context) error {
		var err error
		exists, err = r.deps.Checker.Exists(ctx, tag, r.opts.Check)
		return err
	})
	if err != nil {
		checkErr := &ExistenceCheckError{Target: entry.Target, Tag: tag, Scope: r.opts.Check, Err: err}
		if r.opts.StrictExistence {
			return Decision{}, checkErr
		}
		r.log.Error(checkErr, "existence check failed, building", "target", entry.Target)
		in.Exists = false
		d := Decide(in)
		d.Reason = fmt.Sprintf("%s check failed", r.opts.Check)
		return d, nil
	}
	in.Exists = exists
	return Decide(in), nil
}

func (r *targetRun) withTimeout(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := fn(ctx)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w after %s: %w", context.DeadlineExceeded, timeout, err)
	}
	return err
}
