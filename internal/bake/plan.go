// File: internal/bake/plan.go
// Brief: Per-target plan entries and their lifecycle.

package bake

import "fmt"

// State is a target's position in the build lifecycle.
type State string

const (
	StatePending    State = "pending"
	StateEvaluating State = "evaluating"
	StateDecided    State = "decided"
	StateBuilt      State = "built"
	StateSkipped    State = "skipped"
	StatePushed     State = "pushed"
	StateNotPushed  State = "not-pushed"
	StateFailed     State = "failed"
	StateBlocked    State = "blocked"
)

var transitions = map[State][]State{
	StatePending:    {StateEvaluating, StateBlocked},
	StateEvaluating: {StateDecided, StateFailed},
	StateDecided:    {StateBuilt, StateSkipped, StateFailed},
	StateBuilt:      {StatePushed, StateNotPushed, StateFailed},
	StateSkipped:    {StateNotPushed},
}

// CanTransition reports whether moving from s to next is allowed.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// PlanEntry is the per-invocation record for one target.
type PlanEntry struct {
	Target       string            `json:"target"`
	Dockerfile   string            `json:"dockerfile"`
	Context      string            `json:"context"`
	DependsOn    []string          `json:"dependsOn,omitempty"`
	Platforms    []string          `json:"platforms,omitempty"`
	Tags         []string          `json:"tags,omitempty"`
	BuildArgs    map[string]string `json:"buildArgs,omitempty"`
	ChecksumSelf string            `json:"checksumSelf,omitempty"`
	ChecksumDeps string            `json:"checksumDeps,omitempty"`
	Decision     Decision          `json:"decision"`
	State        State             `json:"state"`
	Error        string            `json:"error,omitempty"`

	Err error `json:"-"`
}

func newPlanEntry(t Target) *PlanEntry {
	return &PlanEntry{
		Target:     t.ID,
		Dockerfile: t.DockerfilePath(),
		Context:    t.ContextDir(),
		DependsOn:  append([]string(nil), t.DependsOn...),
		Platforms:  append([]string(nil), t.Platforms...),
		State:      StatePending,
	}
}

// PrimaryTag returns the first resolved tag, or "".
func (e *PlanEntry) PrimaryTag() string {
	if len(e.Tags) == 0 {
		return ""
	}
	return e.Tags[0]
}

func (e *PlanEntry) transition(next State) error {
	if !e.State.CanTransition(next) {
		return fmt.Errorf("target %s: illegal state transition %s -> %s", e.Target, e.State, next)
	}
	e.State = next
	return nil
}

func (e *PlanEntry) fail(err error) {
	if e.State.CanTransition(StateFailed) {
		e.State = StateFailed
	}
	e.Err = err
	if err != nil {
		e.Error = err.Error()
	}
}

func (e *PlanEntry) request() BuildRequest {
	args := make(map[string]string, len(e.BuildArgs))
	for k, v := range e.BuildArgs {
		args[k] = v
	}
	return BuildRequest{
		Target:     e.Target,
		Dockerfile: e.Dockerfile,
		Context:    e.Context,
		Tags:       append([]string(nil), e.Tags...),
		BuildArgs:  args,
		Platforms:  append([]string(nil), e.Platforms...),
		Push:       e.Decision.Push,
	}
}
