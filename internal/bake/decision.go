package bake

import (
	"fmt"
	"strings"
)

// CheckScope selects where image existence is verified.
type CheckScope string

const (
	CheckNone     CheckScope = "none"
	CheckLocal    CheckScope = "local"
	CheckRegistry CheckScope = "registry"
)

// ParseCheckScope accepts none, local, registry and its alias remote.
func ParseCheckScope(s string) (CheckScope, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "off":
		return CheckNone, nil
	case "local":
		return CheckLocal, nil
	case "registry", "remote":
		return CheckRegistry, nil
	}
	return "", fmt.Errorf("%w: unknown check scope %q (expected none, local or registry)", ErrConfiguration, s)
}

// DecisionKind is the planner's verdict for one target.
type DecisionKind string

const (
	DecisionBuild        DecisionKind = "build"
	DecisionSkipExisting DecisionKind = "skip-existing"
	DecisionSkipForced   DecisionKind = "skip-forced"
)

// Decision says whether a target is built and pushed.
type Decision struct {
	Kind   DecisionKind `json:"kind"`
	Push   bool         `json:"push"`
	Reason string       `json:"reason,omitempty"`
}

// Skipped reports whether the target will not be built.
func (d Decision) Skipped() bool {
	return d.Kind == DecisionSkipExisting || d.Kind == DecisionSkipForced
}

// DecisionInput gathers everything Decide looks at.
type DecisionInput struct {
	Check  CheckScope
	Exists bool
	Force  bool
	Push   bool
	Skip   bool
}

// Decide applies the build/skip/push rules. It performs no I/O.
func Decide(in DecisionInput) Decision {
	if in.Skip {
		return Decision{Kind: DecisionSkipForced, Reason: "skipped on request"}
	}
	if in.Check == "" || in.Check == CheckNone {
		return Decision{Kind: DecisionBuild, Push: in.Push, Reason: "existence check disabled"}
	}
	if in.Exists {
		if in.Force {
			return Decision{Kind: DecisionBuild, Push: in.Push, Reason: fmt.Sprintf("found in %s, rebuild forced", in.Check)}
		}
		return Decision{Kind: DecisionSkipExisting, Reason: fmt.Sprintf("found in %s", in.Check)}
	}
	return Decision{Kind: DecisionBuild, Push: in.Push, Reason: fmt.Sprintf("not found in %s", in.Check)}
}
