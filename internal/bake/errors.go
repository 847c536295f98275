package bake

import (
	"errors"
	"fmt"
	"strings"
)

// ErrConfiguration matches every error caused by an invalid build configuration.
var ErrConfiguration = errors.New("invalid build configuration")

// Expression error kinds. Match them with errors.Is against an *ExpressionError.
var (
	ErrUnknownExpression   = errors.New("unknown expression")
	ErrUnresolvedChecksum  = errors.New("checksum not resolved")
	ErrMissingEnv          = errors.New("environment variable not set")
	ErrFileNotFound        = errors.New("file not found")
	ErrMalformedExpression = errors.New("malformed expression")
	ErrInvalidTag          = errors.New("invalid image tag")
	ErrGitMetadata         = errors.New("git metadata unavailable")
)

// DuplicateIDError reports an id declared twice across targets and bundles.
type DuplicateIDError struct {
	ID       string
	Existing string // "target" or "bundle"
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("duplicate id %q: already declared as a %s", e.ID, e.Existing)
}

func (e *DuplicateIDError) Is(target error) bool { return target == ErrConfiguration }

// UnknownIDError reports a reference to an id that is neither a target nor a bundle.
type UnknownIDError struct {
	ID       string
	Referrer string
}

func (e *UnknownIDError) Error() string {
	if e.Referrer != "" {
		return fmt.Sprintf("unknown target or bundle %q (referenced by %s)", e.ID, e.Referrer)
	}
	return fmt.Sprintf("unknown target or bundle %q", e.ID)
}

func (e *UnknownIDError) Is(target error) bool { return target == ErrConfiguration }

// InvalidDependencyError reports a dependency on a missing target or on the target itself.
type InvalidDependencyError struct {
	Target     string
	Dependency string
	Reason     string
}

func (e *InvalidDependencyError) Error() string {
	return fmt.Sprintf("target %s: invalid dependency %q: %s", e.Target, e.Dependency, e.Reason)
}

func (e *InvalidDependencyError) Is(target error) bool { return target == ErrConfiguration }

// CycleError names the targets forming a dependency cycle.
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	if len(e.Cycle) == 0 {
		return "dependency cycle detected"
	}
	parts := append(append([]string(nil), e.Cycle...), e.Cycle[0])
	return "dependency cycle detected: " + strings.Join(parts, " -> ")
}

func (e *CycleError) Is(target error) bool { return target == ErrConfiguration }

// ExpressionError reports a template expression that could not be evaluated.
type ExpressionError struct {
	Target     string
	Expression string
	Kind       error
	Err        error
}

func (e *ExpressionError) Error() string {
	var b strings.Builder
	if e.Target != "" {
		fmt.Fprintf(&b, "target %s: ", e.Target)
	}
	fmt.Fprintf(&b, "expression %q: %v", e.Expression, e.Kind)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *ExpressionError) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// ChecksumError reports an unreadable Dockerfile or build context.
type ChecksumError struct {
	Target string
	Path   string
	Err    error
}

func (e *ChecksumError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("target %s: checksum: %v", e.Target, e.Err)
	}
	return fmt.Sprintf("target %s: checksum %s: %v", e.Target, e.Path, e.Err)
}

func (e *ChecksumError) Unwrap() error { return e.Err }

// ExistenceCheckError reports a failed image lookup.
type ExistenceCheckError struct {
	Target string
	Tag    string
	Scope  CheckScope
	Err    error
}

func (e *ExistenceCheckError) Error() string {
	return fmt.Sprintf("target %s: %s existence check for %s: %v", e.Target, e.Scope, e.Tag, e.Err)
}

func (e *ExistenceCheckError) Unwrap() error { return e.Err }

// BuildExecutionError reports a failed build or push.
type BuildExecutionError struct {
	Target string
	Phase  string // "build" or "push"
	Err    error
}

func (e *BuildExecutionError) Error() string {
	return fmt.Sprintf("target %s: %s failed: %v", e.Target, e.Phase, e.Err)
}

func (e *BuildExecutionError) Unwrap() error { return e.Err }

// BlockedError is recorded for targets that never ran because a dependency failed.
type BlockedError struct {
	Target string
	Cause  string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("target %s: %s", e.Target, e.Cause)
}
