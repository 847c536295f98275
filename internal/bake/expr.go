// File: internal/bake/expr.go
// Brief: Parsing of {{ ... }} placeholders in tag and build-arg templates.

package bake

import (
	"fmt"
	"regexp"
	"strings"
)

// ExprKind identifies what a template segment resolves to.
type ExprKind int

const (
	ExprLiteral ExprKind = iota
	ExprEnv
	ExprGitShortSHA
	ExprGitFullSHA
	ExprFileHash
	ExprChecksumSelf
	ExprChecksumDeps
	ExprTimestamp
	ExprTargetRef
)

func (k ExprKind) String() string {
	switch k {
	case ExprLiteral:
		return "literal"
	case ExprEnv:
		return "env"
	case ExprGitShortSHA:
		return "git.short_sha"
	case ExprGitFullSHA:
		return "git.full_sha"
	case ExprFileHash:
		return "file_hash"
	case ExprChecksumSelf:
		return "checksum_self"
	case ExprChecksumDeps:
		return "checksum_deps"
	case ExprTimestamp:
		return "timestamp"
	case ExprTargetRef:
		return "targets"
	default:
		return fmt.Sprintf("ExprKind(%d)", int(k))
	}
}

// Fields readable through targets.<id>.<field>.
const (
	FieldChecksumSelf = "checksum_self"
	FieldChecksumDeps = "checksum_deps"
	FieldTag          = "tag"
)

// Expr is one segment of a template.
type Expr struct {
	Kind ExprKind
	// Text is the literal text, or the placeholder body for other kinds.
	Text string
	// Name holds the env var name, the file_hash path, or the referenced target id.
	Name  string
	Field string
}

// Template is a parsed tag or build-arg template.
type Template struct {
	Raw      string
	Segments []Expr
}

var envNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ParseTemplate splits s into literal text and {{ ... }} placeholders.
func ParseTemplate(s string) (Template, error) {
	tmpl := Template{Raw: s}
	rest := s
	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			if rest != "" {
				tmpl.Segments = append(tmpl.Segments, Expr{Kind: ExprLiteral, Text: rest})
			}
			return tmpl, nil
		}
		if start > 0 {
			tmpl.Segments = append(tmpl.Segments, Expr{Kind: ExprLiteral, Text: rest[:start]})
		}
		end := strings.Index(rest[start+2:], "}}")
		if end < 0 {
			return Template{}, &ExpressionError{Expression: s, Kind: ErrMalformedExpression, Err: fmt.Errorf("unterminated placeholder")}
		}
		body := strings.TrimSpace(rest[start+2 : start+2+end])
		expr, err := parseExpr(body)
		if err != nil {
			return Template{}, err
		}
		tmpl.Segments = append(tmpl.Segments, expr)
		rest = rest[start+2+end+2:]
	}
}

func parseExpr(body string) (Expr, error) {
	malformed := func(msg string) error {
		return &ExpressionError{Expression: body, Kind: ErrMalformedExpression, Err: fmt.Errorf("%s", msg)}
	}
	switch body {
	case "":
		return Expr{}, malformed("empty placeholder")
	case "checksum_self":
		return Expr{Kind: ExprChecksumSelf, Text: body}, nil
	case "checksum_deps":
		return Expr{Kind: ExprChecksumDeps, Text: body}, nil
	case "timestamp":
		return Expr{Kind: ExprTimestamp, Text: body}, nil
	case "git.short_sha":
		return Expr{Kind: ExprGitShortSHA, Text: body}, nil
	case "git.full_sha":
		return Expr{Kind: ExprGitFullSHA, Text: body}, nil
	}
	switch {
	case strings.HasPrefix(body, "env."):
		name := strings.TrimPrefix(body, "env.")
		if !envNamePattern.MatchString(name) {
			return Expr{}, malformed(fmt.Sprintf("invalid environment variable name %q", name))
		}
		return Expr{Kind: ExprEnv, Text: body, Name: name}, nil
	case strings.HasPrefix(body, "file_hash"):
		arg := strings.TrimSpace(strings.TrimPrefix(body, "file_hash"))
		if !strings.HasPrefix(arg, "(") || !strings.HasSuffix(arg, ")") {
			return Expr{}, malformed("file_hash expects a single path argument")
		}
		path := unquote(strings.TrimSpace(arg[1 : len(arg)-1]))
		if path == "" {
			return Expr{}, malformed("file_hash path is empty")
		}
		return Expr{Kind: ExprFileHash, Text: body, Name: path}, nil
	case strings.HasPrefix(body, "targets."):
		ref := strings.TrimPrefix(body, "targets.")
		dot := strings.LastIndex(ref, ".")
		if dot <= 0 || dot == len(ref)-1 {
			return Expr{}, malformed("expected targets.<id>.<field>")
		}
		id, field := ref[:dot], ref[dot+1:]
		switch field {
		case FieldChecksumSelf, FieldChecksumDeps, FieldTag:
		default:
			return Expr{}, &ExpressionError{Expression: body, Kind: ErrUnknownExpression, Err: fmt.Errorf("unknown target field %q", field)}
		}
		return Expr{Kind: ExprTargetRef, Text: body, Name: id, Field: field}, nil
	}
	return Expr{}, &ExpressionError{Expression: body, Kind: ErrUnknownExpression}
}

func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
