package bake

import (
	"errors"
	"testing"
)

func TestParseTemplateSegments(t *testing.T) {
	cases := []struct {
		in    string
		kinds []ExprKind
		name  string
		field string
	}{
		{in: "plain", kinds: []ExprKind{ExprLiteral}},
		{in: "img:{{ checksum_self }}", kinds: []ExprKind{ExprLiteral, ExprChecksumSelf}},
		{in: "{{checksum_self}}-{{ checksum_deps }}", kinds: []ExprKind{ExprChecksumSelf, ExprLiteral, ExprChecksumDeps}},
		{in: "{{ env.PY_VERSION }}", kinds: []ExprKind{ExprEnv}, name: "PY_VERSION"},
		{in: "{{ git.short_sha }}{{ git.full_sha }}", kinds: []ExprKind{ExprGitShortSHA, ExprGitFullSHA}},
		{in: `{{ file_hash("requirements lock.txt") }}`, kinds: []ExprKind{ExprFileHash}, name: "requirements lock.txt"},
		{in: "{{ file_hash('poetry.lock') }}", kinds: []ExprKind{ExprFileHash}, name: "poetry.lock"},
		{in: "{{ file_hash(src) }}", kinds: []ExprKind{ExprFileHash}, name: "src"},
		{in: "{{ timestamp }}", kinds: []ExprKind{ExprTimestamp}},
		{in: "{{ targets.py-base.checksum_self }}", kinds: []ExprKind{ExprTargetRef}, name: "py-base", field: FieldChecksumSelf},
		{in: "{{ targets.base.tag }}", kinds: []ExprKind{ExprTargetRef}, name: "base", field: FieldTag},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			tmpl, err := ParseTemplate(tc.in)
			if err != nil {
				t.Fatalf("ParseTemplate: %v", err)
			}
			if len(tmpl.Segments) != len(tc.kinds) {
				t.Fatalf("got %d segments, want %d: %+v", len(tmpl.Segments), len(tc.kinds), tmpl.Segments)
			}
			for i, kind := range tc.kinds {
				if tmpl.Segments[i].Kind != kind {
					t.Fatalf("segment %d kind = %s, want %s", i, tmpl.Segments[i].Kind, kind)
				}
			}
			if tc.name != "" {
				var found bool
				for _, seg := range tmpl.Segments {
					if seg.Name == tc.name && seg.Field == tc.field {
						found = true
					}
				}
				if !found {
					t.Fatalf("no segment with name %q field %q in %+v", tc.name, tc.field, tmpl.Segments)
				}
			}
		})
	}
}

func TestParseTemplateErrors(t *testing.T) {
	cases := []struct {
		in   string
		kind error
	}{
		{in: "{{ nope }}", kind: ErrUnknownExpression},
		{in: "{{ env.1BAD }}", kind: ErrMalformedExpression},
		{in: "img:{{ checksum_self", kind: ErrMalformedExpression},
		{in: "{{ }}", kind: ErrMalformedExpression},
		{in: "{{ file_hash() }}", kind: ErrMalformedExpression},
		{in: "{{ file_hash }}", kind: ErrMalformedExpression},
		{in: "{{ targets.base.digest }}", kind: ErrUnknownExpression},
		{in: "{{ targets.base }}", kind: ErrMalformedExpression},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			_, err := ParseTemplate(tc.in)
			if !errors.Is(err, tc.kind) {
				t.Fatalf("ParseTemplate(%q) error = %v, want %v", tc.in, err, tc.kind)
			}
			var exprErr *ExpressionError
			if !errors.As(err, &exprErr) {
				t.Fatalf("expected *ExpressionError, got %T", err)
			}
		})
	}
}
