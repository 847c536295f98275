package recipes

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/example/baker/internal/bake"
	"github.com/example/baker/internal/settings"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestBuiltinRecipesCoverBothBases(t *testing.T) {
	set, err := Builtin()
	if err != nil {
		t.Fatalf("Builtin: %v", err)
	}
	r := NewRegistry(set)
	for _, name := range []string{"install_packages", "create_user", "python_venv"} {
		if !r.Has(name, "debian") || !r.Has(name, "alpine") {
			t.Fatalf("recipe %s missing for a base variant", name)
		}
	}
	got, err := r.Get("install_packages", "alpine", map[string]any{"packages": "curl git"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if strings.TrimSpace(got) != "apk add --no-cache curl git" {
		t.Fatalf("install_packages = %q", got)
	}
}

func TestRegistryFallsBackToDefaultThenEmpty(t *testing.T) {
	r := NewRegistry(Set{
		"greet": {DefaultKey: "echo {{ .who }}", "alpine": "echo alpine {{ .who }}"},
		"only":  {"alpine": "true"},
	})
	if got, _ := r.Get("greet", "debian", map[string]any{"who": "bob"}); got != "echo bob" {
		t.Fatalf("default fallback = %q", got)
	}
	if got, _ := r.Get("greet", "alpine", map[string]any{"who": "bob"}); got != "echo alpine bob" {
		t.Fatalf("variant entry = %q", got)
	}
	if got, err := r.Get("only", "debian", nil); err != nil || got != "" {
		t.Fatalf("missing variant = %q, %v", got, err)
	}
	if r.Has("only", "debian") {
		t.Fatalf("Has reported a recipe without a matching entry")
	}
	if _, err := r.Get("nope", "debian", nil); !errors.Is(err, ErrUnknownRecipe) {
		t.Fatalf("expected ErrUnknownRecipe, got %v", err)
	}
}

func TestAsRunAndRaw(t *testing.T) {
	cases := []struct {
		in, run, raw string
	}{
		{"apk add curl\n", "RUN apk add curl", "apk add curl"},
		{"# tools\napk add curl", "# tools\nRUN apk add curl", "# tools\napk add curl"},
		{"RUN echo hi  \n", "RUN echo hi", "echo hi"},
		{"COPY a /a", "COPY a /a", "COPY a /a"},
		{"  \n", "", ""},
	}
	for _, tc := range cases {
		if got := AsRun(tc.in); got != tc.run {
			t.Errorf("AsRun(%q) = %q, want %q", tc.in, got, tc.run)
		}
		if got := Raw(tc.in); got != tc.raw {
			t.Errorf("Raw(%q) = %q, want %q", tc.in, got, tc.raw)
		}
	}
}

func TestLoadPrefersDirAndLaterFilesWin(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.yml"), "recipes:\n  x: {_default: one}\n  install_packages: {_default: custom}\n")
	writeFile(t, filepath.Join(dir, "b.yml"), "recipes:\n  x: {_default: two}\n")
	writeFile(t, filepath.Join(dir, "c.yaml"), "recipes:\n  y: {_default: three}\n")

	set, err := Load(Sources{Dir: dir, File: filepath.Join(dir, "ignored.yml")})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if set["x"][DefaultKey] != "two" || set["y"][DefaultKey] != "three" {
		t.Fatalf("unexpected merge: %v %v", set["x"], set["y"])
	}
	if set["install_packages"][DefaultKey] != "custom" || set["install_packages"]["debian"] != "" {
		t.Fatalf("project recipe did not replace builtin: %v", set["install_packages"])
	}
	if _, ok := set["python_venv"]; !ok {
		t.Fatalf("builtins dropped")
	}
}

func TestLoadFileIncludesSiblingDir(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "recipes.yml")
	writeFile(t, file, "recipes:\n  x: {_default: file}\n")
	writeFile(t, filepath.Join(dir, "recipes", "extra.yml"), "recipes:\n  z: {_default: sibling}\n")
	set, err := Load(Sources{File: file})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if set["x"][DefaultKey] != "file" || set["z"][DefaultKey] != "sibling" {
		t.Fatalf("unexpected set: %v", set)
	}
}

func TestVariantConfigLayers(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "variants", "alpine.yml"), "alpine_version: \"3.19\"\nsubvariants:\n  alpine-slim:\n    slim: true\n")
	writeFile(t, filepath.Join(dir, "variants", "alpine-slim.yml"), "alpine_version: \"3.21\"\n")
	cfg, err := LoadVariantConfig(dir, "alpine-slim")
	if err != nil {
		t.Fatalf("LoadVariantConfig: %v", err)
	}
	if cfg["alpine_version"] != "3.21" || cfg["slim"] != true {
		t.Fatalf("cfg = %v", cfg)
	}
	if _, ok := cfg["subvariants"]; ok {
		t.Fatalf("subvariants leaked into config")
	}
	empty, err := LoadVariantConfig(t.TempDir(), "debian")
	if err != nil || len(empty) != 0 {
		t.Fatalf("missing config = %v, %v", empty, err)
	}
}

func TestRenderTemplateFunctions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Dockerfile.tmpl")
	writeFile(t, path, `FROM {{ base_image }}
{{ recipe "install_packages" "packages" "curl" }}
{{ layer_start }}
    {{ recipe_raw "python_venv" }}{{ layer_join }}
    {{ recipe_raw "pip_upgrade" }}
{{- if has_recipe "missing" }}
never
{{- end }}
# {{ .target_name }} on {{ base_variant }} ({{ variant }}) py{{ .python_version }} pg{{ (defaults).pg_version }}
`)
	set, err := Builtin()
	if err != nil {
		t.Fatalf("Builtin: %v", err)
	}
	gen := NewGenerator(set, "alpine-slim", map[string]any{"python_version": "3.11"})
	got, err := gen.Render(path, map[string]any{"alpine_version": "3.19"}, map[string]any{"target_name": "api"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	want := `FROM python:3.11-alpine3.19
RUN apk add --no-cache curl
RUN set -ex; \
    python -m venv /opt/venv && \
    pip install --no-cache-dir --upgrade pip setuptools wheel
# api on alpine (alpine-slim) py3.11 pg16.4
`
	if got != want {
		t.Fatalf("rendered:\n%s\nwant:\n%s", got, want)
	}
}

func TestRenderRejectsOddRecipeArguments(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Dockerfile.tmpl")
	writeFile(t, path, `{{ recipe "install_packages" "packages" }}`)
	set, _ := Builtin()
	if _, err := NewGenerator(set, "", nil).Render(path, nil, nil); err == nil {
		t.Fatalf("expected argument error")
	}
}

func TestGenerateAll(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, settings.TemplateDir, "web", "Dockerfile.tmpl"), "FROM {{ base_image }}\nARG TARGET={{ .target_name }}\nENV GREETING={{ .greeting }} PORT={{ .port }}\n")
	writeFile(t, filepath.Join(dir, settings.TemplateDir, "variants", "debian.yml"), "debian_base: trixie\n")
	writeFile(t, filepath.Join(dir, settings.TemplateDir, "recipes", "local.yml"), "recipes:\n  hello: {_default: echo hello}\n")
	s, err := settings.Parse([]byte(`dockerfile_defaults:
  python_version: "3.13"
targets:
  plain:
    image: acme/plain
  web:
    image: acme/web
    dockerfile_defaults:
      port: 8080
    template_context:
      greeting: hi
`), dir)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	results, err := GenerateAll(s, Options{DryRun: true, Defaults: map[string]any{"port": 80}})
	if err != nil {
		t.Fatalf("GenerateAll: %v", err)
	}
	if len(results) != 1 || results[0].Target != "web" {
		t.Fatalf("results = %+v", results)
	}
	want := "FROM python:3.13-slim-trixie\nARG TARGET=web\nENV GREETING=hi PORT=8080\n"
	if results[0].Content != want {
		t.Fatalf("content = %q, want %q", results[0].Content, want)
	}
	if _, err := os.Stat(results[0].Output); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("dry run wrote %s", results[0].Output)
	}

	if _, err := GenerateAll(s, Options{Targets: []string{"web"}}); err != nil {
		t.Fatalf("GenerateAll: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, settings.GeneratedDockerfileDir, "Dockerfile.web"))
	if err != nil || string(data) != want {
		t.Fatalf("written dockerfile = %q, %v", data, err)
	}

	if _, err := GenerateAll(s, Options{Targets: []string{"plain"}}); !errors.Is(err, bake.ErrConfiguration) {
		t.Fatalf("expected configuration error for untemplated target, got %v", err)
	}
	if _, err := GenerateAll(s, Options{Targets: []string{"ghost"}}); !errors.Is(err, bake.ErrConfiguration) {
		t.Fatalf("expected configuration error for unknown target, got %v", err)
	}
}
