// File: internal/recipes/recipes.go
// Brief: Reusable Dockerfile snippets keyed by name and base variant.

// Package recipes renders Dockerfile templates. Templates call named recipes
// (short shell snippets that differ between debian and alpine bases) and read
// version defaults merged from built-ins, the settings file and the command line.
package recipes

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"gopkg.in/yaml.v3"
)

// DefaultKey is the variant consulted when a recipe has no entry for the
// requested one.
const DefaultKey = "_default"

//go:embed builtin/*.yml
var builtinFS embed.FS

// ErrUnknownRecipe is returned when a template asks for a recipe that no
// loaded file defines.
var ErrUnknownRecipe = errors.New("unknown recipe")

// Set maps recipe name to variant to snippet template.
type Set map[string]map[string]string

type recipeFile struct {
	Recipes map[string]map[string]string `yaml:"recipes"`
}

// Merge copies other into s, replacing whole recipes that exist in both.
func (s Set) Merge(other Set) {
	for name, variants := range other {
		s[name] = variants
	}
}

// Names returns the recipe names in sorted order.
func (s Set) Names() []string {
	out := make([]string, 0, len(s))
	for name := range s {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Builtin returns the recipes shipped with baker.
func Builtin() (Set, error) {
	out := Set{}
	entries, err := fs.Glob(builtinFS, "builtin/*.yml")
	if err != nil {
		return nil, err
	}
	sort.Strings(entries)
	for _, name := range entries {
		data, err := builtinFS.ReadFile(name)
		if err != nil {
			return nil, err
		}
		set, err := parse(data)
		if err != nil {
			return nil, fmt.Errorf("builtin %s: %w", name, err)
		}
		out.Merge(set)
	}
	return out, nil
}

func parse(data []byte) (Set, error) {
	var f recipeFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	out := Set{}
	for name, variants := range f.Recipes {
		out[name] = variants
	}
	return out, nil
}

// LoadFile reads one recipes file. A missing file yields an empty set.
func LoadFile(path string) (Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Set{}, nil
		}
		return nil, err
	}
	set, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return set, nil
}

// LoadDir reads every *.yml then every *.yaml file in dir, each group in
// lexical order; later files replace earlier recipes of the same name.
func LoadDir(dir string) (Set, error) {
	out := Set{}
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return out, nil
	}
	for _, pattern := range []string{"*.yml", "*.yaml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		sort.Strings(matches)
		for _, path := range matches {
			set, err := LoadFile(path)
			if err != nil {
				return nil, err
			}
			out.Merge(set)
		}
	}
	return out, nil
}

// Sources names where project recipes come from. Dir wins over File; a File
// also pulls in a recipes/ directory next to it. With neither set Fallback
// is read.
type Sources struct {
	Dir      string
	File     string
	Fallback string
}

// Load returns the built-in recipes overlaid with the project's.
func Load(src Sources) (Set, error) {
	out, err := Builtin()
	if err != nil {
		return nil, err
	}
	var project Set
	switch {
	case src.Dir != "":
		project, err = LoadDir(src.Dir)
	case src.File != "":
		project, err = LoadFile(src.File)
		if err == nil {
			var sibling Set
			sibling, err = LoadDir(filepath.Join(filepath.Dir(src.File), "recipes"))
			project.Merge(sibling)
		}
	case src.Fallback != "":
		project, err = LoadDir(src.Fallback)
	}
	if err != nil {
		return nil, fmt.Errorf("load recipes: %w", err)
	}
	out.Merge(project)
	return out, nil
}

// Registry resolves recipes for a variant and renders them.
type Registry struct {
	set Set
}

func NewRegistry(set Set) *Registry {
	if set == nil {
		set = Set{}
	}
	return &Registry{set: set}
}

// Has reports whether name is defined for variant or has a default entry.
func (r *Registry) Has(name, variant string) bool {
	variants, ok := r.set[name]
	if !ok {
		return false
	}
	if _, ok := variants[variant]; ok {
		return true
	}
	_, ok = variants[DefaultKey]
	return ok
}

// Get renders recipe name for variant with data. A recipe without an entry
// for the variant falls back to DefaultKey and then to the empty string.
func (r *Registry) Get(name, variant string, data map[string]any) (string, error) {
	variants, ok := r.set[name]
	if !ok {
		return "", fmt.Errorf("%w %q", ErrUnknownRecipe, name)
	}
	body, ok := variants[variant]
	if !ok {
		body = variants[DefaultKey]
	}
	if body == "" {
		return "", nil
	}
	tmpl, err := template.New(name).Funcs(sprig.TxtFuncMap()).Parse(body)
	if err != nil {
		return "", fmt.Errorf("recipe %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("recipe %s: %w", name, err)
	}
	return buf.String(), nil
}

// AsRun turns a rendered snippet into a Dockerfile instruction. Snippets that
// already start with RUN or COPY are kept; otherwise leading comment lines stay
// above a RUN prefix.
func AsRun(snippet string) string {
	snippet = strings.TrimRight(snippet, " \t\r\n")
	if snippet == "" {
		return ""
	}
	trimmed := strings.TrimLeft(snippet, " \t")
	if strings.HasPrefix(trimmed, "RUN ") || strings.HasPrefix(trimmed, "COPY ") {
		return snippet
	}
	lines := strings.Split(snippet, "\n")
	i := 0
	for i < len(lines) && strings.HasPrefix(strings.TrimSpace(lines[i]), "#") {
		i++
	}
	if i == len(lines) {
		return snippet
	}
	lines[i] = "RUN " + strings.TrimLeft(lines[i], " \t")
	return strings.Join(lines, "\n")
}

// Raw strips a leading RUN keyword so the snippet can be chained inside a
// larger RUN layer.
func Raw(snippet string) string {
	snippet = strings.TrimRight(snippet, " \t\r\n")
	trimmed := strings.TrimLeft(snippet, " \t")
	if strings.HasPrefix(trimmed, "RUN ") {
		return strings.TrimLeft(trimmed[len("RUN "):], " \t")
	}
	return snippet
}
