package recipes

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/example/baker/internal/bake"
	"github.com/example/baker/internal/settings"
	"github.com/go-logr/logr"
	"gopkg.in/yaml.v3"
)

// DefaultVariant is used when neither settings nor flags choose one.
const DefaultVariant = "debian"

const (
	layerStart = "RUN set -ex; \\"
	layerJoin  = " && \\"
)

// GlobalDefaults are the version pins every template can read.
func GlobalDefaults() map[string]any {
	return map[string]any{
		"python_version": "3.12",
		"debian_base":    "bookworm",
		"alpine_version": "3.20",
		"pg_version":     "16.4",
		"nginx_version":  "1.27.4",
		"node_version":   "20",
	}
}

var baseImages = map[string]string{
	"debian": "python:{{ .python_version }}-slim-{{ .debian_base }}",
	"alpine": "python:{{ .python_version }}-alpine{{ .alpine_version }}",
}

// BaseVariant strips a sub-variant suffix: "alpine-musl" becomes "alpine".
func BaseVariant(variant string) string {
	base, _, _ := strings.Cut(variant, "-")
	return base
}

// Merge returns a new map with later maps overriding earlier ones.
func Merge(maps ...map[string]any) map[string]any {
	out := map[string]any{}
	for _, m := range maps {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}

// Generator renders Dockerfile templates for one variant.
type Generator struct {
	Registry *Registry
	Variant  string
	Defaults map[string]any
}

func NewGenerator(set Set, variant string, defaults map[string]any) *Generator {
	if variant == "" {
		variant = DefaultVariant
	}
	return &Generator{
		Registry: NewRegistry(set),
		Variant:  variant,
		Defaults: Merge(GlobalDefaults(), defaults),
	}
}

// BaseImage resolves the python base image of the generator's variant, or ""
// for variants without one.
func (g *Generator) BaseImage(defaults map[string]any) (string, error) {
	pattern, ok := baseImages[BaseVariant(g.Variant)]
	if !ok {
		return "", nil
	}
	var buf bytes.Buffer
	tmpl := template.Must(template.New("base_image").Parse(pattern))
	if err := tmpl.Execute(&buf, defaults); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Funcs returns the template functions bound to defaults. Recipe arguments are
// passed as alternating key/value pairs: {{ recipe "install_packages" "packages" "curl" }}.
func (g *Generator) Funcs(defaults map[string]any) template.FuncMap {
	base := BaseVariant(g.Variant)
	recipeData := func(kv []any) (map[string]any, error) {
		if len(kv)%2 != 0 {
			return nil, errors.New("recipe arguments must be key/value pairs")
		}
		data := Merge(defaults)
		for i := 0; i < len(kv); i += 2 {
			key, ok := kv[i].(string)
			if !ok {
				return nil, fmt.Errorf("recipe argument key %v is not a string", kv[i])
			}
			data[key] = kv[i+1]
		}
		return data, nil
	}
	render := func(name string, kv []any) (string, error) {
		data, err := recipeData(kv)
		if err != nil {
			return "", fmt.Errorf("recipe %s: %w", name, err)
		}
		out, err := g.Registry.Get(name, g.Variant, data)
		if err != nil {
			return "", err
		}
		if out == "" && base != g.Variant {
			return g.Registry.Get(name, base, data)
		}
		return out, nil
	}

	funcs := sprig.TxtFuncMap()
	funcs["recipe"] = func(name string, kv ...any) (string, error) {
		out, err := render(name, kv)
		return AsRun(out), err
	}
	funcs["recipe_raw"] = func(name string, kv ...any) (string, error) {
		out, err := render(name, kv)
		return Raw(out), err
	}
	funcs["has_recipe"] = func(name string) bool {
		return g.Registry.Has(name, g.Variant) || g.Registry.Has(name, base)
	}
	funcs["layer_start"] = func() string { return layerStart }
	funcs["layer_join"] = func() string { return layerJoin }
	funcs["variant"] = func() string { return g.Variant }
	funcs["base_variant"] = func() string { return base }
	funcs["base_image"] = func() (string, error) { return g.BaseImage(defaults) }
	funcs["defaults"] = func() map[string]any { return defaults }
	return funcs
}

// Render executes the template at path. Data is the merged defaults overlaid
// with context, so templates read {{ .python_version }} or {{ .target_name }}.
func (g *Generator) Render(path string, defaults, context map[string]any) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	defaults = Merge(g.Defaults, defaults)
	tmpl, err := template.New(filepath.Base(path)).Funcs(g.Funcs(defaults)).Parse(string(raw))
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", path, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, Merge(defaults, context)); err != nil {
		return "", fmt.Errorf("render %s: %w", path, err)
	}
	return buf.String(), nil
}

// LoadVariantConfig reads variants/<base>.yml and variants/<variant>.yml under
// templateDir. The base file may carry a `subvariants` map keyed by the full
// variant name; the exact file wins over both.
func LoadVariantConfig(templateDir, variant string) (map[string]any, error) {
	out := map[string]any{}
	base := BaseVariant(variant)
	baseCfg, err := readYAMLMap(filepath.Join(templateDir, "variants", base+".yml"))
	if err != nil {
		return nil, err
	}
	subs, _ := baseCfg["subvariants"].(map[string]any)
	delete(baseCfg, "subvariants")
	out = Merge(out, baseCfg)
	if sub, ok := subs[variant].(map[string]any); ok {
		out = Merge(out, sub)
	}
	if variant != base {
		exact, err := readYAMLMap(filepath.Join(templateDir, "variants", variant+".yml"))
		if err != nil {
			return nil, err
		}
		out = Merge(out, exact)
	}
	return out, nil
}

func readYAMLMap(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]any{}, nil
		}
		return nil, err
	}
	out := map[string]any{}
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return out, nil
}

// Options controls GenerateAll.
type Options struct {
	// Variant overrides the settings file's variant.
	Variant string
	// Defaults come from --default flags and override the settings file.
	Defaults map[string]any
	// Targets limits generation; empty means every templated target.
	Targets []string
	DryRun  bool
	Log     logr.Logger
}

// Result describes one rendered Dockerfile.
type Result struct {
	Target   string
	Template string
	Output   string
	Content  string
}

// GenerateAll renders the Dockerfile of every templated target in s.
func GenerateAll(s *settings.Settings, opts Options) ([]Result, error) {
	variant := opts.Variant
	if variant == "" {
		variant = s.Variant
	}
	set, err := Load(projectSources(s))
	if err != nil {
		return nil, err
	}
	gen := NewGenerator(set, variant, nil)

	specs := s.Targets
	explicit := len(opts.Targets) > 0
	if explicit {
		specs = specs[:0:0]
		for _, id := range opts.Targets {
			spec, ok := s.Target(id)
			if !ok {
				return nil, &bake.UnknownIDError{ID: id}
			}
			specs = append(specs, spec)
		}
	}

	var results []Result
	for _, spec := range specs {
		tmplPath := s.TemplatePath(spec)
		if tmplPath == "" {
			if explicit {
				return nil, fmt.Errorf("%w: target %q has no Dockerfile template", bake.ErrConfiguration, spec.Name)
			}
			continue
		}
		if _, err := os.Stat(tmplPath); err != nil {
			return nil, fmt.Errorf("%w: target %q: template %s: %w", bake.ErrConfiguration, spec.Name, tmplPath, err)
		}
		variantCfg, err := LoadVariantConfig(templateRoot(s, spec, tmplPath), gen.Variant)
		if err != nil {
			return nil, err
		}
		defaults := Merge(variantCfg, s.DockerfileDefaults, opts.Defaults, spec.DockerfileDefaults)
		context := Merge(spec.TemplateContext, map[string]any{
			"target_name": spec.Name,
			"build_args":  spec.BuildArgs,
		})
		content, err := gen.Render(tmplPath, defaults, context)
		if err != nil {
			return nil, fmt.Errorf("target %q: %w", spec.Name, err)
		}
		res := Result{Target: spec.Name, Template: tmplPath, Output: s.DockerfilePath(spec), Content: content}
		if !opts.DryRun {
			if err := os.MkdirAll(filepath.Dir(res.Output), 0o755); err != nil {
				return nil, err
			}
			if err := os.WriteFile(res.Output, []byte(content), 0o644); err != nil {
				return nil, err
			}
		}
		opts.Log.V(1).Info("rendered dockerfile", "target", spec.Name, "template", tmplPath, "output", res.Output, "dryRun", opts.DryRun)
		results = append(results, res)
	}
	return results, nil
}

// templateRoot is the directory holding variants/: the shared template tree
// for conventional templates, the template's own directory otherwise.
func templateRoot(s *settings.Settings, spec settings.TargetSpec, tmplPath string) string {
	if spec.DockerfileTemplate != "" {
		return filepath.Dir(tmplPath)
	}
	return filepath.Join(s.BaseDir, settings.TemplateDir)
}

func projectSources(s *settings.Settings) Sources {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(s.BaseDir, p)
	}
	return Sources{
		Dir:      abs(s.RecipesDir),
		File:     abs(s.RecipesFile),
		Fallback: filepath.Join(s.BaseDir, settings.TemplateDir, "recipes"),
	}
}
