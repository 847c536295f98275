// File: internal/settings/settings.go
// Brief: Loads build-settings.yml into a bake.Graph.

// Package settings reads the project file that declares targets and bundles.
// Declaration order in the file is preserved, since it breaks ties when
// ordering builds.
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/containerd/platforms"
	"github.com/example/baker/internal/bake"
	"gopkg.in/yaml.v3"
)

// DefaultFile is the settings file looked up when --settings is not given.
const DefaultFile = "build-settings.yml"

const (
	HashModeSelf     = "self"
	HashModeSelfDeps = "self+deps"
)

// TemplateDir is the conventional location of per-target Dockerfile templates,
// relative to the settings file.
var TemplateDir = filepath.Join("ops", "build", "docker-templates")

// GeneratedDockerfileDir receives rendered Dockerfiles when a target sets a
// template but no explicit dockerfile.
var GeneratedDockerfileDir = filepath.Join("ops", "build", "docker")

// TargetSpec is one entry under `targets:`.
type TargetSpec struct {
	Name               string            `yaml:"-"`
	Dockerfile         string            `yaml:"dockerfile,omitempty"`
	DockerfileTemplate string            `yaml:"dockerfile_template,omitempty"`
	Context            string            `yaml:"context,omitempty"`
	DependsOn          []string          `yaml:"depends_on,omitempty"`
	Deps               []string          `yaml:"deps,omitempty"`
	BuildArgs          map[string]string `yaml:"build_args,omitempty"`
	Tags               []string          `yaml:"tags,omitempty"`
	Platforms          []string          `yaml:"platforms,omitempty"`
	Image              string            `yaml:"image,omitempty"`
	HashMode           string            `yaml:"hash_mode,omitempty"`
	Latest             bool              `yaml:"latest,omitempty"`
	DockerfileDefaults map[string]any    `yaml:"dockerfile_defaults,omitempty"`
	TemplateContext    map[string]any    `yaml:"template_context,omitempty"`
}

// BundleSpec is one entry under `bundles:`.
type BundleSpec struct {
	Name    string
	Targets []string
}

// Settings is a parsed build-settings.yml.
type Settings struct {
	// Path is the file the settings were read from; BaseDir resolves every
	// relative path inside it.
	Path    string
	BaseDir string

	Registry           string
	Variant            string
	RecipesDir         string
	RecipesFile        string
	Platforms          []string
	DockerfileDefaults map[string]any

	Targets []TargetSpec
	Bundles []BundleSpec
}

type rawSettings struct {
	Registry           string         `yaml:"registry"`
	Variant            string         `yaml:"variant"`
	RecipesDir         string         `yaml:"recipes_dir"`
	RecipesFile        string         `yaml:"recipes_file"`
	Platforms          []string       `yaml:"platforms"`
	DockerfileDefaults map[string]any `yaml:"dockerfile_defaults"`
	Targets            yaml.Node      `yaml:"targets"`
	Bundles            yaml.Node      `yaml:"bundles"`
}

// Load reads and parses the settings file at path.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	s, err := Parse(data, filepath.Dir(abs))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	s.Path = abs
	return s, nil
}

// Parse parses settings whose relative paths resolve against baseDir.
func Parse(data []byte, baseDir string) (*Settings, error) {
	var raw rawSettings
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", bake.ErrConfiguration, err)
	}
	s := &Settings{
		BaseDir:            baseDir,
		Registry:           strings.TrimSpace(raw.Registry),
		Variant:            strings.TrimSpace(raw.Variant),
		RecipesDir:         raw.RecipesDir,
		RecipesFile:        raw.RecipesFile,
		Platforms:          raw.Platforms,
		DockerfileDefaults: raw.DockerfileDefaults,
	}
	if raw.Targets.Kind == 0 {
		return nil, fmt.Errorf("%w: 'targets' missing", bake.ErrConfiguration)
	}
	targets, err := parseTargets(&raw.Targets)
	if err != nil {
		return nil, err
	}
	s.Targets = targets
	if raw.Bundles.Kind != 0 {
		bundles, err := parseBundles(&raw.Bundles)
		if err != nil {
			return nil, err
		}
		s.Bundles = bundles
	}
	return s, nil
}

func parseTargets(node *yaml.Node) ([]TargetSpec, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: line %d: 'targets' must be a mapping of id to target", bake.ErrConfiguration, node.Line)
	}
	out := make([]TargetSpec, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		var spec TargetSpec
		if value.Kind != 0 && !(value.Kind == yaml.ScalarNode && value.Tag == "!!null") {
			if err := value.Decode(&spec); err != nil {
				return nil, fmt.Errorf("%w: target %q: %w", bake.ErrConfiguration, key.Value, err)
			}
		}
		spec.Name = strings.TrimSpace(key.Value)
		if spec.Name == "" {
			return nil, fmt.Errorf("%w: line %d: empty target id", bake.ErrConfiguration, key.Line)
		}
		out = append(out, spec)
	}
	return out, nil
}

func parseBundles(node *yaml.Node) ([]BundleSpec, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: line %d: 'bundles' must be a mapping of id to target list", bake.ErrConfiguration, node.Line)
	}
	out := make([]BundleSpec, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		var members []string
		if err := value.Decode(&members); err != nil {
			return nil, fmt.Errorf("%w: bundle %q: %w", bake.ErrConfiguration, key.Value, err)
		}
		out = append(out, BundleSpec{Name: strings.TrimSpace(key.Value), Targets: members})
	}
	return out, nil
}

// Target returns the spec for id.
func (s *Settings) Target(id string) (TargetSpec, bool) {
	for _, t := range s.Targets {
		if t.Name == id {
			return t, true
		}
	}
	return TargetSpec{}, false
}

// TargetNames returns target ids in declaration order.
func (s *Settings) TargetNames() []string {
	out := make([]string, 0, len(s.Targets))
	for _, t := range s.Targets {
		out = append(out, t.Name)
	}
	return out
}

// Graph converts the settings into a build graph. Structural validation
// (missing dependencies, cycles) is left to the graph.
func (s *Settings) Graph() (*bake.Graph, error) {
	g := bake.NewGraph()
	for _, spec := range s.Targets {
		t, err := s.resolveTarget(spec)
		if err != nil {
			return nil, err
		}
		if err := g.AddTarget(t); err != nil {
			return nil, err
		}
	}
	for _, b := range s.Bundles {
		if err := g.AddBundle(bake.Bundle{ID: b.Name, Targets: b.Targets}); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func (s *Settings) resolveTarget(spec TargetSpec) (bake.Target, error) {
	fail := func(format string, args ...any) (bake.Target, error) {
		return bake.Target{}, fmt.Errorf("%w: target %q: %s", bake.ErrConfiguration, spec.Name, fmt.Sprintf(format, args...))
	}
	mode := spec.HashMode
	if mode == "" {
		mode = HashModeSelf
	}
	if mode != HashModeSelf && mode != HashModeSelfDeps {
		return fail("hash_mode must be %q or %q, got %q", HashModeSelf, HashModeSelfDeps, spec.HashMode)
	}
	tags := append([]string(nil), spec.Tags...)
	if len(tags) == 0 {
		if spec.Image == "" {
			return fail("either tags or image is required")
		}
		tags = DefaultTags(spec.Image, mode, spec.Latest)
	}
	platformSpecs := spec.Platforms
	if len(platformSpecs) == 0 {
		platformSpecs = s.Platforms
	}
	plats, err := NormalizePlatforms(platformSpecs)
	if err != nil {
		return fail("%v", err)
	}
	contextDir := s.path(spec.Context)
	if spec.Context == "" {
		contextDir = s.BaseDir
	}
	var args map[string]string
	if len(spec.BuildArgs) > 0 {
		args = make(map[string]string, len(spec.BuildArgs))
		for k, v := range spec.BuildArgs {
			args[k] = v
		}
	}
	return bake.Target{
		ID:         spec.Name,
		Dockerfile: s.DockerfilePath(spec),
		Context:    contextDir,
		DependsOn:  append(append([]string(nil), spec.DependsOn...), spec.Deps...),
		BuildArgs:  args,
		Tags:       tags,
		Platforms:  plats,
	}, nil
}

// DefaultTags derives the tags of a target that only names its image.
func DefaultTags(image, hashMode string, latest bool) []string {
	primary := image + ":{{ checksum_self }}"
	if hashMode == HashModeSelfDeps {
		primary = image + ":{{ checksum_self }}-{{ checksum_deps }}"
	}
	tags := []string{primary}
	if latest {
		tags = append(tags, image+":latest")
	}
	return tags
}

// TemplatePath returns the absolute Dockerfile template of a target, or "" when
// it has none. An explicit dockerfile_template wins over the conventional
// ops/build/docker-templates/<id>/Dockerfile.tmpl.
func (s *Settings) TemplatePath(spec TargetSpec) string {
	if spec.DockerfileTemplate != "" {
		return s.path(spec.DockerfileTemplate)
	}
	convention := filepath.Join(s.BaseDir, TemplateDir, spec.Name, "Dockerfile.tmpl")
	if _, err := os.Stat(convention); err == nil {
		return convention
	}
	return ""
}

// DockerfilePath returns where the target's Dockerfile lives. Without an
// explicit dockerfile, templated targets render to
// ops/build/docker/Dockerfile.<id> and others use <context>/Dockerfile.
func (s *Settings) DockerfilePath(spec TargetSpec) string {
	if spec.Dockerfile != "" {
		return s.path(spec.Dockerfile)
	}
	if s.TemplatePath(spec) != "" {
		return filepath.Join(s.BaseDir, GeneratedDockerfileDir, "Dockerfile."+spec.Name)
	}
	ctx := s.BaseDir
	if spec.Context != "" {
		ctx = s.path(spec.Context)
	}
	return filepath.Join(ctx, "Dockerfile")
}

func (s *Settings) path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(s.BaseDir, filepath.FromSlash(p))
}

// NormalizePlatforms validates platform specifiers and returns their
// canonical os/arch[/variant] form without duplicates.
func NormalizePlatforms(specs []string) ([]string, error) {
	var out []string
	seen := map[string]bool{}
	for _, spec := range specs {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}
		p, err := platforms.Parse(spec)
		if err != nil {
			return nil, fmt.Errorf("invalid platform %q: %w", spec, err)
		}
		norm := platforms.Format(platforms.Normalize(p))
		if seen[norm] {
			continue
		}
		seen[norm] = true
		out = append(out, norm)
	}
	return out, nil
}

// Find returns path when set, otherwise DefaultFile in dir if it exists.
func Find(path, dir string) (string, error) {
	if path != "" {
		return path, nil
	}
	candidate := filepath.Join(dir, DefaultFile)
	if _, err := os.Stat(candidate); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: no %s in %s (use --settings)", bake.ErrConfiguration, DefaultFile, dir)
		}
		return "", err
	}
	return candidate, nil
}
