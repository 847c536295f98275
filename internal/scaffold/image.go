// File: internal/scaffold/image.go
// Brief: `baker image add` scaffolding.

// Package scaffold adds new image targets to a project: a starter Dockerfile
// under docker/<name>/ and a matching entry in the settings file.
package scaffold

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/example/baker/internal/bake"
	"github.com/example/baker/internal/bakefile"
	"github.com/example/baker/internal/settings"
	"gopkg.in/yaml.v3"
)

// DefaultBaseImage is the final stage of a scaffolded Dockerfile when no
// --image is given.
const DefaultBaseImage = "alpine:3.20"

// ErrExists is returned when the target or its Dockerfile already exists and
// Force is not set.
var ErrExists = errors.New("already exists")

// ImageRequest describes `baker image add`.
type ImageRequest struct {
	SettingsPath string
	Name         string
	// Deps may hold comma-separated lists.
	Deps      []string
	BaseImage string
	Force     bool
}

// ImageResult reports what AddImage wrote.
type ImageResult struct {
	Name       string
	Deps       []string
	Dockerfile string
	Target     settings.TargetSpec
}

// SanitizeName lower-cases name, turns spaces into dashes and drops every
// character other than letters, digits, '-', '_' and '.'.
func SanitizeName(name string) (string, error) {
	s := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "-")
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' || r == '.' {
			return r
		}
		return -1
	}, s)
	s = strings.Trim(s, "-._")
	if s == "" {
		return "", fmt.Errorf("%w: invalid image name %q", bake.ErrConfiguration, name)
	}
	return s, nil
}

// SplitDeps sanitizes and de-duplicates dependency names, accepting both
// repeated values and comma-separated lists.
func SplitDeps(values []string) ([]string, error) {
	var out []string
	seen := map[string]bool{}
	for _, item := range values {
		for _, part := range strings.Split(item, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			dep, err := SanitizeName(part)
			if err != nil {
				return nil, err
			}
			if !seen[dep] {
				seen[dep] = true
				out = append(out, dep)
			}
		}
	}
	return out, nil
}

// Dockerfile returns the starter Dockerfile: one ARG and FROM stage per
// dependency, then the final base image.
func Dockerfile(deps []string, baseImage string) string {
	var b strings.Builder
	for _, dep := range deps {
		fmt.Fprintf(&b, "ARG %s=builder-%s:latest\n", bakefile.DepArg(dep), dep)
	}
	for _, dep := range deps {
		fmt.Fprintf(&b, "FROM ${%s} AS %s\n", bakefile.DepArg(dep), strings.ReplaceAll(dep, "-", "_"))
	}
	if baseImage == "" {
		baseImage = DefaultBaseImage
	}
	fmt.Fprintf(&b, "\nFROM %s\n\n", baseImage)
	return b.String()
}

// AddImage writes the Dockerfile and inserts the target into the settings
// file, keeping existing entries, their order and comments.
func AddImage(req ImageRequest) (*ImageResult, error) {
	name, err := SanitizeName(req.Name)
	if err != nil {
		return nil, err
	}
	deps, err := SplitDeps(req.Deps)
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(req.SettingsPath)
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", bake.ErrConfiguration, req.SettingsPath, err)
	}
	targets, err := targetsNode(&doc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", req.SettingsPath, err)
	}
	existing := -1
	for i := 0; i+1 < len(targets.Content); i += 2 {
		if targets.Content[i].Value == name {
			existing = i
			break
		}
	}
	if existing >= 0 && !req.Force {
		return nil, fmt.Errorf("target %q %w (use --force to overwrite)", name, ErrExists)
	}

	rel := path.Join("docker", name, "Dockerfile")
	dockerfile := filepath.Join(filepath.Dir(req.SettingsPath), filepath.FromSlash(rel))
	if _, err := os.Stat(dockerfile); err == nil && !req.Force {
		return nil, fmt.Errorf("dockerfile %s %w (use --force to overwrite)", dockerfile, ErrExists)
	}

	spec := settings.TargetSpec{
		Dockerfile: rel,
		Context:    ".",
		Deps:       deps,
		HashMode:   settings.HashModeSelf,
		Image:      "builder-" + name,
		Latest:     true,
	}
	if len(deps) > 0 {
		spec.HashMode = settings.HashModeSelfDeps
	}
	var value yaml.Node
	if err := value.Encode(spec); err != nil {
		return nil, err
	}
	if existing >= 0 {
		targets.Content[existing+1] = &value
	} else {
		key := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: name}
		targets.Content = append(targets.Content, key, &value)
	}

	if err := os.MkdirAll(filepath.Dir(dockerfile), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(dockerfile, []byte(Dockerfile(deps, req.BaseImage)), 0o644); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	if err := os.WriteFile(req.SettingsPath, buf.Bytes(), 0o644); err != nil {
		return nil, err
	}
	spec.Name = name
	return &ImageResult{Name: name, Deps: deps, Dockerfile: dockerfile, Target: spec}, nil
}

// targetsNode returns the `targets` mapping of doc, creating the document or
// the key when missing.
func targetsNode(doc *yaml.Node) (*yaml.Node, error) {
	if doc.Kind == 0 {
		doc.Kind = yaml.DocumentNode
	}
	if len(doc.Content) == 0 {
		doc.Content = []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: settings root must be a mapping", bake.ErrConfiguration)
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value != "targets" {
			continue
		}
		value := root.Content[i+1]
		if value.Kind == yaml.ScalarNode && value.Tag == "!!null" {
			*value = yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		}
		if value.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("%w: 'targets' must be a mapping", bake.ErrConfiguration)
		}
		return value, nil
	}
	value := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	root.Content = append(root.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: "targets"}, value)
	return value, nil
}
