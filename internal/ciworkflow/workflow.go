// Package ciworkflow writes a GitHub Actions workflow that builds and pushes
// every target of a settings file through a job matrix.
package ciworkflow

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/example/baker/internal/bake"
	"gopkg.in/yaml.v3"
)

const (
	DefaultOutput   = ".github/workflows/baker.yml"
	DefaultRegistry = "ghcr.io"
	DefaultInstall  = "go install github.com/example/baker/cmd/baker@latest"
)

type Workflow struct {
	Name string         `yaml:"name"`
	On   Triggers       `yaml:"on"`
	Jobs map[string]Job `yaml:"jobs"`
}

type Triggers struct {
	Push        Branches `yaml:"push"`
	PullRequest Branches `yaml:"pull_request"`
}

type Branches struct {
	Branches []string `yaml:"branches"`
}

type Job struct {
	RunsOn      string            `yaml:"runs-on"`
	Permissions map[string]string `yaml:"permissions"`
	Env         map[string]string `yaml:"env"`
	Strategy    Strategy          `yaml:"strategy"`
	Steps       []Step            `yaml:"steps"`
}

type Strategy struct {
	FailFast bool                `yaml:"fail-fast"`
	Matrix   map[string][]string `yaml:"matrix"`
}

type Step struct {
	Name string            `yaml:"name,omitempty"`
	Uses string            `yaml:"uses,omitempty"`
	With map[string]string `yaml:"with,omitempty"`
	Run  string            `yaml:"run,omitempty"`
}

// Options customizes the generated workflow.
type Options struct {
	// Registry is logged into before building; DefaultRegistry when empty.
	Registry string
	// Branches trigger the workflow; defaults to main.
	Branches []string
	// Install is the shell command that puts baker on PATH.
	Install string
}

// New builds the workflow for targets, one matrix job per target.
func New(targets []string, opts Options) (*Workflow, error) {
	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: no targets found in settings", bake.ErrConfiguration)
	}
	registry := opts.Registry
	if registry == "" {
		registry = DefaultRegistry
	}
	branches := opts.Branches
	if len(branches) == 0 {
		branches = []string{"main"}
	}
	install := opts.Install
	if install == "" {
		install = DefaultInstall
	}
	return &Workflow{
		Name: "Baker Build and Push",
		On: Triggers{
			Push:        Branches{Branches: branches},
			PullRequest: Branches{Branches: branches},
		},
		Jobs: map[string]Job{
			"build": {
				RunsOn:      "ubuntu-latest",
				Permissions: map[string]string{"contents": "read", "packages": "write"},
				Env: map[string]string{
					"REGISTRY": registry,
					"OWNER":    "${{ github.repository_owner }}",
				},
				Strategy: Strategy{
					FailFast: false,
					Matrix:   map[string][]string{"target": append([]string(nil), targets...)},
				},
				Steps: []Step{
					{Uses: "actions/checkout@v4"},
					{Name: "Set up QEMU", Uses: "docker/setup-qemu-action@v3"},
					{Name: "Set up Docker Buildx", Uses: "docker/setup-buildx-action@v3"},
					{Name: "Log in to Registry", Uses: "docker/login-action@v3", With: map[string]string{
						"registry": "${{ env.REGISTRY }}",
						"username": "${{ github.actor }}",
						"password": "${{ secrets.GITHUB_TOKEN }}",
					}},
					{Name: "Set up Go", Uses: "actions/setup-go@v5", With: map[string]string{"go-version": "stable"}},
					{Name: "Install baker", Run: install},
					{Name: "Build", Run: "baker build --check registry --push --targets ${{ matrix.target }}"},
				},
			},
		},
	}, nil
}

// Marshal renders w as YAML with two-space indentation.
func (w *Workflow) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(w); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write renders the workflow for targets into path.
func Write(path string, targets []string, opts Options) error {
	w, err := New(targets, opts)
	if err != nil {
		return err
	}
	data, err := w.Marshal()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
