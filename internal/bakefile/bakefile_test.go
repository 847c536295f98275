package bakefile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/example/baker/internal/bake"
	"github.com/google/go-cmp/cmp"
	"github.com/hashicorp/hcl/v2/hclsimple"
)

type bakeGroup struct {
	Name    string   `hcl:"name,label"`
	Targets []string `hcl:"targets"`
}

type bakeTarget struct {
	Name       string            `hcl:"name,label"`
	Context    string            `hcl:"context"`
	Dockerfile string            `hcl:"dockerfile"`
	Tags       []string          `hcl:"tags"`
	Args       map[string]string `hcl:"args,optional"`
	Platforms  []string          `hcl:"platforms,optional"`
	Labels     map[string]string `hcl:"labels,optional"`
}

type bakeFile struct {
	Groups  []bakeGroup  `hcl:"group,block"`
	Targets []bakeTarget `hcl:"target,block"`
}

func sampleReport(dir string) *bake.Report {
	return &bake.Report{DryRun: true, Entries: []*bake.PlanEntry{
		{
			Target:       "base",
			Context:      dir,
			Dockerfile:   filepath.Join(dir, "docker", "base", "Dockerfile"),
			Tags:         []string{"ghcr.io/acme/base:0123456789ab", "ghcr.io/acme/base:latest"},
			BuildArgs:    map[string]string{"PY_VERSION": "3.12"},
			Platforms:    []string{"linux/amd64", "linux/arm64"},
			ChecksumSelf: "0123456789ab",
			State:        bake.StateDecided,
		},
		{
			Target:       "web-app",
			Context:      filepath.Join(dir, "services", "web"),
			Dockerfile:   "/elsewhere/Dockerfile",
			DependsOn:    []string{"base"},
			Tags:         []string{"ghcr.io/acme/web:ba9876543210-0123456789ab"},
			ChecksumSelf: "ba9876543210",
			ChecksumDeps: "0123456789ab",
			State:        bake.StateDecided,
		},
	}}
}

func TestRenderProducesBakeFile(t *testing.T) {
	dir := t.TempDir()
	data, err := Render(sampleReport(dir), dir)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	var got bakeFile
	if err := hclsimple.Decode(DefaultFile, data, nil, &got); err != nil {
		t.Fatalf("decode rendered file: %v\n%s", err, data)
	}
	want := bakeFile{
		Groups: []bakeGroup{{Name: "default", Targets: []string{"base", "web-app"}}},
		Targets: []bakeTarget{
			{
				Name:       "base",
				Context:    ".",
				Dockerfile: "docker/base/Dockerfile",
				Tags:       []string{"ghcr.io/acme/base:0123456789ab", "ghcr.io/acme/base:latest"},
				Args:       map[string]string{"PY_VERSION": "3.12"},
				Platforms:  []string{"linux/amd64", "linux/arm64"},
				Labels:     map[string]string{"dev.baker.checksum-self": "0123456789ab"},
			},
			{
				Name:       "web-app",
				Context:    "services/web",
				Dockerfile: "/elsewhere/Dockerfile",
				Tags:       []string{"ghcr.io/acme/web:ba9876543210-0123456789ab"},
				Args:       map[string]string{"IMAGE_BASE": "ghcr.io/acme/base:0123456789ab"},
				Labels: map[string]string{
					"dev.baker.checksum-self": "ba9876543210",
					"dev.baker.checksum-deps": "0123456789ab",
				},
			},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("bake file mismatch (-want +got):\n%s", diff)
	}
}

func TestExplicitBuildArgWinsOverDependencyArg(t *testing.T) {
	report := sampleReport("/src")
	report.Entries[1].BuildArgs = map[string]string{"IMAGE_BASE": "pinned:1"}
	data, err := Render(report, "/src")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	var got bakeFile
	if err := hclsimple.Decode(DefaultFile, data, nil, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Targets[1].Args["IMAGE_BASE"] != "pinned:1" {
		t.Fatalf("args = %v", got.Targets[1].Args)
	}
}

func TestDepArg(t *testing.T) {
	cases := map[string]string{
		"base":       "IMAGE_BASE",
		"web-app":    "IMAGE_WEB_APP",
		"py3.12_env": "IMAGE_PY3_12_ENV",
	}
	for in, want := range cases {
		if got := DepArg(in); got != want {
			t.Errorf("DepArg(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRenderRejectsUnresolvedEntries(t *testing.T) {
	if _, err := Render(&bake.Report{}, ""); !errors.Is(err, bake.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	report := sampleReport("/src")
	report.Entries[0].Tags = nil
	if _, err := Render(report, "/src"); err == nil {
		t.Fatalf("expected error for entry without tags")
	}
}

func TestWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out", DefaultFile)
	if err := Write(sampleReport(dir), dir, path); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if info, err := os.Stat(path); err != nil || info.Size() == 0 {
		t.Fatalf("bake file not written: %v", err)
	}
}
