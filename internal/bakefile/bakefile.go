// File: internal/bakefile/bakefile.go
// Brief: Renders a resolved plan as a docker buildx bake HCL file.

// Package bakefile exports a dry-run plan to the HCL format understood by
// `docker buildx bake`, so CI systems without baker can reproduce the builds.
package bakefile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/example/baker/internal/bake"
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"
)

// DefaultFile is where gen-hcl writes when no output path is given.
const DefaultFile = "docker-bake.hcl"

// DepArg returns the build-arg that carries dep's primary tag: IMAGE_<DEP>
// with the id upper-cased and separators replaced by underscores.
func DepArg(dep string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, dep)
	return "IMAGE_" + mapped
}

// Render returns the HCL for every entry of report. Paths are written
// relative to baseDir when they live under it.
func Render(report *bake.Report, baseDir string) ([]byte, error) {
	if report == nil || len(report.Entries) == 0 {
		return nil, fmt.Errorf("%w: nothing to export", bake.ErrConfiguration)
	}
	byID := make(map[string]*bake.PlanEntry, len(report.Entries))
	names := make([]cty.Value, 0, len(report.Entries))
	for _, e := range report.Entries {
		byID[e.Target] = e
		names = append(names, cty.StringVal(e.Target))
	}

	f := hclwrite.NewEmptyFile()
	root := f.Body()
	group := root.AppendNewBlock("group", []string{"default"}).Body()
	group.SetAttributeValue("targets", cty.ListVal(names))

	for _, e := range report.Entries {
		if len(e.Tags) == 0 {
			return nil, fmt.Errorf("target %s has no resolved tags (state %s)", e.Target, e.State)
		}
		root.AppendNewline()
		body := root.AppendNewBlock("target", []string{e.Target}).Body()
		body.SetAttributeValue("context", cty.StringVal(relative(baseDir, e.Context)))
		body.SetAttributeValue("dockerfile", cty.StringVal(relative(baseDir, e.Dockerfile)))
		body.SetAttributeValue("tags", stringList(e.Tags))

		args := make(map[string]cty.Value, len(e.BuildArgs)+len(e.DependsOn))
		for _, dep := range e.DependsOn {
			if d, ok := byID[dep]; ok && d.PrimaryTag() != "" {
				args[DepArg(dep)] = cty.StringVal(d.PrimaryTag())
			}
		}
		for k, v := range e.BuildArgs {
			args[k] = cty.StringVal(v)
		}
		if len(args) > 0 {
			body.SetAttributeValue("args", cty.ObjectVal(args))
		}
		if len(e.Platforms) > 0 {
			body.SetAttributeValue("platforms", stringList(e.Platforms))
		}
		if len(e.ChecksumSelf) > 0 {
			labels := map[string]cty.Value{"dev.baker.checksum-self": cty.StringVal(e.ChecksumSelf)}
			if e.ChecksumDeps != "" {
				labels["dev.baker.checksum-deps"] = cty.StringVal(e.ChecksumDeps)
			}
			body.SetAttributeValue("labels", cty.ObjectVal(labels))
		}
	}
	return hclwrite.Format(f.Bytes()), nil
}

// Write renders report into path.
func Write(report *bake.Report, baseDir, path string) error {
	data, err := Render(report, baseDir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func stringList(values []string) cty.Value {
	out := make([]cty.Value, 0, len(values))
	for _, v := range values {
		out = append(out, cty.StringVal(v))
	}
	return cty.ListVal(out)
}

func relative(baseDir, p string) string {
	if baseDir == "" || !filepath.IsAbs(p) {
		return filepath.ToSlash(p)
	}
	rel, err := filepath.Rel(baseDir, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return filepath.ToSlash(p)
	}
	return filepath.ToSlash(rel)
}
