package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/example/baker/internal/bake"
	"github.com/example/baker/internal/logging"
	"github.com/example/baker/internal/settings"
	"github.com/go-logr/logr"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type globalOptions struct {
	settingsPath string
	logLevel     string
	logJSON      bool
}

func (g *globalOptions) logger(cmd *cobra.Command) (logr.Logger, error) {
	return logging.New(g.logLevel, logging.Options{Output: cmd.ErrOrStderr(), JSON: g.logJSON})
}

// loadSettings finds and parses the settings file.
func (g *globalOptions) loadSettings() (*settings.Settings, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	explicit, err := expandPath(g.settingsPath)
	if err != nil {
		return nil, err
	}
	path, err := settings.Find(explicit, wd)
	if err != nil {
		return nil, err
	}
	return settings.Load(path)
}

// planFlags are shared by plan, build and gen-hcl.
type planFlags struct {
	targets          []string
	sets             []string
	skip             []string
	check            string
	push             bool
	force            bool
	concurrency      int
	failFast         bool
	strictEnv        bool
	strictCheck      bool
	checkTimeout     time.Duration
	buildTimeout     time.Duration
	output           string
	dockerConfig     string
	recordsDir       string
	registryInsecure bool
}

func newPlanFlags() *planFlags {
	return &planFlags{
		check:        string(bake.CheckNone),
		checkTimeout: bake.DefaultCheckTimeout,
		buildTimeout: bake.DefaultBuildTimeout,
		output:       "table",
	}
}

func (f *planFlags) bind(fs *pflag.FlagSet) {
	fs.StringSliceVar(&f.targets, "targets", nil, "Target or bundle ids to process (comma-separated; default: all)")
	fs.StringArrayVar(&f.sets, "set", nil, "Override a build-arg for every target declaring it (KEY=VALUE)")
	fs.StringSliceVar(&f.skip, "skip", nil, "Target or bundle ids to never build or push")
	fs.StringVar(&f.check, "check", f.check, "Where to look for existing images: none, local or registry")
	fs.BoolVar(&f.push, "push", false, "Push built images to their registries")
	fs.BoolVar(&f.force, "force", false, "Build even when the image already exists")
	fs.IntVar(&f.concurrency, "concurrency", 0, "Maximum targets processed at once (default: number of CPUs)")
	fs.BoolVar(&f.failFast, "fail-fast", false, "Stop starting new targets after the first failure")
	fs.BoolVar(&f.strictEnv, "strict-env", false, "Fail when an env.NAME expression refers to an unset variable")
	fs.BoolVar(&f.strictCheck, "strict-check", false, "Fail a target when its existence check errors instead of building it")
	fs.DurationVar(&f.checkTimeout, "check-timeout", f.checkTimeout, "Timeout for each existence check")
	fs.DurationVar(&f.buildTimeout, "build-timeout", f.buildTimeout, "Timeout for each build and push")
	fs.StringVarP(&f.output, "output", "o", f.output, "Output format: table or json")
	fs.StringVar(&f.dockerConfig, "docker-config", "", "Path to the Docker config.json holding registry credentials")
	fs.StringVar(&f.recordsDir, "records-dir", "", "Directory of local image records (default: user cache)")
	fs.BoolVar(&f.registryInsecure, "insecure-registry", false, "Talk plain HTTP to registries")
}

func (f *planFlags) options(dryRun bool) (bake.Options, error) {
	scope, err := bake.ParseCheckScope(f.check)
	if err != nil {
		return bake.Options{}, err
	}
	if err := validateOutput(f.output); err != nil {
		return bake.Options{}, err
	}
	if f.concurrency < 0 {
		return bake.Options{}, fmt.Errorf("%w: --concurrency must not be negative", bake.ErrConfiguration)
	}
	return bake.Options{
		Selection:       f.targets,
		Check:           scope,
		Push:            f.push,
		Force:           f.force,
		Skip:            f.skip,
		Concurrency:     f.concurrency,
		FailFast:        f.failFast,
		StrictExistence: f.strictCheck,
		StrictEnv:       f.strictEnv,
		CheckTimeout:    f.checkTimeout,
		BuildTimeout:    f.buildTimeout,
		DryRun:          dryRun,
	}, nil
}

// expandPaths resolves ~ in the path-valued flags.
func (f *planFlags) expandPaths() error {
	for _, p := range []*string{&f.dockerConfig, &f.recordsDir} {
		expanded, err := expandPath(*p)
		if err != nil {
			return err
		}
		*p = expanded
	}
	return nil
}

func expandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", bake.ErrConfiguration, path, err)
	}
	return expanded, nil
}

func validateOutput(format string) error {
	switch format {
	case "table", "json":
		return nil
	}
	return fmt.Errorf("%w: unknown output format %q (expected table or json)", bake.ErrConfiguration, format)
}

// parseDefaults turns repeated --default KEY=VALUE flags into template defaults.
func parseDefaults(values []string) (map[string]any, error) {
	out := make(map[string]any, len(values))
	for _, raw := range values {
		key, val, ok := strings.Cut(raw, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: invalid default %q (expected KEY=VALUE)", bake.ErrConfiguration, raw)
		}
		out[key] = val
	}
	return out, nil
}
