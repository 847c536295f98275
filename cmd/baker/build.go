package main

import (
	"errors"
	"io"
	"os"

	"github.com/containerd/console"
	"github.com/docker/cli/cli/config/configfile"
	"github.com/example/baker/internal/bake"
	"github.com/example/baker/internal/dockerconfig"
	"github.com/example/baker/pkg/buildkit"
	"github.com/example/baker/pkg/registry"
	"github.com/go-logr/logr"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/spf13/cobra"
)

type buildFlags struct {
	builder         string
	builderFallback bool
	progress        string
	cacheDir        string
	ociDir          string
	noCache         bool
	pull            bool
	sign            bool
}

func newBuildCommand(global *globalOptions) *cobra.Command {
	flags := newPlanFlags()
	bf := buildFlags{
		builder:         buildkit.DefaultBuilderAddress(),
		builderFallback: true,
		progress:        "auto",
		cacheDir:        buildkit.DefaultCacheDir(),
		ociDir:          buildkit.DefaultLayoutRoot(),
	}
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build (and optionally push) every selected target whose image is missing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := flags.options(false)
			if err != nil {
				return err
			}
			p, err := openProject(cmd, global, flags)
			if err != nil {
				return err
			}
			executor, err := newExecutor(cmd, p, flags, bf)
			if err != nil {
				return err
			}
			report, err := bake.NewPlanner(p.graph, p.overrides, p.dependencies(flags, executor)).Run(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if err := writeReport(cmd.OutOrStdout(), report, flags.output); err != nil {
				return err
			}
			warnMissingCredentials(p.log, flags.dockerConfig, report, cmd.ErrOrStderr())
			return report.Err()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags.bind(cmd.Flags())
	cmd.Flags().StringVar(&bf.builder, "builder", bf.builder, "BuildKit address (override with BAKER_BUILDKIT_HOST)")
	cmd.Flags().BoolVar(&bf.builderFallback, "builder-fallback", bf.builderFallback, "Provision a docker buildx builder when the BuildKit address is unreachable")
	cmd.Flags().StringVar(&bf.progress, "progress", bf.progress, "Progress output: auto, plain, tty or quiet")
	cmd.Flags().StringVar(&bf.cacheDir, "cache-dir", bf.cacheDir, "Local BuildKit cache directory")
	cmd.Flags().StringVar(&bf.ociDir, "oci-dir", bf.ociDir, "Directory receiving OCI layouts of built images")
	cmd.Flags().BoolVar(&bf.noCache, "no-cache", false, "Disable BuildKit cache usage")
	cmd.Flags().BoolVar(&bf.pull, "pull", false, "Always pull base images")
	cmd.Flags().BoolVar(&bf.sign, "sign", false, "Sign pushed images with cosign")
	return cmd
}

func newExecutor(cmd *cobra.Command, p *project, flags *planFlags, bf buildFlags) (*buildkit.Executor, error) {
	dockerCfg, err := dockerconfig.LoadConfigFile(flags.dockerConfig, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	for _, path := range []*string{&bf.cacheDir, &bf.ociDir} {
		if *path, err = expandPath(*path); err != nil {
			return nil, err
		}
	}
	return &buildkit.Executor{
		Runner:     buildkit.NewRunner(),
		Records:    p.records,
		Pusher:     registry.NewPusher(p.records),
		LayoutRoot: bf.ociDir,
		Defaults: buildkit.BuildOptions{
			BuilderAddr:          bf.builder,
			AllowBuilderFallback: bf.builderFallback,
			CacheDir:             bf.cacheDir,
			NoCache:              bf.noCache,
			Pull:                 bf.pull,
			ProgressMode:         bf.progress,
			ProgressOutput:       resolveConsoleFile(cmd.ErrOrStderr()),
			DockerConfig:         dockerCfg,
		},
		Sign:   bf.sign,
		Output: cmd.ErrOrStderr(),
		Log:    p.log,
	}, nil
}

func resolveConsoleFile(w io.Writer) console.File {
	if cf, ok := w.(console.File); ok {
		return cf
	}
	if f, ok := w.(*os.File); ok {
		return f
	}
	return os.Stderr
}

// warnMissingCredentials points at docker login when a push failed against a
// registry the Docker config has no credentials for.
func warnMissingCredentials(log logr.Logger, configPath string, report *bake.Report, stderr io.Writer) {
	var cfg *configfile.ConfigFile
	for _, e := range report.Entries {
		var execErr *bake.BuildExecutionError
		if !errors.As(e.Err, &execErr) || execErr.Phase != "push" {
			continue
		}
		ref, err := name.ParseReference(e.PrimaryTag())
		if err != nil {
			continue
		}
		if cfg == nil {
			if cfg, err = dockerconfig.LoadConfigFile(configPath, stderr); err != nil {
				return
			}
		}
		host := ref.Context().RegistryStr()
		if host == name.DefaultRegistry {
			host = "https://index.docker.io/v1/"
		}
		if !dockerconfig.HasCredentials(cfg, host) {
			log.Info("no credentials for registry, run 'docker login "+host+"'", "target", e.Target, "registry", host)
		}
	}
}
