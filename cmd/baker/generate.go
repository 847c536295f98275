package main

import (
	"fmt"
	"path/filepath"

	"github.com/example/baker/internal/bake"
	"github.com/example/baker/internal/bakefile"
	"github.com/example/baker/internal/ciworkflow"
	"github.com/example/baker/internal/recipes"
	"github.com/spf13/cobra"
)

func newGenHCLCommand(global *globalOptions) *cobra.Command {
	flags := newPlanFlags()
	var output string
	cmd := &cobra.Command{
		Use:   "gen-hcl",
		Short: "Write a docker buildx bake file with resolved tags and build-args",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := flags.options(true)
			if err != nil {
				return err
			}
			p, err := openProject(cmd, global, flags)
			if err != nil {
				return err
			}
			report, err := bake.NewPlanner(p.graph, p.overrides, p.dependencies(flags, nil)).Run(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if err := report.Err(); err != nil {
				return err
			}
			path := output
			if path == "" {
				path = filepath.Join(p.settings.BaseDir, bakefile.DefaultFile)
			}
			if err := bakefile.Write(report, p.settings.BaseDir, path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d targets)\n", path, len(report.Entries))
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags.bind(cmd.Flags())
	cmd.Flags().StringVarP(&output, "file", "f", "", "Output path (default: docker-bake.hcl next to the settings file)")
	return cmd
}

func newGenDockerfilesCommand(global *globalOptions) *cobra.Command {
	var (
		targets  []string
		defaults []string
		variant  string
		dryRun   bool
	)
	cmd := &cobra.Command{
		Use:   "gen-dockerfiles",
		Short: "Render Dockerfile templates with recipes and version defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			extra, err := parseDefaults(defaults)
			if err != nil {
				return err
			}
			log, err := global.logger(cmd)
			if err != nil {
				return err
			}
			s, err := global.loadSettings()
			if err != nil {
				return err
			}
			results, err := recipes.GenerateAll(s, recipes.Options{
				Variant:  variant,
				Defaults: extra,
				Targets:  targets,
				DryRun:   dryRun,
				Log:      log,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, res := range results {
				if dryRun {
					fmt.Fprintf(out, "# %s -> %s\n%s\n", res.Target, res.Output, res.Content)
					continue
				}
				fmt.Fprintf(out, "Rendered %s -> %s\n", res.Target, res.Output)
			}
			if len(results) == 0 {
				fmt.Fprintln(out, "No targets with Dockerfile templates")
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.Flags().StringSliceVar(&targets, "targets", nil, "Targets to render (default: every templated target)")
	cmd.Flags().StringArrayVar(&defaults, "default", nil, "Override a template default (KEY=VALUE)")
	cmd.Flags().StringVar(&variant, "variant", "", "Base image variant such as debian, alpine or debian-trixie")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print rendered Dockerfiles instead of writing them")
	return cmd
}

func newCICommand(global *globalOptions) *cobra.Command {
	var (
		output   string
		branches []string
		install  string
	)
	cmd := &cobra.Command{
		Use:   "ci",
		Short: "Generate a GitHub Actions workflow that builds every target",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := global.loadSettings()
			if err != nil {
				return err
			}
			path := output
			if path == "" {
				path = filepath.Join(s.BaseDir, filepath.FromSlash(ciworkflow.DefaultOutput))
			}
			err = ciworkflow.Write(path, s.TargetNames(), ciworkflow.Options{
				Registry: s.Registry,
				Branches: branches,
				Install:  install,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote GitHub Actions workflow to %s\n", path)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.Flags().StringVarP(&output, "file", "f", "", "Workflow path (default: .github/workflows/baker.yml)")
	cmd.Flags().StringSliceVar(&branches, "branch", nil, "Branches that trigger the workflow (default: main)")
	cmd.Flags().StringVar(&install, "install", "", "Shell command that installs baker in the job")
	return cmd
}
