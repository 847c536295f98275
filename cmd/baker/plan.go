package main

import (
	"github.com/example/baker/internal/bake"
	"github.com/spf13/cobra"
)

func newPlanCommand(global *globalOptions) *cobra.Command {
	flags := newPlanFlags()
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Resolve checksums and tags and show what a build would do",
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
			if err := writeReport(cmd.OutOrStdout(), report, flags.output); err != nil {
				return err
			}
			return report.Err()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags.bind(cmd.Flags())
	return cmd
}
