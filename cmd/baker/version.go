package main

import (
	"encoding/json"
	"fmt"

	"github.com/example/baker/internal/version"
	"github.com/spf13/cobra"
)

func newVersionCommand() *cobra.Command {
	var (
		short  bool
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:           "version",
		Short:         "Print the baker version information",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Get()
			switch {
			case short:
				fmt.Fprintln(cmd.OutOrStdout(), info.Version)
			case asJSON:
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			default:
				fmt.Fprintln(cmd.OutOrStdout(), info.String())
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&short, "short", false, "Print just the version number")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print version information as JSON")
	return cmd
}
