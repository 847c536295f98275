package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/example/baker/internal/scaffold"
	"github.com/example/baker/internal/settings"
	"github.com/spf13/cobra"
)

func newImageCommand(global *globalOptions) (*cobra.Command, *cobra.Command) {
	cmd := &cobra.Command{
		Use:   "image",
		Short: "Manage image targets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	add := newAddImageCommand(global, "add NAME")
	cmd.AddCommand(add)
	return cmd, add
}

// newAddImageCommand builds `image add`; registered a second time at the top
// level as `add-image`.
func newAddImageCommand(global *globalOptions, use string) *cobra.Command {
	var req scaffold.ImageRequest
	cmd := &cobra.Command{
		Use:   use,
		Short: "Scaffold a Dockerfile and settings entry for a new image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := global.settingsPath
			if path == "" {
				wd, err := os.Getwd()
				if err != nil {
					return err
				}
				path = filepath.Join(wd, settings.DefaultFile)
			}
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("settings file not found: %s", path)
			}
			run := req
			run.SettingsPath = path
			run.Name = args[0]
			res, err := scaffold.AddImage(run)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Image '%s' added. Dockerfile: %s\n", res.Name, res.Dockerfile)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.Flags().StringArrayVar(&req.Deps, "dep", nil, "Dependency target (repeat or comma-separate)")
	cmd.Flags().StringVar(&req.BaseImage, "image", "", "Base image of the final stage (default: "+scaffold.DefaultBaseImage+")")
	cmd.Flags().BoolVar(&req.Force, "force", false, "Overwrite an existing target and Dockerfile")
	return cmd
}
