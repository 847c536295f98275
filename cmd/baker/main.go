// main.go bootstraps baker: it builds the root Cobra command, binds viper
// configuration and executes with a signal-aware context.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/example/baker/internal/bake"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rootCmd := newRootCommand()
	err := rootCmd.ExecuteContext(ctx)
	handleError(os.Stderr, err)
	if err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	global := &globalOptions{logLevel: "info"}
	cmd := &cobra.Command{
		Use:   "baker",
		Short: "Content-addressed Docker image builds for multi-image projects",
		Long: `baker reads build-settings.yml, derives a checksum for every image target from its
Dockerfile, build context and dependencies, and builds only what changed.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&global.settingsPath, "settings", "", "Path to the settings file (default: ./build-settings.yml)")
	cmd.PersistentFlags().StringVar(&global.logLevel, "log-level", global.logLevel, "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().BoolVar(&global.logJSON, "log-json", false, "Emit logs as JSON lines")

	planCmd := newPlanCommand(global)
	buildCmd := newBuildCommand(global)
	genHCLCmd := newGenHCLCommand(global)
	genDockerfilesCmd := newGenDockerfilesCommand(global)
	ciCmd := newCICommand(global)
	imageCmd, imageAddCmd := newImageCommand(global)
	addImageCmd := newAddImageCommand(global, "add-image NAME")
	cmd.AddCommand(
		planCmd,
		buildCmd,
		genHCLCmd,
		genDockerfilesCmd,
		ciCmd,
		imageCmd,
		addImageCmd,
		newVersionCommand(),
	)
	cmd.Example = `  # Show what would be built against the registry
  baker plan --check registry

  # Build and push everything that changed
  baker build --check registry --push

  # Rebuild one bundle with an overridden build-arg
  baker build --targets services --set PY_VERSION=3.13 --force`
	bindViper(cmd, planCmd, buildCmd, genHCLCmd, genDockerfilesCmd, ciCmd, imageAddCmd, addImageCmd)
	return cmd
}

func bindViper(commands ...*cobra.Command) {
	if len(commands) == 0 {
		return
	}
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.SetEnvPrefix("BAKER")
	v.AutomaticEnv()
	configFile := os.Getenv("BAKER_CONFIG")
	configureConfigFile(v, configFile)

	cobra.OnInitialize(func() {
		for _, cmd := range commands {
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				cobra.CheckErr(err)
			}
			if err := v.BindPFlags(cmd.PersistentFlags()); err != nil {
				cobra.CheckErr(err)
			}
		}
		if err := readConfigFile(v, configFile != ""); err != nil {
			cobra.CheckErr(err)
		}
		for _, cmd := range commands {
			applyViper(v, cmd.Flags(), cmd.PersistentFlags())
		}
	})
}

// applyViper copies values from env and config into flags the user did not set.
func applyViper(v *viper.Viper, flagSets ...*pflag.FlagSet) {
	for _, fs := range flagSets {
		fs.VisitAll(func(f *pflag.Flag) {
			if f.Changed {
				return
			}
			if !v.IsSet(f.Name) {
				return
			}
			val := v.Get(f.Name)
			if list, ok := val.([]any); ok {
				parts := make([]string, 0, len(list))
				for _, item := range list {
					parts = append(parts, fmt.Sprintf("%v", item))
				}
				val = strings.Join(parts, ",")
			}
			if s := fmt.Sprintf("%v", val); s != "" {
				_ = f.Value.Set(s)
			}
		})
	}
}

func configureConfigFile(v *viper.Viper, explicitPath string) {
	if explicitPath != "" {
		if expanded, err := homedir.Expand(explicitPath); err == nil {
			explicitPath = expanded
		}
		v.SetConfigFile(explicitPath)
		return
	}
	v.SetConfigName("config")
	for _, dir := range configSearchDirs() {
		v.AddConfigPath(dir)
	}
}

func readConfigFile(v *viper.Viper, strict bool) error {
	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if errors.As(err, &cfgErr) && !strict {
			return nil
		}
		return err
	}
	return nil
}

func configSearchDirs() []string {
	added := make(map[string]struct{})
	var dirs []string
	add := func(path string) {
		if path == "" {
			return
		}
		if _, ok := added[path]; ok {
			return
		}
		added[path] = struct{}{}
		dirs = append(dirs, path)
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		add(filepath.Join(xdg, "baker"))
	}
	if home, err := homedir.Dir(); err == nil && home != "" {
		add(filepath.Join(home, ".config", "baker"))
		add(filepath.Join(home, ".baker"))
	}
	return dirs
}

func handleError(w io.Writer, err error) {
	if err == nil || errors.Is(err, pflag.ErrHelp) {
		return
	}
	fmt.Fprintf(w, "Error: %s\n", errorMessage(err))
}

func errorMessage(err error) string {
	var (
		cycle    *bake.CycleError
		existErr *bake.ExistenceCheckError
	)
	switch {
	case errors.As(err, &cycle):
		return fmt.Sprintf("%s\nHint: break the cycle by removing one of the depends_on edges listed above.", err)
	case errors.Is(err, bake.ErrMissingEnv):
		return fmt.Sprintf("%s\nHint: export the variable or drop --strict-env to render it as an empty string.", err)
	case errors.As(err, &existErr):
		return fmt.Sprintf("%s\nHint: check registry credentials with 'docker login' or pass --docker-config; use --check none to skip the lookup.", err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("%s\nHint: raise --check-timeout or --build-timeout, or verify connectivity to the registry and BuildKit daemon.", err)
	case errors.Is(err, bake.ErrConfiguration):
		return fmt.Sprintf("%s\nHint: run 'baker plan' to validate build-settings.yml.", err)
	}
	return err.Error()
}
