package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/matheus3301/echovault/internal/config"
	"github.com/matheus3301/echovault/internal/daemon"
	"github.com/matheus3301/echovault/internal/paths"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var homeFlag, configFlag string

	root := &cobra.Command{
		Use:           "echovaultd",
		Short:         "EchoVault delivery daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			home := paths.Resolve(homeFlag)
			fx.New(
				daemon.Module(daemon.Params{Home: home, ConfigPath: configFlag}),
			).Run()
			return nil
		},
	}
	root.PersistentFlags().StringVar(&homeFlag, "home", "", "data directory (default $ECHOVAULT_HOME or ~/.echovault)")
	root.PersistentFlags().StringVar(&configFlag, "config", "", "config file (default <home>/config.toml)")

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create the home directory and a default config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			home := paths.Resolve(homeFlag)
			if err := paths.EnsureDir(home); err != nil {
				return err
			}
			path := configFlag
			if path == "" {
				path = paths.ConfigPath(home)
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			if err := config.Save(path, config.Default(home)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	root.AddCommand(initCmd)

	return root
}
