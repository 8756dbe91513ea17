package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dyadbot/replica/internal/state"
)

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config into the working directory",
		Long: `Write a default config.json into the working directory.

An existing config is left alone unless --force is given.

Example:
  replica init --dir ./work
  replica init --dir ./work --force`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(rootOpts, force, cmd)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")

	return cmd
}

func runInit(opts *RootOptions, force bool, cmd *cobra.Command) error {
	store, err := state.NewStore(opts.Dir)
	if err != nil {
		return WrapExitError(ExitCommandError, "open working directory", err)
	}

	path := filepath.Join(store.Dir(), state.ConfigFile)
	if !force {
		if _, err := os.Stat(path); err == nil {
			return NewExitError(ExitCommandError, "config already exists (use --force to overwrite)")
		} else if !errors.Is(err, fs.ErrNotExist) {
			return WrapExitError(ExitCommandError, "stat config", err)
		}
	}

	if err := store.SaveConfig(state.DefaultConfig()); err != nil {
		return WrapExitError(ExitCommandError, "write config", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}
