package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewDeleteGuildCommand creates the delete-guild command.
func NewDeleteGuildCommand(rootOpts *RootOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete-guild",
		Short: "Delete the target guild",
		Long: `Delete the replica guild and clear it from the config. Requires --yes;
there is no undo on the platform side.

Example:
  replica delete-guild --dir ./work --yes`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeleteGuild(rootOpts, yes, cmd)
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the deletion")

	return cmd
}

func runDeleteGuild(opts *RootOptions, yes bool, cmd *cobra.Command) error {
	a, err := openApp(opts)
	if err != nil {
		return err
	}
	if a.cfg.TargetGuildID == "" {
		return NewExitError(ExitCommandError, "no target guild configured")
	}
	if !yes {
		return NewExitError(ExitCommandError, "refusing to delete without --yes")
	}

	client, err := a.connect()
	if err != nil {
		return err
	}

	guildID := a.cfg.TargetGuildID
	if err := client.DeleteGuild(cmd.Context(), guildID); err != nil {
		return WrapExitError(ExitFailure, "delete guild", err)
	}

	a.cfg.TargetGuildID = ""
	if err := a.store.SaveConfig(a.cfg); err != nil {
		return WrapExitError(ExitCommandError, "save config", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Deleted guild %s.\n", guildID)
	return nil
}
