package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dyadbot/replica/internal/mapping"
	"github.com/dyadbot/replica/internal/pipeline"
)

// NewResetCommand creates the reset command.
func NewResetCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Discard all run state",
		Long: `Discard the checkpoint, mapping, delivery journal and any stale run
lock. The target guild itself is untouched; use delete-guild for that.

Example:
  replica reset --dir ./work`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReset(rootOpts, cmd)
		},
	}

	return cmd
}

func runReset(opts *RootOptions, cmd *cobra.Command) error {
	a, err := openApp(opts)
	if err != nil {
		return err
	}

	jrnl, err := a.openJournal()
	if err != nil {
		return err
	}
	defer jrnl.Close()

	runner := pipeline.New(pipeline.Options{
		Store:   a.store,
		Journal: jrnl,
		Table:   mapping.New(),
		Logger:  a.log,
		Config:  a.cfg,
	})
	if err := runner.Reset(cmd.Context()); err != nil {
		return WrapExitError(ExitCommandError, "reset run state", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Run state cleared.")
	return nil
}
