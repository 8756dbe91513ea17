package cli

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dyadbot/replica/internal/clone"
)

// cloneStages maps stage names to the cloner method they run.
var cloneStages = map[string]func(*clone.Cloner, context.Context, *clone.Snapshot) error{
	"settings":   (*clone.Cloner).CloneSettings,
	"icon":       (*clone.Cloner).CloneIcon,
	"banner":     (*clone.Cloner).CloneBanner,
	"roles":      (*clone.Cloner).CloneRoles,
	"categories": (*clone.Cloner).CloneCategories,
	"channels":   (*clone.Cloner).CloneChannels,
	"emojis":     (*clone.Cloner).CloneEmojis,
	"stickers":   (*clone.Cloner).CloneStickers,
}

func stageNames() []string {
	names := make([]string, 0, len(cloneStages))
	for name := range cloneStages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewCloneCommand creates the clone command.
func NewCloneCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clone <stage>",
		Short: "Run a single structural stage",
		Long: fmt.Sprintf(`Run one structural stage against the configured guild pair, outside the
pipeline. The mapping table is restored from the checkpoint first and the
stage's new entries are saved back, so a later run picks them up.

Stages: %v

Example:
  replica clone roles --dir ./work
  replica clone emojis --dir ./work`, stageNames()),
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClone(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runClone(opts *RootOptions, stage string, cmd *cobra.Command) error {
	fn, ok := cloneStages[stage]
	if !ok {
		return NewExitError(ExitCommandError, fmt.Sprintf("unknown stage %q: must be one of %v", stage, stageNames()))
	}

	a, err := openApp(opts)
	if err != nil {
		return err
	}
	if a.cfg.SourceGuildID == "" || a.cfg.TargetGuildID == "" {
		return NewExitError(ExitCommandError, "both source and target guilds must be configured")
	}

	client, err := a.connect()
	if err != nil {
		return err
	}
	table, err := a.restoreTable()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	gov := a.governor()

	snap, err := clone.Take(ctx, client, gov, a.cfg.SourceGuildID)
	if err != nil {
		return WrapExitError(ExitFailure, "snapshot source guild", err)
	}

	cloner := clone.New(clone.Options{
		Client:        client,
		Governor:      gov,
		Table:         table,
		Logger:        a.log,
		SourceGuildID: a.cfg.SourceGuildID,
		TargetGuildID: a.cfg.TargetGuildID,
	})
	if err := fn(cloner, ctx, snap); err != nil {
		return WrapExitError(ExitFailure, fmt.Sprintf("stage %s", stage), err)
	}

	// Fold the new mappings back into the checkpoint.
	cp, _, err := a.store.LoadCheckpoint()
	if err != nil {
		return WrapExitError(ExitCommandError, "load checkpoint", err)
	}
	if cp.RunToken == "" {
		tok, err := uuid.NewV7()
		if err != nil {
			return WrapExitError(ExitCommandError, "mint run token", err)
		}
		cp.RunToken = tok.String()
	}
	cp.Mapping = table.Snapshot()
	if err := a.store.SaveCheckpoint(cp); err != nil {
		return WrapExitError(ExitCommandError, "save checkpoint", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Stage %s complete.\n", stage)
	return nil
}
