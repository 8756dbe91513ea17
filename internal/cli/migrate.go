package cli

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dyadbot/replica/internal/governor"
	"github.com/dyadbot/replica/internal/migrate"
	"github.com/dyadbot/replica/internal/platform"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate <source-channel> <dest-guild> <dest-channel>",
		Short: "Replay one channel's history into another",
		Long: `Replay a single source channel's history into a destination channel,
outside the pipeline. The pairing is validated before anything is sent:
the destination must belong to the named guild and both channels must be
the same kind (text to text, forum to forum).

Example:
  replica migrate 1234 5678 9012 --dir ./work`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(rootOpts, args[0], args[1], args[2], cmd)
		},
	}

	return cmd
}

func runMigrate(opts *RootOptions, sourceChannelID, destGuildID, destChannelID string, cmd *cobra.Command) error {
	a, err := openApp(opts)
	if err != nil {
		return err
	}
	client, err := a.connect()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	gov := a.governor()

	src, dest, err := validatePairing(ctx, client, gov, sourceChannelID, destGuildID, destChannelID)
	if err != nil {
		return err
	}

	table, err := a.restoreTable()
	if err != nil {
		return err
	}
	jrnl, err := a.openJournal()
	if err != nil {
		return err
	}
	defer jrnl.Close()

	cp, _, err := a.store.LoadCheckpoint()
	if err != nil {
		return WrapExitError(ExitCommandError, "load checkpoint", err)
	}
	runToken := cp.RunToken
	if runToken == "" {
		tok, terr := uuid.NewV7()
		if terr != nil {
			return WrapExitError(ExitCommandError, "mint run token", terr)
		}
		runToken = tok.String()
	}

	eng := migrate.New(migrate.Options{
		Client:        client,
		Governor:      gov,
		Table:         table,
		Journal:       jrnl,
		Logger:        a.log,
		RunToken:      runToken,
		SourceGuildID: src.GuildID,
		TargetGuildID: destGuildID,
	})

	var active []*discordgo.Channel
	if aerr := gov.Do(ctx, governor.RouteMutation, func(ctx context.Context) error {
		var lerr error
		active, lerr = client.ActiveThreads(ctx, src.GuildID)
		return lerr
	}); aerr != nil {
		a.log.Warn("listing active threads failed", "error", aerr)
	}

	res := eng.MigrateChannel(ctx, src, dest, active)
	fmt.Fprintf(cmd.OutOrStdout(), "Replayed %d messages, %d threads (%d skipped).\n",
		res.Messages, res.Threads, res.Skipped)
	return ctx.Err()
}

// validatePairing checks both ends before any mutation happens.
func validatePairing(ctx context.Context, client platform.Client, gov *governor.Governor, sourceChannelID, destGuildID, destChannelID string) (*discordgo.Channel, migrate.Destination, error) {
	fetch := func(id string) (*discordgo.Channel, error) {
		var ch *discordgo.Channel
		err := gov.Do(ctx, governor.RouteMutation, func(ctx context.Context) error {
			var ferr error
			ch, ferr = client.Channel(ctx, id)
			return ferr
		})
		return ch, err
	}

	src, err := fetch(sourceChannelID)
	if err != nil {
		return nil, migrate.Destination{}, WrapExitError(ExitCommandError, "fetch source channel", err)
	}
	srcKind := migrate.KindOf(src.Type)
	if srcKind == migrate.DestUnsupported {
		return nil, migrate.Destination{}, NewExitError(ExitCommandError,
			fmt.Sprintf("source channel %s is not a text or forum channel", sourceChannelID))
	}

	dst, err := fetch(destChannelID)
	if err != nil {
		return nil, migrate.Destination{}, WrapExitError(ExitCommandError, "fetch destination channel", err)
	}
	if dst.GuildID != destGuildID {
		return nil, migrate.Destination{}, NewExitError(ExitCommandError,
			fmt.Sprintf("destination channel %s belongs to guild %s, not %s", destChannelID, dst.GuildID, destGuildID))
	}
	if migrate.KindOf(dst.Type) != srcKind {
		return nil, migrate.Destination{}, NewExitError(ExitCommandError,
			"source and destination channels are different kinds")
	}

	return src, migrate.Destination{ChannelID: dst.ID, Kind: srcKind}, nil
}
