package cli

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/spf13/cobra"

	"github.com/dyadbot/replica/internal/governor"
)

// NewInviteCommand creates the invite command.
func NewInviteCommand(rootOpts *RootOptions) *cobra.Command {
	var hours int

	cmd := &cobra.Command{
		Use:   "invite",
		Short: "Create an invite to the target guild",
		Long: `Create an invite link to the replica guild, on its first text channel.

Example:
  replica invite --dir ./work
  replica invite --dir ./work --hours 1`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInvite(rootOpts, hours, cmd)
		},
	}

	cmd.Flags().IntVar(&hours, "hours", 24, "invite lifetime in hours, 0 for never expiring")

	return cmd
}

func runInvite(opts *RootOptions, hours int, cmd *cobra.Command) error {
	a, err := openApp(opts)
	if err != nil {
		return err
	}
	if a.cfg.TargetGuildID == "" {
		return NewExitError(ExitCommandError, "no target guild configured")
	}
	client, err := a.connect()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	gov := a.governor()

	var channels []*discordgo.Channel
	err = gov.Do(ctx, governor.RouteMutation, func(ctx context.Context) error {
		var lerr error
		channels, lerr = client.GuildChannels(ctx, a.cfg.TargetGuildID)
		return lerr
	})
	if err != nil {
		return WrapExitError(ExitFailure, "list target channels", err)
	}

	var channelID string
	for _, ch := range channels {
		if ch.Type == discordgo.ChannelTypeGuildText {
			channelID = ch.ID
			break
		}
	}
	if channelID == "" {
		return NewExitError(ExitFailure, "target guild has no text channel to invite into")
	}

	var invite *discordgo.Invite
	err = gov.Do(ctx, governor.RouteMutation, func(ctx context.Context) error {
		var ierr error
		invite, ierr = client.CreateInvite(ctx, channelID, hours*3600)
		return ierr
	})
	if err != nil {
		return WrapExitError(ExitFailure, "create invite", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "https://discord.gg/%s\n", invite.Code)
	return nil
}
