package cli

import (
	"context"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyadbot/replica/internal/migrate"
	"github.com/dyadbot/replica/internal/testutil"
)

func TestValidatePairing(t *testing.T) {
	f := newFakeDiscord()
	f.channels["src"] = &discordgo.Channel{ID: "src", GuildID: "g1", Type: discordgo.ChannelTypeGuildText}
	f.channels["forum"] = &discordgo.Channel{ID: "forum", GuildID: "g1", Type: discordgo.ChannelTypeGuildForum}
	f.channels["voice"] = &discordgo.Channel{ID: "voice", GuildID: "g1", Type: discordgo.ChannelTypeGuildVoice}
	f.channels["dst"] = &discordgo.Channel{ID: "dst", GuildID: "g2", Type: discordgo.ChannelTypeGuildText}

	gov := testutil.Governor()
	ctx := context.Background()

	src, dest, err := validatePairing(ctx, f, gov, "src", "g2", "dst")
	require.NoError(t, err)
	assert.Equal(t, "src", src.ID)
	assert.Equal(t, "dst", dest.ChannelID)
	assert.Equal(t, migrate.DestText, dest.Kind)
}

func TestValidatePairingRejectsWrongGuild(t *testing.T) {
	f := newFakeDiscord()
	f.channels["src"] = &discordgo.Channel{ID: "src", GuildID: "g1", Type: discordgo.ChannelTypeGuildText}
	f.channels["dst"] = &discordgo.Channel{ID: "dst", GuildID: "g2", Type: discordgo.ChannelTypeGuildText}

	_, _, err := validatePairing(context.Background(), f, testutil.Governor(), "src", "g9", "dst")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "belongs to guild g2")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestValidatePairingRejectsKindMismatch(t *testing.T) {
	f := newFakeDiscord()
	f.channels["src"] = &discordgo.Channel{ID: "src", GuildID: "g1", Type: discordgo.ChannelTypeGuildText}
	f.channels["forum"] = &discordgo.Channel{ID: "forum", GuildID: "g2", Type: discordgo.ChannelTypeGuildForum}

	_, _, err := validatePairing(context.Background(), f, testutil.Governor(), "src", "g2", "forum")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "different kinds")
}

func TestValidatePairingRejectsUnsupportedSource(t *testing.T) {
	f := newFakeDiscord()
	f.channels["voice"] = &discordgo.Channel{ID: "voice", GuildID: "g1", Type: discordgo.ChannelTypeGuildVoice}

	_, _, err := validatePairing(context.Background(), f, testutil.Governor(), "voice", "g2", "dst")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a text or forum channel")
}

func TestValidatePairingMissingChannel(t *testing.T) {
	f := newFakeDiscord()

	_, _, err := validatePairing(context.Background(), f, testutil.Governor(), "ghost", "g2", "dst")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch source channel")
}
