// Package clone rebuilds a guild's structure on the target: settings,
// image assets, roles, categories, channels, emojis and stickers. Every
// created entity is recorded in the mapping table so later steps can
// resolve cross-references.
package clone

import (
	"context"
	"fmt"
	"sort"

	"github.com/bwmarrin/discordgo"

	"github.com/dyadbot/replica/internal/governor"
	"github.com/dyadbot/replica/internal/platform"
)

// Snapshot is a one-shot read of the source guild, taken before any target
// mutation so a slow clone works from a consistent view.
type Snapshot struct {
	Guild    *discordgo.Guild
	Channels []*discordgo.Channel
	Roles    []*discordgo.Role
	Emojis   []*discordgo.Emoji
	Stickers []*discordgo.Sticker
}

// Take fetches the source guild's structure.
func Take(ctx context.Context, client platform.Client, gov *governor.Governor, guildID string) (*Snapshot, error) {
	snap := &Snapshot{}

	fetches := []struct {
		name string
		fn   func(ctx context.Context) error
	}{
		{"guild", func(ctx context.Context) error {
			var err error
			snap.Guild, err = client.Guild(ctx, guildID)
			return err
		}},
		{"channels", func(ctx context.Context) error {
			var err error
			snap.Channels, err = client.GuildChannels(ctx, guildID)
			return err
		}},
		{"roles", func(ctx context.Context) error {
			var err error
			snap.Roles, err = client.GuildRoles(ctx, guildID)
			return err
		}},
		{"emojis", func(ctx context.Context) error {
			var err error
			snap.Emojis, err = client.GuildEmojis(ctx, guildID)
			return err
		}},
		{"stickers", func(ctx context.Context) error {
			var err error
			snap.Stickers, err = client.GuildStickers(ctx, guildID)
			return err
		}},
	}
	for _, f := range fetches {
		if err := gov.Do(ctx, governor.RouteMutation, f.fn); err != nil {
			return nil, fmt.Errorf("snapshot %s of guild %s: %w", f.name, guildID, err)
		}
	}
	return snap, nil
}

// Categories returns the source categories in ascending position order.
func (s *Snapshot) Categories() []*discordgo.Channel {
	return s.channelsWhere(func(ch *discordgo.Channel) bool {
		return ch.Type == discordgo.ChannelTypeGuildCategory
	})
}

// NonCategories returns every non-category channel in ascending position
// order.
func (s *Snapshot) NonCategories() []*discordgo.Channel {
	return s.channelsWhere(func(ch *discordgo.Channel) bool {
		return ch.Type != discordgo.ChannelTypeGuildCategory
	})
}

func (s *Snapshot) channelsWhere(keep func(*discordgo.Channel) bool) []*discordgo.Channel {
	var out []*discordgo.Channel
	for _, ch := range s.Channels {
		if keep(ch) {
			out = append(out, ch)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

// SortedRoles returns the source roles in ascending position order, which
// is creation order on the target (lowest precedence first, @everyone at
// position zero).
func (s *Snapshot) SortedRoles() []*discordgo.Role {
	out := make([]*discordgo.Role, len(s.Roles))
	copy(out, s.Roles)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}
