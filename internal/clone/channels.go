package clone

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/dyadbot/replica/internal/governor"
	"github.com/dyadbot/replica/internal/mapping"
	"github.com/dyadbot/replica/internal/platform"
)

// CloneCategories recreates the source categories in ascending position
// order, so channel creation can parent against them.
func (c *Cloner) CloneCategories(ctx context.Context, snap *Snapshot) error {
	for _, cat := range snap.Categories() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, ok := c.table.Get(mapping.KindCategory, cat.ID); ok {
			c.log.Debug("category already mapped, skipping", "category", cat.ID)
			continue
		}

		created, err := c.createChannel(ctx, platform.ChannelCreate{
			Name:       cat.Name,
			Type:       discordgo.ChannelTypeGuildCategory,
			Position:   cat.Position,
			Overwrites: c.resolveOverwrites(cat.PermissionOverwrites),
		})
		if err != nil {
			c.log.Warn("creating category failed", "category", cat.ID, "name", cat.Name, "error", err)
			continue
		}

		if err := c.table.Put(mapping.KindCategory, cat.ID, mapping.Entity{ID: created.ID, Name: cat.Name}); err != nil {
			return fmt.Errorf("map category %s: %w", cat.ID, err)
		}
		c.table.PutName(mapping.KindCategory, cat.Name, mapping.Entity{ID: created.ID, Name: cat.Name})
		c.log.Debug("cloned category", "source", cat.ID, "target", created.ID, "name", cat.Name)
	}
	return nil
}

// CloneChannels recreates every non-category channel in ascending position
// order, parented through the category mapping. Voice bitrates clamp to the
// target's advertised ceiling.
func (c *Cloner) CloneChannels(ctx context.Context, snap *Snapshot) error {
	target, err := c.targetGuild(ctx)
	if err != nil {
		return err
	}
	maxBitrate := platform.BitrateLimit(target.PremiumTier)

	for _, ch := range snap.NonCategories() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !cloneableChannelType(ch.Type) {
			c.log.Debug("skipping channel of uncloneable type", "channel", ch.ID, "type", int(ch.Type))
			continue
		}
		if _, ok := c.table.Get(mapping.KindChannel, ch.ID); ok {
			c.log.Debug("channel already mapped, skipping", "channel", ch.ID)
			continue
		}

		cc := platform.ChannelCreate{
			Name:             ch.Name,
			Type:             ch.Type,
			Topic:            ch.Topic,
			Position:         ch.Position,
			NSFW:             ch.NSFW,
			UserLimit:        ch.UserLimit,
			RateLimitPerUser: ch.RateLimitPerUser,
			Overwrites:       c.resolveOverwrites(ch.PermissionOverwrites),
		}
		if ch.Bitrate > 0 {
			cc.Bitrate = min(ch.Bitrate, maxBitrate)
		}
		if ch.ParentID != "" {
			if parent, ok := c.table.Get(mapping.KindCategory, ch.ParentID); ok {
				cc.ParentID = parent.ID
			} else {
				c.log.Warn("channel parent unmapped, creating at top level", "channel", ch.Name, "parent", ch.ParentID)
			}
		}
		if ch.Type == discordgo.ChannelTypeGuildForum {
			cc.AvailableTags = c.remapForumTags(ch.AvailableTags)
			cc.DefaultSortOrder = ch.DefaultSortOrder
			cc.DefaultLayout = ch.DefaultForumLayout
		}

		created, err := c.createChannel(ctx, cc)
		if err != nil {
			c.log.Warn("creating channel failed", "channel", ch.ID, "name", ch.Name, "error", err)
			continue
		}

		if err := c.table.Put(mapping.KindChannel, ch.ID, mapping.Entity{ID: created.ID, Name: ch.Name}); err != nil {
			return fmt.Errorf("map channel %s: %w", ch.ID, err)
		}
		c.table.PutName(mapping.KindChannel, ch.Name, mapping.Entity{ID: created.ID, Name: ch.Name})
		c.log.Debug("cloned channel", "source", ch.ID, "target", created.ID, "name", ch.Name)
	}
	return nil
}

func (c *Cloner) createChannel(ctx context.Context, cc platform.ChannelCreate) (*discordgo.Channel, error) {
	var created *discordgo.Channel
	err := c.gov.Do(ctx, governor.RouteMutation, func(ctx context.Context) error {
		var cerr error
		created, cerr = c.client.CreateChannel(ctx, c.targetGuildID, cc)
		return cerr
	})
	return created, err
}

// resolveOverwrites translates permission overwrites through the role
// mapping. Member overwrites reference users that do not carry across
// guilds; those and unmapped roles are dropped with a warning.
func (c *Cloner) resolveOverwrites(overwrites []*discordgo.PermissionOverwrite) []*discordgo.PermissionOverwrite {
	var out []*discordgo.PermissionOverwrite
	for _, ow := range overwrites {
		if ow.Type != discordgo.PermissionOverwriteTypeRole {
			c.log.Debug("dropping member overwrite", "subject", ow.ID)
			continue
		}
		mapped, ok := c.table.Get(mapping.KindRole, ow.ID)
		if !ok {
			c.log.Warn("dropping overwrite for unmapped role", "role", ow.ID)
			continue
		}
		out = append(out, &discordgo.PermissionOverwrite{
			ID:    mapped.ID,
			Type:  ow.Type,
			Allow: ow.Allow,
			Deny:  ow.Deny,
		})
	}
	return out
}

// remapForumTags carries forum tags over. Unicode emoji travel as-is;
// custom emoji resolve through the emoji mapping when available and are
// otherwise stripped, keeping the tag itself.
func (c *Cloner) remapForumTags(tags []discordgo.ForumTag) []discordgo.ForumTag {
	out := make([]discordgo.ForumTag, 0, len(tags))
	for _, tag := range tags {
		mapped := discordgo.ForumTag{
			Name:      tag.Name,
			Moderated: tag.Moderated,
			EmojiName: tag.EmojiName,
		}
		if tag.EmojiID != "" {
			if e, ok := c.table.Get(mapping.KindEmoji, tag.EmojiID); ok {
				mapped.EmojiID = e.ID
			} else {
				c.log.Debug("forum tag emoji unmapped, stripping", "tag", tag.Name, "emoji", tag.EmojiID)
			}
		}
		out = append(out, mapped)
	}
	return out
}

func cloneableChannelType(t discordgo.ChannelType) bool {
	switch t {
	case discordgo.ChannelTypeGuildText,
		discordgo.ChannelTypeGuildNews,
		discordgo.ChannelTypeGuildVoice,
		discordgo.ChannelTypeGuildStageVoice,
		discordgo.ChannelTypeGuildForum:
		return true
	}
	return false
}
