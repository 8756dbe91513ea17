package clone

import (
	"bytes"
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/dyadbot/replica/internal/governor"
	"github.com/dyadbot/replica/internal/mapping"
	"github.com/dyadbot/replica/internal/platform"
)

// CloneEmojis uploads the source emojis, clamped to the target's free
// slots. Per-item failures (missing asset, permission) log and continue so
// one bad emoji never sinks the batch.
func (c *Cloner) CloneEmojis(ctx context.Context, snap *Snapshot) error {
	target, err := c.targetGuild(ctx)
	if err != nil {
		return err
	}

	var existing []*discordgo.Emoji
	err = c.gov.Do(ctx, governor.RouteMutation, func(ctx context.Context) error {
		var lerr error
		existing, lerr = c.client.GuildEmojis(ctx, c.targetGuildID)
		return lerr
	})
	if err != nil {
		return fmt.Errorf("list target emojis: %w", err)
	}

	free := platform.EmojiLimit(target.PremiumTier) - len(existing)
	if free <= 0 {
		c.log.Warn("target has no free emoji slots", "limit", platform.EmojiLimit(target.PremiumTier))
		return nil
	}

	for _, emoji := range snap.Emojis {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if free == 0 {
			c.log.Warn("emoji slots exhausted, remaining emojis skipped",
				"cloned", len(snap.Emojis)-countRemaining(snap.Emojis, emoji.ID))
			break
		}
		if emoji.Managed {
			c.log.Debug("skipping managed emoji", "emoji", emoji.Name)
			continue
		}
		if _, ok := c.table.Get(mapping.KindEmoji, emoji.ID); ok {
			c.log.Debug("emoji already mapped, skipping", "emoji", emoji.ID)
			continue
		}

		url := discordgo.EndpointEmoji(emoji.ID)
		if emoji.Animated {
			url = discordgo.EndpointEmojiAnimated(emoji.ID)
		}
		data, contentType, err := c.client.Download(ctx, url)
		if err != nil {
			c.log.Warn("downloading emoji failed", "emoji", emoji.Name, "error", err)
			continue
		}

		var created *discordgo.Emoji
		err = c.gov.Do(ctx, governor.RouteMutation, func(ctx context.Context) error {
			var cerr error
			created, cerr = c.client.CreateEmoji(ctx, c.targetGuildID, emoji.Name, dataURI(contentType, data), nil)
			return cerr
		})
		if err != nil {
			c.log.Warn("creating emoji failed", "emoji", emoji.Name, "error", err)
			continue
		}
		free--

		if err := c.table.Put(mapping.KindEmoji, emoji.ID, mapping.Entity{ID: created.ID, Name: emoji.Name}); err != nil {
			return fmt.Errorf("map emoji %s: %w", emoji.ID, err)
		}
		c.table.PutName(mapping.KindEmoji, emoji.Name, mapping.Entity{ID: created.ID, Name: emoji.Name})
		c.log.Debug("cloned emoji", "source", emoji.ID, "target", created.ID, "name", emoji.Name)
	}
	return nil
}

// CloneStickers uploads the source stickers, clamped to the target's free
// slots. Lottie stickers cannot be uploaded by bots and are skipped.
func (c *Cloner) CloneStickers(ctx context.Context, snap *Snapshot) error {
	target, err := c.targetGuild(ctx)
	if err != nil {
		return err
	}

	var existing []*discordgo.Sticker
	err = c.gov.Do(ctx, governor.RouteMutation, func(ctx context.Context) error {
		var lerr error
		existing, lerr = c.client.GuildStickers(ctx, c.targetGuildID)
		return lerr
	})
	if err != nil {
		return fmt.Errorf("list target stickers: %w", err)
	}

	free := platform.StickerLimit(target.PremiumTier) - len(existing)
	if free <= 0 {
		c.log.Warn("target has no free sticker slots", "limit", platform.StickerLimit(target.PremiumTier))
		return nil
	}

	for _, st := range snap.Stickers {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if free == 0 {
			c.log.Warn("sticker slots exhausted, remaining stickers skipped")
			break
		}
		if st.FormatType == discordgo.StickerFormatTypeLottie {
			c.log.Debug("skipping lottie sticker", "sticker", st.Name)
			continue
		}

		url, contentType := stickerAsset(st)
		data, _, err := c.client.Download(ctx, url)
		if err != nil {
			c.log.Warn("downloading sticker failed", "sticker", st.Name, "error", err)
			continue
		}

		tags := st.Tags
		if tags == "" {
			tags = st.Name
		}
		err = c.gov.Do(ctx, governor.RouteMutation, func(ctx context.Context) error {
			_, cerr := c.client.CreateSticker(ctx, c.targetGuildID, platform.StickerCreate{
				Name:        st.Name,
				Description: st.Description,
				Tags:        tags,
				File:        bytes.NewReader(data),
				ContentType: contentType,
			})
			return cerr
		})
		if err != nil {
			c.log.Warn("creating sticker failed", "sticker", st.Name, "error", err)
			continue
		}
		free--
		c.log.Debug("cloned sticker", "sticker", st.Name)
	}
	return nil
}

// stickerAsset resolves the downloadable asset for a sticker. GIF stickers
// are served from the media proxy rather than the CDN.
func stickerAsset(st *discordgo.Sticker) (url, contentType string) {
	if st.FormatType == discordgo.StickerFormatTypeGIF {
		return "https://media.discordapp.net/stickers/" + st.ID + ".gif", "image/gif"
	}
	return "https://cdn.discordapp.com/stickers/" + st.ID + ".png", "image/png"
}

func countRemaining(emojis []*discordgo.Emoji, fromID string) int {
	for i, e := range emojis {
		if e.ID == fromID {
			return len(emojis) - i
		}
	}
	return 0
}
