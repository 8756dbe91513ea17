package clone

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/dyadbot/replica/internal/governor"
	"github.com/dyadbot/replica/internal/mapping"
	"github.com/dyadbot/replica/internal/platform"
)

// Cloner drives the structural stages against one target guild. All calls
// go through the governor; per-item failures are logged and the batch
// continues, while list/fetch failures abort the stage.
type Cloner struct {
	client platform.Client
	gov    *governor.Governor
	table  *mapping.Table
	log    *slog.Logger

	sourceGuildID string
	targetGuildID string

	target *discordgo.Guild // cached; refreshed per stage that needs tier
}

// Options configure a Cloner.
type Options struct {
	Client        platform.Client
	Governor      *governor.Governor
	Table         *mapping.Table
	Logger        *slog.Logger
	SourceGuildID string
	TargetGuildID string
}

// New builds a Cloner.
func New(opts Options) *Cloner {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Cloner{
		client:        opts.Client,
		gov:           opts.Governor,
		table:         opts.Table,
		log:           log,
		sourceGuildID: opts.SourceGuildID,
		targetGuildID: opts.TargetGuildID,
	}
}

// SetTargetGuild repoints the cloner after create_target_guild runs.
func (c *Cloner) SetTargetGuild(guildID string) {
	c.targetGuildID = guildID
	c.target = nil
}

// CreateTargetGuild creates the replica guild and returns its id.
func (c *Cloner) CreateTargetGuild(ctx context.Context, name string) (string, error) {
	var g *discordgo.Guild
	err := c.gov.Do(ctx, governor.RouteMutation, func(ctx context.Context) error {
		var cerr error
		g, cerr = c.client.CreateGuild(ctx, name)
		return cerr
	})
	if err != nil {
		return "", fmt.Errorf("create target guild: %w", err)
	}
	c.SetTargetGuild(g.ID)
	c.log.Info("created target guild", "guild", g.ID, "name", name)
	return g.ID, nil
}

// PrepareTarget deletes the stock channels and categories a freshly created
// guild ships with, leaving a blank canvas for the clone.
func (c *Cloner) PrepareTarget(ctx context.Context) error {
	var channels []*discordgo.Channel
	err := c.gov.Do(ctx, governor.RouteMutation, func(ctx context.Context) error {
		var lerr error
		channels, lerr = c.client.GuildChannels(ctx, c.targetGuildID)
		return lerr
	})
	if err != nil {
		return fmt.Errorf("list target channels: %w", err)
	}

	for _, ch := range channels {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		ch := ch
		err := c.gov.Do(ctx, governor.RouteMutation, func(ctx context.Context) error {
			return c.client.DeleteChannel(ctx, ch.ID)
		})
		if err != nil {
			c.log.Warn("deleting stock channel failed", "channel", ch.ID, "name", ch.Name, "error", err)
			continue
		}
		c.log.Debug("deleted stock channel", "channel", ch.ID, "name", ch.Name)
	}
	return nil
}

// CloneSettings applies the source guild's community settings. Channel
// references resolve through the mapping; an unmapped reference is omitted
// rather than pointed at a nonexistent channel.
func (c *Cloner) CloneSettings(ctx context.Context, snap *Snapshot) error {
	src := snap.Guild
	set := platform.GuildSettings{
		Name:                   src.Name,
		Description:            src.Description,
		Community:              hasFeature(src, discordgo.GuildFeatureCommunity),
		VerificationLevel:      src.VerificationLevel,
		DefaultNotifications:   src.DefaultMessageNotifications,
		ExplicitContentFilter:  src.ExplicitContentFilter,
		AfkChannelID:           c.mappedChannel(src.AfkChannelID),
		AfkTimeout:             src.AfkTimeout,
		SystemChannelID:        c.mappedChannel(src.SystemChannelID),
		SystemChannelFlags:     src.SystemChannelFlags,
		RulesChannelID:         c.mappedChannel(src.RulesChannelID),
		PublicUpdatesChannelID: c.mappedChannel(src.PublicUpdatesChannelID),
		PreferredLocale:        src.PreferredLocale,
	}

	err := c.gov.Do(ctx, governor.RouteMutation, func(ctx context.Context) error {
		return c.client.EditGuildSettings(ctx, c.targetGuildID, set)
	})
	if err != nil {
		return fmt.Errorf("apply guild settings: %w", err)
	}
	c.log.Info("applied guild settings", "guild", c.targetGuildID)
	return nil
}

// CloneIcon copies the guild icon. A guild without one is a no-op.
func (c *Cloner) CloneIcon(ctx context.Context, snap *Snapshot) error {
	if snap.Guild.Icon == "" {
		c.log.Debug("source has no icon, skipping")
		return nil
	}
	return c.cloneImage(ctx, snap.Guild.IconURL("1024"), "icon", c.client.SetGuildIcon)
}

// CloneBanner copies the guild banner. A guild without one is a no-op.
func (c *Cloner) CloneBanner(ctx context.Context, snap *Snapshot) error {
	if snap.Guild.Banner == "" {
		c.log.Debug("source has no banner, skipping")
		return nil
	}
	return c.cloneImage(ctx, snap.Guild.BannerURL("1024"), "banner", c.client.SetGuildBanner)
}

func (c *Cloner) cloneImage(ctx context.Context, url, what string, apply func(ctx context.Context, guildID, dataURI string) error) error {
	data, contentType, err := c.client.Download(ctx, url)
	if err != nil {
		return fmt.Errorf("download %s: %w", what, err)
	}
	uri := dataURI(contentType, data)

	err = c.gov.Do(ctx, governor.RouteMutation, func(ctx context.Context) error {
		return apply(ctx, c.targetGuildID, uri)
	})
	if err != nil {
		return fmt.Errorf("set %s: %w", what, err)
	}
	c.log.Info("copied guild "+what, "bytes", len(data))
	return nil
}

// targetGuild fetches the target guild once per stage run, for boost-tier
// dependent limits.
func (c *Cloner) targetGuild(ctx context.Context) (*discordgo.Guild, error) {
	if c.target != nil {
		return c.target, nil
	}
	var g *discordgo.Guild
	err := c.gov.Do(ctx, governor.RouteMutation, func(ctx context.Context) error {
		var gerr error
		g, gerr = c.client.Guild(ctx, c.targetGuildID)
		return gerr
	})
	if err != nil {
		return nil, fmt.Errorf("fetch target guild: %w", err)
	}
	c.target = g
	return g, nil
}

// mappedChannel resolves a source channel id to its target counterpart,
// returning "" when unmapped.
func (c *Cloner) mappedChannel(sourceID string) string {
	if sourceID == "" {
		return ""
	}
	if e, ok := c.table.Get(mapping.KindChannel, sourceID); ok {
		return e.ID
	}
	c.log.Warn("settings reference an unmapped channel, omitting", "channel", sourceID)
	return ""
}

func hasFeature(g *discordgo.Guild, want discordgo.GuildFeature) bool {
	for _, f := range g.Features {
		if f == want {
			return true
		}
	}
	return false
}

// dataURI wraps raw image bytes in the inline form the edit endpoints take.
func dataURI(contentType string, data []byte) string {
	if contentType == "" {
		contentType = "image/png"
	}
	var b strings.Builder
	b.WriteString("data:")
	b.WriteString(contentType)
	b.WriteString(";base64,")
	b.WriteString(base64.StdEncoding.EncodeToString(data))
	return b.String()
}
