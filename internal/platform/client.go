// Package platform is the capability surface the replication engine consumes:
// guild, channel, role, webhook, emoji and sticker CRUD, message history
// paging, thread creation and gateway event delivery. The engine depends on
// the Client interface; the discordgo-backed implementation lives in
// discord.go and fakes stand in for it in tests.
package platform

import (
	"context"
	"io"

	"github.com/bwmarrin/discordgo"
)

// WebhookSend is one outbound relay delivery. ThreadID targets an existing
// thread; ThreadName creates a forum post as a side effect of the send.
// ReplyTo chains chunked messages into a single visual thread.
type WebhookSend struct {
	Content    string
	Username   string
	AvatarURL  string
	Embeds     []*discordgo.MessageEmbed
	ThreadID   string
	ThreadName string
	ReplyTo    string
}

// ChannelCreate mirrors the subset of channel attributes the cloners carry
// across guilds.
type ChannelCreate struct {
	Name             string
	Type             discordgo.ChannelType
	Topic            string
	Position         int
	ParentID         string
	NSFW             bool
	Bitrate          int
	UserLimit        int
	RateLimitPerUser int
	Overwrites       []*discordgo.PermissionOverwrite
	AvailableTags    []discordgo.ForumTag
	DefaultSortOrder *discordgo.ForumSortOrderType
	DefaultLayout    discordgo.ForumLayout
}

// StickerCreate carries one sticker upload.
type StickerCreate struct {
	Name        string
	Description string
	Tags        string
	File        io.Reader
	ContentType string
}

// GuildSettings is the community-settings slice applied by clone_settings.
// Channel fields hold target-side identifiers, already resolved through the
// mapping table; empty means "leave unset".
type GuildSettings struct {
	Name                   string
	Description            string
	Community              bool
	VerificationLevel      discordgo.VerificationLevel
	DefaultNotifications   discordgo.MessageNotifications
	ExplicitContentFilter  discordgo.ExplicitContentFilterLevel
	AfkChannelID           string
	AfkTimeout             int
	SystemChannelID        string
	SystemChannelFlags     discordgo.SystemChannelFlag
	RulesChannelID         string
	PublicUpdatesChannelID string
	PreferredLocale        string
}

// Client is every operation the engine performs against the platform.
// Implementations must return *APIError / *RateLimitError for classified
// failures; the governor and the migration engine dispatch on those.
type Client interface {
	// Guilds.
	Guild(ctx context.Context, guildID string) (*discordgo.Guild, error)
	CreateGuild(ctx context.Context, name string) (*discordgo.Guild, error)
	EditGuildSettings(ctx context.Context, guildID string, s GuildSettings) error
	SetGuildIcon(ctx context.Context, guildID string, dataURI string) error
	SetGuildBanner(ctx context.Context, guildID string, dataURI string) error
	DeleteGuild(ctx context.Context, guildID string) error

	// Roles.
	GuildRoles(ctx context.Context, guildID string) ([]*discordgo.Role, error)
	CreateRole(ctx context.Context, guildID string, p *discordgo.RoleParams) (*discordgo.Role, error)
	EditRole(ctx context.Context, guildID, roleID string, p *discordgo.RoleParams) (*discordgo.Role, error)
	AddMemberRole(ctx context.Context, guildID, userID, roleID string) error

	// Channels and categories.
	GuildChannels(ctx context.Context, guildID string) ([]*discordgo.Channel, error)
	Channel(ctx context.Context, channelID string) (*discordgo.Channel, error)
	CreateChannel(ctx context.Context, guildID string, c ChannelCreate) (*discordgo.Channel, error)
	EditChannel(ctx context.Context, channelID string, edit *discordgo.ChannelEdit) (*discordgo.Channel, error)
	DeleteChannel(ctx context.Context, channelID string) error

	// Expression assets.
	GuildEmojis(ctx context.Context, guildID string) ([]*discordgo.Emoji, error)
	CreateEmoji(ctx context.Context, guildID, name, imageDataURI string, roles []string) (*discordgo.Emoji, error)
	GuildStickers(ctx context.Context, guildID string) ([]*discordgo.Sticker, error)
	CreateSticker(ctx context.Context, guildID string, s StickerCreate) (*discordgo.Sticker, error)

	// Messages. History pages arrive newest-first, as the platform returns
	// them; callers reorder.
	Messages(ctx context.Context, channelID string, limit int, beforeID string) ([]*Message, error)
	Message(ctx context.Context, channelID, messageID string) (*Message, error)

	// Relay identities.
	EnsureWebhook(ctx context.Context, channelID, name string) (*discordgo.Webhook, error)
	SendWebhook(ctx context.Context, wh *discordgo.Webhook, send WebhookSend) (*discordgo.Message, error)

	// Threads.
	StartThreadFromMessage(ctx context.Context, channelID, messageID, name string, autoArchiveMinutes int) (*discordgo.Channel, error)
	ActiveThreads(ctx context.Context, guildID string) ([]*discordgo.Channel, error)
	ArchivedThreads(ctx context.Context, channelID string) ([]*discordgo.Channel, error)

	// Invites and asset downloads.
	CreateInvite(ctx context.Context, channelID string, maxAgeSeconds int) (*discordgo.Invite, error)
	Download(ctx context.Context, url string) ([]byte, string, error)

	// Gateway. Handlers are invoked from the gateway goroutine; the returned
	// func detaches the handler.
	OnMessageCreate(fn func(m *Message)) (remove func())
	OnMemberAdd(fn func(guildID, userID string)) (remove func())

	Open() error
	Close() error
}
