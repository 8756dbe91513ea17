package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/bwmarrin/discordgo"
)

// Discord implements Client on top of a discordgo session. All REST calls
// pass the caller's context through to the HTTP layer; error responses are
// normalized into *APIError / *RateLimitError so the engine never inspects
// discordgo error types directly.
type Discord struct {
	s    *discordgo.Session
	http *http.Client
}

// NewDiscord wraps an authenticated bot token. The session is not opened;
// callers decide whether a gateway connection is needed.
func NewDiscord(token string) (*Discord, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentMessageContent
	return &Discord{s: s, http: &http.Client{Timeout: 30 * time.Second}}, nil
}

var _ Client = (*Discord)(nil)

func (d *Discord) Open() error  { return d.s.Open() }
func (d *Discord) Close() error { return d.s.Close() }

func (d *Discord) Guild(ctx context.Context, guildID string) (*discordgo.Guild, error) {
	g, err := d.s.Guild(guildID, discordgo.WithContext(ctx))
	return g, wrapErr(err)
}

func (d *Discord) CreateGuild(ctx context.Context, name string) (*discordgo.Guild, error) {
	g, err := d.s.GuildCreate(name, discordgo.WithContext(ctx))
	return g, wrapErr(err)
}

func (d *Discord) EditGuildSettings(ctx context.Context, guildID string, set GuildSettings) error {
	params := &discordgo.GuildParams{
		Name:                        set.Name,
		Description:                 set.Description,
		VerificationLevel:           &set.VerificationLevel,
		DefaultMessageNotifications: int(set.DefaultNotifications),
		ExplicitContentFilter:       int(set.ExplicitContentFilter),
		AfkChannelID:                set.AfkChannelID,
		AfkTimeout:                  set.AfkTimeout,
		SystemChannelID:             set.SystemChannelID,
		SystemChannelFlags:          set.SystemChannelFlags,
		RulesChannelID:              set.RulesChannelID,
		PublicUpdatesChannelID:      set.PublicUpdatesChannelID,
		PreferredLocale:             discordgo.Locale(set.PreferredLocale),
	}
	if set.Community {
		params.Features = []discordgo.GuildFeature{discordgo.GuildFeatureCommunity}
	}
	_, err := d.s.GuildEdit(guildID, params, discordgo.WithContext(ctx))
	return wrapErr(err)
}

func (d *Discord) SetGuildIcon(ctx context.Context, guildID, dataURI string) error {
	_, err := d.s.GuildEdit(guildID, &discordgo.GuildParams{Icon: dataURI}, discordgo.WithContext(ctx))
	return wrapErr(err)
}

func (d *Discord) SetGuildBanner(ctx context.Context, guildID, dataURI string) error {
	_, err := d.s.GuildEdit(guildID, &discordgo.GuildParams{Banner: dataURI}, discordgo.WithContext(ctx))
	return wrapErr(err)
}

func (d *Discord) DeleteGuild(ctx context.Context, guildID string) error {
	err := d.s.GuildDelete(guildID, discordgo.WithContext(ctx))
	return wrapErr(err)
}

func (d *Discord) GuildRoles(ctx context.Context, guildID string) ([]*discordgo.Role, error) {
	roles, err := d.s.GuildRoles(guildID, discordgo.WithContext(ctx))
	return roles, wrapErr(err)
}

func (d *Discord) CreateRole(ctx context.Context, guildID string, p *discordgo.RoleParams) (*discordgo.Role, error) {
	r, err := d.s.GuildRoleCreate(guildID, p, discordgo.WithContext(ctx))
	return r, wrapErr(err)
}

func (d *Discord) EditRole(ctx context.Context, guildID, roleID string, p *discordgo.RoleParams) (*discordgo.Role, error) {
	r, err := d.s.GuildRoleEdit(guildID, roleID, p, discordgo.WithContext(ctx))
	return r, wrapErr(err)
}

func (d *Discord) AddMemberRole(ctx context.Context, guildID, userID, roleID string) error {
	err := d.s.GuildMemberRoleAdd(guildID, userID, roleID, discordgo.WithContext(ctx))
	return wrapErr(err)
}

func (d *Discord) GuildChannels(ctx context.Context, guildID string) ([]*discordgo.Channel, error) {
	chs, err := d.s.GuildChannels(guildID, discordgo.WithContext(ctx))
	return chs, wrapErr(err)
}

func (d *Discord) Channel(ctx context.Context, channelID string) (*discordgo.Channel, error) {
	ch, err := d.s.Channel(channelID, discordgo.WithContext(ctx))
	return ch, wrapErr(err)
}

func (d *Discord) CreateChannel(ctx context.Context, guildID string, c ChannelCreate) (*discordgo.Channel, error) {
	ch, err := d.s.GuildChannelCreateComplex(guildID, discordgo.GuildChannelCreateData{
		Name:                 c.Name,
		Type:                 c.Type,
		Topic:                c.Topic,
		Bitrate:              c.Bitrate,
		UserLimit:            c.UserLimit,
		RateLimitPerUser:     c.RateLimitPerUser,
		Position:             c.Position,
		PermissionOverwrites: c.Overwrites,
		ParentID:             c.ParentID,
		NSFW:                 c.NSFW,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return nil, wrapErr(err)
	}
	// Forum extras are not part of the create payload; apply them in a
	// follow-up edit.
	if c.Type == discordgo.ChannelTypeGuildForum && (len(c.AvailableTags) > 0 || c.DefaultSortOrder != nil || c.DefaultLayout != 0) {
		edit := &discordgo.ChannelEdit{
			DefaultSortOrder: c.DefaultSortOrder,
		}
		if len(c.AvailableTags) > 0 {
			edit.AvailableTags = &c.AvailableTags
		}
		if c.DefaultLayout != 0 {
			layout := c.DefaultLayout
			edit.DefaultForumLayout = &layout
		}
		if ch, err = d.s.ChannelEditComplex(ch.ID, edit, discordgo.WithContext(ctx)); err != nil {
			return nil, wrapErr(err)
		}
	}
	return ch, nil
}

func (d *Discord) EditChannel(ctx context.Context, channelID string, edit *discordgo.ChannelEdit) (*discordgo.Channel, error) {
	ch, err := d.s.ChannelEditComplex(channelID, edit, discordgo.WithContext(ctx))
	return ch, wrapErr(err)
}

func (d *Discord) DeleteChannel(ctx context.Context, channelID string) error {
	_, err := d.s.ChannelDelete(channelID, discordgo.WithContext(ctx))
	return wrapErr(err)
}

func (d *Discord) GuildEmojis(ctx context.Context, guildID string) ([]*discordgo.Emoji, error) {
	emojis, err := d.s.GuildEmojis(guildID, discordgo.WithContext(ctx))
	return emojis, wrapErr(err)
}

func (d *Discord) CreateEmoji(ctx context.Context, guildID, name, imageDataURI string, roles []string) (*discordgo.Emoji, error) {
	e, err := d.s.GuildEmojiCreate(guildID, &discordgo.EmojiParams{
		Name:  name,
		Image: imageDataURI,
		Roles: roles,
	}, discordgo.WithContext(ctx))
	return e, wrapErr(err)
}

func (d *Discord) GuildStickers(ctx context.Context, guildID string) ([]*discordgo.Sticker, error) {
	body, err := d.s.RequestWithBucketID("GET",
		discordgo.EndpointGuild(guildID)+"/stickers",
		nil, discordgo.EndpointGuild(guildID), discordgo.WithContext(ctx))
	if err != nil {
		return nil, wrapErr(err)
	}
	var stickers []*discordgo.Sticker
	if err := json.Unmarshal(body, &stickers); err != nil {
		return nil, fmt.Errorf("decode stickers: %w", err)
	}
	return stickers, nil
}

func (d *Discord) CreateSticker(ctx context.Context, guildID string, sc StickerCreate) (*discordgo.Sticker, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for field, value := range map[string]string{
		"name":        sc.Name,
		"description": sc.Description,
		"tags":        sc.Tags,
	} {
		if err := w.WriteField(field, value); err != nil {
			return nil, fmt.Errorf("encode sticker field: %w", err)
		}
	}
	part, err := w.CreateFormFile("file", sc.Name)
	if err != nil {
		return nil, fmt.Errorf("encode sticker file: %w", err)
	}
	if _, err := io.Copy(part, sc.File); err != nil {
		return nil, fmt.Errorf("read sticker data: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finish sticker form: %w", err)
	}

	endpoint := discordgo.EndpointGuild(guildID) + "/stickers"
	body, err := d.s.RequestWithLockedBucket("POST", endpoint, w.FormDataContentType(), buf.Bytes(),
		d.s.Ratelimiter.LockBucket(endpoint), 0, discordgo.WithContext(ctx))
	if err != nil {
		return nil, wrapErr(err)
	}
	st := &discordgo.Sticker{}
	if err := json.Unmarshal(body, st); err != nil {
		return nil, fmt.Errorf("decode sticker: %w", err)
	}
	return st, nil
}

// Messages fetches a history page from the raw endpoint rather than through
// the SDK, so fields the SDK's message type predates (polls) survive the
// decode.
func (d *Discord) Messages(ctx context.Context, channelID string, limit int, beforeID string) ([]*Message, error) {
	uri := discordgo.EndpointChannelMessages(channelID)
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if beforeID != "" {
		query.Set("before", beforeID)
	}
	if len(query) > 0 {
		uri += "?" + query.Encode()
	}
	body, err := d.s.RequestWithBucketID("GET", uri, nil,
		discordgo.EndpointChannelMessages(channelID), discordgo.WithContext(ctx))
	if err != nil {
		return nil, wrapErr(err)
	}
	var msgs []*Message
	if err := json.Unmarshal(body, &msgs); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	return msgs, nil
}

func (d *Discord) Message(ctx context.Context, channelID, messageID string) (*Message, error) {
	body, err := d.s.RequestWithBucketID("GET", discordgo.EndpointChannelMessage(channelID, messageID), nil,
		discordgo.EndpointChannelMessage(channelID, ""), discordgo.WithContext(ctx))
	if err != nil {
		return nil, wrapErr(err)
	}
	m := &Message{}
	if err := json.Unmarshal(body, m); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	return m, nil
}

func (d *Discord) EnsureWebhook(ctx context.Context, channelID, name string) (*discordgo.Webhook, error) {
	hooks, err := d.s.ChannelWebhooks(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, wrapErr(err)
	}
	for _, wh := range hooks {
		if wh.Name == name {
			return wh, nil
		}
	}
	wh, err := d.s.WebhookCreate(channelID, name, "", discordgo.WithContext(ctx))
	return wh, wrapErr(err)
}

// webhookPayload extends the standard execute-webhook body with a message
// reference, which discordgo's WebhookParams does not carry. Chunked
// messages rely on it to render as one visual thread.
type webhookPayload struct {
	Content         string                            `json:"content,omitempty"`
	Username        string                            `json:"username,omitempty"`
	AvatarURL       string                            `json:"avatar_url,omitempty"`
	Embeds          []*discordgo.MessageEmbed         `json:"embeds,omitempty"`
	ThreadName      string                            `json:"thread_name,omitempty"`
	AllowedMentions *discordgo.MessageAllowedMentions `json:"allowed_mentions"`
	Reference       *discordgo.MessageReference       `json:"message_reference,omitempty"`
}

func (d *Discord) SendWebhook(ctx context.Context, wh *discordgo.Webhook, send WebhookSend) (*discordgo.Message, error) {
	uri := discordgo.EndpointWebhookToken(wh.ID, wh.Token)
	query := url.Values{"wait": {"true"}}
	if send.ThreadID != "" {
		query.Set("thread_id", send.ThreadID)
	}

	payload := webhookPayload{
		Content:         send.Content,
		Username:        send.Username,
		AvatarURL:       send.AvatarURL,
		Embeds:          send.Embeds,
		ThreadName:      send.ThreadName,
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}
	if send.ReplyTo != "" {
		payload.Reference = &discordgo.MessageReference{MessageID: send.ReplyTo}
	}

	body, err := d.s.RequestWithBucketID("POST", uri+"?"+query.Encode(), payload,
		discordgo.EndpointWebhookToken(wh.ID, ""), discordgo.WithContext(ctx))
	if err != nil {
		return nil, wrapErr(err)
	}
	m := &discordgo.Message{}
	if err := json.Unmarshal(body, m); err != nil {
		return nil, fmt.Errorf("decode webhook response: %w", err)
	}
	return m, nil
}

func (d *Discord) StartThreadFromMessage(ctx context.Context, channelID, messageID, name string, autoArchiveMinutes int) (*discordgo.Channel, error) {
	if autoArchiveMinutes == 0 {
		autoArchiveMinutes = 1440
	}
	ch, err := d.s.MessageThreadStartComplex(channelID, messageID, &discordgo.ThreadStart{
		Name:                name,
		AutoArchiveDuration: autoArchiveMinutes,
	}, discordgo.WithContext(ctx))
	return ch, wrapErr(err)
}

func (d *Discord) ActiveThreads(ctx context.Context, guildID string) ([]*discordgo.Channel, error) {
	list, err := d.s.GuildThreadsActive(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, wrapErr(err)
	}
	return list.Threads, nil
}

func (d *Discord) ArchivedThreads(ctx context.Context, channelID string) ([]*discordgo.Channel, error) {
	var out []*discordgo.Channel
	var before *time.Time
	for {
		list, err := d.s.ThreadsArchived(channelID, before, 100, discordgo.WithContext(ctx))
		if err != nil {
			return out, wrapErr(err)
		}
		out = append(out, list.Threads...)
		if !list.HasMore || len(list.Threads) == 0 {
			return out, nil
		}
		last := list.Threads[len(list.Threads)-1]
		if last.ThreadMetadata == nil {
			return out, nil
		}
		ts := last.ThreadMetadata.ArchiveTimestamp
		before = &ts
	}
}

func (d *Discord) CreateInvite(ctx context.Context, channelID string, maxAgeSeconds int) (*discordgo.Invite, error) {
	inv, err := d.s.ChannelInviteCreate(channelID, discordgo.Invite{MaxAge: maxAgeSeconds}, discordgo.WithContext(ctx))
	return inv, wrapErr(err)
}

func (d *Discord) Download(ctx context.Context, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build download request: %w", err)
	}
	resp, err := d.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", &APIError{Status: resp.StatusCode, Message: "asset download failed"}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, "", fmt.Errorf("read asset body: %w", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func (d *Discord) OnMessageCreate(fn func(m *Message)) func() {
	return d.s.AddHandler(func(_ *discordgo.Session, e *discordgo.MessageCreate) {
		fn(WrapMessage(e.Message))
	})
}

func (d *Discord) OnMemberAdd(fn func(guildID, userID string)) func() {
	return d.s.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildMemberAdd) {
		fn(e.GuildID, e.User.ID)
	})
}

// wrapErr converts discordgo error types into the platform taxonomy.
func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	var rl *discordgo.RateLimitError
	if errors.As(err, &rl) {
		return &RateLimitError{RetryAfter: rl.RetryAfter, Bucket: rl.URL}
	}
	var rest *discordgo.RESTError
	if errors.As(err, &rest) {
		ae := &APIError{Message: err.Error()}
		if rest.Response != nil {
			ae.Status = rest.Response.StatusCode
		}
		if rest.Message != nil {
			ae.Code = rest.Message.Code
			ae.Message = rest.Message.Message
		}
		return ae
	}
	return err
}
