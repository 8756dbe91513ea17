package migrate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/dyadbot/replica/internal/governor"
	"github.com/dyadbot/replica/internal/journal"
	"github.com/dyadbot/replica/internal/mapping"
	"github.com/dyadbot/replica/internal/platform"
)

// DestKind classifies a destination channel once, at migration time.
type DestKind int

const (
	DestUnsupported DestKind = iota
	DestText
	DestForum
)

// KindOf classifies a destination channel type.
func KindOf(t discordgo.ChannelType) DestKind {
	switch t {
	case discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews:
		return DestText
	case discordgo.ChannelTypeGuildForum:
		return DestForum
	}
	return DestUnsupported
}

// Destination addresses one migration target. ThreadID delivers into an
// existing thread; ThreadName makes the first send create a forum post.
type Destination struct {
	ChannelID  string
	Kind       DestKind
	ThreadID   string
	ThreadName string
}

// Result reports what happened to one message. Proceeded=false means the
// message could not even begin delivery (bad destination, relay failure);
// transport failures mid-message still report Proceeded=true with whatever
// was sent.
type Result struct {
	Proceeded     bool
	ThreadID      string
	LastMessageID string
	Sent          int
}

// Options configure an Engine.
type Options struct {
	Client           platform.Client
	Governor         *governor.Governor
	Table            *mapping.Table
	Journal          *journal.Journal // optional; enables resume-time dedupe
	Logger           *slog.Logger
	RunToken         string
	SourceGuildID    string
	TargetGuildID    string
	RelayConcurrency int
}

// Engine replays messages and threads into the target guild.
type Engine struct {
	client        platform.Client
	gov           *governor.Governor
	table         *mapping.Table
	journal       *journal.Journal
	relays        *RelayCache
	log           *slog.Logger
	runToken      string
	sourceGuildID string
	targetGuildID string

	stickerMu      sync.Mutex
	stickers       []*discordgo.Sticker
	stickersLoaded bool
}

// New builds an Engine.
func New(opts Options) *Engine {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	gov := opts.Governor
	if gov == nil {
		gov = governor.New(governor.Options{Logger: log})
	}
	table := opts.Table
	if table == nil {
		table = mapping.New()
	}
	return &Engine{
		client:        opts.Client,
		gov:           gov,
		table:         table,
		journal:       opts.Journal,
		relays:        NewRelayCache(opts.Client, opts.RelayConcurrency),
		log:           log,
		runToken:      opts.RunToken,
		sourceGuildID: opts.SourceGuildID,
		targetGuildID: opts.TargetGuildID,
	}
}

// MigrateMessage transforms and replays one source message into dest.
//
// A transport failure never surfaces as an error: permanently unreachable
// destinations abort the message and return whatever was already sent, and
// every other failure falls back to a placeholder send naming the reason.
func (e *Engine) MigrateMessage(ctx context.Context, env *Envelope, dest Destination) Result {
	if dest.Kind != DestText && dest.Kind != DestForum {
		e.log.Warn("unsupported destination for message", "message", env.ID, "channel", dest.ChannelID)
		return Result{}
	}

	// A message already journaled for this destination was delivered by an
	// earlier run; resume into its thread if it created one.
	if e.journal != nil {
		if done, err := e.journal.Delivered(ctx, env.ID, dest.ChannelID); err != nil {
			e.log.Warn("journal lookup failed", "message", env.ID, "error", err)
		} else if done {
			threadID, _, _ := e.journal.ThreadFor(ctx, env.ID, dest.ChannelID)
			return Result{Proceeded: true, ThreadID: threadID}
		}
	}

	wh, err := e.relays.Get(ctx, dest.ChannelID)
	if err != nil {
		e.log.Warn("relay identity unavailable", "channel", dest.ChannelID, "error", err)
		return Result{}
	}

	tf := &Transformer{
		Rewriter: &Rewriter{
			Table:         e.table,
			SourceGuildID: e.sourceGuildID,
			TargetGuildID: e.targetGuildID,
		},
	}
	if len(env.Stickers) > 0 {
		tf.TargetStickers = e.targetStickers(ctx)
	}

	chunks := Chunk(tf.Render(env), MessageLenLimit)
	if len(chunks) == 0 {
		// Embed- or poll-only message: one send with empty content.
		chunks = []string{""}
	}

	res := Result{Proceeded: true}
	username := RelayUsername(env.AuthorName, env.Timestamp)

	for i, chunk := range chunks {
		send := platform.WebhookSend{
			Content:   chunk,
			Username:  username,
			AvatarURL: env.AvatarURL,
			ThreadID:  dest.ThreadID,
			ReplyTo:   res.LastMessageID,
		}
		if i == 0 {
			send.Embeds = env.Embeds
			send.ThreadName = dest.ThreadName
		}
		if res.ThreadID != "" {
			// First chunk created the forum post; follow it in.
			send.ThreadID = res.ThreadID
			send.ThreadName = ""
		}

		var sent *discordgo.Message
		err := e.gov.Do(ctx, governor.RouteWebhook, func(ctx context.Context) error {
			m, serr := e.client.SendWebhook(ctx, wh, send)
			if serr == nil {
				sent = m
			}
			return serr
		})
		if err != nil {
			if ctx.Err() != nil {
				// The send raced cancellation; it may have landed without
				// the response being seen. Journal the confirmed chunks so
				// a resume does not double-post them.
				e.log.Warn("delivery interrupted, outcome unknown",
					"message", env.ID, "channel", dest.ChannelID, "sent", res.Sent)
				break
			}
			sent = e.sendPlaceholder(ctx, wh, env, dest, res.ThreadID, username, err)
			if sent == nil {
				return res
			}
			e.noteSent(sent, dest, &res)
			continue
		}
		e.noteSent(sent, dest, &res)
	}

	if e.journal != nil && res.LastMessageID != "" {
		if err := e.journal.Record(context.WithoutCancel(ctx), journal.Delivery{
			SourceMessageID: env.ID,
			DestChannelID:   dest.ChannelID,
			TargetMessageID: res.LastMessageID,
			ThreadID:        res.ThreadID,
			RunToken:        e.runToken,
		}); err != nil {
			e.log.Warn("journal record failed", "message", env.ID, "error", err)
		}
	}
	return res
}

func (e *Engine) noteSent(sent *discordgo.Message, dest Destination, res *Result) {
	res.Sent++
	res.LastMessageID = sent.ID
	// A forum post send lands in a freshly created thread; its channel ID is
	// the thread.
	if sent.ChannelID != "" && sent.ChannelID != dest.ChannelID && res.ThreadID == "" {
		res.ThreadID = sent.ChannelID
	}
}

// sendPlaceholder classifies a delivery error and posts a stand-in message
// naming the reason. Permanently unreachable destinations return nil
// without a placeholder; so does a failed placeholder send.
func (e *Engine) sendPlaceholder(ctx context.Context, wh *discordgo.Webhook, env *Envelope, dest Destination, threadID, username string, cause error) *discordgo.Message {
	var reason string
	code := platform.CodeOf(cause)
	switch {
	case code == platform.CodeArchivedThread:
		reason = "This thread is archived"
	case code == platform.CodeLockedThread || code == platform.CodeSystemMessage:
		reason = "This thread is locked"
	case code == platform.CodeEmptyMessage:
		reason = "Cannot send an empty message"
	case platform.IsUnreachable(cause):
		e.log.Warn("destination unreachable, aborting message",
			"message", env.ID, "channel", dest.ChannelID, "error", cause)
		return nil
	case code == 0:
		reason = "unknown error code"
	default:
		reason = fmt.Sprintf("Unknown error %d", code)
	}

	send := platform.WebhookSend{
		Content:    fmt.Sprintf("Message %s %s cannot be migrated because %s", env.JumpURL(), env.ID, reason),
		Username:   username,
		AvatarURL:  env.AvatarURL,
		ThreadID:   threadID,
		ThreadName: dest.ThreadName,
	}
	if send.ThreadID == "" {
		send.ThreadID = dest.ThreadID
	} else {
		send.ThreadName = ""
	}

	var sent *discordgo.Message
	err := e.gov.Do(ctx, governor.RouteWebhook, func(ctx context.Context) error {
		m, serr := e.client.SendWebhook(ctx, wh, send)
		if serr == nil {
			sent = m
		}
		return serr
	})
	if err != nil {
		e.log.Warn("placeholder send failed", "message", env.ID, "channel", dest.ChannelID, "error", err)
		return nil
	}
	e.log.Debug("sent placeholder", "message", env.ID, "reason", reason)
	return sent
}

// targetStickers loads the target guild's sticker set once per engine.
// Failures degrade to "no stickers available" rather than blocking the
// message.
func (e *Engine) targetStickers(ctx context.Context) []*discordgo.Sticker {
	e.stickerMu.Lock()
	defer e.stickerMu.Unlock()
	if e.stickersLoaded {
		return e.stickers
	}

	var stickers []*discordgo.Sticker
	err := e.gov.Do(ctx, governor.RouteMutation, func(ctx context.Context) error {
		var serr error
		stickers, serr = e.client.GuildStickers(ctx, e.targetGuildID)
		return serr
	})
	if err != nil {
		e.log.Warn("fetching target stickers failed", "error", err)
	}
	e.stickers = stickers
	e.stickersLoaded = true
	return e.stickers
}
