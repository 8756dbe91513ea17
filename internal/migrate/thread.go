package migrate

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/dyadbot/replica/internal/governor"
	"github.com/dyadbot/replica/internal/mapping"
	"github.com/dyadbot/replica/internal/platform"
)

// deletedStarterText replaces a thread starter whose source message no
// longer exists; the thread still needs an anchor message on the target.
const deletedStarterText = "This message has been deleted by original author"

const defaultAutoArchiveMinutes = 1440

// ThreadResult reports one migrated thread.
type ThreadResult struct {
	ThreadID string
	Migrated int
	Skipped  int
}

// MigrateThread replays a source thread into the mapped parent channel.
// Text parents get the starter replayed into the channel and a thread
// started from it; forum parents get a post created by the first send.
// Archived/locked state is reapplied after the replay.
func (e *Engine) MigrateThread(ctx context.Context, src *discordgo.Channel, parent Destination) ThreadResult {
	var res ThreadResult
	if parent.Kind != DestText && parent.Kind != DestForum {
		e.log.Warn("unsupported parent for thread", "thread", src.ID, "channel", parent.ChannelID)
		return res
	}

	history := e.history(ctx, src.ID)

	var threadDest Destination
	switch parent.Kind {
	case DestText:
		threadID := e.ensureTextThread(ctx, src, parent)
		if threadID == "" {
			return res
		}
		res.ThreadID = threadID
		threadDest = Destination{ChannelID: parent.ChannelID, Kind: DestText, ThreadID: threadID}

	case DestForum:
		var starter *Envelope
		// The forum post starter is the thread's own first message.
		if len(history) > 0 && history[0].ID == src.ID {
			starter = FromMessage(history[0], e.sourceGuildID)
			history = history[1:]
		}
		if starter == nil || starter.IsEmpty() {
			starter = e.deletedStarterEnvelope(src)
		}
		mres := e.MigrateMessage(ctx, starter, Destination{
			ChannelID:  parent.ChannelID,
			Kind:       DestForum,
			ThreadName: src.Name,
		})
		if mres.ThreadID == "" {
			e.log.Warn("forum post not created", "thread", src.ID, "channel", parent.ChannelID)
			return res
		}
		res.ThreadID = mres.ThreadID
		res.Migrated++
		threadDest = Destination{ChannelID: parent.ChannelID, Kind: DestForum, ThreadID: mres.ThreadID}
	}

	// Threads are channels for deep-link purposes; map them so links into
	// the thread rewrite.
	if err := e.table.Put(mapping.KindChannel, src.ID, mapping.Entity{ID: res.ThreadID, Name: src.Name}); err != nil {
		e.log.Warn("thread mapping rejected", "thread", src.ID, "error", err)
	}

	for _, m := range history {
		if ctx.Err() != nil {
			return res
		}
		if m.ID == src.ID {
			continue
		}
		env := FromMessage(m, e.sourceGuildID)
		if env.IsEmpty() {
			res.Skipped++
			continue
		}
		if mres := e.MigrateMessage(ctx, env, threadDest); mres.Proceeded {
			res.Migrated++
		} else {
			res.Skipped++
		}
	}

	e.applyThreadState(ctx, src, res.ThreadID)
	return res
}

// ensureTextThread replays the starter into the parent channel and starts a
// thread from it. A starter already journaled with a thread resumes into
// that thread.
func (e *Engine) ensureTextThread(ctx context.Context, src *discordgo.Channel, parent Destination) string {
	starter := e.fetchStarter(ctx, src)
	mres := e.MigrateMessage(ctx, starter, parent)
	if mres.ThreadID != "" {
		return mres.ThreadID
	}
	if mres.LastMessageID == "" {
		e.log.Warn("thread starter not delivered", "thread", src.ID, "channel", parent.ChannelID)
		return ""
	}

	auto := defaultAutoArchiveMinutes
	if md := src.ThreadMetadata; md != nil && md.AutoArchiveDuration > 0 {
		auto = md.AutoArchiveDuration
	}

	var th *discordgo.Channel
	err := e.gov.Do(ctx, governor.RouteMutation, func(ctx context.Context) error {
		var terr error
		th, terr = e.client.StartThreadFromMessage(ctx, parent.ChannelID, mres.LastMessageID, src.Name, auto)
		return terr
	})
	if err != nil {
		e.log.Warn("starting thread failed", "thread", src.ID, "error", err)
		return ""
	}

	if e.journal != nil {
		if err := e.journal.SetThread(ctx, starter.ID, parent.ChannelID, th.ID); err != nil {
			e.log.Warn("journal thread update failed", "thread", src.ID, "error", err)
		}
	}
	return th.ID
}

// fetchStarter loads the source starter message, which lives in the source
// parent channel under the thread's own id. A deleted starter degrades to a
// placeholder envelope.
func (e *Engine) fetchStarter(ctx context.Context, src *discordgo.Channel) *Envelope {
	var m *platform.Message
	err := e.gov.Do(ctx, governor.RouteMutation, func(ctx context.Context) error {
		var merr error
		m, merr = e.client.Message(ctx, src.ParentID, src.ID)
		return merr
	})
	if err != nil {
		e.log.Info("thread starter unavailable", "thread", src.ID, "error", err)
		return e.deletedStarterEnvelope(src)
	}
	env := FromMessage(m, e.sourceGuildID)
	if env.IsEmpty() {
		return e.deletedStarterEnvelope(src)
	}
	return env
}

func (e *Engine) deletedStarterEnvelope(src *discordgo.Channel) *Envelope {
	ts, err := discordgo.SnowflakeTimestamp(src.ID)
	if err != nil {
		ts = time.Now().UTC()
	}
	return &Envelope{
		ID:         src.ID,
		ChannelID:  src.ParentID,
		GuildID:    e.sourceGuildID,
		AuthorName: "unknown",
		Timestamp:  ts,
		Content:    deletedStarterText,
	}
}

// applyThreadState re-archives and re-locks the created thread to match the
// source. Best effort; a failure leaves the thread open.
func (e *Engine) applyThreadState(ctx context.Context, src *discordgo.Channel, threadID string) {
	md := src.ThreadMetadata
	if threadID == "" || md == nil || (!md.Archived && !md.Locked) {
		return
	}
	edit := &discordgo.ChannelEdit{Archived: &md.Archived, Locked: &md.Locked}
	err := e.gov.Do(ctx, governor.RouteMutation, func(ctx context.Context) error {
		_, eerr := e.client.EditChannel(ctx, threadID, edit)
		return eerr
	})
	if err != nil {
		e.log.Warn("applying thread state failed", "thread", threadID, "error", err)
	}
}

// history returns a channel's full message history, oldest first. Paging
// errors log the reason and return what was collected.
func (e *Engine) history(ctx context.Context, channelID string) []*platform.Message {
	const pageSize = 100

	var all []*platform.Message
	before := ""
	for {
		var page []*platform.Message
		err := e.gov.Do(ctx, governor.RouteMutation, func(ctx context.Context) error {
			var perr error
			page, perr = e.client.Messages(ctx, channelID, pageSize, before)
			return perr
		})
		if err != nil {
			e.logHistoryFailure(channelID, err)
			break
		}
		if len(page) == 0 {
			break
		}
		all = append(all, page...)
		before = page[len(page)-1].ID
		if len(page) < pageSize {
			break
		}
	}

	// Pages arrive newest first.
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	return all
}

func (e *Engine) logHistoryFailure(channelID string, err error) {
	switch platform.CodeOf(err) {
	case platform.CodeUnknownChannel:
		e.log.Warn("channel no longer exists", "channel", channelID)
	case platform.CodeMissingAccess, platform.CodeMissingPermissions:
		e.log.Warn("no access to channel history", "channel", channelID)
	default:
		e.log.Warn("history paging failed", "channel", channelID, "error", err)
	}
}
