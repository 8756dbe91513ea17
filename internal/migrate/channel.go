package migrate

import (
	"context"
	"sort"

	"github.com/bwmarrin/discordgo"

	"github.com/dyadbot/replica/internal/governor"
)

// ChannelResult aggregates one channel's migration.
type ChannelResult struct {
	Messages int
	Threads  int
	Skipped  int
}

func (r *ChannelResult) add(t ThreadResult) {
	if t.ThreadID != "" {
		r.Threads++
	}
	r.Messages += t.Migrated
	r.Skipped += t.Skipped
}

// MigrateChannel replays a whole source channel into dest, oldest content
// first. Text channels interleave thread replay at the point their starter
// appears in the history; forum channels replay each post as a thread.
// active holds the guild's active threads parented to this channel.
func (e *Engine) MigrateChannel(ctx context.Context, src *discordgo.Channel, dest Destination, active []*discordgo.Channel) ChannelResult {
	var res ChannelResult

	if src.Type == discordgo.ChannelTypeGuildForum {
		if dest.Kind != DestForum {
			e.log.Warn("forum source needs a forum destination", "channel", src.ID)
			return res
		}
		for _, th := range e.allThreads(ctx, src.ID, active) {
			if ctx.Err() != nil {
				return res
			}
			res.add(e.MigrateThread(ctx, th, dest))
		}
		return res
	}

	if dest.Kind != DestText {
		e.log.Warn("text source needs a text destination", "channel", src.ID)
		return res
	}

	threads := make(map[string]*discordgo.Channel)
	ordered := e.allThreads(ctx, src.ID, active)
	for _, th := range ordered {
		threads[th.ID] = th
	}

	for _, m := range e.history(ctx, src.ID) {
		if ctx.Err() != nil {
			return res
		}
		// A thread starter appears in the parent history under the thread's
		// id; replay the whole thread at that point to keep chronology.
		if th, ok := threads[m.ID]; ok {
			res.add(e.MigrateThread(ctx, th, dest))
			delete(threads, m.ID)
			continue
		}
		if m.Type == discordgo.MessageTypeThreadCreated {
			// System notice; the thread itself is replayed separately.
			continue
		}
		env := FromMessage(m, e.sourceGuildID)
		if env.IsEmpty() {
			res.Skipped++
			continue
		}
		mres := e.MigrateMessage(ctx, env, dest)
		if mres.Proceeded {
			res.Messages++
		} else {
			res.Skipped++
		}
	}

	// Threads whose starter left the history (deleted, or beyond it) still
	// replay, after the inline ones.
	for _, th := range ordered {
		if ctx.Err() != nil {
			return res
		}
		if _, pending := threads[th.ID]; !pending {
			continue
		}
		res.add(e.MigrateThread(ctx, th, dest))
	}
	return res
}

// allThreads merges a channel's archived threads with its active ones,
// oldest first by creation.
func (e *Engine) allThreads(ctx context.Context, channelID string, active []*discordgo.Channel) []*discordgo.Channel {
	var archived []*discordgo.Channel
	err := e.gov.Do(ctx, governor.RouteMutation, func(ctx context.Context) error {
		var aerr error
		archived, aerr = e.client.ArchivedThreads(ctx, channelID)
		return aerr
	})
	if err != nil {
		e.log.Warn("listing archived threads failed", "channel", channelID, "error", err)
	}

	all := make([]*discordgo.Channel, 0, len(archived)+len(active))
	seen := make(map[string]bool, len(archived))
	for _, th := range archived {
		all = append(all, th)
		seen[th.ID] = true
	}
	for _, th := range active {
		if th.ParentID == channelID && !seen[th.ID] {
			all = append(all, th)
		}
	}
	sort.Slice(all, func(i, j int) bool { return snowflakeLess(all[i].ID, all[j].ID) })
	return all
}

// snowflakeLess orders ids by creation time. Snowflakes are decimal and
// monotonic, so shorter strings sort first and equal lengths compare
// lexically.
func snowflakeLess(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}
