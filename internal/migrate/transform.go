package migrate

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/dyadbot/replica/internal/mapping"
)

// timestampLayout renders author timestamps in quotes and relay usernames.
const timestampLayout = "02/01/2006 15:04"

var (
	channelMentionRe = regexp.MustCompile(`<#(\d+)>`)
	roleMentionRe    = regexp.MustCompile(`<@&(\d+)>`)
)

// Rewriter rewrites in-text cross-references through the entity mapping
// table. Unmapped references stay as literal text rather than becoming
// broken links.
type Rewriter struct {
	Table         *mapping.Table
	SourceGuildID string
	TargetGuildID string
}

// Rewrite replaces channel mentions, role mentions and deep links whose
// subjects have a mapping.
func (r *Rewriter) Rewrite(text string) string {
	if r == nil || r.Table == nil {
		return text
	}

	text = channelMentionRe.ReplaceAllStringFunc(text, func(m string) string {
		id := m[2 : len(m)-1]
		if e, ok := r.Table.Get(mapping.KindChannel, id); ok {
			return "<#" + e.ID + ">"
		}
		return m
	})
	text = roleMentionRe.ReplaceAllStringFunc(text, func(m string) string {
		id := m[3 : len(m)-1]
		if e, ok := r.Table.Get(mapping.KindRole, id); ok {
			return "<@&" + e.ID + ">"
		}
		return m
	})

	if r.SourceGuildID != "" && r.TargetGuildID != "" {
		linkRe := regexp.MustCompile(`https://discord\.com/channels/` + regexp.QuoteMeta(r.SourceGuildID) + `/(\d+)`)
		text = linkRe.ReplaceAllStringFunc(text, func(m string) string {
			id := m[strings.LastIndex(m, "/")+1:]
			if e, ok := r.Table.Get(mapping.KindChannel, id); ok {
				return "https://discord.com/channels/" + r.TargetGuildID + "/" + e.ID
			}
			return m
		})
	}
	return text
}

// Transformer renders envelopes into outbound text. TargetStickers is the
// target guild's sticker set, used to decide which sticker references can be
// satisfied and which fall back to a link plus an unavailability note.
type Transformer struct {
	Rewriter       *Rewriter
	TargetStickers []*discordgo.Sticker
}

// Render produces the full outbound text for an envelope, assembled in the
// same order the platform displays the pieces: poll summary, sticker links,
// attachment links, reply quote, then the (rewritten) body.
func (t *Transformer) Render(env *Envelope) string {
	text := env.Content

	if env.Reply != nil {
		text = renderReplyQuote(env.Reply) + "\n" + text
	}
	if t.Rewriter != nil {
		text = t.Rewriter.Rewrite(text)
	}
	if len(env.AttachmentURLs) > 0 {
		text = strings.Join(env.AttachmentURLs, "\n") + "\n" + text
	}
	if len(env.Stickers) > 0 {
		text = t.renderStickers(env.Stickers) + text
	}
	if env.Poll != nil {
		text = RenderPoll(env.Poll) + "\n" + text
	}
	return text
}

// RelayUsername builds the per-message impersonation name carried by the
// relay webhook.
func RelayUsername(author string, ts time.Time) string {
	return fmt.Sprintf("%s at %s", author, ts.Format(timestampLayout))
}

// RenderPoll summarizes a poll as text. With results, each option carries
// its vote count zero-padded to four digits, in the option's original order;
// finalized polls get an explicit marker.
func RenderPoll(p *Poll) string {
	var b strings.Builder
	if p.Finalized {
		b.WriteString("(Poll finished) ")
	}
	b.WriteString(p.Question)
	for _, a := range p.Answers {
		b.WriteString("\n")
		if p.HasResults {
			fmt.Fprintf(&b, "%04d - ", a.Votes)
		}
		if a.Emoji != "" {
			b.WriteString(strings.TrimRight(a.Emoji+" "+a.Text, " "))
		} else {
			b.WriteString(a.Text)
		}
	}
	return b.String()
}

// renderReplyQuote reconstructs reply context as a block quote: original
// author, timestamp, and the quoted lines.
func renderReplyQuote(r *ReplyRef) string {
	quoted := r.Content
	if r.Poll != nil {
		quoted = RenderPoll(r.Poll)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "> %s at %s said:", r.AuthorName, r.Timestamp.Format(timestampLayout))
	for _, line := range strings.Split(quoted, "\n") {
		b.WriteString("\n> ")
		b.WriteString(line)
	}
	return b.String()
}

// renderStickers links target-side equivalents where they exist and lists
// the ones that cannot be satisfied by name. Returns "" or a chunk ending
// in a newline.
func (t *Transformer) renderStickers(refs []StickerRef) string {
	var available []*discordgo.Sticker
	var missing []string

	for _, ref := range refs {
		if st := t.findSticker(ref); st != nil {
			available = append(available, st)
		} else {
			missing = append(missing, ref.Name)
		}
	}

	var b strings.Builder
	for _, st := range available {
		fmt.Fprintf(&b, "https://cdn.discordapp.com/stickers/%s.png\n", st.ID)
	}
	if len(missing) > 0 {
		fmt.Fprintf(&b, "Sticker %s not available\n", strings.Join(missing, ","))
	}
	return b.String()
}

// findSticker matches by identifier first, then by name.
func (t *Transformer) findSticker(ref StickerRef) *discordgo.Sticker {
	for _, st := range t.TargetStickers {
		if st.ID == ref.ID {
			return st
		}
	}
	for _, st := range t.TargetStickers {
		if st.Name == ref.Name {
			return st
		}
	}
	return nil
}
