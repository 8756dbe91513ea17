// Package migrate replays source messages, threads and channels into the
// target guild through per-channel relay webhooks, preserving ordering,
// references and content fidelity.
package migrate

import (
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/dyadbot/replica/internal/platform"
)

// StickerRef identifies one sticker attached to a source message.
type StickerRef struct {
	ID   string
	Name string
}

// PollAnswer is one option of a source poll, in original option order.
type PollAnswer struct {
	Emoji string
	Text  string
	Votes int
}

// Poll is the renderable slice of a source poll.
type Poll struct {
	Question   string
	Answers    []PollAnswer
	HasResults bool
	Finalized  bool
}

// ReplyRef captures the message a source message replied to, for block-quote
// reconstruction.
type ReplyRef struct {
	AuthorName string
	Timestamp  time.Time
	Content    string
	Poll       *Poll
}

// Envelope is a read-only snapshot of one source message. It is never
// mutated, only transformed into outbound payloads.
type Envelope struct {
	ID             string
	ChannelID      string
	GuildID        string
	AuthorName     string
	AvatarURL      string
	Timestamp      time.Time
	Content        string
	AttachmentURLs []string
	Embeds         []*discordgo.MessageEmbed
	Stickers       []StickerRef
	Poll           *Poll
	Reply          *ReplyRef
	HasReactions   bool
}

// FromMessage snapshots a platform message into an Envelope.
func FromMessage(m *platform.Message, guildID string) *Envelope {
	env := &Envelope{
		ID:           m.ID,
		ChannelID:    m.ChannelID,
		GuildID:      guildID,
		AuthorName:   displayName(m.Author),
		Timestamp:    m.Timestamp,
		Content:      m.Content,
		Embeds:       m.Embeds,
		Poll:         pollFromMessage(m.Poll),
		HasReactions: len(m.Reactions) > 0,
	}
	if m.Author != nil {
		env.AvatarURL = m.Author.AvatarURL("")
	}
	for _, a := range m.Attachments {
		env.AttachmentURLs = append(env.AttachmentURLs, a.URL)
	}
	for _, s := range m.StickerItems {
		env.Stickers = append(env.Stickers, StickerRef{ID: s.ID, Name: s.Name})
	}
	if ref := m.ReferencedMessage; ref != nil && quotableType(ref.Type) {
		env.Reply = &ReplyRef{
			AuthorName: displayName(ref.Author),
			Timestamp:  ref.Timestamp,
			Content:    ref.Content,
			Poll:       pollFromMessage(ref.Poll),
		}
	}
	return env
}

// IsEmpty reports whether replaying the message would produce a blank post:
// no text, embeds, poll, reactions worth preserving, or stickers.
func (e *Envelope) IsEmpty() bool {
	return e.Content == "" &&
		len(e.Embeds) == 0 &&
		e.Poll == nil &&
		!e.HasReactions &&
		len(e.Stickers) == 0 &&
		len(e.AttachmentURLs) == 0
}

// JumpURL reconstructs the canonical deep link to the source message.
func (e *Envelope) JumpURL() string {
	return fmt.Sprintf("https://discord.com/channels/%s/%s/%s", e.GuildID, e.ChannelID, e.ID)
}

func displayName(u *discordgo.User) string {
	if u == nil {
		return "unknown"
	}
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

func quotableType(t discordgo.MessageType) bool {
	switch t {
	case discordgo.MessageTypeDefault, discordgo.MessageTypeReply, discordgo.MessageTypeThreadStarterMessage:
		return true
	}
	return false
}

func pollFromMessage(p *platform.Poll) *Poll {
	if p == nil {
		return nil
	}
	out := &Poll{Question: p.Question.Text}

	counts := map[int]int{}
	if p.Results != nil {
		out.HasResults = true
		out.Finalized = p.Results.Finalized
		for _, ac := range p.Results.AnswerCounts {
			counts[ac.ID] = ac.Count
		}
	}
	for _, a := range p.Answers {
		ans := PollAnswer{Votes: counts[a.AnswerID]}
		if a.Media != nil {
			ans.Text = a.Media.Text
			if a.Media.Emoji != nil {
				ans.Emoji = renderEmoji(a.Media.Emoji)
			}
		}
		out.Answers = append(out.Answers, ans)
	}
	return out
}

func renderEmoji(e *platform.PollEmoji) string {
	if e.ID != "" {
		return fmt.Sprintf("<:%s:%s>", e.Name, e.ID)
	}
	return e.Name
}
