package platform

import (
	"bytes"
	"encoding/json"

	"github.com/bwmarrin/discordgo"
)

// Message is a discordgo message plus the poll payload, which postdates the
// pinned SDK. REST fetches decode it straight off the wire; gateway messages
// arrive through WrapMessage and carry no poll.
type Message struct {
	discordgo.Message
	Poll              *Poll    `json:"-"`
	ReferencedMessage *Message `json:"-"`
}

// Poll is the message poll object, as the API serializes it.
type Poll struct {
	Question PollMedia    `json:"question"`
	Answers  []PollAnswer `json:"answers"`
	Results  *PollResults `json:"results"`
}

// PollMedia is the text/emoji pair used for the question and each answer.
type PollMedia struct {
	Text  string     `json:"text"`
	Emoji *PollEmoji `json:"emoji"`
}

// PollEmoji is a partial emoji; custom emojis carry an ID, unicode ones only
// a name.
type PollEmoji struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// PollAnswer is one poll option.
type PollAnswer struct {
	AnswerID int        `json:"answer_id"`
	Media    *PollMedia `json:"poll_media"`
}

// PollResults is the vote tally, present once the platform has counted.
type PollResults struct {
	Finalized    bool              `json:"is_finalized"`
	AnswerCounts []PollAnswerCount `json:"answer_counts"`
}

// PollAnswerCount is the tally for one answer.
type PollAnswerCount struct {
	ID    int `json:"id"`
	Count int `json:"count"`
}

// UnmarshalJSON decodes the embedded discordgo message and then the fields
// the SDK predates. discordgo.Message has its own UnmarshalJSON, so the
// extras must be pulled from the raw payload separately.
func (m *Message) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, &m.Message); err != nil {
		return err
	}
	var extra struct {
		Poll              *Poll           `json:"poll"`
		ReferencedMessage json.RawMessage `json:"referenced_message"`
	}
	if err := json.Unmarshal(data, &extra); err != nil {
		return err
	}
	m.Poll = extra.Poll
	if len(extra.ReferencedMessage) > 0 && !bytes.Equal(extra.ReferencedMessage, []byte("null")) {
		ref := &Message{}
		if err := json.Unmarshal(extra.ReferencedMessage, ref); err != nil {
			return err
		}
		m.ReferencedMessage = ref
	}
	return nil
}

// WrapMessage adapts a gateway-delivered message. Gateway payloads decode
// through the SDK's own types, so Poll stays nil on this path.
func WrapMessage(m *discordgo.Message) *Message {
	if m == nil {
		return nil
	}
	return &Message{Message: *m, ReferencedMessage: WrapMessage(m.ReferencedMessage)}
}
