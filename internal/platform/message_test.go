package platform

import (
	"encoding/json"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageDecodesPoll(t *testing.T) {
	raw := `{
		"id": "m1",
		"channel_id": "c1",
		"content": "",
		"poll": {
			"question": {"text": "Best day?"},
			"answers": [
				{"answer_id": 1, "poll_media": {"text": "Friday", "emoji": {"name": "🎉"}}},
				{"answer_id": 2, "poll_media": {"text": "Saturday"}}
			],
			"results": {"is_finalized": true, "answer_counts": [{"id": 1, "count": 3}]}
		},
		"referenced_message": {
			"id": "m0",
			"content": "original",
			"poll": {"question": {"text": "Old poll?"}}
		}
	}`

	m := &Message{}
	require.NoError(t, json.Unmarshal([]byte(raw), m))

	assert.Equal(t, "m1", m.ID)
	require.NotNil(t, m.Poll)
	assert.Equal(t, "Best day?", m.Poll.Question.Text)
	require.Len(t, m.Poll.Answers, 2)
	assert.Equal(t, "Friday", m.Poll.Answers[0].Media.Text)
	assert.Equal(t, "🎉", m.Poll.Answers[0].Media.Emoji.Name)
	require.NotNil(t, m.Poll.Results)
	assert.True(t, m.Poll.Results.Finalized)
	assert.Equal(t, 3, m.Poll.Results.AnswerCounts[0].Count)

	// The reference decodes through the same wrapper, poll included.
	require.NotNil(t, m.ReferencedMessage)
	assert.Equal(t, "m0", m.ReferencedMessage.ID)
	require.NotNil(t, m.ReferencedMessage.Poll)
	assert.Equal(t, "Old poll?", m.ReferencedMessage.Poll.Question.Text)
}

func TestMessageDecodesWithoutPoll(t *testing.T) {
	m := &Message{}
	require.NoError(t, json.Unmarshal([]byte(`{"id": "m1", "content": "hi", "referenced_message": null}`), m))

	assert.Equal(t, "hi", m.Content)
	assert.Nil(t, m.Poll)
	assert.Nil(t, m.ReferencedMessage)
}

func TestWrapMessageCarriesReference(t *testing.T) {
	w := WrapMessage(&discordgo.Message{
		ID:                "m2",
		Content:           "reply",
		ReferencedMessage: &discordgo.Message{ID: "m1", Content: "original"},
	})

	assert.Equal(t, "m2", w.ID)
	require.NotNil(t, w.ReferencedMessage)
	assert.Equal(t, "m1", w.ReferencedMessage.ID)
	assert.Nil(t, w.Poll)

	assert.Nil(t, WrapMessage(nil))
}
