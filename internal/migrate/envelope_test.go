package migrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyadbot/replica/internal/platform"
)

func TestFromMessagePoll(t *testing.T) {
	m := msg("m1", "c1", "")
	m.Poll = &platform.Poll{
		Question: platform.PollMedia{Text: "Best day?"},
		Answers: []platform.PollAnswer{
			{AnswerID: 1, Media: &platform.PollMedia{Text: "Friday", Emoji: &platform.PollEmoji{Name: "🎉"}}},
			{AnswerID: 2, Media: &platform.PollMedia{Text: "Saturday", Emoji: &platform.PollEmoji{ID: "e1", Name: "party"}}},
		},
		Results: &platform.PollResults{
			Finalized:    true,
			AnswerCounts: []platform.PollAnswerCount{{ID: 1, Count: 3}},
		},
	}

	env := FromMessage(m, "src")

	require.NotNil(t, env.Poll)
	assert.Equal(t, "Best day?", env.Poll.Question)
	assert.True(t, env.Poll.HasResults)
	assert.True(t, env.Poll.Finalized)
	require.Len(t, env.Poll.Answers, 2)
	assert.Equal(t, PollAnswer{Emoji: "🎉", Text: "Friday", Votes: 3}, env.Poll.Answers[0])
	assert.Equal(t, PollAnswer{Emoji: "<:party:e1>", Text: "Saturday"}, env.Poll.Answers[1])

	// A poll-only message still replays.
	assert.False(t, env.IsEmpty())
}

func TestFromMessageReplyQuotesPoll(t *testing.T) {
	ref := msg("m1", "c1", "")
	ref.Poll = &platform.Poll{Question: platform.PollMedia{Text: "Old poll?"}}

	m := msg("m2", "c1", "answering")
	m.ReferencedMessage = ref

	env := FromMessage(m, "src")

	require.NotNil(t, env.Reply)
	require.NotNil(t, env.Reply.Poll)
	assert.Equal(t, "Old poll?", env.Reply.Poll.Question)
}
