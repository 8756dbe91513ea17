package cli

import (
	"bytes"
	"context"
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/dyadbot/replica/internal/platform"
)

// execute runs the root command with args and returns captured stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// fakeDiscord covers the handful of calls the command tests reach.
type fakeDiscord struct {
	platform.Client

	channels      map[string]*discordgo.Channel
	deletedGuilds []string
}

func newFakeDiscord() *fakeDiscord {
	return &fakeDiscord{channels: make(map[string]*discordgo.Channel)}
}

func (f *fakeDiscord) Channel(ctx context.Context, channelID string) (*discordgo.Channel, error) {
	if ch, ok := f.channels[channelID]; ok {
		return ch, nil
	}
	return nil, &platform.APIError{Status: 404, Code: platform.CodeUnknownChannel}
}

func (f *fakeDiscord) DeleteGuild(ctx context.Context, guildID string) error {
	f.deletedGuilds = append(f.deletedGuilds, guildID)
	return nil
}
