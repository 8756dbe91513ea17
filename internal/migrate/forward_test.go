package migrate

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyadbot/replica/internal/mapping"
	"github.com/dyadbot/replica/internal/platform"
	"github.com/dyadbot/replica/internal/testutil"
)

func newTestForwarder(t *testing.T, f *fakePlatform) (*Forwarder, *Engine) {
	t.Helper()
	e := testEngine(f, nil)
	fw := NewForwarder(ForwarderOptions{
		Engine:        e,
		Client:        f,
		Table:         e.table,
		Logger:        testutil.Logger(),
		SourceGuildID: "src",
		QueueSize:     16,
	})
	return fw, e
}

func TestForwarderHoldsUntilReleased(t *testing.T) {
	f := newFakePlatform()
	f.channels["d1"] = &discordgo.Channel{ID: "d1", Type: discordgo.ChannelTypeGuildText}

	fw, e := newTestForwarder(t, f)
	require.NoError(t, e.table.Put(mapping.KindChannel, "c1", mapping.Entity{ID: "d1", Name: "general"}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fw.Start(ctx)
	defer fw.Stop()

	live := msg("m1", "c1", "live one")
	live.GuildID = "src"
	f.emit(live)

	// Queued but not delivered while the gate is closed.
	require.Eventually(t, func() bool {
		return len(fw.PendingMessages()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, f.sentContents())

	pending := fw.PendingMessages()
	assert.Equal(t, "c1", pending[0].SourceChannelID)
	assert.Equal(t, "m1", pending[0].SourceMessageID)
	assert.Equal(t, "d1", pending[0].DestChannelID)

	fw.Release()
	require.Eventually(t, func() bool {
		sent := f.sentContents()
		return len(sent) == 1 && sent[0] == "live one"
	}, time.Second, 5*time.Millisecond)
}

func TestForwarderStopEndsWorker(t *testing.T) {
	f := newFakePlatform()
	f.channels["d1"] = &discordgo.Channel{ID: "d1", Type: discordgo.ChannelTypeGuildText}

	fw, e := newTestForwarder(t, f)
	require.NoError(t, e.table.Put(mapping.KindChannel, "c1", mapping.Entity{ID: "d1", Name: "general"}))

	// The run context stays live; Stop alone must end the worker.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fw.Start(ctx)
	fw.Release()

	live := msg("m1", "c1", "last one")
	live.GuildID = "src"
	f.emit(live)
	require.Eventually(t, func() bool {
		sent := f.sentContents()
		return len(sent) == 1 && sent[0] == "last one"
	}, time.Second, 5*time.Millisecond)

	fw.Stop()
	select {
	case <-fw.Done():
	case <-time.After(time.Second):
		t.Fatal("delivery worker kept running after Stop")
	}
}

func TestForwarderIgnoresOwnAndUnmappedTraffic(t *testing.T) {
	f := newFakePlatform()
	f.channels["d1"] = &discordgo.Channel{ID: "d1", Type: discordgo.ChannelTypeGuildText}

	fw, e := newTestForwarder(t, f)
	require.NoError(t, e.table.Put(mapping.KindChannel, "c1", mapping.Entity{ID: "d1", Name: "general"}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fw.Start(ctx)
	defer fw.Stop()

	// Relay echo: carries a webhook id.
	echo := msg("m1", "c1", "echo")
	echo.GuildID = "src"
	echo.WebhookID = "wh-d1"
	f.emit(echo)

	// Wrong guild.
	other := msg("m2", "c1", "other")
	other.GuildID = "elsewhere"
	f.emit(other)

	// Unmapped channel.
	unmapped := msg("m3", "c9", "unmapped")
	unmapped.GuildID = "src"
	f.emit(unmapped)

	assert.Empty(t, fw.PendingMessages())
}

func TestForwarderResolvesMappedThread(t *testing.T) {
	f := newFakePlatform()
	f.channels["dt1"] = &discordgo.Channel{
		ID:       "dt1",
		ParentID: "d1",
		Type:     discordgo.ChannelTypeGuildPublicThread,
	}

	fw, e := newTestForwarder(t, f)
	require.NoError(t, e.table.Put(mapping.KindChannel, "t1", mapping.Entity{ID: "dt1", Name: "topic"}))

	dest, ok := fw.destFor(context.Background(), "t1")
	require.True(t, ok)
	assert.Equal(t, "d1", dest.ChannelID)
	assert.Equal(t, "dt1", dest.ThreadID)
	assert.Equal(t, DestText, dest.Kind)
}

func TestForwarderRequeueRefetches(t *testing.T) {
	f := newFakePlatform()
	f.channels["d1"] = &discordgo.Channel{ID: "d1", Type: discordgo.ChannelTypeGuildText}
	current := msg("m1", "c1", "edited since checkpoint")
	current.GuildID = "src"
	f.messages["c1"] = []*platform.Message{current}

	fw, e := newTestForwarder(t, f)
	require.NoError(t, e.table.Put(mapping.KindChannel, "c1", mapping.Entity{ID: "d1", Name: "general"}))

	fw.Requeue(context.Background(), "c1", "m1")
	pending := fw.PendingMessages()
	require.Len(t, pending, 1)
	assert.Equal(t, "m1", pending[0].SourceMessageID)

	// A message deleted since the checkpoint drops silently.
	fw.Requeue(context.Background(), "c1", "gone")
	assert.Len(t, fw.PendingMessages(), 1)
}
