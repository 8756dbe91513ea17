package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyadbot/replica/internal/mapping"
	"github.com/dyadbot/replica/internal/platform"
	"github.com/dyadbot/replica/internal/state"
	"github.com/dyadbot/replica/internal/testutil"
)

// fakeWorld is a platform.Client backing a complete run: a source guild
// with structure and history, and a mutable target side.
type fakeWorld struct {
	platform.Client

	mu       sync.Mutex
	ids      *testutil.IDSequence
	guilds   map[string]*discordgo.Guild
	channels map[string][]*discordgo.Channel
	byID     map[string]*discordgo.Channel
	messages map[string][]*platform.Message
	handler  func(m *platform.Message)

	createdGuilds   []string
	deletedChannels []string
	createdChannels []platform.ChannelCreate
	roleEdits       []string
	settingsApplied bool
	sends           []platform.WebhookSend
}

func newFakeWorld() *fakeWorld {
	return &fakeWorld{
		ids:      testutil.NewIDSequence("t"),
		guilds:   make(map[string]*discordgo.Guild),
		channels: make(map[string][]*discordgo.Channel),
		byID:     make(map[string]*discordgo.Channel),
		messages: make(map[string][]*platform.Message),
	}
}

func (f *fakeWorld) Guild(ctx context.Context, guildID string) (*discordgo.Guild, error) {
	if g, ok := f.guilds[guildID]; ok {
		return g, nil
	}
	return nil, &platform.APIError{Status: 404, Code: platform.CodeUnknownChannel}
}

func (f *fakeWorld) CreateGuild(ctx context.Context, name string) (*discordgo.Guild, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := "guild-" + f.ids.Next()
	g := &discordgo.Guild{ID: id, Name: name}
	f.guilds[id] = g
	f.createdGuilds = append(f.createdGuilds, id)
	// Fresh guilds ship with a stock channel.
	f.channels[id] = []*discordgo.Channel{{ID: id + "-stock", Name: "general"}}
	return g, nil
}

func (f *fakeWorld) GuildChannels(ctx context.Context, guildID string) ([]*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channels[guildID], nil
}

func (f *fakeWorld) DeleteChannel(ctx context.Context, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedChannels = append(f.deletedChannels, channelID)
	return nil
}

func (f *fakeWorld) CreateChannel(ctx context.Context, guildID string, c platform.ChannelCreate) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createdChannels = append(f.createdChannels, c)
	return &discordgo.Channel{ID: "ch-" + f.ids.Next(), Name: c.Name, Type: c.Type}, nil
}

func (f *fakeWorld) EditGuildSettings(ctx context.Context, guildID string, s platform.GuildSettings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settingsApplied = true
	return nil
}

func (f *fakeWorld) GuildRoles(ctx context.Context, guildID string) ([]*discordgo.Role, error) {
	if g, ok := f.guilds[guildID]; ok {
		return g.Roles, nil
	}
	return nil, &platform.APIError{Status: 404}
}

func (f *fakeWorld) CreateRole(ctx context.Context, guildID string, p *discordgo.RoleParams) (*discordgo.Role, error) {
	return &discordgo.Role{ID: "role-" + f.ids.Next(), Name: p.Name}, nil
}

func (f *fakeWorld) EditRole(ctx context.Context, guildID, roleID string, p *discordgo.RoleParams) (*discordgo.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roleEdits = append(f.roleEdits, roleID)
	return &discordgo.Role{ID: roleID, Name: p.Name}, nil
}

func (f *fakeWorld) GuildEmojis(ctx context.Context, guildID string) ([]*discordgo.Emoji, error) {
	return nil, nil
}

func (f *fakeWorld) GuildStickers(ctx context.Context, guildID string) ([]*discordgo.Sticker, error) {
	return nil, nil
}

func (f *fakeWorld) ActiveThreads(ctx context.Context, guildID string) ([]*discordgo.Channel, error) {
	return nil, nil
}

func (f *fakeWorld) ArchivedThreads(ctx context.Context, channelID string) ([]*discordgo.Channel, error) {
	return nil, nil
}

func (f *fakeWorld) Messages(ctx context.Context, channelID string, limit int, beforeID string) ([]*platform.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := f.messages[channelID]
	start := 0
	if beforeID != "" {
		for i, m := range all {
			if m.ID == beforeID {
				start = i + 1
				break
			}
		}
	}
	end := min(start+limit, len(all))
	out := make([]*platform.Message, end-start)
	copy(out, all[start:end])
	return out, nil
}

func (f *fakeWorld) Message(ctx context.Context, channelID, messageID string) (*platform.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages[channelID] {
		if m.ID == messageID {
			return m, nil
		}
	}
	return nil, &platform.APIError{Status: 404, Code: platform.CodeUnknownMessage}
}

func (f *fakeWorld) Channel(ctx context.Context, channelID string) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.byID[channelID]; ok {
		return ch, nil
	}
	return nil, &platform.APIError{Status: 404, Code: platform.CodeUnknownChannel}
}

func (f *fakeWorld) EnsureWebhook(ctx context.Context, channelID, name string) (*discordgo.Webhook, error) {
	return &discordgo.Webhook{ID: "wh-" + channelID, ChannelID: channelID, Name: name}, nil
}

func (f *fakeWorld) SendWebhook(ctx context.Context, wh *discordgo.Webhook, send platform.WebhookSend) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, send)
	return &discordgo.Message{ID: "sent-" + f.ids.Next(), ChannelID: wh.ChannelID}, nil
}

func (f *fakeWorld) OnMessageCreate(fn func(m *platform.Message)) func() {
	f.mu.Lock()
	f.handler = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.handler = nil
		f.mu.Unlock()
	}
}

func (f *fakeWorld) emit(m *platform.Message) {
	f.mu.Lock()
	fn := f.handler
	f.mu.Unlock()
	if fn != nil {
		fn(m)
	}
}

func (f *fakeWorld) sentContents() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sends))
	for i, s := range f.sends {
		out[i] = s.Content
	}
	return out
}

// seedSource populates a small source guild: one category, one text channel
// with two messages, @everyone plus one role.
func (f *fakeWorld) seedSource() {
	f.guilds["src"] = &discordgo.Guild{
		ID:   "src",
		Name: "Origin",
		Roles: []*discordgo.Role{
			{ID: "src", Name: "@everyone", Position: 0},
			{ID: "r1", Name: "Member", Position: 1},
		},
	}
	f.channels["src"] = []*discordgo.Channel{
		{ID: "cat1", Name: "General", Type: discordgo.ChannelTypeGuildCategory, Position: 0},
		{ID: "c1", Name: "chat", Type: discordgo.ChannelTypeGuildText, Position: 1, ParentID: "cat1"},
	}
	f.messages["c1"] = []*platform.Message{
		{Message: discordgo.Message{ID: "m2", ChannelID: "c1", GuildID: "src", Content: "second", Author: &discordgo.User{Username: "bob"}, Timestamp: time.Now()}},
		{Message: discordgo.Message{ID: "m1", ChannelID: "c1", GuildID: "src", Content: "first", Author: &discordgo.User{Username: "alice"}, Timestamp: time.Now()}},
	}
}

func testRunner(t *testing.T, f *fakeWorld, cfg state.Config) (*Runner, *state.Store) {
	t.Helper()
	store, err := state.NewStore(t.TempDir())
	require.NoError(t, err)
	return New(Options{
		Client:   f,
		Governor: testutil.Governor(),
		Table:    mapping.New(),
		Store:    store,
		Logger:   testutil.Logger(),
		Config:   cfg,
	}), store
}

func baseConfig() state.Config {
	cfg := state.DefaultConfig()
	cfg.SourceGuildID = "src"
	cfg.LiveForwarding = false
	return cfg
}

func TestDoneOrdering(t *testing.T) {
	assert.False(t, Done("", StepCreateTargetGuild))
	assert.True(t, Done(StepCloneRoles, StepCloneRoles))
	assert.True(t, Done(StepCloneRoles, StepPrepareTarget))
	assert.False(t, Done(StepCloneRoles, StepCloneChannels))
	assert.True(t, Done(StepCloneMessages, StepCloneMessages))
}

func TestRunFullPipeline(t *testing.T) {
	f := newFakeWorld()
	f.seedSource()

	r, store := testRunner(t, f, baseConfig())
	require.NoError(t, r.Run(context.Background()))

	// Target guild created and persisted into the config.
	require.Len(t, f.createdGuilds, 1)
	cfg, err := store.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, f.createdGuilds[0], cfg.TargetGuildID)

	// Stock channel cleared, structure recreated, settings applied.
	assert.Equal(t, []string{f.createdGuilds[0] + "-stock"}, f.deletedChannels)
	assert.True(t, f.settingsApplied)
	require.Len(t, f.createdChannels, 2)
	assert.Equal(t, "General", f.createdChannels[0].Name)
	assert.Equal(t, "chat", f.createdChannels[1].Name)

	// @everyone is adjusted in place on the replica, never recreated.
	assert.Equal(t, []string{f.createdGuilds[0]}, f.roleEdits)

	// History replayed oldest first.
	require.Len(t, f.sends, 2)
	assert.Equal(t, "first", f.sends[0].Content)
	assert.Equal(t, "second", f.sends[1].Content)

	// Checkpoint records the finished run.
	cp, ok, err := store.LoadCheckpoint()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StepCloneMessages, cp.LastCompletedStep)
	assert.NotEmpty(t, cp.RunToken)
	assert.NotEmpty(t, cp.Mapping[mapping.KindChannel])
}

func TestRunResumeSkipsCompletedSteps(t *testing.T) {
	f := newFakeWorld()
	f.seedSource()
	f.guilds["dst"] = &discordgo.Guild{ID: "dst", Name: "Origin"}

	cfg := baseConfig()
	cfg.TargetGuildID = "dst"

	r, store := testRunner(t, f, cfg)

	table := mapping.New()
	require.NoError(t, table.Put(mapping.KindChannel, "c1", mapping.Entity{ID: "dst-chat", Name: "chat"}))
	require.NoError(t, store.SaveCheckpoint(state.Checkpoint{
		RunToken:          "run-resume",
		LastCompletedStep: StepCloneStickers,
		Mapping:           table.Snapshot(),
	}))

	require.NoError(t, r.Run(context.Background()))

	// Only clone_messages ran: no guild creation, no stock-channel cleanup,
	// no structural creations.
	assert.Empty(t, f.createdGuilds)
	assert.Empty(t, f.deletedChannels)
	assert.Empty(t, f.createdChannels)
	assert.False(t, f.settingsApplied)

	// History went to the previously mapped channel under the same token.
	require.Len(t, f.sends, 2)
	cp, ok, err := store.LoadCheckpoint()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "run-resume", cp.RunToken)
	assert.Equal(t, StepCloneMessages, cp.LastCompletedStep)
}

func TestRunResumedCompleteRunStillForwardsLive(t *testing.T) {
	f := newFakeWorld()
	f.seedSource()
	f.guilds["dst"] = &discordgo.Guild{ID: "dst", Name: "Origin"}
	f.byID["dst-chat"] = &discordgo.Channel{ID: "dst-chat", Type: discordgo.ChannelTypeGuildText}

	cfg := baseConfig()
	cfg.TargetGuildID = "dst"
	cfg.LiveForwarding = true

	r, store := testRunner(t, f, cfg)

	// The previous run finished the whole sequence with one live message
	// still queued.
	table := mapping.New()
	require.NoError(t, table.Put(mapping.KindChannel, "c1", mapping.Entity{ID: "dst-chat", Name: "chat"}))
	require.NoError(t, store.SaveCheckpoint(state.Checkpoint{
		RunToken:          "run-live",
		LastCompletedStep: StepCloneMessages,
		Mapping:           table.Snapshot(),
		Pending: []state.PendingMessage{
			{SourceChannelID: "c1", SourceMessageID: "m2", DestChannelID: "dst-chat"},
		},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	// The checkpointed pending message delivers even though every step is
	// skipped.
	require.Eventually(t, func() bool {
		return len(f.sentContents()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"second"}, f.sentContents())

	// New live traffic forwards as well.
	f.emit(&platform.Message{Message: discordgo.Message{
		ID: "m3", ChannelID: "c1", GuildID: "src", Content: "third",
		Author: &discordgo.User{Username: "carol"}, Timestamp: time.Now(),
	}})
	require.Eventually(t, func() bool {
		return len(f.sentContents()) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "third", f.sentContents()[1])

	cancel()
	require.NoError(t, <-done)
}

// failingStore wraps a real store and fails every checkpoint save.
type failingStore struct {
	*state.Store
}

func (s *failingStore) SaveCheckpoint(cp state.Checkpoint) error {
	return errors.New("disk full")
}

func TestRunAbortsWhenCheckpointSaveFails(t *testing.T) {
	f := newFakeWorld()
	f.seedSource()

	store, err := state.NewStore(t.TempDir())
	require.NoError(t, err)

	r := New(Options{
		Client:   f,
		Governor: testutil.Governor(),
		Table:    mapping.New(),
		Store:    &failingStore{Store: store},
		Logger:   testutil.Logger(),
		Config:   baseConfig(),
	})

	err = r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checkpoint after step "+StepCreateTargetGuild)

	// The run stopped right after the first step: no stock-channel cleanup,
	// no structure, no history.
	assert.Empty(t, f.deletedChannels)
	assert.Empty(t, f.createdChannels)
	assert.Empty(t, f.sentContents())
}

func TestRunRefusesConcurrentRun(t *testing.T) {
	f := newFakeWorld()
	f.seedSource()

	r, store := testRunner(t, f, baseConfig())

	release, err := store.AcquireRunLock()
	require.NoError(t, err)
	defer release()

	err = r.Run(context.Background())
	require.ErrorIs(t, err, state.ErrRunActive)
}

func TestRunWithoutSourceFails(t *testing.T) {
	f := newFakeWorld()
	cfg := baseConfig()
	cfg.SourceGuildID = ""

	r, _ := testRunner(t, f, cfg)
	require.Error(t, r.Run(context.Background()))
}

func TestResetDiscardsState(t *testing.T) {
	f := newFakeWorld()
	r, store := testRunner(t, f, baseConfig())

	require.NoError(t, store.SaveCheckpoint(state.Checkpoint{RunToken: "tok", LastCompletedStep: StepCloneRoles}))
	require.NoError(t, r.Reset(context.Background()))

	_, ok, err := store.LoadCheckpoint()
	require.NoError(t, err)
	assert.False(t, ok)

	// Reset also clears a stale lock so the next run can start.
	release, err := store.AcquireRunLock()
	require.NoError(t, err)
	release()
}

func TestStepIndexCoversAllSteps(t *testing.T) {
	for i, name := range Order {
		assert.Equal(t, i, stepIndex(name), name)
	}
	assert.Equal(t, -1, stepIndex("no_such_step"))
}
