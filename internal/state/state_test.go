package state

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyadbot/replica/internal/mapping"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	s := newStore(t)

	cfg, err := s.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestConfig_SaveLoadRoundTrip(t *testing.T) {
	s := newStore(t)

	cfg := DefaultConfig()
	cfg.WebhookDelayMS = 350
	cfg.SourceGuildID = "111"
	cfg.TargetGuildID = "222"
	cfg.AdminUserID = "333"
	require.NoError(t, s.SaveConfig(cfg))

	got, err := s.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestLoadConfig_RejectsOutOfRangeDelay(t *testing.T) {
	s := newStore(t)

	raw := []byte(`{"webhook_delay_ms": 50}`)
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), ConfigFile), raw, 0o644))

	_, err := s.LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema")
}

func TestLoadConfig_RejectsUnknownField(t *testing.T) {
	s := newStore(t)

	raw := []byte(`{"webhok_delay_ms": 300}`)
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), ConfigFile), raw, 0o644))

	_, err := s.LoadConfig()
	require.Error(t, err)
}

func TestLoadConfig_PartialDocumentKeepsDefaults(t *testing.T) {
	s := newStore(t)

	raw := []byte(`{"process_delay_ms": 500}`)
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), ConfigFile), raw, 0o644))

	cfg, err := s.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 500, cfg.ProcessDelayMS)
	assert.Equal(t, DefaultConfig().WebhookDelayMS, cfg.WebhookDelayMS)
	assert.Equal(t, DefaultConfig().BulkQueueSize, cfg.BulkQueueSize)
}

func TestCheckpoint_MissingFile(t *testing.T) {
	s := newStore(t)

	_, ok, err := s.LoadCheckpoint()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckpoint_SaveLoadRoundTrip(t *testing.T) {
	s := newStore(t)

	tbl := mapping.New()
	require.NoError(t, tbl.Put(mapping.KindRole, "1", mapping.Entity{ID: "10", Name: "Admin"}))

	cp := Checkpoint{
		RunToken:          "run-1",
		LastCompletedStep: "clone_roles",
		Mapping:           tbl.Snapshot(),
		Pending: []PendingMessage{
			{SourceChannelID: "5", SourceMessageID: "6", DestChannelID: "7"},
		},
	}
	require.NoError(t, s.SaveCheckpoint(cp))

	got, ok, err := s.LoadCheckpoint()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "clone_roles", got.LastCompletedStep)
	assert.Equal(t, "run-1", got.RunToken)
	assert.Equal(t, "10", got.Mapping[mapping.KindRole]["1"].ID)
	require.Len(t, got.Pending, 1)
	assert.False(t, got.SavedAt.IsZero())
}

func TestCheckpoint_Reset(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.SaveCheckpoint(Checkpoint{LastCompletedStep: "clone_roles"}))

	require.NoError(t, s.ResetCheckpoint())
	_, ok, err := s.LoadCheckpoint()
	require.NoError(t, err)
	assert.False(t, ok)

	// Resetting twice is fine.
	require.NoError(t, s.ResetCheckpoint())
}

func TestWriter_FinalFlushOnCancel(t *testing.T) {
	s := newStore(t)

	var mu sync.Mutex
	step := "clone_roles"
	snap := func() Checkpoint {
		mu.Lock()
		defer mu.Unlock()
		return Checkpoint{LastCompletedStep: step}
	}

	w := NewWriter(s, time.Hour, snap, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	mu.Lock()
	step = "clone_channels"
	mu.Unlock()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("writer did not stop after cancellation")
	}

	got, ok, err := s.LoadCheckpoint()
	require.NoError(t, err)
	require.True(t, ok, "final synchronous flush must have happened")
	assert.Equal(t, "clone_channels", got.LastCompletedStep)
}

func TestWriter_PeriodicWrites(t *testing.T) {
	s := newStore(t)

	w := NewWriter(s, 20*time.Millisecond, func() Checkpoint {
		return Checkpoint{LastCompletedStep: "clone_emojis"}
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		_, ok, err := s.LoadCheckpoint()
		return err == nil && ok
	}, 2*time.Second, 10*time.Millisecond, "interval checkpoint never appeared")

	cancel()
	<-done
}
