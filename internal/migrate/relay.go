package migrate

import (
	"context"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/dyadbot/replica/internal/platform"
)

// RelayName is the marker name of the channel-bound proxy webhook. Lookup by
// this name lets a restarted run reuse webhooks it created earlier.
const RelayName = "Dyad Webhook"

// DefaultRelayConcurrency bounds simultaneous webhook creations; the
// per-channel webhook quota is shared and small.
const DefaultRelayConcurrency = 5

// RelayCache hands out the per-channel relay webhook, creating it on first
// use and caching it afterwards.
type RelayCache struct {
	client platform.Client

	mu    sync.Mutex
	hooks map[string]*discordgo.Webhook
	gate  chan struct{}
}

// NewRelayCache builds a cache over the given client. concurrency bounds
// simultaneous creations; <=0 uses the default.
func NewRelayCache(client platform.Client, concurrency int) *RelayCache {
	if concurrency <= 0 {
		concurrency = DefaultRelayConcurrency
	}
	return &RelayCache{
		client: client,
		hooks:  make(map[string]*discordgo.Webhook),
		gate:   make(chan struct{}, concurrency),
	}
}

// Get returns the relay webhook for a destination channel.
func (r *RelayCache) Get(ctx context.Context, channelID string) (*discordgo.Webhook, error) {
	r.mu.Lock()
	if wh, ok := r.hooks[channelID]; ok {
		r.mu.Unlock()
		return wh, nil
	}
	r.mu.Unlock()

	select {
	case r.gate <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-r.gate }()

	// Re-check under the gate; another goroutine may have won the race.
	r.mu.Lock()
	if wh, ok := r.hooks[channelID]; ok {
		r.mu.Unlock()
		return wh, nil
	}
	r.mu.Unlock()

	wh, err := r.client.EnsureWebhook(ctx, channelID, RelayName)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.hooks[channelID] = wh
	r.mu.Unlock()
	return wh, nil
}

// Forget drops the cached webhook for a channel, forcing re-resolution.
func (r *RelayCache) Forget(channelID string) {
	r.mu.Lock()
	delete(r.hooks, channelID)
	r.mu.Unlock()
}
