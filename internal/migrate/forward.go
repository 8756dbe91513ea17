package migrate

import (
	"context"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/dyadbot/replica/internal/governor"
	"github.com/dyadbot/replica/internal/mapping"
	"github.com/dyadbot/replica/internal/platform"
)

// forwardItem pairs a captured envelope with its resolved destination.
type forwardItem struct {
	env  *Envelope
	dest Destination
}

// Pending describes one queued-but-undelivered live message, for
// checkpointing.
type Pending struct {
	SourceChannelID string
	SourceMessageID string
	DestChannelID   string
}

// Forwarder cross-posts messages arriving in the source guild while (and
// after) the bulk replay runs. Arrivals queue immediately; delivery starts
// once Release is called, so live traffic never interleaves ahead of the
// bulk history it follows.
type Forwarder struct {
	engine  *Engine
	client  platform.Client
	table   *mapping.Table
	log     *slog.Logger
	guildID string

	queue   *DeliveryQueue[forwardItem]
	release chan struct{}
	done    chan struct{}
	once    sync.Once

	mu     sync.Mutex
	dests  map[string]Destination // source channel id -> resolved destination
	misses map[string]bool        // source channels with no usable destination
	remove func()
}

// ForwarderOptions configure a Forwarder.
type ForwarderOptions struct {
	Engine        *Engine
	Client        platform.Client
	Table         *mapping.Table
	Logger        *slog.Logger
	SourceGuildID string
	QueueSize     int
}

// NewForwarder builds a Forwarder. It captures nothing until Start.
func NewForwarder(opts ForwarderOptions) *Forwarder {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	size := opts.QueueSize
	if size <= 0 {
		size = 1000
	}
	return &Forwarder{
		engine:  opts.Engine,
		client:  opts.Client,
		table:   opts.Table,
		log:     log,
		guildID: opts.SourceGuildID,
		queue:   NewDeliveryQueue[forwardItem](size),
		release: make(chan struct{}),
		done:    make(chan struct{}),
		dests:   make(map[string]Destination),
		misses:  make(map[string]bool),
	}
}

// Start attaches the gateway handler and runs the delivery worker until ctx
// is cancelled.
func (f *Forwarder) Start(ctx context.Context) {
	f.remove = f.client.OnMessageCreate(func(m *platform.Message) {
		f.capture(ctx, m)
	})
	go func() {
		defer close(f.done)
		f.run(ctx)
	}()
}

// Release opens the delivery gate. Call after the bulk replay finishes.
func (f *Forwarder) Release() {
	f.once.Do(func() { close(f.release) })
}

// Stop detaches the gateway handler and closes the queue; the delivery
// worker exits once the queue drains.
func (f *Forwarder) Stop() {
	if f.remove != nil {
		f.remove()
		f.remove = nil
	}
	f.queue.Close()
}

// Done signals when the delivery worker has exited.
func (f *Forwarder) Done() <-chan struct{} {
	return f.done
}

// PendingMessages snapshots the queue for checkpointing.
func (f *Forwarder) PendingMessages() []Pending {
	items := f.queue.Snapshot()
	out := make([]Pending, 0, len(items))
	for _, it := range items {
		out = append(out, Pending{
			SourceChannelID: it.env.ChannelID,
			SourceMessageID: it.env.ID,
			DestChannelID:   it.dest.ChannelID,
		})
	}
	return out
}

// Requeue re-enqueues a message referenced by a checkpoint. The message is
// re-fetched so its content is current.
func (f *Forwarder) Requeue(ctx context.Context, sourceChannelID, sourceMessageID string) {
	var m *platform.Message
	err := f.engine.gov.Do(ctx, governor.RouteMutation, func(ctx context.Context) error {
		var merr error
		m, merr = f.client.Message(ctx, sourceChannelID, sourceMessageID)
		return merr
	})
	if err != nil {
		f.log.Info("pending message no longer fetchable",
			"channel", sourceChannelID, "message", sourceMessageID, "error", err)
		return
	}
	f.capture(ctx, m)
}

// Dropped reports how many live messages the capacity bound evicted.
func (f *Forwarder) Dropped() int {
	return f.queue.Dropped()
}

func (f *Forwarder) capture(ctx context.Context, m *platform.Message) {
	if m.GuildID != f.guildID || m.WebhookID != "" {
		return
	}
	if m.Author != nil && m.Author.Bot {
		return
	}
	dest, ok := f.destFor(ctx, m.ChannelID)
	if !ok {
		return
	}
	env := FromMessage(m, f.guildID)
	if env.IsEmpty() {
		return
	}
	if !f.queue.Enqueue(forwardItem{env: env, dest: dest}) {
		f.log.Debug("forwarder closed, message dropped", "message", m.ID)
	}
}

// destFor resolves a source channel to its target destination, caching both
// hits and misses. Mapped threads deliver into the target thread through the
// parent channel's relay webhook.
func (f *Forwarder) destFor(ctx context.Context, sourceChannelID string) (Destination, bool) {
	f.mu.Lock()
	if dest, ok := f.dests[sourceChannelID]; ok {
		f.mu.Unlock()
		return dest, true
	}
	if f.misses[sourceChannelID] {
		f.mu.Unlock()
		return Destination{}, false
	}
	f.mu.Unlock()

	mapped, ok := f.table.Get(mapping.KindChannel, sourceChannelID)
	if !ok {
		f.note(sourceChannelID, Destination{}, false)
		return Destination{}, false
	}

	var ch *discordgo.Channel
	err := f.engine.gov.Do(ctx, governor.RouteMutation, func(ctx context.Context) error {
		var cerr error
		ch, cerr = f.client.Channel(ctx, mapped.ID)
		return cerr
	})
	if err != nil {
		f.log.Warn("resolving live destination failed", "channel", mapped.ID, "error", err)
		f.note(sourceChannelID, Destination{}, false)
		return Destination{}, false
	}

	var dest Destination
	switch ch.Type {
	case discordgo.ChannelTypeGuildPublicThread,
		discordgo.ChannelTypeGuildPrivateThread,
		discordgo.ChannelTypeGuildNewsThread:
		dest = Destination{ChannelID: ch.ParentID, Kind: DestText, ThreadID: ch.ID}
	default:
		if KindOf(ch.Type) != DestText {
			f.note(sourceChannelID, Destination{}, false)
			return Destination{}, false
		}
		dest = Destination{ChannelID: ch.ID, Kind: DestText}
	}
	f.note(sourceChannelID, dest, true)
	return dest, true
}

func (f *Forwarder) note(sourceChannelID string, dest Destination, hit bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if hit {
		f.dests[sourceChannelID] = dest
	} else {
		f.misses[sourceChannelID] = true
	}
}

func (f *Forwarder) run(ctx context.Context) {
	select {
	case <-f.release:
	case <-ctx.Done():
		return
	}

	for {
		item, ok := f.queue.TryDequeue()
		if !ok {
			// A drained closed queue means Stop ran; the closed signal
			// channel would otherwise fire on every iteration.
			if f.queue.Closed() {
				return
			}
			select {
			case <-f.queue.Wait():
				continue
			case <-ctx.Done():
				return
			}
		}
		if ctx.Err() != nil {
			return
		}
		res := f.engine.MigrateMessage(ctx, item.env, item.dest)
		if !res.Proceeded {
			f.log.Warn("live delivery failed", "message", item.env.ID, "channel", item.dest.ChannelID)
		}
	}
}
