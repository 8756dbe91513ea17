// Package pipeline runs the replication steps in their fixed total order,
// checkpointing progress so an interrupted run resumes where it stopped
// instead of starting over.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"

	"github.com/dyadbot/replica/internal/clone"
	"github.com/dyadbot/replica/internal/governor"
	"github.com/dyadbot/replica/internal/journal"
	"github.com/dyadbot/replica/internal/mapping"
	"github.com/dyadbot/replica/internal/migrate"
	"github.com/dyadbot/replica/internal/platform"
	"github.com/dyadbot/replica/internal/state"
)

// Step names, in execution order. The order is part of the on-disk contract:
// last_completed_step in the checkpoint refers to these.
const (
	StepCreateTargetGuild = "create_target_guild"
	StepPrepareTarget     = "prepare_target"
	StepCloneSettings     = "clone_settings"
	StepCloneIcon         = "clone_icon"
	StepCloneBanner       = "clone_banner"
	StepCloneRoles        = "clone_roles"
	StepCloneCategories   = "clone_categories"
	StepCloneChannels     = "clone_channels"
	StepCloneEmojis       = "clone_emojis"
	StepCloneStickers     = "clone_stickers"
	StepCloneMessages     = "clone_messages"
)

// Order is the fixed step sequence.
var Order = []string{
	StepCreateTargetGuild,
	StepPrepareTarget,
	StepCloneSettings,
	StepCloneIcon,
	StepCloneBanner,
	StepCloneRoles,
	StepCloneCategories,
	StepCloneChannels,
	StepCloneEmojis,
	StepCloneStickers,
	StepCloneMessages,
}

func stepIndex(name string) int {
	for i, s := range Order {
		if s == name {
			return i
		}
	}
	return -1
}

// Done reports whether step is already covered by a checkpoint whose
// last completed step is last.
func Done(last, step string) bool {
	if last == "" {
		return false
	}
	return stepIndex(step) <= stepIndex(last)
}

// Store is the persistence surface the runner drives: the run lock and the
// two on-disk documents. *state.Store implements it.
type Store interface {
	AcquireRunLock() (release func(), err error)
	ClearRunLock() error
	LoadCheckpoint() (state.Checkpoint, bool, error)
	SaveCheckpoint(cp state.Checkpoint) error
	ResetCheckpoint() error
	SaveConfig(cfg state.Config) error
}

// Options configure a Runner.
type Options struct {
	Client   platform.Client
	Governor *governor.Governor
	Table    *mapping.Table
	Store    Store
	Journal  *journal.Journal
	Logger   *slog.Logger
	Config   state.Config
}

// Runner executes the step sequence for one source/target pair.
type Runner struct {
	client  platform.Client
	gov     *governor.Governor
	table   *mapping.Table
	store   Store
	journal *journal.Journal
	log     *slog.Logger
	cfg     state.Config

	runToken      string
	targetGuildID string
	snap          *clone.Snapshot
	resumed       []state.PendingMessage

	mu            sync.Mutex
	lastCompleted string
	forwarder     *migrate.Forwarder
}

// New builds a Runner.
func New(opts Options) *Runner {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		client:  opts.Client,
		gov:     opts.Governor,
		table:   opts.Table,
		store:   opts.Store,
		journal: opts.Journal,
		log:     log,
		cfg:     opts.Config,
	}
}

// Run executes every pending step. A checkpoint from an earlier run resumes
// it: completed steps are skipped and the mapping table is restored. When
// live forwarding is enabled Run keeps delivering live traffic until ctx is
// cancelled; otherwise it returns after the last step.
//
// Exactly one run may be active per working directory; a concurrent Run
// fails with state.ErrRunActive.
func (r *Runner) Run(ctx context.Context) error {
	if r.cfg.SourceGuildID == "" {
		return fmt.Errorf("no source guild configured")
	}

	release, err := r.store.AcquireRunLock()
	if err != nil {
		return err
	}
	defer release()

	if err := r.restore(); err != nil {
		return err
	}
	r.gov.SetDelays(r.cfg.WebhookDelay(), r.cfg.ProcessDelay())

	r.snap, err = clone.Take(ctx, r.client, r.gov, r.cfg.SourceGuildID)
	if err != nil {
		return err
	}

	cloner := clone.New(clone.Options{
		Client:        r.client,
		Governor:      r.gov,
		Table:         r.table,
		Logger:        r.log,
		SourceGuildID: r.cfg.SourceGuildID,
		TargetGuildID: r.targetGuildID,
	})

	// The writer owns its own context so the final flush still happens when
	// the run context is cancelled.
	writerCtx, stopWriter := context.WithCancel(context.Background())
	writerDone := make(chan struct{})
	writer := state.NewWriter(r.store, r.cfg.CheckpointInterval(), r.checkpoint, r.log)
	go func() {
		defer close(writerDone)
		writer.Run(writerCtx)
	}()
	defer func() {
		stopWriter()
		<-writerDone
	}()

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{StepCreateTargetGuild, func(ctx context.Context) error { return r.stepCreateGuild(ctx, cloner) }},
		{StepPrepareTarget, cloner.PrepareTarget},
		{StepCloneSettings, r.withSnap(cloner.CloneSettings)},
		{StepCloneIcon, r.imageStep(cloner.CloneIcon)},
		{StepCloneBanner, r.imageStep(cloner.CloneBanner)},
		{StepCloneRoles, r.withSnap(cloner.CloneRoles)},
		{StepCloneCategories, r.withSnap(cloner.CloneCategories)},
		{StepCloneChannels, r.withSnap(cloner.CloneChannels)},
		{StepCloneEmojis, r.withSnap(cloner.CloneEmojis)},
		{StepCloneStickers, r.withSnap(cloner.CloneStickers)},
		{StepCloneMessages, r.stepMessages},
	}

	for _, step := range steps {
		if Done(r.completed(), step.name) {
			r.log.Info("step already complete, skipping", "step", step.name)
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		r.log.Info("step starting", "step", step.name, "run", r.runToken)
		if err := step.fn(ctx); err != nil {
			return fmt.Errorf("step %s: %w", step.name, err)
		}
		r.setCompleted(step.name)
		// Losing the checkpoint would replay completed steps on resume;
		// stop rather than run on with progress unrecorded.
		if err := r.store.SaveCheckpoint(r.checkpoint()); err != nil {
			return fmt.Errorf("checkpoint after step %s: %w", step.name, err)
		}
		r.log.Info("step complete", "step", step.name)
	}

	// A resumed run whose message step was already complete still owes live
	// forwarding, and delivery of any messages the checkpoint held pending.
	if r.liveEnabled() && r.getForwarder() == nil {
		r.startForwarder(ctx, r.newEngine())
	}

	if fwd := r.getForwarder(); fwd != nil {
		fwd.Release()
		r.log.Info("replication complete, live forwarding active")
		<-ctx.Done()
		fwd.Stop()
		<-fwd.Done()
	}
	return nil
}

// Reset discards all run state: checkpoint, mapping, journal rows and any
// stale run lock.
func (r *Runner) Reset(ctx context.Context) error {
	if err := r.store.ResetCheckpoint(); err != nil {
		return err
	}
	if r.journal != nil {
		if err := r.journal.Purge(ctx); err != nil {
			return err
		}
	}
	r.table.Reset()
	return r.store.ClearRunLock()
}

// restore loads the checkpoint, adopting its run token and mapping when one
// exists, or minting a fresh run token otherwise.
func (r *Runner) restore() error {
	cp, ok, err := r.store.LoadCheckpoint()
	if err != nil {
		return err
	}
	if ok && cp.RunToken != "" {
		r.runToken = cp.RunToken
		r.lastCompleted = cp.LastCompletedStep
		r.resumed = cp.Pending
		r.table.Restore(cp.Mapping)
		r.log.Info("resuming run", "run", r.runToken, "last_completed", cp.LastCompletedStep)
	} else {
		tok, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("mint run token: %w", err)
		}
		r.runToken = tok.String()
		r.log.Info("starting run", "run", r.runToken)
	}
	r.targetGuildID = r.cfg.TargetGuildID
	return nil
}

func (r *Runner) withSnap(fn func(context.Context, *clone.Snapshot) error) func(context.Context) error {
	return func(ctx context.Context) error { return fn(ctx, r.snap) }
}

// imageStep gates an icon/banner step behind the clone_icons toggle.
func (r *Runner) imageStep(fn func(context.Context, *clone.Snapshot) error) func(context.Context) error {
	return func(ctx context.Context) error {
		if !r.cfg.CloneIcons {
			r.log.Info("image cloning disabled")
			return nil
		}
		return fn(ctx, r.snap)
	}
}

// stepCreateGuild creates the replica guild, or adopts a configured one. A
// newly created guild id is persisted into the config immediately so a
// crashed run does not orphan it.
func (r *Runner) stepCreateGuild(ctx context.Context, cloner *clone.Cloner) error {
	if r.targetGuildID != "" {
		r.log.Info("using configured target guild", "guild", r.targetGuildID)
		cloner.SetTargetGuild(r.targetGuildID)
		return nil
	}

	id, err := cloner.CreateTargetGuild(ctx, r.snap.Guild.Name)
	if err != nil {
		return err
	}
	r.targetGuildID = id
	r.cfg.TargetGuildID = id
	if err := r.store.SaveConfig(r.cfg); err != nil {
		return fmt.Errorf("persist target guild id: %w", err)
	}
	return nil
}

// liveEnabled reports whether this run should forward live traffic. Message
// cloning off disables the live tail with it.
func (r *Runner) liveEnabled() bool {
	return r.cfg.LiveForwarding && r.cfg.CloneMessages
}

// newEngine builds the replay engine for this run.
func (r *Runner) newEngine() *migrate.Engine {
	return migrate.New(migrate.Options{
		Client:        r.client,
		Governor:      r.gov,
		Table:         r.table,
		Journal:       r.journal,
		Logger:        r.log,
		RunToken:      r.runToken,
		SourceGuildID: r.cfg.SourceGuildID,
		TargetGuildID: r.targetGuildID,
	})
}

// startForwarder attaches the live capture and requeues any deliveries the
// checkpoint held pending. Delivery stays gated until Release.
func (r *Runner) startForwarder(ctx context.Context, eng *migrate.Engine) {
	fwd := migrate.NewForwarder(migrate.ForwarderOptions{
		Engine:        eng,
		Client:        r.client,
		Table:         r.table,
		Logger:        r.log,
		SourceGuildID: r.cfg.SourceGuildID,
		QueueSize:     r.cfg.LiveQueueSize,
	})
	fwd.Start(ctx)
	r.setForwarder(fwd)
	for _, p := range r.resumed {
		fwd.Requeue(ctx, p.SourceChannelID, p.SourceMessageID)
	}
}

// stepMessages replays every mapped channel's history and, when enabled,
// starts live forwarding. Live traffic captured during the bulk replay is
// held back until the backlog drains.
func (r *Runner) stepMessages(ctx context.Context) error {
	if !r.cfg.CloneMessages {
		r.log.Info("message cloning disabled")
		return nil
	}

	eng := r.newEngine()
	if r.cfg.LiveForwarding {
		r.startForwarder(ctx, eng)
	}

	var active []*discordgo.Channel
	err := r.gov.Do(ctx, governor.RouteMutation, func(ctx context.Context) error {
		var aerr error
		active, aerr = r.client.ActiveThreads(ctx, r.cfg.SourceGuildID)
		return aerr
	})
	if err != nil {
		r.log.Warn("listing active threads failed", "error", err)
	}

	for _, src := range r.snap.NonCategories() {
		if err := ctx.Err(); err != nil {
			return err
		}
		kind := migrate.KindOf(src.Type)
		if kind == migrate.DestUnsupported {
			continue
		}
		mapped, ok := r.table.Get(mapping.KindChannel, src.ID)
		if !ok {
			r.log.Warn("channel unmapped, history not replayed", "channel", src.ID, "name", src.Name)
			continue
		}

		res := eng.MigrateChannel(ctx, src, migrate.Destination{ChannelID: mapped.ID, Kind: kind}, active)
		r.log.Info("channel history replayed", "channel", src.Name,
			"messages", res.Messages, "threads", res.Threads, "skipped", res.Skipped)
	}

	if fwd := r.getForwarder(); fwd != nil {
		fwd.Release()
	}
	return ctx.Err()
}

// checkpoint assembles the current durable state. Called from the writer
// goroutine as well as the run loop.
func (r *Runner) checkpoint() state.Checkpoint {
	cp := state.Checkpoint{
		RunToken:          r.runToken,
		LastCompletedStep: r.completed(),
		Mapping:           r.table.Snapshot(),
	}
	if fwd := r.getForwarder(); fwd != nil {
		for _, p := range fwd.PendingMessages() {
			cp.Pending = append(cp.Pending, state.PendingMessage{
				SourceChannelID: p.SourceChannelID,
				SourceMessageID: p.SourceMessageID,
				DestChannelID:   p.DestChannelID,
			})
		}
	}
	return cp
}

func (r *Runner) completed() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastCompleted
}

func (r *Runner) setCompleted(step string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastCompleted = step
}

func (r *Runner) getForwarder() *migrate.Forwarder {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.forwarder
}

func (r *Runner) setForwarder(f *migrate.Forwarder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forwarder = f
}
