package cli

import (
	"log/slog"

	"github.com/dyadbot/replica/internal/governor"
	"github.com/dyadbot/replica/internal/journal"
	"github.com/dyadbot/replica/internal/mapping"
	"github.com/dyadbot/replica/internal/platform"
	"github.com/dyadbot/replica/internal/state"
)

// app bundles everything a command needs from the working directory: the
// state store, the validated config, and lazily the platform client.
type app struct {
	opts  *RootOptions
	store *state.Store
	cfg   state.Config
	log   *slog.Logger
}

// openApp loads the working directory. Config validation failures surface
// here so every command fails loudly on a typo'd document.
func openApp(opts *RootOptions) (*app, error) {
	store, err := state.NewStore(opts.Dir)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open working directory", err)
	}
	cfg, err := store.LoadConfig()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "load config", err)
	}
	return &app{
		opts:  opts,
		store: store,
		cfg:   cfg,
		log:   slog.Default(),
	}, nil
}

// connect builds the platform client from the configured token.
func (a *app) connect() (platform.Client, error) {
	if a.opts.Token == "" {
		return nil, NewExitError(ExitCommandError, "no bot token: pass --token or set DISCORD_TOKEN")
	}
	build := a.opts.NewClient
	if build == nil {
		build = func(token string) (platform.Client, error) {
			return platform.NewDiscord(token)
		}
	}
	client, err := build(a.opts.Token)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "create platform client", err)
	}
	return client, nil
}

// governor builds the retry/pacing layer tuned to the config delays.
func (a *app) governor() *governor.Governor {
	return governor.New(governor.Options{
		WebhookDelay:  a.cfg.WebhookDelay(),
		MutationDelay: a.cfg.ProcessDelay(),
		Logger:        a.log,
	})
}

// openJournal opens the delivery journal in the working directory.
func (a *app) openJournal() (*journal.Journal, error) {
	j, err := journal.Open(a.store.JournalPath())
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open delivery journal", err)
	}
	return j, nil
}

// restoreTable rebuilds the mapping table from the checkpoint, when one
// exists.
func (a *app) restoreTable() (*mapping.Table, error) {
	table := mapping.New()
	cp, ok, err := a.store.LoadCheckpoint()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "load checkpoint", err)
	}
	if ok {
		table.Restore(cp.Mapping)
	}
	return table, nil
}
