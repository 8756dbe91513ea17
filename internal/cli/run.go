package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bwmarrin/discordgo"
	"github.com/spf13/cobra"

	"github.com/dyadbot/replica/internal/governor"
	"github.com/dyadbot/replica/internal/mapping"
	"github.com/dyadbot/replica/internal/pipeline"
	"github.com/dyadbot/replica/internal/platform"
	"github.com/dyadbot/replica/internal/state"
)

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Aliases: []string{"resume"},
		Short:   "Run the replication pipeline",
		Long: `Run the replication pipeline against the configured source guild.

A checkpoint from an earlier run resumes it: completed steps are skipped and
queued live messages are re-fetched. With live forwarding enabled the process
stays up after the backlog drains, relaying new source traffic until
interrupted.

Example:
  replica run --dir ./work
  replica resume --dir ./work --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(rootOpts, cmd)
		},
	}

	return cmd
}

func runPipeline(opts *RootOptions, cmd *cobra.Command) error {
	a, err := openApp(opts)
	if err != nil {
		return err
	}
	client, err := a.connect()
	if err != nil {
		return err
	}

	jrnl, err := a.openJournal()
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := jrnl.Close(); closeErr != nil {
			a.log.Error("closing journal", "error", closeErr)
		}
	}()

	// The gateway feeds the live forwarder and the admin member-add handler.
	if err := client.Open(); err != nil {
		return WrapExitError(ExitCommandError, "open gateway", err)
	}
	defer func() {
		if closeErr := client.Close(); closeErr != nil {
			a.log.Error("closing gateway", "error", closeErr)
		}
	}()

	gov := a.governor()
	table := mapping.New()
	runner := pipeline.New(pipeline.Options{
		Client:   client,
		Governor: gov,
		Table:    table,
		Store:    a.store,
		Journal:  jrnl,
		Logger:   a.log,
		Config:   a.cfg,
	})

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			a.log.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	if a.cfg.AdminUserID != "" {
		remove := watchAdminJoin(ctx, client, gov, a.cfg, a.log)
		defer remove()
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Replication started. Press Ctrl-C to stop.")

	if err := runner.Run(ctx); err != nil &&
		!errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		if errors.Is(err, state.ErrRunActive) {
			return WrapExitError(ExitCommandError, "another run is active", err)
		}
		return WrapExitError(ExitFailure, "replication failed", err)
	}

	a.log.Info("replication stopped")
	return nil
}

// adminRoleName is the role granted to the operator when they join the
// replica guild.
const adminRoleName = "Dyad Admin"

// watchAdminJoin grants the admin role when the configured operator joins
// the target guild. The grant is best effort; a failure only logs.
func watchAdminJoin(ctx context.Context, client platform.Client, gov *governor.Governor, cfg state.Config, log *slog.Logger) func() {
	return client.OnMemberAdd(func(guildID, userID string) {
		if guildID != cfg.TargetGuildID || userID != cfg.AdminUserID {
			return
		}
		if err := grantAdminRole(ctx, client, gov, guildID, userID); err != nil {
			log.Warn("admin role grant failed", "user", userID, "error", err)
			return
		}
		log.Info("admin role granted", "user", userID, "guild", guildID)
	})
}

func grantAdminRole(ctx context.Context, client platform.Client, gov *governor.Governor, guildID, userID string) error {
	var roles []*discordgo.Role
	err := gov.Do(ctx, governor.RouteMutation, func(ctx context.Context) error {
		var rerr error
		roles, rerr = client.GuildRoles(ctx, guildID)
		return rerr
	})
	if err != nil {
		return err
	}

	var roleID string
	for _, r := range roles {
		if r.Name == adminRoleName {
			roleID = r.ID
			break
		}
	}
	if roleID == "" {
		name := adminRoleName
		perms := int64(discordgo.PermissionAdministrator)
		err := gov.Do(ctx, governor.RouteMutation, func(ctx context.Context) error {
			created, cerr := client.CreateRole(ctx, guildID, &discordgo.RoleParams{
				Name:        name,
				Permissions: &perms,
			})
			if cerr != nil {
				return cerr
			}
			roleID = created.ID
			return nil
		})
		if err != nil {
			return err
		}
	}

	return gov.Do(ctx, governor.RouteMutation, func(ctx context.Context) error {
		return client.AddMemberRole(ctx, guildID, userID, roleID)
	})
}
