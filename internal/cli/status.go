package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyadbot/replica/internal/mapping"
)

// statusReport is the status command's payload, shared by both output
// formats.
type statusReport struct {
	SourceGuildID     string    `json:"source_guild_id"`
	TargetGuildID     string    `json:"target_guild_id"`
	RunToken          string    `json:"run_token,omitempty"`
	LastCompletedStep string    `json:"last_completed_step,omitempty"`
	SavedAt           time.Time `json:"saved_at,omitzero"`
	MappedRoles       int       `json:"mapped_roles"`
	MappedChannels    int       `json:"mapped_channels"`
	MappedEmojis      int       `json:"mapped_emojis"`
	PendingMessages   int       `json:"pending_messages"`
	DeliveredMessages int       `json:"delivered_messages"`
}

func (r statusReport) String() string {
	s := fmt.Sprintf("source guild:   %s\ntarget guild:   %s\n", orDash(r.SourceGuildID), orDash(r.TargetGuildID))
	if r.RunToken == "" {
		return s + "no run recorded"
	}
	return s + fmt.Sprintf("run:            %s\nlast step:      %s\nsaved at:       %s\nmapped:         %d roles, %d channels, %d emojis\nmessages:       %d delivered, %d pending",
		r.RunToken, orDash(r.LastCompletedStep), r.SavedAt.Format(time.RFC3339),
		r.MappedRoles, r.MappedChannels, r.MappedEmojis,
		r.DeliveredMessages, r.PendingMessages)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show run progress",
		Long: `Show the configured guild pair, the last completed step, mapping
counts and message delivery totals.

Example:
  replica status --dir ./work
  replica status --dir ./work --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(rootOpts, cmd)
		},
	}

	return cmd
}

func runStatus(opts *RootOptions, cmd *cobra.Command) error {
	a, err := openApp(opts)
	if err != nil {
		return err
	}

	report := statusReport{
		SourceGuildID: a.cfg.SourceGuildID,
		TargetGuildID: a.cfg.TargetGuildID,
	}

	cp, ok, err := a.store.LoadCheckpoint()
	if err != nil {
		return WrapExitError(ExitCommandError, "load checkpoint", err)
	}
	if ok {
		table := mapping.New()
		table.Restore(cp.Mapping)
		report.RunToken = cp.RunToken
		report.LastCompletedStep = cp.LastCompletedStep
		report.SavedAt = cp.SavedAt
		report.MappedRoles = table.Len(mapping.KindRole)
		report.MappedChannels = table.Len(mapping.KindChannel) + table.Len(mapping.KindCategory)
		report.MappedEmojis = table.Len(mapping.KindEmoji)
		report.PendingMessages = len(cp.Pending)

		if jrnl, jerr := a.openJournal(); jerr == nil {
			if n, cerr := jrnl.Count(cmd.Context(), cp.RunToken); cerr == nil {
				report.DeliveredMessages = n
			}
			jrnl.Close()
		}
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return out.Success(report)
}
