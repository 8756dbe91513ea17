package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Delay bounds, in milliseconds. Mirrors the config schema.
const (
	minDelayMS = 100
	maxDelayMS = 5000
)

// NewConfigCommand creates the config command.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		webhookDelay  int
		processDelay  int
		sourceGuild   string
		targetGuild   string
		adminUser     string
		cloneIcons    bool
		cloneMessages bool
		live          bool
	)

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change the config",
		Long: `Show the current config, or change the given fields. Delays are in
milliseconds and bounded to 100-5000.

Example:
  replica config --dir ./work
  replica config --dir ./work --source 1234 --webhook-delay 500
  replica config --dir ./work --live=false`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts)
			if err != nil {
				return err
			}

			changed := false
			if cmd.Flags().Changed("webhook-delay") {
				if err := checkDelay("webhook-delay", webhookDelay); err != nil {
					return err
				}
				a.cfg.WebhookDelayMS = webhookDelay
				changed = true
			}
			if cmd.Flags().Changed("process-delay") {
				if err := checkDelay("process-delay", processDelay); err != nil {
					return err
				}
				a.cfg.ProcessDelayMS = processDelay
				changed = true
			}
			if cmd.Flags().Changed("source") {
				a.cfg.SourceGuildID = sourceGuild
				changed = true
			}
			if cmd.Flags().Changed("target") {
				a.cfg.TargetGuildID = targetGuild
				changed = true
			}
			if cmd.Flags().Changed("admin") {
				a.cfg.AdminUserID = adminUser
				changed = true
			}
			if cmd.Flags().Changed("clone-icons") {
				a.cfg.CloneIcons = cloneIcons
				changed = true
			}
			if cmd.Flags().Changed("clone-messages") {
				a.cfg.CloneMessages = cloneMessages
				changed = true
			}
			if cmd.Flags().Changed("live") {
				a.cfg.LiveForwarding = live
				changed = true
			}

			if changed {
				if err := a.store.SaveConfig(a.cfg); err != nil {
					return WrapExitError(ExitCommandError, "save config", err)
				}
			}

			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			if rootOpts.Format == "json" {
				return out.Success(a.cfg)
			}
			return out.Success(fmt.Sprintf(
				"source: %s\ntarget: %s\nadmin: %s\nwebhook delay: %dms\nprocess delay: %dms\nclone icons: %t\nclone messages: %t\nlive forwarding: %t",
				orDash(a.cfg.SourceGuildID), orDash(a.cfg.TargetGuildID), orDash(a.cfg.AdminUserID),
				a.cfg.WebhookDelayMS, a.cfg.ProcessDelayMS, a.cfg.CloneIcons, a.cfg.CloneMessages, a.cfg.LiveForwarding))
		},
	}

	cmd.Flags().IntVar(&webhookDelay, "webhook-delay", 0, "delay between relay sends, in ms (100-5000)")
	cmd.Flags().IntVar(&processDelay, "process-delay", 0, "delay between structural calls, in ms (100-5000)")
	cmd.Flags().StringVar(&sourceGuild, "source", "", "source guild id")
	cmd.Flags().StringVar(&targetGuild, "target", "", "target guild id")
	cmd.Flags().StringVar(&adminUser, "admin", "", "operator user id granted the admin role")
	cmd.Flags().BoolVar(&cloneIcons, "clone-icons", true, "copy the guild icon and banner during runs")
	cmd.Flags().BoolVar(&cloneMessages, "clone-messages", true, "replay message history during runs")
	cmd.Flags().BoolVar(&live, "live", true, "forward live source traffic after the backlog")

	return cmd
}

func checkDelay(name string, ms int) error {
	if ms < minDelayMS || ms > maxDelayMS {
		return NewExitError(ExitCommandError,
			fmt.Sprintf("%s must be between %d and %d ms", name, minDelayMS, maxDelayMS))
	}
	return nil
}
