package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/paulschiretz/pgl-snapshot/pkg/config"
	"github.com/paulschiretz/pgl-snapshot/pkg/console"
	"github.com/paulschiretz/pgl-snapshot/pkg/plog"
	"github.com/paulschiretz/pgl-snapshot/pkg/scheduler"
)

func newScheduleCommand(env Env, opts *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Stay resident and run backups on the configured schedule",
		Long: `Runs a backup every time the cron expression in the 'schedule' key fires,
until interrupted. A tick that fires while a backup is still running is
skipped.`,
		Args: cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return RunSchedule(c.Context(), env, *opts)
		},
	}
}

// RunSchedule blocks until ctx is cancelled.
func RunSchedule(ctx context.Context, env Env, opts GlobalOptions) error {
	cfg, err := loadRunConfig(opts)
	if err != nil {
		return err
	}
	if cfg.Schedule == "" {
		return &config.ConfigurationError{Key: "schedule", Reason: "is required for the schedule command"}
	}
	if cfg.ShutdownOnCompletion {
		plog.Warn("shutdownOnCompletion is set, the host powers off after the first scheduled run")
	}

	p := console.New(env.Stdout)
	s, err := scheduler.New(cfg.Schedule, func(ctx context.Context) {
		printBanner(p, cfg)
		if err := reportBackup(p, runOnce(ctx, env, cfg)); err != nil {
			plog.Warn("Scheduled backup did not complete", "error", err)
		}
	})
	if err != nil {
		return &config.ConfigurationError{Key: "schedule", Reason: err.Error()}
	}
	p.Step("Next backup at " + s.Next(env.Clock.Now()).Format("2006-01-02 15:04"))
	return s.Run(ctx)
}
