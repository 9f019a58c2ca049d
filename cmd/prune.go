package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/paulschiretz/pgl-snapshot/pkg/console"
	"github.com/paulschiretz/pgl-snapshot/pkg/controller"
)

func newPruneCommand(env Env, opts *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Apply the retention count without copying",
		Long: `Deletes the oldest snapshots (by creation time) beyond the configured
retention count. Combine with --dry-run to see what would be deleted.`,
		Args: cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return RunPrune(c.Context(), env, *opts)
		},
	}
}

// RunPrune applies retention only.
func RunPrune(ctx context.Context, env Env, opts GlobalOptions) error {
	cfg, err := loadRunConfig(opts)
	if err != nil {
		return err
	}

	deps := controller.NewDeps(cfg, env.Stdout, env.Runner, env.Clock)
	report := controller.New(cfg, deps).ExecutePrune(ctx)

	p := console.New(env.Stdout)
	if report.State != controller.Completed {
		p.Failure("Prune aborted: " + report.Err.Error())
		return &ExitError{Code: 1, Err: report.Err}
	}
	p.Success(fmt.Sprintf("Prune completed: %d deleted, %d kept", len(report.Prune.Deleted), len(report.Prune.Kept)))
	return nil
}
