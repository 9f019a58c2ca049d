package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/paulschiretz/pgl-snapshot/pkg/buildinfo"
	"github.com/paulschiretz/pgl-snapshot/pkg/config"
	"github.com/paulschiretz/pgl-snapshot/pkg/console"
	"github.com/paulschiretz/pgl-snapshot/pkg/controller"
	"github.com/paulschiretz/pgl-snapshot/pkg/mirror"
	"github.com/paulschiretz/pgl-snapshot/pkg/plog"
)

// RunBackup performs one full run. An aborted run is reported as an
// *ExitError with code 1.
func RunBackup(ctx context.Context, env Env, opts GlobalOptions) error {
	cfg, err := loadRunConfig(opts)
	if err != nil {
		return err
	}

	p := console.New(env.Stdout)
	printBanner(p, cfg)

	start := env.Clock.Now()
	report := runOnce(ctx, env, cfg)
	plog.Debug("Run finished", "state", report.State, "duration", env.Clock.Now().Sub(start))
	return reportBackup(p, report)
}

func printBanner(p *console.Printer, cfg config.RunConfig) {
	fields := []console.Field{
		{Label: "Source", Value: cfg.Source},
		{Label: "Destination", Value: cfg.DestinationRoot},
		{Label: "Retention", Value: strconv.Itoa(cfg.RetentionCount)},
	}
	if cfg.ShutdownOnCompletion {
		fields = append(fields, console.Field{Label: "Shutdown", Value: "after the run"})
	}
	if cfg.DryRun {
		fields = append(fields, console.Field{Label: "Mode", Value: "dry run"})
	}
	p.Banner(buildinfo.Name+" "+buildinfo.Version, fields...)
}

func runOnce(ctx context.Context, env Env, cfg config.RunConfig) controller.Report {
	deps := controller.NewDeps(cfg, env.Stdout, env.Runner, env.Clock)
	return controller.New(cfg, deps).Execute(ctx)
}

// reportBackup prints the final marker.
func reportBackup(p *console.Printer, report controller.Report) error {
	if report.State != controller.Completed {
		p.Failure("Backup aborted: " + report.Err.Error())
		return &ExitError{Code: 1, Err: report.Err}
	}

	if report.Mirror.Status == mirror.Advisory {
		p.Warn(fmt.Sprintf("%s reported: %s", report.Mirror.Engine, report.Mirror.Summary))
	}
	if n := len(report.Prune.Deleted); n > 0 {
		p.Step(fmt.Sprintf("Deleted %d old snapshot(s)", n))
	}
	if report.ShutdownRequested {
		p.Step("Shutdown requested")
	}
	p.Success(fmt.Sprintf("Backup completed: %s (%s)", report.Snapshot, report.Mode))
	return nil
}
