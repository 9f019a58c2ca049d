package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/paulschiretz/pgl-snapshot/cmd"
)

func main() {
	// Ctrl+C or a service stop cancels the run; the controller still releases
	// the power guard and removes the reference alias before exiting.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cmd.Execute(ctx, os.Args[1:], cmd.DefaultEnv())
	stop()
	os.Exit(code)
}
