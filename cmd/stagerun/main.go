package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/danieljhkim/stagerun/internal/cli"
	"github.com/danieljhkim/stagerun/internal/exitcode"
)

var version = "dev"

func main() {
	cli.SetVersion(version)

	// The run restores the repository itself once the context is cancelled,
	// so the signals stay captured until Execute returns.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cli.Execute(ctx)
	stop()

	if err != nil {
		cli.PrintError(os.Stderr, err)
		exitcode.Exit(exitcode.DetermineExitCode(err))
	}
}
