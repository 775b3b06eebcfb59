// Command morphic-util submits MorPhiC metadata workbooks to the ingest
// catalogue and manages dataset upload areas.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"morphicutil/internal/cli"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := cli.NewRootCommand()
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "morphic-util:", err)
		return cli.GetExitCode(err)
	}
	return cli.ExitSuccess
}
