package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/oremus/go-common/tui"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCommand(tui.NewPrinter(os.Stdout), openStorage)
	if err := cmd.ExecuteContext(ctx); err != nil {
		tui.NewPrinter(os.Stderr).Error("%s", err)
		os.Exit(1)
	}
}
