package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"qbwc-sync/internal/cli"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cli.NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "syncctl:", err)
		os.Exit(1)
	}
}
