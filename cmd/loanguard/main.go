package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"gitlab.com/timkado/api/loanguard-gateway/internal/cli"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.New(cli.Env{}).Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "loanguard: %v\n", err)
		return 1
	}
	return 0
}
