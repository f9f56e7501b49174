package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/bitrise-io/go-tusclient/internal/cli"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
)

func main() {
	logger := log.NewLogger()

	cmd, err := cli.NewRootCommand(env.NewRepository(), logger)
	if err != nil {
		logger.Errorf("%s", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		logger.Errorf("%s", err)
		stop()
		os.Exit(1)
	}
}
