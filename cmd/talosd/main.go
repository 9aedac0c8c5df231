// Package main is the entry point for the Talos gateway daemon (talosd).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/stacklok/talos/cmd/talosd/app"
	"github.com/stacklok/talos/pkg/logger"
)

func main() {
	logger.Initialize()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	if err := app.NewRootCmd().ExecuteContext(ctx); err != nil {
		logger.Errorf("Error executing command: %v", err)
		os.Exit(1)
	}
}
