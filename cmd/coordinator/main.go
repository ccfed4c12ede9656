package main

import (
	"context"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/blocksurvey/uptime-coordinator/app/coordinator"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := coordinator.Initialize(ctx)
	if err != nil {
		panic(err)
	}

	app.SetupServer()

	if err := app.Run(ctx); err != nil {
		app.Logger.Fatal("Coordinator stopped", zap.Error(err))
	}
}
