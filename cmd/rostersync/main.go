package main

import (
	"context"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/blocksurvey/uptime-coordinator/pkg/db/ledger"
	"github.com/blocksurvey/uptime-coordinator/pkg/db/postgres"
	"github.com/blocksurvey/uptime-coordinator/pkg/logging"
	"github.com/blocksurvey/uptime-coordinator/pkg/roster"
)

// One-shot roster sync, for running as a cron job outside the coordinator.
func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger, err := logging.New()
	if err != nil {
		panic(err)
	}

	db, err := postgres.New(ctx, logger)
	if err != nil {
		logger.Fatal("Postgres connection failed", zap.Error(err))
	}
	defer db.Close()

	syncer, err := roster.New(ctx, logger, ledger.NewStore(logger, db))
	if err != nil {
		logger.Fatal("Roster setup failed", zap.Error(err))
	}
	if syncer == nil {
		return
	}
	if err := syncer.Sync(ctx); err != nil {
		logger.Fatal("Roster sync failed", zap.Error(err))
	}
}
