package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/patrick-slimelab/discord-indexer/internal/config"
	"github.com/patrick-slimelab/discord-indexer/internal/logx"
	"github.com/patrick-slimelab/discord-indexer/internal/supervisor"
)

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logx.New(logx.ParseLevel(cfg.LogLevel))
	logger.WithFields(map[string]any{
		"mongo_db":         cfg.MongoDB,
		"backfill_workers": cfg.BackfillWorkers,
		"http_addr":        cfg.HTTPAddr,
	}).Info("starting discord-indexer")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sup := supervisor.New(cfg, logger)
	if err := sup.Run(ctx); err != nil {
		logger.WithField("error", err.Error()).Error("supervisor exited with error")
		return err
	}

	logger.Info("discord-indexer stopped")
	return nil
}
