package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"hostscan/internal/localstore"
	"hostscan/internal/logging"
	"hostscan/internal/remote"
	"hostscan/internal/server"
	"hostscan/internal/shared"
)

func main() {
	configPath := flag.String("config", "./hostscan.json", "path to config json")
	flag.Parse()

	cfg, err := shared.LoadConfig(*configPath)
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}

	logger, closeLogs, err := logging.New(logging.Options{
		Level: cfg.LogLevel,
		Dir:   cfg.LogsDir,
		File:  true,
	})
	if err != nil {
		logrus.Fatalf("logging: %v", err)
	}
	defer closeLogs()

	// Index + scans dir
	index, err := localstore.OpenIndex(cfg.IndexPath, logger)
	if err != nil {
		logger.WithError(err).Fatalf("failed to open index %s", cfg.IndexPath)
	}
	defer index.Close()

	store, err := localstore.New(cfg.ScansDir, logger, localstore.WithIndex(index))
	if err != nil {
		logger.WithError(err).Fatalf("failed to open scans dir %s", cfg.ScansDir)
	}

	api := &server.API{
		Store:  store,
		Index:  index,
		Logger: logger.WithField("component", "api"),
		NewRemote: func() server.RemoteReader {
			return remote.New(remote.OptionsFromConfig(cfg), logger)
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.WithFields(logrus.Fields{
		"scans_dir": cfg.ScansDir,
		"index":     cfg.IndexPath,
		"mongo_db":  cfg.Database + "." + cfg.Collection,
	}).Info("hs-server starting")

	if err := server.Serve(ctx, cfg.ListenAddr, api.Routes(), logger); err != nil {
		logger.WithError(err).Error("hs-server stopped")
		os.Exit(1)
	}
}
