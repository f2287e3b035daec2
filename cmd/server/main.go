// Copyright 2026 The tierflow Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package main provides the entry point for the tierflow server. The server
// scores incoming tasks, routes them to a model tier, and batches deferred
// completions against a downstream batch API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/tierflow/tierflow/internal/api"
	"github.com/tierflow/tierflow/internal/batch"
	"github.com/tierflow/tierflow/internal/breaker"
	"github.com/tierflow/tierflow/internal/buildinfo"
	"github.com/tierflow/tierflow/internal/config"
	"github.com/tierflow/tierflow/internal/events"
	"github.com/tierflow/tierflow/internal/logging"
	"github.com/tierflow/tierflow/internal/registry"
	"github.com/tierflow/tierflow/internal/router"
	"github.com/tierflow/tierflow/internal/tracker"
	"github.com/tierflow/tierflow/internal/util"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// init initializes the shared logger setup.
func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	version := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("tierflow %s (commit %s, built %s)\n", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)
		return
	}

	// Environment variables from .env complement, never override, the shell.
	if err := godotenv.Load(); err == nil {
		log.Debug("Loaded environment from .env")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}

	stateBox, err := util.NewStateBox()
	if err != nil {
		log.Fatalf("Failed to initialize state directory: %v", err)
	}
	logging.ConfigureLogOutput(cfg.LoggingToFile, stateBox.LogsDir())

	log.Infof("Starting tierflow %s (commit %s)", buildinfo.Version, buildinfo.Commit)
	log.Infof("State directory: %s (read-only: %v)", stateBox.RootPath(), stateBox.IsReadOnly())

	bus := events.NewBus()
	defer bus.Shutdown()

	tierRegistry := registry.NewTierRegistry()
	for i := range cfg.Tiers {
		tier := cfg.Tiers[i]
		tierRegistry.Register(&registry.TierInfo{
			ID:            tier.ID,
			Class:         tier.Class,
			ContextLength: tier.ContextLength,
			CostPerMTok:   tier.CostPerMTok,
		})
		log.Infof("Registered tier %s (%s, %d ctx, $%.2f/MTok)", tier.ID, tier.Class, tier.ContextLength, tier.CostPerMTok)
	}

	outcomeStore, err := tracker.NewStore("outcomes.db", 90)
	if err != nil {
		log.Fatalf("Failed to create outcome store: %v", err)
	}
	outcomeStore.SetStateBox(stateBox)
	if err := outcomeStore.Initialize(context.Background()); err != nil {
		log.Warnf("Outcome tracking disabled: %v", err)
	}
	defer outcomeStore.Close()

	stateStore := router.NewFileStore(stateBox, cfg.Router.StatePath)
	tierBreaker := breaker.NewFailureBreaker(0, 0)

	tierRouter := router.New(cfg.Router, tierRegistry, outcomeStore, tierBreaker, stateStore,
		router.WithEventBus(bus))

	batchQueue := batch.NewQueue(cfg.Batch, batch.NewClient(cfg.Batch), batch.WithBus(bus))

	// Reload router and batch settings when the config file changes on disk.
	watcher := config.NewWatcher(*configPath, func(updated *config.Config) {
		tierRouter.UpdateConfig(updated.Router)
		batchQueue.UpdateConfig(updated.Batch)
		log.Info("Configuration reloaded")
	})
	if err := watcher.Start(); err != nil {
		log.Warnf("Config hot reload unavailable: %v", err)
	} else {
		defer watcher.Stop()
	}

	server := api.NewServer(tierRouter, batchQueue, tierRegistry)

	errCh := make(chan error, 1)
	go func() {
		log.Infof("Listening on %s:%d", cfg.Host, cfg.Port)
		errCh <- server.Run(cfg.Host, cfg.Port)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Fatalf("Server stopped: %v", err)
	case sig := <-sigCh:
		log.Infof("Received %s, shutting down", sig)
	}
}
