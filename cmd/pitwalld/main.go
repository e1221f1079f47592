// SPDX-License-Identifier: MIT

// pitwalld ingests live timing feeds, maintains consolidated session
// state per event and serves snapshots, lap histories and results.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/apexgrid/pitwall/internal/api"
	"github.com/apexgrid/pitwall/internal/app"
	"github.com/apexgrid/pitwall/internal/broadcast"
	"github.com/apexgrid/pitwall/internal/config"
	"github.com/apexgrid/pitwall/internal/history"
	"github.com/apexgrid/pitwall/internal/log"
	"github.com/apexgrid/pitwall/internal/model"
	"github.com/apexgrid/pitwall/internal/store"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()
	if *showVersion {
		fmt.Printf("pitwalld %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}
	if err := run(); err != nil {
		logger := log.Base()
		logger.Fatal().Err(err).Msg("daemon exited")
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log.Configure(log.Config{Level: cfg.LogLevel, Service: "pitwalld"})
	logger := log.WithComponent("daemon")
	logger.Info().
		Str("version", version).
		Str("listen_addr", cfg.ListenAddr).
		Msg("starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var st *store.Store
	if cfg.DataDir == "" {
		st, err = store.OpenInMemory()
	} else {
		st, err = store.Open(cfg.DataDir)
	}
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			logger.Error().Err(cerr).Msg("store close failed")
		}
	}()

	rdb, err := history.Client(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer func() {
		if cerr := rdb.Close(); cerr != nil {
			logger.Error().Err(cerr).Msg("redis close failed")
		}
	}()

	hub := broadcast.NewMemoryHub()
	manager := app.NewManager(st, rdb, hub, func(req model.RelayResetRequest) {
		// The relay connection is owned upstream; surface the request in
		// the log until the control channel lands.
		logger.Warn().
			Int(log.FieldEventID, req.EventID).
			Bool("force", req.ForceTimingDataReset).
			Msg("relay resync requested")
	})
	defer manager.Close()

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.NewServer(manager, cfg.SnapshotRateLimit).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info().Msg("shutdown complete")
	return err
}
