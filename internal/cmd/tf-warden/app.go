package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/leighmacdonald/tf-warden/internal/config"
	"github.com/leighmacdonald/tf-warden/internal/state"
	"github.com/leighmacdonald/tf-warden/internal/tf/console"
	"github.com/leighmacdonald/tf-warden/internal/tf/events"
	"golang.org/x/sync/errgroup"
)

var errSnapshot = errors.New("failed to write game state snapshot")

// App wires the console source, the roster manager and the snapshot exporter
// together and supervises them until shutdown.
type App struct {
	config        config.Config
	state         *state.Manager
	router        *events.Router
	source        console.Source
	configUpdates chan config.Config
	apiKey        *atomic.Pointer[string]
}

func NewApp(conf config.Config, manager *state.Manager, router *events.Router,
	source console.Source, configUpdates chan config.Config, apiKey *atomic.Pointer[string],
) *App {
	return &App{
		config:        conf,
		state:         manager,
		router:        router,
		source:        source,
		configUpdates: configUpdates,
		apiKey:        apiKey,
	}
}

// Start brings up all the background goroutines and blocks until the first of
// them fails or the context is cancelled.
func (app *App) Start(ctx context.Context) error {
	if errOpen := app.source.Open(ctx); errOpen != nil {
		return errOpen
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return app.state.Start(groupCtx)
	})

	group.Go(func() error {
		app.source.Start(groupCtx, app.router)

		return nil
	})

	group.Go(func() error {
		app.snapshotWriter(groupCtx)

		return nil
	})

	group.Go(func() error {
		app.watchConfig(groupCtx)

		return nil
	})

	return group.Wait()
}

// watchConfig consumes live config reloads. Most settings only take effect on
// restart, logging the reload keeps that visible instead of silently ignored.
func (app *App) watchConfig(ctx context.Context) {
	for {
		select {
		case updated := <-app.configUpdates:
			slog.Info("Configuration file changed, most settings apply on next restart")
			app.apiKey.Store(&updated.SteamAPIKey)
		case <-ctx.Done():
			return
		}
	}
}

// snapshotWriter periodically exports the current game state to the snapshot
// file for external consumers.
func (app *App) snapshotWriter(ctx context.Context) {
	ticker := time.NewTicker(app.config.UpdateFreq())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := app.writeSnapshot(); err != nil {
				slog.Error("Failed to write snapshot", slog.String("error", err.Error()))
			}
		case <-ctx.Done():
			return
		}
	}
}

// writeSnapshot serializes the exported game state and swaps it into place
// atomically so a reader never sees a partial document.
func (app *App) writeSnapshot() error {
	snapshotPath := app.config.SnapshotPath
	if snapshotPath == "" {
		return nil
	}

	gameState := state.ExportGameState(app.state.Snapshot())

	body, errMarshal := json.Marshal(gameState)
	if errMarshal != nil {
		return errors.Join(errMarshal, errSnapshot)
	}

	if errDir := os.MkdirAll(filepath.Dir(snapshotPath), 0o750); errDir != nil {
		return errors.Join(errDir, errSnapshot)
	}

	tmpPath := snapshotPath + ".tmp"
	if errWrite := os.WriteFile(tmpPath, body, 0o640); errWrite != nil {
		return errors.Join(errWrite, errSnapshot)
	}

	if errRename := os.Rename(tmpPath, snapshotPath); errRename != nil {
		return errors.Join(errRename, errSnapshot)
	}

	slog.Debug("Wrote game state snapshot", slog.String("path", snapshotPath),
		slog.String("size", humanize.Bytes(uint64(len(body)))),
		slog.Int("players", gameState.NumPlayers))

	return nil
}
