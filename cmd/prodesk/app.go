package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/nebari-dev/prodesk/internal/config"
	"github.com/nebari-dev/prodesk/internal/db"
	"github.com/nebari-dev/prodesk/internal/history"
	"github.com/nebari-dev/prodesk/internal/logger"
	"github.com/nebari-dev/prodesk/internal/logstream"
	"github.com/nebari-dev/prodesk/internal/remote"
	"github.com/nebari-dev/prodesk/internal/session"
	"github.com/nebari-dev/prodesk/internal/store"
	"github.com/valkey-io/valkey-go"
)

var (
	hostFlag    string
	projectFlag string
	outputFlag  string
	debugFlag   bool
)

var cfg *config.Config

func loadSettings(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load()
	if err != nil {
		return err
	}
	if hostFlag != "" {
		loaded.Host = hostFlag
	}
	if projectFlag != "" {
		loaded.Project = projectFlag
	}
	if debugFlag {
		loaded.CLI.Debug = true
	}
	if err := checkOutputFormat(outputFlag); err != nil {
		return err
	}

	logger.Init(loaded.Log.Format, loaded.Log.Level)
	cfg = loaded
	return nil
}

// app is everything a command needs to talk to one host.
type app struct {
	db      *gorm.DB
	valkey  valkey.Client
	history *history.Registry
	client  *remote.Client
}

// newApp opens the history database, restores past actions and builds the
// remote client for the configured host.
func newApp(ctx context.Context) (*app, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("no host configured; pass --host or set PRODESK_HOST")
	}

	a := &app{}
	gdb, err := db.New(cfg.History)
	if err != nil {
		return nil, err
	}
	a.db = gdb
	if gdb != nil {
		if err := db.Migrate(gdb); err != nil {
			a.close()
			return nil, err
		}
	}

	opts := []history.Option{
		history.WithDB(gdb),
		history.WithFlushInterval(cfg.History.FlushInterval),
		history.WithMaxPerWorkspace(cfg.History.MaxPerWorkspace),
	}
	if cfg.History.ValkeyAddr != "" {
		client, err := logstream.DialValkey(cfg.History.ValkeyAddr)
		if err != nil {
			a.close()
			return nil, err
		}
		a.valkey = client
		opts = append(opts, history.WithMirror(logstream.NewValkeyMirror(client, logstream.DefaultMirrorTTL)))
	}
	a.history = history.New(opts...)

	if n, err := a.history.Load(ctx); err != nil {
		slog.Warn("Failed to restore action history", "error", err)
	} else if n > 0 {
		slog.Debug("Restored action history", "actions", n)
	}
	if _, err := a.history.Prune(ctx); err != nil {
		slog.Warn("Failed to prune action history", "error", err)
	}

	a.client = remote.New(remote.Options{
		Host:    cfg.Host,
		Binary:  cfg.CLI.Binary,
		Debug:   cfg.CLI.Debug,
		History: a.history,
	})
	return a, nil
}

// openSession opens a session on the configured project.
func (a *app) openSession(ctx context.Context) (*session.Session, *store.Store, error) {
	st := store.New()
	s, err := session.Open(ctx, a.client, st, session.Options{
		Project:        cfg.Project,
		HealthInterval: cfg.Health.Interval,
	})
	if err != nil {
		return nil, nil, err
	}
	return s, st, nil
}

func (a *app) close() {
	if a.client != nil {
		a.client.Close()
	}
	if a.valkey != nil {
		a.valkey.Close()
	}
	if err := db.Close(a.db); err != nil {
		slog.Warn("Failed to close history database", "error", err)
	}
}
