package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"relay/cli/internal/client"
	"relay/cli/internal/command"
	"relay/cli/internal/config"
	"relay/cli/internal/history"
	"relay/cli/internal/kvstore"
	"relay/cli/internal/lifecycle"
	"relay/cli/internal/logging"
	"relay/cli/internal/state"
	"relay/cli/internal/toolbox"
	"relay/cli/internal/tunnel"
	"relay/cli/internal/wsock"
)

var version = "dev"

func main() {
	app := command.BuildApp(command.Deps{
		Version:     version,
		LoadConfig:  config.Load,
		RunServe:    runServe,
		OpenHistory: openHistory,
	})
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openHistory(cfg config.Config) (command.HistoryStore, func() error, error) {
	kv, err := kvstore.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	logger := logging.NewLogger(logging.Options{Level: cfg.LogLevel, Component: "history"})
	store, err := history.NewStore(kv, history.Options{Logger: logger})
	if err != nil {
		_ = kv.Close()
		return nil, nil, err
	}
	return store, kv.Close, nil
}

func runServe(ctx context.Context, cfg config.Config) error {
	logger := logging.NewLogger(logging.Options{Level: cfg.LogLevel, Component: "relay"})

	var kv kvstore.KV
	closeKV := func() error { return nil }
	if cfg.DBPath != "" {
		sqliteKV, err := kvstore.Open(cfg.DBPath)
		if err != nil {
			logger.Warn("history db unavailable, keeping history in memory", "path", cfg.DBPath, "error", err)
			kv = kvstore.NewMemoryKV()
		} else {
			kv = sqliteKV
			closeKV = sqliteKV.Close
		}
	} else {
		kv = kvstore.NewMemoryKV()
	}

	store, err := history.NewStore(kv, history.Options{
		Logger: logging.NewLogger(logging.Options{Level: cfg.LogLevel, Component: "history"}),
	})
	if err != nil {
		return err
	}

	registry := toolbox.NewRegistry()
	if err := toolbox.RegisterWorkspaceTools(registry, cfg.WorkspaceRoot); err != nil {
		return err
	}

	responder, err := tunnel.NewResponder(tunnel.Options{
		Registry:      registry,
		WorkspaceRoot: cfg.WorkspaceRoot,
		Logger:        logging.NewLogger(logging.Options{Level: cfg.LogLevel, Component: "tunnel"}),
		Version:       version,
	})
	if err != nil {
		return err
	}

	states := state.NewManager(state.Options{
		Logger: logging.NewLogger(logging.Options{Level: cfg.LogLevel, Component: "state"}),
	})

	conn, err := client.New(client.Options{
		ServerURL:            cfg.ServerURL,
		APIBaseURL:           cfg.APIBaseURL,
		Token:                cfg.Token,
		Dialer:               wsock.RealDialer{},
		States:               states,
		Store:                store,
		Tunnel:               responder,
		Logger:               logging.NewLogger(logging.Options{Level: cfg.LogLevel, Component: "client"}),
		HeartbeatInterval:    secondsToDuration(cfg.HeartbeatSeconds),
		HealthCheckTimeout:   secondsToDuration(cfg.HealthTimeoutSeconds),
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	})
	if err != nil {
		return err
	}

	unsubscribe := states.OnAppState(func(app state.AppState) {
		attrs := []any{"connection", string(app.Connection), "task", string(app.Task), "run_id", app.RunID}
		if app.LastError != "" {
			attrs = append(attrs, "last_error", app.LastError)
		}
		logger.Info("state changed", attrs...)
	})
	defer unsubscribe()

	manager := lifecycle.NewManager(logger)
	manager.AddRun("connection", func(ctx context.Context) error {
		if err := conn.Connect(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		return ctx.Err()
	})
	manager.AddShutdown("disconnect", func(context.Context) error {
		if err := conn.Disconnect(); err != nil && !errors.Is(err, client.ErrNotConnected) {
			return err
		}
		return nil
	})
	manager.AddShutdown("flush history", func(context.Context) error {
		return conn.Close()
	})
	manager.AddShutdown("close history db", func(context.Context) error {
		return closeKV()
	})

	logger.Info("relay starting", "server_url", cfg.ServerURL, "workspace", cfg.WorkspaceRoot)
	return manager.StartAndWait(ctx, os.Interrupt, syscall.SIGTERM)
}

func secondsToDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}
