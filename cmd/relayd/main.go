// Relayd - Realtime Event Fan-Out for Multi-Tenant Platforms
// Copyright 2026 Relayforge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayforge/relayd

// relayd is the realtime fan-out node: it terminates WebSocket connections,
// subscribes to the cross-node event bus, and delivers scoped events to its
// local subscribers.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/relayforge/relayd/internal/abuse"
	"github.com/relayforge/relayd/internal/api"
	"github.com/relayforge/relayd/internal/bus"
	"github.com/relayforge/relayd/internal/config"
	"github.com/relayforge/relayd/internal/logging"
	"github.com/relayforge/relayd/internal/realtime"
	"github.com/relayforge/relayd/internal/stats"
	"github.com/relayforge/relayd/internal/store"
	"github.com/relayforge/relayd/internal/supervisor"
	"github.com/relayforge/relayd/internal/websocket"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "relayd:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	memory, err := loadStore(cfg)
	if err != nil {
		return err
	}

	index := realtime.NewIndex()
	table := stats.NewTable()
	verifier := store.NewSessionVerifier(cfg.Auth.SessionSecret)

	hub := websocket.NewHub(websocket.Config{
		Index:    index,
		Table:    table,
		Users:    memory,
		Verifier: verifier,
		ConnectLimiter: abuse.NewLimiter("url:{url},ip:{ip}",
			cfg.Abuse.ConnectLimit, cfg.Abuse.ConnectWindow, cfg.Abuse.Enabled, cfg.Abuse.MaxKeys),
		MessageLimiter: abuse.NewLimiter("url:{url},connection:{connection}",
			cfg.Abuse.MessageLimit, cfg.Abuse.MessageWindow, cfg.Abuse.Enabled, cfg.Abuse.MaxKeys),
		ConsoleProject: cfg.Realtime.ConsoleProject,
		MaxMessageSize: cfg.Realtime.MaxMessageSize,
		SendBuffer:     cfg.Realtime.SendBuffer,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The stats tasks share one bus connection for the snapshot bucket; the
	// bridge manages its own connection with its bounded reconnect policy.
	conn, err := nats.Connect(cfg.NATS.URL, nats.Name("relayd-stats"), nats.MaxReconnects(-1))
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", cfg.NATS.URL, err)
	}
	defer conn.Close()

	js, err := jetstream.New(conn)
	if err != nil {
		return fmt.Errorf("opening jetstream: %w", err)
	}
	snapshots, err := stats.NewKVSnapshotStore(ctx, js, cfg.Stats.Bucket)
	if err != nil {
		return err
	}

	aggregator := stats.NewAggregator(stats.AggregatorConfig{
		Index:     index,
		Table:     table,
		Store:     snapshots,
		Sender:    hub,
		Container: containerID(),
		Console:   cfg.Realtime.ConsoleProject,
		Interval:  cfg.Stats.Interval,
		Freshness: cfg.Stats.Freshness,
	})
	heartbeat := stats.NewHeartbeat(index, hub, cfg.Realtime.ConsoleProject, cfg.Stats.HeartbeatInterval)

	bridge := bus.NewBridge(bus.Config{
		URL:                  cfg.NATS.URL,
		Subject:              cfg.NATS.Subject,
		MaxReconnectAttempts: cfg.NATS.MaxReconnectAttempts,
		ReconnectDelay:       cfg.NATS.ReconnectDelay,
	}, hub)

	server := api.NewServer(api.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, hub, memory, memory, verifier)

	tree := supervisor.NewTree(supervisor.TreeConfig{ShutdownTimeout: cfg.Server.ShutdownTimeout})
	tree.AddMessagingService(bridge)
	tree.AddMessagingService(aggregator)
	tree.AddMessagingService(heartbeat)
	tree.AddAPIService(server)

	logging.Info().
		Str("console", cfg.Realtime.ConsoleProject).
		Str("bus", cfg.NATS.URL).
		Msg("relayd starting")

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logging.Info().Msg("relayd stopped")
	return nil
}

// loadStore builds the project and user store, seeded from the configured
// fixture when present. The console project always exists so its statistics
// channels can be subscribed to even without a seed entry.
func loadStore(cfg *config.Config) (*store.Memory, error) {
	memory := store.NewMemory()
	if cfg.Store.SeedFile != "" {
		seeded, err := store.LoadSeedFile(cfg.Store.SeedFile)
		if err != nil {
			return nil, err
		}
		memory = seeded
	}
	if _, err := memory.GetProject(context.Background(), cfg.Realtime.ConsoleProject); err != nil {
		memory.AddProject(&store.Project{ID: cfg.Realtime.ConsoleProject})
	}
	return memory, nil
}

// containerID names this node's snapshot document. The hostname is stable
// across restarts; the random fallback only matters where no hostname is
// available.
func containerID() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return uuid.NewString()
}
