// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package broker wires the process together: it owns the configuration
// snapshot and the router channel, and starts the router, the listeners
// and the optional console on their own goroutines.
package broker

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/absmach/mqttd/config"
	"github.com/absmach/mqttd/link"
	"github.com/absmach/mqttd/router"
	"github.com/absmach/mqttd/server/console"
	"github.com/absmach/mqttd/server/tcp"
)

// Broker is the process-level orchestrator.
type Broker struct {
	cfg      *config.Config
	logger   *slog.Logger
	rt       *router.Router
	routerTx router.Sender
}

// New constructs a broker around an immutable configuration snapshot and
// creates the router with its channel handle. It never fails.
func New(cfg *config.Config, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	rt, routerTx := router.New(cfg.Router, logger)
	return &Broker{
		cfg:      cfg,
		logger:   logger,
		rt:       rt,
		routerTx: routerTx,
	}
}

// RouterHandle returns an independently usable send handle onto the
// router channel. Safe for unbounded concurrent producers.
func (b *Broker) RouterHandle() router.Sender {
	return b.routerTx.Clone()
}

// Link creates an in-process link for an embedded client, bypassing the
// network listeners. The link registers with the router on Connect.
func (b *Broker) Link(clientID string) *link.Local {
	return link.NewLocal(clientID, b.routerTx.Clone(), b.cfg.Router.OutgoingQueueLen)
}

// Start runs the broker until an interrupt or termination signal arrives.
// The router gets a dedicated goroutine, every configured listener gets
// its own, and the console runs if configured. In-flight connection tasks
// are abandoned at exit; there is no graceful drain.
func (b *Broker) Start() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b.StartServices(ctx)

	<-ctx.Done()
	b.logger.Info("shutdown signal received")
	b.rt.Close()
	return nil
}

// StartServices launches the router, listeners and console without
// blocking. Listener failures are fatal to the failing listener only; the
// broker does not observe or restart it, the console's status endpoint is
// the place to notice a missing port surface.
func (b *Broker) StartServices(ctx context.Context) {
	go b.rt.Run()

	for name, settings := range b.cfg.Servers {
		srv := tcp.New(name, settings, b.routerTx.Clone(), b.logger)
		go func(name string) {
			if err := srv.Listen(ctx); err != nil {
				b.logger.Error("listener terminated", "server", name, "error", err.Error())
			}
		}(name)
	}

	if b.cfg.Console != nil {
		cs := console.New(b.cfg, b.rt, b.logger)
		go func() {
			if err := cs.Listen(ctx); err != nil {
				b.logger.Error("console terminated", "error", err.Error())
			}
		}()
	}
}

// Router exposes the router for diagnostics surfaces.
func (b *Broker) Router() *router.Router {
	return b.rt
}
