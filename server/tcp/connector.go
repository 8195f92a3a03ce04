// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tcp

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/absmach/mqttd/config"
	"github.com/absmach/mqttd/core"
	"github.com/absmach/mqttd/link"
	"github.com/absmach/mqttd/router"
)

// connector supervises exactly one connection end to end. For every
// connection that completes the handshake it emits exactly one disconnect
// event to the router, whatever the termination path.
type connector struct {
	settings *config.ConnectionSettings
	routerTx router.Sender
	logger   *slog.Logger
}

func newConnector(settings *config.ConnectionSettings, routerTx router.Sender, logger *slog.Logger) *connector {
	return &connector{
		settings: settings,
		routerTx: routerTx,
		logger:   logger,
	}
}

// handleConnection drives the link through handshake and session lifetime.
// The handshake is bounded by the configured connection timeout so a rogue
// client cannot hold a task open without ever sending CONNECT.
func (c *connector) handleConnection(network *core.Network) error {
	clientID, id, l, err := link.NewRemote(c.settings, c.routerTx, network, c.logger)
	if err != nil {
		// No disconnect event owed: the connection never registered, or
		// NewRemote released the registration before returning.
		return fmt.Errorf("handshake: %w", err)
	}

	var executeWill bool
	switch err := l.Run(); {
	case err == nil:
		// The run loop has no clean return path; reaching it means
		// something is off, so the will fires.
		c.logger.Error("link stopped", "client_id", clientID, "id", int(id))
		executeWill = true
	case errors.Is(err, core.ErrConnectionAborted):
		// Transport-level close is treated as a deliberate shutdown but
		// still fires the will, matching abnormal termination.
		c.logger.Info("link closed", "client_id", clientID, "id", int(id))
		executeWill = true
	case errors.Is(err, link.ErrDisconnect):
		c.logger.Info("link disconnected", "client_id", clientID, "id", int(id))
		executeWill = false
	default:
		c.logger.Error("link failed", "client_id", clientID, "id", int(id), "error", err.Error())
		executeWill = true
	}

	// The clean/pending snapshot always reflects the link's final state,
	// independent of the termination classification above.
	state := l.State()
	disconnect := router.Disconnect{
		ClientID:    clientID,
		ExecuteWill: executeWill,
		Clean:       state.Clean(),
		Pending:     state.Pending(),
	}
	if err := c.routerTx.Send(id, disconnect); err != nil {
		return fmt.Errorf("disconnect notification: %w", err)
	}
	return nil
}
