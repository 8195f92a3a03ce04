// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package tcp implements one broker listener: a bound socket, its TLS
// acceptor and an accept loop that hands every connection to a dedicated
// connector goroutine.
package tcp

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/absmach/mqttd/config"
	"github.com/absmach/mqttd/core"
	"github.com/absmach/mqttd/router"
)

// Server owns one bound socket and one admission policy. Per-connection
// work runs on independent goroutines; the accept loop itself only blocks
// on accept and on the inter-accept delay.
type Server struct {
	name     string
	settings config.ServerSettings
	routerTx router.Sender
	logger   *slog.Logger

	mu       sync.Mutex
	listener net.Listener
}

// New creates a listener for one configured server entry.
func New(name string, settings config.ServerSettings, routerTx router.Sender, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		name:     name,
		settings: settings,
		routerTx: routerTx,
		logger:   logger.With("server", name),
	}
}

// Addr returns the bound address, nil before Listen has bound the socket.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Listen binds the configured port, resolves the TLS backend once and runs
// the accept loop until ctx is cancelled or accept fails. Bind and TLS
// resolution failures are fatal to this listener only.
func (s *Server) Listen(ctx context.Context) error {
	addr := fmt.Sprintf("0.0.0.0:%d", s.settings.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	defer listener.Close()

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	tlsConfig, err := selectTLSBackend(s.settings).Resolve(s.settings)
	if err != nil {
		return fmt.Errorf("tls resolution: %w", err)
	}
	if tlsConfig != nil {
		s.logger.Info("TLS enabled", "address", listener.Addr().String(), "mutual_auth", tlsConfig.ClientAuth == tls.RequireAndVerifyClientCert)
	}

	// Admission throttle: one accept per configured delay, regardless of
	// the connection's outcome.
	var limiter *rate.Limiter
	if delay := time.Duration(s.settings.NextConnectionDelay); delay > 0 {
		limiter = rate.NewLimiter(rate.Every(delay), 1)
	}

	connSettings := s.settings.Connections
	s.logger.Info("waiting for connections", "address", listener.Addr().String())

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	var count uint64
	for {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return nil
			}
		}

		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		count++

		connector := newConnector(&connSettings, s.routerTx.Clone(), s.logger)
		go s.handleConnection(conn, tlsConfig, connector, count)
	}
}

// handleConnection runs on its own goroutine per accepted connection. Any
// failure here is logged and isolated; the accept loop never sees it.
func (s *Server) handleConnection(conn net.Conn, tlsConfig *tls.Config, connector *connector, count uint64) {
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	if tlsConfig != nil {
		s.logger.Debug("accepting TLS connection", "count", count, "remote", remote)
		tlsConn := tls.Server(conn, tlsConfig)
		if err := tlsConn.Handshake(); err != nil {
			s.logger.Error("TLS handshake failed", "count", count, "remote", remote, "error", err.Error())
			return
		}
		conn = tlsConn
	} else {
		s.logger.Debug("accepting TCP connection", "count", count, "remote", remote)
	}

	network := core.NewNetwork(conn, s.settings.Connections.MaxPayloadSize)
	if err := connector.handleConnection(network); err != nil {
		s.logger.Error("dropping link task", "count", count, "remote", remote, "error", err.Error())
	}
}
