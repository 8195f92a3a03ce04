// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package console provides the optional diagnostics endpoint: liveness and
// a read-only view of the broker's listeners and router activity.
package console

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/absmach/mqttd/config"
	"github.com/absmach/mqttd/router"
)

// Server serves the diagnostics endpoint.
type Server struct {
	cfg      *config.Config
	rt       *router.Router
	logger   *slog.Logger
	server   *http.Server
	listener net.Listener
}

// New creates a console server exposing cfg and the router's counters.
func New(cfg *config.Config, rt *router.Router, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:    cfg,
		rt:     rt,
		logger: logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)

	s.server = &http.Server{
		Addr:         fmt.Sprintf("0.0.0.0:%d", cfg.Console.Port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

// Addr returns the listener's address, empty before Listen.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Listen serves until ctx is cancelled.
func (s *Server) Listen(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	s.listener = listener

	s.logger.Info("starting console server", "address", listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "ok"})
}

type statusResponse struct {
	ID        string       `json:"id"`
	Listeners []listener   `json:"listeners"`
	Router    router.Stats `json:"router"`
}

type listener struct {
	Name string `json:"name"`
	Port uint16 `json:"port"`
	TLS  bool   `json:"tls"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		ID:     s.cfg.ID,
		Router: s.rt.Stats(),
	}
	for name, srv := range s.cfg.Servers {
		resp.Listeners = append(resp.Listeners, listener{
			Name: name,
			Port: srv.Port,
			TLS:  srv.CertPath != "" || srv.PKCS12Path != "",
		})
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, resp)
}

func writeJSON(w http.ResponseWriter, v any) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
