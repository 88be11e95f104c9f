// Relayd - Realtime Event Fan-Out for Multi-Tenant Platforms
// Copyright 2026 Relayforge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relayforge/relayd

// Package api provides the HTTP surface: the WebSocket entry point, the
// Prometheus scrape endpoint, and liveness probes, routed with chi.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	gorilla "github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relayforge/relayd/internal/logging"
	"github.com/relayforge/relayd/internal/store"
	"github.com/relayforge/relayd/internal/websocket"
)

// Config wires a Server.
type Config struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Server is the HTTP listener in front of the realtime hub. It implements
// suture.Service; shutdown closes every open WebSocket before the listener
// stops accepting.
type Server struct {
	cfg      Config
	hub      *websocket.Hub
	projects store.ProjectStore
	users    store.UserStore
	verifier *store.SessionVerifier
	upgrader gorilla.Upgrader
}

// NewServer creates the HTTP server over the hub and its stores.
func NewServer(cfg Config, hub *websocket.Hub, projects store.ProjectStore, users store.UserStore, verifier *store.SessionVerifier) *Server {
	return &Server{
		cfg:      cfg,
		hub:      hub,
		projects: projects,
		users:    users,
		verifier: verifier,
		upgrader: gorilla.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin policy is enforced against the project's registered
			// platforms after the upgrade, so failures reach the client as
			// protocol error frames instead of opaque 403s.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Router builds the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/v1/realtime", s.handleRealtime)

	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByRealIP(120, time.Minute))
		r.Get("/healthz", s.handleHealth)
		r.Handle("/metrics", promhttp.Handler())
	})

	return r
}

// handleRealtime upgrades the connection and runs the handshake. Everything
// after a successful upgrade is reported over the socket itself.
func (s *Server) handleRealtime(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		logging.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	client := websocket.NewClient(s.hub, conn)
	client.Start()

	req := s.buildOpenRequest(r)
	_ = s.hub.HandleOpen(client, req)
}

// buildOpenRequest resolves the request's project, user, and channels. A
// missing project or an invalid session token is not fatal here; the hub
// decides what each omission means for the handshake.
func (s *Server) buildOpenRequest(r *http.Request) websocket.OpenRequest {
	ctx := r.Context()
	query := r.URL.Query()

	var project *store.Project
	if id := query.Get("project"); id != "" {
		p, err := s.projects.GetProject(ctx, id)
		if err != nil {
			logging.Warn().Err(err).Str("project", id).Msg("unknown project on connect")
		} else {
			project = p
		}
	}

	console, err := s.projects.GetProject(ctx, s.hub.ConsoleProject())
	if err != nil {
		console = nil
	}

	channels := append(query["channels[]"], query["channels"]...)

	return websocket.OpenRequest{
		Project:  project,
		Console:  console,
		User:     s.resolveUser(r, project),
		Origin:   r.Header.Get("Origin"),
		IP:       remoteIP(r),
		URL:      r.URL.Path,
		Channels: channels,
	}
}

// resolveUser authenticates the connect-time session token, taken from the
// "session" query parameter or cookie. Absent or invalid tokens fall back
// to an anonymous connection; the client can still upgrade later with an
// authentication message.
func (s *Server) resolveUser(r *http.Request, project *store.Project) *store.User {
	if project == nil {
		return nil
	}

	token := r.URL.Query().Get("session")
	if token == "" {
		if cookie, err := r.Cookie("session"); err == nil {
			token = cookie.Value
		}
	}
	if token == "" {
		return nil
	}

	userID, sessionID, err := s.verifier.Decode(token)
	if err != nil {
		logging.Debug().Err(err).Msg("invalid session token on connect, continuing as guest")
		return nil
	}
	user, err := s.users.GetUser(r.Context(), project.ID, userID)
	if err != nil || !s.verifier.Verify(user, sessionID) {
		logging.Debug().Str("user", userID).Msg("session not verified on connect, continuing as guest")
		return nil
	}
	return user
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":      "ok",
		"connections": s.hub.ClientCount(),
	})
}

// Serve implements suture.Service: listen until the context is canceled,
// then close every WebSocket and drain the listener within the shutdown
// timeout.
func (s *Server) Serve(ctx context.Context) error {
	server := &http.Server{
		Addr:         net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port)),
		Handler:      s.Router(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	logging.Info().Str("addr", server.Addr).Msg("http server listening")

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil

	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()

		s.hub.CloseAll(gorilla.CloseGoingAway, "server shutting down")
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

// String names the service in supervisor logs.
func (s *Server) String() string {
	return "http-server"
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
