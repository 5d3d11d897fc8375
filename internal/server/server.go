// Package server exposes the operator surface over HTTP: start a handshake,
// complete it with the human-entered PIN, and query per-environment status.
// Rendering (forms, buttons, chat messages) belongs to external frontends;
// this surface speaks structured JSON only.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/finchsec/tokenward/internal/lifecycle"
)

// Server is the operator HTTP API.
type Server struct {
	manager *lifecycle.Manager
	mux     *http.ServeMux
	server  *http.Server
}

// Compile-time check that Server implements http.Handler
var _ http.Handler = (*Server)(nil)

// New creates the operator API around a lifecycle manager.
func New(manager *lifecycle.Manager) (*Server, error) {
	if manager == nil {
		return nil, fmt.Errorf("missing lifecycle manager")
	}

	s := &Server{
		manager: manager,
		mux:     http.NewServeMux(),
	}

	s.mux.Handle("POST /api/{env}/start", applyMiddlewares(http.HandlerFunc(s.handleStart),
		Logging(slog.Default()),
		Recovery,
	))
	s.mux.Handle("POST /api/{env}/verify", applyMiddlewares(http.HandlerFunc(s.handleVerify),
		Logging(slog.Default()),
		Recovery,
	))
	s.mux.Handle("GET /api/{env}/status", applyMiddlewares(http.HandlerFunc(s.handleStatus),
		Logging(slog.Default()),
		Recovery,
	))

	return s, nil
}

// ServeHTTP implements http.Handler interface
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// flowResponse is the structured result every mutation returns. Handshake
// failures surface here as success=false with details, never as bare error
// text.
type flowResponse struct {
	Success bool   `json:"success"`
	Details string `json:"details"`

	AuthorizeURL  string `json:"authorize_url,omitempty"`
	RequestToken  string `json:"request_token,omitempty"`
	RequestSecret string `json:"request_secret,omitempty"`

	// OAuthToken identifies the issued credential; its secret is never
	// echoed over HTTP.
	OAuthToken string `json:"oauth_token,omitempty"`
	IssuedAt   string `json:"issued_at,omitempty"`
}

type statusResponse struct {
	Environment string `json:"environment"`
	State       string `json:"state"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	env, ok := s.environment(w, r)
	if !ok {
		return
	}

	result, err := s.manager.StartFlow(r.Context(), env)
	if err != nil {
		writeFlowError(w, r, env, err)
		return
	}

	writeJSON(w, http.StatusOK, flowResponse{
		Success:       true,
		Details:       "visit the authorize URL and enter the PIN via verify",
		AuthorizeURL:  result.AuthorizeURL,
		RequestToken:  result.RequestToken,
		RequestSecret: result.RequestSecret,
	})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	env, ok := s.environment(w, r)
	if !ok {
		return
	}

	var req struct {
		RequestToken  string `json:"request_token"`
		RequestSecret string `json:"request_secret"`
		Verifier      string `json:"verifier"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, flowResponse{Success: false, Details: "malformed request body"})
		return
	}

	rec, err := s.manager.CompleteFlow(r.Context(), env, req.RequestToken, req.RequestSecret, req.Verifier)
	if err != nil {
		writeFlowError(w, r, env, err)
		return
	}

	writeJSON(w, http.StatusOK, flowResponse{
		Success:    true,
		Details:    "access token issued and persisted",
		OAuthToken: rec.OAuthToken,
		IssuedAt:   rec.IssuedAt.Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	env, ok := s.environment(w, r)
	if !ok {
		return
	}

	state := s.manager.Status(r.Context(), env)
	writeJSON(w, http.StatusOK, statusResponse{
		Environment: string(env),
		State:       string(state),
	})
}

func (s *Server) environment(w http.ResponseWriter, r *http.Request) (lifecycle.Environment, bool) {
	env, err := lifecycle.ParseEnvironment(r.PathValue("env"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, flowResponse{Success: false, Details: err.Error()})
		return "", false
	}
	return env, true
}

// writeFlowError maps the lifecycle error taxonomy onto HTTP statuses while
// keeping the body structured.
func writeFlowError(w http.ResponseWriter, r *http.Request, env lifecycle.Environment, err error) {
	status := http.StatusBadGateway

	var verifierErr *lifecycle.VerifierRejectedError
	var persistErr *lifecycle.PersistenceError
	switch {
	case errors.As(err, &verifierErr), errors.Is(err, lifecycle.ErrRequestTokenStale):
		status = http.StatusUnprocessableEntity
	case errors.As(err, &persistErr):
		status = http.StatusInternalServerError
	}

	slog.ErrorContext(r.Context(), "flow operation failed", "environment", env, "error", err)
	writeJSON(w, status, flowResponse{Success: false, Details: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// Start starts the HTTP server in the background and returns immediately.
// Returns a channel for runtime errors and a startup error if any.
//
// Startup errors (port in use, permission denied) are returned immediately.
// Runtime errors (network failures during operation) are sent to the error
// channel.
//
// The caller is responsible for calling Shutdown() to stop the server.
func (s *Server) Start(ctx context.Context, address string) (<-chan error, error) {
	// Startup phase: Create listener synchronously to catch port-in-use errors immediately
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	s.server = &http.Server{
		Handler:      s,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  90 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)

	go func() {
		err := s.server.Serve(listener)
		// Only report error if not from graceful shutdown
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	return errCh, nil
}

// Shutdown performs graceful shutdown of the HTTP server.
// Returns error if shutdown fails or times out.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	if err := s.server.Shutdown(ctx); err != nil {
		// Graceful shutdown failed - force close
		_ = s.server.Close()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	return nil
}
