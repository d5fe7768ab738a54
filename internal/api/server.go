// Package api serves the node's HTTP status, signing and metrics endpoints.
package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"Tessera/internal/engine"
	"Tessera/internal/hints"
	"Tessera/internal/logger"
)

// StatusProvider exposes the construction state for monitoring.
type StatusProvider interface {
	Status() engine.Status
}

// Signer produces aggregate signatures with the active scheme.
type Signer interface {
	Sign(ctx context.Context, message []byte) ([]byte, error)
}

// Server is the HTTP API server.
type Server struct {
	addr     string         // addr is the HTTP listen address
	status   StatusProvider // status provides the construction state
	signer   Signer         // signer requests aggregate signatures
	metrics  http.Handler   // metrics serves the Prometheus registry, nil to disable
	server   *http.Server   // server is the underlying HTTP server
	listener net.Listener   // listener is bound by Start
}

// New creates a new HTTP API server.
func New(addr string, status StatusProvider, signer Signer, metrics http.Handler) *Server {
	return &Server{
		addr:    addr,
		status:  status,
		signer:  signer,
		metrics: metrics,
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /sign", s.handleSign)

	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}

	return mux
}

// Start binds the listen address and serves in a goroutine.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s:\n%w", s.addr, err)
	}

	s.listener = listener
	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: maxSignTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("http api started", "addr", listener.Addr().String())

		if err := s.server.Serve(listener); err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}

	return s.listener.Addr().String()
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// handleHealth handles GET /health requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// handleStatus handles GET /status requests.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		writeError(w, http.StatusServiceUnavailable, "status not available")
		return
	}

	writeJSON(w, http.StatusOK, s.status.Status())
}

// SignRequest is the body of POST /sign.
type SignRequest struct {
	Message string `json:"message"`           // Message is the hex-encoded message
	Timeout string `json:"timeout,omitempty"` // Timeout bounds the wait, e.g. "10s"
}

// SignResponse is the body of a successful POST /sign.
type SignResponse struct {
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

// handleSign handles POST /sign requests. It waits until the aggregate
// signature is ready or the timeout expires.
func (s *Server) handleSign(w http.ResponseWriter, r *http.Request) {
	if s.signer == nil {
		writeError(w, http.StatusNotImplemented, "signing not available")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestSize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	message, timeout, err := parseSignRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	sig, err := s.signer.Sign(ctx, message)
	if err != nil {
		writeError(w, signStatus(err), err.Error())
		return
	}

	logger.Debug("aggregate signature served", "message_len", len(message))

	writeJSON(w, http.StatusOK, SignResponse{
		Message:   hex.EncodeToString(message),
		Signature: hex.EncodeToString(sig),
	})
}

// signStatus maps a signing error to an HTTP status.
func signStatus(err error) int {
	switch {
	case errors.Is(err, hints.ErrNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, engine.ErrHintsDisabled):
		return http.StatusNotImplemented
	case errors.Is(err, hints.ErrSigningExpired), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}
