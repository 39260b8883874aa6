// SPDX-License-Identifier: MPL-2.0

package hostserver

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/modhost/modhost/internal/core/serverbase"
	"github.com/modhost/modhost/internal/events"
	"github.com/modhost/modhost/internal/host"
	"github.com/modhost/modhost/internal/metrics"
	"github.com/modhost/modhost/internal/session"
)

const (
	// DefaultAddress is a random loopback port.
	DefaultAddress = "127.0.0.1:0"

	maxRequestBytes = 1 << 20
	shutdownTimeout = 5 * time.Second
)

type (
	// Backend is what the server exposes. *host.Host implements it.
	Backend interface {
		Load(ctx context.Context, req *host.LoaderRequest) (*host.LoaderResponse, error)
		Sessions() []host.SessionInfo
		Update() (*session.Session[*host.Job], error)
	}

	// Server serves a Backend on loopback HTTP. Start and Stop may each be
	// called once.
	Server struct {
		*serverbase.Base

		backend Backend
		hub     *events.Hub
		address string
		token   string
		logger  *log.Logger

		listener   net.Listener
		httpServer *http.Server
	}

	// Option configures a Server.
	Option func(*Server)
)

// WithAddress sets the listen address.
func WithAddress(addr string) Option {
	return func(s *Server) { s.address = addr }
}

// WithToken sets the bearer token. An empty token is replaced by a random
// one.
func WithToken(token string) Option {
	return func(s *Server) { s.token = token }
}

// WithEvents serves hub on the events endpoint.
func WithEvents(hub *events.Hub) Option {
	return func(s *Server) { s.hub = hub }
}

// WithLogger replaces the default logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates a server for backend. It does not listen until Start.
func New(backend Backend, opts ...Option) (*Server, error) {
	s := &Server{
		Base:    serverbase.NewBase(),
		backend: backend,
		address: DefaultAddress,
		logger:  log.NewWithOptions(os.Stderr, log.Options{Prefix: "hostserver", ReportTimestamp: true}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.token == "" {
		token, err := generateToken(32)
		if err != nil {
			return nil, err
		}
		s.token = token
	}

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s, nil
}

// Handler returns the routed and authenticated handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST "+PathLoader, s.authorize(http.HandlerFunc(s.handleLoader)))
	mux.Handle("GET "+PathSessions, s.authorize(http.HandlerFunc(s.handleSessions)))
	mux.Handle("POST "+PathUpdate, s.authorize(http.HandlerFunc(s.handleUpdate)))
	if s.hub != nil {
		mux.Handle("GET "+PathEvents, s.authorize(s.hub))
	}
	mux.HandleFunc("GET "+PathHealth, s.handleHealth)
	mux.Handle("GET "+PathMetrics, metrics.Handler())
	return mux
}

// Start listens and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Begin(ctx); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", s.address)
	if err != nil {
		s.Fail(err)
		return err
	}
	s.listener = ln
	s.MarkRunning()
	s.logger.Info("host server listening", "address", ln.Addr().String())

	s.Go(func(context.Context) {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("host server failed", "error", err)
			s.Fail(err)
		}
	})
	return nil
}

// Stop shuts the server down gracefully. Stopping twice is a no-op.
func (s *Server) Stop() error {
	if !s.BeginStop() {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := s.httpServer.Shutdown(ctx)
	s.Wait()
	s.MarkStopped()
	return err
}

// Address is the bound address once started, else the configured one.
func (s *Server) Address() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.address
}

// URL is the http URL clients use.
func (s *Server) URL() string { return "http://" + s.Address() }

// Token is the bearer token clients must present.
func (s *Server) Token() string { return s.token }

func (s *Server) authorize(next http.Handler) http.Handler {
	want := []byte("Bearer " + s.token)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := []byte(r.Header.Get("Authorization"))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleLoader(w http.ResponseWriter, r *http.Request) {
	var req host.LoaderRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	resp, err := s.backend.Load(r.Context(), &req)
	switch {
	case errors.Is(err, context.Canceled) && r.Context().Err() != nil:
		// The client went away while waiting.
		s.logger.Debug("loader request abandoned", "title", req.ApplicationTitle)
		return
	case errors.Is(err, host.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		s.logger.Error("loader request failed", "title", req.ApplicationTitle, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.logger.Debug("loader request answered", "title", req.ApplicationTitle,
		"modules", strings.Join(req.RequiredModules, ","), "code", resp.ErrorCode)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, SessionsResponse{Sessions: s.backend.Sessions()})
}

func (s *Server) handleUpdate(w http.ResponseWriter, _ *http.Request) {
	sess, err := s.backend.Update()
	switch {
	case errors.Is(err, host.ErrBusy):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, host.ErrNoSources):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, host.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusAccepted, UpdateResponse{Session: sess.ID()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func generateToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
