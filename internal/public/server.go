// internal/public/server.go

// Package public is the daemon's external surface: a bearer-authenticated
// JSON API under /v1 and /v2, a WebSocket endpoint for real-time events,
// and the static web app bundle with single-page-app fallback.
package public

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/user/remcli/internal/auth"
	"github.com/user/remcli/internal/router"
	"github.com/user/remcli/internal/rpc"
	"github.com/user/remcli/internal/store"
)

// Server glues the auth kit, store, event router and rpc registry behind
// one listener.
type Server struct {
	secret    []byte
	store     *store.Store
	events    *router.Router
	rpc       *rpc.Registry
	bundleDir string

	mux      *http.ServeMux
	httpSrv  *http.Server
	listener net.Listener
}

// NewServer wires the public plane. bundleDir may be empty, in which
// case a built-in placeholder page is served.
func NewServer(secret []byte, st *store.Store, events *router.Router, registry *rpc.Registry, bundleDir string) *Server {
	s := &Server{
		secret:    secret,
		store:     st,
		events:    events,
		rpc:       registry,
		bundleDir: bundleDir,
		mux:       http.NewServeMux(),
	}

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /v1/updates", s.handleUpdates)

	s.mux.Handle("/v1/", s.requireBearer(http.HandlerFunc(s.handleV1)))
	s.mux.Handle("/v2/", s.requireBearer(http.HandlerFunc(s.handleV2)))

	s.mux.HandleFunc("/", s.handleStatic)
	return s
}

// ServeHTTP applies CORS and delegates to the mux.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.mux.ServeHTTP(w, r)
}

// Start binds all interfaces on an OS-assigned port and begins serving.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", "0.0.0.0:0")
	if err != nil {
		return fmt.Errorf("listen public plane: %w", err)
	}
	s.listener = listener
	s.httpSrv = &http.Server{Handler: s}
	go func() {
		if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
			slog.Error("public plane serve failed", "error", err)
		}
	}()
	slog.Info("public plane listening", "addr", listener.Addr())
	return nil
}

// Port returns the bound port.
func (s *Server) Port() int {
	if s.listener == nil {
		return 0
	}
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Shutdown stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// requireBearer rejects requests whose Authorization header does not
// carry the daemon's bearer token.
func (s *Server) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || !auth.VerifyToken(strings.TrimSpace(token), s.secret) {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStatic serves the web bundle with SPA fallback: unknown GET
// paths outside /v1 and /v2 return index.html so client-side routing
// works after a hard reload.
func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	if strings.HasPrefix(r.URL.Path, "/v1/") || strings.HasPrefix(r.URL.Path, "/v2/") {
		http.NotFound(w, r)
		return
	}

	if s.bundleDir == "" {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html><body><h1>remcli daemon</h1><p>No web bundle configured.</p></body></html>")
		return
	}

	path := filepath.Join(s.bundleDir, filepath.Clean("/"+r.URL.Path))
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		http.ServeFile(w, r, path)
		return
	}
	http.ServeFile(w, r, filepath.Join(s.bundleDir, "index.html"))
}
