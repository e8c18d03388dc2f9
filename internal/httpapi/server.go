// Package httpapi exposes the note store over HTTP: the websocket sync
// endpoint, the account and session endpoints, and health plus metrics.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	vmetrics "github.com/VictoriaMetrics/metrics"
	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"

	"github.com/notesmd/notesync/internal/identity"
	"github.com/notesmd/notesync/internal/notestore"
)

const sessionCookieName = "notesync_session"

// ServerConfig tunes the HTTP surface. Zero values get defaults.
type ServerConfig struct {
	Accounts   *identity.Accounts
	Logger     *slog.Logger
	ReadLimit  int64
	SessionTTL time.Duration
}

type Server struct {
	store     notestore.Store
	accounts  *identity.Accounts
	logger    *slog.Logger
	readLimit int64
	router    *mux.Router
}

func NewServer(store notestore.Store) *Server {
	return NewServerWithConfig(store, ServerConfig{})
}

func NewServerWithConfig(store notestore.Store, cfg ServerConfig) *Server {
	accounts := cfg.Accounts
	if accounts == nil {
		accounts = identity.NewAccounts(cfg.SessionTTL)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	readLimit := cfg.ReadLimit
	if readLimit <= 0 {
		readLimit = 1 << 20
	}
	s := &Server{
		store:     store,
		accounts:  accounts,
		logger:    logger,
		readLimit: readLimit,
	}

	r := mux.NewRouter()
	r.Use(s.accessLog)
	r.Methods(http.MethodGet).Path("/ws").HandlerFunc(s.handleWS)
	r.Methods(http.MethodPost).Path("/account/signup").HandlerFunc(s.handleSignup)
	r.Methods(http.MethodPost).Path("/account/login").HandlerFunc(s.handleLogin)
	r.Methods(http.MethodPost).Path("/account/logout").HandlerFunc(s.handleLogout)
	r.Methods(http.MethodGet).Path("/account/profile").HandlerFunc(s.handleProfile)
	r.Methods(http.MethodGet).Path("/health").HandlerFunc(s.handleHealth)
	r.Methods(http.MethodGet).Path("/metrics").HandlerFunc(s.handleMetrics)
	s.router = r
	return s
}

// Accounts returns the identity collaborator so callers can seed users.
func (s *Server) Accounts() *identity.Accounts {
	return s.accounts
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", m.Code,
			"duration", m.Duration,
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	vmetrics.WritePrometheus(w, true)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
