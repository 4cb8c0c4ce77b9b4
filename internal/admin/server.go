package admin

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/SteelMorgan/mc-bridge/internal/domain"
	"github.com/SteelMorgan/mc-bridge/internal/updater"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Updater runs manual update checks
type Updater interface {
	CheckAndDeploy(ctx context.Context) (updater.Result, error)
	CurrentVersion() (string, bool, error)
}

// Players answers the online player query
type Players interface {
	PlayerCount(ctx context.Context) (int, string, error)
}

// StatusSource reports the server process state
type StatusSource interface {
	Status(ctx context.Context) (string, error)
}

// Config holds admin listener settings
type Config struct {
	Host string
	Port int
	// Token, when set, is required as a bearer token on /tools/*
	Token string
}

// Server exposes health, metrics and operator tools over HTTP.
// Any dependency may be nil; its endpoints then answer 503.
type Server struct {
	cfg        Config
	updater    Updater
	players    Players
	status     StatusSource
	httpServer *http.Server
}

// NewServer creates an admin server
func NewServer(cfg Config, u Updater, p Players, st StatusSource) *Server {
	return &Server{cfg: cfg, updater: u, players: p, status: st}
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/tools/update", s.authorized(s.handleUpdate))
	mux.HandleFunc("/tools/players", s.authorized(s.handlePlayers))
	mux.HandleFunc("/tools/status", s.authorized(s.handleStatus))
	mux.HandleFunc("/tools/version", s.authorized(s.handleVersion))
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return mux
}

// Start serves until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	log.Info().
		Str("addr", addr).
		Bool("token_required", s.cfg.Token != "").
		Msg("Admin server started")

	<-ctx.Done()
	return nil
}

// Stop shuts the server down gracefully
func (s *Server) Stop() error {
	log.Info().Msg("Admin server stopping...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("Error shutting down HTTP server")
			return err
		}
	}

	log.Info().Msg("Admin server stopped")
	return nil
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.updater == nil {
		writeError(w, fmt.Errorf("updater: %w", domain.ErrNotConfigured))
		return
	}

	// A deploy outlives the request: a client that hangs up mid-stop must
	// not leave the server stopped
	res, err := s.updater.CheckAndDeploy(context.WithoutCancel(r.Context()))

	resp := struct {
		updater.Result
		Error string `json:"error,omitempty"`
	}{Result: res}

	code := http.StatusOK
	if err != nil {
		resp.Error = err.Error()
		code = statusFor(err)
	}
	writeJSON(w, code, resp)
}

func (s *Server) handlePlayers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.players == nil {
		writeError(w, fmt.Errorf("remote console: %w", domain.ErrNotConfigured))
		return
	}

	count, reply, err := s.players.PlayerCount(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"online": count,
		"reply":  reply,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.status == nil {
		writeError(w, fmt.Errorf("management api: %w", domain.ErrNotConfigured))
		return
	}

	state, err := s.status.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": state})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.updater == nil {
		writeError(w, fmt.Errorf("updater: %w", domain.ErrNotConfigured))
		return
	}

	version, found, err := s.updater.CurrentVersion()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version":  version,
		"recorded": found,
	})
}

// authorized rejects requests without the configured bearer token
func (s *Server) authorized(next http.HandlerFunc) http.HandlerFunc {
	if s.cfg.Token == "" {
		return next
	}
	want := []byte(s.cfg.Token)

	return func(w http.ResponseWriter, r *http.Request) {
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			w.Header().Set("WWW-Authenticate", `Bearer realm="admin"`)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

func statusFor(err error) int {
	var stageErr *domain.StageError
	switch {
	case errors.Is(err, domain.ErrNotConfigured):
		return http.StatusServiceUnavailable
	case errors.As(err, &stageErr), domain.IsTransport(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}
