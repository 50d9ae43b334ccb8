package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pixel-hosting/dtr/internal/broadcast"
	"github.com/pixel-hosting/dtr/internal/config"
	"github.com/pixel-hosting/dtr/internal/ledger"
	"github.com/pixel-hosting/dtr/internal/store"
)

// AuditStore is the optional action-history sink. A nil AuditStore disables
// the trail.
type AuditStore interface {
	RecordAction(ctx context.Context, in store.AuditInput) error
	ListRecent(ctx context.Context, limit int) ([]store.AuditEntry, error)
}

type Server struct {
	cfg        config.Config
	ledger     *ledger.Ledger
	dispatcher *broadcast.Dispatcher
	audit      AuditStore
}

func NewRouter(cfg config.Config, led *ledger.Ledger, disp *broadcast.Dispatcher, audit AuditStore) http.Handler {
	s := &Server{cfg: cfg, ledger: led, dispatcher: disp, audit: audit}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	// One action can fan out to every universe; leave room for slow publishes.
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Post("/moderation", s.handleModeration)
	r.Get("/moderation/bans", s.handleListBans)
	r.Get("/moderation/bans/{userID}", s.handlePlayerStatus)
	r.Get("/moderation/audit", s.handleAuditLog)

	return r
}

type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	var payload apiError
	payload.Error.Code = code
	payload.Error.Message = message
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
