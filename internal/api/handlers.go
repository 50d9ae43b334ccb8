package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pixel-hosting/dtr/internal/ledger"
	"github.com/pixel-hosting/dtr/internal/metrics"
	"github.com/pixel-hosting/dtr/internal/model"
	"github.com/pixel-hosting/dtr/internal/store"
)

type deliveryResult struct {
	UniverseID string `json:"universe_id"`
	Ok         bool   `json:"ok"`
	Error      string `json:"error,omitempty"`
}

type eventResult struct {
	Event      model.Event      `json:"event"`
	Deliveries []deliveryResult `json:"deliveries"`
}

func (s *Server) handleModeration(w http.ResponseWriter, r *http.Request) {
	var action model.Action
	if err := json.NewDecoder(r.Body).Decode(&action); err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}

	events, err := s.ledger.Apply(action)
	if err != nil {
		if errors.Is(err, ledger.ErrInvalidAction) {
			metrics.ActionsTotal.WithLabelValues(kindLabel(action.Kind), "rejected").Inc()
			writeAPIError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		writeAPIError(w, http.StatusInternalServerError, "internal_error", "failed to apply moderation action")
		return
	}

	// Events broadcast strictly in emission order; universes within one
	// event run in parallel inside the dispatcher.
	results := make([]eventResult, 0, len(events))
	failed := 0
	for _, ev := range events {
		metrics.EventsEmittedTotal.WithLabelValues(string(ev.Type)).Inc()
		report := s.dispatcher.Broadcast(r.Context(), ev, s.cfg.UniverseIDs)
		failed += report.Failed()

		res := eventResult{Event: ev, Deliveries: make([]deliveryResult, 0, len(report.Deliveries))}
		for _, d := range report.Deliveries {
			dr := deliveryResult{UniverseID: d.UniverseID, Ok: d.Err == nil}
			if d.Err != nil {
				dr.Error = d.Err.Error()
			}
			res.Deliveries = append(res.Deliveries, dr)
		}
		results = append(results, res)
	}

	s.recordAudit(r.Context(), action, events, failed)

	if failed > 0 {
		// The ledger already mutated and some universes already received the
		// events; surface the divergence instead of pretending it rolled back.
		metrics.BroadcastFailuresTotal.Inc()
		metrics.ActionsTotal.WithLabelValues(string(action.Kind), "broadcast_failed").Inc()
		log.Printf("event=broadcast_partial_failure kind=%s user_id=%s failed_deliveries=%d", action.Kind, action.UserID, failed)
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"status":            "broadcast_failed",
			"failed_deliveries": failed,
			"results":           results,
		})
		return
	}

	metrics.ActionsTotal.WithLabelValues(string(action.Kind), "ok").Inc()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"results": results,
	})
}

// kindLabel caps metric label cardinality: arbitrary caller strings collapse
// to "invalid".
func kindLabel(kind model.ActionKind) string {
	switch kind {
	case model.ActionWarn, model.ActionKick, model.ActionBanServer,
		model.ActionBanGlobal, model.ActionBanTemp, model.ActionUnban:
		return string(kind)
	}
	return "invalid"
}

func (s *Server) recordAudit(ctx context.Context, action model.Action, events []model.Event, failed int) {
	if s.audit == nil {
		return
	}
	types := make([]string, 0, len(events))
	for _, ev := range events {
		types = append(types, string(ev.Type))
	}
	err := s.audit.RecordAction(ctx, store.AuditInput{
		ActionKind:       string(action.Kind),
		UserID:           action.UserID,
		Reason:           action.Reason,
		DurationSeconds:  action.Duration,
		EventTypes:       types,
		DestinationCount: len(s.cfg.UniverseIDs),
		FailedDeliveries: failed,
	})
	if err != nil {
		// The trail is best-effort; never fail the action over it.
		metrics.AuditWriteFailuresTotal.Inc()
		log.Printf("event=audit_write_failed kind=%s user_id=%s err=%q", action.Kind, action.UserID, err.Error())
	}
}

func (s *Server) handleListBans(w http.ResponseWriter, _ *http.Request) {
	type banEntry struct {
		UserID    string `json:"user_id"`
		Reason    string `json:"reason"`
		ExpiresAt string `json:"expires_at,omitempty"`
	}
	bans := s.ledger.Bans()
	out := make([]banEntry, 0, len(bans))
	for userID, rec := range bans {
		entry := banEntry{UserID: userID, Reason: rec.Reason}
		if rec.ExpiresAt != nil {
			entry.ExpiresAt = rec.ExpiresAt.UTC().Format(time.RFC3339)
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	writeJSON(w, http.StatusOK, map[string]any{"bans": out})
}

func (s *Server) handlePlayerStatus(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	warnings := s.ledger.Warnings(userID)
	ban, banned := s.ledger.Ban(userID)
	sessionBanned := s.ledger.SessionBanned(userID)

	if warnings.GlobalCount == 0 && !banned && !sessionBanned {
		writeAPIError(w, http.StatusNotFound, "not_found", "no moderation records for player")
		return
	}

	resp := map[string]any{
		"user_id": userID,
		"warnings": map[string]any{
			"session": warnings.SessionCount,
			"global":  warnings.GlobalCount,
		},
		"session_banned": sessionBanned,
	}
	if banned {
		globalBan := map[string]any{"reason": ban.Reason}
		if ban.ExpiresAt != nil {
			globalBan["expires_at"] = ban.ExpiresAt.UTC().Format(time.RFC3339)
		}
		resp["global_ban"] = globalBan
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeAPIError(w, http.StatusServiceUnavailable, "audit_disabled", "audit trail is not configured")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 200 {
			writeAPIError(w, http.StatusBadRequest, "invalid_request", "limit must be 1-200")
			return
		}
		limit = n
	}

	entries, err := s.audit.ListRecent(r.Context(), limit)
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "internal_error", "failed to read audit trail")
		return
	}

	type auditEntry struct {
		ID               string   `json:"id"`
		ActionKind       string   `json:"action_kind"`
		UserID           string   `json:"user_id"`
		Reason           string   `json:"reason,omitempty"`
		DurationSeconds  int      `json:"duration_seconds,omitempty"`
		EventTypes       []string `json:"event_types"`
		DestinationCount int      `json:"destination_count"`
		FailedDeliveries int      `json:"failed_deliveries"`
		CreatedAt        string   `json:"created_at"`
	}
	out := make([]auditEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditEntry{
			ID:               e.ID,
			ActionKind:       e.ActionKind,
			UserID:           e.UserID,
			Reason:           e.Reason,
			DurationSeconds:  e.DurationSeconds,
			EventTypes:       e.EventTypes,
			DestinationCount: e.DestinationCount,
			FailedDeliveries: e.FailedDeliveries,
			CreatedAt:        e.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}
