package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pixel-hosting/dtr/internal/broadcast"
	"github.com/pixel-hosting/dtr/internal/config"
	"github.com/pixel-hosting/dtr/internal/ledger"
	"github.com/pixel-hosting/dtr/internal/publish"
	"github.com/pixel-hosting/dtr/internal/store"
)

type mockAudit struct {
	recordFn func(context.Context, store.AuditInput) error
	listFn   func(context.Context, int) ([]store.AuditEntry, error)
	recorded []store.AuditInput
}

func (m *mockAudit) RecordAction(ctx context.Context, in store.AuditInput) error {
	m.recorded = append(m.recorded, in)
	if m.recordFn != nil {
		return m.recordFn(ctx, in)
	}
	return nil
}

func (m *mockAudit) ListRecent(ctx context.Context, limit int) ([]store.AuditEntry, error) {
	if m.listFn != nil {
		return m.listFn(ctx, limit)
	}
	return nil, nil
}

func testConfig() config.Config {
	return config.Config{
		ListenAddr:  ":3000",
		UniverseIDs: []string{"u1", "u2", "u3"},
		Publisher:   "fake",
	}
}

func newTestRouter(pub publish.Publisher, audit AuditStore) (http.Handler, *ledger.Ledger) {
	led := ledger.New()
	disp := broadcast.NewDispatcher(pub, broadcast.Options{Timeout: time.Second})
	return NewRouter(testConfig(), led, disp, audit), led
}

func postModeration(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/moderation", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

type moderationResponse struct {
	Status           string `json:"status"`
	FailedDeliveries int    `json:"failed_deliveries"`
	Results          []struct {
		Event struct {
			Type      string `json:"type"`
			UserID    string `json:"userId"`
			Reason    string `json:"reason"`
			ExpiresAt int64  `json:"expiresAt"`
		} `json:"event"`
		Deliveries []struct {
			UniverseID string `json:"universe_id"`
			Ok         bool   `json:"ok"`
			Error      string `json:"error"`
		} `json:"deliveries"`
	} `json:"results"`
}

func TestHandleModeration_WarnBroadcastsToAllUniverses(t *testing.T) {
	pub := publish.NewFakePublisher()
	h, _ := newTestRouter(pub, nil)

	rec := postModeration(t, h, `{"action":"warn","userId":"usr_1","reason":"spam"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body.String())
	}

	var resp moderationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "ok" || len(resp.Results) != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Results[0].Event.Type != "warn" || len(resp.Results[0].Deliveries) != 3 {
		t.Fatalf("unexpected result: %+v", resp.Results[0])
	}
	if len(pub.Published()) != 3 {
		t.Fatalf("expected 3 publishes, got %d", len(pub.Published()))
	}
}

func TestHandleModeration_SecondWarnBroadcastsKickThenWarn(t *testing.T) {
	pub := publish.NewFakePublisher()
	h, _ := newTestRouter(pub, nil)

	postModeration(t, h, `{"action":"warn","userId":"usr_1","reason":"spam"}`)
	rec := postModeration(t, h, `{"action":"warn","userId":"usr_1","reason":"spam again"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp moderationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("expected 2 events, got %d", len(resp.Results))
	}
	if resp.Results[0].Event.Type != "kick" || resp.Results[1].Event.Type != "warn" {
		t.Fatalf("unexpected event order: %s, %s", resp.Results[0].Event.Type, resp.Results[1].Event.Type)
	}
	// 3 universes x (1 warn + 1 kick + 1 warn) deliveries in total.
	if len(pub.Published()) != 9 {
		t.Fatalf("expected 9 publishes, got %d", len(pub.Published()))
	}
}

func TestHandleModeration_PartialBroadcastFailureIs502(t *testing.T) {
	pub := publish.NewFakePublisher()
	pub.FailUniverse("u2", errors.New("universe unreachable"))
	h, led := newTestRouter(pub, nil)

	rec := postModeration(t, h, `{"action":"ban-global","userId":"usr_1","reason":"cheating"}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502; body: %s", rec.Code, rec.Body.String())
	}

	var resp moderationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "broadcast_failed" || resp.FailedDeliveries != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}

	// The mutation stands and the healthy universes received the event.
	if _, ok := led.Ban("usr_1"); !ok {
		t.Fatal("ledger mutation should not roll back on delivery failure")
	}
	if len(pub.Published()) != 2 {
		t.Fatalf("expected 2 successful publishes, got %d", len(pub.Published()))
	}
	for _, d := range resp.Results[0].Deliveries {
		if d.UniverseID == "u2" && d.Ok {
			t.Fatal("u2 should be reported as failed")
		}
		if d.UniverseID != "u2" && !d.Ok {
			t.Fatalf("unexpected failure for %s: %s", d.UniverseID, d.Error)
		}
	}
}

func TestHandleModeration_ValidationErrorIs400(t *testing.T) {
	pub := publish.NewFakePublisher()
	h, led := newTestRouter(pub, nil)

	rec := postModeration(t, h, `{"action":"warn"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if len(pub.Published()) != 0 {
		t.Fatal("rejected action must not publish anything")
	}
	if rec2 := led.Warnings(""); rec2.GlobalCount != 0 {
		t.Fatal("rejected action must not mutate the ledger")
	}

	var payload apiError
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if payload.Error.Code != "invalid_request" {
		t.Fatalf("unexpected error code: %s", payload.Error.Code)
	}
}

func TestHandleModeration_MalformedJSONIs400(t *testing.T) {
	h, _ := newTestRouter(publish.NewFakePublisher(), nil)
	rec := postModeration(t, h, `{"action":`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleModeration_BanTempCarriesExpiry(t *testing.T) {
	pub := publish.NewFakePublisher()
	h, _ := newTestRouter(pub, nil)

	before := time.Now().UnixMilli()
	rec := postModeration(t, h, `{"action":"ban-temp","userId":"usr_1","reason":"cooldown","duration":60}`)
	after := time.Now().UnixMilli()
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body.String())
	}

	var resp moderationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	got := resp.Results[0].Event.ExpiresAt
	if got < before+60_000 || got > after+60_000 {
		t.Fatalf("expiresAt = %d, want within [%d, %d]", got, before+60_000, after+60_000)
	}
}

func TestHandleModeration_RecordsAudit(t *testing.T) {
	audit := &mockAudit{}
	h, _ := newTestRouter(publish.NewFakePublisher(), audit)

	rec := postModeration(t, h, `{"action":"kick","userId":"usr_1","reason":"afk"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(audit.recorded) != 1 {
		t.Fatalf("expected 1 audit row, got %d", len(audit.recorded))
	}
	in := audit.recorded[0]
	if in.ActionKind != "kick" || in.UserID != "usr_1" || in.DestinationCount != 3 || in.FailedDeliveries != 0 {
		t.Fatalf("unexpected audit input: %+v", in)
	}
}

func TestHandleModeration_AuditFailureDoesNotFailAction(t *testing.T) {
	audit := &mockAudit{recordFn: func(context.Context, store.AuditInput) error {
		return errors.New("db down")
	}}
	h, _ := newTestRouter(publish.NewFakePublisher(), audit)

	rec := postModeration(t, h, `{"action":"warn","userId":"usr_1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 despite audit failure", rec.Code)
	}
}

func TestHandlePlayerStatus(t *testing.T) {
	h, _ := newTestRouter(publish.NewFakePublisher(), nil)

	req := httptest.NewRequest(http.MethodGet, "/moderation/bans/usr_1", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status for unknown player = %d, want 404", rec.Code)
	}

	postModeration(t, h, `{"action":"warn","userId":"usr_1","reason":"spam"}`)
	postModeration(t, h, `{"action":"ban-server","userId":"usr_1","reason":"exploiting"}`)

	req = httptest.NewRequest(http.MethodGet, "/moderation/bans/usr_1", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp struct {
		UserID   string `json:"user_id"`
		Warnings struct {
			Session int `json:"session"`
			Global  int `json:"global"`
		} `json:"warnings"`
		SessionBanned bool           `json:"session_banned"`
		GlobalBan     map[string]any `json:"global_ban"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Warnings.Session != 1 || resp.Warnings.Global != 1 {
		t.Fatalf("unexpected warning counts: %+v", resp.Warnings)
	}
	if !resp.SessionBanned {
		t.Fatal("expected session_banned true")
	}
	if resp.GlobalBan != nil {
		t.Fatalf("unexpected global ban: %v", resp.GlobalBan)
	}
}

func TestHandleListBans(t *testing.T) {
	h, _ := newTestRouter(publish.NewFakePublisher(), nil)
	postModeration(t, h, `{"action":"ban-global","userId":"usr_b","reason":"cheating"}`)
	postModeration(t, h, `{"action":"ban-temp","userId":"usr_a","reason":"cooldown","duration":3600}`)

	req := httptest.NewRequest(http.MethodGet, "/moderation/bans", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp struct {
		Bans []struct {
			UserID    string `json:"user_id"`
			Reason    string `json:"reason"`
			ExpiresAt string `json:"expires_at"`
		} `json:"bans"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Bans) != 2 {
		t.Fatalf("expected 2 bans, got %d", len(resp.Bans))
	}
	if resp.Bans[0].UserID != "usr_a" || resp.Bans[0].ExpiresAt == "" {
		t.Fatalf("unexpected first ban: %+v", resp.Bans[0])
	}
	if resp.Bans[1].UserID != "usr_b" || resp.Bans[1].ExpiresAt != "" {
		t.Fatalf("unexpected second ban: %+v", resp.Bans[1])
	}
}

func TestHandleAuditLog_DisabledIs503(t *testing.T) {
	h, _ := newTestRouter(publish.NewFakePublisher(), nil)
	req := httptest.NewRequest(http.MethodGet, "/moderation/audit", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestHandleAuditLog_ReturnsEntries(t *testing.T) {
	createdAt := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	audit := &mockAudit{listFn: func(_ context.Context, limit int) ([]store.AuditEntry, error) {
		if limit != 50 {
			t.Errorf("default limit = %d, want 50", limit)
		}
		return []store.AuditEntry{{
			ID:               "aud_1",
			ActionKind:       "warn",
			UserID:           "usr_1",
			EventTypes:       []string{"warn"},
			DestinationCount: 3,
			CreatedAt:        createdAt,
		}}, nil
	}}
	h, _ := newTestRouter(publish.NewFakePublisher(), audit)

	req := httptest.NewRequest(http.MethodGet, "/moderation/audit", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp struct {
		Entries []struct {
			ID        string `json:"id"`
			CreatedAt string `json:"created_at"`
		} `json:"entries"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Entries) != 1 || resp.Entries[0].ID != "aud_1" {
		t.Fatalf("unexpected entries: %+v", resp.Entries)
	}
	if resp.Entries[0].CreatedAt != "2026-02-10T12:00:00Z" {
		t.Fatalf("unexpected created_at: %s", resp.Entries[0].CreatedAt)
	}
}

func TestHandleAuditLog_RejectsBadLimit(t *testing.T) {
	audit := &mockAudit{}
	h, _ := newTestRouter(publish.NewFakePublisher(), audit)
	req := httptest.NewRequest(http.MethodGet, "/moderation/audit?limit=9999", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
