package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nvasquez/todocal-sync/internal/auth"
	"github.com/nvasquez/todocal-sync/internal/calendar"
	"github.com/nvasquez/todocal-sync/internal/domain"
	"github.com/nvasquez/todocal-sync/internal/security"
	"github.com/nvasquez/todocal-sync/internal/store"
	"github.com/nvasquez/todocal-sync/internal/sync"
)

const testSecret = "test-jwt-secret"

// fakeGateway stands in for the calendar provider on both the sync path
// (sync.Gateway) and the OAuth flow (OAuthFlow).
type fakeGateway struct {
	connected   bool
	nextEventID string
	failMutate  bool
	exchangeErr error

	createCalls int
	deleteCalls int
}

func (f *fakeGateway) EnsureValidCredential(context.Context, string) (*domain.Credential, error) {
	if !f.connected {
		return nil, nil
	}
	return &domain.Credential{AccessToken: "tok", Expiry: time.Now().Add(time.Hour)}, nil
}

func (f *fakeGateway) CreateEvent(context.Context, *domain.Credential, string, time.Time, time.Time) calendar.MutationResult {
	f.createCalls++
	if f.failMutate {
		return calendar.MutationResult{Err: errors.New("provider down")}
	}
	id := f.nextEventID
	if id == "" {
		id = "evt-api"
	}
	return calendar.MutationResult{Success: true, EventID: id}
}

func (f *fakeGateway) UpdateEvent(_ context.Context, _ *domain.Credential, eventID string, _ string, _, _ time.Time) calendar.MutationResult {
	if f.failMutate {
		return calendar.MutationResult{Err: errors.New("provider down")}
	}
	return calendar.MutationResult{Success: true, EventID: eventID}
}

func (f *fakeGateway) DeleteEvent(_ context.Context, _ *domain.Credential, eventID string) calendar.MutationResult {
	f.deleteCalls++
	if f.failMutate {
		return calendar.MutationResult{Err: errors.New("provider down")}
	}
	return calendar.MutationResult{Success: true, EventID: eventID}
}

func (f *fakeGateway) AuthURL(state string) string {
	return "https://accounts.example.test/auth?state=" + state
}

func (f *fakeGateway) ExchangeCode(_ context.Context, code string) (domain.Credential, error) {
	if f.exchangeErr != nil {
		return domain.Credential{}, f.exchangeErr
	}
	return domain.Credential{
		AccessToken:  "at-" + code,
		RefreshToken: "rt-" + code,
		Expiry:       time.Now().Add(time.Hour),
	}, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *fakeGateway, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "api.db"), auth.TokenCipher{Secret: "cipher"})
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	gw := &fakeGateway{connected: true}
	coord := sync.New(sync.Options{Store: st, Gateway: gw, Logger: slog.Default()})
	s := New(Options{
		Coordinator: coord,
		OAuth:       gw,
		Credentials: st,
		Verifier:    security.TokenVerifier{Secret: testSecret},
		Logger:      slog.Default(),
	})
	ts := httptest.NewServer(s.echo)
	t.Cleanup(ts.Close)
	return ts, gw, st
}

func token(t *testing.T, sub string) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub,
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return tok
}

func doJSON(t *testing.T, method, url, userTok string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userTok != "" {
		req.Header.Set("Authorization", "Bearer "+userTok)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	data, err := io.ReadAll(res.Body)
	res.Body.Close()
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return res, data
}

func TestAuthRequired(t *testing.T) {
	ts, _, _ := newTestServer(t)

	res, _ := doJSON(t, http.MethodGet, ts.URL+"/todos", "", nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.StatusCode)
	}

	res, _ = doJSON(t, http.MethodGet, ts.URL+"/healthz", "", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health must be open, got %d", res.StatusCode)
	}
}

func TestCreateTodoEndpoint(t *testing.T) {
	ts, gw, _ := newTestServer(t)
	gw.nextEventID = "evt-report"

	res, body := doJSON(t, http.MethodPost, ts.URL+"/todos", token(t, "u1"), map[string]any{
		"title":   "Write report",
		"dueDate": "2025-06-01T09:00:00Z",
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", res.StatusCode, body)
	}
	var todo domain.Todo
	if err := json.Unmarshal(body, &todo); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if todo.LinkedEventID == nil || *todo.LinkedEventID != "evt-report" {
		t.Fatalf("expected linkedEventId in response, got %s", body)
	}
	if gw.createCalls != 1 {
		t.Fatalf("expected one gateway create, got %d", gw.createCalls)
	}

	res, _ = doJSON(t, http.MethodPost, ts.URL+"/todos", token(t, "u1"), map[string]any{"title": "   "})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank title, got %d", res.StatusCode)
	}
}

func TestCreateSurvivesGatewayFailureOverHTTP(t *testing.T) {
	ts, gw, _ := newTestServer(t)
	gw.failMutate = true

	res, body := doJSON(t, http.MethodPost, ts.URL+"/todos", token(t, "u1"), map[string]any{
		"title":   "still here",
		"dueDate": "2025-06-01T09:00:00Z",
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("gateway failure must not fail the create, got %d: %s", res.StatusCode, body)
	}
	var todo domain.Todo
	if err := json.Unmarshal(body, &todo); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if todo.LinkedEventID != nil {
		t.Fatal("expected null linkedEventId after gateway failure")
	}
}

func TestUpdateTodoEndpoint(t *testing.T) {
	ts, _, _ := newTestServer(t)
	u1 := token(t, "u1")

	_, body := doJSON(t, http.MethodPost, ts.URL+"/todos", u1, map[string]any{"title": "t"})
	var created domain.Todo
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("decoding: %v", err)
	}

	res, _ := doJSON(t, http.MethodPut, ts.URL+"/todos/"+created.ID, u1, map[string]any{})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty patch, got %d", res.StatusCode)
	}

	res, body = doJSON(t, http.MethodPut, ts.URL+"/todos/"+created.ID, u1, map[string]any{"description": "notes"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.StatusCode, body)
	}
	var updated domain.Todo
	if err := json.Unmarshal(body, &updated); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if updated.Description != "notes" {
		t.Fatalf("patch not applied: %+v", updated)
	}

	res, _ = doJSON(t, http.MethodPut, ts.URL+"/todos/no-such-id", u1, map[string]any{"title": "x"})
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.StatusCode)
	}

	res, _ = doJSON(t, http.MethodPut, ts.URL+"/todos/"+created.ID, token(t, "u2"), map[string]any{"title": "x"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for foreign todo, got %d", res.StatusCode)
	}
}

func TestDueDateNullClearsLink(t *testing.T) {
	ts, gw, _ := newTestServer(t)
	u1 := token(t, "u1")

	_, body := doJSON(t, http.MethodPost, ts.URL+"/todos", u1, map[string]any{
		"title":   "linked",
		"dueDate": "2025-06-01T09:00:00Z",
	})
	var created domain.Todo
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if created.LinkedEventID == nil {
		t.Fatal("precondition: todo must be linked")
	}

	res, body := doJSON(t, http.MethodPut, ts.URL+"/todos/"+created.ID, u1, map[string]any{"dueDate": nil})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.StatusCode, body)
	}
	var updated domain.Todo
	if err := json.Unmarshal(body, &updated); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if updated.DueDate != nil || updated.LinkedEventID != nil {
		t.Fatalf("null dueDate must clear date and link: %s", body)
	}
	if gw.deleteCalls != 1 {
		t.Fatalf("expected one remote delete, got %d", gw.deleteCalls)
	}
}

func TestDeleteAndCompleteEndpoints(t *testing.T) {
	ts, _, _ := newTestServer(t)
	u1 := token(t, "u1")

	_, body := doJSON(t, http.MethodPost, ts.URL+"/todos", u1, map[string]any{"title": "t"})
	var created domain.Todo
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("decoding: %v", err)
	}

	res, body := doJSON(t, http.MethodPut, ts.URL+"/todos/"+created.ID+"/complete", u1, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	var toggled domain.Todo
	if err := json.Unmarshal(body, &toggled); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if toggled.Status != domain.StatusCompleted || toggled.CompletedAt == nil {
		t.Fatalf("toggle result wrong: %s", body)
	}

	res, body = doJSON(t, http.MethodDelete, ts.URL+"/todos/"+created.ID, u1, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	var msg map[string]string
	if err := json.Unmarshal(body, &msg); err != nil || msg["message"] == "" {
		t.Fatalf("expected message body, got %s", body)
	}

	res, _ = doJSON(t, http.MethodGet, ts.URL+"/todos/"+created.ID, u1, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", res.StatusCode)
	}
}

func TestUpcomingDefaultLimit(t *testing.T) {
	ts, _, _ := newTestServer(t)
	u1 := token(t, "u1")

	for i := 0; i < 4; i++ {
		due := time.Now().Add(time.Duration(i+1) * time.Hour).UTC().Format(time.RFC3339)
		res, _ := doJSON(t, http.MethodPost, ts.URL+"/todos", u1, map[string]any{
			"title":   fmt.Sprintf("todo %d", i),
			"dueDate": due,
		})
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("seed create failed: %d", res.StatusCode)
		}
	}

	res, body := doJSON(t, http.MethodGet, ts.URL+"/todos/upcoming", u1, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	var todos []domain.Todo
	if err := json.Unmarshal(body, &todos); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(todos) != 2 {
		t.Fatalf("default limit must be 2, got %d", len(todos))
	}

	res, body = doJSON(t, http.MethodGet, ts.URL+"/todos/upcoming?limit=3", u1, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	if err := json.Unmarshal(body, &todos); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(todos) != 3 {
		t.Fatalf("expected 3 todos, got %d", len(todos))
	}
}

func TestCalendarEndpoints(t *testing.T) {
	ts, gw, _ := newTestServer(t)
	u1 := token(t, "u1")
	event := map[string]any{
		"title": "Meet",
		"start": "2025-06-05T10:00:00Z",
		"end":   "2025-06-05T11:00:00Z",
	}

	gw.connected = false
	res, body := doJSON(t, http.MethodPost, ts.URL+"/calendar/events", u1, event)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 when disconnected, got %d", res.StatusCode)
	}
	var reconnect map[string]any
	if err := json.Unmarshal(body, &reconnect); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if reconnect["needsReconnect"] != true || reconnect["connected"] != false {
		t.Fatalf("expected needsReconnect payload, got %s", body)
	}

	gw.connected = true
	gw.nextEventID = "evt-meet"
	res, body = doJSON(t, http.MethodPost, ts.URL+"/calendar/events", u1, event)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.StatusCode, body)
	}
	var created struct {
		Connected bool         `json:"connected"`
		Event     domain.Event `json:"event"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if !created.Connected || created.Event.ID != "evt-meet" {
		t.Fatalf("unexpected payload: %s", body)
	}

	gw.failMutate = true
	res, _ = doJSON(t, http.MethodDelete, ts.URL+"/calendar/events/evt-meet", u1, nil)
	if res.StatusCode != http.StatusInternalServerError {
		t.Fatalf("calendar-direct gateway failure must be 500, got %d", res.StatusCode)
	}
}

func TestNotificationFlow(t *testing.T) {
	ts, _, st := newTestServer(t)
	u1 := token(t, "u1")
	notif := map[string]any{
		"type": "created",
		"event": map[string]any{
			"id":    "evt-ext",
			"title": "Standup",
			"start": "2025-06-05T10:00:00Z",
			"end":   "2025-06-05T10:30:00Z",
		},
	}

	res, _ := doJSON(t, http.MethodPost, ts.URL+"/calendar/notifications", u1, notif)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	todo, err := st.FindTodoByEvent(context.Background(), "u1", "evt-ext")
	if err != nil {
		t.Fatalf("todo not created from event: %v", err)
	}
	if todo.Title != "Standup" {
		t.Fatalf("unexpected todo: %+v", todo)
	}

	// Redelivery does not duplicate.
	res, _ = doJSON(t, http.MethodPost, ts.URL+"/calendar/notifications", u1, notif)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("redelivery must be 200, got %d", res.StatusCode)
	}
	todos, err := st.ListTodos(context.Background(), "u1", nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(todos) != 1 {
		t.Fatalf("expected one todo after redelivery, got %d", len(todos))
	}

	notif["type"] = "deleted"
	res, _ = doJSON(t, http.MethodPost, ts.URL+"/calendar/notifications", u1, notif)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	if _, err := st.FindTodoByEvent(context.Background(), "u1", "evt-ext"); err == nil {
		t.Fatal("todo must be removed after delete notification")
	}

	notif["type"] = "mystery"
	res, _ = doJSON(t, http.MethodPost, ts.URL+"/calendar/notifications", u1, notif)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown type, got %d", res.StatusCode)
	}
}

func TestOAuthLifecycle(t *testing.T) {
	ts, _, _ := newTestServer(t)
	u1 := token(t, "u1")

	res, body := doJSON(t, http.MethodGet, ts.URL+"/calendar/connect", u1, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	var connect map[string]string
	if err := json.Unmarshal(body, &connect); err != nil || connect["url"] == "" {
		t.Fatalf("expected consent url, got %s", body)
	}

	res, _ = doJSON(t, http.MethodGet, ts.URL+"/calendar/oauth/callback?code=abc", u1, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 on callback, got %d", res.StatusCode)
	}

	res, body = doJSON(t, http.MethodGet, ts.URL+"/calendar/status", u1, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	var status map[string]any
	if err := json.Unmarshal(body, &status); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if status["connected"] != true {
		t.Fatalf("expected connected status, got %s", body)
	}

	res, _ = doJSON(t, http.MethodDelete, ts.URL+"/calendar/connection", u1, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	res, body = doJSON(t, http.MethodGet, ts.URL+"/calendar/status", u1, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	if err := json.Unmarshal(body, &status); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if status["connected"] != false {
		t.Fatalf("expected disconnected status, got %s", body)
	}

	res, _ = doJSON(t, http.MethodGet, ts.URL+"/calendar/oauth/callback", u1, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without code, got %d", res.StatusCode)
	}
}
