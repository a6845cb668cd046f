package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/olegiv/onboardbot/internal/store"
)

type call struct {
	kind string
	user int64
	arg  string
}

type fakeHandler struct {
	calls []call
}

func (f *fakeHandler) HandleStart(_ context.Context, userID int64) error {
	f.calls = append(f.calls, call{kind: "start", user: userID})
	return nil
}

func (f *fakeHandler) HandleCallback(_ context.Context, userID int64, _, data string) error {
	f.calls = append(f.calls, call{kind: "callback", user: userID, arg: data})
	return nil
}

func (f *fakeHandler) HandleText(_ context.Context, userID int64, text string) error {
	f.calls = append(f.calls, call{kind: "text", user: userID, arg: text})
	return nil
}

func (f *fakeHandler) HandleContact(_ context.Context, userID int64, phone string) error {
	f.calls = append(f.calls, call{kind: "contact", user: userID, arg: phone})
	return nil
}

func postUpdate(t *testing.T, router http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestWebhookDispatch(t *testing.T) {
	cases := []struct {
		name string
		body string
		want call
	}{
		{
			name: "start command",
			body: `{"update_id":1,"message":{"message_id":1,"chat":{"id":42},"text":"/start"}}`,
			want: call{kind: "start", user: 42},
		},
		{
			name: "plain text",
			body: `{"update_id":2,"message":{"message_id":2,"chat":{"id":42},"text":"Иванов"}}`,
			want: call{kind: "text", user: 42, arg: "Иванов"},
		},
		{
			name: "callback",
			body: `{"update_id":3,"callback_query":{"id":"cb1","from":{"id":42},"data":"menu:T2"}}`,
			want: call{kind: "callback", user: 42, arg: "menu:T2"},
		},
		{
			name: "contact",
			body: `{"update_id":4,"message":{"message_id":3,"chat":{"id":42},"contact":{"phone_number":"+79815550011","user_id":42}}}`,
			want: call{kind: "contact", user: 42, arg: "+79815550011"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := &fakeHandler{}
			router := New(Options{Engine: h}).Router()

			rec := postUpdate(t, router, tc.body)
			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rec.Code)
			}
			if len(h.calls) != 1 || h.calls[0] != tc.want {
				t.Errorf("expected %+v, got %+v", tc.want, h.calls)
			}
		})
	}
}

func TestWebhookIgnoresOtherUpdates(t *testing.T) {
	h := &fakeHandler{}
	router := New(Options{Engine: h}).Router()

	rec := postUpdate(t, router, `{"update_id":5}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(h.calls) != 0 {
		t.Errorf("expected no dispatch, got %+v", h.calls)
	}
}

func TestWebhookBadBodyStillAccepted(t *testing.T) {
	h := &fakeHandler{}
	router := New(Options{Engine: h}).Router()

	// A retry loop on a poison update would be worse than dropping it.
	rec := postUpdate(t, router, `{not json`)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for bad body, got %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	router := New(Options{Engine: &fakeHandler{}}).Router()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ok") {
		t.Errorf("unexpected health response: %d %s", rec.Code, rec.Body.String())
	}
}

func testQueries(t *testing.T) *store.Queries {
	t.Helper()
	db, err := store.NewDB(filepath.Join(t.TempDir(), "server_test.db"))
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := store.Migrate(db); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	return store.New(db)
}

func adminGet(t *testing.T, router http.Handler, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestAdminEventsEndpoint(t *testing.T) {
	queries := testQueries(t)
	ctx := context.Background()
	_, err := queries.CreateEvent(ctx, store.CreateEventParams{
		Level:     "ERROR",
		Category:  "form",
		Message:   "form submission failed",
		UserID:    sql.NullInt64{Int64: 42, Valid: true},
		CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}

	router := New(Options{Engine: &fakeHandler{}, Queries: queries, AdminToken: "secret"}).Router()

	if rec := adminGet(t, router, "/admin/events", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", rec.Code)
	}

	rec := adminGet(t, router, "/admin/events", "secret")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var entries []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(entries) != 1 || entries[0]["message"] != "form submission failed" {
		t.Errorf("unexpected entries: %+v", entries)
	}
	if entries[0]["user_id"] != float64(42) {
		t.Errorf("expected user_id 42, got %v", entries[0]["user_id"])
	}
}

func TestAdminBroadcastStatus(t *testing.T) {
	queries := testQueries(t)
	ctx := context.Background()
	now := time.Now()
	if err := queries.CreateBroadcast(ctx, "run-1", "hello", 3, now); err != nil {
		t.Fatalf("CreateBroadcast: %v", err)
	}
	_ = queries.RecordDelivery(ctx, "run-1", 1, store.DeliveryStatusSent, "", now)
	_ = queries.RecordDelivery(ctx, "run-1", 2, store.DeliveryStatusFailed, "blocked", now)

	router := New(Options{Engine: &fakeHandler{}, Queries: queries, AdminToken: "secret"}).Router()

	rec := adminGet(t, router, "/admin/broadcast/run-1", "secret")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var status map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if status["total"] != float64(3) || status["sent"] != float64(1) || status["failed"] != float64(1) {
		t.Errorf("unexpected status: %+v", status)
	}

	if rec := adminGet(t, router, "/admin/broadcast/missing", "secret"); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown run, got %d", rec.Code)
	}
}

func TestBroadcastEndpointDisabledWithoutToken(t *testing.T) {
	router := New(Options{Engine: &fakeHandler{}}).Router()

	req := httptest.NewRequest(http.MethodPost, "/admin/broadcast", strings.NewReader(`{"message":"hi"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound && rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected endpoint absent, got %d", rec.Code)
	}
}
