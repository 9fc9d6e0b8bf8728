package session

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"analytics-hub/internal/device"
	"analytics-hub/internal/httpapi"
	"analytics-hub/internal/observability"
	"analytics-hub/internal/requestctx"
)

type fakeSessionStore struct {
	upserts []*Session
	err     error
}

func (s *fakeSessionStore) Upsert(_ context.Context, _ *sql.DB, _ string, sess *Session) error {
	if s.err != nil {
		return s.err
	}
	s.upserts = append(s.upserts, sess)
	return nil
}

var testDeviceID = uuid.MustParse("3f1a9c2e-6d4b-4e8a-9f21-58c7d0aa41be")

func upload(t *testing.T, store *fakeSessionStore, body map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	h := NewHandler(store, observability.NewLogger())

	encoded, _ := json.Marshal(body)
	r := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", bytes.NewReader(encoded))
	rc := &requestctx.Context{
		ProjectID:   "mobile-app",
		TablePrefix: "analytics_",
		Device:      &device.Device{DeviceID: testDeviceID},
		UserID:      "0123456789abcdef0123456789abcdef",
	}
	rec := httptest.NewRecorder()
	h.Upload(rec, r.WithContext(requestctx.With(r.Context(), rc)))
	return rec
}

func TestUploadSession(t *testing.T) {
	store := &fakeSessionStore{}
	sessionID := uuid.New()
	start := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	rec := upload(t, store, map[string]any{
		"sessionId":         sessionID.String(),
		"sessionStartTime":  start.Format(time.RFC3339),
		"sessionDurationMs": 42000,
		"deviceModel":       "Pixel 9",
		"screenCount":       7,
		"eventCount":        31,
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if len(store.upserts) != 1 {
		t.Fatalf("upserts = %d", len(store.upserts))
	}

	sess := store.upserts[0]
	if sess.SessionID != sessionID || !sess.StartTime.Equal(start) {
		t.Fatalf("session = %+v", sess)
	}
	if sess.DurationMS != 42000 || sess.ScreenCount != 7 || sess.EventCount != 31 {
		t.Fatalf("counts = %+v", sess)
	}
	if sess.DeviceID != testDeviceID || sess.UserID != "0123456789abcdef0123456789abcdef" {
		t.Fatalf("identity = %+v", sess)
	}
}

func TestUploadSessionDefaultsCounts(t *testing.T) {
	store := &fakeSessionStore{}
	rec := upload(t, store, map[string]any{
		"sessionId":        uuid.New().String(),
		"sessionStartTime": time.Now().UTC().Format(time.RFC3339),
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	sess := store.upserts[0]
	if sess.DurationMS != 0 || sess.ScreenCount != 0 || sess.EventCount != 0 {
		t.Fatalf("defaults = %+v", sess)
	}
}

func TestUploadSessionValidation(t *testing.T) {
	cases := []struct {
		name string
		body map[string]any
		code string
	}{
		{"missing session id", map[string]any{"sessionStartTime": "2025-06-01T10:00:00Z"}, "MISSING_SESSION_ID"},
		{"bad session id", map[string]any{"sessionId": "nope", "sessionStartTime": "2025-06-01T10:00:00Z"}, "INVALID_SESSION_ID"},
		{"missing start time", map[string]any{"sessionId": uuid.New().String()}, "MISSING_SESSION_START_TIME"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := &fakeSessionStore{}
			rec := upload(t, store, tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d", rec.Code)
			}
			var resp httpapi.Response
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Error == nil || resp.Error.Code != tc.code {
				t.Fatalf("error = %+v, want %s", resp.Error, tc.code)
			}
			if len(store.upserts) != 0 {
				t.Fatal("invalid session stored")
			}
		})
	}
}
