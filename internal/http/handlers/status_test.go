package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRoot(t *testing.T) {
	h := NewStatusHandler("erika-relay", "1.2.3", nil)
	rec := httptest.NewRecorder()
	h.Root(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp rootResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "online" || resp.Service != "erika-relay" || resp.Version != "1.2.3" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestHealth(t *testing.T) {
	missing := []string{}
	h := NewStatusHandler("erika-relay", "dev", func() []string { return missing })
	h.now = func() time.Time { return time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC) }

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	var resp healthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Code != http.StatusOK || !resp.OK || resp.Timestamp != "2026-05-01T10:00:00Z" {
		t.Fatalf("unexpected healthy response %d %+v", rec.Code, resp)
	}

	missing = []string{"KOMMO_TOKEN"}
	rec = httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	resp = healthResponse{}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Code != http.StatusServiceUnavailable || resp.OK || len(resp.Missing) != 1 {
		t.Fatalf("unexpected unhealthy response %d %+v", rec.Code, resp)
	}
}
