package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestErrorHelpers(t *testing.T) {
	tests := []struct {
		name   string
		write  func(http.ResponseWriter)
		status int
		msg    string
	}{
		{"method not allowed", MethodNotAllowed, http.StatusMethodNotAllowed, "method not allowed"},
		{"bad request", func(w http.ResponseWriter) { BadRequest(w, "bad row") }, http.StatusBadRequest, "bad row"},
		{"not found", func(w http.ResponseWriter) { NotFound(w, "car not found") }, http.StatusNotFound, "car not found"},
		{"conflict", func(w http.ResponseWriter) { Conflict(w, "grid full") }, http.StatusConflict, "grid full"},
		{"internal", func(w http.ResponseWriter) { InternalServerError(w, "boom") }, http.StatusInternalServerError, "boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.write(rec)

			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("content-type = %s, want application/json", ct)
			}
			var resp ErrorResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp.Error != tt.msg {
				t.Errorf("error = %q, want %q", resp.Error, tt.msg)
			}
		})
	}
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	Created(rec, map[string]int{"id": 3})
	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusCreated)
	}
	var resp map[string]int
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["id"] != 3 {
		t.Errorf("id = %d, want 3", resp["id"])
	}

	rec = httptest.NewRecorder()
	WriteJSONOK(rec, []string{})
	if rec.Code != http.StatusOK || rec.Body.String() != "[]\n" {
		t.Errorf("WriteJSONOK = %d %q, want 200 \"[]\\n\"", rec.Code, rec.Body.String())
	}
}

func TestPositiveIntParam(t *testing.T) {
	tests := []struct {
		query   string
		want    int
		wantErr bool
	}{
		{"", 100, false},
		{"limit=5", 5, false},
		{"limit=0", 0, true},
		{"limit=-2", 0, true},
		{"limit=abc", 0, true},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/api/events?"+tt.query, nil)
		got, err := PositiveIntParam(r, "limit", 100)
		if (err != nil) != tt.wantErr {
			t.Errorf("PositiveIntParam(%q) error = %v, wantErr %v", tt.query, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("PositiveIntParam(%q) = %d, want %d", tt.query, got, tt.want)
		}
	}
}

func TestUint64Param(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/frames?since=42", nil)
	if got, err := Uint64Param(r, "since"); err != nil || got != 42 {
		t.Errorf("Uint64Param = %d, %v; want 42, nil", got, err)
	}
	r = httptest.NewRequest(http.MethodGet, "/api/frames", nil)
	if got, err := Uint64Param(r, "since"); err != nil || got != 0 {
		t.Errorf("Uint64Param missing = %d, %v; want 0, nil", got, err)
	}
	r = httptest.NewRequest(http.MethodGet, "/api/frames?since=-1", nil)
	if _, err := Uint64Param(r, "since"); err == nil {
		t.Error("Uint64Param(-1) returned no error")
	}
}
