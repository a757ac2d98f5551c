package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cortadolabs/tabsync/internal/dispatch"
)

func TestHandleHealthz(t *testing.T) {
	s := NewServer(NewProgressSnapshot(), nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %q, want ok", body["status"])
	}
}

func TestHandleProgress_ReflectsLatestSnapshot(t *testing.T) {
	snapshot := NewProgressSnapshot()
	s := NewServer(snapshot, nil)

	snapshot.Store(dispatch.Progress{Phase: dispatch.PhaseDispatching, TotalRows: 10, Processed: 4})

	req := httptest.NewRequest(http.MethodGet, "/progress", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got dispatch.Progress
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if got.Phase != dispatch.PhaseDispatching || got.Processed != 4 {
		t.Errorf("progress = %+v, want phase=dispatching processed=4", got)
	}
}
