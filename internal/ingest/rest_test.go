package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"bioguard/internal/model"
)

func TestHandleEventsSingle(t *testing.T) {
	out := make(chan model.BehaviorEvent, 10)
	s := &RESTServer{out: out}

	body := `{"session_id":"s1","type":"key_down","timestamp":"2026-03-01T10:00:00Z","key_code":65}`
	req := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(body))
	w := httptest.NewRecorder()
	s.handleEvents(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	var resp struct {
		Accepted int `json:"accepted"`
		Failed   int `json:"failed"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Accepted != 1 || resp.Failed != 0 {
		t.Fatalf("accepted %d failed %d", resp.Accepted, resp.Failed)
	}
	ev := <-out
	if ev.SessionID != "s1" || ev.Kind != model.KindKeyDown || ev.Source != "rest" {
		t.Fatalf("event: %+v", ev)
	}
}

func TestHandleEventsBatchPartialFailure(t *testing.T) {
	out := make(chan model.BehaviorEvent, 10)
	s := &RESTServer{out: out}

	body := `[
		{"session_id":"s1","type":"pointer_move","timestamp":"2026-03-01T10:00:00Z","x":1,"y":2},
		{"type":"pointer_move","timestamp":"2026-03-01T10:00:01Z","x":3,"y":4},
		{"session_id":"s1","type":"pointer_click","timestamp":"2026-03-01T10:00:02Z","x":3,"y":4}
	]`
	req := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(body))
	w := httptest.NewRecorder()
	s.handleEvents(w, req)

	var resp struct {
		Accepted int `json:"accepted"`
		Failed   int `json:"failed"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Accepted != 2 || resp.Failed != 1 {
		t.Fatalf("accepted %d failed %d", resp.Accepted, resp.Failed)
	}
}

func TestHandleEventsRejectsBadPayload(t *testing.T) {
	s := &RESTServer{out: make(chan model.BehaviorEvent, 1)}
	for _, body := range []string{"", "   ", "not json", `{"broken":`} {
		req := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(body))
		w := httptest.NewRecorder()
		s.handleEvents(w, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("payload %q: status %d", body, w.Code)
		}
	}
	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	w := httptest.NewRecorder()
	s.handleEvents(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET status %d", w.Code)
	}
}

func TestSendNonBlockingDropsWhenFull(t *testing.T) {
	out := make(chan model.BehaviorEvent, 1)
	ev := model.BehaviorEvent{SessionID: "s1"}
	if !SendNonBlocking(context.Background(), out, ev, nil) {
		t.Fatalf("first send should succeed")
	}
	if SendNonBlocking(context.Background(), out, ev, nil) {
		t.Fatalf("send into a full channel should drop")
	}
}
