package status

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"netchat/chaterr"
	"netchat/chatroom"
	"netchat/ledger"
	"netchat/models"
)

func setupRouter(t *testing.T) (http.Handler, *ledger.Ledger, *chatroom.Store) {
	t.Helper()
	store, err := chatroom.New(filepath.Join(t.TempDir(), "chatrooms"), zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	l := ledger.New()
	return NewRouter(zerolog.Nop(), l, store), l, store
}

func get(t *testing.T, h http.Handler, path string, out interface{}) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if out != nil && rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("Failed to decode %s: %v", path, err)
		}
	}
	return rec.Code
}

func TestHealth(t *testing.T) {
	h, _, _ := setupRouter(t)

	var body map[string]interface{}
	if code := get(t, h, "/healthz", &body); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if body["status"] != "healthy" {
		t.Errorf("Unexpected body %v", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h, _, _ := setupRouter(t)
	get(t, h, "/healthz", nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "netchat_http_requests_total") {
		t.Errorf("Expected request counter in metrics output")
	}
}

func TestNodes(t *testing.T) {
	h, l, _ := setupRouter(t)
	now := time.Now()
	l.Record("10.0.0.5:9000", "info_submitted", now)
	l.Record("10.0.0.5:9000", "exiting", now.Add(time.Second))

	var nodes struct {
		Nodes []nodeResponse `json:"nodes"`
	}
	if code := get(t, h, "/nodes", &nodes); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if len(nodes.Nodes) != 1 || nodes.Nodes[0].Address != "10.0.0.5:9000" || nodes.Nodes[0].Entries != 2 {
		t.Errorf("Unexpected nodes %+v", nodes.Nodes)
	}

	var history struct {
		Entries []models.LedgerEntry `json:"entries"`
	}
	if code := get(t, h, "/nodes/10.0.0.5:9000/history", &history); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if len(history.Entries) != 2 || history.Entries[0].Content != "info_submitted" {
		t.Errorf("Expected oldest entry first, got %+v", history.Entries)
	}

	history.Entries = nil
	get(t, h, "/nodes/10.0.0.9:9000/history", &history)
	if len(history.Entries) != 0 {
		t.Errorf("Expected empty history for unknown node, got %+v", history.Entries)
	}
}

func TestRooms(t *testing.T) {
	h, _, store := setupRouter(t)
	id, err := store.Create("team", "alice", "bob")
	if err != nil {
		t.Fatalf("Failed to create room: %v", err)
	}
	var sent []*models.Message
	for _, text := range []string{"one", "two", "three"} {
		m, err := store.AppendMessage(id, "bob", text, models.KindText, nil)
		if err != nil {
			t.Fatalf("Failed to append: %v", err)
		}
		sent = append(sent, m)
	}

	var summary models.RoomSummary
	if code := get(t, h, "/rooms/"+id, &summary); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if summary.Name != "team" || summary.MessageCount != 3 {
		t.Errorf("Unexpected summary %+v", summary)
	}

	var page struct {
		Messages []models.Message `json:"messages"`
	}
	if code := get(t, h, "/rooms/"+id+"/messages?limit=2", &page); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if len(page.Messages) != 2 || page.Messages[0].Content != "three" || page.Messages[1].Content != "two" {
		t.Errorf("Expected newest first, got %+v", page.Messages)
	}

	cursor := url.QueryEscape(sent[1].Timestamp.Format(time.RFC3339Nano))
	page.Messages = nil
	get(t, h, "/rooms/"+id+"/messages?before="+cursor, &page)
	if len(page.Messages) != 1 || page.Messages[0].Content != "one" {
		t.Errorf("Expected only older messages, got %+v", page.Messages)
	}

	page.Messages = nil
	if code := get(t, h, "/rooms/"+id+"/messages?limit=0", &page); code != http.StatusOK {
		t.Fatalf("Expected 200 for zero limit, got %d", code)
	}
	if page.Messages == nil || len(page.Messages) != 0 {
		t.Errorf("Expected empty page for zero limit, got %+v", page.Messages)
	}

	page.Messages = nil
	get(t, h, "/rooms/"+id+"/messages", &page)
	if len(page.Messages) != 3 {
		t.Errorf("Expected default limit to return all 3 messages, got %d", len(page.Messages))
	}

	var rooms struct {
		Rooms []models.RoomSummary `json:"rooms"`
	}
	get(t, h, "/users/bob/rooms", &rooms)
	if len(rooms.Rooms) != 1 || rooms.Rooms[0].ID != id {
		t.Errorf("Unexpected rooms for bob %+v", rooms.Rooms)
	}
	rooms.Rooms = nil
	get(t, h, "/users/carol/rooms", &rooms)
	if len(rooms.Rooms) != 0 {
		t.Errorf("Expected no rooms for carol, got %+v", rooms.Rooms)
	}
}

func TestErrors(t *testing.T) {
	h, _, store := setupRouter(t)
	id, err := store.Create("team", "alice")
	if err != nil {
		t.Fatalf("Failed to create room: %v", err)
	}

	tests := []struct {
		path string
		code int
	}{
		{"/rooms/nosuch", http.StatusNotFound},
		{"/rooms/nosuch/messages", http.StatusNotFound},
		{"/rooms/" + id + "/messages?limit=x", http.StatusBadRequest},
		{"/rooms/" + id + "/messages?limit=-1", http.StatusBadRequest},
		{"/rooms/" + id + "/messages?before=yesterday", http.StatusBadRequest},
		{"/unknown", http.StatusNotFound},
	}
	for _, tt := range tests {
		if code := get(t, h, tt.path, nil); code != tt.code {
			t.Errorf("%s: expected %d, got %d", tt.path, tt.code, code)
		}
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{chaterr.ErrRoomNotFound, http.StatusNotFound},
		{chaterr.ErrAlreadyMember, http.StatusConflict},
		{chaterr.ErrNotMember, http.StatusForbidden},
		{chaterr.Decode("parse", "bad", nil), http.StatusBadRequest},
		{chaterr.Invalid("append message", "unknown kind"), http.StatusBadRequest},
		{chaterr.IO("read", http.ErrBodyNotAllowed), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if code := StatusFor(tt.err); code != tt.code {
			t.Errorf("%v: expected %d, got %d", tt.err, tt.code, code)
		}
	}
}
