package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/scribe/internal/dialogue"
	"github.com/MikeSquared-Agency/scribe/internal/store"
)

type memStore struct {
	rows map[uuid.UUID]*store.ConversationRow
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[uuid.UUID]*store.ConversationRow)}
}

func (m *memStore) WriteConversation(_ context.Context, in store.ConversationInput) (uuid.UUID, error) {
	id := uuid.New()
	m.rows[id] = &store.ConversationRow{
		ID:               id,
		SourceRef:        in.SourceRef,
		AssistantSpeaker: in.AssistantSpeaker,
		Speakers:         in.Conversation.Speakers(),
		CreatedAt:        time.Now().UTC(),
		Messages:         in.Conversation.Messages,
	}
	return id, nil
}

func (m *memStore) GetConversation(_ context.Context, id uuid.UUID) (*store.ConversationRow, error) {
	row, ok := m.rows[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return row, nil
}

func do(srv *Server, method, path, body, token string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	srv := NewServer(8760, "", nil)

	w := do(srv, "GET", "/health", "", "")
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %q", body["status"])
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv := NewServer(8760, "secret", nil)

	w := do(srv, "GET", "/api/v1/scribe/status", "", "")
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["agent"] != "scribe" {
		t.Errorf("expected agent scribe, got %q", body["agent"])
	}
}

func TestNotFoundEndpoint(t *testing.T) {
	srv := NewServer(8760, "", nil)

	w := do(srv, "GET", "/nonexistent", "", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestConvertEndpoint(t *testing.T) {
	srv := NewServer(8760, "", nil)

	body := `{"text":"Speaker SPEAKER_01: Hi\nSpeaker SPEAKER_02: Hey\nSpeaker SPEAKER_00: Welcome","assistant_speaker":"00"}`
	w := do(srv, "POST", "/api/v1/conversations/convert", body, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.HasPrefix(w.Body.String(), "{\n    \"messages\": [") {
		t.Errorf("expected four-space indented JSON, got %s", w.Body.String())
	}

	var conv dialogue.Conversation
	if err := json.Unmarshal(w.Body.Bytes(), &conv); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(conv.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(conv.Messages))
	}
	if conv.Messages[1].Content != "Speaker SPEAKER_01: Hi Speaker SPEAKER_02: Hey" {
		t.Errorf("user content = %q", conv.Messages[1].Content)
	}
	if w.Header().Get("X-Conversation-ID") != "" {
		t.Error("did not expect a conversation id without persist")
	}
}

func TestConvertEndpoint_BadRequests(t *testing.T) {
	srv := NewServer(8760, "", nil)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid json", `{"text":`, http.StatusBadRequest},
		{"missing speaker", `{"text":"Speaker SPEAKER_00: hi"}`, http.StatusBadRequest},
		{"persist without store", `{"text":"x","assistant_speaker":"00","persist":true}`, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(srv, "POST", "/api/v1/conversations/convert", tt.body, "")
			if w.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestConvertEndpoint_BodyTooLarge(t *testing.T) {
	srv := NewServer(8760, "", nil)
	body := `{"assistant_speaker":"00","text":"` + strings.Repeat("a", maxConvertBody) + `"}`

	w := do(srv, "POST", "/api/v1/conversations/convert", body, "")
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", w.Code)
	}
}

func TestConvertAndFetchPersisted(t *testing.T) {
	srv := NewServer(8760, "tok", newMemStore())

	body := `{"text":"Speaker SPEAKER_00: Hello","assistant_speaker":"00","source_ref":"demo.txt","persist":true}`
	w := do(srv, "POST", "/api/v1/conversations/convert", body, "tok")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	id := w.Header().Get("X-Conversation-ID")
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("expected conversation id header, got %q", id)
	}

	w = do(srv, "GET", "/api/v1/conversations/"+id, "", "tok")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var row store.ConversationRow
	if err := json.NewDecoder(w.Body).Decode(&row); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if row.SourceRef != "demo.txt" || len(row.Messages) != 2 {
		t.Errorf("row = %+v", row)
	}
}

func TestGetConversation_Errors(t *testing.T) {
	srv := NewServer(8760, "", newMemStore())

	if w := do(srv, "GET", "/api/v1/conversations/not-a-uuid", "", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad id: expected 400, got %d", w.Code)
	}
	if w := do(srv, "GET", "/api/v1/conversations/"+uuid.NewString(), "", ""); w.Code != http.StatusNotFound {
		t.Errorf("missing id: expected 404, got %d", w.Code)
	}

	noStore := NewServer(8760, "", nil)
	if w := do(noStore, "GET", "/api/v1/conversations/"+uuid.NewString(), "", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("no store: expected 503, got %d", w.Code)
	}
}

func TestBearerAuth(t *testing.T) {
	srv := NewServer(8760, "secret", nil)
	body := `{"text":"","assistant_speaker":"00"}`

	if w := do(srv, "POST", "/api/v1/conversations/convert", body, ""); w.Code != http.StatusUnauthorized {
		t.Errorf("no token: expected 401, got %d", w.Code)
	}
	if w := do(srv, "POST", "/api/v1/conversations/convert", body, "wrong"); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: expected 401, got %d", w.Code)
	}
	if w := do(srv, "POST", "/api/v1/conversations/convert", body, "secret"); w.Code != http.StatusOK {
		t.Errorf("valid token: expected 200, got %d", w.Code)
	}
	if w := do(srv, "GET", "/health", "", ""); w.Code != http.StatusOK {
		t.Errorf("health must stay open: expected 200, got %d", w.Code)
	}
}
