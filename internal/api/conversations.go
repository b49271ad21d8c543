package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/scribe/internal/convert"
	"github.com/MikeSquared-Agency/scribe/internal/dialogue"
	"github.com/MikeSquared-Agency/scribe/internal/store"
)

// maxConvertBody caps the convert request body.
const maxConvertBody = 8 << 20

// ConvertRequest is the payload for POST /api/v1/conversations/convert.
type ConvertRequest struct {
	Text             string `json:"text"`
	AssistantSpeaker string `json:"assistant_speaker"`
	SystemContext    string `json:"system_context,omitempty"`
	SourceRef        string `json:"source_ref,omitempty"`
	Persist          bool   `json:"persist"`
}

// convert handles POST /api/v1/conversations/convert
func (s *Server) convert(w http.ResponseWriter, r *http.Request) {
	var req ConvertRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxConvertBody)).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if req.AssistantSpeaker == "" {
		writeError(w, http.StatusBadRequest, "assistant_speaker is required")
		return
	}

	conv := dialogue.Process(req.Text, req.AssistantSpeaker, req.SystemContext)

	if req.Persist {
		if s.store == nil {
			writeError(w, http.StatusServiceUnavailable, "persistence not configured")
			return
		}
		id, err := s.store.WriteConversation(r.Context(), store.ConversationInput{
			SourceRef:        req.SourceRef,
			AssistantSpeaker: req.AssistantSpeaker,
			Conversation:     conv,
		})
		if err != nil {
			slog.Error("persist conversation failed", "error", err)
			writeError(w, http.StatusInternalServerError, "persist failed")
			return
		}
		w.Header().Set("X-Conversation-ID", id.String())
	}

	body, err := convert.Marshal(conv)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "encode failed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// getConversation handles GET /api/v1/conversations/{id}
func (s *Server) getConversation(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "persistence not configured")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}

	row, err := s.store.GetConversation(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		slog.Error("get conversation failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	writeJSON(w, http.StatusOK, row)
}
