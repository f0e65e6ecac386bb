package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ansarisultan/lexachat-server/internal/chats"
)

const maxPageSize = 100

type chatMessageInput struct {
	Text      string     `json:"text" validate:"required"`
	Sender    string     `json:"sender" validate:"oneof=user ai"`
	Timestamp *time.Time `json:"timestamp"`
}

type saveChatRequest struct {
	SessionID string               `json:"sessionId" validate:"required"`
	Name      string               `json:"name" validate:"max=100"`
	Messages  []chatMessageInput   `json:"messages" validate:"required,dive"`
	Metadata  *chats.MetadataPatch `json:"metadata"`
}

type updateChatRequest struct {
	Name     *string              `json:"name" validate:"omitempty,max=100"`
	Messages []chatMessageInput   `json:"messages" validate:"required,dive"`
	Metadata *chats.MetadataPatch `json:"metadata"`
}

type sessionsPayload struct {
	Sessions   []chats.Chat `json:"sessions"`
	Pagination chats.Page   `json:"pagination"`
}

func (h Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	user, ok := sessionUserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authorized to access this route")
		return
	}

	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", chats.DefaultPageSize)
	if limit > maxPageSize {
		limit = maxPageSize
	}

	sessions, pagination, err := h.chats.List(r.Context(), user.ID, page, limit)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, sessionsPayload{Sessions: sessions, Pagination: pagination})
}

func (h Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	user, ok := sessionUserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authorized to access this route")
		return
	}

	chat, err := h.chats.Get(r.Context(), user.ID, chi.URLParam(r, "sessionId"))
	if err != nil {
		h.respondError(w, r, chatError(err))
		return
	}
	writeData(w, http.StatusOK, chat)
}

func (h Handler) SearchSessions(w http.ResponseWriter, r *http.Request) {
	user, ok := sessionUserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authorized to access this route")
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "Search query is required")
		return
	}

	results, err := h.chats.Search(r.Context(), user.ID, query)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, results)
}

func (h Handler) SaveSession(w http.ResponseWriter, r *http.Request) {
	user, ok := sessionUserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authorized to access this route")
		return
	}

	var req saveChatRequest
	normalize := func() {
		req.SessionID = strings.TrimSpace(req.SessionID)
		req.Name = strings.TrimSpace(req.Name)
		trimMessages(req.Messages)
	}
	if err := h.decodeAndValidate(r, &req, normalize); err != nil {
		h.respondError(w, r, err)
		return
	}

	input := chats.SaveInput{
		SessionID: req.SessionID,
		Name:      req.Name,
		Messages:  toChatMessages(req.Messages),
	}
	if req.Metadata != nil {
		input.Metadata = *req.Metadata
	}

	chat, err := h.chats.Save(r.Context(), user.ID, input)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, chat)
}

func (h Handler) UpdateSession(w http.ResponseWriter, r *http.Request) {
	user, ok := sessionUserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authorized to access this route")
		return
	}

	var req updateChatRequest
	normalize := func() {
		if req.Name != nil {
			trimmed := strings.TrimSpace(*req.Name)
			req.Name = &trimmed
		}
		trimMessages(req.Messages)
	}
	if err := h.decodeAndValidate(r, &req, normalize); err != nil {
		h.respondError(w, r, err)
		return
	}

	chat, err := h.chats.Update(r.Context(), user.ID, chi.URLParam(r, "sessionId"), chats.UpdateInput{
		Name:     req.Name,
		Messages: toChatMessages(req.Messages),
		Metadata: req.Metadata,
	})
	if err != nil {
		h.respondError(w, r, chatError(err))
		return
	}
	writeData(w, http.StatusOK, chat)
}

func (h Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	user, ok := sessionUserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authorized to access this route")
		return
	}

	if err := h.chats.Delete(r.Context(), user.ID, chi.URLParam(r, "sessionId")); err != nil {
		h.respondError(w, r, chatError(err))
		return
	}
	writeMessage(w, http.StatusOK, "Session deleted successfully", nil)
}

func (h Handler) ArchiveSession(w http.ResponseWriter, r *http.Request) {
	user, ok := sessionUserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authorized to access this route")
		return
	}

	chat, err := h.chats.Archive(r.Context(), user.ID, chi.URLParam(r, "sessionId"))
	if err != nil {
		h.respondError(w, r, chatError(err))
		return
	}
	writeData(w, http.StatusOK, chat)
}

func chatError(err error) error {
	if errors.Is(err, chats.ErrNotFound) {
		return newAppError(http.StatusNotFound, "Session not found")
	}
	return err
}

func trimMessages(messages []chatMessageInput) {
	for i := range messages {
		messages[i].Text = strings.TrimSpace(messages[i].Text)
	}
}

func toChatMessages(in []chatMessageInput) []chats.Message {
	if in == nil {
		return nil
	}
	out := make([]chats.Message, 0, len(in))
	for _, m := range in {
		msg := chats.Message{Text: m.Text, Sender: m.Sender}
		if m.Timestamp != nil {
			msg.Timestamp = m.Timestamp.UTC()
		}
		out = append(out, msg)
	}
	return out
}

func queryInt(r *http.Request, key string, fallback int) int {
	value, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get(key)))
	if err != nil || value < 1 {
		return fallback
	}
	return value
}
