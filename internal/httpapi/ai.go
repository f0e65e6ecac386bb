package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/ansarisultan/lexachat-server/internal/assistant"
	"github.com/ansarisultan/lexachat-server/internal/groq"
)

const messagesRequiredMsg = "messages must be a non-empty array"

type chatCompletionRequest struct {
	Messages         json.RawMessage `json:"messages"`
	WebSearchEnabled json.RawMessage `json:"webSearchEnabled"`
}

type modelsPayload struct {
	General   string       `json:"general"`
	Coding    string       `json:"coding"`
	Fallback  string       `json:"fallback"`
	Available []groq.Model `json:"available,omitempty"`
}

func (h Handler) ChatCompletion(w http.ResponseWriter, r *http.Request) {
	var body chatCompletionRequest
	if err := h.decodeBody(r, &body); err != nil {
		h.respondError(w, r, err)
		return
	}

	req, err := parseChatCompletion(body)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	logger := h.requestLogger(r)
	if user, ok := sessionUserFromContext(r.Context()); ok {
		logger = logger.WithField("user_id", user.ID)
	}

	reply, err := h.assistant.Complete(r.Context(), req)
	if err != nil {
		h.respondError(w, r, completionFailure(logger, err))
		return
	}

	writeData(w, http.StatusOK, reply)
}

// completionFailure turns assistant errors into client responses. Anything
// unrecognised is passed through and ends up as a 500.
func completionFailure(logger log.FieldLogger, err error) error {
	var completionErr *assistant.CompletionError
	switch {
	case errors.Is(err, assistant.ErrNotConfigured):
		logger.WithField("event", "completion_unconfigured").Error("Completion provider key is missing")
		return newAppError(http.StatusInternalServerError, "Missing GROQ_API_KEY on server")
	case errors.Is(err, assistant.ErrEmptyConversation):
		return newAppError(http.StatusBadRequest, messagesRequiredMsg)
	case errors.As(err, &completionErr):
		logger.WithFields(log.Fields{
			"event": "completion_upstream_error",
			"kind":  completionErr.Kind,
		}).WithError(err).Warn("Chat completion failed")
		return newAppError(http.StatusBadGateway, completionErr.Message)
	default:
		return err
	}
}

// ListModels reports the configured tiers and, when the provider answers,
// its model catalogue. A catalogue failure only drops the list.
func (h Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	tiers := h.assistant.Tiers()
	payload := modelsPayload{
		General:  tiers.General,
		Coding:   tiers.Coding,
		Fallback: tiers.Fallback,
	}

	if h.catalog != nil && h.catalog.Configured() {
		models, err := h.catalog.ListModels(r.Context())
		if err != nil {
			h.requestLogger(r).WithField("event", "model_catalog_failed").WithError(err).Warn("Unable to list provider models")
		} else {
			payload.Available = models
		}
	}
	writeData(w, http.StatusOK, payload)
}

func parseChatCompletion(body chatCompletionRequest) (assistant.Request, error) {
	var messages []assistant.Message
	raw := bytes.TrimSpace(body.Messages)
	if len(raw) == 0 || raw[0] != '[' || json.Unmarshal(raw, &messages) != nil || len(messages) == 0 {
		return assistant.Request{}, newAppError(http.StatusBadRequest, messagesRequiredMsg)
	}
	for i, message := range messages {
		if err := checkMessage(i, message); err != nil {
			return assistant.Request{}, err
		}
	}

	enabled := true
	if flag := bytes.TrimSpace(body.WebSearchEnabled); len(flag) > 0 {
		if err := json.Unmarshal(flag, &enabled); err != nil || bytes.Equal(flag, []byte("null")) {
			return assistant.Request{}, newAppError(http.StatusBadRequest, "webSearchEnabled must be a boolean")
		}
	}

	return assistant.Request{Messages: messages, WebSearchEnabled: enabled}, nil
}

// checkMessage rejects entries the provider would refuse. A null element
// decodes to an empty role and fails here too.
func checkMessage(index int, message assistant.Message) error {
	switch message.Role {
	case assistant.RoleUser, assistant.RoleAssistant, assistant.RoleSystem:
	default:
		return newAppError(http.StatusBadRequest, fmt.Sprintf("messages[%d].role must be user, assistant or system", index))
	}

	content := bytes.TrimSpace(message.Content)
	if len(content) == 0 || (content[0] != '"' && content[0] != '[') {
		return newAppError(http.StatusBadRequest, fmt.Sprintf("messages[%d].content must be a string or an array", index))
	}
	return nil
}
