package assistant

import (
	"encoding/json"
	"strings"

	"github.com/ansarisultan/lexachat-server/internal/groq"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message keeps content exactly as the client sent it: a JSON string or an
// array of content parts.
type Message struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

func TextMessage(role, text string) Message {
	raw, _ := json.Marshal(text)
	return Message{Role: role, Content: raw}
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Text returns the textual content. Parts that are strings or text parts are
// joined with a space; other parts contribute an empty string.
func (m Message) Text() string {
	raw := []byte(strings.TrimSpace(string(m.Content)))
	if len(raw) == 0 {
		return ""
	}

	switch raw[0] {
	case '"':
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return ""
		}
		return strings.TrimSpace(text)
	case '[':
		var parts []json.RawMessage
		if err := json.Unmarshal(raw, &parts); err != nil {
			return ""
		}
		texts := make([]string, 0, len(parts))
		for _, part := range parts {
			texts = append(texts, partText(part))
		}
		return strings.TrimSpace(strings.Join(texts, " "))
	default:
		return ""
	}
}

func partText(raw json.RawMessage) string {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	var part contentPart
	if err := json.Unmarshal(raw, &part); err != nil || part.Type != "text" {
		return ""
	}
	return part.Text
}

func toProviderMessages(messages []Message) []groq.Message {
	out := make([]groq.Message, 0, len(messages))
	for _, m := range messages {
		var content any = m.Content
		if len(m.Content) == 0 {
			content = nil
		}
		out = append(out, groq.Message{Role: m.Role, Content: content})
	}
	return out
}

// LastUserText scans from the end for the most recent user message.
func LastUserText(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return messages[i].Text()
		}
	}
	return ""
}
